package htcore

import (
	"fmt"
	"strings"

	"golang.org/x/net/idna"
)

// Scheme is the URI scheme of an Origin.
type Scheme uint8

const (
	SchemeHTTP Scheme = iota
	SchemeHTTPS
)

func (s Scheme) String() string {
	if s == SchemeHTTPS {
		return "https"
	}
	return "http"
}

// Origin is the pool key: the (scheme, host, port) triple spec.md §3 and the
// GLOSSARY define. Two Origins with the same triple are the same pool slot.
type Origin struct {
	Scheme Scheme
	Host   string
	Port   uint16
}

// NewOrigin builds an Origin, normalizing host to ASCII/punycode via idna so
// that internationalized hostnames hash to the same pool key a caller would
// expect from the wire form. port must be 1..=65535.
func NewOrigin(scheme Scheme, host string, port uint16) (Origin, error) {
	if port == 0 {
		return Origin{}, newErr("NewOrigin", KindProtocol, "port must be in 1..=65535", nil)
	}
	normalized, err := idna.Lookup.ToASCII(strings.ToLower(host))
	if err != nil {
		// Hosts that are already IP literals or contain characters idna
		// rejects (e.g. a bracketed IPv6 literal) are passed through as-is;
		// idna is an enrichment for IDN hosts, not a validator of record.
		normalized = strings.ToLower(host)
	}
	return Origin{Scheme: scheme, Host: normalized, Port: port}, nil
}

// Key returns the "scheme://host:port" string used as the pool map key.
func (o Origin) Key() string {
	return fmt.Sprintf("%s://%s:%d", o.Scheme, o.Host, o.Port)
}

func (o Origin) String() string { return o.Key() }
