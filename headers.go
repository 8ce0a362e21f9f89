package htcore

import "strings"

// Header is a single (name, value) wire pair. Names are preserved verbatim
// for emission; lookups are case-insensitive per spec.md §3.
type Header struct {
	Name  string
	Value string
}

// Headers is an ordered sequence of Header pairs, preserving wire order the
// way the teacher's header storage preserves insertion order, without its
// cookie/trailer/multipart machinery this module has no use for.
type Headers struct {
	pairs []Header
}

// NewHeaders builds a Headers from pairs, in order.
func NewHeaders(pairs ...Header) Headers {
	h := Headers{pairs: make([]Header, len(pairs))}
	copy(h.pairs, pairs)
	return h
}

// Add appends a header, preserving any existing entries with the same name.
func (h *Headers) Add(name, value string) {
	h.pairs = append(h.pairs, Header{Name: name, Value: value})
}

// Set replaces all existing entries with the given (case-insensitive) name,
// or appends if none exist.
func (h *Headers) Set(name, value string) {
	for i := range h.pairs {
		if strings.EqualFold(h.pairs[i].Name, name) {
			h.pairs[i].Value = value
			h.pairs = append(h.pairs[:i+1], dropNamed(h.pairs[i+1:], name)...)
			return
		}
	}
	h.Add(name, value)
}

func dropNamed(pairs []Header, name string) []Header {
	out := pairs[:0]
	for _, p := range pairs {
		if !strings.EqualFold(p.Name, name) {
			out = append(out, p)
		}
	}
	return out
}

// Get returns the first value for name (case-insensitive), and whether it
// was present.
func (h Headers) Get(name string) (string, bool) {
	for _, p := range h.pairs {
		if strings.EqualFold(p.Name, name) {
			return p.Value, true
		}
	}
	return "", false
}

// Has reports whether name is present, case-insensitive.
func (h Headers) Has(name string) bool {
	_, ok := h.Get(name)
	return ok
}

// Len returns the number of header pairs, including duplicates.
func (h Headers) Len() int { return len(h.pairs) }

// All iterates pairs in wire order.
func (h Headers) All() []Header {
	out := make([]Header, len(h.pairs))
	copy(out, h.pairs)
	return out
}

// HasConnectionClose reports whether a Connection: close header is present,
// the signal the reuse decision in spec.md §4.3 keys off.
func (h Headers) HasConnectionClose() bool {
	v, ok := h.Get("Connection")
	return ok && strings.EqualFold(strings.TrimSpace(v), "close")
}

// IsChunked reports whether Transfer-Encoding: chunked is present.
func (h Headers) IsChunked() bool {
	v, ok := h.Get("Transfer-Encoding")
	if !ok {
		return false
	}
	for _, tok := range strings.Split(v, ",") {
		if strings.EqualFold(strings.TrimSpace(tok), "chunked") {
			return true
		}
	}
	return false
}

// ContentLength parses a Content-Length header. A missing, non-numeric, or
// negative value returns (0, false) per the spec.md §4.3 fallback rule.
func (h Headers) ContentLength() (uint64, bool) {
	v, ok := h.Get("Content-Length")
	if !ok {
		return 0, false
	}
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, false
	}
	var n uint64
	for _, c := range []byte(v) {
		if c < '0' || c > '9' {
			return 0, false
		}
		n = n*10 + uint64(c-'0')
	}
	return n, true
}
