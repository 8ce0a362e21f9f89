package htcore

import "context"

// ByteStream is the sole external collaborator this module consumes: a
// byte-oriented transport (TCP, TLS, ...) acquired and owned by the caller
// of Dial. Spec.md §1 places the byte transport itself — non-blocking I/O,
// the event loop, TLS handshake — out of scope; the core only ever talks to
// this narrow interface.
type ByteStream interface {
	// Read returns 0..=len(p) bytes into p. A zero-length, nil-error return
	// means the peer closed the connection in an orderly way.
	Read(ctx context.Context, p []byte) (int, error)
	// Write writes all of p or fails.
	Write(ctx context.Context, p []byte) error
	// Close is idempotent and releases transport resources.
	Close() error
	// Info returns out-of-band transport metadata (peer address, TLS
	// indicator, ...), or ("", false) if key is unknown.
	Info(key string) (string, bool)
}

// Well-known Info keys a ByteStream implementation may populate.
const (
	InfoPeerAddr  = "peer_addr"
	InfoLocalAddr = "local_addr"
	InfoTLS       = "tls"
)

// Dialer acquires a ByteStream for an Origin. This is the seam the
// connection pool suspends on when no idle connection is available
// (spec.md §5, "Pool acquire when waiting for a fresh ByteStream").
type Dialer interface {
	Dial(ctx context.Context, origin Origin) (ByteStream, error)
}

// DialerFunc adapts a function to a Dialer.
type DialerFunc func(ctx context.Context, origin Origin) (ByteStream, error)

func (f DialerFunc) Dial(ctx context.Context, origin Origin) (ByteStream, error) { return f(ctx, origin) }
