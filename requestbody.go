package htcore

import (
	"bytes"
	"errors"
	"io"
)

// ChunkProducer is a user-supplied source of request body chunks, the third
// RequestBody variant from spec.md §4.2 (the source's async-generator case,
// design-notes §9's "UserProducer"). Next returns io.EOF once exhausted;
// empty chunks it returns are skipped by RequestBody.Next, not emitted.
type ChunkProducer interface {
	Next() ([]byte, error)
}

// RequestBody is a lazy, single-pass, async sequence of non-empty byte
// chunks, constructed over one of three variants (spec.md §4.2): a single
// buffer, an ordered list of buffers, or a user-supplied producer. It is
// monomorphised over the variant the way design-notes §9 suggests, instead
// of boxing a generic iterator.
type RequestBody struct {
	declaredLength *uint64
	chunked        bool

	buf      []byte // SingleBuffer / BufferList (pre-concatenated minus empties)
	producer ChunkProducer

	closed     bool
	emitted    bool // true once buf has been yielded once (SingleBuffer path)
	sentLength uint64
}

var errRequestBodyClosed = errors.New("request body closed")

// NewRequestBodyBuffer constructs a RequestBody over a single buffer.
func NewRequestBodyBuffer(data []byte, chunked bool) *RequestBody {
	return &RequestBody{buf: append([]byte(nil), data...), chunked: chunked}
}

// NewRequestBodyBuffers constructs a RequestBody over an ordered list of
// buffers, concatenated at construction; per spec.md §4.2 empty buffers are skipped,
// not emitted, so we drop them up front rather than re-check on each pull.
func NewRequestBodyBuffers(chunks [][]byte, chunked bool) *RequestBody {
	var total int
	for _, c := range chunks {
		total += len(c)
	}
	buf := make([]byte, 0, total)
	for _, c := range chunks {
		if len(c) > 0 {
			buf = append(buf, c...)
		}
	}
	return &RequestBody{buf: buf, chunked: chunked}
}

// NewRequestBodyProducer constructs a RequestBody over a user-supplied
// producer. declaredLength, when non-nil, is validated against the sum of
// yielded chunks at end-of-stream (a drain-time protocol error on mismatch,
// per spec.md §4.2), since producer length can't be known up front.
func NewRequestBodyProducer(p ChunkProducer, declaredLength *uint64, chunked bool) *RequestBody {
	return &RequestBody{producer: p, declaredLength: declaredLength, chunked: chunked}
}

// WithDeclaredLength attaches a declared_length to a buffer-backed body,
// validating it immediately per spec.md §4.2 ("mismatch at construction for
// statically-sized inputs is rejected immediately").
func (b *RequestBody) WithDeclaredLength(n uint64) error {
	if b.producer == nil && uint64(len(b.buf)) != n {
		return newErr("RequestBody.WithDeclaredLength", KindProtocol,
			"declared_length does not match buffered body size", nil)
	}
	v := n
	b.declaredLength = &v
	return nil
}

// Chunked reports whether chunked framing was selected.
func (b *RequestBody) Chunked() bool { return b.chunked }

// DeclaredLength returns the declared content-length, if any.
func (b *RequestBody) DeclaredLength() (uint64, bool) {
	if b.declaredLength == nil {
		return 0, false
	}
	return *b.declaredLength, true
}

// Closed reports whether Close has been called.
func (b *RequestBody) Closed() bool { return b.closed }

// Next yields the next non-empty chunk, or io.EOF when exhausted. Restart is
// not supported: once io.EOF is returned, subsequent calls keep returning it.
func (b *RequestBody) Next() ([]byte, error) {
	if b.closed {
		return nil, errRequestBodyClosed
	}
	if b.producer != nil {
		chunk, err := b.producer.Next()
		if err != nil {
			if err == io.EOF {
				if b.declaredLength != nil && b.sentLength != *b.declaredLength {
					return nil, newErr("RequestBody.Next", KindProtocol,
						"declared_length did not match bytes yielded at end-of-stream", nil)
				}
			}
			return nil, err
		}
		if len(chunk) == 0 {
			return b.Next() // skip empty producer chunks, per spec.md §4.2
		}
		b.sentLength += uint64(len(chunk))
		return chunk, nil
	}
	if b.emitted || len(b.buf) == 0 {
		return nil, io.EOF
	}
	b.emitted = true
	b.sentLength = uint64(len(b.buf))
	return b.buf, nil
}

// DrainToBuffer concatenates all remaining chunks, per spec.md §4.2.
func (b *RequestBody) DrainToBuffer() ([]byte, error) {
	var out bytes.Buffer
	for {
		chunk, err := b.Next()
		if err == io.EOF {
			return out.Bytes(), nil
		}
		if err != nil {
			return out.Bytes(), err
		}
		out.Write(chunk)
	}
}

// Close is idempotent; further iteration after Close fails.
func (b *RequestBody) Close() error {
	b.closed = true
	return nil
}
