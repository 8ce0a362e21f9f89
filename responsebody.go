package htcore

import (
	"bytes"
	"context"
	"errors"
)

// bodySource is the callback surface a ResponseBody uses to pull chunks
// from the owning Conn, per spec.md §4.2 ("delegates each chunk request to
// the owning connection's engine"). generation pins the call to one
// exchange cycle; design-notes §9 calls this out explicitly as the
// use-after-reuse guard that replaces a reference-counting cycle.
type bodySource interface {
	pullBodyChunk(ctx context.Context, generation uint64) (chunk []byte, end bool, err error)
	bodyFinished(generation uint64, consumed bool)
}

// ErrStaleGeneration is returned when a ResponseBody outlives the exchange
// that created it (the connection was released and reused in the meantime).
var ErrStaleGeneration = errors.New("response body used after its connection was reused")

// ResponseBody is a lazy, single-pass sequence of response body chunks,
// owned by the caller but backed by the connection's engine, per spec.md
// §4.2. Each pulled chunk is exactly the bytes the engine extracted from
// the wire for this response; bytes_read is tracked and checked against
// DeclaredLength.
type ResponseBody struct {
	source     bodySource
	generation uint64

	declaredLength *uint64
	chunked        bool
	encoding       string

	closed    bool
	finished  bool
	bytesRead uint64
}

func newResponseBody(source bodySource, generation uint64, declaredLength *uint64, chunked bool, encoding string) *ResponseBody {
	return &ResponseBody{
		source:         source,
		generation:     generation,
		declaredLength: declaredLength,
		chunked:        chunked,
		encoding:       encoding,
	}
}

// DeclaredLength returns the Content-Length carried on the response head,
// if present.
func (b *ResponseBody) DeclaredLength() (uint64, bool) {
	if b.declaredLength == nil {
		return 0, false
	}
	return *b.declaredLength, true
}

// Chunked reports whether Transfer-Encoding: chunked framed this body.
func (b *ResponseBody) Chunked() bool { return b.chunked }

// Encoding returns the informational Content-Encoding token, if any. No
// decoding is performed by this module (spec.md §1 non-goals).
func (b *ResponseBody) Encoding() string { return b.encoding }

// BytesRead returns the running count of bytes yielded so far.
func (b *ResponseBody) BytesRead() uint64 { return b.bytesRead }

// Closed reports whether Close has been called, or the body ran to
// end-of-body naturally.
func (b *ResponseBody) Closed() bool { return b.closed }

// Next pulls the next chunk from the wire via the owning connection's
// engine. Returns (nil, false, io.EOF)-shaped end-of-body as (nil, nil)
// with ok=false; callers drain with a `for { chunk, ok, err := b.Next(ctx) }`
// loop.
func (b *ResponseBody) Next(ctx context.Context) (chunk []byte, ok bool, err error) {
	if b.closed {
		return nil, false, newErr("ResponseBody.Next", KindState, "body already closed", nil)
	}
	if b.finished {
		return nil, false, nil
	}

	data, end, err := b.source.pullBodyChunk(ctx, b.generation)
	if err != nil {
		b.closed = true
		b.source.bodyFinished(b.generation, false)
		return nil, false, err
	}
	if end {
		b.finished = true
		b.closed = true
		b.source.bodyFinished(b.generation, true)
		return nil, false, nil
	}

	b.bytesRead += uint64(len(data))
	if b.declaredLength != nil && b.bytesRead > *b.declaredLength {
		b.closed = true
		b.source.bodyFinished(b.generation, false)
		return nil, false, newErr("ResponseBody.Next", KindProtocol,
			"response body exceeded declared Content-Length", nil)
	}
	return data, true, nil
}

// ReadAll drains the body to a single buffer, bounded by limit (0 ≡
// unbounded), mirroring the original source's aread() (streams.py) and the
// teacher's ReadLimitBody.
func (b *ResponseBody) ReadAll(ctx context.Context, limit uint64) ([]byte, error) {
	var out bytes.Buffer
	for {
		chunk, ok, err := b.Next(ctx)
		if err != nil {
			return out.Bytes(), err
		}
		if !ok {
			return out.Bytes(), nil
		}
		if limit > 0 && uint64(out.Len())+uint64(len(chunk)) > limit {
			b.Close()
			return out.Bytes(), newErr("ResponseBody.ReadAll", KindProtocol, "body exceeded read limit", nil)
		}
		out.Write(chunk)
	}
}

// Close is idempotent. An early close (before natural end-of-body) signals
// "not consumed" to the engine, which treats the connection as
// non-reusable (spec.md §4.2).
func (b *ResponseBody) Close() error {
	if b.closed {
		return nil
	}
	b.closed = true
	if !b.finished {
		b.source.bodyFinished(b.generation, false)
	}
	return nil
}
