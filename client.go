package htcore

import (
	"context"
	"sync"
)

// Client is a pooled HTTP/1.1 client, spec.md §4.5: it resolves a Request's
// Origin, acquires a Conn from the Pool, drives one Exchange, and returns
// the connection to the Pool once the response body is fully drained or
// closed — the Go-native collapse of the teacher's HostClient.Do plus
// fasthttp.Client's per-host dispatch table into a single pool keyed by
// Origin instead of by raw host string.
type Client struct {
	pool *Pool
}

// NewClient wraps pool in a Client facade. The caller remains responsible
// for pool.Start()/pool.Stop().
func NewClient(pool *Pool) *Client {
	return &Client{pool: pool}
}

// Do acquires a connection for req.Origin, exchanges req, and arranges for
// the connection to be released back to the pool once resp.Body is drained
// or closed — or immediately, for a response with no body.
func (cl *Client) Do(ctx context.Context, req Request) (Response, error) {
	conn, err := cl.pool.Acquire(ctx, req.Origin)
	if err != nil {
		return Response{}, err
	}

	resp, err := conn.Exchange(ctx, req)
	if err != nil {
		// Exchange already forced the connection closed on error; nothing
		// reusable to give back, but Release still accounts for capacity.
		cl.pool.Release(conn, req.Origin)
		return Response{}, err
	}

	if resp.Body == nil {
		cl.pool.Release(conn, req.Origin)
		return resp, nil
	}

	resp.Body = wrapPooledBody(resp.Body, cl.pool, conn, req.Origin)
	return resp, nil
}

// Close stops the underlying pool, per spec.md §4.5's client-level shutdown
// convenience.
func (cl *Client) Close() error {
	return cl.pool.Stop()
}

// pooledResponseBody defers Pool.Release until the wrapped ResponseBody
// reports end-of-body or is closed, exactly once, so the connection's reuse
// decision (already made by the engine's bodyFinished callback) is reflected
// back into the pool's idle bucket at the same instant. wrapPooledBody
// installs it as the ResponseBody's bodySource, between the body and its Conn.
type pooledResponseBody struct {
	*ResponseBody
	pool   *Pool
	conn   *Conn
	origin Origin

	once sync.Once
}

func wrapPooledBody(body *ResponseBody, pool *Pool, conn *Conn, origin Origin) *ResponseBody {
	body.source = &pooledResponseBody{ResponseBody: body, pool: pool, conn: conn, origin: origin}
	return body
}

func (b *pooledResponseBody) release() {
	b.once.Do(func() {
		b.pool.Release(b.conn, b.origin)
	})
}

func (b *pooledResponseBody) pullBodyChunk(ctx context.Context, generation uint64) ([]byte, bool, error) {
	return b.conn.pullBodyChunk(ctx, generation)
}

func (b *pooledResponseBody) bodyFinished(generation uint64, consumed bool) {
	b.conn.bodyFinished(generation, consumed)
	b.release()
}

func (b *pooledResponseBody) Next(ctx context.Context) ([]byte, bool, error) {
	chunk, ok, err := b.ResponseBody.Next(ctx)
	if err != nil || !ok {
		b.release()
	}
	return chunk, ok, err
}

func (b *pooledResponseBody) ReadAll(ctx context.Context, limit uint64) ([]byte, error) {
	data, err := b.ResponseBody.ReadAll(ctx, limit)
	b.release()
	return data, err
}

func (b *pooledResponseBody) Close() error {
	err := b.ResponseBody.Close()
	b.release()
	return err
}
