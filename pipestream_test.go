package htcore

import (
	"context"
	"io"
	"sync"
)

// testPipe is a bidirectional in-memory ByteStream pair, adapted from the
// teacher's fasthttputil.PipeConns (fasthttputil/pipeconns.go): writes are
// buffered on a channel so, unlike net.Pipe, a test can write a full
// request/response without a concurrently-running reader goroutine.
type testPipe struct {
	a, b *pipeEnd
}

func newTestPipe() (client, server *pipeEnd) {
	ch1 := make(chan []byte, 16)
	ch2 := make(chan []byte, 16)
	shared := &pipeShared{stop: make(chan struct{})}
	p := &testPipe{}
	p.a = &pipeEnd{r: ch1, w: ch2, shared: shared}
	p.b = &pipeEnd{r: ch2, w: ch1, shared: shared}
	return p.a, p.b
}

// pipeShared is the single stop-channel + once both ends of a testPipe
// close through, so either end closing first does not panic on a
// double-close of the shared channel.
type pipeShared struct {
	stop chan struct{}
	once sync.Once
}

func (s *pipeShared) close() { s.once.Do(func() { close(s.stop) }) }

type pipeEnd struct {
	r, w chan []byte
	pend []byte

	shared *pipeShared

	mu     sync.Mutex
	closed bool
}

func (e *pipeEnd) Read(ctx context.Context, p []byte) (int, error) {
	for len(e.pend) == 0 {
		select {
		case buf, ok := <-e.r:
			if !ok {
				return 0, nil
			}
			e.pend = buf
		case <-e.shared.stop:
			return 0, nil
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
	n := copy(p, e.pend)
	e.pend = e.pend[n:]
	return n, nil
}

func (e *pipeEnd) Write(ctx context.Context, p []byte) error {
	e.mu.Lock()
	closed := e.closed
	e.mu.Unlock()
	if closed {
		return io.ErrClosedPipe
	}
	buf := append([]byte(nil), p...)
	select {
	case e.w <- buf:
		return nil
	case <-e.shared.stop:
		return io.ErrClosedPipe
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *pipeEnd) Close() error {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
	e.shared.close()
	return nil
}

func (e *pipeEnd) Info(key string) (string, bool) {
	switch key {
	case InfoPeerAddr, InfoLocalAddr:
		return "pipe", true
	case InfoTLS:
		return "false", true
	}
	return "", false
}
