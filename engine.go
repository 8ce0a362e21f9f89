package htcore

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"time"
)

// ConnState is one of the four states spec.md §4.3 defines for the
// per-connection state machine.
type ConnState int32

const (
	StateNew ConnState = iota
	StateActive
	StateIdle
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateActive:
		return "active"
	case StateIdle:
		return "idle"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// EngineConfig configures a Conn, per spec.md §6.
type EngineConfig struct {
	ReadTimeout              time.Duration
	WriteTimeout             time.Duration
	KeepAliveTimeout         time.Duration
	MaxRequestsPerConnection uint64
	ReadBufferSize           int
}

// DefaultEngineConfig returns the defaults from spec.md §6.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		ReadTimeout:              30 * time.Second,
		WriteTimeout:             30 * time.Second,
		KeepAliveTimeout:         300 * time.Second,
		MaxRequestsPerConnection: 100,
		ReadBufferSize:           65536,
	}
}

func (c EngineConfig) withDefaults() EngineConfig {
	d := DefaultEngineConfig()
	if c.ReadTimeout == 0 {
		c.ReadTimeout = d.ReadTimeout
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = d.WriteTimeout
	}
	if c.KeepAliveTimeout == 0 {
		c.KeepAliveTimeout = d.KeepAliveTimeout
	}
	if c.MaxRequestsPerConnection == 0 {
		c.MaxRequestsPerConnection = d.MaxRequestsPerConnection
	}
	if c.ReadBufferSize == 0 {
		c.ReadBufferSize = d.ReadBufferSize
	}
	return c
}

// bodyMode tags how the in-flight response body is framed, per the
// precedence rules in spec.md §4.3.
type bodyMode int

const (
	bodyModeEmpty bodyMode = iota
	bodyModeFixed
	bodyModeChunked
	bodyModeUntilClose
)

// Conn is the per-connection HTTP/1.1 engine: spec.md §4.3's state machine,
// request framing, response parsing, and reuse decision, grounded in the
// teacher's HostClient.do (client.go) and the original source's
// HTTP11Connection (http11.py), whose NEW/ACTIVE/IDLE/CLOSED state names
// this type keeps verbatim.
type Conn struct {
	cfg   EngineConfig
	clock Clock
	log   Logger

	stream ByteStream
	br     *bufio.Reader
	bw     *bufio.Writer

	mu    sync.Mutex
	state ConnState

	requestsServed uint64
	bytesSent      uint64
	bytesReceived  uint64
	errorsCount    uint64
	idleSince      time.Time
	createdAt      time.Time

	generation uint64 // incremented each cycle; guards stale ResponseBody calls

	// per-exchange scratch, valid only while state == StateActive
	curReqClose  bool
	mode         bodyMode
	fixedRemain  uint64
	chunkedR     *chunkedReader
}

// NewConn wraps stream in a fresh engine, state New.
func NewConn(stream ByteStream, cfg EngineConfig, clock Clock, log Logger) *Conn {
	cfg = cfg.withDefaults()
	if clock == nil {
		clock = defaultClock()
	}
	if log == nil {
		log = defaultLogger()
	}
	return &Conn{
		cfg:       cfg,
		clock:     clock,
		log:       log,
		stream:    stream,
		br:        bufio.NewReaderSize(&streamReader{stream: stream, ctx: context.Background(), timeout: cfg.ReadTimeout}, cfg.ReadBufferSize),
		bw:        bufio.NewWriter(&streamWriter{stream: stream}),
		state:     StateNew,
		createdAt: clock.Now(),
	}
}

// State returns the current connection state.
func (c *Conn) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Stats are the counters spec.md §3 attaches to a Connection.
type Stats struct {
	RequestsServed uint64
	BytesSent      uint64
	BytesReceived  uint64
	Errors         uint64
	IdleSince      time.Time
}

// Stats snapshots the connection's counters.
func (c *Conn) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		RequestsServed: c.requestsServed,
		BytesSent:      c.bytesSent,
		BytesReceived:  c.bytesReceived,
		Errors:         c.errorsCount,
		IdleSince:      c.idleSince,
	}
}

// HasExpired reports whether an Idle connection's age exceeds the
// KeepAliveTimeout, per spec.md §4.4 step 1.
func (c *Conn) HasExpired() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateIdle {
		return false
	}
	return c.clock.Since(c.idleSince) > c.cfg.KeepAliveTimeout
}

// Close is idempotent; it transitions to Closed and closes the transport.
func (c *Conn) Close() error {
	c.mu.Lock()
	already := c.state == StateClosed
	c.state = StateClosed
	c.mu.Unlock()
	if already {
		return nil
	}
	return c.stream.Close()
}

// streamReader adapts ByteStream to io.Reader, applying a fresh deadline to
// every underlying read so read_deadline bounds "each individual
// parser-advance read" exactly as spec.md §4.3 specifies.
type streamReader struct {
	stream  ByteStream
	ctx     context.Context
	timeout time.Duration
}

func (s *streamReader) Read(p []byte) (int, error) {
	ctx := s.ctx
	var cancel context.CancelFunc
	if s.timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	n, err := s.stream.Read(ctx, p)
	if err != nil {
		return n, err
	}
	if n == 0 {
		return 0, io.EOF // orderly peer close, per the ByteStream contract
	}
	return n, nil
}

// streamWriter adapts ByteStream to io.Writer under a single context so
// write_deadline bounds the full head+body emission, not each syscall.
type streamWriter struct {
	stream ByteStream
	ctx    context.Context
}

func (s *streamWriter) Write(p []byte) (int, error) {
	if err := s.stream.Write(s.ctx, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// classify maps a raw I/O error to a Kind: a context/net timeout becomes
// KindTimeout, everything else becomes KindTransport. Protocol errors are
// already *Error by the time callers see them (from parser.go/chunked.go).
func classify(op string, err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return newErr(op, KindTimeout, "deadline exceeded", err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return newErr(op, KindTimeout, "deadline exceeded", err)
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return newErr(op, KindTransport, "connection closed by peer", err)
	}
	return newErr(op, KindTransport, "transport error", err)
}

// Exchange drives one request/response cycle, per spec.md §4.3. Only one
// Exchange may run at a time per connection (a second concurrent call gets
// a busy KindState error); Exchange on a Closed connection fails
// immediately.
func (c *Conn) Exchange(ctx context.Context, req Request) (Response, error) {
	c.mu.Lock()
	switch c.state {
	case StateClosed:
		c.mu.Unlock()
		return Response{}, newErr("Conn.Exchange", KindState, "connection is closed", nil)
	case StateActive:
		c.mu.Unlock()
		return Response{}, newErr("Conn.Exchange", KindState, "connection is busy", nil)
	}
	c.state = StateActive
	c.mu.Unlock()

	resp, reusable, err := c.doExchange(ctx, req)
	if err != nil {
		c.mu.Lock()
		c.errorsCount++
		c.mu.Unlock()
		c.log.Warnf("exchange failed, closing connection: %v", err)
		c.forceClose()
		return Response{}, err
	}

	// Reuse is only decided once the body is fully drained (or closed
	// early); see pullBodyChunk/bodyFinished. If there is no body at all
	// (zero-length), finish the cycle right here.
	if resp.Body == nil {
		c.finishExchange(reusable)
	}
	return resp, nil
}

func (c *Conn) forceClose() {
	c.mu.Lock()
	c.state = StateClosed
	c.mu.Unlock()
	c.log.Debugf("connection forced closed")
	_ = c.stream.Close()
}

// doExchange writes the request and reads the response head, returning the
// response (with a body bound to this Conn's current generation, if any)
// and whether the connection is a reuse *candidate* pending body
// consumption (Connection: close already rules it out here).
func (c *Conn) doExchange(ctx context.Context, req Request) (Response, bool, error) {
	writeCtx, cancel := context.WithTimeout(ctx, c.cfg.WriteTimeout)
	defer cancel()
	c.bw.Reset(&streamWriter{stream: c.stream, ctx: writeCtx})

	n, err := c.writeRequest(req)
	if err != nil {
		return Response{}, false, classify("Conn.Exchange", err)
	}
	c.mu.Lock()
	c.bytesSent += uint64(n)
	c.mu.Unlock()

	head, hn, err := c.readResponseHeadCounting()
	if err != nil {
		return Response{}, false, classify("Conn.Exchange", err)
	}
	c.mu.Lock()
	c.bytesReceived += uint64(hn)
	c.mu.Unlock()

	reusable := !req.ConnectionClose() && !head.Headers.HasConnectionClose()

	mode, declared, err := c.decideBodyFraming(req, head)
	if err != nil {
		return Response{}, false, err
	}
	c.mode = mode

	resp := Response{
		Status:       head.Status,
		ReasonPhrase: head.ReasonPhrase,
		Headers:      head.Headers,
		Extensions:   map[string]any{},
	}

	if mode == bodyModeEmpty {
		return resp, reusable, nil
	}

	var chunked bool
	if mode == bodyModeChunked {
		chunked = true
		c.chunkedR = newChunkedReader(c.br)
	} else if mode == bodyModeFixed {
		c.fixedRemain = declared
	}

	var declaredLenPtr *uint64
	if mode == bodyModeFixed {
		v := declared
		declaredLenPtr = &v
	}
	resp.Body = newResponseBody(c, c.generation, declaredLenPtr, chunked, head.Headers.mustPeek("Content-Encoding"))
	c.curReqClose = !reusable
	return resp, reusable, nil
}

func (h Headers) mustPeek(name string) string {
	v, _ := h.Get(name)
	return v
}

// decideBodyFraming implements the precedence rules in spec.md §4.3.
func (c *Conn) decideBodyFraming(req Request, head ResponseHead) (bodyMode, uint64, error) {
	if isNoBodyStatus(head.Status) || req.IsHead() {
		return bodyModeEmpty, 0, nil
	}
	if head.Headers.IsChunked() {
		return bodyModeChunked, 0, nil
	}
	if n, ok := head.Headers.ContentLength(); ok {
		if n == 0 {
			return bodyModeEmpty, 0, nil
		}
		return bodyModeFixed, n, nil
	}
	return bodyModeUntilClose, 0, nil
}

func isNoBodyStatus(status int) bool {
	if status >= 100 && status < 200 {
		return true
	}
	return status == 204 || status == 304
}

// writeRequest synthesizes Content-Length/Transfer-Encoding, writes the
// request line, headers, and body to c.bw, and flushes it to the wire,
// returning the total byte count for the bytes_sent counter (spec.md §3).
func (c *Conn) writeRequest(req Request) (int, error) {
	req.Headers = synthesizeHeaders(req)

	head := acquireBuf()
	defer releaseBuf(head)
	if err := writeRequestHead(head, req); err != nil {
		return 0, err
	}
	if _, err := c.bw.Write(head.B); err != nil {
		return 0, err
	}
	written := len(head.B)

	if req.Body != nil {
		bn, err := c.writeRequestBody(req.Body)
		written += bn
		if err != nil {
			return written, err
		}
	}
	if err := c.bw.Flush(); err != nil {
		return written, err
	}
	return written, nil
}

func (c *Conn) writeRequestBody(body *RequestBody) (int, error) {
	written := 0
	if body.Chunked() {
		for {
			chunk, err := body.Next()
			if err == io.EOF {
				if err := writeChunkedTrailer(c.bw); err != nil {
					return written, err
				}
				written += len("0\r\n\r\n")
				return written, nil
			}
			if err != nil {
				return written, err
			}
			if err := writeChunk(c.bw, chunk); err != nil {
				return written, err
			}
			written += chunkWireLen(len(chunk))
		}
	}
	for {
		chunk, err := body.Next()
		if err == io.EOF {
			return written, nil
		}
		if err != nil {
			return written, err
		}
		if _, err := c.bw.Write(chunk); err != nil {
			return written, err
		}
		written += len(chunk)
	}
}

func chunkWireLen(n int) int {
	hexLen := 1
	for v := n; v >= 16; v >>= 4 {
		hexLen++
	}
	return hexLen + 2 + n + 2
}

// synthesizeHeaders applies the header synthesis rules in spec.md §4.3
// without mutating the caller's immutable Request.Headers.
func synthesizeHeaders(req Request) Headers {
	out := NewHeaders(req.Headers.All()...)
	if req.Body == nil {
		return out
	}
	if out.Has("Content-Length") || out.Has("Transfer-Encoding") {
		return out
	}
	if req.Body.Chunked() {
		out.Add("Transfer-Encoding", "chunked")
		return out
	}
	if n, ok := req.Body.DeclaredLength(); ok {
		out.Add("Content-Length", itoa(n))
	}
	return out
}

func itoa(n uint64) string {
	if n == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}

func (c *Conn) readResponseHeadCounting() (ResponseHead, int, error) {
	head, err := readResponseHead(c.br)
	return head, headWireLen(head), err
}

// headWireLen reconstructs the wire size of a parsed head for the
// bytes_received counter (spec.md §3); bufio's internal buffering makes
// counting the underlying stream reads directly awkward, so this mirrors
// the bytes writeRequestHead's layout would emit for a response-shaped head
// (single-space status line, "Name: Value" headers, closing blank line).
func headWireLen(head ResponseHead) int {
	n := len("HTTP/1.1 200 \r\n") + len(head.ReasonPhrase) + len("\r\n")
	for _, h := range head.Headers.All() {
		n += len(h.Name) + len(h.Value) + 4
	}
	return n
}

// pullBodyChunk implements bodySource for ResponseBody.
func (c *Conn) pullBodyChunk(ctx context.Context, generation uint64) (chunk []byte, end bool, err error) {
	c.mu.Lock()
	if generation != c.generation || c.state != StateActive {
		c.mu.Unlock()
		return nil, false, ErrStaleGeneration
	}
	c.mu.Unlock()

	switch c.mode {
	case bodyModeFixed:
		return c.pullFixed()
	case bodyModeChunked:
		return c.pullChunked()
	case bodyModeUntilClose:
		return c.pullUntilClose()
	default:
		return nil, true, nil
	}
}

func (c *Conn) pullFixed() ([]byte, bool, error) {
	if c.fixedRemain == 0 {
		return nil, true, nil
	}
	bufSize := uint64(c.cfg.ReadBufferSize)
	if c.fixedRemain < bufSize {
		bufSize = c.fixedRemain
	}
	buf := make([]byte, bufSize)
	n, err := io.ReadFull(c.br, buf)
	if err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
			return nil, false, newErr("ResponseBody.Next", KindProtocol, "connection closed unexpectedly", err)
		}
		return nil, false, classify("ResponseBody.Next", err)
	}
	c.mu.Lock()
	c.bytesReceived += uint64(n)
	c.mu.Unlock()
	c.fixedRemain -= uint64(n)
	return buf[:n], false, nil
}

func (c *Conn) pullChunked() ([]byte, bool, error) {
	chunk, err := c.chunkedR.Next(nil)
	if err == errChunkedDone {
		return nil, true, nil
	}
	if err != nil {
		return nil, false, err
	}
	c.mu.Lock()
	c.bytesReceived += uint64(len(chunk))
	c.mu.Unlock()
	return chunk, false, nil
}

func (c *Conn) pullUntilClose() ([]byte, bool, error) {
	buf := make([]byte, c.cfg.ReadBufferSize)
	n, err := c.br.Read(buf)
	if n > 0 {
		c.mu.Lock()
		c.bytesReceived += uint64(n)
		c.mu.Unlock()
		return buf[:n], false, nil
	}
	if errors.Is(err, io.EOF) {
		return nil, true, nil
	}
	return nil, false, classify("ResponseBody.Next", err)
}

// bodyFinished implements bodySource: it is called exactly once, either
// because end-of-body was reached naturally or because ResponseBody.Close
// was called early (consumed=false), and drives the Active→Idle/Closed
// transition described in spec.md §4.3's reuse decision.
func (c *Conn) bodyFinished(generation uint64, consumed bool) {
	c.mu.Lock()
	if generation != c.generation || c.state != StateActive {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	reusable := consumed && !c.curReqClose
	if c.mode == bodyModeUntilClose {
		reusable = false // spec.md §4.3: EndOfBody via read-until-close is never reusable
	}
	c.finishExchange(reusable)
}

// finishExchange applies the reuse decision (spec.md §4.3 "Reuse decision")
// once a full exchange (head + body, or a zero-length body) has completed.
func (c *Conn) finishExchange(reusable bool) {
	c.mu.Lock()
	if c.state != StateActive {
		c.mu.Unlock()
		return
	}
	c.requestsServed++
	canReuse := reusable && c.requestsServed < c.cfg.MaxRequestsPerConnection
	c.generation++
	c.mode = bodyModeEmpty
	c.chunkedR = nil
	c.fixedRemain = 0
	c.curReqClose = false

	if canReuse {
		c.state = StateIdle
		c.idleSince = c.clock.Now()
		c.mu.Unlock()
		c.log.Debugf("connection %s -> idle (requests served: %d)", StateActive, c.requestsServed)
		return
	}
	c.state = StateClosed
	c.mu.Unlock()
	c.log.Debugf("connection %s -> closed (requests served: %d, reusable: %v)", StateActive, c.requestsServed, reusable)
	_ = c.stream.Close()
}
