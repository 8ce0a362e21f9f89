package htcore

import (
	"context"
	"sync"
	"time"

	multierror "github.com/hashicorp/go-multierror"
)

// PoolConfig configures a Pool, per spec.md §6.
type PoolConfig struct {
	MaxTotal                 int
	MaxPerHost               int
	KeepAliveTimeout         time.Duration
	MaxRequestsPerConnection uint64
	CleanupInterval          time.Duration

	Engine EngineConfig
}

// DefaultPoolConfig returns the defaults from spec.md §6.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxTotal:                 10,
		MaxPerHost:               5,
		KeepAliveTimeout:         300 * time.Second,
		MaxRequestsPerConnection: 100,
		CleanupInterval:          60 * time.Second,
		Engine:                   DefaultEngineConfig(),
	}
}

func (c PoolConfig) withDefaults() PoolConfig {
	d := DefaultPoolConfig()
	if c.MaxTotal <= 0 {
		c.MaxTotal = d.MaxTotal
	}
	if c.MaxPerHost <= 0 {
		c.MaxPerHost = d.MaxPerHost
	}
	if c.KeepAliveTimeout == 0 {
		c.KeepAliveTimeout = d.KeepAliveTimeout
	}
	if c.MaxRequestsPerConnection == 0 {
		c.MaxRequestsPerConnection = d.MaxRequestsPerConnection
	}
	if c.CleanupInterval == 0 {
		c.CleanupInterval = d.CleanupInterval
	}
	c.Engine.KeepAliveTimeout = c.KeepAliveTimeout
	c.Engine.MaxRequestsPerConnection = c.MaxRequestsPerConnection
	return c
}

// originBucket is the per-origin idle list, the pool's generalization of the
// teacher's per-HostClient conns slice (client.go) to an arbitrary number of
// origins keyed by Origin.Key(), mirroring connection_pool.py's
// Dict[str, List[HTTP11Connection]].
type originBucket struct {
	idle   []*Conn        // LIFO: most-recently-released connection is reused first
	leased map[*Conn]bool // connections currently checked out for an exchange
	count  int            // total connections (idle + leased) for this origin
}

// Pool is the per-origin HTTP/1.1 connection pool, spec.md §4.4: a LIFO idle
// cache per origin, MaxPerHost/MaxTotal capacity enforcement, a background
// reaper evicting idle connections past KeepAliveTimeout, and Metrics
// aggregation — grounded on the teacher's HostClient.acquireConn /
// releaseConn / connsCleaner (client.go), generalized from one host to many,
// and on connection_pool.py's ConnectionPool for the per-origin bookkeeping
// and metrics shape.
type Pool struct {
	cfg    PoolConfig
	dialer Dialer
	clock  Clock
	log    Logger

	mu      sync.Mutex
	buckets map[string]*originBucket
	total   int
	closed  bool

	created uint64
	evicted uint64
	served  uint64

	stopReaper chan struct{}
	reaperDone chan struct{}
}

// NewPool constructs a Pool. dialer is required; clock and log default to
// real-time/logrus when nil, per the ambient-stack conventions the rest of
// this module follows.
func NewPool(dialer Dialer, cfg PoolConfig, clock Clock, log Logger) *Pool {
	if clock == nil {
		clock = defaultClock()
	}
	if log == nil {
		log = defaultLogger()
	}
	return &Pool{
		cfg:     cfg.withDefaults(),
		dialer:  dialer,
		clock:   clock,
		log:     log,
		buckets: make(map[string]*originBucket),
	}
}

// Start launches the background reaper, per spec.md §4.4 step "Background
// reaper". Calling Start more than once is a no-op, mirroring the teacher's
// lazily-started, self-stopping connsCleaner except this one runs for the
// lifetime of the pool instead of stopping itself when idle.
func (p *Pool) Start() {
	p.mu.Lock()
	already := p.stopReaper != nil
	if !already {
		p.stopReaper = make(chan struct{})
		p.reaperDone = make(chan struct{})
	}
	stop := p.stopReaper
	done := p.reaperDone
	p.mu.Unlock()
	if already {
		return
	}
	go p.reapLoop(stop, done)
}

func (p *Pool) reapLoop(stop, done chan struct{}) {
	defer close(done)
	ticker := p.clock.NewTicker(p.cfg.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.Chan():
			p.reapExpired()
		}
	}
}

// reapExpired evicts idle connections past KeepAliveTimeout from every
// origin bucket, the pool-wide analogue of connsCleaner's single-host sweep.
func (p *Pool) reapExpired() {
	p.mu.Lock()
	type victim struct{ c *Conn }
	var victims []victim
	for key, b := range p.buckets {
		kept := b.idle[:0]
		for _, c := range b.idle {
			if c.HasExpired() {
				victims = append(victims, victim{c})
				b.count--
				p.total--
				p.evicted++
			} else {
				kept = append(kept, c)
			}
		}
		b.idle = kept
		if b.count == 0 && len(b.idle) == 0 {
			delete(p.buckets, key)
		}
	}
	p.mu.Unlock()

	if len(victims) > 0 {
		p.log.Debugf("reap cycle: evicted %d idle connection(s)", len(victims))
	}
	for _, v := range victims {
		_ = v.c.Close()
	}
}

// Acquire returns an idle connection for origin if one is available and not
// expired, or dials a fresh one within MaxPerHost/MaxTotal, per spec.md §4.4
// steps 1-4. It returns a KindCapacity error if the origin or the pool as a
// whole is at its configured limit.
func (p *Pool) Acquire(ctx context.Context, origin Origin) (*Conn, error) {
	key := origin.Key()

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, newErr("Pool.Acquire", KindState, "pool is stopped", nil)
	}

	b := p.buckets[key]
	if b == nil {
		b = &originBucket{leased: make(map[*Conn]bool)}
		p.buckets[key] = b
	}

	for len(b.idle) > 0 {
		n := len(b.idle) - 1
		c := b.idle[n]
		b.idle = b.idle[:n]
		if c.HasExpired() {
			b.count--
			p.total--
			p.evicted++
			p.mu.Unlock()
			_ = c.Close()
			p.mu.Lock()
			continue
		}
		b.leased[c] = true
		p.mu.Unlock()
		return c, nil
	}

	if b.count >= p.cfg.MaxPerHost {
		p.mu.Unlock()
		p.log.Debugf("acquire for %s refused: max connections per host reached (%d)", key, p.cfg.MaxPerHost)
		return nil, newErr("Pool.Acquire", KindCapacity, "max connections per host reached", nil)
	}
	if p.total >= p.cfg.MaxTotal {
		p.mu.Unlock()
		p.log.Debugf("acquire for %s refused: max total connections reached (%d)", key, p.cfg.MaxTotal)
		return nil, newErr("Pool.Acquire", KindCapacity, "max total connections reached", nil)
	}
	b.count++
	p.total++
	p.mu.Unlock()

	stream, err := p.dialer.Dial(ctx, origin)
	if err != nil {
		p.mu.Lock()
		b.count--
		p.total--
		p.mu.Unlock()
		p.log.Warnf("dial to %s failed: %v", key, err)
		return nil, err
	}

	conn := NewConn(stream, p.cfg.Engine, p.clock, p.log.WithField("origin", key))

	p.mu.Lock()
	p.created++
	b.leased[conn] = true
	p.mu.Unlock()

	return conn, nil
}

// Release returns conn to origin's idle bucket if it is Idle (reusable), or
// retires it (closing if necessary and decrementing capacity) otherwise, per
// spec.md §4.4 step 5. Release is safe to call exactly once per Acquire.
func (p *Pool) Release(conn *Conn, origin Origin) {
	key := origin.Key()

	p.mu.Lock()
	p.served++
	if p.closed {
		p.mu.Unlock()
		_ = conn.Close()
		return
	}
	b := p.buckets[key]
	if b == nil {
		b = &originBucket{leased: make(map[*Conn]bool)}
		p.buckets[key] = b
	}
	delete(b.leased, conn)

	if conn.State() == StateIdle {
		b.idle = append(b.idle, conn)
		p.mu.Unlock()
		return
	}

	b.count--
	p.total--
	if b.count == 0 && len(b.idle) == 0 {
		delete(p.buckets, key)
	}
	p.mu.Unlock()
	_ = conn.Close()
}

// Stop stops the reaper and closes every idle AND leased connection, per
// spec.md §4.4's shutdown behavior ("close every idle and leased
// connection"): a connection checked out for an in-flight exchange when Stop
// is called is force-closed right away rather than left open until its
// eventual Release. It is idempotent. Close failures across origins are
// aggregated with go-multierror, the way docker-compose aggregates
// concurrent service-stop errors, instead of returning only the first.
func (p *Pool) Stop() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	stop := p.stopReaper
	done := p.reaperDone
	var conns []*Conn
	for _, b := range p.buckets {
		conns = append(conns, b.idle...)
		for c := range b.leased {
			conns = append(conns, c)
		}
	}
	p.buckets = make(map[string]*originBucket)
	p.total = 0
	p.mu.Unlock()

	if stop != nil {
		close(stop)
		<-done
	}

	var result *multierror.Error
	for _, c := range conns {
		if err := c.Close(); err != nil {
			p.log.Warnf("error closing connection during pool stop: %v", err)
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

// PoolMetrics is the snapshot spec.md §4.4 + connection_pool.py's `metrics`
// property return: aggregate counters plus a per-origin idle/active count.
type PoolMetrics struct {
	TotalConnections    int
	ConnectionsByOrigin map[string]int
	Created             uint64
	Evicted             uint64
	RequestsHandled     uint64
}

// Metrics snapshots the pool's current counters.
func (p *Pool) Metrics() PoolMetrics {
	p.mu.Lock()
	defer p.mu.Unlock()
	byOrigin := make(map[string]int, len(p.buckets))
	for key, b := range p.buckets {
		byOrigin[key] = b.count
	}
	return PoolMetrics{
		TotalConnections:    p.total,
		ConnectionsByOrigin: byOrigin,
		Created:             p.created,
		Evicted:             p.evicted,
		RequestsHandled:     p.served,
	}
}
