// Package pool manages the lifecycle of pooled connections shared across
// invocations against the same registered data source.
//
// # Design rationale
//
// Opening a native connection (pgconnector, athenaconnector, ...) costs a
// TCP handshake and authentication round trip. To amortise this cost
// across many statements the pool keeps connections alive between
// executions. A connection is returned to the warm set after each
// execution and is only evicted when it becomes idle for longer than
// IdleEvictAfter or fails a probe.
//
// # Pool topology
//
// One connPool is maintained per registered connection ID (spec.md §4.2:
// pool sizing is a property of the connection descriptor, not shared
// across descriptors the way the teacher's function pools could be).
//
// # Concurrency model
//
// Each connPool has its own sync.RWMutex. Reads (peeking idle count) take
// a read lock; writes (add/remove a connection, dequeue/enqueue ready)
// take the write lock. A sync.Cond on the write lock wakes goroutines
// waiting for a connection to become available.
//
// # Invariants
//
//   - len(cp.ready) + in-use count always equals len(cp.conns).
//   - Once cp.closing is set (via Close), no new connections are opened.
//   - A connection handed out by Acquire has just been probed healthy.
package pool

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/oriys/nova/internal/connector"
	"github.com/oriys/nova/internal/domain"
	"github.com/oriys/nova/internal/logging"
)

var (
	// ErrPoolClosing is returned by Acquire once Close has been called for
	// the connection.
	ErrPoolClosing = errors.New("pool: connection is closing")
	// ErrAcquireTimeout is returned when no connection becomes available
	// before the acquire deadline.
	ErrAcquireTimeout = errors.New("pool: acquire timed out waiting for a connection")
	// ErrUnknownConnection is returned for an operation against a
	// connection ID that was never registered.
	ErrUnknownConnection = errors.New("pool: unknown connection id")
)

const (
	DefaultIdleEvictAfter      = 5 * time.Minute
	DefaultCleanupInterval     = 30 * time.Second
	DefaultHealthCheckInterval = time.Minute
	DefaultAcquireTimeout      = 10 * time.Second
	defaultProbeRetries        = 2
)

// PooledConn is a handle to a live connection acquired from the pool. It
// must be returned via Pool.Release when the caller is done with it.
type PooledConn struct {
	Conn         connector.Conn
	ConnectionID string
	Opened       time.Time
	LastUsed     time.Time
}

// connPool holds all connections for a single registered connection ID.
//
// # Locking discipline
//
// All fields are accessed under mu; cond is bound to mu's write side.
// Callers must hold mu.Lock() when calling cond.Wait/Signal/Broadcast.
type connPool struct {
	desc    *domain.ConnectionDescriptor
	mu      sync.RWMutex
	cond    *sync.Cond
	conns   map[*PooledConn]struct{} // all connections, in-use or ready
	ready   []*PooledConn            // stack (LIFO) of idle, not-yet-reprobed connections
	waiters int
	opening int // slots reserved by Acquire calls still connecting
	closing bool
}

// Pool is the central resource manager for pooled connector.Conn handles.
//
// It is safe for concurrent use by multiple goroutines. The zero value is
// not usable; always construct via NewPool.
type Pool struct {
	registry            *connector.Registry
	pools               sync.Map // map[string]*connPool keyed by connection ID
	idleEvictAfter      time.Duration
	cleanupInterval     time.Duration
	healthCheckInterval time.Duration
	acquireTimeout      time.Duration
	probeRetries        int
	ctx                 context.Context
	cancel              context.CancelFunc
}

// Config holds pool-wide defaults. Per-descriptor min/max/idle-evict
// values (domain.PoolBounds) always take precedence when set.
type Config struct {
	CleanupInterval     time.Duration
	HealthCheckInterval time.Duration
	AcquireTimeout      time.Duration
}

// NewPool creates a Pool bound to registry and starts the background
// cleanup and health-check loops. Call Shutdown to stop those loops.
func NewPool(registry *connector.Registry, cfg Config) *Pool {
	if cfg.CleanupInterval == 0 {
		cfg.CleanupInterval = DefaultCleanupInterval
	}
	if cfg.HealthCheckInterval == 0 {
		cfg.HealthCheckInterval = DefaultHealthCheckInterval
	}
	if cfg.AcquireTimeout == 0 {
		cfg.AcquireTimeout = DefaultAcquireTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		registry:            registry,
		cleanupInterval:     cfg.CleanupInterval,
		healthCheckInterval: cfg.HealthCheckInterval,
		acquireTimeout:      cfg.AcquireTimeout,
		probeRetries:        defaultProbeRetries,
		ctx:                 ctx,
		cancel:              cancel,
	}
	go p.cleanupLoop()
	go p.healthCheckLoop()
	return p
}

// Register adds desc to the pool and eagerly opens desc.Pool.Min
// connections (spec.md §4.2: "min eagerly opened"). Calling Register
// again for the same ID replaces the descriptor used for future opens
// but does not affect already-open connections.
func (p *Pool) Register(ctx context.Context, desc *domain.ConnectionDescriptor) error {
	cp := &connPool{desc: desc, conns: make(map[*PooledConn]struct{})}
	cp.cond = sync.NewCond(&cp.mu)
	actual, loaded := p.pools.LoadOrStore(desc.ID, cp)
	cp = actual.(*connPool)
	if loaded {
		cp.mu.Lock()
		cp.desc = desc
		cp.mu.Unlock()
	}

	for i := 0; i < desc.Pool.Min; i++ {
		pc, err := p.openConn(ctx, cp)
		if err != nil {
			logging.Op().Warn("pool: eager open failed", "connection", desc.Name, "error", err)
			continue
		}
		cp.mu.Lock()
		cp.ready = append(cp.ready, pc)
		cp.mu.Unlock()
	}
	return nil
}

// Unregister closes every connection for id and removes the pool entry.
// Equivalent to Close followed by forgetting the descriptor.
func (p *Pool) Unregister(id string) {
	if err := p.Close(id); err != nil && !errors.Is(err, ErrUnknownConnection) {
		logging.Op().Warn("pool: close during unregister failed", "connection", id, "error", err)
	}
	p.pools.Delete(id)
}

func (p *Pool) getPool(id string) (*connPool, bool) {
	v, ok := p.pools.Load(id)
	if !ok {
		return nil, false
	}
	return v.(*connPool), true
}

func (p *Pool) openConn(ctx context.Context, cp *connPool) (*PooledConn, error) {
	conn, err := p.registry.Open(ctx, cp.desc)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	pc := &PooledConn{Conn: conn, ConnectionID: cp.desc.ID, Opened: now, LastUsed: now}
	cp.mu.Lock()
	cp.conns[pc] = struct{}{}
	cp.mu.Unlock()
	return pc, nil
}

// Descriptor returns the connection descriptor registered under id
// without acquiring a connection - a cheap, lock-only lookup used to
// confirm a connection reference is valid before the slower pooled
// acquire, in parallel with policy validation (spec.md §4.4).
func (p *Pool) Descriptor(id string) (*domain.ConnectionDescriptor, error) {
	cp, ok := p.getPool(id)
	if !ok {
		return nil, ErrUnknownConnection
	}
	cp.mu.RLock()
	defer cp.mu.RUnlock()
	return cp.desc, nil
}

// Acquire returns a probed-healthy connection for id, creating one if the
// pool is under its configured max and none is idle, or waiting for one
// to be released otherwise.
//
// # Acquisition order
//
//  1. Pop a ready connection and probe it; a failed probe discards the
//     connection and retries, up to probeRetries times, before falling
//     through to creation/waiting.
//  2. If under max, open a new connection.
//  3. Otherwise wait on the pool's condition variable until one is
//     released, the context is cancelled, or acquireTimeout elapses.
func (p *Pool) Acquire(ctx context.Context, id string) (*PooledConn, error) {
	cp, ok := p.getPool(id)
	if !ok {
		return nil, ErrUnknownConnection
	}

	deadline := time.Now().Add(p.acquireTimeout)
	for {
		cp.mu.Lock()
		if cp.closing {
			cp.mu.Unlock()
			return nil, ErrPoolClosing
		}

		if pc := p.takeProbedReadyLocked(ctx, cp); pc != nil {
			cp.mu.Unlock()
			return pc, nil
		}

		max := cp.desc.Pool.Max
		if max <= 0 || len(cp.conns)+cp.opening < max {
			cp.opening++
			cp.mu.Unlock()
			pc, err := p.openConn(ctx, cp)
			cp.mu.Lock()
			cp.opening--
			if err != nil && cp.waiters > 0 {
				cp.cond.Signal()
			}
			cp.mu.Unlock()
			if err != nil {
				return nil, err
			}
			pc.LastUsed = time.Now()
			return pc, nil
		}

		if err := ctx.Err(); err != nil {
			cp.mu.Unlock()
			return nil, err
		}
		waitFor := time.Until(deadline)
		if waitFor <= 0 {
			cp.mu.Unlock()
			return nil, ErrAcquireTimeout
		}
		p.waitLocked(ctx, cp, waitFor)
		cp.mu.Unlock()
	}
}

// takeProbedReadyLocked pops ready connections and probes each one,
// discarding failures, until a healthy connection is found or the ready
// stack and probeRetries budget are exhausted. Must be called with
// cp.mu held; the lock is released and reacquired around Probe since
// probing performs I/O.
func (p *Pool) takeProbedReadyLocked(ctx context.Context, cp *connPool) *PooledConn {
	attempts := 0
	for len(cp.ready) > 0 && attempts <= p.probeRetries {
		last := len(cp.ready) - 1
		pc := cp.ready[last]
		cp.ready = cp.ready[:last]
		cp.mu.Unlock()
		healthy := pc.Conn.Probe(ctx)
		cp.mu.Lock()
		attempts++
		if healthy {
			pc.LastUsed = time.Now()
			return pc
		}
		pc.Conn.Close()
		delete(cp.conns, pc)
	}
	return nil
}

// waitLocked suspends the calling goroutine until a connection is
// released (cp.cond.Signal), the context is cancelled, or waitFor
// elapses. Must be called with cp.mu held; cond.Wait releases and
// reacquires it internally. The caller re-checks ctx and the deadline on
// the next loop iteration rather than trusting any return value here.
func (p *Pool) waitLocked(ctx context.Context, cp *connPool, waitFor time.Duration) {
	cp.waiters++
	defer func() { cp.waiters-- }()

	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			cp.mu.Lock()
			cp.cond.Broadcast()
			cp.mu.Unlock()
		case <-done:
		}
	}()
	timer := time.AfterFunc(waitFor, func() {
		cp.mu.Lock()
		cp.cond.Broadcast()
		cp.mu.Unlock()
	})

	cp.cond.Wait()
	close(done)
	timer.Stop()
}

// Release returns pc to the warm pool. If healthy is false, or the pool
// is closing, pc is closed instead of being re-enqueued.
func (p *Pool) Release(pc *PooledConn, healthy bool) {
	cp, ok := p.getPool(pc.ConnectionID)
	if !ok {
		pc.Conn.Close()
		return
	}

	cp.mu.Lock()
	if !healthy || cp.closing {
		delete(cp.conns, pc)
		cp.mu.Unlock()
		pc.Conn.Close()
		return
	}
	pc.LastUsed = time.Now()
	cp.ready = append(cp.ready, pc)
	if cp.waiters > 0 {
		cp.cond.Signal()
	}
	cp.mu.Unlock()
}

// Close marks id as closing, refuses further Acquire calls, and closes
// every currently-idle connection. In-flight (acquired) connections are
// closed as they are Released rather than forcibly interrupted.
func (p *Pool) Close(id string) error {
	cp, ok := p.getPool(id)
	if !ok {
		return ErrUnknownConnection
	}
	cp.mu.Lock()
	cp.closing = true
	ready := cp.ready
	cp.ready = nil
	for _, pc := range ready {
		delete(cp.conns, pc)
	}
	cp.cond.Broadcast()
	cp.mu.Unlock()

	for _, pc := range ready {
		pc.Conn.Close()
	}
	return nil
}

// Shutdown closes every pool and stops the background loops. It does not
// block on in-flight connections being released first.
func (p *Pool) Shutdown() {
	p.pools.Range(func(key, _ interface{}) bool {
		p.Close(key.(string))
		return true
	})
	p.cancel()
}

// ConnStats is a point-in-time snapshot of one registered connection's
// pool occupancy, for the idle/busy gauges internal/metrics exports.
type ConnStats struct {
	ConnectionID string
	Idle         int
	Busy         int
	Waiters      int
}

// AllStats returns a snapshot for every currently registered connection
// ID, for a periodic pool-stats-to-metrics export loop. It takes each
// connPool's read lock in turn; it never blocks on Acquire.
func (p *Pool) AllStats() []ConnStats {
	var out []ConnStats
	p.pools.Range(func(key, value interface{}) bool {
		cp := value.(*connPool)
		cp.mu.RLock()
		idle := len(cp.ready)
		total := len(cp.conns)
		out = append(out, ConnStats{
			ConnectionID: key.(string),
			Idle:         idle,
			Busy:         total - idle,
			Waiters:      cp.waiters,
		})
		cp.mu.RUnlock()
		return true
	})
	return out
}
