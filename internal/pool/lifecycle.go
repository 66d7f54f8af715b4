package pool

import (
	"time"

	"github.com/oriys/nova/internal/logging"
)

func (p *Pool) cleanupLoop() {
	ticker := time.NewTicker(p.cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			p.cleanupIdle()
		}
	}
}

// cleanupIdle evicts ready connections idle longer than the descriptor's
// IdleEvictAfter (DefaultIdleEvictAfter when unset), subject to the
// descriptor's Min floor.
func (p *Pool) cleanupIdle() {
	now := time.Now()
	p.pools.Range(func(key, value interface{}) bool {
		cp := value.(*connPool)

		cp.mu.Lock()
		idleEvictAfter := cp.desc.Pool.IdleEvictAfter
		if idleEvictAfter <= 0 {
			idleEvictAfter = DefaultIdleEvictAfter
		}
		floor := cp.desc.Pool.Min

		var kept []*PooledConn
		var toClose []*PooledConn
		for _, pc := range cp.ready {
			if len(cp.conns) > floor && now.Sub(pc.LastUsed) > idleEvictAfter {
				delete(cp.conns, pc)
				toClose = append(toClose, pc)
				continue
			}
			kept = append(kept, pc)
		}
		cp.ready = kept
		cp.mu.Unlock()

		for _, pc := range toClose {
			pc.Conn.Close()
		}
		return true
	})
}

func (p *Pool) healthCheckLoop() {
	ticker := time.NewTicker(p.healthCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			p.healthCheck()
		}
	}
}

// healthCheck probes every idle connection and evicts those that fail,
// so a backend outage is discovered before the next caller's Acquire
// rather than surfacing mid-statement.
func (p *Pool) healthCheck() {
	type target struct {
		cp *connPool
		pc *PooledConn
	}
	var targets []target
	p.pools.Range(func(_, value interface{}) bool {
		cp := value.(*connPool)
		cp.mu.RLock()
		for _, pc := range cp.ready {
			targets = append(targets, target{cp: cp, pc: pc})
		}
		cp.mu.RUnlock()
		return true
	})

	for _, t := range targets {
		if t.pc.Conn.Probe(p.ctx) {
			continue
		}
		t.cp.mu.Lock()
		kept := t.cp.ready[:0]
		for _, pc := range t.cp.ready {
			if pc == t.pc {
				delete(t.cp.conns, pc)
				continue
			}
			kept = append(kept, pc)
		}
		t.cp.ready = kept
		t.cp.mu.Unlock()
		logging.Op().Warn("pool: evicting connection that failed health probe", "connection", t.pc.ConnectionID)
		t.pc.Conn.Close()
	}
}
