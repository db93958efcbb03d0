package pool

import (
	"context"
	"time"

	"golang.org/x/sync/semaphore"
)

// warmLoop maintains MinIdlePerApp idle containers per domain that has been
// seen at least once, using a semaphore-bounded replenish loop so warm
// spawns never pile up past warmConcurrency at once. It is a supplemental
// feature, not part of the acquisition contract:
// every container it spawns enters the Domain list and Idle Registry
// exactly as a normal spawn-into-domain would, through the same counters.
func (p *Pool) warmLoop() {
	defer p.wg.Done()

	sem := semaphore.NewWeighted(p.warmConcurrency)
	ticker := time.NewTicker(p.warmInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.warmTick(sem)
		}
	}
}

func (p *Pool) warmTick(sem *semaphore.Weighted) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	type need struct {
		root    string
		count   int
		maxReqs uint64
	}
	var needs []need
	for root, d := range p.domains {
		idleCount := 0
		for e := d.containers.Front(); e != nil; e = e.Next() {
			c := e.Value.(*Container)
			if c.sessions != 0 {
				break // idle prefix ends; rest of list (back) is all active too
			}
			idleCount++
		}
		if deficit := p.minIdlePerApp - idleCount; deficit > 0 {
			if p.maxPerApp != 0 {
				room := p.maxPerApp - d.size
				if room < deficit {
					deficit = room
				}
			}
			if deficit > 0 {
				needs = append(needs, need{root: root, count: deficit, maxReqs: d.maxRequests})
			}
		}
	}
	p.mu.Unlock()

	for _, n := range needs {
		for i := 0; i < n.count; i++ {
			if err := sem.Acquire(context.Background(), 1); err != nil {
				return
			}
			go func(root string, maxReqs uint64) {
				defer sem.Release(1)
				p.spawnWarm(root, maxReqs)
			}(n.root, n.maxReqs)
		}
	}
}

// spawnWarm spawns one instance and files it as idle, re-validating room
// under the lock exactly as the main spawn paths do.
func (p *Pool) spawnWarm(root string, maxReqs uint64) {
	ctx, cancel := context.WithTimeout(context.Background(), p.warmInterval)
	defer cancel()

	inst, err := p.spawnTimed(ctx, root)
	if err != nil {
		p.log.WithField("app_root", root).WithError(err).Debug("warm spawn failed")
		return
	}

	p.mu.Lock()
	reject := p.closed || p.count >= p.max
	var d *appDomain
	if !reject {
		var ok bool
		d, ok = p.domains[root]
		if !ok {
			d = newAppDomain(root, maxReqs)
			p.domains[root] = d
		}
		if p.maxPerApp != 0 && d.size >= p.maxPerApp {
			reject = true
		}
	}
	if reject {
		p.mu.Unlock()
		_ = inst.Dispose(context.Background())
		return
	}
	c := newContainer(root, inst)
	d.pushActive(c)
	d.moveToHead(c) // idle-spawned: belongs at the inactive end, not the tail
	p.count++
	p.idle.pushBack(c)
	p.mu.Unlock()
}
