// Package pool implements the application-instance pool manager: the
// acquisition and release routines, the idle registry, the sweeper, and the
// single lock and condition variable tying them together.
package pool

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"

	"github.com/pipeops/apppool/pkg/domain"
)

// MaxAttempts bounds the crash-retry loop inside Get.
const MaxAttempts = 10

// Pool is the pool-management core. The zero value is not usable; build one
// with New. A Pool is safe for concurrent use by multiple goroutines.
type Pool struct {
	mu   sync.Mutex
	cond *sync.Cond

	spawner domain.Spawner
	restart domain.RestartProbe
	log     logrus.FieldLogger
	metrics Metrics

	domains map[string]*appDomain
	idle    idleRegistry

	count                int
	active               int
	waitingOnGlobalQueue int

	max            int
	maxPerApp      int
	useGlobalQueue bool
	maxIdleTime    time.Duration
	cleanInterval  time.Duration

	minIdlePerApp   int
	warmInterval    time.Duration
	warmConcurrency int64

	closed   bool
	stopCh   chan struct{}
	wakeSwp  chan struct{}
	wg       sync.WaitGroup
}

// New builds a Pool around the given Spawner and RestartProbe collaborators.
// log and metrics may be nil; a no-op metrics sink and logrus's standard
// logger are substituted.
func New(spawner domain.Spawner, restart domain.RestartProbe, log logrus.FieldLogger, m Metrics, cfg Config) (*Pool, error) {
	if spawner == nil {
		return nil, &ConfigError{Field: "Spawner", Reason: "must not be nil"}
	}
	if restart == nil {
		return nil, &ConfigError{Field: "RestartProbe", Reason: "must not be nil"}
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	if m == nil {
		m = noopMetrics{}
	}

	p := &Pool{
		spawner:         spawner,
		restart:         restart,
		log:             log.WithField("component", "pool"),
		metrics:         m,
		domains:         make(map[string]*appDomain),
		idle:            newIdleRegistry(),
		max:             cfg.Max,
		maxPerApp:       cfg.MaxPerApp,
		useGlobalQueue:  cfg.UseGlobalQueue,
		maxIdleTime:     cfg.MaxIdleTime,
		cleanInterval:   cfg.CleanInterval,
		minIdlePerApp:   cfg.MinIdlePerApp,
		warmInterval:    cfg.WarmInterval,
		warmConcurrency: cfg.WarmConcurrency,
		stopCh:          make(chan struct{}),
		wakeSwp:         make(chan struct{}, 1),
	}
	p.cond = sync.NewCond(&p.mu)

	p.wg.Add(1)
	go p.sweepLoop()

	if p.minIdlePerApp > 0 {
		p.wg.Add(1)
		go p.warmLoop()
	}

	return p, nil
}

// Get resolves a Session for appRoot, spawning or reusing an instance as
// the decision tree in selectOrSpawn dictates, and retrying up to
// MaxAttempts times across connect failures.
func (p *Pool) Get(ctx context.Context, appRoot string, opts domain.GetOptions) (domain.Session, *Container, error) {
	if appRoot == "" {
		return nil, nil, &ConfigError{Field: "appRoot", Reason: "must not be empty"}
	}

	var lastErr error
	for attempt := 1; attempt <= MaxAttempts; attempt++ {
		c, err := p.selectOrSpawn(ctx, appRoot, opts)
		if err != nil {
			return nil, nil, err
		}

		start := time.Now()
		sess, err := c.inst.Connect(ctx)
		p.metrics.ObserveConnectLatency(time.Since(start))
		if err == nil {
			return sess, c, nil
		}

		lastErr = err
		p.metrics.IncConnectErrors()
		p.log.WithFields(logrus.Fields{"app_root": appRoot, "attempt": attempt}).WithError(err).
			Warn("connect failed, retiring container")

		p.mu.Lock()
		c.sessions--
		if !c.detached() {
			d := c.domain
			p.idle.remove(c)
			d.detach(c)
			p.count--
			p.active--
			if d.empty() {
				delete(p.domains, appRoot)
				p.restart.Forget(appRoot)
			}
		}
		p.mu.Unlock()
		p.cond.Broadcast()

		go func() { _ = c.inst.Dispose(context.Background()) }()
	}

	return nil, nil, &ConnectError{AppRoot: appRoot, Attempts: MaxAttempts, Err: lastErr}
}

// selectOrSpawn implements the decision tree of 4.1a. It returns a
// Container that already accounts for itself in active/sessions/idle
// bookkeeping, unlocked, ready for Connect.
func (p *Pool) selectOrSpawn(ctx context.Context, appRoot string, opts domain.GetOptions) (*Container, error) {
	p.mu.Lock()
	for {
		if p.closed {
			p.mu.Unlock()
			return nil, &ConfigError{Field: "Pool", Reason: "shut down"}
		}

		d, ok := p.domains[appRoot]

		if ok && p.restart.NeedsRestart(appRoot) {
			p.purgeDomainLocked(d)
			p.mu.Unlock()
			if err := p.spawner.Reload(ctx, appRoot); err != nil {
				p.log.WithField("app_root", appRoot).WithError(err).Warn("reload failed")
			}
			p.mu.Lock()
			continue
		}

		if ok {
			if head := d.front(); head != nil && head.sessions == 0 {
				p.idle.remove(head)
				d.moveToTail(head)
				p.active++
				head.sessions++
				head.lastUsed = time.Now()
				p.mu.Unlock()
				return head, nil
			}

			overCapacity := p.count >= p.max || (p.maxPerApp != 0 && d.size >= p.maxPerApp)
			if overCapacity {
				if p.useGlobalQueue {
					p.waitingOnGlobalQueue++
					err := p.waitLocked(ctx)
					p.waitingOnGlobalQueue--
					if err != nil {
						p.mu.Unlock()
						return nil, err
					}
					continue
				}
				victim := d.leastLoaded()
				d.moveToTail(victim)
				victim.sessions++
				victim.lastUsed = time.Now()
				p.mu.Unlock()
				return victim, nil
			}

			p.mu.Unlock()
			inst, err := p.spawnTimed(ctx, appRoot)
			if err != nil {
				return nil, err
			}
			p.mu.Lock()
			if c, commit := p.commitSpawnLocked(appRoot, opts, inst); commit {
				p.mu.Unlock()
				return c, nil
			}
			p.mu.Unlock()
			go func() { _ = inst.Dispose(context.Background()) }()
			continue
		}

		// No domain for this root.
		if p.active >= p.max {
			if err := p.waitLocked(ctx); err != nil {
				p.mu.Unlock()
				return nil, err
			}
			continue
		}

		if p.count == p.max {
			if victim := p.idle.popFront(); victim != nil {
				vd := victim.domain
				vd.detach(victim)
				p.count--
				if vd.empty() {
					delete(p.domains, vd.root)
					p.restart.Forget(vd.root)
				}
				go func(inst domain.Instance) { _ = inst.Dispose(context.Background()) }(victim.inst)
			}
		}

		p.mu.Unlock()
		inst, err := p.spawnTimed(ctx, appRoot)
		if err != nil {
			return nil, err
		}
		p.mu.Lock()
		if c, commit := p.commitSpawnLocked(appRoot, opts, inst); commit {
			p.mu.Unlock()
			return c, nil
		}
		p.mu.Unlock()
		go func() { _ = inst.Dispose(context.Background()) }()
		continue
	}
}

// commitSpawnLocked re-validates capacity after an unlocked spawn, since
// another goroutine may have filled the pool or the domain in the meantime.
// It either commits the fresh Container into the target Domain (creating it
// if it doesn't already exist) or refuses it, leaving bookkeeping untouched
// so the caller can dispose the instance and let the decision tree restart
// from the top. p.mu must be held on entry and is held on return. A Domain
// created here only to be refused is not left behind.
func (p *Pool) commitSpawnLocked(appRoot string, opts domain.GetOptions, inst domain.Instance) (*Container, bool) {
	if p.closed {
		return nil, false
	}
	d, existed := p.domains[appRoot]
	if !existed {
		d = newAppDomain(appRoot, opts.MaxRequests)
	}
	if p.count >= p.max || (p.maxPerApp != 0 && d.size >= p.maxPerApp) {
		return nil, false
	}
	if !existed {
		p.domains[appRoot] = d
	}
	c := newContainer(appRoot, inst)
	d.pushActive(c)
	p.count++
	p.active++
	c.sessions++
	c.lastUsed = time.Now()
	return c, true
}

func (p *Pool) spawnTimed(ctx context.Context, appRoot string) (domain.Instance, error) {
	start := time.Now()
	inst, err := p.spawner.Spawn(ctx, appRoot)
	p.metrics.ObserveSpawnLatency(time.Since(start))
	if err != nil {
		p.metrics.IncSpawnErrors()
		return nil, &SpawnError{AppRoot: appRoot, Err: err}
	}
	p.metrics.IncSpawns()
	return inst, nil
}

// purgeDomainLocked implements the restart-check branch of 4.1a: every
// Container is removed from the Domain list and, if inactive, from the
// Idle Registry, active is decremented for each active one, and the
// Domain and its restart entry are dropped. Must be called with p.mu held.
func (p *Pool) purgeDomainLocked(d *appDomain) {
	for e := d.containers.Front(); e != nil; {
		c := e.Value.(*Container)
		next := e.Next()
		if c.idleElem != nil {
			p.idle.remove(c)
		} else {
			p.active--
		}
		d.containers.Remove(e)
		c.domElem = nil
		c.domain = nil
		p.count--
		e = next
	}
	d.size = 0
	delete(p.domains, d.root)
	p.restart.Forget(d.root)
}

// waitLocked blocks on the condition variable until signalled or ctx is
// done, per the three suspension points of §5. p.mu must be held on entry
// and is held again on return.
func (p *Pool) waitLocked(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			p.mu.Lock()
			p.cond.Broadcast()
			p.mu.Unlock()
		case <-done:
		}
	}()
	p.cond.Wait()
	close(done)
	return ctx.Err()
}

// Release returns a Container acquired via Get. It is the caller's
// responsibility to call this exactly once per successful Get.
func (p *Pool) Release(ctx context.Context, c *Container) error {
	p.mu.Lock()
	if c.detached() {
		p.mu.Unlock()
		return nil
	}
	if c.sessions <= 0 {
		p.log.WithField("app_root", c.root).Warn("double release detected, ignoring")
		p.mu.Unlock()
		return nil
	}

	d := c.domain
	c.processed++

	if d.maxRequests > 0 && c.processed >= d.maxRequests {
		d.detach(c)
		p.count--
		p.active--
		if d.empty() {
			delete(p.domains, d.root)
			p.restart.Forget(d.root)
		}
		p.mu.Unlock()
		p.cond.Broadcast()
		p.metrics.IncRetired("request_cap")
		go func() { _ = c.inst.Dispose(ctx) }()
		return nil
	}

	c.sessions--
	c.lastUsed = time.Now()
	if c.sessions == 0 {
		d.moveToHead(c)
		p.idle.pushBack(c)
		p.active--
	}
	p.mu.Unlock()
	p.cond.Broadcast()
	return nil
}

// sweepLoop is the single background worker of §4.3.
func (p *Pool) sweepLoop() {
	defer p.wg.Done()
	for {
		timer := time.NewTimer(p.currentCleanInterval())
		select {
		case <-p.stopCh:
			timer.Stop()
			return
		case <-p.wakeSwp:
			timer.Stop()
		case <-timer.C:
		}
		p.sweepOnce()
	}
}

func (p *Pool) currentCleanInterval() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cleanInterval
}

func (p *Pool) sweepOnce() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.maxIdleTime <= 0 {
		return
	}
	cutoff := time.Now().Add(-p.maxIdleTime)
	for _, c := range p.idle.oldestFirst() {
		if c.lastUsed.After(cutoff) {
			break // registry is ordered oldest-first; nothing older remains
		}
		d := c.domain
		p.idle.remove(c)
		d.detach(c)
		p.count--
		if d.empty() {
			delete(p.domains, d.root)
			p.restart.Forget(d.root)
		}
		p.metrics.IncRetired("idle_timeout")
		go func(inst domain.Instance) { _ = inst.Dispose(context.Background()) }(c.inst)
	}
}

// Stats returns a point-in-time snapshot of pool-wide counters.
type Stats struct {
	Count                int `json:"count"`
	Active               int `json:"active"`
	Idle                 int `json:"idle"`
	Domains              int `json:"domains"`
	Max                  int `json:"max"`
	MaxPerApp            int `json:"max_per_app"`
	WaitingOnGlobalQueue int `json:"waiting_on_global_queue"`
}

func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := Stats{
		Count:                p.count,
		Active:               p.active,
		Idle:                 p.idle.len(),
		Domains:              len(p.domains),
		Max:                  p.max,
		MaxPerApp:            p.maxPerApp,
		WaitingOnGlobalQueue: p.waitingOnGlobalQueue,
	}
	p.metrics.SetGauges(s.Count, s.Active, s.Idle, s.WaitingOnGlobalQueue)
	return s
}

// SetMax updates the pool-wide capacity. count may temporarily exceed it;
// release and the sweeper drain the excess.
func (p *Pool) SetMax(n int) error {
	if n <= 0 {
		return &ConfigError{Field: "Max", Reason: "must be positive"}
	}
	p.mu.Lock()
	p.max = n
	p.mu.Unlock()
	p.cond.Broadcast()
	return nil
}

// SetMaxPerApp updates the per-domain capacity; 0 means unlimited.
func (p *Pool) SetMaxPerApp(n int) error {
	if n < 0 {
		return &ConfigError{Field: "MaxPerApp", Reason: "must be >= 0"}
	}
	p.mu.Lock()
	p.maxPerApp = n
	p.mu.Unlock()
	p.cond.Broadcast()
	return nil
}

// SetUseGlobalQueue toggles the overflow strategy.
func (p *Pool) SetUseGlobalQueue(v bool) {
	p.mu.Lock()
	p.useGlobalQueue = v
	p.mu.Unlock()
}

// SetMaxIdleTime updates the sweeper's expiry threshold; 0 disables it.
func (p *Pool) SetMaxIdleTime(d time.Duration) error {
	if d < 0 {
		return &ConfigError{Field: "MaxIdleTime", Reason: "must be >= 0"}
	}
	p.mu.Lock()
	p.maxIdleTime = d
	p.mu.Unlock()
	return nil
}

// SetCleanInterval updates the sweeper's poll interval, waking it
// immediately so the new interval takes effect without waiting out the
// previous one.
func (p *Pool) SetCleanInterval(d time.Duration) error {
	if d <= 0 {
		return &ConfigError{Field: "CleanInterval", Reason: "must be positive"}
	}
	p.mu.Lock()
	p.cleanInterval = d
	p.mu.Unlock()
	select {
	case p.wakeSwp <- struct{}{}:
	default:
	}
	return nil
}

// Shutdown signals the sweeper (and warm loop, if running) to stop and
// disposes every live Instance. Errors from individual disposals are
// aggregated rather than short-circuited on the first failure.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	domains := p.domains
	p.domains = make(map[string]*appDomain)
	p.idle = newIdleRegistry()
	p.count, p.active = 0, 0
	p.mu.Unlock()

	close(p.stopCh)
	p.cond.Broadcast()
	p.wg.Wait()

	var result *multierror.Error
	for _, d := range domains {
		for e := d.containers.Front(); e != nil; e = e.Next() {
			c := e.Value.(*Container)
			if err := c.inst.Dispose(ctx); err != nil {
				result = multierror.Append(result, fmt.Errorf("dispose %s: %w", c.root, err))
			}
		}
	}
	return result.ErrorOrNil()
}
