package pool

import (
	"container/list"
	"time"

	"github.com/pipeops/apppool/pkg/domain"
)

// Container is the pool's bookkeeping wrapper around one spawned Instance.
// It is created on spawn and destroyed on crash, request-cap exhaustion,
// idle eviction, or restart purge — never reused across Instances. Callers
// receive a *Container alongside the Session returned by Pool.Get and must
// pass it back to Pool.Release exactly once.
//
// domElem and idleElem are the two cursors invariant 7 requires: stable
// pointers into the owning Domain's list and, while idle, into the pool's
// Idle Registry, both giving O(1) removal.
type Container struct {
	root string
	inst domain.Instance

	sessions  int
	processed uint64
	startTime time.Time
	lastUsed  time.Time

	domain  *appDomain
	domElem *list.Element // element in domain.containers whose Value is this Container; nil once detached
	idleElem *list.Element // element in the pool's idle registry; nil unless sessions == 0
}

func newContainer(root string, inst domain.Instance) *Container {
	now := time.Now()
	return &Container{
		root:      root,
		inst:      inst,
		startTime: now,
		lastUsed:  now,
	}
}

// Root returns the application root this container was spawned for.
func (c *Container) Root() string { return c.root }

// Stats returns a point-in-time snapshot for introspection. It takes no
// lock; callers needing a consistent read should go through Pool.Stats.
func (c *Container) Stats() domain.InstanceStats {
	return domain.InstanceStats{
		Root:      c.root,
		Sessions:  c.sessions,
		Processed: c.processed,
		StartedAt: c.startTime,
		LastUsed:  c.lastUsed,
		Idle:      c.sessions == 0,
	}
}

func (c *Container) detached() bool { return c.domElem == nil }
