package pool

import "container/list"

// idleRegistry is the pool-wide sequence of every Container whose session
// count is zero, ordered by idle time ascending (oldest at the front). It
// holds weak back-references only — the owning Domain is the sole owner of
// the Container, the registry just indexes it for O(1) eviction.
type idleRegistry struct {
	list *list.List // of *Container
}

func newIdleRegistry() idleRegistry {
	return idleRegistry{list: list.New()}
}

// pushBack records c as newly idle. c must not already be in the registry.
func (r *idleRegistry) pushBack(c *Container) {
	c.idleElem = r.list.PushBack(c)
}

// remove drops c from the registry; a no-op if c is not currently idle.
func (r *idleRegistry) remove(c *Container) {
	if c.idleElem == nil {
		return
	}
	r.list.Remove(c.idleElem)
	c.idleElem = nil
}

// popFront removes and returns the longest-idle Container, the LRU victim
// for cross-root eviction, or nil if the registry is empty.
func (r *idleRegistry) popFront() *Container {
	e := r.list.Front()
	if e == nil {
		return nil
	}
	c := e.Value.(*Container)
	r.list.Remove(e)
	c.idleElem = nil
	return c
}

func (r *idleRegistry) len() int { return r.list.Len() }

// oldestFirst returns idle containers oldest-first, for the sweeper.
func (r *idleRegistry) oldestFirst() []*Container {
	out := make([]*Container, 0, r.list.Len())
	for e := r.list.Front(); e != nil; e = e.Next() {
		out = append(out, e.Value.(*Container))
	}
	return out
}
