package pool

import "container/list"

// appDomain is the per-application-root aggregate: the ordered list of its
// Containers (inactive ones at the head, active ones behind them — invariant 3),
// the domain's own size counter, and the request cap seeded from the first
// caller to create it.
type appDomain struct {
	root        string
	containers  *list.List // of *Container
	size        int
	maxRequests uint64
}

func newAppDomain(root string, maxRequests uint64) *appDomain {
	return &appDomain{
		root:        root,
		containers:  list.New(),
		maxRequests: maxRequests,
	}
}

// pushActive appends c to the tail of the domain list, the position any
// freshly spawned or recently-active container takes.
func (d *appDomain) pushActive(c *Container) {
	c.domElem = d.containers.PushBack(c)
	c.domain = d
	d.size++
}

// moveToHead relocates c to the front of the domain list, the position a
// container takes the instant it goes idle, keeping inactive-before-active
// ordering intact.
func (d *appDomain) moveToHead(c *Container) {
	d.containers.MoveToFront(c.domElem)
}

// moveToTail relocates c to the back of the domain list: used both when an
// idle container is picked for reuse (it becomes the most-recently-active)
// and when an already-active container absorbs overflow.
func (d *appDomain) moveToTail(c *Container) {
	d.containers.MoveToBack(c.domElem)
}

// front returns the head container, the best candidate to reuse idle, or
// nil if the domain is empty.
func (d *appDomain) front() *Container {
	e := d.containers.Front()
	if e == nil {
		return nil
	}
	return e.Value.(*Container)
}

// leastLoaded scans front-to-back for the container with the smallest
// session count, the first one encountered winning ties, per the overflow
// victim rule in the acquisition decision tree.
func (d *appDomain) leastLoaded() *Container {
	var best *Container
	for e := d.containers.Front(); e != nil; e = e.Next() {
		c := e.Value.(*Container)
		if best == nil || c.sessions < best.sessions {
			best = c
		}
	}
	return best
}

// detach removes c from the domain list and clears its domain cursor. The
// caller is responsible for any Idle Registry and counter bookkeeping.
func (d *appDomain) detach(c *Container) {
	d.containers.Remove(c.domElem)
	c.domElem = nil
	c.domain = nil
	d.size--
}

func (d *appDomain) empty() bool { return d.size == 0 }
