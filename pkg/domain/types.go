// Package domain defines the core domain model shared by the pool core and
// its collaborators: the spawned worker process, the session it hands back,
// and the few value types that cross that boundary.
package domain

import (
	"context"
	"time"
)

// Session is a single client<->instance conversation. It is opaque to the
// pool: once returned from Get, the pool never calls a method on it again.
// Its lifetime ends when the caller invokes Pool.Release.
type Session interface {
	// Close tears down the underlying transport. Callers should call this
	// before or as part of releasing the session back to the pool.
	Close() error
}

// Instance is the live handle to one spawned application worker. A Container
// owns exactly one Instance for its entire lifetime.
type Instance interface {
	// Connect opens a new Session against the running instance. A failure
	// here is reported to the caller as a ConnectError.
	Connect(ctx context.Context) (Session, error)

	// Dispose tears the instance down. Called at most once, when the owning
	// Container is retired, evicted, crashed, or swept.
	Dispose(ctx context.Context) error

	// Root returns the application root this instance was spawned for.
	Root() string
}

// Spawner creates and reloads application instances. It is the pool's sole
// external collaborator for process lifecycle — the pool core never starts
// or stops a process itself, it only depends on this interface.
// Implementations must be safe for concurrent use.
type Spawner interface {
	// Spawn starts a new instance for app_root. May take arbitrary time;
	// the pool calls this without holding its lock.
	Spawn(ctx context.Context, appRoot string) (Instance, error)

	// Reload is invoked when the restart probe detects a trigger for
	// app_root, after the pool has purged the stale domain. Best-effort:
	// its error is logged, never surfaced to callers of Get.
	Reload(ctx context.Context, appRoot string) error
}

// RestartProbe reports whether an application root's code should be
// reloaded, using a delete-on-observe sentinel file with an mtime fallback.
type RestartProbe interface {
	// NeedsRestart returns true at most once per observed trigger event
	// when the sentinel file can be deleted, and on every mtime change
	// when it cannot.
	NeedsRestart(appRoot string) bool

	// Forget drops any recorded state for appRoot, called when its Domain
	// is destroyed so the restart table never outlives its Domain.
	Forget(appRoot string)
}

// GetOptions configures an acquisition. Only MaxRequests is meaningful today
// and only on the first Get that creates a Domain for a given app root —
// later callers' MaxRequests are ignored until the Domain is destroyed.
type GetOptions struct {
	MaxRequests uint64
}

// InstanceStats is a point-in-time snapshot of a single container, used by
// the admin surface and tests; it has no bearing on pool decisions.
type InstanceStats struct {
	Root      string
	Sessions  int
	Processed uint64
	StartedAt time.Time
	LastUsed  time.Time
	Idle      bool
}
