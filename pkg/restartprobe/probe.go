// Package restartprobe implements the per-application restart trigger: a
// sentinel file whose appearance, or whose mtime change when it cannot be
// removed, signals that a Domain should be purged and its code reloaded.
package restartprobe

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

const sentinelPath = "tmp/restart.txt"

// Probe tracks the last observed trigger mtime per application root. It
// implements domain.RestartProbe.
type Probe struct {
	mu  sync.Mutex
	seen map[string]time.Time
	log logrus.FieldLogger
}

// New builds a Probe. log may be nil.
func New(log logrus.FieldLogger) *Probe {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Probe{
		seen: make(map[string]time.Time),
		log:  log.WithField("component", "restart-probe"),
	}
}

// NeedsRestart implements the delete-on-observe / mtime-fallback algorithm:
// stat the sentinel; if absent, forget any record and report no restart;
// if present, try to delete it — success (or a vanished-meanwhile race)
// reports a restart and clears the record; if it cannot be deleted, fall
// back to comparing mtimes, reporting a restart on first observation or on
// any change, and always refreshing the recorded mtime.
func (p *Probe) NeedsRestart(appRoot string) bool {
	path := filepath.Join(appRoot, sentinelPath)
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			p.mu.Lock()
			delete(p.seen, appRoot)
			p.mu.Unlock()
			return false
		}
		p.log.WithField("app_root", appRoot).WithError(err).Warn("stat restart sentinel failed")
		return false
	}

	if err := os.Remove(path); err == nil || os.IsNotExist(err) {
		p.mu.Lock()
		delete(p.seen, appRoot)
		p.mu.Unlock()
		return true
	}

	mtime := info.ModTime()
	p.mu.Lock()
	defer p.mu.Unlock()
	prev, ok := p.seen[appRoot]
	p.seen[appRoot] = mtime
	if !ok {
		return true
	}
	return !mtime.Equal(prev)
}

// Forget drops any recorded state for appRoot, called when its Domain is
// destroyed so the restart table never outlives its Domain.
func (p *Probe) Forget(appRoot string) {
	p.mu.Lock()
	delete(p.seen, appRoot)
	p.mu.Unlock()
}
