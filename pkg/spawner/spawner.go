// Package spawner provides a concrete, process-based domain.Spawner: one
// OS worker process per Instance, tracked in a map under a mutex. It is a
// reference implementation, not part of the pool's contract — pool.Pool
// depends only on domain.Spawner.
package spawner

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/pipeops/apppool/pkg/domain"
	"github.com/pipeops/apppool/pkg/session"
)

// Config controls how ProcessSpawner starts worker processes.
type Config struct {
	// Command is the executable launched for every application root.
	Command string
	// Args are passed to Command unchanged. The application root and the
	// socket path reach the worker only through the environment variables
	// APPPOOL_APP_ROOT and APPPOOL_SOCKET_PATH, never through argv.
	Args []string
	// StartupTimeout bounds how long Spawn waits for the worker's socket
	// to appear.
	StartupTimeout time.Duration
	// ShutdownGrace bounds how long Dispose waits after SIGTERM before
	// escalating to SIGKILL.
	ShutdownGrace time.Duration
}

func (cfg Config) withDefaults() Config {
	if cfg.StartupTimeout <= 0 {
		cfg.StartupTimeout = 10 * time.Second
	}
	if cfg.ShutdownGrace <= 0 {
		cfg.ShutdownGrace = 5 * time.Second
	}
	return cfg
}

// ProcessSpawner implements domain.Spawner by launching one long-lived
// worker process per Instance.
type ProcessSpawner struct {
	mu      sync.RWMutex
	cfg     Config
	log     logrus.FieldLogger
	running map[string]*procHandle // keyed by instance ID
}

// New builds a ProcessSpawner. log may be nil.
func New(cfg Config, log logrus.FieldLogger) *ProcessSpawner {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &ProcessSpawner{
		cfg:     cfg.withDefaults(),
		log:     log.WithField("component", "spawner"),
		running: make(map[string]*procHandle),
	}
}

type procHandle struct {
	id         string
	root       string
	socketPath string
	cmd        *exec.Cmd
}

// Spawn starts a new worker process for appRoot and waits for its socket to
// appear.
func (s *ProcessSpawner) Spawn(ctx context.Context, appRoot string) (domain.Instance, error) {
	id := uuid.NewString()
	runtimeDir := filepath.Join(appRoot, "tmp", "sockets")
	if err := os.MkdirAll(runtimeDir, 0o755); err != nil {
		return nil, fmt.Errorf("create socket dir: %w", err)
	}
	socketPath := filepath.Join(runtimeDir, id+".sock")

	cmd := exec.Command(s.cfg.Command, s.cfg.Args...)
	cmd.Dir = appRoot
	cmd.Env = append(os.Environ(),
		"APPPOOL_APP_ROOT="+appRoot,
		"APPPOOL_SOCKET_PATH="+socketPath,
	)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	s.log.WithFields(logrus.Fields{"app_root": appRoot, "instance_id": id}).Info("spawning worker process")
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start worker for %s: %w", appRoot, err)
	}

	if err := waitForSocket(ctx, socketPath, s.cfg.StartupTimeout); err != nil {
		_ = cmd.Process.Kill()
		_, _ = cmd.Process.Wait()
		return nil, fmt.Errorf("worker for %s did not become ready: %w", appRoot, err)
	}

	h := &procHandle{id: id, root: appRoot, socketPath: socketPath, cmd: cmd}
	s.mu.Lock()
	s.running[id] = h
	s.mu.Unlock()

	go s.reap(h)

	return &processInstance{spawner: s, handle: h}, nil
}

// reap waits on the child so it never becomes a zombie, logging unexpected
// exits. It does not remove the tracking entry — Dispose owns that so a
// crashed-but-not-yet-disposed Instance is still discoverable.
func (s *ProcessSpawner) reap(h *procHandle) {
	err := h.cmd.Wait()
	if err != nil {
		s.log.WithFields(logrus.Fields{"app_root": h.root, "instance_id": h.id}).WithError(err).
			Warn("worker process exited unexpectedly")
	}
}

// Reload is invoked when a restart purge fires for appRoot. ProcessSpawner
// has nothing persistent to reload beyond the processes Dispose already
// tears down, so this is a no-op hook for implementations that keep a
// warm build cache or similar per-root state.
func (s *ProcessSpawner) Reload(ctx context.Context, appRoot string) error {
	s.log.WithField("app_root", appRoot).Debug("reload requested")
	return nil
}

func (s *ProcessSpawner) dispose(ctx context.Context, h *procHandle) error {
	s.mu.Lock()
	delete(s.running, h.id)
	s.mu.Unlock()

	if h.cmd.Process == nil {
		return nil
	}

	_ = h.cmd.Process.Signal(syscall.SIGTERM)

	done := make(chan struct{})
	go func() {
		_, _ = h.cmd.Process.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(s.cfg.ShutdownGrace):
		_ = h.cmd.Process.Kill()
		<-done
	case <-ctx.Done():
		_ = h.cmd.Process.Kill()
		<-done
	}

	_ = os.Remove(h.socketPath)
	return nil
}

func waitForSocket(ctx context.Context, path string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()

	for {
		if _, err := os.Stat(path); err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// processInstance implements domain.Instance for a ProcessSpawner worker.
type processInstance struct {
	spawner *ProcessSpawner
	handle  *procHandle
}

func (i *processInstance) Connect(ctx context.Context) (domain.Session, error) {
	return session.Dial(ctx, i.handle.socketPath)
}

func (i *processInstance) Dispose(ctx context.Context) error {
	return i.spawner.dispose(ctx, i.handle)
}

func (i *processInstance) Root() string { return i.handle.root }
