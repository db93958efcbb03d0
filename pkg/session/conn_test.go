package session

import (
	"context"
	"encoding/json"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func listenUnix(t *testing.T) (net.Listener, string) {
	t.Helper()
	dir, err := os.MkdirTemp("", "apppool-session-test-*")
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.RemoveAll(dir) })
	socketPath := filepath.Join(dir, "test.sock")
	l, err := net.Listen("unix", socketPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	return l, socketPath
}

func TestCallRoundTrip(t *testing.T) {
	l, socketPath := listenUnix(t)

	go func() {
		conn, err := l.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		dec := json.NewDecoder(conn)
		enc := json.NewEncoder(conn)
		var req Request
		if err := dec.Decode(&req); err != nil {
			return
		}
		_ = enc.Encode(Response{ID: req.ID, Result: json.RawMessage(`{"ok":true}`)})
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	conn, err := Dial(ctx, socketPath)
	require.NoError(t, err)
	defer conn.Close()

	resp, err := conn.Call(ctx, "ping", nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(resp.Result))
}

func TestCallSurfacesServerError(t *testing.T) {
	l, socketPath := listenUnix(t)

	go func() {
		conn, err := l.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		dec := json.NewDecoder(conn)
		enc := json.NewEncoder(conn)
		var req Request
		if err := dec.Decode(&req); err != nil {
			return
		}
		_ = enc.Encode(Response{ID: req.ID, Error: &ResponseError{Code: 42, Message: "boom"}})
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	conn, err := Dial(ctx, socketPath)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Call(ctx, "ping", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}

func TestCallDetectsIDMismatch(t *testing.T) {
	l, socketPath := listenUnix(t)

	go func() {
		conn, err := l.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		dec := json.NewDecoder(conn)
		enc := json.NewEncoder(conn)
		var req Request
		if err := dec.Decode(&req); err != nil {
			return
		}
		_ = enc.Encode(Response{ID: req.ID + 1})
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	conn, err := Dial(ctx, socketPath)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Call(ctx, "ping", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mismatch")
}

func TestDialFailsWhenNothingListening(t *testing.T) {
	dir, err := os.MkdirTemp("", "apppool-session-test-*")
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.RemoveAll(dir) })

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err = Dial(ctx, filepath.Join(dir, "missing.sock"))
	require.Error(t, err)
}

func TestCloseIsIdempotent(t *testing.T) {
	l, socketPath := listenUnix(t)
	go func() {
		conn, err := l.Accept()
		if err == nil {
			defer conn.Close()
			buf := make([]byte, 1)
			_, _ = conn.Read(buf)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	conn, err := Dial(ctx, socketPath)
	require.NoError(t, err)

	require.NoError(t, conn.Close())
	require.NoError(t, conn.Close())
}
