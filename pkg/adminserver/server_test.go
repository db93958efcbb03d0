package adminserver

import (
	"bytes"
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pipeops/apppool/pkg/pool"
)

type fakeStatsSource struct{ stats pool.Stats }

func (f fakeStatsSource) Stats() pool.Stats { return f.stats }

type fakeController struct {
	maxCalls      []int
	maxPerApp     []int
	useGlobal     []bool
	shutdownCalls int
}

func (f *fakeController) SetMax(n int) error         { f.maxCalls = append(f.maxCalls, n); return nil }
func (f *fakeController) SetMaxPerApp(n int) error    { f.maxPerApp = append(f.maxPerApp, n); return nil }
func (f *fakeController) SetUseGlobalQueue(v bool)    { f.useGlobal = append(f.useGlobal, v) }
func (f *fakeController) SetMaxIdleTime(time.Duration) error   { return nil }
func (f *fakeController) SetCleanInterval(time.Duration) error { return nil }
func (f *fakeController) Shutdown(context.Context) error {
	f.shutdownCalls++
	return nil
}

func TestHealthzAndStats(t *testing.T) {
	stats := fakeStatsSource{stats: pool.Stats{Count: 2, Active: 1, Max: 10}}
	s := New(stats, nil, nil, nil)

	req := httptest.NewRequest("GET", "/healthz", nil)
	rec := httptest.NewRecorder()
	s.Router.ServeHTTP(rec, req)
	assert.Equal(t, 200, rec.Code)

	req = httptest.NewRequest("GET", "/stats", nil)
	rec = httptest.NewRecorder()
	s.Router.ServeHTTP(rec, req)
	assert.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), `"count":2`)
}

func TestControlSetMax(t *testing.T) {
	ctrl := &fakeController{}
	s := New(fakeStatsSource{}, ctrl, nil, nil)

	req := httptest.NewRequest("POST", "/control/max", bytes.NewBufferString(`{"value":5}`))
	rec := httptest.NewRecorder()
	s.Router.ServeHTTP(rec, req)

	require.Equal(t, 204, rec.Code)
	require.Len(t, ctrl.maxCalls, 1)
	assert.Equal(t, 5, ctrl.maxCalls[0])
}

func TestControlWithoutControllerOmitsRoutes(t *testing.T) {
	s := New(fakeStatsSource{}, nil, nil, nil)

	req := httptest.NewRequest("POST", "/control/max", bytes.NewBufferString(`{"value":5}`))
	rec := httptest.NewRecorder()
	s.Router.ServeHTTP(rec, req)
	assert.Equal(t, 404, rec.Code)
}
