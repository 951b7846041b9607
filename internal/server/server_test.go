package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/ats-sync/internal/db/memdb"
	"github.com/jonathan/ats-sync/internal/jobs"
	"github.com/jonathan/ats-sync/internal/syncer"
)

type fakeTriggers struct {
	mu        sync.Mutex
	triggered []string
	last      map[string]*jobs.Report
}

func (f *fakeTriggers) Trigger(job string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if job != jobs.JobPoll && job != jobs.JobBackfill {
		return fmt.Errorf("%w: %q", jobs.ErrUnknownJob, job)
	}
	f.triggered = append(f.triggered, job)
	return nil
}

func (f *fakeTriggers) LastRun(job string) *jobs.Report {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.last[job]
}

type fakePinger struct{ err error }

func (p fakePinger) Ping(context.Context) error { return p.err }

func newTestServer(t *testing.T, cfg Config, pinger Pinger) (*Server, *memdb.Store, *fakeTriggers) {
	t.Helper()
	store := memdb.New()
	triggers := &fakeTriggers{last: map[string]*jobs.Report{}}
	return New(cfg, store, triggers, pinger), store, triggers
}

func do(t *testing.T, h http.Handler, method, path, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	req.RemoteAddr = "192.0.2.10:5555"
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestHealth(t *testing.T) {
	tests := []struct {
		name     string
		pinger   Pinger
		status   int
		want     string
		database string
	}{
		{name: "no database check", pinger: nil, status: http.StatusOK, want: "ok"},
		{name: "database reachable", pinger: fakePinger{}, status: http.StatusOK, want: "ok", database: "ok"},
		{name: "database down", pinger: fakePinger{err: errors.New("refused")}, status: http.StatusServiceUnavailable, want: "degraded", database: "unreachable"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _, _ := newTestServer(t, Config{}, tt.pinger)
			w := do(t, s.Handler(), http.MethodGet, "/healthz", "")
			assert.Equal(t, tt.status, w.Code)
			assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

			resp := decode[HealthResponse](t, w)
			assert.Equal(t, tt.want, resp.Status)
			assert.Equal(t, tt.database, resp.Database)
		})
	}
}

func TestMetrics(t *testing.T) {
	s, _, _ := newTestServer(t, Config{}, nil)
	w := do(t, s.Handler(), http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "go_goroutines")
}

func TestSyncStates(t *testing.T) {
	s, store, _ := newTestServer(t, Config{}, nil)

	w := do(t, s.Handler(), http.MethodGet, "/sync-states", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"states":[]}`, w.Body.String())

	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	_, err := store.AdvanceSyncState(context.Background(), "jobs", at)
	require.NoError(t, err)

	w = do(t, s.Handler(), http.MethodGet, "/sync-states", "")
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode[SyncStatesResponse](t, w)
	require.Len(t, resp.States, 1)
	assert.Equal(t, "jobs", resp.States[0].Resource)
	require.NotNil(t, resp.States[0].LastSyncedAt)
	assert.True(t, at.Equal(*resp.States[0].LastSyncedAt))
}

func TestTrigger(t *testing.T) {
	s, _, triggers := newTestServer(t, Config{}, nil)

	w := do(t, s.Handler(), http.MethodPost, "/sync/poll", "")
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, TriggerResponse{Job: "poll", Status: "queued"}, decode[TriggerResponse](t, w))
	assert.Equal(t, []string{"poll"}, triggers.triggered)
}

func TestTrigger_UnknownJob(t *testing.T) {
	s, _, _ := newTestServer(t, Config{}, nil)
	w := do(t, s.Handler(), http.MethodPost, "/sync/reindex", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, decode[map[string]string](t, w)["error"], "unknown job")
}

func TestTrigger_RequiresToken(t *testing.T) {
	s, _, triggers := newTestServer(t, Config{AdminToken: "s3cret"}, nil)

	w := do(t, s.Handler(), http.MethodPost, "/sync/poll", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	w = do(t, s.Handler(), http.MethodPost, "/sync/poll", "wrong")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Empty(t, triggers.triggered)

	w = do(t, s.Handler(), http.MethodPost, "/sync/poll", "s3cret")
	assert.Equal(t, http.StatusAccepted, w.Code)

	w = do(t, s.Handler(), http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, w.Code, "read endpoints stay open")
}

func TestTrigger_RateLimited(t *testing.T) {
	s, _, triggers := newTestServer(t, Config{TriggersPerMinute: 1}, nil)

	assert.Equal(t, http.StatusAccepted, do(t, s.Handler(), http.MethodPost, "/sync/poll", "").Code)
	w := do(t, s.Handler(), http.MethodPost, "/sync/backfill", "")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
	assert.Equal(t, []string{"poll"}, triggers.triggered)
}

func TestJobStatus(t *testing.T) {
	s, _, triggers := newTestServer(t, Config{}, nil)

	w := do(t, s.Handler(), http.MethodGet, "/sync/poll", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, JobStatusResponse{Job: "poll"}, decode[JobStatusResponse](t, w))

	wm := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	triggers.last[jobs.JobPoll] = &jobs.Report{
		Job: jobs.JobPoll, RunID: "run-1", Ran: true, Attempts: 2, Duration: 3 * time.Second,
		Results: []*syncer.Result{{Resource: "jobs", Pages: 2, Processed: 40, Stopped: true, Watermark: &wm}},
	}
	triggers.last[jobs.JobDesyncCheck] = &jobs.Report{
		Job: jobs.JobDesyncCheck, Ran: true, Attempts: 1,
		Batch: &syncer.BatchResult{Checked: 5, FullySynced: 4, Answers: 9, Skipped: 1},
	}

	w = do(t, s.Handler(), http.MethodGet, "/sync/poll", "")
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode[JobStatusResponse](t, w)
	assert.Equal(t, "run-1", resp.RunID)
	assert.Equal(t, 2, resp.Attempts)
	assert.Equal(t, "3s", resp.Duration)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, 40, resp.Results[0].Processed)
	assert.True(t, resp.Results[0].Stopped)
	require.NotNil(t, resp.Results[0].Watermark)
	assert.True(t, wm.Equal(*resp.Results[0].Watermark))

	w = do(t, s.Handler(), http.MethodGet, "/sync/desync-check", "")
	resp = decode[JobStatusResponse](t, w)
	require.NotNil(t, resp.Batch)
	assert.Equal(t, BatchResponse{Checked: 5, FullySynced: 4, Answers: 9, Skipped: 1}, *resp.Batch)

	w = do(t, s.Handler(), http.MethodGet, "/sync/reindex", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestServe_ShutsDownOnCancel(t *testing.T) {
	s, _, _ := newTestServer(t, Config{ShutdownTimeout: time.Second}, nil)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.serve(ctx, ln) }()

	url := "http://" + ln.Addr().String() + "/healthz"
	require.Eventually(t, func() bool {
		resp, err := http.Get(url)
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(3 * time.Second):
		t.Fatal("server did not stop")
	}
	assert.Equal(t, "admin-server", s.String())
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "unknown job", err: fmt.Errorf("%w: %q", jobs.ErrUnknownJob, "x"), want: http.StatusNotFound},
		{name: "other", err: assert.AnError, want: http.StatusInternalServerError},
		{name: "nil", err: nil, want: http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, HTTPStatus(tt.err))
		})
	}
}

func TestServe_BadAddress(t *testing.T) {
	s, _, _ := newTestServer(t, Config{Addr: "not-an-address"}, nil)
	err := s.Serve(context.Background())
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "failed to listen"))
}
