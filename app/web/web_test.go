package web

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/umputun/wirecutter/app/queue"
	"github.com/umputun/wirecutter/app/store"
	"github.com/umputun/wirecutter/app/users"
)

// newTestQueue makes a queue service on a temporary sqlite database
func newTestQueue(t *testing.T) (*queue.Service, *store.Gateway) {
	t.Helper()
	gw, err := store.Open(t.Context(), store.Params{Name: "jobs", DSN: filepath.Join(t.TempDir(), "jobs.db"), PoolSize: 4})
	require.NoError(t, err)
	t.Cleanup(func() { _ = gw.Close() })
	require.NoError(t, gw.Migrate(t.Context(), queue.Schema))
	return queue.New(gw), gw
}

// newTestUsers makes a credential store on a temporary sqlite database
func newTestUsers(t *testing.T) *users.Store {
	t.Helper()
	gw, err := store.Open(t.Context(), store.Params{Name: "users", DSN: filepath.Join(t.TempDir(), "users.db"), PoolSize: 2})
	require.NoError(t, err)
	t.Cleanup(func() { _ = gw.Close() })
	require.NoError(t, gw.Migrate(t.Context(), users.Schema))
	return users.New(gw)
}

func newTestServer(t *testing.T, cfg Config) *httptest.Server {
	t.Helper()
	if cfg.Queue == nil {
		cfg.Queue, _ = newTestQueue(t)
	}
	srv, err := New(cfg)
	require.NoError(t, err)
	ts := httptest.NewServer(srv.routes())
	t.Cleanup(ts.Close)
	return ts
}

// doRequest sends a request with optional JSON body and basic auth, returns status and body
func doRequest(t *testing.T, method, url, body string, auth ...string) (int, string) {
	t.Helper()
	var rdr io.Reader = http.NoBody
	if body != "" {
		rdr = strings.NewReader(body)
	}
	req, err := http.NewRequestWithContext(t.Context(), method, url, rdr)
	require.NoError(t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if len(auth) == 2 {
		req.SetBasicAuth(auth[0], auth[1])
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(data)
}

func decodeBody[T any](t *testing.T, body string) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal([]byte(body), &v), body)
	return v
}

func TestNew(t *testing.T) {
	_, err := New(Config{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Queue is required")

	q, _ := newTestQueue(t)
	srv, err := New(Config{Queue: q, Version: "v1.0.0"})
	require.NoError(t, err)
	assert.Nil(t, srv.auth)
	assert.NoError(t, srv.health(t.Context()), "default health check passes")
}

func TestServer_Run(t *testing.T) {
	q, _ := newTestQueue(t)
	srv, err := New(Config{Queue: q, Version: "test"})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx, "127.0.0.1:0") }()
	cancel()
	require.NoError(t, <-done)
}

func TestServer_Middlewares(t *testing.T) {
	ts := newTestServer(t, Config{Version: "v1.2.3"})

	t.Run("ping", func(t *testing.T) {
		code, body := doRequest(t, http.MethodGet, ts.URL+"/ping", "")
		assert.Equal(t, http.StatusOK, code)
		assert.Equal(t, "pong", body)
	})

	t.Run("app info headers", func(t *testing.T) {
		resp, err := http.Get(ts.URL + "/api/v1/mcp101")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, "wirecutter", resp.Header.Get("App-Name"))
		assert.Equal(t, "v1.2.3", resp.Header.Get("App-Version"))
	})

	t.Run("unknown route", func(t *testing.T) {
		code, _ := doRequest(t, http.MethodGet, ts.URL+"/api/v1/nope", "")
		assert.Equal(t, http.StatusNotFound, code)
	})
}

func TestServer_Health(t *testing.T) {
	t.Run("healthy pools", func(t *testing.T) {
		_, gw := newTestQueue(t)
		ts := newTestServer(t, Config{Health: func(ctx context.Context) error { return store.Check(ctx, gw) }})
		code, body := doRequest(t, http.MethodGet, ts.URL+"/api/v1/health", "")
		assert.Equal(t, http.StatusOK, code)
		assert.JSONEq(t, `{"status":"ok"}`, body)
	})

	t.Run("closed pool", func(t *testing.T) {
		_, gw := newTestQueue(t)
		require.NoError(t, gw.Close())
		ts := newTestServer(t, Config{Health: func(ctx context.Context) error { return store.Check(ctx, gw) }})
		code, body := doRequest(t, http.MethodGet, ts.URL+"/api/v1/health", "")
		assert.Equal(t, http.StatusServiceUnavailable, code)
		resp := decodeBody[APIErrorResponse](t, body)
		assert.Equal(t, store.KindStorage, resp.Kind)
		assert.Contains(t, resp.Error, "jobs is not available")
	})
}

func TestServer_System(t *testing.T) {
	ts := newTestServer(t, Config{})
	code, body := doRequest(t, http.MethodGet, ts.URL+"/api/v1/system", "")
	require.Equal(t, http.StatusOK, code, body)
	resp := decodeBody[APISystemResponse](t, body)
	assert.GreaterOrEqual(t, resp.CPUPercent, 0.0)
	assert.LessOrEqual(t, resp.CPUPercent, 100.0)
	assert.Greater(t, resp.MemoryPercent, 0.0)
	assert.GreaterOrEqual(t, resp.DiskFreePercent, 0.0)
}

func TestServer_Schema(t *testing.T) {
	ts := newTestServer(t, Config{})

	tests := []struct {
		name     string
		contains []string
	}{
		{"job", []string{`"title"`, `"user"`, `"maxLength": 256`, "POST /api/v1/mcp101"}},
		{"job-update", []string{`"title"`, `"description"`}},
		{"rank-entry", []string{`"jobid"`, `"jobRank"`}},
		{"status-entry", []string{`"label"`, `"info"`}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, body := doRequest(t, http.MethodGet, ts.URL+"/api/v1/schema/"+tt.name, "")
			require.Equal(t, http.StatusOK, code)
			var pretty map[string]any
			require.NoError(t, json.Unmarshal([]byte(body), &pretty))
			out, err := json.MarshalIndent(pretty, "", "  ")
			require.NoError(t, err)
			for _, c := range tt.contains {
				assert.Contains(t, string(out), c)
			}
		})
	}

	t.Run("unknown schema", func(t *testing.T) {
		code, body := doRequest(t, http.MethodGet, ts.URL+"/api/v1/schema/blob", "")
		assert.Equal(t, http.StatusNotFound, code)
		assert.Contains(t, body, "job, job-update, rank-entry, status-entry")
	})
}
