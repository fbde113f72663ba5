package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"ok":true,"member_id":"m1"}`))
	})
	mux.HandleFunc("/services", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`[{"name":"web","service_group":"web.prod","running":true,"pid":42,"usage":{"pid":42,"memory_rss":1024}}]`))
	})
	mux.HandleFunc("/services/missing", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"service not found: missing"}`))
	})
	mux.HandleFunc("/services/web/history", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "3", r.URL.Query().Get("limit"))
		_, _ = w.Write([]byte(`[{"type":"start","service":"web.prod"}]`))
	})
	mux.HandleFunc("/census", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error":"census not built yet"}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestClient(t *testing.T) {
	srv := testServer(t)
	c := New(Config{BaseURL: srv.URL + "/"})
	ctx := context.Background()

	assert.True(t, c.IsReachable(ctx))
	h, err := c.Health(ctx)
	require.NoError(t, err)
	assert.Equal(t, "m1", h.MemberID)

	svcs, err := c.Services(ctx)
	require.NoError(t, err)
	require.Len(t, svcs, 1)
	assert.Equal(t, 42, svcs[0].PID)
	require.NotNil(t, svcs[0].Usage)
	assert.Equal(t, uint64(1024), svcs[0].Usage.RSS)

	_, err = c.Service(ctx, "missing")
	assert.True(t, errors.Is(err, ErrNotFound))

	events, err := c.History(ctx, "web", 3)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "start", events[0].Type)

	_, err = c.Census(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "census not built yet")
}

func TestClient_Unreachable(t *testing.T) {
	c := New(Config{BaseURL: "http://127.0.0.1:1"})
	assert.False(t, c.IsReachable(context.Background()))
}

func TestSetupClientTLS(t *testing.T) {
	cfg, err := setupClientTLS(Config{Insecure: true})
	require.NoError(t, err)
	assert.True(t, cfg.InsecureSkipVerify)

	_, err = setupClientTLS(Config{TLS: &TLSClientConfig{Enabled: true, CACert: "/nonexistent/ca.pem"}})
	assert.Error(t, err)
}
