package depot

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/fleetsup/internal/pkgs"
)

func depotServer(t *testing.T) *httptest.Server {
	t.Helper()
	latest := pkgs.Ident{Origin: "core", Name: "web", Version: "1.2.0", Release: "20240101000000"}
	mux := http.NewServeMux()
	mux.HandleFunc("/pkgs/core/web/latest", func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(latest)
	})
	mux.HandleFunc("/pkgs/core/web/1.2.0/20240101000000/download", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("archive-bytes"))
	})
	mux.HandleFunc("/pkgs/core/broken/latest", func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestNew_ValidatesURL(t *testing.T) {
	for _, u := range []string{"", "ftp://depot", "http://", "::"} {
		_, err := New(Config{URL: u})
		assert.Error(t, err, u)
	}
	c, err := New(Config{URL: "https://depot.example.com/v1/"})
	require.NoError(t, err)
	assert.Equal(t, "https://depot.example.com/v1", c.baseURL)
}

func TestShowPackage(t *testing.T) {
	srv := depotServer(t)
	c, err := New(Config{URL: srv.URL})
	require.NoError(t, err)

	got, err := c.ShowPackage(context.Background(), pkgs.Ident{Origin: "core", Name: "web"})
	require.NoError(t, err)
	assert.Equal(t, "core/web/1.2.0/20240101000000", got.String())

	_, err = c.ShowPackage(context.Background(), pkgs.Ident{Origin: "core", Name: "missing"})
	assert.True(t, errors.Is(err, ErrNotFound))

	_, err = c.ShowPackage(context.Background(), pkgs.Ident{Origin: "core", Name: "broken"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")
}

func TestFetchPackage(t *testing.T) {
	srv := depotServer(t)
	c, err := New(Config{URL: srv.URL})
	require.NoError(t, err)
	dir := t.TempDir()
	id := pkgs.Ident{Origin: "core", Name: "web", Version: "1.2.0", Release: "20240101000000"}

	a, err := c.FetchPackage(context.Background(), id, dir)
	require.NoError(t, err)
	assert.Equal(t, id, a.Ident)
	assert.Equal(t, filepath.Join(dir, "core-web-1.2.0-20240101000000.fsa"), a.Path)
	b, err := os.ReadFile(a.Path)
	require.NoError(t, err)
	assert.Equal(t, "archive-bytes", string(b))

	_, err = c.FetchPackage(context.Background(), pkgs.Ident{Origin: "core", Name: "web"}, dir)
	assert.Error(t, err)

	id.Release = "1"
	_, err = c.FetchPackage(context.Background(), id, dir)
	assert.True(t, errors.Is(err, ErrNotFound))
	entries, _ := os.ReadDir(dir)
	assert.Len(t, entries, 1, "failed fetches leave no partial files")
}
