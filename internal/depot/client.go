// Package depot talks to the remote package depot over HTTP.
package depot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/loykin/fleetsup/internal/artifact"
	"github.com/loykin/fleetsup/internal/pkgs"
)

// ErrNotFound is returned when the depot has no matching package.
var ErrNotFound = errors.New("depot: package not found")

const DefaultTimeout = 30 * time.Second

type Config struct {
	URL     string
	Timeout time.Duration
}

// Client is a depot API client.
type Client struct {
	baseURL string
	client  *http.Client
}

// New validates the depot URL and returns a client.
func New(cfg Config) (*Client, error) {
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("depot: invalid url %q: %w", cfg.URL, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("depot: invalid url %q: need http(s)://host", cfg.URL)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.URL, "/"),
		client:  &http.Client{Timeout: cfg.Timeout},
	}, nil
}

func (c *Client) pkgURL(id pkgs.Ident, suffix string) string {
	parts := []string{c.baseURL, "pkgs", url.PathEscape(id.Origin), url.PathEscape(id.Name)}
	if id.Version != "" {
		parts = append(parts, url.PathEscape(id.Version))
		if id.Release != "" {
			parts = append(parts, url.PathEscape(id.Release))
		}
	}
	if suffix != "" {
		parts = append(parts, suffix)
	}
	return strings.Join(parts, "/")
}

// ShowPackage returns the newest fully qualified ident satisfying id.
func (c *Client) ShowPackage(ctx context.Context, id pkgs.Ident) (pkgs.Ident, error) {
	suffix := "latest"
	if id.FullyQualified() {
		suffix = ""
	}
	resp, err := c.get(ctx, c.pkgURL(id, suffix))
	if err != nil {
		return pkgs.Ident{}, err
	}
	defer func() { _ = resp.Body.Close() }()
	var out pkgs.Ident
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return pkgs.Ident{}, fmt.Errorf("depot: decode %s: %w", id, err)
	}
	if !out.FullyQualified() || !out.Satisfies(id) {
		return pkgs.Ident{}, fmt.Errorf("depot: %s answered with unexpected ident %s", id, out)
	}
	return out, nil
}

// FetchPackage downloads the archive for a fully qualified id into dir.
func (c *Client) FetchPackage(ctx context.Context, id pkgs.Ident, dir string) (*artifact.Archive, error) {
	if !id.FullyQualified() {
		return nil, fmt.Errorf("depot: fetch needs a fully qualified ident, got %s", id)
	}
	resp, err := c.get(ctx, c.pkgURL(id, "download"))
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	name := fmt.Sprintf("%s-%s-%s-%s.fsa", id.Origin, id.Name, id.Version, id.Release)
	tmp, err := os.CreateTemp(dir, name+".*.part")
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(tmp, resp.Body); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return nil, fmt.Errorf("depot: download %s: %w", id, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return nil, err
	}
	dst := filepath.Join(dir, name)
	if err := os.Rename(tmp.Name(), dst); err != nil {
		_ = os.Remove(tmp.Name())
		return nil, err
	}
	return &artifact.Archive{Path: dst, Ident: id}, nil
}

func (c *Client) get(ctx context.Context, u string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("depot: GET %s: %w", u, err)
	}
	switch {
	case resp.StatusCode == http.StatusNotFound:
		_ = resp.Body.Close()
		return nil, fmt.Errorf("%w: %s", ErrNotFound, u)
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		_ = resp.Body.Close()
		return nil, fmt.Errorf("depot: GET %s: %s: %s", u, resp.Status, strings.TrimSpace(string(body)))
	}
	return resp, nil
}
