package manager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	clocks "github.com/vimeo/go-clocks"

	"github.com/loykin/fleetsup/internal/artifact"
	"github.com/loykin/fleetsup/internal/depot"
	"github.com/loykin/fleetsup/internal/pkgs"
)

// Depot is the part of the depot API the update checker uses.
type Depot interface {
	ShowPackage(ctx context.Context, id pkgs.Ident) (pkgs.Ident, error)
	FetchPackage(ctx context.Context, id pkgs.Ident, dir string) (*artifact.Archive, error)
}

// DepotFactory builds a depot client for url. It is called once per check.
type DepotFactory func(url string) (Depot, error)

func defaultDepot(url string) (Depot, error) {
	c, err := depot.New(depot.Config{URL: url})
	if err != nil {
		return nil, err
	}
	return c, nil
}

// updateChecker polls the depot for releases newer than current and hands
// each one, installed and loaded, to the service over an unbuffered channel.
type updateChecker struct {
	service       string
	track         pkgs.Ident
	current       pkgs.Ident
	url           string
	interval      time.Duration
	fsRoot        string
	keyCache      string
	artifactCache string
	newDepot      DepotFactory
	clock         clocks.Clock
}

// runUpdateChecker starts c and returns the receiving end. The channel is
// closed when the checker exits.
func runUpdateChecker(ctx context.Context, c *updateChecker) <-chan *pkgs.Package {
	ch := make(chan *pkgs.Package)
	go c.run(ctx, ch)
	return ch
}

func (c *updateChecker) run(ctx context.Context, out chan<- *pkgs.Package) {
	defer close(out)
	for {
		next := c.clock.Now().Add(c.interval)
		pkg, err := c.check(ctx)
		switch {
		case errors.Is(err, ErrInvalidPort):
			slog.Warn("Newer package rejected", "service", c.service, "track", c.track.String(), "error", err)
		case err != nil:
			slog.Debug("Update check failed", "service", c.service, "track", c.track.String(), "error", err)
		}
		if pkg != nil {
			select {
			case out <- pkg:
				slog.Info("Update handed off", "service", c.service, "from", c.current.String(), "to", pkg.Ident.String())
				c.current = pkg.Ident
			case <-ctx.Done():
				slog.Warn("Update hand-off abandoned, checker exiting", "service", c.service, "package", pkg.Ident.String(), "error", ctx.Err())
				return
			}
		}
		if !c.clock.SleepUntil(ctx, next) {
			return
		}
	}
}

// check returns the newer package, nil when nothing newer exists, or an
// error for a failure worth retrying next cycle.
func (c *updateChecker) check(ctx context.Context) (*pkgs.Package, error) {
	d, err := c.newDepot(c.url)
	if err != nil {
		return nil, fmt.Errorf("depot client: %w", err)
	}
	latest, err := d.ShowPackage(ctx, c.track)
	if err != nil {
		return nil, err
	}
	if !latest.Newer(c.current) {
		slog.Debug("Package found is not newer than ours", "service", c.service, "latest", latest.String(), "current", c.current.String())
		return nil, nil
	}
	archive, err := d.FetchPackage(ctx, latest, c.artifactCache)
	if err != nil {
		return nil, err
	}
	if err := archive.Verify(c.keyCache); err != nil {
		return nil, err
	}
	if err := archive.Unpack(c.fsRoot); err != nil {
		return nil, fmt.Errorf("unpack %s: %w", latest, err)
	}
	pkg, err := pkgs.Load(latest, c.fsRoot)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", latest, err)
	}
	// a release the service cannot advertise is not handed off, so it is
	// checked again next cycle instead of being skipped for good
	if _, err := parseExposes(pkg.Exposes); err != nil {
		return nil, fmt.Errorf("load %s: %w", latest, err)
	}
	return pkg, nil
}
