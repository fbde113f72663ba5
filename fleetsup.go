// Package fleetsup embeds the supervisor agent: load a config, build an
// Agent, Run it until shutdown.
package fleetsup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/loykin/fleetsup/internal/config"
	"github.com/loykin/fleetsup/internal/history"
	"github.com/loykin/fleetsup/internal/manager"
	"github.com/loykin/fleetsup/internal/metrics"
	"github.com/loykin/fleetsup/internal/pkgs"
	iapi "github.com/loykin/fleetsup/internal/server"
	"github.com/loykin/fleetsup/internal/topology"
)

// Version is overridden at build time with -ldflags.
var Version = "dev"

type Config = config.Config

type ServiceConfig = config.ServiceConfig

type Option = manager.Option

type Status = manager.Status

func LoadConfig(path string) (*Config, error) { return config.Load(path) }

// Agent is a supervisor built from a Config: the manager plus its optional
// history sink, status API and metrics endpoint.
type Agent struct {
	cfg  *Config
	mgr  *manager.Manager
	hist *history.SQLSink
}

// NewAgent acquires the supervisor lock and adds every configured service.
// Services must already be installed under fs_root.
func NewAgent(c *Config, opts ...Option) (*Agent, error) {
	a := &Agent{cfg: c}
	if c.History.DSN != "" {
		sink, err := history.NewSQLSinkFromDSN(c.History.DSN)
		if err != nil {
			return nil, fmt.Errorf("history: %w", err)
		}
		a.hist = sink
		opts = append([]Option{manager.WithHistory(sink)}, opts...)
	}
	mgr, err := manager.New(c, opts...)
	if err != nil {
		a.closeHistory()
		return nil, err
	}
	a.mgr = mgr
	for i, sc := range c.Services {
		if err := a.addService(sc); err != nil {
			_ = a.Close()
			return nil, fmt.Errorf("services[%d] %s: %w", i, sc.Ident, err)
		}
	}
	return a, nil
}

func (a *Agent) addService(sc ServiceConfig) error {
	id, err := pkgs.ParseIdent(sc.Ident)
	if err != nil {
		return err
	}
	pkg, err := pkgs.Load(id, a.cfg.FSRoot)
	if err != nil {
		return err
	}
	topo, err := topology.Parse(sc.Topology)
	if err != nil {
		return err
	}
	strategy, err := manager.ParseUpdateStrategy(a.cfg.StrategyFor(sc))
	if err != nil {
		return err
	}
	return a.mgr.AddService(pkg, topo, strategy,
		manager.WithGroup(a.cfg.GroupFor(sc)),
		manager.WithBinds(sc.Binds...),
		manager.WithServiceEnv(sc.Env...),
		manager.WithTrack(pkgs.Ident{Origin: id.Origin, Name: id.Name, Version: id.Version}),
	)
}

// Manager returns the underlying manager.
func (a *Agent) Manager() *manager.Manager { return a.mgr }

// Status returns the last published status.
func (a *Agent) Status() Status { return a.mgr.Status() }

// Run serves the status API and metrics when configured and runs the control
// loop. It returns nil after a shutdown signal.
func (a *Agent) Run(ctx context.Context) error {
	var servers []*http.Server
	if a.cfg.HTTP.Listen != "" {
		var q history.Querier
		if a.hist != nil {
			q = a.hist
		}
		srv, err := iapi.NewServer(a.cfg.HTTP.Listen, "", a.mgr, q)
		if err != nil {
			return err
		}
		slog.Info("Status API listening", "addr", a.cfg.HTTP.Listen)
		servers = append(servers, srv)
	}
	if a.cfg.Metrics.Enabled {
		if err := RegisterMetricsDefault(); err != nil {
			return err
		}
		srv := newMetricsServer(a.cfg.Metrics.Listen)
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("Metrics server failed", "addr", a.cfg.Metrics.Listen, "error", err)
			}
		}()
		slog.Info("Metrics listening", "addr", a.cfg.Metrics.Listen)
		servers = append(servers, srv)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		for _, s := range servers {
			_ = s.Shutdown(sctx)
		}
	}()
	return a.mgr.Run(ctx)
}

// Close releases the supervisor lock and the history sink.
func (a *Agent) Close() error {
	var errs []error
	if a.mgr != nil {
		errs = append(errs, a.mgr.Close())
	}
	errs = append(errs, a.closeHistory())
	return errors.Join(errs...)
}

func (a *Agent) closeHistory() error {
	if a.hist == nil {
		return nil
	}
	return a.hist.Close()
}

// Metrics helpers (public facade)

func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }
func RegisterMetricsDefault() error { return metrics.Register(prometheus.DefaultRegisterer) }

func newMetricsServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}
