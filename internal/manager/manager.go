// Package manager runs the supervisor control loop: it polls signals, applies
// package updates, rebuilds the census and keeps every service process in the
// state its topology asks for.
package manager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"
	clocks "github.com/vimeo/go-clocks"
	retry "github.com/vimeo/go-retry"

	"github.com/loykin/fleetsup/internal/census"
	"github.com/loykin/fleetsup/internal/config"
	"github.com/loykin/fleetsup/internal/crypto"
	"github.com/loykin/fleetsup/internal/gossip"
	"github.com/loykin/fleetsup/internal/history"
	"github.com/loykin/fleetsup/internal/metrics"
	"github.com/loykin/fleetsup/internal/pkgs"
	"github.com/loykin/fleetsup/internal/signals"
	"github.com/loykin/fleetsup/internal/topology"
	"github.com/loykin/fleetsup/internal/users"
)

// Host is the address advertised in service rumors.
type Host struct {
	Hostname string
	IP       string
}

// Option configures a Manager.
type Option func(*Manager)

// WithSignalSource replaces the os/signal dispatcher.
func WithSignalSource(src signals.Source) Option { return func(m *Manager) { m.signals = src } }

// WithClock replaces the wall clock used by the loop and the update checkers.
func WithClock(c clocks.Clock) Option { return func(m *Manager) { m.clock = c } }

// WithResolver replaces the host account database.
func WithResolver(r users.Resolver) Option { return func(m *Manager) { m.resolver = r } }

// WithDepotFactory replaces the HTTP depot client.
func WithDepotFactory(f DepotFactory) Option { return func(m *Manager) { m.newDepot = f } }

// WithRunnerFactory replaces the process runner.
func WithRunnerFactory(f RunnerFactory) Option { return func(m *Manager) { m.newRunner = f } }

// WithHistory records service lifecycle events into sink.
func WithHistory(sink history.Sink) Option { return func(m *Manager) { m.history = sink } }

// WithHost overrides the detected hostname and IP.
func WithHost(h Host) Option { return func(m *Manager) { m.host = h } }

// censusBuilder is the part of census.Builder the control loop uses.
type censusBuilder interface {
	Build(prev census.Update) (bool, census.Update, *census.List, error)
}

// Manager owns the services of one supervisor. Everything except Status is
// called from the control loop goroutine.
type Manager struct {
	cfg       *config.Config
	clock     clocks.Clock
	signals   signals.Source
	resolver  users.Resolver
	newDepot  DepotFactory
	newRunner RunnerFactory
	history   history.Sink
	host      Host
	globalEnv []string

	lock    *flock.Flock
	gossip  *gossip.Server
	builder censusBuilder

	lastUpdate census.Update
	census     *census.List
	services   []*Service

	status atomic.Pointer[Status]
}

// New acquires the supervisor lock and prepares the gossip server. The ring
// key, when configured, must already be in the key cache.
func New(cfg *config.Config, opts ...Option) (*Manager, error) {
	m := &Manager{
		cfg:       cfg,
		clock:     clocks.DefaultClock(),
		resolver:  users.System{},
		newDepot:  defaultDepot,
		newRunner: defaultRunner,
	}
	for _, o := range opts {
		o(m)
	}
	if m.signals == nil {
		m.signals = signals.NewDispatcher()
	}
	if m.host.Hostname == "" {
		m.host.Hostname, _ = os.Hostname()
	}
	if m.host.IP == "" {
		m.host.IP = localIP()
	}

	globalEnv, err := cfg.GlobalEnv()
	if err != nil {
		return nil, err
	}
	m.globalEnv = globalEnv

	if err := os.MkdirAll(filepath.Dir(cfg.LockPath()), 0o750); err != nil {
		return nil, fmt.Errorf("manager: %w", err)
	}
	m.lock = flock.New(cfg.LockPath())
	locked, err := m.lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("manager: acquire %s: %w", cfg.LockPath(), err)
	}
	if !locked {
		return nil, fmt.Errorf("%w: %s", ErrLocked, cfg.LockPath())
	}

	var ring *crypto.SymKey
	if cfg.Gossip.Ring != "" {
		ring, err = crypto.GetLatestSymKey(cfg.Gossip.Ring, cfg.KeyCacheDir())
		if err != nil {
			_ = m.lock.Unlock()
			return nil, fmt.Errorf("manager: ring key: %w", err)
		}
		slog.Info("Using ring key", "ring", ring.NameWithRev())
	}
	m.gossip = gossip.NewServer(gossip.Config{
		SwimListen:   cfg.Gossip.SwimListen,
		GossipListen: cfg.Gossip.Listen,
		Peers:        cfg.Gossip.Peers,
		Persistent:   cfg.Gossip.Permanent,
		RingKey:      ring,
		PushInterval: cfg.Gossip.PushInterval,
		Clock:        m.clock,
	})
	m.builder = census.NewBuilder(m.gossip.Services, m.gossip.Elections, m.gossip.Members)
	m.publishStatus()
	return m, nil
}

// Close releases the supervisor lock.
func (m *Manager) Close() error {
	return m.lock.Unlock()
}

// Gossip exposes the rumor server, mostly for tests and peers wiring.
func (m *Manager) Gossip() *gossip.Server { return m.gossip }

// Census returns the last successfully built census, or nil.
func (m *Manager) Census() *census.List { return m.census }

// Services returns the supervised services in the order they were added.
func (m *Manager) Services() []*Service { return append([]*Service(nil), m.services...) }

// History returns the configured event sink, or nil.
func (m *Manager) History() history.Sink { return m.history }

// AddService supervises pkg. It must be called before Run. The service rumor
// is published immediately; nothing is started until the first tick.
func (m *Manager) AddService(pkg *pkgs.Package, topo topology.Topology, strategy UpdateStrategy, opts ...ServiceOption) error {
	exposes, err := parseExposes(pkg.Exposes)
	if err != nil {
		return fmt.Errorf("add %s: %w", pkg.Ident, err)
	}
	s := &Service{
		ServiceGroup: gossip.ServiceGroup{
			Service:      pkg.Ident.Name,
			Group:        m.cfg.Group,
			Organization: m.cfg.Organization,
		},
		Package:        pkg,
		Topology:       topo,
		UpdateStrategy: strategy,
		track:          pkgs.Ident{Origin: pkg.Ident.Origin, Name: pkg.Ident.Name},
		globalEnv:      m.globalEnv,
		log:            m.cfg.Log,
		stopTimeout:    m.cfg.StopTimeout,
		exposes:        exposes,
		incarnation:    1,
		pendingStart:   true,
		backoff:        retry.DefaultBackoff(),
	}
	for _, o := range opts {
		o(s)
	}
	for _, other := range m.services {
		if other.ServiceGroup == s.ServiceGroup {
			return fmt.Errorf("%w: %s", ErrDuplicateService, s.ServiceGroup)
		}
	}
	s.dir = filepath.Join(m.cfg.SvcRoot(), s.Name())
	s.resolveIdentity(m.resolver)
	s.runner = m.newRunner(s.spec())

	m.services = append(m.services, s)
	m.gossip.InsertService(s.rumor(m.gossip.MemberID(), m.host))
	slog.Info("Service added", "service", s.String(), "group", s.ServiceGroup.String(), "topology", string(topo), "strategy", strategy.String())
	return nil
}

// Run starts the gossip server and the update checkers, then ticks until a
// shutdown signal (returns nil) or ctx is cancelled (returns ctx.Err()).
// Either way every service is stopped before Run returns.
func (m *Manager) Run(ctx context.Context) error {
	if d, ok := m.signals.(*signals.Dispatcher); ok {
		d.Start()
		defer d.Stop()
	}
	if err := m.gossip.Start(ctx); err != nil {
		return err
	}
	defer m.gossip.Stop()

	checkCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	for _, s := range m.services {
		m.startChecker(checkCtx, s)
	}

	slog.Info("Supervisor started", "member", m.gossip.MemberID(), "services", len(m.services), "tick", m.cfg.TickInterval)
	for {
		if m.Tick(checkCtx) {
			return nil
		}
		if !m.clock.SleepFor(ctx, m.cfg.TickInterval) {
			slog.Info("Context cancelled, stopping services", "error", ctx.Err())
			m.shutdown(context.Background())
			return ctx.Err()
		}
	}
}

// Tick runs one pass of the control loop and reports whether the supervisor
// terminated.
func (m *Manager) Tick(ctx context.Context) bool {
	began := m.clock.Now()
	defer func() { metrics.ObserveTick(m.clock.Now().Sub(began).Seconds()) }()

	switch ev := m.signals.Poll(); ev.Kind {
	case signals.Shutdown:
		slog.Info("Shutdown signal received", "signal", ev.Signal.String())
		m.shutdown(ctx)
		return true
	case signals.Forward:
		m.forward(ev)
	}

	for _, s := range m.services {
		m.checkForUpdate(ctx, s)
	}
	m.rebuildCensus(ctx)
	for _, s := range m.services {
		m.reconcile(ctx, s)
	}
	m.publishStatus()
	return false
}

func (m *Manager) forward(ev signals.Event) {
	for _, s := range m.services {
		if err := s.SendSignal(ev.Signal); err != nil {
			s.LastError = err
			slog.Warn("Failed to forward signal", "service", s.String(), "signal", ev.Signal.String(), "error", err)
		}
	}
	metrics.IncSignalForwarded(ev.Signal.String())
}

// shutdown stops every service once, in order.
func (m *Manager) shutdown(ctx context.Context) {
	var errs []error
	for _, s := range m.services {
		wasRunning := s.runner.Running()
		if err := s.Down(); err != nil {
			s.LastError = err
			errs = append(errs, fmt.Errorf("%s: %w", s, err))
			continue
		}
		if wasRunning {
			metrics.IncStop(s.Name())
			metrics.SetRunning(s.Name(), false)
			m.record(ctx, s, history.EventStop, "shutdown", nil)
		}
	}
	if err := errors.Join(errs...); err != nil {
		slog.Error("Failed to stop some services", "error", err)
	}
	m.publishStatus()
	slog.Info("Supervisor terminated")
}

func (m *Manager) startChecker(ctx context.Context, s *Service) {
	if s.UpdateStrategy == UpdateNone {
		return
	}
	if s.cancel != nil {
		s.cancel()
	}
	cctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.updates = runUpdateChecker(cctx, &updateChecker{
		service:       s.String(),
		track:         s.track,
		current:       s.Package.Ident,
		url:           m.cfg.Update.URL,
		interval:      m.cfg.Update.Interval,
		fsRoot:        m.cfg.FSRoot,
		keyCache:      m.cfg.KeyCacheDir(),
		artifactCache: m.cfg.ArtifactCacheDir(),
		newDepot:      m.newDepot,
		clock:         m.clock,
	})
}

// checkForUpdate drains at most one package from the service's checker.
func (m *Manager) checkForUpdate(ctx context.Context, s *Service) {
	if s.updates == nil {
		return
	}
	select {
	case pkg, ok := <-s.updates:
		if !ok {
			slog.Warn("Update checker has died, restarting", "service", s.String())
			metrics.IncCheckerRespawn(s.Name())
			m.startChecker(ctx, s)
			return
		}
		from := s.Package.Ident
		if err := s.setPackage(pkg); err != nil {
			s.LastError = err
			slog.Error("Rejected updated package", "service", s.String(), "package", pkg.Ident.String(), "error", err)
			m.record(ctx, s, history.EventUpdate, "rejected "+pkg.Ident.String(), err)
			m.publishStatus()
			return
		}
		slog.Info("Updated service package", "service", s.String(), "from", from.String(), "to", pkg.Ident.String())
		metrics.IncUpdate(s.Name())
		m.gossip.InsertService(s.rumor(m.gossip.MemberID(), m.host))
		m.record(ctx, s, history.EventUpdate, "from "+from.String(), nil)
	default:
	}
}

// rebuildCensus keeps the previous list and fingerprint when the build fails,
// so the next tick retries.
func (m *Manager) rebuildCensus(ctx context.Context) {
	changed, next, list, err := m.builder.Build(m.lastUpdate)
	if err != nil {
		slog.Error("Census rebuild halted", "error", err)
		metrics.ObserveCensusRebuild("error", m.census.Len())
		return
	}
	m.lastUpdate = next
	if !changed {
		return
	}
	m.census = list
	metrics.ObserveCensusRebuild("changed", list.Len())
	slog.Debug("Census rebuilt", "entries", list.Len(), "members", len(list.Members()))
	for _, s := range m.services {
		changed, err := s.Reconfigure(m.gossip.MemberID(), list)
		if err != nil {
			s.LastError = err
			slog.Error("Failed to reconfigure service", "service", s.String(), "error", err)
			continue
		}
		if changed {
			m.record(ctx, s, history.EventReconfigure, "", nil)
		}
	}
}

// reconcile applies exit handling, pending restarts and pending starts.
func (m *Manager) reconcile(ctx context.Context, s *Service) {
	if st, exited := s.runner.PollExit(); exited {
		slog.Warn("Service exited", "service", s.String(), "pid", st.PID, "exit_code", st.ExitCode, "error", st.ExitErr)
		metrics.SetRunning(s.Name(), false)
		m.record(ctx, s, history.EventExit, "", st.ExitErr)
		s.pendingStart = true
		if d := s.Topology.RestartOnExit(s.ServiceGroup, m.census); !d.Allowed {
			slog.Info("Not restarting service", "service", s.String(), "reason", d.Reason)
			return
		}
		m.startPending(ctx, s, "exit")
		return
	}

	if s.NeedsRestart && s.runner.Running() {
		reason := s.restartReason
		if err := s.Restart(); err != nil {
			s.LastError = err
			slog.Error("Failed to restart service", "service", s.String(), "error", err)
			metrics.SetRunning(s.Name(), s.runner.Running())
			s.pendingStart = !s.runner.Running()
			return
		}
		s.LastError = nil
		s.restartReason = ""
		metrics.IncRestart(s.Name(), reason)
		metrics.IncStart(s.Name())
		m.record(ctx, s, history.EventRestart, reason, nil)
		return
	}

	if s.pendingStart || (!s.runner.Running() && s.NeedsRestart) {
		s.pendingStart = true
		m.startPending(ctx, s, "")
	}
}

// startPending starts s when its topology allows it, backing off after spawn failures.
func (m *Manager) startPending(ctx context.Context, s *Service, reason string) {
	if d := s.Topology.CanStart(s.ServiceGroup, m.census); !d.Allowed {
		slog.Debug("Service waiting to start", "service", s.String(), "reason", d.Reason)
		return
	}
	now := m.clock.Now()
	if now.Before(s.retryAt) {
		return
	}
	if err := s.Start(); err != nil {
		s.LastError = err
		wait := s.backoff.Next()
		s.retryAt = now.Add(wait)
		slog.Error("Failed to start service", "service", s.String(), "retry_in", wait, "error", err)
		m.record(ctx, s, history.EventStart, reason, err)
		return
	}
	s.backoff.Reset()
	s.retryAt = time.Time{}
	s.pendingStart = false
	s.NeedsRestart = false
	s.restartReason = ""
	s.LastError = nil
	metrics.IncStart(s.Name())
	metrics.SetRunning(s.Name(), true)
	if reason == "exit" {
		metrics.IncRestart(s.Name(), reason)
		m.record(ctx, s, history.EventRestart, reason, nil)
		return
	}
	m.record(ctx, s, history.EventStart, reason, nil)
}

func (m *Manager) record(ctx context.Context, s *Service, typ history.EventType, reason string, err error) {
	if m.history == nil {
		return
	}
	st := s.runner.Snapshot()
	ev := history.Event{
		Type:       typ,
		OccurredAt: m.clock.Now().UTC(),
		Service:    s.ServiceGroup.String(),
		Package:    s.Package.Ident.String(),
		PID:        st.PID,
		ExitCode:   st.ExitCode,
		Reason:     reason,
	}
	if err != nil {
		ev.Error = err.Error()
	}
	if err := m.history.Send(ctx, ev); err != nil {
		slog.Debug("Failed to record history event", "service", s.String(), "type", string(typ), "error", err)
	}
}

// localIP returns the first non-loopback IPv4 address, or 127.0.0.1.
func localIP() string {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return "127.0.0.1"
	}
	for _, a := range addrs {
		if ipn, ok := a.(*net.IPNet); ok && !ipn.IP.IsLoopback() && ipn.IP.To4() != nil {
			return ipn.IP.String()
		}
	}
	return "127.0.0.1"
}
