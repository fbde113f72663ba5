package manager

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/loykin/fleetsup/internal/config"
	"github.com/loykin/fleetsup/internal/pkgs"
	"github.com/loykin/fleetsup/internal/process"
	"github.com/loykin/fleetsup/internal/signals"
	"github.com/loykin/fleetsup/internal/users"
)

// fakeRunner records every call the manager makes.
type fakeRunner struct {
	mu       sync.Mutex
	spec     process.Spec
	running  bool
	exited   bool
	starts   int
	stops    int
	signals  []os.Signal
	startErr error
	stopErr  error
}

func (r *fakeRunner) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return process.ErrAlreadyRunning
	}
	if r.startErr != nil {
		return r.startErr
	}
	r.starts++
	r.running = true
	return nil
}

func (r *fakeRunner) Stop(time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.running {
		return nil
	}
	r.stops++
	if r.stopErr != nil {
		return r.stopErr
	}
	r.running = false
	return nil
}

func (r *fakeRunner) Signal(sig os.Signal) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.signals = append(r.signals, sig)
	return nil
}

func (r *fakeRunner) UpdateSpec(s process.Spec) {
	r.mu.Lock()
	r.spec = s
	r.mu.Unlock()
}

func (r *fakeRunner) PollExit() (process.Status, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.exited {
		return process.Status{}, false
	}
	r.exited = false
	return process.Status{Name: r.spec.Name, ExitCode: 1}, true
}

func (r *fakeRunner) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

func (r *fakeRunner) Snapshot() process.Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return process.Status{Name: r.spec.Name, Running: r.running, Restarts: r.starts}
}

// crash simulates an unrequested exit.
func (r *fakeRunner) crash() {
	r.mu.Lock()
	r.running = false
	r.exited = true
	r.mu.Unlock()
}

func (r *fakeRunner) counts() (starts, stops, signals int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.starts, r.stops, len(r.signals)
}

// runners hands out fakeRunners by service name.
type runners struct {
	mu  sync.Mutex
	all map[string]*fakeRunner
}

func (rs *runners) factory(spec process.Spec) Runner {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if rs.all == nil {
		rs.all = make(map[string]*fakeRunner)
	}
	r := &fakeRunner{spec: spec}
	rs.all[spec.Name] = r
	return r
}

func (rs *runners) get(name string) *fakeRunner {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.all[name]
}

// scriptedSource returns queued events, then None.
type scriptedSource struct {
	mu     sync.Mutex
	events []signals.Event
	polls  int
}

func (s *scriptedSource) push(ev signals.Event) {
	s.mu.Lock()
	s.events = append(s.events, ev)
	s.mu.Unlock()
}

func (s *scriptedSource) Poll() signals.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.polls++
	if len(s.events) == 0 {
		return signals.Event{}
	}
	ev := s.events[0]
	s.events = s.events[1:]
	return ev
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.FSRoot = t.TempDir()
	cfg.Group = "test"
	cfg.TickInterval = 10 * time.Millisecond
	cfg.StopTimeout = time.Second
	cfg.Gossip.Listen = "127.0.0.1:0"
	cfg.Gossip.SwimListen = "127.0.0.1:0"
	cfg.Update.URL = "http://depot.invalid"
	cfg.Update.Interval = time.Minute
	return cfg
}

type harness struct {
	m       *Manager
	cfg     *config.Config
	runners *runners
	source  *scriptedSource
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	h := &harness{cfg: testConfig(t), runners: &runners{}, source: &scriptedSource{}}
	base := []Option{
		WithRunnerFactory(h.runners.factory),
		WithSignalSource(h.source),
		WithResolver(users.Static{}),
		WithHost(Host{Hostname: "node-1", IP: "10.0.0.1"}),
		WithDepotFactory(func(string) (Depot, error) { return nil, errors.New("no depot in tests") }),
	}
	m, err := New(h.cfg, append(base, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	h.m = m
	return h
}

func testPackage(root, name, version, release string, exposes ...string) *pkgs.Package {
	id := pkgs.Ident{Origin: "core", Name: name, Version: version, Release: release}
	return &pkgs.Package{
		Ident:   id,
		Path:    pkgs.InstallPath(root, id),
		Exposes: exposes,
		Run:     "bin/" + name,
	}
}

func tickN(t *testing.T, m *Manager, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		require.False(t, m.Tick(context.Background()))
	}
}

func fileExists(path string) bool {
	_, err := os.Stat(filepath.Clean(path))
	return err == nil
}
