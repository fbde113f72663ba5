package manager

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	retry "github.com/vimeo/go-retry"

	"github.com/loykin/fleetsup/internal/census"
	"github.com/loykin/fleetsup/internal/env"
	"github.com/loykin/fleetsup/internal/gossip"
	"github.com/loykin/fleetsup/internal/logger"
	"github.com/loykin/fleetsup/internal/pkgs"
	"github.com/loykin/fleetsup/internal/process"
	"github.com/loykin/fleetsup/internal/topology"
	"github.com/loykin/fleetsup/internal/users"
)

// Runner is the process handle a Service drives. *process.Process implements it.
type Runner interface {
	Start() error
	Stop(wait time.Duration) error
	Signal(sig os.Signal) error
	UpdateSpec(spec process.Spec)
	PollExit() (process.Status, bool)
	Running() bool
	Snapshot() process.Status
}

// RunnerFactory builds the Runner for a new service.
type RunnerFactory func(spec process.Spec) Runner

func defaultRunner(spec process.Spec) Runner { return process.New(spec) }

// Service is one supervised package.
type Service struct {
	ServiceGroup   gossip.ServiceGroup
	Package        *pkgs.Package
	Topology       topology.Topology
	UpdateStrategy UpdateStrategy
	NeedsRestart   bool
	LastError      error

	track       pkgs.Ident // ident followed by the update checker
	binds       []string
	extraEnv    []string
	globalEnv   []string
	dir         string
	log         logger.Config
	stopTimeout time.Duration
	credential  *process.Credential
	exposes     []uint32
	incarnation uint64

	runner  Runner
	updates <-chan *pkgs.Package
	cancel  context.CancelFunc // stops the update checker

	restartReason string
	pendingStart  bool // not running and waiting for the topology to allow a start
	retryAt       time.Time
	backoff       retry.Backoff
}

// ServiceOption customises AddService.
type ServiceOption func(*Service)

// WithGroup overrides the supervisor's default group.
func WithGroup(group string) ServiceOption {
	return func(s *Service) {
		if group != "" {
			s.ServiceGroup.Group = group
		}
	}
}

// WithBinds records the service group bindings rendered into census.toml.
func WithBinds(binds ...string) ServiceOption {
	return func(s *Service) { s.binds = append([]string(nil), binds...) }
}

// WithServiceEnv adds KEY=VALUE pairs to the service environment.
func WithServiceEnv(kvs ...string) ServiceOption {
	return func(s *Service) { s.extraEnv = append(s.extraEnv, kvs...) }
}

// WithTrack sets the ident the update checker follows. By default it is the
// package origin and name.
func WithTrack(id pkgs.Ident) ServiceOption {
	return func(s *Service) { s.track = id }
}

// parseExposes converts package exposes entries into port numbers.
func parseExposes(exposes []string) ([]uint32, error) {
	out := make([]uint32, 0, len(exposes))
	for _, e := range exposes {
		p, err := strconv.ParseUint(strings.TrimSpace(e), 10, 32)
		if err != nil {
			return nil, fmt.Errorf("%w: %q", ErrInvalidPort, e)
		}
		out = append(out, uint32(p))
	}
	return out, nil
}

// Name is the process name and the service directory name.
func (s *Service) Name() string { return s.ServiceGroup.Service }

// String displays the service as its package ident.
func (s *Service) String() string { return s.Package.Ident.String() }

// spec renders the process spec for the current package.
func (s *Service) spec() process.Spec {
	e := env.New()
	for k, v := range env.Parse(s.globalEnv) {
		e.Set(k, v)
	}
	perService := append([]string{
		"FLEETSUP_SERVICE_GROUP=" + s.ServiceGroup.String(),
		"FLEETSUP_PKG_IDENT=" + s.Package.Ident.String(),
		"FLEETSUP_PKG_PATH=" + s.Package.Path,
		"FLEETSUP_SVC_DIR=" + s.dir,
	}, s.Package.Env...)
	perService = append(perService, s.extraEnv...)
	return process.Spec{
		Name:       s.Name(),
		Command:    runCommand(s.Package),
		WorkDir:    s.dir,
		Env:        e.Merge(perService),
		PIDFile:    filepath.Join(s.dir, "PID"),
		Credential: s.credential,
		Log:        s.log.ForDir(filepath.Join(s.dir, "logs")),
	}
}

// runCommand resolves a relative program path in the run command against the
// package directory.
func runCommand(p *pkgs.Package) string {
	run := strings.TrimSpace(p.Run)
	fields := strings.Fields(run)
	if len(fields) == 0 {
		return run
	}
	prog := fields[0]
	if p.Path == "" || filepath.IsAbs(prog) || !strings.Contains(prog, "/") {
		return run
	}
	return filepath.Join(p.Path, prog) + run[len(prog):]
}

// resolveIdentity looks up svc_user/svc_group once; an unresolved identity
// runs the service as the supervisor's own user.
func (s *Service) resolveIdentity(r users.Resolver) {
	if s.Package.SvcUser == "" {
		return
	}
	id, ok := r.Resolve(s.Package.SvcUser, s.Package.SvcGroup)
	if !ok {
		slog.Warn("Service user not found, running as supervisor user",
			"service", s.String(), "user", s.Package.SvcUser, "group", s.Package.SvcGroup)
		return
	}
	slog.Info("Resolved service identity", "service", s.String(), "user", id.User, "group", id.Group, "uid", id.UID, "gid", id.GID, "sid", id.SID)
	if id.SID == "" {
		s.credential = &process.Credential{UID: id.UID, GID: id.GID}
	}
}

// rumor is the service rumor advertised for this service.
func (s *Service) rumor(memberID string, h Host) gossip.ServiceRumor {
	return gossip.ServiceRumor{
		MemberID:     memberID,
		ServiceGroup: s.ServiceGroup,
		Hostname:     h.Hostname,
		IP:           h.IP,
		Exposes:      append([]uint32(nil), s.exposes...),
		Incarnation:  s.incarnation,
	}
}

// Start spawns the service process from the current package.
func (s *Service) Start() error {
	if err := os.MkdirAll(s.dir, 0o750); err != nil {
		return fmt.Errorf("start %s: %w", s, err)
	}
	if err := s.runner.Start(); err != nil {
		return err
	}
	slog.Info("Service started", "service", s.String(), "pid", s.runner.Snapshot().PID)
	return nil
}

// Restart stops the process if running and starts it again. NeedsRestart is
// cleared once the new process is up.
func (s *Service) Restart() error {
	if err := s.Down(); err != nil {
		return err
	}
	if err := s.Start(); err != nil {
		return err
	}
	s.NeedsRestart = false
	return nil
}

// Down stops the process, escalating to SIGKILL after the stop timeout.
func (s *Service) Down() error {
	if !s.runner.Running() {
		return nil
	}
	if err := s.runner.Stop(s.stopTimeout); err != nil {
		return err
	}
	slog.Info("Service stopped", "service", s.String())
	return nil
}

// SendSignal forwards sig to the running process.
func (s *Service) SendSignal(sig syscall.Signal) error {
	if !s.runner.Running() {
		slog.Debug("No process to send the signal to", "service", s.String(), "signal", sig)
		return nil
	}
	return s.runner.Signal(sig)
}

// Reconfigure renders census.toml from list. A changed file on a running
// service marks it for restart.
func (s *Service) Reconfigure(memberID string, list *census.List) (bool, error) {
	b, err := NewServiceConfig(s.ServiceGroup, s.Package, memberID, s.binds, list).Marshal()
	if err != nil {
		return false, fmt.Errorf("reconfigure %s: %w", s, err)
	}
	changed, err := writeIfChanged(s.dir, b)
	if err != nil {
		return false, fmt.Errorf("reconfigure %s: %w", s, err)
	}
	if changed && s.runner.Running() {
		s.NeedsRestart = true
		if s.restartReason == "" {
			s.restartReason = "reconfigure"
		}
	}
	return changed, nil
}

// setPackage installs an updated package; the process picks it up on restart.
func (s *Service) setPackage(p *pkgs.Package) error {
	exposes, err := parseExposes(p.Exposes)
	if err != nil {
		return err
	}
	s.Package = p
	s.exposes = exposes
	s.incarnation++
	s.NeedsRestart = true
	s.restartReason = "update"
	s.runner.UpdateSpec(s.spec())
	return nil
}
