package process

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"
)

// ErrAlreadyRunning is returned by Start when the process is already up.
var ErrAlreadyRunning = errors.New("process: already running")

// killGrace bounds how long Stop waits for the reaper after SIGKILL.
const killGrace = 2 * time.Second

// Process supervises a single child. One goroutine per spawn owns cmd.Wait;
// every other method observes the exit through waitDone.
type Process struct {
	mu          sync.Mutex
	spec        Spec
	cmd         *exec.Cmd
	status      Status
	waitDone    chan struct{}
	stopping    bool // exit was requested through Stop
	exitPending bool // unexpected exit not yet reported by PollExit
	starts      int
}

func New(spec Spec) *Process { return &Process{spec: spec, status: Status{Name: spec.Name}} }

// UpdateSpec replaces the spec used by the next Start.
func (p *Process) UpdateSpec(s Spec) {
	p.mu.Lock()
	p.spec = s
	p.mu.Unlock()
}

// Start spawns the process from the current spec.
func (p *Process) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.status.Running {
		return fmt.Errorf("%w: %s (pid %d)", ErrAlreadyRunning, p.spec.Name, p.status.PID)
	}
	spec := p.spec
	cmd := spec.BuildCommand()
	if spec.WorkDir != "" {
		cmd.Dir = spec.WorkDir
	}
	if len(spec.Env) > 0 {
		cmd.Env = spec.Env
	}
	configureSysProcAttr(cmd, spec)

	outW, errW, err := spec.Log.ProcessWriters(spec.Name)
	if err != nil {
		slog.Warn("Failed to open service log writers, output discarded", "name", spec.Name, "error", err)
	}
	if outW != nil {
		cmd.Stdout = outW
	}
	if errW != nil {
		cmd.Stderr = errW
	}
	if err := cmd.Start(); err != nil {
		closeAll(outW, errW)
		return fmt.Errorf("start %s: %w", spec.Name, err)
	}

	p.starts++
	done := make(chan struct{})
	p.cmd = cmd
	p.waitDone = done
	p.stopping = false
	p.exitPending = false
	p.status = Status{
		Name:      spec.Name,
		Running:   true,
		PID:       cmd.Process.Pid,
		StartedAt: time.Now(),
		Restarts:  p.starts - 1,
	}
	if spec.PIDFile != "" {
		if err := WritePIDFile(spec.PIDFile, cmd.Process.Pid); err != nil {
			slog.Warn("Failed to write pid file", "name", spec.Name, "path", spec.PIDFile, "error", err)
		}
	}
	go p.reap(cmd, done, spec.PIDFile, outW, errW)
	return nil
}

func (p *Process) reap(cmd *exec.Cmd, done chan struct{}, pidFile string, outW, errW io.WriteCloser) {
	err := cmd.Wait()
	closeAll(outW, errW)
	if pidFile != "" {
		_ = os.Remove(pidFile)
	}
	p.mu.Lock()
	p.status.Running = false
	p.status.StoppedAt = time.Now()
	p.status.ExitErr = err
	if cmd.ProcessState != nil {
		p.status.ExitCode = cmd.ProcessState.ExitCode()
	}
	if !p.stopping {
		p.exitPending = true
	}
	p.mu.Unlock()
	close(done)
}

// Stop terminates the process group and waits up to wait for it to exit,
// escalating to SIGKILL on timeout. It is a no-op when nothing is running.
func (p *Process) Stop(wait time.Duration) error {
	p.mu.Lock()
	if !p.status.Running || p.cmd == nil {
		p.mu.Unlock()
		return nil
	}
	p.stopping = true
	pid := p.cmd.Process.Pid
	done := p.waitDone
	name := p.spec.Name
	p.mu.Unlock()

	_ = terminateGroup(pid)
	select {
	case <-done:
		return nil
	case <-time.After(wait):
	}
	slog.Warn("Process did not exit after SIGTERM, killing", "name", name, "pid", pid, "wait", wait)
	_ = killGroup(pid)
	select {
	case <-done:
		return nil
	case <-time.After(killGrace):
		return fmt.Errorf("stop %s: pid %d did not exit after SIGKILL", name, pid)
	}
}

// Signal delivers sig to the running process. It is a no-op when nothing is running.
func (p *Process) Signal(sig os.Signal) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.status.Running || p.cmd == nil {
		return nil
	}
	if err := p.cmd.Process.Signal(sig); err != nil {
		return fmt.Errorf("signal %s: %w", p.spec.Name, err)
	}
	return nil
}

// PollExit reports an exit that was not requested through Stop. Each exit is
// reported once.
func (p *Process) PollExit() (Status, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.exitPending {
		return Status{}, false
	}
	p.exitPending = false
	return p.status, true
}

// Running reports whether the process is currently up.
func (p *Process) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status.Running
}

// Snapshot returns a copy of the current status.
func (p *Process) Snapshot() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

// Done returns a channel closed when the current spawn exits, or nil if the
// process was never started.
func (p *Process) Done() <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.waitDone
}

func closeAll(cs ...io.WriteCloser) {
	for _, c := range cs {
		if c != nil {
			_ = c.Close()
		}
	}
}
