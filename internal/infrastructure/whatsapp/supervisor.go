package whatsapp

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"

	"LeadScanner/internal/domain"
	"LeadScanner/internal/ports"
)

const processName = "whatsapp-bridge"

// State is the lifecycle phase of the bridge process.
type State string

const (
	StateStopped  State = "stopped"
	StateStarting State = "starting"
	StateRunning  State = "running"
	StateFailed   State = "failed"
)

// SupervisorConfig describes how to launch the bridge.
type SupervisorConfig struct {
	Command string
	Args    []string
	Dir     string
	// Grace is how long the process must stay up before it counts as running.
	Grace time.Duration
	// StopTimeout is how long Stop waits after SIGTERM before killing.
	StopTimeout time.Duration
}

// Supervisor runs the bridge as a child process and restarts it on demand.
type Supervisor struct {
	cfg    SupervisorConfig
	clock  clockwork.Clock
	logger *slog.Logger

	mu       sync.Mutex
	state    State
	lastErr  error
	cmd      *exec.Cmd
	exited   chan struct{}
	stopping bool
}

var _ ports.ProcessSupervisor = (*Supervisor)(nil)

// NewSupervisor applies defaults of a 5s grace and a 5s stop timeout.
func NewSupervisor(cfg SupervisorConfig, clock clockwork.Clock, logger *slog.Logger) *Supervisor {
	if cfg.Grace <= 0 {
		cfg.Grace = 5 * time.Second
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = 5 * time.Second
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Supervisor{cfg: cfg, clock: clock, logger: logger.With("process", processName), state: StateStopped}
}

// State reports the current phase and the error that caused a failure.
func (s *Supervisor) State() (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state, s.lastErr
}

// EnsureRunning starts the bridge unless it is already up. A bridge that died
// since the last call is reported and restarted.
func (s *Supervisor) EnsureRunning(ctx context.Context) error {
	s.mu.Lock()
	state, lastErr := s.state, s.lastErr
	s.mu.Unlock()

	switch state {
	case StateRunning, StateStarting:
		return nil
	case StateFailed:
		s.logger.Warn("bridge is down, restarting", "error", lastErr)
	}
	return s.Start(ctx)
}

// Start launches the process and waits out the grace period.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state == StateRunning || s.state == StateStarting {
		s.mu.Unlock()
		return nil
	}

	cmd := exec.Command(s.cfg.Command, s.cfg.Args...)
	cmd.Dir = s.cfg.Dir
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		s.mu.Unlock()
		return s.fail(fmt.Errorf("stdout pipe: %w", err))
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		s.mu.Unlock()
		return s.fail(fmt.Errorf("stderr pipe: %w", err))
	}
	if err := cmd.Start(); err != nil {
		s.mu.Unlock()
		return s.fail(fmt.Errorf("start: %w", err))
	}

	exited := make(chan struct{})
	s.cmd, s.exited, s.stopping = cmd, exited, false
	s.state, s.lastErr = StateStarting, nil
	s.mu.Unlock()

	s.logger.Info("bridge starting", "pid", cmd.Process.Pid)

	var drains sync.WaitGroup
	drains.Add(2)
	go s.drain(&drains, stdout, slog.LevelDebug, "stdout")
	go s.drain(&drains, stderr, slog.LevelWarn, "stderr")
	go s.wait(cmd, &drains, exited)

	select {
	case <-exited:
		_, err := s.State()
		if err == nil {
			err = errors.New("exited during startup")
		}
		return err
	case <-s.clock.After(s.cfg.Grace):
	case <-ctx.Done():
		_ = s.Stop(context.Background())
		return ctx.Err()
	}

	s.mu.Lock()
	if s.state == StateStarting && s.cmd == cmd {
		s.state = StateRunning
	}
	s.mu.Unlock()
	s.logger.Info("bridge running")
	return nil
}

// Stop sends SIGTERM, then kills the process if it outlives StopTimeout.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.mu.Lock()
	cmd, exited := s.cmd, s.exited
	if cmd == nil || (s.state != StateRunning && s.state != StateStarting) {
		s.mu.Unlock()
		return nil
	}
	s.stopping = true
	s.mu.Unlock()

	if err := cmd.Process.Signal(syscall.SIGTERM); err != nil {
		s.logger.Debug("terminate failed", "error", err)
	}

	select {
	case <-exited:
	case <-s.clock.After(s.cfg.StopTimeout):
		s.logger.Warn("bridge ignored terminate, killing")
		_ = cmd.Process.Kill()
		select {
		case <-exited:
		case <-ctx.Done():
			return ctx.Err()
		}
	case <-ctx.Done():
		_ = cmd.Process.Kill()
		return ctx.Err()
	}
	s.logger.Info("bridge stopped")
	return nil
}

func (s *Supervisor) wait(cmd *exec.Cmd, drains *sync.WaitGroup, exited chan struct{}) {
	// Pipes must be fully read before Wait closes them.
	drains.Wait()
	err := cmd.Wait()

	s.mu.Lock()
	if s.cmd == cmd {
		if s.stopping {
			s.state, s.lastErr = StateStopped, nil
		} else {
			if err == nil {
				err = errors.New("exited unexpectedly")
			}
			s.state = StateFailed
			s.lastErr = &domain.ExternalProcessError{Process: processName, Err: err}
			s.logger.Error("bridge exited", "error", err)
		}
		s.cmd = nil
	}
	s.mu.Unlock()
	close(exited)
}

func (s *Supervisor) drain(wg *sync.WaitGroup, r io.Reader, level slog.Level, stream string) {
	defer wg.Done()
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if line := scanner.Text(); line != "" {
			s.logger.Log(context.Background(), level, line, "stream", stream)
		}
	}
}

func (s *Supervisor) fail(err error) error {
	procErr := &domain.ExternalProcessError{Process: processName, Err: err}
	s.mu.Lock()
	s.state, s.lastErr = StateFailed, procErr
	s.mu.Unlock()
	return procErr
}
