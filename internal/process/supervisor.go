package process

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

// Status represents the current state of the supervised process.
type Status string

const (
	StatusStopped Status = "stopped"
	StatusRunning Status = "running"
	StatusBackoff Status = "backoff"
	StatusFailed  Status = "failed"
)

// Supervisor defaults.
const (
	defaultRestartDelay    = time.Second
	defaultMaxRestartDelay = time.Minute
	defaultStableAfter     = 2 * time.Minute
	defaultGracefulTimeout = 10 * time.Second
)

// maxLineLength bounds one captured output line.
const maxLineLength = 64 * 1024

// ErrAlreadyRunning is returned by Start on a running supervisor.
var ErrAlreadyRunning = errors.New("process: already running")

// Config holds configuration for a supervised process.
type Config struct {
	// Name identifies the process in logs.
	Name string

	// Command is the executable to run. Required.
	Command string

	// Args are passed to Command.
	Args []string

	// Env adds key=value pairs to the inherited environment.
	Env []string

	// RestartDelay is the first backoff delay. It doubles after each
	// consecutive failure up to MaxRestartDelay.
	RestartDelay    time.Duration
	MaxRestartDelay time.Duration

	// StableAfter is how long a run must last for the backoff to reset.
	StableAfter time.Duration

	// MaxRestarts limits consecutive restarts. Zero means unlimited.
	MaxRestarts int

	// GracefulTimeout is how long Stop waits after SIGTERM before SIGKILL.
	GracefulTimeout time.Duration
}

func (c *Config) applyDefaults() {
	if c.Name == "" {
		c.Name = c.Command
	}
	if c.RestartDelay <= 0 {
		c.RestartDelay = defaultRestartDelay
	}
	if c.MaxRestartDelay < c.RestartDelay {
		c.MaxRestartDelay = max(defaultMaxRestartDelay, c.RestartDelay)
	}
	if c.StableAfter <= 0 {
		c.StableAfter = defaultStableAfter
	}
	if c.GracefulTimeout <= 0 {
		c.GracefulTimeout = defaultGracefulTimeout
	}
}

// Logger defines the logging interface for the supervisor.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Supervisor runs one child process and restarts it when it exits.
//
// Thread Safety: All methods are safe for concurrent use.
type Supervisor struct {
	cfg    Config
	logger Logger

	mu        sync.RWMutex
	cmd       *exec.Cmd
	status    Status
	restarts  int // total restarts since Start
	failures  int // consecutive failures, reset by a stable run
	lastError error
	startedAt time.Time
	stopping  bool
	stopCh    chan struct{}
	done      chan struct{}
}

// NewSupervisor creates a stopped supervisor.
func NewSupervisor(cfg Config) *Supervisor {
	cfg.applyDefaults()
	return &Supervisor{
		cfg:    cfg,
		logger: noopLogger{},
		status: StatusStopped,
	}
}

// SetLogger sets the logger for the supervisor.
func (s *Supervisor) SetLogger(logger Logger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if logger == nil {
		logger = noopLogger{}
	}
	s.logger = logger
}

func (s *Supervisor) getLogger() Logger {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.logger
}

// Start launches the process and supervises it until Stop or ctx ends.
// An error is returned only if the first launch fails.
func (s *Supervisor) Start(ctx context.Context) error {
	if s.cfg.Command == "" {
		return fmt.Errorf("process %s: command is required", s.cfg.Name)
	}

	s.mu.Lock()
	if s.done != nil {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrAlreadyRunning, s.cfg.Name)
	}
	s.stopping = false
	s.stopCh = make(chan struct{})
	s.done = make(chan struct{})
	s.restarts = 0
	s.failures = 0
	s.mu.Unlock()

	cmd, err := s.launch()
	if err != nil {
		s.mu.Lock()
		s.status = StatusFailed
		s.lastError = err
		close(s.done)
		s.done = nil
		s.mu.Unlock()
		return err
	}

	go s.supervise(ctx, cmd)
	return nil
}

// launch starts one instance of the process in its own process group.
func (s *Supervisor) launch() (*exec.Cmd, error) {
	cmd := exec.Command(s.cfg.Command, s.cfg.Args...) //nolint:gosec // Command comes from operator configuration
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if len(s.cfg.Env) > 0 {
		cmd.Env = append(os.Environ(), s.cfg.Env...)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("creating stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("creating stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting %s: %w", s.cfg.Name, err)
	}

	s.mu.Lock()
	s.cmd = cmd
	s.status = StatusRunning
	s.startedAt = time.Now()
	s.mu.Unlock()

	logger := s.getLogger()
	go s.capture(logger, "stdout", stdout)
	go s.capture(logger, "stderr", stderr)

	logger.Info("process started", "name", s.cfg.Name, "pid", cmd.Process.Pid)
	return cmd, nil
}

// capture logs each output line of the child.
func (s *Supervisor) capture(logger Logger, stream string, r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 4096), maxLineLength)
	for scanner.Scan() {
		logger.Debug("process output", "name", s.cfg.Name, "stream", stream, "line", scanner.Text())
	}
}

// supervise waits for each run to end and schedules the next one.
func (s *Supervisor) supervise(ctx context.Context, cmd *exec.Cmd) {
	defer func() {
		s.mu.Lock()
		close(s.done)
		s.done = nil
		s.mu.Unlock()
	}()

	for {
		exitErr := s.wait(ctx, cmd)

		s.mu.Lock()
		stopping := s.stopping
		ranFor := time.Since(s.startedAt)
		s.cmd = nil
		if stopping {
			s.status = StatusStopped
			s.mu.Unlock()
			s.getLogger().Info("process stopped", "name", s.cfg.Name)
			return
		}

		if ranFor >= s.cfg.StableAfter {
			s.failures = 0
		}
		s.failures++
		s.lastError = exitErr
		if exitErr == nil {
			s.lastError = fmt.Errorf("%s exited", s.cfg.Name)
		}
		failures := s.failures
		if s.cfg.MaxRestarts > 0 && failures > s.cfg.MaxRestarts {
			s.status = StatusFailed
			s.mu.Unlock()
			s.getLogger().Error("process keeps failing, giving up", "name", s.cfg.Name, "failures", failures-1)
			return
		}
		s.status = StatusBackoff
		s.mu.Unlock()

		delay := s.backoff(failures)
		s.getLogger().Warn("process exited, restarting",
			"name", s.cfg.Name,
			"error", exitErr,
			"ran_for", ranFor.Round(time.Millisecond),
			"delay", delay,
		)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			s.setStatus(StatusStopped)
			return
		case <-s.stopCh:
			timer.Stop()
			s.setStatus(StatusStopped)
			return
		case <-timer.C:
		}

		next, err := s.launch()
		if err != nil {
			s.mu.Lock()
			s.status = StatusFailed
			s.lastError = err
			s.mu.Unlock()
			s.getLogger().Error("failed to restart process", "name", s.cfg.Name, "error", err)
			return
		}

		s.mu.Lock()
		s.restarts++
		s.mu.Unlock()
		cmd = next
	}
}

// wait blocks until cmd exits, terminating it first if ctx ends or Stop
// is called.
func (s *Supervisor) wait(ctx context.Context, cmd *exec.Cmd) error {
	exitCh := make(chan error, 1)
	go func() { exitCh <- cmd.Wait() }()

	select {
	case err := <-exitCh:
		return err
	case <-s.stopCh:
		s.terminate(cmd, exitCh)
		return nil
	case <-ctx.Done():
		s.mu.Lock()
		s.stopping = true
		s.mu.Unlock()
		s.terminate(cmd, exitCh)
		return ctx.Err()
	}
}

// terminate sends SIGTERM to the process group, then SIGKILL after the
// graceful timeout. It returns once the process has exited.
func (s *Supervisor) terminate(cmd *exec.Cmd, exitCh <-chan error) {
	pid := cmd.Process.Pid
	if err := syscall.Kill(-pid, syscall.SIGTERM); err != nil && !errors.Is(err, syscall.ESRCH) {
		s.getLogger().Warn("failed to signal process group", "name", s.cfg.Name, "error", err)
	}

	select {
	case <-exitCh:
		return
	case <-time.After(s.cfg.GracefulTimeout):
	}

	s.getLogger().Warn("graceful shutdown timed out, killing", "name", s.cfg.Name, "timeout", s.cfg.GracefulTimeout)
	//nolint:errcheck // process group may already be gone
	syscall.Kill(-pid, syscall.SIGKILL)
	<-exitCh
}

// backoff returns the delay before restart number n (1-based).
func (s *Supervisor) backoff(n int) time.Duration {
	delay := s.cfg.RestartDelay
	for i := 1; i < n && delay < s.cfg.MaxRestartDelay; i++ {
		delay *= 2
	}
	return min(delay, s.cfg.MaxRestartDelay)
}

func (s *Supervisor) setStatus(st Status) {
	s.mu.Lock()
	s.status = st
	s.mu.Unlock()
}

// Stop terminates the process and waits for supervision to end.
func (s *Supervisor) Stop() error {
	s.mu.Lock()
	done := s.done
	if done == nil {
		s.mu.Unlock()
		return nil
	}
	if !s.stopping {
		s.stopping = true
		close(s.stopCh)
	}
	s.mu.Unlock()

	s.getLogger().Info("stopping process", "name", s.cfg.Name)
	<-done
	return nil
}

// Status returns the current status.
func (s *Supervisor) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// Stats describes the supervised process for health reporting.
type Stats struct {
	Name      string `json:"name"`
	Status    Status `json:"status"`
	PID       int    `json:"pid,omitempty"`
	UptimeSec int64  `json:"uptime_seconds,omitempty"`
	Restarts  int    `json:"restarts"`
	LastError string `json:"last_error,omitempty"`
}

// Stats returns a snapshot of the supervised process.
func (s *Supervisor) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := Stats{
		Name:     s.cfg.Name,
		Status:   s.status,
		Restarts: s.restarts,
	}
	if s.cmd != nil && s.cmd.Process != nil {
		st.PID = s.cmd.Process.Pid
	}
	if s.status == StatusRunning {
		st.UptimeSec = int64(time.Since(s.startedAt).Seconds())
	}
	if s.lastError != nil {
		st.LastError = s.lastError.Error()
	}
	return st
}
