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

// Status is the lifecycle state of a supervised process.
type Status string

const (
	StatusStopped  Status = "stopped"
	StatusStarting Status = "starting"
	StatusRunning  Status = "running"
	StatusBackoff  Status = "backoff"
	StatusFailed   Status = "failed"
)

var (
	// ErrAlreadyRunning is returned by Start on a running manager.
	ErrAlreadyRunning = errors.New("process: already running")

	// ErrProbeFailed is recorded when the watchdog kills an unresponsive
	// process.
	ErrProbeFailed = errors.New("process: probe failed")
)

// maxProbeFailures is how many consecutive probe failures kill the process.
const maxProbeFailures = 3

// Defaults applied by NewManager to zero Config fields.
const (
	defaultRestartDelay    = 2 * time.Second
	defaultMaxRestartDelay = 2 * time.Minute
	defaultStableThreshold = time.Minute
	defaultGracefulTimeout = 10 * time.Second
	defaultProbeInterval   = 30 * time.Second
	defaultProbeTimeout    = 5 * time.Second
)

// Config describes the supervised process.
type Config struct {
	// Name identifies the process in logs.
	Name string

	Binary string
	Args   []string

	// Env is appended to the parent environment.
	Env []string

	// RestartDelay is the first backoff step; each further attempt doubles
	// it up to MaxRestartDelay.
	RestartDelay    time.Duration
	MaxRestartDelay time.Duration

	// StableThreshold is how long a run must last for the backoff to reset.
	StableThreshold time.Duration

	// MaxRestartAttempts limits consecutive restarts. 0 means unlimited.
	MaxRestartAttempts int

	// GracefulTimeout is how long Stop waits after SIGTERM before SIGKILL.
	GracefulTimeout time.Duration

	// Probe, when set, is called every ProbeInterval while the process runs.
	Probe         func(ctx context.Context) error
	ProbeInterval time.Duration

	// OnStart is called after every successful start.
	OnStart func()

	// OnExit is called after every exit with the wait error, or nil when the
	// exit was requested by Stop.
	OnExit func(err error)
}

// Logger is the logging interface used by the manager.
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

// Manager supervises one process.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
type Manager struct {
	cfg    Config
	logger Logger

	mu            sync.RWMutex
	cmd           *exec.Cmd
	status        Status
	restarts      int
	lastErr       error
	startedAt     time.Time
	stopRequested bool
	stopCh        chan struct{}
	done          chan struct{}
}

// NewManager applies defaults to cfg and returns a stopped manager.
func NewManager(cfg Config) *Manager {
	if cfg.RestartDelay <= 0 {
		cfg.RestartDelay = defaultRestartDelay
	}
	if cfg.MaxRestartDelay < cfg.RestartDelay {
		cfg.MaxRestartDelay = max(defaultMaxRestartDelay, cfg.RestartDelay)
	}
	if cfg.StableThreshold <= 0 {
		cfg.StableThreshold = defaultStableThreshold
	}
	if cfg.GracefulTimeout <= 0 {
		cfg.GracefulTimeout = defaultGracefulTimeout
	}
	if cfg.ProbeInterval <= 0 {
		cfg.ProbeInterval = defaultProbeInterval
	}
	if cfg.Name == "" {
		cfg.Name = cfg.Binary
	}

	return &Manager{cfg: cfg, logger: noopLogger{}, status: StatusStopped}
}

// SetLogger sets the logger. Call before Start.
func (m *Manager) SetLogger(logger Logger) {
	if logger != nil {
		m.logger = logger
	}
}

// Start launches the process and supervises it until Stop or until ctx is
// cancelled. A failure to launch is returned directly and not retried.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.status != StatusStopped && m.status != StatusFailed {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrAlreadyRunning, m.cfg.Name)
	}
	m.status = StatusStarting
	m.stopRequested = false
	m.restarts = 0
	stopCh := make(chan struct{})
	done := make(chan struct{})
	m.stopCh = stopCh
	m.done = done
	m.mu.Unlock()

	if err := m.launch(ctx); err != nil {
		m.mu.Lock()
		m.status = StatusFailed
		m.lastErr = err
		m.mu.Unlock()
		close(done)
		return err
	}

	go m.supervise(ctx, stopCh, done)
	return nil
}

func (m *Manager) launch(ctx context.Context) error {
	cmd := exec.CommandContext(ctx, m.cfg.Binary, m.cfg.Args...) //nolint:gosec // binary comes from operator config
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if m.cfg.Env != nil {
		cmd.Env = append(os.Environ(), m.cfg.Env...)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("creating stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("creating stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting %s: %w", m.cfg.Name, err)
	}

	m.mu.Lock()
	m.cmd = cmd
	m.status = StatusRunning
	m.startedAt = time.Now()
	m.mu.Unlock()

	go m.logOutput("stdout", stdout)
	go m.logOutput("stderr", stderr)

	m.logger.Info("process started", "name", m.cfg.Name, "pid", cmd.Process.Pid)
	if m.cfg.OnStart != nil {
		m.cfg.OnStart()
	}
	return nil
}

// logOutput logs each line the process writes.
func (m *Manager) logOutput(stream string, r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		m.logger.Debug("process output", "name", m.cfg.Name, "stream", stream, "line", scanner.Text())
	}
}

// wait blocks until the process exits or the watchdog kills it.
func (m *Manager) wait(ctx context.Context, cmd *exec.Cmd) error {
	exited := make(chan error, 1)
	go func() { exited <- cmd.Wait() }()

	if m.cfg.Probe == nil {
		return <-exited
	}

	ticker := time.NewTicker(m.cfg.ProbeInterval)
	defer ticker.Stop()

	failures := 0
	for {
		select {
		case err := <-exited:
			return err

		case <-ticker.C:
			probeCtx, cancel := context.WithTimeout(ctx, defaultProbeTimeout)
			err := m.cfg.Probe(probeCtx)
			cancel()

			if err == nil {
				if failures > 0 {
					m.logger.Info("process probe recovered", "name", m.cfg.Name, "previous_failures", failures)
				}
				failures = 0
				continue
			}

			failures++
			m.logger.Warn("process probe failed", "name", m.cfg.Name, "error", err, "consecutive_failures", failures)
			if failures < maxProbeFailures {
				continue
			}

			m.logger.Error("process unresponsive, killing", "name", m.cfg.Name, "failures", failures)
			_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
			<-exited
			return fmt.Errorf("%w: %d consecutive failures: %w", ErrProbeFailed, failures, err)
		}
	}
}

// supervise waits for each exit and restarts with backoff.
func (m *Manager) supervise(ctx context.Context, stopCh <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	for {
		m.mu.RLock()
		cmd := m.cmd
		m.mu.RUnlock()

		err := m.wait(ctx, cmd)

		m.mu.Lock()
		stopping := m.stopRequested || ctx.Err() != nil
		ranFor := time.Since(m.startedAt)
		if stopping {
			m.status = StatusStopped
		} else {
			m.status = StatusBackoff
			m.lastErr = err
			if ranFor >= m.cfg.StableThreshold {
				m.restarts = 0
			}
			m.restarts++
		}
		attempt := m.restarts
		m.mu.Unlock()

		if stopping {
			m.logger.Info("process stopped", "name", m.cfg.Name)
			if m.cfg.OnExit != nil {
				m.cfg.OnExit(nil)
			}
			return
		}

		m.logger.Warn("process exited", "name", m.cfg.Name, "error", err, "ran_for", ranFor.Round(time.Millisecond))
		if m.cfg.OnExit != nil {
			m.cfg.OnExit(err)
		}

		if m.cfg.MaxRestartAttempts > 0 && attempt > m.cfg.MaxRestartAttempts {
			m.logger.Error("process restart limit reached", "name", m.cfg.Name, "attempts", attempt-1)
			m.setStatus(StatusFailed)
			return
		}

		// A failed launch counts as another attempt.
		for {
			delay := m.backoff(attempt)
			m.logger.Info("restarting process", "name", m.cfg.Name, "attempt", attempt, "delay", delay)

			select {
			case <-ctx.Done():
				m.setStatus(StatusStopped)
				return
			case <-stopCh:
				m.setStatus(StatusStopped)
				return
			case <-time.After(delay):
			}

			err := m.launch(ctx)
			if err == nil {
				select {
				case <-stopCh:
					// Stop raced the relaunch; let wait observe the exit.
					m.mu.RLock()
					pid := m.cmd.Process.Pid
					m.mu.RUnlock()
					_ = syscall.Kill(-pid, syscall.SIGTERM)
				default:
				}
				break
			}
			m.logger.Error("process restart failed", "name", m.cfg.Name, "error", err)

			m.mu.Lock()
			m.lastErr = err
			m.restarts++
			attempt = m.restarts
			m.mu.Unlock()

			if m.cfg.MaxRestartAttempts > 0 && attempt > m.cfg.MaxRestartAttempts {
				m.logger.Error("process restart limit reached", "name", m.cfg.Name, "attempts", attempt-1)
				m.setStatus(StatusFailed)
				return
			}
		}
	}
}

// backoff returns RestartDelay doubled for each attempt after the first,
// capped at MaxRestartDelay.
func (m *Manager) backoff(attempt int) time.Duration {
	delay := m.cfg.RestartDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= m.cfg.MaxRestartDelay {
			return m.cfg.MaxRestartDelay
		}
	}
	return delay
}

func (m *Manager) setStatus(s Status) {
	m.mu.Lock()
	m.status = s
	m.mu.Unlock()
}

// Stop terminates the process group with SIGTERM, escalating to SIGKILL
// after GracefulTimeout, and waits for supervision to end. It is a no-op
// when nothing is running.
func (m *Manager) Stop() error {
	m.mu.Lock()
	if m.done == nil || m.status == StatusStopped || m.status == StatusFailed {
		m.mu.Unlock()
		return nil
	}
	if !m.stopRequested {
		m.stopRequested = true
		close(m.stopCh)
	}
	cmd := m.cmd
	done := m.done
	status := m.status
	m.mu.Unlock()

	if status != StatusRunning || cmd == nil || cmd.Process == nil {
		<-done
		return nil
	}

	pid := cmd.Process.Pid
	m.logger.Info("stopping process", "name", m.cfg.Name, "pid", pid)
	if err := syscall.Kill(-pid, syscall.SIGTERM); err != nil && !errors.Is(err, syscall.ESRCH) {
		m.logger.Warn("failed to signal process group", "name", m.cfg.Name, "error", err)
	}

	select {
	case <-done:
		return nil
	case <-time.After(m.cfg.GracefulTimeout):
		m.logger.Warn("graceful stop timed out, killing", "name", m.cfg.Name, "timeout", m.cfg.GracefulTimeout)
	}

	if err := syscall.Kill(-pid, syscall.SIGKILL); err != nil && !errors.Is(err, syscall.ESRCH) {
		return fmt.Errorf("killing %s: %w", m.cfg.Name, err)
	}
	<-done
	return nil
}

// Status returns the current lifecycle state.
func (m *Manager) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

// IsRunning reports whether the process is up.
func (m *Manager) IsRunning() bool {
	return m.Status() == StatusRunning
}

// Stats is a point-in-time view of the manager.
type Stats struct {
	Name      string        `json:"name"`
	Status    Status        `json:"status"`
	PID       int           `json:"pid,omitempty"`
	Uptime    time.Duration `json:"uptime,omitempty"`
	Restarts  int           `json:"restarts"`
	LastError string        `json:"last_error,omitempty"`
}

// Stats returns current statistics.
func (m *Manager) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s := Stats{Name: m.cfg.Name, Status: m.status, Restarts: m.restarts}
	if m.status == StatusRunning && m.cmd != nil && m.cmd.Process != nil {
		s.PID = m.cmd.Process.Pid
		s.Uptime = time.Since(m.startedAt)
	}
	if m.lastErr != nil {
		s.LastError = m.lastErr.Error()
	}
	return s
}

// HealthCheck returns an error unless the process is running.
func (m *Manager) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if st := m.Status(); st != StatusRunning {
		return fmt.Errorf("process %s is %s", m.cfg.Name, st)
	}
	return nil
}
