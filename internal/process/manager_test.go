package process

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// waitFor polls cond until it holds or the timeout expires.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestNewManager_Defaults(t *testing.T) {
	m := NewManager(Config{Binary: "/usr/bin/meshd"})

	if m.cfg.Name != "/usr/bin/meshd" {
		t.Errorf("Name = %q, want binary path", m.cfg.Name)
	}
	if m.cfg.RestartDelay != defaultRestartDelay {
		t.Errorf("RestartDelay = %v, want %v", m.cfg.RestartDelay, defaultRestartDelay)
	}
	if m.cfg.MaxRestartDelay != defaultMaxRestartDelay {
		t.Errorf("MaxRestartDelay = %v, want %v", m.cfg.MaxRestartDelay, defaultMaxRestartDelay)
	}
	if m.cfg.StableThreshold != defaultStableThreshold {
		t.Errorf("StableThreshold = %v, want %v", m.cfg.StableThreshold, defaultStableThreshold)
	}
	if m.cfg.GracefulTimeout != defaultGracefulTimeout {
		t.Errorf("GracefulTimeout = %v, want %v", m.cfg.GracefulTimeout, defaultGracefulTimeout)
	}
	if m.cfg.ProbeInterval != defaultProbeInterval {
		t.Errorf("ProbeInterval = %v, want %v", m.cfg.ProbeInterval, defaultProbeInterval)
	}
}

func TestNewManager_MaxDelayNotBelowBase(t *testing.T) {
	m := NewManager(Config{Binary: "/bin/true", RestartDelay: 5 * time.Minute, MaxRestartDelay: time.Second})
	if m.cfg.MaxRestartDelay != 5*time.Minute {
		t.Errorf("MaxRestartDelay = %v, want 5m", m.cfg.MaxRestartDelay)
	}
}

func TestBackoff(t *testing.T) {
	m := NewManager(Config{
		Binary:          "/bin/true",
		RestartDelay:    time.Second,
		MaxRestartDelay: 30 * time.Second,
	})

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{5, 16 * time.Second},
		{6, 30 * time.Second},
		{40, 30 * time.Second},
	}

	for _, tt := range tests {
		if got := m.backoff(tt.attempt); got != tt.want {
			t.Errorf("backoff(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestManager_InitialState(t *testing.T) {
	m := NewManager(Config{Name: "meshd", Binary: "/bin/true"})

	if m.Status() != StatusStopped {
		t.Errorf("Status() = %q, want %q", m.Status(), StatusStopped)
	}
	if m.IsRunning() {
		t.Error("IsRunning() = true, want false")
	}

	stats := m.Stats()
	if stats.Name != "meshd" || stats.PID != 0 || stats.Restarts != 0 || stats.LastError != "" {
		t.Errorf("Stats() = %+v, want empty stopped stats", stats)
	}
	if err := m.HealthCheck(context.Background()); err == nil {
		t.Error("HealthCheck() on stopped manager should fail")
	}
}

func TestManager_StopWhenNotRunning(t *testing.T) {
	m := NewManager(Config{Binary: "/bin/true"})
	if err := m.Stop(); err != nil {
		t.Errorf("Stop() error = %v, want nil", err)
	}
}

func TestManager_StartAndStop(t *testing.T) {
	started := make(chan struct{}, 1)
	m := NewManager(Config{
		Name:            "sleeper",
		Binary:          "/bin/sleep",
		Args:            []string{"60"},
		GracefulTimeout: 2 * time.Second,
		OnStart:         func() { started <- struct{}{} },
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := m.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	select {
	case <-started:
	default:
		t.Error("OnStart was not called")
	}
	if !m.IsRunning() {
		t.Error("IsRunning() = false after Start()")
	}
	if m.Stats().PID == 0 {
		t.Error("Stats().PID = 0 after Start()")
	}
	if err := m.HealthCheck(ctx); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}

	if err := m.Start(ctx); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("second Start() error = %v, want ErrAlreadyRunning", err)
	}

	if err := m.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if m.Status() != StatusStopped {
		t.Errorf("Status() after Stop = %q, want %q", m.Status(), StatusStopped)
	}
}

func TestManager_StartWithInvalidBinary(t *testing.T) {
	m := NewManager(Config{Binary: "/nonexistent/meshd"})

	if err := m.Start(context.Background()); err == nil {
		t.Fatal("Start() with invalid binary expected error")
	}
	if m.Status() != StatusFailed {
		t.Errorf("Status() = %q, want %q", m.Status(), StatusFailed)
	}
	if m.Stats().LastError == "" {
		t.Error("Stats().LastError is empty")
	}
}

func TestManager_RestartLimit(t *testing.T) {
	var (
		mu    sync.Mutex
		exits int
	)
	m := NewManager(Config{
		Binary:             "/bin/sh",
		Args:               []string{"-c", "exit 3"},
		RestartDelay:       10 * time.Millisecond,
		MaxRestartAttempts: 2,
		OnExit: func(err error) {
			mu.Lock()
			exits++
			mu.Unlock()
		},
	})

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	waitFor(t, 5*time.Second, func() bool { return m.Status() == StatusFailed })

	mu.Lock()
	defer mu.Unlock()
	if exits != 3 {
		t.Errorf("exits = %d, want 3 (initial run plus two restarts)", exits)
	}
	if m.Stats().LastError == "" {
		t.Error("Stats().LastError is empty after crashes")
	}
}

func TestManager_ProbeKillsUnresponsiveProcess(t *testing.T) {
	exitErr := make(chan error, 4)
	m := NewManager(Config{
		Binary:             "/bin/sleep",
		Args:               []string{"60"},
		Probe:              func(context.Context) error { return errors.New("no answer") },
		ProbeInterval:      10 * time.Millisecond,
		RestartDelay:       time.Hour,
		MaxRestartAttempts: 1,
		OnExit:             func(err error) { exitErr <- err },
	})

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer m.Stop()

	select {
	case err := <-exitErr:
		if !errors.Is(err, ErrProbeFailed) {
			t.Errorf("exit error = %v, want ErrProbeFailed", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("process was not killed by the probe")
	}
}

func TestManager_StopDuringBackoff(t *testing.T) {
	m := NewManager(Config{
		Binary:       "/bin/sh",
		Args:         []string{"-c", "exit 1"},
		RestartDelay: time.Hour,
	})

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	waitFor(t, 5*time.Second, func() bool { return m.Status() == StatusBackoff })

	stopped := make(chan error, 1)
	go func() { stopped <- m.Stop() }()

	select {
	case err := <-stopped:
		if err != nil {
			t.Errorf("Stop() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Stop() blocked during backoff")
	}
	if m.Status() != StatusStopped {
		t.Errorf("Status() = %q, want %q", m.Status(), StatusStopped)
	}
}

func TestManager_ContextCancelStops(t *testing.T) {
	m := NewManager(Config{Binary: "/bin/sleep", Args: []string{"60"}})

	ctx, cancel := context.WithCancel(context.Background())
	if err := m.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	cancel()

	waitFor(t, 5*time.Second, func() bool { return m.Status() == StatusStopped })
}
