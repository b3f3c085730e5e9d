package teamsync

import (
	"context"
	"log/slog"
	"sync"
)

// Monitor tracks whether the remote store is reachable. It has two states,
// online and offline, and notifies listeners on every transition.
type Monitor struct {
	mu        sync.RWMutex
	online    bool
	listeners []func(online bool)
	logger    *slog.Logger
}

// NewMonitor creates a monitor in the given initial state.
func NewMonitor(initialOnline bool, logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{online: initialOnline, logger: logger}
}

// Online reports the current state.
func (m *Monitor) Online() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.online
}

// OnChange registers fn to be called after every state transition.
func (m *Monitor) OnChange(fn func(online bool)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, fn)
}

// Set updates the state and reports whether it changed. Listeners run on the
// calling goroutine after the state is updated.
func (m *Monitor) Set(online bool) bool {
	m.mu.Lock()
	if m.online == online {
		m.mu.Unlock()
		return false
	}
	m.online = online
	listeners := append([]func(bool){}, m.listeners...)
	m.mu.Unlock()

	if online {
		m.logger.Info("connectivity restored")
	} else {
		m.logger.Info("connectivity lost")
	}
	for _, fn := range listeners {
		fn(online)
	}
	return true
}

// Run applies connectivity signals until ctx is done or signals is closed.
// It returns nil in both cases.
func (m *Monitor) Run(ctx context.Context, signals <-chan bool) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case online, ok := <-signals:
			if !ok {
				return nil
			}
			m.Set(online)
		}
	}
}
