package startup

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/Gobusters/ectologger"
)

type Dependency interface {
	GetName() string
	DependsOn() []string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

type Status int

const (
	StatusPending Status = iota
	StatusStarted
	StatusStopped
	StatusFailed
)

// Manager starts dependencies in dependency order, retrying the whole set with
// Fibonacci backoff until every dependency is up or attempts run out.
type Manager struct {
	dependencies map[string]Dependency
	statuses     map[string]Status
	order        []string
	logger       ectologger.Logger
	maxAttempts  int
	unit         time.Duration
}

func NewManager(logger ectologger.Logger, maxAttempts int) *Manager {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &Manager{
		dependencies: make(map[string]Dependency),
		statuses:     make(map[string]Status),
		logger:       logger,
		maxAttempts:  maxAttempts,
		unit:         time.Second,
	}
}

func (m *Manager) Add(dependency Dependency) {
	m.dependencies[dependency.GetName()] = dependency
}

func (m *Manager) Status(name string) Status {
	return m.statuses[name]
}

func (m *Manager) Start(ctx context.Context) error {
	names := make([]string, 0, len(m.dependencies))
	for name := range m.dependencies {
		names = append(names, name)
	}
	sort.Strings(names)

	var lastErr error
	a, b := 1, 1
	for attempt := 1; attempt <= m.maxAttempts; attempt++ {
		m.logger.WithContext(ctx).WithField("attempt", attempt).Infof("Beginning startup attempt %d", attempt)

		lastErr = nil
		for _, name := range names {
			if err := m.start(ctx, name, map[string]bool{}); err != nil {
				m.logger.WithContext(ctx).WithError(err).Errorf("Startup dependency '%s' attempt %d failed", name, attempt)
				lastErr = err
				break
			}
		}
		if lastErr == nil {
			return nil
		}
		if attempt == m.maxAttempts {
			break
		}

		wait := time.Duration(a) * m.unit
		m.logger.WithContext(ctx).Infof("Retrying startup in %v (attempt %d/%d)", wait, attempt, m.maxAttempts)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
		a, b = b, a+b
	}

	return fmt.Errorf("startup failed after %d attempts: %w", m.maxAttempts, lastErr)
}

func (m *Manager) start(ctx context.Context, name string, visiting map[string]bool) error {
	if m.statuses[name] == StatusStarted {
		return nil
	}
	dep, ok := m.dependencies[name]
	if !ok {
		return fmt.Errorf("unknown startup dependency '%s'", name)
	}
	if visiting[name] {
		return fmt.Errorf("startup dependency cycle at '%s'", name)
	}
	visiting[name] = true

	for _, parent := range dep.DependsOn() {
		if err := m.start(ctx, parent, visiting); err != nil {
			return err
		}
	}

	m.logger.WithContext(ctx).WithField("dependency", name).Infof("Starting dependency '%s'", name)
	if err := dep.Start(ctx); err != nil {
		m.statuses[name] = StatusFailed
		return err
	}
	m.statuses[name] = StatusStarted
	m.order = append(m.order, name)
	return nil
}

// Stop stops started dependencies in reverse start order.
func (m *Manager) Stop(ctx context.Context) error {
	var firstErr error
	for i := len(m.order) - 1; i >= 0; i-- {
		name := m.order[i]
		if m.statuses[name] != StatusStarted {
			continue
		}
		m.logger.WithContext(ctx).WithField("dependency", name).Infof("Stopping dependency '%s'", name)
		if err := m.dependencies[name].Stop(ctx); err != nil {
			m.logger.WithContext(ctx).WithError(err).Errorf("Failed to stop dependency '%s'", name)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		m.statuses[name] = StatusStopped
	}
	m.order = nil
	return firstErr
}

// Func adapts plain functions to a Dependency.
type Func struct {
	Name      string
	Parents   []string
	StartFunc func(ctx context.Context) error
	StopFunc  func(ctx context.Context) error
}

func (f Func) GetName() string { return f.Name }

func (f Func) DependsOn() []string { return f.Parents }

func (f Func) Start(ctx context.Context) error {
	if f.StartFunc == nil {
		return nil
	}
	return f.StartFunc(ctx)
}

func (f Func) Stop(ctx context.Context) error {
	if f.StopFunc == nil {
		return nil
	}
	return f.StopFunc(ctx)
}
