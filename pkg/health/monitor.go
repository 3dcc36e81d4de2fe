package health

import (
	"context"
	"sort"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"

	"github.com/nightcloud/nightfleet/pkg/log"
	"github.com/nightcloud/nightfleet/pkg/metrics"
)

// Monitor runs a set of named dependency checks on an interval and
// mirrors their rolling status into the readiness endpoint.
type Monitor struct {
	config Config
	clock  clock.Clock
	logger zerolog.Logger

	mu       sync.RWMutex
	checkers map[string]Checker
	statuses map[string]*Status
}

// NewMonitor creates a Monitor with the given config. A nil clock means
// the wall clock.
func NewMonitor(config Config, clk clock.Clock) *Monitor {
	if clk == nil {
		clk = clock.New()
	}
	return &Monitor{
		config:   config,
		clock:    clk,
		logger:   log.WithComponent("health"),
		checkers: make(map[string]Checker),
		statuses: make(map[string]*Status),
	}
}

// Register adds a named checker. The dependency starts out healthy and
// is registered with the readiness endpoint immediately so readiness
// reflects it before the first probe completes.
func (m *Monitor) Register(name string, checker Checker) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkers[name] = checker
	m.statuses[name] = NewStatus()
	metrics.RegisterComponent(name, true, "awaiting first check")
}

// Run probes every dependency on the configured interval until ctx is
// cancelled. The first pass runs immediately.
func (m *Monitor) Run(ctx context.Context) {
	ticker := m.clock.Ticker(m.config.Interval)
	defer ticker.Stop()

	m.RunChecks(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.RunChecks(ctx)
		}
	}
}

// RunChecks executes one probe pass over all registered checkers.
func (m *Monitor) RunChecks(ctx context.Context) {
	for _, name := range m.names() {
		m.runOne(ctx, name)
	}
}

func (m *Monitor) runOne(ctx context.Context, name string) {
	m.mu.RLock()
	checker := m.checkers[name]
	status := m.statuses[name]
	m.mu.RUnlock()
	if checker == nil {
		return
	}

	checkCtx, cancel := context.WithTimeout(ctx, m.config.Timeout)
	result := checker.Check(checkCtx)
	cancel()

	m.mu.Lock()
	status.Update(result, m.config)
	healthy := status.Healthy
	m.mu.Unlock()

	metrics.UpdateComponent(name, healthy, result.Message)

	if !result.Healthy {
		m.logger.Warn().
			Str("check", name).
			Str("type", string(checker.Type())).
			Str("message", result.Message).
			Bool("healthy", healthy).
			Msg("Dependency check failed")
	} else {
		m.logger.Debug().
			Str("check", name).
			Dur("duration", result.Duration).
			Msg("Dependency check passed")
	}
}

// StatusOf returns a copy of the rolling status for a named dependency.
func (m *Monitor) StatusOf(name string) (Status, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	status, ok := m.statuses[name]
	if !ok {
		return Status{}, false
	}
	return *status, true
}

func (m *Monitor) names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.checkers))
	for name := range m.checkers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
