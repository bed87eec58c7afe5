package agents

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/actuallyrizzn/puppet-engine/pkg/logger"
	"github.com/actuallyrizzn/puppet-engine/pkg/models"
)

// Lock is distributed ownership of one agent across fleet replicas
type Lock interface {
	TryAcquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

// LockFactory builds ownership locks; nil means single-replica mode
type LockFactory interface {
	AgentLock(agentID string) Lock
}

// Notifier receives fleet lifecycle alerts
type Notifier interface {
	NotifyAgentStarted(agentID, name string)
	NotifyAgentStopped(agentID string)
}

// Manager owns the fleet: it acquires per-agent locks, starts and
// stops runtimes, and serves lookups for the control API.
type Manager struct {
	mu       sync.RWMutex
	runtimes map[string]*Runtime
	locks    map[string]Lock
	owned    map[string]bool
	order    []string

	lockFactory LockFactory
	notifier    Notifier
}

// NewManager creates an empty fleet manager
func NewManager(lockFactory LockFactory, notifier Notifier) *Manager {
	return &Manager{
		runtimes:    make(map[string]*Runtime),
		locks:       make(map[string]Lock),
		owned:       make(map[string]bool),
		lockFactory: lockFactory,
		notifier:    notifier,
	}
}

// Add registers one agent's runtime without starting it
func (m *Manager) Add(runtime *Runtime) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := runtime.Agent().ID
	m.runtimes[id] = runtime
	m.order = append(m.order, id)
	if m.lockFactory != nil {
		m.locks[id] = m.lockFactory.AgentLock(id)
	}
}

// StartAll starts every registered agent this replica can own.
// Agents held by another replica are skipped, not failed.
func (m *Manager) StartAll(ctx context.Context) error {
	m.mu.RLock()
	order := append([]string(nil), m.order...)
	m.mu.RUnlock()

	started := 0
	for _, id := range order {
		ok, err := m.StartAgent(ctx, id)
		if err != nil {
			return err
		}
		if ok {
			started++
		}
	}

	logger.Info("🚀 Fleet started",
		zap.Int("owned", started),
		zap.Int("registered", len(order)),
	)
	return nil
}

// StartAgent starts one agent, acquiring its lock first. Returns false
// without error when another replica owns the agent.
func (m *Manager) StartAgent(ctx context.Context, agentID string) (bool, error) {
	m.mu.Lock()
	runtime, ok := m.runtimes[agentID]
	if !ok {
		m.mu.Unlock()
		return false, fmt.Errorf("unknown agent %s", agentID)
	}
	if m.owned[agentID] {
		m.mu.Unlock()
		return true, nil
	}
	lock := m.locks[agentID]
	m.mu.Unlock()

	if lock != nil {
		acquired, err := lock.TryAcquire(ctx)
		if err != nil {
			return false, fmt.Errorf("lock acquisition for %s: %w", agentID, err)
		}
		if !acquired {
			return false, nil
		}
	}

	if err := runtime.Start(ctx); err != nil {
		if lock != nil {
			_ = lock.Release(ctx)
		}
		return false, err
	}

	m.mu.Lock()
	m.owned[agentID] = true
	m.mu.Unlock()

	if m.notifier != nil {
		m.notifier.NotifyAgentStarted(agentID, runtime.Agent().Name)
	}
	return true, nil
}

// StopAgent stops one agent and releases its lock
func (m *Manager) StopAgent(ctx context.Context, agentID string) error {
	m.mu.Lock()
	runtime, ok := m.runtimes[agentID]
	owned := m.owned[agentID]
	lock := m.locks[agentID]
	delete(m.owned, agentID)
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("unknown agent %s", agentID)
	}
	if !owned {
		return nil
	}

	runtime.Stop()
	if lock != nil {
		_ = lock.Release(ctx)
	}
	if m.notifier != nil {
		m.notifier.NotifyAgentStopped(agentID)
	}
	return nil
}

// StopAll stops every owned agent, in parallel, and waits
func (m *Manager) StopAll(ctx context.Context) {
	m.mu.RLock()
	var ownedIDs []string
	for id := range m.owned {
		ownedIDs = append(ownedIDs, id)
	}
	m.mu.RUnlock()

	var wg sync.WaitGroup
	for _, id := range ownedIDs {
		wg.Add(1)
		go func(agentID string) {
			defer wg.Done()
			if err := m.StopAgent(ctx, agentID); err != nil {
				logger.Warn("⚠️ Failed to stop agent", zap.String("agent", agentID), zap.Error(err))
			}
		}(id)
	}
	wg.Wait()

	logger.Info("🛑 Fleet stopped", zap.Int("agents", len(ownedIDs)))
}

// Runtime returns one agent's runtime
func (m *Manager) Runtime(agentID string) (*Runtime, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	runtime, ok := m.runtimes[agentID]
	return runtime, ok
}

// Owned reports whether this replica runs the agent
func (m *Manager) Owned(agentID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.owned[agentID]
}

// Summaries returns the public view of every registered agent, sorted
// by id.
func (m *Manager) Summaries() []models.PublicSummary {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]models.PublicSummary, 0, len(m.runtimes))
	for _, runtime := range m.runtimes {
		out = append(out, runtime.Summary())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Count returns registered and owned agent counts
func (m *Manager) Count() (registered, owned int) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.runtimes), len(m.owned)
}
