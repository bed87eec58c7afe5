package redis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/amyangfei/redlock-go/v3/redlock"
	"go.uber.org/zap"

	"github.com/actuallyrizzn/puppet-engine/pkg/logger"
)

const (
	lockTTL           = 30 * time.Second
	lockRenewInterval = 10 * time.Second
)

// AgentLock is a distributed ownership lock for one agent. When the
// fleet runs on several replicas, exactly one replica drives each
// persona; the others skip it.
type AgentLock struct {
	lockManager *redlock.RedLock
	agentID     string
	lockName    string

	mu     sync.Mutex
	locked bool
	stop   chan struct{}
}

// NewAgentLock creates a lock handle for one agent
func NewAgentLock(lockManager *redlock.RedLock, agentID string) *AgentLock {
	return &AgentLock{
		lockManager: lockManager,
		agentID:     agentID,
		lockName:    fmt.Sprintf("persona:lock:%s", agentID),
	}
}

// TryAcquire attempts to take ownership of the agent. Returns false
// when another replica already owns it. On success a renewal goroutine
// keeps the lock alive until Release.
func (l *AgentLock) TryAcquire(ctx context.Context) (bool, error) {
	expiry, err := l.lockManager.Lock(ctx, l.lockName, lockTTL)
	if err != nil {
		logger.Debug("agent owned by another replica",
			zap.String("agent", l.agentID),
		)
		return false, nil
	}
	if expiry <= 0 {
		return false, fmt.Errorf("lock acquisition returned invalid expiry %v", expiry)
	}

	l.mu.Lock()
	l.locked = true
	l.stop = make(chan struct{})
	l.mu.Unlock()

	go l.renew()

	logger.Info("🤖 Agent ownership acquired", zap.String("agent", l.agentID))
	return true, nil
}

// Release gives up ownership
func (l *AgentLock) Release(ctx context.Context) error {
	l.mu.Lock()
	if !l.locked {
		l.mu.Unlock()
		return nil
	}
	l.locked = false
	close(l.stop)
	l.mu.Unlock()

	if err := l.lockManager.UnLock(ctx, l.lockName); err != nil {
		logger.Warn("⚠️ Failed to release agent lock (may have expired)",
			zap.String("agent", l.agentID),
			zap.Error(err),
		)
		return err
	}
	return nil
}

func (l *AgentLock) renew() {
	ticker := time.NewTicker(lockRenewInterval)
	defer ticker.Stop()

	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			_, err := l.lockManager.Lock(ctx, l.lockName, lockTTL)
			cancel()
			if err != nil {
				logger.Warn("⚠️ Agent lock renewal failed",
					zap.String("agent", l.agentID),
					zap.Error(err),
				)
			}
		}
	}
}
