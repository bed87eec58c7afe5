package trading

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/actuallyrizzn/puppet-engine/internal/adapters/solana"
	"github.com/actuallyrizzn/puppet-engine/pkg/logger"
	"github.com/actuallyrizzn/puppet-engine/pkg/models"
)

// Launcher performs each agent's one-shot token launch. The launch
// state lives in a per-agent JSON file written atomically, so a crash
// between launch and record can at worst re-read chain state, never
// double-launch after the record exists.
type Launcher struct {
	dataDir string
	mu      sync.Mutex
}

// NewLauncher creates a launcher persisting under dataDir
func NewLauncher(dataDir string) *Launcher {
	return &Launcher{dataDir: dataDir}
}

// EnsureLaunched launches the agent's token exactly once. Repeat calls
// return the stored state without touching the chain. The second
// return reports whether a launch happened on this call.
func (l *Launcher) EnsureLaunched(ctx context.Context, agent *models.Agent, client *solana.Client) (*models.TokenLaunchState, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	state, err := l.load(agent.ID)
	if err != nil {
		return nil, false, err
	}
	if state.Launched {
		return state, false, nil
	}

	params := solana.TokenParams{
		Name:        agent.Name,
		Symbol:      symbolFor(agent),
		Description: agent.Description,
	}

	result, err := client.LaunchToken(ctx, params)
	if err != nil {
		return nil, false, fmt.Errorf("token launch failed for %s: %w", agent.ID, err)
	}

	state = &models.TokenLaunchState{
		Launched:    true,
		MintAddress: result.MintAddress,
		LaunchedAt:  time.Now().UTC(),
		Link:        result.Link,
	}
	if err := l.save(agent.ID, state); err != nil {
		return nil, false, err
	}

	logger.Info("🚀 Token launched",
		zap.String("agent", agent.ID),
		zap.String("mint", result.MintAddress),
	)
	return state, true, nil
}

// State returns the stored launch state without launching
func (l *Launcher) State(agentID string) (*models.TokenLaunchState, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.load(agentID)
}

func (l *Launcher) load(agentID string) (*models.TokenLaunchState, error) {
	data, err := os.ReadFile(l.statePath(agentID))
	if os.IsNotExist(err) {
		return &models.TokenLaunchState{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read launch state: %w", err)
	}

	var state models.TokenLaunchState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("corrupt launch state for %s: %w", agentID, err)
	}
	return &state, nil
}

// save writes the state to a temp file then renames it into place
func (l *Launcher) save(agentID string, state *models.TokenLaunchState) error {
	if err := os.MkdirAll(l.dataDir, 0o755); err != nil {
		return fmt.Errorf("failed to create data dir: %w", err)
	}

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode launch state: %w", err)
	}

	path := l.statePath(agentID)
	tmp, err := os.CreateTemp(l.dataDir, agentID+"-token-state-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp state file: %w", err)
	}

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write launch state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to close launch state: %w", err)
	}

	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to commit launch state: %w", err)
	}
	return nil
}

func (l *Launcher) statePath(agentID string) string {
	return filepath.Join(l.dataDir, agentID+"-token-state.json")
}

// symbolFor derives a ticker from the agent id
func symbolFor(agent *models.Agent) string {
	clean := strings.ToUpper(strings.ReplaceAll(agent.ID, "-", ""))
	if len(clean) > 6 {
		clean = clean[:6]
	}
	return clean
}
