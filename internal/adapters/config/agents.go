package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/actuallyrizzn/puppet-engine/pkg/logger"
	"github.com/actuallyrizzn/puppet-engine/pkg/models"
)

// LoadAgents reads every *.json persona document in dir, validates it,
// and returns the agents keyed by id. Duplicate ids are an error.
func LoadAgents(dir string) (map[string]*models.Agent, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read agents dir %s: %w", dir, err)
	}

	agents := make(map[string]*models.Agent)
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}

		path := filepath.Join(dir, entry.Name())
		agent, err := loadAgentFile(path)
		if err != nil {
			return nil, err
		}

		if _, exists := agents[agent.ID]; exists {
			return nil, fmt.Errorf("duplicate agent id %q in %s", agent.ID, path)
		}
		agents[agent.ID] = agent

		logger.Info("loaded agent",
			zap.String("agent_id", agent.ID),
			zap.String("name", agent.Name),
			zap.String("file", entry.Name()),
		)
	}

	if len(agents) == 0 {
		return nil, fmt.Errorf("no agent documents found in %s", dir)
	}

	return agents, nil
}

func loadAgentFile(path string) (*models.Agent, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	var agent models.Agent
	if err := json.Unmarshal(data, &agent); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	applyAgentDefaults(&agent)

	if err := agent.Validate(); err != nil {
		return nil, fmt.Errorf("invalid agent document %s: %w", path, err)
	}

	return &agent, nil
}

// applyAgentDefaults fills conservative defaults so sparse persona
// documents still produce a workable agent.
func applyAgentDefaults(agent *models.Agent) {
	agent.Active = true

	pf := &agent.Behavior.PostFrequency
	if pf.MinHoursBetweenPosts <= 0 {
		pf.MinHoursBetweenPosts = 2
	}
	if pf.MaxHoursBetweenPosts < pf.MinHoursBetweenPosts {
		pf.MaxHoursBetweenPosts = pf.MinHoursBetweenPosts * 3
	}
	if pf.Timezone == "" {
		pf.Timezone = "UTC"
	}

	if agent.Behavior.MentionMode == "" {
		agent.Behavior.MentionMode = models.MentionAuto
	}

	md := &agent.Behavior.MentionDelay
	if md.MaxSeconds < md.MinSeconds {
		md.MaxSeconds = md.MinSeconds
	}

	tr := &agent.Behavior.Trading
	if tr.Enabled {
		if tr.MaxDailyTrades <= 0 {
			tr.MaxDailyTrades = 3
		}
		if tr.MaxHoursBetweenTrades < tr.MinHoursBetweenTrades {
			tr.MaxHoursBetweenTrades = tr.MinHoursBetweenTrades
		}
	}
}
