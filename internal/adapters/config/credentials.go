package config

import (
	"fmt"
	"strings"

	"github.com/actuallyrizzn/puppet-engine/pkg/models"
)

// Env abstracts environment lookup so credential resolution stays a
// pure function in tests.
type Env func(key string) string

// ResolveTwitterCredentials picks the microblog credential set for an
// agent. Resolution order: agent-config inline, then the global
// environment defaults, then error.
func ResolveTwitterCredentials(agent *models.Agent, cfg *TwitterConfig) (*models.TwitterCredentials, error) {
	if agent.TwitterCredentials.Configured() {
		return agent.TwitterCredentials, nil
	}

	global := &models.TwitterCredentials{
		APIKey:            cfg.APIKey,
		APISecret:         cfg.APISecret,
		AccessToken:       cfg.AccessToken,
		AccessTokenSecret: cfg.AccessTokenSecret,
		BearerToken:       cfg.BearerToken,
	}
	if global.Configured() {
		return global, nil
	}

	return nil, fmt.Errorf("no twitter credentials for agent %s", agent.ID)
}

// ResolveSolanaKey picks the chain signing key for an agent.
// Resolution order: agent-config inline, then the per-agent env var
// SOLANA_PRIVATE_KEY_<AGENT_ID_UPPER_SNAKE>, then the global
// SOLANA_PRIVATE_KEY, then error.
func ResolveSolanaKey(agent *models.Agent, getenv Env) (string, error) {
	if agent.SolanaIntegration != nil && agent.SolanaIntegration.PrivateKey != "" {
		return agent.SolanaIntegration.PrivateKey, nil
	}

	perAgent := "SOLANA_PRIVATE_KEY_" + AgentEnvSuffix(agent.ID)
	if key := getenv(perAgent); key != "" {
		return key, nil
	}

	if key := getenv("SOLANA_PRIVATE_KEY"); key != "" {
		return key, nil
	}

	return "", fmt.Errorf("no solana private key for agent %s", agent.ID)
}

// AgentEnvSuffix converts an agent slug to the UPPER_SNAKE form used
// in per-agent environment variable names.
func AgentEnvSuffix(agentID string) string {
	return strings.ToUpper(strings.ReplaceAll(agentID, "-", "_"))
}
