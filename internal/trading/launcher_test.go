package trading

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/actuallyrizzn/puppet-engine/internal/adapters/solana"
	"github.com/actuallyrizzn/puppet-engine/pkg/models"
)

// a 64-byte all-zero key, valid for simulation clients
var testKey = strings.Repeat("1", 64)

func simClient(t *testing.T) *solana.Client {
	t.Helper()
	client, err := solana.NewClient("http://localhost:0", testKey, true)
	if err != nil {
		t.Fatalf("failed to build simulation client: %v", err)
	}
	return client
}

func launchAgent() *models.Agent {
	return &models.Agent{
		ID:          "launch-agent",
		Name:        "Launch Agent",
		Description: "a persona with a token",
	}
}

func TestEnsureLaunchedIsOneShot(t *testing.T) {
	l := NewLauncher(t.TempDir())
	client := simClient(t)
	ctx := context.Background()

	state, launched, err := l.EnsureLaunched(ctx, launchAgent(), client)
	if err != nil {
		t.Fatalf("launch failed: %v", err)
	}
	if !launched {
		t.Error("first call should perform the launch")
	}
	if !state.Launched || state.MintAddress == "" {
		t.Fatalf("incomplete launch state: %+v", state)
	}
	if !strings.HasPrefix(state.Link, "https://pump.fun/") {
		t.Errorf("unexpected launch link: %s", state.Link)
	}

	again, launched, err := l.EnsureLaunched(ctx, launchAgent(), client)
	if err != nil {
		t.Fatalf("repeat call failed: %v", err)
	}
	if launched {
		t.Error("repeat call must not launch again")
	}
	if again.MintAddress != state.MintAddress {
		t.Errorf("repeat call should return the stored mint, got %s", again.MintAddress)
	}
}

func TestLaunchStateSurvivesRestart(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	first := NewLauncher(dir)
	state, _, err := first.EnsureLaunched(ctx, launchAgent(), simClient(t))
	if err != nil {
		t.Fatalf("launch failed: %v", err)
	}

	// a fresh launcher over the same dir sees the recorded launch
	second := NewLauncher(dir)
	stored, err := second.State("launch-agent")
	if err != nil {
		t.Fatalf("state load failed: %v", err)
	}
	if !stored.Launched || stored.MintAddress != state.MintAddress {
		t.Errorf("stored state does not match: %+v", stored)
	}

	if _, launched, _ := second.EnsureLaunched(ctx, launchAgent(), simClient(t)); launched {
		t.Error("a restart must not trigger a second launch")
	}
}

func TestLaunchStateEmptyByDefault(t *testing.T) {
	l := NewLauncher(t.TempDir())

	state, err := l.State("never-launched")
	if err != nil {
		t.Fatalf("state load failed: %v", err)
	}
	if state.Launched {
		t.Error("an agent with no record is not launched")
	}
}

func TestLaunchStateCorruptFileIsAnError(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "launch-agent-token-state.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}

	l := NewLauncher(dir)
	if _, _, err := l.EnsureLaunched(context.Background(), launchAgent(), simClient(t)); err == nil {
		t.Error("corrupt state must not be silently replaced")
	}
}

func TestSymbolFor(t *testing.T) {
	cases := []struct {
		id   string
		want string
	}{
		{"claudia", "CLAUDI"},
		{"bob", "BOB"},
		{"my-agent-x", "MYAGEN"},
	}
	for _, tc := range cases {
		if got := symbolFor(&models.Agent{ID: tc.id}); got != tc.want {
			t.Errorf("symbolFor(%q) = %q, want %q", tc.id, got, tc.want)
		}
	}
}
