package llm

import (
	"context"
	"fmt"
	"sync"
)

// FakeProvider is a deterministic in-memory provider for tests. It
// replays scripted responses in order, falling back to echoing the
// instruction when the script runs out.
type FakeProvider struct {
	mu           sync.Mutex
	responses    []string
	calls        int
	instructions []string
	embedDim     int
	failures     int // errors to return before succeeding
}

// NewFakeProvider creates a fake with optional scripted responses
func NewFakeProvider(responses ...string) *FakeProvider {
	return &FakeProvider{responses: responses, embedDim: 16}
}

// FailNext makes the next n Generate calls return an error
func (f *FakeProvider) FailNext(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures = n
}

// Calls returns how many Generate calls were made
func (f *FakeProvider) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// Instructions returns the instructions passed to Generate, in order
func (f *FakeProvider) Instructions() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.instructions...)
}

func (f *FakeProvider) Name() string {
	return "fake"
}

// Generate replays the script, or echoes the instruction
func (f *FakeProvider) Generate(ctx context.Context, prompt, instruction string, params Params) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls++
	f.instructions = append(f.instructions, instruction)
	if f.failures > 0 {
		f.failures--
		return "", fmt.Errorf("fake provider scripted failure")
	}

	if len(f.responses) > 0 {
		resp := f.responses[0]
		f.responses = f.responses[1:]
		return resp, nil
	}

	return "echo: " + instruction, nil
}

// Embed returns a deterministic vector derived from the text bytes
func (f *FakeProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	vec := make([]float32, f.embedDim)
	for i, ch := range text {
		vec[i%f.embedDim] += float32(ch%13) / 13
	}
	return vec, nil
}

func (f *FakeProvider) Healthcheck(ctx context.Context) error {
	return nil
}
