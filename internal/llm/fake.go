package llm

import (
	"context"
	"encoding/json"
	"sync"
)

// FakeClient is a scripted Client for tests. Responses are consumed in
// order; when the script runs out the last entry repeats.
type FakeClient struct {
	mu        sync.Mutex
	responses []FakeResponse
	calls     []FakeCall
}

// FakeResponse is one scripted reply.
type FakeResponse struct {
	Raw json.RawMessage
	Err error
}

// FakeCall records one invocation for assertions.
type FakeCall struct {
	Prompt string
	Input  any
}

// NewFakeClient creates a FakeClient with the given script.
func NewFakeClient(responses ...FakeResponse) *FakeClient {
	return &FakeClient{responses: responses}
}

func (f *FakeClient) Name() string { return "fake" }
func (f *FakeClient) Close() error { return nil }

func (f *FakeClient) GenerateJSON(ctx context.Context, prompt string, input any) (json.RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, FakeCall{Prompt: prompt, Input: input})
	if len(f.responses) == 0 {
		return json.RawMessage(`{}`), nil
	}
	idx := len(f.calls) - 1
	if idx >= len(f.responses) {
		idx = len(f.responses) - 1
	}
	r := f.responses[idx]
	return r.Raw, r.Err
}

// Calls returns a copy of the recorded invocations.
func (f *FakeClient) Calls() []FakeCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]FakeCall, len(f.calls))
	copy(out, f.calls)
	return out
}

// FakeProvider serves the same client for both tiers, or distinct ones
// when Reasoning is set.
type FakeProvider struct {
	Fast      Client
	Reasoning Client
}

func (p *FakeProvider) Client(tier Tier) Client {
	if tier == TierReasoning && p.Reasoning != nil {
		return p.Reasoning
	}
	return p.Fast
}

func (p *FakeProvider) Close() error { return nil }
