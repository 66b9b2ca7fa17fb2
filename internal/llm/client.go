package llm

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/chartforge/chartforge/pkg/schema"
)

// Tier selects between the cheap low-latency model and the stronger
// reasoning model of a provider. Planning and repair run on the reasoning
// tier; per-chart generation runs on the fast tier.
type Tier string

const (
	TierFast      Tier = "fast"
	TierReasoning Tier = "reasoning"
)

// Client is the structured-output capability: given a prompt and an input
// payload, produce a JSON value or fail. The pipeline never assumes a
// specific provider SDK shape beyond this.
type Client interface {
	GenerateJSON(ctx context.Context, prompt string, input any) (json.RawMessage, error)
	Name() string
	Close() error
}

// Provider hands out a Client per tier.
type Provider interface {
	Client(tier Tier) Client
	Close() error
}

// DefaultCallTimeout bounds the wall-clock duration of one model call.
const DefaultCallTimeout = 30 * time.Second

// timeoutClient enforces a per-call deadline and maps transport failures
// into the structured error taxonomy.
type timeoutClient struct {
	inner   Client
	timeout time.Duration
}

// WithTimeout wraps a client so every call carries an upper wall-clock
// bound. Deadline overruns surface as UPSTREAM_TIMEOUT, everything else
// the provider reports as UPSTREAM_MODEL_ERROR.
func WithTimeout(inner Client, timeout time.Duration) Client {
	if timeout <= 0 {
		timeout = DefaultCallTimeout
	}
	return &timeoutClient{inner: inner, timeout: timeout}
}

func (c *timeoutClient) GenerateJSON(ctx context.Context, prompt string, input any) (json.RawMessage, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	raw, err := c.inner.GenerateJSON(callCtx, prompt, input)
	if err == nil {
		return raw, nil
	}

	var cfErr *schema.Error
	if errors.As(err, &cfErr) {
		return nil, err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return nil, schema.NewErrorf(schema.ErrCodeUpstreamTimeout,
			"%s exceeded %s call budget", c.inner.Name(), c.timeout).WithCause(err)
	}
	return nil, schema.NewErrorf(schema.ErrCodeUpstreamModel,
		"%s call failed: %s", c.inner.Name(), err.Error()).WithCause(err)
}

func (c *timeoutClient) Name() string { return c.inner.Name() }
func (c *timeoutClient) Close() error { return c.inner.Close() }

// tieredProvider is a fixed fast/reasoning pair.
type tieredProvider struct {
	fast      Client
	reasoning Client
}

// NewTieredProvider builds a Provider from a fast and a reasoning client,
// both wrapped with the call timeout.
func NewTieredProvider(fast, reasoning Client, timeout time.Duration) Provider {
	return &tieredProvider{
		fast:      WithTimeout(fast, timeout),
		reasoning: WithTimeout(reasoning, timeout),
	}
}

func (p *tieredProvider) Client(tier Tier) Client {
	if tier == TierReasoning {
		return p.reasoning
	}
	return p.fast
}

func (p *tieredProvider) Close() error {
	errFast := p.fast.Close()
	errReasoning := p.reasoning.Close()
	if errFast != nil {
		return errFast
	}
	return errReasoning
}
