package render

import "context"

// Probe attempts to render diagram markup and reports success or a
// structured failure. The pipeline treats it as an oracle: a nil return
// means the markup renders, a RENDER_FAILED error carries the engine's
// message verbatim for the repair prompt.
type Probe interface {
	Render(ctx context.Context, chart string) error
}

// FakeProbe is a scripted Probe for tests: errors are consumed in order,
// nil entries mean success, and an exhausted script keeps returning the
// last entry.
type FakeProbe struct {
	Errs  []error
	calls int
}

func (p *FakeProbe) Render(ctx context.Context, chart string) error {
	if len(p.Errs) == 0 {
		return nil
	}
	idx := p.calls
	p.calls++
	if idx >= len(p.Errs) {
		idx = len(p.Errs) - 1
	}
	return p.Errs[idx]
}

// Calls reports how many times the probe was invoked.
func (p *FakeProbe) Calls() int { return p.calls }
