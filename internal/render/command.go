package render

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/chartforge/chartforge/pkg/schema"
)

const defaultRenderTimeout = 30 * time.Second

// CommandProbe shells out to an external mermaid renderer (e.g. mmdc).
// The markup is written to a temp file, the command gets input and output
// paths appended, and a non-zero exit is reported as RENDER_FAILED with
// the renderer's stderr as the message.
type CommandProbe struct {
	command string
	args    []string
	timeout time.Duration
}

// NewCommandProbe creates a CommandProbe for the given renderer command.
func NewCommandProbe(command string, args []string, timeout time.Duration) *CommandProbe {
	if timeout <= 0 {
		timeout = defaultRenderTimeout
	}
	return &CommandProbe{command: command, args: args, timeout: timeout}
}

func (p *CommandProbe) Render(ctx context.Context, chart string) error {
	dir, err := os.MkdirTemp("", "chartforge-render-*")
	if err != nil {
		return schema.NewError(schema.ErrCodeStore, "create render scratch dir").WithCause(err)
	}
	defer os.RemoveAll(dir)

	in := filepath.Join(dir, "chart.mmd")
	out := filepath.Join(dir, "chart.svg")
	if err := os.WriteFile(in, []byte(chart), 0o600); err != nil {
		return schema.NewError(schema.ErrCodeStore, "write render input").WithCause(err)
	}

	execCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	args := append(append([]string{}, p.args...), "-i", in, "-o", out)
	cmd := exec.CommandContext(execCtx, p.command, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if errors.Is(execCtx.Err(), context.DeadlineExceeded) {
			return schema.NewErrorf(schema.ErrCodeUpstreamTimeout,
				"renderer exceeded %s", p.timeout).WithCause(err)
		}
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return schema.NewError(schema.ErrCodeRenderFailed, msg).WithCause(err)
	}
	return nil
}
