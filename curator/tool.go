package curator

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"slices"
	"strings"
	"time"
)

// DefaultToolTimeout bounds one posting tool invocation.
const DefaultToolTimeout = 30 * time.Second

// ToolError carries the output of a failed posting tool invocation.
type ToolError struct {
	Args   []string
	Output string
	Err    error
}

func (e *ToolError) Error() string {
	out := strings.TrimSpace(e.Output)
	if out == "" {
		return fmt.Sprintf("posting tool %s: %v", strings.Join(e.Args, " "), e.Err)
	}
	return fmt.Sprintf("posting tool %s: %v: %s", strings.Join(e.Args, " "), e.Err, out)
}

func (e *ToolError) Unwrap() error { return e.Err }

// ExecPoster posts through an external command line tool:
//
//	<tool> <authArgs...>                     authenticate, must exit 0
//	<tool> <postArgs...> <channel> <text>    post one item
type ExecPoster struct {
	Tool     string
	AuthArgs []string
	PostArgs []string
	Channel  string
	Timeout  time.Duration // Zero means DefaultToolTimeout
	Logger   *slog.Logger
}

// Authenticate runs the auth command.
func (p *ExecPoster) Authenticate(ctx context.Context) error {
	if len(p.AuthArgs) == 0 {
		return nil
	}
	_, err := p.run(ctx, p.AuthArgs, false)
	return err
}

// Post runs the post command with text as the last argument.
func (p *ExecPoster) Post(ctx context.Context, text string) error {
	args := append(slices.Clone(p.PostArgs), p.Channel, text)
	out, err := p.run(ctx, args, true)
	if err != nil {
		return err
	}
	p.Logger.Debug("Posting tool output", "output", strings.TrimSpace(out))
	return nil
}

// run executes the tool. With redactText the last argument is left out of
// the returned error.
func (p *ExecPoster) run(ctx context.Context, args []string, redactText bool) (string, error) {
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = DefaultToolTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var out bytes.Buffer
	cmd := exec.CommandContext(ctx, p.Tool, args...)
	cmd.Stdout = &out
	cmd.Stderr = &out
	// Children that outlive a killed tool must not hold the pipes open.
	cmd.WaitDelay = time.Second
	startTime := time.Now()
	err := cmd.Run()
	p.Logger.Debug("Posting tool finished",
		"tool", p.Tool,
		"args", len(args),
		"duration_ms", time.Since(startTime).Milliseconds(),
		"error", err)
	if err != nil {
		logged := args
		if redactText && len(args) > 0 {
			logged = append(slices.Clone(args[:len(args)-1]), "<text>")
		}
		return out.String(), &ToolError{Args: append([]string{p.Tool}, logged...), Output: out.String(), Err: err}
	}
	return out.String(), nil
}
