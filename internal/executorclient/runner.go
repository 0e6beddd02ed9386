package executorclient

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"time"

	"github.com/kubently/kubently/internal/model"
)

// AllowedVerbs is the executor's locally enforced allow-list, the
// floor beneath whatever the capability record reports upstream —
// even if a fabric bug somehow dispatched a disallowed verb, the
// executor itself refuses to run it (defense in depth per spec.md §5).
var AllowedVerbs = map[string]bool{
	"get":      true,
	"describe": true,
	"logs":     true,
	"events":   true,
	"top":      true,
}

// Runner executes a single kubectl invocation per dispatched Command.
type Runner struct {
	KubectlPath    string
	DefaultTimeout time.Duration
	OutputCapBytes int
}

// NewRunner constructs a Runner.
func NewRunner(kubectlPath string, defaultTimeout time.Duration, outputCap int) *Runner {
	return &Runner{KubectlPath: kubectlPath, DefaultTimeout: defaultTimeout, OutputCapBytes: outputCap}
}

// Execute validates cmd.Args[0] against the allow-list, then runs
// kubectl with a wall-clock timeout bounded by both the runner's
// default and the command's own deadline, capturing combined output
// up to OutputCapBytes.
func (r *Runner) Execute(ctx context.Context, cmd *model.Command) *model.Result {
	start := time.Now()
	result := &model.Result{CommandID: cmd.ID, ExecutedAt: start.UTC().Format(time.RFC3339)}

	if len(cmd.Args) == 0 || !AllowedVerbs[cmd.Args[0]] {
		result.Status = model.StatusFailure
		result.Error = fmt.Sprintf("verb %q is not permitted", firstArg(cmd.Args))
		result.ExecutionTimeMs = time.Since(start).Milliseconds()
		return result
	}
	// Defense in depth: the dispatcher already rejects credential-
	// altering flags before publish, but the executor is the last gate
	// before exec.CommandContext actually runs the process.
	if err := model.ValidateArgs(cmd.Args); err != nil {
		result.Status = model.StatusFailure
		result.Error = err.Error()
		result.ExecutionTimeMs = time.Since(start).Milliseconds()
		return result
	}

	timeout := r.DefaultTimeout
	if cmd.DeadlineUnixMs > 0 {
		if remaining := time.Until(time.UnixMilli(cmd.DeadlineUnixMs)); remaining < timeout {
			timeout = remaining
		}
	}
	if timeout <= 0 {
		result.Status = model.StatusTimeout
		result.ExecutionTimeMs = time.Since(start).Milliseconds()
		return result
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	execCmd := exec.CommandContext(runCtx, r.KubectlPath, cmd.Args...)
	var out bytes.Buffer
	execCmd.Stdout = &out
	execCmd.Stderr = &out

	err := execCmd.Run()
	result.ExecutionTimeMs = time.Since(start).Milliseconds()

	output := out.Bytes()
	if len(output) > r.OutputCapBytes {
		output = output[:r.OutputCapBytes]
		result.Truncated = true
	}
	result.Output = output

	switch {
	case runCtx.Err() == context.DeadlineExceeded:
		result.Status = model.StatusTimeout
	case err != nil:
		result.Status = model.StatusFailure
		result.Error = err.Error()
	default:
		result.Status = model.StatusSuccess
	}
	return result
}

func firstArg(args []string) string {
	if len(args) == 0 {
		return ""
	}
	return args[0]
}
