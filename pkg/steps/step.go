package steps

import (
	"context"
	"io"
	"time"
)

// StepContext provides the runtime context for a step.
type StepContext struct {
	WorkDir string    // checkout the job runs against
	RunID   string    // identifies the job run, used for container labels
	Output  io.Writer // receives build, push and script output
	Auth    RegistryAuth
}

// StepResult holds the outcome of a step. Steps return a partial result
// alongside their error so callers can report what ran.
type StepResult struct {
	ExitCode int
	ImageID  string          // docker: built image
	Pushed   []string        // docker: references pushed, in order
	Commands []CommandResult // container: commands that were started
}

// CommandResult records one command of a container script.
type CommandResult struct {
	Line     string
	ExitCode int
	Duration time.Duration
}

// Step is the interface all job steps implement.
type Step interface {
	Name() string
	Run(ctx context.Context, sctx StepContext) (*StepResult, error)
}

func outputOf(sctx StepContext) io.Writer {
	if sctx.Output == nil {
		return io.Discard
	}
	return sctx.Output
}
