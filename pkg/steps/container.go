package steps

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"time"

	"github.com/systemstart/shipyard/pkg/api"
)

const (
	workspaceMount = "/workspace"
	removeTimeout  = 30 * time.Second
	runIDLabel     = "io.shipyard.run"
	stepNameLabel  = "io.shipyard.step"
	shellFlags     = "-ec"
)

type containerStep struct {
	name   string
	cfg    *api.ContainerConfig
	engine Engine
}

// NewContainerStep creates a container run step.
func NewContainerStep(name string, cfg *api.ContainerConfig, engine Engine) Step {
	return &containerStep{name: name, cfg: cfg, engine: engine}
}

func (s *containerStep) Name() string { return s.name }

// Run starts a container from the image with the checkout mounted at
// /workspace and runs the script's commands in order. The first non-zero
// exit stops the script; the container is always removed.
func (s *containerStep) Run(ctx context.Context, sctx StepContext) (*StepResult, error) {
	result := &StepResult{}

	commands, err := s.commands()
	if err != nil {
		return result, failure(ScriptFailure, s.name, err)
	}

	out := outputOf(sctx)

	slog.Info("pulling image", "step", s.name, "image", s.cfg.Image)
	if err := s.engine.EnsureImage(ctx, s.cfg.Image, sctx.Auth, out); err != nil {
		return result, failure(ImagePullFailure, s.name, fmt.Errorf("image %s: %w", s.cfg.Image, err))
	}

	workDir := s.cfg.WorkDir
	if workDir == "" {
		workDir = workspaceMount
	}

	id, err := s.engine.CreateContainer(ctx, ContainerRequest{
		Image:   s.cfg.Image,
		Env:     envList(s.cfg.Env),
		WorkDir: workDir,
		Mounts:  []Mount{{Source: sctx.WorkDir, Target: workspaceMount}},
		Labels:  map[string]string{runIDLabel: sctx.RunID, stepNameLabel: s.name},
	})
	if err != nil {
		return result, failure(ProvisionFailure, s.name, fmt.Errorf("creating container: %w", err))
	}
	defer s.remove(id)

	for _, cmd := range commands {
		slog.Info("running command", "step", s.name, "line", cmd.Line, "command", cmd.Text)

		start := time.Now()
		code, err := s.engine.Exec(ctx, id, ExecRequest{
			Cmd:     []string{"sh", shellFlags, cmd.Text},
			WorkDir: workDir,
		}, out)
		if err != nil {
			return result, failure(ProvisionFailure, s.name, fmt.Errorf("executing %q: %w", cmd.Text, err))
		}

		result.Commands = append(result.Commands, CommandResult{
			Line:     cmd.Text,
			ExitCode: code,
			Duration: time.Since(start),
		})
		result.ExitCode = code

		if code != 0 {
			return result, &StepError{
				Kind:     ScriptFailure,
				Step:     s.name,
				ExitCode: code,
				Err:      fmt.Errorf("command %q (line %d) exited with status %d", cmd.Text, cmd.Line, code),
			}
		}
	}

	return result, nil
}

func (s *containerStep) commands() ([]Command, error) {
	if s.cfg.SingleShell {
		return []Command{{Line: 1, Text: s.cfg.Script}}, nil
	}
	return ParseScript(s.cfg.Script)
}

func (s *containerStep) remove(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), removeTimeout)
	defer cancel()
	if err := s.engine.RemoveContainer(ctx, id); err != nil {
		slog.Warn("failed to remove container", "step", s.name, "container", id, "error", err)
	}
}

// envList converts an env map into sorted KEY=VALUE pairs.
func envList(env map[string]string) []string {
	if len(env) == 0 {
		return nil
	}
	list := make([]string, 0, len(env))
	for _, k := range slices.Sorted(maps.Keys(env)) {
		list = append(list, k+"="+env[k])
	}
	return list
}
