package steps

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/systemstart/shipyard/pkg/api"
)

type dockerStep struct {
	name   string
	cfg    *api.DockerConfig
	engine Engine
}

// NewDockerStep creates a docker build/push step.
func NewDockerStep(name string, cfg *api.DockerConfig, engine Engine) Step {
	return &dockerStep{name: name, cfg: cfg, engine: engine}
}

func (s *dockerStep) Name() string { return s.name }

// Run builds the image once, then pushes it once per tag. Nothing is pushed
// when the build fails.
func (s *dockerStep) Run(ctx context.Context, sctx StepContext) (*StepResult, error) {
	result := &StepResult{}

	contextDir := s.cfg.Context
	if contextDir == "" {
		contextDir = api.DefaultBuildContext
	}
	contextDir = filepath.Join(sctx.WorkDir, contextDir)
	dockerfile := filepath.Join(sctx.WorkDir, s.cfg.File)

	rel, err := filepath.Rel(contextDir, dockerfile)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return result, failure(BuildFailure, s.name, fmt.Errorf("dockerfile %s is outside build context %s", s.cfg.File, contextDir))
	}

	info, err := os.Stat(dockerfile)
	if err != nil {
		return result, failure(BuildFailure, s.name, fmt.Errorf("dockerfile %s: %w", s.cfg.File, err))
	}
	if info.IsDir() {
		return result, failure(BuildFailure, s.name, fmt.Errorf("dockerfile %s is a directory", s.cfg.File))
	}

	refs, err := PushReferences(s.cfg.Push.URL, s.cfg.Push.Tags)
	if err != nil {
		return result, failure(PushFailure, s.name, err)
	}

	slog.Info("building image", "step", s.name, "dockerfile", s.cfg.File, "context", contextDir, "tags", refs)

	imageID, err := s.engine.BuildImage(ctx, BuildRequest{
		ContextDir: contextDir,
		Dockerfile: filepath.ToSlash(rel),
		Tags:       refs,
		Labels:     s.cfg.Labels,
		Args:       s.cfg.Args,
	}, outputOf(sctx))
	if err != nil {
		return result, failure(BuildFailure, s.name, err)
	}
	result.ImageID = imageID

	for _, ref := range refs {
		slog.Info("pushing image", "step", s.name, "ref", ref)
		digest, err := s.engine.PushImage(ctx, ref, sctx.Auth, outputOf(sctx))
		if err != nil {
			return result, failure(PushFailure, s.name, fmt.Errorf("pushing %s: %w", ref, err))
		}
		slog.Debug("image pushed", "step", s.name, "ref", ref, "digest", digest)
		result.Pushed = append(result.Pushed, ref)
	}

	return result, nil
}
