package steps

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/systemstart/shipyard/pkg/api"
)

func TestDockerStep_BuildsOnceAndPushesEveryTag(t *testing.T) {
	dir := t.TempDir()
	writeTestFile(t, dir, "Dockerfile", "FROM python:3.7\n")

	engine := &fakeEngine{}
	step := NewDockerStep("image", &api.DockerConfig{
		File:   "./Dockerfile",
		Labels: map[string]string{"vendor": "jbr"},
		Push: api.PushConfig{
			URL:  "https://registry.jetbrains.team/p/rrr/rrrpython/py37",
			Tags: []string{"0.0.1", "latest", "stable"},
		},
	}, engine)

	var out bytes.Buffer
	result, err := step.Run(context.Background(), StepContext{WorkDir: dir, Output: &out})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	wantRefs := []string{
		"registry.jetbrains.team/p/rrr/rrrpython/py37:0.0.1",
		"registry.jetbrains.team/p/rrr/rrrpython/py37:latest",
		"registry.jetbrains.team/p/rrr/rrrpython/py37:stable",
	}
	if len(engine.builds) != 1 {
		t.Fatalf("expected 1 build, got %d", len(engine.builds))
	}
	if diff := cmp.Diff(wantRefs, engine.pushes); diff != "" {
		t.Errorf("pushes mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(wantRefs, result.Pushed); diff != "" {
		t.Errorf("result mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(BuildRequest{
		ContextDir: dir,
		Dockerfile: "Dockerfile",
		Tags:       wantRefs,
		Labels:     map[string]string{"vendor": "jbr"},
	}, engine.builds[0]); diff != "" {
		t.Errorf("build request mismatch (-want +got):\n%s", diff)
	}
	if result.ImageID != "sha256:built" {
		t.Errorf("unexpected image id %q", result.ImageID)
	}
	if out.String() != "Successfully built\n" {
		t.Errorf("unexpected output %q", out.String())
	}
}

func TestDockerStep_RepeatedPushSameTags(t *testing.T) {
	dir := t.TempDir()
	writeTestFile(t, dir, "Dockerfile", "FROM alpine\n")

	engine := &fakeEngine{}
	step := NewDockerStep("image", &api.DockerConfig{
		File: "Dockerfile",
		Push: api.PushConfig{URL: "registry.example.com/team/app", Tags: []string{"1.0"}},
	}, engine)

	for range 2 {
		if _, err := step.Run(context.Background(), StepContext{WorkDir: dir}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	want := []string{"registry.example.com/team/app:1.0", "registry.example.com/team/app:1.0"}
	if diff := cmp.Diff(want, engine.pushes); diff != "" {
		t.Errorf("pushes mismatch (-want +got):\n%s", diff)
	}
}

func TestDockerStep_MissingDockerfile(t *testing.T) {
	engine := &fakeEngine{}
	step := NewDockerStep("image", &api.DockerConfig{
		File: "./Dockerfile",
		Push: api.PushConfig{URL: "registry.example.com/team/app"},
	}, engine)

	_, err := step.Run(context.Background(), StepContext{WorkDir: t.TempDir()})
	mustContain(t, err, "dockerfile ./Dockerfile")

	if kind, _ := KindOf(err); kind != BuildFailure {
		t.Errorf("expected BuildFailure, got %q", kind)
	}
	if len(engine.builds) != 0 || len(engine.pushes) != 0 {
		t.Errorf("expected no engine calls, got builds=%d pushes=%d", len(engine.builds), len(engine.pushes))
	}
}

func TestDockerStep_DockerfileOutsideContext(t *testing.T) {
	dir := t.TempDir()
	writeTestFile(t, dir, "Dockerfile", "FROM alpine\n")

	step := NewDockerStep("image", &api.DockerConfig{
		File:    "Dockerfile",
		Context: "app",
		Push:    api.PushConfig{URL: "registry.example.com/team/app"},
	}, &fakeEngine{})

	_, err := step.Run(context.Background(), StepContext{WorkDir: dir})
	mustContain(t, err, "outside build context")
	if kind, _ := KindOf(err); kind != BuildFailure {
		t.Errorf("expected BuildFailure, got %q", kind)
	}
}

func TestDockerStep_BuildErrorSkipsPush(t *testing.T) {
	dir := t.TempDir()
	writeTestFile(t, dir, "Dockerfile", "FROM\n")

	engine := &fakeEngine{buildErr: errors.New("dockerfile parse error")}
	step := NewDockerStep("image", &api.DockerConfig{
		File: "Dockerfile",
		Push: api.PushConfig{URL: "registry.example.com/team/app", Tags: []string{"a", "b"}},
	}, engine)

	_, err := step.Run(context.Background(), StepContext{WorkDir: dir})
	mustContain(t, err, "dockerfile parse error")
	if kind, _ := KindOf(err); kind != BuildFailure {
		t.Errorf("expected BuildFailure, got %q", kind)
	}
	if len(engine.pushes) != 0 {
		t.Errorf("expected no pushes, got %v", engine.pushes)
	}
}

func TestDockerStep_PushErrorStopsRemainingTags(t *testing.T) {
	dir := t.TempDir()
	writeTestFile(t, dir, "Dockerfile", "FROM alpine\n")

	engine := &fakeEngine{pushErr: map[string]error{
		"registry.example.com/team/app:b": errors.New("unauthorized"),
	}}
	step := NewDockerStep("image", &api.DockerConfig{
		File: "Dockerfile",
		Push: api.PushConfig{URL: "registry.example.com/team/app", Tags: []string{"a", "b", "c"}},
	}, engine)

	result, err := step.Run(context.Background(), StepContext{WorkDir: dir})
	mustContain(t, err, "unauthorized")
	if kind, _ := KindOf(err); kind != PushFailure {
		t.Errorf("expected PushFailure, got %q", kind)
	}
	if diff := cmp.Diff([]string{"registry.example.com/team/app:a"}, result.Pushed); diff != "" {
		t.Errorf("pushed mismatch (-want +got):\n%s", diff)
	}
	if len(engine.pushes) != 2 {
		t.Errorf("expected 2 push attempts, got %v", engine.pushes)
	}
}

func TestDockerStep_InvalidPushTarget(t *testing.T) {
	dir := t.TempDir()
	writeTestFile(t, dir, "Dockerfile", "FROM alpine\n")

	engine := &fakeEngine{}
	step := NewDockerStep("image", &api.DockerConfig{
		File: "Dockerfile",
		Push: api.PushConfig{URL: "Registry.Example.com/Team/App"},
	}, engine)

	_, err := step.Run(context.Background(), StepContext{WorkDir: dir})
	if kind, _ := KindOf(err); kind != PushFailure {
		t.Fatalf("expected PushFailure, got %v", err)
	}
	if len(engine.builds) != 0 {
		t.Errorf("expected no build for invalid target")
	}
}
