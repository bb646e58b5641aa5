package steps

import (
	"context"
	"io"
)

// Engine is the container engine the steps drive. DockerEngine is the
// production implementation.
type Engine interface {
	Ping(ctx context.Context) error
	BuildImage(ctx context.Context, req BuildRequest, out io.Writer) (string, error)
	PushImage(ctx context.Context, ref string, auth RegistryAuth, out io.Writer) (string, error)
	EnsureImage(ctx context.Context, ref string, auth RegistryAuth, out io.Writer) error
	CreateContainer(ctx context.Context, req ContainerRequest) (string, error)
	Exec(ctx context.Context, containerID string, req ExecRequest, out io.Writer) (int, error)
	RemoveContainer(ctx context.Context, containerID string) error
}

// BuildRequest describes an image build. Dockerfile is relative to
// ContextDir.
type BuildRequest struct {
	ContextDir string
	Dockerfile string
	Tags       []string
	Labels     map[string]string
	Args       map[string]string
}

// ContainerRequest describes the long-lived container a script runs in.
type ContainerRequest struct {
	Image   string
	Env     []string
	WorkDir string
	Mounts  []Mount
	Labels  map[string]string
}

// Mount binds a host directory into the container.
type Mount struct {
	Source string
	Target string
}

// ExecRequest is one command started inside a container.
type ExecRequest struct {
	Cmd     []string
	WorkDir string
}

// RegistryAuth holds registry credentials. The zero value pushes and pulls
// anonymously.
type RegistryAuth struct {
	Username string
	Password string
}
