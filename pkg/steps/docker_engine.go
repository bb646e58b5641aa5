package steps

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/docker/docker/api/types/build"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/api/types/registry"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
)

var _ Engine = (*DockerEngine)(nil)

// idleEntrypoint keeps a script container alive between exec calls.
var idleEntrypoint = []string{"tail", "-f", "/dev/null"}

// DockerEngine implements Engine with the Docker Engine SDK.
type DockerEngine struct {
	client *client.Client
}

// NewDockerEngine connects to the daemon configured by the environment
// (DOCKER_HOST, DOCKER_TLS_VERIFY, ...).
func NewDockerEngine() (*DockerEngine, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("creating docker client: %w", err)
	}
	return &DockerEngine{client: cli}, nil
}

// Close releases the client connection.
func (e *DockerEngine) Close() error {
	return e.client.Close()
}

func (e *DockerEngine) Ping(ctx context.Context) error {
	if _, err := e.client.Ping(ctx); err != nil {
		return fmt.Errorf("docker daemon unreachable: %w", err)
	}
	return nil
}

func (e *DockerEngine) BuildImage(ctx context.Context, req BuildRequest, out io.Writer) (string, error) {
	buildCtx, err := buildContext(req.ContextDir, req.Dockerfile)
	if err != nil {
		return "", err
	}
	defer buildCtx.Close()

	args := make(map[string]*string, len(req.Args))
	for k, v := range req.Args {
		args[k] = &v
	}

	resp, err := e.client.ImageBuild(ctx, buildCtx, build.ImageBuildOptions{
		Tags:        req.Tags,
		Dockerfile:  req.Dockerfile,
		Labels:      req.Labels,
		BuildArgs:   args,
		Remove:      true,
		ForceRemove: true,
	})
	if err != nil {
		return "", fmt.Errorf("build failed: %w", err)
	}
	defer resp.Body.Close()

	msg, err := readMessages(resp.Body, out)
	if err != nil {
		return "", err
	}
	return msg.Aux.ID, nil
}

func (e *DockerEngine) PushImage(ctx context.Context, ref string, auth RegistryAuth, out io.Writer) (string, error) {
	encoded, err := encodeAuth(ref, auth)
	if err != nil {
		return "", err
	}

	reader, err := e.client.ImagePush(ctx, ref, image.PushOptions{RegistryAuth: encoded})
	if err != nil {
		return "", fmt.Errorf("push failed: %w", err)
	}
	defer reader.Close()

	msg, err := readMessages(reader, out)
	if err != nil {
		return "", err
	}
	return msg.Aux.Digest, nil
}

// EnsureImage pulls ref unless it is already present locally.
func (e *DockerEngine) EnsureImage(ctx context.Context, ref string, auth RegistryAuth, out io.Writer) error {
	if _, _, err := e.client.ImageInspectWithRaw(ctx, ref); err == nil {
		return nil
	}

	encoded, err := encodeAuth(ref, auth)
	if err != nil {
		return err
	}

	reader, err := e.client.ImagePull(ctx, ref, image.PullOptions{RegistryAuth: encoded})
	if err != nil {
		return fmt.Errorf("pull failed: %w", err)
	}
	defer reader.Close()

	_, err = readMessages(reader, out)
	return err
}

// CreateContainer creates and starts an idle container for exec calls.
func (e *DockerEngine) CreateContainer(ctx context.Context, req ContainerRequest) (string, error) {
	mounts := make([]mount.Mount, len(req.Mounts))
	for i, m := range req.Mounts {
		mounts[i] = mount.Mount{Type: mount.TypeBind, Source: m.Source, Target: m.Target}
	}

	resp, err := e.client.ContainerCreate(ctx,
		&container.Config{
			Image:      req.Image,
			Entrypoint: idleEntrypoint,
			Env:        req.Env,
			WorkingDir: req.WorkDir,
			Labels:     req.Labels,
		},
		&container.HostConfig{Mounts: mounts},
		nil, nil, "")
	if err != nil {
		return "", err
	}

	if err := e.client.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		_ = e.client.ContainerRemove(context.Background(), resp.ID, container.RemoveOptions{Force: true})
		return "", fmt.Errorf("starting container: %w", err)
	}
	return resp.ID, nil
}

// Exec runs a command in the container, copies its output to out and
// returns its exit code.
func (e *DockerEngine) Exec(ctx context.Context, containerID string, req ExecRequest, out io.Writer) (int, error) {
	created, err := e.client.ContainerExecCreate(ctx, containerID, container.ExecOptions{
		Cmd:          req.Cmd,
		WorkingDir:   req.WorkDir,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return 0, fmt.Errorf("creating exec: %w", err)
	}

	attached, err := e.client.ContainerExecAttach(ctx, created.ID, container.ExecAttachOptions{})
	if err != nil {
		return 0, fmt.Errorf("attaching exec: %w", err)
	}
	defer attached.Close()

	if _, err := stdcopy.StdCopy(out, out, attached.Reader); err != nil {
		return 0, fmt.Errorf("reading exec output: %w", err)
	}

	inspect, err := e.client.ContainerExecInspect(ctx, created.ID)
	if err != nil {
		return 0, fmt.Errorf("inspecting exec: %w", err)
	}
	return inspect.ExitCode, nil
}

func (e *DockerEngine) RemoveContainer(ctx context.Context, containerID string) error {
	return e.client.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: true, RemoveVolumes: true})
}

func encodeAuth(ref string, auth RegistryAuth) (string, error) {
	encoded, err := registry.EncodeAuthConfig(registry.AuthConfig{
		Username:      auth.Username,
		Password:      auth.Password,
		ServerAddress: registryHost(ref),
	})
	if err != nil {
		return "", fmt.Errorf("encoding registry credentials: %w", err)
	}
	return encoded, nil
}

// streamMessage is one JSON object of a build, push or pull stream.
type streamMessage struct {
	Stream      string `json:"stream"`
	Status      string `json:"status"`
	Error       string `json:"error"`
	ErrorDetail struct {
		Message string `json:"message"`
	} `json:"errorDetail"`
	Aux struct {
		ID     string `json:"ID"`
		Digest string `json:"Digest"`
	} `json:"aux"`
}

// readMessages copies a daemon JSON stream to out as plain text and returns
// the last aux values seen. An error message in the stream fails the call.
func readMessages(r io.Reader, out io.Writer) (streamMessage, error) {
	var last streamMessage
	decoder := json.NewDecoder(r)

	for {
		var msg streamMessage
		if err := decoder.Decode(&msg); err != nil {
			if errors.Is(err, io.EOF) {
				return last, nil
			}
			return last, fmt.Errorf("failed to parse daemon output: %w", err)
		}

		if msg.Error != "" || msg.ErrorDetail.Message != "" {
			text := msg.Error
			if text == "" {
				text = msg.ErrorDetail.Message
			}
			return last, errors.New(text)
		}

		switch {
		case msg.Stream != "":
			_, _ = io.WriteString(out, msg.Stream)
		case msg.Status != "":
			_, _ = io.WriteString(out, msg.Status+"\n")
		}
		if msg.Aux.ID != "" {
			last.Aux.ID = msg.Aux.ID
		}
		if msg.Aux.Digest != "" {
			last.Aux.Digest = msg.Aux.Digest
		}
	}
}
