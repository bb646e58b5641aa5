package steps

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

// writeTestFile writes content to a file in dir, failing the test on error.
func writeTestFile(t *testing.T, dir, name, content string) {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
}

// fakeEngine records calls and answers from configured results.
type fakeEngine struct {
	mu sync.Mutex

	buildErr   error
	pushErr    map[string]error
	pullErr    error
	createErr  error
	execErr    error
	exitCodes  map[string]int // command text -> exit code
	execOutput map[string]string

	builds     []BuildRequest
	pushes     []string
	pulls      []string
	containers []ContainerRequest
	execs      []ExecRequest
	removed    []string
}

func (f *fakeEngine) Ping(context.Context) error { return nil }

func (f *fakeEngine) BuildImage(_ context.Context, req BuildRequest, out io.Writer) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.builds = append(f.builds, req)
	if f.buildErr != nil {
		return "", f.buildErr
	}
	_, _ = io.WriteString(out, "Successfully built\n")
	return "sha256:built", nil
}

func (f *fakeEngine) PushImage(_ context.Context, ref string, _ RegistryAuth, _ io.Writer) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pushes = append(f.pushes, ref)
	if err := f.pushErr[ref]; err != nil {
		return "", err
	}
	return "sha256:" + ref, nil
}

func (f *fakeEngine) EnsureImage(_ context.Context, ref string, _ RegistryAuth, _ io.Writer) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pulls = append(f.pulls, ref)
	return f.pullErr
}

func (f *fakeEngine) CreateContainer(_ context.Context, req ContainerRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return "", f.createErr
	}
	f.containers = append(f.containers, req)
	return fmt.Sprintf("container-%d", len(f.containers)), nil
}

func (f *fakeEngine) Exec(_ context.Context, _ string, req ExecRequest, out io.Writer) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.execs = append(f.execs, req)
	if f.execErr != nil {
		return 0, f.execErr
	}
	text := req.Cmd[len(req.Cmd)-1]
	if s, ok := f.execOutput[text]; ok {
		_, _ = io.WriteString(out, s)
	}
	return f.exitCodes[text], nil
}

func (f *fakeEngine) RemoveContainer(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, id)
	return nil
}

// execTexts returns the script text of every exec call.
func (f *fakeEngine) execTexts() []string {
	var texts []string
	for _, e := range f.execs {
		texts = append(texts, e.Cmd[len(e.Cmd)-1])
	}
	return texts
}

func mustContain(t *testing.T, err error, want string) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected error containing %q", want)
	}
	if !strings.Contains(err.Error(), want) {
		t.Fatalf("unexpected error: %v", err)
	}
}
