package processing

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/systemstart/shipyard/pkg/api"
	"github.com/systemstart/shipyard/pkg/steps"
	"golang.org/x/sync/errgroup"
)

// State is the lifecycle position of a job run.
type State string

const (
	StatePending   State = "Pending"
	StateTriggered State = "Triggered"
	StateRunning   State = "Running"
	StateSucceeded State = "Succeeded"
	StateFailed    State = "Failed"
)

// maxStepOutput bounds the output kept per step; the tail is kept.
const maxStepOutput = 64 << 10

// JobRun records one job's handling of one event.
type JobRun struct {
	ID         string          `json:"id" yaml:"id"`
	Job        string          `json:"job" yaml:"job"`
	Definition string          `json:"definition,omitempty" yaml:"definition,omitempty"`
	Event      Event           `json:"event" yaml:"event"`
	State      State           `json:"state" yaml:"state"`
	StartedAt  time.Time       `json:"startedAt,omitzero" yaml:"startedAt,omitempty"`
	FinishedAt time.Time       `json:"finishedAt,omitzero" yaml:"finishedAt,omitempty"`
	Steps      []StepRecord    `json:"steps,omitempty" yaml:"steps,omitempty"`
	ErrorKind  steps.ErrorKind `json:"errorKind,omitempty" yaml:"errorKind,omitempty"`
	Error      string          `json:"error,omitempty" yaml:"error,omitempty"`
}

// Duration is the time spent between leaving Triggered and finishing.
func (r *JobRun) Duration() time.Duration {
	if r.StartedAt.IsZero() || r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// StepRecord is the outcome of one executed step.
type StepRecord struct {
	Name       string          `json:"name" yaml:"name"`
	Type       string          `json:"type" yaml:"type"`
	ExitCode   int             `json:"exitCode" yaml:"exitCode"`
	ImageID    string          `json:"imageId,omitempty" yaml:"imageId,omitempty"`
	Pushed     []string        `json:"pushed,omitempty" yaml:"pushed,omitempty"`
	Commands   []CommandRecord `json:"commands,omitempty" yaml:"commands,omitempty"`
	StartedAt  time.Time       `json:"startedAt" yaml:"startedAt"`
	FinishedAt time.Time       `json:"finishedAt" yaml:"finishedAt"`
	Output     string          `json:"output,omitempty" yaml:"output,omitempty"`
	Error      string          `json:"error,omitempty" yaml:"error,omitempty"`
}

// CommandRecord is one command of a container script.
type CommandRecord struct {
	Command  string `json:"command" yaml:"command"`
	ExitCode int    `json:"exitCode" yaml:"exitCode"`
	Duration string `json:"duration" yaml:"duration"`
}

// Observer is told about every job run that left Pending.
type Observer interface {
	ObserveJob(run *JobRun)
}

// Runner executes the jobs of a resolved definition.
type Runner struct {
	Engine steps.Engine
	// WorkDir is the checkout jobs run against. Empty means the
	// definition's directory.
	WorkDir string
	// Parallelism caps concurrently running jobs. Zero or less means no cap.
	Parallelism int
	Auth        steps.RegistryAuth
	Store       *RunStore
	Observer    Observer
	// Output, when set, also receives all step output.
	Output io.Writer

	outputMu sync.Mutex
}

// RunDefinition offers event to every job and runs the ones it starts.
// Jobs are independent: a failing job never stops another. The returned
// runs are in definition order; the error lists the failed jobs.
func (r *Runner) RunDefinition(ctx context.Context, def *api.Definition, event Event) ([]*JobRun, error) {
	runs := make([]*JobRun, len(def.Jobs))

	var g errgroup.Group
	if r.Parallelism > 0 {
		g.SetLimit(r.Parallelism)
	}

	for i := range def.Jobs {
		job := &def.Jobs[i]
		g.Go(func() error {
			runs[i], _ = r.RunJob(ctx, def, job, event)
			return nil
		})
	}
	_ = g.Wait()

	var failed []string
	for _, run := range runs {
		if run.State == StateFailed {
			failed = append(failed, run.Job)
		}
	}
	if len(failed) > 0 {
		return runs, fmt.Errorf("%d job(s) failed: %v", len(failed), failed)
	}
	return runs, nil
}

// RunJob drives one job through Pending, Triggered and Running to
// Succeeded or Failed. A job the event does not start stays Pending and
// returns no error. The first failing step ends the job.
func (r *Runner) RunJob(ctx context.Context, def *api.Definition, job *api.Job, event Event) (*JobRun, error) {
	run := &JobRun{
		ID:         uuid.NewString(),
		Job:        job.Name,
		Definition: def.FilePath,
		Event:      event,
		State:      StatePending,
	}

	if !ShouldRun(event, job) {
		slog.Debug("job not triggered", "job", job.Name, "event", event.Kind, "ref", event.Ref)
		return run, nil
	}
	run.State = StateTriggered
	slog.Info("job triggered", "job", job.Name, "event", event.Kind, "ref", event.Ref, "run", run.ID)

	err := r.execute(ctx, def, job, run)
	run.FinishedAt = time.Now()
	if err != nil {
		run.State = StateFailed
		run.Error = err.Error()
		run.ErrorKind, _ = steps.KindOf(err)
		err = fmt.Errorf("job %q: %w", job.Name, err)
		slog.Error("job failed", "job", job.Name, "run", run.ID, "kind", run.ErrorKind, "error", err)
	} else {
		run.State = StateSucceeded
		slog.Info("job succeeded", "job", job.Name, "run", run.ID, "duration", run.Duration())
	}

	if r.Store != nil {
		r.Store.Add(run)
	}
	if r.Observer != nil {
		r.Observer.ObserveJob(run)
	}
	return run, err
}

func (r *Runner) execute(ctx context.Context, def *api.Definition, job *api.Job, run *JobRun) error {
	run.StartedAt = time.Now()

	workDir := r.WorkDir
	if workDir == "" {
		workDir = def.Dir
	}
	if err := r.provision(ctx, workDir); err != nil {
		return err
	}
	run.State = StateRunning

	for _, cfg := range job.Steps {
		step, err := steps.NewStep(cfg, r.Engine)
		if err != nil {
			return fmt.Errorf("creating step %q: %w", cfg.Name, err)
		}

		slog.Info("running step", "job", job.Name, "step", cfg.Name, "type", cfg.Type)

		buf := &tailBuffer{limit: maxStepOutput}
		record := StepRecord{Name: cfg.Name, Type: cfg.Type, StartedAt: time.Now()}
		result, err := step.Run(ctx, steps.StepContext{
			WorkDir: workDir,
			RunID:   run.ID,
			Output:  r.stepOutput(buf),
			Auth:    r.Auth,
		})
		record.FinishedAt = time.Now()
		record.Output = buf.String()
		fillRecord(&record, result)
		slog.Debug("step output", "job", job.Name, "step", cfg.Name, "output", record.Output)

		if err != nil {
			record.Error = err.Error()
			run.Steps = append(run.Steps, record)
			return err
		}
		run.Steps = append(run.Steps, record)
	}
	return nil
}

// provision checks that the engine answers and the checkout exists.
func (r *Runner) provision(ctx context.Context, workDir string) error {
	info, err := os.Stat(workDir)
	if err != nil {
		return steps.ProvisionError(fmt.Errorf("workspace %s: %w", workDir, err))
	}
	if !info.IsDir() {
		return steps.ProvisionError(fmt.Errorf("workspace %s is not a directory", workDir))
	}
	if r.Engine == nil {
		return steps.ProvisionError(errors.New("no container engine configured"))
	}
	if err := r.Engine.Ping(ctx); err != nil {
		return steps.ProvisionError(err)
	}
	return nil
}

func (r *Runner) stepOutput(buf *tailBuffer) io.Writer {
	if r.Output == nil {
		return buf
	}
	return io.MultiWriter(buf, &lockedWriter{mu: &r.outputMu, w: r.Output})
}

type lockedWriter struct {
	mu *sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}

func fillRecord(record *StepRecord, result *steps.StepResult) {
	if result == nil {
		return
	}
	record.ExitCode = result.ExitCode
	record.ImageID = result.ImageID
	record.Pushed = result.Pushed
	for _, c := range result.Commands {
		record.Commands = append(record.Commands, CommandRecord{
			Command:  c.Line,
			ExitCode: c.ExitCode,
			Duration: c.Duration.String(),
		})
	}
}

// tailBuffer keeps the last limit bytes written to it.
type tailBuffer struct {
	limit int
	buf   []byte
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	n := len(p)
	if n >= t.limit {
		t.buf = append(t.buf[:0], p[n-t.limit:]...)
		return n, nil
	}
	if over := len(t.buf) + n - t.limit; over > 0 {
		t.buf = append(t.buf[:0], t.buf[over:]...)
	}
	t.buf = append(t.buf, p...)
	return n, nil
}

func (t *tailBuffer) String() string { return string(t.buf) }
