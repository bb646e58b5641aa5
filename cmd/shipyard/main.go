package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"slices"
	"sync"
	"syscall"

	"github.com/buildkite/interpolate"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/systemstart/shipyard/pkg/api"
	"github.com/systemstart/shipyard/pkg/logging"
	"github.com/systemstart/shipyard/pkg/metrics"
	"github.com/systemstart/shipyard/pkg/processing"
	"github.com/systemstart/shipyard/pkg/server"
	"github.com/systemstart/shipyard/pkg/steps"
)

var version = "dev"

const (
	_ = iota
	exitInvalidArguments
	exitDotenvError
	exitLoadContextFailed
	exitLoadDefinitionFailed
	exitResolveDefinitionFailed
	exitEngineUnavailable
	exitJobsFailed
	exitReportFailed
	exitServerFailed
)

const (
	envRegistryUsername = "SHIPYARD_REGISTRY_USERNAME"
	envRegistryPassword = "SHIPYARD_REGISTRY_PASSWORD"
)

var (
	definitionFile string
	discoverRoot   string
	maxDepth       int
	eventKind      string
	ref            string
	jobNames       []string
	workDir        string
	contextFile    string
	parallelism    int
	reportFile     string
	serveAddr      string
	showOutput     bool
	loggingType    string
	logLevel       string
	showVersion    bool
)

func init() {
	pflag.StringVar(
		&definitionFile,
		"definition",
		"",
		"declaration file to run (.space.kts or YAML)")
	pflag.StringVar(
		&discoverRoot,
		"discover",
		"",
		"discover .space.kts and .shipyard.yaml files below this directory")
	pflag.IntVar(
		&maxDepth,
		"max-depth",
		-1,
		"max discovery depth (-1 = unlimited, 0 = root only)")
	pflag.StringVar(
		&eventKind,
		"event",
		string(processing.EventGitPush),
		"event to offer the jobs: git-push or manual")
	pflag.StringVar(
		&ref,
		"ref",
		"refs/heads/main",
		"pushed git ref for git-push events")
	pflag.StringSliceVar(
		&jobNames,
		"job",
		nil,
		"restrict a manual event to these jobs (repeatable)")
	pflag.StringVar(
		&workDir,
		"workdir",
		"",
		"checkout the jobs run against (default: the definition's directory)")
	pflag.StringVar(
		&contextFile,
		"context-file",
		"",
		"deploy-time context YAML file")
	pflag.IntVar(
		&parallelism,
		"parallelism",
		0,
		"max concurrently running jobs (0 = unlimited)")
	pflag.StringVar(
		&reportFile,
		"report",
		"",
		"write a YAML run report to this file")
	pflag.StringVar(
		&serveAddr,
		"serve",
		"",
		"serve webhooks on this address instead of running once")
	pflag.BoolVar(
		&showOutput,
		"show-output",
		false,
		"copy build and script output to stdout")
	pflag.StringVar(
		&loggingType,
		"logging-type",
		logging.Tint,
		"logging type: json, text or tint")
	pflag.StringVar(
		&logLevel,
		"log-level",
		"info",
		"logging level: debug, info, warn, error")
	pflag.BoolVar(
		&showVersion,
		"version",
		false,
		"print version and exit")
}

func main() {
	pflag.Parse()

	if showVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	if err := logging.Initialize(os.Stdout, loggingType, logLevel); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitInvalidArguments)
	}

	includeEnv()

	event := buildEvent()
	globalContext := loadGlobalContext()
	definitions := loadDefinitions()
	resolved := resolveDefinitions(definitions, globalContext)

	engine, err := steps.NewDockerEngine()
	if err != nil {
		slog.Error("failed to create docker client", "error", err)
		os.Exit(exitEngineUnavailable)
	}

	recorder := metrics.NewRecorder()
	runner := &processing.Runner{
		Engine:      engine,
		WorkDir:     workDir,
		Parallelism: parallelism,
		Auth:        registryAuth(),
		Store:       processing.NewRunStore(processing.DefaultRunHistory),
		Observer:    recorder,
	}
	if showOutput {
		runner.Output = os.Stdout
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	var code int
	if serveAddr != "" {
		code = serve(ctx, runner, recorder, resolved)
	} else {
		code = runOnce(ctx, runner, resolved, event)
	}

	stop()
	_ = engine.Close()
	os.Exit(code)
}

// runOnce offers event to every definition and waits for the jobs.
func runOnce(ctx context.Context, runner *processing.Runner, definitions []*api.Definition, event processing.Event) int {
	var (
		allRuns []*processing.JobRun
		failed  bool
	)

	for _, def := range definitions {
		slog.Info("running definition", "path", def.FilePath, "event", event.Kind, "ref", event.Ref)
		runs, err := runner.RunDefinition(ctx, def, event)
		allRuns = append(allRuns, runs...)
		if err != nil {
			slog.Error("definition failed", "path", def.FilePath, "error", err)
			failed = true
		}
	}

	report := processing.NewReport(event, allRuns)
	slog.Info("done", "triggered", report.Triggered, "failed", report.Failed)

	if reportFile != "" {
		if err := processing.WriteReport(reportFile, report); err != nil {
			slog.Error("failed to write report", "filename", reportFile, "error", err)
			return exitReportFailed
		}
	}

	if failed {
		return exitJobsFailed
	}
	return 0
}

// serve dispatches webhook events until ctx is done, then waits for the
// runs already started.
func serve(ctx context.Context, runner *processing.Runner, recorder *metrics.Recorder, definitions []*api.Definition) int {
	var wg sync.WaitGroup

	dispatch := func(event processing.Event) {
		for _, def := range definitions {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := runner.RunDefinition(ctx, def, event); err != nil {
					slog.Error("definition failed", "path", def.FilePath, "error", err)
				}
			}()
		}
	}

	srv := server.New(server.Config{
		Dispatch: dispatch,
		Jobs:     jobNamesOf(definitions),
		Store:    runner.Store,
		Metrics:  recorder.Handler(),
	})

	err := srv.ListenAndServe(ctx, serveAddr)
	wg.Wait()
	if err != nil {
		slog.Error("server failed", "error", err)
		return exitServerFailed
	}
	return 0
}

func buildEvent() processing.Event {
	kind, err := processing.ParseEventKind(eventKind)
	if err != nil {
		slog.Error("invalid --event", "error", err)
		os.Exit(exitInvalidArguments)
	}

	event := processing.Event{Kind: kind}
	switch kind {
	case processing.EventGitPush:
		if len(jobNames) > 0 {
			slog.Error("--job is only valid with --event manual")
			os.Exit(exitInvalidArguments)
		}
		event.Ref = ref
	case processing.EventManual:
		event.Jobs = jobNames
	}
	return event
}

func loadDefinitions() []*api.Definition {
	switch {
	case definitionFile != "" && discoverRoot != "":
		slog.Error("--definition and --discover are mutually exclusive")
		os.Exit(exitInvalidArguments)
	case discoverRoot != "":
		defs, err := processing.DiscoverDefinitions(discoverRoot, maxDepth)
		if err != nil {
			slog.Error("failed to discover definitions", "root", discoverRoot, "error", err)
			os.Exit(exitLoadDefinitionFailed)
		}
		if len(defs) == 0 {
			slog.Warn("no definition files found", "root", discoverRoot)
		}
		slog.Info("discovered definitions", "count", len(defs))
		return defs
	case definitionFile != "":
		def, err := api.LoadDefinition(definitionFile)
		if err != nil {
			slog.Error("failed to load definition", "filename", definitionFile, "error", err)
			os.Exit(exitLoadDefinitionFailed)
		}
		return []*api.Definition{def}
	}

	slog.Error("one of --definition or --discover is required")
	os.Exit(exitInvalidArguments)
	return nil
}

func resolveDefinitions(defs []*api.Definition, globalContext map[string]any) []*api.Definition {
	env := interpolate.NewSliceEnv(os.Environ())
	resolved := make([]*api.Definition, 0, len(defs))
	for _, def := range defs {
		r, err := processing.ResolveDefinition(def, globalContext, env)
		if err != nil {
			slog.Error("failed to resolve definition", "path", def.FilePath, "error", err)
			os.Exit(exitResolveDefinitionFailed)
		}
		resolved = append(resolved, r)
	}
	return resolved
}

func jobNamesOf(defs []*api.Definition) []string {
	var names []string
	for _, def := range defs {
		for _, job := range def.Jobs {
			if !slices.Contains(names, job.Name) {
				names = append(names, job.Name)
			}
		}
	}
	return names
}

func registryAuth() steps.RegistryAuth {
	return steps.RegistryAuth{
		Username: os.Getenv(envRegistryUsername),
		Password: os.Getenv(envRegistryPassword),
	}
}

func loadGlobalContext() map[string]any {
	if contextFile == "" {
		return nil
	}

	ctx, err := processing.LoadContextFile(contextFile)
	if err != nil {
		slog.Error("failed to load context file", "filename", contextFile, "error", err)
		os.Exit(exitLoadContextFailed)
	}
	return ctx
}

func includeEnv() {
	err := godotenv.Load()
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			slog.Error("failed to load .env", "error", err)
			os.Exit(exitDotenvError)
		}
		slog.Info("no .env file found")
	} else {
		slog.Info("using .env file")
	}
}
