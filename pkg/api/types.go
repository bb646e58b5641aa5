package api

const (
	StepTypeDocker    = "docker"
	StepTypeContainer = "container"

	DefaultBuildContext = "."
)

// Definition is the declaration file format: every job of one pipeline
// revision. A loaded Definition is the authoritative full set of jobs and is
// not mutated afterwards.
type Definition struct {
	Context map[string]any `yaml:"context"`
	Jobs    []Job          `yaml:"jobs"`

	// Set by the loader, not from YAML.
	Dir      string `yaml:"-"`
	FilePath string `yaml:"-"`
}

// Job is one independently triggerable unit of pipeline work.
type Job struct {
	Name    string       `yaml:"name"`
	StartOn Trigger      `yaml:"startOn"`
	Steps   []StepConfig `yaml:"steps"`
}

// Trigger lists the event kinds a job starts on. A kind that is absent is
// disabled.
type Trigger struct {
	GitPush *GitPushTrigger `yaml:"gitPush,omitempty"`
}

// GitPushTrigger configures the git push event.
type GitPushTrigger struct {
	Enabled         bool     `yaml:"enabled"`
	Branches        []string `yaml:"branches,omitempty"`
	ExcludeBranches []string `yaml:"excludeBranches,omitempty"`
}

// GitPushEnabled reports whether the job runs automatically on push.
func (t Trigger) GitPushEnabled() bool {
	return t.GitPush != nil && t.GitPush.Enabled
}

// StepConfig defines a single step within a job.
type StepConfig struct {
	Name      string           `yaml:"name"`
	Type      string           `yaml:"type"`
	Docker    *DockerConfig    `yaml:"docker,omitempty"`
	Container *ContainerConfig `yaml:"container,omitempty"`
}

// DockerConfig configures the docker build/push step.
type DockerConfig struct {
	File    string            `yaml:"file"`
	Context string            `yaml:"context"`
	Labels  map[string]string `yaml:"labels"`
	Args    map[string]string `yaml:"args"`
	Push    PushConfig        `yaml:"push"`
}

// PushConfig is the registry target of a docker step.
type PushConfig struct {
	URL  string   `yaml:"url"`
	Tags []string `yaml:"tags"`
}

// ContainerConfig configures the container run step.
type ContainerConfig struct {
	Image       string            `yaml:"image"`
	Env         map[string]string `yaml:"env"`
	Script      string            `yaml:"script"`
	WorkDir     string            `yaml:"workDir"`
	SingleShell bool              `yaml:"singleShell"`
}

// Job returns the job with the given name.
func (d *Definition) Job(name string) (*Job, bool) {
	for i := range d.Jobs {
		if d.Jobs[i].Name == name {
			return &d.Jobs[i], true
		}
	}
	return nil, false
}
