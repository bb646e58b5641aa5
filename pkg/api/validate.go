package api

import (
	"fmt"

	"github.com/bmatcuk/doublestar/v4"
)

var validStepTypes = map[string]bool{
	StepTypeDocker:    true,
	StepTypeContainer: true,
}

// Validate checks the definition for errors.
func (d *Definition) Validate() error {
	if len(d.Jobs) == 0 {
		return fmt.Errorf("definition has no jobs")
	}

	names := make(map[string]int)

	for i, job := range d.Jobs {
		if job.Name == "" {
			return fmt.Errorf("job %d: name is required", i)
		}
		if prev, exists := names[job.Name]; exists {
			return fmt.Errorf("job %d: duplicate job name %q (first defined at job %d)", i, job.Name, prev)
		}
		names[job.Name] = i

		if err := job.Validate(); err != nil {
			return fmt.Errorf("job %q: %w", job.Name, err)
		}
	}

	return nil
}

// Validate checks a single job.
func (j *Job) Validate() error {
	if err := validateTrigger(j.StartOn); err != nil {
		return err
	}

	if len(j.Steps) == 0 {
		return fmt.Errorf("job has no steps")
	}

	names := make(map[string]int)
	for i, step := range j.Steps {
		if step.Name == "" {
			return fmt.Errorf("step %d: name is required", i)
		}
		if prev, exists := names[step.Name]; exists {
			return fmt.Errorf("step %d: duplicate step name %q (first defined at step %d)", i, step.Name, prev)
		}
		names[step.Name] = i

		if !validStepTypes[step.Type] {
			return fmt.Errorf("step %q: unknown type %q", step.Name, step.Type)
		}

		if err := validateStepConfig(step); err != nil {
			return fmt.Errorf("step %q: %w", step.Name, err)
		}
	}
	return nil
}

func validateTrigger(t Trigger) error {
	if t.GitPush == nil {
		return nil
	}
	for _, pattern := range append(append([]string{}, t.GitPush.Branches...), t.GitPush.ExcludeBranches...) {
		if !doublestar.ValidatePattern(pattern) {
			return fmt.Errorf("startOn.gitPush: invalid branch pattern %q", pattern)
		}
	}
	return nil
}

func validateStepConfig(step StepConfig) error {
	switch step.Type {
	case StepTypeDocker:
		return validateDockerConfig(step)
	case StepTypeContainer:
		return validateContainerConfig(step)
	}
	return nil
}

func validateDockerConfig(step StepConfig) error {
	if step.Docker == nil {
		return fmt.Errorf("docker config is required")
	}
	if step.Docker.File == "" {
		return fmt.Errorf("docker.file is required")
	}
	if step.Docker.Push.URL == "" {
		return fmt.Errorf("docker.push.url is required")
	}
	for i, tag := range step.Docker.Push.Tags {
		if tag == "" {
			return fmt.Errorf("docker.push.tags[%d] is empty", i)
		}
	}
	return nil
}

func validateContainerConfig(step StepConfig) error {
	if step.Container == nil {
		return fmt.Errorf("container config is required")
	}
	if step.Container.Image == "" {
		return fmt.Errorf("container.image is required")
	}
	if step.Container.Script == "" {
		return fmt.Errorf("container.script is required")
	}
	for k := range step.Container.Env {
		if k == "" {
			return fmt.Errorf("container.env has an empty variable name")
		}
	}
	return nil
}
