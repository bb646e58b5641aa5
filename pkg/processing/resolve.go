package processing

import (
	"fmt"
	"maps"
	"slices"

	"github.com/buildkite/interpolate"
	"github.com/systemstart/shipyard/pkg/api"
)

// ResolveDefinition produces the configuration record jobs run against: the
// definition's context merged over global, then push targets, tags, images,
// labels, build args and env values rendered with it. Env values may also
// reference the host environment as ${NAME}. def is not modified.
func ResolveDefinition(def *api.Definition, global map[string]any, env interpolate.Env) (*api.Definition, error) {
	values, err := InterpolateContext(MergeContext(global, def.Context))
	if err != nil {
		return nil, fmt.Errorf("interpolating context: %w", err)
	}

	resolved := &api.Definition{
		Context:  values,
		Jobs:     make([]api.Job, len(def.Jobs)),
		Dir:      def.Dir,
		FilePath: def.FilePath,
	}

	for i, job := range def.Jobs {
		r := resolver{values: values, env: env, jobName: job.Name}
		out, err := r.job(job)
		if err != nil {
			return nil, err
		}
		resolved.Jobs[i] = out
	}
	return resolved, nil
}

type resolver struct {
	values  map[string]any
	env     interpolate.Env
	jobName string
}

func (r resolver) job(job api.Job) (api.Job, error) {
	out := api.Job{
		Name:    job.Name,
		StartOn: cloneTrigger(job.StartOn),
		Steps:   make([]api.StepConfig, len(job.Steps)),
	}

	for i, step := range job.Steps {
		resolved, err := r.step(step)
		if err != nil {
			return api.Job{}, fmt.Errorf("job %q step %q: %w", job.Name, step.Name, err)
		}
		out.Steps[i] = resolved
	}
	return out, nil
}

func (r resolver) step(step api.StepConfig) (api.StepConfig, error) {
	out := api.StepConfig{Name: step.Name, Type: step.Type}
	var err error

	if d := step.Docker; d != nil {
		docker := &api.DockerConfig{File: d.File, Context: d.Context}
		if docker.Push.URL, err = r.render("push.url", d.Push.URL); err != nil {
			return out, err
		}
		for i, tag := range d.Push.Tags {
			rendered, err := r.render(fmt.Sprintf("push.tags[%d]", i), tag)
			if err != nil {
				return out, err
			}
			docker.Push.Tags = append(docker.Push.Tags, rendered)
		}
		if docker.Labels, err = r.renderMap("labels", d.Labels, false); err != nil {
			return out, err
		}
		if docker.Args, err = r.renderMap("args", d.Args, false); err != nil {
			return out, err
		}
		out.Docker = docker
	}

	if c := step.Container; c != nil {
		container := &api.ContainerConfig{
			Script:      c.Script,
			WorkDir:     c.WorkDir,
			SingleShell: c.SingleShell,
		}
		if container.Image, err = r.render("image", c.Image); err != nil {
			return out, err
		}
		if container.Env, err = r.renderMap("env", c.Env, true); err != nil {
			return out, err
		}
		out.Container = container
	}

	return out, nil
}

func (r resolver) render(field, text string) (string, error) {
	return renderString(r.jobName+"."+field, text, r.values)
}

// renderMap renders every value of m. With hostEnv set, ${NAME} references
// are expanded from the host environment afterwards.
func (r resolver) renderMap(field string, m map[string]string, hostEnv bool) (map[string]string, error) {
	if m == nil {
		return nil, nil
	}

	out := make(map[string]string, len(m))
	for _, k := range slices.Sorted(maps.Keys(m)) {
		v, err := r.render(field+"."+k, m[k])
		if err != nil {
			return nil, err
		}
		if hostEnv && r.env != nil {
			if v, err = interpolate.Interpolate(r.env, v); err != nil {
				return nil, fmt.Errorf("expanding %s.%s: %w", field, k, err)
			}
		}
		out[k] = v
	}
	return out, nil
}

func cloneTrigger(t api.Trigger) api.Trigger {
	if t.GitPush == nil {
		return api.Trigger{}
	}
	return api.Trigger{GitPush: &api.GitPushTrigger{
		Enabled:         t.GitPush.Enabled,
		Branches:        slices.Clone(t.GitPush.Branches),
		ExcludeBranches: slices.Clone(t.GitPush.ExcludeBranches),
	}}
}
