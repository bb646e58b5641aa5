package processing

import (
	"fmt"
	"slices"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/systemstart/shipyard/pkg/api"
)

// EventKind identifies what happened to the repository.
type EventKind string

const (
	EventGitPush EventKind = "git-push"
	EventManual  EventKind = "manual"
)

const branchRefPrefix = "refs/heads/"

// Event is offered to every job of a definition.
type Event struct {
	Kind EventKind `json:"kind" yaml:"kind"`
	Ref  string    `json:"ref,omitempty" yaml:"ref,omitempty"`
	// Jobs restricts a manual event to the named jobs. Empty means all.
	Jobs []string `json:"jobs,omitempty" yaml:"jobs,omitempty"`
}

// ParseEventKind validates a kind given on the command line.
func ParseEventKind(s string) (EventKind, error) {
	switch kind := EventKind(s); kind {
	case EventGitPush, EventManual:
		return kind, nil
	default:
		return "", fmt.Errorf("unknown event kind %q (want %s or %s)", s, EventGitPush, EventManual)
	}
}

// ShouldRun reports whether event starts job. A git push starts only jobs
// with gitPush enabled whose branch filters accept the pushed ref.
func ShouldRun(event Event, job *api.Job) bool {
	switch event.Kind {
	case EventManual:
		return len(event.Jobs) == 0 || slices.Contains(event.Jobs, job.Name)
	case EventGitPush:
		if !job.StartOn.GitPushEnabled() {
			return false
		}
		return branchAllowed(job.StartOn.GitPush, event.Ref)
	default:
		return false
	}
}

// branchAllowed applies include then exclude filters. Patterns are matched
// against both the full ref and the short branch name. No include patterns
// means every branch is included.
func branchAllowed(t *api.GitPushTrigger, ref string) bool {
	if len(t.Branches) > 0 && !matchAnyRef(t.Branches, ref) {
		return false
	}
	return !matchAnyRef(t.ExcludeBranches, ref)
}

func matchAnyRef(patterns []string, ref string) bool {
	short := strings.TrimPrefix(ref, branchRefPrefix)
	for _, p := range patterns {
		if ok, _ := doublestar.Match(p, ref); ok {
			return true
		}
		if ok, _ := doublestar.Match(p, short); ok {
			return true
		}
	}
	return false
}
