package steps

import (
	"fmt"

	"github.com/systemstart/shipyard/pkg/api"
)

// NewStep creates a Step implementation from a StepConfig.
func NewStep(cfg api.StepConfig, engine Engine) (Step, error) {
	switch cfg.Type {
	case api.StepTypeDocker:
		if cfg.Docker == nil {
			return nil, fmt.Errorf("step %q: docker config is required", cfg.Name)
		}
		return NewDockerStep(cfg.Name, cfg.Docker, engine), nil
	case api.StepTypeContainer:
		if cfg.Container == nil {
			return nil, fmt.Errorf("step %q: container config is required", cfg.Name)
		}
		return NewContainerStep(cfg.Name, cfg.Container, engine), nil
	default:
		return nil, fmt.Errorf("unknown step type: %s", cfg.Type)
	}
}
