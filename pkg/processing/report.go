package processing

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Report summarizes the runs started by one event.
type Report struct {
	Event     Event     `yaml:"event"`
	Triggered int       `yaml:"triggered"`
	Failed    int       `yaml:"failed"`
	Runs      []*JobRun `yaml:"runs"`
}

// NewReport counts the triggered and failed runs.
func NewReport(event Event, runs []*JobRun) *Report {
	report := &Report{Event: event, Runs: runs}
	for _, run := range runs {
		if run.State != StatePending {
			report.Triggered++
		}
		if run.State == StateFailed {
			report.Failed++
		}
	}
	return report
}

// WriteReport writes report as YAML to filename.
func WriteReport(filename string, report *Report) error {
	data, err := yaml.Marshal(report)
	if err != nil {
		return fmt.Errorf("encoding report: %w", err)
	}
	if err := os.WriteFile(filename, data, 0o600); err != nil {
		return fmt.Errorf("writing report: %w", err)
	}
	return nil
}
