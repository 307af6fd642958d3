package interrupt

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// fileFormat mirrors interrupts.yaml's shape: a top-level "interrupts" list
// (spec.md §3's "interrupts.yaml: {interrupts: [InterruptRule sans
// plan_name]}"), grounded on scheduler.py's _load_interrupt_file.
type fileFormat struct {
	Interrupts []Rule `yaml:"interrupts"`
}

// LoadFile parses planPath/interrupts.yaml and tags every rule with
// planName. A missing file is not an error: the plan simply declares no
// interrupts.
func LoadFile(planPath, planName string) ([]Rule, error) {
	path := filepath.Join(planPath, "interrupts.yaml")
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("interrupt: read %s: %w", path, err)
	}

	var parsed fileFormat
	if err := yaml.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("interrupt: parse %s: %w", path, err)
	}
	for i := range parsed.Interrupts {
		parsed.Interrupts[i].PlanName = planName
	}
	return parsed.Interrupts, nil
}
