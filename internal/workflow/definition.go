package workflow

import (
	"fmt"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// StepDef is one declarative step of a workflow: which agent capability runs,
// which named inputs it requires, and whether a human gate follows it.
type StepDef struct {
	Name       string   `yaml:"name" json:"name" validate:"required"`
	Capability string   `yaml:"capability" json:"capability" validate:"required"`
	Inputs     []string `yaml:"inputs" json:"inputs,omitempty"`
	Checkpoint bool     `yaml:"checkpoint" json:"checkpoint,omitempty"`
}

// Definition is an externally authored, ordered step sequence. It is copied
// into each run at start and never mutated afterwards.
type Definition struct {
	Name  string    `yaml:"name" json:"name" validate:"required"`
	Steps []StepDef `yaml:"steps" json:"steps" validate:"required,min=1,dive"`
}

// ParseDefinition decodes and validates a YAML workflow definition.
func ParseDefinition(data []byte) (*Definition, error) {
	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("parsing workflow definition: %w", err)
	}
	if err := validator.New().Struct(&def); err != nil {
		return nil, fmt.Errorf("invalid workflow definition: %w", err)
	}
	seen := make(map[string]bool, len(def.Steps))
	for _, s := range def.Steps {
		if seen[s.Name] {
			return nil, fmt.Errorf("invalid workflow definition: duplicate step name %q", s.Name)
		}
		seen[s.Name] = true
	}
	return &def, nil
}

// clone returns an independent copy so runs cannot share step slices.
func (d *Definition) clone() Definition {
	out := Definition{Name: d.Name, Steps: make([]StepDef, len(d.Steps))}
	for i, s := range d.Steps {
		s.Inputs = append([]string(nil), s.Inputs...)
		out.Steps[i] = s
	}
	return out
}
