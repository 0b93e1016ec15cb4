// Package pipeline builds inference trees from YAML definitions.
//
// A definition names a root node spec; every spec selects a registered
// node type, carries type-specific params and lists its children:
//
//	name: scorer
//	concurrency:
//	  mode: concurrent
//	  max_concurrent: 4
//	root:
//	  type: sequence
//	  name: model
//	  children:
//	    - type: script
//	      name: features
//	      params:
//	        source: "[input.a, input.b]"
//	    - type: linear
//	      name: regressor
//	      params: {dim: 2, learning_rate: 0.05}
//	      learner: {frequency: perStep, max_passes: 20}
package pipeline

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/francis-maes/lbcpp-sub006/pkg/learning"
)

// ErrInvalidDefinition is returned for definitions that cannot be built.
var ErrInvalidDefinition = errors.New("pipeline: invalid definition")

// Definition is a complete pipeline document.
type Definition struct {
	Name        string       `yaml:"name"`
	Concurrency *Concurrency `yaml:"concurrency,omitempty"`
	Root        NodeSpec     `yaml:"root"`
}

// Concurrency overrides the execution context configuration.
type Concurrency struct {
	Mode          string `yaml:"mode"`
	MaxConcurrent int    `yaml:"max_concurrent,omitempty"`
	LogSteps      bool   `yaml:"log_steps,omitempty"`
}

// NodeSpec describes one node of the tree.
type NodeSpec struct {
	Type     string       `yaml:"type"`
	Name     string       `yaml:"name"`
	Params   yaml.Node    `yaml:"params,omitempty"`
	Children []NodeSpec   `yaml:"children,omitempty"`
	Learner  *LearnerSpec `yaml:"learner,omitempty"`
}

// LearnerSpec attaches an online learner to a trainable node.
type LearnerSpec struct {
	Frequency learning.UpdateFrequency `yaml:"frequency"`
	MaxPasses int                      `yaml:"max_passes,omitempty"`
	Plateau   *PlateauSpec             `yaml:"plateau,omitempty"`
}

// PlateauSpec stops learning once the pass loss stopped improving.
type PlateauSpec struct {
	Patience  int     `yaml:"patience"`
	Tolerance float64 `yaml:"tolerance"`
}

// DecodeParams decodes the params mapping into v. Missing params leave v untouched.
func (s *NodeSpec) DecodeParams(v any) error {
	if s.Params.Kind == 0 {
		return nil
	}
	if err := s.Params.Decode(v); err != nil {
		return fmt.Errorf("%w: params of %s: %v", ErrInvalidDefinition, s.Name, err)
	}
	return nil
}

// Parse decodes and validates a YAML definition.
func Parse(data []byte) (*Definition, error) {
	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDefinition, err)
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}
	return &def, nil
}

// LoadFile reads and parses the definition at path.
func LoadFile(path string) (*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read pipeline definition: %w", err)
	}
	return Parse(data)
}

// Validate checks the structure of the definition. Node types are checked
// against a factory when the tree is built.
func (d *Definition) Validate() error {
	if d.Concurrency != nil {
		switch d.Concurrency.Mode {
		case "", "sequential", "concurrent":
		default:
			return fmt.Errorf("%w: unknown concurrency mode %q", ErrInvalidDefinition, d.Concurrency.Mode)
		}
		if d.Concurrency.MaxConcurrent < 0 {
			return fmt.Errorf("%w: max_concurrent must not be negative", ErrInvalidDefinition)
		}
	}
	return d.Root.validate("")
}

func (s *NodeSpec) validate(parent string) error {
	path := s.Name
	if parent != "" {
		path = parent + "/" + s.Name
	}
	if s.Type == "" {
		return fmt.Errorf("%w: %s: type is required", ErrInvalidDefinition, orRoot(path))
	}
	if s.Name == "" {
		return fmt.Errorf("%w: %s node under %s has no name", ErrInvalidDefinition, s.Type, orRoot(parent))
	}
	if s.Learner != nil {
		if s.Learner.MaxPasses < 0 {
			return fmt.Errorf("%w: %s: max_passes must not be negative", ErrInvalidDefinition, path)
		}
		if p := s.Learner.Plateau; p != nil && (p.Patience <= 0 || p.Tolerance < 0) {
			return fmt.Errorf("%w: %s: plateau needs a positive patience", ErrInvalidDefinition, path)
		}
	}
	for i := range s.Children {
		if err := s.Children[i].validate(path); err != nil {
			return err
		}
	}
	return nil
}

func orRoot(path string) string {
	if path == "" {
		return "root"
	}
	return path
}
