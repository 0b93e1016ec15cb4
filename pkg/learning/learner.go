// Package learning drives the learnable state of inference nodes.
//
// Nodes that learn implement Trainable. Whether and when Update is called is
// decided outside the node: an OnlineLearner attached with SetLearner buffers
// the examples a LearningCallback feeds it and flushes them according to its
// UpdateFrequency, while Train gathers a full training set first and fits a
// BatchLearner once.
package learning

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/francis-maes/lbcpp-sub006/pkg/inference"
)

var (
	// ErrEmptyTrainingSet is returned when a learner is asked to fit nothing.
	ErrEmptyTrainingSet = errors.New("learning: empty training set")

	// ErrNotTrainable is returned when a learner is attached to a node that
	// cannot be updated.
	ErrNotTrainable = errors.New("learning: node is not trainable")

	// ErrInvalidFolds is returned for a fold count that cannot split the examples.
	ErrInvalidFolds = errors.New("learning: invalid number of folds")
)

// Example is one (input, supervision) pair, with the output the node
// predicted for it when known.
type Example struct {
	Input       inference.Value
	Supervision inference.Value
	Output      inference.Value
}

// Trainable is the capability of a node whose parameters can be updated.
type Trainable interface {
	// Update adjusts the parameters from a batch of examples.
	Update(ctx context.Context, examples []Example) error
}

// LossReporter is implemented by trainable nodes that can score an example.
type LossReporter interface {
	Loss(example Example) float64
}

// UpdateFrequency says when an OnlineLearner pushes buffered examples to its node.
type UpdateFrequency int

const (
	// Never only accumulates statistics.
	Never UpdateFrequency = iota
	// PerStep updates after every run of the node.
	PerStep
	// PerEpisode updates when the enclosing parent node finishes, so a
	// shared child is updated once per parallel run.
	PerEpisode
	// PerPass updates once per pass over the training set.
	PerPass

	perStepMiniBatch UpdateFrequency = 1000
)

// PerStepMiniBatch updates every size runs of the node.
func PerStepMiniBatch(size int) UpdateFrequency {
	if size <= 1 {
		return PerStep
	}
	return perStepMiniBatch + UpdateFrequency(size)
}

// BatchSize returns the number of steps buffered before an update, or 0 for
// frequencies not driven by steps.
func (f UpdateFrequency) BatchSize() int {
	switch {
	case f == PerStep:
		return 1
	case f > perStepMiniBatch:
		return int(f - perStepMiniBatch)
	}
	return 0
}

func (f UpdateFrequency) String() string {
	switch f {
	case Never:
		return "never"
	case PerStep:
		return "perStep"
	case PerEpisode:
		return "perEpisode"
	case PerPass:
		return "perPass"
	}
	if f > perStepMiniBatch {
		return "perMiniBatch" + strconv.Itoa(f.BatchSize())
	}
	return fmt.Sprintf("UpdateFrequency(%d)", int(f))
}

// ParseUpdateFrequency parses the names produced by String. An empty string
// means Never.
func ParseUpdateFrequency(s string) (UpdateFrequency, error) {
	switch s {
	case "", "never":
		return Never, nil
	case "perStep":
		return PerStep, nil
	case "perEpisode":
		return PerEpisode, nil
	case "perPass":
		return PerPass, nil
	}
	if rest, ok := strings.CutPrefix(s, "perMiniBatch"); ok {
		size, err := strconv.Atoi(rest)
		if err != nil || size < 1 {
			return Never, fmt.Errorf("invalid mini-batch size in %q", s)
		}
		return PerStepMiniBatch(size), nil
	}
	return Never, fmt.Errorf("unrecognized update frequency %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (f UpdateFrequency) MarshalText() ([]byte, error) {
	return []byte(f.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (f *UpdateFrequency) UnmarshalText(text []byte) error {
	parsed, err := ParseUpdateFrequency(string(text))
	if err != nil {
		return err
	}
	*f = parsed
	return nil
}

// OnlineLearnerOf returns the online learner attached to node, or nil.
func OnlineLearnerOf(node inference.Node) *OnlineLearner {
	l, ok := node.(inference.Learnable)
	if !ok {
		return nil
	}
	ol, _ := l.Learner().(*OnlineLearner)
	return ol
}
