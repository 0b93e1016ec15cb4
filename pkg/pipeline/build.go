package pipeline

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/francis-maes/lbcpp-sub006/pkg/inference"
	"github.com/francis-maes/lbcpp-sub006/pkg/learning"
)

// learnerSetter is implemented by nodes embedding inference.BaseNode.
type learnerSetter interface {
	SetLearner(any)
}

// Build creates the tree described by def with the creators of f.
// Children are built before their parents.
func (f *Factory) Build(def *Definition, logger *zap.Logger) (inference.Node, error) {
	if def == nil {
		return nil, fmt.Errorf("%w: nil definition", ErrInvalidDefinition)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	root, err := f.build(&def.Root, logger)
	if err != nil {
		return nil, err
	}
	logger.Info("pipeline built",
		zap.String("pipeline", def.Name),
		zap.String("root", root.Name()),
		zap.Stringer("kind", root.Kind()))
	return root, nil
}

func (f *Factory) build(spec *NodeSpec, logger *zap.Logger) (inference.Node, error) {
	children := make([]inference.Node, 0, len(spec.Children))
	for i := range spec.Children {
		child, err := f.build(&spec.Children[i], logger)
		if err != nil {
			return nil, err
		}
		children = append(children, child)
	}

	node, err := f.Create(spec, children)
	if err != nil {
		return nil, err
	}
	if spec.Learner != nil {
		if err := attachLearner(node, spec.Learner, logger); err != nil {
			return nil, fmt.Errorf("failed to attach learner to %s: %w", spec.Name, err)
		}
	}
	return node, nil
}

func attachLearner(node inference.Node, spec *LearnerSpec, logger *zap.Logger) error {
	setter, ok := node.(learnerSetter)
	if !ok {
		return fmt.Errorf("%w: %s cannot carry a learner", ErrInvalidDefinition, node.Name())
	}
	if _, ok := node.(learning.Trainable); !ok {
		return fmt.Errorf("%w: %s", learning.ErrNotTrainable, node.Name())
	}

	opts := []learning.LearnerOption{learning.WithLearnerLogger(logger)}
	switch {
	case spec.Plateau != nil:
		opts = append(opts, learning.WithStoppingCriterion(learning.LossPlateau(spec.Plateau.Patience, spec.Plateau.Tolerance)))
	case spec.MaxPasses > 0:
		opts = append(opts, learning.WithStoppingCriterion(learning.MaxPasses(spec.MaxPasses)))
	}
	setter.SetLearner(learning.NewOnlineLearner(spec.Frequency, opts...))
	return nil
}

// ContextConfig returns base with the definition's concurrency overrides applied.
func (d *Definition) ContextConfig(base inference.Config) inference.Config {
	if d.Concurrency == nil {
		return base
	}
	cfg := base
	switch d.Concurrency.Mode {
	case "concurrent":
		cfg = cfg.WithParallelMode(inference.ParallelConcurrent)
	case "sequential":
		cfg = cfg.WithParallelMode(inference.ParallelSequential)
	}
	if d.Concurrency.MaxConcurrent > 0 {
		cfg = cfg.WithMaxConcurrent(d.Concurrency.MaxConcurrent)
	}
	if d.Concurrency.LogSteps {
		cfg = cfg.WithLogSteps(true)
	}
	return cfg
}

// NewContext builds the tree of def and an execution context configured
// from it.
func (f *Factory) NewContext(def *Definition, logger *zap.Logger, opts ...inference.Option) (*inference.Context, inference.Node, error) {
	root, err := f.Build(def, logger)
	if err != nil {
		return nil, nil, err
	}
	all := append([]inference.Option{
		inference.WithLogger(logger),
		inference.WithConfig(def.ContextConfig(inference.DefaultConfig())),
	}, opts...)
	return inference.NewContext(all...), root, nil
}
