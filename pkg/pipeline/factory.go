package pipeline

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/francis-maes/lbcpp-sub006/pkg/inference"
	"github.com/francis-maes/lbcpp-sub006/pkg/nodes"
)

// ErrUnknownType is returned when no creator is registered for a node type.
var ErrUnknownType = errors.New("pipeline: unknown node type")

// NodeCreator builds a node from its spec and its already built children.
type NodeCreator func(spec *NodeSpec, children []inference.Node) (inference.Node, error)

// Factory is a thread-safe registry of node creators keyed by type.
type Factory struct {
	creators map[string]NodeCreator
	mu       sync.RWMutex
}

// NewFactory creates an empty factory.
func NewFactory() *Factory {
	return &Factory{creators: make(map[string]NodeCreator)}
}

// NewDefaultFactory creates a factory with the built-in node types registered.
func NewDefaultFactory() *Factory {
	f := NewFactory()

	// Structure
	f.Register("sequence", createSequence)
	f.Register("parallel", createParallel)
	f.Register("shared_parallel", createSharedParallel)
	f.Register("decorator", createDecorator)

	// Leaves
	f.Register("identity", createIdentity)
	f.Register("constant", createConstant)
	f.Register("script", createScript)
	f.Register("linear", createLinear)

	// Transfer decorators
	f.Register("sigmoid", createSigmoid)
	f.Register("threshold", createThreshold)

	return f
}

// Register registers a creator for a node type, replacing any previous one.
func (f *Factory) Register(nodeType string, creator NodeCreator) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creators[nodeType] = creator
}

// Create builds the node described by spec.
func (f *Factory) Create(spec *NodeSpec, children []inference.Node) (inference.Node, error) {
	f.mu.RLock()
	creator, exists := f.creators[spec.Type]
	f.mu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrUnknownType, spec.Type)
	}

	node, err := creator(spec, children)
	if err != nil {
		return nil, fmt.Errorf("failed to create node %s (%s): %w", spec.Name, spec.Type, err)
	}
	return node, nil
}

// HasCreator reports whether a creator is registered for nodeType.
func (f *Factory) HasCreator(nodeType string) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	_, exists := f.creators[nodeType]
	return exists
}

// RegisteredTypes returns the registered types in sorted order.
func (f *Factory) RegisteredTypes() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()

	types := make([]string, 0, len(f.creators))
	for t := range f.creators {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Unregister removes the creator for nodeType and reports whether one existed.
func (f *Factory) Unregister(nodeType string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, exists := f.creators[nodeType]; exists {
		delete(f.creators, nodeType)
		return true
	}
	return false
}

func createSequence(spec *NodeSpec, children []inference.Node) (inference.Node, error) {
	return inference.NewSequence(spec.Name, children...), nil
}

func createParallel(spec *NodeSpec, children []inference.Node) (inference.Node, error) {
	var params struct {
		SplitSupervision bool `yaml:"split_supervision"`
	}
	if err := spec.DecodeParams(&params); err != nil {
		return nil, err
	}
	par := inference.NewVectorParallel(spec.Name, children...)
	if params.SplitSupervision {
		par.WithSubSupervision(inference.ElementSupervision)
	}
	return par, nil
}

func createSharedParallel(spec *NodeSpec, children []inference.Node) (inference.Node, error) {
	child, err := single(spec, children)
	if err != nil {
		return nil, err
	}
	return inference.NewSharedParallel(spec.Name, child), nil
}

func createDecorator(spec *NodeSpec, children []inference.Node) (inference.Node, error) {
	child, err := single(spec, children)
	if err != nil {
		return nil, err
	}
	return inference.NewStaticDecorator(spec.Name, child), nil
}

func createIdentity(spec *NodeSpec, children []inference.Node) (inference.Node, error) {
	if err := leaf(spec, children); err != nil {
		return nil, err
	}
	return nodes.Identity(spec.Name), nil
}

func createConstant(spec *NodeSpec, children []inference.Node) (inference.Node, error) {
	if err := leaf(spec, children); err != nil {
		return nil, err
	}
	var params struct {
		Value any `yaml:"value"`
	}
	if err := spec.DecodeParams(&params); err != nil {
		return nil, err
	}
	return nodes.Constant(spec.Name, params.Value), nil
}

func createScript(spec *NodeSpec, children []inference.Node) (inference.Node, error) {
	if err := leaf(spec, children); err != nil {
		return nil, err
	}
	var params struct {
		Source  string        `yaml:"source"`
		Timeout time.Duration `yaml:"timeout"`
	}
	if err := spec.DecodeParams(&params); err != nil {
		return nil, err
	}
	if params.Source == "" {
		return nil, fmt.Errorf("%w: script %s has no source", ErrInvalidDefinition, spec.Name)
	}
	return nodes.NewScript(spec.Name, params.Source, nodes.WithScriptTimeout(params.Timeout))
}

func createLinear(spec *NodeSpec, children []inference.Node) (inference.Node, error) {
	if err := leaf(spec, children); err != nil {
		return nil, err
	}
	var params struct {
		Dim          int     `yaml:"dim"`
		LearningRate float64 `yaml:"learning_rate"`
		L2           float64 `yaml:"l2"`
	}
	if err := spec.DecodeParams(&params); err != nil {
		return nil, err
	}
	if params.Dim <= 0 {
		return nil, fmt.Errorf("%w: linear %s needs a positive dim", ErrInvalidDefinition, spec.Name)
	}
	return nodes.NewLinear(spec.Name, params.Dim,
		nodes.WithLearningRate(params.LearningRate),
		nodes.WithL2(params.L2)), nil
}

func createSigmoid(spec *NodeSpec, children []inference.Node) (inference.Node, error) {
	child, err := single(spec, children)
	if err != nil {
		return nil, err
	}
	return nodes.NewTransfer(spec.Name, child, nodes.Sigmoid()), nil
}

func createThreshold(spec *NodeSpec, children []inference.Node) (inference.Node, error) {
	child, err := single(spec, children)
	if err != nil {
		return nil, err
	}
	var params struct {
		Threshold float64 `yaml:"threshold"`
	}
	if err := spec.DecodeParams(&params); err != nil {
		return nil, err
	}
	return nodes.NewTransfer(spec.Name, child, nodes.Threshold(params.Threshold)), nil
}

func single(spec *NodeSpec, children []inference.Node) (inference.Node, error) {
	if len(children) != 1 {
		return nil, fmt.Errorf("%w: %s %s needs exactly one child, got %d", ErrInvalidDefinition, spec.Type, spec.Name, len(children))
	}
	return children[0], nil
}

func leaf(spec *NodeSpec, children []inference.Node) error {
	if len(children) != 0 {
		return fmt.Errorf("%w: %s %s takes no children", ErrInvalidDefinition, spec.Type, spec.Name)
	}
	return nil
}
