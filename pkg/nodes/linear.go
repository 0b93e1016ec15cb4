package nodes

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sync"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/francis-maes/lbcpp-sub006/pkg/inference"
	"github.com/francis-maes/lbcpp-sub006/pkg/learning"
)

// Linear is a trainable linear regressor. Its input is a feature vector
// ([]float64, []inference.Value of numbers, or a single number) and its
// output the float64 prediction w·x + b. Supervision is the target value.
//
// Update performs one gradient step on the mean squared error of the batch.
type Linear struct {
	inference.BaseNode

	mu      sync.RWMutex
	weights []float64
	bias    float64
	rate    float64
	l2      float64
}

// LinearOption configures a Linear node.
type LinearOption func(*Linear)

// WithLearningRate sets the gradient step size. Default is 0.1.
func WithLearningRate(rate float64) LinearOption {
	return func(l *Linear) {
		if rate > 0 {
			l.rate = rate
		}
	}
}

// WithL2 adds an L2 penalty of strength lambda on the weights.
func WithL2(lambda float64) LinearOption {
	return func(l *Linear) {
		if lambda >= 0 {
			l.l2 = lambda
		}
	}
}

// NewLinear creates a zero-initialized regressor over dim features.
func NewLinear(name string, dim int, opts ...LinearOption) *Linear {
	l := &Linear{
		BaseNode: inference.NewBaseNode(name),
		weights:  make([]float64, dim),
		rate:     0.1,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Linear) Kind() inference.Kind {
	return inference.KindAtomic
}

// Dim returns the number of features.
func (l *Linear) Dim() int {
	return len(l.weights)
}

// Weights returns a copy of the weight vector.
func (l *Linear) Weights() []float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]float64(nil), l.weights...)
}

// Bias returns the intercept.
func (l *Linear) Bias() float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.bias
}

// SetParameters replaces the weights and intercept.
func (l *Linear) SetParameters(weights []float64, bias float64) error {
	if len(weights) != len(l.weights) {
		return fmt.Errorf("%w: %d weights for %d features", inference.ErrInvalidInput, len(weights), len(l.weights))
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	copy(l.weights, weights)
	l.bias = bias
	return nil
}

func (l *Linear) Compute(_ context.Context, input, _ inference.Value) (inference.Value, error) {
	x, err := l.features(input)
	if err != nil {
		return nil, err
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.predict(x), nil
}

func (l *Linear) predict(x []float64) float64 {
	return floats.Dot(l.weights, x) + l.bias
}

// Update takes one gradient step over examples. Examples without a numeric
// supervision are ignored.
func (l *Linear) Update(ctx context.Context, examples []learning.Example) error {
	grad := make([]float64, len(l.weights))
	var gradBias float64
	n := 0

	l.mu.Lock()
	defer l.mu.Unlock()
	for _, ex := range examples {
		if err := ctx.Err(); err != nil {
			return err
		}
		y, ok := number(ex.Supervision)
		if !ok {
			continue
		}
		x, err := l.features(ex.Input)
		if err != nil {
			return err
		}
		diff := l.predict(x) - y
		floats.AddScaled(grad, diff, x)
		gradBias += diff
		n++
	}
	if n == 0 {
		return nil
	}

	scale := 1 / float64(n)
	if l.l2 > 0 {
		floats.AddScaled(grad, l.l2*float64(n), l.weights)
	}
	floats.AddScaled(l.weights, -l.rate*scale, grad)
	l.bias -= l.rate * scale * gradBias
	return nil
}

// Loss returns the squared error on ex, or NaN when ex is not scorable.
func (l *Linear) Loss(ex learning.Example) float64 {
	y, ok := number(ex.Supervision)
	if !ok {
		return math.NaN()
	}
	x, err := l.features(ex.Input)
	if err != nil {
		return math.NaN()
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	d := l.predict(x) - y
	return d * d
}

type linearState struct {
	Weights []float64 `json:"weights"`
	Bias    float64   `json:"bias"`
}

// MarshalBinary encodes the learned parameters as JSON.
func (l *Linear) MarshalBinary() ([]byte, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return json.Marshal(linearState{Weights: l.weights, Bias: l.bias})
}

// UnmarshalBinary restores parameters written by MarshalBinary.
func (l *Linear) UnmarshalBinary(data []byte) error {
	var state linearState
	if err := json.Unmarshal(data, &state); err != nil {
		return fmt.Errorf("failed to decode %s state: %w", l.Name(), err)
	}
	return l.SetParameters(state.Weights, state.Bias)
}

func (l *Linear) features(input inference.Value) ([]float64, error) {
	var x []float64
	switch v := input.(type) {
	case []float64:
		x = v
	case []inference.Value:
		x = make([]float64, len(v))
		for i, e := range v {
			f, ok := number(e)
			if !ok {
				return nil, fmt.Errorf("%w: feature %d of %s is %T", inference.ErrInvalidInput, i, l.Name(), e)
			}
			x[i] = f
		}
	default:
		f, ok := number(input)
		if !ok {
			return nil, fmt.Errorf("%w: %s expects a feature vector, got %T", inference.ErrInvalidInput, l.Name(), input)
		}
		x = []float64{f}
	}
	if len(x) != len(l.weights) {
		return nil, fmt.Errorf("%w: %s expects %d features, got %d", inference.ErrInvalidInput, l.Name(), len(l.weights), len(x))
	}
	return x, nil
}

// FitLeastSquares is a batch learner solving the ordinary least squares
// problem for a Linear node in closed form.
var FitLeastSquares learning.BatchLearner = learning.BatchLearnerFunc(fitLeastSquares)

func fitLeastSquares(_ context.Context, node inference.Node, examples []learning.Example) error {
	l, ok := node.(*Linear)
	if !ok {
		return fmt.Errorf("%w: %s is not a linear regressor", learning.ErrNotTrainable, node.Name())
	}
	cols := l.Dim() + 1
	var rows [][]float64
	var targets []float64
	for _, ex := range examples {
		y, ok := number(ex.Supervision)
		if !ok {
			continue
		}
		x, err := l.features(ex.Input)
		if err != nil {
			return err
		}
		rows = append(rows, append(append([]float64(nil), x...), 1))
		targets = append(targets, y)
	}
	if len(rows) == 0 {
		return learning.ErrEmptyTrainingSet
	}
	if len(rows) < cols {
		return fmt.Errorf("%w: %d examples for %d parameters", inference.ErrInvalidInput, len(rows), cols)
	}

	a := mat.NewDense(len(rows), cols, nil)
	for i, row := range rows {
		a.SetRow(i, row)
	}
	var beta mat.VecDense
	if err := beta.SolveVec(a, mat.NewVecDense(len(targets), targets)); err != nil {
		return fmt.Errorf("least squares fit of %s: %w", l.Name(), err)
	}
	solution := beta.RawVector().Data
	return l.SetParameters(solution[:cols-1], solution[cols-1])
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}

func invalidOutput(v inference.Value) error {
	return fmt.Errorf("%w: expected a numeric output, got %T", inference.ErrInvalidInput, v)
}

func number(v inference.Value) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

var (
	_ inference.Atomic      = (*Linear)(nil)
	_ learning.Trainable    = (*Linear)(nil)
	_ learning.LossReporter = (*Linear)(nil)
)
