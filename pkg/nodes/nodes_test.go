package nodes

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/francis-maes/lbcpp-sub006/pkg/inference"
	"github.com/francis-maes/lbcpp-sub006/pkg/learning"
)

func TestFuncNodes(t *testing.T) {
	ec := inference.NewContext()
	ctx := context.Background()

	res := ec.Run(ctx, Map("square", func(v inference.Value) (inference.Value, error) {
		return v.(int) * v.(int), nil
	}), 4, nil)
	require.True(t, res.OK())
	assert.Equal(t, 16, res.Output)

	assert.Equal(t, "x", ec.Run(ctx, Identity("id"), "x", nil).Output)
	assert.Equal(t, 7, ec.Run(ctx, Constant("seven", 7), "ignored", nil).Output)

	boom := errors.New("boom")
	res = ec.Run(ctx, NewFunc("fail", func(context.Context, inference.Value, inference.Value) (inference.Value, error) {
		return nil, boom
	}), nil, nil)
	assert.Equal(t, inference.Error, res.Code)
	assert.ErrorIs(t, res.Err, boom)
}

func TestScriptComputesCompletionValue(t *testing.T) {
	script, err := NewScript("affine", "input.x * 2 + (supervision || 0)")
	require.NoError(t, err)

	res := inference.NewContext().Run(context.Background(), script, map[string]any{"x": 3}, 1)

	require.True(t, res.OK(), "%v", res.Err)
	assert.Equal(t, int64(7), res.Output)
}

func TestScriptCompileError(t *testing.T) {
	_, err := NewScript("broken", "function (")

	assert.ErrorIs(t, err, ErrScript)
}

func TestScriptRuntimeErrorIsAnError(t *testing.T) {
	script, err := NewScript("throws", "throw new Error('bad input')")
	require.NoError(t, err)

	res := inference.NewContext().Run(context.Background(), script, nil, nil)

	assert.Equal(t, inference.Error, res.Code)
	assert.ErrorIs(t, res.Err, ErrScript)
	assert.Contains(t, res.Err.Error(), "bad input")
}

func TestScriptHasNoRequire(t *testing.T) {
	script, err := NewScript("sandbox", "typeof require")
	require.NoError(t, err)

	res := inference.NewContext().Run(context.Background(), script, nil, nil)

	assert.Equal(t, "undefined", res.Output)
}

func TestScriptTimeout(t *testing.T) {
	script, err := NewScript("loop", "for (;;) {}", WithScriptTimeout(20*time.Millisecond))
	require.NoError(t, err)

	res := inference.NewContext().Run(context.Background(), script, nil, nil)

	assert.Equal(t, inference.Error, res.Code)
	assert.ErrorIs(t, res.Err, ErrScript)

	ok, err := NewScript("after", "1 + 1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), inference.NewContext().Run(context.Background(), ok, nil, nil).Output)
}

func TestScriptRunsDoNotShareGlobals(t *testing.T) {
	sources := map[string]string{
		"var":      "var n = (typeof n === 'undefined') ? 0 : n + 1; n",
		"property": "globalThis.k = (globalThis.k || 0) + 1; k",
		"require":  "(function() { var before = typeof require; require = 1; return before })()",
	}
	want := map[string]inference.Value{"var": int64(0), "property": int64(1), "require": "undefined"}

	for name, source := range sources {
		t.Run(name, func(t *testing.T) {
			script, err := NewScript(name, source)
			require.NoError(t, err)
			ec := inference.NewContext()

			first := ec.Run(context.Background(), script, nil, nil)
			second := ec.Run(context.Background(), script, nil, nil)

			require.True(t, first.OK(), "%v", first.Err)
			require.True(t, second.OK(), "%v", second.Err)
			assert.Equal(t, want[name], first.Output)
			assert.Equal(t, first.Output, second.Output)
		})
	}
}

func TestScriptRuntimeReset(t *testing.T) {
	rt := newRuntime()
	_, err := rt.vm.RunString("globalThis.k = 1")
	require.NoError(t, err)
	require.NoError(t, rt.vm.Set("input", 3))

	assert.True(t, rt.reset())
	assert.Nil(t, rt.vm.Get("k"))
	assert.Nil(t, rt.vm.Get("input"))

	rt = newRuntime()
	_, err = rt.vm.RunString("var n = 1")
	require.NoError(t, err)

	assert.False(t, rt.reset())
}

func TestScriptCancellationIsCanceled(t *testing.T) {
	script, err := NewScript("loop", "for (;;) {}")
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	res := inference.NewContext().Run(ctx, script, nil, nil)

	assert.Equal(t, inference.Canceled, res.Code)
}

func TestLinearPredicts(t *testing.T) {
	l := NewLinear("lin", 2)
	require.NoError(t, l.SetParameters([]float64{1, 2}, 0.5))

	res := inference.NewContext().Run(context.Background(), l, []float64{3, 4}, nil)
	require.True(t, res.OK())
	assert.InDelta(t, 11.5, res.Output, 1e-9)

	res = inference.NewContext().Run(context.Background(), l, []inference.Value{1, 1.0}, nil)
	assert.InDelta(t, 3.5, res.Output, 1e-9)

	res = inference.NewContext().Run(context.Background(), l, []float64{1}, nil)
	assert.ErrorIs(t, res.Err, inference.ErrInvalidInput)
}

func TestLinearGradientStep(t *testing.T) {
	l := NewLinear("lin", 1, WithLearningRate(0.5))

	err := l.Update(context.Background(), []learning.Example{{Input: 2.0, Supervision: 4.0}})

	require.NoError(t, err)
	// diff = -4, grad = -8, bias grad = -4.
	assert.InDelta(t, 4.0, l.Weights()[0], 1e-9)
	assert.InDelta(t, 2.0, l.Bias(), 1e-9)
	assert.InDelta(t, 36.0, l.Loss(learning.Example{Input: 2.0, Supervision: 4.0}), 1e-9)
	assert.True(t, math.IsNaN(l.Loss(learning.Example{Input: 2.0})))
}

func TestLinearOnlineTrainingConverges(t *testing.T) {
	l := NewLinear("lin", 1, WithLearningRate(0.1))
	l.SetLearner(learning.NewOnlineLearner(learning.PerStep))
	var examples []learning.Example
	for _, x := range []float64{-1, -0.5, 0, 0.5, 1} {
		examples = append(examples, learning.Example{Input: x, Supervision: 3*x - 1})
	}

	trainer := &learning.OnlineTrainer{Context: inference.NewContext(), MaxPasses: 300}
	res := trainer.Train(context.Background(), l, examples)

	require.True(t, res.OK(), "%v", res.Err)
	assert.InDelta(t, 3.0, l.Weights()[0], 1e-2)
	assert.InDelta(t, -1.0, l.Bias(), 1e-2)
}

func TestFitLeastSquares(t *testing.T) {
	l := NewLinear("lin", 2)
	var examples []learning.Example
	for _, x := range [][]float64{{0, 0}, {1, 0}, {0, 1}, {1, 1}, {2, 1}} {
		examples = append(examples, learning.Example{Input: x, Supervision: 2*x[0] - x[1] + 3})
	}

	res := learning.Train(context.Background(), inference.NewContext(), l, l, examples, FitLeastSquares)

	require.True(t, res.OK(), "%v", res.Err)
	w := l.Weights()
	assert.InDelta(t, 2.0, w[0], 1e-9)
	assert.InDelta(t, -1.0, w[1], 1e-9)
	assert.InDelta(t, 3.0, l.Bias(), 1e-9)
}

func TestFitLeastSquaresNeedsEnoughExamples(t *testing.T) {
	l := NewLinear("lin", 2)

	err := FitLeastSquares.Fit(context.Background(), l, []learning.Example{{Input: []float64{1, 2}, Supervision: 1.0}})

	assert.ErrorIs(t, err, inference.ErrInvalidInput)
	assert.ErrorIs(t, FitLeastSquares.Fit(context.Background(), Identity("id"), nil), learning.ErrNotTrainable)
}

func TestLinearStateRoundTrip(t *testing.T) {
	l := NewLinear("lin", 2)
	require.NoError(t, l.SetParameters([]float64{0.25, -4}, 1.5))

	data, err := l.MarshalBinary()
	require.NoError(t, err)
	restored := NewLinear("lin", 2)
	require.NoError(t, restored.UnmarshalBinary(data))

	assert.Equal(t, l.Weights(), restored.Weights())
	assert.Equal(t, l.Bias(), restored.Bias())
	assert.Error(t, NewLinear("lin", 3).UnmarshalBinary(data))
	assert.Error(t, restored.UnmarshalBinary([]byte("{")))
}

func TestTransfer(t *testing.T) {
	ec := inference.NewContext()
	score := Constant("score", 0.0)

	res := ec.Run(context.Background(), NewTransfer("prob", score, Sigmoid()), nil, nil)
	require.True(t, res.OK())
	assert.InDelta(t, 0.5, res.Output, 1e-9)

	res = ec.Run(context.Background(), NewTransfer("label", score, Threshold(0)), nil, nil)
	assert.Equal(t, true, res.Output)

	res = ec.Run(context.Background(), NewTransfer("label", Constant("text", "a"), Threshold(0)), nil, nil)
	assert.ErrorIs(t, res.Err, inference.ErrInvalidInput)
}

func TestTransferPropagatesChildFailure(t *testing.T) {
	boom := errors.New("boom")
	child := NewFunc("fail", func(context.Context, inference.Value, inference.Value) (inference.Value, error) {
		return nil, boom
	})
	called := false
	transfer := NewTransfer("t", child, func(_, out inference.Value) (inference.Value, error) {
		called = true
		return out, nil
	})

	res := inference.NewContext().Run(context.Background(), transfer, nil, nil)

	assert.ErrorIs(t, res.Err, boom)
	assert.False(t, called)
}
