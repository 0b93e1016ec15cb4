package learning

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/francis-maes/lbcpp-sub006/pkg/inference"
)

func TestRegressionError(t *testing.T) {
	e := NewRegressionError()
	assert.True(t, math.IsNaN(e.RMSE()))

	require.NoError(t, e.AddPrediction(1.0, 2.0))
	require.NoError(t, e.AddPrediction(3, 0))

	assert.InDelta(t, math.Sqrt(5), e.RMSE(), 1e-9)
	assert.InDelta(t, 2.0, e.MeanAbsoluteError(), 1e-9)
	assert.Equal(t, 2.0, e.Scores()["count"])
	assert.Error(t, e.AddPrediction("x", 1.0))

	e.Reset()
	assert.Zero(t, e.Count())
}

func TestClassificationAccuracy(t *testing.T) {
	e := NewClassificationAccuracy()
	for _, p := range [][2]string{{"a", "a"}, {"b", "a"}, {"c", "c"}, {"a", "a"}} {
		require.NoError(t, e.AddPrediction(p[0], p[1]))
	}

	assert.InDelta(t, 0.75, e.Accuracy(), 1e-9)
	assert.Equal(t, "Accuracy = 75.00%", e.String())
}

func TestBinaryConfusion(t *testing.T) {
	e := NewBinaryConfusion()
	pairs := []struct{ predicted, correct inference.Value }{
		{true, true}, {true, true}, {true, false},
		{false, true}, {false, false}, {false, false},
		{0.7, 1}, {-0.2, 0},
	}
	for _, p := range pairs {
		require.NoError(t, e.AddPrediction(p.predicted, p.correct))
	}

	tp, fp, fn, tn := e.Counts()
	assert.Equal(t, [4]int{3, 1, 1, 3}, [4]int{tp, fp, fn, tn})
	assert.InDelta(t, 0.75, e.Precision(), 1e-9)
	assert.InDelta(t, 0.75, e.Recall(), 1e-9)
	assert.InDelta(t, 0.75, e.F1(), 1e-9)
	assert.InDelta(t, 0.5, e.MCC(), 1e-9)

	e.Reset()
	assert.Zero(t, e.MCC())
}

func TestEvaluateScoresTargetPredictions(t *testing.T) {
	node := newPlain("identity", func(v inference.Value) inference.Value { return v })
	examples := []Example{
		{Input: 1.0, Supervision: 1.0},
		{Input: 2.0, Supervision: 4.0},
		{Input: 3.0},
	}
	evaluator := NewRegressionError()

	res := Evaluate(context.Background(), inference.NewContext(), node, examples, evaluator)

	require.True(t, res.OK())
	assert.Equal(t, 2, evaluator.Count())
	assert.InDelta(t, math.Sqrt(2), evaluator.RMSE(), 1e-9)
	assert.Equal(t, evaluator.Scores(), res.Output)
}

func TestEvaluateInvalidPredictionIsAnError(t *testing.T) {
	node := newPlain("text", func(inference.Value) inference.Value { return "not a number" })

	res := Evaluate(context.Background(), inference.NewContext(), node, examplesOf(1), NewRegressionError())

	assert.Equal(t, inference.Error, res.Code)
	assert.ErrorIs(t, res.Err, inference.ErrInvalidInput)
}

func TestCrossValidate(t *testing.T) {
	examples := examplesOf(1, 1, 1, 5, 5, 5)
	var built []*meanNode
	build := func() (inference.Node, error) {
		n := newMeanNode("mean", nil)
		built = append(built, n)
		return n, nil
	}
	train := func(ctx context.Context, ec *inference.Context, model inference.Node, set []Example) inference.Result {
		return Train(ctx, ec, model, model, set, UpdateOnce)
	}

	res := CrossValidate(context.Background(), inference.NewContext(), examples, 3, build, train,
		func() Evaluator { return NewRegressionError() })

	require.True(t, res.OK(), "%v", res.Err)
	report := res.Output.(CrossValidationReport)
	require.Len(t, report.Folds, 3)
	require.Len(t, built, 3)
	for _, n := range built {
		assert.Equal(t, 4, n.count)
	}
	// Fold 0 trains on {1,5,5,5}: mean 4, tested on {1,1}.
	assert.InDelta(t, 3.0, report.Folds[0].Scores()["mae"], 1e-9)
	assert.InDelta(t, 2.0, report.Folds[1].Scores()["mae"], 1e-9)
	assert.InDelta(t, 3.0, report.Folds[2].Scores()["mae"], 1e-9)
	assert.InDelta(t, 8.0/3, report.Mean("mae"), 1e-9)
}

func TestCrossValidateRejectsBadFolds(t *testing.T) {
	res := CrossValidate(context.Background(), inference.NewContext(), examplesOf(1, 2), 3, nil, nil, nil)

	assert.ErrorIs(t, res.Err, ErrInvalidFolds)
}
