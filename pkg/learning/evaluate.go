package learning

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/francis-maes/lbcpp-sub006/pkg/inference"
)

// EvaluationCallback feeds an evaluator with the predictions of a target
// node that ran with a supervision.
type EvaluationCallback struct {
	inference.NopCallback
	target    inference.Node
	evaluator Evaluator
}

// NewEvaluationCallback creates an evaluation callback for target.
func NewEvaluationCallback(target inference.Node, evaluator Evaluator) *EvaluationCallback {
	return &EvaluationCallback{target: target, evaluator: evaluator}
}

// PostInference adds the prediction of the target to the evaluator.
func (c *EvaluationCallback) PostInference(_ context.Context, _ *inference.Stack, ev inference.Event) inference.Override {
	if !inference.Same(ev.Node, c.target) || ev.Code != inference.Finished || inference.IsMissing(ev.Supervision) {
		return inference.Keep()
	}
	if err := c.evaluator.AddPrediction(ev.Output, ev.Supervision); err != nil {
		return inference.ForceError(fmt.Errorf("evaluating %s: %w", ev.Node.Name(), err))
	}
	return inference.Keep()
}

// Evaluate runs node on every example and scores its predictions. The
// result carries the evaluator scores.
func Evaluate(ctx context.Context, ec *inference.Context, node inference.Node, examples []Example, evaluator Evaluator) inference.Result {
	cb := NewEvaluationCallback(node, evaluator)
	evaluating := inference.NewCallbackDecorator(node.Name()+".evaluate", node, cb)
	for _, ex := range examples {
		if res := ec.Run(ctx, evaluating, ex.Input, ex.Supervision); !res.OK() {
			return res
		}
	}
	return inference.Finish(evaluator.Scores())
}

// ModelFactory builds a fresh untrained model for one fold.
type ModelFactory func() (inference.Node, error)

// TrainFunc trains a model on a training set.
type TrainFunc func(ctx context.Context, ec *inference.Context, model inference.Node, train []Example) inference.Result

// CrossValidationReport holds the evaluator of every fold.
type CrossValidationReport struct {
	Folds []Evaluator
}

// Mean returns the mean of a score over the folds.
func (r CrossValidationReport) Mean(score string) float64 {
	if len(r.Folds) == 0 {
		return 0
	}
	sum := 0.0
	for _, e := range r.Folds {
		sum += e.Scores()[score]
	}
	return sum / float64(len(r.Folds))
}

// CrossValidate splits examples into folds contiguous parts. For each fold
// a new model is trained on the other parts and evaluated on it. The result
// carries a CrossValidationReport.
func CrossValidate(ctx context.Context, ec *inference.Context, examples []Example, folds int, build ModelFactory, train TrainFunc, newEvaluator func() Evaluator) inference.Result {
	if folds < 2 || folds > len(examples) {
		return inference.Fail(fmt.Errorf("%w: %d folds for %d examples", ErrInvalidFolds, folds, len(examples)))
	}

	report := CrossValidationReport{}
	for fold := 0; fold < folds; fold++ {
		begin := fold * len(examples) / folds
		end := (fold + 1) * len(examples) / folds

		trainSet := make([]Example, 0, len(examples)-(end-begin))
		trainSet = append(trainSet, examples[:begin]...)
		trainSet = append(trainSet, examples[end:]...)

		model, err := build()
		if err != nil {
			return inference.Fail(fmt.Errorf("fold %d: %w", fold, err))
		}
		if res := train(ctx, ec, model, trainSet); res.Code != inference.Finished {
			return res
		}

		evaluator := newEvaluator()
		if res := Evaluate(ctx, ec, model, examples[begin:end], evaluator); !res.OK() {
			return res
		}
		ec.Logger().Info("cross-validation fold evaluated",
			zap.Int("fold", fold),
			zap.Int("train", len(trainSet)),
			zap.Int("test", end-begin),
			zap.String("scores", evaluator.String()))
		report.Folds = append(report.Folds, evaluator)
	}
	return inference.Finish(report)
}
