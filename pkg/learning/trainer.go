package learning

import (
	"context"
	"math"
	"math/rand/v2"

	"go.uber.org/zap"

	"github.com/francis-maes/lbcpp-sub006/pkg/inference"
)

// TrainingReport summarizes an online training.
type TrainingReport struct {
	Passes int
	// Loss is the mean last-pass loss over the learners that report one, or NaN.
	Loss float64
	// Stopped is true when every learner's stopping criterion fired before MaxPasses.
	Stopped bool
}

// OnlineTrainer runs passes over a training set with a LearningCallback
// scoped to the trained tree.
type OnlineTrainer struct {
	Context *inference.Context

	// MaxPasses bounds the number of passes (default 1).
	MaxPasses int

	// Rand shuffles the examples before every pass when set.
	Rand *rand.Rand
}

// Train runs root on every example for each pass, notifying the learners at
// the end of every pass. The result carries a TrainingReport.
func (t *OnlineTrainer) Train(ctx context.Context, root inference.Node, examples []Example) inference.Result {
	if len(examples) == 0 {
		return inference.Fail(ErrEmptyTrainingSet)
	}
	ec := t.Context
	if ec == nil {
		ec = inference.NewContext()
	}
	maxPasses := t.MaxPasses
	if maxPasses <= 0 {
		maxPasses = 1
	}

	if err := inference.Walk(root, func(_ string, node inference.Node) error {
		if l := OnlineLearnerOf(node); l != nil {
			l.StartLearning()
		}
		return nil
	}); err != nil {
		return inference.Fail(err)
	}

	cb := NewLearningCallback()
	learning := inference.NewCallbackDecorator(root.Name()+".train", root, cb)

	order := make([]int, len(examples))
	for i := range order {
		order[i] = i
	}

	report := TrainingReport{Loss: math.NaN()}
	for pass := 0; pass < maxPasses; pass++ {
		if t.Rand != nil {
			t.Rand.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })
		}
		for _, i := range order {
			ex := examples[i]
			if res := ec.Run(ctx, learning, ex.Input, ex.Supervision); !res.OK() {
				res.Output = report
				return res
			}
		}
		if err := cb.PassFinished(ctx); err != nil {
			return inference.Fail(err)
		}

		report.Passes = pass + 1
		report.Loss = meanPassLoss(cb.Learners())
		ec.Logger().Info("training pass finished",
			zap.String("node", root.Name()),
			zap.Int("pass", report.Passes),
			zap.Float64("loss", report.Loss))

		if cb.ShouldStop() {
			report.Stopped = report.Passes < maxPasses
			break
		}
	}
	return inference.Finish(report)
}

func meanPassLoss(learners []*OnlineLearner) float64 {
	sum, n := 0.0, 0
	for _, l := range learners {
		if loss := l.LastPassLoss(); !math.IsNaN(loss) {
			sum += loss
			n++
		}
	}
	if n == 0 {
		return math.NaN()
	}
	return sum / float64(n)
}
