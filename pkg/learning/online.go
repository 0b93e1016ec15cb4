package learning

import (
	"context"
	"fmt"
	"math"
	"sync"

	"go.uber.org/zap"

	"github.com/francis-maes/lbcpp-sub006/pkg/inference"
)

// StoppingCriterion decides after each pass whether learning should stop.
type StoppingCriterion interface {
	// ShouldStop is called with the number of completed passes and the mean
	// loss of the last one (NaN when the node reports no loss).
	ShouldStop(passes int, loss float64) bool
	// Reset forgets the history of a previous training.
	Reset()
}

// OnlineLearner updates one node from the examples it sees run after run.
//
// All methods are safe for concurrent use. Update calls on the node are
// serialized, which is what keeps a shared child consistent when the
// elements of a parallel node run on several goroutines.
type OnlineLearner struct {
	mu sync.Mutex

	frequency UpdateFrequency
	criterion StoppingCriterion
	logger    *zap.Logger
	next      *OnlineLearner

	target  Trainable
	pending []Example

	steps   int
	updates int
	passes  int
	stopped bool

	lossSum      float64
	lossCount    int
	lastPassLoss float64
}

// LearnerOption configures an OnlineLearner.
type LearnerOption func(*OnlineLearner)

// WithStoppingCriterion stops learning once criterion says so.
func WithStoppingCriterion(criterion StoppingCriterion) LearnerOption {
	return func(l *OnlineLearner) {
		l.criterion = criterion
	}
}

// WithLearnerLogger sets the logger used for pass summaries.
func WithLearnerLogger(logger *zap.Logger) LearnerOption {
	return func(l *OnlineLearner) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// NewOnlineLearner creates a learner flushing at frequency.
func NewOnlineLearner(frequency UpdateFrequency, opts ...LearnerOption) *OnlineLearner {
	l := &OnlineLearner{
		frequency:    frequency,
		logger:       zap.NewNop(),
		lastPassLoss: math.NaN(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// SetNext chains next after l. It receives the same notifications, which
// lets two update disciplines (for example a per-step learning rule and a
// per-pass regularizer) drive one node.
func (l *OnlineLearner) SetNext(next *OnlineLearner) *OnlineLearner {
	l.mu.Lock()
	l.next = next
	l.mu.Unlock()
	return next
}

// Next returns the chained learner, or nil.
func (l *OnlineLearner) Next() *OnlineLearner {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.next
}

// Frequency returns the update frequency.
func (l *OnlineLearner) Frequency() UpdateFrequency {
	return l.frequency
}

// StartLearning resets the pass statistics and the stopping criterion.
func (l *OnlineLearner) StartLearning() {
	l.mu.Lock()
	l.pending = nil
	l.steps, l.updates, l.passes = 0, 0, 0
	l.stopped = false
	l.lossSum, l.lossCount = 0, 0
	l.lastPassLoss = math.NaN()
	if l.criterion != nil {
		l.criterion.Reset()
	}
	next := l.next
	l.mu.Unlock()

	if next != nil {
		next.StartLearning()
	}
}

// StepFinished records one run of node.
func (l *OnlineLearner) StepFinished(ctx context.Context, node inference.Node, example Example) error {
	trainable, ok := node.(Trainable)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotTrainable, node.Name())
	}

	if err := l.step(ctx, node, trainable, example); err != nil {
		return err
	}
	if next := l.Next(); next != nil {
		return next.StepFinished(ctx, node, example)
	}
	return nil
}

func (l *OnlineLearner) step(ctx context.Context, node inference.Node, trainable Trainable, example Example) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.target = trainable
	l.steps++
	if reporter, ok := node.(LossReporter); ok {
		l.lossSum += reporter.Loss(example)
		l.lossCount++
	}

	if l.frequency == Never {
		return nil
	}
	l.pending = append(l.pending, example)
	if size := l.frequency.BatchSize(); size > 0 && len(l.pending) >= size {
		return l.flush(ctx)
	}
	return nil
}

// EpisodeFinished marks the end of the parent run enclosing the steps seen
// since the previous episode.
func (l *OnlineLearner) EpisodeFinished(ctx context.Context) error {
	l.mu.Lock()
	var err error
	if l.frequency == PerEpisode {
		err = l.flush(ctx)
	}
	next := l.next
	l.mu.Unlock()

	if err != nil {
		return err
	}
	if next != nil {
		return next.EpisodeFinished(ctx)
	}
	return nil
}

// PassFinished marks the end of a pass over the training set. Pending
// examples are flushed whatever the frequency.
func (l *OnlineLearner) PassFinished(ctx context.Context) error {
	l.mu.Lock()
	err := l.flush(ctx)
	l.passes++
	if l.lossCount > 0 {
		l.lastPassLoss = l.lossSum / float64(l.lossCount)
	} else {
		l.lastPassLoss = math.NaN()
	}
	l.lossSum, l.lossCount = 0, 0
	if l.criterion != nil && l.criterion.ShouldStop(l.passes, l.lastPassLoss) {
		l.stopped = true
	}
	l.logger.Debug("learning pass finished",
		zap.Int("pass", l.passes),
		zap.Int("updates", l.updates),
		zap.Float64("loss", l.lastPassLoss),
		zap.Bool("stopped", l.stopped))
	next := l.next
	l.mu.Unlock()

	if err != nil {
		return err
	}
	if next != nil {
		return next.PassFinished(ctx)
	}
	return nil
}

// flush pushes the pending examples to the node. Callers hold mu.
func (l *OnlineLearner) flush(ctx context.Context) error {
	if len(l.pending) == 0 || l.target == nil {
		return nil
	}
	batch := l.pending
	l.pending = nil
	l.updates++
	return l.target.Update(ctx, batch)
}

// Stopped reports whether the stopping criterion fired.
func (l *OnlineLearner) Stopped() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stopped
}

// Updates returns the number of Update calls made on the node.
func (l *OnlineLearner) Updates() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.updates
}

// Steps returns the number of runs recorded since StartLearning.
func (l *OnlineLearner) Steps() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.steps
}

// Passes returns the number of completed passes.
func (l *OnlineLearner) Passes() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.passes
}

// MeanLoss returns the running mean loss of the current pass, or NaN.
func (l *OnlineLearner) MeanLoss() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.lossCount == 0 {
		return math.NaN()
	}
	return l.lossSum / float64(l.lossCount)
}

// LastPassLoss returns the mean loss of the last completed pass, or NaN.
func (l *OnlineLearner) LastPassLoss() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastPassLoss
}

// MaxPasses stops after n passes.
func MaxPasses(n int) StoppingCriterion {
	return maxPasses(n)
}

type maxPasses int

func (m maxPasses) ShouldStop(passes int, _ float64) bool { return passes >= int(m) }
func (m maxPasses) Reset()                                {}

// LossPlateau stops once the best pass loss failed to improve by more than
// tolerance for patience consecutive passes.
func LossPlateau(patience int, tolerance float64) StoppingCriterion {
	return &lossPlateau{patience: max(patience, 1), tolerance: tolerance, best: math.Inf(1)}
}

type lossPlateau struct {
	patience  int
	tolerance float64
	best      float64
	stale     int
}

func (p *lossPlateau) ShouldStop(_ int, loss float64) bool {
	if math.IsNaN(loss) {
		return false
	}
	if loss < p.best-p.tolerance {
		p.best = loss
		p.stale = 0
		return false
	}
	p.stale++
	return p.stale >= p.patience
}

func (p *lossPlateau) Reset() {
	p.best = math.Inf(1)
	p.stale = 0
}
