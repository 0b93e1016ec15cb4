package learning

import (
	"fmt"
	"math"
	"sync"

	"github.com/francis-maes/lbcpp-sub006/pkg/inference"
)

// Evaluator accumulates predictions against their supervision.
// Implementations are safe for concurrent use.
type Evaluator interface {
	AddPrediction(predicted, correct inference.Value) error
	Scores() map[string]float64
	Reset()
	String() string
}

// RegressionError measures the error of scalar predictions.
type RegressionError struct {
	mu     sync.Mutex
	sumSq  float64
	sumAbs float64
	count  int
}

// NewRegressionError creates a regression evaluator.
func NewRegressionError() *RegressionError {
	return &RegressionError{}
}

func (e *RegressionError) AddPrediction(predicted, correct inference.Value) error {
	p, err := toFloat(predicted)
	if err != nil {
		return err
	}
	c, err := toFloat(correct)
	if err != nil {
		return err
	}
	d := p - c
	e.mu.Lock()
	e.sumSq += d * d
	e.sumAbs += math.Abs(d)
	e.count++
	e.mu.Unlock()
	return nil
}

// RMSE returns the root mean squared error, or NaN without predictions.
func (e *RegressionError) RMSE() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.count == 0 {
		return math.NaN()
	}
	return math.Sqrt(e.sumSq / float64(e.count))
}

// MeanAbsoluteError returns the mean absolute error, or NaN without predictions.
func (e *RegressionError) MeanAbsoluteError() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.count == 0 {
		return math.NaN()
	}
	return e.sumAbs / float64(e.count)
}

func (e *RegressionError) Count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.count
}

func (e *RegressionError) Scores() map[string]float64 {
	return map[string]float64{
		"rmse":  e.RMSE(),
		"mae":   e.MeanAbsoluteError(),
		"count": float64(e.Count()),
	}
}

func (e *RegressionError) Reset() {
	e.mu.Lock()
	e.sumSq, e.sumAbs, e.count = 0, 0, 0
	e.mu.Unlock()
}

func (e *RegressionError) String() string {
	return fmt.Sprintf("RMSE = %.4f, MAE = %.4f (%d examples)", e.RMSE(), e.MeanAbsoluteError(), e.Count())
}

// ClassificationAccuracy counts predictions equal to their supervision.
type ClassificationAccuracy struct {
	mu      sync.Mutex
	correct int
	count   int
}

// NewClassificationAccuracy creates an accuracy evaluator.
func NewClassificationAccuracy() *ClassificationAccuracy {
	return &ClassificationAccuracy{}
}

func (e *ClassificationAccuracy) AddPrediction(predicted, correct inference.Value) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if inference.Same(predicted, correct) {
		e.correct++
	}
	e.count++
	return nil
}

// Accuracy returns the fraction of correct predictions, or NaN.
func (e *ClassificationAccuracy) Accuracy() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.count == 0 {
		return math.NaN()
	}
	return float64(e.correct) / float64(e.count)
}

func (e *ClassificationAccuracy) Scores() map[string]float64 {
	e.mu.Lock()
	count := e.count
	e.mu.Unlock()
	return map[string]float64{"accuracy": e.Accuracy(), "count": float64(count)}
}

func (e *ClassificationAccuracy) Reset() {
	e.mu.Lock()
	e.correct, e.count = 0, 0
	e.mu.Unlock()
}

func (e *ClassificationAccuracy) String() string {
	return fmt.Sprintf("Accuracy = %.2f%%", e.Accuracy()*100)
}

// BinaryConfusion is the confusion matrix of a binary classifier.
// Booleans are used as is; numbers are positive when strictly greater than
// the threshold.
type BinaryConfusion struct {
	Threshold float64

	mu             sync.Mutex
	tp, fp, fn, tn int
}

// NewBinaryConfusion creates a confusion matrix with a zero threshold.
func NewBinaryConfusion() *BinaryConfusion {
	return &BinaryConfusion{}
}

func (e *BinaryConfusion) AddPrediction(predicted, correct inference.Value) error {
	p, err := e.positive(predicted)
	if err != nil {
		return err
	}
	c, err := e.positive(correct)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	switch {
	case p && c:
		e.tp++
	case p && !c:
		e.fp++
	case !p && c:
		e.fn++
	default:
		e.tn++
	}
	return nil
}

func (e *BinaryConfusion) positive(v inference.Value) (bool, error) {
	if b, ok := v.(bool); ok {
		return b, nil
	}
	f, err := toFloat(v)
	if err != nil {
		return false, err
	}
	return f > e.Threshold, nil
}

// Counts returns true positives, false positives, false negatives and true negatives.
func (e *BinaryConfusion) Counts() (tp, fp, fn, tn int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.tp, e.fp, e.fn, e.tn
}

func (e *BinaryConfusion) Precision() float64 {
	tp, fp, _, _ := e.Counts()
	return ratio(tp, tp+fp)
}

func (e *BinaryConfusion) Recall() float64 {
	tp, _, fn, _ := e.Counts()
	return ratio(tp, tp+fn)
}

func (e *BinaryConfusion) F1() float64 {
	tp, fp, fn, _ := e.Counts()
	return ratio(2*tp, 2*tp+fp+fn)
}

func (e *BinaryConfusion) Accuracy() float64 {
	tp, fp, fn, tn := e.Counts()
	return ratio(tp+tn, tp+fp+fn+tn)
}

// MCC returns the Matthews correlation coefficient, 0 when undefined.
func (e *BinaryConfusion) MCC() float64 {
	tp, fp, fn, tn := e.Counts()
	den := math.Sqrt(float64(tp+fp) * float64(tp+fn) * float64(tn+fp) * float64(tn+fn))
	if den == 0 {
		return 0
	}
	return (float64(tp)*float64(tn) - float64(fp)*float64(fn)) / den
}

func (e *BinaryConfusion) Scores() map[string]float64 {
	return map[string]float64{
		"precision": e.Precision(),
		"recall":    e.Recall(),
		"f1":        e.F1(),
		"accuracy":  e.Accuracy(),
		"mcc":       e.MCC(),
	}
}

func (e *BinaryConfusion) Reset() {
	e.mu.Lock()
	e.tp, e.fp, e.fn, e.tn = 0, 0, 0, 0
	e.mu.Unlock()
}

func (e *BinaryConfusion) String() string {
	tp, fp, fn, tn := e.Counts()
	return fmt.Sprintf("TP = %d, FP = %d, FN = %d, TN = %d, F1 = %.4f, MCC = %.4f", tp, fp, fn, tn, e.F1(), e.MCC())
}

func ratio(num, den int) float64 {
	if den == 0 {
		return 0
	}
	return float64(num) / float64(den)
}

func toFloat(v inference.Value) (float64, error) {
	switch x := v.(type) {
	case float64:
		return x, nil
	case float32:
		return float64(x), nil
	case int:
		return float64(x), nil
	case int32:
		return float64(x), nil
	case int64:
		return float64(x), nil
	case uint:
		return float64(x), nil
	case bool:
		if x {
			return 1, nil
		}
		return 0, nil
	}
	return 0, fmt.Errorf("%w: %T is not a number", inference.ErrInvalidInput, v)
}

var (
	_ Evaluator = (*RegressionError)(nil)
	_ Evaluator = (*ClassificationAccuracy)(nil)
	_ Evaluator = (*BinaryConfusion)(nil)
)
