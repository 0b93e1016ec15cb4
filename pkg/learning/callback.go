package learning

import (
	"context"
	"fmt"
	"sync"

	"github.com/francis-maes/lbcpp-sub006/pkg/inference"
)

// LearningCallback feeds the online learner of every node that finishes with
// a supervision. It only looks at the node just finished, never at its
// children, so a learner sees exactly the runs of the node it is attached to.
//
// Learners are also notified when the parent of their node finishes
// (EpisodeFinished), and PassFinished forwards the end of a pass to every
// learner seen so far. Safe for concurrent use.
type LearningCallback struct {
	mu       sync.Mutex
	episodes map[uint64][]*OnlineLearner
	seen     []*OnlineLearner
}

// NewLearningCallback creates a learning callback.
func NewLearningCallback() *LearningCallback {
	return &LearningCallback{episodes: make(map[uint64][]*OnlineLearner)}
}

// PreInference does nothing.
func (c *LearningCallback) PreInference(context.Context, *inference.Stack, inference.Event) inference.Override {
	return inference.Keep()
}

// PostInference closes the episodes opened by the children of the node and
// records the node's own step.
func (c *LearningCallback) PostInference(ctx context.Context, stack *inference.Stack, ev inference.Event) inference.Override {
	if frame, ok := stack.CurrentFrame(); ok {
		c.mu.Lock()
		touched := c.episodes[frame.ID]
		delete(c.episodes, frame.ID)
		c.mu.Unlock()

		for _, l := range touched {
			if err := l.EpisodeFinished(ctx); err != nil {
				return inference.ForceError(fmt.Errorf("learning episode of %s: %w", ev.Node.Name(), err))
			}
		}
	}

	if ev.Code != inference.Finished || inference.IsMissing(ev.Supervision) {
		return inference.Keep()
	}
	learner := OnlineLearnerOf(ev.Node)
	if learner == nil {
		return inference.Keep()
	}

	example := Example{Input: ev.Input, Supervision: ev.Supervision, Output: ev.Output}
	if err := learner.StepFinished(ctx, ev.Node, example); err != nil {
		return inference.ForceError(fmt.Errorf("learning %s: %w", ev.Node.Name(), err))
	}

	c.mu.Lock()
	if parent, ok := stack.ParentFrame(); ok {
		c.episodes[parent.ID] = appendUnique(c.episodes[parent.ID], learner)
	}
	c.seen = appendUnique(c.seen, learner)
	c.mu.Unlock()

	return inference.Keep()
}

// PassFinished notifies every learner seen since the callback was created.
func (c *LearningCallback) PassFinished(ctx context.Context) error {
	c.mu.Lock()
	learners := append([]*OnlineLearner(nil), c.seen...)
	clear(c.episodes)
	c.mu.Unlock()

	for _, l := range learners {
		if err := l.PassFinished(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Learners returns the learners seen so far in first-seen order.
func (c *LearningCallback) Learners() []*OnlineLearner {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*OnlineLearner(nil), c.seen...)
}

// ShouldStop reports whether every learner seen has stopped.
func (c *LearningCallback) ShouldStop() bool {
	learners := c.Learners()
	if len(learners) == 0 {
		return false
	}
	for _, l := range learners {
		if !l.Stopped() {
			return false
		}
	}
	return true
}

func appendUnique(list []*OnlineLearner, l *OnlineLearner) []*OnlineLearner {
	for _, existing := range list {
		if existing == l {
			return list
		}
	}
	return append(list, l)
}

var _ inference.Callback = (*LearningCallback)(nil)
