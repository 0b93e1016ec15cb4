package inference

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStackPushPop(t *testing.T) {
	s := NewStack()
	a, b, c := constant("a", nil), constant("b", nil), constant("c", nil)

	assert.Nil(t, s.Current())
	assert.Nil(t, s.Pop())

	fa := s.Push(a)
	fb := s.Push(b)
	s.Push(c)

	assert.NotEqual(t, fa.ID, fb.ID)
	assert.Equal(t, 3, s.Depth())
	assert.Same(t, c, s.Current())
	assert.Same(t, b, s.Parent())
	assert.Same(t, a, s.GrandParent())
	assert.Equal(t, "a/b/c", s.Path())

	parent, ok := s.ParentFrame()
	require.True(t, ok)
	assert.Equal(t, fb, parent)

	assert.Same(t, c, s.Pop())
	assert.Same(t, b, s.Current())
	assert.Nil(t, s.GrandParent())
}

func TestStackReentrancy(t *testing.T) {
	s := NewStack()
	shared := constant("shared", nil)
	other := constant("other", nil)

	s.Push(shared)
	assert.True(t, s.Contains(shared))
	assert.False(t, s.IsReentrant(shared))

	s.Push(other)
	s.Push(shared)
	assert.Equal(t, 2, s.Count(shared))
	assert.True(t, s.IsReentrant(shared))
	assert.False(t, s.Contains(constant("shared", nil)))
}

func TestStackForkIsIndependent(t *testing.T) {
	s := NewStack()
	s.Push(constant("root", nil))

	f := s.Fork()
	f.Push(constant("child", nil))

	assert.Equal(t, 1, s.Depth())
	assert.Equal(t, 2, f.Depth())
	assert.Equal(t, "root/child", f.Path())
	assert.Same(t, s.At(0), f.At(0))
}

func TestOverrideApplication(t *testing.T) {
	ev := Event{Input: 1, Supervision: "s", Code: Finished}

	Keep().applyPre(&ev)
	assert.Equal(t, Event{Input: 1, Supervision: "s", Code: Finished}, ev)

	Keep().WithInput(2).WithSupervision("t").applyPost(&ev)
	assert.Equal(t, 1, ev.Input)

	Keep().WithInput(2).WithSupervision("t").applyPre(&ev)
	assert.Equal(t, 2, ev.Input)
	assert.Equal(t, "t", ev.Supervision)

	SkipWith(nil).applyPost(&ev)
	assert.True(t, ev.HasOutput)
	assert.Nil(t, ev.Output)

	ForceError(errBoom).applyPost(&ev)
	assert.Equal(t, Error, ev.Code)
	assert.ErrorIs(t, ev.Err, errBoom)

	Keep().WithCode(Finished).applyPost(&ev)
	assert.Equal(t, Finished, ev.Code)
	assert.NoError(t, ev.Err)
	assert.True(t, Keep().IsZero())
	assert.False(t, ForceCancel().IsZero())
}
