package wizard

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func advanced(n int) *Wizard {
	w := New(nil)
	for i := 0; i < n; i++ {
		w.GoToNextStep()
	}
	return w
}

func TestGoToNextStepHasNoUpperBound(t *testing.T) {
	w := advanced(5)
	assert.Equal(t, Step(5), w.CurrentStep())
	assert.Equal(t, "beyond_analytics", w.CurrentStep().String())
}

func TestHandleStepClickOnlyMovesBackward(t *testing.T) {
	for current := 0; current <= 3; current++ {
		for target := 0; target <= 4; target++ {
			w := advanced(current)
			moved := w.HandleStepClick(Step(target))
			if target <= current {
				assert.True(t, moved, "current=%d target=%d", current, target)
				assert.Equal(t, Step(target), w.CurrentStep())
			} else {
				assert.False(t, moved, "current=%d target=%d", current, target)
				assert.Equal(t, Step(current), w.CurrentStep())
			}
		}
	}
}

func TestHandleStepClickRejectsNegative(t *testing.T) {
	w := advanced(2)
	assert.False(t, w.HandleStepClick(-1))
	assert.Equal(t, StepContentFeedback, w.CurrentStep())
}

func TestResetReturnsToFirstStepAndNavigates(t *testing.T) {
	var paths []string
	w := New(NavigatorFunc(func(p string) { paths = append(paths, p) }))
	w.GoToNextStep()
	w.GoToNextStep()
	w.GoToNextStep()

	w.Reset()

	assert.Equal(t, StepPersonaCreation, w.CurrentStep())
	assert.Equal(t, []string{RootRoute}, paths)

	w.Reset()
	assert.Equal(t, StepPersonaCreation, w.CurrentStep())
}

func TestConcurrentAdvance(t *testing.T) {
	w := New(nil)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.GoToNextStep()
		}()
	}
	wg.Wait()
	assert.Equal(t, Step(50), w.CurrentStep())
}

func TestAdvanceFrom(t *testing.T) {
	w := New(nil)

	assert.False(t, w.AdvanceFrom(StepPersonaConfirmation))
	assert.Equal(t, StepPersonaCreation, w.CurrentStep())

	assert.True(t, w.AdvanceFrom(StepPersonaCreation))
	assert.Equal(t, StepPersonaConfirmation, w.CurrentStep())

	assert.False(t, w.AdvanceFrom(StepPersonaCreation))
	assert.Equal(t, StepPersonaConfirmation, w.CurrentStep())
}
