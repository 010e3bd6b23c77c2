// Package wizard tracks the active step of the persona simulation flow.
package wizard

import "sync"

// Step is one stage of the linear flow.
type Step int

const (
	StepPersonaCreation Step = iota
	StepPersonaConfirmation
	StepContentFeedback
	StepAnalytics
)

// RootRoute is where Reset sends the client.
const RootRoute = "/steps"

// Navigator moves the client to another route.
type Navigator interface {
	Navigate(path string)
}

// NavigatorFunc adapts a function to Navigator.
type NavigatorFunc func(path string)

// Navigate calls f(path).
func (f NavigatorFunc) Navigate(path string) { f(path) }

// Wizard holds the current step. The zero value is not usable; call New.
type Wizard struct {
	mu      sync.Mutex
	current Step
	nav     Navigator
}

// New creates a wizard at the first step. nav may be nil.
func New(nav Navigator) *Wizard {
	return &Wizard{nav: nav}
}

// CurrentStep returns the active step.
func (w *Wizard) CurrentStep() Step {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// GoToNextStep advances by one. There is no upper bound check.
func (w *Wizard) GoToNextStep() Step {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.current++
	return w.current
}

// AdvanceFrom moves to the next step only when the wizard is at from.
func (w *Wizard) AdvanceFrom(from Step) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.current != from {
		return false
	}
	w.current++
	return true
}

// HandleStepClick jumps back to step i. Forward jumps are ignored.
func (w *Wizard) HandleStepClick(i Step) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if i > w.current || i < 0 {
		return false
	}
	w.current = i
	return true
}

// Reset returns to the first step and navigates to RootRoute.
func (w *Wizard) Reset() {
	w.mu.Lock()
	w.current = StepPersonaCreation
	nav := w.nav
	w.mu.Unlock()

	if nav != nil {
		nav.Navigate(RootRoute)
	}
}

// String returns the step name used in API responses.
func (s Step) String() string {
	switch s {
	case StepPersonaCreation:
		return "persona_creation"
	case StepPersonaConfirmation:
		return "persona_confirmation"
	case StepContentFeedback:
		return "content_feedback"
	case StepAnalytics:
		return "analytics"
	default:
		return "beyond_analytics"
	}
}
