package api

import (
	"net/http"
	"strconv"

	"github.com/ashureev/persona-lab/internal/wizard"
	"github.com/go-chi/chi/v5"
)

type wizardResponse struct {
	CurrentStep int    `json:"currentStep"`
	StepName    string `json:"stepName"`
	Changed     *bool  `json:"changed,omitempty"`
}

func newWizardResponse(step wizard.Step) wizardResponse {
	return wizardResponse{CurrentStep: int(step), StepName: step.String()}
}

// GetWizard returns the current step.
func (h *Handler) GetWizard(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, newWizardResponse(h.session(r).Wizard.CurrentStep()))
}

// NextStep advances by one step.
func (h *Handler) NextStep(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, newWizardResponse(h.session(r).Wizard.GoToNextStep()))
}

// ClickStep jumps back to an earlier step. Forward jumps leave the step
// unchanged and report changed=false.
func (h *Handler) ClickStep(w http.ResponseWriter, r *http.Request) {
	n, err := strconv.Atoi(chi.URLParam(r, "step"))
	if err != nil {
		Error(w, http.StatusBadRequest, "step must be an integer")
		return
	}

	wz := h.session(r).Wizard
	changed := wz.HandleStepClick(wizard.Step(n))
	resp := newWizardResponse(wz.CurrentStep())
	resp.Changed = &changed
	JSON(w, http.StatusOK, resp)
}

// ResetWizard clears the run and returns to the first step.
func (h *Handler) ResetWizard(w http.ResponseWriter, r *http.Request) {
	s := h.session(r)
	s.Reset()
	JSON(w, http.StatusOK, newWizardResponse(s.Wizard.CurrentStep()))
}
