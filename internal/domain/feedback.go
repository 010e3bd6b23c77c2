package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// FeedbackDetail is the structured commentary of one persona.
type FeedbackDetail struct {
	FirstImpression string   `json:"firstImpression"`
	AppealPoints    []string `json:"appealPoints"`
	Improvements    []string `json:"improvements"`
	Summary         string   `json:"summary"`
}

// Feedback is a persona's reaction to submitted content. Immutable once received.
type Feedback struct {
	Persona          string         `json:"persona"`
	Feedback         FeedbackDetail `json:"feedback"`
	SelectedImageURL string         `json:"selectedImageUrl,omitempty"`
}

// HasSelection returns true if the persona picked one of the submitted images.
func (f Feedback) HasSelection() bool {
	return f.SelectedImageURL != ""
}

// ParseFeedback reads one feedback record. A record that is not an object
// of the feedback shape, has no persona, or carries no commentary is rejected.
func ParseFeedback(raw []byte) (Feedback, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return Feedback{}, errors.New("empty feedback record")
	}
	var f Feedback
	if err := json.Unmarshal(trimmed, &f); err != nil {
		return Feedback{}, fmt.Errorf("decode feedback record: %w", err)
	}
	if strings.TrimSpace(f.Persona) == "" {
		return Feedback{}, errors.New("feedback record has no persona")
	}
	if f.Feedback.FirstImpression == "" && f.Feedback.Summary == "" {
		return Feedback{}, errors.New("feedback record has no commentary")
	}
	return f, nil
}
