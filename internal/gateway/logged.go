package gateway

import (
	"context"
	"time"

	"github.com/ashureev/persona-lab/internal/domain"
)

// Logged records every request and response of the wrapped gateway.
type Logged struct {
	next Gateway
	log  GenerationLogger
}

// NewLogged wraps next. A nil log disables recording.
func NewLogged(next Gateway, log GenerationLogger) *Logged {
	if log == nil {
		log = noopGenerationLogger{}
	}
	return &Logged{next: next, log: log}
}

func (l *Logged) request(ctx context.Context, fn string, payload any) func(result any, meta map[string]any, err error) {
	user := CredentialsFromContext(ctx).UserID
	start := time.Now()
	l.log.Log(GenerationLogEvent{UserID: user, Function: fn, Direction: "request", Payload: payload})

	return func(result any, meta map[string]any, err error) {
		ev := GenerationLogEvent{
			UserID:     user,
			Function:   fn,
			Direction:  "response",
			DurationMs: time.Since(start).Milliseconds(),
			Meta:       meta,
		}
		if err != nil {
			ev.Error = err.Error()
		} else {
			ev.Payload = result
		}
		l.log.Log(ev)
	}
}

// GeneratePersonas forwards and records the call.
func (l *Logged) GeneratePersonas(ctx context.Context, form domain.PersonaForm) ([]string, error) {
	done := l.request(ctx, FunctionGeneratePersonas, form)
	personas, err := l.next.GeneratePersonas(ctx, form)
	done(PersonasResponse{Personas: personas}, nil, err)
	return personas, err
}

// GenerateFeedback forwards and records the call.
func (l *Logged) GenerateFeedback(ctx context.Context, req FeedbackRequest) (FeedbackBatch, error) {
	done := l.request(ctx, FunctionGenerateFeedback, req)
	batch, err := l.next.GenerateFeedback(ctx, req)
	var meta map[string]any
	if len(batch.Malformed) > 0 {
		meta = map[string]any{"malformed_records": len(batch.Malformed)}
	}
	done(FeedbackResponse{Feedbacks: batch.Records()}, meta, err)
	return batch, err
}

// GenerateAnalysis forwards and records the call.
func (l *Logged) GenerateAnalysis(ctx context.Context, feedbacks []domain.Feedback) (string, error) {
	done := l.request(ctx, FunctionGenerateAnalysis, AnalysisRequest{Feedbacks: feedbacks})
	analysis, err := l.next.GenerateAnalysis(ctx, feedbacks)
	done(AnalysisResponse{Analysis: analysis}, nil, err)
	return analysis, err
}

var _ Gateway = (*Logged)(nil)
