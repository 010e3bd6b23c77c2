package gateway

import (
	"context"
	"sync"
	"time"

	"github.com/ashureev/persona-lab/internal/domain"
	"golang.org/x/time/rate"
)

const (
	limiterIdleTTL    = 10 * time.Minute
	limiterSweepAbove = 1024
)

type userLimiter struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// RateLimited throttles generations per user with a token bucket.
// The key is the user ID, or "anonymous" when the caller has none.
type RateLimited struct {
	next  Gateway
	limit rate.Limit
	burst int

	mu       sync.Mutex
	limiters map[string]*userLimiter
}

// NewRateLimited allows perMinute generations per user with the given burst.
func NewRateLimited(next Gateway, perMinute, burst int) *RateLimited {
	return &RateLimited{
		next:     next,
		limit:    rate.Every(time.Minute / time.Duration(perMinute)),
		burst:    burst,
		limiters: make(map[string]*userLimiter),
	}
}

func (r *RateLimited) allow(ctx context.Context) error {
	key := CredentialsFromContext(ctx).UserID
	if key == "" {
		key = "anonymous"
	}
	now := time.Now()

	r.mu.Lock()
	if len(r.limiters) > limiterSweepAbove {
		for k, l := range r.limiters {
			if now.Sub(l.lastSeen) > limiterIdleTTL {
				delete(r.limiters, k)
			}
		}
	}
	l, ok := r.limiters[key]
	if !ok {
		l = &userLimiter{lim: rate.NewLimiter(r.limit, r.burst)}
		r.limiters[key] = l
	}
	l.lastSeen = now
	allowed := l.lim.AllowN(now, 1)
	r.mu.Unlock()

	if !allowed {
		return ErrRateLimited
	}
	return nil
}

// GeneratePersonas forwards when the caller is under the limit.
func (r *RateLimited) GeneratePersonas(ctx context.Context, form domain.PersonaForm) ([]string, error) {
	if err := r.allow(ctx); err != nil {
		return nil, err
	}
	return r.next.GeneratePersonas(ctx, form)
}

// GenerateFeedback forwards when the caller is under the limit.
func (r *RateLimited) GenerateFeedback(ctx context.Context, req FeedbackRequest) (FeedbackBatch, error) {
	if err := r.allow(ctx); err != nil {
		return FeedbackBatch{}, err
	}
	return r.next.GenerateFeedback(ctx, req)
}

// GenerateAnalysis forwards when the caller is under the limit.
func (r *RateLimited) GenerateAnalysis(ctx context.Context, feedbacks []domain.Feedback) (string, error) {
	if err := r.allow(ctx); err != nil {
		return "", err
	}
	return r.next.GenerateAnalysis(ctx, feedbacks)
}

var _ Gateway = (*RateLimited)(nil)
