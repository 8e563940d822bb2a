package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"routelimit/internal/handler/http/requestid"
	"routelimit/internal/handler/http/respond"
	"routelimit/pkg/ratelimit"
)

// Checker decides whether a request is admitted.
// *ratelimit.RateLimiter satisfies it.
type Checker interface {
	Check(ctx context.Context, r *http.Request) (*ratelimit.Decision, error)
}

type decisionCtxKey struct{}

// DecisionFromContext returns the decision the RateLimit middleware made
// for the request, if any.
func DecisionFromContext(ctx context.Context) (*ratelimit.Decision, bool) {
	d, ok := ctx.Value(decisionCtxKey{}).(*ratelimit.Decision)
	return d, ok && d != nil
}

// WithDecision stores d in ctx.
func WithDecision(ctx context.Context, d *ratelimit.Decision) context.Context {
	return context.WithValue(ctx, decisionCtxKey{}, d)
}

type trackerCtxKey struct{}

type decisionTracker struct {
	decision *ratelimit.Decision
}

// TrackDecision lets middleware wrapping RateLimit see the decision made
// further down the chain, including for rejected requests. The returned
// func reports nil until RateLimit has run.
func TrackDecision(ctx context.Context) (context.Context, func() *ratelimit.Decision) {
	t := &decisionTracker{}
	return context.WithValue(ctx, trackerCtxKey{}, t), func() *ratelimit.Decision { return t.decision }
}

func recordDecision(ctx context.Context, d *ratelimit.Decision) {
	if t, ok := ctx.Value(trackerCtxKey{}).(*decisionTracker); ok {
		t.decision = d
	}
}

// RateLimitOptions configures the RateLimit middleware.
type RateLimitOptions struct {
	// Headers enables X-RateLimit-Limit, X-RateLimit-Remaining and
	// X-RateLimit-Reset on every limited route.
	Headers bool

	// Clock computes Retry-After. Default: system clock.
	Clock ratelimit.Clock

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// RateLimit returns middleware that admits or rejects requests with checker.
//
// HTTP Status Codes:
//   - 429 Too Many Requests: the window is exhausted, with Retry-After
//   - 503 Service Unavailable: the counter store failed
//   - 500 Internal Server Error: any other limiter fault
//
// Admitted requests carry the decision in their context, see
// DecisionFromContext.
func RateLimit(checker Checker, opts RateLimitOptions) func(http.Handler) http.Handler {
	if opts.Clock == nil {
		opts.Clock = &ratelimit.SystemClock{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			decision, err := checker.Check(r.Context(), r)
			if err != nil {
				handleCheckError(w, r, opts.Logger, err)
				return
			}
			recordDecision(r.Context(), decision)

			if opts.Headers {
				setRateLimitHeaders(w, decision)
			}

			if decision.Limited {
				writeRateLimitError(w, r, opts, decision)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithDecision(r.Context(), decision)))
		})
	}
}

// setRateLimitHeaders sets the X-RateLimit-* headers. Exempt requests and
// requests without a key get none; they have no counter to report.
func setRateLimitHeaders(w http.ResponseWriter, decision *ratelimit.Decision) {
	if decision.Rule == nil || decision.NoKey {
		return
	}

	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(decision.Rule.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining()))
	if reset := decision.ResetAt(); !reset.IsZero() {
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(reset.Unix(), 10))
	}
}

// writeRateLimitError writes a 429 Too Many Requests response.
//
// Response format:
//
//	{
//	  "error": "rate_limit_exceeded",
//	  "message": "Too many requests. Please try again in 45 seconds.",
//	  "retry_after": 45
//	}
func writeRateLimitError(w http.ResponseWriter, r *http.Request, opts RateLimitOptions, decision *ratelimit.Decision) {
	retryAfter := decision.RetryAfterSeconds(opts.Clock.Now())
	w.Header().Set("Retry-After", strconv.FormatInt(retryAfter, 10))

	respond.JSON(w, http.StatusTooManyRequests, map[string]any{
		"error":       "rate_limit_exceeded",
		"message":     fmt.Sprintf("Too many requests. Please try again in %d seconds.", retryAfter),
		"retry_after": retryAfter,
	})

	opts.Logger.Warn("rate limit exceeded",
		slog.String("request_id", requestid.FromContext(r.Context())),
		slog.String("key", decision.Key),
		slog.String("route", decision.Route),
		slog.Int("count", decision.Entry.Count),
		slog.Int("limit", decision.Rule.Limit),
		slog.Int64("retry_after", retryAfter),
		slog.String("path", r.URL.Path),
		slog.String("method", r.Method),
	)
}

// handleCheckError fails closed: a limiter that cannot count does not
// admit the request.
func handleCheckError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	logger.Error("rate limiter: check failed, rejecting request",
		slog.String("request_id", requestid.FromContext(r.Context())),
		slog.Any("error", respond.SanitizeError(err)),
		slog.String("path", r.URL.Path),
	)

	if ratelimit.IsStorageError(err) {
		respond.JSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "rate_limiter_unavailable",
		})
		return
	}
	respond.JSON(w, http.StatusInternalServerError, map[string]string{
		"error": "internal server error",
	})
}
