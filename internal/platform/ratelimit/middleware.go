package ratelimit

import (
	"net/http"
	"strconv"

	"policyvault/pkg/platform/httputil"
	"policyvault/pkg/requestcontext"
)

// ExceededResponse is the 429 body.
type ExceededResponse struct {
	Error      string `json:"error"`
	Message    string `json:"message"`
	RetryAfter int    `json:"retry_after"`
}

// PerCaller limits requests by authenticated caller under scope. It must run
// after authentication. Requests without a caller pass through, and a store
// failure fails open.
func (l *Limiter) PerCaller(scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			caller := requestcontext.Caller(ctx)
			if caller.IsZero() {
				next.ServeHTTP(w, r)
				return
			}

			result, err := l.Check(ctx, scope+":"+caller.String())
			if err != nil {
				l.logger.ErrorContext(ctx, "rate limit check failed",
					"error", err,
					"scope", scope,
					"request_id", requestcontext.RequestID(ctx),
				)
				if l.metrics != nil {
					l.metrics.IncrementStoreFailure()
				}
				next.ServeHTTP(w, r)
				return
			}

			addHeaders(w, result)
			if !result.Allowed {
				l.logger.WarnContext(ctx, "rate limit exceeded",
					"scope", scope,
					"caller", caller.String(),
					"request_id", requestcontext.RequestID(ctx),
				)
				w.Header().Set("Retry-After", strconv.Itoa(result.RetryAfter))
				httputil.WriteJSON(w, http.StatusTooManyRequests, ExceededResponse{
					Error:      "rate_limit_exceeded",
					Message:    "Too many requests. Please try again later.",
					RetryAfter: result.RetryAfter,
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func addHeaders(w http.ResponseWriter, result *Result) {
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))
}
