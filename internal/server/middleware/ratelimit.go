package middleware

import (
	"math"
	"net/http"
	"strconv"
	"time"

	gferrors "github.com/fulmenhq/gofulmen/errors"
	"golang.org/x/time/rate"

	apperrors "github.com/3leaps/batchlens/internal/errors"
)

// RateLimit applies one shared token bucket to every request. Requests over
// the limit get 429 RATE_LIMITED with a Retry-After hint.
func RateLimit(rps float64, burst int) func(http.Handler) http.Handler {
	if burst < 1 {
		burst = 1
	}
	limiter := rate.NewLimiter(rate.Limit(rps), burst)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			res := limiter.Reserve()
			if !res.OK() {
				tooMany(w, r, time.Second)
				return
			}
			if delay := res.Delay(); delay > 0 {
				res.Cancel()
				tooMany(w, r, delay)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func tooMany(w http.ResponseWriter, r *http.Request, retry time.Duration) {
	secs := int(math.Ceil(retry.Seconds()))
	if secs < 1 {
		secs = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(secs))
	envelope, _ := gferrors.NewErrorEnvelope(apperrors.CodeRateLimited, "rate limit exceeded").
		WithCorrelationID(GetRequestID(r.Context())).
		WithContext(map[string]any{"retry_after_seconds": secs})
	writeErrorResponse(w, envelope, http.StatusTooManyRequests)
}
