package ratelimit

import (
	"encoding/json"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"
)

// errorResponse mirrors the API's JSON error envelope
type errorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Key builds the limiter key for a caller on a named route
func Key(clientAddress, route string) string {
	return clientAddress + ":" + route
}

// Middleware guards next with the limiter, keyed by client address and route.
// proxies decides whether forwarding headers are believed; nil keys on the socket peer.
// Admitted requests carry X-RateLimit-* headers; rejected ones get 429 with Retry-After.
func Middleware(l *Limiter, route string, policy Policy, proxies *ProxyTrust, logger zerolog.Logger) func(http.Handler) http.Handler {
	policy = policy.normalize()
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			addr := proxies.ClientAddress(r)
			res := l.Attempt(Key(addr, route), policy)

			h := w.Header()
			h.Set("X-RateLimit-Limit", strconv.Itoa(res.Limit))
			h.Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
			h.Set("X-RateLimit-Reset", strconv.FormatInt(res.ResetAt.Unix(), 10))

			if res.Admitted {
				next.ServeHTTP(w, r)
				return
			}

			retry := retryAfterSeconds(res.RetryAfter(l.now()))
			logger.Info().
				Str("client", addr).
				Str("route", route).
				Int("retry_after", retry).
				Msg("rate limit exceeded")

			h.Set("Retry-After", strconv.Itoa(retry))
			h.Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			_ = json.NewEncoder(w).Encode(errorResponse{
				Error:   http.StatusText(http.StatusTooManyRequests),
				Code:    http.StatusTooManyRequests,
				Message: "Too many requests, retry in " + strconv.Itoa(retry) + "s",
			})
		})
	}
}

// retryAfterSeconds rounds up and never advertises less than one second
func retryAfterSeconds(d time.Duration) int {
	s := int(math.Ceil(d.Seconds()))
	if s < 1 {
		return 1
	}
	return s
}
