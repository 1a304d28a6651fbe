package middleware

import (
	"context"
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/MrEthical07/tiergate"
)

// RateLimit runs [tiergate.Engine.Check] for every request. Admitted requests carry
// the identity and gate result in their context.
func RateLimit(engine *tiergate.Engine, opts Options) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if engine == nil {
				writeError(w, tiergate.ErrEngineNotReady)
				return
			}

			res, err := engine.Check(r.Context(), Credentials(r, opts), r.URL.Path)
			if !res.Decision.Degraded && res.Decision.Limit > 0 {
				setRateLimitHeaders(w, res.Decision)
			}
			if err != nil {
				if errors.Is(err, tiergate.ErrRateLimited) {
					w.Header().Set("Retry-After", strconv.FormatInt(ceilSeconds(res.Decision.ResetAfter, 1), 10))
				}
				writeError(w, err)
				return
			}

			ctx := tiergate.WithIdentity(r.Context(), res.Identity)
			ctx = tiergate.WithGateResult(ctx, res)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireUser rejects requests without a valid token or API key.
func RequireUser(engine *tiergate.Engine, opts Options) func(http.Handler) http.Handler {
	return requireIdentity(engine, opts, (*tiergate.Engine).Authenticate)
}

// RequireSuperuser rejects requests whose caller is not a superuser.
func RequireSuperuser(engine *tiergate.Engine, opts Options) func(http.Handler) http.Handler {
	return requireIdentity(engine, opts, (*tiergate.Engine).AuthenticateSuperuser)
}

type authenticateFunc func(*tiergate.Engine, context.Context, tiergate.Credentials) (tiergate.AuthenticatedUser, error)

func requireIdentity(engine *tiergate.Engine, opts Options, authenticate authenticateFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if engine == nil {
				writeError(w, tiergate.ErrEngineNotReady)
				return
			}

			user, err := authenticate(engine, r.Context(), Credentials(r, opts))
			if err != nil {
				writeError(w, err)
				return
			}

			next.ServeHTTP(w, r.WithContext(tiergate.WithIdentity(r.Context(), user)))
		})
	}
}

// StatusCode maps an Engine error onto an HTTP status.
func StatusCode(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, tiergate.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, tiergate.ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, tiergate.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, tiergate.ErrStoreUnavailable), errors.Is(err, tiergate.ErrEngineNotReady):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := StatusCode(err)
	var msg string
	switch status {
	case http.StatusTooManyRequests:
		msg = "rate limit exceeded"
	case http.StatusUnauthorized:
		msg = "unauthorized"
	case http.StatusForbidden:
		msg = "forbidden"
	case http.StatusServiceUnavailable:
		msg = "service unavailable"
	default:
		msg = "internal error"
	}
	http.Error(w, msg, status)
}

func setRateLimitHeaders(w http.ResponseWriter, d tiergate.Decision) {
	h := w.Header()
	h.Set("X-RateLimit-Limit", strconv.FormatInt(d.Limit, 10))
	h.Set("X-RateLimit-Remaining", strconv.FormatInt(d.Remaining, 10))
	h.Set("X-RateLimit-Reset", strconv.FormatInt(ceilSeconds(d.ResetAfter, 0), 10))
}

func ceilSeconds(d time.Duration, floor int64) int64 {
	s := int64(math.Ceil(d.Seconds()))
	if s < floor {
		return floor
	}
	return s
}
