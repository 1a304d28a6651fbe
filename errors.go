package tiergate

import "errors"

var (
	// ErrUnauthenticated is returned when an auth-required operation finds no valid
	// bearer token and no valid API key.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrForbidden is returned when the caller is authenticated but lacks the required
	// privilege.
	ErrForbidden = errors.New("forbidden")
	// ErrRateLimited is returned by [Engine.Check] when the caller's window is exhausted.
	ErrRateLimited = errors.New("rate limited")
	// ErrStoreUnavailable wraps every failure to reach the directory or the counter store.
	// It is never collapsed into ErrRateLimited or ErrUnauthenticated.
	ErrStoreUnavailable = errors.New("store unavailable")
	// ErrEngineNotReady is returned when an Engine method is called on a nil or
	// partially built engine.
	ErrEngineNotReady = errors.New("engine not ready")
	// ErrInvalidQuota is returned for quotas or rate-limit rules with a non-positive
	// limit or period.
	ErrInvalidQuota = errors.New("invalid quota")
)
