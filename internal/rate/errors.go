package rate

import "errors"

var (
	// ErrRedisUnavailable wraps every failure to reach or evaluate against the counter store.
	ErrRedisUnavailable = errors.New("redis unavailable")
	// ErrInvalidWindow is returned when a window length or limit is not positive.
	ErrInvalidWindow = errors.New("invalid rate window")
)
