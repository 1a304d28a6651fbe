// Package middleware adapts [tiergate.Engine] to net/http.
//
// # Handlers
//
//   - [RateLimit]: runs the full gate (identity, path, quota, counter) and sets the
//     X-RateLimit-* headers.
//   - [RequireUser]: rejects callers that are not authenticated.
//   - [RequireSuperuser]: rejects callers that are not superusers.
//
// Each handler extracts [tiergate.Credentials] from the request, calls the Engine,
// and stores the resolved identity in the request context for downstream handlers.
//
// # Status mapping
//
//	ErrRateLimited       429 (with Retry-After)
//	ErrUnauthenticated   401
//	ErrForbidden         403
//	ErrStoreUnavailable  503
//	ErrEngineNotReady    503
//
// # What this package must NOT do
//
//   - Parse or verify tokens (delegates to Engine).
//   - Access Redis or the directory (Engine handles I/O).
//   - Make admission decisions beyond mapping Engine results onto status codes.
package middleware
