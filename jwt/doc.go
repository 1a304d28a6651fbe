// Package jwt verifies bearer tokens for identity resolution. Tokens carry the caller's
// username or email in the sub claim and a token_type claim; only "access" tokens
// authenticate requests.
//
// Verification is strict: pinned algorithm, required expiry, optional issuer/audience
// checks, bounded leeway, and kid-based key selection for rotation.
package jwt
