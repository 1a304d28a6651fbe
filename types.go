package tiergate

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"time"

	internalaudit "github.com/MrEthical07/tiergate/internal/audit"
)

// UnknownAddress keys anonymous callers whose client address is not known.
const UnknownAddress = "unknown"

// AuthMethod records which credential authenticated a user.
type AuthMethod string

const (
	// AuthMethodToken means the caller presented a valid bearer token.
	AuthMethodToken AuthMethod = "token"
	// AuthMethodAPIKey means the caller presented a valid API key.
	AuthMethodAPIKey AuthMethod = "api_key"
)

// Identity is the resolved caller of one request. It is either an
// [AuthenticatedUser] or an [AnonymousCaller]; consumers type-switch on it.
type Identity interface {
	// Key is the stable identity component of the counter key.
	Key() string
	isIdentity()
}

// AuthenticatedUser is a caller proven by token or API key.
type AuthenticatedUser struct {
	ID          int64
	Username    string
	Email       string
	TierID      *int64
	IsSuperuser bool
	Method      AuthMethod
}

// Key returns "user:<id>".
func (u AuthenticatedUser) Key() string { return "user:" + strconv.FormatInt(u.ID, 10) }

func (AuthenticatedUser) isIdentity() {}

// AnonymousCaller is a caller without valid credentials, known only by address.
type AnonymousCaller struct {
	ClientAddress string
}

// Key returns "ip:<address>", with [UnknownAddress] standing in for an empty address.
func (a AnonymousCaller) Key() string {
	if a.ClientAddress == "" {
		return "ip:" + UnknownAddress
	}
	return "ip:" + a.ClientAddress
}

func (AnonymousCaller) isIdentity() {}

// Credentials are the per-request inputs to identity resolution. Every field is
// optional.
type Credentials struct {
	BearerToken   string
	APIKey        string
	ClientAddress string
}

// Tier is a named quota class.
type Tier struct {
	ID   int64
	Name string
}

// RateLimitRule overrides the default quota for one tier on one canonical path.
type RateLimitRule struct {
	ID     int64
	TierID int64
	Path   string
	Limit  int64
	Period time.Duration
	Name   string
}

// QuotaSource tells where an effective quota came from.
type QuotaSource string

const (
	// QuotaDefault is the process-wide default quota.
	QuotaDefault QuotaSource = "default"
	// QuotaTierRule is a tier-specific rule for the canonical path.
	QuotaTierRule QuotaSource = "tier_rule"
)

// Quota is the effective (limit, period) for one request. It is never persisted.
type Quota struct {
	Limit  int64
	Period time.Duration
	Source QuotaSource
}

// Decision is the outcome of one admission attempt.
type Decision struct {
	Admitted   bool
	Count      int64
	Limit      int64
	Remaining  int64
	ResetAfter time.Duration
	// Degraded is set when the counter store failed and the fail-open policy admitted
	// the request without counting it.
	Degraded bool
}

// GateResult is everything [Engine.Check] learned about a request.
type GateResult struct {
	Identity Identity
	Path     string
	Quota    Quota
	Decision Decision
}

// LookupField selects the user column a [UserLookup] matches on.
type LookupField string

const (
	LookupEmail      LookupField = "email"
	LookupUsername   LookupField = "username"
	LookupAPIKeyHash LookupField = "api_key_hash"
)

// DeletedFilter controls whether soft-deleted users are visible to a lookup. The zero
// value excludes them.
type DeletedFilter uint8

const (
	ExcludeDeleted DeletedFilter = iota
	IncludeDeleted
)

// UserLookup is an exact-match point lookup on one user column.
type UserLookup struct {
	Field   LookupField
	Value   string
	Deleted DeletedFilter
}

// UserRecord is a user row as returned by a [Directory].
type UserRecord struct {
	ID           int64
	Username     string
	Email        string
	HashedAPIKey string
	TierID       *int64
	IsSuperuser  bool
	IsDeleted    bool
}

// Directory is the database collaborator. Every lookup is a point lookup returning at
// most one record; found is false when no record matches. Errors mean the backend
// could not answer.
type Directory interface {
	GetUser(ctx context.Context, lookup UserLookup) (UserRecord, bool, error)
	GetTier(ctx context.Context, id int64) (Tier, bool, error)
	GetRateLimit(ctx context.Context, tierID int64, path string) (RateLimitRule, bool, error)
	IsTokenRevoked(ctx context.Context, token string) (bool, error)
	Ping(ctx context.Context) error
}

// TokenVerifier checks a bearer token and returns its subject (a username or an
// email). [jwt.Manager] satisfies it.
type TokenVerifier interface {
	VerifyAccess(token string) (string, error)
}

// HealthStatus is the state of one dependency.
type HealthStatus string

const (
	HealthHealthy   HealthStatus = "healthy"
	HealthUnhealthy HealthStatus = "unhealthy"
)

// HealthReport is the structured result of [Engine.Health].
type HealthReport struct {
	Status    HealthStatus
	Checks    map[string]HealthStatus
	CheckedAt time.Time
}

// Healthy reports whether every dependency answered.
func (r HealthReport) Healthy() bool { return r.Status == HealthHealthy }

// HashAPIKey returns the hex SHA-256 digest stored for an API key.
func HashAPIKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

type auditDispatcher = internalaudit.Dispatcher
