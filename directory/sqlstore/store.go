// Package sqlstore implements [tiergate.Directory] on database/sql. PostgreSQL, MySQL
// and SQLite are supported.
//
// Every read is a point lookup on a unique column, so a request costs at most one
// indexed query per collaborator call.
package sqlstore

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/MrEthical07/tiergate"
	"github.com/MrEthical07/tiergate/directory"
	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
)

const userColumns = `id, username, email, hashed_api_key, tier_id, is_superuser, is_deleted`

// Store is a SQL-backed directory of users, tiers, rate-limit rules and revoked tokens.
type Store struct {
	db      *sql.DB
	dialect string
}

// New wraps db and creates the schema if it does not exist.
// Supported dialects: "postgres", "mysql", "sqlite".
func New(db *sql.DB, dialect string) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}

	switch dialect {
	case "postgres", "mysql", "sqlite":
	default:
		return nil, fmt.Errorf("unsupported dialect: %s (supported: postgres, mysql, sqlite)", dialect)
	}

	s := &Store{db: db, dialect: dialect}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

func (s *Store) schema() []string {
	var idColumn string
	switch s.dialect {
	case "postgres":
		idColumn = "id BIGSERIAL PRIMARY KEY"
	case "mysql":
		idColumn = "id BIGINT AUTO_INCREMENT PRIMARY KEY"
	default:
		idColumn = "id INTEGER PRIMARY KEY AUTOINCREMENT"
	}

	return []string{
		`CREATE TABLE IF NOT EXISTS tiers (
    ` + idColumn + `,
    name VARCHAR(100) NOT NULL UNIQUE
)`,
		`CREATE TABLE IF NOT EXISTS users (
    ` + idColumn + `,
    username VARCHAR(100) NOT NULL UNIQUE,
    email VARCHAR(255) NOT NULL UNIQUE,
    hashed_api_key VARCHAR(64) NULL UNIQUE,
    tier_id BIGINT NULL REFERENCES tiers(id),
    is_superuser BOOLEAN NOT NULL DEFAULT FALSE,
    is_deleted BOOLEAN NOT NULL DEFAULT FALSE
)`,
		`CREATE TABLE IF NOT EXISTS rate_limits (
    ` + idColumn + `,
    tier_id BIGINT NOT NULL REFERENCES tiers(id),
    path VARCHAR(255) NOT NULL,
    request_limit BIGINT NOT NULL,
    period_seconds BIGINT NOT NULL,
    name VARCHAR(255) NOT NULL DEFAULT '',
    UNIQUE (tier_id, path)
)`,
		`CREATE TABLE IF NOT EXISTS token_blacklist (
    token_hash VARCHAR(64) NOT NULL PRIMARY KEY,
    revoked_at TIMESTAMP NOT NULL
)`,
	}
}

// initSchema runs one statement per Exec; the MySQL driver rejects multi-statement
// strings by default.
func (s *Store) initSchema() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for _, stmt := range s.schema() {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}
	return nil
}

// GetUser implements [tiergate.Directory].
func (s *Store) GetUser(ctx context.Context, lookup tiergate.UserLookup) (tiergate.UserRecord, bool, error) {
	var column string
	switch lookup.Field {
	case tiergate.LookupEmail:
		column = "email"
	case tiergate.LookupUsername:
		column = "username"
	case tiergate.LookupAPIKeyHash:
		column = "hashed_api_key"
	default:
		return tiergate.UserRecord{}, false, fmt.Errorf("unsupported lookup field %q", lookup.Field)
	}

	query := `SELECT ` + userColumns + ` FROM users WHERE ` + column + ` = ?`
	args := []any{lookup.Value}
	if lookup.Deleted == tiergate.ExcludeDeleted {
		query += ` AND is_deleted = ?`
		args = append(args, false)
	}

	var (
		rec    tiergate.UserRecord
		apiKey sql.NullString
		tierID sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx, s.rebind(query), args...).Scan(
		&rec.ID, &rec.Username, &rec.Email, &apiKey, &tierID, &rec.IsSuperuser, &rec.IsDeleted,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return tiergate.UserRecord{}, false, nil
	}
	if err != nil {
		return tiergate.UserRecord{}, false, fmt.Errorf("failed to query user: %w", err)
	}

	rec.HashedAPIKey = apiKey.String
	if tierID.Valid {
		id := tierID.Int64
		rec.TierID = &id
	}
	return rec, true, nil
}

// GetTier implements [tiergate.Directory].
func (s *Store) GetTier(ctx context.Context, id int64) (tiergate.Tier, bool, error) {
	var t tiergate.Tier
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT id, name FROM tiers WHERE id = ?`), id).Scan(&t.ID, &t.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return tiergate.Tier{}, false, nil
	}
	if err != nil {
		return tiergate.Tier{}, false, fmt.Errorf("failed to query tier: %w", err)
	}
	return t, true, nil
}

// GetRateLimit implements [tiergate.Directory].
func (s *Store) GetRateLimit(ctx context.Context, tierID int64, path string) (tiergate.RateLimitRule, bool, error) {
	query := `SELECT id, tier_id, path, request_limit, period_seconds, name FROM rate_limits WHERE tier_id = ? AND path = ?`

	var (
		r       tiergate.RateLimitRule
		seconds int64
	)
	err := s.db.QueryRowContext(ctx, s.rebind(query), tierID, path).Scan(&r.ID, &r.TierID, &r.Path, &r.Limit, &seconds, &r.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return tiergate.RateLimitRule{}, false, nil
	}
	if err != nil {
		return tiergate.RateLimitRule{}, false, fmt.Errorf("failed to query rate limit: %w", err)
	}
	r.Period = time.Duration(seconds) * time.Second
	return r, true, nil
}

// IsTokenRevoked implements [tiergate.Directory]. Tokens are stored as SHA-256 digests.
func (s *Store) IsTokenRevoked(ctx context.Context, token string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT 1 FROM token_blacklist WHERE token_hash = ?`), hashToken(token)).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to query token blacklist: %w", err)
	}
	return true, nil
}

// Ping implements [tiergate.Directory].
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// AddTier inserts a tier. A zero id lets the database assign one.
func (s *Store) AddTier(ctx context.Context, tier tiergate.Tier) error {
	return s.insert(ctx, "tiers", tier.ID, []string{"name"}, []any{tier.Name})
}

// AddRateLimit inserts a rule. Periods are stored in whole seconds; rules shorter than
// one second are rejected with [tiergate.ErrInvalidQuota].
func (s *Store) AddRateLimit(ctx context.Context, rule tiergate.RateLimitRule) error {
	if rule.Limit <= 0 || rule.Period < time.Second {
		return tiergate.ErrInvalidQuota
	}
	if err := s.requireTier(ctx, rule.TierID); err != nil {
		return err
	}
	return s.insert(ctx, "rate_limits", rule.ID,
		[]string{"tier_id", "path", "request_limit", "period_seconds", "name"},
		[]any{rule.TierID, rule.Path, rule.Limit, int64(rule.Period / time.Second), rule.Name},
	)
}

// AddUser inserts a user.
func (s *Store) AddUser(ctx context.Context, user tiergate.UserRecord) error {
	var tierID sql.NullInt64
	if user.TierID != nil {
		if err := s.requireTier(ctx, *user.TierID); err != nil {
			return err
		}
		tierID = sql.NullInt64{Int64: *user.TierID, Valid: true}
	}
	apiKey := sql.NullString{String: user.HashedAPIKey, Valid: user.HashedAPIKey != ""}

	return s.insert(ctx, "users", user.ID,
		[]string{"username", "email", "hashed_api_key", "tier_id", "is_superuser", "is_deleted"},
		[]any{user.Username, user.Email, apiKey, tierID, user.IsSuperuser, user.IsDeleted},
	)
}

// SoftDeleteUser flags a user deleted without removing the row.
func (s *Store) SoftDeleteUser(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, s.rebind(`UPDATE users SET is_deleted = ? WHERE id = ?`), true, id)
	if err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %d", directory.ErrUnknownUser, id)
	}
	return nil
}

// RevokeToken adds a token to the deny list. Revoking twice is not an error.
func (s *Store) RevokeToken(ctx context.Context, token string) error {
	err := s.insert(ctx, "token_blacklist", 0, []string{"token_hash", "revoked_at"}, []any{hashToken(token), time.Now().UTC()})
	if errors.Is(err, directory.ErrDuplicate) {
		return nil
	}
	return err
}

func (s *Store) requireTier(ctx context.Context, id int64) error {
	_, ok, err := s.GetTier(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %d", directory.ErrUnknownTier, id)
	}
	return nil
}

func (s *Store) insert(ctx context.Context, table string, id int64, columns []string, args []any) error {
	if id != 0 {
		columns = append([]string{"id"}, columns...)
		args = append([]any{id}, args...)
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(columns)), ", ")
	query := `INSERT INTO ` + table + ` (` + strings.Join(columns, ", ") + `) VALUES (` + placeholders + `)`

	if _, err := s.db.ExecContext(ctx, s.rebind(query), args...); err != nil {
		return fmt.Errorf("failed to insert into %s: %w", table, translate(err))
	}
	if id != 0 {
		if q := syncSequenceQuery(s.dialect, table); q != "" {
			if _, err := s.db.ExecContext(ctx, q); err != nil {
				return fmt.Errorf("failed to advance %s id sequence: %w", table, err)
			}
		}
	}
	return nil
}

// syncSequenceQuery returns the statement that moves a table's id sequence past its
// largest explicit id. Only PostgreSQL sequences ignore explicit ids; MySQL and
// SQLite advance their counters on their own.
func syncSequenceQuery(dialect, table string) string {
	if dialect != "postgres" {
		return ""
	}
	return `SELECT setval(pg_get_serial_sequence('` + table + `', 'id'), (SELECT COALESCE(MAX(id), 1) FROM ` + table + `))`
}

// rebind rewrites "?" placeholders to "$n" for PostgreSQL.
func (s *Store) rebind(query string) string {
	if s.dialect != "postgres" {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

// translate maps driver constraint violations onto the directory sentinels.
func translate(err error) error {
	var pgErr *pq.Error
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return fmt.Errorf("%w: %v", directory.ErrDuplicate, err)
		case "23503":
			return fmt.Errorf("%w: %v", directory.ErrUnknownTier, err)
		}
		return err
	}

	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		switch myErr.Number {
		case 1062:
			return fmt.Errorf("%w: %v", directory.ErrDuplicate, err)
		case 1452:
			return fmt.Errorf("%w: %v", directory.ErrUnknownTier, err)
		}
		return err
	}

	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) && liteErr.Code == sqlite3.ErrConstraint {
		switch liteErr.ExtendedCode {
		case sqlite3.ErrConstraintUnique, sqlite3.ErrConstraintPrimaryKey:
			return fmt.Errorf("%w: %v", directory.ErrDuplicate, err)
		case sqlite3.ErrConstraintForeignKey:
			return fmt.Errorf("%w: %v", directory.ErrUnknownTier, err)
		}
	}
	return err
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

var _ tiergate.Directory = (*Store)(nil)
