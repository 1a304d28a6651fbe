// Package memory provides a map-backed [tiergate.Directory] for tests, demos and
// single-process deployments that load their users and tiers from a policy file.
//
// All methods are safe for concurrent use.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/MrEthical07/tiergate"
	"github.com/MrEthical07/tiergate/directory"
)

type ruleKey struct {
	tierID int64
	path   string
}

// Directory is an in-memory user, tier and rule store.
type Directory struct {
	mu       sync.RWMutex
	users    map[int64]tiergate.UserRecord
	byName   map[string]int64
	byEmail  map[string]int64
	byAPIKey map[string]int64
	tiers    map[int64]tiergate.Tier
	rules    map[ruleKey]tiergate.RateLimitRule
	revoked  map[string]struct{}
	nextRule int64
}

// New returns an empty [Directory].
func New() *Directory {
	return &Directory{
		users:    make(map[int64]tiergate.UserRecord),
		byName:   make(map[string]int64),
		byEmail:  make(map[string]int64),
		byAPIKey: make(map[string]int64),
		tiers:    make(map[int64]tiergate.Tier),
		rules:    make(map[ruleKey]tiergate.RateLimitRule),
		revoked:  make(map[string]struct{}),
	}
}

// AddTier registers a tier. Tier ids and names are unique.
func (d *Directory) AddTier(_ context.Context, tier tiergate.Tier) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.tiers[tier.ID]; ok {
		return fmt.Errorf("%w: tier id %d", directory.ErrDuplicate, tier.ID)
	}
	for _, t := range d.tiers {
		if t.Name == tier.Name {
			return fmt.Errorf("%w: tier name %q", directory.ErrDuplicate, tier.Name)
		}
	}
	d.tiers[tier.ID] = tier
	return nil
}

// AddRateLimit registers a rule. At most one rule may exist per (tier, path). A zero
// rule id is assigned automatically.
func (d *Directory) AddRateLimit(_ context.Context, rule tiergate.RateLimitRule) error {
	if rule.Limit <= 0 || rule.Period <= 0 {
		return tiergate.ErrInvalidQuota
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.tiers[rule.TierID]; !ok {
		return fmt.Errorf("%w: %d", directory.ErrUnknownTier, rule.TierID)
	}
	k := ruleKey{tierID: rule.TierID, path: rule.Path}
	if _, ok := d.rules[k]; ok {
		return fmt.Errorf("%w: rule for tier %d on %q", directory.ErrDuplicate, rule.TierID, rule.Path)
	}
	if rule.ID == 0 {
		d.nextRule++
		rule.ID = d.nextRule
	} else if rule.ID > d.nextRule {
		d.nextRule = rule.ID
	}
	d.rules[k] = rule
	return nil
}

// AddUser registers a user. Username, email and API key hash are unique across all
// users, soft-deleted ones included.
func (d *Directory) AddUser(_ context.Context, user tiergate.UserRecord) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.users[user.ID]; ok {
		return fmt.Errorf("%w: user id %d", directory.ErrDuplicate, user.ID)
	}
	if _, ok := d.byName[user.Username]; ok {
		return fmt.Errorf("%w: username %q", directory.ErrDuplicate, user.Username)
	}
	if _, ok := d.byEmail[user.Email]; ok {
		return fmt.Errorf("%w: email %q", directory.ErrDuplicate, user.Email)
	}
	if user.HashedAPIKey != "" {
		if _, ok := d.byAPIKey[user.HashedAPIKey]; ok {
			return fmt.Errorf("%w: api key", directory.ErrDuplicate)
		}
	}
	if user.TierID != nil {
		if _, ok := d.tiers[*user.TierID]; !ok {
			return fmt.Errorf("%w: %d", directory.ErrUnknownTier, *user.TierID)
		}
		tierID := *user.TierID
		user.TierID = &tierID
	}

	d.users[user.ID] = user
	d.byName[user.Username] = user.ID
	d.byEmail[user.Email] = user.ID
	if user.HashedAPIKey != "" {
		d.byAPIKey[user.HashedAPIKey] = user.ID
	}
	return nil
}

// SoftDeleteUser marks a user deleted. Deleted users stay in the indexes so their
// unique values are not reused.
func (d *Directory) SoftDeleteUser(_ context.Context, id int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	u, ok := d.users[id]
	if !ok {
		return fmt.Errorf("%w: %d", directory.ErrUnknownUser, id)
	}
	u.IsDeleted = true
	d.users[id] = u
	return nil
}

// RevokeToken adds a token to the deny list.
func (d *Directory) RevokeToken(_ context.Context, token string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.revoked[token] = struct{}{}
	return nil
}

// GetUser implements [tiergate.Directory].
func (d *Directory) GetUser(ctx context.Context, lookup tiergate.UserLookup) (tiergate.UserRecord, bool, error) {
	if err := ctx.Err(); err != nil {
		return tiergate.UserRecord{}, false, err
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	var index map[string]int64
	switch lookup.Field {
	case tiergate.LookupEmail:
		index = d.byEmail
	case tiergate.LookupUsername:
		index = d.byName
	case tiergate.LookupAPIKeyHash:
		index = d.byAPIKey
	default:
		return tiergate.UserRecord{}, false, fmt.Errorf("unsupported lookup field %q", lookup.Field)
	}

	id, ok := index[lookup.Value]
	if !ok {
		return tiergate.UserRecord{}, false, nil
	}
	u := d.users[id]
	if u.IsDeleted && lookup.Deleted == tiergate.ExcludeDeleted {
		return tiergate.UserRecord{}, false, nil
	}
	if u.TierID != nil {
		tierID := *u.TierID
		u.TierID = &tierID
	}
	return u, true, nil
}

// GetTier implements [tiergate.Directory].
func (d *Directory) GetTier(ctx context.Context, id int64) (tiergate.Tier, bool, error) {
	if err := ctx.Err(); err != nil {
		return tiergate.Tier{}, false, err
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	t, ok := d.tiers[id]
	return t, ok, nil
}

// GetRateLimit implements [tiergate.Directory].
func (d *Directory) GetRateLimit(ctx context.Context, tierID int64, path string) (tiergate.RateLimitRule, bool, error) {
	if err := ctx.Err(); err != nil {
		return tiergate.RateLimitRule{}, false, err
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	r, ok := d.rules[ruleKey{tierID: tierID, path: path}]
	return r, ok, nil
}

// IsTokenRevoked implements [tiergate.Directory].
func (d *Directory) IsTokenRevoked(ctx context.Context, token string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.revoked[token]
	return ok, nil
}

// Ping implements [tiergate.Directory]; an in-memory directory is always reachable.
func (d *Directory) Ping(ctx context.Context) error {
	return ctx.Err()
}

var _ tiergate.Directory = (*Directory)(nil)
