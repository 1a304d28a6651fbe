package appconfig

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/MrEthical07/tiergate"
	"github.com/MrEthical07/tiergate/directory"
	"github.com/MrEthical07/tiergate/route"
	"gopkg.in/yaml.v3"
)

// Policy is the YAML policy file: route templates plus the tiers, rules, users and
// revoked tokens to seed into a directory.
type Policy struct {
	Routes        []string     `yaml:"routes"`
	Tiers         []TierPolicy `yaml:"tiers"`
	Users         []UserPolicy `yaml:"users"`
	RevokedTokens []string     `yaml:"revoked_tokens"`
}

// TierPolicy is one tier and its per-path rules.
type TierPolicy struct {
	ID         int64        `yaml:"id"`
	Name       string       `yaml:"name"`
	RateLimits []RulePolicy `yaml:"rate_limits"`
}

// RulePolicy is one rate-limit rule inside a tier.
type RulePolicy struct {
	Path   string   `yaml:"path"`
	Limit  int64    `yaml:"limit"`
	Period Duration `yaml:"period"`
	Name   string   `yaml:"name"`
}

// UserPolicy is one user. APIKey is the plaintext key; only its hash is stored.
type UserPolicy struct {
	ID        int64  `yaml:"id"`
	Username  string `yaml:"username"`
	Email     string `yaml:"email"`
	APIKey    string `yaml:"api_key"`
	Tier      string `yaml:"tier"`
	Superuser bool   `yaml:"superuser"`
	Deleted   bool   `yaml:"deleted"`
}

// Duration accepts a Go duration string ("90s", "1h") or an integer number of seconds.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration must be a string (e.g. '1m') or integer seconds")
	}
	s := strings.TrimSpace(node.Value)
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		*d = Duration(time.Duration(n) * time.Second)
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Duration returns the time.Duration value.
func (d Duration) Duration() time.Duration { return time.Duration(d) }

// Seeder is a directory that can be written to. Both the memory and sqlstore
// directories implement it. The read side is used to tell an already-seeded record
// from a conflicting one.
type Seeder interface {
	tiergate.Directory
	AddTier(ctx context.Context, tier tiergate.Tier) error
	AddRateLimit(ctx context.Context, rule tiergate.RateLimitRule) error
	AddUser(ctx context.Context, user tiergate.UserRecord) error
	RevokeToken(ctx context.Context, token string) error
}

// LoadPolicy reads and validates a policy file. Unknown keys are rejected.
func LoadPolicy(path string) (Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Policy{}, fmt.Errorf("read policy: %w", err)
	}
	return ParsePolicy(data)
}

// ParsePolicy decodes and validates policy YAML.
func ParsePolicy(data []byte) (Policy, error) {
	var p Policy
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&p); err != nil && !errors.Is(err, io.EOF) {
		return Policy{}, fmt.Errorf("parse policy: %w", err)
	}
	if err := p.Validate(); err != nil {
		return Policy{}, err
	}
	return p, nil
}

// Validate checks references, ids, quota values and route templates. Every rule path
// must be one of the listed route templates, spelled the way the normalizer emits
// it; any other path would never be looked up.
func (p *Policy) Validate() error {
	routes, err := route.New(p.Routes...)
	if err != nil {
		return fmt.Errorf("policy routes: %w", err)
	}

	tierNames := make(map[string]bool, len(p.Tiers))
	tierIDs := make(map[int64]string, len(p.Tiers))
	for i, t := range p.Tiers {
		name := strings.TrimSpace(t.Name)
		if name == "" {
			return fmt.Errorf("tier %d: name is required", t.ID)
		}
		if tierNames[name] {
			return fmt.Errorf("tier %q: duplicate name", name)
		}
		id := effectiveID(t.ID, i)
		if other, ok := tierIDs[id]; ok {
			return fmt.Errorf("tier %q: id %d already used by tier %q", name, id, other)
		}
		tierNames[name] = true
		tierIDs[id] = name

		paths := make(map[string]bool, len(t.RateLimits))
		for _, r := range t.RateLimits {
			if !strings.HasPrefix(r.Path, "/") {
				return fmt.Errorf("tier %q: rule path %q must start with /", name, r.Path)
			}
			if m, ok := routes.Match(r.Path); !ok || m.Template != r.Path {
				return fmt.Errorf("tier %q: rule path %q is not a listed route template", name, r.Path)
			}
			if paths[r.Path] {
				return fmt.Errorf("tier %q: duplicate rule for %q", name, r.Path)
			}
			paths[r.Path] = true
			if r.Limit <= 0 || r.Period.Duration() < time.Second {
				return fmt.Errorf("tier %q rule %q: %w", name, r.Path, tiergate.ErrInvalidQuota)
			}
		}
	}

	userIDs := make(map[int64]string, len(p.Users))
	for i, u := range p.Users {
		if u.Username == "" || u.Email == "" {
			return fmt.Errorf("user %d: username and email are required", u.ID)
		}
		id := effectiveID(u.ID, i)
		if other, ok := userIDs[id]; ok {
			return fmt.Errorf("user %q: id %d already used by user %q", u.Username, id, other)
		}
		userIDs[id] = u.Username
		if u.Tier != "" && !tierNames[u.Tier] {
			return fmt.Errorf("user %q: unknown tier %q", u.Username, u.Tier)
		}
	}
	return nil
}

// effectiveID is the id a record is seeded with: its explicit id, or its 1-based
// position in the list.
func effectiveID(id int64, index int) int64 {
	if id != 0 {
		return id
	}
	return int64(index + 1)
}

// Apply writes the policy into s. A record that already exists with the same content
// is left untouched, so applying the same policy twice is safe; one that exists with
// different content is an error.
func (p *Policy) Apply(ctx context.Context, s Seeder) error {
	tierIDs := make(map[string]int64, len(p.Tiers))
	for i, t := range p.Tiers {
		tier := tiergate.Tier{ID: effectiveID(t.ID, i), Name: t.Name}
		tierIDs[t.Name] = tier.ID

		if err := s.AddTier(ctx, tier); err != nil {
			if err = sameTier(ctx, s, tier, err); err != nil {
				return fmt.Errorf("seed tier %q: %w", t.Name, err)
			}
		}
		for _, r := range t.RateLimits {
			rule := tiergate.RateLimitRule{
				TierID: tier.ID,
				Path:   r.Path,
				Limit:  r.Limit,
				Period: r.Period.Duration(),
				Name:   r.Name,
			}
			if err := s.AddRateLimit(ctx, rule); err != nil {
				if err = sameRule(ctx, s, rule, err); err != nil {
					return fmt.Errorf("seed rule %q for tier %q: %w", r.Path, t.Name, err)
				}
			}
		}
	}

	for i, u := range p.Users {
		rec := tiergate.UserRecord{
			ID:          effectiveID(u.ID, i),
			Username:    u.Username,
			Email:       u.Email,
			IsSuperuser: u.Superuser,
			IsDeleted:   u.Deleted,
		}
		if u.APIKey != "" {
			rec.HashedAPIKey = tiergate.HashAPIKey(u.APIKey)
		}
		if u.Tier != "" {
			tierID := tierIDs[u.Tier]
			rec.TierID = &tierID
		}
		if err := s.AddUser(ctx, rec); err != nil {
			if err = sameUser(ctx, s, rec, err); err != nil {
				return fmt.Errorf("seed user %q: %w", u.Username, err)
			}
		}
	}

	for _, tok := range p.RevokedTokens {
		if err := s.RevokeToken(ctx, tok); err != nil {
			return fmt.Errorf("seed revoked token: %w", err)
		}
	}
	return nil
}

// sameTier returns nil when addErr is a duplicate of an identical stored tier and
// addErr otherwise.
func sameTier(ctx context.Context, d tiergate.Directory, want tiergate.Tier, addErr error) error {
	if !errors.Is(addErr, directory.ErrDuplicate) {
		return addErr
	}
	got, ok, err := d.GetTier(ctx, want.ID)
	if err != nil {
		return err
	}
	if !ok || got.Name != want.Name {
		return addErr
	}
	return nil
}

func sameRule(ctx context.Context, d tiergate.Directory, want tiergate.RateLimitRule, addErr error) error {
	if !errors.Is(addErr, directory.ErrDuplicate) {
		return addErr
	}
	got, ok, err := d.GetRateLimit(ctx, want.TierID, want.Path)
	if err != nil {
		return err
	}
	if !ok || got.Limit != want.Limit || got.Period != want.Period || got.Name != want.Name {
		return addErr
	}
	return nil
}

// sameUser ignores IsDeleted: a user soft-deleted at runtime must not block the
// next start.
func sameUser(ctx context.Context, d tiergate.Directory, want tiergate.UserRecord, addErr error) error {
	if !errors.Is(addErr, directory.ErrDuplicate) {
		return addErr
	}
	got, ok, err := d.GetUser(ctx, tiergate.UserLookup{
		Field:   tiergate.LookupUsername,
		Value:   want.Username,
		Deleted: tiergate.IncludeDeleted,
	})
	if err != nil {
		return err
	}
	if !ok || got.ID != want.ID || got.Email != want.Email || got.HashedAPIKey != want.HashedAPIKey ||
		got.IsSuperuser != want.IsSuperuser || !sameTierRef(got.TierID, want.TierID) {
		return addErr
	}
	return nil
}

func sameTierRef(a, b *int64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
