package tiergate

import (
	"context"
	"errors"
	"testing"

	"github.com/MrEthical07/tiergate/jwt"
)

func TestResolveIdentityPrecedence(t *testing.T) {
	dir := seedDirectory()
	engine, _, done := newGateTestEngine(t, gateTestConfig(), dir)
	defer done()
	ctx := context.Background()

	aliceToken := issueTestToken(t, "alice", jwt.TokenAccess)

	cases := []struct {
		name       string
		creds      Credentials
		wantUserID int64
		wantMethod AuthMethod
		wantAnon   string
	}{
		{"valid token beats api key", Credentials{BearerToken: aliceToken, APIKey: "bob-key"}, 1, AuthMethodToken, ""},
		{"invalid token falls through to api key", Credentials{BearerToken: "garbage", APIKey: "bob-key"}, 2, AuthMethodAPIKey, ""},
		{"api key only", Credentials{APIKey: "alice-key", ClientAddress: "10.0.0.1"}, 1, AuthMethodAPIKey, ""},
		{"neither credential", Credentials{ClientAddress: "203.0.113.5"}, 0, "", "203.0.113.5"},
		{"invalid token and unknown key", Credentials{BearerToken: "garbage", APIKey: "nope", ClientAddress: "198.51.100.7"}, 0, "", "198.51.100.7"},
		{"empty address", Credentials{}, 0, "", UnknownAddress},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			id, err := engine.ResolveIdentity(ctx, tc.creds)
			if err != nil {
				t.Fatalf("resolve: %v", err)
			}
			switch v := id.(type) {
			case AuthenticatedUser:
				if tc.wantAnon != "" {
					t.Fatalf("expected anonymous caller, got user %d", v.ID)
				}
				if v.ID != tc.wantUserID || v.Method != tc.wantMethod {
					t.Fatalf("expected user %d via %s, got %d via %s", tc.wantUserID, tc.wantMethod, v.ID, v.Method)
				}
			case AnonymousCaller:
				if tc.wantAnon == "" {
					t.Fatalf("expected user %d, got anonymous %q", tc.wantUserID, v.ClientAddress)
				}
				if v.ClientAddress != tc.wantAnon {
					t.Fatalf("expected address %q, got %q", tc.wantAnon, v.ClientAddress)
				}
			default:
				t.Fatalf("unexpected identity %T", id)
			}
		})
	}
}

func TestResolveIdentityIsIdempotent(t *testing.T) {
	dir := seedDirectory()
	engine, _, done := newGateTestEngine(t, gateTestConfig(), dir)
	defer done()

	creds := Credentials{BearerToken: issueTestToken(t, "alice@example.com", jwt.TokenAccess)}
	first, err := engine.ResolveIdentity(context.Background(), creds)
	if err != nil {
		t.Fatalf("first resolve: %v", err)
	}
	second, err := engine.ResolveIdentity(context.Background(), creds)
	if err != nil {
		t.Fatalf("second resolve: %v", err)
	}
	if first != second {
		t.Fatalf("expected identical identities, got %+v and %+v", first, second)
	}
}

func TestResolveIdentityEmailSubjectUsesEmailLookup(t *testing.T) {
	dir := seedDirectory()
	engine, _, done := newGateTestEngine(t, gateTestConfig(), dir)
	defer done()

	id, err := engine.ResolveIdentity(context.Background(), Credentials{
		BearerToken: issueTestToken(t, "bob@example.com", jwt.TokenAccess),
	})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	user, ok := id.(AuthenticatedUser)
	if !ok || user.ID != 2 {
		t.Fatalf("expected bob by email, got %+v", id)
	}
}

func TestResolveIdentityExcludesSoftDeletedUsers(t *testing.T) {
	dir := seedDirectory()
	engine, _, done := newGateTestEngine(t, gateTestConfig(), dir)
	defer done()
	ctx := context.Background()

	for _, creds := range []Credentials{
		{BearerToken: issueTestToken(t, "carol", jwt.TokenAccess), ClientAddress: "10.1.1.1"},
		{APIKey: "carol-key", ClientAddress: "10.1.1.1"},
	} {
		id, err := engine.ResolveIdentity(ctx, creds)
		if err != nil {
			t.Fatalf("resolve: %v", err)
		}
		if _, ok := id.(AnonymousCaller); !ok {
			t.Fatalf("expected soft-deleted user to resolve anonymous, got %+v", id)
		}
	}

	// The directory does expose carol when asked explicitly.
	rec, found, err := dir.GetUser(ctx, UserLookup{Field: LookupUsername, Value: "carol", Deleted: IncludeDeleted})
	if err != nil || !found || !rec.IsDeleted {
		t.Fatalf("expected deleted carol with IncludeDeleted, got %+v found=%v err=%v", rec, found, err)
	}
}

func TestResolveIdentityRejectsRefreshAndRevokedTokens(t *testing.T) {
	dir := seedDirectory()
	engine, _, done := newGateTestEngine(t, gateTestConfig(), dir)
	defer done()
	ctx := context.Background()

	refresh := issueTestToken(t, "alice", jwt.TokenRefresh)
	id, err := engine.ResolveIdentity(ctx, Credentials{BearerToken: refresh, ClientAddress: "10.0.0.2"})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if _, ok := id.(AnonymousCaller); !ok {
		t.Fatalf("refresh token must not authenticate, got %+v", id)
	}

	access := issueTestToken(t, "alice", jwt.TokenAccess)
	dir.revoked[access] = true
	id, err = engine.ResolveIdentity(ctx, Credentials{BearerToken: access, APIKey: "bob-key"})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if user, ok := id.(AuthenticatedUser); !ok || user.ID != 2 {
		t.Fatalf("revoked token must fall through to api key, got %+v", id)
	}

	snap := engine.MetricsSnapshot()
	if snap.Counters[MetricAuthTokenRevoked] != 1 {
		t.Fatalf("expected one revoked token metric, got %d", snap.Counters[MetricAuthTokenRevoked])
	}
}

func TestAuthenticateRequiresCredentials(t *testing.T) {
	dir := seedDirectory()
	engine, _, done := newGateTestEngine(t, gateTestConfig(), dir)
	defer done()
	ctx := context.Background()

	if _, err := engine.Authenticate(ctx, Credentials{ClientAddress: "203.0.113.5"}); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated, got %v", err)
	}
	if _, err := engine.Authenticate(ctx, Credentials{BearerToken: "bad", APIKey: "bad"}); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated for bad credentials, got %v", err)
	}

	user, err := engine.Authenticate(ctx, Credentials{APIKey: "bob-key"})
	if err != nil {
		t.Fatalf("authenticate bob: %v", err)
	}
	if user.Username != "bob" {
		t.Fatalf("expected bob, got %q", user.Username)
	}
}

func TestAuthenticateSuperuser(t *testing.T) {
	dir := seedDirectory()
	engine, _, done := newGateTestEngine(t, gateTestConfig(), dir)
	defer done()
	ctx := context.Background()

	if _, err := engine.AuthenticateSuperuser(ctx, Credentials{BearerToken: issueTestToken(t, "alice", jwt.TokenAccess)}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden for alice, got %v", err)
	}
	if _, err := engine.AuthenticateSuperuser(ctx, Credentials{}); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated without credentials, got %v", err)
	}
	user, err := engine.AuthenticateSuperuser(ctx, Credentials{BearerToken: issueTestToken(t, "root", jwt.TokenAccess)})
	if err != nil {
		t.Fatalf("authenticate root: %v", err)
	}
	if !user.IsSuperuser {
		t.Fatal("expected superuser")
	}
}

func TestResolveIdentityDirectoryFailureIsStoreUnavailable(t *testing.T) {
	dir := seedDirectory()
	engine, _, done := newGateTestEngine(t, gateTestConfig(), dir)
	defer done()
	dir.failWith(errDirectoryDown)
	ctx := context.Background()

	if _, err := engine.ResolveIdentity(ctx, Credentials{APIKey: "bob-key"}); !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
	if _, err := engine.Authenticate(ctx, Credentials{BearerToken: issueTestToken(t, "alice", jwt.TokenAccess)}); !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable from Authenticate, got %v", err)
	}

	// Anonymous resolution needs no directory access.
	id, err := engine.ResolveIdentity(ctx, Credentials{ClientAddress: "203.0.113.5"})
	if err != nil {
		t.Fatalf("anonymous resolve: %v", err)
	}
	if id.Key() != "ip:203.0.113.5" {
		t.Fatalf("unexpected key %q", id.Key())
	}
}

func TestResolveIdentityWithoutVerifierIgnoresTokens(t *testing.T) {
	cfg := gateTestConfig()
	cfg.JWT.PrivateKey = nil
	dir := seedDirectory()
	engine, _, done := newGateTestEngine(t, cfg, dir)
	defer done()

	id, err := engine.ResolveIdentity(context.Background(), Credentials{
		BearerToken: issueTestToken(t, "alice", jwt.TokenAccess),
		APIKey:      "bob-key",
	})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if user, ok := id.(AuthenticatedUser); !ok || user.ID != 2 {
		t.Fatalf("expected api key user without a verifier, got %+v", id)
	}
}

func TestIdentityKeys(t *testing.T) {
	if got := (AuthenticatedUser{ID: 42}).Key(); got != "user:42" {
		t.Fatalf("unexpected user key %q", got)
	}
	if got := (AnonymousCaller{ClientAddress: "203.0.113.5"}).Key(); got != "ip:203.0.113.5" {
		t.Fatalf("unexpected anonymous key %q", got)
	}
	if got := (AnonymousCaller{}).Key(); got != "ip:unknown" {
		t.Fatalf("unexpected empty-address key %q", got)
	}
}

func TestHashAPIKeyIsSHA256Hex(t *testing.T) {
	got := HashAPIKey("abc")
	const want = "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"
	if got != want {
		t.Fatalf("expected %s, got %s", want, got)
	}
}
