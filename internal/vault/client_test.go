package vault

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/org/vaultcreds/internal/vaulttest"
)

func TestNotFoundClassification(t *testing.T) {
	srv := vaulttest.NewServer()
	srv.AddToken("tok", 0, false)

	c := testClient(t, srv).WithSession(NewSession("tok"))

	if _, err := c.SecretMetadata(context.Background(), "team/7/missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if _, err := c.SecretData(context.Background(), "team/7/missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if _, err := c.ListSecrets(context.Background(), "team/empty"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for empty container, got %v", err)
	}
}

func TestAPIErrorClassification(t *testing.T) {
	srv := vaulttest.NewServer()
	c := testClient(t, srv) // no session: server reports 401

	_, err := c.SecretMetadata(context.Background(), "team/7/db")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.Status != 401 {
		t.Errorf("status = %d, want 401", apiErr.Status)
	}
	if len(apiErr.Errors) == 0 {
		t.Error("server-reported error strings were dropped")
	}
	if !strings.Contains(apiErr.Error(), "(401)") {
		t.Errorf("message should carry the status: %q", apiErr.Error())
	}
}

func TestAPIErrorMessage(t *testing.T) {
	err := &APIError{StatusText: "Bad Request", Status: 400, Errors: []string{"first", "second"}}
	want := "Bad Request (400):\nfirst\nsecond"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}

	bare := &APIError{StatusText: "Forbidden", Status: 403}
	if bare.Error() != "Forbidden (403):\n" {
		t.Errorf("Error() = %q", bare.Error())
	}
}

func TestSecretDataRoundTrip(t *testing.T) {
	srv := vaulttest.NewServer()
	srv.AddToken("tok", 0, false)
	c := testClient(t, srv).WithSession(NewSession("tok"))
	ctx := context.Background()

	resp, err := c.SecretDataUpdate(ctx, "team/7/db", map[string]string{"password": "hunter2"}, nil)
	if err != nil {
		t.Fatalf("SecretDataUpdate: %v", err)
	}
	if resp.Version != 1 {
		t.Errorf("first write version = %d, want 1", resp.Version)
	}

	data, err := c.SecretData(ctx, "team/7/db")
	if err != nil {
		t.Fatalf("SecretData: %v", err)
	}
	if data.Data["password"] != "hunter2" {
		t.Errorf("password = %q", data.Data["password"])
	}
	if data.Metadata.Version != 1 {
		t.Errorf("metadata version = %d", data.Metadata.Version)
	}

	// Second write bumps the version.
	resp, err = c.SecretDataUpdate(ctx, "team/7/db", map[string]string{"password": "hunter3"}, nil)
	if err != nil {
		t.Fatalf("SecretDataUpdate: %v", err)
	}
	if resp.Version != 2 {
		t.Errorf("second write version = %d, want 2", resp.Version)
	}
}

func TestSecretDataUpdateCASMismatch(t *testing.T) {
	srv := vaulttest.NewServer()
	srv.AddToken("tok", 0, false)
	c := testClient(t, srv).WithSession(NewSession("tok"))
	ctx := context.Background()

	if _, err := c.SecretDataUpdate(ctx, "team/7/db", map[string]string{"password": "a"}, nil); err != nil {
		t.Fatalf("seed write: %v", err)
	}

	stale := 0 // current version is 1
	_, err := c.SecretDataUpdate(ctx, "team/7/db", map[string]string{"password": "b"}, &stale)
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("CAS mismatch must surface as APIError, got %v", err)
	}
	if apiErr.Status != 400 {
		t.Errorf("status = %d, want 400", apiErr.Status)
	}

	// Matching CAS succeeds.
	current := 1
	resp, err := c.SecretDataUpdate(ctx, "team/7/db", map[string]string{"password": "b"}, &current)
	if err != nil {
		t.Fatalf("CAS write: %v", err)
	}
	if resp.Version != 2 {
		t.Errorf("version = %d, want 2", resp.Version)
	}
}

func TestSecretMetadataUpdateReplacesMap(t *testing.T) {
	srv := vaulttest.NewServer()
	srv.AddToken("tok", 0, false)
	srv.PutSecret("team/7/db", map[string]string{"password": "x"},
		map[string]string{"label": "Old", "username": "root"})

	c := testClient(t, srv).WithSession(NewSession("tok"))
	ctx := context.Background()

	err := c.SecretMetadataUpdate(ctx, "team/7/db", map[string]string{"label": "Database"})
	if err != nil {
		t.Fatalf("SecretMetadataUpdate: %v", err)
	}

	meta, err := c.SecretMetadata(ctx, "team/7/db")
	if err != nil {
		t.Fatalf("SecretMetadata: %v", err)
	}
	if meta.CustomMetadata["label"] != "Database" {
		t.Errorf("label = %q", meta.CustomMetadata["label"])
	}
	if _, ok := meta.CustomMetadata["username"]; ok {
		t.Error("whole map must be replaced, username survived")
	}
}

func TestSecretDelete(t *testing.T) {
	srv := vaulttest.NewServer()
	srv.AddToken("tok", 0, false)
	srv.PutSecret("team/7/db", map[string]string{"password": "x"}, nil)

	c := testClient(t, srv).WithSession(NewSession("tok"))
	if err := c.SecretDelete(context.Background(), "team/7/db"); err != nil {
		t.Fatalf("SecretDelete: %v", err)
	}
	if srv.HasSecret("team/7/db") {
		t.Error("secret still present after delete")
	}
}

func TestDestroyedVersionHasEmptyData(t *testing.T) {
	srv := vaulttest.NewServer()
	srv.AddToken("tok", 0, false)
	srv.PutSecret("team/7/db", map[string]string{"password": "x"}, nil)
	srv.DestroyLatest("team/7/db")

	c := testClient(t, srv).WithSession(NewSession("tok"))
	data, err := c.SecretData(context.Background(), "team/7/db")
	if err != nil {
		t.Fatalf("SecretData: %v", err)
	}
	if !data.Metadata.Destroyed {
		t.Error("metadata should report destroyed")
	}
	if len(data.Data) != 0 {
		t.Errorf("destroyed version must have empty data, got %v", data.Data)
	}
	if _, ok := data.Data["password"]; ok {
		t.Error("password must be absent on a destroyed version")
	}
}

func TestOIDCCompleteLogin(t *testing.T) {
	srv := vaulttest.NewServer()
	srv.SetOIDC("https://idp.example.com/auth?x=1", "st", "co", "oidc-tok", 30*time.Minute)

	base := testClient(t, srv)
	ctx := context.Background()

	authURL, err := base.OIDCAuthURL(ctx, "http://127.0.0.1:9999/oidc/callback", "reader")
	if err != nil {
		t.Fatalf("OIDCAuthURL: %v", err)
	}
	if authURL != "https://idp.example.com/auth?x=1" {
		t.Errorf("authURL = %q", authURL)
	}

	authed, err := base.OIDCCompleteLogin(ctx, CallbackParams{State: "st", Code: "co"})
	if err != nil {
		t.Fatalf("OIDCCompleteLogin: %v", err)
	}
	defer authed.Close()

	if base.Session() != nil {
		t.Error("login must not mutate the original client")
	}
	sess := authed.Session()
	if sess == nil || sess.Token() != "oidc-tok" {
		t.Fatalf("unexpected session: %+v", sess)
	}
	if sess.ExpiresAt().IsZero() {
		t.Error("renewable OIDC token should carry an expiry from lookup-self")
	}

	if _, err := authed.TokenLookupSelf(ctx); err != nil {
		t.Errorf("lookup with new session: %v", err)
	}
}

func TestOIDCCallbackRejectsBadState(t *testing.T) {
	srv := vaulttest.NewServer()
	srv.SetOIDC("https://idp.example.com/auth", "st", "co", "oidc-tok", 0)

	c := testClient(t, srv)
	_, err := c.OIDCCallback(context.Background(), CallbackParams{State: "wrong", Code: "co"})
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
}

func TestMountsAreTrimmed(t *testing.T) {
	c := New("http://example.com///", Mounts{KV: "/kv2/", OIDC: "//sso//"})
	if c.baseURL != "http://example.com" {
		t.Errorf("baseURL = %q", c.baseURL)
	}
	if c.mounts.KV != "kv2" || c.mounts.OIDC != "sso" {
		t.Errorf("mounts = %+v", c.mounts)
	}
}
