// Package vault is an HTTP client for a Vault-compatible secret store,
// covering the KV v2 and OIDC sub-APIs the credential manager uses. Every
// authenticated call is routed through the owning session's renewal gate.
package vault

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/org/vaultcreds/pkg/models"
)

// Mounts are the path prefixes of the two sub-APIs in use. They are
// slash-trimmed at construction and immutable for the client's lifetime.
type Mounts struct {
	KV   string
	OIDC string
}

// Client is the typed façade over the secret store. It owns at most one
// Session. A Client never mutates its session binding: transitioning
// authentication state yields a new Client via WithSession, so concurrent
// callers cannot observe half-migrated state.
type Client struct {
	baseURL string
	mounts  Mounts
	session *Session
	http    *http.Client
}

// New creates an unauthenticated Client for the given base URL and mounts.
func New(baseURL string, mounts Mounts) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		mounts: Mounts{
			KV:   TrimPath(mounts.KV),
			OIDC: TrimPath(mounts.OIDC),
		},
		http: &http.Client{
			Timeout:   30 * time.Second,
			Transport: instrumentTransport(nil),
		},
	}
}

// WithSession returns a new Client bound to the given session. The receiver
// is left untouched.
func (c *Client) WithSession(s *Session) *Client {
	clone := *c
	clone.session = s
	return &clone
}

// Session returns the bound session, nil for an unauthenticated client.
func (c *Client) Session() *Session {
	return c.session
}

// Close cancels the session's renewal timer. Discarding a client without
// calling Close leaks the pending timer.
func (c *Client) Close() {
	if c.session != nil {
		c.session.Cancel()
	}
}

// gate runs the session renewal check before an authenticated call.
func (c *Client) gate(ctx context.Context) error {
	if c.session == nil {
		return nil
	}
	return c.session.renewIfNeeded(ctx, c)
}

func (c *Client) token() string {
	if c.session == nil {
		return ""
	}
	return c.session.Token()
}

// request performs one HTTP exchange against the store: token header when
// one is supplied, JSON body when one is supplied, and outcome classified
// into the error taxonomy. 404 maps to ErrNotFound, any other non-2xx to
// *APIError with the server's reported errors. A 200 body is decoded into
// out after unwrapping nothing (callers pass envelope structs); other
// success codes carry no body. There is no retry logic here: every failure
// surfaces immediately.
func (c *Client) request(ctx context.Context, method, path, token string, body, out any) error {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request body: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+"/"+path, bodyReader)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("X-Vault-Token", token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		if resp.StatusCode == http.StatusNotFound {
			return ErrNotFound
		}
		var errBody struct {
			Errors []string `json:"errors"`
		}
		// A malformed error body just means no detail strings.
		json.NewDecoder(resp.Body).Decode(&errBody) //nolint:errcheck
		return &APIError{
			StatusText: http.StatusText(resp.StatusCode),
			Status:     resp.StatusCode,
			Errors:     errBody.Errors,
		}
	}

	if resp.StatusCode == http.StatusOK && out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
	}
	return nil
}

// --- identity / auth bootstrap (not gated) ---

func (c *Client) tokenLookupSelf(ctx context.Context, token string) (*models.TokenLookup, error) {
	var wrapped struct {
		Data models.TokenLookup `json:"data"`
	}
	if err := c.request(ctx, http.MethodGet, "v1/auth/token/lookup-self", token, nil, &wrapped); err != nil {
		return nil, err
	}
	return &wrapped.Data, nil
}

func (c *Client) tokenRenewSelf(ctx context.Context, token string) (*models.AuthData, error) {
	var wrapped struct {
		Auth models.AuthData `json:"auth"`
	}
	if err := c.request(ctx, http.MethodPost, "v1/auth/token/renew-self", token, nil, &wrapped); err != nil {
		return nil, err
	}
	return &wrapped.Auth, nil
}

// TokenLookupSelf fetches metadata about the current credential. Used to
// validate a token at login and to discover its expiry for renewal
// scheduling.
func (c *Client) TokenLookupSelf(ctx context.Context) (*models.TokenLookup, error) {
	return c.tokenLookupSelf(ctx, c.token())
}

// TokenRenewSelf extends the current credential's lease.
func (c *Client) TokenRenewSelf(ctx context.Context) (*models.AuthData, error) {
	return c.tokenRenewSelf(ctx, c.token())
}

// OIDCAuthURL requests a delegated-login authorization URL from the OIDC
// mount. An empty role omits the field.
func (c *Client) OIDCAuthURL(ctx context.Context, redirectURI, role string) (string, error) {
	body := struct {
		Role        string `json:"role,omitempty"`
		RedirectURI string `json:"redirect_uri"`
	}{Role: role, RedirectURI: redirectURI}

	var wrapped struct {
		Data models.AuthURL `json:"data"`
	}
	path := fmt.Sprintf("v1/%s/oidc/auth_url", c.mounts.OIDC)
	if err := c.request(ctx, http.MethodPost, path, c.token(), body, &wrapped); err != nil {
		return "", err
	}
	return wrapped.Data.AuthURL, nil
}

// CallbackParams carry the completion of a delegated-login round trip.
type CallbackParams struct {
	State string
	Code  string
}

// OIDCCallback exchanges a completed delegated-login round trip for an auth
// payload.
func (c *Client) OIDCCallback(ctx context.Context, params CallbackParams) (*models.AuthData, error) {
	qs := url.Values{}
	qs.Set("state", params.State)
	qs.Set("code", params.Code)

	var resp struct {
		Auth models.AuthData `json:"auth"`
	}
	path := fmt.Sprintf("v1/%s/oidc/callback?%s", c.mounts.OIDC, qs.Encode())
	if err := c.request(ctx, http.MethodGet, path, c.token(), nil, &resp); err != nil {
		return nil, err
	}
	return &resp.Auth, nil
}

// OIDCCompleteLogin exchanges callback params for a session and returns a
// new Client bound to it. Renewable tokens get their expiry from a
// lookup-self; non-renewable ones become static sessions.
func (c *Client) OIDCCompleteLogin(ctx context.Context, params CallbackParams) (*Client, error) {
	auth, err := c.OIDCCallback(ctx, params)
	if err != nil {
		return nil, err
	}
	session, err := c.SessionFromAuth(ctx, auth)
	if err != nil {
		return nil, err
	}
	return c.WithSession(session), nil
}

// SessionFromAuth derives a Session from a login response.
func (c *Client) SessionFromAuth(ctx context.Context, auth *models.AuthData) (*Session, error) {
	if !auth.Renewable {
		return NewSession(auth.ClientToken), nil
	}
	lookup, err := c.tokenLookupSelf(ctx, auth.ClientToken)
	if err != nil {
		return nil, fmt.Errorf("looking up token expiry: %w", err)
	}
	return NewSessionWithExpiry(auth.ClientToken, parseExpireTime(lookup.ExpireTime)), nil
}

// --- KV operations (gated) ---

// ListSecrets lists the child key names directly under path. A missing
// container surfaces as ErrNotFound; callers treat that the same as zero
// children.
func (c *Client) ListSecrets(ctx context.Context, path string) ([]string, error) {
	if err := c.gate(ctx); err != nil {
		return nil, err
	}
	var wrapped struct {
		Data models.ListKeys `json:"data"`
	}
	reqPath := fmt.Sprintf("v1/%s/metadata/%s/?list=true", c.mounts.KV, TrimPath(path))
	if err := c.request(ctx, http.MethodGet, reqPath, c.token(), nil, &wrapped); err != nil {
		return nil, err
	}
	return wrapped.Data.Keys, nil
}

// SecretMetadata fetches the versioning envelope for one secret.
func (c *Client) SecretMetadata(ctx context.Context, path string) (*models.SecretMetadata, error) {
	if err := c.gate(ctx); err != nil {
		return nil, err
	}
	var wrapped struct {
		Data models.SecretMetadata `json:"data"`
	}
	reqPath := fmt.Sprintf("v1/%s/metadata/%s", c.mounts.KV, TrimPath(path))
	if err := c.request(ctx, http.MethodGet, reqPath, c.token(), nil, &wrapped); err != nil {
		return nil, err
	}
	return &wrapped.Data, nil
}

// SecretData fetches the current data+metadata envelope for one secret.
func (c *Client) SecretData(ctx context.Context, path string) (*models.SecretData, error) {
	if err := c.gate(ctx); err != nil {
		return nil, err
	}
	var wrapped struct {
		Data models.SecretData `json:"data"`
	}
	reqPath := fmt.Sprintf("v1/%s/data/%s", c.mounts.KV, TrimPath(path))
	if err := c.request(ctx, http.MethodGet, reqPath, c.token(), nil, &wrapped); err != nil {
		return nil, err
	}
	return &wrapped.Data, nil
}

// SecretMetadataUpdate replaces the custom-metadata map of a secret. The
// whole map is overwritten; merging is the caller's responsibility.
func (c *Client) SecretMetadataUpdate(ctx context.Context, path string, customMetadata map[string]string) error {
	if err := c.gate(ctx); err != nil {
		return err
	}
	body := struct {
		CustomMetadata map[string]string `json:"custom_metadata"`
	}{CustomMetadata: customMetadata}
	reqPath := fmt.Sprintf("v1/%s/metadata/%s", c.mounts.KV, TrimPath(path))
	return c.request(ctx, http.MethodPost, reqPath, c.token(), body, nil)
}

// SecretDataUpdate writes a new version of a secret's data payload. With a
// non-nil cas the backend rejects the write unless the current version
// matches; the rejection surfaces as *APIError. The client trusts the
// backend's CAS enforcement and does not re-verify the returned version.
func (c *Client) SecretDataUpdate(ctx context.Context, path string, data map[string]string, cas *int) (*models.SecretCreationResponse, error) {
	if err := c.gate(ctx); err != nil {
		return nil, err
	}
	type options struct {
		CAS *int `json:"cas,omitempty"`
	}
	body := struct {
		Options *options          `json:"options,omitempty"`
		Data    map[string]string `json:"data"`
	}{Data: data}
	if cas != nil {
		body.Options = &options{CAS: cas}
	}

	var wrapped struct {
		Data models.SecretCreationResponse `json:"data"`
	}
	reqPath := fmt.Sprintf("v1/%s/data/%s", c.mounts.KV, TrimPath(path))
	if err := c.request(ctx, http.MethodPost, reqPath, c.token(), body, &wrapped); err != nil {
		return nil, err
	}
	return &wrapped.Data, nil
}

// SecretDelete removes a secret's metadata and all its versions.
func (c *Client) SecretDelete(ctx context.Context, path string) error {
	if err := c.gate(ctx); err != nil {
		return err
	}
	reqPath := fmt.Sprintf("v1/%s/metadata/%s", c.mounts.KV, TrimPath(path))
	return c.request(ctx, http.MethodDelete, reqPath, c.token(), nil, nil)
}
