// Package vaulttest provides an in-memory Vault-compatible server covering
// the KV v2 and OIDC surface the client speaks. It backs the package tests
// and the `vaultcreds dev-server` command.
package vaulttest

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
)

type tokenState struct {
	TTL       time.Duration
	ExpiresAt time.Time
	Renewable bool
	Policies  []string
}

type secretVersion struct {
	Data         map[string]string
	CreatedTime  string
	DeletionTime string
	Destroyed    bool
}

type secretEntry struct {
	CustomMetadata map[string]string
	Versions       []*secretVersion
	CreatedTime    string
	UpdatedTime    string
	CASRequired    bool
}

// Server is an in-memory secret store. The zero value is not usable; create
// one with NewServer.
type Server struct {
	mu      sync.Mutex
	kv      string
	oidc    string
	tokens  map[string]*tokenState
	secrets map[string]*secretEntry

	// OIDC fake flow state
	authURL         string
	oidcState       string
	oidcCode        string
	oidcToken       string
	oidcTTL         time.Duration
	lastRedirectURI string

	renewCalls  int
	lookupCalls int
}

// NewServer creates a Server with the default kv and oidc mounts.
func NewServer() *Server {
	return &Server{
		kv:      "secret",
		oidc:    "oidc",
		tokens:  map[string]*tokenState{},
		secrets: map[string]*secretEntry{},
	}
}

// AddToken registers a valid token. A zero ttl makes it non-expiring.
func (s *Server) AddToken(token string, ttl time.Duration, renewable bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := &tokenState{TTL: ttl, Renewable: renewable, Policies: []string{"default"}}
	if ttl > 0 {
		st.ExpiresAt = time.Now().UTC().Add(ttl)
	}
	s.tokens[token] = st
}

// RevokeToken invalidates a previously registered token.
func (s *Server) RevokeToken(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tokens, token)
}

// SetTokenExpiry overrides a token's expiry, for exercising the renewal gate.
func (s *Server) SetTokenExpiry(token string, expiresAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.tokens[token]; ok {
		st.ExpiresAt = expiresAt
	}
}

// PutSecret writes a version of a secret directly into the store.
func (s *Server) PutSecret(path string, data map[string]string, customMetadata map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.entryLocked(path)
	now := time.Now().UTC().Format(time.RFC3339)
	e.Versions = append(e.Versions, &secretVersion{Data: data, CreatedTime: now})
	e.UpdatedTime = now
	if customMetadata != nil {
		e.CustomMetadata = customMetadata
	}
}

// DestroyLatest marks the latest version of a secret as destroyed, wiping
// its data.
func (s *Server) DestroyLatest(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.secrets[path]; ok && len(e.Versions) > 0 {
		v := e.Versions[len(e.Versions)-1]
		v.Destroyed = true
		v.Data = map[string]string{}
	}
}

// SetOIDC configures the fake delegated-login flow: the auth URL handed out,
// the state/code pair the callback accepts, and the token it issues.
func (s *Server) SetOIDC(authURL, state, code, token string, ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.authURL = authURL
	s.oidcState = state
	s.oidcCode = code
	s.oidcToken = token
	s.oidcTTL = ttl
}

// LastRedirectURI reports the redirect_uri of the most recent auth_url
// request.
func (s *Server) LastRedirectURI() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastRedirectURI
}

// RenewCalls reports how many renew-self requests the server has seen.
func (s *Server) RenewCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.renewCalls
}

// LookupCalls reports how many lookup-self requests the server has seen.
func (s *Server) LookupCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lookupCalls
}

// HasSecret reports whether any version exists at path.
func (s *Server) HasSecret(path string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.secrets[path]
	return ok
}

func (s *Server) entryLocked(path string) *secretEntry {
	e, ok := s.secrets[path]
	if !ok {
		now := time.Now().UTC().Format(time.RFC3339)
		e = &secretEntry{CustomMetadata: map[string]string{}, CreatedTime: now, UpdatedTime: now}
		s.secrets[path] = e
	}
	return e
}

// Handler returns the chi router serving the fake API.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.Recoverer)

	r.Get("/v1/auth/token/lookup-self", s.lookupSelfHandler)
	r.Post("/v1/auth/token/renew-self", s.renewSelfHandler)

	r.Post("/v1/"+s.oidc+"/oidc/auth_url", s.oidcAuthURLHandler)
	r.Get("/v1/"+s.oidc+"/oidc/callback", s.oidcCallbackHandler)

	r.Get("/v1/"+s.kv+"/metadata/*", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("list") == "true" {
			s.kvListHandler(w, r)
		} else {
			s.kvMetadataHandler(w, r)
		}
	})
	r.Post("/v1/"+s.kv+"/metadata/*", s.kvMetadataUpdateHandler)
	r.Delete("/v1/"+s.kv+"/metadata/*", s.kvDeleteHandler)
	r.Get("/v1/"+s.kv+"/data/*", s.kvDataHandler)
	r.Post("/v1/"+s.kv+"/data/*", s.kvDataUpdateHandler)

	return r
}

// authenticate validates the X-Vault-Token header. Returns false after
// writing the error response.
func (s *Server) authenticate(w http.ResponseWriter, r *http.Request) bool {
	token := r.Header.Get("X-Vault-Token")
	if token == "" {
		writeError(w, http.StatusUnauthorized, "missing X-Vault-Token header")
		return false
	}
	s.mu.Lock()
	st, ok := s.tokens[token]
	s.mu.Unlock()
	if !ok {
		writeError(w, http.StatusForbidden, "permission denied")
		return false
	}
	if !st.ExpiresAt.IsZero() && time.Now().After(st.ExpiresAt) {
		writeError(w, http.StatusForbidden, "token has expired")
		return false
	}
	return true
}

func (s *Server) lookupSelfHandler(w http.ResponseWriter, r *http.Request) {
	if !s.authenticate(w, r) {
		return
	}
	token := r.Header.Get("X-Vault-Token")
	s.mu.Lock()
	st := s.tokens[token]
	s.lookupCalls++
	expire := ""
	if !st.ExpiresAt.IsZero() {
		expire = st.ExpiresAt.Format(time.RFC3339)
	}
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{
		"data": map[string]any{
			"id":           token,
			"display_name": "dev",
			"policies":     st.Policies,
			"ttl":          int(st.TTL.Seconds()),
			"renewable":    st.Renewable,
			"expire_time":  expire,
		},
	})
}

func (s *Server) renewSelfHandler(w http.ResponseWriter, r *http.Request) {
	if !s.authenticate(w, r) {
		return
	}
	token := r.Header.Get("X-Vault-Token")
	s.mu.Lock()
	st := s.tokens[token]
	s.renewCalls++
	if !st.Renewable {
		s.mu.Unlock()
		writeError(w, http.StatusBadRequest, "token is not renewable")
		return
	}
	st.ExpiresAt = time.Now().UTC().Add(st.TTL)
	lease := int(st.TTL.Seconds())
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{
		"auth": map[string]any{
			"client_token":   token,
			"lease_duration": lease,
			"renewable":      true,
		},
	})
}

func (s *Server) oidcAuthURLHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Role        string `json:"role"`
		RedirectURI string `json:"redirect_uri"`
	}
	decodeJSON(r, &req) //nolint:errcheck

	s.mu.Lock()
	authURL := s.authURL
	s.lastRedirectURI = req.RedirectURI
	s.mu.Unlock()
	if authURL == "" {
		writeError(w, http.StatusBadRequest, "OIDC is not configured")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"data": map[string]any{"auth_url": authURL},
	})
}

func (s *Server) oidcCallbackHandler(w http.ResponseWriter, r *http.Request) {
	state := r.URL.Query().Get("state")
	code := r.URL.Query().Get("code")

	s.mu.Lock()
	ok := state == s.oidcState && code == s.oidcCode && s.oidcToken != ""
	token := s.oidcToken
	ttl := s.oidcTTL
	s.mu.Unlock()
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid state or code")
		return
	}

	s.AddToken(token, ttl, ttl > 0)
	writeJSON(w, http.StatusOK, map[string]any{
		"auth": map[string]any{
			"client_token":   token,
			"lease_duration": int(ttl.Seconds()),
			"renewable":      ttl > 0,
		},
	})
}

func (s *Server) kvListHandler(w http.ResponseWriter, r *http.Request) {
	if !s.authenticate(w, r) {
		return
	}
	prefix := strings.Trim(chi.URLParam(r, "*"), "/")

	s.mu.Lock()
	defer s.mu.Unlock()

	seen := map[string]bool{}
	var keys []string
	for p := range s.secrets {
		if !strings.HasPrefix(p, prefix+"/") {
			continue
		}
		rest := strings.TrimPrefix(p, prefix+"/")
		name, _, nested := strings.Cut(rest, "/")
		if nested {
			name += "/"
		}
		if !seen[name] {
			seen[name] = true
			keys = append(keys, name)
		}
	}
	if len(keys) == 0 {
		writeError(w, http.StatusNotFound, "")
		return
	}
	sort.Strings(keys)
	writeJSON(w, http.StatusOK, map[string]any{
		"data": map[string]any{"keys": keys},
	})
}

func (s *Server) kvMetadataHandler(w http.ResponseWriter, r *http.Request) {
	if !s.authenticate(w, r) {
		return
	}
	path := strings.Trim(chi.URLParam(r, "*"), "/")

	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.secrets[path]
	if !ok {
		writeError(w, http.StatusNotFound, "")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": s.metadataLocked(e)})
}

func (s *Server) metadataLocked(e *secretEntry) map[string]any {
	versions := map[string]any{}
	for i, v := range e.Versions {
		versions[fmt.Sprintf("%d", i+1)] = map[string]any{
			"created_time":  v.CreatedTime,
			"deletion_time": v.DeletionTime,
			"destroyed":     v.Destroyed,
		}
	}
	oldest := 0
	if len(e.Versions) > 0 {
		oldest = 1
	}
	return map[string]any{
		"cas_required":    e.CASRequired,
		"created_time":    e.CreatedTime,
		"current_version": len(e.Versions),
		"max_versions":    0,
		"oldest_version":  oldest,
		"updated_time":    e.UpdatedTime,
		"custom_metadata": e.CustomMetadata,
		"versions":        versions,
	}
}

func (s *Server) kvMetadataUpdateHandler(w http.ResponseWriter, r *http.Request) {
	if !s.authenticate(w, r) {
		return
	}
	path := strings.Trim(chi.URLParam(r, "*"), "/")

	var req struct {
		CASRequired    bool              `json:"cas_required"`
		CustomMetadata map[string]string `json:"custom_metadata"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.entryLocked(path)
	e.CASRequired = req.CASRequired
	if req.CustomMetadata != nil {
		e.CustomMetadata = req.CustomMetadata
	}
	e.UpdatedTime = time.Now().UTC().Format(time.RFC3339)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) kvDataHandler(w http.ResponseWriter, r *http.Request) {
	if !s.authenticate(w, r) {
		return
	}
	path := strings.Trim(chi.URLParam(r, "*"), "/")

	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.secrets[path]
	if !ok || len(e.Versions) == 0 {
		writeError(w, http.StatusNotFound, "")
		return
	}
	v := e.Versions[len(e.Versions)-1]
	if v.DeletionTime != "" {
		writeError(w, http.StatusNotFound, "")
		return
	}
	data := v.Data
	if v.Destroyed || data == nil {
		data = map[string]string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"data": map[string]any{
			"data": data,
			"metadata": map[string]any{
				"created_time":    v.CreatedTime,
				"custom_metadata": e.CustomMetadata,
				"deletion_time":   v.DeletionTime,
				"destroyed":       v.Destroyed,
				"version":         len(e.Versions),
			},
		},
	})
}

func (s *Server) kvDataUpdateHandler(w http.ResponseWriter, r *http.Request) {
	if !s.authenticate(w, r) {
		return
	}
	path := strings.Trim(chi.URLParam(r, "*"), "/")

	var req struct {
		Options *struct {
			CAS *int `json:"cas"`
		} `json:"options"`
		Data map[string]string `json:"data"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.entryLocked(path)

	if req.Options != nil && req.Options.CAS != nil && *req.Options.CAS != len(e.Versions) {
		writeError(w, http.StatusBadRequest,
			"check-and-set parameter did not match the current version")
		return
	}
	if e.CASRequired && (req.Options == nil || req.Options.CAS == nil) {
		writeError(w, http.StatusBadRequest,
			"check-and-set parameter required for this call")
		return
	}

	now := time.Now().UTC().Format(time.RFC3339)
	e.Versions = append(e.Versions, &secretVersion{Data: req.Data, CreatedTime: now})
	e.UpdatedTime = now

	writeJSON(w, http.StatusOK, map[string]any{
		"data": map[string]any{
			"created_time":    now,
			"custom_metadata": e.CustomMetadata,
			"deletion_time":   "",
			"destroyed":       false,
			"version":         len(e.Versions),
		},
	})
}

func (s *Server) kvDeleteHandler(w http.ResponseWriter, r *http.Request) {
	if !s.authenticate(w, r) {
		return
	}
	path := strings.Trim(chi.URLParam(r, "*"), "/")

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.secrets[path]; !ok {
		writeError(w, http.StatusNotFound, "")
		return
	}
	delete(s.secrets, path)
	w.WriteHeader(http.StatusNoContent)
}
