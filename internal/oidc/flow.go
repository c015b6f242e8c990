// Package oidc implements the delegated-login flow: a loopback callback
// listener stands in for the redirect target, the system browser carries the
// user to the identity provider, and the completed round trip is exchanged
// for a session.
package oidc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/pkg/browser"
	"github.com/rs/zerolog/log"

	"github.com/org/vaultcreds/internal/vault"
)

// ErrFlowNotCompleted is returned when the delegated login was abandoned:
// the user never finished the provider round trip before the flow's context
// ended. Distinct from APIError so callers can message it separately.
var ErrFlowNotCompleted = errors.New("login flow was not completed")

// openBrowser is swapped out in tests.
var openBrowser = browser.OpenURL

const callbackPath = "/oidc/callback"

// Flow is one pending delegated login. It serves exactly one callback;
// create a new Flow per attempt.
type Flow struct {
	ln     net.Listener
	srv    *http.Server
	once   sync.Once
	result chan vault.CallbackParams
	failed chan error
}

// StartFlow binds the loopback callback listener on an ephemeral port.
// Close must be called when the flow is done or abandoned.
func StartFlow() (*Flow, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("binding callback listener: %w", err)
	}

	f := &Flow{
		ln:     ln,
		result: make(chan vault.CallbackParams, 1),
		failed: make(chan error, 1),
	}

	r := chi.NewRouter()
	r.Get(callbackPath, f.callbackHandler)

	f.srv = &http.Server{Handler: r, ReadTimeout: 10 * time.Second}
	go func() {
		if err := f.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			f.failed <- err
		}
	}()
	return f, nil
}

// RedirectURI is the loopback URL the provider must redirect back to.
func (f *Flow) RedirectURI() string {
	return fmt.Sprintf("http://%s%s", f.ln.Addr(), callbackPath)
}

func (f *Flow) callbackHandler(w http.ResponseWriter, r *http.Request) {
	params := vault.CallbackParams{
		State: r.URL.Query().Get("state"),
		Code:  r.URL.Query().Get("code"),
	}

	delivered := false
	f.once.Do(func() {
		f.result <- params
		delivered = true
	})

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if !delivered {
		fmt.Fprint(w, "<html><body><p>Login flow already completed.</p></body></html>")
		return
	}
	fmt.Fprint(w, "<html><body><p>Login complete. You can close this window.</p></body></html>")
}

// Wait blocks until the provider redirects back, the context ends, or the
// listener fails. Abandonment is a failure, never an indefinite hang.
func (f *Flow) Wait(ctx context.Context) (vault.CallbackParams, error) {
	select {
	case params := <-f.result:
		return params, nil
	case err := <-f.failed:
		return vault.CallbackParams{}, fmt.Errorf("callback listener: %w", err)
	case <-ctx.Done():
		return vault.CallbackParams{}, fmt.Errorf("%w: %v", ErrFlowNotCompleted, ctx.Err())
	}
}

// Close shuts the callback listener down.
func (f *Flow) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return f.srv.Shutdown(ctx)
}

// Login runs the whole delegated login against the given unauthenticated
// client: request the auth URL bound to the loopback listener, open the
// browser, wait for the callback, exchange it for a session. Returns a new
// client bound to the resulting session.
func Login(ctx context.Context, c *vault.Client, role string) (*vault.Client, error) {
	flow, err := StartFlow()
	if err != nil {
		return nil, err
	}
	defer flow.Close() //nolint:errcheck

	authURL, err := c.OIDCAuthURL(ctx, flow.RedirectURI(), role)
	if err != nil {
		return nil, fmt.Errorf("requesting auth URL: %w", err)
	}

	log.Info().Str("url", authURL).Msg("opening browser for delegated login")
	if err := openBrowser(authURL); err != nil {
		// The user can still follow the logged URL by hand.
		log.Warn().Err(err).Msg("could not open browser; visit the URL manually")
	}

	params, err := flow.Wait(ctx)
	if err != nil {
		return nil, err
	}
	return c.OIDCCompleteLogin(ctx, params)
}
