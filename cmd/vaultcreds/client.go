package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/org/vaultcreds/internal/config"
	"github.com/org/vaultcreds/internal/creds"
	"github.com/org/vaultcreds/internal/tokenstore"
	"github.com/org/vaultcreds/internal/vault"
)

var (
	configFile string
	objectPath string
	storeKind  string
	logLevel   string

	cfg *config.Config
)

func defaultConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".vaultcreds", "config.yaml")
}

func loadConfig() error {
	path := configFile
	if path == "" {
		path = defaultConfigPath()
	}
	c, err := config.Load(path)
	if err != nil {
		return err
	}
	cfg = c
	return nil
}

func tokenStore() tokenstore.Store {
	if storeKind == "file" {
		home, _ := os.UserHomeDir()
		return tokenstore.NewFile(filepath.Join(home, ".vaultcreds", "token"))
	}
	return tokenstore.NewKeyring("")
}

// newClient builds an unauthenticated client from the deployment config.
func newClient() *vault.Client {
	return vault.New(cfg.APIURL, cfg.Mounts())
}

// newStaticSession wraps a raw token. CLI invocations are short-lived, so
// no expiry is tracked; a token within its renewal window is renewed
// explicitly via `token renew`.
func newStaticSession(token string) *vault.Session {
	return vault.NewSession(token)
}

// sessionClient builds a client authenticated with the stored token, or
// VAULT_TOKEN when set.
func sessionClient() (*vault.Client, error) {
	token := os.Getenv("VAULT_TOKEN")
	if token == "" {
		stored, ok, err := tokenStore().Load()
		if err != nil {
			return nil, fmt.Errorf("loading stored token: %w", err)
		}
		if !ok {
			return nil, fmt.Errorf("not logged in (run `vaultcreds login` or set VAULT_TOKEN)")
		}
		token = stored
	}
	return newClient().WithSession(newStaticSession(token)), nil
}

// newService binds a credential service to the --object keyspace.
func newService() (*creds.Service, error) {
	if objectPath == "" {
		return nil, fmt.Errorf("--object is required, e.g. --object device/42")
	}
	client, err := sessionClient()
	if err != nil {
		return nil, err
	}
	return creds.NewService(client, cfg.SecretPathPrefix, objectPath), nil
}
