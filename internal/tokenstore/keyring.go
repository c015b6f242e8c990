package tokenstore

import (
	"errors"

	"github.com/zalando/go-keyring"
)

const keyringService = "vaultcreds"

// Keyring stores the token in the OS keychain.
type Keyring struct {
	// User distinguishes slots, e.g. per profile. Defaults to "session".
	User string
}

// NewKeyring creates a keychain-backed store for the given slot name.
func NewKeyring(user string) *Keyring {
	if user == "" {
		user = "session"
	}
	return &Keyring{User: user}
}

func (k *Keyring) Load() (string, bool, error) {
	token, err := keyring.Get(keyringService, k.User)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return "", false, nil
		}
		return "", false, err
	}
	return token, token != "", nil
}

func (k *Keyring) Save(token string) error {
	return keyring.Set(keyringService, k.User, token)
}

func (k *Keyring) Remove() error {
	err := keyring.Delete(keyringService, k.User)
	if errors.Is(err, keyring.ErrNotFound) {
		return nil
	}
	return err
}
