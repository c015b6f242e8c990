// Package creds is the credential-manager service layer: display-ready
// listings, password reveal, and validated save/delete of username/password
// entries under one object's keyspace. Rendering belongs to the caller; this
// package owns the operations and their local policies.
package creds

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/org/vaultcreds/internal/vault"
	"github.com/org/vaultcreds/pkg/models"
)

// ErrValidation rejects a save whose required fields are empty, before any
// network call is made.
var ErrValidation = errors.New("fields cannot be empty")

// Service exposes credential operations for one object's keyspace.
type Service struct {
	client   *vault.Client
	basePath string
}

// NewService binds a service to `{prefix}/{objectPath}` on the given client.
func NewService(client *vault.Client, prefix, objectPath string) *Service {
	return &Service{
		client:   client,
		basePath: vault.JoinPath(prefix, objectPath),
	}
}

// BasePath returns the keyspace root this service operates under.
func (s *Service) BasePath() string {
	return s.basePath
}

func (s *Service) secretPath(id string) string {
	return vault.JoinPath(s.basePath, id)
}

// List assembles the display-ready summary of all entries. A keyspace that
// does not exist yet is an empty list.
func (s *Service) List(ctx context.Context) ([]models.SecretInfo, error) {
	return vault.GatherSecrets(ctx, s.client, s.basePath)
}

// Entry reloads one entry's summary from the store. Used after mutations
// instead of trusting optimistic local edits.
func (s *Service) Entry(ctx context.Context, id string) (models.SecretInfo, error) {
	meta, err := s.client.SecretMetadata(ctx, s.secretPath(id))
	if err != nil {
		return models.SecretInfo{}, err
	}
	return models.InfoFromMetadata(id, meta), nil
}

// Password is a revealed former password. Exists is false when the current
// version holds no password value (deleted or destroyed).
type Password struct {
	Value   string
	Version int
	Exists  bool
}

// Reveal fetches the entry's current password. A missing secret or a
// version without a password value is "no value", not a failure.
func (s *Service) Reveal(ctx context.Context, id string) (Password, error) {
	data, err := s.client.SecretData(ctx, s.secretPath(id))
	if err != nil {
		if errors.Is(err, vault.ErrNotFound) {
			return Password{}, nil
		}
		return Password{}, err
	}
	value, ok := data.Data["password"]
	return Password{Value: value, Version: data.Metadata.Version, Exists: ok}, nil
}

// SaveRequest describes one save: a new entry when ID is empty, otherwise
// an update. Empty Label/Username on an update keep the stored values; an
// empty Password skips the data write. ExpectedVersion, when set, makes the
// data write compare-and-swap.
type SaveRequest struct {
	ID              string
	Label           string
	Username        string
	Password        string
	ExpectedVersion *int
}

// Save validates and applies one save, returning the refreshed summary.
// New entries derive their id from the label. Metadata is only written when
// label or username actually changed; the custom-metadata map is replaced
// whole.
func (s *Service) Save(ctx context.Context, req SaveRequest) (models.SecretInfo, error) {
	isNew := req.ID == ""
	if isNew && (req.Label == "" || req.Username == "" || req.Password == "") {
		return models.SecretInfo{}, ErrValidation
	}

	id := req.ID
	var current models.SecretInfo
	if isNew {
		id = Kebab(req.Label)
		if id == "" {
			return models.SecretInfo{}, ErrValidation
		}
	} else {
		info, err := s.Entry(ctx, id)
		if err != nil {
			return models.SecretInfo{}, err
		}
		current = info
	}

	label := req.Label
	if label == "" {
		label = current.Label
	}
	username := req.Username
	if username == "" {
		username = current.Username
	}

	if isNew || label != current.Label || username != current.Username {
		meta := map[string]string{"label": label, "username": username}
		if err := s.client.SecretMetadataUpdate(ctx, s.secretPath(id), meta); err != nil {
			return models.SecretInfo{}, err
		}
	}

	if req.Password != "" {
		resp, err := s.client.SecretDataUpdate(ctx, s.secretPath(id),
			map[string]string{"password": req.Password}, req.ExpectedVersion)
		if err != nil {
			return models.SecretInfo{}, err
		}
		log.Debug().Str("id", id).Int("version", resp.Version).Msg("wrote secret version")
	}

	return s.Entry(ctx, id)
}

// Delete removes an entry and all its versions.
func (s *Service) Delete(ctx context.Context, id string) error {
	return s.client.SecretDelete(ctx, s.secretPath(id))
}
