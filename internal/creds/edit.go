package creds

import (
	"context"
	"strings"
	"unicode"

	"github.com/org/vaultcreds/pkg/models"
)

// FormerPassword is a revealed snapshot of the password as it was when the
// edit began.
type FormerPassword struct {
	Value    string
	Version  int
	Revealed bool
}

// EditState is the mutation intent of one edit operation: pending field
// values, the optionally revealed former password, and the last error.
// Dropped when the edit is closed or committed.
type EditState struct {
	svc  *Service
	id   string
	Info *models.SecretInfo

	Label    string
	Username string
	Password string

	Former  *FormerPassword
	LastErr error
}

// NewEdit begins an edit. An empty id starts a new entry; otherwise the
// current summary is loaded so unchanged fields keep their values.
func (s *Service) NewEdit(ctx context.Context, id string) (*EditState, error) {
	e := &EditState{svc: s, id: id}
	if id != "" {
		info, err := s.Entry(ctx, id)
		if err != nil {
			return nil, err
		}
		e.Info = &info
		e.Label = info.Label
		e.Username = info.Username
	}
	return e, nil
}

// ToggleReveal reveals the former password on first use and flips
// visibility afterwards. A version without a password value reveals as
// empty.
func (e *EditState) ToggleReveal(ctx context.Context) error {
	if e.Former != nil {
		e.Former.Revealed = !e.Former.Revealed
		return nil
	}
	pw, err := e.svc.Reveal(ctx, e.id)
	if err != nil {
		e.LastErr = err
		return err
	}
	e.Former = &FormerPassword{Value: pw.Value, Version: pw.Version, Revealed: true}
	return nil
}

// Commit saves the pending fields and returns the refreshed summary. A new
// password write is guarded by CAS against the version observed at reveal
// time, when one was revealed.
func (e *EditState) Commit(ctx context.Context) (models.SecretInfo, error) {
	req := SaveRequest{
		ID:       e.id,
		Label:    e.Label,
		Username: e.Username,
		Password: e.Password,
	}
	if e.Former != nil && e.Former.Version > 0 && e.Password != "" {
		v := e.Former.Version
		req.ExpectedVersion = &v
	}
	info, err := e.svc.Save(ctx, req)
	if err != nil {
		e.LastErr = err
		return models.SecretInfo{}, err
	}
	e.LastErr = nil
	return info, nil
}

// Kebab turns a label into a path-safe entry id: lower case, word
// boundaries (spaces, punctuation, case changes) become single hyphens.
func Kebab(s string) string {
	var b strings.Builder
	prevDash := true // swallow leading separators
	var prev rune
	for _, r := range s {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			if unicode.IsUpper(r) && prev != 0 && (unicode.IsLower(prev) || unicode.IsDigit(prev)) && !prevDash {
				b.WriteByte('-')
			}
			b.WriteRune(unicode.ToLower(r))
			prevDash = false
		default:
			if !prevDash {
				b.WriteByte('-')
				prevDash = true
			}
		}
		prev = r
	}
	return strings.TrimRight(b.String(), "-")
}
