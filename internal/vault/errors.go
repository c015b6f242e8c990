package vault

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound is returned when the requested object does not exist in the
// secret store (HTTP 404). Callers use it to distinguish "empty" from
// "broken": listing a missing container and revealing a deleted version
// recover from it locally, everything else propagates it.
var ErrNotFound = errors.New("object not found in vault")

// APIError is any other non-2xx response from the secret store. It carries
// the HTTP status and the server-reported error strings verbatim. API
// failures are never retried by the client; surfacing them is the caller's
// job.
type APIError struct {
	StatusText string
	Status     int
	Errors     []string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s (%d):\n%s", e.StatusText, e.Status, strings.Join(e.Errors, "\n"))
}
