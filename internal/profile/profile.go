// Package profile resolves which local profile a client operates on and
// where that profile's database lives. A profile is one user's isolated
// copy of the local store.
package profile

import (
	"errors"
	"regexp"
	"strings"
)

// DefaultID is the profile used when none is configured.
const DefaultID = "default"

// ErrInvalidID indicates the profile ID format is invalid.
var ErrInvalidID = errors.New("invalid profile ID: must be lowercase alphanumeric with hyphens, 1-2 path segments")

// idRegex validates profile ID format.
// Format: <segment>[/<segment>]
//   - segments are lowercase alphanumeric and hyphens, 1-64 characters
//   - no leading or trailing hyphens
var idRegex = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]{0,62}[a-z0-9])?(\/[a-z0-9]([a-z0-9-]{0,62}[a-z0-9])?)?$`)

// Validate checks a profile ID.
func Validate(id string) error {
	if id == "" || len(id) > 129 {
		return ErrInvalidID
	}
	if strings.Contains(id, "--") {
		return ErrInvalidID
	}
	if !idRegex.MatchString(id) {
		return ErrInvalidID
	}
	return nil
}
