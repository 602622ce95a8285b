// Package store implements the room, call and user services the signaling
// coordinator depends on.
package store

import (
	"github.com/pkg/errors"
)

var (
	ErrNotFound   = errors.New("not found")
	ErrValidation = errors.New("validation failed")
	ErrForbidden  = errors.New("forbidden")
)

// DefaultMaxParticipants applies to rooms created implicitly on first join.
const DefaultMaxParticipants = 10
