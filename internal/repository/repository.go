package repository

import (
	"context"
	"errors"
)

// ErrCorruptState is returned by Load when a stored document exists but
// cannot be decoded or fails validation.
var ErrCorruptState = errors.New("stored session state is corrupt")

// Persister loads and stores the whole session document. Save always
// rewrites the complete document.
type Persister interface {
	// Load returns an empty state when nothing has been stored yet.
	Load(ctx context.Context) (*State, error)
	Save(ctx context.Context, state *State) error
}
