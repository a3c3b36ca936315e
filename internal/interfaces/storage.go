package interfaces

import "context"

// ActiveSetStore persists the set of enabled resource groups across
// restarts. Implementations can be swapped (JSON file, BadgerDB, Redis).
//
// Load returns an empty set, not an error, when nothing has been saved yet
// or the stored value is unreadable.
type ActiveSetStore interface {
	Load(ctx context.Context) ([]string, error)
	Save(ctx context.Context, names []string) error
	Close() error
}

// ActiveSet is the persisted layout shared by every backend.
type ActiveSet struct {
	Enabled []string `json:"enabled"`
}
