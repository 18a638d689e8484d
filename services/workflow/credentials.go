package workflow

import (
	"context"
	"fmt"
	"maps"
)

// CredentialStore resolves credential references to their secret values.
type CredentialStore interface {
	Get(ctx context.Context, ref CredentialRef) (map[string]any, error)
}

// MemoryCredentialStore is a CredentialStore keyed by credential ID.
type MemoryCredentialStore map[string]map[string]any

func (m MemoryCredentialStore) Get(_ context.Context, ref CredentialRef) (map[string]any, error) {
	data, ok := m[ref.ID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrCredentialLookup, ref.ID)
	}
	return maps.Clone(data), nil
}
