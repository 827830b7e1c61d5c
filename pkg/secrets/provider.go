package secrets

import (
	"context"
	"errors"
)

// ErrNotFound is returned by a provider that does not hold the secret.
var ErrNotFound = errors.New("secret not found")

// Provider retrieves secrets from one backend.
type Provider interface {
	// Get returns the secret value. It returns an error wrapping
	// ErrNotFound when the provider does not hold the secret.
	Get(ctx context.Context, name string) (string, error)

	// Name identifies the provider in logs and errors.
	Name() string
}
