package secrets

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"

	"mercator-hq/sweeper/pkg/config"
)

// secretRef matches ${secret:name}.
var secretRef = regexp.MustCompile(`\$\{secret:([A-Za-z0-9._-]+)\}`)

// Resolver replaces secret references using a chain of providers. The first
// provider holding a secret wins.
type Resolver struct {
	providers []Provider
	logger    *slog.Logger
}

// NewResolver creates a resolver. Nil providers are skipped.
func NewResolver(providers ...Provider) *Resolver {
	r := &Resolver{logger: slog.Default().With("component", "secrets")}
	for _, p := range providers {
		if p != nil {
			r.providers = append(r.providers, p)
		}
	}
	return r
}

// Get looks name up in each provider in turn.
func (r *Resolver) Get(ctx context.Context, name string) (string, error) {
	for _, p := range r.providers {
		value, err := p.Get(ctx, name)
		if err == nil {
			r.logger.Debug("secret resolved", "name", name, "provider", p.Name())
			return value, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return "", fmt.Errorf("provider %s: %w", p.Name(), err)
		}
	}
	return "", fmt.Errorf("%w: %s", ErrNotFound, name)
}

// Resolve replaces every reference in s. Strings without references are
// returned unchanged.
func (r *Resolver) Resolve(ctx context.Context, s string) (string, error) {
	var errs []error
	out := secretRef.ReplaceAllStringFunc(s, func(match string) string {
		name := secretRef.FindStringSubmatch(match)[1]
		value, err := r.Get(ctx, name)
		if err != nil {
			errs = append(errs, err)
			return match
		}
		return value
	})
	if len(errs) > 0 {
		return s, fmt.Errorf("failed to resolve secret references: %w", errors.Join(errs...))
	}
	return out, nil
}

// ResolveConfig resolves references in the credential fields of cfg.
func (r *Resolver) ResolveConfig(ctx context.Context, cfg *config.Config) error {
	fields := []struct {
		name string
		dst  *string
	}{
		{"discord.token", &cfg.Discord.Token},
		{"discord.application_id", &cfg.Discord.ApplicationID},
		{"telemetry.tracing.endpoint", &cfg.Telemetry.Tracing.Endpoint},
	}

	var errs []error
	for _, f := range fields {
		value, err := r.Resolve(ctx, *f.dst)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", f.name, err))
			continue
		}
		*f.dst = value
	}
	return errors.Join(errs...)
}
