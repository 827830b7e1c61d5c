package secrets

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"mercator-hq/sweeper/pkg/config"
)

// writeSecret writes a secret file with mode perm.
func writeSecret(t *testing.T, dir, name, value string, perm os.FileMode) {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(value), perm); err != nil {
		t.Fatalf("failed to write secret: %v", err)
	}
	if err := os.Chmod(path, perm); err != nil {
		t.Fatalf("failed to chmod secret: %v", err)
	}
}

func TestEnvProvider(t *testing.T) {
	t.Setenv("TEST_SECRET_DISCORD_TOKEN", "from-env")
	p := NewEnvProvider("TEST_SECRET_")

	got, err := p.Get(context.Background(), "discord-token")
	if err != nil || got != "from-env" {
		t.Errorf("Get() = %q, %v", got, err)
	}

	_, err = p.Get(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Get(missing) error = %v, want ErrNotFound", err)
	}
}

func TestFileProvider(t *testing.T) {
	dir := t.TempDir()
	writeSecret(t, dir, "discord-token", "from-file\n", 0o600)
	writeSecret(t, dir, "open", "x", 0o644)

	p, err := NewFileProvider(dir)
	if err != nil {
		t.Fatalf("NewFileProvider() error = %v", err)
	}

	tests := []struct {
		name     string
		secret   string
		want     string
		wantErr  bool
		notFound bool
	}{
		{name: "trims whitespace", secret: "discord-token", want: "from-file"},
		{name: "missing file", secret: "nope", wantErr: true, notFound: true},
		{name: "insecure permissions", secret: "open", wantErr: true},
		{name: "traversal", secret: "../discord-token", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := p.Get(context.Background(), tt.secret)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Get() error = %v, wantErr %v", err, tt.wantErr)
			}
			if errors.Is(err, ErrNotFound) != tt.notFound {
				t.Errorf("errors.Is(ErrNotFound) = %v, want %v", errors.Is(err, ErrNotFound), tt.notFound)
			}
			if got != tt.want {
				t.Errorf("Get() = %q, want %q", got, tt.want)
			}
		})
	}

	if _, err := NewFileProvider(filepath.Join(dir, "discord-token")); err == nil {
		t.Error("NewFileProvider() accepted a regular file")
	}
}

func TestResolver_Resolve(t *testing.T) {
	dir := t.TempDir()
	writeSecret(t, dir, "discord-token", "file-token", 0o600)
	writeSecret(t, dir, "shared", "file-shared", 0o400)
	files, err := NewFileProvider(dir)
	if err != nil {
		t.Fatalf("NewFileProvider() error = %v", err)
	}
	t.Setenv("TEST_SECRET_SHARED", "env-shared")
	r := NewResolver(NewEnvProvider("TEST_SECRET_"), files, nil)

	tests := []struct {
		name    string
		in      string
		want    string
		wantErr bool
	}{
		{name: "plain value", in: "literal-token", want: "literal-token"},
		{name: "file reference", in: "${secret:discord-token}", want: "file-token"},
		{name: "first provider wins", in: "${secret:shared}", want: "env-shared"},
		{name: "embedded", in: "Bot ${secret:discord-token}", want: "Bot file-token"},
		{name: "unknown", in: "${secret:missing}", want: "${secret:missing}", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := r.Resolve(context.Background(), tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Resolve() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("Resolve() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestResolver_ResolveConfig(t *testing.T) {
	t.Setenv("TEST_SECRET_DISCORD_TOKEN", "s3cret")
	r := NewResolver(NewEnvProvider("TEST_SECRET_"))

	cfg := config.NewDefaultConfig()
	cfg.Discord.Token = "${secret:discord-token}"
	cfg.Discord.ApplicationID = "1234"
	if err := r.ResolveConfig(context.Background(), cfg); err != nil {
		t.Fatalf("ResolveConfig() error = %v", err)
	}
	if cfg.Discord.Token != "s3cret" || cfg.Discord.ApplicationID != "1234" {
		t.Errorf("discord = %+v", cfg.Discord)
	}

	cfg.Discord.Token = "${secret:absent}"
	err := r.ResolveConfig(context.Background(), cfg)
	if err == nil || !strings.Contains(err.Error(), "discord.token") {
		t.Errorf("ResolveConfig() error = %v, want one naming discord.token", err)
	}
	if strings.Contains(err.Error(), "s3cret") {
		t.Error("error leaks a secret value")
	}
}
