// Package factory opens the source.Catalog an import is configured for.
package factory

import (
	"context"
	"fmt"
	"os"

	"github.com/timmy/mediavault/internal/config"
	"github.com/timmy/mediavault/internal/domain"
	"github.com/timmy/mediavault/internal/source"
	"github.com/timmy/mediavault/internal/source/remote"
	"github.com/timmy/mediavault/internal/source/staging"
)

// Factory builds catalogs from per-import source settings.
type Factory struct {
	cfg config.SourcesConfig
}

// New creates a Factory over the configured source backends.
func New(cfg config.SourcesConfig) *Factory {
	return &Factory{cfg: cfg}
}

// Open returns the catalog named by settings. CredentialsRef names an
// environment variable holding the API token; credentials are never stored
// with the import.
func (f *Factory) Open(_ context.Context, settings domain.SourceSettings) (source.Catalog, error) {
	switch settings.Type {
	case "staging":
		return staging.NewAdapter(f.cfg.Staging.BasePath, settings.Name, f.cfg.Remote.TempDir), nil
	case "remote":
		if f.cfg.Remote.BaseURL == "" {
			return nil, fmt.Errorf("remote catalog base URL is not configured")
		}
		token := f.cfg.Remote.APIToken
		if settings.CredentialsRef != "" {
			ref, ok := os.LookupEnv(settings.CredentialsRef)
			if !ok {
				return nil, fmt.Errorf("credentials reference %q is not set", settings.CredentialsRef)
			}
			token = ref
		}
		return remote.NewAdapter(remote.Config{
			BaseURL:  f.cfg.Remote.BaseURL,
			Catalog:  settings.Name,
			APIToken: token,
			PageSize: f.cfg.Remote.PageSize,
			Timeout:  f.cfg.Remote.Timeout,
			TempDir:  f.cfg.Remote.TempDir,
		}), nil
	default:
		return nil, fmt.Errorf("unknown source type %q", settings.Type)
	}
}
