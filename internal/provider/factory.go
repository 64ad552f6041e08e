// Package provider builds conversation sources from configuration.
package provider

import (
	"errors"
	"fmt"

	"chatvault/internal/arc"
	"chatvault/internal/config"
	"chatvault/internal/provider/jsondir"
)

// NewProviderFromConfig creates a Provider based on the configuration type.
func NewProviderFromConfig(cfg config.ProviderConfig) (arc.Provider, error) {
	switch cfg.Type {
	case "jsondir":
		if cfg.SourceDir == "" {
			return nil, errors.New("jsondir provider requires source_dir")
		}
		p, err := jsondir.New(cfg.Name, cfg.SourceDir, cfg.MaxConcurrent)
		if err != nil {
			return nil, err
		}
		return p, nil
	default:
		return nil, fmt.Errorf("unknown provider type: %q", cfg.Type)
	}
}
