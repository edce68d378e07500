package embed

import (
	"fmt"
	"strings"

	"github.com/Aman-CERP/cgrep/internal/config"
	cerrors "github.com/Aman-CERP/cgrep/internal/errors"
)

// NewProvider builds the provider named by cfg.Provider and wraps it in a
// vector cache unless cfg.CacheSize is negative.
func NewProvider(cfg config.EmbeddingsConfig) (Provider, error) {
	var p Provider
	switch strings.ToLower(cfg.Provider) {
	case "", ProviderLocal:
		p = NewLocalProvider(cfg.Model, cfg.Dimensions, cfg.BatchSize, cfg.MaxChars)
	case ProviderCommand:
		cp, err := NewCommandProvider(CommandConfig{
			Command:    cfg.Command,
			Model:      cfg.Model,
			Dimensions: cfg.Dimensions,
			BatchSize:  cfg.BatchSize,
			MaxChars:   cfg.MaxChars,
			Timeout:    cfg.Timeout,
		})
		if err != nil {
			return nil, err
		}
		p = cp
	case ProviderZero:
		p = NewZeroProvider(cfg.Dimensions)
	default:
		return nil, cerrors.ConfigError(fmt.Sprintf("unknown embedding provider %q", cfg.Provider), nil).
			WithSuggestion("Use one of: local, command, zero")
	}

	if cfg.CacheSize < 0 {
		return p, nil
	}
	return NewCached(p, cfg.CacheSize), nil
}
