package hosting

import (
	"strings"

	"github.com/tobyh/feedvault/internal/config"
)

// NewHost creates a MediaHost from configuration. The provider is
// auto-detected from the endpoint when not set explicitly.
func NewHost(cfg *config.HostingConfig) (MediaHost, error) {
	provider := ProviderType(cfg.Provider)
	if provider == "" {
		provider = detectProvider(cfg.Endpoint)
	}

	if provider == ProviderMinIO {
		return NewMinIOHost(cfg)
	}
	return NewS3Host(cfg, provider)
}

// detectProvider attempts to detect the storage flavour from the
// endpoint.
func detectProvider(endpoint string) ProviderType {
	endpoint = strings.ToLower(endpoint)

	switch {
	case strings.Contains(endpoint, "r2.cloudflarestorage.com"):
		return ProviderR2
	case strings.Contains(endpoint, "amazonaws.com"):
		return ProviderS3
	default:
		return ProviderS3Compatible
	}
}
