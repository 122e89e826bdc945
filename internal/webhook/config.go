package webhook

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/mattjoyce/voxbridge/internal/config"
)

// FromGlobalConfig converts the webhooks section of the service config.
func FromGlobalConfig(wc config.WebhooksConfig) (Config, error) {
	cfg := Config{
		Listen:    wc.Listen,
		Endpoints: make([]EndpointConfig, 0, len(wc.Endpoints)),
	}
	for _, ep := range wc.Endpoints {
		if ep.Secret == "" {
			return Config{}, fmt.Errorf("webhook endpoint %q: no secret configured", ep.Path)
		}
		size, err := ParseMaxBodySize(ep.MaxBodySize)
		if err != nil {
			return Config{}, fmt.Errorf("webhook endpoint %q: invalid max_body_size %q: %w", ep.Path, ep.MaxBodySize, err)
		}
		cfg.Endpoints = append(cfg.Endpoints, EndpointConfig{
			Path:            ep.Path,
			Secret:          ep.Secret,
			SignatureHeader: ep.SignatureHeader,
			MaxBodySize:     size,
		})
	}
	return cfg, nil
}

var sizeUnits = []struct {
	suffix string
	factor int64
}{
	{"GB", 1 << 30},
	{"MB", 1 << 20},
	{"KB", 1 << 10},
	{"B", 1},
}

// ParseMaxBodySize parses sizes such as "4KB", "1MB" or "2048". Empty means
// DefaultMaxBodySize.
func ParseMaxBodySize(size string) (int64, error) {
	size = strings.ToUpper(strings.TrimSpace(size))
	if size == "" {
		return DefaultMaxBodySize, nil
	}

	factor := int64(1)
	for _, u := range sizeUnits {
		if strings.HasSuffix(size, u.suffix) {
			factor = u.factor
			size = strings.TrimSpace(strings.TrimSuffix(size, u.suffix))
			break
		}
	}

	value, err := strconv.ParseInt(size, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size value: %w", err)
	}
	if value <= 0 {
		return 0, fmt.Errorf("size must be positive")
	}
	if value > (1<<62)/factor {
		return 0, fmt.Errorf("size too large")
	}
	return value * factor, nil
}
