package store

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/BTreeMap/LeadPipe/internal/models"
)

// BusinessConfig is the on-disk onboarding file for the Business Registry.
type BusinessConfig struct {
	Businesses []models.Business `yaml:"businesses"`
}

// LoadBusinessConfig reads a YAML business configuration file.
// Tokens may reference environment variables as ${NAME}.
func LoadBusinessConfig(path string) (*BusinessConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read business config: %w", err)
	}
	var cfg BusinessConfig
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(raw))), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse business config %s: %w", path, err)
	}
	for i, b := range cfg.Businesses {
		if b.ID == "" {
			return nil, fmt.Errorf("business config entry %d has no id", i)
		}
		if b.OutboundToken == "" {
			return nil, fmt.Errorf("business %s has no outbound_token", b.ID)
		}
	}
	return &cfg, nil
}

// SeedBusinesses upserts every configured business into the registry.
func SeedBusinesses(ctx context.Context, repo BusinessRepo, cfg *BusinessConfig) error {
	for _, b := range cfg.Businesses {
		if err := repo.UpsertBusiness(ctx, b); err != nil {
			return fmt.Errorf("seed business %s: %w", b.ID, err)
		}
	}
	slog.Info("SeedBusinesses: business registry seeded", "count", len(cfg.Businesses))
	return nil
}
