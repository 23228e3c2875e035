package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/yombo/yombo-gateway-sub004/pkg/device"
)

var ErrNoActiveProfile = errors.New("no active profile found")

// Config represents the complete runtime configuration loaded from the database.
type Config struct {
	Profile *Profile
	tier    device.MemoryTier
}

// APIAddress returns the API server listen address.
func (c *Config) APIAddress() string {
	if c.Profile == nil || c.Profile.APIPort == 0 {
		return "0.0.0.0:8080"
	}
	return fmt.Sprintf("%s:%d", c.Profile.APIHost, c.Profile.APIPort)
}

// Timezone returns the profile timezone.
func (c *Config) Timezone() string {
	if c.Profile == nil {
		return "UTC"
	}
	return c.Profile.Timezone
}

// GatewayID returns the id of this gateway.
func (c *Config) GatewayID() string {
	if c.Profile == nil {
		return ""
	}
	return c.Profile.GatewayID
}

// MemoryTier returns the validated history sizing tier.
func (c *Config) MemoryTier() device.MemoryTier {
	if c.tier == "" {
		return device.TierMedium
	}
	return c.tier
}

// DebounceDelay returns the default delay for debounced state updates.
func (c *Config) DebounceDelay() time.Duration {
	if c.Profile == nil || c.Profile.StateDebounceMS <= 0 {
		return device.DefaultDebounceDelay
	}
	return time.Duration(c.Profile.StateDebounceMS) * time.Millisecond
}

// ActiveConfig loads the configuration of the active profile. An unknown
// memory tier is a configuration error.
func (db *DB) ActiveConfig(ctx context.Context) (*Config, error) {
	profile, err := db.Profiles().GetActive(ctx)
	if err != nil {
		if errors.Is(err, ErrProfileNotFound) {
			return nil, ErrNoActiveProfile
		}
		return nil, fmt.Errorf("failed to get active profile: %w", err)
	}

	tier, err := device.ParseMemoryTier(profile.MemoryTier)
	if err != nil {
		return nil, fmt.Errorf("profile %s: %w", profile.Name, err)
	}

	return &Config{Profile: profile, tier: tier}, nil
}
