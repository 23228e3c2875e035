package db

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/yombo/yombo-gateway-sub004/pkg/device"
)

// Bootstrap initializes the database with default data if it's empty.
// This is called after migrations and handles first-run setup. The gateway
// gets a fresh id on first run.
func (db *DB) Bootstrap(ctx context.Context) error {
	needs, err := db.NeedsBootstrap(ctx)
	if err != nil {
		return fmt.Errorf("failed to check profiles: %w", err)
	}
	if !needs {
		return nil
	}

	p := &Profile{
		Name:            "default",
		Timezone:        detectTimezone(),
		GatewayID:       uuid.NewString(),
		MemoryTier:      string(device.TierMedium),
		StateDebounceMS: int(device.DefaultDebounceDelay / time.Millisecond),
		APIHost:         "0.0.0.0",
		APIPort:         8080,
		IsActive:        true,
	}
	if err := db.Profiles().Create(ctx, p); err != nil {
		return fmt.Errorf("failed to create default profile: %w", err)
	}
	return nil
}

// detectTimezone uses $TZ, then /etc/timezone, then the /etc/localtime link.
func detectTimezone() string {
	if tz := os.Getenv("TZ"); tz != "" {
		return tz
	}
	if data, err := os.ReadFile("/etc/timezone"); err == nil {
		if tz := strings.TrimSpace(string(data)); tz != "" {
			return tz
		}
	}
	if link, err := os.Readlink("/etc/localtime"); err == nil {
		if idx := strings.Index(link, "zoneinfo/"); idx != -1 {
			return link[idx+9:]
		}
	}
	return "UTC"
}

// NeedsBootstrap returns true if the database needs initial setup.
func (db *DB) NeedsBootstrap(ctx context.Context) (bool, error) {
	var count int
	err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM profiles`).Scan(&count)
	if err != nil {
		return false, err
	}
	return count == 0, nil
}
