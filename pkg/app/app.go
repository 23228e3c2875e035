// Package app builds a running gateway from the database, the device
// catalog and the optional serial driver and MQTT broker. Both binaries
// start through it.
package app

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/yombo/yombo-gateway-sub004/pkg/catalog"
	"github.com/yombo/yombo-gateway-sub004/pkg/db"
	"github.com/yombo/yombo-gateway-sub004/pkg/device"
	"github.com/yombo/yombo-gateway-sub004/pkg/driver/serialline"
	"github.com/yombo/yombo-gateway-sub004/pkg/gateway"
	"github.com/yombo/yombo-gateway-sub004/pkg/metrics"
	"github.com/yombo/yombo-gateway-sub004/pkg/notify"
)

// Options selects what the gateway is built from.
type Options struct {
	// DBPath defaults to ~/.config/yombo/gateway.db
	DBPath      string
	CatalogPath string
	// SerialPort is optional. Without it commands go to the null driver.
	SerialPort string
	SerialBaud int
	// MQTT.Broker is optional. Without it no state notifications are published.
	MQTT notify.Config
}

// App is a started gateway with everything it owns.
type App struct {
	DB      *db.DB
	Config  *db.Config
	Gateway *gateway.Gateway
	Metrics *metrics.Metrics

	driver *serialline.Driver
	mqtt   *notify.Client
	cancel context.CancelFunc
}

// Start opens the database, loads the catalog and brings the gateway up.
func Start(ctx context.Context, opts Options) (*App, error) {
	database, err := db.Open(opts.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	log.Info().Str("path", database.Path()).Msg("Database opened")

	a := &App{DB: database}
	if err := a.start(ctx, opts); err != nil {
		a.closeResources()
		return nil, err
	}
	return a, nil
}

func (a *App) start(ctx context.Context, opts Options) error {
	if err := a.DB.Migrate(ctx); err != nil {
		return fmt.Errorf("failed to run database migrations: %w", err)
	}
	if err := a.DB.Bootstrap(ctx); err != nil {
		return fmt.Errorf("failed to bootstrap database: %w", err)
	}

	cfg, err := a.DB.ActiveConfig(ctx)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	a.Config = cfg
	log.Info().
		Str("profile", cfg.Profile.Name).
		Str("gateway_id", cfg.GatewayID()).
		Str("memory_tier", string(cfg.MemoryTier())).
		Str("timezone", cfg.Timezone()).
		Msg("Configuration loaded")

	var cat *catalog.Catalog
	if opts.CatalogPath == "" {
		log.Warn().Msg("No device catalog given, starting without devices")
		cat, err = catalog.Parse(nil, cfg.GatewayID())
	} else {
		cat, err = catalog.Load(opts.CatalogPath, cfg.GatewayID())
	}
	if err != nil {
		return fmt.Errorf("failed to load catalog: %w", err)
	}

	a.Metrics = metrics.New()
	listeners := []device.StateListener{a.Metrics}

	if opts.MQTT.Broker != "" {
		mqttCfg := opts.MQTT
		if mqttCfg.ClientID == "" {
			mqttCfg.ClientID = "gateway-" + cfg.GatewayID()
		}
		client, err := notify.NewClient(mqttCfg)
		if err != nil {
			log.Warn().Err(err).Str("broker", mqttCfg.Broker).Msg("MQTT broker unavailable, state notifications disabled")
		} else {
			a.mqtt = client
			listeners = append(listeners, notify.NewStateNotifier(client, mqttCfg))
			log.Info().Str("broker", mqttCfg.Broker).Msg("Publishing state changes over MQTT")
		}
	}

	a.Gateway = gateway.New(gateway.Config{
		GatewayID:     cfg.GatewayID(),
		MemoryTier:    cfg.MemoryTier(),
		DebounceDelay: cfg.DebounceDelay(),
		Catalog:       cat,
		Store:         a.DB.History(),
		Metrics:       a.Metrics,
		Listeners:     listeners,
	})

	runCtx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel

	// Try to open the serial driver; fall back to the null driver
	if opts.SerialPort != "" {
		drv, err := serialline.Open(opts.SerialPort, opts.SerialBaud, a.Gateway)
		if err != nil {
			log.Warn().Err(err).Str("port", opts.SerialPort).Msg("Serial driver unavailable, using null driver")
		} else {
			a.driver = drv
			a.Gateway.SetDriver(drv)
			drv.Start(runCtx)
		}
	}

	if err := a.Gateway.LoadDevices(ctx, cat.Devices()); err != nil {
		// Devices that loaded keep running.
		log.Error().Err(err).Msg("Some devices failed to load")
	}
	log.Info().Int("devices", len(a.Gateway.Devices())).Msg("Gateway started")
	return nil
}

// Close shuts the gateway down and releases the driver, the broker
// connection and the database.
func (a *App) Close(ctx context.Context) {
	if a.Gateway != nil {
		a.Gateway.Shutdown(ctx)
	}
	a.closeResources()
}

func (a *App) closeResources() {
	if a.cancel != nil {
		a.cancel()
	}
	if a.driver != nil {
		if err := a.driver.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to close serial driver")
		}
	}
	if a.mqtt != nil {
		a.mqtt.Disconnect()
	}
	if err := a.DB.Close(); err != nil {
		log.Error().Err(err).Msg("Failed to close database")
	}
}
