package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/yombo/yombo-gateway-sub004/pkg/api"
	"github.com/yombo/yombo-gateway-sub004/pkg/app"
	"github.com/yombo/yombo-gateway-sub004/pkg/notify"
)

// @title           Yombo Gateway API
// @version         1.0
// @description     REST API for device commands, device state and energy usage

// @host      localhost:8080
// @BasePath  /api/v1
// @schemes   http https

func main() {
	// Configure logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	// Parse flags
	dbPath := flag.String("db", "", "Path to database file (default: ~/.config/yombo/gateway.db)")
	catalogPath := flag.String("catalog", "", "Path to the device catalog YAML file")
	serialPort := flag.String("port", "", "Serial port of the device driver (optional)")
	baud := flag.Int("baud", 115200, "Serial baud rate")
	broker := flag.String("mqtt", "", "MQTT broker URL for state notifications, e.g. tcp://localhost:1883 (optional)")
	topicPrefix := flag.String("mqtt-prefix", notify.DefaultTopicPrefix, "MQTT topic prefix")
	flag.Parse()

	ctx := context.Background()

	gw, err := app.Start(ctx, app.Options{
		DBPath:      *dbPath,
		CatalogPath: *catalogPath,
		SerialPort:  *serialPort,
		SerialBaud:  *baud,
		MQTT: notify.Config{
			Broker:      *broker,
			TopicPrefix: *topicPrefix,
		},
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to start gateway")
	}

	router := api.NewRouter(gw.Gateway, gw.Metrics)

	// Handle shutdown gracefully
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Info().Msg("Shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		gw.Close(shutdownCtx)
		os.Exit(0)
	}()

	// Start server
	addr := gw.Config.APIAddress()
	log.Info().Str("address", addr).Msg("Starting API server")

	if err := router.Run(addr); err != nil {
		log.Fatal().Err(err).Msg("Server failed")
	}
}
