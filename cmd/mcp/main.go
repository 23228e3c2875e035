package main

import (
	"context"
	"flag"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/yombo/yombo-gateway-sub004/pkg/app"
	gatewaymcp "github.com/yombo/yombo-gateway-sub004/pkg/mcp"
	"github.com/yombo/yombo-gateway-sub004/pkg/notify"
)

func main() {
	// Logging must go to stderr, stdout is the MCP transport
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	// Parse flags
	dbPath := flag.String("db", "", "Path to database file (default: ~/.config/yombo/gateway.db)")
	catalogPath := flag.String("catalog", "", "Path to the device catalog YAML file")
	serialPort := flag.String("port", "", "Serial port of the device driver (optional)")
	baud := flag.Int("baud", 115200, "Serial baud rate")
	broker := flag.String("mqtt", "", "MQTT broker URL for state notifications (optional)")
	flag.Parse()

	ctx := context.Background()

	gw, err := app.Start(ctx, app.Options{
		DBPath:      *dbPath,
		CatalogPath: *catalogPath,
		SerialPort:  *serialPort,
		SerialBaud:  *baud,
		MQTT:        notify.Config{Broker: *broker},
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to start gateway")
	}
	defer gw.Close(ctx)

	mcpServer := gatewaymcp.NewServer(gw.Gateway)

	log.Info().Msg("Starting MCP server on stdio")

	if err := mcpServer.ServeStdio(); err != nil {
		log.Error().Err(err).Msg("MCP server failed")
	}
}
