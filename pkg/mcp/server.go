package mcp

import (
	"context"

	"github.com/mark3labs/mcp-go/server"

	"github.com/yombo/yombo-gateway-sub004/pkg/device"
	"github.com/yombo/yombo-gateway-sub004/pkg/energy"
)

// Gateway is the part of the gateway runtime exposed as tools.
// *gateway.Gateway satisfies it.
type Gateway interface {
	GatewayID() string
	DriverConnected() bool

	Devices() []*device.Device
	Device(id string) (*device.Device, error)

	SendCommand(ctx context.Context, deviceID string, req device.CommandRequest) (*device.CommandRecord, error)
	CancelCommand(ctx context.Context, id string) (*device.CommandRecord, error)
	Command(id string) (*device.CommandRecord, error)

	State(deviceID string) (*device.StateEntry, error)
	StateHistory(deviceID string) ([]*device.StateEntry, error)
	SetState(ctx context.Context, deviceID string, u device.StateUpdate) (*device.StateEntry, error)

	EnergyTotals() energy.Totals
}

// Server wraps the MCP server with the gateway's device tools
type Server struct {
	mcpServer *server.MCPServer
	gw        Gateway
}

// NewServer creates a new MCP server over gw
func NewServer(gw Gateway) *Server {
	s := &Server{gw: gw}

	s.mcpServer = server.NewMCPServer(
		"yombo-gateway",
		"1.0.0",
		server.WithToolCapabilities(true),
	)

	s.registerTools()

	return s
}

// ServeStdio starts the MCP server using stdio transport
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}
