package mcp

import "github.com/mark3labs/mcp-go/mcp"

// registerTools registers all MCP tools with the server
func (s *Server) registerTools() {
	// Health check
	s.mcpServer.AddTool(
		mcp.NewTool("get_health",
			mcp.WithDescription("Check the health of the gateway and its device driver"),
		),
		s.handleGetHealth,
	)

	// Devices
	s.mcpServer.AddTool(
		mcp.NewTool("list_devices",
			mcp.WithDescription("List all loaded devices with their current state"),
		),
		s.handleListDevices,
	)

	s.mcpServer.AddTool(
		mcp.NewTool("get_device",
			mcp.WithDescription("Get a device and its current state"),
			mcp.WithString("id",
				mcp.Required(),
				mcp.Description("Device id"),
			),
		),
		s.handleGetDevice,
	)

	// Commands
	s.mcpServer.AddTool(
		mcp.NewTool("send_command",
			mcp.WithDescription("Send a command to a device, right away or inside a delay window. The command 'toggle' picks the opposite of the last toggle command."),
			mcp.WithString("id",
				mcp.Required(),
				mcp.Description("Device id"),
			),
			mcp.WithString("command",
				mcp.Required(),
				mcp.Description("Command id (e.g. on, off, toggle)"),
			),
			mcp.WithObject("inputs",
				mcp.Description("Command inputs, validated against the command's input schema"),
			),
			mcp.WithString("pin",
				mcp.Description("Device pin when the device requires one"),
			),
			mcp.WithNumber("delay_seconds",
				mcp.Description("Wait this long before sending"),
			),
			mcp.WithNumber("max_delay_seconds",
				mcp.Description("Give up this long after the window opens (default 60)"),
			),
		),
		s.handleSendCommand,
	)

	s.mcpServer.AddTool(
		mcp.NewTool("cancel_command",
			mcp.WithDescription("Cancel a pending or delayed device command"),
			mcp.WithString("command_id",
				mcp.Required(),
				mcp.Description("Device command id"),
			),
		),
		s.handleCancelCommand,
	)

	s.mcpServer.AddTool(
		mcp.NewTool("get_command",
			mcp.WithDescription("Get a device command record with its status history"),
			mcp.WithString("command_id",
				mcp.Required(),
				mcp.Description("Device command id"),
			),
		),
		s.handleGetCommand,
	)

	// State
	s.mcpServer.AddTool(
		mcp.NewTool("get_state",
			mcp.WithDescription("Get the current state of a device"),
			mcp.WithString("id",
				mcp.Required(),
				mcp.Description("Device id"),
			),
		),
		s.handleGetState,
	)

	s.mcpServer.AddTool(
		mcp.NewTool("set_state",
			mcp.WithDescription("Record a new device state. Nothing is recorded when the state is unchanged."),
			mcp.WithString("id",
				mcp.Required(),
				mcp.Description("Device id"),
			),
			mcp.WithNumber("machine_state",
				mcp.Required(),
				mcp.Description("Machine state (0 is off)"),
			),
			mcp.WithObject("extra",
				mcp.Description("Platform specific state fields (e.g. {\"brightness\": 50})"),
			),
			mcp.WithString("human_state",
				mcp.Description("Override the derived human readable state"),
			),
		),
		s.handleSetState,
	)

	s.mcpServer.AddTool(
		mcp.NewTool("state_history",
			mcp.WithDescription("List a device's recorded states, newest first"),
			mcp.WithString("id",
				mcp.Required(),
				mcp.Description("Device id"),
			),
		),
		s.handleStateHistory,
	)

	// Energy
	s.mcpServer.AddTool(
		mcp.NewTool("energy_totals",
			mcp.WithDescription("Get the fleet energy usage per location and energy type"),
		),
		s.handleEnergyTotals,
	)
}
