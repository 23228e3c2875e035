package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/yombo/yombo-gateway-sub004/pkg/device"
)

// mcpRequester marks commands and states that came in over MCP.
var mcpRequester = device.Requester{ID: "mcp", Type: "client"}

func (s *Server) handleGetHealth(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	driverStatus := "disconnected"
	if s.gw.DriverConnected() {
		driverStatus = "connected"
	}

	status := "healthy"
	if driverStatus != "connected" {
		status = "degraded"
	}

	out := GetHealthOutput{
		Status:    status,
		Driver:    driverStatus,
		GatewayID: s.gw.GatewayID(),
		Devices:   len(s.gw.Devices()),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	return mcp.NewToolResultText(formatJSON(out)), nil
}

func (s *Server) handleListDevices(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	devices := s.gw.Devices()

	infos := make([]DeviceInfo, 0, len(devices))
	for _, d := range devices {
		infos = append(infos, DeviceToInfo(d))
	}

	out := ListDevicesOutput{
		Devices: infos,
		Count:   len(infos),
	}
	return mcp.NewToolResultText(formatJSON(out)), nil
}

func (s *Server) handleGetDevice(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := requiredString(request, "id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	d, err := s.gw.Device(id)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("device not found: %s", err)), nil
	}

	out := GetDeviceOutput{Device: DeviceToInfo(d)}
	return mcp.NewToolResultText(formatJSON(out)), nil
}

func (s *Server) handleSendCommand(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := requiredString(request, "id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	command, err := requiredString(request, "command")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	args := request.GetArguments()
	req := device.CommandRequest{
		Command:       command,
		RequestedBy:   mcpRequester,
		ControlMethod: device.ControlMethodDirect,
	}
	if inputs, ok := args["inputs"].(map[string]any); ok {
		req.Inputs = inputs
	}
	if pin, ok := args["pin"].(string); ok {
		req.Pin = pin
	}
	req.Delay = optionalSeconds(args, "delay_seconds")
	req.MaxDelay = optionalSeconds(args, "max_delay_seconds")

	rec, err := s.gw.SendCommand(ctx, id, req)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to send command: %s", err)), nil
	}
	return mcp.NewToolResultText(formatJSON(CommandOutput{Command: rec})), nil
}

func (s *Server) handleCancelCommand(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := requiredString(request, "command_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	rec, err := s.gw.CancelCommand(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to cancel command: %s", err)), nil
	}
	return mcp.NewToolResultText(formatJSON(CommandOutput{Command: rec})), nil
}

func (s *Server) handleGetCommand(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := requiredString(request, "command_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	rec, err := s.gw.Command(id)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("command not found: %s", err)), nil
	}
	return mcp.NewToolResultText(formatJSON(CommandOutput{Command: rec})), nil
}

func (s *Server) handleGetState(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := requiredString(request, "id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	state, err := s.gw.State(id)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to get device state: %s", err)), nil
	}

	out := StateOutput{
		DeviceID: id,
		State:    state,
	}
	return mcp.NewToolResultText(formatJSON(out)), nil
}

func (s *Server) handleSetState(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := requiredString(request, "id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	args := request.GetArguments()
	ms, ok := args["machine_state"].(float64)
	if !ok {
		return mcp.NewToolResultError(`required parameter "machine_state" must be a number`), nil
	}

	u := device.StateUpdate{
		MachineState:    &ms,
		RequestedBy:     mcpRequester,
		ReportingSource: "mcp",
	}
	if extra, ok := args["extra"].(map[string]any); ok {
		u.Extra = extra
	}
	if hs, ok := args["human_state"].(string); ok {
		u.HumanState = hs
	}

	entry, err := s.gw.SetState(ctx, id, u)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to set device state: %s", err)), nil
	}

	out := StateOutput{DeviceID: id, State: entry, Changed: entry != nil}
	if entry == nil {
		if out.State, err = s.gw.State(id); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to get device state: %s", err)), nil
		}
	}
	return mcp.NewToolResultText(formatJSON(out)), nil
}

func (s *Server) handleStateHistory(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := requiredString(request, "id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	states, err := s.gw.StateHistory(id)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to get state history: %s", err)), nil
	}
	if states == nil {
		states = []*device.StateEntry{}
	}

	out := StateHistoryOutput{
		DeviceID: id,
		States:   states,
		Count:    len(states),
	}
	return mcp.NewToolResultText(formatJSON(out)), nil
}

func (s *Server) handleEnergyTotals(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(formatJSON(EnergyOutput{Totals: s.gw.EnergyTotals()})), nil
}

// --- helpers ---

func requiredString(request mcp.CallToolRequest, key string) (string, error) {
	args := request.GetArguments()
	v, ok := args[key]
	if !ok || v == nil {
		return "", fmt.Errorf("required parameter %q is missing", key)
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", fmt.Errorf("parameter %q must be a non-empty string", key)
	}
	return s, nil
}

func optionalSeconds(args map[string]any, key string) *time.Duration {
	v, ok := args[key].(float64)
	if !ok {
		return nil
	}
	d := time.Duration(v * float64(time.Second))
	return &d
}

func formatJSON(v any) string {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf(`{"error":"failed to marshal response: %s"}`, err)
	}
	return string(b)
}
