package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/yombo/yombo-gateway-sub004/pkg/api/types"
	"github.com/yombo/yombo-gateway-sub004/pkg/device"
	"github.com/yombo/yombo-gateway-sub004/pkg/energy"
)

// Gateway is the runtime the handlers operate on. *gateway.Gateway
// satisfies it.
type Gateway interface {
	GatewayID() string
	DriverConnected() bool

	Devices() []*device.Device
	Device(id string) (*device.Device, error)
	SetEnabled(ctx context.Context, id string, enabled bool) error
	RemoveDevice(ctx context.Context, id string) error

	SendCommand(ctx context.Context, deviceID string, req device.CommandRequest) (*device.CommandRecord, error)
	CancelCommand(ctx context.Context, id string) (*device.CommandRecord, error)
	AcknowledgeCommand(ctx context.Context, id string, status device.Status, message string) (*device.CommandRecord, error)
	Command(id string) (*device.CommandRecord, error)
	Commands(deviceID string) ([]*device.CommandRecord, error)
	DelayedCommands(deviceID string) ([]*device.CommandRecord, error)
	PendingCommands(deviceID string) ([]*device.CommandRecord, error)

	State(deviceID string) (*device.StateEntry, error)
	StateHistory(deviceID string) ([]*device.StateEntry, error)
	SetState(ctx context.Context, deviceID string, u device.StateUpdate) (*device.StateEntry, error)
	SetStateDelayed(deviceID string, u device.StateUpdate, delay time.Duration) error

	EnergyTotals() energy.Totals
}

type errorMapping struct {
	target error
	status int
	code   string
}

var errorMappings = []errorMapping{
	{device.ErrNotFound, http.StatusNotFound, "not_found"},
	{device.ErrInvalidCommand, http.StatusBadRequest, "invalid_command"},
	{device.ErrInvalidSchedule, http.StatusBadRequest, "invalid_schedule"},
	{device.ErrNotToggleable, http.StatusBadRequest, "not_toggleable"},
	{device.ErrMissingMachineState, http.StatusBadRequest, "missing_machine_state"},
	{device.ErrInvalidMachineState, http.StatusBadRequest, "invalid_machine_state"},
	{device.ErrPinRequired, http.StatusUnauthorized, "pin_required"},
	{device.ErrPinMismatch, http.StatusForbidden, "pin_mismatch"},
	{device.ErrNotControllable, http.StatusForbidden, "not_controllable"},
	{device.ErrDeviceDisabled, http.StatusConflict, "device_disabled"},
	{device.ErrAlreadyInFlight, http.StatusConflict, "already_in_flight"},
	{device.ErrInvalidTransition, http.StatusConflict, "invalid_transition"},
	{device.ErrNotConnected, http.StatusServiceUnavailable, "driver_unavailable"},
	{device.ErrEnergyMapExhausted, http.StatusInternalServerError, "energy_map_error"},
}

// respondError writes the ErrorResponse matching err.
func respondError(c *gin.Context, err error) {
	for _, m := range errorMappings {
		if errors.Is(err, m.target) {
			c.JSON(m.status, types.ErrorResponse{Error: m.code, Message: err.Error()})
			return
		}
	}
	c.JSON(http.StatusInternalServerError, types.ErrorResponse{
		Error:   "gateway_error",
		Message: err.Error(),
	})
}

func badRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, types.ErrorResponse{
		Error:   "invalid_request",
		Message: message,
	})
}
