package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/yombo/yombo-gateway-sub004/pkg/api/types"
	"github.com/yombo/yombo-gateway-sub004/pkg/device"
)

// StateHandler handles device state endpoints
type StateHandler struct {
	gw Gateway
}

// NewStateHandler creates a new state handler
func NewStateHandler(gw Gateway) *StateHandler {
	return &StateHandler{gw: gw}
}

// GetState handles GET /devices/:id/state
// @Summary      Get device state
// @Description  Returns the current state of a device
// @Tags         state
// @Produce      json
// @Param        id   path      string  true  "Device id"
// @Success      200  {object}  types.StateResponse
// @Failure      404  {object}  types.ErrorResponse  "Device not found"
// @Router       /devices/{id}/state [get]
func (h *StateHandler) GetState(c *gin.Context) {
	id := c.Param("id")
	state, err := h.gw.State(id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, types.StateResponse{Device: id, State: state})
}

// SetState handles POST /devices/:id/state
// @Summary      Set device state
// @Description  Records a new state. Unchanged states are not recorded. A positive delay_ms debounces the update
// @Tags         state
// @Accept       json
// @Produce      json
// @Param        id       path      string                 true  "Device id"
// @Param        request  body      types.SetStateRequest  true  "State update"
// @Success      200      {object}  types.StateResponse
// @Success      202      {object}  types.StateResponse  "Update debounced"
// @Failure      400      {object}  types.ErrorResponse  "Invalid request"
// @Failure      404      {object}  types.ErrorResponse  "Device not found"
// @Router       /devices/{id}/state [post]
func (h *StateHandler) SetState(c *gin.Context) {
	id := c.Param("id")

	var req types.SetStateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body")
		return
	}
	if req.DelayMS < 0 {
		badRequest(c, "delay_ms must not be negative")
		return
	}

	u := device.StateUpdate{
		MachineState:    req.MachineState,
		Extra:           req.MachineStateExtra,
		HumanState:      req.HumanState,
		HumanMessage:    req.HumanMessage,
		DeviceCommandID: req.DeviceCommandID,
		RequestContext:  req.RequestContext,
		ReportingSource: req.ReportingSource,
		Silent:          req.Silent,
	}
	if req.RequestedBy != "" {
		u.RequestedBy = device.Requester{ID: req.RequestedBy, Type: req.RequestedByType}
	}

	if req.DelayMS > 0 {
		if err := h.gw.SetStateDelayed(id, u, time.Duration(req.DelayMS)*time.Millisecond); err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusAccepted, types.StateResponse{Device: id, Delayed: true})
		return
	}

	entry, err := h.gw.SetState(c.Request.Context(), id, u)
	if err != nil {
		respondError(c, err)
		return
	}
	if entry == nil {
		current, err := h.gw.State(id)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, types.StateResponse{Device: id, State: current})
		return
	}
	c.JSON(http.StatusOK, types.StateResponse{Device: id, State: entry, Changed: true})
}

// StateHistory handles GET /devices/:id/states
// @Summary      Get state history
// @Description  Returns the device's recorded states, newest first
// @Tags         state
// @Produce      json
// @Param        id   path      string  true  "Device id"
// @Success      200  {object}  types.StatesResponse
// @Failure      404  {object}  types.ErrorResponse  "Device not found"
// @Router       /devices/{id}/states [get]
func (h *StateHandler) StateHistory(c *gin.Context) {
	states, err := h.gw.StateHistory(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	if states == nil {
		states = []*device.StateEntry{}
	}
	c.JSON(http.StatusOK, types.StatesResponse{States: states, Count: len(states)})
}

// Energy handles GET /energy
// @Summary      Fleet energy totals
// @Description  Returns the last computed energy usage per location and energy type
// @Tags         state
// @Produce      json
// @Success      200  {object}  types.EnergyResponse
// @Router       /energy [get]
func (h *StateHandler) Energy(c *gin.Context) {
	c.JSON(http.StatusOK, types.EnergyResponse{Totals: h.gw.EnergyTotals()})
}
