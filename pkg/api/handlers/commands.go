package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/yombo/yombo-gateway-sub004/pkg/api/types"
	"github.com/yombo/yombo-gateway-sub004/pkg/device"
)

// CommandsHandler handles device command endpoints
type CommandsHandler struct {
	gw Gateway
}

// NewCommandsHandler creates a new commands handler
func NewCommandsHandler(gw Gateway) *CommandsHandler {
	return &CommandsHandler{gw: gw}
}

func seconds(v *float64) *time.Duration {
	if v == nil {
		return nil
	}
	d := time.Duration(*v * float64(time.Second))
	return &d
}

// toCommandRequest converts the API body into a scheduler request.
func toCommandRequest(req types.SendCommandRequest) device.CommandRequest {
	out := device.CommandRequest{
		Command:        req.Command,
		Inputs:         req.Inputs,
		Pin:            req.Pin,
		Delay:          seconds(req.DelaySeconds),
		NotBefore:      req.NotBefore,
		MaxDelay:       seconds(req.MaxDelaySeconds),
		NotAfter:       req.NotAfter,
		RequestContext: req.RequestContext,
		ControlMethod:  req.ControlMethod,
		IdempotenceKey: req.IdempotenceKey,
	}
	if req.RequestedBy != "" {
		out.RequestedBy = device.Requester{ID: req.RequestedBy, Type: req.RequestedByType}
		if out.RequestedBy.Type == "" {
			out.RequestedBy.Type = "user"
		}
	}
	return out
}

// SendCommand handles POST /devices/:id/commands
// @Summary      Send a command
// @Description  Runs a command now or inside a delay window
// @Tags         commands
// @Accept       json
// @Produce      json
// @Param        id       path      string                    true  "Device id"
// @Param        request  body      types.SendCommandRequest  true  "Command request"
// @Success      201      {object}  types.CommandResponse
// @Failure      400      {object}  types.ErrorResponse  "Invalid command or schedule"
// @Failure      401      {object}  types.ErrorResponse  "Pin required"
// @Failure      403      {object}  types.ErrorResponse  "Pin mismatch or not controllable"
// @Failure      404      {object}  types.ErrorResponse  "Device not found"
// @Failure      409      {object}  types.ErrorResponse  "Device disabled"
// @Router       /devices/{id}/commands [post]
func (h *CommandsHandler) SendCommand(c *gin.Context) {
	var req types.SendCommandRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "command is required")
		return
	}
	if req.IdempotenceKey == "" {
		req.IdempotenceKey = c.GetHeader("Idempotency-Key")
	}

	rec, err := h.gw.SendCommand(c.Request.Context(), c.Param("id"), toCommandRequest(req))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, types.CommandResponse{Command: rec})
}

// ListCommands handles GET /devices/:id/commands
// @Summary      List device commands
// @Description  Returns the device's command history, or only delayed or unfinished commands
// @Tags         commands
// @Produce      json
// @Param        id      path   string  true   "Device id"
// @Param        filter  query  string  false  "delayed or pending"
// @Success      200  {object}  types.CommandsResponse
// @Failure      400  {object}  types.ErrorResponse  "Unknown filter"
// @Failure      404  {object}  types.ErrorResponse  "Device not found"
// @Router       /devices/{id}/commands [get]
func (h *CommandsHandler) ListCommands(c *gin.Context) {
	id := c.Param("id")

	var (
		recs []*device.CommandRecord
		err  error
	)
	switch c.Query("filter") {
	case "":
		recs, err = h.gw.Commands(id)
	case "delayed":
		recs, err = h.gw.DelayedCommands(id)
	case "pending":
		recs, err = h.gw.PendingCommands(id)
	default:
		badRequest(c, "filter must be delayed or pending")
		return
	}
	if err != nil {
		respondError(c, err)
		return
	}
	if recs == nil {
		recs = []*device.CommandRecord{}
	}
	c.JSON(http.StatusOK, types.CommandsResponse{Commands: recs, Count: len(recs)})
}

// GetCommand handles GET /commands/:id
// @Summary      Get a command record
// @Tags         commands
// @Produce      json
// @Param        id   path      string  true  "Device command id"
// @Success      200  {object}  types.CommandResponse
// @Failure      404  {object}  types.ErrorResponse  "Command not found"
// @Router       /commands/{id} [get]
func (h *CommandsHandler) GetCommand(c *gin.Context) {
	rec, err := h.gw.Command(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, types.CommandResponse{Command: rec})
}

// CancelCommand handles POST /commands/:id/cancel
// @Summary      Cancel a command
// @Description  Cancels a pending or delayed command. Cancelling twice is a no-op
// @Tags         commands
// @Produce      json
// @Param        id   path      string  true  "Device command id"
// @Success      200  {object}  types.CommandResponse
// @Failure      404  {object}  types.ErrorResponse  "Command not found"
// @Failure      409  {object}  types.ErrorResponse  "Command already in flight or finished"
// @Router       /commands/{id}/cancel [post]
func (h *CommandsHandler) CancelCommand(c *gin.Context) {
	rec, err := h.gw.CancelCommand(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, types.CommandResponse{Command: rec})
}

// AcknowledgeCommand handles POST /commands/:id/ack
// @Summary      Report command progress
// @Description  Drivers report received, pending, done or failed
// @Tags         commands
// @Accept       json
// @Produce      json
// @Param        id       path      string                    true  "Device command id"
// @Param        request  body      types.AcknowledgeRequest  true  "New status"
// @Success      200      {object}  types.CommandResponse
// @Failure      400      {object}  types.ErrorResponse  "Invalid status"
// @Failure      404      {object}  types.ErrorResponse  "Command not found"
// @Failure      409      {object}  types.ErrorResponse  "Invalid transition"
// @Router       /commands/{id}/ack [post]
func (h *CommandsHandler) AcknowledgeCommand(c *gin.Context) {
	var req types.AcknowledgeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "status is required")
		return
	}
	status, err := device.ParseStatus(req.Status)
	if err != nil {
		badRequest(c, err.Error())
		return
	}

	rec, err := h.gw.AcknowledgeCommand(c.Request.Context(), c.Param("id"), status, req.Message)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, types.CommandResponse{Command: rec})
}
