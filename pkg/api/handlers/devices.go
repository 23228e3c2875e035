package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yombo/yombo-gateway-sub004/pkg/api/types"
)

// DevicesHandler handles device endpoints
type DevicesHandler struct {
	gw Gateway
}

// NewDevicesHandler creates a new devices handler
func NewDevicesHandler(gw Gateway) *DevicesHandler {
	return &DevicesHandler{gw: gw}
}

// ListDevices handles GET /devices
// @Summary      List all devices
// @Description  Returns every loaded device with its current state
// @Tags         devices
// @Produce      json
// @Success      200  {object}  types.ListDevicesResponse
// @Router       /devices [get]
func (h *DevicesHandler) ListDevices(c *gin.Context) {
	devices := h.gw.Devices()
	result := make([]types.DeviceView, 0, len(devices))
	for _, d := range devices {
		result = append(result, types.NewDeviceView(d))
	}

	c.JSON(http.StatusOK, types.ListDevicesResponse{
		Devices: result,
		Count:   len(result),
	})
}

// GetDevice handles GET /devices/:id
// @Summary      Get device details
// @Description  Returns one device with its current state
// @Tags         devices
// @Produce      json
// @Param        id   path      string  true  "Device id"
// @Success      200  {object}  types.DeviceResponse
// @Failure      404  {object}  types.ErrorResponse  "Device not found"
// @Router       /devices/{id} [get]
func (h *DevicesHandler) GetDevice(c *gin.Context) {
	d, err := h.gw.Device(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, types.DeviceResponse{Device: types.NewDeviceView(d)})
}

// UpdateDevice handles PATCH /devices/:id
// @Summary      Enable or disable a device
// @Description  Disabling a device cancels its delayed commands
// @Tags         devices
// @Accept       json
// @Produce      json
// @Param        id       path      string                     true  "Device id"
// @Param        request  body      types.UpdateDeviceRequest  true  "New enabled flag"
// @Success      200      {object}  types.DeviceResponse
// @Failure      400      {object}  types.ErrorResponse  "Invalid request"
// @Failure      404      {object}  types.ErrorResponse  "Device not found"
// @Router       /devices/{id} [patch]
func (h *DevicesHandler) UpdateDevice(c *gin.Context) {
	id := c.Param("id")

	var req types.UpdateDeviceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "enabled is required")
		return
	}

	if err := h.gw.SetEnabled(c.Request.Context(), id, *req.Enabled); err != nil {
		respondError(c, err)
		return
	}
	d, err := h.gw.Device(id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, types.DeviceResponse{Device: types.NewDeviceView(d)})
}

// RemoveDevice handles DELETE /devices/:id
// @Summary      Unload a device
// @Description  Cancels the device's delayed commands and removes it from the gateway
// @Tags         devices
// @Param        id   path  string  true  "Device id"
// @Success      204  "Device removed successfully"
// @Failure      404  {object}  types.ErrorResponse  "Device not found"
// @Router       /devices/{id} [delete]
func (h *DevicesHandler) RemoveDevice(c *gin.Context) {
	if err := h.gw.RemoveDevice(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
