package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/yombo/yombo-gateway-sub004/pkg/api/types"
)

// HealthHandler handles health check endpoints
type HealthHandler struct {
	gw Gateway
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(gw Gateway) *HealthHandler {
	return &HealthHandler{gw: gw}
}

// Health handles GET /health
// @Summary      Health check
// @Description  Returns the health status of the gateway and its device driver
// @Tags         health
// @Produce      json
// @Success      200  {object}  types.HealthResponse  "Service is healthy"
// @Failure      503  {object}  types.HealthResponse  "Service is degraded"
// @Router       /health [get]
func (h *HealthHandler) Health(c *gin.Context) {
	driverStatus := "disconnected"
	if h.gw.DriverConnected() {
		driverStatus = "connected"
	}

	status := "healthy"
	httpStatus := http.StatusOK
	if driverStatus != "connected" {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	c.JSON(httpStatus, types.HealthResponse{
		Status:    status,
		Driver:    driverStatus,
		GatewayID: h.gw.GatewayID(),
		Devices:   len(h.gw.Devices()),
		Timestamp: time.Now(),
	})
}
