package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

type HealthResponse struct {
	Message string `json:"message"`
	Uptime  string `json:"uptime"`
}

// NewHealthCheck returns a liveness handler reporting time since started.
//
// HealthCheck godoc
// @Summary Health check endpoint
// @Description Liveness check, reports the service uptime
// @Tags health
// @Produce json
// @Success 200 {object} HealthResponse
// @Router /api/v1/health [get]
func NewHealthCheck(started time.Time) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, HealthResponse{
			Message: "ok",
			Uptime:  time.Since(started).Truncate(time.Second).String(),
		})
	}
}
