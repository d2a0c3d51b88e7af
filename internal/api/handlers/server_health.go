package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// GetLiveness handles GET /health/live.
func (s *Server) GetLiveness(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// GetReadiness handles GET /health/ready: the service is ready when
// the metadata store answers and, if configured, the database pings.
func (s *Server) GetReadiness(c *gin.Context) {
	checks := make(map[string]string)
	healthy := true

	if st := s.binderStatus(c); st == "up" {
		checks["binder"] = "ok"
	} else {
		checks["binder"] = "error"
		healthy = false
	}
	if s.db != nil {
		if err := s.db.Pool.Ping(c.Request.Context()); err != nil {
			checks["database"] = "error"
			healthy = false
		} else {
			checks["database"] = "ok"
		}
	}

	status, httpStatus := "ok", http.StatusOK
	if !healthy {
		status, httpStatus = "degraded", http.StatusServiceUnavailable
	}
	c.JSON(httpStatus, gin.H{"status": status, "checks": checks})
}
