package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"mintbind.io/mintbind/internal/pkg/logger"
)

// RequireAdmin gates admin endpoints on the configured administrator
// identity.
func (s *Server) RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		user, _ := s.requestAgents(c)
		if user.Name != s.mgr.Current().AdminUsername {
			c.String(http.StatusUnauthorized, "error: unauthorized")
			c.Abort()
			return
		}
		c.Next()
	}
}

// GetStatus handles GET /admin/status.
func (s *Server) GetStatus(c *gin.Context) {
	active, waiting := s.coord.Status()
	resp := gin.H{
		"activeOperationsByUser":   active,
		"waitingRequestsByUser":    waiting,
		"lockedIdentifiers":        s.coord.Locks().NumLocked(),
		"activeDataciteOperations": s.dc.NumActiveOperations(),
		"binder":                   s.binderStatus(c),
	}
	if s.queue != nil {
		if stats, err := s.queue.Stats(c.Request.Context()); err == nil {
			resp["registrationQueue"] = gin.H{
				"awaitingSubmission": stats.AwaitingSubmission,
				"submitted":          stats.Submitted,
				"warning":            stats.Warning,
				"failure":            stats.Failure,
			}
		} else {
			resp["registrationQueue"] = gin.H{"error": err.Error()}
		}
	}
	if s.db != nil {
		a, t := s.db.ConnStats()
		resp["dbConnections"] = gin.H{"active": a, "total": t}
	}
	c.JSON(http.StatusOK, resp)
}

// binderStatus pings the metadata store when the backing client
// supports it.
func (s *Server) binderStatus(c *gin.Context) string {
	if p, ok := s.store.(interface {
		Ping(ctx context.Context) string
	}); ok {
		return p.Ping(c.Request.Context())
	}
	return "up"
}

// ReloadConfig handles POST /admin/reload: re-read configuration, swap
// the snapshot, and retire the running registration daemon generation.
// The restart hook starts a fresh daemon under the new generation.
func (s *Server) ReloadConfig(c *gin.Context) {
	cfg, err := s.mgr.Reload()
	if err != nil {
		c.String(http.StatusInternalServerError,
			"error: internal server error")
		logger.Error("configuration reload failed", zap.Error(err))
		return
	}
	if err := logger.SetLevel(cfg.Log.Level); err != nil {
		logger.Warn("invalid log level in reloaded configuration",
			zap.String("level", cfg.Log.Level))
	}
	if s.restartDaemon != nil {
		s.restartDaemon()
	}
	logger.Info("configuration reloaded",
		zap.Int64("generation", s.mgr.Generation()))
	c.JSON(http.StatusOK, gin.H{"generation": s.mgr.Generation()})
}
