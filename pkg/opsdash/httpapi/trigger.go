package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/vpbank/opsdash/pkg/opsdash/registry"
	"github.com/vpbank/opsdash/pkg/opsdash/trigger"
)

const invalidEvent = "Invalid event data"

// triggerHandler accepts {"event": "...", "module": "..."} for dashboard.
func (s *Server) triggerHandler(dashboard string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.limiter != nil && !s.limiter.Allow() {
			s.cfg.Metrics.TriggerRejected("rate_limited")
			c.JSON(http.StatusTooManyRequests, gin.H{"status": "error", "message": "Too many trigger requests"})
			return
		}

		var body map[string]any
		if err := c.ShouldBindJSON(&body); err != nil {
			s.cfg.Metrics.TriggerRejected("invalid")
			c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": invalidEvent})
			return
		}
		event, ok := body["event"].(string)
		if !ok || strings.TrimSpace(event) == "" {
			s.cfg.Metrics.TriggerRejected("invalid")
			c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": invalidEvent})
			return
		}
		module := ""
		if v, present := body["module"]; present && v != nil {
			if module, ok = v.(string); !ok {
				s.cfg.Metrics.TriggerRejected("invalid")
				c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": invalidEvent})
				return
			}
		}

		id, err := s.cfg.Dispatcher.Dispatch(dashboard, module, event, trigger.OriginHTTP)
		switch {
		case err == nil:
			c.JSON(http.StatusOK, gin.H{"status": "success", "message": "Event triggered", "module": id})
		case errors.Is(err, registry.ErrUnknownModule):
			c.JSON(http.StatusNotFound, gin.H{"status": "error", "message": "Unknown module"})
		case errors.Is(err, trigger.ErrEmptyEvent):
			c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": invalidEvent})
		case errors.Is(err, trigger.ErrUnroutable):
			c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": "No module accepts the event"})
		default:
			s.logger.Error("httpapi: trigger failed", "dashboard", dashboard, "error", err.Error())
			c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "message": "Trigger failed"})
		}
	}
}
