package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

// RunJob triggers one scheduler job on demand, the operator path for
// working off a backlog without waiting for the next tick.
func (s *Server) RunJob(c *gin.Context) {
	if s.sched == nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	name := strings.TrimSpace(c.Param("name"))
	now := time.Now().UTC()

	switch name {
	case "expiry_scan":
		result, err := s.subscriptionSvc.ProcessExpiryScan(c.Request.Context(), now)
		if err != nil {
			AbortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"job": name, "result": result})
	case "grace_scan":
		result, err := s.subscriptionSvc.ProcessGraceScan(c.Request.Context(), now)
		if err != nil {
			AbortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"job": name, "result": result})
	case "reminder_sweep":
		if err := s.sched.ReminderSweepJob(c.Request.Context()); err != nil {
			AbortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"job": name, "status": "ok"})
	default:
		AbortWithError(c, newValidationError("name", "unknown_job", "unknown job"))
	}
}
