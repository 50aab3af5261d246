package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

func (s *Server) GetJournalEntry(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	entry, lines, err := s.journalSvc.GetByID(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": entry, "lines": lines})
}

func (s *Server) GetTrialBalance(c *gin.Context) {
	start, err := parseDateParam(c.Query("start"))
	if err != nil {
		AbortWithError(c, newValidationError("start", "invalid_start", "invalid start"))
		return
	}
	end, err := parseDateParam(c.Query("end"))
	if err != nil {
		AbortWithError(c, newValidationError("end", "invalid_end", "invalid end"))
		return
	}

	balances, err := s.journalSvc.TrialBalance(c.Request.Context(), start, end)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": balances, "start": start, "end": end})
}

// parseDateParam accepts either a date or a full RFC 3339 timestamp.
func parseDateParam(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if t, err := time.Parse("2006-01-02", raw); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}
