package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/energizer-project/rconctl/internal/console"
	"github.com/energizer-project/rconctl/internal/protocol"
	"github.com/energizer-project/rconctl/internal/rcon"
	"github.com/energizer-project/rconctl/internal/util"
)

const maxHistoryLimit = 500

type execRequest struct {
	Command string `json:"command" binding:"required"`
}

type execResponse struct {
	ID         int32  `json:"id"`
	Response   string `json:"response"`
	DurationMS int64  `json:"duration_ms"`
}

func (s *Server) handlePing(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "rconctl",
	})
}

func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"console":        s.exec.Status(),
		"history":        s.history != nil,
		"uptime_seconds": int64(time.Since(s.started).Seconds()),
		"system":         util.GetSystemInfo(),
	})
}

func (s *Server) handleExec(c *gin.Context) {
	var req execRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "request body must be {\"command\": \"...\"}"})
		return
	}

	command := strings.TrimSpace(req.Command)
	if command == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "command is empty"})
		return
	}
	if len(command) > protocol.MaxPayloadSize {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{
			"error": "command exceeds " + strconv.Itoa(protocol.MaxPayloadSize) + " bytes",
		})
		return
	}

	res, err := s.exec.Exec(c.Request.Context(), "api", command)
	if err != nil {
		c.JSON(execStatus(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, execResponse{
		ID:         res.ID,
		Response:   res.Response,
		DurationMS: res.Duration.Milliseconds(),
	})
}

// execStatus maps a console error to an HTTP status.
func execStatus(err error) int {
	switch {
	case errors.Is(err, console.ErrClosed), errors.Is(err, rcon.ErrBroken):
		return http.StatusServiceUnavailable
	case errors.Is(err, rcon.ErrNotAuthenticated):
		return http.StatusConflict
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

func (s *Server) handleHistory(c *gin.Context) {
	if s.history == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "history is disabled"})
		return
	}

	limit := 20
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = min(n, maxHistoryLimit)
	}

	entries, err := s.history.Recent(c.Request.Context(), limit)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to read history")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read history"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"entries": entries,
		"count":   len(entries),
	})
}
