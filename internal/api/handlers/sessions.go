package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"halog/internal/database/repositories"

	"github.com/araddon/dateparse"
	"github.com/gin-gonic/gin"
	"github.com/pterm/pterm"
	"gorm.io/gorm"
)

// SessionsHandler serves individual parsed sessions
type SessionsHandler struct {
	sessionRepo repositories.SessionRepository
	logger      *pterm.Logger
}

// NewSessionsHandler creates a new sessions handler
func NewSessionsHandler(sessionRepo repositories.SessionRepository, logger *pterm.Logger) *SessionsHandler {
	return &SessionsHandler{
		sessionRepo: sessionRepo,
		logger:      logger,
	}
}

// List returns sessions newest first, narrowed by the query filters. The
// start and end parameters accept most common timestamp formats.
func (h *SessionsHandler) List(c *gin.Context) {
	limit := queryLimit(c, 100, 1000)

	offset := 0
	if param := c.Query("offset"); param != "" {
		if val, err := strconv.Atoi(param); err == nil && val >= 0 {
			offset = val
		}
	}

	filter := repositories.SessionFilter{
		SourceName:   c.Query("source"),
		LogType:      c.Query("type"),
		FrontendName: c.Query("frontend"),
		BackendName:  c.Query("backend"),
		ServerName:   c.Query("server"),
		ClientIP:     c.Query("client_ip"),
	}

	if param := c.Query("start"); param != "" {
		start, err := dateparse.ParseAny(param)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid start time: " + param})
			return
		}
		filter.Start = start
	}

	if param := c.Query("end"); param != "" {
		end, err := dateparse.ParseAny(param)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid end time: " + param})
			return
		}
		filter.End = end
	}

	sessions, err := h.sessionRepo.FindAll(limit, offset, filter)
	if err != nil {
		h.logger.WithCaller().Error("Failed to list sessions", h.logger.Args("error", err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list sessions"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"sessions": sessions,
		"count":    len(sessions),
		"limit":    limit,
		"offset":   offset,
	})
}

// Get returns a single session by ID
func (h *SessionsHandler) Get(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid session ID"})
		return
	}

	session, err := h.sessionRepo.FindByID(uint(id))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Session not found"})
			return
		}
		h.logger.WithCaller().Error("Failed to get session",
			h.logger.Args("id", id, "error", err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get session"})
		return
	}

	c.JSON(http.StatusOK, session)
}
