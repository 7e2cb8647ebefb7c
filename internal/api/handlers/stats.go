// MIT License
//
// Copyright (c) 2026 halog contributors
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.
//
package handlers

import (
	"net/http"
	"strconv"

	"halog/internal/database/repositories"

	"github.com/gin-gonic/gin"
	"github.com/pterm/pterm"
)

// StatsHandler serves aggregated traffic statistics
type StatsHandler struct {
	statsRepo repositories.StatsRepository
	logger    *pterm.Logger
}

// NewStatsHandler creates a new stats handler
func NewStatsHandler(statsRepo repositories.StatsRepository, logger *pterm.Logger) *StatsHandler {
	return &StatsHandler{
		statsRepo: statsRepo,
		logger:    logger,
	}
}

// queryHours reads the hours window from the query string, default 24,
// capped at 30 days.
func queryHours(c *gin.Context) int {
	hours := 24
	if param := c.Query("hours"); param != "" {
		if val, err := strconv.Atoi(param); err == nil && val > 0 && val <= 720 {
			hours = val
		}
	}
	return hours
}

// queryLimit reads the result limit from the query string.
func queryLimit(c *gin.Context, def, max int) int {
	limit := def
	if param := c.Query("limit"); param != "" {
		if val, err := strconv.Atoi(param); err == nil && val > 0 && val <= max {
			limit = val
		}
	}
	return limit
}

// GetSummary returns headline traffic numbers for the window
func (h *StatsHandler) GetSummary(c *gin.Context) {
	summary, err := h.statsRepo.GetSummary(queryHours(c), c.Query("backend"))
	if err != nil {
		h.logger.WithCaller().Error("Failed to get stats summary", h.logger.Args("error", err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get stats summary"})
		return
	}
	c.JSON(http.StatusOK, summary)
}

// GetTimeline returns session counts bucketed over time
func (h *StatsHandler) GetTimeline(c *gin.Context) {
	timeline, err := h.statsRepo.GetTimelineStats(queryHours(c), c.Query("backend"))
	if err != nil {
		h.logger.WithCaller().Error("Failed to get timeline stats", h.logger.Args("error", err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get timeline stats"})
		return
	}
	c.JSON(http.StatusOK, timeline)
}

// GetStatusCodes returns the status code distribution
func (h *StatsHandler) GetStatusCodes(c *gin.Context) {
	dist, err := h.statsRepo.GetStatusCodeDistribution(queryHours(c), c.Query("backend"))
	if err != nil {
		h.logger.WithCaller().Error("Failed to get status code distribution", h.logger.Args("error", err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get status code distribution"})
		return
	}
	c.JSON(http.StatusOK, dist)
}

// GetMethods returns the HTTP method distribution
func (h *StatsHandler) GetMethods(c *gin.Context) {
	dist, err := h.statsRepo.GetMethodDistribution(queryHours(c), c.Query("backend"))
	if err != nil {
		h.logger.WithCaller().Error("Failed to get method distribution", h.logger.Args("error", err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get method distribution"})
		return
	}
	c.JSON(http.StatusOK, dist)
}

// GetTopPaths returns the most requested paths
func (h *StatsHandler) GetTopPaths(c *gin.Context) {
	paths, err := h.statsRepo.GetTopPaths(queryHours(c), queryLimit(c, 10, 100), c.Query("backend"))
	if err != nil {
		h.logger.WithCaller().Error("Failed to get top paths", h.logger.Args("error", err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get top paths"})
		return
	}
	c.JSON(http.StatusOK, paths)
}

// GetTopClients returns the most active client addresses
func (h *StatsHandler) GetTopClients(c *gin.Context) {
	clients, err := h.statsRepo.GetTopClients(queryHours(c), queryLimit(c, 10, 100), c.Query("backend"))
	if err != nil {
		h.logger.WithCaller().Error("Failed to get top clients", h.logger.Args("error", err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get top clients"})
		return
	}
	c.JSON(http.StatusOK, clients)
}

// GetTopCountries returns traffic grouped by GeoIP country
func (h *StatsHandler) GetTopCountries(c *gin.Context) {
	countries, err := h.statsRepo.GetTopCountries(queryHours(c), queryLimit(c, 10, 100), c.Query("backend"))
	if err != nil {
		h.logger.WithCaller().Error("Failed to get top countries", h.logger.Args("error", err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get top countries"})
		return
	}
	c.JSON(http.StatusOK, countries)
}

// GetBackends returns per-backend traffic distribution
func (h *StatsHandler) GetBackends(c *gin.Context) {
	backends, err := h.statsRepo.GetBackendDistribution(queryHours(c))
	if err != nil {
		h.logger.WithCaller().Error("Failed to get backend distribution", h.logger.Args("error", err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get backend distribution"})
		return
	}
	c.JSON(http.StatusOK, backends)
}

// GetServers returns per-server traffic distribution
func (h *StatsHandler) GetServers(c *gin.Context) {
	servers, err := h.statsRepo.GetServerDistribution(queryHours(c), c.Query("backend"))
	if err != nil {
		h.logger.WithCaller().Error("Failed to get server distribution", h.logger.Args("error", err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get server distribution"})
		return
	}
	c.JSON(http.StatusOK, servers)
}

// GetQueues returns queue depth statistics
func (h *StatsHandler) GetQueues(c *gin.Context) {
	queues, err := h.statsRepo.GetQueueStats(queryHours(c), c.Query("backend"))
	if err != nil {
		h.logger.WithCaller().Error("Failed to get queue stats", h.logger.Args("error", err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get queue stats"})
		return
	}
	c.JSON(http.StatusOK, queues)
}

// GetSessionTimes returns total time percentiles
func (h *StatsHandler) GetSessionTimes(c *gin.Context) {
	times, err := h.statsRepo.GetSessionTimeStats(queryHours(c), c.Query("backend"))
	if err != nil {
		h.logger.WithCaller().Error("Failed to get session time stats", h.logger.Args("error", err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get session time stats"})
		return
	}
	c.JSON(http.StatusOK, times)
}

// GetSlowSessions returns the slowest sessions in the window
func (h *StatsHandler) GetSlowSessions(c *gin.Context) {
	sessions, err := h.statsRepo.GetSlowSessions(queryHours(c), queryLimit(c, 20, 200), c.Query("backend"))
	if err != nil {
		h.logger.WithCaller().Error("Failed to get slow sessions", h.logger.Args("error", err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get slow sessions"})
		return
	}
	c.JSON(http.StatusOK, sessions)
}

// GetRetries returns retry and redispatch statistics
func (h *StatsHandler) GetRetries(c *gin.Context) {
	retries, err := h.statsRepo.GetRetryStats(queryHours(c), c.Query("backend"))
	if err != nil {
		h.logger.WithCaller().Error("Failed to get retry stats", h.logger.Args("error", err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get retry stats"})
		return
	}
	c.JSON(http.StatusOK, retries)
}

// GetHealth returns a compact health snapshot suitable for dashboard widgets
func (h *StatsHandler) GetHealth(c *gin.Context) {
	summary, err := h.statsRepo.GetSummary(1, c.Query("backend"))
	if err != nil {
		h.logger.Debug("Health snapshot fetch error", h.logger.Args("error", err))
		c.JSON(http.StatusOK, gin.H{
			"status":              "error",
			"sessions_per_minute": 0,
			"error_rate":          0,
			"avg_total_time_ms":   0,
			"unique_clients":      0,
		})
		return
	}

	status := "healthy"
	if summary.ErrorRate > 5 {
		status = "danger"
	} else if summary.ErrorRate > 1 {
		status = "warning"
	}

	perMin := 0.0
	if summary.TotalSessions > 0 {
		perMin = float64(summary.TotalSessions) / 60.0
	}

	c.JSON(http.StatusOK, gin.H{
		"status":              status,
		"sessions_per_minute": perMin,
		"error_rate":          summary.ErrorRate,
		"avg_total_time_ms":   summary.AvgTotalTime,
		"unique_clients":      summary.UniqueClients,
	})
}
