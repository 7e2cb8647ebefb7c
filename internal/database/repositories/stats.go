// MIT License
//
// # Copyright (c) 2026 halog contributors
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
package repositories

import (
	"context"
	"os"
	"time"

	"halog/internal/database/models"

	"github.com/pterm/pterm"
	"gorm.io/gorm"
)

const (
	// DefaultQueryTimeout is the default timeout for analytics queries (30 seconds)
	DefaultQueryTimeout = 30 * time.Second
	// SQLiteTimeFormat is the format used by SQLite for timestamps
	SQLiteTimeFormat = "2006-01-02 15:04:05.999999999-07:00"
)

// StatsRepository provides dashboard statistics over stored sessions.
// The hours parameter bounds the lookback window (0 means all time); the
// backend parameter narrows the query to one backend ("" means all).
type StatsRepository interface {
	GetSummary(hours int, backend string) (*StatsSummary, error)
	GetTimelineStats(hours int, backend string) ([]*TimelineData, error)
	GetStatusCodeDistribution(hours int, backend string) ([]*StatusCodeStats, error)
	GetMethodDistribution(hours int, backend string) ([]*MethodStats, error)
	GetTopPaths(hours int, limit int, backend string) ([]*PathStats, error)
	GetTopClients(hours int, limit int, backend string) ([]*ClientStats, error)
	GetTopCountries(hours int, limit int, backend string) ([]*CountryStats, error)
	GetBackendDistribution(hours int) ([]*BackendStats, error)
	GetServerDistribution(hours int, backend string) ([]*ServerStats, error)
	GetQueueStats(hours int, backend string) (*QueueStats, error)
	GetSessionTimeStats(hours int, backend string) (*SessionTimeStats, error)
	GetSlowSessions(hours int, limit int, backend string) ([]*models.Session, error)
	GetRetryStats(hours int, backend string) (*RetryStats, error)

	// System statistics
	GetLogProcessingStats() ([]*LogProcessingStats, error)
	CountRecordsOlderThan(cutoffDate time.Time) (int64, error)
	GetRecordTimeRange() (oldest time.Time, newest time.Time, err error)
}

type statsRepo struct {
	db     *gorm.DB
	logger *pterm.Logger
}

// NewStatsRepository creates a new stats repository
func NewStatsRepository(db *gorm.DB, logger *pterm.Logger) StatsRepository {
	return &statsRepo{
		db:     db,
		logger: logger,
	}
}

// withTimeout creates a context with default query timeout
func (r *statsRepo) withTimeout() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), DefaultQueryTimeout)
}

// whereWindow builds the shared WHERE clause for the lookback window and the
// optional backend filter.
func whereWindow(hours int, backend string) (string, []interface{}) {
	whereClause := "1=1"
	args := []interface{}{}

	if hours > 0 {
		since := time.Now().Add(-time.Duration(hours) * time.Hour)
		whereClause += " AND accept_time > ?"
		args = append(args, since)
	}
	if backend != "" {
		whereClause += " AND backend_name = ?"
		args = append(args, backend)
	}

	return whereClause, args
}

// StatsSummary holds overall statistics
type StatsSummary struct {
	TotalSessions   int64   `json:"total_sessions"`
	HTTPSessions    int64   `json:"http_sessions"`
	TCPSessions     int64   `json:"tcp_sessions"`
	OKSessions      int64   `json:"ok_sessions"`
	ErrorSessions   int64   `json:"error_sessions"`
	AbortedSessions int64   `json:"aborted_sessions"`
	UniqueClients   int64   `json:"unique_clients"`
	TotalBytes      int64   `json:"total_bytes"`
	AvgTotalTime    float64 `json:"avg_total_time"`
	SuccessRate     float64 `json:"success_rate"`
	ErrorRate       float64 `json:"error_rate"`
	SessionsPerHour float64 `json:"sessions_per_hour"`
	TopBackend      string  `json:"top_backend"`
	TopPath         string  `json:"top_path"`
}

// TimelineData holds timeline statistics
type TimelineData struct {
	Hour          string  `json:"hour"`
	Sessions      int64   `json:"sessions"`
	UniqueClients int64   `json:"unique_clients"`
	Bytes         int64   `json:"bytes"`
	AvgTotalTime  float64 `json:"avg_total_time"`
}

// StatusCodeStats holds status code distribution. The code is kept as the raw
// token so aborted transfers ("-1") form their own bucket.
type StatusCodeStats struct {
	StatusCode string `json:"status_code"`
	Count      int64  `json:"count"`
}

// MethodStats holds HTTP method distribution
type MethodStats struct {
	Method string `json:"method"`
	Count  int64  `json:"count"`
}

// PathStats holds path statistics
type PathStats struct {
	Path          string  `json:"path"`
	Hits          int64   `json:"hits"`
	UniqueClients int64   `json:"unique_clients"`
	AvgTotalTime  float64 `json:"avg_total_time"`
	TotalBytes    int64   `json:"total_bytes"`
}

// ClientStats holds per-client statistics, keyed by the resolved IP
type ClientStats struct {
	IPAddress string  `json:"ip_address"`
	Country   string  `json:"country"`
	City      string  `json:"city"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Hits      int64   `json:"hits"`
	Bytes     int64   `json:"bytes"`
}

// CountryStats holds country statistics
type CountryStats struct {
	Country       string `json:"country"`
	Hits          int64  `json:"hits"`
	UniqueClients int64  `json:"unique_clients"`
	Bytes         int64  `json:"bytes"`
}

// BackendStats holds per-backend statistics
type BackendStats struct {
	BackendName  string  `json:"backend_name"`
	Hits         int64   `json:"hits"`
	Bytes        int64   `json:"bytes"`
	AvgTotalTime float64 `json:"avg_total_time"`
	ErrorCount   int64   `json:"error_count"`
	RetryCount   int64   `json:"retry_count"`
}

// ServerStats holds per-server statistics within a backend
type ServerStats struct {
	BackendName    string  `json:"backend_name"`
	ServerName     string  `json:"server_name"`
	Hits           int64   `json:"hits"`
	Bytes          int64   `json:"bytes"`
	AvgTotalTime   float64 `json:"avg_total_time"`
	AvgConnectTime float64 `json:"avg_connect_time"`
	ErrorCount     int64   `json:"error_count"`
}

// QueueStats holds queue depth statistics at accept time
type QueueStats struct {
	AvgServerQueue  float64 `json:"avg_server_queue"`
	MaxServerQueue  int64   `json:"max_server_queue"`
	AvgBackendQueue float64 `json:"avg_backend_queue"`
	MaxBackendQueue int64   `json:"max_backend_queue"`
	QueuedSessions  int64   `json:"queued_sessions"`
}

// SessionTimeStats holds total session time statistics in milliseconds
type SessionTimeStats struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
	Avg float64 `json:"avg"`
	P50 float64 `json:"p50"`
	P95 float64 `json:"p95"`
	P99 float64 `json:"p99"`
}

// RetryStats holds connection retry and redispatch statistics
type RetryStats struct {
	TotalSessions        int64   `json:"total_sessions"`
	RetriedSessions      int64   `json:"retried_sessions"`
	RedispatchedSessions int64   `json:"redispatched_sessions"`
	TotalRetries         int64   `json:"total_retries"`
	RetryRate            float64 `json:"retry_rate"`
}

// LogProcessingStats holds log processing statistics
type LogProcessingStats struct {
	LogSourceName   string     `json:"log_source_name"`
	FileSize        int64      `json:"file_size"`
	BytesProcessed  int64      `json:"bytes_processed"`
	Percentage      float64    `json:"percentage"`
	LastProcessedAt *time.Time `json:"last_processed_at"`
}

// GetSummary returns overall statistics in a single aggregated query.
func (r *statsRepo) GetSummary(hours int, backend string) (*StatsSummary, error) {
	summary := &StatsSummary{}

	ctx, cancel := r.withTimeout()
	defer cancel()

	type aggregatedResult struct {
		TotalSessions   int64   `gorm:"column:total_sessions"`
		HTTPSessions    int64   `gorm:"column:http_sessions"`
		TCPSessions     int64   `gorm:"column:tcp_sessions"`
		OKSessions      int64   `gorm:"column:ok_sessions"`
		ErrorSessions   int64   `gorm:"column:error_sessions"`
		AbortedSessions int64   `gorm:"column:aborted_sessions"`
		UniqueClients   int64   `gorm:"column:unique_clients"`
		TotalBytes      int64   `gorm:"column:total_bytes"`
		AvgTotalTime    float64 `gorm:"column:avg_total_time"`
		TopBackend      string  `gorm:"column:top_backend"`
		TopPath         string  `gorm:"column:top_path"`
	}

	var result aggregatedResult

	whereClause, args := whereWindow(hours, backend)

	baseSQL := `WITH base AS (
		SELECT log_type, status_code, CAST(status_code AS INTEGER) AS status_num,
			bytes_read, total_time, resolved_ip, path, backend_name
		FROM sessions
		WHERE ` + whereClause + `
	)
	SELECT
		COUNT(*) as total_sessions,
		COUNT(CASE WHEN log_type = 'http' THEN 1 END) as http_sessions,
		COUNT(CASE WHEN log_type = 'tcp' THEN 1 END) as tcp_sessions,
		COUNT(CASE WHEN status_num >= 200 AND status_num < 400 THEN 1 END) as ok_sessions,
		COUNT(CASE WHEN status_num >= 400 THEN 1 END) as error_sessions,
		COUNT(CASE WHEN log_type = 'http' AND status_num < 0 THEN 1 END) as aborted_sessions,
		COUNT(DISTINCT resolved_ip) as unique_clients,
		COALESCE(SUM(bytes_read), 0) as total_bytes,
		COALESCE(AVG(CASE WHEN total_time >= 0 THEN total_time END), 0) as avg_total_time,
		(SELECT backend_name FROM base GROUP BY backend_name ORDER BY COUNT(*) DESC LIMIT 1) AS top_backend,
		(SELECT path FROM base WHERE path != '' GROUP BY path ORDER BY COUNT(*) DESC LIMIT 1) AS top_path
	 FROM base`
	if err := r.db.WithContext(ctx).Raw(baseSQL, args...).Scan(&result).Error; err != nil {
		r.logger.WithCaller().Error("Failed to get summary stats", r.logger.Args("error", err))
		return nil, err
	}

	summary.TotalSessions = result.TotalSessions
	summary.HTTPSessions = result.HTTPSessions
	summary.TCPSessions = result.TCPSessions
	summary.OKSessions = result.OKSessions
	summary.ErrorSessions = result.ErrorSessions
	summary.AbortedSessions = result.AbortedSessions
	summary.UniqueClients = result.UniqueClients
	summary.TotalBytes = result.TotalBytes
	summary.AvgTotalTime = result.AvgTotalTime
	summary.TopBackend = result.TopBackend
	summary.TopPath = result.TopPath

	if summary.TotalSessions > 0 {
		summary.SuccessRate = float64(summary.OKSessions) / float64(summary.TotalSessions) * 100
		summary.ErrorRate = float64(summary.ErrorSessions) / float64(summary.TotalSessions) * 100
	}

	if hours > 0 {
		summary.SessionsPerHour = float64(summary.TotalSessions) / float64(hours)
	} else if oldest, newest, err := r.GetRecordTimeRange(); err == nil && !oldest.IsZero() && !newest.IsZero() {
		durationHours := newest.Sub(oldest).Hours()
		if durationHours < 1 {
			durationHours = 1
		}
		summary.SessionsPerHour = float64(summary.TotalSessions) / durationHours
	}

	r.logger.Trace("Generated stats summary", r.logger.Args("total_sessions", summary.TotalSessions, "backend", backend))
	return summary, nil
}

// GetTimelineStats returns time-based statistics with adaptive granularity.
// Grouping uses substr() over the stored timestamp string, which is faster
// than strftime() on large tables.
func (r *statsRepo) GetTimelineStats(hours int, backend string) ([]*TimelineData, error) {
	var timeline []*TimelineData

	ctx, cancel := r.withTimeout()
	defer cancel()

	var groupBy string
	switch {
	case hours > 0 && hours <= 24:
		groupBy = "substr(accept_time, 1, 13) || ':00'" // hourly
	case hours > 0 && hours <= 168:
		groupBy = "substr(accept_time, 1, 10) || ' ' || printf('%02d', (CAST(substr(accept_time, 12, 2) AS INTEGER) / 6) * 6) || ':00'" // 6-hour blocks
	default:
		groupBy = "substr(accept_time, 1, 10)" // daily
	}

	whereClause, args := whereWindow(hours, backend)

	query := `SELECT ` + groupBy + ` as hour,
		COUNT(*) as sessions,
		COUNT(DISTINCT resolved_ip) as unique_clients,
		COALESCE(SUM(bytes_read), 0) as bytes,
		COALESCE(AVG(CASE WHEN total_time >= 0 THEN total_time END), 0) as avg_total_time
	 FROM sessions
	 WHERE ` + whereClause + `
	 GROUP BY hour
	 ORDER BY hour`

	if err := r.db.WithContext(ctx).Raw(query, args...).Scan(&timeline).Error; err != nil {
		r.logger.WithCaller().Error("Failed to get timeline stats", r.logger.Args("error", err))
		return nil, err
	}

	r.logger.Trace("Generated timeline stats", r.logger.Args("buckets", len(timeline)))
	return timeline, nil
}

// GetStatusCodeDistribution returns status code distribution for HTTP sessions
func (r *statsRepo) GetStatusCodeDistribution(hours int, backend string) ([]*StatusCodeStats, error) {
	var stats []*StatusCodeStats

	ctx, cancel := r.withTimeout()
	defer cancel()

	whereClause, args := whereWindow(hours, backend)

	query := `SELECT status_code, COUNT(*) as count
	 FROM sessions
	 WHERE ` + whereClause + ` AND log_type = 'http'
	 GROUP BY status_code
	 ORDER BY count DESC`

	if err := r.db.WithContext(ctx).Raw(query, args...).Scan(&stats).Error; err != nil {
		r.logger.WithCaller().Error("Failed to get status code distribution", r.logger.Args("error", err))
		return nil, err
	}

	return stats, nil
}

// GetMethodDistribution returns HTTP method distribution. Unparseable request
// lines surface as their own "invalid" bucket.
func (r *statsRepo) GetMethodDistribution(hours int, backend string) ([]*MethodStats, error) {
	var stats []*MethodStats

	ctx, cancel := r.withTimeout()
	defer cancel()

	whereClause, args := whereWindow(hours, backend)

	query := `SELECT method, COUNT(*) as count
	 FROM sessions
	 WHERE ` + whereClause + ` AND log_type = 'http' AND method != ''
	 GROUP BY method
	 ORDER BY count DESC`

	if err := r.db.WithContext(ctx).Raw(query, args...).Scan(&stats).Error; err != nil {
		r.logger.WithCaller().Error("Failed to get method distribution", r.logger.Args("error", err))
		return nil, err
	}

	return stats, nil
}

// GetTopPaths returns the most requested paths
func (r *statsRepo) GetTopPaths(hours int, limit int, backend string) ([]*PathStats, error) {
	var stats []*PathStats

	ctx, cancel := r.withTimeout()
	defer cancel()

	whereClause, args := whereWindow(hours, backend)
	args = append(args, limit)

	query := `SELECT path,
		COUNT(*) as hits,
		COUNT(DISTINCT resolved_ip) as unique_clients,
		COALESCE(AVG(CASE WHEN total_time >= 0 THEN total_time END), 0) as avg_total_time,
		COALESCE(SUM(bytes_read), 0) as total_bytes
	 FROM sessions
	 WHERE ` + whereClause + ` AND path != '' AND path != 'invalid'
	 GROUP BY path
	 ORDER BY hits DESC
	 LIMIT ?`

	if err := r.db.WithContext(ctx).Raw(query, args...).Scan(&stats).Error; err != nil {
		r.logger.WithCaller().Error("Failed to get top paths", r.logger.Args("error", err))
		return nil, err
	}

	return stats, nil
}

// GetTopClients returns the most active clients by resolved IP
func (r *statsRepo) GetTopClients(hours int, limit int, backend string) ([]*ClientStats, error) {
	var stats []*ClientStats

	ctx, cancel := r.withTimeout()
	defer cancel()

	whereClause, args := whereWindow(hours, backend)
	args = append(args, limit)

	query := `SELECT resolved_ip as ip_address,
		MAX(geo_country) as country,
		MAX(geo_city) as city,
		MAX(geo_lat) as latitude,
		MAX(geo_lon) as longitude,
		COUNT(*) as hits,
		COALESCE(SUM(bytes_read), 0) as bytes
	 FROM sessions
	 WHERE ` + whereClause + `
	 GROUP BY resolved_ip
	 ORDER BY hits DESC
	 LIMIT ?`

	if err := r.db.WithContext(ctx).Raw(query, args...).Scan(&stats).Error; err != nil {
		r.logger.WithCaller().Error("Failed to get top clients", r.logger.Args("error", err))
		return nil, err
	}

	return stats, nil
}

// GetTopCountries returns countries by session count
func (r *statsRepo) GetTopCountries(hours int, limit int, backend string) ([]*CountryStats, error) {
	var stats []*CountryStats

	ctx, cancel := r.withTimeout()
	defer cancel()

	whereClause, args := whereWindow(hours, backend)
	args = append(args, limit)

	query := `SELECT geo_country as country,
		COUNT(*) as hits,
		COUNT(DISTINCT resolved_ip) as unique_clients,
		COALESCE(SUM(bytes_read), 0) as bytes
	 FROM sessions
	 WHERE ` + whereClause + ` AND geo_country != ''
	 GROUP BY geo_country
	 ORDER BY hits DESC
	 LIMIT ?`

	if err := r.db.WithContext(ctx).Raw(query, args...).Scan(&stats).Error; err != nil {
		r.logger.WithCaller().Error("Failed to get top countries", r.logger.Args("error", err))
		return nil, err
	}

	return stats, nil
}

// GetBackendDistribution returns per-backend traffic statistics
func (r *statsRepo) GetBackendDistribution(hours int) ([]*BackendStats, error) {
	var stats []*BackendStats

	ctx, cancel := r.withTimeout()
	defer cancel()

	whereClause, args := whereWindow(hours, "")

	query := `SELECT backend_name,
		COUNT(*) as hits,
		COALESCE(SUM(bytes_read), 0) as bytes,
		COALESCE(AVG(CASE WHEN total_time >= 0 THEN total_time END), 0) as avg_total_time,
		COUNT(CASE WHEN CAST(status_code AS INTEGER) >= 400 THEN 1 END) as error_count,
		COUNT(CASE WHEN retries != '0' THEN 1 END) as retry_count
	 FROM sessions
	 WHERE ` + whereClause + `
	 GROUP BY backend_name
	 ORDER BY hits DESC`

	if err := r.db.WithContext(ctx).Raw(query, args...).Scan(&stats).Error; err != nil {
		r.logger.WithCaller().Error("Failed to get backend distribution", r.logger.Args("error", err))
		return nil, err
	}

	return stats, nil
}

// GetServerDistribution returns per-server traffic within a backend, showing
// how the balancing algorithm spread the load.
func (r *statsRepo) GetServerDistribution(hours int, backend string) ([]*ServerStats, error) {
	var stats []*ServerStats

	ctx, cancel := r.withTimeout()
	defer cancel()

	whereClause, args := whereWindow(hours, backend)

	query := `SELECT backend_name, server_name,
		COUNT(*) as hits,
		COALESCE(SUM(bytes_read), 0) as bytes,
		COALESCE(AVG(CASE WHEN total_time >= 0 THEN total_time END), 0) as avg_total_time,
		COALESCE(AVG(CASE WHEN time_connect_server >= 0 THEN time_connect_server END), 0) as avg_connect_time,
		COUNT(CASE WHEN CAST(status_code AS INTEGER) >= 400 THEN 1 END) as error_count
	 FROM sessions
	 WHERE ` + whereClause + `
	 GROUP BY backend_name, server_name
	 ORDER BY hits DESC`

	if err := r.db.WithContext(ctx).Raw(query, args...).Scan(&stats).Error; err != nil {
		r.logger.WithCaller().Error("Failed to get server distribution", r.logger.Args("error", err))
		return nil, err
	}

	return stats, nil
}

// GetQueueStats returns queue depth statistics at accept time
func (r *statsRepo) GetQueueStats(hours int, backend string) (*QueueStats, error) {
	stats := &QueueStats{}

	ctx, cancel := r.withTimeout()
	defer cancel()

	whereClause, args := whereWindow(hours, backend)

	query := `SELECT
		COALESCE(AVG(queue_server), 0) as avg_server_queue,
		COALESCE(MAX(queue_server), 0) as max_server_queue,
		COALESCE(AVG(queue_backend), 0) as avg_backend_queue,
		COALESCE(MAX(queue_backend), 0) as max_backend_queue,
		COUNT(CASE WHEN queue_server > 0 OR queue_backend > 0 THEN 1 END) as queued_sessions
	 FROM sessions
	 WHERE ` + whereClause

	if err := r.db.WithContext(ctx).Raw(query, args...).Scan(stats).Error; err != nil {
		r.logger.WithCaller().Error("Failed to get queue stats", r.logger.Args("error", err))
		return nil, err
	}

	return stats, nil
}

// GetSessionTimeStats returns total session time statistics.
// Uses SQLite window functions (NTILE) for efficient percentile calculation.
func (r *statsRepo) GetSessionTimeStats(hours int, backend string) (*SessionTimeStats, error) {
	stats := &SessionTimeStats{}

	ctx, cancel := r.withTimeout()
	defer cancel()

	whereClause, args := whereWindow(hours, backend)

	query := `
		WITH stats_data AS (
			SELECT
				total_time,
				NTILE(100) OVER (ORDER BY total_time) as percentile_bucket
			FROM sessions
			WHERE ` + whereClause + ` AND total_time >= 0
		)
		SELECT
			COALESCE(MIN(total_time), 0) as min,
			COALESCE(MAX(total_time), 0) as max,
			COALESCE(AVG(total_time), 0) as avg,
			COALESCE(MAX(CASE WHEN percentile_bucket <= 50 THEN total_time END), 0) as p50,
			COALESCE(MAX(CASE WHEN percentile_bucket <= 95 THEN total_time END), 0) as p95,
			COALESCE(MAX(CASE WHEN percentile_bucket <= 99 THEN total_time END), 0) as p99
		FROM stats_data
	`

	if err := r.db.WithContext(ctx).Raw(query, args...).Scan(stats).Error; err != nil {
		r.logger.WithCaller().Error("Failed to get session time stats", r.logger.Args("error", err))
		return nil, err
	}

	r.logger.Trace("Generated session time stats",
		r.logger.Args("min", stats.Min, "max", stats.Max, "p95", stats.P95, "backend", backend))

	return stats, nil
}

// GetSlowSessions returns the slowest completed sessions
func (r *statsRepo) GetSlowSessions(hours int, limit int, backend string) ([]*models.Session, error) {
	var sessions []*models.Session

	ctx, cancel := r.withTimeout()
	defer cancel()

	query := r.db.WithContext(ctx).Where("total_time >= 0")
	if hours > 0 {
		query = query.Where("accept_time > ?", time.Now().Add(-time.Duration(hours)*time.Hour))
	}
	if backend != "" {
		query = query.Where("backend_name = ?", backend)
	}

	if err := query.Order("total_time DESC").Limit(limit).Find(&sessions).Error; err != nil {
		r.logger.WithCaller().Error("Failed to get slow sessions", r.logger.Args("error", err))
		return nil, err
	}

	return sessions, nil
}

// GetRetryStats returns connection retry statistics. A "+" prefix on the
// retry count marks a redispatch to another server.
func (r *statsRepo) GetRetryStats(hours int, backend string) (*RetryStats, error) {
	stats := &RetryStats{}

	ctx, cancel := r.withTimeout()
	defer cancel()

	whereClause, args := whereWindow(hours, backend)

	query := `SELECT
		COUNT(*) as total_sessions,
		COUNT(CASE WHEN retries != '0' THEN 1 END) as retried_sessions,
		COUNT(CASE WHEN retries LIKE '+%' THEN 1 END) as redispatched_sessions,
		COALESCE(SUM(ABS(CAST(retries AS INTEGER))), 0) as total_retries
	 FROM sessions
	 WHERE ` + whereClause

	if err := r.db.WithContext(ctx).Raw(query, args...).Scan(stats).Error; err != nil {
		r.logger.WithCaller().Error("Failed to get retry stats", r.logger.Args("error", err))
		return nil, err
	}

	if stats.TotalSessions > 0 {
		stats.RetryRate = float64(stats.RetriedSessions) / float64(stats.TotalSessions) * 100
	}

	return stats, nil
}

// GetLogProcessingStats reports how far ingestion has progressed through each
// configured source file.
func (r *statsRepo) GetLogProcessingStats() ([]*LogProcessingStats, error) {
	var sources []models.LogSource

	err := r.db.Find(&sources).Error
	if err != nil {
		r.logger.WithCaller().Error("Failed to get log sources", r.logger.Args("error", err))
		return nil, err
	}

	var stats []*LogProcessingStats

	for _, source := range sources {
		fileInfo, err := os.Stat(source.Path)
		fileSize := int64(0)
		if err == nil {
			fileSize = fileInfo.Size()
		}

		percentage := 0.0
		if fileSize > 0 {
			percentage = float64(source.LastPosition) / float64(fileSize) * 100.0
		}

		stats = append(stats, &LogProcessingStats{
			LogSourceName:   source.Name,
			FileSize:        fileSize,
			BytesProcessed:  source.LastPosition,
			Percentage:      percentage,
			LastProcessedAt: source.LastReadAt,
		})
	}

	return stats, nil
}

// CountRecordsOlderThan counts sessions accepted before the cutoff
func (r *statsRepo) CountRecordsOlderThan(cutoffDate time.Time) (int64, error) {
	var count int64

	ctx, cancel := r.withTimeout()
	defer cancel()

	err := r.db.WithContext(ctx).Model(&models.Session{}).
		Where("accept_time < ?", cutoffDate).
		Count(&count).Error

	if err != nil {
		r.logger.WithCaller().Error("Failed to count records older than cutoff", r.logger.Args("error", err, "cutoff", cutoffDate))
		return 0, err
	}

	r.logger.Trace("Counted records older than cutoff", r.logger.Args("count", count, "cutoff", cutoffDate))
	return count, nil
}

// GetRecordTimeRange returns the accept time of the oldest and newest session
func (r *statsRepo) GetRecordTimeRange() (oldest time.Time, newest time.Time, err error) {
	ctx, cancel := r.withTimeout()
	defer cancel()

	var result struct {
		Oldest string
		Newest string
	}

	err = r.db.WithContext(ctx).Model(&models.Session{}).
		Select("MIN(accept_time) as oldest, MAX(accept_time) as newest").
		Scan(&result).Error

	if err != nil {
		r.logger.WithCaller().Error("Failed to get record time range", r.logger.Args("error", err))
		return time.Time{}, time.Time{}, err
	}

	oldest = parseSQLiteTime(result.Oldest)
	newest = parseSQLiteTime(result.Newest)

	r.logger.Trace("Got record time range", r.logger.Args("oldest", oldest, "newest", newest))
	return oldest, newest, nil
}

// parseSQLiteTime parses the timestamp strings SQLite hands back, which vary
// with how the value was written.
func parseSQLiteTime(value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t
	}
	if t, err := time.Parse(SQLiteTimeFormat, value); err == nil {
		return t
	}
	if t, err := time.Parse(time.DateTime, value); err == nil {
		return t
	}
	return time.Time{}
}
