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
package repositories

import (
	"halog/internal/database/models"
	"time"

	"github.com/pterm/pterm"
	"gorm.io/gorm"
)

// SessionFilter narrows FindAll to a slice of the traffic.
type SessionFilter struct {
	SourceName   string
	LogType      string // "http" or "tcp", empty for both
	FrontendName string
	BackendName  string
	ServerName   string
	ClientIP     string
	Start        time.Time // zero means unbounded
	End          time.Time // zero means unbounded
}

// SessionRepository handles CRUD operations for load-balancer sessions
type SessionRepository interface {
	Create(session *models.Session) error
	CreateBatch(sessions []*models.Session) error
	FindByID(id uint) (*models.Session, error)
	FindAll(limit int, offset int, filter SessionFilter) ([]*models.Session, error)
	FindBySourceName(sourceName string, limit int) ([]*models.Session, error)
	FindByTimeRange(start, end time.Time, limit int) ([]*models.Session, error)
	Count() (int64, error)
	CountBySourceName(sourceName string) (int64, error)
}

type sessionRepo struct {
	db     *gorm.DB
	logger *pterm.Logger
}

// NewSessionRepository creates a new session repository
func NewSessionRepository(db *gorm.DB, logger *pterm.Logger) SessionRepository {
	return &sessionRepo{db: db, logger: logger}
}

// Create inserts a single session
func (r *sessionRepo) Create(session *models.Session) error {
	if err := r.db.Create(session).Error; err != nil {
		r.logger.WithCaller().Error("Failed to create session", r.logger.Args("error", err))
		return err
	}
	r.logger.Trace("Created session", r.logger.Args("id", session.ID, "source", session.SourceName))
	return nil
}

// CreateBatch inserts multiple sessions, splitting the batch so one insert
// never exceeds the SQLite variable limit (32766 by default). Session has
// ~35 columns, so 500 records stay comfortably below it.
func (r *sessionRepo) CreateBatch(sessions []*models.Session) error {
	if len(sessions) == 0 {
		r.logger.Debug("Empty batch, skipping insert")
		return nil
	}

	const maxRecordsPerBatch = 500

	for i := 0; i < len(sessions); i += maxRecordsPerBatch {
		end := i + maxRecordsPerBatch
		if end > len(sessions) {
			end = len(sessions)
		}

		subBatch := sessions[i:end]
		if err := r.insertSubBatch(subBatch); err != nil {
			r.logger.WithCaller().Error("Failed to insert sub-batch",
				r.logger.Args("batch_num", (i/maxRecordsPerBatch)+1, "count", len(subBatch), "error", err))
			return err
		}
	}

	r.logger.Debug("Inserted session batch",
		r.logger.Args("count", len(sessions), "source", sessions[0].SourceName))

	return nil
}

func (r *sessionRepo) insertSubBatch(sessions []*models.Session) error {
	tx := r.db.Begin()
	if tx.Error != nil {
		r.logger.WithCaller().Error("Failed to begin transaction", r.logger.Args("error", tx.Error))
		return tx.Error
	}

	if err := tx.Create(&sessions).Error; err != nil {
		tx.Rollback()
		r.logger.WithCaller().Error("Failed to insert batch",
			r.logger.Args("count", len(sessions), "error", err))
		return err
	}

	if err := tx.Commit().Error; err != nil {
		r.logger.WithCaller().Error("Failed to commit transaction", r.logger.Args("error", err))
		return err
	}

	return nil
}

// FindByID retrieves a session by ID
func (r *sessionRepo) FindByID(id uint) (*models.Session, error) {
	var session models.Session
	if err := r.db.First(&session, id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			r.logger.Trace("Session not found", r.logger.Args("id", id))
			return nil, err
		}
		r.logger.WithCaller().Error("Failed to find session", r.logger.Args("id", id, "error", err))
		return nil, err
	}
	return &session, nil
}

// FindAll retrieves sessions newest first, with pagination and filtering
func (r *sessionRepo) FindAll(limit int, offset int, filter SessionFilter) ([]*models.Session, error) {
	var sessions []*models.Session
	query := applySessionFilter(r.db.Order("accept_time DESC"), filter)

	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Offset(offset)
	}

	if err := query.Find(&sessions).Error; err != nil {
		r.logger.WithCaller().Error("Failed to find sessions", r.logger.Args("error", err))
		return nil, err
	}

	r.logger.Trace("Found sessions", r.logger.Args("count", len(sessions), "limit", limit, "offset", offset))
	return sessions, nil
}

func applySessionFilter(query *gorm.DB, filter SessionFilter) *gorm.DB {
	if filter.SourceName != "" {
		query = query.Where("source_name = ?", filter.SourceName)
	}
	if filter.LogType != "" {
		query = query.Where("log_type = ?", filter.LogType)
	}
	if filter.FrontendName != "" {
		query = query.Where("frontend_name = ?", filter.FrontendName)
	}
	if filter.BackendName != "" {
		query = query.Where("backend_name = ?", filter.BackendName)
	}
	if filter.ServerName != "" {
		query = query.Where("server_name = ?", filter.ServerName)
	}
	if filter.ClientIP != "" {
		query = query.Where("client_ip = ? OR resolved_ip = ?", filter.ClientIP, filter.ClientIP)
	}
	if !filter.Start.IsZero() {
		query = query.Where("accept_time >= ?", filter.Start)
	}
	if !filter.End.IsZero() {
		query = query.Where("accept_time <= ?", filter.End)
	}
	return query
}

// FindBySourceName retrieves sessions for a specific log source
func (r *sessionRepo) FindBySourceName(sourceName string, limit int) ([]*models.Session, error) {
	var sessions []*models.Session
	query := r.db.Where("source_name = ?", sourceName).Order("accept_time DESC")

	if limit > 0 {
		query = query.Limit(limit)
	}

	if err := query.Find(&sessions).Error; err != nil {
		r.logger.WithCaller().Error("Failed to find sessions by source",
			r.logger.Args("source", sourceName, "error", err))
		return nil, err
	}

	r.logger.Trace("Found sessions by source",
		r.logger.Args("count", len(sessions), "source", sourceName))
	return sessions, nil
}

// FindByTimeRange retrieves sessions within a time range
func (r *sessionRepo) FindByTimeRange(start, end time.Time, limit int) ([]*models.Session, error) {
	var sessions []*models.Session
	query := r.db.Where("accept_time BETWEEN ? AND ?", start, end).Order("accept_time DESC")

	if limit > 0 {
		query = query.Limit(limit)
	}

	if err := query.Find(&sessions).Error; err != nil {
		r.logger.WithCaller().Error("Failed to find sessions by time range",
			r.logger.Args("start", start, "end", end, "error", err))
		return nil, err
	}

	r.logger.Trace("Found sessions by time range",
		r.logger.Args("count", len(sessions), "start", start, "end", end))
	return sessions, nil
}

// Count returns the total number of sessions
func (r *sessionRepo) Count() (int64, error) {
	var count int64
	if err := r.db.Model(&models.Session{}).Count(&count).Error; err != nil {
		r.logger.WithCaller().Error("Failed to count sessions", r.logger.Args("error", err))
		return 0, err
	}
	return count, nil
}

// CountBySourceName returns the number of sessions for a specific source
func (r *sessionRepo) CountBySourceName(sourceName string) (int64, error) {
	var count int64
	if err := r.db.Model(&models.Session{}).
		Where("source_name = ?", sourceName).
		Count(&count).Error; err != nil {
		r.logger.WithCaller().Error("Failed to count sessions by source",
			r.logger.Args("source", sourceName, "error", err))
		return 0, err
	}
	return count, nil
}
