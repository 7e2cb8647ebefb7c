package database

import (
	"context"
	"fmt"
	"time"

	"github.com/pterm/pterm"
	"gorm.io/gorm"
)

// cleanupHour is the local hour at which the daily retention pass runs.
const cleanupHour = 2

// CleanupService deletes sessions older than the retention window once a day
// and reclaims the freed space.
type CleanupService struct {
	db            *gorm.DB
	logger        *pterm.Logger
	retentionDays int
	vacuumEnabled bool
	stopChan      chan struct{}
	running       bool

	lastRunTime     time.Time
	recordsDeleted  int64
	cleanupDuration time.Duration
}

// CleanupStats holds statistics about cleanup operations
type CleanupStats struct {
	LastRunTime      time.Time
	RecordsDeleted   int64
	CleanupDuration  time.Duration
	NextScheduledRun time.Time
}

func NewCleanupService(db *gorm.DB, logger *pterm.Logger, retentionDays int, vacuumEnabled bool) *CleanupService {
	return &CleanupService{
		db:            db,
		logger:        logger,
		retentionDays: retentionDays,
		vacuumEnabled: vacuumEnabled,
		stopChan:      make(chan struct{}),
	}
}

// Start begins the daily cleanup loop. With retention disabled it does
// nothing.
func (s *CleanupService) Start() {
	if s.retentionDays <= 0 {
		s.logger.Info("Session retention disabled (database.retention_days=0), cleanup service not started")
		return
	}

	s.running = true
	s.logger.Info("Starting database cleanup service",
		s.logger.Args(
			"retention_days", s.retentionDays,
			"vacuum_enabled", s.vacuumEnabled,
		))

	go s.loop()
}

func (s *CleanupService) Stop() {
	if !s.running {
		return
	}

	s.logger.Info("Stopping database cleanup service")
	close(s.stopChan)
	s.running = false
}

func (s *CleanupService) loop() {
	for {
		wait := time.Until(s.nextRun(time.Now()))
		s.logger.Debug("Next cleanup scheduled",
			s.logger.Args("wait_duration", wait.Round(time.Minute)))

		select {
		case <-s.stopChan:
			return
		case <-time.After(wait):
			s.runCleanup()
		}
	}
}

// nextRun returns the next occurrence of the cleanup hour after now.
func (s *CleanupService) nextRun(now time.Time) time.Time {
	target := time.Date(now.Year(), now.Month(), now.Day(), cleanupHour, 0, 0, 0, now.Location())
	if !target.After(now) {
		target = target.Add(24 * time.Hour)
	}
	return target
}

func (s *CleanupService) runCleanup() {
	s.logger.Info("Starting scheduled database cleanup",
		s.logger.Args("retention_days", s.retentionDays))

	startTime := time.Now()
	cutoffDate := time.Now().AddDate(0, 0, -s.retentionDays)

	totalDeleted, err := s.deleteOldSessions(cutoffDate)
	if err != nil {
		s.logger.WithCaller().Error("Failed to delete old sessions",
			s.logger.Args("error", err, "cutoff_date", cutoffDate.Format("2006-01-02")))
		return
	}

	s.lastRunTime = startTime
	s.recordsDeleted = totalDeleted
	s.cleanupDuration = time.Since(startTime)

	s.logger.Info("Cleanup completed",
		s.logger.Args(
			"records_deleted", totalDeleted,
			"duration", s.cleanupDuration.Round(time.Second),
			"cutoff_date", cutoffDate.Format("2006-01-02"),
		))

	if s.vacuumEnabled && totalDeleted > 0 {
		s.runVacuum()
	}
}

// deleteOldSessions deletes sessions accepted before the cutoff in batches,
// so ingestion never waits on one long delete.
func (s *CleanupService) deleteOldSessions(cutoffDate time.Time) (int64, error) {
	const batchSize = 1000
	totalDeleted := int64(0)

	for {
		result := s.db.Exec(`
			DELETE FROM sessions
			WHERE id IN (
				SELECT id FROM sessions
				WHERE accept_time < ?
				LIMIT ?
			)
		`, cutoffDate, batchSize)

		if result.Error != nil {
			return totalDeleted, result.Error
		}

		deleted := result.RowsAffected
		totalDeleted += deleted

		if deleted == 0 {
			break
		}

		s.logger.Trace("Deleted batch",
			s.logger.Args("batch_deleted", deleted, "total_deleted", totalDeleted))

		time.Sleep(100 * time.Millisecond)
	}

	return totalDeleted, nil
}

func (s *CleanupService) runVacuum() {
	s.logger.Info("Running VACUUM to reclaim disk space (database will be briefly unavailable)")

	startTime := time.Now()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	if err := s.db.WithContext(ctx).Exec("VACUUM").Error; err != nil {
		s.logger.WithCaller().Error("Failed to run VACUUM",
			s.logger.Args("error", err))
		return
	}

	s.logger.Info("VACUUM completed",
		s.logger.Args("duration", time.Since(startTime).Round(time.Second)))
}

// GetStats returns cleanup statistics
func (s *CleanupService) GetStats() *CleanupStats {
	return &CleanupStats{
		LastRunTime:      s.lastRunTime,
		RecordsDeleted:   s.recordsDeleted,
		CleanupDuration:  s.cleanupDuration,
		NextScheduledRun: s.nextRun(time.Now()),
	}
}

// ManualCleanup triggers cleanup immediately (useful for testing/admin)
func (s *CleanupService) ManualCleanup() error {
	if s.retentionDays <= 0 {
		return fmt.Errorf("retention disabled (database.retention_days=0)")
	}

	s.logger.Info("Manual cleanup triggered")
	go s.runCleanup()
	return nil
}
