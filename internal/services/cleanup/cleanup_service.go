package cleanup

import (
	"context"
	"fmt"
	"time"

	"face-attendance-go/config"
	"face-attendance-go/internal/core/models"

	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// CleanupService ist verantwortlich für die automatische Bereinigung alter
// Detektions-Protokolle und terminaler Session-Journale
type CleanupService struct {
	db            *gorm.DB
	config        config.CleanupConfig
	checkInterval time.Duration
}

// NewCleanupService erstellt einen neuen Cleanup-Service
func NewCleanupService(db *gorm.DB, cfg config.CleanupConfig) *CleanupService {
	return &CleanupService{
		db:            db,
		config:        cfg,
		checkInterval: 24 * time.Hour, // Standardmäßig einmal täglich prüfen
	}
}

// Start startet den Bereinigungsdienst im Hintergrund
func (s *CleanupService) Start(ctx context.Context) {
	log.Info("Cleanup service started")

	// Sofort eine erste Bereinigung durchführen
	if err := s.RunCleanup(ctx); err != nil {
		log.Errorf("Initial cleanup failed: %v", err)
	}

	ticker := time.NewTicker(s.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			log.Info("Running scheduled cleanup")
			if err := s.RunCleanup(ctx); err != nil {
				log.Errorf("Scheduled cleanup failed: %v", err)
			}
		case <-ctx.Done():
			log.Info("Cleanup service stopped")
			return
		}
	}
}

// RunCleanup führt die eigentliche Bereinigung durch. Anwesenheiten werden
// nie bereinigt; sie sind der fachliche Bestand des Systems.
func (s *CleanupService) RunCleanup(ctx context.Context) error {
	if s.config.RetentionDays <= 0 {
		log.Info("Cleanup disabled (retention days <= 0)")
		return nil
	}

	cutoffDate := time.Now().AddDate(0, 0, -s.config.RetentionDays)
	log.Infof("Cleaning up data older than %s", cutoffDate.Format("2006-01-02"))

	logsResult := s.db.WithContext(ctx).Unscoped().
		Where("created_at < ?", cutoffDate).
		Delete(&models.DetectionLog{})
	if logsResult.Error != nil {
		return fmt.Errorf("failed to delete old detection logs: %w", logsResult.Error)
	}

	sessionsResult := s.db.WithContext(ctx).Unscoped().
		Where("created_at < ?", cutoffDate).
		Delete(&models.LivenessSessionRecord{})
	if sessionsResult.Error != nil {
		return fmt.Errorf("failed to delete old session records: %w", sessionsResult.Error)
	}

	log.Infof("Cleanup finished: removed %d detection log(s) and %d session record(s)",
		logsResult.RowsAffected, sessionsResult.RowsAffected)
	return nil
}
