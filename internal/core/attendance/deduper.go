package attendance

import (
	"time"

	"face-attendance-go/internal/core/models"
	"face-attendance-go/internal/util/timezone"

	log "github.com/sirupsen/logrus"
)

// Recorder ist die Persistenz-Grenze des Dedupers. Das volle Repository
// erfüllt sie.
type Recorder interface {
	InsertAttendanceIfAbsent(record *models.AttendanceRecord) (bool, *models.AttendanceRecord, error)
}

// MarkResult beschreibt den Ausgang einer Anwesenheitsmarkierung
type MarkResult struct {
	Created bool
	Skipped bool // Konfidenz unter der Schwelle, kein Schreibversuch
	Record  *models.AttendanceRecord
}

// Deduper markiert Anwesenheiten höchstens einmal pro Student und
// Kalendertag. Die Deduplizierung stützt sich auf den Unique-Index der
// Datenbank, nicht auf In-Prozess-Zustand: mehrere Kamera-Worker und
// mehrere Instanzen bleiben damit korrekt.
type Deduper struct {
	repo            Recorder
	confidenceFloor float64
}

// NewDeduper erstellt einen Deduper mit der konfigurierten Mindestkonfidenz
func NewDeduper(repo Recorder, confidenceFloor float64) *Deduper {
	return &Deduper{
		repo:            repo,
		confidenceFloor: confidenceFloor,
	}
}

// MarkPresent markiert einen Studenten als anwesend. Erkennungen unter der
// Mindestkonfidenz werden ohne Datenbankzugriff verworfen. Der Kalendertag
// wird in der konfigurierten Zeitzone bestimmt.
func (d *Deduper) MarkPresent(studentID uint, confidence float64, camera string, detectedAt time.Time) (*MarkResult, error) {
	if confidence < d.confidenceFloor {
		log.WithFields(log.Fields{
			"student_id": studentID,
			"confidence": confidence,
			"floor":      d.confidenceFloor,
		}).Debug("Detection below confidence floor, skipping attendance")
		return &MarkResult{Skipped: true}, nil
	}

	record := &models.AttendanceRecord{
		StudentID:  studentID,
		Day:        timezone.DayOf(detectedAt),
		DetectedAt: detectedAt,
		Confidence: confidence,
		Camera:     camera,
	}

	created, stored, err := d.repo.InsertAttendanceIfAbsent(record)
	if err != nil {
		return nil, err
	}

	if created {
		log.WithFields(log.Fields{
			"student_id": studentID,
			"camera":     camera,
			"confidence": confidence,
		}).Info("Attendance marked")
	}

	return &MarkResult{Created: created, Record: stored}, nil
}
