package repository

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"face-attendance-go/internal/core/models"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository definiert die Schnittstelle für die Datenbank-Operationen
type Repository interface {
	// Studenten-Methoden
	GetStudentByID(id uint) (*models.Student, error)
	GetStudents() ([]models.Student, error)
	SaveStudent(student *models.Student) error
	DeleteStudent(id uint) error

	// Embedding-Methoden
	SaveFinalEmbedding(studentID uint, vector []float32, qualityScore float64, modelVersion string) error
	GetEmbeddings() ([]models.StudentEmbedding, error)

	// Anwesenheits-Methoden
	InsertAttendanceIfAbsent(record *models.AttendanceRecord) (bool, *models.AttendanceRecord, error)
	GetAttendanceByDay(day time.Time) ([]models.AttendanceRecord, error)

	// Kamera-Methoden
	GetCameraSources(onlyActive bool) ([]models.CameraSource, error)
	GetCameraSourceByID(id uint) (*models.CameraSource, error)
	SaveCameraSource(source *models.CameraSource) error

	// Detektions-Protokoll
	SaveDetectionLog(entry *models.DetectionLog) error

	// Session-Journal
	SaveSessionRecord(record *models.LivenessSessionRecord) error

	// Statistik-Methoden
	GetStatistics(todayStart time.Time) (models.Statistics, error)
}

// SQLiteRepository implementiert die Repository-Schnittstelle für SQLite
type SQLiteRepository struct {
	db *gorm.DB
}

// NewSQLiteRepository erstellt eine neue SQLite-Repository-Instanz
func NewSQLiteRepository(db *gorm.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Studenten-Methoden

// GetStudentByID holt einen Studenten anhand seiner ID
func (r *SQLiteRepository) GetStudentByID(id uint) (*models.Student, error) {
	var student models.Student
	result := r.db.First(&student, id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, result.Error
	}
	return &student, nil
}

// GetStudents holt alle Studenten
func (r *SQLiteRepository) GetStudents() ([]models.Student, error) {
	var students []models.Student
	result := r.db.Order("roll_number ASC").Find(&students)
	if result.Error != nil {
		return nil, result.Error
	}
	return students, nil
}

// SaveStudent speichert einen Studenten
func (r *SQLiteRepository) SaveStudent(student *models.Student) error {
	return r.db.Save(student).Error
}

// DeleteStudent löscht einen Studenten
func (r *SQLiteRepository) DeleteStudent(id uint) error {
	return r.db.Delete(&models.Student{}, id).Error
}

// Embedding-Methoden

// SaveFinalEmbedding speichert den finalen Gesichtsvektor eines Studenten.
// Ein vorhandener Vektor wird überschrieben (erneutes Enrollment).
func (r *SQLiteRepository) SaveFinalEmbedding(studentID uint, vector []float32, qualityScore float64, modelVersion string) error {
	payload, err := json.Marshal(vector)
	if err != nil {
		return fmt.Errorf("failed to encode embedding: %w", err)
	}

	embedding := models.StudentEmbedding{
		StudentID:    studentID,
		Embedding:    datatypes.JSON(payload),
		QualityScore: qualityScore,
		ModelVersion: modelVersion,
	}

	return r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "student_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"embedding", "quality_score", "model_version", "updated_at"}),
	}).Create(&embedding).Error
}

// GetEmbeddings holt alle gespeicherten Gesichtsvektoren
func (r *SQLiteRepository) GetEmbeddings() ([]models.StudentEmbedding, error) {
	var embeddings []models.StudentEmbedding
	result := r.db.Find(&embeddings)
	if result.Error != nil {
		return nil, result.Error
	}
	return embeddings, nil
}

// Anwesenheits-Methoden

// InsertAttendanceIfAbsent schreibt eine Anwesenheit, falls für
// (Student, Kalendertag) noch keine existiert. Der Unique-Index auf
// (student_id, day) macht aus dem Wettlauf konkurrierender Kamera-Worker
// einen harmlosen Insert-Konflikt; der Verlierer erhält den bestehenden
// Datensatz zurück.
func (r *SQLiteRepository) InsertAttendanceIfAbsent(record *models.AttendanceRecord) (bool, *models.AttendanceRecord, error) {
	result := r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "student_id"}, {Name: "day"}},
		DoNothing: true,
	}).Create(record)
	if result.Error != nil {
		return false, nil, result.Error
	}

	if result.RowsAffected > 0 {
		return true, record, nil
	}

	// Konflikt: bereits heute markiert, bestehenden Datensatz laden
	var existing models.AttendanceRecord
	if err := r.db.Where("student_id = ? AND day = ?", record.StudentID, record.Day).
		First(&existing).Error; err != nil {
		return false, nil, err
	}
	return false, &existing, nil
}

// GetAttendanceByDay holt alle Anwesenheiten eines Kalendertags
func (r *SQLiteRepository) GetAttendanceByDay(day time.Time) ([]models.AttendanceRecord, error) {
	var records []models.AttendanceRecord
	result := r.db.Preload("Student").Where("day = ?", day).
		Order("detected_at ASC").Find(&records)
	if result.Error != nil {
		return nil, result.Error
	}
	return records, nil
}

// Kamera-Methoden

// GetCameraSources holt alle konfigurierten Kameras
func (r *SQLiteRepository) GetCameraSources(onlyActive bool) ([]models.CameraSource, error) {
	var sources []models.CameraSource
	query := r.db.Order("name ASC")
	if onlyActive {
		query = query.Where("is_active = ?", true)
	}
	result := query.Find(&sources)
	if result.Error != nil {
		return nil, result.Error
	}
	return sources, nil
}

// GetCameraSourceByID holt eine Kamera anhand ihrer ID
func (r *SQLiteRepository) GetCameraSourceByID(id uint) (*models.CameraSource, error) {
	var source models.CameraSource
	result := r.db.First(&source, id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, result.Error
	}
	return &source, nil
}

// SaveCameraSource speichert eine Kamera
func (r *SQLiteRepository) SaveCameraSource(source *models.CameraSource) error {
	return r.db.Save(source).Error
}

// Detektions-Protokoll

// SaveDetectionLog speichert einen Protokolleintrag
func (r *SQLiteRepository) SaveDetectionLog(entry *models.DetectionLog) error {
	return r.db.Create(entry).Error
}

// Session-Journal

// SaveSessionRecord journaliert eine terminale Liveness-Session
func (r *SQLiteRepository) SaveSessionRecord(record *models.LivenessSessionRecord) error {
	return r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "session_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"state", "liveness_score", "attempts_count", "error_message", "completed_at", "final_embedding", "updated_at"}),
	}).Create(record).Error
}

// Statistik-Methoden

// GetStatistics gibt Statistiken über die gespeicherten Daten zurück
func (r *SQLiteRepository) GetStatistics(todayStart time.Time) (models.Statistics, error) {
	var stats models.Statistics

	if err := r.db.Model(&models.Student{}).Count(&stats.TotalStudents).Error; err != nil {
		return stats, err
	}

	if err := r.db.Model(&models.StudentEmbedding{}).Count(&stats.EnrolledFaces).Error; err != nil {
		return stats, err
	}

	if err := r.db.Model(&models.AttendanceRecord{}).
		Where("day = ?", todayStart).
		Count(&stats.AttendanceToday).Error; err != nil {
		return stats, err
	}

	if err := r.db.Model(&models.DetectionLog{}).Count(&stats.TotalDetections).Error; err != nil {
		return stats, err
	}

	var latest models.DetectionLog
	if err := r.db.Order("created_at DESC").First(&latest).Error; err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return stats, err
		}
	} else {
		stats.LatestDetection = latest.CreatedAt
	}

	return stats, nil
}
