package repository

import (
	"testing"
	"time"

	"face-attendance-go/internal/core/models"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestRepo(t *testing.T) *SQLiteRepository {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open in-memory database: %v", err)
	}

	if err := db.AutoMigrate(
		&models.Student{},
		&models.StudentEmbedding{},
		&models.CameraSource{},
		&models.AttendanceRecord{},
		&models.DetectionLog{},
		&models.LivenessSessionRecord{},
	); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}

	return NewSQLiteRepository(db)
}

func createStudent(t *testing.T, repo *SQLiteRepository, name, roll string) *models.Student {
	t.Helper()
	student := &models.Student{Name: name, RollNumber: roll}
	if err := repo.SaveStudent(student); err != nil {
		t.Fatalf("failed to create student: %v", err)
	}
	return student
}

func TestInsertAttendanceIfAbsent(t *testing.T) {
	repo := newTestRepo(t)
	student := createStudent(t, repo, "Ada", "CS-001")

	day := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	record := &models.AttendanceRecord{
		StudentID:  student.ID,
		Day:        day,
		DetectedAt: day.Add(9 * time.Hour),
		Confidence: 0.91,
		Camera:     "entrance",
	}

	created, stored, err := repo.InsertAttendanceIfAbsent(record)
	if err != nil {
		t.Fatalf("first insert failed: %v", err)
	}
	if !created {
		t.Error("first insert of the day should create a record")
	}
	if stored.Camera != "entrance" {
		t.Errorf("stored camera = %s, want entrance", stored.Camera)
	}

	// Zweite Erkennung am selben Tag läuft in den Unique-Index
	duplicate := &models.AttendanceRecord{
		StudentID:  student.ID,
		Day:        day,
		DetectedAt: day.Add(14 * time.Hour),
		Confidence: 0.99,
		Camera:     "hallway",
	}
	created, stored, err = repo.InsertAttendanceIfAbsent(duplicate)
	if err != nil {
		t.Fatalf("duplicate insert failed: %v", err)
	}
	if created {
		t.Error("duplicate insert must not create a second record")
	}
	if stored.Camera != "entrance" {
		t.Errorf("existing record should win, got camera %s", stored.Camera)
	}

	// Ein neuer Kalendertag erzeugt wieder einen Datensatz
	nextDay := &models.AttendanceRecord{
		StudentID:  student.ID,
		Day:        day.AddDate(0, 0, 1),
		DetectedAt: day.AddDate(0, 0, 1).Add(9 * time.Hour),
		Confidence: 0.88,
		Camera:     "entrance",
	}
	created, _, err = repo.InsertAttendanceIfAbsent(nextDay)
	if err != nil {
		t.Fatalf("next-day insert failed: %v", err)
	}
	if !created {
		t.Error("a new calendar day should create a new record")
	}

	records, err := repo.GetAttendanceByDay(day)
	if err != nil {
		t.Fatalf("GetAttendanceByDay failed: %v", err)
	}
	if len(records) != 1 {
		t.Errorf("records for day = %d, want 1", len(records))
	}
}

func TestSaveFinalEmbedding_Upsert(t *testing.T) {
	repo := newTestRepo(t)
	student := createStudent(t, repo, "Ada", "CS-001")

	if err := repo.SaveFinalEmbedding(student.ID, []float32{0.1, 0.2}, 0.8, "buffalo_l"); err != nil {
		t.Fatalf("first save failed: %v", err)
	}
	// Erneutes Enrollment überschreibt den Vektor
	if err := repo.SaveFinalEmbedding(student.ID, []float32{0.3, 0.4}, 0.9, "buffalo_l"); err != nil {
		t.Fatalf("second save failed: %v", err)
	}

	embeddings, err := repo.GetEmbeddings()
	if err != nil {
		t.Fatalf("GetEmbeddings failed: %v", err)
	}
	if len(embeddings) != 1 {
		t.Fatalf("embeddings = %d, want 1 after upsert", len(embeddings))
	}
	if embeddings[0].QualityScore != 0.9 {
		t.Errorf("QualityScore = %f, want 0.9", embeddings[0].QualityScore)
	}
}

func TestSaveSessionRecord_Upsert(t *testing.T) {
	repo := newTestRepo(t)

	record := &models.LivenessSessionRecord{
		SessionID:     "sess-1",
		State:         "FAILED",
		AttemptsCount: 4,
		ErrorMessage:  "movement verification failed",
	}
	if err := repo.SaveSessionRecord(record); err != nil {
		t.Fatalf("first save failed: %v", err)
	}

	update := &models.LivenessSessionRecord{
		SessionID:     "sess-1",
		State:         "COMPLETED",
		AttemptsCount: 6,
		LivenessScore: 0.82,
	}
	if err := repo.SaveSessionRecord(update); err != nil {
		t.Fatalf("second save failed: %v", err)
	}

	var records []models.LivenessSessionRecord
	if err := repo.db.Find(&records).Error; err != nil {
		t.Fatalf("failed to load records: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("records = %d, want 1 after upsert", len(records))
	}
	if records[0].State != "COMPLETED" || records[0].AttemptsCount != 6 {
		t.Errorf("unexpected record after upsert: %+v", records[0])
	}
}

func TestGetCameraSources_ActiveFilter(t *testing.T) {
	repo := newTestRepo(t)

	active := &models.CameraSource{Name: "entrance", URI: "0", IsActive: true}
	inactive := &models.CameraSource{Name: "storage", URI: "1", IsActive: false}
	if err := repo.SaveCameraSource(active); err != nil {
		t.Fatalf("failed to save camera: %v", err)
	}
	if err := repo.SaveCameraSource(inactive); err != nil {
		t.Fatalf("failed to save camera: %v", err)
	}

	all, err := repo.GetCameraSources(false)
	if err != nil {
		t.Fatalf("GetCameraSources failed: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("all cameras = %d, want 2", len(all))
	}

	onlyActive, err := repo.GetCameraSources(true)
	if err != nil {
		t.Fatalf("GetCameraSources failed: %v", err)
	}
	if len(onlyActive) != 1 || onlyActive[0].Name != "entrance" {
		t.Errorf("active cameras = %+v, want only entrance", onlyActive)
	}
}
