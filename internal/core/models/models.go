package models

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Student repräsentiert eine eingeschriebene Person
type Student struct {
	gorm.Model
	Name       string `gorm:"not null"`
	RollNumber string `gorm:"uniqueIndex;not null"` // Matrikel-/Rollnummer
	// Liveness-Status aus dem Enrollment
	LivenessVerified   bool
	LivenessVerifiedAt *time.Time
	LivenessConfidence float64
	Attendances        []AttendanceRecord `gorm:"foreignKey:StudentID"`
}

// StudentEmbedding speichert den finalen Gesichtsvektor eines Studenten.
// Pro Student existiert höchstens ein Eintrag; ein erneutes Enrollment
// überschreibt den Vektor.
type StudentEmbedding struct {
	gorm.Model
	StudentID    uint           `gorm:"uniqueIndex;not null"`
	Embedding    datatypes.JSON `gorm:"type:json"` // Vektor als JSON-Array
	QualityScore float64        // Liveness-Score beim Enrollment
	ModelVersion string         // z.B. 'buffalo_l'
}

// CameraSource repräsentiert eine konfigurierte Kamera
type CameraSource struct {
	gorm.Model
	Name     string `gorm:"uniqueIndex;not null"`
	URI      string `gorm:"not null"` // RTSP/HTTP-URL oder Geräteindex als String
	Location string `gorm:"index"`    // z.B. 'Hörsaal 1'
	IsActive bool   `gorm:"index"`
}

// AttendanceRecord repräsentiert eine Anwesenheit an einem Kalendertag.
// Der zusammengesetzte Unique-Index ist die verbindliche Garantie gegen
// Duplikate: konkurrierende Kamera-Worker lösen den Konflikt an der
// Datenbank, nicht über In-Prozess-Sperren.
type AttendanceRecord struct {
	gorm.Model
	StudentID  uint      `gorm:"not null;uniqueIndex:idx_attendance_student_day"`
	Day        time.Time `gorm:"not null;uniqueIndex:idx_attendance_student_day"` // Mitternacht in konfigurierter Zeitzone
	DetectedAt time.Time `gorm:"index"`
	Confidence float64
	Camera     string `gorm:"index"` // Name der erkennenden Kamera
	Student    Student
}

// DetectionLog protokolliert das Ergebnis eines verarbeiteten Frames
type DetectionLog struct {
	gorm.Model
	Camera        string `gorm:"index"`
	FacesDetected int
	Recognized    int
	ProcessingMs  int64
	ErrorMessage  string
}

// LivenessSessionRecord journaliert abgeschlossene Liveness-Sessions für
// Audit-Zwecke. Der lebende Zustand einer Session liegt im Session-Store;
// hier landen nur terminale Zustände.
type LivenessSessionRecord struct {
	gorm.Model
	SessionID      string `gorm:"uniqueIndex;not null"`
	SubjectID      *uint  `gorm:"index"`
	State          string `gorm:"index"` // COMPLETED, FAILED, EXPIRED
	LivenessScore  float64
	AttemptsCount  int
	ErrorMessage   string
	CompletedAt    *time.Time
	ExpiresAt      time.Time
	FinalEmbedding datatypes.JSON `gorm:"type:json"`
}

// Statistics repräsentiert aggregierte Zahlen für die Status-API
type Statistics struct {
	TotalStudents   int64
	EnrolledFaces   int64 // Studenten mit gespeichertem Embedding
	AttendanceToday int64
	TotalDetections int64
	LatestDetection time.Time
}
