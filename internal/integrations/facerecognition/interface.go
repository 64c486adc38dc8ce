package facerecognition

import (
	"context"
)

// Face repräsentiert ein erkanntes Gesicht
type Face struct {
	// BoundingBox enthält die Koordinaten des Gesichts im Bild (x1, y1, x2, y2)
	BoundingBox []int `json:"bounding_box"`

	// Confidence ist die Konfidenz der Gesichtsdetektion (0-1)
	Confidence float64 `json:"confidence"`

	// Embedding ist der Gesichtsvektor für den Identitätsabgleich
	Embedding []float32 `json:"embedding,omitempty"`

	// YawNorm ist der normalisierte Gier-Winkel des Kopfes: Verschiebung der
	// Nase vom Augen-Mittelpunkt, skaliert mit dem Augenabstand. Negativ =
	// links, positiv = rechts. Nil, wenn keine Pose geschätzt wurde.
	YawNorm *float64 `json:"yaw_norm,omitempty"`
}

// DetectionRequest enthält Parameter für die Gesichtsdetektion
type DetectionRequest struct {
	// ExtractEmbedding gibt an, ob Gesichtsvektoren extrahiert werden sollen
	ExtractEmbedding bool `json:"extract_embedding,omitempty"`

	// EstimatePose gibt an, ob der Kopfposen-Winkel geschätzt werden soll
	EstimatePose bool `json:"estimate_pose,omitempty"`
}

// DetectionResponse enthält die Ergebnisse der Gesichtsdetektion
type DetectionResponse struct {
	// Faces ist eine Liste der erkannten Gesichter
	Faces []Face `json:"faces"`

	// ExecutionTime ist die Verarbeitungszeit in Sekunden
	ExecutionTime float64 `json:"execution_time,omitempty"`
}

// Pipeline definiert die Schnittstelle zum externen Detektor/Embedding-Dienst.
// Ob dahinter YOLO, InsightFace oder etwas anderes läuft, ist für den Kern
// unerheblich; er konsumiert nur Bounding-Boxen, Vektoren und Winkel.
type Pipeline interface {
	// IsAvailable prüft, ob der Dienst erreichbar ist
	IsAvailable(ctx context.Context) bool

	// DetectFaces erkennt Gesichter in einem JPEG-kodierten Bild
	DetectFaces(ctx context.Context, imageData []byte, opts DetectionRequest) (*DetectionResponse, error)
}

// Match repräsentiert eine Übereinstimmung mit einem eingeschriebenen Studenten
type Match struct {
	StudentID  uint    `json:"student_id"`
	Confidence float64 `json:"confidence"`
}

// Recognizer gleicht Gesichtsvektoren gegen die bekannten Studenten ab
type Recognizer interface {
	// Recognize liefert den besten Treffer oder nil, wenn keiner über der
	// Detektionsschwelle liegt
	Recognize(embedding []float32) *Match

	// Reload lädt die bekannten Gesichter neu (nach einem Enrollment)
	Reload(ctx context.Context) error
}
