package insightface

import (
	"context"
	"fmt"
	"time"

	"face-attendance-go/config"
	"face-attendance-go/internal/integrations/facerecognition"
)

// Service implementiert das facerecognition.Pipeline-Interface für den
// InsightFace-basierten Erkennungsdienst
type Service struct {
	client *APIClient
	config config.RecognitionConfig
}

// NewService erstellt einen neuen InsightFace-Service
func NewService(cfg config.RecognitionConfig) *Service {
	return &Service{
		client: NewAPIClient(cfg),
		config: cfg,
	}
}

// IsAvailable prüft, ob der Erkennungsdienst erreichbar ist
func (s *Service) IsAvailable(ctx context.Context) bool {
	available, _ := s.client.Ping(ctx)
	return available
}

// DetectFaces erkennt Gesichter in einem JPEG-kodierten Bild
func (s *Service) DetectFaces(ctx context.Context, imageData []byte, opts facerecognition.DetectionRequest) (*facerecognition.DetectionResponse, error) {
	startTime := time.Now()

	apiResp, err := s.client.Detect(ctx, imageData, opts.ExtractEmbedding, opts.EstimatePose)
	if err != nil {
		return nil, fmt.Errorf("fehler bei der Gesichtsdetektion: %w", err)
	}

	// Antwort in unser generisches Format konvertieren
	result := &facerecognition.DetectionResponse{
		Faces:         make([]facerecognition.Face, len(apiResp.Faces)),
		ExecutionTime: time.Since(startTime).Seconds(),
	}

	for i, face := range apiResp.Faces {
		result.Faces[i] = facerecognition.Face{
			BoundingBox: face.BoundingBox,
			Confidence:  face.Confidence,
			Embedding:   face.Embedding,
			YawNorm:     face.YawNorm,
		}
	}

	return result, nil
}
