package camera

import (
	"context"
	"time"

	"face-attendance-go/config"
	"face-attendance-go/internal/core/attendance"
	"face-attendance-go/internal/core/models"
	"face-attendance-go/internal/db/repository"
	"face-attendance-go/internal/integrations/facerecognition"
	"face-attendance-go/internal/util/timezone"

	log "github.com/sirupsen/logrus"
)

// AttendanceEvent wird bei einer neu geschriebenen Anwesenheit veröffentlicht
type AttendanceEvent struct {
	StudentID  uint      `json:"student_id"`
	Camera     string    `json:"camera"`
	Confidence float64   `json:"confidence"`
	DetectedAt time.Time `json:"detected_at"`
}

// EventPublisher verteilt Anwesenheits-Events an interessierte Senken
// (SSE, MQTT). Implementierungen dürfen nicht blockieren.
type EventPublisher interface {
	PublishAttendance(event AttendanceEvent)
}

// worker betreibt die Aufnahme-Schleife einer einzelnen Kamera. Fehler einer
// Kamera bleiben auf ihren Worker beschränkt; die Kamerahandle wird bei
// jedem Austritt aus der Leseschleife freigegeben.
type worker struct {
	source     models.CameraSource
	cfg        config.CameraConfig
	factory    SourceFactory
	pipeline   facerecognition.Pipeline
	recognizer facerecognition.Recognizer
	deduper    *attendance.Deduper
	repo       repository.Repository
	publisher  EventPublisher
}

// run ist die Hauptschleife des Workers und kehrt erst bei Abbruch des
// Kontexts zurück
func (w *worker) run(ctx context.Context) {
	logger := log.WithFields(log.Fields{
		"camera": w.source.Name,
		"uri":    w.source.URI,
	})
	logger.Info("Camera worker started")
	defer logger.Info("Camera worker stopped")

	for {
		if ctx.Err() != nil {
			return
		}

		src, ok := w.openWithRetry(ctx, logger)
		if !ok {
			// Öffnen endgültig gescheitert, vor dem nächsten Zyklus pausieren
			if !sleepCtx(ctx, time.Duration(w.cfg.IdleRetrySec)*time.Second) {
				return
			}
			continue
		}

		w.captureLoop(ctx, src, logger)
		src.Close()
	}
}

// openWithRetry versucht die Quelle mit fester Wartezeit zwischen den
// Versuchen zu öffnen
func (w *worker) openWithRetry(ctx context.Context, logger *log.Entry) (FrameSource, bool) {
	delay := time.Duration(w.cfg.OpenRetryDelaySec) * time.Second

	for attempt := 1; attempt <= w.cfg.OpenAttempts; attempt++ {
		if ctx.Err() != nil {
			return nil, false
		}

		src := w.factory(w.source.URI)
		if err := src.Open(); err == nil {
			return src, true
		} else {
			logger.Warnf("Failed to open camera (attempt %d/%d): %v", attempt, w.cfg.OpenAttempts, err)
		}

		if attempt < w.cfg.OpenAttempts && !sleepCtx(ctx, delay) {
			return nil, false
		}
	}

	logger.Errorf("Giving up opening camera after %d attempts", w.cfg.OpenAttempts)
	return nil, false
}

// captureLoop liest Frames bis zum Abbruch oder bis die Reconnect-Versuche
// erschöpft sind. Die Frame-Rate wird auf das konfigurierte Ziel gedrosselt.
func (w *worker) captureLoop(ctx context.Context, src FrameSource, logger *log.Entry) {
	interval := w.cfg.FrameInterval()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	readFailures := 0

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		frame, err := src.Read()
		if err != nil {
			readFailures++
			logger.Warnf("Frame read failed (%d/%d): %v", readFailures, w.cfg.ReconnectAttempts, err)
			if readFailures >= w.cfg.ReconnectAttempts {
				logger.Error("Reconnect attempts exhausted, reopening camera")
				return
			}
			continue
		}
		readFailures = 0

		w.processFrame(ctx, frame, logger)
	}
}

// processFrame schickt ein Frame durch Detektion, Matching und
// Anwesenheitsmarkierung. Fehler werden protokolliert, stoppen die Schleife
// aber nicht.
func (w *worker) processFrame(ctx context.Context, frame []byte, logger *log.Entry) {
	start := time.Now()

	detection, err := w.pipeline.DetectFaces(ctx, frame, facerecognition.DetectionRequest{
		ExtractEmbedding: true,
	})
	if err != nil {
		logger.Warnf("Face detection failed: %v", err)
		w.logDetection(0, 0, time.Since(start), err.Error())
		return
	}

	recognized := 0
	for _, face := range detection.Faces {
		if len(face.Embedding) == 0 {
			continue
		}

		match := w.recognizer.Recognize(face.Embedding)
		if match == nil {
			continue
		}
		recognized++

		detectedAt := timezone.Now()
		result, err := w.deduper.MarkPresent(match.StudentID, match.Confidence, w.source.Name, detectedAt)
		if err != nil {
			logger.Errorf("Failed to mark attendance for student %d: %v", match.StudentID, err)
			continue
		}

		if result.Created && w.publisher != nil {
			w.publisher.PublishAttendance(AttendanceEvent{
				StudentID:  match.StudentID,
				Camera:     w.source.Name,
				Confidence: match.Confidence,
				DetectedAt: detectedAt,
			})
		}
	}

	w.logDetection(len(detection.Faces), recognized, time.Since(start), "")
}

func (w *worker) logDetection(faces, recognized int, elapsed time.Duration, errorMessage string) {
	entry := &models.DetectionLog{
		Camera:        w.source.Name,
		FacesDetected: faces,
		Recognized:    recognized,
		ProcessingMs:  elapsed.Milliseconds(),
		ErrorMessage:  errorMessage,
	}
	if err := w.repo.SaveDetectionLog(entry); err != nil {
		log.Errorf("Failed to save detection log: %v", err)
	}
}

// sleepCtx wartet die Dauer ab und meldet false bei Kontextabbruch
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
