package enrollment

import (
	"context"
	"encoding/json"
	"time"

	"face-attendance-go/internal/core/liveness"
	"face-attendance-go/internal/core/models"
	"face-attendance-go/internal/db/repository"
	"face-attendance-go/internal/integrations/facerecognition"

	log "github.com/sirupsen/logrus"
	"gorm.io/datatypes"
)

// Service verarbeitet terminale Liveness-Sessions: jede wird journalisiert,
// erfolgreiche schreiben das finale Embedding und markieren den Studenten
// als verifiziert.
type Service struct {
	repo         repository.Repository
	recognizer   facerecognition.Recognizer
	modelVersion string
}

// NewService erstellt den Enrollment-Service
func NewService(repo repository.Repository, recognizer facerecognition.Recognizer, modelVersion string) *Service {
	return &Service{
		repo:         repo,
		recognizer:   recognizer,
		modelVersion: modelVersion,
	}
}

// SessionTerminal implementiert liveness.Observer
func (s *Service) SessionTerminal(ctx context.Context, session *liveness.Session) {
	s.journal(session)

	if session.State != liveness.StateCompleted {
		return
	}
	if session.SubjectID == nil {
		log.WithField("session_id", session.ID).Warn("Completed session has no subject, skipping enrollment")
		return
	}
	if len(session.FinalEmbedding) == 0 {
		log.WithField("session_id", session.ID).Error("Completed session carries no final embedding")
		return
	}

	if err := s.repo.SaveFinalEmbedding(*session.SubjectID, session.FinalEmbedding, session.LivenessScore, s.modelVersion); err != nil {
		log.Errorf("Failed to save final embedding for student %d: %v", *session.SubjectID, err)
		return
	}

	if err := s.markVerified(*session.SubjectID, session); err != nil {
		log.Errorf("Failed to mark student %d as liveness verified: %v", *session.SubjectID, err)
	}

	// Den Matcher sofort mit dem neuen Embedding versorgen
	if s.recognizer != nil {
		if err := s.recognizer.Reload(ctx); err != nil {
			log.Errorf("Failed to reload recognizer after enrollment: %v", err)
		}
	}

	log.WithFields(log.Fields{
		"session_id": session.ID,
		"student_id": *session.SubjectID,
	}).Info("Student enrollment completed")
}

func (s *Service) journal(session *liveness.Session) {
	record := &models.LivenessSessionRecord{
		SessionID:     session.ID,
		SubjectID:     session.SubjectID,
		State:         string(session.State),
		AttemptsCount: session.AttemptsCount,
		LivenessScore: session.LivenessScore,
		ErrorMessage:  session.ErrorMessage,
		CompletedAt:   session.CompletedAt,
		ExpiresAt:     session.ExpiresAt,
	}
	if len(session.FinalEmbedding) > 0 {
		if payload, err := json.Marshal(session.FinalEmbedding); err == nil {
			record.FinalEmbedding = datatypes.JSON(payload)
		}
	}

	if err := s.repo.SaveSessionRecord(record); err != nil {
		log.Errorf("Failed to journal session %s: %v", session.ID, err)
	}
}

func (s *Service) markVerified(studentID uint, session *liveness.Session) error {
	student, err := s.repo.GetStudentByID(studentID)
	if err != nil {
		return err
	}
	if student == nil {
		log.Warnf("Student %d not found while marking liveness verification", studentID)
		return nil
	}

	now := time.Now()
	if session.CompletedAt != nil {
		now = *session.CompletedAt
	}
	student.LivenessVerified = true
	student.LivenessVerifiedAt = &now
	student.LivenessConfidence = session.LivenessScore

	return s.repo.SaveStudent(student)
}
