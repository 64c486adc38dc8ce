package liveness

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"face-attendance-go/config"
	"face-attendance-go/internal/integrations/facerecognition"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// Observer wird genau einmal benachrichtigt, wenn eine Session terminal
// wird. Der Enrollment-Service journalisiert darüber und speichert bei
// COMPLETED das finale Embedding.
type Observer interface {
	SessionTerminal(ctx context.Context, session *Session)
}

// SubmitResult ist die Antwort auf ein eingereichtes Frame
type SubmitResult struct {
	Position     Position `json:"position"`
	StepVerified bool     `json:"step_verified"`
	Confidence   float64  `json:"confidence"`
	DetectedPose Position `json:"detected_pose"`

	State         State `json:"state"`
	AttemptsCount int   `json:"attempts_count"`

	// Nur bei terminaler Session gesetzt
	Completed        bool     `json:"completed"`
	LivenessScore    float64  `json:"liveness_score,omitempty"`
	MovementVerified bool     `json:"movement_verified,omitempty"`
	FailureReason    string   `json:"failure_reason,omitempty"`
	SubjectID        *uint    `json:"subject_id,omitempty"`
	FinalEmbedding   []float32 `json:"-"`
}

// Engine ist die kanonische Zustandsmaschine des Enrollments. Das Altsystem
// trug mehrere, teils widersprüchliche Varianten dieses Ablaufs; hier gibt es
// genau eine, mit Ablaufprüfung vor jeder anderen Arbeit und strikter
// Posen-Prüfung pro Schritt.
type Engine struct {
	cfg      config.LivenessConfig
	store    Store
	pipeline facerecognition.Pipeline
	pose     *PoseEvaluator
	movement *MovementVerifier
	observer Observer

	now func() time.Time

	// Serialisierung pro Session: zwei gleichzeitige submit_frame-Aufrufe
	// auf derselben Session dürfen sich nie verschränken
	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// NewEngine erstellt einen Engine mit den konfigurierten Schwellen
func NewEngine(cfg config.LivenessConfig, store Store, pipeline facerecognition.Pipeline) *Engine {
	return &Engine{
		cfg:      cfg,
		store:    store,
		pipeline: pipeline,
		pose:     NewPoseEvaluator(cfg),
		movement: NewMovementVerifier(cfg),
		now:      time.Now,
		locks:    make(map[string]*sync.Mutex),
	}
}

// SetObserver registriert den Beobachter für terminale Sessions
func (e *Engine) SetObserver(observer Observer) {
	e.observer = observer
}

// CreateSession legt eine neue Session mit frischem Token an
func (e *Engine) CreateSession(ctx context.Context, subjectID *uint) (*Session, error) {
	session := newSession(uuid.NewString(), subjectID, e.now(), e.cfg.SessionTTL())

	if err := e.store.Put(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to store new session: %w", err)
	}

	log.WithFields(log.Fields{
		"session_id": session.ID,
		"expires_at": session.ExpiresAt,
	}).Info("Liveness session created")

	return session.Clone(), nil
}

// SubmitFrame verarbeitet ein Frame für einen Posen-Schritt. Die
// Ablaufprüfung geschieht vor jeder anderen Arbeit; terminale Sessions
// weisen jede weitere Einreichung ab.
func (e *Engine) SubmitFrame(ctx context.Context, sessionID string, position Position, frame []byte) (*SubmitResult, error) {
	if !position.Valid() {
		return nil, fmt.Errorf("unknown position %q", position)
	}

	unlock := e.lockSession(sessionID)
	defer unlock()

	session, err := e.store.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	// Ablauf geht jeder Verarbeitung vor
	if session.State == StateExpired {
		return nil, ErrExpired
	}
	if !session.State.Terminal() && session.expired(e.now()) {
		e.expireSession(ctx, session)
		return nil, ErrExpired
	}
	if session.State.Terminal() {
		return nil, ErrInvalidState
	}

	if session.State == StatePending {
		session.State = StateInProgress
	}

	// Delegation an die externe Pipeline; ein Frame ohne Gesicht lässt den
	// Schrittzustand unberührt, zählt aber als Versuch
	detection, err := e.pipeline.DetectFaces(ctx, frame, facerecognition.DetectionRequest{
		ExtractEmbedding: true,
		EstimatePose:     true,
	})
	if err != nil {
		return nil, fmt.Errorf("face pipeline failed: %w", err)
	}

	if len(detection.Faces) == 0 {
		session.AttemptsCount++
		if err := e.persist(ctx, session); err != nil {
			return nil, err
		}
		return nil, ErrNoFaceDetected
	}

	face := bestFace(detection.Faces)

	yaw := 0.0
	if face.YawNorm != nil {
		yaw = *face.YawNorm
	}
	poseResult := e.pose.Evaluate(yaw, position)

	// Embedding unabhängig vom Prüfergebnis ablegen; verifiziert ist der
	// Schritt nur bei passender Pose über der Schwelle
	step := session.Steps[position]
	step.Captured = true
	step.Embedding = face.Embedding
	step.Confidence = poseResult.Confidence
	step.Verified = poseResult.OK && poseResult.DetectedPose == position
	session.AttemptsCount++

	log.WithFields(log.Fields{
		"session_id":    session.ID,
		"position":      position,
		"detected_pose": poseResult.DetectedPose,
		"confidence":    poseResult.Confidence,
		"verified":      step.Verified,
	}).Debug("Liveness step evaluated")

	if session.allVerified() {
		e.finalize(session)
	}

	if err := e.persist(ctx, session); err != nil {
		return nil, err
	}

	if session.State.Terminal() {
		e.notifyTerminal(ctx, session)
	}

	result := &SubmitResult{
		Position:      position,
		StepVerified:  step.Verified,
		Confidence:    poseResult.Confidence,
		DetectedPose:  poseResult.DetectedPose,
		State:         session.State,
		AttemptsCount: session.AttemptsCount,
	}

	switch session.State {
	case StateCompleted:
		result.Completed = true
		result.LivenessScore = session.LivenessScore
		result.MovementVerified = true
		result.SubjectID = session.SubjectID
		result.FinalEmbedding = append([]float32(nil), session.FinalEmbedding...)
	case StateFailed:
		result.FailureReason = session.ErrorMessage
	}

	return result, nil
}

// GetSession liefert einen schreibgeschützten Schnappschuss. Der Ablauf wird
// auch hier angewendet, damit eine abgelaufene Session nie fälschlich als
// IN_PROGRESS erscheint.
func (e *Engine) GetSession(ctx context.Context, sessionID string) (*Session, error) {
	session, err := e.store.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	if !session.State.Terminal() && session.expired(e.now()) {
		unlock := e.lockSession(sessionID)
		defer unlock()

		// Unter der Sperre neu laden, falls ein paralleler Aufruf schneller war
		session, err = e.store.Get(ctx, sessionID)
		if err != nil {
			return nil, err
		}
		if !session.State.Terminal() && session.expired(e.now()) {
			e.expireSession(ctx, session)
		}
	}

	return session.Clone(), nil
}

// SweepExpired kippt abgelaufene Sessions nach EXPIRED. Der Sweeper ist nur
// für Sichtbarkeit da; die verbindliche Ablaufprüfung bleibt die bei jedem
// Zugriff.
func (e *Engine) SweepExpired(ctx context.Context) int {
	sessions, err := e.store.List(ctx)
	if err != nil {
		log.Errorf("Failed to list sessions for expiry sweep: %v", err)
		return 0
	}

	swept := 0
	for _, session := range sessions {
		if session.State.Terminal() || !session.expired(e.now()) {
			continue
		}

		unlock := e.lockSession(session.ID)
		current, err := e.store.Get(ctx, session.ID)
		if err == nil && !current.State.Terminal() && current.expired(e.now()) {
			e.expireSession(ctx, current)
			swept++
		}
		unlock()
	}

	if swept > 0 {
		log.Infof("Expiry sweep flipped %d session(s) to EXPIRED", swept)
	}
	return swept
}

// finalize führt die Bewegungsprüfung aus und macht die Session terminal
func (e *Engine) finalize(session *Session) {
	center := session.Steps[PositionCenter].Embedding
	left := session.Steps[PositionLeft].Embedding
	right := session.Steps[PositionRight].Embedding

	movementResult, err := e.movement.Verify(center, left, right)
	if err != nil {
		// Verifizierte Schritte ohne Embedding dürfen nicht vorkommen;
		// falls doch, scheitert die Session statt still durchzurutschen
		session.State = StateFailed
		session.ErrorMessage = err.Error()
		log.WithField("session_id", session.ID).Errorf("Movement verification precondition failed: %v", err)
		return
	}

	if !movementResult.Verified {
		session.State = StateFailed
		session.ErrorMessage = fmt.Sprintf("movement verification failed: %s", movementResult.Detail)
		log.WithFields(log.Fields{
			"session_id":          session.ID,
			"person_similarity":   movementResult.PersonSimilarity,
			"movement_difference": movementResult.MovementDifference,
		}).Warn("Liveness session failed movement verification")
		return
	}

	now := e.now()
	session.State = StateCompleted
	session.MovementVerified = true
	session.LivenessScore = movementResult.Score
	session.FinalEmbedding = append([]float32(nil), center...)
	session.CompletedAt = &now

	log.WithFields(log.Fields{
		"session_id":     session.ID,
		"liveness_score": session.LivenessScore,
	}).Info("Liveness session completed")
}

// expireSession macht eine Session terminal EXPIRED und benachrichtigt den Observer
func (e *Engine) expireSession(ctx context.Context, session *Session) {
	session.State = StateExpired
	if err := e.persist(ctx, session); err != nil {
		log.Errorf("Failed to persist expired session %s: %v", session.ID, err)
		return
	}
	log.WithField("session_id", session.ID).Info("Liveness session expired")
	e.notifyTerminal(ctx, session)
}

// persist schreibt die Session über CompareAndSwap zurück
func (e *Engine) persist(ctx context.Context, session *Session) error {
	if err := e.store.CompareAndSwap(ctx, session, session.Version); err != nil {
		if errors.Is(err, ErrVersionConflict) {
			return fmt.Errorf("concurrent session update detected: %w", err)
		}
		return fmt.Errorf("failed to persist session: %w", err)
	}
	return nil
}

func (e *Engine) notifyTerminal(ctx context.Context, session *Session) {
	if e.observer == nil {
		return
	}
	e.observer.SessionTerminal(ctx, session.Clone())

	// Terminale Sessions brauchen keine Sperre mehr
	e.locksMu.Lock()
	delete(e.locks, session.ID)
	e.locksMu.Unlock()
}

// lockSession serialisiert alle Mutationen einer Session
func (e *Engine) lockSession(id string) func() {
	e.locksMu.Lock()
	mu, ok := e.locks[id]
	if !ok {
		mu = &sync.Mutex{}
		e.locks[id] = mu
	}
	e.locksMu.Unlock()

	mu.Lock()
	return mu.Unlock
}

// bestFace wählt das Gesicht mit der höchsten Detektionskonfidenz
func bestFace(faces []facerecognition.Face) facerecognition.Face {
	best := faces[0]
	for _, face := range faces[1:] {
		if face.Confidence > best.Confidence {
			best = face
		}
	}
	return best
}
