package liveness

import (
	"time"
)

// State ist der Zustand einer Liveness-Session
type State string

const (
	StatePending    State = "PENDING"
	StateInProgress State = "IN_PROGRESS"
	StateCompleted  State = "COMPLETED"
	StateFailed     State = "FAILED"
	StateExpired    State = "EXPIRED"
)

// Terminal meldet, ob der Zustand endgültig ist. Terminale Zustände sind
// klebrig: eine Session verlässt sie nie wieder.
func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateExpired:
		return true
	}
	return false
}

// Step hält den Fortschritt eines einzelnen Posen-Schritts. Das Embedding
// wird unabhängig vom Prüfergebnis gespeichert; Embeddings nicht
// verifizierter Schritte gehen aber nie in die Bewegungsprüfung ein.
type Step struct {
	Captured   bool      `json:"captured"`
	Verified   bool      `json:"verified"`
	Confidence float64   `json:"confidence"`
	Embedding  []float32 `json:"embedding,omitempty"`
}

// Session ist der lebende Zustand eines Enrollments. Sie wird ausschließlich
// über den Engine mutiert; Aufrufer sehen nur Kopien.
type Session struct {
	ID        string    `json:"id"`
	SubjectID *uint     `json:"subject_id,omitempty"`
	State     State     `json:"state"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`

	Steps map[Position]*Step `json:"steps"`

	LivenessScore    float64    `json:"liveness_score"`
	MovementVerified bool       `json:"movement_verified"`
	FinalEmbedding   []float32  `json:"final_embedding,omitempty"`
	AttemptsCount    int        `json:"attempts_count"`
	ErrorMessage     string     `json:"error_message,omitempty"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`

	// Version zählt erfolgreiche Schreibvorgänge im Store und schützt
	// Mehrinstanz-Deployments vor verlorenen Updates
	Version int64 `json:"version"`
}

// newSession erstellt eine frische Session im Zustand PENDING
func newSession(id string, subjectID *uint, now time.Time, ttl time.Duration) *Session {
	steps := make(map[Position]*Step, len(Positions))
	for _, p := range Positions {
		steps[p] = &Step{}
	}
	return &Session{
		ID:        id,
		SubjectID: subjectID,
		State:     StatePending,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
		Steps:     steps,
	}
}

// expired prüft das harte Ablaufdatum
func (s *Session) expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// allVerified meldet, ob alle drei Schritte bestanden sind
func (s *Session) allVerified() bool {
	for _, p := range Positions {
		step, ok := s.Steps[p]
		if !ok || !step.Verified {
			return false
		}
	}
	return true
}

// Clone liefert eine tiefe Kopie, damit Store und Aufrufer nie denselben
// Speicher teilen
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	dup := *s
	dup.Steps = make(map[Position]*Step, len(s.Steps))
	for pos, step := range s.Steps {
		stepCopy := *step
		if step.Embedding != nil {
			stepCopy.Embedding = append([]float32(nil), step.Embedding...)
		}
		dup.Steps[pos] = &stepCopy
	}
	if s.FinalEmbedding != nil {
		dup.FinalEmbedding = append([]float32(nil), s.FinalEmbedding...)
	}
	if s.SubjectID != nil {
		id := *s.SubjectID
		dup.SubjectID = &id
	}
	if s.CompletedAt != nil {
		t := *s.CompletedAt
		dup.CompletedAt = &t
	}
	return &dup
}
