package recognition

import (
	"context"
	"encoding/json"
	"sync"

	"face-attendance-go/internal/core/liveness"
	"face-attendance-go/internal/db/repository"
	"face-attendance-go/internal/integrations/facerecognition"

	log "github.com/sirupsen/logrus"
)

// Matcher vergleicht Live-Embeddings gegen die gespeicherten Vektoren der
// eingeschriebenen Studenten. Die Vektoren liegen im Speicher; Reload lädt
// sie nach einem Enrollment neu.
type Matcher struct {
	repo      repository.Repository
	threshold float64

	mu      sync.RWMutex
	entries []entry
}

type entry struct {
	studentID uint
	vector    []float32
}

// NewMatcher erstellt einen Matcher mit der gegebenen Erkennungsschwelle
func NewMatcher(repo repository.Repository, threshold float64) *Matcher {
	return &Matcher{
		repo:      repo,
		threshold: threshold,
	}
}

// Reload lädt alle gespeicherten Embeddings aus der Datenbank
func (m *Matcher) Reload(ctx context.Context) error {
	embeddings, err := m.repo.GetEmbeddings()
	if err != nil {
		return err
	}

	entries := make([]entry, 0, len(embeddings))
	for _, e := range embeddings {
		var vector []float32
		if err := json.Unmarshal(e.Embedding, &vector); err != nil {
			log.Warnf("Skipping malformed embedding for student %d: %v", e.StudentID, err)
			continue
		}
		entries = append(entries, entry{studentID: e.StudentID, vector: vector})
	}

	m.mu.Lock()
	m.entries = entries
	m.mu.Unlock()

	log.Infof("Recognizer loaded %d known face(s)", len(entries))
	return nil
}

// Recognize sucht den ähnlichsten bekannten Studenten. Liegt die beste
// Ähnlichkeit unter der Schwelle, gibt es keinen Treffer.
func (m *Matcher) Recognize(embedding []float32) *facerecognition.Match {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var best *facerecognition.Match
	for _, e := range m.entries {
		similarity := liveness.CosineSimilarity(embedding, e.vector)
		if similarity < m.threshold {
			continue
		}
		if best == nil || similarity > best.Confidence {
			best = &facerecognition.Match{StudentID: e.studentID, Confidence: similarity}
		}
	}
	return best
}

// KnownFaces liefert die Anzahl geladener Embeddings
func (m *Matcher) KnownFaces() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}
