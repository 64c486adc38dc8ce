package liveness

import (
	"math"

	"face-attendance-go/config"
)

// MovementResult ist das Ergebnis der Bewegungsprüfung
type MovementResult struct {
	Verified bool    `json:"verified"`
	Score    float64 `json:"score"`
	// PersonSimilarity ist die schwächere der beiden Identitäts-Ähnlichkeiten
	// (center-left, center-right)
	PersonSimilarity float64 `json:"person_similarity"`
	// MovementDifference ist 1 minus der Links/Rechts-Ähnlichkeit
	MovementDifference float64 `json:"movement_difference"`
	Detail             string  `json:"detail,omitempty"`
}

// MovementVerifier prüft, ob die drei Schritt-Embeddings dieselbe Person in
// drei tatsächlich verschiedenen Posen zeigen. Beide Schwellen zusammen sind
// der Anti-Spoofing-Kern: ein still gehaltenes Foto besteht die Posen-Winkel
// nominell, liefert aber nahezu identische Links/Rechts-Crops und damit eine
// MovementDifference nahe null.
type MovementVerifier struct {
	personSimilarityMin float64
	movementDiffMin     float64
}

// NewMovementVerifier erstellt einen MovementVerifier mit den konfigurierten Schwellen
func NewMovementVerifier(cfg config.LivenessConfig) *MovementVerifier {
	return &MovementVerifier{
		personSimilarityMin: cfg.PersonSimilarityMin,
		movementDiffMin:     cfg.MovementDiffMin,
	}
}

// Verify vergleicht die drei Embeddings paarweise. Die schwächere der beiden
// Identitäts-Ähnlichkeiten muss hoch sein, weil Spoof-Versuche häufig ein
// fremdes Gesicht für eine einzelne Pose einschieben.
func (v *MovementVerifier) Verify(center, left, right []float32) (MovementResult, error) {
	if len(center) == 0 || len(left) == 0 || len(right) == 0 {
		return MovementResult{}, ErrMissingEmbedding
	}

	centerLeft := scaledCosine(center, left)
	centerRight := scaledCosine(center, right)
	leftRight := scaledCosine(left, right)

	result := MovementResult{
		PersonSimilarity:   math.Min(centerLeft, centerRight),
		MovementDifference: 1 - leftRight,
	}

	if result.PersonSimilarity <= v.personSimilarityMin {
		result.Detail = "person similarity below threshold"
		return result, nil
	}
	if result.MovementDifference <= v.movementDiffMin {
		result.Detail = "insufficient movement between left and right pose"
		return result, nil
	}

	result.Verified = true
	result.Score = (result.PersonSimilarity + result.MovementDifference) / 2
	return result, nil
}

// scaledCosine berechnet die Kosinus-Ähnlichkeit und bildet sie von [-1,1]
// auf [0,1] ab
func scaledCosine(a, b []float32) float64 {
	return (CosineSimilarity(a, b) + 1) / 2
}

// CosineSimilarity berechnet die Kosinus-Ähnlichkeit zweier Vektoren.
// Null-Vektoren oder ungleiche Längen ergeben 0.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
