package liveness

import (
	"errors"
	"math"
	"testing"
)

// unitVec erzeugt einen 2D-Einheitsvektor für den gegebenen Winkel in Grad
func unitVec(degrees float64) []float32 {
	rad := degrees * math.Pi / 180
	return []float32{float32(math.Cos(rad)), float32(math.Sin(rad))}
}

func TestMovementVerifier_Verify(t *testing.T) {
	verifier := NewMovementVerifier(testConfig())

	tests := []struct {
		name         string
		center       []float32
		left         []float32
		right        []float32
		wantVerified bool
		wantDetail   string
	}{
		{
			name:         "same person with real head turns",
			center:       unitVec(0),
			left:         unitVec(-30),
			right:        unitVec(30),
			wantVerified: true,
		},
		{
			name:         "identical embeddings betray a held-up photo",
			center:       unitVec(0),
			left:         unitVec(0),
			right:        unitVec(0),
			wantVerified: false,
			wantDetail:   "insufficient movement between left and right pose",
		},
		{
			name:         "different person in one pose",
			center:       unitVec(0),
			left:         unitVec(170),
			right:        unitVec(30),
			wantVerified: false,
			wantDetail:   "person similarity below threshold",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := verifier.Verify(tt.center, tt.left, tt.right)
			if err != nil {
				t.Fatalf("Verify returned error: %v", err)
			}

			if result.Verified != tt.wantVerified {
				t.Errorf("Verified = %v, want %v", result.Verified, tt.wantVerified)
			}
			if result.Detail != tt.wantDetail {
				t.Errorf("Detail = %q, want %q", result.Detail, tt.wantDetail)
			}
			if tt.wantVerified {
				if result.Score <= 0 || result.Score > 1 {
					t.Errorf("Score = %f, want value in (0,1]", result.Score)
				}
				want := (result.PersonSimilarity + result.MovementDifference) / 2
				if math.Abs(result.Score-want) > 1e-9 {
					t.Errorf("Score = %f, want mean of components %f", result.Score, want)
				}
			} else if result.Score != 0 {
				t.Errorf("Score = %f, want 0 for failed verification", result.Score)
			}
		})
	}
}

func TestMovementVerifier_MissingEmbedding(t *testing.T) {
	verifier := NewMovementVerifier(testConfig())

	_, err := verifier.Verify(unitVec(0), nil, unitVec(30))
	if !errors.Is(err, ErrMissingEmbedding) {
		t.Errorf("err = %v, want ErrMissingEmbedding", err)
	}
}

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a    []float32
		b    []float32
		want float64
	}{
		{name: "identical vectors", a: []float32{1, 0}, b: []float32{1, 0}, want: 1},
		{name: "orthogonal vectors", a: []float32{1, 0}, b: []float32{0, 1}, want: 0},
		{name: "opposite vectors", a: []float32{1, 0}, b: []float32{-1, 0}, want: -1},
		{name: "length mismatch", a: []float32{1, 0}, b: []float32{1, 0, 0}, want: 0},
		{name: "zero vector", a: []float32{0, 0}, b: []float32{1, 0}, want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CosineSimilarity(tt.a, tt.b); math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("CosineSimilarity = %f, want %f", got, tt.want)
			}
		})
	}
}
