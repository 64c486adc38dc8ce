package liveness

import (
	"math"

	"face-attendance-go/config"
)

// Position ist einer der drei geforderten Kopfposen-Schritte
type Position string

const (
	PositionCenter Position = "center"
	PositionLeft   Position = "left"
	PositionRight  Position = "right"
)

// Positions listet die drei Schritte in Anforderungsreihenfolge
var Positions = []Position{PositionCenter, PositionLeft, PositionRight}

// Valid prüft, ob der Wert eine bekannte Position ist
func (p Position) Valid() bool {
	switch p {
	case PositionCenter, PositionLeft, PositionRight:
		return true
	}
	return false
}

// PoseResult ist das Ergebnis einer Posen-Bewertung
type PoseResult struct {
	OK           bool     `json:"ok"`
	Confidence   float64  `json:"confidence"`
	DetectedPose Position `json:"detected_pose"`
}

// PoseEvaluator bewertet den normalisierten Gier-Winkel eines Gesichts gegen
// eine angeforderte Position. Der Winkel ist die Verschiebung der Nase vom
// Augen-Mittelpunkt, skaliert mit dem Augenabstand; dadurch sind die
// Schwellenwerte unabhängig von der Kopfgröße im Bild.
type PoseEvaluator struct {
	centerThreshold float64
	sideThreshold   float64
	sideSaturation  float64 // Offset über der Schwelle, ab dem Konfidenz 1.0 erreicht ist
}

// NewPoseEvaluator erstellt einen PoseEvaluator mit den konfigurierten Schwellen
func NewPoseEvaluator(cfg config.LivenessConfig) *PoseEvaluator {
	return &PoseEvaluator{
		centerThreshold: cfg.CenterThreshold,
		sideThreshold:   cfg.SideThreshold,
		sideSaturation:  cfg.SideSaturation,
	}
}

// Evaluate ist frei von Seiteneffekten und deterministisch; es ist die
// testbare Grenze der Posen-Logik.
func (e *PoseEvaluator) Evaluate(yawNorm float64, requested Position) PoseResult {
	result := PoseResult{DetectedPose: e.classify(yawNorm)}

	switch requested {
	case PositionCenter:
		result.OK = math.Abs(yawNorm) <= e.centerThreshold
		result.Confidence = clamp01(1 - math.Abs(yawNorm)/e.centerThreshold)
	case PositionLeft:
		result.OK = yawNorm < -e.sideThreshold
		result.Confidence = e.sideConfidence(-yawNorm)
	case PositionRight:
		result.OK = yawNorm > e.sideThreshold
		result.Confidence = e.sideConfidence(yawNorm)
	}

	return result
}

// classify ordnet einen Winkel der nächstliegenden Pose zu
func (e *PoseEvaluator) classify(yawNorm float64) Position {
	switch {
	case yawNorm > e.sideThreshold:
		return PositionRight
	case yawNorm < -e.sideThreshold:
		return PositionLeft
	default:
		return PositionCenter
	}
}

// sideConfidence skaliert linear von 0 an der Schwelle bis 1 am Sättigungs-Offset
func (e *PoseEvaluator) sideConfidence(magnitude float64) float64 {
	if e.sideSaturation <= 0 {
		if magnitude > e.sideThreshold {
			return 1
		}
		return 0
	}
	return clamp01((magnitude - e.sideThreshold) / e.sideSaturation)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
