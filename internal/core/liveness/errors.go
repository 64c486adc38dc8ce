package liveness

import "errors"

// Fehler-Taxonomie der Liveness-Prüfung. NoFaceDetected ist der einzige
// wiederholbare Fehler pro Schritt; Expired und InvalidState sind terminal
// für die gesamte Session.
var (
	// ErrNotFound: unbekannte Session-ID
	ErrNotFound = errors.New("liveness session not found")

	// ErrExpired: Session ist über expires_at hinaus
	ErrExpired = errors.New("liveness session expired")

	// ErrInvalidState: Session ist bereits terminal
	ErrInvalidState = errors.New("liveness session already terminal")

	// ErrNoFaceDetected: kein Gesicht im Frame, Schritt kann wiederholt werden
	ErrNoFaceDetected = errors.New("no face detected in frame")

	// ErrMissingEmbedding: Vorbedingung der Bewegungsprüfung verletzt
	ErrMissingEmbedding = errors.New("missing embedding for movement verification")
)
