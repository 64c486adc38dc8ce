package liveness

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"face-attendance-go/internal/integrations/facerecognition"
)

// fakePipeline liefert das nächste vorbereitete Detektionsergebnis
type fakePipeline struct {
	response *facerecognition.DetectionResponse
	err      error
}

func (f *fakePipeline) IsAvailable(_ context.Context) bool {
	return true
}

func (f *fakePipeline) DetectFaces(_ context.Context, _ []byte, _ facerecognition.DetectionRequest) (*facerecognition.DetectionResponse, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.response, nil
}

func (f *fakePipeline) setFace(yawNorm float64, embedding []float32) {
	yaw := yawNorm
	f.response = &facerecognition.DetectionResponse{
		Faces: []facerecognition.Face{{
			Confidence: 0.99,
			Embedding:  embedding,
			YawNorm:    &yaw,
		}},
	}
}

func (f *fakePipeline) setEmpty() {
	f.err = nil
	f.response = &facerecognition.DetectionResponse{}
}

// recordingObserver sammelt terminale Sessions
type recordingObserver struct {
	mu       sync.Mutex
	sessions []*Session
}

func (o *recordingObserver) SessionTerminal(_ context.Context, session *Session) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.sessions = append(o.sessions, session)
}

func (o *recordingObserver) terminalStates() []State {
	o.mu.Lock()
	defer o.mu.Unlock()
	states := make([]State, 0, len(o.sessions))
	for _, s := range o.sessions {
		states = append(states, s.State)
	}
	return states
}

func newTestEngine(pipeline facerecognition.Pipeline) (*Engine, *recordingObserver) {
	engine := NewEngine(testConfig(), NewMemoryStore(), pipeline)
	observer := &recordingObserver{}
	engine.SetObserver(observer)
	return engine, observer
}

func TestEngine_HappyPath(t *testing.T) {
	pipeline := &fakePipeline{}
	engine, observer := newTestEngine(pipeline)
	ctx := context.Background()

	subject := uint(7)
	session, err := engine.CreateSession(ctx, &subject)
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	if session.State != StatePending {
		t.Fatalf("new session state = %s, want PENDING", session.State)
	}

	centerEmb := unitVec(0)
	steps := []struct {
		position  Position
		yawNorm   float64
		embedding []float32
	}{
		{PositionCenter, 0.0, centerEmb},
		{PositionLeft, -0.35, unitVec(-30)},
		{PositionRight, 0.35, unitVec(30)},
	}

	var last *SubmitResult
	for _, step := range steps {
		pipeline.setFace(step.yawNorm, step.embedding)
		last, err = engine.SubmitFrame(ctx, session.ID, step.position, []byte("frame"))
		if err != nil {
			t.Fatalf("SubmitFrame(%s) failed: %v", step.position, err)
		}
		if !last.StepVerified {
			t.Fatalf("step %s not verified", step.position)
		}
	}

	if last.State != StateCompleted || !last.Completed {
		t.Fatalf("final state = %s, want COMPLETED", last.State)
	}
	if last.LivenessScore <= 0 {
		t.Errorf("LivenessScore = %f, want > 0", last.LivenessScore)
	}
	if last.AttemptsCount != 3 {
		t.Errorf("AttemptsCount = %d, want 3", last.AttemptsCount)
	}
	if len(last.FinalEmbedding) != len(centerEmb) {
		t.Fatalf("FinalEmbedding length = %d, want %d", len(last.FinalEmbedding), len(centerEmb))
	}
	for i := range centerEmb {
		if last.FinalEmbedding[i] != centerEmb[i] {
			t.Fatal("FinalEmbedding differs from center step embedding")
		}
	}

	states := observer.terminalStates()
	if len(states) != 1 || states[0] != StateCompleted {
		t.Errorf("observer saw %v, want exactly one COMPLETED", states)
	}

	// Die Session ist danach endgültig
	pipeline.setFace(0.0, centerEmb)
	if _, err := engine.SubmitFrame(ctx, session.ID, PositionCenter, []byte("frame")); !errors.Is(err, ErrInvalidState) {
		t.Errorf("submit after completion: err = %v, want ErrInvalidState", err)
	}
}

func TestEngine_WrongPoseDoesNotVerifyStep(t *testing.T) {
	pipeline := &fakePipeline{}
	engine, _ := newTestEngine(pipeline)
	ctx := context.Background()

	session, _ := engine.CreateSession(ctx, nil)

	// Frontales Gesicht eingereicht, aber links angefordert
	pipeline.setFace(0.0, unitVec(0))
	result, err := engine.SubmitFrame(ctx, session.ID, PositionLeft, []byte("frame"))
	if err != nil {
		t.Fatalf("SubmitFrame failed: %v", err)
	}

	if result.StepVerified {
		t.Error("step verified despite wrong pose")
	}
	if result.DetectedPose != PositionCenter {
		t.Errorf("DetectedPose = %s, want center", result.DetectedPose)
	}
	if result.State != StateInProgress {
		t.Errorf("State = %s, want IN_PROGRESS", result.State)
	}
	if result.AttemptsCount != 1 {
		t.Errorf("AttemptsCount = %d, want 1", result.AttemptsCount)
	}
}

func TestEngine_NoFaceDetected(t *testing.T) {
	pipeline := &fakePipeline{}
	engine, _ := newTestEngine(pipeline)
	ctx := context.Background()

	session, _ := engine.CreateSession(ctx, nil)

	pipeline.setEmpty()
	_, err := engine.SubmitFrame(ctx, session.ID, PositionCenter, []byte("frame"))
	if !errors.Is(err, ErrNoFaceDetected) {
		t.Fatalf("err = %v, want ErrNoFaceDetected", err)
	}

	// Der Schritt bleibt unberührt, der Versuch zählt trotzdem
	loaded, err := engine.GetSession(ctx, session.ID)
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if loaded.Steps[PositionCenter].Captured {
		t.Error("step mutated by frame without face")
	}
	if loaded.AttemptsCount != 1 {
		t.Errorf("AttemptsCount = %d, want 1", loaded.AttemptsCount)
	}

	// Der Schritt ist danach weiterhin einreichbar
	pipeline.setFace(0.0, unitVec(0))
	result, err := engine.SubmitFrame(ctx, session.ID, PositionCenter, []byte("frame"))
	if err != nil {
		t.Fatalf("retry failed: %v", err)
	}
	if !result.StepVerified {
		t.Error("retry after missing face should verify the step")
	}
}

func TestEngine_Expiry(t *testing.T) {
	pipeline := &fakePipeline{}
	engine, observer := newTestEngine(pipeline)
	ctx := context.Background()

	now := time.Now()
	engine.now = func() time.Time { return now }

	session, _ := engine.CreateSession(ctx, nil)

	// Einen Schritt vor dem Ablauf bestehen
	pipeline.setFace(0.0, unitVec(0))
	if _, err := engine.SubmitFrame(ctx, session.ID, PositionCenter, []byte("frame")); err != nil {
		t.Fatalf("SubmitFrame failed: %v", err)
	}

	// Uhr über die TTL hinaus stellen
	now = now.Add(11 * time.Minute)

	_, err := engine.SubmitFrame(ctx, session.ID, PositionLeft, []byte("frame"))
	if !errors.Is(err, ErrExpired) {
		t.Fatalf("err = %v, want ErrExpired", err)
	}

	// Der Ablauf macht den Zustand terminal, lässt die Schritte aber stehen
	loaded, err := engine.GetSession(ctx, session.ID)
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if loaded.State != StateExpired {
		t.Errorf("State = %s, want EXPIRED", loaded.State)
	}
	if !loaded.Steps[PositionCenter].Verified {
		t.Error("expiry must not clear completed steps")
	}

	// EXPIRED ist klebrig
	if _, err := engine.SubmitFrame(ctx, session.ID, PositionLeft, []byte("frame")); !errors.Is(err, ErrExpired) {
		t.Errorf("second submit: err = %v, want ErrExpired", err)
	}

	states := observer.terminalStates()
	if len(states) != 1 || states[0] != StateExpired {
		t.Errorf("observer saw %v, want exactly one EXPIRED", states)
	}
}

func TestEngine_ExpiryOnRead(t *testing.T) {
	pipeline := &fakePipeline{}
	engine, _ := newTestEngine(pipeline)
	ctx := context.Background()

	now := time.Now()
	engine.now = func() time.Time { return now }

	session, _ := engine.CreateSession(ctx, nil)

	now = now.Add(11 * time.Minute)

	loaded, err := engine.GetSession(ctx, session.ID)
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if loaded.State != StateExpired {
		t.Errorf("State = %s, want EXPIRED after lazy expiry on read", loaded.State)
	}
}

func TestEngine_MovementFailureFailsSession(t *testing.T) {
	pipeline := &fakePipeline{}
	engine, observer := newTestEngine(pipeline)
	ctx := context.Background()

	session, _ := engine.CreateSession(ctx, nil)

	// Alle Posen-Winkel stimmen, aber die Embeddings sind identisch: das
	// Muster eines vor die Kamera gehaltenen Fotos
	photo := unitVec(0)
	steps := []struct {
		position Position
		yawNorm  float64
	}{
		{PositionCenter, 0.0},
		{PositionLeft, -0.35},
		{PositionRight, 0.35},
	}

	var last *SubmitResult
	for _, step := range steps {
		pipeline.setFace(step.yawNorm, photo)
		var err error
		last, err = engine.SubmitFrame(ctx, session.ID, step.position, []byte("frame"))
		if err != nil {
			t.Fatalf("SubmitFrame(%s) failed: %v", step.position, err)
		}
	}

	if last.State != StateFailed {
		t.Fatalf("State = %s, want FAILED", last.State)
	}
	if last.FailureReason == "" {
		t.Error("FailureReason should explain the movement failure")
	}

	states := observer.terminalStates()
	if len(states) != 1 || states[0] != StateFailed {
		t.Errorf("observer saw %v, want exactly one FAILED", states)
	}
}

func TestEngine_UnknownSession(t *testing.T) {
	pipeline := &fakePipeline{}
	engine, _ := newTestEngine(pipeline)

	pipeline.setFace(0.0, unitVec(0))
	_, err := engine.SubmitFrame(context.Background(), "missing", PositionCenter, []byte("frame"))
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestEngine_SweepExpired(t *testing.T) {
	pipeline := &fakePipeline{}
	engine, observer := newTestEngine(pipeline)
	ctx := context.Background()

	now := time.Now()
	engine.now = func() time.Time { return now }

	engine.CreateSession(ctx, nil)
	engine.CreateSession(ctx, nil)

	now = now.Add(11 * time.Minute)

	if swept := engine.SweepExpired(ctx); swept != 2 {
		t.Errorf("swept = %d, want 2", swept)
	}
	// Ein zweiter Lauf findet nichts mehr
	if swept := engine.SweepExpired(ctx); swept != 0 {
		t.Errorf("second sweep = %d, want 0", swept)
	}

	states := observer.terminalStates()
	if len(states) != 2 {
		t.Errorf("observer saw %d terminal sessions, want 2", len(states))
	}
}
