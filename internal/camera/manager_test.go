package camera

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"face-attendance-go/config"
	"face-attendance-go/internal/core/attendance"
	"face-attendance-go/internal/core/models"
	"face-attendance-go/internal/db/repository"
	"face-attendance-go/internal/integrations/facerecognition"
)

func testCameraConfig() config.CameraConfig {
	return config.CameraConfig{
		TargetFPS:         100, // schnelle Tests
		OpenAttempts:      3,
		OpenRetryDelaySec: 0,
		ReconnectAttempts: 2,
		IdleRetrySec:      0,
		StopTimeoutSec:    2,
	}
}

// fakeSource liefert Frames aus dem Speicher und zählt Lebenszyklus-Aufrufe
type fakeSource struct {
	failOpens int32 // so viele Open-Aufrufe schlagen fehl
	failReads int32 // so viele Read-Aufrufe schlagen fehl

	opens  atomic.Int32
	reads  atomic.Int32
	closes atomic.Int32
}

func (s *fakeSource) Open() error {
	n := s.opens.Add(1)
	if n <= s.failOpens {
		return ErrCaptureUnavailable
	}
	return nil
}

func (s *fakeSource) Read() ([]byte, error) {
	n := s.reads.Add(1)
	if n <= s.failReads {
		return nil, ErrCaptureUnavailable
	}
	return []byte("jpeg"), nil
}

func (s *fakeSource) Close() error {
	s.closes.Add(1)
	return nil
}

// stubPipeline liefert immer dasselbe Gesicht
type stubPipeline struct{}

func (stubPipeline) IsAvailable(_ context.Context) bool { return true }

func (stubPipeline) DetectFaces(_ context.Context, _ []byte, _ facerecognition.DetectionRequest) (*facerecognition.DetectionResponse, error) {
	return &facerecognition.DetectionResponse{
		Faces: []facerecognition.Face{{Confidence: 0.95, Embedding: []float32{1, 0}}},
	}, nil
}

// stubRecognizer erkennt jedes Embedding als denselben Studenten
type stubRecognizer struct{}

func (stubRecognizer) Recognize(_ []float32) *facerecognition.Match {
	return &facerecognition.Match{StudentID: 42, Confidence: 0.9}
}

func (stubRecognizer) Reload(_ context.Context) error { return nil }

// stubRepo deckt die vom Kamera-Pfad benutzten Repository-Methoden ab
type stubRepo struct {
	repository.Repository

	mu          sync.Mutex
	attendances map[uint]*models.AttendanceRecord
	logs        int
}

func newStubRepo() *stubRepo {
	return &stubRepo{attendances: make(map[uint]*models.AttendanceRecord)}
}

func (r *stubRepo) InsertAttendanceIfAbsent(record *models.AttendanceRecord) (bool, *models.AttendanceRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.attendances[record.StudentID]; ok {
		return false, existing, nil
	}
	r.attendances[record.StudentID] = record
	return true, record, nil
}

func (r *stubRepo) SaveDetectionLog(_ *models.DetectionLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logs++
	return nil
}

// collectingPublisher sammelt veröffentlichte Events
type collectingPublisher struct {
	mu     sync.Mutex
	events []AttendanceEvent
}

func (p *collectingPublisher) PublishAttendance(event AttendanceEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
}

func (p *collectingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.events)
}

func newTestManager(src *fakeSource, repo *stubRepo, publisher EventPublisher) *Manager {
	factory := func(_ string) FrameSource { return src }
	deduper := attendance.NewDeduper(repo, 0.7)
	return NewManager(testCameraConfig(), factory, stubPipeline{}, stubRecognizer{}, deduper, repo, publisher)
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met within timeout")
}

func TestManager_ProcessesFramesAndDeduplicates(t *testing.T) {
	src := &fakeSource{}
	repo := newStubRepo()
	publisher := &collectingPublisher{}
	manager := newTestManager(src, repo, publisher)

	source := models.CameraSource{Name: "entrance", URI: "0"}
	source.ID = 1

	if started := manager.Start(source); !started {
		t.Fatal("Start should launch a worker")
	}

	// Mehrere Frames abwarten, damit die Deduplizierung greifen kann
	waitFor(t, 3*time.Second, func() bool { return src.reads.Load() >= 5 })

	if err := manager.Stop(source.ID); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	if publisher.count() != 1 {
		t.Errorf("published %d events, want exactly 1 despite repeated detections", publisher.count())
	}
	if src.closes.Load() == 0 {
		t.Error("camera handle was never released")
	}
}

func TestManager_DoubleStartIsNoOp(t *testing.T) {
	src := &fakeSource{}
	repo := newStubRepo()
	manager := newTestManager(src, repo, &collectingPublisher{})

	source := models.CameraSource{Name: "entrance", URI: "0"}
	source.ID = 1

	if started := manager.Start(source); !started {
		t.Fatal("first Start should launch a worker")
	}
	defer manager.Stop(source.ID)

	if started := manager.Start(source); started {
		t.Error("second Start for the same camera must be a no-op")
	}
	if !manager.IsRunning(source.ID) {
		t.Error("camera should still be running")
	}
}

func TestManager_RecoversFromOpenFailures(t *testing.T) {
	src := &fakeSource{failOpens: 2}
	repo := newStubRepo()
	publisher := &collectingPublisher{}
	manager := newTestManager(src, repo, publisher)

	source := models.CameraSource{Name: "entrance", URI: "0"}
	source.ID = 1

	manager.Start(source)
	defer manager.Stop(source.ID)

	// Die ersten beiden Open-Versuche scheitern, der dritte trägt
	waitFor(t, 3*time.Second, func() bool { return src.reads.Load() >= 1 })

	if src.opens.Load() < 3 {
		t.Errorf("opens = %d, want at least 3", src.opens.Load())
	}
}

func TestManager_ReopensAfterReadFailures(t *testing.T) {
	src := &fakeSource{failReads: 2}
	manager := newTestManager(src, newStubRepo(), &collectingPublisher{})

	source := models.CameraSource{Name: "entrance", URI: "0"}
	source.ID = 1

	manager.Start(source)
	defer manager.Stop(source.ID)

	// Nach erschöpften Reconnects wird die Quelle geschlossen und neu geöffnet
	waitFor(t, 3*time.Second, func() bool {
		return src.closes.Load() >= 1 && src.opens.Load() >= 2
	})
}

func TestManager_StopUnknownCamera(t *testing.T) {
	manager := newTestManager(&fakeSource{}, newStubRepo(), &collectingPublisher{})

	if err := manager.Stop(99); err == nil {
		t.Error("stopping an unknown camera should return an error")
	}
}
