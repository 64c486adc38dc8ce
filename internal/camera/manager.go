package camera

import (
	"context"
	"fmt"
	"sync"
	"time"

	"face-attendance-go/config"
	"face-attendance-go/internal/core/attendance"
	"face-attendance-go/internal/core/models"
	"face-attendance-go/internal/db/repository"
	"face-attendance-go/internal/integrations/facerecognition"

	log "github.com/sirupsen/logrus"
)

// runningWorker bündelt einen laufenden Worker mit seiner Abbruchsteuerung
type runningWorker struct {
	source models.CameraSource
	cancel context.CancelFunc
	done   chan struct{}
}

// Manager verwaltet die Kamera-Worker. Pro Kamera läuft höchstens ein
// Worker; Start auf einer laufenden Kamera ist ein No-Op.
type Manager struct {
	cfg        config.CameraConfig
	factory    SourceFactory
	pipeline   facerecognition.Pipeline
	recognizer facerecognition.Recognizer
	deduper    *attendance.Deduper
	repo       repository.Repository
	publisher  EventPublisher

	mu      sync.Mutex
	workers map[uint]*runningWorker
}

// NewManager erstellt einen Kamera-Manager
func NewManager(cfg config.CameraConfig, factory SourceFactory, pipeline facerecognition.Pipeline,
	recognizer facerecognition.Recognizer, deduper *attendance.Deduper,
	repo repository.Repository, publisher EventPublisher) *Manager {
	if factory == nil {
		factory = NewGoCVSource
	}
	return &Manager{
		cfg:        cfg,
		factory:    factory,
		pipeline:   pipeline,
		recognizer: recognizer,
		deduper:    deduper,
		repo:       repo,
		publisher:  publisher,
		workers:    make(map[uint]*runningWorker),
	}
}

// Start startet den Worker einer Kamera. Läuft für die Kamera bereits einer,
// passiert nichts.
func (m *Manager) Start(source models.CameraSource) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, running := m.workers[source.ID]; running {
		log.Warnf("Camera %s is already running, ignoring start request", source.Name)
		return false
	}

	ctx, cancel := context.WithCancel(context.Background())
	rw := &runningWorker{
		source: source,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	m.workers[source.ID] = rw

	w := &worker{
		source:     source,
		cfg:        m.cfg,
		factory:    m.factory,
		pipeline:   m.pipeline,
		recognizer: m.recognizer,
		deduper:    m.deduper,
		repo:       m.repo,
		publisher:  m.publisher,
	}

	go func() {
		defer close(rw.done)
		w.run(ctx)
	}()

	return true
}

// StartAllActive startet die Worker aller aktiven Kameras aus der Datenbank
func (m *Manager) StartAllActive() error {
	sources, err := m.repo.GetCameraSources(true)
	if err != nil {
		return fmt.Errorf("failed to load camera sources: %w", err)
	}
	for _, source := range sources {
		m.Start(source)
	}
	log.Infof("Started %d active camera(s)", len(sources))
	return nil
}

// Stop beendet den Worker einer Kamera kooperativ. Meldet der Worker sein
// Ende nicht innerhalb des Timeouts, kehrt Stop mit Fehler zurück; der
// Worker gibt seine Handle dennoch selbst frei, sobald er austritt.
func (m *Manager) Stop(sourceID uint) error {
	m.mu.Lock()
	rw, running := m.workers[sourceID]
	if running {
		delete(m.workers, sourceID)
	}
	m.mu.Unlock()

	if !running {
		return fmt.Errorf("camera %d is not running", sourceID)
	}

	rw.cancel()

	timeout := time.Duration(m.cfg.StopTimeoutSec) * time.Second
	select {
	case <-rw.done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("camera %s did not stop within %s", rw.source.Name, timeout)
	}
}

// StopAll beendet alle laufenden Worker
func (m *Manager) StopAll() {
	m.mu.Lock()
	workers := make([]*runningWorker, 0, len(m.workers))
	for id, rw := range m.workers {
		workers = append(workers, rw)
		delete(m.workers, id)
	}
	m.mu.Unlock()

	for _, rw := range workers {
		rw.cancel()
	}
	timeout := time.Duration(m.cfg.StopTimeoutSec) * time.Second
	for _, rw := range workers {
		select {
		case <-rw.done:
		case <-time.After(timeout):
			log.Warnf("Camera %s did not stop within %s", rw.source.Name, timeout)
		}
	}
}

// Running liefert die IDs der aktuell laufenden Kameras
func (m *Manager) Running() []uint {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make([]uint, 0, len(m.workers))
	for id := range m.workers {
		ids = append(ids, id)
	}
	return ids
}

// IsRunning meldet, ob für die Kamera ein Worker läuft
func (m *Manager) IsRunning(sourceID uint) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, running := m.workers[sourceID]
	return running
}
