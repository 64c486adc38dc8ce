package handlers

import (
	"io"
	"net/http"

	"face-attendance-go/internal/camera"
	"face-attendance-go/internal/core/recognition"
	"face-attendance-go/internal/db/repository"
	"face-attendance-go/internal/integrations/facerecognition"
	"face-attendance-go/internal/server/sse"
	"face-attendance-go/internal/util/timezone"
	"face-attendance-go/internal/utils"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

// SystemHandler behandelt Status- und Event-Stream-Anfragen
type SystemHandler struct {
	repo     repository.Repository
	manager  *camera.Manager
	matcher  *recognition.Matcher
	pipeline facerecognition.Pipeline
	sseHub   *sse.Hub
}

// NewSystemHandler erstellt einen neuen System-Handler
func NewSystemHandler(repo repository.Repository, manager *camera.Manager,
	matcher *recognition.Matcher, pipeline facerecognition.Pipeline, sseHub *sse.Hub) *SystemHandler {
	return &SystemHandler{
		repo:     repo,
		manager:  manager,
		matcher:  matcher,
		pipeline: pipeline,
		sseHub:   sseHub,
	}
}

// RegisterRoutes registriert die System-Routen
func (h *SystemHandler) RegisterRoutes(router *gin.RouterGroup) {
	router.GET("/status", h.GetStatus)
	router.GET("/events", h.handleSSE)
}

// GetStatus liefert aggregierte Zahlen und Systemstatistiken
func (h *SystemHandler) GetStatus(c *gin.Context) {
	stats, err := h.repo.GetStatistics(timezone.DayOf(timezone.Now()))
	if err != nil {
		log.Errorf("Failed to load statistics: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load statistics"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"statistics":         stats,
		"system":             utils.GetSystemStats(h.manager),
		"known_faces":        h.matcher.KnownFaces(),
		"pipeline_available": h.pipeline.IsAvailable(c.Request.Context()),
		"running_cameras":    h.manager.Running(),
	})
}

// handleSSE behandelt SSE-Verbindungen für Echtzeit-Updates
func (h *SystemHandler) handleSSE(c *gin.Context) {
	// SSE-Header setzen
	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("Access-Control-Allow-Origin", "*")

	// Client-Kanal erstellen
	client := make(sse.Client, 10) // Puffer für 10 Nachrichten

	// Client beim Hub registrieren
	h.sseHub.Register(client)
	defer h.sseHub.Unregister(client)

	// Client-Verbindung überwachen
	c.Stream(func(w io.Writer) bool {
		// Auf die nächste Nachricht warten
		msg, ok := <-client
		if !ok {
			return false // Kanal geschlossen, Stream beenden
		}

		// Nachricht im SSE-Format senden
		c.SSEvent("message", string(msg))
		return true
	})
}
