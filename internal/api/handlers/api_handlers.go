package handlers

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"face-attendance-go/config"
	"face-attendance-go/internal/camera"
	"face-attendance-go/internal/core/liveness"
	"face-attendance-go/internal/core/models"
	"face-attendance-go/internal/core/recognition"
	"face-attendance-go/internal/db/repository"
	"face-attendance-go/internal/integrations/facerecognition"
	"face-attendance-go/internal/util/timezone"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

// APIHandler behandelt API-Anfragen für das System
type APIHandler struct {
	cfg      *config.Config
	repo     repository.Repository
	engine   *liveness.Engine
	manager  *camera.Manager
	matcher  *recognition.Matcher
	pipeline facerecognition.Pipeline
}

// NewAPIHandler erstellt einen neuen API-Handler
func NewAPIHandler(cfg *config.Config, repo repository.Repository, engine *liveness.Engine,
	manager *camera.Manager, matcher *recognition.Matcher, pipeline facerecognition.Pipeline) *APIHandler {
	return &APIHandler{
		cfg:      cfg,
		repo:     repo,
		engine:   engine,
		manager:  manager,
		matcher:  matcher,
		pipeline: pipeline,
	}
}

// RegisterRoutes registriert alle API-Routen
func (h *APIHandler) RegisterRoutes(router *gin.RouterGroup) {
	// Liveness-Endpunkte
	router.POST("/liveness/sessions", h.CreateLivenessSession)
	router.GET("/liveness/sessions/:id", h.GetLivenessSession)
	router.POST("/liveness/sessions/:id/frames", h.SubmitLivenessFrame)

	// Studenten-Endpunkte
	router.GET("/students", h.ListStudents)
	router.POST("/students", h.CreateStudent)
	router.GET("/students/:id", h.GetStudent)
	router.DELETE("/students/:id", h.DeleteStudent)

	// Anwesenheits-Endpunkte
	router.GET("/attendance", h.GetAttendance)

	// Kamera-Endpunkte
	router.GET("/cameras", h.ListCameras)
	router.POST("/cameras", h.CreateCamera)
	router.POST("/cameras/:id/start", h.StartCamera)
	router.POST("/cameras/:id/stop", h.StopCamera)
}

// stepView ist die externe Sicht auf einen Posen-Schritt, ohne Embedding
type stepView struct {
	Captured   bool    `json:"captured"`
	Verified   bool    `json:"verified"`
	Confidence float64 `json:"confidence"`
}

// sessionView ist die externe Sicht auf eine Session
type sessionView struct {
	ID               string                         `json:"id"`
	SubjectID        *uint                          `json:"subject_id,omitempty"`
	State            liveness.State                 `json:"state"`
	Steps            map[liveness.Position]stepView `json:"steps"`
	LivenessScore    float64                        `json:"liveness_score"`
	MovementVerified bool                           `json:"movement_verified"`
	AttemptsCount    int                            `json:"attempts_count"`
	ErrorMessage     string                         `json:"error_message,omitempty"`
	CreatedAt        time.Time                      `json:"created_at"`
	ExpiresAt        time.Time                      `json:"expires_at"`
	CompletedAt      *time.Time                     `json:"completed_at,omitempty"`
}

func toSessionView(s *liveness.Session) sessionView {
	steps := make(map[liveness.Position]stepView, len(s.Steps))
	for pos, step := range s.Steps {
		steps[pos] = stepView{
			Captured:   step.Captured,
			Verified:   step.Verified,
			Confidence: step.Confidence,
		}
	}
	return sessionView{
		ID:               s.ID,
		SubjectID:        s.SubjectID,
		State:            s.State,
		Steps:            steps,
		LivenessScore:    s.LivenessScore,
		MovementVerified: s.MovementVerified,
		AttemptsCount:    s.AttemptsCount,
		ErrorMessage:     s.ErrorMessage,
		CreatedAt:        s.CreatedAt,
		ExpiresAt:        s.ExpiresAt,
		CompletedAt:      s.CompletedAt,
	}
}

// respondLivenessError übersetzt die Fehler des Engines in HTTP-Statuscodes
func respondLivenessError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, liveness.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
	case errors.Is(err, liveness.ErrExpired):
		c.JSON(http.StatusGone, gin.H{"error": "session expired"})
	case errors.Is(err, liveness.ErrInvalidState):
		c.JSON(http.StatusConflict, gin.H{"error": "session is already finished"})
	case errors.Is(err, liveness.ErrNoFaceDetected):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "no face detected in frame"})
	default:
		log.Errorf("Liveness request failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

// CreateLivenessSession legt eine neue Enrollment-Session an
func (h *APIHandler) CreateLivenessSession(c *gin.Context) {
	var body struct {
		StudentID *uint `json:"student_id"`
	}
	if err := c.ShouldBindJSON(&body); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	if body.StudentID != nil {
		student, err := h.repo.GetStudentByID(*body.StudentID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to look up student"})
			return
		}
		if student == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "student not found"})
			return
		}
	}

	session, err := h.engine.CreateSession(c.Request.Context(), body.StudentID)
	if err != nil {
		log.Errorf("Failed to create liveness session: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create session"})
		return
	}

	c.JSON(http.StatusCreated, toSessionView(session))
}

// GetLivenessSession liefert den aktuellen Zustand einer Session
func (h *APIHandler) GetLivenessSession(c *gin.Context) {
	session, err := h.engine.GetSession(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondLivenessError(c, err)
		return
	}

	c.JSON(http.StatusOK, toSessionView(session))
}

// SubmitLivenessFrame verarbeitet ein Frame für einen Posen-Schritt
func (h *APIHandler) SubmitLivenessFrame(c *gin.Context) {
	position := liveness.Position(c.PostForm("position"))
	if !position.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "position must be one of center, left, right"})
		return
	}

	file, _, err := c.Request.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no frame uploaded or invalid form data"})
		return
	}
	defer file.Close()

	frame, err := io.ReadAll(file)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read frame"})
		return
	}

	result, err := h.engine.SubmitFrame(c.Request.Context(), c.Param("id"), position, frame)
	if err != nil {
		respondLivenessError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// ListStudents liefert alle Studenten
func (h *APIHandler) ListStudents(c *gin.Context) {
	students, err := h.repo.GetStudents()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load students"})
		return
	}
	c.JSON(http.StatusOK, students)
}

// CreateStudent legt einen neuen Studenten an
func (h *APIHandler) CreateStudent(c *gin.Context) {
	var body struct {
		Name       string `json:"name" binding:"required"`
		RollNumber string `json:"roll_number" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name and roll_number are required"})
		return
	}

	student := &models.Student{
		Name:       body.Name,
		RollNumber: body.RollNumber,
	}
	if err := h.repo.SaveStudent(student); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("failed to create student: %v", err)})
		return
	}

	c.JSON(http.StatusCreated, student)
}

// GetStudent liefert einen Studenten anhand seiner ID
func (h *APIHandler) GetStudent(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid student id"})
		return
	}

	student, err := h.repo.GetStudentByID(uint(id))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load student"})
		return
	}
	if student == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "student not found"})
		return
	}

	c.JSON(http.StatusOK, student)
}

// DeleteStudent löscht einen Studenten
func (h *APIHandler) DeleteStudent(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid student id"})
		return
	}

	if err := h.repo.DeleteStudent(uint(id)); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete student"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "student deleted"})
}

// GetAttendance liefert die Anwesenheiten eines Kalendertags.
// Ohne date-Parameter wird der heutige Tag in der konfigurierten Zeitzone
// verwendet.
func (h *APIHandler) GetAttendance(c *gin.Context) {
	day := timezone.DayOf(timezone.Now())

	if dateParam := c.Query("date"); dateParam != "" {
		parsed, err := time.ParseInLocation("2006-01-02", dateParam, timezone.Location())
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "date must be formatted as YYYY-MM-DD"})
			return
		}
		day = parsed
	}

	records, err := h.repo.GetAttendanceByDay(day)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load attendance"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"day":     day.Format("2006-01-02"),
		"records": records,
	})
}

// ListCameras liefert alle konfigurierten Kameras samt Laufstatus
func (h *APIHandler) ListCameras(c *gin.Context) {
	sources, err := h.repo.GetCameraSources(false)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load cameras"})
		return
	}

	type cameraView struct {
		models.CameraSource
		Running bool `json:"running"`
	}
	views := make([]cameraView, 0, len(sources))
	for _, source := range sources {
		views = append(views, cameraView{
			CameraSource: source,
			Running:      h.manager.IsRunning(source.ID),
		})
	}

	c.JSON(http.StatusOK, views)
}

// CreateCamera legt eine neue Kamera an
func (h *APIHandler) CreateCamera(c *gin.Context) {
	var body struct {
		Name     string `json:"name" binding:"required"`
		URI      string `json:"uri" binding:"required"`
		Location string `json:"location"`
		IsActive bool   `json:"is_active"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name and uri are required"})
		return
	}

	source := &models.CameraSource{
		Name:     body.Name,
		URI:      body.URI,
		Location: body.Location,
		IsActive: body.IsActive,
	}
	if err := h.repo.SaveCameraSource(source); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("failed to create camera: %v", err)})
		return
	}

	c.JSON(http.StatusCreated, source)
}

// StartCamera startet den Worker einer Kamera
func (h *APIHandler) StartCamera(c *gin.Context) {
	source := h.lookupCamera(c)
	if source == nil {
		return
	}

	if started := h.manager.Start(*source); !started {
		c.JSON(http.StatusOK, gin.H{"message": "camera is already running"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "camera started"})
}

// StopCamera beendet den Worker einer Kamera
func (h *APIHandler) StopCamera(c *gin.Context) {
	source := h.lookupCamera(c)
	if source == nil {
		return
	}

	if err := h.manager.Stop(source.ID); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "camera stopped"})
}

func (h *APIHandler) lookupCamera(c *gin.Context) *models.CameraSource {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid camera id"})
		return nil
	}

	source, err := h.repo.GetCameraSourceByID(uint(id))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load camera"})
		return nil
	}
	if source == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "camera not found"})
		return nil
	}
	return source
}
