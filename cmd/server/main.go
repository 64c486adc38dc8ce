package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"face-attendance-go/config"
	"face-attendance-go/internal/api/handlers"
	"face-attendance-go/internal/camera"
	"face-attendance-go/internal/core/attendance"
	"face-attendance-go/internal/core/liveness"
	"face-attendance-go/internal/core/recognition"
	"face-attendance-go/internal/db"
	"face-attendance-go/internal/db/repository"
	"face-attendance-go/internal/integrations/insightface"
	"face-attendance-go/internal/integrations/mqtt"
	"face-attendance-go/internal/logger"
	"face-attendance-go/internal/server/sse"
	"face-attendance-go/internal/services/cleanup"
	"face-attendance-go/internal/services/enrollment"
	"face-attendance-go/internal/util/timezone"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

func main() {
	configPath := flag.String("config", "/config/config.yaml", "Pfad zur Konfigurationsdatei")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize logger
	if err := logger.Init(cfg.Log); err != nil {
		log.Errorf("Failed to initialize logger completely: %v", err)
	}

	// Initialize timezone handling
	timezone.Initialize(cfg.Server.Timezone)

	// Initialize database connection
	log.Info("Initializing database...")
	database, err := db.Initialize(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	log.Info("Database initialization complete.")

	repo := repository.NewSQLiteRepository(database)

	// Initialize face pipeline (external detector/embedding service)
	pipeline := insightface.NewService(cfg.Recognition)
	if !pipeline.IsAvailable(context.Background()) {
		log.Warnf("Face pipeline at %s is not reachable yet, continuing anyway", cfg.Recognition.URL)
	}

	// Initialize known-face matcher
	matcher := recognition.NewMatcher(repo, cfg.Recognition.DetectionThreshold)
	if err := matcher.Reload(context.Background()); err != nil {
		log.Errorf("Failed to load known faces: %v", err)
	}

	// Select the session store backend
	store, err := buildSessionStore(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize session store: %v", err)
	}

	// Initialize liveness engine
	engine := liveness.NewEngine(cfg.Liveness, store, pipeline)
	engine.SetObserver(enrollment.NewService(repo, matcher, cfg.Recognition.ModelVersion))

	// SSE hub for realtime updates
	sseHub := sse.NewHub()
	go sseHub.Run()

	// MQTT publisher if enabled
	publishers := camera.MultiPublisher{sseHub}
	mqttClient := mqtt.NewClient(cfg.MQTT)
	if cfg.MQTT.Enabled {
		if err := mqttClient.Start(); err != nil {
			log.Warnf("Failed to start MQTT client: %v. Continuing without MQTT.", err)
		} else {
			publishers = append(publishers, mqttClient)
			defer mqttClient.Stop()
		}
	} else {
		log.Info("MQTT is disabled in config.")
	}

	// Attendance deduplication and camera workers
	deduper := attendance.NewDeduper(repo, cfg.Recognition.ConfidenceFloor)
	manager := camera.NewManager(cfg.Camera, nil, pipeline, matcher, deduper, repo, publishers)
	if err := manager.StartAllActive(); err != nil {
		log.Errorf("Failed to start active cameras: %v", err)
	}
	defer manager.StopAll()

	// Background services
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cleanupService := cleanup.NewCleanupService(database, cfg.Cleanup)
	go cleanupService.Start(ctx)

	if cfg.Liveness.SweepIntervalMinutes > 0 {
		go runExpirySweeper(ctx, engine, time.Duration(cfg.Liveness.SweepIntervalMinutes)*time.Minute)
	}

	// --- Setup Router ---
	router := gin.New()
	router.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowAllOrigins = true
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Accept", "Authorization"}
	router.Use(cors.New(corsConfig))

	api := router.Group("/api")
	handlers.NewAPIHandler(cfg, repo, engine, manager, matcher, pipeline).RegisterRoutes(api)
	handlers.NewSystemHandler(repo, manager, matcher, pipeline, sseHub).RegisterRoutes(api)

	// --- Start HTTP Server ---
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	go func() {
		log.Infof("Server listening on %s", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP server failed: %v", err)
		}
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Errorf("Server shutdown failed: %v", err)
	}
}

// buildSessionStore wählt das konfigurierte Backend für die Liveness-Sessions
func buildSessionStore(cfg *config.Config) (liveness.Store, error) {
	switch cfg.Sessions.Backend {
	case "", "memory":
		log.Info("Using in-memory session store")
		return liveness.NewMemoryStore(), nil
	case "redis":
		store, err := liveness.NewRedisStore(context.Background(), cfg.Sessions.Redis, cfg.Liveness.SessionTTL())
		if err != nil {
			return nil, err
		}
		log.Infof("Using redis session store at %s", cfg.Sessions.Redis.Addr)
		return store, nil
	default:
		return nil, fmt.Errorf("unknown session backend %q", cfg.Sessions.Backend)
	}
}

// runExpirySweeper kippt abgelaufene Sessions periodisch nach EXPIRED
func runExpirySweeper(ctx context.Context, engine *liveness.Engine, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.Infof("Session expiry sweeper running every %s", interval)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			engine.SweepExpired(ctx)
		}
	}
}
