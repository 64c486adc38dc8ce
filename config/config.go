package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// Config repräsentiert die Hauptkonfiguration der Anwendung
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Log         LogConfig         `mapstructure:"log"`
	DB          DBConfig          `mapstructure:"db"`
	Liveness    LivenessConfig    `mapstructure:"liveness"`
	Recognition RecognitionConfig `mapstructure:"recognition"`
	Camera      CameraConfig      `mapstructure:"camera"`
	Sessions    SessionsConfig    `mapstructure:"sessions"`
	MQTT        MQTTConfig        `mapstructure:"mqtt"`
	Cleanup     CleanupConfig     `mapstructure:"cleanup"`
}

// ServerConfig enthält Server-bezogene Einstellungen
type ServerConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	DataDir  string `mapstructure:"data_dir"`
	PhotoDir string `mapstructure:"photo_dir"` // Registrierungsfotos nach erfolgreichem Enrollment
	Timezone string `mapstructure:"timezone"`
}

// LogConfig enthält Log-Einstellungen
type LogConfig struct {
	Level string `mapstructure:"level"`
	File  string `mapstructure:"file"`
}

// DBConfig enthält Datenbankeinstellungen
type DBConfig struct {
	File string `mapstructure:"file"` // SQLite-Datei
}

// LivenessConfig enthält alle Schwellenwerte für die Liveness-Prüfung.
// Die Werte waren im Altsystem über mehrere Dateien verstreut und teils
// widersprüchlich; diese Sektion ist die einzige verbindliche Quelle.
type LivenessConfig struct {
	SessionTTLMinutes    int     `mapstructure:"session_ttl_minutes"`
	CenterThreshold      float64 `mapstructure:"center_threshold"`       // normalisierter Yaw für "center"
	SideThreshold        float64 `mapstructure:"side_threshold"`         // normalisierter Yaw für "left"/"right"
	SideSaturation       float64 `mapstructure:"side_saturation"`        // Offset über der Schwelle für Konfidenz 1.0
	PersonSimilarityMin  float64 `mapstructure:"person_similarity_min"`  // minimale Identitäts-Ähnlichkeit
	MovementDiffMin      float64 `mapstructure:"movement_diff_min"`      // minimale Links/Rechts-Differenz
	SweepIntervalMinutes int     `mapstructure:"sweep_interval_minutes"` // 0 = kein Hintergrund-Sweeper
}

// RecognitionConfig enthält Einstellungen für den Gesichtserkennungs-Dienst
type RecognitionConfig struct {
	URL                string  `mapstructure:"url"`                  // Basis-URL des Detektor/Embedding-Dienstes
	DetectionThreshold float64 `mapstructure:"detection_threshold"`  // minimale Detektionskonfidenz
	ConfidenceFloor    float64 `mapstructure:"confidence_floor"`     // unterhalb wird keine Anwesenheit geschrieben
	ModelVersion       string  `mapstructure:"model_version"`        // Versionskennung des Embedding-Modells
	RequestTimeoutSecs int     `mapstructure:"request_timeout_secs"` // Timeout pro Inferenz-Aufruf
}

// CameraConfig enthält Einstellungen für die Kamera-Pipeline
type CameraConfig struct {
	TargetFPS         float64 `mapstructure:"target_fps"`
	OpenAttempts      int     `mapstructure:"open_attempts"`
	OpenRetryDelaySec int     `mapstructure:"open_retry_delay_sec"`
	ReconnectAttempts int     `mapstructure:"reconnect_attempts"`
	IdleRetrySec      int     `mapstructure:"idle_retry_sec"` // Pause nach erschöpften Reconnects
	StopTimeoutSec    int     `mapstructure:"stop_timeout_sec"`
}

// SessionsConfig wählt das Backend für den Session-Store
type SessionsConfig struct {
	Backend string      `mapstructure:"backend"` // "memory" oder "redis"
	Redis   RedisConfig `mapstructure:"redis"`
}

// RedisConfig enthält die Verbindung zum Redis-Server
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// MQTTConfig enthält die Konfiguration für den MQTT-Client
type MQTTConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Broker   string `mapstructure:"broker"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	ClientID string `mapstructure:"client_id"`
	Topic    string `mapstructure:"topic"` // Basis-Topic für Anwesenheits-Events
}

// CleanupConfig enthält Bereinigungseinstellungen
type CleanupConfig struct {
	RetentionDays int `mapstructure:"retention_days"`
}

// SessionTTL gibt die Session-Lebensdauer als Duration zurück
func (c LivenessConfig) SessionTTL() time.Duration {
	return time.Duration(c.SessionTTLMinutes) * time.Minute
}

// FrameInterval gibt den Mindestabstand zwischen zwei verarbeiteten Frames zurück
func (c CameraConfig) FrameInterval() time.Duration {
	if c.TargetFPS <= 0 {
		return 100 * time.Millisecond
	}
	return time.Duration(float64(time.Second) / c.TargetFPS)
}

// Load lädt die Konfiguration aus Datei, Umgebungsvariablen und Standardwerten
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			log.Warnf("Config file %s does not exist, using defaults", configPath)
		} else {
			v.SetConfigFile(configPath)
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
			log.Infof("Config loaded from %s", configPath)
		}
	}

	// Umgebungsvariablen überlagern die Konfiguration
	v.AutomaticEnv()
	v.SetEnvPrefix("FACE_ATTENDANCE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := ensureDirectories(&cfg); err != nil {
		return nil, fmt.Errorf("failed to create required directories: %w", err)
	}

	return &cfg, nil
}

// setDefaults legt Standardwerte für die Konfiguration fest
func setDefaults(v *viper.Viper) {
	// Server-Standardwerte
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 3000)
	v.SetDefault("server.data_dir", "/data")
	v.SetDefault("server.photo_dir", "/data/photos")
	v.SetDefault("server.timezone", "UTC")

	// Log-Standardwerte
	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "/data/logs/face-attendance.log")

	// DB-Standardwerte
	v.SetDefault("db.file", "/data/face-attendance.db")

	// Liveness-Standardwerte
	v.SetDefault("liveness.session_ttl_minutes", 10)
	v.SetDefault("liveness.center_threshold", 0.15)
	v.SetDefault("liveness.side_threshold", 0.25)
	v.SetDefault("liveness.side_saturation", 0.5)
	v.SetDefault("liveness.person_similarity_min", 0.7)
	v.SetDefault("liveness.movement_diff_min", 0.1)
	v.SetDefault("liveness.sweep_interval_minutes", 5)

	// Recognition-Standardwerte
	v.SetDefault("recognition.url", "http://localhost:18081")
	v.SetDefault("recognition.detection_threshold", 0.5)
	v.SetDefault("recognition.confidence_floor", 0.7)
	v.SetDefault("recognition.model_version", "buffalo_l")
	v.SetDefault("recognition.request_timeout_secs", 30)

	// Kamera-Standardwerte
	v.SetDefault("camera.target_fps", 10.0)
	v.SetDefault("camera.open_attempts", 3)
	v.SetDefault("camera.open_retry_delay_sec", 1)
	v.SetDefault("camera.reconnect_attempts", 3)
	v.SetDefault("camera.idle_retry_sec", 30)
	v.SetDefault("camera.stop_timeout_sec", 5)

	// Session-Store-Standardwerte
	v.SetDefault("sessions.backend", "memory")
	v.SetDefault("sessions.redis.addr", "localhost:6379")
	v.SetDefault("sessions.redis.db", 0)

	// MQTT-Standardwerte
	v.SetDefault("mqtt.enabled", false)
	v.SetDefault("mqtt.port", 1883)
	v.SetDefault("mqtt.client_id", "face-attendance-go")
	v.SetDefault("mqtt.topic", "face-attendance")

	// Cleanup-Standardwerte
	v.SetDefault("cleanup.retention_days", 30)
}

// ensureDirectories stellt sicher, dass alle erforderlichen Verzeichnisse existieren
func ensureDirectories(cfg *Config) error {
	if cfg.Server.DataDir != "" {
		if err := os.MkdirAll(cfg.Server.DataDir, 0755); err != nil {
			return fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	if cfg.Server.PhotoDir != "" {
		if err := os.MkdirAll(cfg.Server.PhotoDir, 0755); err != nil {
			return fmt.Errorf("failed to create photo directory: %w", err)
		}
	}

	logDir := filepath.Dir(cfg.Log.File)
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}

	if cfg.DB.File != "" {
		dbDir := filepath.Dir(cfg.DB.File)
		if err := os.MkdirAll(dbDir, 0755); err != nil {
			return fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	return nil
}
