// Package config defines service configuration structures and loading hooks.
//
// Conventions:
//   - New() returns a Config populated with defaults.
//   - Load layers defaults, an optional YAML file and PROCTOR_ environment variables.
//   - Nested sections are addressed with a double underscore in env names,
//     e.g. PROCTOR_DETECTION__GAZE_DWELL=4s.
package config

import (
	"fmt"
	"runtime"
	"strings"
	"time"
)

// Default configuration constants.
const (
	minJWTSecretLen = 16
)

// Config contains process configuration for both the backend and the agent.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`
	// LogFormat selects text or json output.
	LogFormat string `koanf:"log_format"`
	// Addr configures the HTTP listen address, e.g. ":9080".
	Addr string `koanf:"addr"`

	// DataDir is where the badger store keeps its files.
	DataDir string `koanf:"data_dir"`
	// InMemory keeps the store in memory only.
	InMemory bool `koanf:"in_memory"`
	// EvidenceDir stores uploaded screenshots.
	EvidenceDir string `koanf:"evidence_dir"`
	// RecordingsDir stores appended video chunks.
	RecordingsDir string `koanf:"recordings_dir"`
	// PublicURL prefixes evidence URLs handed back to clients.
	PublicURL string `koanf:"public_url"`

	// JWTSecret signs and verifies bearer tokens.
	JWTSecret string `koanf:"jwt_secret"`
	// TokenTTL bounds issued token lifetime.
	TokenTTL time.Duration `koanf:"token_ttl"`

	// CORSOrigins lists dashboard origins allowed to call the API.
	CORSOrigins []string `koanf:"cors_origins"`
	// RateLimit caps requests per RateWindow per client IP on ingest routes.
	RateLimit  int           `koanf:"rate_limit"`
	RateWindow time.Duration `koanf:"rate_window"`
	// MaxChunkBytes caps a single video chunk or evidence upload.
	MaxChunkBytes int64 `koanf:"max_chunk_bytes"`
	// LiveBuffer bounds pending alerts per dashboard connection.
	LiveBuffer int `koanf:"live_buffer"`

	Scoring   ScoringConfig   `koanf:"scoring"`
	Detection DetectionConfig `koanf:"detection"`
	Agent     AgentConfig     `koanf:"agent"`
}

// ScoringConfig parameterises the integrity score.
type ScoringConfig struct {
	PenaltyPerEvent int `koanf:"penalty_per_event"`
	MaxIntegrity    int `koanf:"max_integrity"`
}

// DetectionConfig overrides classifier constants. Zero values leave the
// classifier's own default in place.
type DetectionConfig struct {
	RateLimit       time.Duration `koanf:"rate_limit"`
	FaceAbsentDwell time.Duration `koanf:"face_absent_dwell"`
	GazeDwell       time.Duration `koanf:"gaze_dwell"`
	DrowsyDwell     time.Duration `koanf:"drowsy_dwell"`
	EARThreshold    float64       `koanf:"ear_threshold"`
	AudioThreshold  float64       `koanf:"audio_threshold"`
	GazeMargin      float64       `koanf:"gaze_margin"`
}

// AgentConfig configures the candidate-side session.
type AgentConfig struct {
	ServerURL        string        `koanf:"server_url"`
	OutboxSize       int           `koanf:"outbox_size"`
	Workers          int           `koanf:"workers"`
	VisualInterval   time.Duration `koanf:"visual_interval"`
	LandmarkInterval time.Duration `koanf:"landmark_interval"`
	AudioInterval    time.Duration `koanf:"audio_interval"`
	ChunkInterval    time.Duration `koanf:"chunk_interval"`
	ExamDuration     time.Duration `koanf:"exam_duration"`
	RequestTimeout   time.Duration `koanf:"request_timeout"`
}

// New creates a Config populated with defaults.
func New() *Config {
	return &Config{
		LogLevel:      "info",
		LogFormat:     "text",
		Addr:          ":9080",
		DataDir:       "data",
		EvidenceDir:   "evidence",
		RecordingsDir: "recordings",
		PublicURL:     "http://localhost:9080",
		JWTSecret:     "change-me-in-production-please",
		TokenTTL:      12 * time.Hour,
		CORSOrigins: []string{
			"http://localhost:3000",
			"http://localhost:5000",
		},
		RateLimit:     600,
		RateWindow:    time.Minute,
		MaxChunkBytes: 32 << 20,
		LiveBuffer:    256,
		Scoring: ScoringConfig{
			PenaltyPerEvent: 5,
			MaxIntegrity:    100,
		},
		Agent: AgentConfig{
			ServerURL:        "http://localhost:9080",
			OutboxSize:       1024,
			Workers:          runtime.NumCPU(),
			VisualInterval:   time.Second,
			LandmarkInterval: 500 * time.Millisecond,
			AudioInterval:    2 * time.Second,
			ChunkInterval:    5 * time.Second,
			ExamDuration:     time.Hour,
			RequestTimeout:   10 * time.Second,
		},
	}
}

// Validate rejects configurations the services cannot run with.
func (c *Config) Validate() error {
	switch {
	case strings.TrimSpace(c.Addr) == "":
		return fmt.Errorf("%w: addr must not be empty", ErrInvalidConfig)
	case len(c.JWTSecret) < minJWTSecretLen:
		return fmt.Errorf("%w: jwt_secret must be at least %d bytes", ErrInvalidConfig, minJWTSecretLen)
	case c.Scoring.PenaltyPerEvent <= 0:
		return fmt.Errorf("%w: scoring.penalty_per_event must be positive", ErrInvalidConfig)
	case c.Scoring.MaxIntegrity <= 0:
		return fmt.Errorf("%w: scoring.max_integrity must be positive", ErrInvalidConfig)
	}
	return nil
}
