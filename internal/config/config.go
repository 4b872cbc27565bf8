// Package config provides configuration loading and validation for the
// studio server. Values come from the environment; credentials are checked
// lazily so the server can start without every upstream configured.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Defaults used when the corresponding environment variable is unset.
const (
	DefaultPort           = 8000
	DefaultContentDir     = "content"
	DefaultImageModel     = "gemini-2.0-flash-exp"
	DefaultImageFallback  = "imagen-3.0-generate-002"
	DefaultTextModel      = "gemini-2.0-flash-exp"
	DefaultMeshBaseURL    = "https://api.meshy.ai/openapi/v1"
	DefaultVideoBaseURL   = "https://api.openai.com/v1"
	DefaultBatchBaseURL   = "https://generativelanguage.googleapis.com/v1beta"
	DefaultBatchModel     = "gemini-3-pro-image-preview"
	DefaultUpstreamWait   = 120 * time.Second
	DefaultMaxConcurrent  = 2
	DefaultCallsPerSecond = 1.0
)

// Config holds the runtime configuration for the studio server.
type Config struct {
	Port          int
	ContentDir    string
	PublicBaseURL string // prefix for served artifact URLs, e.g. http://localhost:8000

	// Generation backends
	GeminiAPIKey       string
	ImageModel         string
	ImageFallbackModel string // empty disables the fallback hop
	TextModel          string

	// Async job backends
	MeshBaseURL  string
	MeshAPIKey   string
	VideoBaseURL string
	VideoAPIKey  string
	BatchBaseURL string // poster batch jobs; authenticated with GeminiAPIKey
	BatchModel   string

	// Upstream call limits
	UpstreamTimeout time.Duration
	MaxConcurrent   int64
	CallsPerSecond  float64

	LogLevel  string
	LogFormat string
}

// MissingCredentialError reports an absent credential at the moment a call
// that needs it is attempted.
type MissingCredentialError struct {
	Var string
}

func (e *MissingCredentialError) Error() string {
	return fmt.Sprintf("required credential %s is not set", e.Var)
}

// FromEnv builds a Config from the process environment, applying defaults
// for everything that is unset.
func FromEnv() *Config {
	cfg := &Config{
		Port:               envInt("PORT", DefaultPort),
		ContentDir:         envString("CONTENT_DIR", DefaultContentDir),
		PublicBaseURL:      envString("PUBLIC_BASE_URL", ""),
		GeminiAPIKey:       os.Getenv("GEMINI_API_KEY"),
		ImageModel:         envString("IMAGE_MODEL", DefaultImageModel),
		ImageFallbackModel: envString("IMAGE_FALLBACK_MODEL", DefaultImageFallback),
		TextModel:          envString("TEXT_MODEL", DefaultTextModel),
		MeshBaseURL:        envString("MESH_BASE_URL", DefaultMeshBaseURL),
		MeshAPIKey:         os.Getenv("MESH_API_KEY"),
		VideoBaseURL:       envString("VIDEO_BASE_URL", DefaultVideoBaseURL),
		VideoAPIKey:        os.Getenv("VIDEO_API_KEY"),
		BatchBaseURL:       envString("BATCH_BASE_URL", DefaultBatchBaseURL),
		BatchModel:         envString("BATCH_MODEL", DefaultBatchModel),
		UpstreamTimeout:    envDuration("UPSTREAM_TIMEOUT", DefaultUpstreamWait),
		MaxConcurrent:      int64(envInt("MAX_CONCURRENT_GENERATIONS", DefaultMaxConcurrent)),
		CallsPerSecond:     envFloat("GENERATION_CALLS_PER_SECOND", DefaultCallsPerSecond),
		LogLevel:           envString("LOG_LEVEL", "info"),
		LogFormat:          envString("LOG_FORMAT", "json"),
	}
	if cfg.PublicBaseURL == "" {
		cfg.PublicBaseURL = fmt.Sprintf("http://localhost:%d", cfg.Port)
	}
	return cfg
}

// Validate checks that the configuration has usable values. Credentials are
// deliberately not required here; see the Require* accessors.
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("config error: port %d out of range", c.Port)
	}
	if c.ContentDir == "" {
		return fmt.Errorf("config error: content dir is empty")
	}
	if c.UpstreamTimeout <= 0 {
		return fmt.Errorf("config error: upstream timeout must be positive")
	}
	if c.MaxConcurrent < 1 {
		return fmt.Errorf("config error: max concurrent generations must be at least 1")
	}
	if c.CallsPerSecond <= 0 {
		return fmt.Errorf("config error: generation calls per second must be positive")
	}
	return nil
}

// RequireGeminiKey returns the Gemini API key or a MissingCredentialError.
func (c *Config) RequireGeminiKey() (string, error) {
	if c.GeminiAPIKey == "" {
		return "", &MissingCredentialError{Var: "GEMINI_API_KEY"}
	}
	return c.GeminiAPIKey, nil
}

// RequireMeshKey returns the mesh backend key or a MissingCredentialError.
func (c *Config) RequireMeshKey() (string, error) {
	if c.MeshAPIKey == "" {
		return "", &MissingCredentialError{Var: "MESH_API_KEY"}
	}
	return c.MeshAPIKey, nil
}

// RequireVideoKey returns the video backend key or a MissingCredentialError.
func (c *Config) RequireVideoKey() (string, error) {
	if c.VideoAPIKey == "" {
		return "", &MissingCredentialError{Var: "VIDEO_API_KEY"}
	}
	return c.VideoAPIKey, nil
}

func envString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
