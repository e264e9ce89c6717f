// Package config loads the server configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is the full server configuration. Every field has a default;
// only the detector paths are required to serve detection, and only the
// voice URL is required to serve sessions at all.
type Config struct {
	Addr string

	// session
	CredentialWait time.Duration
	Keepalive      time.Duration
	WriteTimeout   time.Duration
	ShutdownGrace  time.Duration

	// audio
	QueueCapacity   int
	OpusBitrate     int
	OpusComplexity  int
	OpusDTX         bool
	MetricsInterval int
	AudioLogDir     string

	// detection
	SamplerMaxFPS       int
	DetectorCommand     string
	DetectorArgs        string
	DetectorLabels      string
	DetectorConfidence  float64
	FallbackMinInterval time.Duration
	FallbackEdge        int
	GeminiAPIKey        string
	GeminiModel         string

	// voice service
	VoiceURL          string
	VoiceModel        string
	VoiceInstructions string

	// history store
	DatabaseURL string
}

// LoadFromEnv reads CM_* variables, applying defaults for anything
// unset.
func LoadFromEnv() (*Config, error) {
	cfg := &Config{
		Addr: envOr("CM_ADDR", ":8080"),

		CredentialWait: envDurationOr("CM_CREDENTIAL_WAIT", 10*time.Second),
		Keepalive:      envDurationOr("CM_KEEPALIVE", 30*time.Second),
		WriteTimeout:   envDurationOr("CM_WRITE_TIMEOUT", 5*time.Second),
		ShutdownGrace:  envDurationOr("CM_SHUTDOWN_GRACE", 10*time.Second),

		QueueCapacity:   envIntOr("CM_AUDIO_QUEUE_CAPACITY", 200),
		OpusBitrate:     envIntOr("CM_OPUS_BITRATE", 64000),
		OpusComplexity:  envIntOr("CM_OPUS_COMPLEXITY", 10),
		OpusDTX:         envBoolOr("CM_OPUS_DTX", false),
		MetricsInterval: envIntOr("CM_AUDIO_METRICS_INTERVAL", 100),
		AudioLogDir:     envOr("CM_AUDIO_LOG_DIR", ""),

		SamplerMaxFPS:       envIntOr("CM_SAMPLER_MAX_FPS", 10),
		DetectorCommand:     envOr("CM_DETECTOR_CMD", ""),
		DetectorArgs:        envOr("CM_DETECTOR_ARGS", ""),
		DetectorLabels:      envOr("CM_DETECTOR_LABELS", ""),
		DetectorConfidence:  envFloatOr("CM_DETECTOR_CONFIDENCE", 0.8),
		FallbackMinInterval: envDurationOr("CM_FALLBACK_MIN_INTERVAL", 5*time.Second),
		FallbackEdge:        envIntOr("CM_FALLBACK_EDGE", 512),
		GeminiAPIKey:        envOr("GEMINI_API_KEY", ""),
		GeminiModel:         envOr("CM_GEMINI_MODEL", "gemini-2.0-flash"),

		VoiceURL:          envOr("CM_VOICE_URL", "wss://api.openai.com/v1/realtime"),
		VoiceModel:        envOr("CM_VOICE_MODEL", "gpt-4o-realtime-preview"),
		VoiceInstructions: envOr("CM_VOICE_INSTRUCTIONS", defaultInstructions),

		DatabaseURL: envOr("CM_DATABASE_URL", ""),
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

const defaultInstructions = "You are a friendly cooking assistant. " +
	"Help the user cook with the ingredients they have on hand, " +
	"one short spoken step at a time."

func (c *Config) validate() error {
	if c.Addr == "" {
		return fmt.Errorf("config: CM_ADDR must not be empty")
	}
	if c.VoiceURL == "" {
		return fmt.Errorf("config: CM_VOICE_URL must not be empty")
	}
	if c.DetectorConfidence < 0 || c.DetectorConfidence > 1 {
		return fmt.Errorf("config: CM_DETECTOR_CONFIDENCE %v outside [0,1]", c.DetectorConfidence)
	}
	if c.QueueCapacity <= 0 {
		return fmt.Errorf("config: CM_AUDIO_QUEUE_CAPACITY must be positive")
	}
	if c.DetectorCommand != "" && c.DetectorLabels == "" {
		return fmt.Errorf("config: CM_DETECTOR_LABELS required when CM_DETECTOR_CMD is set")
	}
	return nil
}

// LoadEnvFile merges KEY=VALUE lines from a dotenv-style file into the
// environment for local development. Real environment variables win; a
// missing file is fine.
func LoadEnvFile(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("config: read env file %q: %w", path, err)
	}
	for _, line := range strings.Split(string(b), "\n") {
		line = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), "export "))
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, val, ok := strings.Cut(line, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			continue
		}
		if _, exists := os.LookupEnv(key); exists {
			continue
		}
		val = strings.TrimSpace(val)
		val = strings.Trim(val, `"'`)
		if err := os.Setenv(key, val); err != nil {
			return fmt.Errorf("config: set %q from %q: %w", key, path, err)
		}
	}
	return nil
}

func envOr(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envFloatOr(key string, fallback float64) float64 {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

func envBoolOr(key string, fallback bool) bool {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func envDurationOr(key string, fallback time.Duration) time.Duration {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
