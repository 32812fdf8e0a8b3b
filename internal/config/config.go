package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds everything the service reads from the environment.
type Config struct {
	Port        string
	DatabaseURL string
	AuthSecret  string

	// Upstream recognition service (AssemblyAI realtime).
	UpstreamURL        string
	UpstreamAPIKey     string
	SampleRate         int
	UpstreamSendBuffer int

	// Local blob store root for persisted audio frames.
	AudioDir string

	// Session lifecycle policy.
	IdleTimeout       time.Duration
	IdleCheckInterval time.Duration
	FinalizeTimeout   time.Duration

	// When true a session finalizes after the first final transcript
	// (one utterance per session). Default is finalize on close only.
	FinalizeOnFinalTranscript bool
}

// Load reads configuration from the environment. Call godotenv.Load
// first if a .env file should be honored.
func Load() (*Config, error) {
	cfg := &Config{
		Port:                      getEnv("PORT", "8080"),
		DatabaseURL:               os.Getenv("DATABASE_URL"),
		AuthSecret:                os.Getenv("AUTH_SECRET"),
		UpstreamURL:               getEnv("ASSEMBLY_AI_URL", "wss://api.assemblyai.com/v2/realtime/ws"),
		UpstreamAPIKey:            os.Getenv("ASSEMBLY_AI_KEY"),
		AudioDir:                  getEnv("AUDIO_DIR", "/var/lib/voicejournal/audio"),
		FinalizeOnFinalTranscript: getEnv("FINALIZE_ON_FINAL_TRANSCRIPT", "false") == "true",
	}

	var err error
	if cfg.SampleRate, err = getEnvInt("SAMPLE_RATE", 16000); err != nil {
		return nil, err
	}
	if cfg.UpstreamSendBuffer, err = getEnvInt("UPSTREAM_SEND_BUFFER", 64); err != nil {
		return nil, err
	}
	if cfg.IdleTimeout, err = getEnvDuration("SESSION_IDLE_TIMEOUT", 5*time.Minute); err != nil {
		return nil, err
	}
	if cfg.IdleCheckInterval, err = getEnvDuration("SESSION_IDLE_CHECK_INTERVAL", 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.FinalizeTimeout, err = getEnvDuration("FINALIZE_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT must not be empty")
	}
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is not set")
	}
	if c.AuthSecret == "" {
		return fmt.Errorf("AUTH_SECRET is not set")
	}
	if c.UpstreamAPIKey == "" {
		return fmt.Errorf("ASSEMBLY_AI_KEY is not set")
	}
	if c.UpstreamURL == "" {
		return fmt.Errorf("ASSEMBLY_AI_URL must not be empty")
	}
	if c.SampleRate <= 0 {
		return fmt.Errorf("SAMPLE_RATE must be positive, got %d", c.SampleRate)
	}
	if c.UpstreamSendBuffer <= 0 {
		return fmt.Errorf("UPSTREAM_SEND_BUFFER must be positive, got %d", c.UpstreamSendBuffer)
	}
	if c.AudioDir == "" {
		return fmt.Errorf("AUDIO_DIR must not be empty")
	}
	if c.IdleTimeout <= 0 {
		return fmt.Errorf("SESSION_IDLE_TIMEOUT must be positive, got %s", c.IdleTimeout)
	}
	if c.IdleCheckInterval <= 0 {
		return fmt.Errorf("SESSION_IDLE_CHECK_INTERVAL must be positive, got %s", c.IdleCheckInterval)
	}
	if c.FinalizeTimeout <= 0 {
		return fmt.Errorf("FINALIZE_TIMEOUT must be positive, got %s", c.FinalizeTimeout)
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}
