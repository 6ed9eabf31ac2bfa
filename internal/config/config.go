package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config aggregates everything the widget core and its tools read
// from the environment.
type Config struct {
	Server  ServerConfig
	Backend BackendConfig
	Voice   VoiceConfig
}

// Load parses configuration from environment variables.
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	backend, err := loadBackendConfig()
	if err != nil {
		return nil, err
	}

	voice, err := loadVoiceConfig()
	if err != nil {
		return nil, err
	}

	return &Config{Server: server, Backend: backend, Voice: voice}, nil
}

// ServerConfig is the listen address for the stub server tool.
type ServerConfig struct {
	Addr string
}

func loadServerConfig() (ServerConfig, error) {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8080"
	}

	if strings.Contains(port, ":") {
		// Allow passing ":8080" or "127.0.0.1:8080" directly.
		return ServerConfig{Addr: port}, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	return ServerConfig{Addr: ":" + port}, nil
}

// BackendConfig points the clients at the chat backend.
type BackendConfig struct {
	BaseURL      string
	WebsocketURL string
	Language     string
	// TrailerPrefix overrides the suggested-questions trailer marker
	// stripped from streamed text.
	TrailerPrefix string
	Timeout       time.Duration
}

func loadBackendConfig() (BackendConfig, error) {
	timeoutSeconds := 60
	if override, err := parseOptionalIntEnv("CHAT_TIMEOUT"); err != nil {
		return BackendConfig{}, err
	} else if override != nil {
		if *override < 1 {
			return BackendConfig{}, fmt.Errorf("CHAT_TIMEOUT must be positive, got %d", *override)
		}
		timeoutSeconds = *override
	}

	return BackendConfig{
		BaseURL:       getEnvOrDefault("CHAT_BASE_URL", "http://localhost:8080"),
		WebsocketURL:  strings.TrimSpace(os.Getenv("CHAT_WS_URL")),
		Language:      getEnvOrDefault("CHAT_LANGUAGE", "sr"),
		TrailerPrefix: strings.TrimSpace(os.Getenv("CHAT_TRAILER_PREFIX")),
		Timeout:       time.Duration(timeoutSeconds) * time.Second,
	}, nil
}

// VoiceConfig tunes the capture silence watchdog.
type VoiceConfig struct {
	SilenceWindow    time.Duration
	SilenceThreshold float64
	MIMEType         string
}

func loadVoiceConfig() (VoiceConfig, error) {
	windowMs := 5000
	if override, err := parseOptionalIntEnv("VOICE_SILENCE_WINDOW_MS"); err != nil {
		return VoiceConfig{}, err
	} else if override != nil {
		if *override < 1 {
			return VoiceConfig{}, fmt.Errorf("VOICE_SILENCE_WINDOW_MS must be positive, got %d", *override)
		}
		windowMs = *override
	}

	threshold := 0.0
	if override, err := parseOptionalFloatEnv("VOICE_SILENCE_THRESHOLD"); err != nil {
		return VoiceConfig{}, err
	} else if override != nil {
		threshold = *override
	}

	return VoiceConfig{
		SilenceWindow:    time.Duration(windowMs) * time.Millisecond,
		SilenceThreshold: threshold,
		MIMEType:         getEnvOrDefault("VOICE_MIME_TYPE", "audio/mp4"),
	}, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func parseOptionalFloatEnv(key string) (*float64, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

func parseOptionalIntEnv(key string) (*int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}
