package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Load reads .env style files into the process environment. Variables that
// are already set win. With no paths, ".env" is used; a missing file is an
// error the caller may ignore.
func Load(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	return godotenv.Load(paths...)
}

// GetEnv returns the value of the environment variable named by key, or fallback
// if the variable is unset or empty.
func GetEnv(key, fallback string) string {
	if s := os.Getenv(key); s != "" {
		return s
	}
	return fallback
}

// GetEnvInt returns the integer value of the environment variable named by key,
// or fallback if the variable is unset, empty, or not a valid integer.
func GetEnvInt(key string, fallback int) int {
	if s := os.Getenv(key); s != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(s)); err == nil {
			return n
		}
	}
	return fallback
}

// GetEnvBool returns the boolean value of the environment variable named by
// key, or fallback if the variable is unset, empty, or not a valid boolean.
func GetEnvBool(key string, fallback bool) bool {
	if s := strings.TrimSpace(os.Getenv(key)); s != "" {
		if b, err := strconv.ParseBool(s); err == nil {
			return b
		}
	}
	return fallback
}

// GetEnvDuration parses a Go duration ("5s", "1m30s"). A bare integer is
// read as seconds. Invalid or non-positive values yield fallback.
func GetEnvDuration(key string, fallback time.Duration) time.Duration {
	s := strings.TrimSpace(os.Getenv(key))
	if s == "" {
		return fallback
	}
	if n, err := strconv.Atoi(s); err == nil {
		if n <= 0 {
			return fallback
		}
		return time.Duration(n) * time.Second
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// Config is the process configuration read from the environment.
type Config struct {
	Port      string
	LogLevel  string
	LogFormat string

	BackendURL string
	// SourceID is nil when capture is disabled.
	SourceID         *int
	Autostart        bool
	PollInterval     time.Duration
	FetchTimeout     time.Duration
	AcquireTimeout   time.Duration
	Capacity         int
	FieldMappingFile string
	// Location is the zone of backend timestamps that carry no offset.
	Location *time.Location

	MQTTBroker   string
	MQTTTopic    string
	MQTTClientID string
	MQTTUsername string
	MQTTPassword string
}

// FromEnv builds a Config from the environment, applying defaults.
// It fails when CAPTURE_SOURCE_ID is set to something other than an
// integer or the empty string, or when TIMEZONE names no known zone.
func FromEnv() (Config, error) {
	cfg := Config{
		Port:             GetEnv("PORT", "8080"),
		LogLevel:         GetEnv("LOG_LEVEL", "info"),
		LogFormat:        GetEnv("LOG_FORMAT", "json"),
		BackendURL:       strings.TrimRight(GetEnv("BACKEND_URL", "http://localhost:5000"), "/"),
		Autostart:        GetEnvBool("AUTOSTART", true),
		PollInterval:     GetEnvDuration("POLL_INTERVAL", 5*time.Second),
		FetchTimeout:     GetEnvDuration("FETCH_TIMEOUT", 4*time.Second),
		AcquireTimeout:   GetEnvDuration("ACQUIRE_TIMEOUT", 10*time.Second),
		Capacity:         GetEnvInt("CAPACITY", 100),
		FieldMappingFile: os.Getenv("FIELD_MAPPING_FILE"),
		MQTTBroker:       os.Getenv("MQTT_BROKER"),
		MQTTTopic:        GetEnv("MQTT_TOPIC", "facefeed/summary"),
		MQTTClientID:     GetEnv("MQTT_CLIENT_ID", "facefeed"),
		MQTTUsername:     os.Getenv("MQTT_USERNAME"),
		MQTTPassword:     os.Getenv("MQTT_PASSWORD"),
		Location:         time.Local,
	}

	if tz := strings.TrimSpace(os.Getenv("TIMEZONE")); tz != "" {
		loc, err := time.LoadLocation(tz)
		if err != nil {
			return Config{}, fmt.Errorf("TIMEZONE: %w", err)
		}
		cfg.Location = loc
	}

	raw, set := os.LookupEnv("CAPTURE_SOURCE_ID")
	switch {
	case !set:
		id := 0
		cfg.SourceID = &id
	case strings.TrimSpace(raw) == "":
		// explicitly disabled
	default:
		id, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil {
			return Config{}, fmt.Errorf("CAPTURE_SOURCE_ID: %w", err)
		}
		cfg.SourceID = &id
	}
	return cfg, nil
}
