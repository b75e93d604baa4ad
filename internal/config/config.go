package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Tier selects which location back-end the bridge uses.
type Tier string

const (
	TierAuto   Tier = "auto"   // modern when the fused producer is reachable
	TierModern Tier = "modern" // fused MQTT batches
	TierLegacy Tier = "legacy" // in-process NMEA provider manager
)

// Config holds all application configuration values.
type Config struct {
	// MQTT
	MQTTBroker         string
	MQTTClientIDBridge string
	MQTTClientIDFused  string

	// Topics
	TopicLocationUpdates  string
	TopicLocationRequests string

	// GPS
	GPSSerialPort   string
	GPSBaudRate     int
	NetworkNMEAAddr string // optional host:port of an NMEA-over-TCP feed

	// Location
	LocationTier      Tier
	SyntheticFlag     bool   // back-ends mark synthetic fixes natively
	AllowMockLocation string // system "mock location allowed" setting
	CheckPermission   bool   // verify GPS device access before each request

	// Fused producer
	FusedBatchInterval int // milliseconds

	// Web Server
	WebServerPort int

	// Observability
	LogLevel       string
	LogFormat      string // "json" or "text"
	TracingEnabled bool
}

// FusedBatch returns FUSED_BATCH_INTERVAL as a duration.
func (c *Config) FusedBatch() time.Duration {
	return time.Duration(c.FusedBatchInterval) * time.Millisecond
}

// Package-level singleton. Use InitGlobal to set and Get to read.
var (
	globalConfig *Config
	configOnce   sync.Once
	configMu     sync.RWMutex
)

// defaults returns a Config with every optional key filled in.
func defaults() *Config {
	return &Config{
		MQTTClientIDBridge:    "locfix-bridge",
		MQTTClientIDFused:     "locfix-fused-producer",
		TopicLocationUpdates:  "locfix/location/updates",
		TopicLocationRequests: "locfix/location/requests",
		GPSBaudRate:           9600,
		LocationTier:          TierAuto,
		FusedBatchInterval:    1000,
		WebServerPort:         8080,
		LogLevel:              "info",
		LogFormat:             "json",
	}
}

// Load reads the configuration file and returns a Config struct.
func Load(configPath string) (*Config, error) {
	file, err := os.Open(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	cfg := defaults()
	scanner := bufio.NewScanner(file)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		// Skip empty lines and comments
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		// Parse KEY=VALUE
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid config line %d: %q", lineNum, line)
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		if err := cfg.setValue(key, value); err != nil {
			return nil, fmt.Errorf("config line %d: %w", lineNum, err)
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// setValue sets a config value based on the key.
func (c *Config) setValue(key, value string) error {
	switch key {
	// MQTT
	case "MQTT_BROKER":
		c.MQTTBroker = value
	case "MQTT_CLIENT_ID_BRIDGE":
		c.MQTTClientIDBridge = value
	case "MQTT_CLIENT_ID_FUSED":
		c.MQTTClientIDFused = value

	// Topics
	case "TOPIC_LOCATION_UPDATES":
		c.TopicLocationUpdates = value
	case "TOPIC_LOCATION_REQUESTS":
		c.TopicLocationRequests = value

	// GPS
	case "GPS_SERIAL_PORT":
		c.GPSSerialPort = value
	case "GPS_BAUD_RATE":
		rate, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid GPS_BAUD_RATE %q: %w", value, err)
		}
		if rate <= 0 {
			return fmt.Errorf("GPS_BAUD_RATE must be positive, got %d", rate)
		}
		c.GPSBaudRate = rate
	case "NETWORK_NMEA_ADDR":
		c.NetworkNMEAAddr = value

	// Location
	case "LOCATION_TIER":
		switch t := Tier(strings.ToLower(value)); t {
		case TierAuto, TierModern, TierLegacy:
			c.LocationTier = t
		default:
			return fmt.Errorf("LOCATION_TIER must be auto, modern or legacy, got %q", value)
		}
	case "SYNTHETIC_FLAG":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid SYNTHETIC_FLAG %q: %w", value, err)
		}
		c.SyntheticFlag = b
	case "ALLOW_MOCK_LOCATION":
		c.AllowMockLocation = value
	case "CHECK_PERMISSION":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid CHECK_PERMISSION %q: %w", value, err)
		}
		c.CheckPermission = b

	// Fused producer
	case "FUSED_BATCH_INTERVAL":
		interval, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid FUSED_BATCH_INTERVAL %q: %w", value, err)
		}
		if interval <= 0 {
			return fmt.Errorf("FUSED_BATCH_INTERVAL must be positive, got %d", interval)
		}
		c.FusedBatchInterval = interval

	// Web Server
	case "WEB_SERVER_PORT":
		port, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid WEB_SERVER_PORT %q: %w", value, err)
		}
		c.WebServerPort = port

	// Observability
	case "LOG_LEVEL":
		c.LogLevel = value
	case "LOG_FORMAT":
		if value != "json" && value != "text" {
			return fmt.Errorf("LOG_FORMAT must be json or text, got %q", value)
		}
		c.LogFormat = value
	case "TRACING_ENABLED":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid TRACING_ENABLED %q: %w", value, err)
		}
		c.TracingEnabled = b

	default:
		return fmt.Errorf("unknown config key: %q", key)
	}

	return nil
}

// validate checks that all required fields are set.
func (c *Config) validate() error {
	if c.MQTTBroker == "" && c.LocationTier != TierLegacy {
		return fmt.Errorf("MQTT_BROKER is required unless LOCATION_TIER=legacy")
	}
	if c.GPSSerialPort == "" {
		return fmt.Errorf("GPS_SERIAL_PORT is required")
	}
	if c.WebServerPort <= 0 || c.WebServerPort > 65535 {
		return fmt.Errorf("WEB_SERVER_PORT out of range: %d", c.WebServerPort)
	}
	return nil
}

// InitGlobal initializes the global configuration from file.
// Only the first call has any effect.
func InitGlobal(configPath string) error {
	var err error
	configOnce.Do(func() {
		configMu.Lock()
		defer configMu.Unlock()
		globalConfig, err = Load(configPath)
	})
	return err
}

// Get returns the global configuration instance, or nil before InitGlobal.
func Get() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return globalConfig
}
