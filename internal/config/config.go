package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"time"

	"github.com/spf13/viper"

	"geomonitor/pkg/utils"
)

type Config struct {
	Server    ServerConfig
	Storage   StorageConfig
	Stream    StreamConfig
	Ingest    IngestConfig
	MQTT      MQTTConfig
	RateLimit RateLimitConfig
	CORS      CORSConfig
}

type ServerConfig struct {
	Port        string
	Host        string
	Environment string
	// Timezone is the reference zone for canonical timestamps. It is fixed
	// for the lifetime of the process.
	Timezone string `validate:"required"`
}

type StorageConfig struct {
	Backend   string `validate:"oneof=file badger sqlite memory"`
	Path      string `validate:"required_unless=Backend memory"`
	MaxPoints int    `validate:"min=1"`
}

type StreamConfig struct {
	DetectorMode string        `validate:"oneof=auto poll"`
	PollInterval time.Duration `validate:"gt=0"`
	RetryMillis  uint          `validate:"gt=0"`
}

type IngestConfig struct {
	Workers    int `validate:"min=1"`
	BufferSize int `validate:"min=1"`
}

type MQTTConfig struct {
	Broker        string
	ClientID      string
	Username      string
	Password      string
	LocationTopic string `validate:"required_with=Broker"`
	QoS           int    `validate:"min=0,max=2"`
}

// Enabled reports whether MQTT ingestion was configured.
func (c *MQTTConfig) Enabled() bool {
	return c.Broker != ""
}

type RateLimitConfig struct {
	GeneralRPS   float64 // Requests per second for general endpoints
	GeneralBurst int     // Burst size for general endpoints
}

type CORSConfig struct {
	AllowedOrigins   []string
	AllowedMethods   []string
	AllowedHeaders   []string
	ExposedHeaders   []string
	AllowCredentials bool
	MaxAge           int
}

func Load() (*Config, error) {
	return LoadFrom(".env")
}

// LoadFrom reads the dotenv file at path (optional) and overlays environment variables.
func LoadFrom(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("env")
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		log.Printf("Warning: config file %s not found. Falling back to environment variables only.", path)
	}

	config := &Config{
		Server: ServerConfig{
			Port:        v.GetString("SERVER_PORT"),
			Host:        v.GetString("SERVER_HOST"),
			Environment: v.GetString("ENVIRONMENT"),
			Timezone:    v.GetString("TIMEZONE"),
		},
		Storage: StorageConfig{
			Backend:   v.GetString("STORAGE_BACKEND"),
			Path:      v.GetString("STORAGE_PATH"),
			MaxPoints: v.GetInt("STORE_MAX_POINTS"),
		},
		Stream: StreamConfig{
			DetectorMode: v.GetString("STREAM_DETECTOR_MODE"),
			PollInterval: v.GetDuration("STREAM_POLL_INTERVAL"),
			RetryMillis:  v.GetUint("STREAM_RETRY_MS"),
		},
		Ingest: IngestConfig{
			Workers:    v.GetInt("INGEST_WORKERS"),
			BufferSize: v.GetInt("INGEST_BUFFER"),
		},
		MQTT: MQTTConfig{
			Broker:        v.GetString("MQTT_BROKER"),
			ClientID:      v.GetString("MQTT_CLIENT_ID"),
			Username:      v.GetString("MQTT_USERNAME"),
			Password:      v.GetString("MQTT_PASSWORD"),
			LocationTopic: v.GetString("MQTT_LOCATION_TOPIC"),
			QoS:           v.GetInt("MQTT_QOS"),
		},
		RateLimit: RateLimitConfig{
			GeneralRPS:   v.GetFloat64("RATE_LIMIT_GENERAL_RPS"),
			GeneralBurst: v.GetInt("RATE_LIMIT_GENERAL_BURST"),
		},
		CORS: CORSConfig{
			AllowedOrigins:   v.GetStringSlice("CORS_ALLOWED_ORIGINS"),
			AllowedMethods:   v.GetStringSlice("CORS_ALLOWED_METHODS"),
			AllowedHeaders:   v.GetStringSlice("CORS_ALLOWED_HEADERS"),
			ExposedHeaders:   v.GetStringSlice("CORS_EXPOSED_HEADERS"),
			AllowCredentials: v.GetBool("CORS_ALLOW_CREDENTIALS"),
			MaxAge:           v.GetInt("CORS_MAX_AGE"),
		},
	}

	if err := utils.ValidateStruct(config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("SERVER_HOST", "0.0.0.0")
	v.SetDefault("SERVER_PORT", "8080")
	v.SetDefault("ENVIRONMENT", "development")
	v.SetDefault("TIMEZONE", "UTC")

	v.SetDefault("STORAGE_BACKEND", "file")
	v.SetDefault("STORAGE_PATH", "data/locations")
	v.SetDefault("STORE_MAX_POINTS", 5000)

	v.SetDefault("STREAM_DETECTOR_MODE", "auto")
	v.SetDefault("STREAM_POLL_INTERVAL", 200*time.Millisecond)
	v.SetDefault("STREAM_RETRY_MS", 3000)

	v.SetDefault("INGEST_WORKERS", 4)
	v.SetDefault("INGEST_BUFFER", 1024)

	v.SetDefault("MQTT_CLIENT_ID", defaultClientID())
	v.SetDefault("MQTT_LOCATION_TOPIC", "geomonitor/locations")
	v.SetDefault("MQTT_QOS", 1)

	v.SetDefault("RATE_LIMIT_GENERAL_RPS", 50)
	v.SetDefault("RATE_LIMIT_GENERAL_BURST", 100)

	v.SetDefault("CORS_ALLOWED_ORIGINS", []string{"*"})
	v.SetDefault("CORS_ALLOWED_METHODS", []string{"GET", "POST", "OPTIONS"})
	v.SetDefault("CORS_ALLOWED_HEADERS", []string{"Origin", "Content-Type", "Accept", "X-Request-ID"})
	v.SetDefault("CORS_EXPOSED_HEADERS", []string{"X-Request-ID"})
	v.SetDefault("CORS_MAX_AGE", int((12 * time.Hour).Seconds()))
}

func defaultClientID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return "geomonitor"
	}
	return "geomonitor-" + host
}
