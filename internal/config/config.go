package config

import (
	"log"
	"time"

	"github.com/spf13/viper"
)

type WorkerConfig struct {
	PollInterval  time.Duration `mapstructure:"poll_interval"`
	MaxConcurrent int           `mapstructure:"max_concurrent"`
	JobTimeout    time.Duration `mapstructure:"job_timeout"`
	ReapInterval  time.Duration `mapstructure:"reap_interval"`
	ShutdownGrace time.Duration `mapstructure:"shutdown_grace"`
}

type StorageConfig struct {
	Region   string `mapstructure:"region"`
	Bucket   string `mapstructure:"bucket"`
	Endpoint string `mapstructure:"endpoint"`
}

type ServiceConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	APIKey  string        `mapstructure:"api_key"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type PBXConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
}

type Config struct {
	DatabaseURL   string        `mapstructure:"database_url"`
	ServerPort    string        `mapstructure:"server_port"`
	JWTSecret     string        `mapstructure:"jwt_secret"`
	EncryptionKey string        `mapstructure:"encryption_key"`
	Worker        WorkerConfig  `mapstructure:"worker"`
	Storage       StorageConfig `mapstructure:"storage"`
	Transcription ServiceConfig `mapstructure:"transcription"`
	Analysis      ServiceConfig `mapstructure:"analysis"`
	Billing       ServiceConfig `mapstructure:"billing"`
	PBX           PBXConfig     `mapstructure:"pbx"`
}

// Load reads the configuration from a YAML file and returns a Config instance.
func Load() *Config {
	v := viper.New()

	// Look for config in the current directory and ./config
	v.AddConfigPath(".")
	v.SetConfigName("config")
	v.AddConfigPath("./config")
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		log.Fatalf("Error reading config file: %v", err)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		log.Fatalf("Error unmarshalling config: %v", err)
	}

	// Fallback defaults
	if config.ServerPort == "" {
		config.ServerPort = "8080"
	}

	if config.JWTSecret == "" {
		log.Fatal("JWT secret must be set in the config file")
	}
	if config.EncryptionKey == "" {
		log.Fatal("Encryption key must be set in the config file")
	}

	if config.Transcription.Timeout == 0 {
		config.Transcription.Timeout = 5 * time.Minute
	}
	if config.Analysis.Timeout == 0 {
		config.Analysis.Timeout = 2 * time.Minute
	}
	if config.Billing.Timeout == 0 {
		config.Billing.Timeout = 10 * time.Second
	}
	if config.PBX.Timeout == 0 {
		config.PBX.Timeout = time.Minute
	}

	return &config
}
