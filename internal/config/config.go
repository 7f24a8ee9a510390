package config

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/Brownie44l1/damage-detector/internal/apperr"
)

const DefaultPath = "config.yaml"

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Model     ModelConfig     `yaml:"model"`
	Inference InferenceConfig `yaml:"inference"`
	Log       LogConfig       `yaml:"log"`
}

type ServerConfig struct {
	Port            int           `yaml:"port"`
	MaxUploadBytes  int64         `yaml:"max_upload_bytes"`
	MaxImagePixels  int64         `yaml:"max_image_pixels"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type ModelConfig struct {
	Name       string `yaml:"name"`
	Dir        string `yaml:"dir"`
	File       string `yaml:"file"`
	InputName  string `yaml:"input_name"`
	OutputName string `yaml:"output_name"`
	ORTLibrary string `yaml:"ort_library"`
}

type InferenceConfig struct {
	Workers int `yaml:"workers"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the configuration used when neither a file nor the
// environment override a value.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			MaxUploadBytes:  10 << 20,
			MaxImagePixels:  178956970,
			ShutdownTimeout: 10 * time.Second,
		},
		Model: ModelConfig{
			Name:       "beingamit99/car_damage_detection",
			Dir:        "models/car_damage_detection",
			File:       "model.onnx",
			InputName:  "pixel_values",
			OutputName: "logits",
		},
		Inference: InferenceConfig{
			Workers: runtime.NumCPU(),
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads .env (if any), then the YAML file at path (if any), then
// applies environment overrides and validates the result.
func Load(path string) (*Config, error) {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, apperr.Wrap(apperr.KindConfig, "config.Load", "parse "+path, err)
			}
		case errors.Is(err, os.ErrNotExist):
		default:
			return nil, apperr.Wrap(apperr.KindConfig, "config.Load", "read "+path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	setString(&c.Model.Name, "MODEL_NAME")
	setString(&c.Model.Dir, "MODEL_DIR")
	setString(&c.Model.File, "MODEL_FILE")
	setString(&c.Model.InputName, "MODEL_INPUT_NAME")
	setString(&c.Model.OutputName, "MODEL_OUTPUT_NAME")
	setString(&c.Model.ORTLibrary, "ORT_LIBRARY_PATH")
	setString(&c.Log.Level, "LOG_LEVEL")
	setString(&c.Log.Format, "LOG_FORMAT")

	if v, ok := os.LookupEnv("PORT"); ok {
		port, err := strconv.Atoi(v)
		if err != nil {
			return apperr.Wrap(apperr.KindConfig, "config.Load", "PORT", err)
		}
		c.Server.Port = port
	}
	if v, ok := os.LookupEnv("MAX_UPLOAD_BYTES"); ok {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return apperr.Wrap(apperr.KindConfig, "config.Load", "MAX_UPLOAD_BYTES", err)
		}
		c.Server.MaxUploadBytes = n
	}
	if v, ok := os.LookupEnv("MAX_IMAGE_PIXELS"); ok {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return apperr.Wrap(apperr.KindConfig, "config.Load", "MAX_IMAGE_PIXELS", err)
		}
		c.Server.MaxImagePixels = n
	}
	if v, ok := os.LookupEnv("SHUTDOWN_TIMEOUT"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return apperr.Wrap(apperr.KindConfig, "config.Load", "SHUTDOWN_TIMEOUT", err)
		}
		c.Server.ShutdownTimeout = d
	}
	if v, ok := os.LookupEnv("INFERENCE_WORKERS"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return apperr.Wrap(apperr.KindConfig, "config.Load", "INFERENCE_WORKERS", err)
		}
		c.Inference.Workers = n
	}
	return nil
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}

func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return apperr.New(apperr.KindConfig, "config.Validate", fmt.Sprintf("invalid port %d", c.Server.Port))
	}
	if c.Server.MaxUploadBytes <= 0 {
		return apperr.New(apperr.KindConfig, "config.Validate", "max_upload_bytes must be positive")
	}
	if c.Server.MaxImagePixels <= 0 {
		return apperr.New(apperr.KindConfig, "config.Validate", "max_image_pixels must be positive")
	}
	if c.Inference.Workers <= 0 {
		return apperr.New(apperr.KindConfig, "config.Validate", "inference workers must be positive")
	}
	if c.Model.Dir == "" || c.Model.File == "" {
		return apperr.New(apperr.KindConfig, "config.Validate", "model dir and file are required")
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		return apperr.New(apperr.KindConfig, "config.Validate", "unknown log format "+c.Log.Format)
	}
	return nil
}

// Addr is the listen address for the HTTP server.
func (c *Config) Addr() string {
	return ":" + strconv.Itoa(c.Server.Port)
}
