// Package config loads runtime settings from the environment and an optional .env file.
package config

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"paragon/pkg/imgproc"
	"paragon/pkg/pipeline"
)

// Config holds all application configuration
type Config struct {
	Render RenderConfig
	OCR    OCRConfig
	Strip  imgproc.StripGeometry
	Server ServerConfig
	Log    LogConfig
}

// RenderConfig controls rasterization and size normalization
type RenderConfig struct {
	Scale      float64
	Pdftoppm   string
	Preprocess imgproc.Options
}

// OCRConfig controls the recognition pool
type OCRConfig struct {
	Workers     int
	Languages   string
	TessdataDir string
}

// ServerConfig holds HTTP and inbox settings
type ServerConfig struct {
	Addr        string
	JWTSecret   string
	MaxUploadMB int
	InboxDir    string
	RunTimeout  time.Duration
}

// LogConfig selects the logger
type LogConfig struct {
	Level       string
	Development bool
}

// DefaultWorkers is one less than the CPU count, kept within [2, 8].
func DefaultWorkers() int {
	return max(2, min(8, runtime.NumCPU()-1))
}

// LoadDotEnv loads key=value pairs from the given files (default ./.env) without
// overriding variables already set. Missing files are ignored.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

// Load reads the configuration from environment variables.
func Load() *Config {
	pre := imgproc.DefaultOptions()
	strip := imgproc.DefaultStripGeometry()
	return &Config{
		Render: RenderConfig{
			Scale:    getEnvAsFloat("RENDER_SCALE", 3),
			Pdftoppm: getEnv("PDFTOPPM", "pdftoppm"),
			Preprocess: imgproc.Options{
				MaxWidth:     getEnvAsInt("MAX_OCR_WIDTH", pre.MaxWidth),
				MinHeight:    getEnvAsInt("MIN_OCR_HEIGHT", pre.MinHeight),
				HorizStretch: getEnvAsFloat("HORIZ_STRETCH", pre.HorizStretch),
				StripeRatio:  getEnvAsFloat("STRIPE_RATIO", pre.StripeRatio),
			},
		},
		OCR: OCRConfig{
			Workers:     getEnvAsInt("OCR_WORKERS", DefaultWorkers()),
			Languages:   getEnv("OCR_LANG", "eng+pol"),
			TessdataDir: getEnv("TESSDATA_PREFIX", ""),
		},
		Strip: imgproc.StripGeometry{
			BaseWidth: getEnvAsInt("SUMA_BASE_W", strip.BaseWidth),
			Top:       getEnvAsInt("SUMA_STRIP_TOP_PX", strip.Top),
			Height:    getEnvAsInt("SUMA_STRIP_HEIGHT_PX", strip.Height),
			Left:      getEnvAsInt("SUMA_STRIP_LEFT_PX", strip.Left),
			Right:     getEnvAsInt("SUMA_STRIP_RIGHT_PX", strip.Right),
		},
		Server: ServerConfig{
			Addr:        getEnv("HTTP_ADDR", ":8081"),
			JWTSecret:   getEnv("JWT_SECRET", ""),
			MaxUploadMB: getEnvAsInt("MAX_UPLOAD_MB", 50),
			InboxDir:    getEnv("INBOX_DIR", ""),
			RunTimeout:  getEnvAsDuration("RUN_TIMEOUT", 10*time.Minute),
		},
		Log: LogConfig{
			Level:       getEnv("LOG_LEVEL", "info"),
			Development: getEnvAsBool("LOG_DEV", false),
		},
	}
}

// Validate checks ranges that would otherwise fail deep inside a run.
func (c *Config) Validate() error {
	var errs []error
	if c.Render.Scale <= 0 {
		errs = append(errs, fmt.Errorf("RENDER_SCALE must be positive, got %v", c.Render.Scale))
	}
	if c.OCR.Workers < 1 {
		errs = append(errs, fmt.Errorf("OCR_WORKERS must be at least 1, got %d", c.OCR.Workers))
	}
	if c.OCR.Languages == "" {
		errs = append(errs, errors.New("OCR_LANG is required"))
	}
	if c.Render.Preprocess.MaxWidth < c.Render.Preprocess.MinHeight || c.Render.Preprocess.MinHeight <= 0 {
		errs = append(errs, fmt.Errorf("MAX_OCR_WIDTH (%d) must be >= MIN_OCR_HEIGHT (%d) > 0",
			c.Render.Preprocess.MaxWidth, c.Render.Preprocess.MinHeight))
	}
	if c.Strip.BaseWidth <= 0 || c.Strip.Height <= 0 {
		errs = append(errs, errors.New("SUMA_BASE_W and SUMA_STRIP_HEIGHT_PX must be positive"))
	}
	if c.Server.MaxUploadMB <= 0 {
		errs = append(errs, errors.New("MAX_UPLOAD_MB must be positive"))
	}
	return errors.Join(errs...)
}

// Helper functions for environment variable parsing
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// PipelineOptions applies the render, preprocessing and strip settings.
func (c *Config) PipelineOptions() []pipeline.Option {
	return []pipeline.Option{
		pipeline.WithScale(c.Render.Scale),
		pipeline.WithPreprocess(c.Render.Preprocess),
		pipeline.WithStripGeometry(c.Strip),
	}
}
