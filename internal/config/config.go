package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	DetectURL      string
	DetectName     string
	VQAURL         string
	VQAName        string
	ImgGenURL      string
	ImgGenName     string
	RequestTimeout time.Duration
	ListenAddr     string
	ImageDir       string
	MaxImageBytes  int64
	LogLevel       string
	LogFile        string
}

// fileConfig mirrors Config for the optional YAML overlay. Every key is
// optional; environment variables still take precedence over the file.
type fileConfig struct {
	DetectURL      string `yaml:"detect_url"`
	DetectName     string `yaml:"detect_name"`
	VQAURL         string `yaml:"vqa_url"`
	VQAName        string `yaml:"vqa_name"`
	ImgGenURL      string `yaml:"imggen_url"`
	ImgGenName     string `yaml:"imggen_name"`
	RequestTimeout string `yaml:"request_timeout"`
	ListenAddr     string `yaml:"listen_addr"`
	ImageDir       string `yaml:"image_dir"`
	MaxImageBytes  string `yaml:"max_image_bytes"`
	LogLevel       string `yaml:"log_level"`
	LogFile        string `yaml:"log_file"`
}

func Load() *Config {
	return fromDefaults(fileConfig{})
}

// LoadFile reads a YAML file whose values replace the built-in defaults.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return fromDefaults(fc), nil
}

func fromDefaults(fc fileConfig) *Config {
	return &Config{
		DetectURL:      getEnv("DETECT_URL", or(fc.DetectURL, "http://localhost:8000/detect")),
		DetectName:     getEnv("DETECT_NAME", or(fc.DetectName, "Object Detection (LLaVA-34B)")),
		VQAURL:         getEnv("VQA_URL", or(fc.VQAURL, "http://localhost:8002/vqa")),
		VQAName:        getEnv("VQA_NAME", or(fc.VQAName, "Visual Question Answering")),
		ImgGenURL:      getEnv("IMGGEN_URL", or(fc.ImgGenURL, "http://localhost:8001/generate")),
		ImgGenName:     getEnv("IMGGEN_NAME", or(fc.ImgGenName, "Image Generation")),
		RequestTimeout: parseDuration(getEnv("REQUEST_TIMEOUT", fc.RequestTimeout), 30*time.Second),
		ListenAddr:     getEnv("LISTEN_ADDR", or(fc.ListenAddr, ":8090")),
		ImageDir:       getEnv("IMAGE_DIR", or(fc.ImageDir, ".")),
		MaxImageBytes:  parseInt(getEnv("MAX_IMAGE_BYTES", fc.MaxImageBytes), 50*1024*1024),
		LogLevel:       getEnv("LOG_LEVEL", or(fc.LogLevel, "info")),
		LogFile:        getEnv("LOG_FILE", fc.LogFile),
	}
}

func getEnv(key, defaultVal string) string {
	if val, exists := os.LookupEnv(key); exists {
		return val
	}
	return defaultVal
}

func or(val, fallback string) string {
	if val != "" {
		return val
	}
	return fallback
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

func parseInt(s string, fallback int64) int64 {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}
