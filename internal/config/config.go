package config

import (
	"log"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config stores runtime configuration loaded from environment variables.
// It is built once at process start and passed by reference; core logic
// never reads the environment directly.
type Config struct {
	OpenAIKey      string
	OpenAIEndpoint string
	OpenAIModel    string

	OCRKey     string
	OCRBaseURL string
	OCRModel   string

	UploadDir      string
	OutputDir      string
	GhostscriptBin string

	// MinTextSignal is the whitespace-stripped length below which direct
	// extraction is considered too weak and the OCR fallback is tried.
	MinTextSignal int

	MaxUploadMB           int
	MaxConcurrentRequests int64
	RateLimitRPS          float64
}

// Load reads configuration from the environment, providing sensible defaults.
func Load() Config {
	// Load .env file if it exists (useful for development)
	_ = godotenv.Load()
	cfg := Config{
		OpenAIKey:             os.Getenv("OPENAI_API_KEY"),
		OpenAIEndpoint:        getEnv("OPENAI_API_ENDPOINT", "https://api.openai.com/v1"),
		OpenAIModel:           getEnv("OPENAI_MODEL", "gpt-4o-mini"),
		OCRKey:                os.Getenv("OCR_API_KEY"),
		OCRBaseURL:            getEnv("OCR_BASE_URL", "https://open.bigmodel.cn/api/paas/v4/"),
		OCRModel:              getEnv("OCR_MODEL", "glm-4.5v"),
		UploadDir:             getEnv("UPLOAD_DIR", "./tmp/uploads"),
		OutputDir:             getEnv("OUTPUT_DIR", "./tmp/outputs"),
		GhostscriptBin:        getEnv("GHOSTSCRIPT_BIN", "gs"),
		MinTextSignal:         getEnvInt("MIN_TEXT_SIGNAL", 20),
		MaxUploadMB:           getEnvInt("MAX_UPLOAD_MB", 10),
		MaxConcurrentRequests: int64(getEnvInt("MAX_CONCURRENT_REQUESTS", 4)),
		RateLimitRPS:          getEnvFloat("RATE_LIMIT_RPS", 1),
	}

	if cfg.MinTextSignal < 1 {
		cfg.MinTextSignal = 1
	}

	if err := os.MkdirAll(cfg.UploadDir, 0o755); err != nil {
		log.Fatalf("failed to ensure upload dir %s: %v", cfg.UploadDir, err)
	}
	if err := os.MkdirAll(cfg.OutputDir, 0o755); err != nil {
		log.Fatalf("failed to ensure output dir %s: %v", cfg.OutputDir, err)
	}

	return cfg
}

func getEnv(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok && val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if val, ok := os.LookupEnv(key); ok && val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if val, ok := os.LookupEnv(key); ok && val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return fallback
}
