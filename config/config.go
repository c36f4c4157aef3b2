package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/natefinch/lumberjack.v2"
)

type Config struct {
	App      AppConfig
	Database DatabaseConfig
	AI       AIConfig
	Loader   LoaderConfig
}

type AppConfig struct {
	ServerAddr   string
	JWTSecret    string
	LogLevel     string
	LogFile      string // optional rotated log file, in addition to stdout
	Environment  string
	StoreBackend string // "postgres" or "memory"
	CacheTTL     time.Duration
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string
}

// DSN builds the pgx connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable", d.Host, d.Port, d.User, d.Password, d.Name)
}

type AIConfig struct {
	EmbeddingURL     string
	EmbeddingModel   string
	EmbeddingDim     int
	LLMURL           string
	LLMModel         string
	Timeout          time.Duration
	RepairAttempts   int
	VisionURL        string
	VisionModel      string
	ConverterURL     string
	TranscriptionURL string
}

type LoaderConfig struct {
	MonitoringTime time.Duration
	SourceDir      string
	ArchiveDir     string
	BadDir         string
	ChunkSize      int
	ChunkOverlap   int
	CropTop        float64
	CropBottom     float64
}

func Load() *Config {
	if err := godotenv.Load(); err != nil {
		slog.Info("note: .env file not found, using system environment")
	}

	return &Config{
		App: AppConfig{
			ServerAddr:   getEnv("SERVER_ADDR", ":3000"),
			JWTSecret:    getEnv("JWT_SECRET", ""),
			LogLevel:     getEnv("LOG_LEVEL", "info"),
			LogFile:      getEnv("LOG_FILE", ""),
			Environment:  getEnv("GO_ENV", "development"),
			StoreBackend: getEnv("STORE_BACKEND", "postgres"),
			CacheTTL:     getEnvAsDuration("ASSISTANT_CACHE_TTL", 5*time.Minute),
		},
		Database: DatabaseConfig{
			Host:     getEnv("PG_HOST", "localhost"),
			Port:     getEnvAsInt("PG_PORT", 5432),
			User:     getEnv("PG_USER", "postgres"),
			Password: getEnv("PG_PASS", ""),
			Name:     getEnv("PG_DB_NAME", "tutor"),
		},
		AI: AIConfig{
			EmbeddingURL:     getEnv("OLLAMA_EMBEDDING_URL", "http://localhost:11434/api/embeddings"),
			EmbeddingModel:   getEnv("OLLAMA_EMBEDDING_MODEL", "nomic-embed-text"),
			EmbeddingDim:     getEnvAsInt("EMBEDDING_DIM", 768),
			LLMURL:           getEnv("LLM_URL", "http://localhost:11434/api/generate"),
			LLMModel:         getEnv("LLM_MODEL", "llama3"),
			Timeout:          getEnvAsDuration("REMOTE_TIMEOUT", 60*time.Second),
			RepairAttempts:   getEnvAsInt("METADATA_REPAIR_ATTEMPTS", 3),
			VisionURL:        getEnv("OLLAMA_VL_URL", "http://localhost:11434/api/generate"),
			VisionModel:      getEnv("OLLAMA_VL_MODEL", "llava"),
			ConverterURL:     getEnv("DOCLING_URL", "http://localhost:5001/v1/convert/file"),
			TranscriptionURL: getEnv("TRANSCRIPTION_URL", ""),
		},
		Loader: LoaderConfig{
			MonitoringTime: getEnvAsDuration("LOADER_MONITORING_TIME", 5*time.Second),
			SourceDir:      getEnv("LOADER_SOURCE_DIR", "./data/source"),
			ArchiveDir:     getEnv("LOADER_ARCHIVE_DIR", "./data/archive"),
			BadDir:         getEnv("LOADER_BAD_DIR", "./data/bad"),
			ChunkSize:      getEnvAsInt("CHUNK_SIZE", 1500),
			ChunkOverlap:   getEnvAsInt("CHUNK_OVERLAP", 50),
			CropTop:        getEnvAsFloat("PDF_CROP_TOP", 46),
			CropBottom:     getEnvAsFloat("PDF_CROP_BOTTOM", 57),
		},
	}
}

// NewLogger builds the process logger from the configured level. Production
// environments log JSON.
func (c *Config) NewLogger() *slog.Logger {
	var level slog.Level
	switch strings.ToLower(c.App.LogLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	var out io.Writer = os.Stdout
	if c.App.LogFile != "" {
		out = io.MultiWriter(os.Stdout, &lumberjack.Logger{
			Filename:   c.App.LogFile,
			MaxSize:    10, // megabytes
			MaxBackups: 5,
			MaxAge:     30, // days
			Compress:   true,
		})
	}

	if c.App.Environment == "production" {
		return slog.New(slog.NewJSONHandler(out, opts))
	}
	return slog.New(slog.NewTextHandler(out, opts))
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	strValue := getEnv(key, "")
	if value, err := strconv.Atoi(strValue); err == nil {
		return value
	}
	return fallback
}

func getEnvAsFloat(key string, fallback float64) float64 {
	strValue := getEnv(key, "")
	if value, err := strconv.ParseFloat(strValue, 64); err == nil {
		return value
	}
	return fallback
}

// getEnvAsDuration accepts Go durations ("90s") or a bare number of seconds.
func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	strValue := getEnv(key, "")
	if strValue == "" {
		return fallback
	}
	if d, err := time.ParseDuration(strValue); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(strValue); err == nil {
		return time.Duration(secs) * time.Second
	}
	return fallback
}
