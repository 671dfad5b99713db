package bootstrap

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	ServerAddr   string
	ServiceToken string

	ShortWindow       time.Duration
	LongWindow        time.Duration
	Retention         time.Duration
	InactivityTimeout time.Duration
	SweepInterval     time.Duration

	MaxFrames int
	MaxBytes  int64

	AnalysisFPS    int
	AnalysisStride int
	RangeMargin    time.Duration

	ClassifierURL     string
	ClassifierModel   string
	ClassifierTimeout time.Duration

	VideoFormat         string
	VideoFallbackFormat string
	VideoDir            string
	FFmpegPath          string
	VideoTimeout        time.Duration

	HostingURL       string
	WebhookURL       string
	DeliveryToken    string
	DeliveryTimeout  time.Duration
	MaxArtifactBytes int64

	DatabaseDSN string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
}

func LoadConfig() (*Config, error) {
	// Missing .env is fine; the environment wins either way.
	_ = godotenv.Load()

	cfg := &Config{
		ServerAddr:   getEnv("SERVER_ADDR", ":8080"),
		ServiceToken: getEnv("SERVICE_TOKEN", ""),

		ShortWindow:       getEnvDuration("SHORT_WINDOW", 3*time.Second),
		LongWindow:        getEnvDuration("LONG_WINDOW", 30*time.Second),
		Retention:         getEnvDuration("FRAME_RETENTION", 60*time.Second),
		InactivityTimeout: getEnvDuration("CLIENT_INACTIVITY_TIMEOUT", 5*time.Minute),
		SweepInterval:     getEnvDuration("SWEEP_INTERVAL", 30*time.Second),

		MaxFrames: getEnvInt("MAX_FRAMES_PER_CLIENT", 2000),
		MaxBytes:  getEnvInt64("MAX_BYTES_PER_CLIENT", 256<<20),

		AnalysisFPS:    getEnvInt("ANALYSIS_FPS", 10),
		AnalysisStride: getEnvInt("ANALYSIS_STRIDE", 1),
		RangeMargin:    getEnvDuration("RANGE_MARGIN", 2*time.Second),

		ClassifierURL:     getEnv("CLASSIFIER_URL", "http://localhost:11434"),
		ClassifierModel:   getEnv("CLASSIFIER_MODEL", "llava"),
		ClassifierTimeout: getEnvDuration("CLASSIFIER_TIMEOUT", 30*time.Second),

		VideoFormat:         getEnv("VIDEO_FORMAT", "mp4"),
		VideoFallbackFormat: getEnv("VIDEO_FALLBACK_FORMAT", "avi"),
		VideoDir:            getEnv("VIDEO_DIR", os.TempDir()),
		FFmpegPath:          getEnv("FFMPEG_PATH", "ffmpeg"),
		VideoTimeout:        getEnvDuration("VIDEO_TIMEOUT", 60*time.Second),

		HostingURL:       getEnv("HOSTING_URL", ""),
		WebhookURL:       getEnv("ALERT_WEBHOOK_URL", ""),
		DeliveryToken:    getEnv("DELIVERY_TOKEN", ""),
		DeliveryTimeout:  getEnvDuration("DELIVERY_TIMEOUT", 15*time.Second),
		MaxArtifactBytes: getEnvInt64("MAX_ARTIFACT_BYTES", 25<<20),

		DatabaseDSN: getEnv("DATABASE_DSN", ""),

		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate enforces the buffer configuration invariants once at startup. A
// violation here is fatal; it is never a runtime condition.
func (c *Config) Validate() error {
	if c.ShortWindow <= 0 {
		return fmt.Errorf("SHORT_WINDOW must be positive, got %v", c.ShortWindow)
	}
	if c.LongWindow <= c.ShortWindow {
		return fmt.Errorf("LONG_WINDOW (%v) must exceed SHORT_WINDOW (%v)", c.LongWindow, c.ShortWindow)
	}
	if c.Retention < c.LongWindow {
		return fmt.Errorf("FRAME_RETENTION (%v) must be at least LONG_WINDOW (%v)", c.Retention, c.LongWindow)
	}
	if c.AnalysisFPS <= 0 {
		return fmt.Errorf("ANALYSIS_FPS must be positive, got %d", c.AnalysisFPS)
	}
	if c.AnalysisStride <= 0 {
		return fmt.Errorf("ANALYSIS_STRIDE must be positive, got %d", c.AnalysisStride)
	}
	if c.InactivityTimeout <= 0 {
		return fmt.Errorf("CLIENT_INACTIVITY_TIMEOUT must be positive, got %v", c.InactivityTimeout)
	}
	switch c.VideoFormat {
	case "mp4", "webm", "avi":
	default:
		return fmt.Errorf("VIDEO_FORMAT must be one of mp4, webm, avi, got %q", c.VideoFormat)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
