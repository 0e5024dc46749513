// Package config holds the daemon configuration and its environment loader.
package config

import (
	"fmt"
	"net/url"
	"time"
)

// Defaults mirrored by FromEnv.
const (
	DefaultPoolCapacity  = 100
	DefaultCameraTimeout = 30 * time.Second
	DefaultCameraPort    = 554
	DefaultCameraUser    = "admin"
)

// Config captures every runtime knob of the acquisition daemon.
type Config struct {
	// Service
	ListenAddr string
	DataDir    string
	DBPath     string
	LogLevel   string

	// Intake rate limit, requests per minute per client IP; 0 disables it.
	RateLimit int

	// Worker pool
	PoolCapacity int

	// Camera defaults applied to orders that omit them
	CameraPort    int
	CameraUser    string
	CameraTimeout time.Duration

	// Capture toolchain
	FFmpegPath  string
	FFprobePath string

	// Delivery
	TriggerURL    string
	TriggerAPIKey string
	UploadBucket  string

	// Delivery retry policy. MaxAttempts == 0 keeps retrying until the
	// trigger is acknowledged.
	DeliveryMaxAttempts  int
	DeliveryInitialDelay time.Duration
	DeliveryMaxDelay     time.Duration

	// Storage
	S3Region    string
	S3AccessKey string
	S3SecretKey string
}

// FromEnv builds a Config from environment variables, applying defaults.
func FromEnv() Config {
	return Config{
		ListenAddr: ParseString("ACQ_LISTEN", ":8080"),
		DataDir:    ParseString("ACQ_DATA_DIR", "./data"),
		DBPath:     ParseString("ACQ_DB_PATH", "./data/acquisition.db"),
		LogLevel:   ParseString("ACQ_LOG_LEVEL", "info"),

		RateLimit: ParseInt("ACQ_RATE_LIMIT", 120),

		PoolCapacity: ParseInt("ACQ_POOL_CAPACITY", DefaultPoolCapacity),

		CameraPort:    ParseInt("ACQ_CAMERA_PORT", DefaultCameraPort),
		CameraUser:    ParseString("ACQ_CAMERA_USER", DefaultCameraUser),
		CameraTimeout: ParseDuration("ACQ_CAMERA_TIMEOUT", DefaultCameraTimeout),

		FFmpegPath:  ParseString("ACQ_FFMPEG_PATH", "ffmpeg"),
		FFprobePath: ParseString("ACQ_FFPROBE_PATH", "ffprobe"),

		TriggerURL:    ParseString("ACQ_TRIGGER_URL", ""),
		TriggerAPIKey: ParseString("ACQ_TRIGGER_API_KEY", ""),
		UploadBucket:  ParseString("ACQ_UPLOAD_BUCKET", "archived-order-uploads"),

		DeliveryMaxAttempts:  ParseInt("ACQ_DELIVERY_MAX_ATTEMPTS", 10),
		DeliveryInitialDelay: ParseDuration("ACQ_DELIVERY_INITIAL_DELAY", 30*time.Second),
		DeliveryMaxDelay:     ParseDuration("ACQ_DELIVERY_MAX_DELAY", 10*time.Minute),

		S3Region:    ParseString("AWS_REGION", "us-east-1"),
		S3AccessKey: ParseString("ACQ_S3_ACCESS_KEY", ""),
		S3SecretKey: ParseString("ACQ_S3_SECRET_KEY", ""),
	}
}

// Validate checks the configuration for values the daemon cannot start with.
func (c Config) Validate() error {
	if c.PoolCapacity < 1 {
		return fmt.Errorf("pool capacity must be >= 1, got %d", c.PoolCapacity)
	}
	if c.CameraTimeout <= 0 {
		return fmt.Errorf("camera timeout must be positive, got %s", c.CameraTimeout)
	}
	if c.DataDir == "" {
		return fmt.Errorf("data dir must not be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("db path must not be empty")
	}
	if c.TriggerURL != "" {
		u, err := url.Parse(c.TriggerURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("trigger URL %q is not a valid absolute URL", c.TriggerURL)
		}
	}
	if c.RateLimit < 0 {
		return fmt.Errorf("rate limit must be >= 0, got %d", c.RateLimit)
	}
	if c.DeliveryMaxAttempts < 0 {
		return fmt.Errorf("delivery max attempts must be >= 0, got %d", c.DeliveryMaxAttempts)
	}
	if c.DeliveryInitialDelay <= 0 {
		return fmt.Errorf("delivery initial delay must be positive, got %s", c.DeliveryInitialDelay)
	}
	if c.DeliveryMaxDelay < c.DeliveryInitialDelay {
		return fmt.Errorf("delivery max delay %s is below the initial delay %s",
			c.DeliveryMaxDelay, c.DeliveryInitialDelay)
	}
	return nil
}
