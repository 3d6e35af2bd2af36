package config

import (
	"image"
	"image/color"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"github.com/lucasb-eyer/go-colorful"
	"github.com/pkg/errors"
)

const (
	// DefaultMinBoxConfidence is the score below which boxes are discarded.
	DefaultMinBoxConfidence = 0.3
	// DefaultLabelColor is the highlight colour used when LABEL_COLOR is unset.
	DefaultLabelColor = "#00ff00"
)

type Config struct {
	Port     int
	Password string

	ModelPath      string
	ModelInputSize int     // Square input edge expected by the ONNX model
	LabelsPath     string  // Optional class names file, one per line
	IoUThreshold   float64 // Non-max suppression overlap threshold

	MinBoxConfidence float64
	Provider         string // webcam | video
	CameraDevice     int
	VideoPath        string
	VideoLoop        bool
	LabelColor       color.RGBA
	DisplayWidth     int
	DisplayHeight    int
	TickInterval     time.Duration

	SnapshotDirectory     string
	SnapshotLimit         int // Frames kept per flush window
	SnapshotFlushInterval time.Duration
	DatabasePath          string
	LogDirectory          string

	// ConfigFile is the .env file the values were read from; watched for changes.
	ConfigFile string
}

// envValue is what the process environment held for a key before an env
// file overrode it.
type envValue struct {
	value string
	set   bool
}

var (
	envMu sync.Mutex
	// envFiles tracks, per file, the keys applied from it and their previous
	// values, so keys removed from the file fall back on the next Load.
	envFiles = make(map[string]map[string]envValue)
)

// Load reads the optional .env file at path (missing files are ignored) and
// builds a Config from the environment. Values in the file override the
// environment; a key deleted from the file since the last Load reverts to its
// previous value or default.
func Load(path string) (*Config, error) {
	if path != "" {
		if err := applyEnvFile(path); err != nil {
			return nil, err
		}
	}

	labelColor, err := parseColor(getEnv("LABEL_COLOR", DefaultLabelColor))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Port:                  getEnvAsInt("PORT", 8080),
		Password:              getEnv("PASSWORD", "detector"),
		ModelPath:             getEnv("MODEL_PATH", filepath.Join(".", "models", "yolov8n.onnx")),
		ModelInputSize:        getEnvAsInt("MODEL_INPUT_SIZE", 640),
		LabelsPath:            getEnv("LABELS_PATH", ""),
		IoUThreshold:          getEnvAsFloat("IOU_THRESHOLD", 0.45),
		MinBoxConfidence:      ClampConfidence(getEnvAsFloat("MIN_BOX_CONFIDENCE", DefaultMinBoxConfidence)),
		Provider:              strings.ToLower(getEnv("PROVIDER", "webcam")),
		CameraDevice:          getEnvAsInt("CAMERA_DEVICE", 0),
		VideoPath:             getEnv("VIDEO_PATH", ""),
		VideoLoop:             getEnvAsBool("VIDEO_LOOP", true),
		LabelColor:            labelColor,
		DisplayWidth:          getEnvAsInt("DISPLAY_WIDTH", 1280),
		DisplayHeight:         getEnvAsInt("DISPLAY_HEIGHT", 720),
		TickInterval:          time.Duration(getEnvAsInt("TICK_INTERVAL_MS", 33)) * time.Millisecond,
		SnapshotDirectory:     getEnv("SNAPSHOT_DIR", filepath.Join(".", "snapshots")),
		SnapshotLimit:         getEnvAsInt("SNAPSHOT_LIMIT", 10),
		SnapshotFlushInterval: time.Duration(getEnvAsInt("SNAPSHOT_FLUSH_INTERVAL", 30)) * time.Second,
		DatabasePath:          getEnv("DATABASE_PATH", filepath.Join(".", "data", "snapshots.db")),
		LogDirectory:          getEnv("LOG_DIR", filepath.Join(".", "logs")),
		ConfigFile:            path,
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnvFile(path string) error {
	values, err := godotenv.Read(path)
	if err != nil && !os.IsNotExist(errors.Cause(err)) {
		return errors.Wrapf(err, "failed to read %s", path)
	}

	envMu.Lock()
	defer envMu.Unlock()

	applied := envFiles[path]
	if applied == nil {
		applied = make(map[string]envValue)
		envFiles[path] = applied
	}

	for key, prev := range applied {
		if _, ok := values[key]; ok {
			continue
		}
		if prev.set {
			os.Setenv(key, prev.value)
		} else {
			os.Unsetenv(key)
		}
		delete(applied, key)
	}

	for key, value := range values {
		if _, ok := applied[key]; !ok {
			prev, set := os.LookupEnv(key)
			applied[key] = envValue{value: prev, set: set}
		}
		if err := os.Setenv(key, value); err != nil {
			return errors.Wrapf(err, "failed to set %s", key)
		}
	}
	return nil
}

// Validate reports settings the server cannot start with.
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return errors.Errorf("invalid port %d", c.Port)
	}
	if c.ModelInputSize <= 0 {
		return errors.Errorf("invalid model input size %d", c.ModelInputSize)
	}
	if c.IoUThreshold <= 0 || c.IoUThreshold > 1 {
		return errors.Errorf("iou threshold must be in (0,1], got %v", c.IoUThreshold)
	}
	if c.TickInterval <= 0 {
		return errors.New("tick interval must be positive")
	}
	if c.DisplayWidth <= 0 || c.DisplayHeight <= 0 {
		return errors.Errorf("invalid display size %dx%d", c.DisplayWidth, c.DisplayHeight)
	}
	if c.Provider == "video" && c.VideoPath == "" {
		return errors.New("VIDEO_PATH is required for the video provider")
	}
	return nil
}

// Display returns the surface size highlights are scaled to.
func (c *Config) Display() image.Point {
	return image.Pt(c.DisplayWidth, c.DisplayHeight)
}

// ClampConfidence limits a threshold to [0,1].
func ClampConfidence(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// ParseColor parses "#rrggbb" or "#rrggbbaa" into an RGBA colour.
func ParseColor(s string) (color.RGBA, error) {
	return parseColor(s)
}

func parseColor(s string) (color.RGBA, error) {
	s = strings.TrimSpace(s)
	alpha := uint8(0xff)
	if len(s) == 9 {
		a, err := strconv.ParseUint(s[7:], 16, 8)
		if err != nil {
			return color.RGBA{}, errors.Wrapf(err, "invalid alpha in colour %q", s)
		}
		alpha = uint8(a)
		s = s[:7]
	}
	c, err := colorful.Hex(s)
	if err != nil {
		return color.RGBA{}, errors.Wrapf(err, "invalid colour %q", s)
	}
	r, g, b := c.RGB255()
	return color.RGBA{R: r, G: g, B: b, A: alpha}, nil
}

// FormatColor is the inverse of ParseColor.
func FormatColor(c color.RGBA) string {
	return "#" + hex2(c.R) + hex2(c.G) + hex2(c.B) + hex2(c.A)
}

func hex2(v uint8) string {
	s := strconv.FormatUint(uint64(v), 16)
	if len(s) == 1 {
		return "0" + s
	}
	return s
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}
