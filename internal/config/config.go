package config

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"time"
)

// Config holds the runtime configuration of the inference server. All values
// come from the environment with documented defaults; a handful of flags in
// cmd/server may override the address fields.
type Config struct {
	// Listener addresses
	Host        string // API_HOST
	Port        int    // API_PORT
	MetricsAddr string // METRICS_ADDR
	PprofAddr   string // PPROF_ADDR

	// Model configuration
	YOLOModel      string  // YOLO_MODEL, path to the detector ONNX file
	SegModel       string  // SEG_MODEL, path to the segmenter ONNX file
	OnnxRuntimeLib string  // ONNX_RUNTIME_LIB, path to the onnxruntime shared library
	ConfThreshold  float32 // CONFIDENCE_THRESHOLD
	IOUThreshold   float32 // IOU_THRESHOLD
	GPUDevice      int     // GPU_DEVICE, -1 selects CPU
	MaxWorkers     int     // MAX_WORKERS, inference session pool size

	// Session knobs
	MaxSessions   int           // MAX_SESSIONS, 0 = unbounded
	MaxFrameBytes int64         // MAX_FRAME_BYTES, WebSocket read limit
	IdleTimeout   time.Duration // SESSION_IDLE_TIMEOUT, 0 = none

	// Misc
	OutputDir string // OUTPUT_DIR, processed video destination
	LogLevel  string // LOG_LEVEL
}

// FromEnv builds a Config from the environment, applying defaults for unset
// variables. Malformed values are an error rather than a silent fallback.
func FromEnv() (Config, error) {
	cfg := Config{
		Host:           envString("API_HOST", "0.0.0.0"),
		MetricsAddr:    envString("METRICS_ADDR", ":9090"),
		PprofAddr:      envString("PPROF_ADDR", ":6060"),
		YOLOModel:      envString("YOLO_MODEL", "models/yolo11n.onnx"),
		SegModel:       envString("SEG_MODEL", "models/yolo11n-seg.onnx"),
		OnnxRuntimeLib: envString("ONNX_RUNTIME_LIB", ""),
		OutputDir:      envString("OUTPUT_DIR", "./output"),
		LogLevel:       envString("LOG_LEVEL", "info"),
	}

	var err error
	if cfg.Port, err = envInt("API_PORT", 8000); err != nil {
		return cfg, err
	}
	if cfg.ConfThreshold, err = envFloat32("CONFIDENCE_THRESHOLD", 0.25); err != nil {
		return cfg, err
	}
	if cfg.IOUThreshold, err = envFloat32("IOU_THRESHOLD", 0.45); err != nil {
		return cfg, err
	}
	if cfg.GPUDevice, err = envInt("GPU_DEVICE", -1); err != nil {
		return cfg, err
	}
	if cfg.MaxWorkers, err = envInt("MAX_WORKERS", defaultWorkers()); err != nil {
		return cfg, err
	}
	if cfg.MaxSessions, err = envInt("MAX_SESSIONS", 0); err != nil {
		return cfg, err
	}
	maxFrame, err := envInt("MAX_FRAME_BYTES", 8<<20)
	if err != nil {
		return cfg, err
	}
	cfg.MaxFrameBytes = int64(maxFrame)
	if cfg.IdleTimeout, err = envDuration("SESSION_IDLE_TIMEOUT", 0); err != nil {
		return cfg, err
	}

	if cfg.MaxWorkers < 1 {
		cfg.MaxWorkers = 1
	}
	if cfg.ConfThreshold < 0 || cfg.ConfThreshold > 1 {
		return cfg, fmt.Errorf("CONFIDENCE_THRESHOLD must be in [0,1], got %v", cfg.ConfThreshold)
	}
	if cfg.IOUThreshold < 0 || cfg.IOUThreshold > 1 {
		return cfg, fmt.Errorf("IOU_THRESHOLD must be in [0,1], got %v", cfg.IOUThreshold)
	}

	return cfg, nil
}

// ListenAddr returns the host:port the API server binds to.
func (c Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func defaultWorkers() int {
	n := runtime.NumCPU()
	if n > 4 {
		n = 4
	}
	return n
}

func envString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func envFloat32(key string, def float32) (float32, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 32)
	if err != nil {
		return def, fmt.Errorf("%s: %w", key, err)
	}
	return float32(f), nil
}

func envDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}
