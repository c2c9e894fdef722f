package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	_ "net/http/pprof" // Enable pprof
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fruitvision/vision-server/internal/api"
	"github.com/fruitvision/vision-server/internal/config"
	"github.com/fruitvision/vision-server/internal/inference"
	"github.com/fruitvision/vision-server/internal/logger"
	"github.com/fruitvision/vision-server/internal/metrics"
)

var (
	// Command-line flags override the environment for the address and logging
	// knobs; everything else comes from config.FromEnv.
	httpAddr    = flag.String("http", "", "API server address (overrides API_HOST/API_PORT)")
	metricsAddr = flag.String("metrics", "", "Metrics server address (overrides METRICS_ADDR)")
	pprofAddr   = flag.String("pprof", "", "pprof server address (overrides PPROF_ADDR)")
	logLevel    = flag.String("log-level", "", "Log level (debug, info, warn, error, silent)")
	logColor    = flag.Bool("log-color", true, "Enable colored log output")
)

func main() {
	flag.Parse()

	cfg, err := config.FromEnv()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	if *metricsAddr != "" {
		cfg.MetricsAddr = *metricsAddr
	}
	if *pprofAddr != "" {
		cfg.PprofAddr = *pprofAddr
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}

	level, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Invalid log level: %v", err)
	}
	logger.Init(level, os.Stderr, *logColor)

	logger.Info("Main", "Vision server starting...")
	logger.Info("Main", "Log level: %s", level)

	if err := os.MkdirAll(cfg.OutputDir, 0o755); err != nil {
		log.Fatalf("Failed to create output directory: %v", err)
	}

	// Load models before accepting any traffic.
	if err := inference.InitRuntime(cfg.OnnxRuntimeLib); err != nil {
		log.Fatalf("Failed to initialize onnxruntime: %v", err)
	}

	detector, err := inference.NewYOLODetector(cfg.YOLOModel, cfg.MaxWorkers,
		cfg.ConfThreshold, cfg.IOUThreshold, cfg.GPUDevice)
	if err != nil {
		log.Fatalf("Failed to load detection model: %v", err)
	}
	defer detector.Close()

	// The segmentation model is optional; /segment reports failure when it
	// is not available.
	var segmenter inference.Segmenter
	if _, err := os.Stat(cfg.SegModel); err == nil {
		seg, err := inference.NewMaskSegmenter(cfg.SegModel, cfg.MaxWorkers,
			cfg.ConfThreshold, cfg.IOUThreshold, cfg.GPUDevice)
		if err != nil {
			log.Fatalf("Failed to load segmentation model: %v", err)
		}
		defer seg.Close()
		segmenter = seg
	} else {
		logger.Warn("Main", "segmentation model %s not found, /segment disabled", cfg.SegModel)
	}

	m := metrics.New()
	apiServer := api.NewServer(&cfg, detector, segmenter, m)

	addr := cfg.ListenAddr()
	if *httpAddr != "" {
		addr = *httpAddr
	}
	httpServer := &http.Server{
		Addr:    addr,
		Handler: apiServer.Handler(),
	}

	// Start pprof server
	go func() {
		logger.Info("Main", "Starting pprof server on %s", cfg.PprofAddr)
		if err := http.ListenAndServe(cfg.PprofAddr, nil); err != nil {
			logger.Warn("Main", "pprof server error: %v", err)
		}
	}()

	// Start metrics server
	go func() {
		logger.Info("Main", "Starting metrics server on %s", cfg.MetricsAddr)
		if err := m.StartServer(cfg.MetricsAddr); err != nil {
			logger.Warn("Main", "Metrics server error: %v", err)
		}
	}()

	// Start API server
	go func() {
		logger.Info("Main", "Starting API server on %s", addr)
		if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
			log.Fatalf("API server error: %v", err)
		}
	}()

	logger.Info("Main", "Server started successfully")

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("Main", "Shutting down...")

	// Notify websocket clients, then close their connections so the relay
	// loops exit.
	apiServer.Registry().Broadcast(map[string]any{"type": "server_shutdown"})
	apiServer.Registry().CloseAll()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("Main", "Error during shutdown: %v", err)
	}

	logger.Info("Main", "Server stopped")
}
