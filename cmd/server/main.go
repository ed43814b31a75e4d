package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/gommon/log"

	"github.com/deepfake-scanner/backend/internal/analysis"
	"github.com/deepfake-scanner/backend/internal/api"
	"github.com/deepfake-scanner/backend/internal/config"
	"github.com/deepfake-scanner/backend/internal/metrics"
	"github.com/deepfake-scanner/backend/internal/queue"
	"github.com/deepfake-scanner/backend/internal/storage"
)

// Version info (set during build)
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	level := parseLogLevel(cfg.Advanced.LogLevel)
	log.SetLevel(level)
	log.SetHeader("${time_rfc3339} ${level} ${short_file}:${line}")

	// Initialize storage
	store, err := storage.NewLocalStore(cfg.Storage.ContentDirectory)
	if err != nil {
		fmt.Printf("Failed to initialize storage: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize analysis dispatch
	var (
		dispatcher analysis.Dispatcher = analysis.NopDispatcher{}
		pool       *analysis.Pool
		broker     *queue.RabbitMQ
		queueState api.QueueStatus
	)
	switch cfg.Analysis.Driver {
	case config.DriverLocal:
		pool = analysis.NewPool(analysis.ChecksumAnalyzer{}, cfg.Analysis.Workers, cfg.Analysis.QueueSize)
		dispatcher = pool
	case config.DriverRabbitMQ:
		broker, err = queue.Dial(queue.Config{
			URL:            cfg.RabbitMQ.URL,
			JobQueue:       cfg.RabbitMQ.JobQueue,
			ResultQueue:    cfg.RabbitMQ.ResultQueue,
			ConnectRetries: cfg.RabbitMQ.ConnectRetries,
		})
		if err != nil {
			fmt.Printf("Failed to connect to RabbitMQ: %v\n", err)
			os.Exit(1)
		}
		defer broker.Close()
		dispatcher = broker
		queueState = broker
	}

	// Initialize tracker and metrics; each needs the other.
	var tracker *analysis.Manager
	m := metrics.New(func() int { return tracker.Count() })
	tracker = analysis.NewManager(store, dispatcher, analysis.Options{
		AllowedExtensions: cfg.GetAllowedExtensions(),
		RemoveFileOnClear: cfg.Storage.RemoveFileOnClear,
		OnFinish:          m.ObserveFinished,
	})

	if pool != nil {
		// Jobs already queued are drained on shutdown.
		pool.Start(context.Background(), tracker)
		defer pool.Stop()
	}
	if broker != nil {
		go func() {
			if err := broker.ConsumeResults(ctx, tracker); err != nil {
				log.Errorf("[Queue] result consumer stopped: %v", err)
			}
		}()
	}

	e := echo.New()
	e.HideBanner = true
	e.Logger.SetLevel(level)

	uploadLimit, err := cfg.UploadLimit()
	if err != nil {
		fmt.Printf("Invalid upload limit: %v\n", err)
		os.Exit(1)
	}

	api.SetupMiddleware(e, api.MiddlewareOptions{
		RequestLogging: level != log.OFF,
		LogStatusPolls: cfg.Server.LogStatusPolls,
		BodyLimit:      uploadLimit,
		EnableCORS:     cfg.Server.EnableCORS,
		AllowOrigins:   cfg.GetAllowOrigins(),
	})

	api.RegisterRoutes(e, api.NewHandlers(&api.Dependencies{
		Tracker:        tracker,
		Metrics:        m,
		Queue:          queueState,
		Version:        Version,
		StreamInterval: time.Duration(cfg.Advanced.StatusStreamIntervalMs) * time.Millisecond,
	}))

	s := &http.Server{
		Addr:         cfg.GetServerAddr(),
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeout) * time.Second,
	}

	printBanner(cfg, configPath)

	go func() {
		if err := e.StartServer(s); err != nil && !errors.Is(err, http.ErrServerClosed) {
			e.Logger.Fatal(err)
		}
	}()

	<-ctx.Done()
	log.Info("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Errorf("Shutdown error: %v", err)
	}
}

func parseLogLevel(level string) log.Lvl {
	switch strings.ToLower(level) {
	case "debug":
		return log.DEBUG
	case "warn", "warning":
		return log.WARN
	case "error":
		return log.ERROR
	case "off":
		return log.OFF
	default:
		return log.INFO
	}
}

func printBanner(cfg *config.AppConfig, configPath string) {
	fmt.Printf("\n")
	fmt.Printf("╔═══════════════════════════════════════════════════════════╗\n")
	fmt.Printf("║           Deepfake Scanner Backend                        ║\n")
	fmt.Printf("╠═══════════════════════════════════════════════════════════╣\n")
	fmt.Printf("║  Version:    %-45s║\n", Version)
	fmt.Printf("║  Build Time: %-45s║\n", BuildTime)
	fmt.Printf("║  Analysis:   %-45s║\n", cfg.Analysis.Driver)
	fmt.Printf("╠═══════════════════════════════════════════════════════════╣\n")
	fmt.Printf("║  Config:    %-46s║\n", configPath)
	fmt.Printf("║  Listen:    http://%-38s║\n", cfg.GetServerAddr())
	fmt.Printf("║  Public:    %-46s║\n", cfg.Server.BackendBaseURL)
	fmt.Printf("║  Content:   %-46s║\n", cfg.Storage.ContentDirectory)
	fmt.Printf("╚═══════════════════════════════════════════════════════════╝\n")
	fmt.Printf("\n")
}
