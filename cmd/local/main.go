package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"vderm-backend/cmd"
	"vderm-backend/internal/api"
	"vderm-backend/internal/config"
	"vderm-backend/internal/database"
	"vderm-backend/internal/messaging"
	"vderm-backend/internal/storage"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	Root           string   `env:"ROOT" envDefault:"./vderm-data"`
	Port           int      `env:"PORT" envDefault:"3001"`
	DatabaseURL    string   `env:"DATABASE_URL"`
	EventQueueSize int      `env:"EVENT_QUEUE_SIZE" envDefault:"1000"`
	AllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envSeparator:"," envDefault:"*"`

	Classifier config.ClassifierConfig
	Assistant  config.AssistantConfig
}

const imageBucket = "uploads"

func main() {
	cmd.LoadEnvFile()

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("error parsing config: %v", err)
	}

	log.SetFlags(log.LstdFlags | log.Lshortfile)
	if err := os.MkdirAll(cfg.Root, os.ModePerm); err != nil {
		log.Fatalf("error creating directory for log file: %v", err)
	}

	f, err := os.OpenFile(filepath.Join(cfg.Root, "backend.log"), os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
	if err != nil {
		log.Fatalf("error opening log file: %v", err)
	}
	defer f.Close()

	log.SetOutput(io.MultiWriter(f, os.Stderr))

	slog.Info("starting backend", "root", cfg.Root, "port", cfg.Port, "classifier_target", cfg.Classifier.Target, "llm_provider", cfg.Assistant.Provider)

	databaseURL := cfg.DatabaseURL
	if databaseURL == "" {
		databaseURL = "sqlite://" + filepath.Join(cfg.Root, "db", "vderm.db")
	}

	db, err := database.NewDatabase(databaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	localStorage, err := storage.NewLocalProvider(filepath.Join(cfg.Root, "storage"))
	if err != nil {
		log.Fatalf("Failed to create storage client: %v", err)
	}
	if err := localStorage.CreateBucket(context.Background(), imageBucket); err != nil {
		log.Fatalf("Failed to create image bucket: %v", err)
	}

	queue := messaging.NewInMemoryQueue(cfg.EventQueueSize)
	events := messaging.NewEventProcessor(queue, messaging.RecordDiagnosisEvent)

	services := cmd.CreateServices(db, cfg.Classifier, cfg.Assistant, localStorage, imageBucket, queue)

	server := &http.Server{
		Handler: api.NewRouter(cfg.AllowedOrigins, services...),
	}

	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Port))
	if err != nil {
		log.Fatalf("Could not listen on %d: %v", cfg.Port, err)
	}

	slog.Info("starting event processor")
	go events.Start()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	stopEvents := func() {
		slog.Info("shutting down event processor")
		events.Stop()
	}

	slog.Info("server started", "port", cfg.Port)
	if err := cmd.ServeUntilSignal(server, listener, quit, cmd.ShutdownTimeout(cfg.Classifier, cfg.Assistant), stopEvents); err != nil {
		log.Fatalf("Server error: %v", err)
	}

	slog.Info("server stopped")
}
