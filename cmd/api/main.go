package main

import (
	"context"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"vderm-backend/cmd"
	"vderm-backend/internal/api"
	"vderm-backend/internal/config"
	"vderm-backend/internal/database"
	"vderm-backend/internal/messaging"
	"vderm-backend/internal/storage"

	"github.com/caarlos0/env/v11"
)

type APIConfig struct {
	DatabaseURL       string   `env:"DATABASE_URL,notEmpty,required"`
	RabbitMQURL       string   `env:"RABBITMQ_URL,notEmpty,required"`
	S3EndpointURL     string   `env:"S3_ENDPOINT_URL"`
	S3AccessKeyID     string   `env:"AWS_ACCESS_KEY_ID"`
	S3SecretAccessKey string   `env:"AWS_SECRET_ACCESS_KEY"`
	S3Region          string   `env:"AWS_REGION,notEmpty,required"`
	ImageBucketName   string   `env:"IMAGE_BUCKET_NAME" envDefault:"diagnosis-images"`
	APIPort           string   `env:"API_PORT" envDefault:"8001"`
	AllowedOrigins    []string `env:"CORS_ALLOWED_ORIGINS" envSeparator:"," envDefault:"*"`

	Classifier config.ClassifierConfig
	Assistant  config.AssistantConfig
}

func main() {
	log.Println("Starting API Server...")

	cmd.LoadEnvFile()

	var cfg APIConfig
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("error parsing config: %v", err)
	}

	db, err := database.NewDatabase(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	s3Provider, err := storage.NewS3Provider(&storage.S3ProviderConfig{
		S3EndpointURL:     cfg.S3EndpointURL,
		S3AccessKeyID:     cfg.S3AccessKeyID,
		S3SecretAccessKey: cfg.S3SecretAccessKey,
		S3Region:          cfg.S3Region,
	})
	if err != nil {
		log.Fatalf("Failed to create S3 client: %v", err)
	}

	if err := s3Provider.CreateBucket(context.Background(), cfg.ImageBucketName); err != nil {
		log.Fatalf("Failed to create image bucket: %v", err)
	}

	publisher, err := messaging.NewRabbitMQPublisher(cfg.RabbitMQURL)
	if err != nil {
		log.Fatalf("Failed to connect to RabbitMQ: %v", err)
	}
	defer publisher.Close()

	services := cmd.CreateServices(db, cfg.Classifier, cfg.Assistant, s3Provider, cfg.ImageBucketName, publisher)

	server := &http.Server{
		Handler: api.NewRouter(cfg.AllowedOrigins, services...),
	}

	listener, err := net.Listen("tcp", ":"+cfg.APIPort)
	if err != nil {
		log.Fatalf("Could not listen on %s: %v", cfg.APIPort, err)
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	log.Printf("API server listening on port %s", cfg.APIPort)
	if err := cmd.ServeUntilSignal(server, listener, quit, cmd.ShutdownTimeout(cfg.Classifier, cfg.Assistant)); err != nil {
		log.Fatalf("Server error: %v", err)
	}

	log.Println("Server stopped.")
}
