package cmd

import (
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"vderm-backend/internal/api"
	"vderm-backend/internal/chat"
	"vderm-backend/internal/config"
	"vderm-backend/internal/diagnosis"
	"vderm-backend/internal/messaging"
	"vderm-backend/internal/storage"

	"github.com/joho/godotenv"
	"gorm.io/gorm"
)

func LoadEnvFile() {
	var configPath string

	flag.StringVar(&configPath, "env", "", "path to load env from")
	flag.Parse()

	if configPath == "" {
		log.Printf("no env file specified, using os.Environ only")
		return
	}

	log.Printf("loading env from file %s", configPath)
	err := godotenv.Load(configPath)
	if err != nil {
		log.Fatalf("error loading .env file '%s': %v", configPath, err)
	}
}

// CreateAssistant falls back to an assistant that only answers with the not
// configured reply when no api key is available.
func CreateAssistant(cfg config.AssistantConfig) chat.Assistant {
	assistant, err := chat.NewAssistant(cfg)
	if err != nil {
		if errors.Is(err, chat.ErrAssistantNotConfigured) {
			slog.Warn("no llm api key configured, chat replies will use the fallback message", "provider", cfg.Provider)
			return chat.NewUnconfiguredAssistant()
		}
		log.Fatalf("Failed to create assistant: %v", err)
	}
	return assistant
}

// CreateServices wires the diagnosis pipeline and the chat manager onto the
// given infrastructure.
func CreateServices(db *gorm.DB, classifierCfg config.ClassifierConfig, assistantCfg config.AssistantConfig, provider storage.Provider, bucket string, publisher messaging.Publisher) []api.Routes {
	classifier, err := classifierCfg.NewClassifier()
	if err != nil {
		log.Fatalf("Failed to create classifier: %v", err)
	}

	store := diagnosis.NewStore(db)
	diagnoses := diagnosis.NewService(classifier, store, provider, bucket, publisher)

	manager := chat.NewManager(db, store, chat.NewPromptBuilder(classifierCfg.ClassLabels), CreateAssistant(assistantCfg))

	return []api.Routes{
		api.NewBackendService(diagnoses, classifierCfg.ClassLabels),
		api.NewChatService(manager, classifierCfg.ClassLabels),
	}
}

// ShutdownTimeout leaves room for a request that is waiting on the classifier
// or the assistant when shutdown starts.
func ShutdownTimeout(classifier config.ClassifierConfig, assistant config.AssistantConfig) time.Duration {
	return max(30*time.Second, classifier.QueueTimeout+classifier.Timeout+5*time.Second, assistant.Timeout+5*time.Second)
}

// ServeUntilSignal serves on l until quit fires, then waits for in-flight
// requests to finish and runs onShutdown before returning.
func ServeUntilSignal(server *http.Server, l net.Listener, quit <-chan os.Signal, timeout time.Duration, onShutdown ...func()) error {
	shutdownDone := make(chan struct{})

	go func() {
		defer close(shutdownDone)

		<-quit
		slog.Info("shutting down server")

		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			slog.Error("server forced to shutdown", "error", err)
		}

		for _, fn := range onShutdown {
			fn()
		}
	}()

	if err := server.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	// Serve returns as soon as Shutdown begins.
	<-shutdownDone

	return nil
}
