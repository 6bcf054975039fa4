package cmd

import (
	"net"
	"net/http"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"vderm-backend/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServeUntilSignalWaitsForInFlightRequests(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var finished, cleanedUp atomic.Bool

	server := &http.Server{
		Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			close(started)
			<-release
			time.Sleep(50 * time.Millisecond)
			finished.Store(true)
			w.WriteHeader(http.StatusOK)
		}),
	}

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	quit := make(chan os.Signal, 1)
	served := make(chan error, 1)
	go func() {
		served <- ServeUntilSignal(server, listener, quit, 5*time.Second, func() {
			cleanedUp.Store(finished.Load())
		})
	}()

	responses := make(chan int, 1)
	go func() {
		res, err := http.Get("http://" + listener.Addr().String() + "/")
		if err != nil {
			responses <- 0
			return
		}
		res.Body.Close()
		responses <- res.StatusCode
	}()

	<-started
	quit <- os.Interrupt
	// give Shutdown time to close the listener before the handler returns
	time.Sleep(20 * time.Millisecond)
	close(release)

	select {
	case err := <-served:
		require.NoError(t, err)
		assert.True(t, finished.Load())
		assert.True(t, cleanedUp.Load())
	case <-time.After(10 * time.Second):
		t.Fatal("server did not stop")
	}

	assert.Equal(t, http.StatusOK, <-responses)
}

func TestServeUntilSignalReturnsServeError(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	listener.Close()

	err = ServeUntilSignal(&http.Server{}, listener, make(chan os.Signal), time.Second)
	assert.Error(t, err)
}

func TestShutdownTimeout(t *testing.T) {
	assert.Equal(t, 30*time.Second, ShutdownTimeout(config.ClassifierConfig{}, config.AssistantConfig{}))

	classifier := config.ClassifierConfig{Timeout: 60 * time.Second, QueueTimeout: 10 * time.Second}
	assistant := config.AssistantConfig{Timeout: 60 * time.Second}
	assert.Equal(t, 75*time.Second, ShutdownTimeout(classifier, assistant))
}
