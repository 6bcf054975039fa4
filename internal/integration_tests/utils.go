//go:build integration
// +build integration

// Run integration tests with: go test -tags=integration ./...

package integrationtests

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	backend "vderm-backend/internal/api"
	"vderm-backend/internal/database"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/minio"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"gorm.io/gorm"
)

// createDB opens a migrated database on a fresh postgres container.
func createDB(t *testing.T, ctx context.Context) *gorm.DB {
	db, err := database.NewDatabase(setupPostgresContainer(t, ctx))
	require.NoError(t, err)
	return db
}

// terminateOnCleanup stops the container when the test finishes. Containers
// are left to the reaper if termination fails.
func terminateOnCleanup(t *testing.T, name string, container testcontainers.Container) {
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("failed to terminate %s container: %v", name, err)
		}
	})
}

const (
	minioUsername = "admin"
	minioPassword = "password"
)

func setupMinioContainer(t *testing.T, ctx context.Context) string {
	minioContainer, err := minio.Run(
		ctx,
		"minio/minio:RELEASE.2024-01-16T16-07-38Z",
		minio.WithUsername(minioUsername),
		minio.WithPassword(minioPassword),
	)
	require.NoError(t, err, "unable to start minio")
	terminateOnCleanup(t, "minio", minioContainer)

	connStr, err := minioContainer.ConnectionString(ctx)
	require.NoError(t, err, "unable to get minio endpoint")

	return "http://" + connStr
}

func setupPostgresContainer(t *testing.T, ctx context.Context) string {
	postgresContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("vderm"),
		postgres.WithUsername("vderm"),
		postgres.WithPassword("vderm-test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	require.NoError(t, err, "unable to start postgres")
	terminateOnCleanup(t, "postgres", postgresContainer)

	connStr, err := postgresContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err, "unable to get postgres connection string")

	return connStr
}

// writeClassifier creates an executable that prints output regardless of the
// image it is given.
func writeClassifier(t *testing.T, output string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "predict.sh")
	script := fmt.Sprintf("#!/bin/sh\ncat <<'JSON'\n%s\nJSON\n", output)
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

func httpRequest(api http.Handler, method, endpoint, userId string, payload any, dest any) error {
	var body io.Reader
	if payload != nil {
		requestBody, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(requestBody)
	}

	req := httptest.NewRequest(method, endpoint, body)
	req.Header.Set("Content-Type", "application/json")
	if userId != "" {
		req.Header.Set(backend.UserIdHeader, userId)
	}

	rr := httptest.NewRecorder()
	api.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		return fmt.Errorf("expected status code 200, got %d: %v", rr.Code, rr.Body.String())
	}

	if dest != nil {
		if err := json.Unmarshal(rr.Body.Bytes(), dest); err != nil {
			return fmt.Errorf("failed to unmarshal response: %w", err)
		}
	}

	return nil
}
