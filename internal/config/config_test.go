package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifierDefaults(t *testing.T) {
	var cfg ClassifierConfig
	require.NoError(t, env.ParseWithOptions(&cfg, env.Options{Environment: map[string]string{}}))

	assert.Equal(t, "development", cfg.Target)
	assert.Equal(t, 60*time.Second, cfg.Timeout)
	assert.Equal(t, int64(2), cfg.MaxConcurrency)
	assert.Equal(t, 10*time.Second, cfg.QueueTimeout)
	assert.Equal(t, []string{"Lumpy", "Normal"}, cfg.ClassLabels)
}

func TestResolvePathsFromTable(t *testing.T) {
	cfg := ClassifierConfig{Target: "production"}
	paths, err := cfg.ResolvePaths()
	require.NoError(t, err)

	assert.Equal(t, "/venv/bin/python", paths.Executable)
	assert.Equal(t, []string{"/app/src/model/predict.py"}, paths.Args)
	assert.Equal(t, "/app/src/model", paths.ModelPath)
}

func TestResolvePathsOverrides(t *testing.T) {
	cfg := ClassifierConfig{
		Target:     "production",
		Executable: "/usr/bin/python3.11",
		Args:       []string{"-u", "predict.py"},
		ModelPath:  "models",
	}
	paths, err := cfg.ResolvePaths()
	require.NoError(t, err)

	abs, err := filepath.Abs("models")
	require.NoError(t, err)

	assert.Equal(t, "/usr/bin/python3.11", paths.Executable)
	assert.Equal(t, []string{"-u", "predict.py"}, paths.Args)
	assert.Equal(t, abs, paths.ModelPath)
}

func TestResolvePathsWithoutTarget(t *testing.T) {
	paths, err := ClassifierConfig{Executable: "./classify.sh"}.ResolvePaths()
	require.NoError(t, err)
	assert.Equal(t, "./classify.sh", paths.Executable)
	assert.Empty(t, paths.ModelPath)

	_, err = ClassifierConfig{}.ResolvePaths()
	assert.Error(t, err)
}

func TestResolvePathsUnknownTarget(t *testing.T) {
	_, err := ClassifierConfig{Target: "mainframe"}.ResolvePaths()
	assert.ErrorContains(t, err, "unknown classifier target")
}

func TestResolvePathsBadTable(t *testing.T) {
	_, err := ClassifierConfig{Target: "production"}.resolvePaths([]byte("targets: [oops"))
	assert.Error(t, err)
}

func TestTargets(t *testing.T) {
	targets, err := Targets()
	require.NoError(t, err)
	assert.Equal(t, []string{"development", "production", "windows"}, targets)
}

func TestResolvedAPIKey(t *testing.T) {
	assert.Equal(t, "g-key", AssistantConfig{Provider: ProviderGemini, GeminiAPIKey: "g-key", OpenAIAPIKey: "o-key"}.ResolvedAPIKey())
	assert.Equal(t, "o-key", AssistantConfig{Provider: ProviderOpenAI, GeminiAPIKey: "g-key", OpenAIAPIKey: "o-key"}.ResolvedAPIKey())
	assert.Equal(t, "explicit", AssistantConfig{Provider: ProviderOpenAI, APIKey: " explicit ", OpenAIAPIKey: "o-key"}.ResolvedAPIKey())
	assert.Empty(t, AssistantConfig{Provider: ProviderGemini, OpenAIAPIKey: "o-key"}.ResolvedAPIKey())
}
