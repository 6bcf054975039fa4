package config

import (
	_ "embed"
	"fmt"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"vderm-backend/internal/core"

	"gopkg.in/yaml.v2"
)

// ClassifierConfig selects and bounds the external classifier. The target
// picks an entry of the embedded table; the explicit overrides win over it.
type ClassifierConfig struct {
	Target         string        `env:"CLASSIFIER_TARGET" envDefault:"development"`
	Executable     string        `env:"CLASSIFIER_EXECUTABLE"`
	Args           []string      `env:"CLASSIFIER_ARGS" envSeparator:","`
	ModelPath      string        `env:"CLASSIFIER_MODEL_PATH"`
	Timeout        time.Duration `env:"CLASSIFIER_TIMEOUT" envDefault:"60s"`
	MaxConcurrency int64         `env:"CLASSIFIER_MAX_CONCURRENCY" envDefault:"2"`
	QueueTimeout   time.Duration `env:"CLASSIFIER_QUEUE_TIMEOUT" envDefault:"10s"`
	TempDir        string        `env:"CLASSIFIER_TEMP_DIR"`
	ClassLabels    []string      `env:"CLASS_LABELS" envSeparator:"," envDefault:"Lumpy,Normal"`
}

type classifierTarget struct {
	Executable string   `yaml:"executable"`
	Args       []string `yaml:"args"`
	ModelPath  string   `yaml:"model_path"`
}

//go:embed classifiers.yaml
var classifiersYAML []byte

func loadTargets(data []byte) (map[string]classifierTarget, error) {
	raw := struct {
		Targets map[string]classifierTarget `yaml:"targets"`
	}{}

	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("error parsing classifier targets: %w", err)
	}

	return raw.Targets, nil
}

// Targets lists the deployment targets known to the embedded table.
func Targets() ([]string, error) {
	targets, err := loadTargets(classifiersYAML)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(targets))
	for name := range targets {
		names = append(names, name)
	}
	slices.Sort(names)
	return names, nil
}

// ResolvePaths looks up the configured target once and applies overrides.
func (c ClassifierConfig) ResolvePaths() (core.ClassifierPaths, error) {
	return c.resolvePaths(classifiersYAML)
}

func (c ClassifierConfig) resolvePaths(table []byte) (core.ClassifierPaths, error) {
	var paths core.ClassifierPaths

	if c.Target != "" {
		targets, err := loadTargets(table)
		if err != nil {
			return paths, err
		}
		target, ok := targets[c.Target]
		if !ok {
			return paths, fmt.Errorf("unknown classifier target '%s'", c.Target)
		}
		paths = core.ClassifierPaths{
			Executable: target.Executable,
			Args:       target.Args,
			ModelPath:  target.ModelPath,
		}
	}

	if c.Executable != "" {
		paths.Executable = c.Executable
	}
	if len(c.Args) > 0 {
		paths.Args = c.Args
	}
	if c.ModelPath != "" {
		paths.ModelPath = c.ModelPath
	}

	if paths.Executable == "" {
		return paths, fmt.Errorf("no classifier executable configured for target '%s'", c.Target)
	}

	if paths.ModelPath != "" {
		abs, err := filepath.Abs(paths.ModelPath)
		if err != nil {
			return paths, fmt.Errorf("error resolving model path %s: %w", paths.ModelPath, err)
		}
		paths.ModelPath = abs
	}

	return paths, nil
}

func (c ClassifierConfig) Options() core.ClassifierOptions {
	return core.ClassifierOptions{
		Timeout:        c.Timeout,
		QueueTimeout:   c.QueueTimeout,
		MaxConcurrency: c.MaxConcurrency,
		TempDir:        c.TempDir,
	}
}

func (c ClassifierConfig) NewClassifier() (*core.Classifier, error) {
	paths, err := c.ResolvePaths()
	if err != nil {
		return nil, err
	}
	return core.NewClassifier(paths, c.Options())
}

const (
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"
)

type AssistantConfig struct {
	Provider     string        `env:"LLM_PROVIDER" envDefault:"gemini"`
	APIKey       string        `env:"LLM_API_KEY"`
	GeminiAPIKey string        `env:"GEMINI_API_KEY"`
	OpenAIAPIKey string        `env:"OPENAI_API_KEY"`
	Model        string        `env:"LLM_MODEL"`
	BaseURL      string        `env:"LLM_BASE_URL"`
	Timeout      time.Duration `env:"ASSISTANT_TIMEOUT" envDefault:"60s"`
}

// ResolvedAPIKey returns LLM_API_KEY, or the provider specific key.
func (c AssistantConfig) ResolvedAPIKey() string {
	if key := strings.TrimSpace(c.APIKey); key != "" {
		return key
	}
	switch c.Provider {
	case ProviderOpenAI:
		return strings.TrimSpace(c.OpenAIAPIKey)
	default:
		return strings.TrimSpace(c.GeminiAPIKey)
	}
}
