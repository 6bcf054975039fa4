package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"regexp"
	"strconv"
	"strings"
	"time"

	"vderm-backend/internal/config"
	"vderm-backend/internal/core/utils"
	"vderm-backend/internal/database"
	"vderm-backend/internal/metrics"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
)

const (
	geminiOpenAIEndpoint = "https://generativelanguage.googleapis.com/v1beta/openai"
	defaultGeminiModel   = "gemini-2.5-flash"
	defaultOpenAIModel   = "gpt-4o-mini"

	DefaultTitle   = "New Chat"
	maxTitleLength = 30
)

var ErrAssistantNotConfigured = errors.New("assistant api key is not configured")

// FallbackKind says which canned reply replaced a failed generation.
type FallbackKind string

const (
	FallbackNotConfigured FallbackKind = "not_configured"
	FallbackAuth          FallbackKind = "auth"
	FallbackTransient     FallbackKind = "transient"
	FallbackGeneric       FallbackKind = "generic"
)

var fallbackReplies = map[FallbackKind]string{
	FallbackNotConfigured: "I apologize, but the AI service is not properly configured. Please contact the administrator to set up the assistant API key.",
	FallbackAuth:          "I apologize, but the AI service is not properly configured. Please contact support for assistance with your cattle health concerns.",
	FallbackTransient:     "I apologize, but the AI service is temporarily unavailable. Please try again in a few moments or consult with a veterinarian for immediate assistance.",
	FallbackGeneric:       "I apologize, but I encountered an error processing your request. Please try again or consult with a veterinarian for immediate assistance.",
}

func FallbackReply(kind FallbackKind) string {
	return fallbackReplies[kind]
}

// Assistant produces reply text. Generate never fails: provider errors are
// replaced by a fallback reply.
type Assistant interface {
	Generate(ctx context.Context, prompt string) string
	GenerateTitle(firstMessage string, diag *database.Diagnosis) string
}

// AssistantError is logged when a provider call fails. It does not leave the
// assistant.
type AssistantError struct {
	Kind FallbackKind
	Err  error
}

func (e *AssistantError) Error() string {
	return fmt.Sprintf("assistant %s failure: %v", e.Kind, e.Err)
}

func (e *AssistantError) Unwrap() error {
	return e.Err
}

type LLMAssistant struct {
	llm     llms.Model
	timeout time.Duration
	now     func() time.Time
}

func NewLLMAssistant(llm llms.Model, timeout time.Duration) *LLMAssistant {
	return &LLMAssistant{llm: llm, timeout: timeout, now: time.Now}
}

// NewAssistant builds the provider client described by cfg. It returns
// ErrAssistantNotConfigured when no api key is set; callers then use
// NewUnconfiguredAssistant.
func NewAssistant(cfg config.AssistantConfig) (*LLMAssistant, error) {
	key := cfg.ResolvedAPIKey()
	if key == "" {
		return nil, ErrAssistantNotConfigured
	}

	opts := []openai.Option{openai.WithToken(key)}

	model := cfg.Model
	baseURL := cfg.BaseURL

	switch cfg.Provider {
	case config.ProviderGemini:
		if model == "" {
			model = defaultGeminiModel
		}
		if baseURL == "" {
			baseURL = geminiOpenAIEndpoint
		}
	case config.ProviderOpenAI:
		if model == "" {
			model = defaultOpenAIModel
		}
	default:
		return nil, fmt.Errorf("unsupported llm provider '%s'", cfg.Provider)
	}

	opts = append(opts, openai.WithModel(model))
	if baseURL != "" {
		opts = append(opts, openai.WithBaseURL(baseURL))
	}

	llm, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("could not create %s client: %w", cfg.Provider, err)
	}

	slog.Info("assistant configured", "provider", cfg.Provider, "model", model)

	return NewLLMAssistant(llm, cfg.Timeout), nil
}

func (a *LLMAssistant) Generate(ctx context.Context, prompt string) string {
	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	reply, err := llms.GenerateFromSinglePrompt(ctx, a.llm, prompt)
	if err == nil && strings.TrimSpace(reply) == "" {
		err = errors.New("empty reply from model")
	}
	if err != nil {
		aerr := classifyError(err)
		slog.Error("assistant generation failed, using fallback reply", "kind", aerr.Kind, "error", aerr)
		metrics.AssistantResponses.WithLabelValues(string(aerr.Kind)).Inc()
		return FallbackReply(aerr.Kind)
	}

	metrics.AssistantResponses.WithLabelValues("ok").Inc()
	return reply
}

func (a *LLMAssistant) GenerateTitle(firstMessage string, diag *database.Diagnosis) string {
	return GenerateTitle(firstMessage, diag, a.now())
}

// UnconfiguredAssistant answers every prompt with the not configured reply.
type UnconfiguredAssistant struct {
	now func() time.Time
}

func NewUnconfiguredAssistant() *UnconfiguredAssistant {
	return &UnconfiguredAssistant{now: time.Now}
}

func (a *UnconfiguredAssistant) Generate(ctx context.Context, prompt string) string {
	metrics.AssistantResponses.WithLabelValues(string(FallbackNotConfigured)).Inc()
	return FallbackReply(FallbackNotConfigured)
}

func (a *UnconfiguredAssistant) GenerateTitle(firstMessage string, diag *database.Diagnosis) string {
	return GenerateTitle(firstMessage, diag, a.now())
}

// GenerateTitle names a conversation after its diagnosis, or else after the
// start of its first message. It returns DefaultTitle when neither is usable.
func GenerateTitle(firstMessage string, diag *database.Diagnosis, now time.Time) string {
	if diag != nil && diag.Classification != "" {
		return fmt.Sprintf("Chat about %s - %s", diag.Classification, now.Format("Jan 2"))
	}

	msg := strings.TrimSpace(firstMessage)
	if msg == "" {
		return DefaultTitle
	}
	// cut first so the title covers exactly the first characters typed, then
	// flatten newlines and tabs for display
	return utils.CollapseWhitespace(utils.TruncateRunes(msg, maxTitleLength, "..."))
}

var statusCodePattern = regexp.MustCompile(`status code: (\d{3})`)

func classifyError(err error) *AssistantError {
	kind := FallbackGeneric

	msg := strings.ToLower(err.Error())
	status := 0
	if m := statusCodePattern.FindStringSubmatch(msg); m != nil {
		status, _ = strconv.Atoi(m[1])
	}

	var netErr net.Error
	switch {
	case status == 401 || status == 403 || strings.Contains(msg, "api key") || strings.Contains(msg, "api_key"):
		kind = FallbackAuth
	case errors.Is(err, context.DeadlineExceeded),
		errors.As(err, &netErr),
		status == 408 || status == 429 || status >= 500,
		strings.Contains(msg, "timeout"),
		strings.Contains(msg, "rate limit"),
		strings.Contains(msg, "connection refused"):
		kind = FallbackTransient
	}

	return &AssistantError{Kind: kind, Err: err}
}
