package chat

import (
	"fmt"
	"log/slog"
	"strings"

	"vderm-backend/internal/core"
	"vderm-backend/internal/database"
)

const maxHistoryMessages = 10

const persona = `You are VDerm-X AI, a specialized veterinary assistant focusing on cattle diseases, particularly Lumpy Skin Disease (LSD).

Your role:
- Provide accurate information about cattle diseases
- Explain diagnosis results in simple, farmer-friendly terms
- Suggest treatment steps (always recommend veterinary consultation)
- Address farmer concerns with empathy and understanding
- Use simple language that farmers can easily understand
- NEVER give definitive diagnosis - clarify AI limitations
- Always emphasize the importance of physical veterinary examination`

// PromptBuilder turns a diagnosis and a conversation history into the single
// text prompt sent to the assistant.
type PromptBuilder struct {
	ClassLabels []string
}

func NewPromptBuilder(classLabels []string) *PromptBuilder {
	return &PromptBuilder{ClassLabels: classLabels}
}

func (b *PromptBuilder) BuildSystemPrompt(diag *database.Diagnosis) string {
	if diag == nil {
		return persona
	}

	pred, err := diag.Prediction()
	if err != nil {
		slog.Warn("unreadable diagnosis confidence, omitting it from prompt", "diagnosis_id", diag.Id, "error", err)
		pred = core.UnknownPrediction(diag.Classification)
	}

	var sb strings.Builder
	sb.WriteString(persona)
	sb.WriteString("\n\nRecent Diagnosis Context:\n")
	fmt.Fprintf(&sb, "- Disease Classification: %s\n", pred.Classification)
	fmt.Fprintf(&sb, "- Confidence Level: %s\n", pred.ConfidencePercent())

	if breakdown := pred.ClassBreakdown(b.ClassLabels); len(breakdown) > 0 {
		parts := make([]string, 0, len(breakdown))
		for _, class := range breakdown {
			parts = append(parts, fmt.Sprintf("%s: %s", class.Label, core.FormatPercent(class.Probability)))
		}
		fmt.Fprintf(&sb, "- Class Probabilities: %s\n", strings.Join(parts, ", "))
	}

	fmt.Fprintf(&sb, "- Date: %s\n", diag.CreationTime.Format("Jan 2, 2006"))
	sb.WriteString("\nBased on this diagnosis result, provide helpful information and answer the user's questions.")

	return sb.String()
}

// BuildFullPrompt appends the most recent history and the new message to the
// system prompt. History must be in chronological order.
func (b *PromptBuilder) BuildFullPrompt(systemPrompt string, history []database.Message, message string) string {
	if len(history) > maxHistoryMessages {
		history = history[len(history)-maxHistoryMessages:]
	}

	var sb strings.Builder
	sb.WriteString(systemPrompt)
	sb.WriteString("\n\n")

	if len(history) > 0 {
		sb.WriteString("Previous conversation:\n")
		for _, msg := range history {
			fmt.Fprintf(&sb, "%s: %s\n", speaker(msg.Role), msg.Content)
		}
		sb.WriteString("\n")
	}

	fmt.Fprintf(&sb, "User: %s\nAssistant:", message)
	return sb.String()
}

func speaker(role string) string {
	if role == database.RoleUser {
		return "User"
	}
	return "Assistant"
}
