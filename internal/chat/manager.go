package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"vderm-backend/internal/core"
	"vderm-backend/internal/core/utils"
	"vderm-backend/internal/database"
	"vderm-backend/internal/diagnosis"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var (
	ErrNotFound     = errors.New("conversation not found")
	ErrUnauthorized = errors.New("conversation belongs to another user")
	ErrEmptyMessage = errors.New("message content must not be empty")
	ErrEmptyTitle   = errors.New("title must not be empty")
)

const (
	MaxListLimit = 100

	maxActiveConversations = 10000
)

type Turn struct {
	UserMessage      database.Message
	AssistantMessage database.Message
}

// Manager owns conversations and their messages. Turns on the same
// conversation are serialized; turns on different conversations run
// concurrently.
type Manager struct {
	db        *gorm.DB
	diagnoses *diagnosis.Store
	prompts   *PromptBuilder
	assistant Assistant
	locks     *utils.MutexMap[uuid.UUID]
	now       func() time.Time
}

func NewManager(db *gorm.DB, diagnoses *diagnosis.Store, prompts *PromptBuilder, assistant Assistant) *Manager {
	return &Manager{
		db:        db,
		diagnoses: diagnoses,
		prompts:   prompts,
		assistant: assistant,
		locks:     utils.NewMutexMap[uuid.UUID](maxActiveConversations),
		now:       time.Now,
	}
}

// timestamps are kept at microsecond precision so they survive a postgres
// round trip unchanged.
func (m *Manager) nextTimestamp(after time.Time) time.Time {
	ts := m.now().UTC().Truncate(time.Microsecond)
	if !ts.After(after) {
		ts = after.Add(time.Microsecond)
	}
	return ts
}

// Create starts a conversation for userId. When diagnosisId is set the
// diagnosis must belong to the user, and the conversation is seeded with an
// assistant message summarizing it.
func (m *Manager) Create(ctx context.Context, userId string, diagnosisId *uuid.UUID, title string) (database.Conversation, error) {
	var diag *database.Diagnosis
	if diagnosisId != nil {
		d, err := m.diagnoses.GetForUser(ctx, userId, *diagnosisId)
		if err != nil {
			switch {
			case errors.Is(err, diagnosis.ErrNotFound):
				return database.Conversation{}, fmt.Errorf("diagnosis %s: %w", *diagnosisId, ErrNotFound)
			case errors.Is(err, diagnosis.ErrUnauthorized):
				return database.Conversation{}, fmt.Errorf("diagnosis %s: %w", *diagnosisId, ErrUnauthorized)
			default:
				return database.Conversation{}, err
			}
		}
		diag = &d
	}

	title = strings.TrimSpace(title)
	if title == "" {
		title = m.assistant.GenerateTitle("", diag)
	}

	created := m.nextTimestamp(time.Time{})
	conv := database.Conversation{
		Id:           uuid.New(),
		UserId:       userId,
		Title:        title,
		CreationTime: created,
		UpdateTime:   created,
	}

	var seed *database.Message
	if diag != nil {
		conv.DiagnosisId = uuid.NullUUID{UUID: diag.Id, Valid: true}

		msg, err := seedMessage(conv.Id, diag, created)
		if err != nil {
			return database.Conversation{}, err
		}
		seed = &msg
	}

	if err := createConversation(ctx, m.db, &conv, seed); err != nil {
		slog.Error("error creating conversation", "user_id", userId, "error", err)
		return database.Conversation{}, fmt.Errorf("error creating conversation: %w", err)
	}

	conv.Diagnosis = diag
	return conv, nil
}

func seedMessage(conversationId uuid.UUID, diag *database.Diagnosis, ts time.Time) (database.Message, error) {
	pred, err := diag.Prediction()
	if err != nil {
		pred = core.UnknownPrediction(diag.Classification)
	}

	var content string
	if _, ok := pred.Confidence(); ok {
		content = fmt.Sprintf("I've analyzed your image and detected %s with %s confidence. ", pred.Classification, pred.ConfidencePercent())
	} else {
		content = fmt.Sprintf("I've analyzed your image and detected %s. ", pred.Classification)
	}
	content += "I'm here to help you understand this diagnosis and answer any questions about treatment and care. What would you like to know?"

	metadata, err := json.Marshal(map[string]any{"prediction": pred})
	if err != nil {
		return database.Message{}, fmt.Errorf("error encoding message metadata: %w", err)
	}

	return database.Message{
		Id:             uuid.New(),
		ConversationId: conversationId,
		Role:           database.RoleAssistant,
		Content:        content,
		Metadata:       datatypes.JSON(metadata),
		Timestamp:      ts,
	}, nil
}

func (m *Manager) authorize(ctx context.Context, userId string, conversationId uuid.UUID) (database.Conversation, error) {
	conv, err := getConversation(ctx, m.db, conversationId)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			slog.Error("error loading conversation", "conversation_id", conversationId, "error", err)
		}
		return conv, err
	}
	if conv.UserId != userId {
		return conv, ErrUnauthorized
	}
	return conv, nil
}

func (m *Manager) lock(conversationId uuid.UUID) (func(), error) {
	if err := m.locks.Lock(conversationId); err != nil {
		return nil, fmt.Errorf("unable to lock conversation %s: %w", conversationId, err)
	}
	return func() { m.locks.Unlock(conversationId) }, nil
}

// SendTurn stores the user's message, asks the assistant for a reply and
// stores that too. Either both messages are stored or neither is.
func (m *Manager) SendTurn(ctx context.Context, userId string, conversationId uuid.UUID, content string) (Turn, error) {
	if strings.TrimSpace(content) == "" {
		return Turn{}, ErrEmptyMessage
	}

	unlock, err := m.lock(conversationId)
	if err != nil {
		return Turn{}, err
	}
	defer unlock()

	conv, err := m.authorize(ctx, userId, conversationId)
	if err != nil {
		return Turn{}, err
	}

	last, err := lastMessageTime(ctx, m.db, conversationId)
	if err != nil {
		return Turn{}, fmt.Errorf("error loading conversation history: %w", err)
	}

	userMsg := database.Message{
		Id:             uuid.New(),
		ConversationId: conversationId,
		Role:           database.RoleUser,
		Content:        content,
		Timestamp:      m.nextTimestamp(last),
	}
	if err := saveMessage(ctx, m.db, &userMsg); err != nil {
		slog.Error("error saving user message", "conversation_id", conversationId, "error", err)
		return Turn{}, fmt.Errorf("error saving message: %w", err)
	}

	// once the user message is stored the turn runs to completion so that it
	// is never left without a reply
	ctx = context.WithoutCancel(ctx)

	history, err := getMessages(ctx, m.db, conversationId)
	if err != nil {
		m.rollbackTurn(ctx, userMsg.Id)
		return Turn{}, fmt.Errorf("error loading conversation history: %w", err)
	}

	prior := make([]database.Message, 0, len(history))
	firstUserTurn := true
	for _, msg := range history {
		if msg.Id == userMsg.Id {
			continue
		}
		if msg.Role == database.RoleUser {
			firstUserTurn = false
		}
		prior = append(prior, msg)
	}

	diag := m.linkedDiagnosis(ctx, conv)

	prompt := m.prompts.BuildFullPrompt(m.prompts.BuildSystemPrompt(diag), prior, content)
	reply := m.assistant.Generate(ctx, prompt)

	aiMsg := database.Message{
		Id:             uuid.New(),
		ConversationId: conversationId,
		Role:           database.RoleAssistant,
		Content:        reply,
		Timestamp:      m.nextTimestamp(userMsg.Timestamp),
	}

	newTitle := ""
	if firstUserTurn && conv.Title == DefaultTitle {
		if title := m.assistant.GenerateTitle(content, nil); title != DefaultTitle {
			newTitle = title
		}
	}

	if err := saveReply(ctx, m.db, &aiMsg, newTitle); err != nil {
		slog.Error("error saving assistant reply", "conversation_id", conversationId, "error", err)
		m.rollbackTurn(ctx, userMsg.Id)
		return Turn{}, fmt.Errorf("error saving reply: %w", err)
	}

	return Turn{UserMessage: userMsg, AssistantMessage: aiMsg}, nil
}

func (m *Manager) rollbackTurn(ctx context.Context, userMessageId uuid.UUID) {
	if err := deleteMessage(ctx, m.db, userMessageId); err != nil {
		slog.Error("error removing unanswered user message", "message_id", userMessageId, "error", err)
	}
}

// linkedDiagnosis returns nil when the conversation has no diagnosis or it
// cannot be loaded; the turn then proceeds without diagnosis context.
func (m *Manager) linkedDiagnosis(ctx context.Context, conv database.Conversation) *database.Diagnosis {
	if !conv.DiagnosisId.Valid {
		return nil
	}
	diag, err := m.diagnoses.Get(ctx, conv.DiagnosisId.UUID)
	if err != nil {
		slog.Warn("linked diagnosis unavailable, continuing without it", "conversation_id", conv.Id, "diagnosis_id", conv.DiagnosisId.UUID, "error", err)
		return nil
	}
	return &diag
}

// List returns userId's conversations, most recently updated first, with
// their diagnoses attached. A limit <= 0 returns all of them; a positive
// limit is capped at MaxListLimit.
func (m *Manager) List(ctx context.Context, userId string, limit, offset int) ([]database.Conversation, error) {
	if limit <= 0 {
		limit = -1
	} else {
		limit = min(limit, MaxListLimit)
	}
	offset = max(offset, 0)

	convs, err := listConversations(ctx, m.db, userId, limit, offset)
	if err != nil {
		slog.Error("error listing conversations", "user_id", userId, "error", err)
		return nil, fmt.Errorf("error listing conversations: %w", err)
	}

	ids := make([]uuid.UUID, 0, len(convs))
	for _, conv := range convs {
		if conv.DiagnosisId.Valid {
			ids = append(ids, conv.DiagnosisId.UUID)
		}
	}

	diags, err := m.diagnoses.GetMany(ctx, ids)
	if err != nil {
		return nil, err
	}

	for i := range convs {
		if !convs[i].DiagnosisId.Valid {
			continue
		}
		if diag, ok := diags[convs[i].DiagnosisId.UUID]; ok {
			convs[i].Diagnosis = &diag
		}
	}

	return convs, nil
}

func (m *Manager) Get(ctx context.Context, userId string, conversationId uuid.UUID) (database.Conversation, error) {
	conv, err := m.authorize(ctx, userId, conversationId)
	if err != nil {
		return conv, err
	}
	conv.Diagnosis = m.linkedDiagnosis(ctx, conv)
	return conv, nil
}

// Messages returns the conversation's messages in chronological order.
func (m *Manager) Messages(ctx context.Context, userId string, conversationId uuid.UUID) ([]database.Message, error) {
	if _, err := m.authorize(ctx, userId, conversationId); err != nil {
		return nil, err
	}

	messages, err := getMessages(ctx, m.db, conversationId)
	if err != nil {
		slog.Error("error loading messages", "conversation_id", conversationId, "error", err)
		return nil, fmt.Errorf("error loading messages: %w", err)
	}
	return messages, nil
}

// Delete removes the conversation and all of its messages.
func (m *Manager) Delete(ctx context.Context, userId string, conversationId uuid.UUID) error {
	unlock, err := m.lock(conversationId)
	if err != nil {
		return err
	}
	defer unlock()

	if _, err := m.authorize(ctx, userId, conversationId); err != nil {
		return err
	}

	if err := deleteConversation(ctx, m.db, conversationId); err != nil {
		slog.Error("error deleting conversation", "conversation_id", conversationId, "error", err)
		return fmt.Errorf("error deleting conversation: %w", err)
	}
	return nil
}

func (m *Manager) Rename(ctx context.Context, userId string, conversationId uuid.UUID, title string) error {
	title = strings.TrimSpace(title)
	if title == "" {
		return ErrEmptyTitle
	}

	unlock, err := m.lock(conversationId)
	if err != nil {
		return err
	}
	defer unlock()

	if _, err := m.authorize(ctx, userId, conversationId); err != nil {
		return err
	}

	if err := updateConversationTitle(ctx, m.db, conversationId, title); err != nil {
		slog.Error("error renaming conversation", "conversation_id", conversationId, "error", err)
		return fmt.Errorf("error renaming conversation: %w", err)
	}
	return nil
}
