package api

import (
	"errors"
	"net/http"

	"vderm-backend/internal/chat"
	"vderm-backend/pkg/api"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

type ChatService struct {
	manager     *chat.Manager
	classLabels []string
}

func NewChatService(manager *chat.Manager, classLabels []string) *ChatService {
	return &ChatService{manager: manager, classLabels: classLabels}
}

func (s *ChatService) AddRoutes(r chi.Router) {
	r.Route("/chat", func(r chi.Router) {
		r.Get("/conversations", RestHandler(s.ListConversations))
		r.Post("/conversations", RestHandler(s.CreateConversation))
		r.Get("/conversations/{conversation_id}", RestHandler(s.GetConversation))
		r.Delete("/conversations/{conversation_id}", RestHandler(s.DeleteConversation))
		r.Get("/conversations/{conversation_id}/messages", RestHandler(s.GetMessages))
		r.Post("/conversations/{conversation_id}/rename", RestHandler(s.RenameConversation))
		r.Post("/message", RestHandler(s.SendMessage))
	})
}

func chatError(err error) error {
	switch {
	case errors.Is(err, chat.ErrNotFound):
		return CodedError(http.StatusNotFound, err)
	case errors.Is(err, chat.ErrUnauthorized):
		return CodedError(http.StatusForbidden, err)
	case errors.Is(err, chat.ErrEmptyMessage), errors.Is(err, chat.ErrEmptyTitle):
		return CodedError(http.StatusBadRequest, err)
	default:
		return CodedError(http.StatusInternalServerError, err)
	}
}

func (s *ChatService) ListConversations(r *http.Request) (any, error) {
	userId, err := requireUser(r)
	if err != nil {
		return nil, err
	}

	params, err := ParseRequestQueryParams[api.ListConversationsParams](r)
	if err != nil {
		return nil, err
	}

	convs, err := s.manager.List(r.Context(), userId, params.Limit, params.Offset)
	if err != nil {
		return nil, chatError(err)
	}

	return api.ListConversationsResponse{Conversations: convertConversations(convs, s.classLabels)}, nil
}

func (s *ChatService) CreateConversation(r *http.Request) (any, error) {
	userId, err := requireUser(r)
	if err != nil {
		return nil, err
	}

	req, err := ParseRequest[api.CreateConversationRequest](r)
	if err != nil {
		return nil, err
	}

	conv, err := s.manager.Create(r.Context(), userId, req.DiagnosisId, req.Title)
	if err != nil {
		return nil, chatError(err)
	}

	return convertConversation(conv, s.classLabels), nil
}

func (s *ChatService) conversationParams(r *http.Request) (string, uuid.UUID, error) {
	userId, err := requireUser(r)
	if err != nil {
		return "", uuid.Nil, err
	}

	conversationId, err := URLParamUUID(r, "conversation_id")
	if err != nil {
		return "", uuid.Nil, err
	}

	return userId, conversationId, nil
}

func (s *ChatService) GetConversation(r *http.Request) (any, error) {
	userId, conversationId, err := s.conversationParams(r)
	if err != nil {
		return nil, err
	}

	conv, err := s.manager.Get(r.Context(), userId, conversationId)
	if err != nil {
		return nil, chatError(err)
	}

	return convertConversation(conv, s.classLabels), nil
}

func (s *ChatService) DeleteConversation(r *http.Request) (any, error) {
	userId, conversationId, err := s.conversationParams(r)
	if err != nil {
		return nil, err
	}

	if err := s.manager.Delete(r.Context(), userId, conversationId); err != nil {
		return nil, chatError(err)
	}

	return nil, nil
}

func (s *ChatService) GetMessages(r *http.Request) (any, error) {
	userId, conversationId, err := s.conversationParams(r)
	if err != nil {
		return nil, err
	}

	messages, err := s.manager.Messages(r.Context(), userId, conversationId)
	if err != nil {
		return nil, chatError(err)
	}

	return api.GetMessagesResponse{Messages: convertMessages(messages)}, nil
}

func (s *ChatService) RenameConversation(r *http.Request) (any, error) {
	userId, conversationId, err := s.conversationParams(r)
	if err != nil {
		return nil, err
	}

	req, err := ParseRequest[api.RenameConversationRequest](r)
	if err != nil {
		return nil, err
	}

	if err := s.manager.Rename(r.Context(), userId, conversationId, req.Title); err != nil {
		return nil, chatError(err)
	}

	return nil, nil
}

func (s *ChatService) SendMessage(r *http.Request) (any, error) {
	userId, err := requireUser(r)
	if err != nil {
		return nil, err
	}

	req, err := ParseRequest[api.SendMessageRequest](r)
	if err != nil {
		return nil, err
	}

	if req.ConversationId == uuid.Nil {
		return nil, CodedErrorf(http.StatusBadRequest, "conversationId is required")
	}

	turn, err := s.manager.SendTurn(r.Context(), userId, req.ConversationId, req.Content)
	if err != nil {
		return nil, chatError(err)
	}

	return api.SendMessageResponse{
		UserMessage: convertMessage(turn.UserMessage),
		AiMessage:   convertMessage(turn.AssistantMessage),
	}, nil
}
