package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"penaltydesk-backend/models"
	"penaltydesk-backend/repository"
	"penaltydesk-backend/upstream"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	chatTitleRunes = 30
	// FallbackReply is the assistant message when the model fails without an explanation
	FallbackReply = "Sorry, I encountered an error. Please try again."
)

var (
	ErrEmptyMessage = errors.New("message content is required")
	ErrChatNotFound = errors.New("chat not found")
)

// ChatService handles the steward chat assistant
type ChatService struct {
	chatRepo         repository.ChatRepository
	replySource      ReplySource
	mock             bool
	defaultLLMChoice string
	logger           *zap.Logger
	now              func() time.Time
}

// ChatServiceOption is a functional option for ChatService
type ChatServiceOption func(*ChatService)

// ChatWithRepository sets the chat repository
func ChatWithRepository(repo repository.ChatRepository) ChatServiceOption {
	return func(s *ChatService) {
		s.chatRepo = repo
	}
}

// ChatWithReplySource sets the steward model that answers chat messages
func ChatWithReplySource(src ReplySource) ChatServiceOption {
	return func(s *ChatService) {
		s.replySource = src
	}
}

// ChatWithMock answers locally instead of calling the steward model
func ChatWithMock(mock bool) ChatServiceOption {
	return func(s *ChatService) {
		s.mock = mock
	}
}

// ChatWithDefaultLLMChoice sets the llm_choice used when a request names none
func ChatWithDefaultLLMChoice(choice string) ChatServiceOption {
	return func(s *ChatService) {
		if choice != "" {
			s.defaultLLMChoice = choice
		}
	}
}

// ChatWithLogger sets the logger
func ChatWithLogger(logger *zap.Logger) ChatServiceOption {
	return func(s *ChatService) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewChatService creates a new chat service
func NewChatService(opts ...ChatServiceOption) *ChatService {
	s := &ChatService{
		defaultLLMChoice: models.LLMChoiceDefault,
		logger:           zap.NewNop(),
		now:              time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// StartChatRequest represents the first message of a new chat
type StartChatRequest struct {
	Content   string
	LLMChoice string
}

// ContinueChatRequest represents a follow-up message in an existing chat
type ContinueChatRequest struct {
	ChatID    uuid.UUID
	Content   string
	LLMChoice string
}

// ChatResult represents a chat after a turn
type ChatResult struct {
	Chat *models.Chat
}

// StartChat creates a chat holding the user's message and the assistant's reply
func (s *ChatService) StartChat(ctx context.Context, req StartChatRequest) (*ChatResult, error) {
	if s.chatRepo == nil {
		return nil, errors.New("chat repository not set")
	}

	llmChoice, err := s.validateTurn(req.Content, req.LLMChoice)
	if err != nil {
		return nil, err
	}

	chat := &models.Chat{
		ID:       uuid.New(),
		Title:    chatTitle(req.Content),
		Messages: s.turn(ctx, req.Content, llmChoice),
	}
	if err := s.chatRepo.Create(ctx, chat); err != nil {
		return nil, fmt.Errorf("failed to save chat: %w", err)
	}

	return &ChatResult{Chat: chat}, nil
}

// ContinueChat appends the user's message and the assistant's reply to an existing chat
func (s *ChatService) ContinueChat(ctx context.Context, req ContinueChatRequest) (*ChatResult, error) {
	if s.chatRepo == nil {
		return nil, errors.New("chat repository not set")
	}

	llmChoice, err := s.validateTurn(req.Content, req.LLMChoice)
	if err != nil {
		return nil, err
	}

	// check before spending a model call on a chat that does not exist
	if _, err := s.GetChat(ctx, req.ChatID); err != nil {
		return nil, err
	}

	chat, err := s.chatRepo.AppendMessages(ctx, req.ChatID, s.turn(ctx, req.Content, llmChoice)...)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrChatNotFound
		}
		return nil, fmt.Errorf("failed to save chat: %w", err)
	}

	return &ChatResult{Chat: chat}, nil
}

// ListChats returns chats newest first
func (s *ChatService) ListChats(ctx context.Context, limit, offset int) ([]*models.Chat, error) {
	if s.chatRepo == nil {
		return nil, errors.New("chat repository not set")
	}
	if limit <= 0 {
		limit = defaultListLimit
	}
	limit = min(limit, maxListLimit)
	return s.chatRepo.List(ctx, limit, max(offset, 0))
}

// GetChat retrieves a chat by ID
func (s *ChatService) GetChat(ctx context.Context, id uuid.UUID) (*models.Chat, error) {
	if s.chatRepo == nil {
		return nil, errors.New("chat repository not set")
	}

	chat, err := s.chatRepo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrChatNotFound
		}
		return nil, err
	}
	return chat, nil
}

func (s *ChatService) validateTurn(content, llmChoice string) (string, error) {
	if strings.TrimSpace(content) == "" {
		return "", ErrEmptyMessage
	}
	if llmChoice == "" {
		llmChoice = s.defaultLLMChoice
	}
	if !upstream.ValidLLMChoice(llmChoice) {
		return "", fmt.Errorf("%w: %q", ErrInvalidLLMChoice, llmChoice)
	}
	return llmChoice, nil
}

// turn builds the user message and the assistant's answer to it
func (s *ChatService) turn(ctx context.Context, content, llmChoice string) models.Messages {
	user := models.Message{
		ID:        uuid.New(),
		Role:      models.RoleUser,
		Content:   content,
		Timestamp: s.now().UTC(),
	}
	reply := s.reply(ctx, content, llmChoice)
	assistant := models.Message{
		ID:        uuid.New(),
		Role:      models.RoleAssistant,
		Content:   reply,
		Timestamp: s.now().UTC(),
	}
	return models.Messages{user, assistant}
}

// reply never fails: model errors become the assistant's message
func (s *ChatService) reply(ctx context.Context, content, llmChoice string) string {
	if s.mock {
		return fmt.Sprintf("This is a mock response to \"%s\"", content)
	}
	if s.replySource == nil {
		return FallbackReply
	}

	reply, err := s.replySource.Query(ctx, content, llmChoice)
	if err != nil {
		s.logger.Warn("chat reply failed", zap.Error(err))
		if msg, ok := upstream.ErrorMessage(err); ok {
			return msg
		}
		return FallbackReply
	}
	return reply
}

// chatTitle is the first 30 characters of the opening message followed by "..."
func chatTitle(content string) string {
	if utf8.RuneCountInString(content) > chatTitleRunes {
		content = string([]rune(content)[:chatTitleRunes])
	}
	return content + "..."
}
