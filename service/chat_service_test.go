package service

import (
	"context"
	"errors"
	"strings"
	"testing"

	"penaltydesk-backend/models"
	"penaltydesk-backend/repository"
	"penaltydesk-backend/upstream"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newChatService(t *testing.T, opts ...ChatServiceOption) *ChatService {
	t.Helper()
	store, err := repository.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	return NewChatService(append([]ChatServiceOption{ChatWithRepository(store.Chats())}, opts...)...)
}

func TestStartChat(t *testing.T) {
	src := &fakeReplySource{reply: "A black and white flag is shown for unsportsmanlike behaviour."}
	svc := newChatService(t, ChatWithReplySource(src))

	res, err := svc.StartChat(context.Background(), StartChatRequest{Content: "What is a black and white flag?"})
	require.NoError(t, err)

	chat := res.Chat
	assert.Equal(t, "What is a black and white flag...", chat.Title)
	require.Len(t, chat.Messages, 2)
	assert.Equal(t, models.RoleUser, chat.Messages[0].Role)
	assert.Equal(t, "What is a black and white flag?", chat.Messages[0].Content)
	assert.Equal(t, models.RoleAssistant, chat.Messages[1].Role)
	assert.Equal(t, src.reply, chat.Messages[1].Content)
	assert.NotEqual(t, chat.Messages[0].ID, chat.Messages[1].ID)
}

func TestStartChat_ShortTitleStillEllipsized(t *testing.T) {
	svc := newChatService(t, ChatWithMock(true))
	res, err := svc.StartChat(context.Background(), StartChatRequest{Content: "DRS?"})
	require.NoError(t, err)
	assert.Equal(t, "DRS?...", res.Chat.Title)
}

func TestChatTitle_Runes(t *testing.T) {
	content := strings.Repeat("é", 40)
	assert.Equal(t, strings.Repeat("é", 30)+"...", chatTitle(content))
}

func TestStartChat_Mock(t *testing.T) {
	src := &fakeReplySource{}
	svc := newChatService(t, ChatWithMock(true), ChatWithReplySource(src))

	res, err := svc.StartChat(context.Background(), StartChatRequest{Content: "Why was Sainz penalised?"})
	require.NoError(t, err)
	assert.Equal(t, `This is a mock response to "Why was Sainz penalised?"`, res.Chat.Messages[1].Content)
	assert.Equal(t, int32(0), src.calls.Load())
}

func TestStartChat_ReplyErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"upstream error field", &upstream.APIError{StatusCode: 500, Message: "Vector store unavailable"}, "Vector store unavailable"},
		{"transport failure", errors.New("dial tcp: connection refused"), FallbackReply},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newChatService(t, ChatWithReplySource(&fakeReplySource{err: tt.err}))
			res, err := svc.StartChat(context.Background(), StartChatRequest{Content: "Explain Article 33.4"})
			require.NoError(t, err)
			assert.Equal(t, tt.want, res.Chat.Messages[1].Content)
		})
	}
}

func TestStartChat_Validation(t *testing.T) {
	svc := newChatService(t, ChatWithMock(true))

	_, err := svc.StartChat(context.Background(), StartChatRequest{Content: "  \n"})
	assert.ErrorIs(t, err, ErrEmptyMessage)

	_, err = svc.StartChat(context.Background(), StartChatRequest{Content: "hi", LLMChoice: "llama"})
	assert.ErrorIs(t, err, ErrInvalidLLMChoice)
}

func TestContinueChat(t *testing.T) {
	ctx := context.Background()
	src := &fakeReplySource{reply: "Yes."}
	svc := newChatService(t, ChatWithReplySource(src))

	started, err := svc.StartChat(ctx, StartChatRequest{Content: "Is a reprimand a penalty?"})
	require.NoError(t, err)

	res, err := svc.ContinueChat(ctx, ContinueChatRequest{
		ChatID:    started.Chat.ID,
		Content:   "Do reprimands accumulate?",
		LLMChoice: models.LLMChoiceFinetuned,
	})
	require.NoError(t, err)
	require.Len(t, res.Chat.Messages, 4)
	assert.Equal(t, "Do reprimands accumulate?", res.Chat.Messages[2].Content)
	assert.Equal(t, models.LLMChoiceFinetuned, src.choices[1])

	got, err := svc.GetChat(ctx, started.Chat.ID)
	require.NoError(t, err)
	assert.Len(t, got.Messages, 4)
}

func TestContinueChat_UnknownChat(t *testing.T) {
	src := &fakeReplySource{reply: "unused"}
	svc := newChatService(t, ChatWithReplySource(src))

	_, err := svc.ContinueChat(context.Background(), ContinueChatRequest{ChatID: uuid.New(), Content: "hello"})
	assert.ErrorIs(t, err, ErrChatNotFound)
	assert.Equal(t, int32(0), src.calls.Load())
}

func TestListChats_NewestFirst(t *testing.T) {
	ctx := context.Background()
	svc := newChatService(t, ChatWithMock(true))

	first, err := svc.StartChat(ctx, StartChatRequest{Content: "first"})
	require.NoError(t, err)
	second, err := svc.StartChat(ctx, StartChatRequest{Content: "second"})
	require.NoError(t, err)

	chats, err := svc.ListChats(ctx, 0, 0)
	require.NoError(t, err)
	require.Len(t, chats, 2)
	assert.Equal(t, second.Chat.ID, chats[0].ID)
	assert.Equal(t, first.Chat.ID, chats[1].ID)
}

// limitRecorder records the paging passed to List
type limitRecorder struct {
	repository.ChatRepository
	limit, offset int
}

func (r *limitRecorder) List(_ context.Context, limit, offset int) ([]*models.Chat, error) {
	r.limit, r.offset = limit, offset
	return []*models.Chat{}, nil
}

func TestListChats_Paging(t *testing.T) {
	tests := []struct {
		name       string
		limit      int
		offset     int
		wantLimit  int
		wantOffset int
	}{
		{"defaults", 0, 0, defaultListLimit, 0},
		{"within range", 10, 5, 10, 5},
		{"clamped to max", maxListLimit + 500, 0, maxListLimit, 0},
		{"negative offset", 10, -3, 10, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := &limitRecorder{}
			svc := NewChatService(ChatWithRepository(repo))

			_, err := svc.ListChats(context.Background(), tt.limit, tt.offset)
			require.NoError(t, err)
			assert.Equal(t, tt.wantLimit, repo.limit)
			assert.Equal(t, tt.wantOffset, repo.offset)
		})
	}
}
