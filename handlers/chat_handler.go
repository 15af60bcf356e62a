package handlers

import (
	"net/http"

	"penaltydesk-backend/service"

	"github.com/gin-gonic/gin"
)

// ChatHandler handles HTTP requests for steward chats
type ChatHandler struct {
	chatService *service.ChatService
}

// NewChatHandler creates a new chat handler
func NewChatHandler(chatService *service.ChatService) *ChatHandler {
	return &ChatHandler{chatService: chatService}
}

// ChatMessageRequest represents a user message
type ChatMessageRequest struct {
	Content   string `json:"content" binding:"required"`
	LLMChoice string `json:"llm_choice"`
}

// StartChat handles POST /api/chats
func (h *ChatHandler) StartChat(c *gin.Context) {
	var req ChatMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}

	result, err := h.chatService.StartChat(c.Request.Context(), service.StartChatRequest{
		Content:   req.Content,
		LLMChoice: req.LLMChoice,
	})
	if err != nil {
		respondServiceError(c, err)
		return
	}

	respondOK(c, http.StatusCreated, result.Chat)
}

// ContinueChat handles POST /api/chats/:id/messages
func (h *ChatHandler) ContinueChat(c *gin.Context) {
	id, ok := parseID(c, "chat")
	if !ok {
		return
	}

	var req ChatMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}

	result, err := h.chatService.ContinueChat(c.Request.Context(), service.ContinueChatRequest{
		ChatID:    id,
		Content:   req.Content,
		LLMChoice: req.LLMChoice,
	})
	if err != nil {
		respondServiceError(c, err)
		return
	}

	respondOK(c, http.StatusOK, result.Chat)
}

// ListChats handles GET /api/chats
func (h *ChatHandler) ListChats(c *gin.Context) {
	limit, err := intQuery(c, "limit")
	if err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_LIMIT", "limit must be an integer")
		return
	}
	offset, err := intQuery(c, "offset")
	if err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_OFFSET", "offset must be an integer")
		return
	}

	chats, err := h.chatService.ListChats(c.Request.Context(), limit, offset)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	respondOK(c, http.StatusOK, chats)
}

// GetChat handles GET /api/chats/:id
func (h *ChatHandler) GetChat(c *gin.Context) {
	id, ok := parseID(c, "chat")
	if !ok {
		return
	}

	chat, err := h.chatService.GetChat(c.Request.Context(), id)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	respondOK(c, http.StatusOK, chat)
}
