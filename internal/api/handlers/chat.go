package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/agentoven/successdesk/internal/store"
	pkgmw "github.com/agentoven/successdesk/pkg/middleware"
	"github.com/agentoven/successdesk/pkg/models"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// assistantSystemPrompt is used when the user talks to a model directly.
const assistantSystemPrompt = "You are a friendly assistant! Keep your responses concise and helpful."

const titleSystemPrompt = `You generate a short title for a conversation from the first message the user sends.
- keep it under 80 characters
- summarize the user's message
- do not use quotes or colons`

const maxTitleRunes = 80

type chatRequest struct {
	ID                string `json:"id,omitempty"`
	Message           string `json:"message"`
	SelectedChatModel string `json:"selectedChatModel,omitempty"`
}

type chatResponse struct {
	ChatID   string                   `json:"chatId"`
	Title    string                   `json:"title,omitempty"`
	Message  models.ChatMessage       `json:"message"`
	Metadata *models.ResponseMetadata `json:"metadata,omitempty"`
}

var errForeignChat = errors.New("chat belongs to another session")

// Chat handles POST /api/v1/chat. The user turn and the reply are stored
// together once the model has answered, so a failed turn leaves no trace in
// the history.
func (h *Handlers) Chat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		respondError(w, http.StatusBadRequest, "No user message found")
		return
	}
	if req.SelectedChatModel == "" {
		req.SelectedChatModel = models.ModelCustomerSuccess
	}
	chatModel, ok := h.Catalog.ChatModel(req.SelectedChatModel)
	if !ok {
		respondError(w, http.StatusBadRequest, "Unknown chat model: "+req.SelectedChatModel)
		return
	}

	sessionID := pkgmw.GetSessionID(r.Context())
	chatID := req.ID
	newChat := chatID == ""
	if newChat {
		chatID = uuid.New().String()
	} else {
		exists, err := h.checkChatOwner(r, chatID)
		if err != nil {
			h.respondChatError(w, err)
			return
		}
		newChat = !exists
	}

	if h.opts.ChatMessageLimit > 0 && !newChat {
		n, err := h.Store.CountUserMessages(r.Context(), chatID)
		if err != nil {
			respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if n >= h.opts.ChatMessageLimit {
			respondError(w, http.StatusForbidden, "Message limit reached for this chat.")
			return
		}
	}

	var history []models.ChatMessage
	workflow := chatModel.ID == models.ModelCustomerSuccess
	if !workflow && !newChat {
		var err error
		if history, err = h.Store.ListMessages(r.Context(), chatID); err != nil {
			h.respondChatError(w, err)
			return
		}
	}

	providers := []models.Provider{chatModel.Provider}
	if workflow {
		providers = h.workflowProviders("")
	}
	ctx, ok := h.admit(w, r, providers)
	if !ok {
		return
	}

	userMsg := &models.ChatMessage{
		ID:        uuid.New().String(),
		ChatID:    chatID,
		Role:      "user",
		Content:   req.Message,
		CreatedAt: time.Now().UTC(),
	}

	var (
		content  string
		metadata *models.ResponseMetadata
	)
	if workflow {
		resp, err := h.Orchestrator.Handle(ctx, req.Message, nil, nil)
		if err != nil {
			log.Error().Err(err).Str("chat", chatID).Msg("Customer Success Agent error")
			respondAgentError(w, err)
			return
		}
		content = resp.Content
		metadata = &resp.Metadata
	} else {
		resp, err := h.Router.Invoke(ctx, &models.InvokeRequest{
			Model:     chatModel.Target,
			System:    assistantSystemPrompt,
			History:   history,
			Prompt:    req.Message,
			AgentRef:  "chat:" + chatModel.ID,
			SessionID: sessionID,
		})
		if err != nil {
			log.Error().Err(err).Str("chat", chatID).Str("model", chatModel.ID).Msg("Chat completion failed")
			respondAgentError(w, err)
			return
		}
		content = resp.Text
	}

	reply := &models.ChatMessage{
		ID:        uuid.New().String(),
		ChatID:    chatID,
		Role:      "assistant",
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}
	if err := h.Store.AppendMessage(ctx, sessionID, userMsg); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if err := h.Store.AppendMessage(ctx, sessionID, reply); err != nil {
		log.Error().Err(err).Str("chat", chatID).Msg("Failed to save assistant message")
	}

	var title string
	if newChat {
		title = h.chatTitle(ctx, sessionID, req.Message)
		if err := h.Store.SetChatTitle(ctx, chatID, title); err != nil {
			log.Warn().Err(err).Str("chat", chatID).Msg("Failed to save chat title")
		}
	}

	respondJSON(w, http.StatusOK, chatResponse{ChatID: chatID, Title: title, Message: *reply, Metadata: metadata})
}

// chatTitle asks the title model to name a chat after its first message,
// using the credentials already granted to the request. Any failure falls
// back to the message itself, shortened.
func (h *Handlers) chatTitle(ctx context.Context, sessionID, message string) string {
	resp, err := h.Router.Invoke(ctx, &models.InvokeRequest{
		Model:     h.opts.TitleModel,
		System:    titleSystemPrompt,
		Prompt:    message,
		MaxTokens: 32,
		AgentRef:  "chat:title",
		SessionID: sessionID,
	})
	if err == nil {
		if title := cleanTitle(resp.Text); title != "" {
			return title
		}
	} else {
		log.Debug().Err(err).Msg("Chat title generation failed")
	}
	return cleanTitle(message)
}

func cleanTitle(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	s = strings.Trim(s, "\"'`")
	s = strings.ReplaceAll(s, ":", "")
	if runes := []rune(s); len(runes) > maxTitleRunes {
		s = strings.TrimSpace(string(runes[:maxTitleRunes-3])) + "..."
	}
	return s
}

// GetChat handles GET /api/v1/chats/{chatID}.
func (h *Handlers) GetChat(w http.ResponseWriter, r *http.Request) {
	chatID := chi.URLParam(r, "chatID")
	if err := h.requireChatOwner(r, chatID); err != nil {
		h.respondChatError(w, err)
		return
	}
	msgs, err := h.Store.ListMessages(r.Context(), chatID)
	if err != nil {
		h.respondChatError(w, err)
		return
	}
	title, err := h.Store.ChatTitle(r.Context(), chatID)
	if err != nil {
		h.respondChatError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"chatId":   chatID,
		"title":    title,
		"messages": msgs,
	})
}

// DeleteChat handles DELETE /api/v1/chats/{chatID}.
func (h *Handlers) DeleteChat(w http.ResponseWriter, r *http.Request) {
	chatID := chi.URLParam(r, "chatID")
	if err := h.requireChatOwner(r, chatID); err != nil {
		h.respondChatError(w, err)
		return
	}
	if err := h.Store.DeleteChat(r.Context(), chatID); err != nil {
		h.respondChatError(w, err)
		return
	}
	log.Info().Str("chat", chatID).Msg("Chat deleted")
	w.WriteHeader(http.StatusNoContent)
}

// checkChatOwner reports whether the chat exists, failing with
// errForeignChat when it belongs to another session.
func (h *Handlers) checkChatOwner(r *http.Request, chatID string) (bool, error) {
	owner, err := h.Store.ChatOwner(r.Context(), chatID)
	if store.IsNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if owner != pkgmw.GetSessionID(r.Context()) {
		return true, errForeignChat
	}
	return true, nil
}

// requireChatOwner is checkChatOwner for a chat that must already exist.
func (h *Handlers) requireChatOwner(r *http.Request, chatID string) error {
	exists, err := h.checkChatOwner(r, chatID)
	if err == nil && !exists {
		return &store.ErrNotFound{Entity: "chat", Key: chatID}
	}
	return err
}

func (h *Handlers) respondChatError(w http.ResponseWriter, err error) {
	switch {
	case store.IsNotFound(err):
		respondError(w, http.StatusNotFound, "Chat not found")
	case errors.Is(err, errForeignChat):
		// Indistinguishable from a missing chat to the caller.
		respondError(w, http.StatusNotFound, "Chat not found")
	default:
		respondError(w, http.StatusInternalServerError, err.Error())
	}
}
