// Package chat exposes the message endpoints: submit, history, admin
// moderation, and read tracking.
package chat

import (
	"encoding/base64"
	"encoding/json"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/supportchat/widget/backend/internal/gateway"
	"github.com/supportchat/widget/backend/internal/model/chat"
	chatservice "github.com/supportchat/widget/backend/internal/service/chat"
	"github.com/supportchat/widget/backend/pkg/utils"
)

// maxUploadSize caps inline file attachments at 5MB, matching the widget's
// upload contract.
const maxUploadSize = 5 << 20

// Broadcaster fans persisted turns out to the conversation's room so
// connected dashboards and clients see HTTP-submitted turns too.
type Broadcaster interface {
	BroadcastTurn(eventType string, turn chat.Turn)
}

// Handler serves the chat endpoints.
type Handler struct {
	chatSvc     *chatservice.Service
	broadcaster Broadcaster
}

// New creates the chat handler. broadcaster may be nil in tests.
func New(chatSvc *chatservice.Service, broadcaster Broadcaster) *Handler {
	return &Handler{chatSvc: chatSvc, broadcaster: broadcaster}
}

// RegisterRoutes mounts the chat routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/chat", func(r chi.Router) {
		r.Post("/", h.handleChat)
		r.Post("/reply", h.handleAdminReply)
		r.Get("/history/{userID}", h.handleHistory)
		r.Post("/history", h.handleHistoryByBody)
		r.Get("/all", h.handleAllChats)
		r.Get("/unread-counts", h.handleUnreadCounts)
		r.Put("/message/{id}", h.handleUpdateMessage)
		r.Delete("/message/{id}", h.handleDeleteMessage)
		r.Put("/read/{userID}", h.handleMarkConversationRead)
		r.Put("/read/message/{id}", h.handleMarkMessageRead)
	})
}

// handleChat accepts an end-user message as JSON or multipart (field "file")
// and returns the responder's output alongside the echoed input.
func (h *Handler) handleChat(w http.ResponseWriter, r *http.Request) {
	var userID, message string
	var attachment *chat.Attachment

	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize+1<<20)
		if err := r.ParseMultipartForm(maxUploadSize); err != nil {
			var maxBytesErr *http.MaxBytesError
			if errors.As(err, &maxBytesErr) {
				utils.RespondError(w, http.StatusBadRequest, "File size too large. Maximum size is 5MB.")
				return
			}
			utils.RespondError(w, http.StatusBadRequest, "invalid multipart body")
			return
		}
		userID = r.FormValue("userId")
		message = r.FormValue("message")

		file, header, err := r.FormFile("file")
		switch {
		case err == nil:
			defer file.Close()
			if header.Size > maxUploadSize {
				utils.RespondError(w, http.StatusBadRequest, "File size too large. Maximum size is 5MB.")
				return
			}
			data, readErr := io.ReadAll(file)
			if readErr != nil {
				utils.RespondError(w, http.StatusBadRequest, "failed to read uploaded file")
				return
			}
			attachment = &chat.Attachment{
				Name:        header.Filename,
				ContentType: header.Header.Get("Content-Type"),
				Size:        header.Size,
				Data:        base64.StdEncoding.EncodeToString(data),
			}
		case err == http.ErrMissingFile:
			// text-only multipart submission is fine
		default:
			utils.RespondError(w, http.StatusBadRequest, "invalid file field")
			return
		}
	} else {
		var payload struct {
			UserID  string `json:"userId"`
			Message string `json:"message"`
		}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			utils.RespondError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		userID = payload.UserID
		message = payload.Message
	}

	if userID == "" || (message == "" && attachment == nil) {
		utils.RespondError(w, http.StatusBadRequest, "userId and message are required")
		return
	}

	turn, err := h.chatSvc.HandleMessage(r.Context(), userID, message, attachment)
	if err != nil {
		switch err {
		case chatservice.ErrConversationNotFound:
			utils.RespondError(w, http.StatusNotFound, "User not found")
		case chatservice.ErrEmptyMessage:
			utils.RespondError(w, http.StatusBadRequest, "userId and message are required")
		default:
			log.Error().Err(err).Str("user_id", userID).Msg("error handling chat message")
			utils.RespondError(w, http.StatusInternalServerError, "Error processing chat")
		}
		return
	}
	h.broadcast(gateway.EventMessage, turn)

	response := map[string]interface{}{
		"userMessage": turn.Message,
		"botResponse": turn.Response,
	}
	if turn.Attachment != nil {
		response["fileData"] = turn.Attachment
	}
	utils.RespondJSON(w, http.StatusOK, response)
}

// handleAdminReply appends a human-admin turn and broadcasts it to the
// conversation's room.
func (h *Handler) handleAdminReply(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		UserID  string `json:"userId"`
		Message string `json:"message"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if payload.UserID == "" || payload.Message == "" {
		utils.RespondError(w, http.StatusBadRequest, "userId and message are required")
		return
	}

	turn, err := h.chatSvc.AppendAdminTurn(r.Context(), payload.UserID, payload.Message)
	if err != nil {
		if err == chatservice.ErrConversationNotFound {
			utils.RespondError(w, http.StatusNotFound, "User not found")
			return
		}
		log.Error().Err(err).Str("user_id", payload.UserID).Msg("error appending admin reply")
		utils.RespondError(w, http.StatusInternalServerError, "Error processing chat")
		return
	}
	h.broadcast(gateway.EventMessage, turn)
	utils.RespondJSON(w, http.StatusOK, turn)
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	h.respondHistory(w, r, chi.URLParam(r, "userID"))
}

// handleHistoryByBody serves clients that post {userId} instead of using the
// path parameter.
func (h *Handler) handleHistoryByBody(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		UserID string `json:"userId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	h.respondHistory(w, r, payload.UserID)
}

func (h *Handler) respondHistory(w http.ResponseWriter, r *http.Request, userID string) {
	if userID == "" {
		utils.RespondError(w, http.StatusBadRequest, "userId is required")
		return
	}
	turns, err := h.chatSvc.Transcript(r.Context(), userID)
	if err != nil {
		if err == chatservice.ErrConversationNotFound {
			utils.RespondError(w, http.StatusNotFound, "User not found")
			return
		}
		log.Error().Err(err).Str("user_id", userID).Msg("error fetching history")
		utils.RespondError(w, http.StatusInternalServerError, "Error fetching chat history")
		return
	}
	utils.RespondJSON(w, http.StatusOK, turns)
}

// handleAllChats pages over every turn for the admin dashboard.
func (h *Handler) handleAllChats(w http.ResponseWriter, r *http.Request) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 20
	}

	turns, total, err := h.chatSvc.AllTurns(r.Context(), page, limit)
	if err != nil {
		log.Error().Err(err).Msg("error fetching all chats")
		utils.RespondError(w, http.StatusInternalServerError, "Error fetching all chats")
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]interface{}{
		"chats":       turns,
		"total":       total,
		"pages":       int(math.Ceil(float64(total) / float64(limit))),
		"currentPage": page,
	})
}

func (h *Handler) handleUnreadCounts(w http.ResponseWriter, r *http.Request) {
	counts, err := h.chatSvc.UnreadCounts(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("error fetching unread counts")
		utils.RespondError(w, http.StatusInternalServerError, "Error fetching unread message counts")
		return
	}
	utils.RespondJSON(w, http.StatusOK, counts)
}

// handleUpdateMessage soft-edits a turn's content.
func (h *Handler) handleUpdateMessage(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var payload struct {
		Content string `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if payload.Content == "" {
		utils.RespondError(w, http.StatusBadRequest, "content is required")
		return
	}

	turn, err := h.chatSvc.EditTurn(r.Context(), id, payload.Content)
	if err != nil {
		if err == chatservice.ErrTurnNotFound {
			utils.RespondError(w, http.StatusNotFound, "Message not found")
			return
		}
		log.Error().Err(err).Str("message_id", id).Msg("error updating message")
		utils.RespondError(w, http.StatusInternalServerError, "Error updating message")
		return
	}
	h.broadcast(gateway.EventEdited, turn)
	utils.RespondJSON(w, http.StatusOK, turn)
}

// handleDeleteMessage marks a turn deleted; the row stays in history.
func (h *Handler) handleDeleteMessage(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	turn, err := h.chatSvc.DeleteTurn(r.Context(), id)
	if err != nil {
		if err == chatservice.ErrTurnNotFound {
			utils.RespondError(w, http.StatusNotFound, "Message not found")
			return
		}
		log.Error().Err(err).Str("message_id", id).Msg("error deleting message")
		utils.RespondError(w, http.StatusInternalServerError, "Error deleting message")
		return
	}
	h.broadcast(gateway.EventDeleted, turn)
	utils.RespondJSON(w, http.StatusOK, map[string]interface{}{
		"message":        "message deleted successfully",
		"deletedMessage": turn,
	})
}

func (h *Handler) handleMarkConversationRead(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	n, err := h.chatSvc.MarkAllRead(r.Context(), userID)
	if err != nil {
		if err == chatservice.ErrConversationNotFound {
			utils.RespondError(w, http.StatusNotFound, "User not found")
			return
		}
		log.Error().Err(err).Str("user_id", userID).Msg("error marking messages read")
		utils.RespondError(w, http.StatusInternalServerError, "Error marking messages as read")
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]interface{}{"updated": n})
}

func (h *Handler) handleMarkMessageRead(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.chatSvc.MarkRead(r.Context(), id); err != nil {
		if err == chatservice.ErrTurnNotFound {
			utils.RespondError(w, http.StatusNotFound, "Message not found")
			return
		}
		log.Error().Err(err).Str("message_id", id).Msg("error marking message read")
		utils.RespondError(w, http.StatusInternalServerError, "Error marking message as read")
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) broadcast(eventType string, turn chat.Turn) {
	if h.broadcaster == nil {
		return
	}
	h.broadcaster.BroadcastTurn(eventType, turn)
}
