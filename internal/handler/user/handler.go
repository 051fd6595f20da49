// Package user exposes conversation registration and the admin user list.
package user

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	chatservice "github.com/supportchat/widget/backend/internal/service/chat"
	"github.com/supportchat/widget/backend/pkg/utils"
)

// Handler serves user registration and listing.
type Handler struct {
	chatSvc *chatservice.Service
}

// New creates the user handler.
func New(chatSvc *chatservice.Service) *Handler {
	return &Handler{chatSvc: chatSvc}
}

// RegisterRoutes mounts the user routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/user", h.handleRegister)
	r.Get("/users", h.handleList)
}

// handleRegister creates a conversation or returns the existing record for
// the same id. Registration is idempotent: re-registering never errors.
func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		UserID   string `json:"userId"`
		Username string `json:"username"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if payload.UserID == "" || payload.Username == "" {
		utils.RespondError(w, http.StatusBadRequest, "userId and username are required")
		return
	}

	conv, created, err := h.chatSvc.RegisterConversation(r.Context(), payload.UserID, payload.Username)
	if err != nil {
		log.Error().Err(err).Str("user_id", payload.UserID).Msg("error registering conversation")
		utils.RespondError(w, http.StatusInternalServerError, "Error processing request")
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	utils.RespondJSON(w, status, map[string]interface{}{"user": conv})
}

// handleList returns every conversation for the admin dashboard.
func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	conversations, err := h.chatSvc.Conversations(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("error listing conversations")
		utils.RespondError(w, http.StatusInternalServerError, "Error fetching users")
		return
	}
	utils.RespondJSON(w, http.StatusOK, conversations)
}
