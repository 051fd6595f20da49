// Package chat orchestrates the message path: resolve the conversation,
// run the responder, persist the turn, and hand the result back for
// broadcast.
package chat

import (
	"context"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/supportchat/widget/backend/internal/model/chat"
	"github.com/supportchat/widget/backend/internal/responder"
	"github.com/supportchat/widget/backend/internal/storage"
)

var (
	ErrConversationNotFound = errors.New("conversation not found")
	ErrTurnNotFound         = errors.New("message not found")
	ErrEmptyMessage         = errors.New("message or file is required")
)

// Service encapsulates conversation state management on top of the store.
type Service struct {
	store *storage.Store
}

// NewService wires the chat service to its message store.
func NewService(store *storage.Store) *Service {
	return &Service{store: store}
}

// RegisterConversation creates a conversation or returns the existing record
// for the same id. It reports whether a new conversation was created.
func (s *Service) RegisterConversation(ctx context.Context, id, username string) (chat.Conversation, bool, error) {
	existing, err := s.store.GetConversation(ctx, id)
	if err != nil {
		return chat.Conversation{}, false, err
	}
	if existing != nil {
		return *existing, false, nil
	}

	conv, err := s.store.CreateConversation(ctx, id, username)
	if errors.Is(err, storage.ErrConversationExists) {
		// Lost a race with a concurrent registration; the existing row wins.
		existing, err = s.store.GetConversation(ctx, id)
		if err != nil {
			return chat.Conversation{}, false, err
		}
		return *existing, false, nil
	}
	if err != nil {
		return chat.Conversation{}, false, err
	}
	return conv, true, nil
}

// HandleMessage processes one end-user exchange for an existing
// conversation: responder output is computed, the turn is appended, and the
// persisted turn is returned for the caller to broadcast.
func (s *Service) HandleMessage(ctx context.Context, conversationID, text string, attachment *chat.Attachment) (chat.Turn, error) {
	conv, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		return chat.Turn{}, err
	}
	if conv == nil {
		return chat.Turn{}, ErrConversationNotFound
	}
	return s.appendExchange(ctx, conversationID, text, attachment)
}

// HandleMessageAutoCreate is the real-time variant: a message for an unseen
// conversation id creates the conversation on first contact.
func (s *Service) HandleMessageAutoCreate(ctx context.Context, conversationID, username, text string, attachment *chat.Attachment) (chat.Turn, error) {
	if username == "" {
		username = conversationID
	}
	if _, _, err := s.RegisterConversation(ctx, conversationID, username); err != nil {
		return chat.Turn{}, err
	}
	return s.appendExchange(ctx, conversationID, text, attachment)
}

func (s *Service) appendExchange(ctx context.Context, conversationID, text string, attachment *chat.Attachment) (chat.Turn, error) {
	if text == "" && attachment == nil {
		return chat.Turn{}, ErrEmptyMessage
	}

	input := text
	if input == "" {
		input = responder.AttachmentPlaceholder
	}

	turn := chat.Turn{
		ConversationID: conversationID,
		Sender:         chat.SenderUser,
		Message:        text,
		Response:       responder.Respond(input),
		Attachment:     attachment,
	}
	saved, err := s.store.AppendTurn(ctx, turn)
	if err != nil {
		log.Error().Err(err).Str("conversation_id", conversationID).Msg("failed to persist turn")
		return chat.Turn{}, errors.Wrap(err, "append exchange")
	}
	return saved, nil
}

// AppendAdminTurn records a human-admin reply. Admin turns carry no
// responder output and are born read.
func (s *Service) AppendAdminTurn(ctx context.Context, conversationID, text string) (chat.Turn, error) {
	if text == "" {
		return chat.Turn{}, ErrEmptyMessage
	}
	conv, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		return chat.Turn{}, err
	}
	if conv == nil {
		return chat.Turn{}, ErrConversationNotFound
	}

	saved, err := s.store.AppendTurn(ctx, chat.Turn{
		ConversationID: conversationID,
		Sender:         chat.SenderAdmin,
		Message:        text,
		Read:           true,
	})
	if err != nil {
		return chat.Turn{}, errors.Wrap(err, "append admin turn")
	}
	return saved, nil
}

// Transcript returns a conversation's turns in append order. A fresh
// conversation yields an empty slice.
func (s *Service) Transcript(ctx context.Context, conversationID string) ([]chat.Turn, error) {
	conv, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if conv == nil {
		return nil, ErrConversationNotFound
	}
	return s.store.ListTurns(ctx, conversationID)
}

// EditTurn soft-edits a turn's content.
func (s *Service) EditTurn(ctx context.Context, id, content string) (chat.Turn, error) {
	turn, err := s.store.UpdateTurnContent(ctx, id, content)
	if err != nil {
		return chat.Turn{}, err
	}
	if turn == nil {
		return chat.Turn{}, ErrTurnNotFound
	}
	return *turn, nil
}

// DeleteTurn soft-deletes a turn; the row stays in history.
func (s *Service) DeleteTurn(ctx context.Context, id string) (chat.Turn, error) {
	turn, err := s.store.SoftDeleteTurn(ctx, id)
	if err != nil {
		return chat.Turn{}, err
	}
	if turn == nil {
		return chat.Turn{}, ErrTurnNotFound
	}
	return *turn, nil
}

// MarkRead flags one turn as read.
func (s *Service) MarkRead(ctx context.Context, id string) error {
	found, err := s.store.MarkTurnRead(ctx, id)
	if err != nil {
		return err
	}
	if !found {
		return ErrTurnNotFound
	}
	return nil
}

// MarkAllRead flags every turn in a conversation as read.
func (s *Service) MarkAllRead(ctx context.Context, conversationID string) (int64, error) {
	conv, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		return 0, err
	}
	if conv == nil {
		return 0, ErrConversationNotFound
	}
	return s.store.MarkConversationRead(ctx, conversationID)
}

// UnreadCounts returns per-conversation unread end-user turn counts.
func (s *Service) UnreadCounts(ctx context.Context) (map[string]int, error) {
	return s.store.UnreadCounts(ctx)
}

// Conversations lists every conversation, most recently active first.
func (s *Service) Conversations(ctx context.Context) ([]chat.Conversation, error) {
	return s.store.ListConversations(ctx)
}

// AllTurns returns one page of turns across all conversations plus the total
// count, for the admin dashboard.
func (s *Service) AllTurns(ctx context.Context, page, limit int) ([]chat.Turn, int, error) {
	return s.store.AllTurns(ctx, page, limit)
}
