package chat_test

import (
	"context"
	"testing"

	model "github.com/supportchat/widget/backend/internal/model/chat"
	"github.com/supportchat/widget/backend/internal/responder"
	chat "github.com/supportchat/widget/backend/internal/service/chat"
	"github.com/supportchat/widget/backend/internal/storage"
)

func newTestService(t *testing.T) *chat.Service {
	t.Helper()
	store, err := storage.NewStore("sqlite://file:" + t.Name() + "?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})
	if err := store.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	return chat.NewService(store)
}

func TestRegisterConversationIdempotent(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	conv, created, err := svc.RegisterConversation(ctx, "u1", "Alice")
	if err != nil {
		t.Fatalf("RegisterConversation: %v", err)
	}
	if !created {
		t.Fatalf("expected first registration to create")
	}

	again, created, err := svc.RegisterConversation(ctx, "u1", "Someone Else")
	if err != nil {
		t.Fatalf("RegisterConversation again: %v", err)
	}
	if created {
		t.Fatalf("expected second registration to fetch, not create")
	}
	if again.Username != conv.Username {
		t.Fatalf("existing record should win: got %q want %q", again.Username, conv.Username)
	}
}

func TestHandleMessageUnknownConversation(t *testing.T) {
	svc := newTestService(t)

	_, err := svc.HandleMessage(context.Background(), "missing", "hello", nil)
	if err != chat.ErrConversationNotFound {
		t.Fatalf("expected ErrConversationNotFound, got %v", err)
	}
}

func TestHandleMessageAppendsTurn(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	if _, _, err := svc.RegisterConversation(ctx, "u1", "Alice"); err != nil {
		t.Fatalf("RegisterConversation: %v", err)
	}

	turn, err := svc.HandleMessage(ctx, "u1", "bye", nil)
	if err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}
	if turn.Response != "Thank you for chatting with us. Have a great day!" {
		t.Fatalf("unexpected bot response: %q", turn.Response)
	}
	if turn.Sender != model.SenderUser {
		t.Fatalf("unexpected sender: %q", turn.Sender)
	}
	if turn.ID == "" || turn.CreatedAt.IsZero() {
		t.Fatalf("turn missing id or timestamp: %+v", turn)
	}

	history, err := svc.Transcript(ctx, "u1")
	if err != nil {
		t.Fatalf("Transcript: %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("expected 1 turn, got %d", len(history))
	}
}

func TestHandleMessageRejectsEmpty(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	if _, _, err := svc.RegisterConversation(ctx, "u1", "Alice"); err != nil {
		t.Fatalf("RegisterConversation: %v", err)
	}

	if _, err := svc.HandleMessage(ctx, "u1", "", nil); err != chat.ErrEmptyMessage {
		t.Fatalf("expected ErrEmptyMessage, got %v", err)
	}
}

func TestHandleMessageFileOnly(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	if _, _, err := svc.RegisterConversation(ctx, "u1", "Alice"); err != nil {
		t.Fatalf("RegisterConversation: %v", err)
	}

	turn, err := svc.HandleMessage(ctx, "u1", "", &model.Attachment{
		Name: "pic.png", ContentType: "image/png", Size: 3, Data: "YWJj",
	})
	if err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}
	// Placeholder input matches no keyword, so the fallback reply applies.
	if turn.Response != responder.Fallback {
		t.Fatalf("unexpected response for file-only turn: %q", turn.Response)
	}
	if turn.Attachment == nil || turn.Attachment.Name != "pic.png" {
		t.Fatalf("attachment not persisted: %+v", turn.Attachment)
	}
}

func TestHandleMessageAutoCreate(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	turn, err := svc.HandleMessageAutoCreate(ctx, "fresh", "Visitor", "hi", nil)
	if err != nil {
		t.Fatalf("HandleMessageAutoCreate: %v", err)
	}
	if turn.Response != "Hi there! How may I assist you?" {
		t.Fatalf("unexpected response: %q", turn.Response)
	}

	conv, created, err := svc.RegisterConversation(ctx, "fresh", "Visitor")
	if err != nil || created {
		t.Fatalf("conversation should already exist: created=%v err=%v", created, err)
	}
	if conv.Username != "Visitor" {
		t.Fatalf("unexpected username: %q", conv.Username)
	}
}

func TestTranscriptFreshConversationEmpty(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	if _, _, err := svc.RegisterConversation(ctx, "u1", "Alice"); err != nil {
		t.Fatalf("RegisterConversation: %v", err)
	}

	history, err := svc.Transcript(ctx, "u1")
	if err != nil {
		t.Fatalf("Transcript: %v", err)
	}
	if len(history) != 0 {
		t.Fatalf("expected empty history, got %d", len(history))
	}

	if _, err := svc.Transcript(ctx, "missing"); err != chat.ErrConversationNotFound {
		t.Fatalf("expected ErrConversationNotFound, got %v", err)
	}
}

func TestAppendAdminTurn(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	if _, _, err := svc.RegisterConversation(ctx, "u1", "Alice"); err != nil {
		t.Fatalf("RegisterConversation: %v", err)
	}

	turn, err := svc.AppendAdminTurn(ctx, "u1", "An agent will be with you shortly.")
	if err != nil {
		t.Fatalf("AppendAdminTurn: %v", err)
	}
	if turn.Sender != model.SenderAdmin {
		t.Fatalf("unexpected sender: %q", turn.Sender)
	}
	if turn.Response != "" {
		t.Fatalf("admin turns carry no responder output, got %q", turn.Response)
	}

	if _, err := svc.AppendAdminTurn(ctx, "missing", "hello?"); err != chat.ErrConversationNotFound {
		t.Fatalf("expected ErrConversationNotFound, got %v", err)
	}
}

func TestEditAndDeleteTurn(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	if _, _, err := svc.RegisterConversation(ctx, "u1", "Alice"); err != nil {
		t.Fatalf("RegisterConversation: %v", err)
	}
	turn, err := svc.HandleMessage(ctx, "u1", "hello", nil)
	if err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}

	edited, err := svc.EditTurn(ctx, turn.ID, "hello there")
	if err != nil {
		t.Fatalf("EditTurn: %v", err)
	}
	if edited.Message != "hello there" || !edited.Edited {
		t.Fatalf("unexpected edited turn: %+v", edited)
	}

	deleted, err := svc.DeleteTurn(ctx, turn.ID)
	if err != nil {
		t.Fatalf("DeleteTurn: %v", err)
	}
	if !deleted.Deleted {
		t.Fatalf("turn not marked deleted: %+v", deleted)
	}

	if _, err := svc.EditTurn(ctx, "nope", "x"); err != chat.ErrTurnNotFound {
		t.Fatalf("expected ErrTurnNotFound, got %v", err)
	}
	if _, err := svc.DeleteTurn(ctx, "nope"); err != chat.ErrTurnNotFound {
		t.Fatalf("expected ErrTurnNotFound, got %v", err)
	}
}

func TestMarkReadFlows(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	if _, _, err := svc.RegisterConversation(ctx, "u1", "Alice"); err != nil {
		t.Fatalf("RegisterConversation: %v", err)
	}
	turn, err := svc.HandleMessage(ctx, "u1", "help", nil)
	if err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}
	if _, err := svc.HandleMessage(ctx, "u1", "still there?", nil); err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}

	counts, err := svc.UnreadCounts(ctx)
	if err != nil {
		t.Fatalf("UnreadCounts: %v", err)
	}
	if counts["u1"] != 2 {
		t.Fatalf("expected 2 unread, got %d", counts["u1"])
	}

	if err := svc.MarkRead(ctx, turn.ID); err != nil {
		t.Fatalf("MarkRead: %v", err)
	}
	n, err := svc.MarkAllRead(ctx, "u1")
	if err != nil {
		t.Fatalf("MarkAllRead: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 remaining row marked, got %d", n)
	}
	if err := svc.MarkRead(ctx, "nope"); err != chat.ErrTurnNotFound {
		t.Fatalf("expected ErrTurnNotFound, got %v", err)
	}
}
