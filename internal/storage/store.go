// Package storage persists conversations and turns in SQLite. The store is
// the only owner of durable chat state; everything else holds transient
// copies.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	sqlite "modernc.org/sqlite"

	"github.com/supportchat/widget/backend/internal/model/chat"
)

const (
	sqliteConstraintCode = 19
	defaultBusyTimeout   = 5000
)

// ErrConversationExists is returned when inserting a duplicate conversation id.
var ErrConversationExists = errors.New("conversation already exists")

// Store wraps the SQLite handle and exposes the persistence methods used by
// the chat service.
type Store struct {
	db *sql.DB
}

// NewStore opens the SQLite database at the provided path. Call Close when done.
func NewStore(path string) (*Store, error) {
	if path == "" {
		path = "supportchat.db"
	}
	db, err := sql.Open("sqlite", buildDSN(path))
	if err != nil {
		return nil, errors.Wrap(err, "open sqlite")
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec(fmt.Sprintf("PRAGMA busy_timeout=%d;", defaultBusyTimeout)); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "set busy_timeout")
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "ping sqlite")
	}
	return &Store{db: db}, nil
}

// Close releases the underlying DB connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func buildDSN(path string) string {
	switch {
	case strings.HasPrefix(path, "sqlite://"):
		path = path[len("sqlite://"):]
	case strings.HasPrefix(path, "file:"), strings.HasPrefix(path, ":memory:"):
		// already in a form sqlite understands
	default:
		path = "file:" + path
	}
	separator := "?"
	if strings.Contains(path, "?") {
		separator = "&"
	}
	return fmt.Sprintf("%s%s_pragma=busy_timeout=%d&_pragma=foreign_keys=ON", path, separator, defaultBusyTimeout)
}

// Migrate runs the schema creation statements.
func (s *Store) Migrate(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS conversations (
			id TEXT PRIMARY KEY,
			username TEXT NOT NULL,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS turns (
			id TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL,
			sender TEXT NOT NULL,
			message TEXT NOT NULL DEFAULT '',
			response TEXT NOT NULL DEFAULT '',
			file_name TEXT,
			file_type TEXT,
			file_size INTEGER,
			file_data TEXT,
			read INTEGER NOT NULL DEFAULT 0,
			edited INTEGER NOT NULL DEFAULT 0,
			edited_at DATETIME,
			deleted INTEGER NOT NULL DEFAULT 0,
			deleted_at DATETIME,
			created_at DATETIME NOT NULL,
			FOREIGN KEY(conversation_id) REFERENCES conversations(id) ON DELETE CASCADE
		);`,
		`CREATE INDEX IF NOT EXISTS idx_turns_conversation ON turns(conversation_id, created_at);`,
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	for _, stmt := range statements {
		if _, err = tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// CreateConversation inserts a new conversation. ErrConversationExists is
// returned on duplicate ids.
func (s *Store) CreateConversation(ctx context.Context, id, username string) (chat.Conversation, error) {
	now := time.Now().UTC()
	conv := chat.Conversation{ID: id, Username: username, CreatedAt: now, UpdatedAt: now}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversations(id, username, created_at, updated_at) VALUES(?, ?, ?, ?)`,
		conv.ID, conv.Username, conv.CreatedAt, conv.UpdatedAt)
	if err != nil {
		if isConstraintError(err) {
			return chat.Conversation{}, ErrConversationExists
		}
		return chat.Conversation{}, errors.Wrap(err, "insert conversation")
	}
	return conv, nil
}

// GetConversation fetches a conversation by id. A missing id yields (nil, nil).
func (s *Store) GetConversation(ctx context.Context, id string) (*chat.Conversation, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, username, created_at, updated_at FROM conversations WHERE id = ?`, id)
	var conv chat.Conversation
	if err := row.Scan(&conv.ID, &conv.Username, &conv.CreatedAt, &conv.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "get conversation")
	}
	return &conv, nil
}

// ListConversations returns every conversation, most recently active first.
func (s *Store) ListConversations(ctx context.Context) ([]chat.Conversation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, username, created_at, updated_at FROM conversations ORDER BY updated_at DESC`)
	if err != nil {
		return nil, errors.Wrap(err, "list conversations")
	}
	defer rows.Close()

	conversations := make([]chat.Conversation, 0)
	for rows.Next() {
		var conv chat.Conversation
		if err := rows.Scan(&conv.ID, &conv.Username, &conv.CreatedAt, &conv.UpdatedAt); err != nil {
			return nil, err
		}
		conversations = append(conversations, conv)
	}
	return conversations, rows.Err()
}

// AppendTurn persists a turn and bumps its conversation's activity stamp in
// one transaction. Missing id/timestamp fields are filled in.
func (s *Store) AppendTurn(ctx context.Context, turn chat.Turn) (chat.Turn, error) {
	if turn.ID == "" {
		turn.ID = uuid.NewString()
	}
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now().UTC()
	}

	var fileName, fileType, fileData sql.NullString
	var fileSize sql.NullInt64
	if turn.Attachment != nil {
		fileName = sql.NullString{String: turn.Attachment.Name, Valid: true}
		fileType = sql.NullString{String: turn.Attachment.ContentType, Valid: true}
		fileSize = sql.NullInt64{Int64: turn.Attachment.Size, Valid: true}
		fileData = sql.NullString{String: turn.Attachment.Data, Valid: true}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return chat.Turn{}, errors.Wrap(err, "begin append")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO turns(id, conversation_id, sender, message, response, file_name, file_type, file_size, file_data, read, created_at)
		 VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		turn.ID, turn.ConversationID, string(turn.Sender), turn.Message, turn.Response,
		fileName, fileType, fileSize, fileData, turn.Read, turn.CreatedAt)
	if err != nil {
		return chat.Turn{}, errors.Wrap(err, "insert turn")
	}
	if _, err = tx.ExecContext(ctx,
		`UPDATE conversations SET updated_at = ? WHERE id = ?`, turn.CreatedAt, turn.ConversationID); err != nil {
		return chat.Turn{}, errors.Wrap(err, "touch conversation")
	}
	if err = tx.Commit(); err != nil {
		return chat.Turn{}, errors.Wrap(err, "commit append")
	}
	return turn, nil
}

const turnColumns = `id, conversation_id, sender, message, response,
	file_name, file_type, file_size, file_data,
	read, edited, edited_at, deleted, deleted_at, created_at`

// ListTurns returns a conversation's turns in append order. A conversation
// with no turns yields an empty slice, not an error.
func (s *Store) ListTurns(ctx context.Context, conversationID string) ([]chat.Turn, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+turnColumns+` FROM turns WHERE conversation_id = ? ORDER BY created_at ASC, rowid ASC`,
		conversationID)
	if err != nil {
		return nil, errors.Wrap(err, "list turns")
	}
	defer rows.Close()
	return collectTurns(rows)
}

// GetTurn fetches a single turn by id. A missing id yields (nil, nil).
func (s *Store) GetTurn(ctx context.Context, id string) (*chat.Turn, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+turnColumns+` FROM turns WHERE id = ?`, id)
	turn, err := scanTurn(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "get turn")
	}
	return turn, nil
}

// UpdateTurnContent replaces a turn's message and sets the soft-edit marker.
// The updated row is returned; a missing id yields (nil, nil).
func (s *Store) UpdateTurnContent(ctx context.Context, id, content string) (*chat.Turn, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE turns SET message = ?, edited = 1, edited_at = ? WHERE id = ?`, content, now, id)
	if err != nil {
		return nil, errors.Wrap(err, "update turn")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, nil
	}
	return s.GetTurn(ctx, id)
}

// SoftDeleteTurn marks a turn deleted without removing the row. The updated
// row is returned; a missing id yields (nil, nil).
func (s *Store) SoftDeleteTurn(ctx context.Context, id string) (*chat.Turn, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE turns SET deleted = 1, deleted_at = ? WHERE id = ?`, now, id)
	if err != nil {
		return nil, errors.Wrap(err, "soft delete turn")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, nil
	}
	return s.GetTurn(ctx, id)
}

// MarkTurnRead flags a single turn as read, reporting whether the id existed.
func (s *Store) MarkTurnRead(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE turns SET read = 1 WHERE id = ?`, id)
	if err != nil {
		return false, errors.Wrap(err, "mark turn read")
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// MarkConversationRead flags every turn in a conversation as read and
// returns the number of rows touched.
func (s *Store) MarkConversationRead(ctx context.Context, conversationID string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE turns SET read = 1 WHERE conversation_id = ? AND read = 0`, conversationID)
	if err != nil {
		return 0, errors.Wrap(err, "mark conversation read")
	}
	return res.RowsAffected()
}

// UnreadCounts returns, per conversation, how many end-user turns have not
// been read by an admin yet.
func (s *Store) UnreadCounts(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT conversation_id, COUNT(1) FROM turns
		 WHERE read = 0 AND deleted = 0 AND sender = ?
		 GROUP BY conversation_id`, string(chat.SenderUser))
	if err != nil {
		return nil, errors.Wrap(err, "unread counts")
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var id string
		var n int
		if err := rows.Scan(&id, &n); err != nil {
			return nil, err
		}
		counts[id] = n
	}
	return counts, rows.Err()
}

// AllTurns returns one page of turns across every conversation, newest
// first, along with the total row count.
func (s *Store) AllTurns(ctx context.Context, page, limit int) ([]chat.Turn, int, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 20
	}
	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM turns`).Scan(&total); err != nil {
		return nil, 0, errors.Wrap(err, "count turns")
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+turnColumns+` FROM turns ORDER BY created_at DESC, rowid DESC LIMIT ? OFFSET ?`,
		limit, (page-1)*limit)
	if err != nil {
		return nil, 0, errors.Wrap(err, "page turns")
	}
	defer rows.Close()
	turns, err := collectTurns(rows)
	if err != nil {
		return nil, 0, err
	}
	return turns, total, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTurn(row rowScanner) (*chat.Turn, error) {
	var turn chat.Turn
	var sender string
	var fileName, fileType, fileData sql.NullString
	var fileSize sql.NullInt64
	var editedAt, deletedAt sql.NullTime
	if err := row.Scan(
		&turn.ID, &turn.ConversationID, &sender, &turn.Message, &turn.Response,
		&fileName, &fileType, &fileSize, &fileData,
		&turn.Read, &turn.Edited, &editedAt, &turn.Deleted, &deletedAt, &turn.CreatedAt,
	); err != nil {
		return nil, err
	}
	turn.Sender = chat.Sender(sender)
	if fileName.Valid {
		turn.Attachment = &chat.Attachment{
			Name:        fileName.String,
			ContentType: fileType.String,
			Size:        fileSize.Int64,
			Data:        fileData.String,
		}
	}
	if editedAt.Valid {
		t := editedAt.Time
		turn.EditedAt = &t
	}
	if deletedAt.Valid {
		t := deletedAt.Time
		turn.DeletedAt = &t
	}
	return &turn, nil
}

func collectTurns(rows *sql.Rows) ([]chat.Turn, error) {
	turns := make([]chat.Turn, 0)
	for rows.Next() {
		turn, err := scanTurn(rows)
		if err != nil {
			return nil, err
		}
		turns = append(turns, *turn)
	}
	return turns, rows.Err()
}

func isConstraintError(err error) bool {
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		// The driver reports extended result codes (e.g. 1555 for a primary
		// key violation); the primary code lives in the low byte.
		return sqliteErr.Code()&0xff == sqliteConstraintCode
	}
	return false
}
