package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/teamtalk/internal/logger"
	"github.com/teamtalk/internal/model"
)

type MessageRepository struct {
	pool *pgxpool.Pool
}

func NewMessageRepository(pool *pgxpool.Pool) *MessageRepository {
	return &MessageRepository{pool: pool}
}

const messageCols = `m.id, m.conversation_id, m.sender_id, m.content, m.msg_type, m.reply_to_id, m.reply_snippet,
	m.edited_at, m.edited_by, m.deleted_at, m.deleted_by, m.metadata, m.created_at`

func scanMessage(row pgx.Row) (*model.Message, error) {
	m := &model.Message{Status: model.MessageStatusSent}
	err := row.Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.Content, &m.Type, &m.ReplyToID, &m.ReplyTo,
		&m.EditedAt, &m.EditedBy, &m.DeletedAt, &m.DeletedBy, &m.Metadata, &m.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}

// Create persists the message with its attachments and mention rows in one
// transaction.
func (r *MessageRepository) Create(ctx context.Context, m *model.Message) error {
	defer logger.DeferLogDuration("msg.Create", time.Now())()
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("msgRepo.Create begin: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO messages (id, conversation_id, sender_id, content, msg_type, reply_to_id, reply_snippet, metadata, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		m.ID, m.ConversationID, m.SenderID, m.Content, m.Type, m.ReplyToID, m.ReplyTo, m.Metadata, m.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("msgRepo.Create insert: %w", err)
	}
	for _, a := range m.Attachments {
		_, err = tx.Exec(ctx,
			`INSERT INTO message_attachments (id, message_id, file_url, file_name, file_size, mime_type)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			a.ID, m.ID, a.FileURL, a.FileName, a.FileSize, a.MimeType,
		)
		if err != nil {
			return fmt.Errorf("msgRepo.Create attachment: %w", err)
		}
	}
	for _, uid := range m.Mentions {
		_, err = tx.Exec(ctx,
			`INSERT INTO message_mentions (message_id, user_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
			m.ID, uid,
		)
		if err != nil {
			return fmt.Errorf("msgRepo.Create mention: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("msgRepo.Create commit: %w", err)
	}
	return nil
}

// GetByID returns the message including soft-deleted rows; mutation rules on
// deleted messages belong to the service.
func (r *MessageRepository) GetByID(ctx context.Context, id string) (*model.Message, error) {
	defer logger.DeferLogDuration("msg.GetByID", time.Now())()
	m, err := scanMessage(r.pool.QueryRow(ctx,
		`SELECT `+messageCols+` FROM messages m WHERE m.id = $1`, id))
	if errors.Is(err, ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("msgRepo.GetByID: %w", err)
	}
	if err := r.loadAttachments(ctx, []*model.Message{m}); err != nil {
		return nil, err
	}
	return m, nil
}

func (r *MessageRepository) collect(rows pgx.Rows) ([]model.Message, error) {
	defer rows.Close()
	msgs := make([]model.Message, 0, 16)
	for rows.Next() {
		m := model.Message{Status: model.MessageStatusSent}
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.Content, &m.Type, &m.ReplyToID, &m.ReplyTo,
			&m.EditedAt, &m.EditedBy, &m.DeletedAt, &m.DeletedBy, &m.Metadata, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("msgRepo scan: %w", err)
		}
		// Soft-deleted rows stay in history as tombstones; their content does
		// not leave the store.
		if m.DeletedAt != nil {
			m.Content = ""
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("msgRepo rows: %w", err)
	}
	return msgs, nil
}

// ListPage returns one offset page, newest first.
func (r *MessageRepository) ListPage(ctx context.Context, conversationID string, limit, offset int) ([]model.Message, error) {
	defer logger.DeferLogDuration("msg.ListPage", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT `+messageCols+` FROM messages m
		 WHERE m.conversation_id = $1
		 ORDER BY m.created_at DESC, m.id DESC
		 LIMIT $2 OFFSET $3`, conversationID, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("msgRepo.ListPage query: %w", err)
	}
	msgs, err := r.collect(rows)
	if err != nil {
		return nil, err
	}
	return msgs, r.loadAttachmentsSlice(ctx, msgs)
}

// ListBefore returns messages strictly older than the (createdAt, id) cursor,
// newest first. The id tie-break keeps pagination deterministic when two
// messages share a timestamp.
func (r *MessageRepository) ListBefore(ctx context.Context, conversationID string, createdAt time.Time, id string, limit int) ([]model.Message, error) {
	defer logger.DeferLogDuration("msg.ListBefore", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT `+messageCols+` FROM messages m
		 WHERE m.conversation_id = $1 AND (m.created_at, m.id) < ($2, $3)
		 ORDER BY m.created_at DESC, m.id DESC
		 LIMIT $4`, conversationID, createdAt, id, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("msgRepo.ListBefore query: %w", err)
	}
	msgs, err := r.collect(rows)
	if err != nil {
		return nil, err
	}
	return msgs, r.loadAttachmentsSlice(ctx, msgs)
}

// ListAfter returns messages strictly newer than the cursor, oldest first.
func (r *MessageRepository) ListAfter(ctx context.Context, conversationID string, createdAt time.Time, id string, limit int) ([]model.Message, error) {
	defer logger.DeferLogDuration("msg.ListAfter", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT `+messageCols+` FROM messages m
		 WHERE m.conversation_id = $1 AND (m.created_at, m.id) > ($2, $3)
		 ORDER BY m.created_at, m.id
		 LIMIT $4`, conversationID, createdAt, id, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("msgRepo.ListAfter query: %w", err)
	}
	msgs, err := r.collect(rows)
	if err != nil {
		return nil, err
	}
	return msgs, r.loadAttachmentsSlice(ctx, msgs)
}

// Count returns the number of messages in the conversation.
func (r *MessageRepository) Count(ctx context.Context, conversationID string) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM messages WHERE conversation_id = $1`, conversationID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("msgRepo.Count: %w", err)
	}
	return n, nil
}

// UpdateContent applies an edit: new content, editor stamp, and the metadata
// carrying the appended edit history.
func (r *MessageRepository) UpdateContent(ctx context.Context, id, content string, editedAt time.Time, editedBy string, md model.Metadata) error {
	defer logger.DeferLogDuration("msg.UpdateContent", time.Now())()
	_, err := r.pool.Exec(ctx,
		`UPDATE messages SET content = $1, edited_at = $2, edited_by = $3, metadata = $4 WHERE id = $5`,
		content, editedAt, editedBy, md, id,
	)
	if err != nil {
		return fmt.Errorf("msgRepo.UpdateContent: %w", err)
	}
	return nil
}

// SoftDelete marks the message deleted; the row and its history remain.
func (r *MessageRepository) SoftDelete(ctx context.Context, id string, t time.Time, by string) error {
	defer logger.DeferLogDuration("msg.SoftDelete", time.Now())()
	_, err := r.pool.Exec(ctx,
		`UPDATE messages SET deleted_at = $1, deleted_by = $2 WHERE id = $3 AND deleted_at IS NULL`,
		t, by, id,
	)
	if err != nil {
		return fmt.Errorf("msgRepo.SoftDelete: %w", err)
	}
	return nil
}

// SearchQuery narrows Search.
type SearchQuery struct {
	Query          string
	ConversationID string
	Type           model.MessageType
	From           *time.Time
	To             *time.Time
	Limit          int
}

// Search matches message content with ILIKE, scoped to conversations where
// the user holds a participant row (current or past membership both grant
// access to what the user could once see).
func (r *MessageRepository) Search(ctx context.Context, userID string, q SearchQuery) ([]model.Message, error) {
	defer logger.DeferLogDuration("msg.Search", time.Now())()
	sql := `SELECT ` + messageCols + ` FROM messages m
		 JOIN conversation_participants cp ON cp.conversation_id = m.conversation_id AND cp.user_id = $1
		 JOIN conversations c ON c.id = m.conversation_id AND c.deleted_at IS NULL
		 WHERE m.deleted_at IS NULL AND m.content ILIKE '%' || $2 || '%'`
	args := []any{userID, q.Query}
	if q.ConversationID != "" {
		args = append(args, q.ConversationID)
		sql += fmt.Sprintf(` AND m.conversation_id = $%d`, len(args))
	}
	if q.Type != "" {
		args = append(args, q.Type)
		sql += fmt.Sprintf(` AND m.msg_type = $%d`, len(args))
	}
	if q.From != nil {
		args = append(args, *q.From)
		sql += fmt.Sprintf(` AND m.created_at >= $%d`, len(args))
	}
	if q.To != nil {
		args = append(args, *q.To)
		sql += fmt.Sprintf(` AND m.created_at <= $%d`, len(args))
	}
	args = append(args, q.Limit)
	sql += fmt.Sprintf(` ORDER BY m.created_at DESC, m.id DESC LIMIT $%d`, len(args))

	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("msgRepo.Search query: %w", err)
	}
	return r.collect(rows)
}

func (r *MessageRepository) loadAttachmentsSlice(ctx context.Context, msgs []model.Message) error {
	ptrs := make([]*model.Message, len(msgs))
	for i := range msgs {
		ptrs[i] = &msgs[i]
	}
	return r.loadAttachments(ctx, ptrs)
}

func (r *MessageRepository) loadAttachments(ctx context.Context, msgs []*model.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	ids := make([]string, 0, len(msgs))
	byID := make(map[string]*model.Message, len(msgs))
	for _, m := range msgs {
		if m.DeletedAt != nil {
			continue
		}
		ids = append(ids, m.ID)
		byID[m.ID] = m
	}
	if len(ids) == 0 {
		return nil
	}
	rows, err := r.pool.Query(ctx,
		`SELECT id, message_id, file_url, file_name, file_size, mime_type
		 FROM message_attachments WHERE message_id = ANY($1)`, ids,
	)
	if err != nil {
		return fmt.Errorf("msgRepo.loadAttachments query: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var a model.Attachment
		if err := rows.Scan(&a.ID, &a.MessageID, &a.FileURL, &a.FileName, &a.FileSize, &a.MimeType); err != nil {
			return fmt.Errorf("msgRepo.loadAttachments scan: %w", err)
		}
		if m, ok := byID[a.MessageID]; ok {
			m.Attachments = append(m.Attachments, a)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("msgRepo.loadAttachments rows: %w", err)
	}
	return nil
}
