package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/teamtalk/internal/logger"
	"github.com/teamtalk/internal/model"
)

type ReactionRepository struct {
	pool *pgxpool.Pool
}

func NewReactionRepository(pool *pgxpool.Pool) *ReactionRepository {
	return &ReactionRepository{pool: pool}
}

// Add inserts the reaction. The primary key carries uniqueness; a conflict
// means the exact triple already exists.
func (r *ReactionRepository) Add(ctx context.Context, messageID, userID, emoji string, at time.Time) error {
	defer logger.DeferLogDuration("reaction.Add", time.Now())()
	tag, err := r.pool.Exec(ctx,
		`INSERT INTO message_reactions (message_id, user_id, emoji, created_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT DO NOTHING`,
		messageID, userID, emoji, at,
	)
	if err != nil {
		return fmt.Errorf("reactionRepo.Add: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrDuplicate
	}
	return nil
}

// Remove deletes the reaction; absence of the exact triple is ErrNotFound.
func (r *ReactionRepository) Remove(ctx context.Context, messageID, userID, emoji string) error {
	defer logger.DeferLogDuration("reaction.Remove", time.Now())()
	tag, err := r.pool.Exec(ctx,
		`DELETE FROM message_reactions WHERE message_id = $1 AND user_id = $2 AND emoji = $3`,
		messageID, userID, emoji,
	)
	if err != nil {
		return fmt.Errorf("reactionRepo.Remove: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListForMessage returns the reactions on one message in creation order.
func (r *ReactionRepository) ListForMessage(ctx context.Context, messageID string) ([]model.Reaction, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT message_id, user_id, emoji, created_at
		 FROM message_reactions WHERE message_id = $1
		 ORDER BY created_at, user_id`, messageID,
	)
	if err != nil {
		return nil, fmt.Errorf("reactionRepo.ListForMessage: %w", err)
	}
	defer rows.Close()
	out := make([]model.Reaction, 0, 8)
	for rows.Next() {
		var rc model.Reaction
		if err := rows.Scan(&rc.MessageID, &rc.UserID, &rc.Emoji, &rc.CreatedAt); err != nil {
			return nil, fmt.Errorf("reactionRepo scan: %w", err)
		}
		out = append(out, rc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reactionRepo rows: %w", err)
	}
	return out, nil
}

// ListForMessages returns reactions for a batch of messages keyed by
// message id, for annotating list responses.
func (r *ReactionRepository) ListForMessages(ctx context.Context, messageIDs []string) (map[string][]model.Reaction, error) {
	if len(messageIDs) == 0 {
		return map[string][]model.Reaction{}, nil
	}
	rows, err := r.pool.Query(ctx,
		`SELECT message_id, user_id, emoji, created_at
		 FROM message_reactions WHERE message_id = ANY($1)
		 ORDER BY created_at, user_id`, messageIDs,
	)
	if err != nil {
		return nil, fmt.Errorf("reactionRepo.ListForMessages: %w", err)
	}
	defer rows.Close()
	out := make(map[string][]model.Reaction, len(messageIDs))
	for rows.Next() {
		var rc model.Reaction
		if err := rows.Scan(&rc.MessageID, &rc.UserID, &rc.Emoji, &rc.CreatedAt); err != nil {
			return nil, fmt.Errorf("reactionRepo scan: %w", err)
		}
		out[rc.MessageID] = append(out[rc.MessageID], rc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reactionRepo rows: %w", err)
	}
	return out, nil
}
