package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/teamtalk/internal/logger"
)

type ReceiptRepository struct {
	pool *pgxpool.Pool
}

func NewReceiptRepository(pool *pgxpool.Pool) *ReceiptRepository {
	return &ReceiptRepository{pool: pool}
}

// MarkRead upserts receipts for the given messages and returns the ids of
// messages that gained a new receipt, grouped by conversation. Only messages
// in conversations where the user is an active participant qualify; re-reading
// an already-read message changes nothing and is absent from the result.
func (r *ReceiptRepository) MarkRead(ctx context.Context, userID string, messageIDs []string, at time.Time) (map[string][]string, error) {
	defer logger.DeferLogDuration("receipt.MarkRead", time.Now())()
	if len(messageIDs) == 0 {
		return map[string][]string{}, nil
	}
	rows, err := r.pool.Query(ctx,
		`INSERT INTO message_read_receipts (message_id, user_id, read_at)
		 SELECT m.id, $1, $2 FROM messages m
		 JOIN conversation_participants cp
		   ON cp.conversation_id = m.conversation_id AND cp.user_id = $1 AND cp.left_at IS NULL
		 WHERE m.id = ANY($3)
		 ON CONFLICT DO NOTHING
		 RETURNING message_id, (SELECT conversation_id FROM messages WHERE id = message_id)`,
		userID, at, messageIDs,
	)
	if err != nil {
		return nil, fmt.Errorf("receiptRepo.MarkRead: %w", err)
	}
	defer rows.Close()
	out := make(map[string][]string)
	for rows.Next() {
		var msgID, convID string
		if err := rows.Scan(&msgID, &convID); err != nil {
			return nil, fmt.Errorf("receiptRepo scan: %w", err)
		}
		out[convID] = append(out[convID], msgID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("receiptRepo rows: %w", err)
	}
	return out, nil
}

// ReadersFor returns, per message id, the users holding a read receipt.
func (r *ReceiptRepository) ReadersFor(ctx context.Context, messageIDs []string) (map[string][]string, error) {
	if len(messageIDs) == 0 {
		return map[string][]string{}, nil
	}
	rows, err := r.pool.Query(ctx,
		`SELECT message_id, user_id FROM message_read_receipts
		 WHERE message_id = ANY($1)
		 ORDER BY read_at, user_id`, messageIDs,
	)
	if err != nil {
		return nil, fmt.Errorf("receiptRepo.ReadersFor: %w", err)
	}
	defer rows.Close()
	out := make(map[string][]string, len(messageIDs))
	for rows.Next() {
		var msgID, userID string
		if err := rows.Scan(&msgID, &userID); err != nil {
			return nil, fmt.Errorf("receiptRepo scan: %w", err)
		}
		out[msgID] = append(out[msgID], userID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("receiptRepo rows: %w", err)
	}
	return out, nil
}
