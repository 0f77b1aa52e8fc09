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

type ConversationRepository struct {
	pool *pgxpool.Pool
}

func NewConversationRepository(pool *pgxpool.Pool) *ConversationRepository {
	return &ConversationRepository{pool: pool}
}

const conversationCols = `id, org_id, conv_type, name, COALESCE(description,''), created_by, metadata, last_activity_at, deleted_at, created_at`

func scanConversation(row pgx.Row) (*model.Conversation, error) {
	c := &model.Conversation{}
	err := row.Scan(&c.ID, &c.OrgID, &c.Type, &c.Name, &c.Description, &c.CreatedBy,
		&c.Metadata, &c.LastActivityAt, &c.DeletedAt, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

// CreateWithParticipants inserts the conversation and its initial participant
// rows in one transaction; a conversation never exists without members.
func (r *ConversationRepository) CreateWithParticipants(ctx context.Context, c *model.Conversation, parts []model.Participant) error {
	defer logger.DeferLogDuration("conv.CreateWithParticipants", time.Now())()
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("convRepo.CreateWithParticipants begin: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO conversations (id, org_id, conv_type, name, description, created_by, metadata, last_activity_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		c.ID, c.OrgID, c.Type, c.Name, c.Description, c.CreatedBy, c.Metadata, c.LastActivityAt, c.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("convRepo.CreateWithParticipants insert: %w", err)
	}
	for _, p := range parts {
		_, err = tx.Exec(ctx,
			`INSERT INTO conversation_participants (conversation_id, user_id, role, joined_at, muted)
			 VALUES ($1, $2, $3, $4, $5)`,
			p.ConversationID, p.UserID, p.Role, p.JoinedAt, p.Muted,
		)
		if err != nil {
			return fmt.Errorf("convRepo.CreateWithParticipants participant: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("convRepo.CreateWithParticipants commit: %w", err)
	}
	return nil
}

// GetByID returns the conversation; soft-deleted rows count as absent.
func (r *ConversationRepository) GetByID(ctx context.Context, id string) (*model.Conversation, error) {
	defer logger.DeferLogDuration("conv.GetByID", time.Now())()
	c, err := scanConversation(r.pool.QueryRow(ctx,
		`SELECT `+conversationCols+` FROM conversations WHERE id = $1 AND deleted_at IS NULL`, id))
	if errors.Is(err, ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("convRepo.GetByID: %w", err)
	}
	return c, nil
}

// FindDirect returns the active direct conversation holding exactly this
// unordered pair as active participants.
func (r *ConversationRepository) FindDirect(ctx context.Context, orgID, userA, userB string) (*model.Conversation, error) {
	defer logger.DeferLogDuration("conv.FindDirect", time.Now())()
	c, err := scanConversation(r.pool.QueryRow(ctx,
		`SELECT `+conversationCols+` FROM conversations c
		 WHERE c.org_id = $1 AND c.conv_type = 'direct' AND c.deleted_at IS NULL
		   AND EXISTS (SELECT 1 FROM conversation_participants WHERE conversation_id = c.id AND user_id = $2 AND left_at IS NULL)
		   AND EXISTS (SELECT 1 FROM conversation_participants WHERE conversation_id = c.id AND user_id = $3 AND left_at IS NULL)
		 ORDER BY c.created_at
		 LIMIT 1`,
		orgID, userA, userB))
	if errors.Is(err, ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("convRepo.FindDirect: %w", err)
	}
	return c, nil
}

// ListFilter narrows ListForUser.
type ListFilter struct {
	Type            model.ConversationType
	IncludeArchived bool
	Limit           int
	Offset          int
}

// ListForUser returns conversations where the user is an active participant,
// newest activity first. Conversations the user archived are excluded unless
// requested.
func (r *ConversationRepository) ListForUser(ctx context.Context, userID string, f ListFilter) ([]model.Conversation, error) {
	defer logger.DeferLogDuration("conv.ListForUser", time.Now())()
	sql := `SELECT c.id, c.org_id, c.conv_type, c.name, COALESCE(c.description,''), c.created_by, c.metadata, c.last_activity_at, c.deleted_at, c.created_at
		 FROM conversations c
		 JOIN conversation_participants cp ON cp.conversation_id = c.id AND cp.user_id = $1 AND cp.left_at IS NULL
		 WHERE c.deleted_at IS NULL`
	args := []any{userID}
	if !f.IncludeArchived {
		sql += ` AND cp.archived_at IS NULL`
	}
	if f.Type != "" {
		args = append(args, f.Type)
		sql += fmt.Sprintf(` AND c.conv_type = $%d`, len(args))
	}
	args = append(args, f.Limit, f.Offset)
	sql += fmt.Sprintf(` ORDER BY c.last_activity_at DESC LIMIT $%d OFFSET $%d`, len(args)-1, len(args))

	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("convRepo.ListForUser query: %w", err)
	}
	defer rows.Close()

	convs := make([]model.Conversation, 0, f.Limit)
	for rows.Next() {
		var c model.Conversation
		if err := rows.Scan(&c.ID, &c.OrgID, &c.Type, &c.Name, &c.Description, &c.CreatedBy,
			&c.Metadata, &c.LastActivityAt, &c.DeletedAt, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("convRepo.ListForUser scan: %w", err)
		}
		convs = append(convs, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("convRepo.ListForUser rows: %w", err)
	}
	return convs, nil
}

// Update sets name and description.
func (r *ConversationRepository) Update(ctx context.Context, id, name, description string) error {
	defer logger.DeferLogDuration("conv.Update", time.Now())()
	_, err := r.pool.Exec(ctx,
		`UPDATE conversations SET name = $1, description = $2 WHERE id = $3 AND deleted_at IS NULL`,
		name, description, id,
	)
	if err != nil {
		return fmt.Errorf("convRepo.Update: %w", err)
	}
	return nil
}

// TouchActivity moves the conversation to the top of the activity ordering.
func (r *ConversationRepository) TouchActivity(ctx context.Context, id string, t time.Time) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE conversations SET last_activity_at = $1 WHERE id = $2`, t, id,
	)
	if err != nil {
		return fmt.Errorf("convRepo.TouchActivity: %w", err)
	}
	return nil
}

// SoftDelete marks the conversation deleted.
func (r *ConversationRepository) SoftDelete(ctx context.Context, id string, t time.Time) error {
	defer logger.DeferLogDuration("conv.SoftDelete", time.Now())()
	_, err := r.pool.Exec(ctx,
		`UPDATE conversations SET deleted_at = $1 WHERE id = $2 AND deleted_at IS NULL`, t, id,
	)
	if err != nil {
		return fmt.Errorf("convRepo.SoftDelete: %w", err)
	}
	return nil
}

const participantCols = `conversation_id, user_id, role, joined_at, left_at, archived_at, unread_count, muted`

// GetParticipant returns the participant row regardless of left_at; callers
// decide whether past membership suffices.
func (r *ConversationRepository) GetParticipant(ctx context.Context, conversationID, userID string) (*model.Participant, error) {
	defer logger.DeferLogDuration("conv.GetParticipant", time.Now())()
	p := &model.Participant{}
	err := r.pool.QueryRow(ctx,
		`SELECT `+participantCols+` FROM conversation_participants
		 WHERE conversation_id = $1 AND user_id = $2`,
		conversationID, userID,
	).Scan(&p.ConversationID, &p.UserID, &p.Role, &p.JoinedAt, &p.LeftAt, &p.ArchivedAt, &p.UnreadCount, &p.Muted)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("convRepo.GetParticipant: %w", err)
	}
	return p, nil
}

// ActiveParticipants returns the active participant rows, oldest join first.
func (r *ConversationRepository) ActiveParticipants(ctx context.Context, conversationID string) ([]model.Participant, error) {
	defer logger.DeferLogDuration("conv.ActiveParticipants", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT `+participantCols+` FROM conversation_participants
		 WHERE conversation_id = $1 AND left_at IS NULL
		 ORDER BY joined_at, user_id`, conversationID,
	)
	if err != nil {
		return nil, fmt.Errorf("convRepo.ActiveParticipants query: %w", err)
	}
	defer rows.Close()

	parts := make([]model.Participant, 0, 8)
	for rows.Next() {
		var p model.Participant
		if err := rows.Scan(&p.ConversationID, &p.UserID, &p.Role, &p.JoinedAt, &p.LeftAt, &p.ArchivedAt, &p.UnreadCount, &p.Muted); err != nil {
			return nil, fmt.Errorf("convRepo.ActiveParticipants scan: %w", err)
		}
		parts = append(parts, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("convRepo.ActiveParticipants rows: %w", err)
	}
	return parts, nil
}

// AddParticipants inserts participant rows. A user who previously left is
// re-activated in place, keeping the row's primary key stable.
func (r *ConversationRepository) AddParticipants(ctx context.Context, parts []model.Participant) error {
	defer logger.DeferLogDuration("conv.AddParticipants", time.Now())()
	for _, p := range parts {
		_, err := r.pool.Exec(ctx,
			`INSERT INTO conversation_participants (conversation_id, user_id, role, joined_at, muted)
			 VALUES ($1, $2, $3, $4, $5)
			 ON CONFLICT (conversation_id, user_id) DO UPDATE
			 SET role = EXCLUDED.role, joined_at = EXCLUDED.joined_at, left_at = NULL, unread_count = 0
			 WHERE conversation_participants.left_at IS NOT NULL`,
			p.ConversationID, p.UserID, p.Role, p.JoinedAt, p.Muted,
		)
		if err != nil {
			return fmt.Errorf("convRepo.AddParticipants: %w", err)
		}
	}
	return nil
}

// SetArchived sets or clears the caller's own archived_at.
func (r *ConversationRepository) SetArchived(ctx context.Context, conversationID, userID string, archived bool, t time.Time) error {
	defer logger.DeferLogDuration("conv.SetArchived", time.Now())()
	var at *time.Time
	if archived {
		at = &t
	}
	tag, err := r.pool.Exec(ctx,
		`UPDATE conversation_participants SET archived_at = $1
		 WHERE conversation_id = $2 AND user_id = $3 AND left_at IS NULL`,
		at, conversationID, userID,
	)
	if err != nil {
		return fmt.Errorf("convRepo.SetArchived: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetMuted sets the caller's own mute flag.
func (r *ConversationRepository) SetMuted(ctx context.Context, conversationID, userID string, muted bool) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE conversation_participants SET muted = $1
		 WHERE conversation_id = $2 AND user_id = $3 AND left_at IS NULL`,
		muted, conversationID, userID,
	)
	if err != nil {
		return fmt.Errorf("convRepo.SetMuted: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// LeaveOutcome reports what the departure transaction decided.
type LeaveOutcome struct {
	// PromotedUserID is set when the sole admin left and another active
	// participant was promoted.
	PromotedUserID string
	// ConversationDeleted is true when no active participants remained and
	// the conversation was soft-deleted.
	ConversationDeleted bool
}

// Leave removes the participant and applies the departure transition in one
// transaction: two racing "last admin leaves" calls serialize on the row
// locks, so the conversation can neither end up with zero admins nor with
// two promotions.
func (r *ConversationRepository) Leave(ctx context.Context, conversationID, userID string, now time.Time) (LeaveOutcome, error) {
	defer logger.DeferLogDuration("conv.Leave", time.Now())()
	var out LeaveOutcome

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return out, fmt.Errorf("convRepo.Leave begin: %w", err)
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx,
		`SELECT user_id, role FROM conversation_participants
		 WHERE conversation_id = $1 AND left_at IS NULL
		 ORDER BY joined_at, user_id
		 FOR UPDATE`, conversationID,
	)
	if err != nil {
		return out, fmt.Errorf("convRepo.Leave lock: %w", err)
	}
	type row struct {
		userID string
		role   model.Role
	}
	var active []row
	for rows.Next() {
		var p row
		if err := rows.Scan(&p.userID, &p.role); err != nil {
			rows.Close()
			return out, fmt.Errorf("convRepo.Leave scan: %w", err)
		}
		active = append(active, p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return out, fmt.Errorf("convRepo.Leave rows: %w", err)
	}

	leavingIdx := -1
	admins := 0
	for i, p := range active {
		if p.role == model.RoleAdmin {
			admins++
		}
		if p.userID == userID {
			leavingIdx = i
		}
	}
	if leavingIdx == -1 {
		return out, ErrNotFound
	}

	if _, err := tx.Exec(ctx,
		`UPDATE conversation_participants SET left_at = $1
		 WHERE conversation_id = $2 AND user_id = $3`,
		now, conversationID, userID,
	); err != nil {
		return out, fmt.Errorf("convRepo.Leave update: %w", err)
	}

	wasSoleAdmin := active[leavingIdx].role == model.RoleAdmin && admins == 1
	remaining := len(active) - 1

	switch model.DepartureTransition(wasSoleAdmin, remaining) {
	case model.DeparturePromoteOldest:
		for _, p := range active {
			if p.userID == userID {
				continue
			}
			if _, err := tx.Exec(ctx,
				`UPDATE conversation_participants SET role = $1
				 WHERE conversation_id = $2 AND user_id = $3`,
				model.RoleAdmin, conversationID, p.userID,
			); err != nil {
				return out, fmt.Errorf("convRepo.Leave promote: %w", err)
			}
			out.PromotedUserID = p.userID
			break
		}
	case model.DepartureDeleteConversation:
		if _, err := tx.Exec(ctx,
			`UPDATE conversations SET deleted_at = $1 WHERE id = $2 AND deleted_at IS NULL`,
			now, conversationID,
		); err != nil {
			return out, fmt.Errorf("convRepo.Leave delete conversation: %w", err)
		}
		out.ConversationDeleted = true
	}

	if err := tx.Commit(ctx); err != nil {
		return out, fmt.Errorf("convRepo.Leave commit: %w", err)
	}
	return out, nil
}

// IncrementUnread bumps the unread counter of every active participant
// except the sender.
func (r *ConversationRepository) IncrementUnread(ctx context.Context, conversationID, senderID string) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE conversation_participants SET unread_count = unread_count + 1
		 WHERE conversation_id = $1 AND user_id != $2 AND left_at IS NULL`,
		conversationID, senderID,
	)
	if err != nil {
		return fmt.Errorf("convRepo.IncrementUnread: %w", err)
	}
	return nil
}

// RecomputeUnread recounts messages the user has no receipt for and stores
// the result on the participant row, returning the fresh count.
func (r *ConversationRepository) RecomputeUnread(ctx context.Context, conversationID, userID string) (int, error) {
	defer logger.DeferLogDuration("conv.RecomputeUnread", time.Now())()
	var count int
	err := r.pool.QueryRow(ctx,
		`UPDATE conversation_participants cp SET unread_count = (
			SELECT COUNT(*) FROM messages m
			WHERE m.conversation_id = cp.conversation_id
			  AND m.sender_id != cp.user_id
			  AND m.deleted_at IS NULL
			  AND NOT EXISTS (
				SELECT 1 FROM message_read_receipts rr
				WHERE rr.message_id = m.id AND rr.user_id = cp.user_id
			  )
		 )
		 WHERE cp.conversation_id = $1 AND cp.user_id = $2
		 RETURNING cp.unread_count`,
		conversationID, userID,
	).Scan(&count)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("convRepo.RecomputeUnread: %w", err)
	}
	return count, nil
}

// TotalUnread sums the user's unread counters across active conversations.
func (r *ConversationRepository) TotalUnread(ctx context.Context, userID string) (int, error) {
	var total int
	err := r.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(cp.unread_count), 0)
		 FROM conversation_participants cp
		 JOIN conversations c ON c.id = cp.conversation_id AND c.deleted_at IS NULL
		 WHERE cp.user_id = $1 AND cp.left_at IS NULL`,
		userID,
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("convRepo.TotalUnread: %w", err)
	}
	return total, nil
}
