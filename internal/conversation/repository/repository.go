package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"conversation_backend/internal/conversation/domain"
	"conversation_backend/platform/apperr"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	conversationNotFoundMessage = "conversation not found"

	pgUniqueViolation = "23505"

	activeSessionIndex   = "conversations_active_session_key_idx"
	providerMessageIndex = "conversation_messages_provider_id_idx"

	conversationColumns = `id, tenant_id, assigned_user_id, channel, session_key, from_addr, to_addr, status,
		started_at, updated_at, ended_at, expires_at, context, metadata`
	messageColumns = `id, conversation_id, tenant_id, direction, role, body, media_refs, provider_message_id,
		metadata, created_at`
)

// Repo implements the Repository interface with PostgreSQL.
type Repo struct {
	pool *pgxpool.Pool
}

// New creates a new conversation repository.
func New(pool *pgxpool.Pool) *Repo {
	return &Repo{pool: pool}
}

// Compile-time check that Repo implements Repository.
var _ Repository = (*Repo)(nil)

type rowScanner interface {
	Scan(dest ...any) error
}

// GetByID retrieves a conversation by its ID.
func (r *Repo) GetByID(ctx context.Context, tenantID, id uuid.UUID) (domain.Conversation, error) {
	query := `SELECT ` + conversationColumns + `
		FROM conversations
		WHERE id = $1 AND tenant_id = $2`

	conv, err := scanConversation(r.pool.QueryRow(ctx, query, id, tenantID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Conversation{}, apperr.NotFound(conversationNotFoundMessage)
		}
		return domain.Conversation{}, fmt.Errorf("get conversation by id: %w", err)
	}
	return conv, nil
}

// FindActiveBySessionKey returns the active conversation for a session key,
// or nil when there is none.
func (r *Repo) FindActiveBySessionKey(ctx context.Context, tenantID uuid.UUID, key domain.SessionKey) (*domain.Conversation, error) {
	query := `SELECT ` + conversationColumns + `
		FROM conversations
		WHERE tenant_id = $1 AND session_key = $2 AND status = ANY($3)
		ORDER BY started_at DESC
		LIMIT 1`

	conv, err := scanConversation(r.pool.QueryRow(ctx, query, tenantID, string(key), activeStatuses()))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find active conversation by session key: %w", err)
	}
	return &conv, nil
}

// FindExpired returns active conversations whose deadline is at or before now.
func (r *Repo) FindExpired(ctx context.Context, now time.Time, limit int) ([]domain.Conversation, error) {
	query := `SELECT ` + conversationColumns + `
		FROM conversations
		WHERE status = ANY($1) AND expires_at IS NOT NULL AND expires_at <= $2
		ORDER BY expires_at ASC
		LIMIT $3`

	rows, err := r.pool.Query(ctx, query, activeStatuses(), now, limit)
	if err != nil {
		return nil, fmt.Errorf("find expired conversations: %w", err)
	}
	defer rows.Close()

	return scanConversations(rows)
}

// FindIdle returns progress conversations not updated since cutoff.
func (r *Repo) FindIdle(ctx context.Context, cutoff time.Time, limit int) ([]domain.Conversation, error) {
	query := `SELECT ` + conversationColumns + `
		FROM conversations
		WHERE status = $1 AND updated_at < $2
		ORDER BY updated_at ASC
		LIMIT $3`

	rows, err := r.pool.Query(ctx, query, string(domain.StatusProgress), cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("find idle conversations: %w", err)
	}
	defer rows.Close()

	return scanConversations(rows)
}

// List retrieves conversations for a tenant, newest first.
func (r *Repo) List(ctx context.Context, params ListParams) ([]domain.Conversation, int, error) {
	var statusParam any
	if params.Status != nil {
		statusParam = string(*params.Status)
	}
	var activeParam any
	if params.ActiveOnly {
		activeParam = activeStatuses()
	}
	var assignedParam any
	if params.AssignedUserID != nil {
		assignedParam = *params.AssignedUserID
	}

	args := []any{params.TenantID, statusParam, activeParam, assignedParam}

	countQuery := `
		SELECT COUNT(*)
		FROM conversations
		WHERE tenant_id = $1
			AND ($2::text IS NULL OR status = $2)
			AND ($3::text[] IS NULL OR status = ANY($3))
			AND ($4::uuid IS NULL OR assigned_user_id = $4)`

	var total int
	if err := r.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count conversations: %w", err)
	}

	query := `SELECT ` + conversationColumns + `
		FROM conversations
		WHERE tenant_id = $1
			AND ($2::text IS NULL OR status = $2)
			AND ($3::text[] IS NULL OR status = ANY($3))
			AND ($4::uuid IS NULL OR assigned_user_id = $4)
		ORDER BY started_at DESC
		LIMIT $5 OFFSET $6`

	args = append(args, params.Limit, params.Offset)
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	items, err := scanConversations(rows)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

// Create inserts a conversation and its initial history row.
// Returns ErrActiveConflict when another active conversation holds the key.
func (r *Repo) Create(ctx context.Context, conv domain.Conversation, audit CreateAudit) (domain.Conversation, error) {
	contextJSON, err := domain.MarshalContext(conv.Context)
	if err != nil {
		return domain.Conversation{}, fmt.Errorf("encode conversation context: %w", err)
	}
	metadataJSON, err := marshalMap(conv.Metadata)
	if err != nil {
		return domain.Conversation{}, fmt.Errorf("encode conversation metadata: %w", err)
	}

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return domain.Conversation{}, fmt.Errorf("begin create conversation: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	query := `
		INSERT INTO conversations (id, tenant_id, assigned_user_id, channel, session_key, from_addr, to_addr, status,
			started_at, updated_at, ended_at, expires_at, context, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13::jsonb, $14::jsonb)
		RETURNING ` + conversationColumns

	created, err := scanConversation(tx.QueryRow(ctx, query,
		conv.ID, conv.TenantID, conv.AssignedUserID, conv.Channel, string(conv.SessionKey), conv.FromAddr, conv.ToAddr,
		string(conv.Status), conv.StartedAt, conv.UpdatedAt, conv.EndedAt, conv.ExpiresAt, string(contextJSON), metadataJSON,
	))
	if err != nil {
		if isUniqueViolation(err, activeSessionIndex) {
			return domain.Conversation{}, ErrActiveConflict
		}
		return domain.Conversation{}, fmt.Errorf("create conversation: %w", err)
	}

	if err := insertHistory(ctx, tx, historyRow{
		conversationID: created.ID,
		tenantID:       created.TenantID,
		to:             created.Status,
		initiatedBy:    audit.InitiatedBy,
		reason:         audit.Reason,
		metadata:       audit.Metadata,
		at:             created.StartedAt,
	}); err != nil {
		return domain.Conversation{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.Conversation{}, fmt.Errorf("commit create conversation: %w", err)
	}
	return created, nil
}

// UpdateStatus applies a compare-and-set status change and appends the
// history row in the same transaction.
func (r *Repo) UpdateStatus(ctx context.Context, update StatusUpdate) (domain.Conversation, error) {
	var contextParam any
	if update.Context != nil {
		encoded, err := domain.MarshalContext(*update.Context)
		if err != nil {
			return domain.Conversation{}, fmt.Errorf("encode conversation context: %w", err)
		}
		contextParam = string(encoded)
	}

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return domain.Conversation{}, fmt.Errorf("begin update status: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	query := `
		UPDATE conversations
		SET status = $4,
			ended_at = $5,
			expires_at = CASE WHEN $6::boolean THEN expires_at ELSE $7::timestamptz END,
			context = ` + mergeContextSQL("$8") + `,
			updated_at = $9
		WHERE id = $1 AND tenant_id = $2 AND status = $3
			AND ($10::timestamptz IS NULL OR updated_at < $10)
			AND ($11::timestamptz IS NULL OR (expires_at IS NOT NULL AND expires_at <= $11))
		RETURNING ` + conversationColumns

	updated, err := scanConversation(tx.QueryRow(ctx, query,
		update.ConversationID, update.TenantID, string(update.ExpectedStatus), string(update.NewStatus),
		update.EndedAt, update.KeepExpiry, update.ExpiresAt, contextParam, update.At, update.UpdatedBefore,
		update.ExpiresBefore,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Conversation{}, r.missOrConflict(ctx, tx, update.TenantID, update.ConversationID)
		}
		return domain.Conversation{}, fmt.Errorf("update conversation status: %w", err)
	}

	from := update.ExpectedStatus
	if err := insertHistory(ctx, tx, historyRow{
		conversationID: updated.ID,
		tenantID:       updated.TenantID,
		from:           &from,
		to:             update.NewStatus,
		initiatedBy:    update.InitiatedBy,
		reason:         update.Reason,
		metadata:       update.HistoryMetadata,
		at:             update.At,
	}); err != nil {
		return domain.Conversation{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.Conversation{}, fmt.Errorf("commit update status: %w", err)
	}
	return updated, nil
}

// mergeContextSQL is the JSONB expression that merges the patch bound to
// param into the stored context: arrays append, the extra object merges per
// key, and any other key replaces the stored value. A NULL patch leaves the
// context untouched. domain.ConversationContext.Merge is the Go equivalent.
func mergeContextSQL(param string) string {
	return `context || COALESCE((
		SELECT jsonb_object_agg(p.key, CASE
			WHEN jsonb_typeof(p.value) = 'array' AND jsonb_typeof(conversations.context -> p.key) = 'array'
				THEN (conversations.context -> p.key) || p.value
			WHEN p.key = 'extra' AND jsonb_typeof(conversations.context -> p.key) = 'object'
				THEN (conversations.context -> p.key) || p.value
			ELSE p.value END)
		FROM jsonb_each(` + param + `::jsonb) AS p
	), '{}'::jsonb)`
}

// UpdateContext merges patch into the stored context.
func (r *Repo) UpdateContext(ctx context.Context, tenantID, id uuid.UUID, patch domain.ConversationContext) (domain.Conversation, error) {
	encoded, err := domain.MarshalContext(patch)
	if err != nil {
		return domain.Conversation{}, fmt.Errorf("encode conversation context: %w", err)
	}

	query := `
		UPDATE conversations
		SET context = ` + mergeContextSQL("$3") + `
		WHERE id = $1 AND tenant_id = $2
		RETURNING ` + conversationColumns

	return r.updateOne(ctx, "update conversation context", query, id, tenantID, string(encoded))
}

// UpdateExpiry sets a new deadline and merges patch into the context.
func (r *Repo) UpdateExpiry(ctx context.Context, tenantID, id uuid.UUID, expiresAt *time.Time, patch domain.ConversationContext) (domain.Conversation, error) {
	encoded, err := domain.MarshalContext(patch)
	if err != nil {
		return domain.Conversation{}, fmt.Errorf("encode conversation context: %w", err)
	}

	query := `
		UPDATE conversations
		SET expires_at = $3, context = ` + mergeContextSQL("$4") + `
		WHERE id = $1 AND tenant_id = $2 AND status = ANY($5)
		RETURNING ` + conversationColumns

	return r.updateOne(ctx, "update conversation expiry", query, id, tenantID, expiresAt, string(encoded), activeStatuses())
}

// UpdateAssignment sets the assigned user and merges patch into the context.
func (r *Repo) UpdateAssignment(ctx context.Context, tenantID, id uuid.UUID, userID *uuid.UUID, patch domain.ConversationContext) (domain.Conversation, error) {
	encoded, err := domain.MarshalContext(patch)
	if err != nil {
		return domain.Conversation{}, fmt.Errorf("encode conversation context: %w", err)
	}

	query := `
		UPDATE conversations
		SET assigned_user_id = $3, context = ` + mergeContextSQL("$4") + `
		WHERE id = $1 AND tenant_id = $2
		RETURNING ` + conversationColumns

	return r.updateOne(ctx, "update conversation assignment", query, id, tenantID, userID, string(encoded))
}

// TouchActivity records message activity on a conversation.
func (r *Repo) TouchActivity(ctx context.Context, tenantID, id uuid.UUID, at time.Time, expiresAt *time.Time) (domain.Conversation, error) {
	query := `
		UPDATE conversations
		SET updated_at = GREATEST(updated_at, $3),
			expires_at = CASE WHEN status = ANY($5) AND $4::timestamptz IS NOT NULL THEN $4 ELSE expires_at END
		WHERE id = $1 AND tenant_id = $2
		RETURNING ` + conversationColumns

	return r.updateOne(ctx, "touch conversation", query, id, tenantID, at, expiresAt, activeStatuses())
}

// AppendMessage stores a transcript entry.
func (r *Repo) AppendMessage(ctx context.Context, msg domain.Message) (domain.Message, error) {
	metadataJSON, err := marshalMap(msg.Metadata)
	if err != nil {
		return domain.Message{}, fmt.Errorf("encode message metadata: %w", err)
	}
	mediaRefs := msg.MediaRefs
	if mediaRefs == nil {
		mediaRefs = []string{}
	}

	query := `
		INSERT INTO conversation_messages (` + messageColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9::jsonb, $10)
		RETURNING ` + messageColumns

	stored, err := scanMessage(r.pool.QueryRow(ctx, query,
		msg.ID, msg.ConversationID, msg.TenantID, string(msg.Direction), string(msg.Role), msg.Body, mediaRefs,
		msg.ProviderMessageID, metadataJSON, msg.CreatedAt,
	))
	if err != nil {
		if isUniqueViolation(err, providerMessageIndex) {
			return domain.Message{}, ErrDuplicateMessage
		}
		return domain.Message{}, fmt.Errorf("append message: %w", err)
	}
	return stored, nil
}

// ListMessages returns the latest limit messages in chronological order.
func (r *Repo) ListMessages(ctx context.Context, tenantID, conversationID uuid.UUID, limit int) ([]domain.Message, error) {
	query := `
		SELECT ` + messageColumns + ` FROM (
			SELECT ` + messageColumns + `
			FROM conversation_messages
			WHERE conversation_id = $1 AND tenant_id = $2
			ORDER BY created_at DESC, id DESC
			LIMIT $3
		) recent
		ORDER BY created_at ASC, id ASC`

	rows, err := r.pool.Query(ctx, query, conversationID, tenantID, limit)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var items []domain.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		items = append(items, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return items, nil
}

// ListHistory returns the status audit trail, oldest first.
func (r *Repo) ListHistory(ctx context.Context, tenantID, conversationID uuid.UUID) ([]domain.StateHistory, error) {
	query := `
		SELECT id, conversation_id, from_status, to_status, initiated_by, reason, metadata, created_at
		FROM conversation_state_history
		WHERE conversation_id = $1 AND tenant_id = $2
		ORDER BY created_at ASC, id ASC`

	rows, err := r.pool.Query(ctx, query, conversationID, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	defer rows.Close()

	var items []domain.StateHistory
	for rows.Next() {
		var h domain.StateHistory
		var from *string
		var to, initiatedBy string
		var metadataJSON []byte
		if err := rows.Scan(&h.ID, &h.ConversationID, &from, &to, &initiatedBy, &h.Reason, &metadataJSON, &h.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		if from != nil {
			status := domain.ConversationStatus(*from)
			h.FromStatus = &status
		}
		h.ToStatus = domain.ConversationStatus(to)
		h.InitiatedBy = domain.Role(initiatedBy)
		if h.Metadata, err = unmarshalMap(metadataJSON); err != nil {
			return nil, fmt.Errorf("decode history metadata: %w", err)
		}
		items = append(items, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history: %w", err)
	}
	return items, nil
}

func (r *Repo) updateOne(ctx context.Context, op, query string, args ...any) (domain.Conversation, error) {
	conv, err := scanConversation(r.pool.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Conversation{}, apperr.NotFound(conversationNotFoundMessage)
		}
		return domain.Conversation{}, fmt.Errorf("%s: %w", op, err)
	}
	return conv, nil
}

func (r *Repo) missOrConflict(ctx context.Context, tx pgx.Tx, tenantID, id uuid.UUID) error {
	var exists bool
	err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM conversations WHERE id = $1 AND tenant_id = $2)`, id, tenantID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check conversation exists: %w", err)
	}
	if !exists {
		return apperr.NotFound(conversationNotFoundMessage)
	}
	return ErrStatusConflict
}

type historyRow struct {
	conversationID uuid.UUID
	tenantID       uuid.UUID
	from           *domain.ConversationStatus
	to             domain.ConversationStatus
	initiatedBy    domain.Role
	reason         string
	metadata       map[string]any
	at             time.Time
}

func insertHistory(ctx context.Context, tx pgx.Tx, row historyRow) error {
	metadataJSON, err := marshalMap(row.metadata)
	if err != nil {
		return fmt.Errorf("encode history metadata: %w", err)
	}
	var from any
	if row.from != nil {
		from = string(*row.from)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO conversation_state_history
			(id, conversation_id, tenant_id, from_status, to_status, initiated_by, reason, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8::jsonb, $9)`,
		domain.NewID(), row.conversationID, row.tenantID, from, string(row.to), string(row.initiatedBy),
		row.reason, metadataJSON, row.at,
	)
	if err != nil {
		return fmt.Errorf("insert state history: %w", err)
	}
	return nil
}

func scanConversation(row rowScanner) (domain.Conversation, error) {
	var c domain.Conversation
	var sessionKey, status string
	var contextJSON, metadataJSON []byte

	if err := row.Scan(
		&c.ID, &c.TenantID, &c.AssignedUserID, &c.Channel, &sessionKey, &c.FromAddr, &c.ToAddr, &status,
		&c.StartedAt, &c.UpdatedAt, &c.EndedAt, &c.ExpiresAt, &contextJSON, &metadataJSON,
	); err != nil {
		return domain.Conversation{}, err
	}

	c.SessionKey = domain.SessionKey(sessionKey)
	c.Status = domain.ConversationStatus(status)

	var err error
	if c.Context, err = domain.UnmarshalContext(contextJSON); err != nil {
		return domain.Conversation{}, fmt.Errorf("decode conversation context: %w", err)
	}
	if c.Metadata, err = unmarshalMap(metadataJSON); err != nil {
		return domain.Conversation{}, fmt.Errorf("decode conversation metadata: %w", err)
	}
	return c, nil
}

func scanConversations(rows pgx.Rows) ([]domain.Conversation, error) {
	var items []domain.Conversation
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		items = append(items, conv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate conversations: %w", err)
	}
	return items, nil
}

func scanMessage(row rowScanner) (domain.Message, error) {
	var m domain.Message
	var direction, role string
	var metadataJSON []byte

	if err := row.Scan(
		&m.ID, &m.ConversationID, &m.TenantID, &direction, &role, &m.Body, &m.MediaRefs, &m.ProviderMessageID,
		&metadataJSON, &m.CreatedAt,
	); err != nil {
		return domain.Message{}, err
	}
	m.Direction = domain.Direction(direction)
	m.Role = domain.Role(role)

	var err error
	if m.Metadata, err = unmarshalMap(metadataJSON); err != nil {
		return domain.Message{}, fmt.Errorf("decode message metadata: %w", err)
	}
	return m, nil
}

func activeStatuses() []string {
	return domain.StatusStrings(domain.ActiveStatuses())
}

func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation && pgErr.ConstraintName == constraint
}

func marshalMap(m map[string]any) (string, error) {
	if len(m) == 0 {
		return "{}", nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func unmarshalMap(data []byte) (map[string]any, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}
