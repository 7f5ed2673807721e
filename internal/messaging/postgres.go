// internal/messaging/postgres.go

package messaging

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// Schema creates the message table used by the Postgres repository
const Schema = `
CREATE TABLE IF NOT EXISTS chat_messages (
    id              BIGSERIAL PRIMARY KEY,
    client_key      TEXT UNIQUE,
    sender_id       TEXT NOT NULL,
    receiver_id     TEXT NOT NULL,
    body            TEXT NOT NULL DEFAULT '',
    created_at      TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
    delivered_at    TIMESTAMPTZ,
    read_at         TIMESTAMPTZ,
    reply_to_id     TEXT,
    attachment_url  TEXT,
    attachment_type TEXT,
    attachment_name TEXT,
    attachment_size BIGINT,
    voice_duration  DOUBLE PRECISION
);

CREATE INDEX IF NOT EXISTS idx_chat_messages_direction
    ON chat_messages (sender_id, receiver_id, created_at DESC);
`

const messageColumns = `
    id::text AS id, COALESCE(client_key, '') AS client_key, sender_id, receiver_id,
    body, created_at, delivered_at, read_at, reply_to_id,
    attachment_url, attachment_type, attachment_name, attachment_size, voice_duration`

// messageRow is the nullable column layout of chat_messages
type messageRow struct {
	ID          string          `db:"id"`
	ClientKey   string          `db:"client_key"`
	SenderID    string          `db:"sender_id"`
	ReceiverID  string          `db:"receiver_id"`
	Body        string          `db:"body"`
	CreatedAt   time.Time       `db:"created_at"`
	DeliveredAt *time.Time      `db:"delivered_at"`
	ReadAt      *time.Time      `db:"read_at"`
	ReplyToID   *string         `db:"reply_to_id"`
	URL         sql.NullString  `db:"attachment_url"`
	Type        sql.NullString  `db:"attachment_type"`
	Name        sql.NullString  `db:"attachment_name"`
	Size        sql.NullInt64   `db:"attachment_size"`
	Duration    sql.NullFloat64 `db:"voice_duration"`
}

func (r *messageRow) toMessage() *Message {
	msg := &Message{
		ID:          r.ID,
		ClientKey:   r.ClientKey,
		SenderID:    r.SenderID,
		ReceiverID:  r.ReceiverID,
		Body:        r.Body,
		CreatedAt:   r.CreatedAt,
		DeliveredAt: r.DeliveredAt,
		ReadAt:      r.ReadAt,
		ReplyToID:   r.ReplyToID,
	}
	if r.URL.Valid {
		msg.Attachment = &Attachment{
			Location: r.URL.String,
			Kind:     AttachmentKind(r.Type.String),
			Filename: r.Name.String,
			Size:     r.Size.Int64,
			Duration: r.Duration.Float64,
		}
	}
	return msg
}

// PostgresRepository stores messages in Postgres through sqlx
type PostgresRepository struct {
	db *sqlx.DB
}

// NewPostgresRepository returns a Repository over the chat_messages table
func NewPostgresRepository(db *sqlx.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Migrate creates the schema if it does not exist
func (r *PostgresRepository) Migrate(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("failed to migrate chat schema: %w", err)
	}
	return nil
}

// Insert creates a message. A repeated client_key returns the stored row.
func (r *PostgresRepository) Insert(ctx context.Context, msg *Message) (*Message, error) {
	var (
		url, kind, name sql.NullString
		size            sql.NullInt64
		duration        sql.NullFloat64
		clientKey       sql.NullString
	)
	if msg.Attachment != nil {
		url = sql.NullString{String: msg.Attachment.Location, Valid: true}
		kind = sql.NullString{String: string(msg.Attachment.Kind), Valid: true}
		name = sql.NullString{String: msg.Attachment.Filename, Valid: msg.Attachment.Filename != ""}
		size = sql.NullInt64{Int64: msg.Attachment.Size, Valid: msg.Attachment.Size > 0}
		duration = sql.NullFloat64{Float64: msg.Attachment.Duration, Valid: msg.Attachment.Duration > 0}
	}
	if msg.ClientKey != "" {
		clientKey = sql.NullString{String: msg.ClientKey, Valid: true}
	}
	createdAt := msg.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	query := `
        INSERT INTO chat_messages (
            client_key, sender_id, receiver_id, body, created_at,
            reply_to_id, attachment_url, attachment_type, attachment_name,
            attachment_size, voice_duration
        ) VALUES (
            $1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11
        )
        ON CONFLICT (client_key) DO UPDATE SET client_key = EXCLUDED.client_key
        RETURNING` + messageColumns

	var row messageRow
	err := r.db.QueryRowxContext(
		ctx, query,
		clientKey, msg.SenderID, msg.ReceiverID, msg.Body, createdAt,
		msg.ReplyToID, url, kind, name, size, duration,
	).StructScan(&row)
	if err != nil {
		return nil, classify("insert message", err)
	}

	return row.toMessage(), nil
}

// SelectRange returns matching messages ordered by created_at ascending
func (r *PostgresRepository) SelectRange(ctx context.Context, filter Filter) ([]*Message, error) {
	var (
		where []string
		args  []interface{}
	)
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.Pair.A != "" {
		a, b := arg(filter.Pair.A), arg(filter.Pair.B)
		where = append(where, fmt.Sprintf(
			"((sender_id = %s AND receiver_id = %s) OR (sender_id = %s AND receiver_id = %s))", a, b, b, a))
	}
	if filter.SenderID != "" {
		where = append(where, "sender_id = "+arg(filter.SenderID))
	}
	if filter.ReceiverID != "" {
		where = append(where, "receiver_id = "+arg(filter.ReceiverID))
	}
	if filter.UnreadOnly {
		where = append(where, "read_at IS NULL")
	}
	if len(where) == 0 {
		return nil, Permanent("select messages", errors.New("unbounded select"))
	}

	query := fmt.Sprintf(`
        SELECT * FROM (
            SELECT %s
            FROM chat_messages
            WHERE %s
            ORDER BY created_at DESC, chat_messages.id DESC
            LIMIT NULLIF(%s::int, 0)
        ) recent
        ORDER BY created_at ASC, id::bigint ASC`,
		messageColumns, strings.Join(where, " AND "), arg(filter.Limit))

	var rows []messageRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, classify("select messages", err)
	}

	messages := make([]*Message, 0, len(rows))
	for i := range rows {
		messages = append(messages, rows[i].toMessage())
	}
	return messages, nil
}

// FindByIDs loads the given messages
func (r *PostgresRepository) FindByIDs(ctx context.Context, ids []string) ([]*Message, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	query := `SELECT` + messageColumns + `
        FROM chat_messages
        WHERE id::text = ANY($1::text[])
        ORDER BY created_at ASC, chat_messages.id ASC`

	var rows []messageRow
	if err := r.db.SelectContext(ctx, &rows, query, pq.Array(ids)); err != nil {
		return nil, classify("find messages", err)
	}

	messages := make([]*Message, 0, len(rows))
	for i := range rows {
		messages = append(messages, rows[i].toMessage())
	}
	return messages, nil
}

// UpdateMany fills delivered_at/read_at on the given ids where still null
func (r *PostgresRepository) UpdateMany(ctx context.Context, ids []string, fields Fields) error {
	if len(ids) == 0 || (fields.ReadAt == nil && fields.DeliveredAt == nil) {
		return nil
	}

	query := `
        UPDATE chat_messages
        SET read_at = COALESCE(read_at, $2::timestamptz),
            delivered_at = COALESCE(delivered_at, $3::timestamptz)
        WHERE id::text = ANY($1::text[])`

	_, err := r.db.ExecContext(ctx, query, pq.Array(ids), fields.ReadAt, fields.DeliveredAt)
	return classify("update messages", err)
}

// DeleteWhere deletes every message sent from pred.SenderID to pred.ReceiverID
func (r *PostgresRepository) DeleteWhere(ctx context.Context, pred Predicate) error {
	if pred.SenderID == "" || pred.ReceiverID == "" {
		return Permanent("delete messages", errors.New("sender and receiver are required"))
	}

	query := `DELETE FROM chat_messages WHERE sender_id = $1 AND receiver_id = $2`
	_, err := r.db.ExecContext(ctx, query, pred.SenderID, pred.ReceiverID)
	return classify("delete messages", err)
}

// DeletePair deletes both directions in one transaction
func (r *PostgresRepository) DeletePair(ctx context.Context, pair Pair) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return classify("delete conversation", err)
	}
	defer tx.Rollback()

	query := `DELETE FROM chat_messages WHERE sender_id = $1 AND receiver_id = $2`
	if _, err := tx.ExecContext(ctx, query, pair.A, pair.B); err != nil {
		return classify("delete conversation", err)
	}
	if _, err := tx.ExecContext(ctx, query, pair.B, pair.A); err != nil {
		return classify("delete conversation", err)
	}

	return classify("delete conversation", tx.Commit())
}

// classify marks data and constraint errors permanent; everything else may
// succeed on retry
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code.Class() {
		case "22", "23", "42":
			return Permanent(op, err)
		}
	}
	return Transient(op, err)
}
