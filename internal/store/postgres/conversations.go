package postgres

import (
	"context"
	"database/sql"
	"errors"
	"hash/fnv"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/callhub/signalhub/internal/store"
)

type conversationStore struct {
	db *sqlx.DB
}

func lockKeyFor(convoID string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(convoID))
	return int64(h.Sum64())
}

type conversationRow struct {
	ID             string         `db:"id"`
	Type           string         `db:"type"`
	Participants   pq.StringArray `db:"participants"`
	CreatedAt      time.Time      `db:"created_at"`
	LastMessageSeq int64          `db:"last_message_seq"`
}

func (r conversationRow) toDomain() *store.Conversation {
	return &store.Conversation{
		ID:             r.ID,
		Type:           store.ConversationType(r.Type),
		Participants:   []string(r.Participants),
		CreatedAt:      r.CreatedAt,
		LastMessageSeq: r.LastMessageSeq,
	}
}

func (s *conversationStore) GetOrCreate(ctx context.Context, conv *store.Conversation) (*store.Conversation, error) {
	var r conversationRow
	err := s.db.GetContext(ctx, &r, `
		INSERT INTO conversations (id, type, participants)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET id = conversations.id
		RETURNING id, type, participants, created_at, last_message_seq`,
		conv.ID, string(conv.Type), pq.StringArray(conv.Participants))
	if err != nil {
		return nil, err
	}
	return r.toDomain(), nil
}

func (s *conversationStore) Get(ctx context.Context, id string) (*store.Conversation, bool, error) {
	var r conversationRow
	err := s.db.GetContext(ctx, &r, `
		SELECT id, type, participants, created_at, last_message_seq FROM conversations WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return r.toDomain(), true, nil
}

func (s *conversationStore) ListForParticipant(ctx context.Context, address string) ([]*store.Conversation, error) {
	var rows []conversationRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, type, participants, created_at, last_message_seq FROM conversations
		WHERE $1 = ANY(participants)`, address)
	if err != nil {
		return nil, err
	}
	out := make([]*store.Conversation, len(rows))
	for i, r := range rows {
		out[i] = r.toDomain()
	}
	return out, nil
}

type messageRow struct {
	ID              string    `db:"id"`
	ConvoID         string    `db:"convo_id"`
	FromAddress     string    `db:"from_address"`
	ToAddress       string    `db:"to_address"`
	Content         []byte    `db:"content"`
	MediaType       string    `db:"media_type"`
	Seq             int64     `db:"seq"`
	ServerTimestamp time.Time `db:"server_timestamp"`
	Status          string    `db:"status"`
}

func (r messageRow) toDomain() *store.Message {
	return &store.Message{
		ID:              r.ID,
		ConvoID:         r.ConvoID,
		FromAddress:     r.FromAddress,
		ToAddress:       r.ToAddress,
		Content:         r.Content,
		MediaType:       r.MediaType,
		Seq:             r.Seq,
		ServerTimestamp: r.ServerTimestamp,
		Status:          store.MessageStatus(r.Status),
	}
}

const messageCols = `id, convo_id, from_address, to_address, content, media_type, seq, server_timestamp, status`

// AppendMessage implements Invariant I1 (dense, strictly increasing seq)
// by taking a transaction-scoped advisory lock on hash(convo_id) before
// reading the current max seq and inserting — the lock is released
// automatically at commit/rollback, so a crash mid-transaction can't
// leave it held. The UNIQUE (convo_id, seq) constraint is a backstop: if
// it fires anyway (e.g. a stale connection holding the advisory lock
// under a different session), the caller retries with
// store.ErrSeqConflict.
func (s *conversationStore) AppendMessage(ctx context.Context, msg *store.Message) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, lockKeyFor(msg.ConvoID)); err != nil {
		return err
	}

	var lastSeq int64
	var lastTS sql.NullTime
	err = tx.QueryRowContext(ctx, `
		SELECT seq, server_timestamp FROM messages WHERE convo_id = $1 ORDER BY seq DESC LIMIT 1`, msg.ConvoID).
		Scan(&lastSeq, &lastTS)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return err
	}

	msg.Seq = lastSeq + 1
	now := time.Now()
	if lastTS.Valid && now.Before(lastTS.Time) {
		now = lastTS.Time
	}
	msg.ServerTimestamp = now

	_, err = tx.ExecContext(ctx, `
		INSERT INTO messages (`+messageCols+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		msg.ID, msg.ConvoID, msg.FromAddress, msg.ToAddress, msg.Content, msg.MediaType,
		msg.Seq, msg.ServerTimestamp, string(msg.Status))
	if isUniqueViolation(err) {
		return store.ErrSeqConflict
	}
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE conversations SET last_message_seq = $2 WHERE id = $1`, msg.ConvoID, msg.Seq); err != nil {
		return err
	}

	return tx.Commit()
}

// isUniqueViolation reports whether err is a Postgres unique-constraint
// violation (SQLSTATE 23505), per lib/pq's *pq.Error.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}

func (s *conversationStore) GetMessagesSince(ctx context.Context, convoID string, sinceSeq int64, limit int) ([]*store.Message, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []messageRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT `+messageCols+` FROM messages WHERE convo_id = $1 AND seq > $2 ORDER BY seq ASC LIMIT $3`,
		convoID, sinceSeq, limit)
	if err != nil {
		return nil, err
	}
	return rowsToMessages(rows), nil
}

func (s *conversationStore) GetMessagesBefore(ctx context.Context, convoID string, beforeTS time.Time, limit int) ([]*store.Message, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []messageRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT `+messageCols+` FROM messages WHERE convo_id = $1 AND server_timestamp < $2
		ORDER BY server_timestamp DESC LIMIT $3`, convoID, beforeTS, limit)
	if err != nil {
		return nil, err
	}
	msgs := rowsToMessages(rows)
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

func (s *conversationStore) ListPending(ctx context.Context, toAddress string) ([]*store.Message, error) {
	var rows []messageRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT `+messageCols+` FROM messages WHERE to_address = $1 AND status = 'pending' ORDER BY seq ASC`, toAddress)
	if err != nil {
		return nil, err
	}
	return rowsToMessages(rows), nil
}

func (s *conversationStore) MarkStatus(ctx context.Context, messageID string, status store.MessageStatus) (*store.Message, error) {
	var r messageRow
	err := s.db.GetContext(ctx, &r, `
		UPDATE messages SET status = $2 WHERE id = $1
		RETURNING `+messageCols, messageID, string(status))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return r.toDomain(), nil
}

func rowsToMessages(rows []messageRow) []*store.Message {
	out := make([]*store.Message, len(rows))
	for i, r := range rows {
		out[i] = r.toDomain()
	}
	return out
}
