package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// ChatMessage is one stored chat row. Nullable columns use sql.Null* types;
// every one of them takes part in NULL-aware comparisons where it is part
// of the dedup key.
type ChatMessage struct {
	ID            int64
	ChatSession   sql.NullString
	MessageDate   time.Time
	DeliveredDate sql.NullTime
	ReadDate      sql.NullTime
	EditedDate    sql.NullTime
	Service       string
	Type          sql.NullString // "Incoming" or "Outgoing"
	SenderID      sql.NullString
	SenderName    sql.NullString
	Status        sql.NullString
	ReplyingTo    sql.NullString
	Subject       sql.NullString
	Text          sql.NullString
	IsGroupChat   bool
	AttachmentID  sql.NullInt64
}

// Blob is attachment content stored alongside a chat message.
type Blob struct {
	Data     []byte
	MimeType string
	Filename string
}

// UpsertMessage stores msg, deduplicating on (chat_session, message_date,
// sender_id, type) with NULL matching NULL. An existing row has all mutable
// fields and its attachment pointer overwritten; a replaced attachment that
// no other message references is deleted. blob may be nil.
// Returns the row id and whether an existing row was updated.
func (s *Store) UpsertMessage(ctx context.Context, msg *ChatMessage, blob *Blob) (int64, bool, error) {
	var id int64
	var updated bool
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var oldAttachment sql.NullInt64
		err := tx.QueryRowContext(ctx, `
			SELECT id, attachment_id FROM messages
			WHERE chat_session IS ? AND message_date IS ? AND sender_id IS ? AND type IS ?
			ORDER BY id
			LIMIT 1
		`, msg.ChatSession, formatTime(msg.MessageDate), msg.SenderID, msg.Type).Scan(&id, &oldAttachment)
		if err != nil && err != sql.ErrNoRows {
			return fmt.Errorf("lookup message: %w", err)
		}
		exists := err == nil

		var attachmentID sql.NullInt64
		if blob != nil {
			newID, err := insertAttachment(ctx, tx, blob)
			if err != nil {
				return err
			}
			attachmentID = sql.NullInt64{Int64: newID, Valid: true}
		}

		if exists {
			_, err = tx.ExecContext(ctx, `
				UPDATE messages SET
					delivered_date = ?, read_date = ?, edited_date = ?,
					service = ?, sender_name = ?, status = ?, replying_to = ?,
					subject = ?, text = ?, is_group_chat = ?, attachment_id = ?,
					updated_at = strftime('%Y-%m-%d %H:%M:%f', 'now')
				WHERE id = ?
			`, formatNullTime(msg.DeliveredDate), formatNullTime(msg.ReadDate), formatNullTime(msg.EditedDate),
				msg.Service, msg.SenderName, msg.Status, msg.ReplyingTo,
				msg.Subject, msg.Text, msg.IsGroupChat, attachmentID, id)
			if err != nil {
				return fmt.Errorf("update message: %w", err)
			}
			updated = true
			if oldAttachment.Valid && oldAttachment != attachmentID {
				if err := deleteOrphanAttachment(ctx, tx, oldAttachment.Int64); err != nil {
					return err
				}
			}
			return nil
		}

		res, err := tx.ExecContext(ctx, `
			INSERT INTO messages (
				chat_session, message_date, delivered_date, read_date, edited_date,
				service, type, sender_id, sender_name, status, replying_to,
				subject, text, is_group_chat, attachment_id
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, msg.ChatSession, formatTime(msg.MessageDate), formatNullTime(msg.DeliveredDate),
			formatNullTime(msg.ReadDate), formatNullTime(msg.EditedDate),
			msg.Service, msg.Type, msg.SenderID, msg.SenderName, msg.Status, msg.ReplyingTo,
			msg.Subject, msg.Text, msg.IsGroupChat, attachmentID)
		if err != nil {
			return fmt.Errorf("insert message: %w", err)
		}
		id, err = res.LastInsertId()
		return err
	})
	if err != nil {
		return 0, false, err
	}
	msg.ID = id
	return id, updated, nil
}

func insertAttachment(ctx context.Context, tx *sql.Tx, blob *Blob) (int64, error) {
	res, err := tx.ExecContext(ctx, `
		INSERT INTO attachments (data, mime_type, filename, size, content_hash)
		VALUES (?, ?, ?, ?, ?)
	`, blob.Data, blob.MimeType, blob.Filename, len(blob.Data), ContentHash(blob.Data))
	if err != nil {
		return 0, fmt.Errorf("insert attachment: %w", err)
	}
	return res.LastInsertId()
}

func deleteOrphanAttachment(ctx context.Context, tx *sql.Tx, id int64) error {
	_, err := tx.ExecContext(ctx, `
		DELETE FROM attachments
		WHERE id = ? AND NOT EXISTS (SELECT 1 FROM messages WHERE attachment_id = ?)
	`, id, id)
	if err != nil {
		return fmt.Errorf("delete orphaned attachment %d: %w", id, err)
	}
	return nil
}

// GetMessage loads a message by id.
func (s *Store) GetMessage(ctx context.Context, id int64) (*ChatMessage, error) {
	var m ChatMessage
	var messageDate string
	var delivered, read, edited sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, chat_session, message_date, delivered_date, read_date, edited_date,
		       service, type, sender_id, sender_name, status, replying_to,
		       subject, text, is_group_chat, attachment_id
		FROM messages WHERE id = ?
	`, id).Scan(&m.ID, &m.ChatSession, &messageDate, &delivered, &read, &edited,
		&m.Service, &m.Type, &m.SenderID, &m.SenderName, &m.Status, &m.ReplyingTo,
		&m.Subject, &m.Text, &m.IsGroupChat, &m.AttachmentID)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("message %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	m.MessageDate = parseTime(messageDate)
	m.DeliveredDate = parseNullTime(delivered)
	m.ReadDate = parseNullTime(read)
	m.EditedDate = parseNullTime(edited)
	return &m, nil
}

// ListSessionMessages returns all messages of a chat session for a service,
// ordered by date.
func (s *Store) ListSessionMessages(ctx context.Context, service, session string) ([]*ChatMessage, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id FROM messages
		WHERE service = ? AND chat_session IS ?
		ORDER BY message_date, id
	`, service, session)
	if err != nil {
		return nil, fmt.Errorf("list session: %w", err)
	}
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	msgs := make([]*ChatMessage, 0, len(ids))
	for _, id := range ids {
		m, err := s.GetMessage(ctx, id)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, nil
}

// SessionTextsByType returns the non-empty texts of a service's messages of
// one type, keyed by chat session.
func (s *Store) SessionTextsByType(ctx context.Context, service, msgType string) (map[string][]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT chat_session, text FROM messages
		WHERE service = ? AND type = ? AND chat_session IS NOT NULL
			AND text IS NOT NULL AND text != ''
		ORDER BY chat_session, message_date, id
	`, service, msgType)
	if err != nil {
		return nil, fmt.Errorf("session texts: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]string)
	for rows.Next() {
		var session, text string
		if err := rows.Scan(&session, &text); err != nil {
			return nil, err
		}
		out[session] = append(out[session], text)
	}
	return out, rows.Err()
}

// GetAttachment returns the attachment blob with the given id.
func (s *Store) GetAttachment(ctx context.Context, id int64) (*Blob, error) {
	var b Blob
	var mimeType, filename sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT data, mime_type, filename FROM attachments WHERE id = ?`, id,
	).Scan(&b.Data, &mimeType, &filename)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("attachment %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	b.MimeType = mimeType.String
	b.Filename = filename.String
	return &b, nil
}

// MarkGroupChat flags every message of one chat session as a group chat.
func (s *Store) MarkGroupChat(ctx context.Context, service, session string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE messages SET is_group_chat = 1
		WHERE service = ? AND chat_session IS ? AND is_group_chat = 0
	`, service, session)
	if err != nil {
		return 0, fmt.Errorf("mark group chat: %w", err)
	}
	return res.RowsAffected()
}

// MarkGroupChatsBySenderCount flags sessions of a service with at least
// minSenders distinct sender names as group chats.
func (s *Store) MarkGroupChatsBySenderCount(ctx context.Context, service string, minSenders int) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE messages SET is_group_chat = 1
		WHERE service = ? AND is_group_chat = 0 AND chat_session IN (
			SELECT chat_session FROM messages
			WHERE service = ? AND chat_session IS NOT NULL
			GROUP BY chat_session
			HAVING COUNT(DISTINCT sender_name) >= ?
		)
	`, service, service, minSenders)
	if err != nil {
		return 0, fmt.Errorf("mark group chats: %w", err)
	}
	return res.RowsAffected()
}

// PurgeSparseSessions deletes every message of a service whose session has
// fewer than minMessages rows, along with attachments left unreferenced.
// Returns the number of messages deleted.
func (s *Store) PurgeSparseSessions(ctx context.Context, service string, minMessages int) (int64, error) {
	var deleted int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			DELETE FROM messages
			WHERE service = ? AND chat_session IN (
				SELECT chat_session FROM messages
				WHERE service = ? AND chat_session IS NOT NULL
				GROUP BY chat_session
				HAVING COUNT(*) < ?
			)
		`, service, service, minMessages)
		if err != nil {
			return fmt.Errorf("purge sessions: %w", err)
		}
		if deleted, err = res.RowsAffected(); err != nil {
			return err
		}
		if deleted == 0 {
			return nil
		}
		_, err = tx.ExecContext(ctx, `
			DELETE FROM attachments
			WHERE NOT EXISTS (SELECT 1 FROM messages WHERE messages.attachment_id = attachments.id)
		`)
		if err != nil {
			return fmt.Errorf("purge orphaned attachments: %w", err)
		}
		return nil
	})
	return deleted, err
}
