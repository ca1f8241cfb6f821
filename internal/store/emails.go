package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// Email is a stored mail message. (UID, Folder) identifies it: for Gmail the
// UID is the message id and Folder the label name it was imported from.
type Email struct {
	ID          int64
	UID         string
	Folder      string
	ThreadID    string
	Subject     string
	From        string
	To          string
	Cc          string
	Bcc         string
	Date        sql.NullTime
	BodyText    string
	BodyHTML    string
	Snippet     string
	Labels      []string
	Size        int64
	Attachments []EmailAttachment
}

// EmailAttachment is one attachment part of an email.
type EmailAttachment struct {
	Filename  string
	MimeType  string
	ContentID string
	Data      []byte
}

// SaveEmail inserts or updates e by (uid, folder). Attachments of an existing
// email are replaced. Returns e with its ID set and whether it existed.
func (s *Store) SaveEmail(ctx context.Context, e *Email) (*Email, bool, error) {
	var updated bool
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx,
			`SELECT id FROM emails WHERE uid = ? AND folder = ?`, e.UID, e.Folder,
		).Scan(&e.ID)
		if err != nil && err != sql.ErrNoRows {
			return fmt.Errorf("lookup email: %w", err)
		}

		labels := strings.Join(e.Labels, ",")
		hasAttachments := len(e.Attachments) > 0
		if err == nil {
			updated = true
			if _, err := tx.ExecContext(ctx, `
				UPDATE emails SET
					thread_id = ?, subject = ?, from_addr = ?, to_addrs = ?, cc_addrs = ?, bcc_addrs = ?,
					date = ?, body_text = ?, body_html = ?, snippet = ?, labels = ?, size = ?,
					has_attachments = ?, updated_at = strftime('%Y-%m-%d %H:%M:%f', 'now')
				WHERE id = ?
			`, e.ThreadID, e.Subject, e.From, e.To, e.Cc, e.Bcc,
				formatNullTime(e.Date), e.BodyText, e.BodyHTML, e.Snippet, labels, e.Size,
				hasAttachments, e.ID); err != nil {
				return fmt.Errorf("update email: %w", err)
			}
			if _, err := tx.ExecContext(ctx, `DELETE FROM email_attachments WHERE email_id = ?`, e.ID); err != nil {
				return fmt.Errorf("clear email attachments: %w", err)
			}
		} else {
			res, err := tx.ExecContext(ctx, `
				INSERT INTO emails (
					uid, folder, thread_id, subject, from_addr, to_addrs, cc_addrs, bcc_addrs,
					date, body_text, body_html, snippet, labels, size, has_attachments
				) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			`, e.UID, e.Folder, e.ThreadID, e.Subject, e.From, e.To, e.Cc, e.Bcc,
				formatNullTime(e.Date), e.BodyText, e.BodyHTML, e.Snippet, labels, e.Size, hasAttachments)
			if err != nil {
				return fmt.Errorf("insert email: %w", err)
			}
			if e.ID, err = res.LastInsertId(); err != nil {
				return err
			}
		}

		for _, att := range e.Attachments {
			var hash any
			if len(att.Data) > 0 {
				hash = ContentHash(att.Data)
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO email_attachments (email_id, filename, mime_type, content_id, size, data, content_hash)
				VALUES (?, ?, ?, ?, ?, ?, ?)
			`, e.ID, att.Filename, att.MimeType, att.ContentID, len(att.Data), nullBytes(att.Data), hash); err != nil {
				return fmt.Errorf("insert email attachment %q: %w", att.Filename, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return e, updated, nil
}

// EmailExists reports whether an email with the given uid and folder is stored.
func (s *Store) EmailExists(ctx context.Context, uid, folder string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM emails WHERE uid = ? AND folder = ?`, uid, folder,
	).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("email exists: %w", err)
	}
	return true, nil
}

// CountEmailAttachments returns the number of attachments stored for an email.
func (s *Store) CountEmailAttachments(ctx context.Context, emailID int64) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM email_attachments WHERE email_id = ?`, emailID,
	).Scan(&n)
	return n, err
}

// GmailHistory returns the set of message ids already imported for an
// account's label.
func (s *Store) GmailHistory(ctx context.Context, account, label string) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT message_id FROM gmail_history WHERE account = ? AND label = ?`, account, label)
	if err != nil {
		return nil, fmt.Errorf("load gmail history: %w", err)
	}
	defer rows.Close()

	seen := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		seen[id] = true
	}
	return seen, rows.Err()
}

// AddGmailHistory records that a message was imported for an account's label.
func (s *Store) AddGmailHistory(ctx context.Context, account, label, messageID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO gmail_history (account, label, message_id) VALUES (?, ?, ?)
		ON CONFLICT(account, label, message_id) DO NOTHING
	`, account, label, messageID)
	if err != nil {
		return fmt.Errorf("add gmail history: %w", err)
	}
	return nil
}
