// Package imessage imports iMessage and SMS conversations exported as one
// CSV per conversation folder.
package imessage

import (
	"context"
	"database/sql"
	"fmt"
	"iter"
	"path/filepath"
	"strings"

	"github.com/wesm/lifevault/internal/chatcsv"
	"github.com/wesm/lifevault/internal/importer"
	"github.com/wesm/lifevault/internal/store"
)

// Service names as stored.
const (
	ServiceIMessage = "iMessage"
	ServiceSMS      = "SMS"
)

// Parser parses iMessage/SMS CSV exports.
type Parser struct{}

// Service implements importer.ChatParser.
func (Parser) Service() string { return ServiceIMessage }

// Units implements importer.ChatParser.
func (Parser) Units(root string) ([]importer.Unit, error) {
	return chatcsv.Units(root)
}

// Parse implements importer.ChatParser.
func (Parser) Parse(unit importer.Unit) iter.Seq2[*importer.NormalizedMessage, error] {
	return func(yield func(*importer.NormalizedMessage, error) bool) {
		convDir := filepath.Dir(unit.Path)
		for row, err := range chatcsv.ReadFile(unit.Path) {
			if err != nil {
				if !yield(nil, fmt.Errorf("%s: %w", unit.Name, err)) {
					return
				}
				continue
			}

			msg, err := chatcsv.Normalize(row, serviceOf(row.Get(chatcsv.ColService)), convDir)
			if err != nil {
				if !yield(nil, fmt.Errorf("%s: %w", unit.Name, err)) {
					return
				}
				continue
			}
			if !msg.Type.Valid {
				msg.Type = sql.NullString{String: inferType(msg.SenderID), Valid: true}
			}
			if !yield(msg, nil) {
				return
			}
		}
	}
}

// serviceOf maps the Service column; anything but SMS is iMessage.
func serviceOf(s string) string {
	if strings.EqualFold(s, ServiceSMS) {
		return ServiceSMS
	}
	return ServiceIMessage
}

// inferType derives the direction when the Type column is empty: the
// exporter leaves Sender ID empty on the owner's own messages.
func inferType(senderID sql.NullString) string {
	if !senderID.Valid || senderID.String == "" {
		return "Outgoing"
	}
	return "Incoming"
}

// Import imports every conversation folder under dir.
func Import(ctx context.Context, st *store.Store, dir string, opts importer.Options) (*importer.Stats, error) {
	return importer.RunChat(ctx, st, Parser{}, dir, opts)
}
