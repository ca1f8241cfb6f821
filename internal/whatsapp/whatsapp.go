// Package whatsapp imports WhatsApp chat exports: one CSV per conversation
// folder with media files alongside.
package whatsapp

import (
	"context"
	"fmt"
	"iter"
	"path/filepath"
	"slices"
	"strings"

	"github.com/wesm/lifevault/internal/chatcsv"
	"github.com/wesm/lifevault/internal/importer"
	"github.com/wesm/lifevault/internal/store"
)

// Service is the stored service name.
const Service = "WhatsApp"

// notificationType is the Type value of system notification rows.
const notificationType = "Notification"

// systemNotices are notification phrases that occur in one-to-one chats.
// Any other notification (member added, group renamed, ...) marks the chat
// as a group chat.
var systemNotices = []string{
	"missed voice call",
	"missed video call",
	"voice call",
	"video call",
	"messages and calls are end-to-end encrypted",
	"end-to-end encrypted",
	"security code changed",
	"your security code with",
	"changed their phone number",
	"changed to a new number",
	"changed their number",
	"you blocked this contact",
	"you unblocked this contact",
	"disappearing messages",
	"turned on disappearing messages",
	"turned off disappearing messages",
	"business account",
	"this business",
}

// IsSystemNotice reports whether a notification text is one of the
// one-to-one system notices.
func IsSystemNotice(text string) bool {
	t := strings.ToLower(text)
	for _, phrase := range systemNotices {
		if strings.Contains(t, phrase) {
			return true
		}
	}
	return false
}

// Parser parses WhatsApp CSV exports. Notification rows are stored like any
// other message; PostProcess derives group chats from them.
type Parser struct{}

// NewParser returns a WhatsApp parser.
func NewParser() *Parser { return &Parser{} }

// Service implements importer.ChatParser.
func (p *Parser) Service() string { return Service }

// Units implements importer.ChatParser.
func (p *Parser) Units(root string) ([]importer.Unit, error) {
	return chatcsv.Units(root)
}

// Parse implements importer.ChatParser.
func (p *Parser) Parse(unit importer.Unit) iter.Seq2[*importer.NormalizedMessage, error] {
	return func(yield func(*importer.NormalizedMessage, error) bool) {
		convDir := filepath.Dir(unit.Path)
		for row, err := range chatcsv.ReadFile(unit.Path) {
			if err != nil {
				if !yield(nil, fmt.Errorf("%s: %w", unit.Name, err)) {
					return
				}
				continue
			}
			msg, err := chatcsv.Normalize(row, Service, convDir)
			if err != nil {
				if !yield(nil, fmt.Errorf("%s: %w", unit.Name, err)) {
					return
				}
				continue
			}
			if !yield(msg, nil) {
				return
			}
		}
	}
}

// GroupSessions returns the chat sessions holding a notification that is not
// a one-to-one system notice.
func GroupSessions(ctx context.Context, st *store.Store) ([]string, error) {
	texts, err := st.SessionTextsByType(ctx, Service, notificationType)
	if err != nil {
		return nil, err
	}
	var out []string
	for session, notices := range texts {
		if slices.ContainsFunc(notices, func(t string) bool { return !IsSystemNotice(t) }) {
			out = append(out, session)
		}
	}
	slices.Sort(out)
	return out, nil
}

// PostProcess flags every message of each group session in the store,
// including sessions imported by earlier runs.
func (p *Parser) PostProcess(ctx context.Context, st *store.Store) error {
	sessions, err := GroupSessions(ctx, st)
	if err != nil {
		return fmt.Errorf("detect group chats: %w", err)
	}
	for _, session := range sessions {
		if _, err := st.MarkGroupChat(ctx, Service, session); err != nil {
			return fmt.Errorf("mark %s: %w", session, err)
		}
	}
	return nil
}

// Import imports every conversation folder under dir.
func Import(ctx context.Context, st *store.Store, dir string, opts importer.Options) (*importer.Stats, error) {
	return importer.RunChat(ctx, st, NewParser(), dir, opts)
}
