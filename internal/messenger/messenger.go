// Package messenger imports Facebook Messenger and Instagram direct message
// exports (message_N.json files, one folder per conversation).
package messenger

import (
	"cmp"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io/fs"
	"iter"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strconv"
	"time"

	"github.com/wesm/lifevault/internal/importer"
	"github.com/wesm/lifevault/internal/locate"
	"github.com/wesm/lifevault/internal/store"
	"github.com/wesm/lifevault/internal/textutil"
)

// Platform selects the export flavour.
type Platform int

const (
	Facebook Platform = iota
	Instagram
)

// Stored service names.
const (
	ServiceFacebook  = "Facebook Messenger"
	ServiceInstagram = "Instagram"
)

// Group and sparse-session thresholds applied after import.
const (
	minGroupSenders    = 3
	minSessionMessages = 2
)

var messageFilePattern = regexp.MustCompile(`^message_(\d+)\.json$`)

// Parser parses Messenger/Instagram JSON exports.
type Parser struct {
	platform   Platform
	userName   string
	exportRoot string
}

// NewParser returns a parser for platform. userName identifies the export
// owner; when empty the first participant of each conversation is used.
func NewParser(platform Platform, opts importer.Options) *Parser {
	return &Parser{
		platform:   platform,
		userName:   opts.UserName,
		exportRoot: opts.ExportRoot,
	}
}

// Service implements importer.ChatParser.
func (p *Parser) Service() string {
	if p.platform == Instagram {
		return ServiceInstagram
	}
	return ServiceFacebook
}

// Units implements importer.ChatParser. Every folder below root holding a
// message_N.json file is one conversation.
func (p *Parser) Units(root string) ([]importer.Unit, error) {
	var units []importer.Unit
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		files, err := messageFiles(path)
		if err != nil {
			return err
		}
		if len(files) > 0 {
			units = append(units, importer.Unit{Name: d.Name(), Path: path})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return units, nil
}

// messageFiles lists dir's message_N.json files in ascending N.
func messageFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	type numbered struct {
		n    int
		path string
	}
	var files []numbered
	for _, e := range entries {
		m := messageFilePattern.FindStringSubmatch(e.Name())
		if m == nil || e.IsDir() {
			continue
		}
		n, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		files = append(files, numbered{n, filepath.Join(dir, e.Name())})
	}
	slices.SortFunc(files, func(a, b numbered) int { return cmp.Compare(a.n, b.n) })

	out := make([]string, len(files))
	for i, f := range files {
		out[i] = f.path
	}
	return out, nil
}

// Parse implements importer.ChatParser.
func (p *Parser) Parse(unit importer.Unit) iter.Seq2[*importer.NormalizedMessage, error] {
	return func(yield func(*importer.NormalizedMessage, error) bool) {
		files, err := messageFiles(unit.Path)
		if err != nil {
			yield(nil, fmt.Errorf("%s: %w", unit.Name, err))
			return
		}

		owner := p.userName
		for _, path := range files {
			th, err := readThread(path)
			if err != nil {
				if !yield(nil, err) {
					return
				}
				continue
			}
			if owner == "" && len(th.Participants) > 0 {
				owner = textutil.FixMojibake(th.Participants[0].Name)
			}

			session := textutil.FixMojibake(th.Title)
			if session == "" {
				session = unit.Name
			}
			for i := range th.Messages {
				for _, msg := range p.normalize(&th.Messages[i], session, owner, unit.Path) {
					if !yield(msg, nil) {
						return
					}
				}
			}
		}
	}
}

func readThread(path string) (*thread, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	var th thread
	if err := json.Unmarshal(data, &th); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return &th, nil
}

// normalize converts one export message into stored rows: the message
// itself carrying its first attachment, plus one text-less row per extra
// attachment offset by N milliseconds.
func (p *Parser) normalize(m *message, session, owner, convDir string) []*importer.NormalizedMessage {
	text := textutil.FixMojibake(m.Content)
	if p.platform == Instagram && text == "" {
		return nil
	}
	if p.platform == Facebook && text == "" && m.Share != nil {
		text = m.Share.Link
		if text == "" {
			text = textutil.FixMojibake(m.Share.ShareText)
		}
	}

	sender := textutil.FixMojibake(m.SenderName)
	typ := "Incoming"
	if sender != "" && sender == owner {
		typ = "Outgoing"
	}
	date := time.UnixMilli(m.TimestampMS).UTC()

	base := store.ChatMessage{
		ChatSession: sql.NullString{String: session, Valid: true},
		MessageDate: date,
		Service:     p.Service(),
		Type:        sql.NullString{String: typ, Valid: true},
		SenderID:    sql.NullString{String: sender, Valid: sender != ""},
		SenderName:  sql.NullString{String: sender, Valid: sender != ""},
		Text:        sql.NullString{String: text, Valid: text != ""},
	}
	first := &importer.NormalizedMessage{ChatMessage: base}
	out := []*importer.NormalizedMessage{first}

	for i, att := range m.attachments() {
		ref := p.resolve(convDir, att.URI)
		if i == 0 {
			first.Attachment = ref
			continue
		}
		extra := &importer.NormalizedMessage{ChatMessage: base, Attachment: ref}
		extra.Text = sql.NullString{}
		extra.MessageDate = date.Add(time.Duration(i) * time.Millisecond)
		out = append(out, extra)
	}
	return out
}

// resolve locates an attachment URI, falling back to converted formats.
func (p *Parser) resolve(convDir, uri string) *importer.AttachmentRef {
	ref := &importer.AttachmentRef{Name: filepath.Base(uri)}
	if res, ok := locate.Resolve(convDir, uri, p.exportRoot); ok {
		ref.Path = res.Path
		ref.MimeType = res.MimeType
	}
	return ref
}

// PostProcess flags sessions with enough distinct senders as group chats
// and, for Facebook, removes sessions too small to be conversations.
func (p *Parser) PostProcess(ctx context.Context, st *store.Store) error {
	if _, err := st.MarkGroupChatsBySenderCount(ctx, p.Service(), minGroupSenders); err != nil {
		return err
	}
	if p.platform == Facebook {
		if _, err := st.PurgeSparseSessions(ctx, p.Service(), minSessionMessages); err != nil {
			return err
		}
	}
	return nil
}

// Import imports every conversation under dir.
func Import(ctx context.Context, st *store.Store, platform Platform, dir string, opts importer.Options) (*importer.Stats, error) {
	return importer.RunChat(ctx, st, NewParser(platform, opts), dir, opts)
}
