// Package chatcsv reads the per-conversation CSV files produced by iMessage
// and WhatsApp export tools.
package chatcsv

import (
	"database/sql"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"iter"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/wesm/lifevault/internal/importer"
	"github.com/wesm/lifevault/internal/locate"
	"github.com/wesm/lifevault/internal/textutil"
)

// Column names, matched case-sensitively against the header row.
const (
	ColChatSession    = "Chat Session"
	ColMessageDate    = "Message Date"
	ColDeliveredDate  = "Delivered Date"
	ColReadDate       = "Read Date"
	ColEditedDate     = "Edited Date"
	ColService        = "Service"
	ColType           = "Type"
	ColSenderID       = "Sender ID"
	ColSenderName     = "Sender Name"
	ColStatus         = "Status"
	ColReplyingTo     = "Replying to"
	ColSubject        = "Subject"
	ColText           = "Text"
	ColAttachment     = "Attachment"
	ColAttachmentType = "Attachment type"
)

// Header is the full column list in export order.
var Header = []string{
	ColChatSession, ColMessageDate, ColDeliveredDate, ColReadDate, ColEditedDate,
	ColService, ColType, ColSenderID, ColSenderName, ColStatus, ColReplyingTo,
	ColSubject, ColText, ColAttachment, ColAttachmentType,
}

// DateLayout is the timestamp format of all date columns.
const DateLayout = "2006-01-02 15:04:05"

// Row is one CSV record keyed by column name. Absent columns read as "".
type Row struct {
	Line   int
	fields map[string]string
}

// Get returns the trimmed value of a column.
func (r Row) Get(col string) string {
	return strings.TrimSpace(r.fields[col])
}

// ReadFile yields the rows of a conversation CSV. A file that cannot be
// opened or lacks a Message Date column yields a single error.
func ReadFile(path string) iter.Seq2[Row, error] {
	return func(yield func(Row, error) bool) {
		f, err := os.Open(path)
		if err != nil {
			yield(Row{}, fmt.Errorf("open %s: %w", path, err))
			return
		}
		defer f.Close()
		for row, err := range Read(f) {
			if !yield(row, err) {
				return
			}
		}
	}
}

// Read yields the rows of CSV data with a header line. Malformed records
// yield an error and reading continues with the next record.
func Read(r io.Reader) iter.Seq2[Row, error] {
	return func(yield func(Row, error) bool) {
		cr := csv.NewReader(r)
		cr.FieldsPerRecord = -1
		cr.LazyQuotes = true

		header, err := cr.Read()
		if err != nil {
			yield(Row{}, fmt.Errorf("read header: %w", err))
			return
		}
		if len(header) > 0 {
			header[0] = strings.TrimPrefix(header[0], "\ufeff")
		}
		if !slices.Contains(header, ColMessageDate) {
			yield(Row{}, fmt.Errorf("header has no %q column", ColMessageDate))
			return
		}

		for {
			rec, err := cr.Read()
			if err == io.EOF {
				return
			}
			if err != nil {
				var pe *csv.ParseError
				if errors.As(err, &pe) {
					if !yield(Row{Line: pe.Line}, err) {
						return
					}
					continue
				}
				yield(Row{}, err)
				return
			}
			line, _ := cr.FieldPos(0)

			fields := make(map[string]string, len(header))
			for i, col := range header {
				if i < len(rec) {
					fields[col] = rec[i]
				}
			}
			if !yield(Row{Line: line, fields: fields}, nil) {
				return
			}
		}
	}
}

// Units returns one unit per conversation subfolder of root that contains
// a CSV file, ordered by folder name.
func Units(root string) ([]importer.Unit, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, err
	}
	var units []importer.Unit
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		dir := filepath.Join(root, e.Name())
		matches, err := filepath.Glob(filepath.Join(dir, "*.csv"))
		if err != nil || len(matches) == 0 {
			continue
		}
		slices.Sort(matches)
		units = append(units, importer.Unit{Name: e.Name(), Path: matches[0]})
	}
	return units, nil
}

// ParseDate parses a date column value.
func ParseDate(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

func nullDate(s string) sql.NullTime {
	t, ok := ParseDate(s)
	return sql.NullTime{Time: t, Valid: ok}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// Normalize converts a row into a message for service. Sender and session
// names keep only letters, digits, underscores and whitespace. Attachments
// are looked up in the conversation folder by file-name suffix.
func Normalize(row Row, service, convDir string) (*importer.NormalizedMessage, error) {
	date, ok := ParseDate(row.Get(ColMessageDate))
	if !ok {
		return nil, fmt.Errorf("line %d: invalid %s %q", row.Line, ColMessageDate, row.Get(ColMessageDate))
	}

	msg := &importer.NormalizedMessage{}
	m := &msg.ChatMessage
	m.ChatSession = nullString(textutil.StripSymbols(textutil.EnsureUTF8(row.Get(ColChatSession))))
	m.MessageDate = date
	m.DeliveredDate = nullDate(row.Get(ColDeliveredDate))
	m.ReadDate = nullDate(row.Get(ColReadDate))
	m.EditedDate = nullDate(row.Get(ColEditedDate))
	m.Service = service
	m.Type = nullString(row.Get(ColType))
	m.SenderID = nullString(textutil.StripSymbols(textutil.EnsureUTF8(row.Get(ColSenderID))))
	m.SenderName = nullString(textutil.StripSymbols(textutil.EnsureUTF8(row.Get(ColSenderName))))
	m.Status = nullString(row.Get(ColStatus))
	m.ReplyingTo = nullString(textutil.EnsureUTF8(row.Get(ColReplyingTo)))
	m.Subject = nullString(textutil.EnsureUTF8(row.Get(ColSubject)))
	m.Text = nullString(textutil.EnsureUTF8(row.Get(ColText)))

	if name := row.Get(ColAttachment); name != "" {
		ref := &importer.AttachmentRef{Name: name, MimeType: row.Get(ColAttachmentType)}
		if res, found := locate.FindSuffix(convDir, name); found {
			ref.Path = res.Path
			if res.Substituted || !strings.Contains(ref.MimeType, "/") {
				ref.MimeType = res.MimeType
			}
		}
		msg.Attachment = ref
	}
	return msg, nil
}
