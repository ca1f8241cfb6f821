// Package gmail provides a Gmail API client with rate limiting and retry logic.
package gmail

import (
	"context"
	"mime"
	"strings"
)

// AccountReader provides read access to account-level Gmail data.
type AccountReader interface {
	// GetProfile returns the authenticated user's profile.
	GetProfile(ctx context.Context) (*Profile, error)

	// ListLabels returns all labels for the account.
	ListLabels(ctx context.Context) ([]*Label, error)
}

// MessageReader provides read access to Gmail messages.
type MessageReader interface {
	// ListMessages returns one page of message IDs carrying labelID.
	// An empty labelID lists the whole mailbox. Returns the next page
	// token if more results exist.
	ListMessages(ctx context.Context, labelID, query, pageToken string) (*MessageListResponse, error)

	// GetMessage fetches a single message in full format. Attachment
	// bodies are not inlined; fetch them with GetAttachment.
	GetMessage(ctx context.Context, messageID string) (*Message, error)

	// GetMessagesBatch fetches multiple messages in parallel with rate limiting.
	// Returns results in the same order as input IDs. Failed fetches return nil.
	GetMessagesBatch(ctx context.Context, messageIDs []string) ([]*Message, error)

	// GetAttachment downloads the bytes of one attachment.
	GetAttachment(ctx context.Context, messageID, attachmentID string) ([]byte, error)
}

// API defines the interface for Gmail operations.
// This interface enables mocking for tests without hitting the real API.
type API interface {
	AccountReader
	MessageReader

	// Close releases any resources held by the client.
	Close() error
}

// Profile represents a Gmail user profile.
type Profile struct {
	EmailAddress  string
	MessagesTotal int64
	ThreadsTotal  int64
	HistoryID     uint64
}

// Label represents a Gmail label.
type Label struct {
	ID             string
	Name           string
	Type           string // "system" or "user"
	MessagesTotal  int64
	MessagesUnread int64
}

// MessageListResponse contains a page of message IDs.
type MessageListResponse struct {
	Messages           []MessageID
	NextPageToken      string
	ResultSizeEstimate int64
}

// MessageID represents a message reference from list operations.
type MessageID struct {
	ID       string
	ThreadID string
}

// Message is a message fetched with format=full.
type Message struct {
	ID           string
	ThreadID     string
	LabelIDs     []string
	Snippet      string
	HistoryID    uint64
	InternalDate int64 // Unix milliseconds
	SizeEstimate int64
	Payload      *MessagePart
}

// Header returns the first top-level header with the given name.
func (m *Message) Header(name string) string {
	if m.Payload == nil {
		return ""
	}
	return m.Payload.Header(name)
}

// Header is a single MIME header.
type Header struct {
	Name  string
	Value string
}

// PartBody holds inline data or a reference to a separately stored attachment.
type PartBody struct {
	AttachmentID string
	Size         int64
	Data         []byte // Decoded from base64url
}

// MessagePart is one node of the MIME tree.
type MessagePart struct {
	PartID   string
	MimeType string
	Filename string
	Headers  []Header
	Body     PartBody
	Parts    []*MessagePart
}

// Header returns the value of the first header matching name, ignoring case.
func (p *MessagePart) Header(name string) string {
	for _, h := range p.Headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value
		}
	}
	return ""
}

// Charset returns the charset parameter of the part's Content-Type header.
func (p *MessagePart) Charset() string {
	ct := p.Header("Content-Type")
	if ct == "" {
		return ""
	}
	_, params, err := mime.ParseMediaType(ct)
	if err != nil {
		return ""
	}
	return params["charset"]
}

// ContentID returns the Content-ID header without angle brackets.
func (p *MessagePart) ContentID() string {
	return strings.Trim(strings.TrimSpace(p.Header("Content-ID")), "<>")
}

// IsAttachment reports whether the part carries a file rather than body text.
func (p *MessagePart) IsAttachment() bool {
	if p.Filename != "" || (p.Body.AttachmentID != "" && !strings.HasPrefix(p.MimeType, "text/")) {
		return true
	}
	disp := strings.ToLower(p.Header("Content-Disposition"))
	return strings.HasPrefix(disp, "attachment")
}
