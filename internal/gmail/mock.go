package gmail

import (
	"context"
	"fmt"
	"slices"
	"sync"
)

// MockAPI is a mock implementation of the Gmail API for testing.
type MockAPI struct {
	mu sync.Mutex

	// Profile to return
	Profile *Profile

	// Labels to return
	Labels []*Label

	// Messages indexed by ID
	Messages map[string]*Message

	// Attachment bodies keyed by messageID + "/" + attachmentID
	Attachments map[string][]byte

	// PageSize splits ListMessages results into pages; 0 returns one page.
	PageSize int

	// Error injection
	ProfileError      error
	LabelsError       error
	ListMessagesError error
	GetMessageError   map[string]error // Per-message errors
	AttachmentError   error

	// Call tracking for assertions
	ProfileCalls      int
	LabelsCalls       int
	ListMessagesCalls int
	LastLabel         string // Last label passed to ListMessages
	LastQuery         string // Last query passed to ListMessages
	GetMessageCalls   []string
	AttachmentCalls   []string
}

// NewMockAPI creates a new mock API with empty state.
func NewMockAPI() *MockAPI {
	return &MockAPI{
		Messages:        make(map[string]*Message),
		Attachments:     make(map[string][]byte),
		GetMessageError: make(map[string]error),
	}
}

// GetProfile returns the mock profile.
func (m *MockAPI) GetProfile(ctx context.Context) (*Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ProfileCalls++

	if m.ProfileError != nil {
		return nil, m.ProfileError
	}
	if m.Profile == nil {
		return &Profile{
			EmailAddress:  "test@example.com",
			MessagesTotal: int64(len(m.Messages)),
		}, nil
	}
	return m.Profile, nil
}

// ListLabels returns the mock labels.
func (m *MockAPI) ListLabels(ctx context.Context) ([]*Label, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.LabelsCalls++

	if m.LabelsError != nil {
		return nil, m.LabelsError
	}
	if m.Labels == nil {
		return []*Label{
			{ID: "INBOX", Name: "INBOX", Type: "system"},
			{ID: "SENT", Name: "SENT", Type: "system"},
		}, nil
	}
	return m.Labels, nil
}

// ListMessages returns IDs of messages carrying labelID, sorted by ID and
// split into PageSize pages.
func (m *MockAPI) ListMessages(ctx context.Context, labelID, query, pageToken string) (*MessageListResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ListMessagesCalls++
	m.LastLabel = labelID
	m.LastQuery = query

	if m.ListMessagesError != nil {
		return nil, m.ListMessagesError
	}

	var ids []string
	for id, msg := range m.Messages {
		if labelID == "" || slices.Contains(msg.LabelIDs, labelID) {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)

	start := 0
	if pageToken != "" {
		if _, err := fmt.Sscanf(pageToken, "page_%d", &start); err != nil {
			return nil, fmt.Errorf("invalid page token: %s", pageToken)
		}
	}
	if start > len(ids) {
		start = len(ids)
	}
	end := len(ids)
	if m.PageSize > 0 && start+m.PageSize < end {
		end = start + m.PageSize
	}

	resp := &MessageListResponse{ResultSizeEstimate: int64(len(ids))}
	for _, id := range ids[start:end] {
		resp.Messages = append(resp.Messages, MessageID{ID: id, ThreadID: m.Messages[id].ThreadID})
	}
	if end < len(ids) {
		resp.NextPageToken = fmt.Sprintf("page_%d", end)
	}
	return resp, nil
}

// GetMessage returns a mock message.
func (m *MockAPI) GetMessage(ctx context.Context, messageID string) (*Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.GetMessageCalls = append(m.GetMessageCalls, messageID)

	if err, ok := m.GetMessageError[messageID]; ok && err != nil {
		return nil, err
	}

	msg, ok := m.Messages[messageID]
	if !ok {
		return nil, &NotFoundError{Path: "/messages/" + messageID}
	}
	return msg, nil
}

// GetMessagesBatch fetches multiple messages.
// Like the real Client, a failed fetch leaves a nil entry instead of
// failing the batch.
func (m *MockAPI) GetMessagesBatch(ctx context.Context, messageIDs []string) ([]*Message, error) {
	results := make([]*Message, len(messageIDs))
	for i, id := range messageIDs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		msg, err := m.GetMessage(ctx, id)
		if err != nil {
			continue
		}
		results[i] = msg
	}
	return results, nil
}

// GetAttachment returns a stored attachment body.
func (m *MockAPI) GetAttachment(ctx context.Context, messageID, attachmentID string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := messageID + "/" + attachmentID
	m.AttachmentCalls = append(m.AttachmentCalls, key)

	if m.AttachmentError != nil {
		return nil, m.AttachmentError
	}
	data, ok := m.Attachments[key]
	if !ok {
		return nil, &NotFoundError{Path: "/messages/" + key}
	}
	return data, nil
}

// Close is a no-op for the mock.
func (m *MockAPI) Close() error {
	return nil
}

// AddMessage stores a message with the given labels and MIME payload.
func (m *MockAPI) AddMessage(id string, labelIDs []string, payload *MessagePart) *Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Messages == nil {
		m.Messages = make(map[string]*Message)
	}
	msg := &Message{
		ID:           id,
		ThreadID:     "thread_" + id,
		LabelIDs:     labelIDs,
		InternalDate: 1704067200000, // 2024-01-01 00:00:00 UTC
		Payload:      payload,
	}
	m.Messages[id] = msg
	return msg
}

// AddAttachment stores the body served for messageID/attachmentID.
func (m *MockAPI) AddAttachment(messageID, attachmentID string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Attachments == nil {
		m.Attachments = make(map[string][]byte)
	}
	m.Attachments[messageID+"/"+attachmentID] = data
}

// TextPart builds a leaf part with inline body data.
func TextPart(mimeType, charset, body string) *MessagePart {
	ct := mimeType
	if charset != "" {
		ct += "; charset=" + charset
	}
	return &MessagePart{
		MimeType: mimeType,
		Headers:  []Header{{Name: "Content-Type", Value: ct}},
		Body:     PartBody{Data: []byte(body), Size: int64(len(body))},
	}
}

// AttachmentPart builds a leaf part whose body must be fetched separately.
func AttachmentPart(filename, mimeType, attachmentID string, size int64) *MessagePart {
	return &MessagePart{
		MimeType: mimeType,
		Filename: filename,
		Headers: []Header{
			{Name: "Content-Type", Value: mimeType},
			{Name: "Content-Disposition", Value: fmt.Sprintf("attachment; filename=%q", filename)},
		},
		Body: PartBody{AttachmentID: attachmentID, Size: size},
	}
}

// MultipartPart builds a container part with the given top-level headers.
func MultipartPart(mimeType string, headers []Header, parts ...*MessagePart) *MessagePart {
	return &MessagePart{
		MimeType: mimeType,
		Headers:  headers,
		Parts:    parts,
	}
}

// Ensure MockAPI implements API interface.
var _ API = (*MockAPI)(nil)
