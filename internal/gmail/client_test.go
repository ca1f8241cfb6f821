package gmail

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

const quotaExceededMsg = "Quota exceeded for quota metric 'Queries'"

// gmailErrorBody builds a Gmail API error response JSON body.
// Optional fields (message, errors, details) are included only when non-zero.
func gmailErrorBody(code int, message string, errors []map[string]string, details []map[string]string) []byte {
	inner := map[string]any{"code": code}
	if message != "" {
		inner["message"] = message
	}
	if errors != nil {
		inner["errors"] = errors
	}
	if details != nil {
		inner["details"] = details
	}
	b, err := json.Marshal(map[string]any{"error": inner})
	if err != nil {
		panic(fmt.Sprintf("failed to marshal test body: %v", err))
	}
	return b
}

func errorWithReason(reason string) []byte {
	return gmailErrorBody(403, "", []map[string]string{{"reason": reason}}, nil)
}

func errorWithDetail(reason string) []byte {
	return gmailErrorBody(403, "", nil, []map[string]string{{"reason": reason}})
}

func TestIsRateLimitError(t *testing.T) {
	tests := []struct {
		name string
		body []byte
		want bool
	}{
		{
			name: "RateLimitExceeded",
			body: errorWithReason("rateLimitExceeded"),
			want: true,
		},
		{
			name: "RateLimitExceededByMessage",
			body: gmailErrorBody(403, quotaExceededMsg, []map[string]string{{"reason": "rateLimitExceeded"}}, nil),
			want: true,
		},
		{
			name: "RateLimitExceededUpperCase",
			body: errorWithDetail("RATE_LIMIT_EXCEEDED"),
			want: true,
		},
		{
			name: "QuotaExceeded",
			body: gmailErrorBody(403, quotaExceededMsg, nil, nil),
			want: true,
		},
		{
			name: "UserRateLimitExceeded",
			body: errorWithReason("userRateLimitExceeded"),
			want: true,
		},
		{
			name: "PermissionDenied",
			body: errorWithReason("forbidden"),
			want: false,
		},
		{
			name: "EmptyBody",
			body: []byte{},
			want: false,
		},
		{
			name: "InvalidJSON",
			body: []byte("not valid json but contains rateLimitExceeded"),
			want: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isRateLimitError(tt.body); got != tt.want {
				t.Errorf("isRateLimitError() = %v, want %v", got, tt.want)
			}
		})
	}
}

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewClient(nil, WithBaseURL(srv.URL), WithHTTPClient(srv.Client()))
}

func b64(s string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(s))
}

func TestClient_GetMessageDecodesParts(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/users/me/messages/abc" || r.URL.Query().Get("format") != "full" {
			t.Errorf("unexpected request %s", r.URL)
		}
		fmt.Fprintf(w, `{
			"id": "abc", "threadId": "t1", "labelIds": ["INBOX"],
			"historyId": "42", "internalDate": "1704067200000",
			"payload": {
				"mimeType": "multipart/mixed",
				"headers": [{"name": "Subject", "value": "Hi"}],
				"parts": [
					{"partId": "0", "mimeType": "text/plain",
					 "headers": [{"name": "Content-Type", "value": "text/plain; charset=\"UTF-8\""}],
					 "body": {"size": 5, "data": %q}},
					{"partId": "1", "mimeType": "image/png", "filename": "a.png",
					 "body": {"size": 10, "attachmentId": "att-1"}}
				]
			}
		}`, b64("hello"))
	})

	msg, err := c.GetMessage(context.Background(), "abc")
	if err != nil {
		t.Fatalf("GetMessage: %v", err)
	}
	if msg.HistoryID != 42 || msg.InternalDate != 1704067200000 {
		t.Errorf("HistoryID/InternalDate = %d/%d", msg.HistoryID, msg.InternalDate)
	}
	if got := msg.Header("subject"); got != "Hi" {
		t.Errorf("Header(subject) = %q", got)
	}
	if len(msg.Payload.Parts) != 2 {
		t.Fatalf("parts = %d, want 2", len(msg.Payload.Parts))
	}
	text := msg.Payload.Parts[0]
	if string(text.Body.Data) != "hello" || text.Charset() != "UTF-8" || text.IsAttachment() {
		t.Errorf("text part = %+v", text)
	}
	att := msg.Payload.Parts[1]
	if !att.IsAttachment() || att.Body.AttachmentID != "att-1" || att.Body.Data != nil {
		t.Errorf("attachment part = %+v", att)
	}
}

func TestClient_ListMessagesSendsLabel(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("labelIds") != "Label_7" || q.Get("pageToken") != "next" {
			t.Errorf("query = %s", r.URL.RawQuery)
		}
		w.Write([]byte(`{"messages":[{"id":"m1","threadId":"t1"}],"nextPageToken":"more"}`))
	})

	resp, err := c.ListMessages(context.Background(), "Label_7", "", "next")
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if len(resp.Messages) != 1 || resp.Messages[0].ID != "m1" || resp.NextPageToken != "more" {
		t.Errorf("resp = %+v", resp)
	}
}

func TestClient_GetAttachment(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/users/me/messages/m1/attachments/att-1" {
			t.Errorf("path = %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]any{"size": 4, "data": b64("\x89PNG")})
	})

	data, err := c.GetAttachment(context.Background(), "m1", "att-1")
	if err != nil {
		t.Fatalf("GetAttachment: %v", err)
	}
	if string(data) != "\x89PNG" {
		t.Errorf("data = %q", data)
	}
}

func TestClient_NotFound(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	_, err := c.GetMessage(context.Background(), "gone")
	var nf *NotFoundError
	if !errors.As(err, &nf) {
		t.Errorf("err = %v, want NotFoundError", err)
	}
}

func TestClient_ForbiddenIsNotRetried(t *testing.T) {
	calls := 0
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusForbidden)
		w.Write(errorWithReason("forbidden"))
	})

	if _, err := c.ListLabels(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}
