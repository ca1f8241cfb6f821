package locate

import (
	"path/filepath"
	"testing"

	"github.com/wesm/lifevault/internal/testutil"
)

func TestExportRoot_UpwardWalk(t *testing.T) {
	root := t.TempDir()
	testutil.WriteFile(t, root, "your_facebook_activity/messages/inbox/alice_1/message_1.json", []byte("{}"))
	testutil.WriteFile(t, root, "your_facebook_activity/messages/photos/a.jpg", []byte("jpg"))
	conv := filepath.Join(root, "your_facebook_activity", "messages", "inbox", "alice_1")

	got, ok := ExportRoot(conv, "your_facebook_activity", "your_facebook_activity/messages/photos/a.jpg")
	if !ok {
		t.Fatal("ExportRoot() not found")
	}
	if got != root {
		t.Errorf("ExportRoot() = %q, want %q", got, root)
	}
}

func TestExportRoot_NoURIAcceptsFirstMarker(t *testing.T) {
	root := t.TempDir()
	testutil.WriteFile(t, root, "messages/inbox/bob/message_1.json", []byte("{}"))
	conv := filepath.Join(root, "messages", "inbox", "bob")

	got, ok := ExportRoot(conv, "messages", "")
	if !ok || got != root {
		t.Errorf("ExportRoot() = %q, %v; want %q, true", got, ok, root)
	}
}

func TestExportRoot_URIRejectsFalsePositive(t *testing.T) {
	root := t.TempDir()
	// An unrelated "messages" folder sits closer to the conversation than
	// the real export root, and does not contain the probed file.
	testutil.WriteFile(t, root, "export/messages/inbox/carol/sub/messages/readme.txt", []byte("x"))
	testutil.WriteFile(t, root, "export/messages/photos/c.jpg", []byte("jpg"))
	conv := filepath.Join(root, "export", "messages", "inbox", "carol", "sub")

	got, ok := ExportRoot(conv, "messages", "messages/photos/c.jpg")
	want := filepath.Join(root, "export")
	if !ok || got != want {
		t.Errorf("ExportRoot() = %q, %v; want %q, true", got, ok, want)
	}
}

func TestExportRoot_FallbackFromURIPrefix(t *testing.T) {
	root := t.TempDir()
	// The conversation folder lives outside the archive directory that holds
	// the marker, so the upward walk never sees the marker.
	testutil.WriteFile(t, root, "archive/your_facebook_activity/messages/photos/d.jpg", []byte("jpg"))
	testutil.WriteFile(t, root, "conversations/dave/message_1.json", []byte("{}"))
	conv := filepath.Join(root, "conversations", "dave")

	uri := "archive/your_facebook_activity/messages/photos/d.jpg"
	got, ok := ExportRoot(conv, "your_facebook_activity", uri)
	if !ok || got != root {
		t.Errorf("ExportRoot() = %q, %v; want %q, true", got, ok, root)
	}
	testutil.MustExist(t, filepath.Join(got, filepath.FromSlash(uri)))
}

func TestExportRoot_NotFound(t *testing.T) {
	root := t.TempDir()
	testutil.WriteFile(t, root, "a/b/c.txt", []byte("x"))

	if got, ok := ExportRoot(filepath.Join(root, "a", "b"), "your_instagram_activity", "nope/x.jpg"); ok {
		t.Errorf("ExportRoot() = %q, want not found", got)
	}
	if _, ok := ExportRoot("", "messages", ""); ok {
		t.Error("ExportRoot(\"\") should not be found")
	}
}

func TestMarkerIndex(t *testing.T) {
	tests := []struct {
		p, marker string
		want      int
	}{
		{"messages/photos/a.jpg", "messages", 0},
		{"x/messages/a.jpg", "messages", 2},
		{"x/my_messages/a.jpg", "messages", -1},
		{"/root/x/messages", "messages", 8},
		{"messages", "messages", 0},
	}
	for _, tt := range tests {
		if got := markerIndex(tt.p, tt.marker); got != tt.want {
			t.Errorf("markerIndex(%q, %q) = %d, want %d", tt.p, tt.marker, got, tt.want)
		}
	}
}
