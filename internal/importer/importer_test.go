package importer_test

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"iter"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/wesm/lifevault/internal/importer"
	"github.com/wesm/lifevault/internal/store"
	"github.com/wesm/lifevault/internal/testutil"
)

func TestParseSource(t *testing.T) {
	for _, s := range importer.Sources() {
		got, ok := importer.ParseSource(string(s))
		if !ok || got != s {
			t.Errorf("ParseSource(%q) = (%q, %v)", s, got, ok)
		}
	}
	if _, ok := importer.ParseSource("myspace"); ok {
		t.Error("ParseSource(myspace) should fail")
	}
}

func TestValidateDir(t *testing.T) {
	dir := t.TempDir()
	file := testutil.WriteFile(t, dir, "f.txt", []byte("x"))

	if err := importer.ValidateDir(dir); err != nil {
		t.Errorf("ValidateDir(dir) = %v", err)
	}
	for _, bad := range []string{"", file, filepath.Join(dir, "missing")} {
		if err := importer.ValidateDir(bad); !errors.Is(err, importer.ErrInvalidDirectory) {
			t.Errorf("ValidateDir(%q) = %v, want ErrInvalidDirectory", bad, err)
		}
	}
}

func TestStats_MarshalJSON(t *testing.T) {
	s := importer.NewStats("albums")
	s.UnitsProcessed = 2
	s.TotalUnits = 3
	s.RecordStored(false)
	s.RecordStored(true)
	s.RecordMissing("Trip", "a.jpg")
	s.RecordMissing("Trip", "a.jpg")
	s.RecordMissing("Home", "a.jpg")

	data, err := json.Marshal(s)
	testutil.MustNoErr(t, err, "marshal")

	var got map[string]any
	testutil.MustNoErr(t, json.Unmarshal(data, &got), "unmarshal")
	want := map[string]any{
		"albums_processed":             float64(2),
		"total_albums":                 float64(3),
		"messages_imported":            float64(2),
		"messages_created":             float64(1),
		"messages_updated":             float64(1),
		"attachments_found":            float64(0),
		"attachments_missing":          float64(3),
		"missing_attachment_filenames": []any{"Trip/a.jpg", "Home/a.jpg"},
		"errors":                       float64(0),
		"cancelled":                    false,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("stats JSON mismatch (-want +got):\n%s", diff)
	}
}

func TestStats_Add(t *testing.T) {
	total := importer.NewStats("files")
	a := importer.NewStats("files")
	a.RecordMissing("", "x.jpg")
	a.RecordStored(false)
	b := importer.NewStats("files")
	b.RecordMissing("", "x.jpg")
	b.Cancelled = true

	total.Add(a)
	total.Add(b)
	if total.MessagesCreated != 1 || total.AttachmentsMissing != 2 || !total.Cancelled {
		t.Errorf("total = %+v", total)
	}
	testutil.AssertStrings(t, total.MissingAttachmentFilenames, "x.jpg")
}

// fakeParser yields a fixed message list per unit.
type fakeParser struct {
	units    []importer.Unit
	messages map[string][]*importer.NormalizedMessage
	errs     map[string]error
	onParse  func(unit importer.Unit)
	post     int
}

func (p *fakeParser) Service() string { return "Test" }

func (p *fakeParser) Units(string) ([]importer.Unit, error) { return p.units, nil }

func (p *fakeParser) Parse(u importer.Unit) iter.Seq2[*importer.NormalizedMessage, error] {
	return func(yield func(*importer.NormalizedMessage, error) bool) {
		if p.onParse != nil {
			p.onParse(u)
		}
		if err := p.errs[u.Name]; err != nil {
			if !yield(nil, err) {
				return
			}
		}
		for _, m := range p.messages[u.Name] {
			if !yield(m, nil) {
				return
			}
		}
	}
}

func (p *fakeParser) PostProcess(context.Context, *store.Store) error {
	p.post++
	return nil
}

func chatMsg(session string, minute int, att *importer.AttachmentRef) *importer.NormalizedMessage {
	return &importer.NormalizedMessage{
		ChatMessage: store.ChatMessage{
			ChatSession: sql.NullString{String: session, Valid: true},
			MessageDate: time.Date(2024, 1, 1, 12, minute, 0, 0, time.UTC),
			Service:     "Test",
			Type:        sql.NullString{String: "Incoming", Valid: true},
			SenderID:    sql.NullString{String: "x", Valid: true},
		},
		Attachment: att,
	}
}

func TestRunChat(t *testing.T) {
	st := testutil.NewTestStore(t)
	root := t.TempDir()
	photo := testutil.WriteFile(t, root, "a/photo.jpg", []byte("jpeg"))

	p := &fakeParser{
		units: []importer.Unit{{Name: "a"}, {Name: "b"}},
		messages: map[string][]*importer.NormalizedMessage{
			"a": {
				chatMsg("a", 1, &importer.AttachmentRef{Name: "photo.jpg", Path: photo}),
				chatMsg("a", 2, &importer.AttachmentRef{Name: "gone.jpg"}),
			},
			"b": {chatMsg("b", 3, nil)},
		},
		errs: map[string]error{"b": errors.New("bad row")},
	}

	var reports []importer.Stats
	opts := importer.Options{Reporter: importer.ReporterFunc(func(s importer.Stats) {
		reports = append(reports, s)
	})}

	stats, err := importer.RunChat(context.Background(), st, p, root, opts)
	testutil.MustNoErr(t, err, "RunChat")

	if stats.UnitsProcessed != 2 || stats.MessagesCreated != 3 || stats.Errors != 1 {
		t.Errorf("stats = %+v", stats)
	}
	if stats.AttachmentsFound != 1 || stats.AttachmentsMissing != 1 {
		t.Errorf("attachments found/missing = %d/%d, want 1/1", stats.AttachmentsFound, stats.AttachmentsMissing)
	}
	testutil.AssertStrings(t, stats.MissingAttachmentFilenames, "a/gone.jpg")
	if p.post != 1 {
		t.Errorf("post-process ran %d times, want 1", p.post)
	}
	// initial, one per unit, final
	if len(reports) != 4 {
		t.Errorf("reports = %d, want 4", len(reports))
	}

	// A second run updates instead of inserting.
	stats, err = importer.RunChat(context.Background(), st, p, root, importer.Options{})
	testutil.MustNoErr(t, err, "RunChat again")
	if stats.MessagesCreated != 0 || stats.MessagesUpdated != 3 {
		t.Errorf("rerun created/updated = %d/%d, want 0/3", stats.MessagesCreated, stats.MessagesUpdated)
	}
	if n := testutil.CountRows(t, st, "SELECT COUNT(*) FROM messages"); n != 3 {
		t.Errorf("messages = %d, want 3", n)
	}
}

func TestRunChat_CancelBetweenUnits(t *testing.T) {
	st := testutil.NewTestStore(t)

	cancelled := false
	p := &fakeParser{
		units: []importer.Unit{{Name: "a"}, {Name: "b"}, {Name: "c"}},
		messages: map[string][]*importer.NormalizedMessage{
			"a": {chatMsg("a", 1, nil), chatMsg("a", 2, nil)},
			"b": {chatMsg("b", 3, nil)},
			"c": {chatMsg("c", 4, nil)},
		},
		// Cancellation requested while unit a is being parsed.
		onParse: func(u importer.Unit) {
			if u.Name == "a" {
				cancelled = true
			}
		},
	}
	opts := importer.Options{Canceller: importer.CancellerFunc(func() bool { return cancelled })}

	stats, err := importer.RunChat(context.Background(), st, p, t.TempDir(), opts)
	testutil.MustNoErr(t, err, "RunChat")
	if !stats.Cancelled {
		t.Error("stats.Cancelled = false")
	}
	if stats.UnitsProcessed != 1 || stats.MessagesCreated != 2 {
		t.Errorf("processed %d units / %d messages, want 1 / 2", stats.UnitsProcessed, stats.MessagesCreated)
	}
}

func TestRunChat_ContextCancelled(t *testing.T) {
	st := testutil.NewTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := &fakeParser{units: []importer.Unit{{Name: "a"}}}
	stats, err := importer.RunChat(ctx, st, p, t.TempDir(), importer.Options{})
	testutil.MustNoErr(t, err, "RunChat")
	if !stats.Cancelled || stats.UnitsProcessed != 0 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestRunChat_InvalidDirectory(t *testing.T) {
	st := testutil.NewTestStore(t)
	_, err := importer.RunChat(context.Background(), st, &fakeParser{}, filepath.Join(t.TempDir(), "nope"), importer.Options{})
	if !errors.Is(err, importer.ErrInvalidDirectory) {
		t.Errorf("err = %v, want ErrInvalidDirectory", err)
	}
}

func TestReadAttachment_SizeLimit(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "big.bin")
	testutil.MustNoErr(t, os.WriteFile(path, make([]byte, 64), 0644), "write")

	if _, err := importer.ReadAttachment(path, 32); err == nil {
		t.Error("ReadAttachment should reject files over the limit")
	}
	data, err := importer.ReadAttachment(path, 64)
	testutil.MustNoErr(t, err, "ReadAttachment")
	if len(data) != 64 {
		t.Errorf("len = %d, want 64", len(data))
	}
}
