package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/wesm/lifevault/internal/config"
	"github.com/wesm/lifevault/internal/jobs"
	"github.com/wesm/lifevault/internal/progress"
	"github.com/wesm/lifevault/internal/scheduler"
	"github.com/wesm/lifevault/internal/store"
	"github.com/wesm/lifevault/internal/testutil"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeJobs registers trackers without running importers, so tests drive
// progress by hand.
type fakeJobs struct {
	reg  *progress.Registry
	last jobs.Request
}

func (f *fakeJobs) Start(req jobs.Request) (*progress.Tracker, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	f.last = req
	return f.reg.Begin(string(req.Source))
}

func (f *fakeJobs) Cancel(source string) error   { return f.reg.Cancel(source) }
func (f *fakeJobs) Registry() *progress.Registry { return f.reg }

type fakeScheduler struct {
	triggered []string
}

func (f *fakeScheduler) Status() []scheduler.AccountStatus {
	return []scheduler.AccountStatus{{Email: "a@gmail.com", Schedule: "0 2 * * *"}}
}

func (f *fakeScheduler) Trigger(email string) error {
	if email != "a@gmail.com" {
		return scheduler.ErrNotScheduled
	}
	f.triggered = append(f.triggered, email)
	return nil
}

type fixture struct {
	srv   *Server
	store *store.Store
	jobs  *fakeJobs
	sched *fakeScheduler
}

func newFixture(t *testing.T, apiKey string) *fixture {
	t.Helper()
	cfg := &config.Config{Server: config.ServerConfig{APIPort: 8080, BindAddr: "127.0.0.1", APIKey: apiKey}}
	f := &fixture{
		store: testutil.NewTestStore(t),
		jobs:  &fakeJobs{reg: progress.NewRegistry()},
		sched: &fakeScheduler{},
	}
	f.srv = NewServer(cfg, f.store, f.jobs, f.sched, testLogger())
	return f
}

func (f *fixture) do(method, path, body string, header ...string) *httptest.ResponseRecorder {
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	w := httptest.NewRecorder()
	f.srv.Router().ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(w.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func TestHealth(t *testing.T) {
	f := newFixture(t, "secret")
	w := f.do("GET", "/health", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if got := decode[map[string]string](t, w); got["status"] != "ok" {
		t.Errorf("body = %v", got)
	}
}

func TestAuth(t *testing.T) {
	f := newFixture(t, "secret")

	tests := []struct {
		name   string
		header []string
		want   int
	}{
		{"missing", nil, http.StatusUnauthorized},
		{"wrong", []string{"X-API-Key", "nope"}, http.StatusUnauthorized},
		{"x-api-key", []string{"X-API-Key", "secret"}, http.StatusOK},
		{"bearer", []string{"Authorization", "Bearer secret"}, http.StatusOK},
		{"raw authorization", []string{"Authorization", "secret"}, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := f.do("GET", "/api/v1/stats", "", tt.header...)
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
		})
	}
}

func TestStats(t *testing.T) {
	f := newFixture(t, "")
	w := f.do("GET", "/api/v1/stats", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body)
	}
	got := decode[store.Stats](t, w)
	if got.MessageCount != 0 || got.MediaItemCount != 0 {
		t.Errorf("stats on empty store = %+v", got)
	}
}

func TestStartImport(t *testing.T) {
	f := newFixture(t, "")
	dir := t.TempDir()

	body := `{"dirs":["` + dir + `"],"user_name":"Me"}`
	w := f.do("POST", "/api/v1/imports/whatsapp", body)
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d: %s", w.Code, w.Body)
	}
	snap := decode[progress.Snapshot](t, w)
	if snap.Source != "whatsapp" || snap.Status != progress.StatusInProgress || snap.JobID == "" {
		t.Errorf("snapshot = %+v", snap)
	}
	if f.jobs.last.Options.UserName != "Me" {
		t.Errorf("UserName not forwarded: %+v", f.jobs.last.Options)
	}

	// Same source while in progress.
	w = f.do("POST", "/api/v1/imports/whatsapp", body)
	if w.Code != http.StatusConflict {
		t.Errorf("second start status = %d, want 409", w.Code)
	}

	w = f.do("GET", "/api/v1/imports/whatsapp", "")
	if got := decode[progress.Snapshot](t, w); got.JobID != snap.JobID {
		t.Errorf("GET import job = %q, want %q", got.JobID, snap.JobID)
	}

	w = f.do("GET", "/api/v1/imports", "")
	list := decode[struct {
		Imports []progress.Snapshot `json:"imports"`
	}](t, w)
	if len(list.Imports) != 1 {
		t.Errorf("imports = %+v", list.Imports)
	}
}

func TestStartImportErrors(t *testing.T) {
	f := newFixture(t, "")

	tests := []struct {
		name   string
		path   string
		body   string
		status int
	}{
		{"unknown source", "/api/v1/imports/myspace", `{}`, http.StatusBadRequest},
		{"missing dir", "/api/v1/imports/imessage", `{"dirs":["/does/not/exist"]}`, http.StatusBadRequest},
		{"no dirs", "/api/v1/imports/facebook", ``, http.StatusBadRequest},
		{"gmail without account", "/api/v1/imports/gmail", `{}`, http.StatusBadRequest},
		{"bad json", "/api/v1/imports/images", `{"dirs":`, http.StatusBadRequest},
		{"unknown field", "/api/v1/imports/images", `{"directory":"x"}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := f.do("POST", tt.path, tt.body)
			if w.Code != tt.status {
				t.Errorf("status = %d, want %d: %s", w.Code, tt.status, w.Body)
			}
		})
	}
	if n := len(f.jobs.reg.List()); n != 0 {
		t.Errorf("rejected requests registered %d jobs", n)
	}
}

func TestGetImportIdle(t *testing.T) {
	f := newFixture(t, "")
	w := f.do("GET", "/api/v1/imports/instagram", "")
	if got := decode[progress.Snapshot](t, w); got.Status != progress.StatusIdle {
		t.Errorf("status = %q, want idle", got.Status)
	}
}

func TestCancelImport(t *testing.T) {
	f := newFixture(t, "")

	w := f.do("POST", "/api/v1/imports/albums/cancel", "")
	if w.Code != http.StatusConflict {
		t.Errorf("cancel idle status = %d, want 409", w.Code)
	}

	tr, err := f.jobs.reg.Begin("albums")
	testutil.MustNoErr(t, err, "Begin")
	w = f.do("POST", "/api/v1/imports/albums/cancel", "")
	if w.Code != http.StatusAccepted {
		t.Fatalf("cancel status = %d", w.Code)
	}
	if !tr.Cancelled() {
		t.Error("tracker not cancelled")
	}
}

func TestRuns(t *testing.T) {
	f := newFixture(t, "")
	ctx := context.Background()
	_, err := f.store.StartRun(ctx, "job-1", "whatsapp", "/exports/wa")
	testutil.MustNoErr(t, err, "StartRun")
	testutil.MustNoErr(t, f.store.FinishRun(ctx, "job-1", store.RunCompleted, `{}`, ""), "FinishRun")

	w := f.do("GET", "/api/v1/runs?limit=10", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	got := decode[struct {
		Runs []store.ImportRun `json:"runs"`
	}](t, w)
	if len(got.Runs) != 1 || got.Runs[0].JobID != "job-1" || got.Runs[0].Status != store.RunCompleted {
		t.Errorf("runs = %+v", got.Runs)
	}

	if w := f.do("GET", "/api/v1/runs?limit=0", ""); w.Code != http.StatusBadRequest {
		t.Errorf("limit=0 status = %d, want 400", w.Code)
	}
}

func TestDeleteMedia(t *testing.T) {
	f := newFixture(t, "")
	id, _, err := f.store.UpsertMediaItem(context.Background(),
		&store.MediaItem{SourcePath: "/photos/a.jpg", Title: "a"},
		&store.MediaBlob{Data: []byte("jpeg"), MimeType: "image/jpeg"})
	testutil.MustNoErr(t, err, "UpsertMediaItem")

	path := "/api/v1/media/" + jsonInt(id)
	if w := f.do("DELETE", path, ""); w.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d: %s", w.Code, w.Body)
	}
	if w := f.do("DELETE", path, ""); w.Code != http.StatusNotFound {
		t.Errorf("second delete status = %d, want 404", w.Code)
	}
	if w := f.do("DELETE", "/api/v1/media/abc", ""); w.Code != http.StatusBadRequest {
		t.Errorf("bad id status = %d, want 400", w.Code)
	}
}

func jsonInt(n int64) string {
	b, _ := json.Marshal(n)
	return string(b)
}

func TestScheduler(t *testing.T) {
	f := newFixture(t, "")
	w := f.do("GET", "/api/v1/scheduler/status", "")
	got := decode[SchedulerStatusResponse](t, w)
	if len(got.Accounts) != 1 || got.Accounts[0].Email != "a@gmail.com" {
		t.Errorf("accounts = %+v", got.Accounts)
	}

	if w := f.do("POST", "/api/v1/scheduler/a@gmail.com/trigger", ""); w.Code != http.StatusAccepted {
		t.Errorf("trigger status = %d", w.Code)
	}
	if w := f.do("POST", "/api/v1/scheduler/b@gmail.com/trigger", ""); w.Code != http.StatusNotFound {
		t.Errorf("trigger unscheduled status = %d, want 404", w.Code)
	}
	if len(f.sched.triggered) != 1 {
		t.Errorf("triggered = %v", f.sched.triggered)
	}
}

func TestStream(t *testing.T) {
	f := newFixture(t, "")
	ts := httptest.NewServer(f.srv.Router())
	defer ts.Close()

	tr, err := f.jobs.reg.Begin("imessage")
	testutil.MustNoErr(t, err, "Begin")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/imports/imessage/stream"
	conn, _, err := websocket.Dial(ctx, url, nil)
	testutil.MustNoErr(t, err, "Dial")
	defer conn.CloseNow()

	var first progress.Snapshot
	testutil.MustNoErr(t, wsjson.Read(ctx, conn, &first), "read initial")
	if first.Status != progress.StatusInProgress {
		t.Errorf("initial status = %q", first.Status)
	}

	tr.Update(func(s *progress.Snapshot) { s.Processed = 1; s.Total = 2 })
	tr.Finish(progress.StatusCompleted, nil)

	var last progress.Snapshot
	for {
		var snap progress.Snapshot
		if err := wsjson.Read(ctx, conn, &snap); err != nil {
			if websocket.CloseStatus(err) != websocket.StatusNormalClosure {
				t.Fatalf("read: %v", err)
			}
			break
		}
		last = snap
	}
	if last.Status != progress.StatusCompleted || last.Processed != 1 {
		t.Errorf("final snapshot = %+v", last)
	}
}

func TestStreamUnknown(t *testing.T) {
	f := newFixture(t, "")
	if w := f.do("GET", "/api/v1/imports/gmail/stream", ""); w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}
