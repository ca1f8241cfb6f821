package photos

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"path/filepath"
	"testing"

	"github.com/wesm/lifevault/internal/importer"
	"github.com/wesm/lifevault/internal/testutil"
)

func pngBytes(t *testing.T, shade uint8) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, 8, 8))
	for i := range img.Pix {
		img.Pix[i] = shade
	}
	img.SetGray(0, 0, color.Gray{Y: shade + 1})
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode: %v", err)
	}
	return buf.Bytes()
}

func TestExcluded(t *testing.T) {
	tests := []struct {
		path     string
		isDir    bool
		patterns []string
		want     bool
	}{
		{"/p/Thumbs.db", false, nil, true},
		{"/p/desktop.ini", false, nil, true},
		{"/p/.DS_Store", false, nil, true},
		{"/p/._IMG_1.jpg", false, nil, true},
		{"/p/.photostructure", true, nil, true},
		{"/p/IMG_1.jpg", false, nil, false},
		{"/p/Private", true, []string{"Private"}, true},
		{"/p/raw/IMG_1.jpg", false, []string{"/p/raw/*"}, true},
		{"/p/IMG_1.jpg", false, []string{"*.png"}, false},
	}
	for _, tt := range tests {
		if got := Excluded(tt.path, tt.isDir, tt.patterns); got != tt.want {
			t.Errorf("Excluded(%q, %v, %v) = %v, want %v", tt.path, tt.isDir, tt.patterns, got, tt.want)
		}
	}
}

func TestDirTags(t *testing.T) {
	root := filepath.FromSlash("/photos")
	testutil.AssertStrings(t, DirTags(root, filepath.FromSlash("/photos/2019/Trip/a.jpg")), "2019", "Trip")
	if got := DirTags(root, filepath.FromSlash("/photos/a.jpg")); len(got) != 0 {
		t.Errorf("DirTags(top level) = %v, want none", got)
	}
}

func TestImport(t *testing.T) {
	st := testutil.NewTestStore(t)
	root := t.TempDir()
	testutil.WriteFile(t, root, "2019/Trip/a.png", pngBytes(t, 10))
	testutil.WriteFile(t, root, "2019/b.png", pngBytes(t, 20))
	testutil.WriteFile(t, root, "2019/Thumbs.db", []byte("x"))
	testutil.WriteFile(t, root, "2019/._b.png", []byte("x"))
	testutil.WriteFile(t, root, ".photostructure/c.png", pngBytes(t, 30))
	testutil.WriteFile(t, root, "notes.txt", []byte("x"))
	testutil.WriteFile(t, root, "broken.jpg", []byte("not an image"))

	opts := importer.Options{CreateThumbnails: true, ThumbnailSize: 4}
	stats, err := Import(context.Background(), st, root, opts)
	testutil.MustNoErr(t, err, "Import")

	if stats.TotalUnits != 3 || stats.UnitsProcessed != 3 || stats.MessagesCreated != 3 {
		t.Errorf("stats = %+v", stats)
	}

	id, err := st.GetMediaItemIDByPath(context.Background(), filepath.Join(root, "2019", "Trip", "a.png"))
	testutil.MustNoErr(t, err, "GetMediaItemIDByPath")
	item, err := st.GetMediaItem(context.Background(), id)
	testutil.MustNoErr(t, err, "GetMediaItem")
	testutil.AssertStrings(t, item.Tags, "2019", "Trip")
	if item.Title != "a" || item.Year == 0 {
		t.Errorf("item = %+v", item)
	}

	// PNGs decode, so thumbnails exist; the broken JPEG is still stored.
	if n := testutil.CountRows(t, st, "SELECT COUNT(*) FROM media_blobs WHERE thumbnail IS NOT NULL"); n != 2 {
		t.Errorf("thumbnails = %d, want 2", n)
	}

	// Re-import updates in place.
	stats, err = Import(context.Background(), st, root, opts)
	testutil.MustNoErr(t, err, "re-Import")
	if stats.MessagesUpdated != 3 || stats.MessagesCreated != 0 {
		t.Errorf("re-import created/updated = %d/%d", stats.MessagesCreated, stats.MessagesUpdated)
	}
	if n := testutil.CountRows(t, st, "SELECT COUNT(*) FROM media_items"); n != 3 {
		t.Errorf("media items = %d, want 3", n)
	}
}

func TestImport_EmptyFileSkipped(t *testing.T) {
	st := testutil.NewTestStore(t)
	root := t.TempDir()
	testutil.WriteFile(t, root, "a_empty.jpg", nil)
	testutil.WriteFile(t, root, "b.png", pngBytes(t, 1))
	testutil.WriteFile(t, root, "c.png", pngBytes(t, 2))

	stats, err := Import(context.Background(), st, root, importer.Options{})
	testutil.MustNoErr(t, err, "Import")
	if stats.Errors != 1 || stats.MessagesCreated != 2 || stats.UnitsProcessed != 3 {
		t.Errorf("stats = %+v", stats)
	}
	if n := testutil.CountRows(t, st, "SELECT COUNT(*) FROM media_items"); n != 2 {
		t.Errorf("media items = %d, want 2", n)
	}
}

func TestImportRoots_MaxImagesShared(t *testing.T) {
	st := testutil.NewTestStore(t)
	a, b := t.TempDir(), t.TempDir()
	for i, name := range []string{"1.png", "2.png", "3.png"} {
		testutil.WriteFile(t, a, name, pngBytes(t, uint8(10+i)))
		testutil.WriteFile(t, b, name, pngBytes(t, uint8(50+i)))
	}

	stats, err := ImportRoots(context.Background(), st, []string{a, b}, importer.Options{MaxImages: 4})
	testutil.MustNoErr(t, err, "ImportRoots")
	if stats.MessagesCreated != 4 {
		t.Errorf("created = %d, want 4", stats.MessagesCreated)
	}
	if n := testutil.CountRows(t, st, "SELECT COUNT(*) FROM media_items WHERE source_path LIKE ?", b+"%"); n != 1 {
		t.Errorf("images from second root = %d, want 1", n)
	}
}

func TestImport_ExcludePatterns(t *testing.T) {
	st := testutil.NewTestStore(t)
	root := t.TempDir()
	testutil.WriteFile(t, root, "keep/a.png", pngBytes(t, 1))
	testutil.WriteFile(t, root, "skip/b.png", pngBytes(t, 2))

	stats, err := Import(context.Background(), st, root, importer.Options{ExcludePatterns: []string{"skip"}})
	testutil.MustNoErr(t, err, "Import")
	if stats.MessagesCreated != 1 {
		t.Errorf("created = %d, want 1", stats.MessagesCreated)
	}
}

func TestImport_Cancelled(t *testing.T) {
	st := testutil.NewTestStore(t)
	root := t.TempDir()
	testutil.WriteFile(t, root, "a.png", pngBytes(t, 1))
	testutil.WriteFile(t, root, "b.png", pngBytes(t, 2))

	calls := 0
	stats, err := Import(context.Background(), st, root, importer.Options{
		Canceller: importer.CancellerFunc(func() bool {
			calls++
			return calls > 1
		}),
	})
	testutil.MustNoErr(t, err, "Import")
	if !stats.Cancelled || stats.UnitsProcessed != 1 {
		t.Errorf("stats = %+v", stats)
	}
}
