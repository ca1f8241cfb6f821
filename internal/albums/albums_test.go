package albums

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/wesm/lifevault/internal/importer"
	"github.com/wesm/lifevault/internal/testutil"
)

type obj = map[string]any

func setupExport(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	testutil.WriteFile(t, root, "your_facebook_activity/posts/media/Trip_1/a.jpg", []byte("aaa"))
	testutil.WriteFile(t, root, "your_facebook_activity/posts/media/Trip_1/cover.jpg", []byte("ccc"))
	testutil.WriteJSON(t, root, "your_facebook_activity/posts/album/0.json", obj{
		"name":                    "CafÃ© trip",
		"last_modified_timestamp": 1500000000,
		"cover_photo":             obj{"uri": "your_facebook_activity/posts/media/Trip_1/cover.jpg"},
		"photos": []obj{
			{
				"uri":                "your_facebook_activity/posts/media/Trip_1/a.jpg",
				"creation_timestamp": 1500000100,
				"media_metadata": obj{"photo_metadata": obj{"exif_data": []obj{
					{"taken_timestamp": 1499999999, "latitude": 48.8584, "longitude": 2.2945},
				}}},
			},
			{"uri": "your_facebook_activity/posts/media/Trip_1/missing.jpg"},
		},
	})
	return root
}

func TestImport(t *testing.T) {
	st := testutil.NewTestStore(t)
	root := setupExport(t)
	ctx := context.Background()

	stats, err := Import(ctx, st, root, importer.Options{})
	testutil.MustNoErr(t, err, "Import")

	if stats.UnitsProcessed != 1 || stats.MessagesCreated != 2 {
		t.Errorf("stats = %+v", stats)
	}
	if stats.AttachmentsFound != 2 || stats.AttachmentsMissing != 1 {
		t.Errorf("found/missing = %d/%d, want 2/1", stats.AttachmentsFound, stats.AttachmentsMissing)
	}
	testutil.AssertStrings(t, stats.MissingAttachmentFilenames, "Café trip/missing.jpg")

	var albumID int64
	var name string
	var cover []byte
	err = st.DB().QueryRow(`SELECT id, name, cover_data FROM facebook_albums`).Scan(&albumID, &name, &cover)
	testutil.MustNoErr(t, err, "query album")
	if name != "Café trip" || string(cover) != "ccc" {
		t.Errorf("album = %q cover=%q", name, cover)
	}

	images, err := st.ListAlbumImages(ctx, albumID)
	testutil.MustNoErr(t, err, "ListAlbumImages")
	if len(images) != 2 {
		t.Fatalf("images = %d, want 2", len(images))
	}
	a := images[0]
	if string(a.Data) != "aaa" || a.MimeType != "image/jpeg" {
		t.Errorf("image a = %q %q", a.Data, a.MimeType)
	}
	if !a.TakenAt.Valid || !a.TakenAt.Time.Equal(time.Unix(1499999999, 0)) {
		t.Errorf("taken at = %v", a.TakenAt)
	}
	if !a.HasGPS || a.Latitude != 48.8584 || a.Longitude != 2.2945 {
		t.Errorf("gps = %v %v %v", a.HasGPS, a.Latitude, a.Longitude)
	}
	if images[1].Data != nil {
		t.Error("missing image should have NULL data")
	}

	// Albums are never deduplicated.
	_, err = Import(ctx, st, root, importer.Options{})
	testutil.MustNoErr(t, err, "re-Import")
	if n := testutil.CountRows(t, st, "SELECT COUNT(*) FROM facebook_albums"); n != 2 {
		t.Errorf("albums = %d, want 2", n)
	}
}

func TestImport_BadJSONCounted(t *testing.T) {
	st := testutil.NewTestStore(t)
	root := t.TempDir()
	testutil.WriteFile(t, root, "album/0.json", []byte("{not json"))
	testutil.WriteJSON(t, root, "album/1.json", obj{"name": "Ok", "photos": []obj{}})

	stats, err := Import(context.Background(), st, filepath.Join(root, "album"), importer.Options{})
	testutil.MustNoErr(t, err, "Import")
	if stats.Errors != 1 || stats.UnitsProcessed != 2 {
		t.Errorf("stats = %+v", stats)
	}
	if n := testutil.CountRows(t, st, "SELECT COUNT(*) FROM facebook_albums"); n != 1 {
		t.Errorf("albums = %d, want 1", n)
	}
}

func TestImport_Cancelled(t *testing.T) {
	st := testutil.NewTestStore(t)
	root := setupExport(t)
	stats, err := Import(context.Background(), st, root, importer.Options{
		Canceller: importer.CancellerFunc(func() bool { return true }),
	})
	testutil.MustNoErr(t, err, "Import")
	if !stats.Cancelled || stats.UnitsProcessed != 0 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestImport_InvalidDirectory(t *testing.T) {
	st := testutil.NewTestStore(t)
	_, err := Import(context.Background(), st, filepath.Join(t.TempDir(), "nope"), importer.Options{})
	if !errors.Is(err, importer.ErrInvalidDirectory) {
		t.Errorf("err = %v, want ErrInvalidDirectory", err)
	}
}
