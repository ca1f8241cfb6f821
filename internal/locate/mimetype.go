package locate

import (
	"mime"
	"path/filepath"
	"strings"
)

// knownTypes covers formats that mime.TypeByExtension gets wrong or misses
// depending on the host's mime.types.
var knownTypes = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".webp": "image/webp",
	".heic": "image/heic",
	".heif": "image/heif",
	".bmp":  "image/bmp",
	".tif":  "image/tiff",
	".tiff": "image/tiff",
	".mp4":  "video/mp4",
	".mov":  "video/quicktime",
	".m4v":  "video/x-m4v",
	".3gp":  "video/3gpp",
	".mp3":  "audio/mpeg",
	".m4a":  "audio/mp4",
	".aac":  "audio/aac",
	".opus": "audio/ogg",
	".ogg":  "audio/ogg",
	".wav":  "audio/wav",
	".caf":  "audio/x-caf",
	".amr":  "audio/amr",
	".pdf":  "application/pdf",
	".vcf":  "text/vcard",
	".txt":  "text/plain",
}

// MimeType guesses a MIME type from a file name's extension, falling back
// to application/octet-stream.
func MimeType(filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	if t, ok := knownTypes[ext]; ok {
		return t
	}
	if t := mime.TypeByExtension(ext); t != "" {
		if i := strings.Index(t, ";"); i >= 0 {
			t = strings.TrimSpace(t[:i])
		}
		return t
	}
	return "application/octet-stream"
}
