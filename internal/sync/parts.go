package sync

import (
	"fmt"
	"io"
	"mime"
	"net/mail"
	"strings"
	"time"

	"github.com/wesm/lifevault/internal/gmail"
	"github.com/wesm/lifevault/internal/textutil"
)

// bodyParts is the result of walking a message's MIME tree.
type bodyParts struct {
	text        []*gmail.MessagePart
	html        []*gmail.MessagePart
	attachments []*gmail.MessagePart
}

// collectParts walks the MIME tree depth-first. Containers are descended
// into; leaves are split into text, HTML and attachments.
func collectParts(p *gmail.MessagePart, out *bodyParts) {
	if p == nil {
		return
	}
	if len(p.Parts) > 0 {
		for _, child := range p.Parts {
			collectParts(child, out)
		}
		return
	}
	if p.IsAttachment() {
		out.attachments = append(out.attachments, p)
		return
	}

	mt := strings.ToLower(p.MimeType)
	switch {
	case mt == "text/plain" || mt == "":
		out.text = append(out.text, p)
	case mt == "text/html":
		out.html = append(out.html, p)
	case strings.HasPrefix(mt, "multipart/"):
		// empty container
	case len(p.Body.Data) > 0 || p.Body.AttachmentID != "":
		// Inline content such as images referenced by Content-ID.
		out.attachments = append(out.attachments, p)
	}
}

// partText decodes a text leaf in its declared charset.
func partText(p *gmail.MessagePart, data []byte) string {
	return textutil.DecodeCharset(data, p.Charset())
}

// attachmentName returns the part's filename, inventing one for unnamed
// inline parts.
func attachmentName(p *gmail.MessagePart) string {
	if p.Filename != "" {
		return decodeHeader(p.Filename)
	}
	ext := ""
	if exts, _ := mime.ExtensionsByType(p.MimeType); len(exts) > 0 {
		ext = exts[0]
	}
	id := p.PartID
	if id == "" {
		id = "inline"
	}
	return "part-" + id + ext
}

var wordDecoder = &mime.WordDecoder{
	CharsetReader: func(charset string, input io.Reader) (io.Reader, error) {
		enc := textutil.GetEncodingByName(charset)
		if enc == nil {
			return nil, fmt.Errorf("unsupported charset %q", charset)
		}
		return enc.NewDecoder().Reader(input), nil
	},
}

// decodeHeader decodes RFC 2047 encoded words and repairs invalid UTF-8.
func decodeHeader(s string) string {
	if decoded, err := wordDecoder.DecodeHeader(s); err == nil {
		s = decoded
	}
	return textutil.EnsureUTF8(strings.TrimSpace(s))
}

// messageDate prefers the Date header and falls back to Gmail's internal
// date.
func messageDate(msg *gmail.Message) (time.Time, bool) {
	if h := msg.Header("Date"); h != "" {
		if t, err := mail.ParseDate(h); err == nil {
			return t.UTC(), true
		}
	}
	if msg.InternalDate > 0 {
		return time.UnixMilli(msg.InternalDate).UTC(), true
	}
	return time.Time{}, false
}
