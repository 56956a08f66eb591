package gmail

import (
	"encoding/base64"
	"strings"
	"time"

	gmail "google.golang.org/api/gmail/v1"

	"github.com/teemow/clawmail/internal/account"
	"github.com/teemow/clawmail/internal/mail"
)

// normalize converts a full-format Gmail message.
func normalize(m *gmail.Message) mail.Message {
	out := mail.Message{
		ID:        m.Id,
		ThreadID:  m.ThreadId,
		Provider:  account.Gmail.String(),
		Sender:    HeaderValue(m, "From"),
		Recipient: HeaderValue(m, "To"),
		Subject:   HeaderValue(m, "Subject"),
		Timestamp: time.UnixMilli(m.InternalDate).UTC(),
		Labels:    m.LabelIds,
		Read:      true,
	}
	for _, l := range m.LabelIds {
		if l == unreadLabel {
			out.Read = false
		}
	}

	walkParts(m.Payload, func(part *gmail.MessagePart) {
		if part.Filename != "" || (part.Body != nil && part.Body.AttachmentId != "") {
			out.HasAttachments = true
			return
		}
		if part.Body == nil || part.Body.Data == "" {
			return
		}
		switch mimeType(part.MimeType) {
		case "text/plain":
			if out.PlainBody == "" {
				out.PlainBody = decodeBody(part.Body.Data)
			}
		case "text/html":
			if out.HTMLBody == "" {
				out.HTMLBody = decodeBody(part.Body.Data)
			}
		}
	})

	if out.PlainBody == "" && out.HTMLBody != "" {
		out.PlainBody = mail.StripHTML(out.HTMLBody)
	}
	if out.PlainBody == "" {
		out.PlainBody = m.Snippet
	}
	return out
}

// HeaderValue extracts a header value from a Gmail message. Header names
// are matched case-insensitively.
func HeaderValue(m *gmail.Message, header string) string {
	if m == nil || m.Payload == nil {
		return ""
	}
	for _, h := range m.Payload.Headers {
		if strings.EqualFold(h.Name, header) {
			return h.Value
		}
	}
	return ""
}

// walkParts recursively walks through message parts
func walkParts(part *gmail.MessagePart, fn func(*gmail.MessagePart)) {
	if part == nil {
		return
	}
	fn(part)
	for _, sub := range part.Parts {
		walkParts(sub, fn)
	}
}

func mimeType(s string) string {
	if i := strings.IndexByte(s, ';'); i >= 0 {
		s = s[:i]
	}
	return strings.ToLower(strings.TrimSpace(s))
}

// decodeBody decodes base64url body data, padded or not.
func decodeBody(data string) string {
	for _, enc := range []*base64.Encoding{base64.URLEncoding, base64.RawURLEncoding, base64.StdEncoding} {
		if b, err := enc.DecodeString(data); err == nil {
			return string(b)
		}
	}
	return ""
}
