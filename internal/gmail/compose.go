package gmail

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"mime"
	"mime/multipart"
	"net/textproto"
	"strings"

	"github.com/teemow/clawmail/internal/mail"
)

// buildRaw renders msg as an RFC 2822 message, base64url encoded for the
// Gmail send endpoint. Messages with an HTML body are sent as
// multipart/alternative.
func buildRaw(msg mail.Outgoing) (string, error) {
	if strings.TrimSpace(msg.To) == "" {
		return "", errors.New("at least one recipient is required")
	}
	if msg.Body == "" && msg.HTMLBody == "" {
		return "", errors.New("body is required")
	}
	if strings.ContainsAny(msg.To+msg.Subject, "\r\n") {
		return "", errors.New("recipient and subject must not contain line breaks")
	}

	var b bytes.Buffer
	b.WriteString("To: " + msg.To + "\r\n")
	b.WriteString("Subject: " + encodeRFC2047(msg.Subject) + "\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")

	if msg.HTMLBody == "" {
		b.WriteString("Content-Type: text/plain; charset=\"UTF-8\"\r\n\r\n")
		b.WriteString(msg.Body)
		return base64.URLEncoding.EncodeToString(b.Bytes()), nil
	}

	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	plain := msg.Body
	if plain == "" {
		plain = mail.StripHTML(msg.HTMLBody)
	}
	for _, p := range []struct{ ctype, content string }{
		{"text/plain; charset=\"UTF-8\"", plain},
		{"text/html; charset=\"UTF-8\"", msg.HTMLBody},
	} {
		pw, err := w.CreatePart(textproto.MIMEHeader{"Content-Type": {p.ctype}})
		if err != nil {
			return "", fmt.Errorf("failed to build message: %w", err)
		}
		if _, err := pw.Write([]byte(p.content)); err != nil {
			return "", fmt.Errorf("failed to build message: %w", err)
		}
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("failed to build message: %w", err)
	}

	fmt.Fprintf(&b, "Content-Type: multipart/alternative; boundary=%q\r\n\r\n", w.Boundary())
	b.Write(body.Bytes())
	return base64.URLEncoding.EncodeToString(b.Bytes()), nil
}

// encodeRFC2047 encodes a string for use in email headers according to RFC 2047
// This is necessary for non-ASCII characters (like German umlauts) in subjects
func encodeRFC2047(s string) string {
	for _, r := range s {
		if r > 127 {
			return mime.BEncoding.Encode("UTF-8", s)
		}
	}
	return s
}
