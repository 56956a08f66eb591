package gmail

import (
	"encoding/base64"
	"mime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teemow/clawmail/internal/mail"
)

func TestBuildRaw(t *testing.T) {
	tests := []struct {
		name        string
		msg         mail.Outgoing
		wantErr     bool
		contains    []string
		notContains []string
	}{
		{
			name:    "missing recipient",
			msg:     mail.Outgoing{Subject: "s", Body: "b"},
			wantErr: true,
		},
		{
			name:    "missing body",
			msg:     mail.Outgoing{To: "a@b.c", Subject: "s"},
			wantErr: true,
		},
		{
			name:    "header injection",
			msg:     mail.Outgoing{To: "a@b.c\r\nBcc: evil@x.y", Subject: "s", Body: "b"},
			wantErr: true,
		},
		{
			name:        "plain",
			msg:         mail.Outgoing{To: "a@b.c", Subject: "Hello", Body: "body"},
			contains:    []string{"To: a@b.c\r\n", "Subject: Hello\r\n", "text/plain", "\r\n\r\nbody"},
			notContains: []string{"multipart"},
		},
		{
			name:     "html alternative",
			msg:      mail.Outgoing{To: "a@b.c", Subject: "Hi", HTMLBody: "<p>Hi <i>there</i></p>"},
			contains: []string{"multipart/alternative", "text/html", "<p>Hi <i>there</i></p>", "Hi there"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw, err := buildRaw(tt.msg)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)

			decoded, err := base64.URLEncoding.DecodeString(raw)
			require.NoError(t, err)
			for _, s := range tt.contains {
				assert.Contains(t, string(decoded), s)
			}
			for _, s := range tt.notContains {
				assert.NotContains(t, string(decoded), s)
			}
		})
	}
}

func TestEncodeRFC2047(t *testing.T) {
	assert.Equal(t, "Plain subject", encodeRFC2047("Plain subject"))

	encoded := encodeRFC2047("Grüße aus München")
	assert.True(t, strings.HasPrefix(encoded, "=?UTF-8?b?"))

	decoded, err := new(mime.WordDecoder).DecodeHeader(encoded)
	require.NoError(t, err)
	assert.Equal(t, "Grüße aus München", decoded)
}
