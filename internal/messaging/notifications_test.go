package messaging

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPreview(t *testing.T) {
	tests := []struct {
		name string
		msg  *Message
		want string
	}{
		{"text", &Message{Body: "hello"}, "hello"},
		{"caption wins", &Message{Body: "look", Attachment: &Attachment{Kind: AttachmentImage}}, "look"},
		{"photo", &Message{Attachment: &Attachment{Kind: AttachmentImage}}, "Sent a photo"},
		{"voice", &Message{Attachment: &Attachment{Kind: AttachmentVoice, Duration: 75.4}}, "Sent a voice note (1:15)"},
		{"document", &Message{Attachment: &Attachment{Kind: AttachmentDocument, Filename: "cv.pdf", Size: 2048}}, "Sent cv.pdf (2.0 kB)"},
		{"generic", &Message{Attachment: &Attachment{Kind: AttachmentGeneric}}, "Sent a file"},
		{"empty", &Message{}, "Sent a message"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Preview(tt.msg))
		})
	}
}
