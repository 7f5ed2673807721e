// cmd/chatcli/terminal.go

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/imadgeboyega/kiekky-chat/internal/messaging"
)

const actionTimeout = 60 * time.Second

// terminal renders snapshots and turns input lines into conversation actions
type terminal struct {
	session *messaging.Session
	out     io.Writer

	mu       sync.Mutex
	conv     *messaging.Conversation
	stopObs  func()
	seen     map[string]bool
	lastLine string
}

func (t *terminal) open(partnerID string) error {
	if t.stopObs != nil {
		t.stopObs()
	}
	conv, err := t.session.Open(partnerID)
	if err != nil {
		return err
	}

	t.mu.Lock()
	t.conv = conv
	t.seen = make(map[string]bool)
	t.lastLine = ""
	t.mu.Unlock()

	t.stopObs = conv.Observe(t.render)
	conv.SetVisibility(true, true)
	fmt.Fprintf(t.out, "-- conversation with %s --\n", partnerID)
	return nil
}

// render runs on the conversation loop and must not block
func (t *terminal) render(s messaging.Snapshot) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, m := range s.Messages {
		key := m.ID
		if t.seen[key] {
			continue
		}
		t.seen[key] = true
		if m.Provisional {
			continue
		}
		fmt.Fprintln(t.out, formatMessage(m, t.conv.LocalID()))
	}

	line := fmt.Sprintf("[%s] unread=%d", s.State, s.Unread)
	if s.PartnerTyping {
		line += " (typing...)"
	}
	if line != t.lastLine {
		t.lastLine = line
		fmt.Fprintln(t.out, line)
	}
}

func formatMessage(m *messaging.Message, local string) string {
	who := "them"
	if m.SenderID == local {
		who = "me"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s %-4s %s", m.CreatedAt.Format("15:04:05"), who, messaging.Preview(m))
	if m.Attachment != nil && m.Body != "" {
		fmt.Fprintf(&b, " [%s]", m.Attachment.Location)
	}
	if who == "me" {
		switch {
		case m.ReadAt != nil:
			b.WriteString(" ✓✓ read")
		case m.DeliveredAt != nil:
			b.WriteString(" ✓✓")
		default:
			b.WriteString(" ✓")
		}
	}
	fmt.Fprintf(&b, "  #%s", m.ID)
	return b.String()
}

// handle runs one command; it returns false to quit
func (t *terminal) handle(line string) bool {
	if line == "" {
		return true
	}
	ctx, cancel := context.WithTimeout(context.Background(), actionTimeout)
	defer cancel()

	cmd, rest := line, ""
	if strings.HasPrefix(line, "/") {
		if i := strings.IndexByte(line, ' '); i > 0 {
			cmd, rest = line[:i], strings.TrimSpace(line[i+1:])
		}
	} else {
		cmd, rest = "", line
	}

	var err error
	switch cmd {
	case "":
		_, err = t.conv.Send(ctx, rest, nil)
	case "/reply":
		parts := strings.SplitN(rest, " ", 2)
		if len(parts) != 2 {
			err = errors.New("usage: /reply <id> <text>")
			break
		}
		_, err = t.conv.Send(ctx, parts[1], &parts[0])
	case "/file":
		err = t.sendFile(ctx, rest)
	case "/voice":
		err = t.sendVoice(ctx, rest)
	case "/typing":
		t.conv.NotifyTyping()
	case "/read":
		err = t.conv.MarkRead(ctx)
	case "/focus":
		t.conv.SetVisibility(rest != "off", rest != "off")
	case "/open":
		err = t.open(rest)
	case "/clear":
		err = t.conv.ClearConversation(ctx)
		if err == nil {
			t.mu.Lock()
			t.seen = make(map[string]bool)
			t.mu.Unlock()
			fmt.Fprintln(t.out, "-- conversation cleared --")
		}
	case "/quit":
		return false
	default:
		err = fmt.Errorf("unknown command %s", cmd)
	}

	if err != nil {
		fmt.Fprintf(t.out, "! %v\n", err)
	}
	return true
}

func (t *terminal) sendFile(ctx context.Context, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}
	contentType := mime.TypeByExtension(filepath.Ext(path))
	if i := strings.IndexByte(contentType, ';'); i > 0 {
		contentType = contentType[:i]
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	kind := messaging.AttachmentDocument
	switch {
	case strings.HasPrefix(contentType, "image/"):
		kind = messaging.AttachmentImage
	case strings.HasPrefix(contentType, "audio/"):
		kind = messaging.AttachmentVoice
	case contentType == "application/octet-stream":
		kind = messaging.AttachmentGeneric
	}

	fmt.Fprintf(t.out, "uploading %s (%s)\n", filepath.Base(path), humanize.Bytes(uint64(info.Size())))
	_, err = t.conv.SendFile(ctx, filepath.Base(path), contentType, kind, info.Size(), f)
	return err
}

func (t *terminal) sendVoice(ctx context.Context, args string) error {
	parts := strings.Fields(args)
	if len(parts) != 2 {
		return errors.New("usage: /voice <path> <seconds>")
	}
	blob, err := os.ReadFile(parts[0])
	if err != nil {
		return err
	}
	seconds, err := strconv.ParseFloat(parts[1], 64)
	if err != nil {
		return fmt.Errorf("invalid duration: %w", err)
	}
	_, err = t.conv.SendVoice(ctx, blob, time.Duration(seconds*float64(time.Second)))
	return err
}
