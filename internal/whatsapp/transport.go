package whatsapp

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"sync"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"google.golang.org/protobuf/proto"

	"chatflow-gateway/internal/transport"
)

const maxMediaBytes = 64 << 20

// Transport is the live whatsmeow connection of one bot.
type Transport struct {
	botID     string
	client    *whatsmeow.Client
	container *sqlstore.Container
	http      *http.Client
	ctx       context.Context
	events    chan<- transport.Event

	mu     sync.Mutex
	closed bool
}

var _ transport.Transport = (*Transport)(nil)

func (t *Transport) Platform() transport.Platform { return transport.PlatformWhatsApp }

// conversationID keeps plain phone numbers for user chats and the full
// JID for everything else.
func conversationID(full, user, server string) string {
	if server == types.DefaultUserServer {
		return user
	}
	return full
}

// parseRecipient accepts a bare phone number or a full JID.
func parseRecipient(to string) (types.JID, error) {
	to = strings.TrimSpace(to)
	if to == "" {
		return types.JID{}, fmt.Errorf("empty recipient")
	}
	if strings.Contains(to, "@") {
		jid, err := types.ParseJID(to)
		if err != nil {
			return types.JID{}, fmt.Errorf("parse recipient %q: %w", to, err)
		}
		return jid, nil
	}
	return types.NewJID(strings.TrimPrefix(to, "+"), types.DefaultUserServer), nil
}

func (t *Transport) SendText(ctx context.Context, to, text string) error {
	jid, err := parseRecipient(to)
	if err != nil {
		return err
	}
	_, err = t.client.SendMessage(ctx, jid, &waE2E.Message{Conversation: proto.String(text)})
	if err != nil {
		return fmt.Errorf("send text: %w", err)
	}
	return nil
}

// SendMenu renders the options as a numbered text list; the reply is
// matched against the option text or its number.
func (t *Transport) SendMenu(ctx context.Context, to, text string, options []string) error {
	return t.SendText(ctx, to, transport.RenderMenu(text, options))
}

func (t *Transport) SendMedia(ctx context.Context, to string, kind transport.MediaKind, url, caption string) error {
	jid, err := parseRecipient(to)
	if err != nil {
		return err
	}
	data, mimetype, err := t.download(ctx, url)
	if err != nil {
		return err
	}

	msg, err := t.buildMedia(ctx, kind, data, mimetype, path.Base(url), caption)
	if err != nil {
		return err
	}
	if _, err := t.client.SendMessage(ctx, jid, msg); err != nil {
		return fmt.Errorf("send %s: %w", kind, err)
	}
	return nil
}

func (t *Transport) buildMedia(ctx context.Context, kind transport.MediaKind, data []byte, mimetype, fileName, caption string) (*waE2E.Message, error) {
	mediaType := map[transport.MediaKind]whatsmeow.MediaType{
		transport.MediaImage:    whatsmeow.MediaImage,
		transport.MediaVideo:    whatsmeow.MediaVideo,
		transport.MediaAudio:    whatsmeow.MediaAudio,
		transport.MediaDocument: whatsmeow.MediaDocument,
	}[kind]
	if mediaType == "" {
		return nil, fmt.Errorf("unsupported media kind %q", kind)
	}

	up, err := t.client.Upload(ctx, data, mediaType)
	if err != nil {
		return nil, fmt.Errorf("upload %s: %w", kind, err)
	}
	size := proto.Uint64(uint64(len(data)))

	switch kind {
	case transport.MediaImage:
		return &waE2E.Message{ImageMessage: &waE2E.ImageMessage{
			Caption:       optional(caption),
			Mimetype:      proto.String(mimetype),
			URL:           proto.String(up.URL),
			DirectPath:    proto.String(up.DirectPath),
			MediaKey:      up.MediaKey,
			FileEncSHA256: up.FileEncSHA256,
			FileSHA256:    up.FileSHA256,
			FileLength:    size,
		}}, nil
	case transport.MediaVideo:
		return &waE2E.Message{VideoMessage: &waE2E.VideoMessage{
			Caption:       optional(caption),
			Mimetype:      proto.String(mimetype),
			URL:           proto.String(up.URL),
			DirectPath:    proto.String(up.DirectPath),
			MediaKey:      up.MediaKey,
			FileEncSHA256: up.FileEncSHA256,
			FileSHA256:    up.FileSHA256,
			FileLength:    size,
		}}, nil
	case transport.MediaAudio:
		return &waE2E.Message{AudioMessage: &waE2E.AudioMessage{
			Mimetype:      proto.String(mimetype),
			URL:           proto.String(up.URL),
			DirectPath:    proto.String(up.DirectPath),
			MediaKey:      up.MediaKey,
			FileEncSHA256: up.FileEncSHA256,
			FileSHA256:    up.FileSHA256,
			FileLength:    size,
			PTT:           proto.Bool(true),
		}}, nil
	default:
		return &waE2E.Message{DocumentMessage: &waE2E.DocumentMessage{
			Caption:       optional(caption),
			Title:         proto.String(fileName),
			FileName:      proto.String(fileName),
			Mimetype:      proto.String(mimetype),
			URL:           proto.String(up.URL),
			DirectPath:    proto.String(up.DirectPath),
			MediaKey:      up.MediaKey,
			FileEncSHA256: up.FileEncSHA256,
			FileSHA256:    up.FileSHA256,
			FileLength:    size,
		}}, nil
	}
}

func (t *Transport) download(ctx context.Context, url string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("media request: %w", err)
	}
	resp, err := t.http.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("download media: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, "", fmt.Errorf("download media: status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxMediaBytes+1))
	if err != nil {
		return nil, "", fmt.Errorf("read media: %w", err)
	}
	if len(data) > maxMediaBytes {
		return nil, "", fmt.Errorf("media exceeds %d bytes", maxMediaBytes)
	}
	mimetype := resp.Header.Get("Content-Type")
	if mimetype == "" || mimetype == "application/octet-stream" {
		mimetype = http.DetectContentType(data)
	}
	return data, mimetype, nil
}

func (t *Transport) SetPresence(ctx context.Context, to string, typing bool) error {
	jid, err := parseRecipient(to)
	if err != nil {
		return err
	}
	state := types.ChatPresencePaused
	if typing {
		state = types.ChatPresenceComposing
	}
	return t.client.SendChatPresence(ctx, jid, state, types.ChatPresenceMediaText)
}

func (t *Transport) Logout(ctx context.Context) error {
	return t.client.Logout(ctx)
}

func (t *Transport) Close() error {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
	t.client.Disconnect()
	return t.container.Close()
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return proto.String(s)
}
