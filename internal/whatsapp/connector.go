// Package whatsapp connects bots to WhatsApp as linked devices over the
// multi-device web protocol.
package whatsapp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/mdp/qrterminal/v3"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"

	_ "github.com/mattn/go-sqlite3"

	"chatflow-gateway/internal/session"
	"chatflow-gateway/internal/transport"
)

var ErrInvalidBotID = errors.New("whatsapp: invalid bot id")

// connectMu serializes Connect calls; the device fingerprint lives in
// package-level whatsmeow state read during the handshake.
var connectMu sync.Mutex

// Connector opens one whatsmeow client per bot, each with its own
// credential database under AuthDir.
type Connector struct {
	AuthDir string
	PrintQR bool
	// HTTP downloads media before it is uploaded to WhatsApp.
	HTTP *http.Client
}

func NewConnector(authDir string, printQR bool) *Connector {
	return &Connector{
		AuthDir: authDir,
		PrintQR: printQR,
		HTTP:    &http.Client{Timeout: 60 * time.Second},
	}
}

func (c *Connector) Platform() transport.Platform { return transport.PlatformWhatsApp }

func (c *Connector) credentialsPath(botID string) (string, error) {
	if botID == "" || strings.ContainsAny(botID, `/\`) || strings.Contains(botID, "..") {
		return "", fmt.Errorf("%w: %q", ErrInvalidBotID, botID)
	}
	return filepath.Join(c.AuthDir, botID+".db"), nil
}

func (c *Connector) HasCredentials(botID string, _ session.Options) bool {
	path, err := c.credentialsPath(botID)
	if err != nil {
		return false
	}
	_, err = os.Stat(path)
	return err == nil
}

// PurgeCredentials removes the bot's credential database so the next
// connect starts a fresh QR pairing.
func (c *Connector) PurgeCredentials(botID string) error {
	path, err := c.credentialsPath(botID)
	if err != nil {
		return err
	}
	for _, p := range []string{path, path + "-wal", path + "-shm", path + "-journal"} {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("remove %s: %w", p, err)
		}
	}
	return nil
}

func (c *Connector) Connect(ctx context.Context, botID string, _ session.Options, events chan<- transport.Event) (transport.Transport, error) {
	path, err := c.credentialsPath(botID)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(c.AuthDir, 0o700); err != nil {
		return nil, fmt.Errorf("create auth dir: %w", err)
	}

	container, err := sqlstore.New(ctx, "sqlite3", "file:"+path+"?_foreign_keys=on", waLog.Noop)
	if err != nil {
		return nil, fmt.Errorf("open credential store: %w", err)
	}
	device, err := container.GetFirstDevice(ctx)
	if err != nil {
		_ = container.Close()
		return nil, fmt.Errorf("load device: %w", err)
	}

	client := whatsmeow.NewClient(device, waLog.Noop)
	client.EnableAutoReconnect = false

	t := &Transport{
		botID:     botID,
		client:    client,
		container: container,
		http:      c.HTTP,
		ctx:       ctx,
		events:    events,
	}
	client.AddEventHandler(t.handleEvent)

	if client.Store.ID == nil {
		qrChan, err := client.GetQRChannel(ctx)
		if err != nil {
			_ = container.Close()
			return nil, fmt.Errorf("qr channel: %w", err)
		}
		go t.forwardQR(qrChan, c.PrintQR)
	}

	connectMu.Lock()
	FingerprintFor(botID).Apply()
	err = client.Connect()
	connectMu.Unlock()
	if err != nil {
		_ = container.Close()
		return nil, fmt.Errorf("connect: %w", err)
	}
	return t, nil
}

func (t *Transport) forwardQR(qrChan <-chan whatsmeow.QRChannelItem, printQR bool) {
	for item := range qrChan {
		switch item.Event {
		case whatsmeow.QRChannelEventCode:
			if printQR {
				qrterminal.GenerateHalfBlock(item.Code, qrterminal.L, os.Stdout)
			}
			t.emit(transport.Event{Kind: transport.EventQR, QR: item.Code})
		case "timeout":
			t.emit(transport.Event{Kind: transport.EventClose, Code: transport.CodeTimedOut, Reason: "qr timeout"})
		case "success":
			slog.InfoContext(t.ctx, "qr pairing succeeded")
		default:
			if item.Error != nil {
				slog.WarnContext(t.ctx, "qr channel error", "event", item.Event, "error", item.Error)
			}
		}
	}
}

func (t *Transport) handleEvent(evt any) {
	if ev, ok := translateEvent(evt, t.client); ok {
		t.emit(ev)
	}
}

// translateEvent maps whatsmeow events onto transport events.
func translateEvent(evt any, client *whatsmeow.Client) (transport.Event, bool) {
	switch v := evt.(type) {
	case *events.Message:
		msg, ok := inboundFromMessage(v)
		if !ok {
			return transport.Event{}, false
		}
		return transport.Event{Kind: transport.EventInbound, Message: msg}, true
	case *events.Connected:
		ev := transport.Event{Kind: transport.EventOpen}
		if client != nil && client.Store != nil && client.Store.ID != nil {
			ev.DeviceID = client.Store.ID.String()
		}
		return ev, true
	case *events.LoggedOut:
		return transport.Event{Kind: transport.EventClose, Code: transport.CodeLoggedOut, Reason: transport.ReasonLoggedOut}, true
	case *events.StreamReplaced:
		return transport.Event{Kind: transport.EventClose, Code: transport.CodeConflict, Reason: "stream replaced"}, true
	case *events.TemporaryBan:
		return transport.Event{Kind: transport.EventClose, Code: transport.CodeForbidden, Reason: v.String()}, true
	case *events.ConnectFailure:
		return transport.Event{Kind: transport.EventClose, Code: int(v.Reason), Reason: v.Message}, true
	case *events.StreamError:
		return transport.Event{Kind: transport.EventClose, Code: transport.CodeUnavailable, Reason: "stream error " + v.Code}, true
	case *events.Disconnected:
		return transport.Event{Kind: transport.EventClose, Code: transport.CodeConnectionLost, Reason: "connection lost"}, true
	}
	return transport.Event{}, false
}

// inboundFromMessage extracts the text of a message event. Messages
// without text are dropped.
func inboundFromMessage(v *events.Message) (*transport.InboundMessage, bool) {
	if v == nil || v.Message == nil {
		return nil, false
	}
	m := v.Message
	text := m.GetConversation()
	if text == "" {
		text = m.GetExtendedTextMessage().GetText()
	}
	if text == "" {
		text = m.GetImageMessage().GetCaption()
	}
	if text == "" {
		text = m.GetVideoMessage().GetCaption()
	}
	if text == "" {
		text = m.GetButtonsResponseMessage().GetSelectedDisplayText()
	}
	if text == "" {
		text = m.GetListResponseMessage().GetTitle()
	}
	if text == "" {
		return nil, false
	}

	return &transport.InboundMessage{
		ID:             v.Info.ID,
		ConversationID: conversationID(v.Info.Chat.String(), v.Info.Chat.User, v.Info.Chat.Server),
		SenderName:     v.Info.PushName,
		Text:           text,
		Platform:       transport.PlatformWhatsApp,
		FromMe:         v.Info.IsFromMe,
		IsGroup:        v.Info.IsGroup,
		IsBroadcast:    v.Info.Chat.Server == types.BroadcastServer,
		Timestamp:      v.Info.Timestamp,
	}, true
}

// emit delivers ev unless the session context is gone. Nothing is
// delivered after a close event.
func (t *Transport) emit(ev transport.Event) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	if ev.Kind == transport.EventClose {
		t.closed = true
	}
	t.mu.Unlock()

	select {
	case t.events <- ev:
	case <-t.ctx.Done():
	}
}
