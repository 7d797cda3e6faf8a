// Package telegram connects bots to the Telegram Bot API over long polling.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/mymmrac/telego"
	"github.com/mymmrac/telego/telegoapi"

	"chatflow-gateway/internal/session"
	"chatflow-gateway/internal/transport"
)

const codePollingStopped = 500

// Connector opens one long-polling bot per gateway bot. The bot token is
// the only credential and it lives in the bot record.
type Connector struct {
	// APIServer overrides the Bot API endpoint, empty means api.telegram.org.
	APIServer string
}

func NewConnector() *Connector { return &Connector{} }

func (c *Connector) Platform() transport.Platform { return transport.PlatformTelegram }

func (c *Connector) HasCredentials(_ string, opts session.Options) bool {
	return strings.TrimSpace(opts.Token) != ""
}

// PurgeCredentials is a no-op; tokens are owned by the bot record.
func (c *Connector) PurgeCredentials(string) error { return nil }

func (c *Connector) Connect(ctx context.Context, botID string, opts session.Options, events chan<- transport.Event) (transport.Transport, error) {
	options := []telego.BotOption{telego.WithDiscardLogger()}
	if c.APIServer != "" {
		options = append(options, telego.WithAPIServer(c.APIServer))
	}
	bot, err := telego.NewBot(strings.TrimSpace(opts.Token), options...)
	if err != nil {
		return nil, fmt.Errorf("telegram bot %s: %w", botID, err)
	}

	pctx, cancel := context.WithCancel(ctx)
	t := &Transport{
		bot:    bot,
		ctx:    pctx,
		cancel: cancel,
		events: events,
	}
	go t.poll()
	return t, nil
}

// poll reports the bot identity, then forwards updates until the
// transport is closed.
func (t *Transport) poll() {
	me, err := t.bot.GetMe(t.ctx)
	if err != nil {
		if t.ctx.Err() != nil {
			return
		}
		t.emit(transport.Event{Kind: transport.EventClose, Code: closeCode(err), Reason: err.Error()})
		return
	}
	t.emit(transport.Event{Kind: transport.EventOpen, DeviceID: "@" + me.Username})

	updates, err := t.bot.UpdatesViaLongPolling(t.ctx, &telego.GetUpdatesParams{
		Timeout:        30,
		AllowedUpdates: []string{"message"},
	})
	if err != nil {
		t.emit(transport.Event{Kind: transport.EventClose, Code: closeCode(err), Reason: err.Error()})
		return
	}
	for upd := range updates {
		if msg, ok := inboundFromUpdate(upd); ok {
			t.emit(transport.Event{Kind: transport.EventInbound, Message: msg})
		}
	}
	if t.ctx.Err() == nil {
		slog.WarnContext(t.ctx, "telegram polling stopped")
		t.emit(transport.Event{Kind: transport.EventClose, Code: codePollingStopped, Reason: "polling stopped"})
	}
}

// closeCode maps Bot API errors onto transport close codes. A rejected
// token is a logout.
func closeCode(err error) int {
	var apiErr *telegoapi.Error
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode {
		case http.StatusUnauthorized, http.StatusNotFound:
			return transport.CodeLoggedOut
		case http.StatusConflict:
			return transport.CodeConflict
		}
		if apiErr.ErrorCode != 0 {
			return apiErr.ErrorCode
		}
	}
	return transport.CodeUnavailable
}

func inboundFromUpdate(upd telego.Update) (*transport.InboundMessage, bool) {
	m := upd.Message
	if m == nil {
		return nil, false
	}
	text := m.Text
	if text == "" {
		text = m.Caption
	}
	if text == "" {
		return nil, false
	}

	msg := &transport.InboundMessage{
		ID:             strconv.Itoa(m.MessageID),
		ConversationID: strconv.FormatInt(m.Chat.ID, 10),
		Text:           text,
		Platform:       transport.PlatformTelegram,
		IsGroup:        m.Chat.Type == telego.ChatTypeGroup || m.Chat.Type == telego.ChatTypeSupergroup,
		IsBroadcast:    m.Chat.Type == telego.ChatTypeChannel,
		Timestamp:      time.Unix(m.Date, 0),
	}
	if m.From != nil {
		msg.FromMe = m.From.IsBot
		msg.SenderName = strings.TrimSpace(m.From.FirstName + " " + m.From.LastName)
		if msg.SenderName == "" {
			msg.SenderName = m.From.Username
		}
	}
	return msg, true
}

// Transport is the live Bot API connection of one bot.
type Transport struct {
	bot    *telego.Bot
	ctx    context.Context
	cancel context.CancelFunc
	events chan<- transport.Event

	mu     sync.Mutex
	closed bool
}

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
