package telegram

import (
	"context"
	"fmt"
	"strconv"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"

	"chatflow-gateway/internal/transport"
)

var _ transport.Transport = (*Transport)(nil)

func (t *Transport) Platform() transport.Platform { return transport.PlatformTelegram }

func chatID(to string) (telego.ChatID, error) {
	id, err := strconv.ParseInt(to, 10, 64)
	if err != nil {
		return telego.ChatID{}, fmt.Errorf("invalid chat id %q: %w", to, err)
	}
	return tu.ID(id), nil
}

func (t *Transport) SendText(ctx context.Context, to, text string) error {
	id, err := chatID(to)
	if err != nil {
		return err
	}
	if _, err := t.bot.SendMessage(ctx, tu.Message(id, text)); err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	return nil
}

// SendMenu shows the options as a one-time reply keyboard.
func (t *Transport) SendMenu(ctx context.Context, to, text string, options []string) error {
	id, err := chatID(to)
	if err != nil {
		return err
	}
	rows := make([][]telego.KeyboardButton, 0, len(options))
	for _, opt := range options {
		rows = append(rows, tu.KeyboardRow(tu.KeyboardButton(opt)))
	}
	params := tu.Message(id, text).
		WithReplyMarkup(tu.Keyboard(rows...).WithResizeKeyboard().WithOneTimeKeyboard())
	if _, err := t.bot.SendMessage(ctx, params); err != nil {
		return fmt.Errorf("send menu: %w", err)
	}
	return nil
}

func (t *Transport) SendMedia(ctx context.Context, to string, kind transport.MediaKind, url, caption string) error {
	id, err := chatID(to)
	if err != nil {
		return err
	}
	file := tu.FileFromURL(url)
	switch kind {
	case transport.MediaImage:
		_, err = t.bot.SendPhoto(ctx, tu.Photo(id, file).WithCaption(caption))
	case transport.MediaVideo:
		_, err = t.bot.SendVideo(ctx, tu.Video(id, file).WithCaption(caption))
	case transport.MediaAudio:
		// Audio goes out as a voice note.
		_, err = t.bot.SendVoice(ctx, tu.Voice(id, file).WithCaption(caption))
	case transport.MediaDocument:
		_, err = t.bot.SendDocument(ctx, tu.Document(id, file).WithCaption(caption))
	default:
		return fmt.Errorf("unsupported media kind %q", kind)
	}
	if err != nil {
		return fmt.Errorf("send %s: %w", kind, err)
	}
	return nil
}

// SetPresence sends the typing action; Telegram clears it on its own.
func (t *Transport) SetPresence(ctx context.Context, to string, typing bool) error {
	if !typing {
		return nil
	}
	id, err := chatID(to)
	if err != nil {
		return err
	}
	return t.bot.SendChatAction(ctx, tu.ChatAction(id, telego.ChatActionTyping))
}

// Logout stops polling. The token stays valid; revoking it is done in
// BotFather.
func (t *Transport) Logout(context.Context) error {
	return t.Close()
}

func (t *Transport) Close() error {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
	t.cancel()
	return nil
}
