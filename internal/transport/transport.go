// Package transport defines the platform-neutral contract between chat
// transports (WhatsApp, Telegram) and the rest of the gateway.
package transport

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Platform identifies a chat transport.
type Platform string

const (
	PlatformWhatsApp Platform = "whatsapp"
	PlatformTelegram Platform = "telegram"
)

// MediaKind selects how a media payload is delivered.
type MediaKind string

const (
	MediaImage    MediaKind = "image"
	MediaVideo    MediaKind = "video"
	MediaAudio    MediaKind = "audio" // delivered as a voice note where supported
	MediaDocument MediaKind = "document"
)

// ParseMediaKind maps editor media types to a MediaKind; empty means image.
func ParseMediaKind(s string) (MediaKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "image", "photo":
		return MediaImage, nil
	case "video":
		return MediaVideo, nil
	case "audio", "voice", "ptt":
		return MediaAudio, nil
	case "document", "file", "pdf":
		return MediaDocument, nil
	}
	return "", fmt.Errorf("unknown media kind %q", s)
}

// Sender is the outbound half of a transport.
type Sender interface {
	SendText(ctx context.Context, to, text string) error
	SendMedia(ctx context.Context, to string, kind MediaKind, url, caption string) error
	SendMenu(ctx context.Context, to, text string, options []string) error
	SetPresence(ctx context.Context, to string, typing bool) error
}

// Transport is one live connection owned by a session.
type Transport interface {
	Sender
	Platform() Platform
	// Logout unlinks the device/account on the remote side.
	Logout(ctx context.Context) error
	Close() error
}

// InboundMessage is an inbound chat message normalized across platforms.
type InboundMessage struct {
	ID             string
	ConversationID string
	SenderName     string
	Text           string
	Platform       Platform
	FromMe         bool
	IsGroup        bool
	IsBroadcast    bool
	Timestamp      time.Time
}

// EventKind tags an Event.
type EventKind string

const (
	EventInbound EventKind = "inbound"
	EventQR      EventKind = "qr"
	EventOpen    EventKind = "open"
	EventClose   EventKind = "close"
)

// Close codes observed on the wire. Anything else is treated as transient.
const (
	CodeLoggedOut      = 401
	CodeForbidden      = 403
	CodeTimedOut       = 408
	CodeConnectionLost = 428
	CodeConflict       = 440
	CodeRestart        = 515
	CodeUnavailable    = 503
)

// ReasonLoggedOut is the explicit reason string attached to a logout close.
const ReasonLoggedOut = "logged out"

// Event is delivered by a transport on its session's event channel.
type Event struct {
	Kind     EventKind
	Message  *InboundMessage
	QR       string
	DeviceID string
	Code     int
	Reason   string
}

// IsTerminal reports whether a close event means the credentials are no
// longer usable and the operator must pair again.
func (e Event) IsTerminal() bool {
	if e.Kind != EventClose {
		return false
	}
	switch e.Code {
	case CodeLoggedOut, CodeConflict:
		return true
	}
	return e.Reason == ReasonLoggedOut
}
