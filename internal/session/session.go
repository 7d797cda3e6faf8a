package session

import (
	"context"
	"sync"
	"time"

	"chatflow-gateway/internal/transport"
)

// Status of a bot's transport connection.
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusInitializing Status = "initializing"
	StatusQRReady      Status = "qr_ready"
	StatusConnected    Status = "connected"
)

// Options are the connect parameters of a bot, reused on reconnect.
type Options struct {
	Platform transport.Platform
	// Token is the bot API token on platforms that use one.
	Token string
}

// Snapshot is a point-in-time view of a session.
type Snapshot struct {
	BotID     string             `json:"botId"`
	Platform  transport.Platform `json:"platform"`
	Status    Status             `json:"status"`
	QR        string             `json:"qr,omitempty"`
	DeviceID  string             `json:"deviceId,omitempty"`
	UpdatedAt time.Time          `json:"updatedAt"`
}

// Session is the live connection of one bot. A session is never revived:
// after a close a new Session replaces it.
type Session struct {
	botID  string
	opts   Options
	events chan transport.Event
	cancel context.CancelFunc
	done   chan struct{}

	mu        sync.RWMutex
	transport transport.Transport
	status    Status
	qr        string
	deviceID  string
	updatedAt time.Time
}

func newSession(botID string, opts Options, cancel context.CancelFunc) *Session {
	return &Session{
		botID:     botID,
		opts:      opts,
		events:    make(chan transport.Event, eventBuffer),
		cancel:    cancel,
		done:      make(chan struct{}),
		status:    StatusInitializing,
		updatedAt: time.Now(),
	}
}

func (s *Session) BotID() string { return s.botID }

func (s *Session) Options() Options { return s.opts }

// Sender returns the outbound side of the connection, nil until connected.
func (s *Session) Sender() transport.Sender {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.transport == nil {
		return nil
	}
	return s.transport
}

func (s *Session) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{
		BotID:     s.botID,
		Platform:  s.opts.Platform,
		Status:    s.status,
		QR:        s.qr,
		DeviceID:  s.deviceID,
		UpdatedAt: s.updatedAt,
	}
}

func (s *Session) setTransport(t transport.Transport) {
	s.mu.Lock()
	s.transport = t
	s.mu.Unlock()
}

func (s *Session) getTransport() transport.Transport {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.transport
}

func (s *Session) setQR(qr string) {
	s.mu.Lock()
	s.status = StatusQRReady
	s.qr = qr
	s.updatedAt = time.Now()
	s.mu.Unlock()
}

func (s *Session) setConnected(deviceID string) {
	s.mu.Lock()
	s.status = StatusConnected
	s.qr = ""
	s.deviceID = deviceID
	s.updatedAt = time.Now()
	s.mu.Unlock()
}

func (s *Session) setDisconnected() {
	s.mu.Lock()
	s.status = StatusDisconnected
	s.qr = ""
	s.deviceID = ""
	s.updatedAt = time.Now()
	s.mu.Unlock()
}

// Done is closed when the session's event loop has exited.
func (s *Session) Done() <-chan struct{} { return s.done }
