// Package session keeps one live, reconnecting transport connection per bot.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"chatflow-gateway/internal/logger"
	"chatflow-gateway/internal/transport"
)

const (
	eventBuffer           = 256
	DefaultReconnectDelay = 3 * time.Second
)

var (
	ErrUnknownPlatform = errors.New("session: unknown platform")
	ErrNotFound        = errors.New("session: not found")
	ErrShutdown        = errors.New("session: manager is shut down")
)

// Connector opens transports of one platform.
type Connector interface {
	Platform() transport.Platform
	// Connect opens a transport for botID. Lifecycle and inbound events are
	// sent on events until ctx is cancelled or a close event was sent.
	Connect(ctx context.Context, botID string, opts Options, events chan<- transport.Event) (transport.Transport, error)
	HasCredentials(botID string, opts Options) bool
	PurgeCredentials(botID string) error
}

// InboundHandler processes inbound messages. Calls for one bot never overlap.
type InboundHandler interface {
	HandleInbound(ctx context.Context, botID string, sender transport.Sender, msg transport.InboundMessage) error
}

// StatusStore persists session status outside the process.
type StatusStore interface {
	SaveStatus(ctx context.Context, snap Snapshot) error
}

// Observer is notified of every status change.
type Observer interface {
	NotifySession(snap Snapshot)
}

type Config struct {
	ReconnectDelay time.Duration
	SendRate       float64
	SendBurst      int
}

// Manager is the registry of live sessions keyed by bot id.
type Manager struct {
	cfg        Config
	connectors map[transport.Platform]Connector
	handler    InboundHandler
	store      StatusStore
	observer   Observer

	baseCtx    context.Context
	cancelBase context.CancelFunc

	mu       sync.Mutex
	sessions map[string]*Session
	timers   map[string]*time.Timer
	closed   bool
}

func NewManager(cfg Config, handler InboundHandler, store StatusStore, observer Observer, connectors ...Connector) *Manager {
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = DefaultReconnectDelay
	}
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		cfg:        cfg,
		connectors: make(map[transport.Platform]Connector, len(connectors)),
		handler:    handler,
		store:      store,
		observer:   observer,
		baseCtx:    ctx,
		cancelBase: cancel,
		sessions:   make(map[string]*Session),
		timers:     make(map[string]*time.Timer),
	}
	for _, c := range connectors {
		m.connectors[c.Platform()] = c
	}
	return m
}

// Connect returns the live session of botID, creating and connecting a new
// one when none exists. A failed connection attempt is retried after the
// reconnect delay.
func (m *Manager) Connect(ctx context.Context, botID string, opts Options) (*Session, error) {
	conn, ok := m.connectors[opts.Platform]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownPlatform, opts.Platform)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrShutdown
	}
	if s, ok := m.sessions[botID]; ok {
		m.mu.Unlock()
		return s, nil
	}
	if t, ok := m.timers[botID]; ok {
		t.Stop()
		delete(m.timers, botID)
	}
	sctx, cancel := context.WithCancel(m.baseCtx)
	sctx = logger.WithLogFields(sctx, logger.LogFields{
		BotID:     botID,
		Platform:  string(opts.Platform),
		Component: "session",
	})
	s := newSession(botID, opts, cancel)
	m.sessions[botID] = s
	m.mu.Unlock()

	m.publish(sctx, s)
	slog.InfoContext(sctx, "connecting session")

	t, err := conn.Connect(sctx, botID, opts, s.events)
	if err != nil {
		slog.ErrorContext(sctx, "connect failed", "error", err)
		cancel()
		close(s.done)
		if m.remove(s) {
			s.setDisconnected()
			m.publish(sctx, s)
			m.scheduleReconnect(botID, opts)
		}
		return nil, fmt.Errorf("connect %s: %w", botID, err)
	}

	// Logout or Shutdown may have dropped the session while Connect blocked.
	lim := rate.NewLimiter(rate.Limit(m.sendRate()), m.sendBurst())
	m.mu.Lock()
	if cur, ok := m.sessions[botID]; !ok || cur != s || sctx.Err() != nil {
		closed := m.closed
		m.mu.Unlock()
		slog.InfoContext(sctx, "session dropped while connecting, closing transport")
		if err := t.Close(); err != nil {
			slog.WarnContext(sctx, "close transport", "error", err)
		}
		cancel()
		close(s.done)
		if closed {
			return nil, ErrShutdown
		}
		return nil, fmt.Errorf("connect %s: %w", botID, ErrNotFound)
	}
	s.setTransport(transport.RateLimited(t, lim))
	m.mu.Unlock()

	go m.run(sctx, s)
	return s, nil
}

func (m *Manager) sendRate() float64 {
	if m.cfg.SendRate <= 0 {
		return float64(rate.Inf)
	}
	return m.cfg.SendRate
}

func (m *Manager) sendBurst() int {
	if m.cfg.SendBurst <= 0 {
		return 1
	}
	return m.cfg.SendBurst
}

// run is the single consumer of a session's events.
func (m *Manager) run(ctx context.Context, s *Session) {
	defer close(s.done)
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-s.events:
			if m.handleEvent(ctx, s, ev) {
				return
			}
		}
	}
}

// handleEvent applies one event; it reports whether the session ended.
func (m *Manager) handleEvent(ctx context.Context, s *Session, ev transport.Event) bool {
	switch ev.Kind {
	case transport.EventQR:
		s.setQR(ev.QR)
		slog.InfoContext(ctx, "qr code ready")
		m.publish(ctx, s)

	case transport.EventOpen:
		s.setConnected(ev.DeviceID)
		slog.InfoContext(ctx, "session connected", "device_id", ev.DeviceID)
		m.publish(ctx, s)

	case transport.EventInbound:
		if ev.Message == nil || m.handler == nil {
			return false
		}
		if err := m.handler.HandleInbound(ctx, s.botID, s.Sender(), *ev.Message); err != nil {
			slog.ErrorContext(ctx, "inbound handling failed", "error", err)
		}

	case transport.EventClose:
		m.handleClose(ctx, s, ev)
		return true
	}
	return false
}

// handleClose removes the session and either purges its credentials
// (terminal close) or schedules a reconnect.
func (m *Manager) handleClose(ctx context.Context, s *Session, ev transport.Event) {
	if !m.remove(s) {
		return
	}
	s.cancel()
	if t := s.getTransport(); t != nil {
		if err := t.Close(); err != nil {
			slog.DebugContext(ctx, "close transport", "error", err)
		}
	}
	s.setDisconnected()

	if ev.IsTerminal() {
		slog.WarnContext(ctx, "session logged out, purging credentials", "code", ev.Code, "reason", ev.Reason)
		if err := m.connectors[s.opts.Platform].PurgeCredentials(s.botID); err != nil {
			slog.ErrorContext(ctx, "purge credentials failed", "error", err)
		}
		m.publish(ctx, s)
		return
	}

	slog.WarnContext(ctx, "session closed, reconnecting", "code", ev.Code, "reason", ev.Reason, "delay", m.cfg.ReconnectDelay)
	m.publish(ctx, s)
	m.scheduleReconnect(s.botID, s.opts)
}

// remove deletes s from the registry if it is still the entry of its bot.
func (m *Manager) remove(s *Session) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.sessions[s.botID]; !ok || cur != s {
		return false
	}
	delete(m.sessions, s.botID)
	return true
}

func (m *Manager) scheduleReconnect(botID string, opts Options) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	if t, ok := m.timers[botID]; ok {
		t.Stop()
	}
	var timer *time.Timer
	timer = time.AfterFunc(m.cfg.ReconnectDelay, func() {
		m.mu.Lock()
		if m.timers[botID] != timer {
			m.mu.Unlock()
			return
		}
		delete(m.timers, botID)
		m.mu.Unlock()

		if _, err := m.Connect(m.baseCtx, botID, opts); err != nil {
			slog.Warn("reconnect failed", "bot_id", botID, "error", err)
		}
	})
	m.timers[botID] = timer
}

// Logout unlinks botID, purges its credentials and removes its session.
func (m *Manager) Logout(ctx context.Context, botID string, platform transport.Platform) error {
	conn, ok := m.connectors[platform]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownPlatform, platform)
	}

	m.mu.Lock()
	s := m.sessions[botID]
	delete(m.sessions, botID)
	if t, ok := m.timers[botID]; ok {
		t.Stop()
		delete(m.timers, botID)
	}
	m.mu.Unlock()

	if s != nil {
		s.cancel()
		if t := s.getTransport(); t != nil {
			if err := t.Logout(ctx); err != nil {
				slog.WarnContext(ctx, "remote logout failed", "bot_id", botID, "error", err)
			}
			_ = t.Close()
		}
		s.setDisconnected()
	}
	if err := conn.PurgeCredentials(botID); err != nil {
		return fmt.Errorf("purge credentials: %w", err)
	}

	snap := Snapshot{BotID: botID, Platform: platform, Status: StatusDisconnected, UpdatedAt: time.Now()}
	m.publishSnapshot(ctx, snap)
	return nil
}

// Get returns the live session of botID.
func (m *Manager) Get(botID string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[botID]
	return s, ok
}

// Status returns the current snapshot of botID; bots without a session
// are disconnected.
func (m *Manager) Status(botID string) Snapshot {
	if s, ok := m.Get(botID); ok {
		return s.Snapshot()
	}
	return Snapshot{BotID: botID, Status: StatusDisconnected}
}

// Reconnecting reports whether a reconnect of botID is scheduled.
func (m *Manager) Reconnecting(botID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.timers[botID]
	return ok
}

// Target is a bot to restore at startup.
type Target struct {
	BotID   string
	Options Options
}

// Restore connects every target that has stored credentials and returns
// how many were started.
func (m *Manager) Restore(ctx context.Context, targets []Target) int {
	started := 0
	for _, t := range targets {
		conn, ok := m.connectors[t.Options.Platform]
		if !ok || !conn.HasCredentials(t.BotID, t.Options) {
			continue
		}
		if _, err := m.Connect(ctx, t.BotID, t.Options); err != nil {
			slog.WarnContext(ctx, "restore failed", "bot_id", t.BotID, "error", err)
			continue
		}
		started++
	}
	return started
}

// Shutdown stops reconnect timers and closes every session without
// purging credentials. It waits for event loops until ctx is done.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	for id, t := range m.timers {
		t.Stop()
		delete(m.timers, id)
	}
	sessions := make([]*Session, 0, len(m.sessions))
	for id, s := range m.sessions {
		sessions = append(sessions, s)
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	for _, s := range sessions {
		s.cancel()
		if t := s.getTransport(); t != nil {
			if err := t.Close(); err != nil {
				slog.WarnContext(ctx, "close transport", "bot_id", s.botID, "error", err)
			}
		}
	}
	m.cancelBase()

	for _, s := range sessions {
		select {
		case <-s.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (m *Manager) publish(ctx context.Context, s *Session) {
	m.publishSnapshot(ctx, s.Snapshot())
}

func (m *Manager) publishSnapshot(ctx context.Context, snap Snapshot) {
	if m.store != nil {
		if err := m.store.SaveStatus(context.WithoutCancel(ctx), snap); err != nil {
			slog.WarnContext(ctx, "save session status failed", "error", err)
		}
	}
	if m.observer != nil {
		m.observer.NotifySession(snap)
	}
}
