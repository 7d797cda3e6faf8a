package transport

import (
	"context"

	"golang.org/x/time/rate"
)

// RateLimited wraps a Transport so that every outbound call waits for a
// token from lim. Presence updates are not throttled.
func RateLimited(t Transport, lim *rate.Limiter) Transport {
	if lim == nil {
		return t
	}
	return &limitedTransport{Transport: t, lim: lim}
}

type limitedTransport struct {
	Transport
	lim *rate.Limiter
}

func (l *limitedTransport) SendText(ctx context.Context, to, text string) error {
	if err := l.lim.Wait(ctx); err != nil {
		return err
	}
	return l.Transport.SendText(ctx, to, text)
}

func (l *limitedTransport) SendMedia(ctx context.Context, to string, kind MediaKind, url, caption string) error {
	if err := l.lim.Wait(ctx); err != nil {
		return err
	}
	return l.Transport.SendMedia(ctx, to, kind, url, caption)
}

func (l *limitedTransport) SendMenu(ctx context.Context, to, text string, options []string) error {
	if err := l.lim.Wait(ctx); err != nil {
		return err
	}
	return l.Transport.SendMenu(ctx, to, text, options)
}

// Unwrap returns the underlying transport.
func (l *limitedTransport) Unwrap() Transport {
	return l.Transport
}
