// Package feed ingests trading alerts. WSAlertFeed reads them from an
// upstream websocket and StreamSource replays them from a Redis stream into
// the auto-trade controller.
package feed

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/paperbot/internal/domain"
)

const (
	// pongWait is how long the feed waits for any frame before assuming the
	// connection is dead.
	pongWait = 60 * time.Second

	defaultReconnectDelay    = 2 * time.Second
	defaultMaxReconnectDelay = 60 * time.Second
)

// AlertHandler receives every decoded alert.
type AlertHandler func(ctx context.Context, ev domain.SignalEvent) error

// WSAlertFeed dials an upstream websocket that emits SignalEvent JSON frames,
// either one object or an array per frame, and hands each to a handler. It
// reconnects with exponential backoff until ctx is done.
type WSAlertFeed struct {
	wsURL     string
	handler   AlertHandler
	baseDelay time.Duration
	maxDelay  time.Duration
	logger    *slog.Logger
}

// NewWSAlertFeed creates a feed. Non-positive delays fall back to 2s and 60s.
func NewWSAlertFeed(wsURL string, handler AlertHandler, baseDelay, maxDelay time.Duration, logger *slog.Logger) *WSAlertFeed {
	if baseDelay <= 0 {
		baseDelay = defaultReconnectDelay
	}
	if maxDelay < baseDelay {
		maxDelay = defaultMaxReconnectDelay
	}
	return &WSAlertFeed{
		wsURL:     wsURL,
		handler:   handler,
		baseDelay: baseDelay,
		maxDelay:  maxDelay,
		logger:    logger.With(slog.String("component", "ws_alert_feed")),
	}
}

// Run blocks until ctx is cancelled.
func (f *WSAlertFeed) Run(ctx context.Context) error {
	if f.wsURL == "" {
		f.logger.Info("no feed url configured, exiting")
		return nil
	}

	delay := f.baseDelay
	for {
		connected, err := f.runConnection(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if connected {
			delay = f.baseDelay
		}
		f.logger.Warn("alert feed disconnected, reconnecting",
			slog.String("error", errString(err)),
			slog.Duration("delay", delay),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
		if delay > f.maxDelay {
			delay = f.maxDelay
		}
	}
}

// runConnection reports whether the dial succeeded so Run can reset backoff.
func (f *WSAlertFeed) runConnection(ctx context.Context) (bool, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	conn, _, err := dialer.DialContext(ctx, f.wsURL, nil)
	if err != nil {
		return false, fmt.Errorf("feed: dial: %w", err)
	}
	defer conn.Close()

	f.logger.Info("alert feed connected", slog.String("url", f.wsURL))

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			_ = conn.Close()
		case <-stop:
		}
	}()

	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return true, fmt.Errorf("feed: read: %w", err)
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))

		events, err := decodeFrame(data)
		if err != nil {
			f.logger.Warn("dropping undecodable alert frame",
				slog.String("error", err.Error()),
				slog.Int("payload_len", len(data)),
			)
			continue
		}
		for _, ev := range events {
			if err := f.handler(ctx, ev); err != nil {
				f.logger.Warn("alert handler failed",
					slog.String("symbol", ev.Symbol),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// decodeFrame accepts a single SignalEvent object or an array of them.
func decodeFrame(data []byte) ([]domain.SignalEvent, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, errors.New("empty frame")
	}
	if trimmed[0] == '[' {
		var events []domain.SignalEvent
		if err := json.Unmarshal(trimmed, &events); err != nil {
			return nil, fmt.Errorf("decode batch: %w", err)
		}
		return events, nil
	}
	ev, err := domain.DecodeSignal(trimmed)
	if err != nil {
		return nil, err
	}
	return []domain.SignalEvent{ev}, nil
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
