package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/alanyoungcy/paperbot/internal/domain"
)

// StreamPublisher records alerts for the controller: the mark goes to the
// price cache and the event is appended to the signal stream.
type StreamPublisher struct {
	prices domain.PriceCache
	bus    domain.SignalBus
	stream string
	now    func() time.Time
}

// NewStreamPublisher creates a StreamPublisher. prices may be nil.
func NewStreamPublisher(prices domain.PriceCache, bus domain.SignalBus, stream string) *StreamPublisher {
	if stream == "" {
		stream = domain.StreamSignals
	}
	return &StreamPublisher{prices: prices, bus: bus, stream: stream, now: time.Now}
}

// Publish implements AlertHandler. Events are stamped with the receive time
// when they carry none.
func (p *StreamPublisher) Publish(ctx context.Context, ev domain.SignalEvent) error {
	ev.Symbol = domain.NormalizeSymbol(ev.Symbol)
	if ev.Timestamp.IsZero() {
		ev.Timestamp = p.now().UTC()
	}

	if p.prices != nil && ev.Symbol != "" && ev.Price > 0 {
		if err := p.prices.SetPrice(ctx, ev.Symbol, ev.Price, ev.Timestamp); err != nil {
			return fmt.Errorf("feed: publish: %w", err)
		}
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("feed: publish marshal: %w", err)
	}
	if err := p.bus.StreamAppend(ctx, p.stream, payload); err != nil {
		return fmt.Errorf("feed: publish: %w", err)
	}
	return nil
}
