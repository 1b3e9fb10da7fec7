package feed

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/paperbot/internal/domain"
)

// maxReadsPerPoll bounds how many batches one Poll drains.
const maxReadsPerPoll = 10

// StreamSource reads alerts from a Redis stream for the auto-trade
// controller. It starts at the stream position matching its creation time so
// history from before a restart is not replayed.
type StreamSource struct {
	bus    domain.SignalBus
	stream string
	batch  int
	logger *slog.Logger

	mu     sync.Mutex
	lastID string
}

// NewStreamSource creates a StreamSource reading batch entries at a time.
func NewStreamSource(bus domain.SignalBus, stream string, batch int, logger *slog.Logger) *StreamSource {
	if stream == "" {
		stream = domain.StreamSignals
	}
	if batch <= 0 {
		batch = 100
	}
	return &StreamSource{
		bus:    bus,
		stream: stream,
		batch:  batch,
		logger: logger.With(slog.String("component", "stream_source")),
		lastID: StreamIDAt(time.Now()),
	}
}

// StreamIDAt returns the Redis stream ID for the last possible entry before t.
func StreamIDAt(t time.Time) string {
	return fmt.Sprintf("%d-0", t.UnixMilli())
}

// LastID returns the last consumed stream ID.
func (s *StreamSource) LastID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastID
}

// Seek moves the read position, e.g. to "0" to replay the whole stream.
func (s *StreamSource) Seek(id string) {
	s.mu.Lock()
	s.lastID = id
	s.mu.Unlock()
}

// Poll returns alerts appended since the previous call. Undecodable entries
// are dropped with a warning.
func (s *StreamSource) Poll(ctx context.Context) ([]domain.SignalEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.SignalEvent
	for i := 0; i < maxReadsPerPoll; i++ {
		msgs, err := s.bus.StreamRead(ctx, s.stream, s.lastID, s.batch)
		if err != nil {
			return out, fmt.Errorf("feed: poll: %w", err)
		}
		for _, m := range msgs {
			s.lastID = m.ID
			ev, err := domain.DecodeSignal(m.Payload)
			if err != nil {
				s.logger.WarnContext(ctx, "dropping undecodable signal",
					slog.String("stream_id", m.ID),
					slog.String("error", err.Error()),
				)
				continue
			}
			out = append(out, ev)
		}
		if len(msgs) < s.batch {
			break
		}
	}
	return out, nil
}
