package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// SignalType is the closed set of signal classifications.
type SignalType string

const (
	SignalStrongBuy SignalType = "STRONG_BUY"
	SignalBuy       SignalType = "BUY"
	SignalWatch     SignalType = "WATCH"
	SignalAvoid     SignalType = "AVOID"
	SignalSell      SignalType = "SELL"
)

// ParseSignalType converts a case-insensitive name such as "strong_buy" or
// "STRONG BUY" to a SignalType.
func ParseSignalType(s string) (SignalType, error) {
	norm := strings.ToUpper(strings.TrimSpace(s))
	norm = strings.NewReplacer(" ", "_", "-", "_").Replace(norm)
	switch t := SignalType(norm); t {
	case SignalStrongBuy, SignalBuy, SignalWatch, SignalAvoid, SignalSell:
		return t, nil
	default:
		return "", fmt.Errorf("unknown signal type %q", s)
	}
}

// IsBuy reports whether the type opens or adds to a position.
func (t SignalType) IsBuy() bool {
	return t == SignalStrongBuy || t == SignalBuy
}

// IsExit reports whether the type closes a held position.
func (t SignalType) IsExit() bool {
	return t == SignalSell || t == SignalAvoid
}

// UnmarshalText implements encoding.TextUnmarshaler. Known names are
// normalised; anything else is kept verbatim so Validate can report it.
func (t *SignalType) UnmarshalText(b []byte) error {
	parsed, err := ParseSignalType(string(b))
	if err != nil {
		*t = SignalType(b)
		return nil
	}
	*t = parsed
	return nil
}

// SignalEvent is a confidence-scored signal from the upstream alert stream.
// Prices are plain floats on the wire; they are converted to decimals at the
// executor boundary.
type SignalEvent struct {
	ID         string     `json:"id,omitempty"`
	Symbol     string     `json:"symbol"`
	Type       SignalType `json:"signal_type"`
	Confidence float64    `json:"confidence_score"`
	Price      float64    `json:"price"`
	Timestamp  time.Time  `json:"timestamp"`
}

// Validate reports malformed events. The controller skips these without side
// effects.
func (s SignalEvent) Validate() error {
	if NormalizeSymbol(s.Symbol) == "" {
		return fmt.Errorf("signal: symbol is required")
	}
	switch s.Type {
	case SignalStrongBuy, SignalBuy, SignalWatch, SignalAvoid, SignalSell:
	default:
		return fmt.Errorf("signal: unknown type %q", s.Type)
	}
	if s.Confidence < 0 || s.Confidence > 100 {
		return fmt.Errorf("signal: confidence %.2f out of range [0,100]", s.Confidence)
	}
	if !(s.Price > 0) {
		return fmt.Errorf("signal: price must be positive, got %v", s.Price)
	}
	return nil
}

// Key returns the dedup key for the event. Events without an ID or a
// timestamp are keyed on their content.
func (s SignalEvent) Key() string {
	if s.ID != "" {
		return s.ID
	}
	if s.Timestamp.IsZero() {
		return fmt.Sprintf("%s|%s|%g|%g", NormalizeSymbol(s.Symbol), s.Type, s.Price, s.Confidence)
	}
	return fmt.Sprintf("%s|%s|%d", NormalizeSymbol(s.Symbol), s.Type, s.Timestamp.UnixNano())
}

// DecodeSignal parses a JSON-encoded SignalEvent.
func DecodeSignal(payload []byte) (SignalEvent, error) {
	var ev SignalEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return SignalEvent{}, fmt.Errorf("signal: decode: %w", err)
	}
	return ev, nil
}
