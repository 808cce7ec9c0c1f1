package feed

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/rickgao/kalshi-sync/internal/model"
)

// Price scale: wire cents (0-100) → internal hundred-thousandths (0-100,000).
const centsToInternal = 1000

// maxCents is the top of the price range; NO prices complement against it.
const maxCents = 100

// messageEnvelope is used for fast type extraction.
type messageEnvelope struct {
	Type string `json:"type"`
}

// orderbookSnapshotWire is the wire format for orderbook_snapshot messages.
type orderbookSnapshotWire struct {
	Type string `json:"type"`
	SID  int64  `json:"sid"`
	Seq  int64  `json:"seq"`
	Msg  struct {
		MarketID string  `json:"market_id"`
		Yes      [][]int `json:"yes"` // [[price_cents, size], ...]
		No       [][]int `json:"no"`
	} `json:"msg"`
}

// orderbookDeltaWire is the wire format for orderbook_delta messages.
type orderbookDeltaWire struct {
	Type string `json:"type"`
	SID  int64  `json:"sid"`
	Seq  int64  `json:"seq"`
	Msg  struct {
		MarketID string `json:"market_id"`
		Side     string `json:"side"` // "yes" or "no"
		Price    *int   `json:"price"`
		Delta    *int   `json:"delta"`
		Ts       int64  `json:"ts"`
	} `json:"msg"`
}

// tradeWire is the wire format for trade messages.
type tradeWire struct {
	Type string `json:"type"`
	SID  int64  `json:"sid"`
	Msg  struct {
		MarketID string `json:"market_id"`
		TradeID  string `json:"trade_id"`
		Side     string `json:"side"` // taker side, "yes" or "no"
		Price    *int   `json:"price"`
		Count    *int   `json:"count"`
		Ts       int64  `json:"ts"`
	} `json:"msg"`
}

// Decode parses one raw feed message into a typed Message.
//
// Unrecognized type discriminators yield Unknown with a nil error; malformed
// payloads of a recognized type return a non-nil error and no message. The
// caller logs and drops either case without touching connection state.
func Decode(data []byte, receivedAt time.Time) (Message, error) {
	var envelope messageEnvelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("extract message type: %w", err)
	}

	switch envelope.Type {
	case "orderbook_snapshot":
		return decodeSnapshot(data, receivedAt)
	case "orderbook_delta":
		return decodeDelta(data, receivedAt)
	case "trade":
		return decodeTrade(data, receivedAt)
	default:
		return Unknown{Type: envelope.Type, Raw: data, ReceivedAt: receivedAt}, nil
	}
}

func decodeSnapshot(data []byte, receivedAt time.Time) (Message, error) {
	var wire orderbookSnapshotWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, fmt.Errorf("parse orderbook snapshot: %w", err)
	}
	if wire.Msg.MarketID == "" {
		return nil, fmt.Errorf("orderbook snapshot missing market_id")
	}

	bids, err := parseYesLevels(wire.Msg.Yes)
	if err != nil {
		return nil, fmt.Errorf("parse yes levels: %w", err)
	}
	asks, err := parseNoLevels(wire.Msg.No)
	if err != nil {
		return nil, fmt.Errorf("parse no levels: %w", err)
	}

	return Snapshot{
		MarketID:   wire.Msg.MarketID,
		Bids:       bids,
		Asks:       asks,
		Seq:        wire.Seq,
		ReceivedAt: receivedAt,
	}, nil
}

func decodeDelta(data []byte, receivedAt time.Time) (Message, error) {
	var wire orderbookDeltaWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, fmt.Errorf("parse orderbook delta: %w", err)
	}
	if wire.Msg.MarketID == "" {
		return nil, fmt.Errorf("orderbook delta missing market_id")
	}
	if wire.Msg.Price == nil || wire.Msg.Delta == nil {
		return nil, fmt.Errorf("orderbook delta missing price or delta")
	}

	side, price, err := normalizeSide(wire.Msg.Side, *wire.Msg.Price)
	if err != nil {
		return nil, err
	}

	return Delta{
		MarketID:   wire.Msg.MarketID,
		Side:       side,
		Price:      price,
		SizeDelta:  *wire.Msg.Delta,
		Seq:        wire.Seq,
		ExchangeTS: wire.Msg.Ts * 1_000_000, // seconds → microseconds
		ReceivedAt: receivedAt,
	}, nil
}

func decodeTrade(data []byte, receivedAt time.Time) (Message, error) {
	var wire tradeWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, fmt.Errorf("parse trade: %w", err)
	}
	if wire.Msg.MarketID == "" {
		return nil, fmt.Errorf("trade missing market_id")
	}
	if wire.Msg.Price == nil || wire.Msg.Count == nil {
		return nil, fmt.Errorf("trade missing price or count")
	}

	side, price, err := normalizeSide(wire.Msg.Side, *wire.Msg.Price)
	if err != nil {
		return nil, err
	}

	return Trade{
		MarketID:   wire.Msg.MarketID,
		TradeID:    wire.Msg.TradeID,
		Side:       side,
		Price:      price,
		Size:       *wire.Msg.Count,
		ExchangeTS: wire.Msg.Ts * 1_000_000,
		ReceivedAt: receivedAt,
	}, nil
}

// normalizeSide maps a wire side onto the YES-denominated book: YES levels
// are bids at their own price, NO levels are asks at the complement price.
func normalizeSide(side string, priceCents int) (model.BookSide, int, error) {
	if priceCents < 0 || priceCents > maxCents {
		return "", 0, fmt.Errorf("price %d out of range", priceCents)
	}
	switch side {
	case "yes":
		return model.SideBid, priceCents * centsToInternal, nil
	case "no":
		return model.SideAsk, (maxCents - priceCents) * centsToInternal, nil
	default:
		return "", 0, fmt.Errorf("unknown side %q", side)
	}
}

// parseYesLevels converts YES [[price,size],...] pairs into bid levels.
// A nil input means the side was absent from the payload and stays nil, so
// the synchronizer can distinguish "absent" from "present and empty".
func parseYesLevels(pairs [][]int) ([]model.PriceLevel, error) {
	if pairs == nil {
		return nil, nil
	}
	levels := make([]model.PriceLevel, 0, len(pairs))
	for _, p := range pairs {
		if len(p) != 2 {
			return nil, fmt.Errorf("level must be [price, size], got %v", p)
		}
		if p[0] < 0 || p[0] > maxCents {
			return nil, fmt.Errorf("price %d out of range", p[0])
		}
		if p[1] <= 0 {
			// Zero-size levels are never stored.
			continue
		}
		levels = append(levels, model.PriceLevel{Price: p[0] * centsToInternal, Size: p[1]})
	}
	return levels, nil
}

// parseNoLevels converts NO [[price,size],...] pairs into ask levels at the
// complement price. Nil input stays nil, same as parseYesLevels.
func parseNoLevels(pairs [][]int) ([]model.PriceLevel, error) {
	if pairs == nil {
		return nil, nil
	}
	levels := make([]model.PriceLevel, 0, len(pairs))
	for _, p := range pairs {
		if len(p) != 2 {
			return nil, fmt.Errorf("level must be [price, size], got %v", p)
		}
		if p[0] < 0 || p[0] > maxCents {
			return nil, fmt.Errorf("price %d out of range", p[0])
		}
		if p[1] <= 0 {
			continue
		}
		levels = append(levels, model.PriceLevel{Price: (maxCents - p[0]) * centsToInternal, Size: p[1]})
	}
	return levels, nil
}
