// Package events is the in-process domain event bus. Aggregates buffer
// events until their transaction commits; handlers run on their own
// goroutine pool so they can never wedge a commit.
package events

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ajitpratap0/whalecopy/internal/venue"
)

// Type names one domain event kind
type Type string

const (
	SignalDetected     Type = "signal.detected"
	SignalProcessed    Type = "signal.processed"
	SignalFailed       Type = "signal.failed"
	TradeExecuted      Type = "trade.executed"
	TradeFailed        Type = "trade.failed"
	PositionOpened     Type = "position.opened"
	PositionClosed     Type = "position.closed"
	PositionLiquidated Type = "position.liquidated"
)

// Event carries identifiers and the critical numeric fields; consumers
// enrich from the store as needed
type Event struct {
	ID         uuid.UUID        `json:"id"`
	Type       Type             `json:"type"`
	OccurredAt time.Time        `json:"occurred_at"`
	UserID     *uuid.UUID       `json:"user_id,omitempty"`
	WhaleID    *uuid.UUID       `json:"whale_id,omitempty"`
	SignalID   *uuid.UUID       `json:"signal_id,omitempty"`
	TradeID    *uuid.UUID       `json:"trade_id,omitempty"`
	PositionID *uuid.UUID       `json:"position_id,omitempty"`
	Venue      venue.Venue      `json:"venue,omitempty"`
	Symbol     string           `json:"symbol,omitempty"`
	Side       venue.Side       `json:"side,omitempty"`
	Price      *decimal.Decimal `json:"price,omitempty"`
	Quantity   *decimal.Decimal `json:"quantity,omitempty"`
	PnL        *decimal.Decimal `json:"pnl,omitempty"`
	Reason     string           `json:"reason,omitempty"`
}

// New builds an event with id and timestamp set
func New(t Type) Event {
	return Event{
		ID:         uuid.New(),
		Type:       t,
		OccurredAt: time.Now().UTC(),
	}
}

// Buffer collects events during a unit of work. FlushTo hands them to the
// bus only after the enclosing commit succeeded; a rolled-back transaction
// just drops the buffer.
type Buffer struct {
	pending []Event
}

// Add queues an event for post-commit publication
func (b *Buffer) Add(e Event) {
	b.pending = append(b.pending, e)
}

// FlushTo publishes every buffered event and empties the buffer
func (b *Buffer) FlushTo(bus *Bus) {
	for _, e := range b.pending {
		bus.Publish(e)
	}
	b.pending = nil
}

// Len reports how many events are buffered
func (b *Buffer) Len() int { return len(b.pending) }
