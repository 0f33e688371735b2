package core

import (
	"fmt"
	"sync/atomic"
	"time"
)

// Sequencer hands out process-wide unique, strictly increasing ids.
// One instance is shared by every order producer in a run so that ids
// stay comparable across agents and the replay source.
type Sequencer struct {
	last uint64
}

// NewSequencer creates a Sequencer starting at zero
func NewSequencer() *Sequencer {
	return &Sequencer{}
}

// Next returns the next id. Safe for concurrent use.
func (s *Sequencer) Next() uint64 {
	return atomic.AddUint64(&s.last, 1)
}

// Last returns the most recently issued id
func (s *Sequencer) Last() uint64 {
	return atomic.LoadUint64(&s.last)
}

// Order stores information about a limit or market order. Prices are
// integer ticks. Remaining quantity only ever decreases, via matching.
type Order struct {
	id        uint64
	kind      Kind
	agentID   string
	symbol    string
	side      Side
	quantity  int64
	remaining int64
	price     int64
	placedAt  time.Time
}

// NewLimitOrder creates a limit order with an id from seq
func NewLimitOrder(seq *Sequencer, agentID, symbol string, quantity int64, side Side, price int64, placedAt time.Time) (*Order, error) {
	if quantity <= 0 {
		return nil, ErrInvalidQuantity
	}
	if price <= 0 {
		return nil, ErrInvalidPrice
	}

	return &Order{
		id:        seq.Next(),
		kind:      KindLimit,
		agentID:   agentID,
		symbol:    symbol,
		side:      side,
		quantity:  quantity,
		remaining: quantity,
		price:     price,
		placedAt:  placedAt,
	}, nil
}

// NewMarketOrder creates a market order with an id from seq
func NewMarketOrder(seq *Sequencer, agentID, symbol string, quantity int64, side Side, placedAt time.Time) (*Order, error) {
	if quantity <= 0 {
		return nil, ErrInvalidQuantity
	}

	return &Order{
		id:        seq.Next(),
		kind:      KindMarket,
		agentID:   agentID,
		symbol:    symbol,
		side:      side,
		quantity:  quantity,
		remaining: quantity,
		placedAt:  placedAt,
	}, nil
}

// ID returns the order id
func (o *Order) ID() uint64 {
	return o.id
}

// Kind returns the order variant
func (o *Order) Kind() Kind {
	return o.kind
}

// AgentID returns the id of the agent that placed the order
func (o *Order) AgentID() string {
	return o.agentID
}

// Symbol returns the instrument symbol
func (o *Order) Symbol() string {
	return o.symbol
}

// Side returns side of the order
func (o *Order) Side() Side {
	return o.side
}

// Quantity returns the originally requested quantity
func (o *Order) Quantity() int64 {
	return o.quantity
}

// Remaining returns the unfilled quantity
func (o *Order) Remaining() int64 {
	return o.remaining
}

// Price returns the limit price in ticks. Zero for market orders.
func (o *Order) Price() int64 {
	return o.price
}

// PlacedAt returns the simulated placement time
func (o *Order) PlacedAt() time.Time {
	return o.placedAt
}

// IsMarketOrder returns true if the order is MARKET
func (o *Order) IsMarketOrder() bool {
	return o.kind == KindMarket
}

// IsLimitOrder returns true if the order is LIMIT
func (o *Order) IsLimitOrder() bool {
	return o.kind == KindLimit
}

// fill reduces the remaining quantity. Matching is the only caller.
func (o *Order) fill(quantity int64) {
	o.remaining -= quantity
}

// Copy returns a detached copy of the order. Agents keep copies so the
// book's mutations do not leak into their records.
func (o *Order) Copy() *Order {
	c := *o
	return &c
}

// String implements fmt.Stringer interface
func (o *Order) String() string {
	if o.kind == KindMarket {
		return fmt.Sprintf("#%d %s %d %s", o.id, o.side, o.quantity, o.symbol)
	}
	return fmt.Sprintf("#%d %s %d %s @ %d", o.id, o.side, o.quantity, o.symbol, o.price)
}
