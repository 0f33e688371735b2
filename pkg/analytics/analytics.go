// Package analytics aggregates read-only order book observations into
// point-in-time snapshots and simple indicators. It never holds a live
// reference to book internals: everything handed out is a copy.
package analytics

import (
	"fmt"
	"time"
)

// BookView is the read-only contract the order book exposes to the
// analytics aggregator
type BookView interface {
	BuySide(depth int) map[int64]int64
	SellSide(depth int) map[int64]int64
	MidPrice() (float64, bool)
}

// OrderBookState is an immutable depth snapshot taken at one instant
type OrderBookState struct {
	Symbol    string
	Timestamp time.Time
	BuySide   map[int64]int64
	SellSide  map[int64]int64
	MidPrice  float64
	HasMid    bool
}

// VolumeBuy returns the aggregate bid volume in the snapshot
func (s OrderBookState) VolumeBuy() int64 {
	var total int64
	for _, v := range s.BuySide {
		total += v
	}
	return total
}

// VolumeSell returns the aggregate ask volume in the snapshot
func (s OrderBookState) VolumeSell() int64 {
	var total int64
	for _, v := range s.SellSide {
		total += v
	}
	return total
}

// BestBid returns the highest bid level in the snapshot
func (s OrderBookState) BestBid() (price, volume int64, ok bool) {
	for p, v := range s.BuySide {
		if !ok || p > price {
			price, volume, ok = p, v, true
		}
	}
	return price, volume, ok
}

// BestAsk returns the lowest ask level in the snapshot
func (s OrderBookState) BestAsk() (price, volume int64, ok bool) {
	for p, v := range s.SellSide {
		if !ok || p < price {
			price, volume, ok = p, v, true
		}
	}
	return price, volume, ok
}

// clone deep-copies the snapshot so callers can never share maps
func (s OrderBookState) clone() OrderBookState {
	c := s
	c.BuySide = make(map[int64]int64, len(s.BuySide))
	for p, v := range s.BuySide {
		c.BuySide[p] = v
	}
	c.SellSide = make(map[int64]int64, len(s.SellSide))
	for p, v := range s.SellSide {
		c.SellSide[p] = v
	}
	return c
}

// Snapshot is the value returned to market data consumers: the latest
// book state plus derived indicators, fully detached from the
// aggregator's own storage
type Snapshot struct {
	State         OrderBookState
	OrderStrength float64
	RSI           float64
	RSIValid      bool
	Observations  int
}

// MarketAnalytics accumulates depth-bounded book states per symbol and
// derives indicators over them
type MarketAnalytics struct {
	symbol string
	depth  int
	states []OrderBookState
	prices []float64

	// indicator windows used when building snapshots
	strengthWindow int
	rsiWindow      int
}

// New creates an aggregator observing up to depth levels per side
func New(symbol string, depth int) *MarketAnalytics {
	return &MarketAnalytics{
		symbol:         symbol,
		depth:          depth,
		strengthWindow: 10,
		rsiWindow:      14,
	}
}

// Update records the book's current state. Called once per analytics
// interval by the exchange agent.
func (m *MarketAnalytics) Update(ts time.Time, book BookView) {
	state := OrderBookState{
		Symbol:    m.symbol,
		Timestamp: ts,
		BuySide:   book.BuySide(m.depth),
		SellSide:  book.SellSide(m.depth),
	}
	if mid, ok := book.MidPrice(); ok {
		state.MidPrice = mid
		state.HasMid = true
		m.prices = append(m.prices, mid)
	}
	m.states = append(m.states, state)
}

// OrderStrength returns the buy/sell volume imbalance over the last
// window observations, in [-1, 1]. Zero when no volume was observed.
func (m *MarketAnalytics) OrderStrength(window int) float64 {
	start := len(m.states) - window
	if start < 0 {
		start = 0
	}
	var buys, sells int64
	for _, state := range m.states[start:] {
		buys += state.VolumeBuy()
		sells += state.VolumeSell()
	}
	total := buys + sells
	if total == 0 {
		return 0
	}
	return float64(buys-sells) / float64(total)
}

// RSI returns the relative strength index over the last window mid
// price changes. ok is false until window+1 prices were observed.
func (m *MarketAnalytics) RSI(window int) (rsi float64, ok bool) {
	if len(m.prices) < window+1 {
		return 0, false
	}
	recent := m.prices[len(m.prices)-(window+1):]
	var gains, losses float64
	for i := 1; i < len(recent); i++ {
		change := recent[i] - recent[i-1]
		if change > 0 {
			gains += change
		} else {
			losses -= change
		}
	}
	if losses == 0 {
		return 100, true
	}
	rs := gains / losses
	return 100 - 100/(1+rs), true
}

// Snapshot builds an immutable copy of the current analytics view.
// Later updates to the aggregator never alter a returned snapshot.
func (m *MarketAnalytics) Snapshot() Snapshot {
	snap := Snapshot{
		OrderStrength: m.OrderStrength(m.strengthWindow),
		Observations:  len(m.states),
	}
	snap.RSI, snap.RSIValid = m.RSI(m.rsiWindow)
	if len(m.states) > 0 {
		snap.State = m.states[len(m.states)-1].clone()
	} else {
		snap.State = OrderBookState{
			Symbol:   m.symbol,
			BuySide:  map[int64]int64{},
			SellSide: map[int64]int64{},
		}
	}
	return snap
}

// String implements fmt.Stringer interface
func (m *MarketAnalytics) String() string {
	mid := "N/A"
	if len(m.prices) > 0 {
		mid = fmt.Sprintf("%.1f", m.prices[len(m.prices)-1])
	}
	return fmt.Sprintf("MarketAnalytics(%s): %d observations, mid %s", m.symbol, len(m.states), mid)
}
