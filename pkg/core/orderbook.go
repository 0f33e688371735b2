package core

import (
	"fmt"
	"sort"
	"strings"

	"github.com/nikolaydubina/fpdecimal"
)

// level is the FIFO queue of resting orders at one price, with a
// cached aggregate of their remaining quantities.
type level struct {
	orders []*Order
	volume int64
}

// OrderBook keeps one instrument's resting liquidity and matches
// incoming orders against it under price-time priority. Trades always
// execute at the resting order's price. The book is exclusively owned
// by one exchange agent; it is not safe for concurrent use.
type OrderBook struct {
	symbol   string
	reporter FillReporter

	makerFeeRate fpdecimal.Decimal
	takerFeeRate fpdecimal.Decimal

	levels    map[int64]*level
	bidPrices []int64 // ascending, best bid last
	askPrices []int64 // ascending, best ask first
	resting   map[uint64]*Order

	lastTraded int64
	hasTraded  bool
}

// NewOrderBook creates an empty book for symbol. Fee rates are applied
// per match to the traded notional: makers are credited
// makerFeeRate*notional, takers are charged takerFeeRate*notional.
func NewOrderBook(symbol string, makerFeeRate, takerFeeRate fpdecimal.Decimal) *OrderBook {
	return &OrderBook{
		symbol:       symbol,
		makerFeeRate: makerFeeRate,
		takerFeeRate: takerFeeRate,
		levels:       make(map[int64]*level),
		resting:      make(map[uint64]*Order),
	}
}

// Symbol returns the instrument symbol
func (ob *OrderBook) Symbol() string {
	return ob.symbol
}

// SetReporter sets the owner that receives fill legs
func (ob *OrderBook) SetReporter(r FillReporter) {
	ob.reporter = r
}

// SendOrder routes an incoming order through matching. An order kind
// outside the limit/market variants is a configuration error and is
// returned to the caller.
func (ob *OrderBook) SendOrder(order *Order) error {
	if order == nil {
		return ErrNilOrder
	}

	switch order.Kind() {
	case KindMarket:
		ob.tradeMarket(order)
	case KindLimit:
		ob.insertLimit(order)
	default:
		return fmt.Errorf("%w: %v", ErrUnknownOrderKind, order.Kind())
	}
	return nil
}

// insertLimit matches a limit order while it is marketable, re-checking
// the crossing condition after every drained level, then rests any
// remainder at its limit price.
func (ob *OrderBook) insertLimit(order *Order) {
	price := order.Price()
	side := order.Side()

	for order.Remaining() > 0 {
		var best int64
		var ok bool
		if side == Buy {
			best, ok = ob.BestAsk()
			if !ok || price < best {
				break
			}
		} else {
			best, ok = ob.BestBid()
			if !ok || price > best {
				break
			}
		}
		ob.tradeLevel(order, best)
	}

	if order.Remaining() > 0 {
		lvl, exists := ob.levels[price]
		if !exists {
			lvl = &level{}
			ob.levels[price] = lvl
			if side == Buy {
				ob.bidPrices = insertPrice(ob.bidPrices, price)
			} else {
				ob.askPrices = insertPrice(ob.askPrices, price)
			}
		}
		lvl.orders = append(lvl.orders, order)
		lvl.volume += order.Remaining()
		ob.resting[order.ID()] = order
	}
}

// tradeMarket consumes opposing liquidity from the best price outward.
// Whatever cannot fill is discarded; market orders never rest.
func (ob *OrderBook) tradeMarket(order *Order) {
	for order.Remaining() > 0 {
		var best int64
		var ok bool
		if order.Side() == Buy {
			best, ok = ob.BestAsk()
		} else {
			best, ok = ob.BestBid()
		}
		if !ok {
			break
		}
		ob.tradeLevel(order, best)
	}
}

// tradeLevel fills the incoming order against the FIFO queue at price,
// head first. Each non-zero match emits a maker leg and a taker leg to
// the reporter. An emptied level is excised immediately.
func (ob *OrderBook) tradeLevel(incoming *Order, price int64) {
	lvl, exists := ob.levels[price]
	if !exists {
		return
	}
	makerSide := incoming.Side().Opposite()

	for len(lvl.orders) > 0 && incoming.Remaining() > 0 {
		maker := lvl.orders[0]
		quantity := maker.Remaining()
		if incoming.Remaining() < quantity {
			quantity = incoming.Remaining()
		}

		maker.fill(quantity)
		incoming.fill(quantity)
		lvl.volume -= quantity

		if quantity > 0 {
			makerFee, takerFee := ob.fees(quantity, price)
			ob.report(FilledOrder{
				AgentID:  maker.AgentID(),
				OrderID:  maker.ID(),
				Symbol:   ob.symbol,
				Quantity: quantity,
				Side:     maker.Side(),
				Price:    price,
				Fee:      makerFee,
			})
			ob.report(FilledOrder{
				AgentID:  incoming.AgentID(),
				OrderID:  incoming.ID(),
				Symbol:   ob.symbol,
				Quantity: quantity,
				Side:     incoming.Side(),
				Price:    price,
				Fee:      takerFee,
			})
			ob.lastTraded = price
			ob.hasTraded = true
		}

		if maker.Remaining() == 0 {
			lvl.orders = lvl.orders[1:]
			delete(ob.resting, maker.ID())
		}
		if lvl.volume == 0 {
			ob.removeLevel(price, makerSide)
		}
	}
}

// CancelOrder removes a resting order by id and returns it. A cancel
// for an id no longer resident is a no-op: late and duplicate cancels
// are expected under delivery delays.
func (ob *OrderBook) CancelOrder(orderID uint64) *Order {
	order, exists := ob.resting[orderID]
	if !exists {
		return nil
	}

	lvl := ob.levels[order.Price()]
	for i, o := range lvl.orders {
		if o.ID() == orderID {
			lvl.orders = append(lvl.orders[:i], lvl.orders[i+1:]...)
			break
		}
	}
	lvl.volume -= order.Remaining()
	delete(ob.resting, orderID)
	if lvl.volume == 0 {
		ob.removeLevel(order.Price(), order.Side())
	}
	return order
}

// removeLevel excises a price level and its key on the given side
func (ob *OrderBook) removeLevel(price int64, side Side) {
	if side == Buy {
		ob.bidPrices = removePrice(ob.bidPrices, price)
	} else {
		ob.askPrices = removePrice(ob.askPrices, price)
	}
	delete(ob.levels, price)
}

// BestBid returns the highest bid price with a non-empty level. Stale
// keys pointing at empty levels are removed on the way.
func (ob *OrderBook) BestBid() (int64, bool) {
	for len(ob.bidPrices) > 0 {
		price := ob.bidPrices[len(ob.bidPrices)-1]
		if lvl, exists := ob.levels[price]; exists && len(lvl.orders) > 0 {
			return price, true
		}
		ob.removeLevel(price, Buy)
	}
	return 0, false
}

// BestAsk returns the lowest ask price with a non-empty level
func (ob *OrderBook) BestAsk() (int64, bool) {
	for len(ob.askPrices) > 0 {
		price := ob.askPrices[0]
		if lvl, exists := ob.levels[price]; exists && len(lvl.orders) > 0 {
			return price, true
		}
		ob.removeLevel(price, Sell)
	}
	return 0, false
}

// MidPrice returns the average of best bid and best ask, or false if
// either side is empty
func (ob *OrderBook) MidPrice() (float64, bool) {
	bid, okBid := ob.BestBid()
	ask, okAsk := ob.BestAsk()
	if !okBid || !okAsk {
		return 0, false
	}
	return float64(bid+ask) / 2.0, true
}

// LastTradedPrice returns the price of the most recent match
func (ob *OrderBook) LastTradedPrice() (int64, bool) {
	return ob.lastTraded, ob.hasTraded
}

// BuySide returns price -> aggregate volume for up to depth bid
// levels, most competitive first levels included
func (ob *OrderBook) BuySide(depth int) map[int64]int64 {
	out := make(map[int64]int64)
	count := 0
	for i := len(ob.bidPrices) - 1; i >= 0 && count < depth; i-- {
		price := ob.bidPrices[i]
		lvl, exists := ob.levels[price]
		if !exists || lvl.volume == 0 {
			continue
		}
		out[price] = lvl.volume
		count++
	}
	return out
}

// SellSide returns price -> aggregate volume for up to depth ask levels
func (ob *OrderBook) SellSide(depth int) map[int64]int64 {
	out := make(map[int64]int64)
	count := 0
	for i := 0; i < len(ob.askPrices) && count < depth; i++ {
		price := ob.askPrices[i]
		lvl, exists := ob.levels[price]
		if !exists || lvl.volume == 0 {
			continue
		}
		out[price] = lvl.volume
		count++
	}
	return out
}

// VolumeAt returns the cached aggregate volume resting at price
func (ob *OrderBook) VolumeAt(price int64) int64 {
	if lvl, exists := ob.levels[price]; exists {
		return lvl.volume
	}
	return 0
}

// OrdersAt returns copies of the resting orders queued at price, head
// of queue first
func (ob *OrderBook) OrdersAt(price int64) []*Order {
	lvl, exists := ob.levels[price]
	if !exists {
		return nil
	}
	out := make([]*Order, 0, len(lvl.orders))
	for _, o := range lvl.orders {
		out = append(out, o.Copy())
	}
	return out
}

func (ob *OrderBook) fees(quantity, price int64) (maker, taker fpdecimal.Decimal) {
	notional := fpdecimal.FromInt(quantity * price)
	maker = ob.makerFeeRate.Mul(notional)
	taker = fpdecimal.Zero.Sub(ob.takerFeeRate.Mul(notional))
	return maker, taker
}

func (ob *OrderBook) report(fill FilledOrder) {
	if ob.reporter == nil {
		return
	}
	ob.reporter.ReportFill(fill)
}

// String implements fmt.Stringer interface
func (ob *OrderBook) String() string {
	builder := strings.Builder{}
	builder.WriteString(fmt.Sprintf("OrderBook(%s)\nBids:", ob.symbol))
	for i := len(ob.bidPrices) - 1; i >= 0; i-- {
		price := ob.bidPrices[i]
		if lvl, exists := ob.levels[price]; exists {
			builder.WriteString(fmt.Sprintf(" %d x %d (orders: %d)", price, lvl.volume, len(lvl.orders)))
		}
	}
	builder.WriteString("\nAsks:")
	for _, price := range ob.askPrices {
		if lvl, exists := ob.levels[price]; exists {
			builder.WriteString(fmt.Sprintf(" %d x %d (orders: %d)", price, lvl.volume, len(lvl.orders)))
		}
	}
	if ob.hasTraded {
		builder.WriteString(fmt.Sprintf("\nLast traded: %d", ob.lastTraded))
	}
	return builder.String()
}

// insertPrice inserts p into the ascending slice if absent
func insertPrice(prices []int64, p int64) []int64 {
	i := sort.Search(len(prices), func(j int) bool { return prices[j] >= p })
	if i < len(prices) && prices[i] == p {
		return prices
	}
	prices = append(prices, 0)
	copy(prices[i+1:], prices[i:])
	prices[i] = p
	return prices
}

// removePrice removes p from the ascending slice if present
func removePrice(prices []int64, p int64) []int64 {
	i := sort.Search(len(prices), func(j int) bool { return prices[j] >= p })
	if i < len(prices) && prices[i] == p {
		return append(prices[:i], prices[i+1:]...)
	}
	return prices
}
