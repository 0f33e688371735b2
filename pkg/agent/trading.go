package agent

import (
	"fmt"
	"time"

	"github.com/nikolaydubina/fpdecimal"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/bashog/marketsim/pkg/analytics"
	"github.com/bashog/marketsim/pkg/core"
	"github.com/bashog/marketsim/pkg/kernel"
)

// openOrder tracks a live order on the trader's side of the wire.
// remaining mirrors the unfilled quantity still reserved in pending.
type openOrder struct {
	order     *core.Order
	remaining int64
}

// TradingAgent carries the bookkeeping every trader needs: cash,
// settled positions, pending reservations and open orders. Strategies
// embed it and add their own behavior on top.
type TradingAgent struct {
	id         string
	exchangeID string
	seq        *core.Sequencer
	logger     zerolog.Logger

	kernel      *kernel.Kernel
	currentTime time.Time

	startingCash fpdecimal.Decimal
	cash         fpdecimal.Decimal

	positions map[string]int64
	pending   map[string]int64
	orders    map[uint64]*openOrder

	marketData *analytics.Snapshot
}

// NewTradingAgent creates a trader drawing order ids from seq
func NewTradingAgent(id string, seq *core.Sequencer, startingCash fpdecimal.Decimal) *TradingAgent {
	return &TradingAgent{
		id:           id,
		seq:          seq,
		logger:       log.With().Str("component", "trader").Str("agent_id", id).Logger(),
		startingCash: startingCash,
		cash:         startingCash,
		positions:    make(map[string]int64),
		pending:      make(map[string]int64),
		orders:       make(map[uint64]*openOrder),
	}
}

// ID returns the agent id
func (t *TradingAgent) ID() string {
	return t.id
}

// Cash returns current cash including fees paid and received
func (t *TradingAgent) Cash() fpdecimal.Decimal {
	return t.cash
}

// StartingCash returns the cash the agent began with
func (t *TradingAgent) StartingCash() fpdecimal.Decimal {
	return t.startingCash
}

// Position returns the settled position in symbol
func (t *TradingAgent) Position(symbol string) int64 {
	return t.positions[symbol]
}

// PendingPosition returns the signed exposure reserved by open orders
func (t *TradingAgent) PendingPosition(symbol string) int64 {
	return t.pending[symbol]
}

// OpenOrders returns the number of orders not yet fully filled or
// cancelled
func (t *TradingAgent) OpenOrders() int {
	return len(t.orders)
}

// MarketData returns the last snapshot received, or nil before the
// first delivery
func (t *TradingAgent) MarketData() *analytics.Snapshot {
	return t.marketData
}

// Logger exposes the agent-scoped logger to embedding strategies
func (t *TradingAgent) Logger() zerolog.Logger {
	return t.logger
}

// Now returns the simulated time of the last event seen
func (t *TradingAgent) Now() time.Time {
	return t.currentTime
}

// KernelStarted wires the kernel and resolves the exchange to trade on
func (t *TradingAgent) KernelStarted(k *kernel.Kernel, start time.Time) {
	t.kernel = k
	t.exchangeID = k.ExchangeID()
	t.currentTime = start
}

// KernelStopped logs the final account
func (t *TradingAgent) KernelStopped() {
	t.logger.Info().
		Str("cash", t.cash.String()).
		Str("starting_cash", t.startingCash.String()).
		Interface("positions", t.positions).
		Int("open_orders", len(t.orders)).
		Msg("final account")
}

// ReceiveMessage updates the account from exchange notifications.
// Strategies that override this should call it first.
func (t *TradingAgent) ReceiveMessage(now time.Time, msg kernel.Message) error {
	t.currentTime = now

	switch msg.Type {
	case kernel.MsgOrderExecuted:
		fill, ok := msg.Content.(core.FilledOrder)
		if !ok {
			return fmt.Errorf("%s payload is %T, want core.FilledOrder", msg.Type, msg.Content)
		}
		t.applyFill(fill)

	case kernel.MsgOrderCancelled:
		orderID, ok := msg.Content.(uint64)
		if !ok {
			return fmt.Errorf("%s payload is %T, want uint64", msg.Type, msg.Content)
		}
		t.applyCancel(orderID)

	case kernel.MsgMarketData:
		snap, ok := msg.Content.(*analytics.Snapshot)
		if !ok {
			return fmt.Errorf("%s payload is %T, want *analytics.Snapshot", msg.Type, msg.Content)
		}
		t.marketData = snap
	}
	return nil
}

// applyFill settles one executed leg. The fee is signed: maker legs
// add cash, taker legs remove it.
func (t *TradingAgent) applyFill(fill core.FilledOrder) {
	t.cash = t.cash.Add(fill.Fee)
	notional := fill.Notional()

	switch fill.Side {
	case core.Buy:
		t.positions[fill.Symbol] += fill.Quantity
		t.pending[fill.Symbol] -= fill.Quantity
		t.cash = t.cash.Sub(notional)
	case core.Sell:
		t.positions[fill.Symbol] -= fill.Quantity
		t.pending[fill.Symbol] += fill.Quantity
		t.cash = t.cash.Add(notional)
	}

	if oo := t.orders[fill.OrderID]; oo != nil {
		oo.remaining -= fill.Quantity
		if oo.remaining <= 0 {
			delete(t.orders, fill.OrderID)
		}
	}

	t.logger.Debug().
		Uint64("order_id", fill.OrderID).
		Str("side", fill.Side.String()).
		Int64("price", fill.Price).
		Int64("quantity", fill.Quantity).
		Str("cash", t.cash.String()).
		Msg("fill settled")
}

// applyCancel releases the reservation held by a cancelled order. A
// cancel for an order the agent no longer tracks is a no-op.
func (t *TradingAgent) applyCancel(orderID uint64) {
	oo := t.orders[orderID]
	if oo == nil {
		return
	}
	switch oo.order.Side() {
	case core.Buy:
		t.pending[oo.order.Symbol()] -= oo.remaining
	case core.Sell:
		t.pending[oo.order.Symbol()] += oo.remaining
	}
	delete(t.orders, orderID)
}

// PlaceLimitOrder submits a limit order to the exchange and reserves
// its exposure in pending
func (t *TradingAgent) PlaceLimitOrder(symbol string, quantity int64, side core.Side, price int64) (uint64, error) {
	order, err := core.NewLimitOrder(t.seq, t.id, symbol, quantity, side, price, t.currentTime)
	if err != nil {
		return 0, err
	}
	t.submit(order, kernel.MsgLimitOrder)
	return order.ID(), nil
}

// PlaceMarketOrder submits a market order to the exchange
func (t *TradingAgent) PlaceMarketOrder(symbol string, quantity int64, side core.Side) (uint64, error) {
	order, err := core.NewMarketOrder(t.seq, t.id, symbol, quantity, side, t.currentTime)
	if err != nil {
		return 0, err
	}
	t.submit(order, kernel.MsgMarketOrder)
	return order.ID(), nil
}

// CancelOrder asks the exchange to remove a resting order
func (t *TradingAgent) CancelOrder(symbol string, orderID uint64) {
	t.kernel.SendMessage(t.id, t.exchangeID,
		kernel.NewMessage(kernel.MsgCancelOrder, CancelRequest{Symbol: symbol, OrderID: orderID}), 0)
}

func (t *TradingAgent) submit(order *core.Order, msgType kernel.MessageType) {
	t.orders[order.ID()] = &openOrder{order: order.Copy(), remaining: order.Quantity()}
	switch order.Side() {
	case core.Buy:
		t.pending[order.Symbol()] += order.Quantity()
	case core.Sell:
		t.pending[order.Symbol()] -= order.Quantity()
	}
	t.kernel.SendMessage(t.id, t.exchangeID, kernel.NewMessage(msgType, order), 0)
}

var _ kernel.Agent = (*TradingAgent)(nil)
