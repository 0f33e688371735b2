package agent

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/nikolaydubina/fpdecimal"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/bashog/marketsim/pkg/analytics"
	"github.com/bashog/marketsim/pkg/core"
	"github.com/bashog/marketsim/pkg/kernel"
	"github.com/bashog/marketsim/pkg/messaging"
	"github.com/bashog/marketsim/pkg/otel"
	redisstore "github.com/bashog/marketsim/pkg/store/redis"
)

// CancelRequest asks the exchange to remove a resting order
type CancelRequest struct {
	Symbol  string
	OrderID uint64
}

// outboundAllowed is the fixed set of message types the exchange may
// emit. Anything else constructed internally is suppressed at the send
// boundary.
var outboundAllowed = map[kernel.MessageType]bool{
	kernel.MsgOrderAccepted:  true,
	kernel.MsgOrderCancelled: true,
	kernel.MsgOrderExecuted:  true,
	kernel.MsgMarketData:     true,
}

// ExchangeAgent owns one order book and one analytics aggregator per
// listed symbol. It is the only writer to its books.
type ExchangeAgent struct {
	id      string
	runID   string
	symbols []string
	depth   int

	kernel      *kernel.Kernel
	currentTime time.Time
	logger      zerolog.Logger

	books     map[string]*core.OrderBook
	analytics map[string]*analytics.MarketAnalytics

	sender messaging.FillSender
	store  *redisstore.SnapshotStore
}

// NewExchangeAgent creates an exchange listing the given symbols.
// Depth bounds the analytics snapshots; fee rates apply to every book.
func NewExchangeAgent(id, runID string, symbols []string, depth int, makerFeeRate, takerFeeRate fpdecimal.Decimal) *ExchangeAgent {
	e := &ExchangeAgent{
		id:        id,
		runID:     runID,
		depth:     depth,
		logger:    log.With().Str("component", "exchange").Str("agent_id", id).Logger(),
		books:     make(map[string]*core.OrderBook),
		analytics: make(map[string]*analytics.MarketAnalytics),
	}

	e.symbols = append(e.symbols, symbols...)
	sort.Strings(e.symbols)
	for _, symbol := range e.symbols {
		book := core.NewOrderBook(symbol, makerFeeRate, takerFeeRate)
		book.SetReporter(e)
		e.books[symbol] = book
		e.analytics[symbol] = analytics.New(symbol, depth)
	}
	return e
}

// SetFillSender attaches an external fill stream publisher
func (e *ExchangeAgent) SetFillSender(sender messaging.FillSender) {
	e.sender = sender
}

// SetSnapshotStore attaches a depth snapshot store
func (e *ExchangeAgent) SetSnapshotStore(store *redisstore.SnapshotStore) {
	e.store = store
}

// ID returns the agent id
func (e *ExchangeAgent) ID() string {
	return e.id
}

// Book returns the order book for symbol, or nil if not listed
func (e *ExchangeAgent) Book(symbol string) *core.OrderBook {
	return e.books[symbol]
}

// Analytics returns the aggregator for symbol, or nil if not listed
func (e *ExchangeAgent) Analytics(symbol string) *analytics.MarketAnalytics {
	return e.analytics[symbol]
}

// KernelStarted wires the kernel reference
func (e *ExchangeAgent) KernelStarted(k *kernel.Kernel, start time.Time) {
	e.kernel = k
	e.currentTime = start
}

// KernelStopped logs the final books
func (e *ExchangeAgent) KernelStopped() {
	for _, symbol := range e.symbols {
		e.logger.Info().Str("symbol", symbol).Msg(e.books[symbol].String())
	}
}

// ReceiveMessage handles order flow and market data requests. Types
// outside its vocabulary are ignored.
func (e *ExchangeAgent) ReceiveMessage(now time.Time, msg kernel.Message) error {
	e.currentTime = now

	switch msg.Type {
	case kernel.MsgLimitOrder, kernel.MsgMarketOrder:
		order, ok := msg.Content.(*core.Order)
		if !ok {
			return fmt.Errorf("%s payload is %T, want *core.Order", msg.Type, msg.Content)
		}
		return e.handleOrder(order)

	case kernel.MsgCancelOrder:
		req, ok := msg.Content.(CancelRequest)
		if !ok {
			return fmt.Errorf("%s payload is %T, want CancelRequest", msg.Type, msg.Content)
		}
		e.handleCancel(req)

	case kernel.MsgRequestMarketData:
		requester, ok := msg.Content.(string)
		if !ok {
			return fmt.Errorf("%s payload is %T, want string", msg.Type, msg.Content)
		}
		e.handleMarketDataRequest(requester)
	}
	return nil
}

func (e *ExchangeAgent) handleOrder(order *core.Order) error {
	book, listed := e.books[order.Symbol()]
	if !listed {
		e.logger.Warn().Str("symbol", order.Symbol()).Uint64("order_id", order.ID()).Msg("order for unlisted symbol ignored")
		return nil
	}

	ctx, span := otel.StartSpan(context.Background(), "exchange.process_order",
		otel.OrderAttributes(order)...)
	defer span.End()

	if err := book.SendOrder(order); err != nil {
		return fmt.Errorf("book %s rejected order %d: %w", order.Symbol(), order.ID(), err)
	}
	otel.RecordOrder(ctx, order.Kind().String())

	e.sendMessage(order.AgentID(), kernel.NewMessage(kernel.MsgOrderAccepted, order.ID()), 0)
	return nil
}

func (e *ExchangeAgent) handleCancel(req CancelRequest) {
	book, listed := e.books[req.Symbol]
	if !listed {
		return
	}
	// A cancel for an id no longer resident is an expected late
	// cancel, not an error.
	canceled := book.CancelOrder(req.OrderID)
	if canceled == nil {
		e.logger.Debug().Uint64("order_id", req.OrderID).Msg("cancel for nonresident order ignored")
		return
	}
	e.sendMessage(canceled.AgentID(), kernel.NewMessage(kernel.MsgOrderCancelled, canceled.ID()), 0)
}

func (e *ExchangeAgent) handleMarketDataRequest(requester string) {
	for _, symbol := range e.symbols {
		snap := e.analytics[symbol].Snapshot()
		e.sendMessage(requester, kernel.NewMessage(kernel.MsgMarketData, &snap), 0)
	}
}

// ReportFill receives one leg of a match from a book and forwards it
// to the agent that owns the order
func (e *ExchangeAgent) ReportFill(fill core.FilledOrder) {
	e.sendMessage(fill.AgentID, kernel.NewMessage(kernel.MsgOrderExecuted, fill), 0)
	otel.RecordTrade(context.Background(), fill.Symbol, fill.Quantity)

	if e.sender != nil {
		err := e.sender.SendFill(&messaging.FillMessage{
			RunID:      e.runID,
			Symbol:     fill.Symbol,
			AgentID:    fill.AgentID,
			OrderID:    fill.OrderID,
			Side:       fill.Side.String(),
			Price:      fill.Price,
			Quantity:   fill.Quantity,
			Fee:        fill.Fee.String(),
			ExecutedAt: e.currentTime,
		})
		if err != nil {
			e.logger.Warn().Err(err).Msg("failed to publish fill")
		}
	}
}

// RefreshAnalytics updates every symbol's aggregator from its book and
// persists the latest snapshot when a store is attached
func (e *ExchangeAgent) RefreshAnalytics(now time.Time) {
	e.currentTime = now
	for _, symbol := range e.symbols {
		e.analytics[symbol].Update(now, e.books[symbol])
		if e.store != nil {
			state := e.analytics[symbol].Snapshot().State
			if err := e.store.SaveSnapshot(context.Background(), state); err != nil {
				e.logger.Warn().Err(err).Str("symbol", symbol).Msg("failed to store snapshot")
			}
		}
	}
}

// sendMessage forwards a message through the kernel, enforcing the
// outbound allow-list
func (e *ExchangeAgent) sendMessage(recipient string, msg kernel.Message, delay time.Duration) {
	if !outboundAllowed[msg.Type] {
		e.logger.Debug().Str("type", string(msg.Type)).Msg("outbound message type suppressed")
		return
	}
	e.kernel.SendMessage(e.id, recipient, msg, delay)
}

// Ensure interfaces are satisfied
var (
	_ kernel.MarketAgent = (*ExchangeAgent)(nil)
	_ core.FillReporter  = (*ExchangeAgent)(nil)
)
