package agent

import (
	"context"
	"testing"
	"time"

	"github.com/nikolaydubina/fpdecimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bashog/marketsim/pkg/analytics"
	"github.com/bashog/marketsim/pkg/core"
	"github.com/bashog/marketsim/pkg/kernel"
	"github.com/bashog/marketsim/pkg/messaging"
)

var testStart = time.Date(2024, 5, 1, 9, 30, 0, 0, time.UTC)

func testFees(t *testing.T) (maker, taker fpdecimal.Decimal) {
	t.Helper()
	maker, err := fpdecimal.FromString("0.002")
	require.NoError(t, err)
	taker, err = fpdecimal.FromString("0.005")
	require.NoError(t, err)
	return maker, taker
}

func testKernelConfig() kernel.Config {
	return kernel.Config{
		MinTick:            10 * time.Millisecond,
		AnalyticsInterval:  100 * time.Millisecond,
		MarketDataInterval: 100 * time.Millisecond,
		WakeUpInterval:     100 * time.Millisecond,
		MaxJitter:          0,
		Seed:               1,
	}
}

// scriptOracle seeds the book and injects one crossing order mid-run
type scriptOracle struct {
	start, end time.Time
	stamps     []time.Time
	orders     map[int64][]*core.Order
}

func newScriptOracle(t *testing.T, seq *core.Sequencer) *scriptOracle {
	t.Helper()
	o := &scriptOracle{
		start:  testStart,
		end:    testStart.Add(time.Second),
		orders: make(map[int64][]*core.Order),
	}

	add := func(ts time.Time, qty int64, side core.Side, price int64) {
		order, err := core.NewLimitOrder(seq, "", "ABM", qty, side, price, ts)
		require.NoError(t, err)
		key := ts.UnixNano()
		if _, seen := o.orders[key]; !seen {
			o.stamps = append(o.stamps, ts)
		}
		o.orders[key] = append(o.orders[key], order)
	}

	// Seed liquidity at 50ms, cross the scripted trader's ask at 500ms.
	add(testStart.Add(50*time.Millisecond), 5, core.Sell, 105)
	add(testStart.Add(50*time.Millisecond), 5, core.Buy, 95)
	add(testStart.Add(500*time.Millisecond), 2, core.Buy, 104)
	return o
}

func (o *scriptOracle) StartTime() time.Time { return o.start }
func (o *scriptOracle) EndTime() time.Time   { return o.end }

func (o *scriptOracle) Timestamps() []time.Time { return o.stamps }

func (o *scriptOracle) Orders(ts time.Time) []*core.Order { return o.orders[ts.UnixNano()] }

// scriptedTrader walks a fixed sequence of actions, one per wake-up
type scriptedTrader struct {
	*TradingAgent
	t        *testing.T
	wakes    int
	parkedID uint64
}

func (s *scriptedTrader) ReceiveMessage(now time.Time, msg kernel.Message) error {
	if err := s.TradingAgent.ReceiveMessage(now, msg); err != nil {
		return err
	}
	if msg.Type != kernel.MsgWakeUp {
		return nil
	}
	s.wakes++
	switch s.wakes {
	case 1:
		// Cross the seeded ask: taker buy 3 at 105.
		_, err := s.PlaceLimitOrder("ABM", 3, core.Buy, 105)
		require.NoError(s.t, err)
	case 2:
		// Rest a sell inside the spread; the oracle crosses it later.
		_, err := s.PlaceLimitOrder("ABM", 2, core.Sell, 104)
		require.NoError(s.t, err)
	case 3:
		id, err := s.PlaceLimitOrder("ABM", 1, core.Buy, 90)
		require.NoError(s.t, err)
		s.parkedID = id
	case 4:
		s.CancelOrder("ABM", s.parkedID)
	}
	return nil
}

func TestExchangeAndTraderEndToEnd(t *testing.T) {
	maker, taker := testFees(t)
	seq := core.NewSequencer()
	oracle := newScriptOracle(t, seq)

	exchange := NewExchangeAgent("EXCHANGE", "run-1", []string{"ABM"}, 10, maker, taker)
	sender := messaging.NewMockFillSender()
	exchange.SetFillSender(sender)

	start, err := fpdecimal.FromString("10000")
	require.NoError(t, err)
	trader := &scriptedTrader{TradingAgent: NewTradingAgent("T1", seq, start), t: t}

	k := kernel.New(testKernelConfig())
	require.NoError(t, k.Run(context.Background(), oracle, exchange, trader))

	// Settled: bought 3 at 105 as taker, sold 2 at 104 as maker.
	assert.Equal(t, int64(1), trader.Position("ABM"))
	assert.Equal(t, int64(0), trader.PendingPosition("ABM"))
	assert.Equal(t, 0, trader.OpenOrders())

	// 10000 - 315 - 1.575 + 208 + 0.416
	wantCash, err := fpdecimal.FromString("9891.841")
	require.NoError(t, err)
	assert.True(t, trader.Cash().Equal(wantCash),
		"cash = %s, want %s", trader.Cash(), wantCash)

	book := exchange.Book("ABM")
	assert.Equal(t, int64(2), book.VolumeAt(105), "2 of the seeded 5 remain after the taker buy")
	assert.Equal(t, int64(5), book.VolumeAt(95))
	assert.Equal(t, int64(0), book.VolumeAt(104), "trader's resting sell fully crossed")
	assert.Equal(t, int64(0), book.VolumeAt(90), "parked order cancelled")

	// Two trades, two legs each, all published with the run id.
	require.Len(t, sender.Fills, 4)
	for _, fill := range sender.Fills {
		assert.Equal(t, "run-1", fill.RunID)
		assert.Equal(t, "ABM", fill.Symbol)
	}

	// Market data snapshots reached the trader.
	require.NotNil(t, trader.MarketData())
	assert.Positive(t, trader.MarketData().Observations)

	// The delivered snapshot is detached: writing into its depth map
	// must not reach the exchange's aggregator.
	trader.MarketData().State.BuySide[12345] = 999
	fresh := exchange.Analytics("ABM").Snapshot()
	assert.NotContains(t, fresh.State.BuySide, int64(12345))
}

func TestTradingAgentAcceptsMarketDataSnapshot(t *testing.T) {
	trader := NewTradingAgent("T1", core.NewSequencer(), fpdecimal.FromInt(1000))

	snap := analytics.New("ABM", 5).Snapshot()
	require.NoError(t, trader.ReceiveMessage(testStart, kernel.NewMessage(kernel.MsgMarketData, &snap)))
	assert.Same(t, &snap, trader.MarketData())
}

func TestExchangeRejectsBadPayloads(t *testing.T) {
	maker, taker := testFees(t)
	exchange := NewExchangeAgent("EXCHANGE", "run-1", []string{"ABM"}, 10, maker, taker)

	err := exchange.ReceiveMessage(testStart, kernel.NewMessage(kernel.MsgLimitOrder, "not an order"))
	assert.Error(t, err)

	err = exchange.ReceiveMessage(testStart, kernel.NewMessage(kernel.MsgCancelOrder, 42))
	assert.Error(t, err)

	err = exchange.ReceiveMessage(testStart, kernel.NewMessage(kernel.MsgRequestMarketData, 42))
	assert.Error(t, err)
}

func TestExchangeIgnoresUnknownSymbolAndForeignTypes(t *testing.T) {
	maker, taker := testFees(t)
	exchange := NewExchangeAgent("EXCHANGE", "run-1", []string{"ABM"}, 10, maker, taker)
	seq := core.NewSequencer()

	order, err := core.NewLimitOrder(seq, "T1", "XYZ", 1, core.Buy, 100, testStart)
	require.NoError(t, err)
	assert.NoError(t, exchange.ReceiveMessage(testStart, kernel.NewMessage(kernel.MsgLimitOrder, order)))
	assert.Nil(t, exchange.Book("XYZ"))

	// Cancels for unlisted symbols and unknown ids are no-ops.
	assert.NoError(t, exchange.ReceiveMessage(testStart,
		kernel.NewMessage(kernel.MsgCancelOrder, CancelRequest{Symbol: "XYZ", OrderID: 1})))
	assert.NoError(t, exchange.ReceiveMessage(testStart,
		kernel.NewMessage(kernel.MsgCancelOrder, CancelRequest{Symbol: "ABM", OrderID: 999})))

	// A message type outside the exchange vocabulary is ignored.
	assert.NoError(t, exchange.ReceiveMessage(testStart, kernel.NewMessage(kernel.MsgWakeUp, nil)))
}

func TestTradingAgentRejectsBadPayloads(t *testing.T) {
	trader := NewTradingAgent("T1", core.NewSequencer(), fpdecimal.FromInt(1000))

	assert.Error(t, trader.ReceiveMessage(testStart, kernel.NewMessage(kernel.MsgOrderExecuted, "nope")))
	assert.Error(t, trader.ReceiveMessage(testStart, kernel.NewMessage(kernel.MsgOrderCancelled, "nope")))
	assert.Error(t, trader.ReceiveMessage(testStart, kernel.NewMessage(kernel.MsgMarketData, "nope")))
}

func TestTradingAgentCancelUnknownOrderIsNoop(t *testing.T) {
	trader := NewTradingAgent("T1", core.NewSequencer(), fpdecimal.FromInt(1000))

	require.NoError(t, trader.ReceiveMessage(testStart,
		kernel.NewMessage(kernel.MsgOrderCancelled, uint64(777))))
	assert.Equal(t, int64(0), trader.PendingPosition("ABM"))
	assert.True(t, trader.Cash().Equal(fpdecimal.FromInt(1000)))
}

func TestTradingAgentFillBookkeeping(t *testing.T) {
	trader := NewTradingAgent("T1", core.NewSequencer(), fpdecimal.FromInt(1000))

	// A buy leg with a maker rebate of 0.2.
	fee, err := fpdecimal.FromString("0.2")
	require.NoError(t, err)
	fill := core.FilledOrder{
		AgentID:  "T1",
		OrderID:  1,
		Symbol:   "ABM",
		Quantity: 4,
		Side:     core.Buy,
		Price:    50,
		Fee:      fee,
	}
	require.NoError(t, trader.ReceiveMessage(testStart, kernel.NewMessage(kernel.MsgOrderExecuted, fill)))

	assert.Equal(t, int64(4), trader.Position("ABM"))
	// 1000 + 0.2 - 200
	want, err := fpdecimal.FromString("800.2")
	require.NoError(t, err)
	assert.True(t, trader.Cash().Equal(want), "cash = %s, want %s", trader.Cash(), want)

	// A sell leg with a taker charge of -0.5.
	fee, err = fpdecimal.FromString("-0.5")
	require.NoError(t, err)
	fill = core.FilledOrder{
		AgentID:  "T1",
		OrderID:  2,
		Symbol:   "ABM",
		Quantity: 4,
		Side:     core.Sell,
		Price:    60,
		Fee:      fee,
	}
	require.NoError(t, trader.ReceiveMessage(testStart, kernel.NewMessage(kernel.MsgOrderExecuted, fill)))

	assert.Equal(t, int64(0), trader.Position("ABM"))
	// 800.2 - 0.5 + 240
	want, err = fpdecimal.FromString("1039.7")
	require.NoError(t, err)
	assert.True(t, trader.Cash().Equal(want), "cash = %s, want %s", trader.Cash(), want)
}
