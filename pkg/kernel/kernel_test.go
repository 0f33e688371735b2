package kernel

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bashog/marketsim/pkg/core"
)

var testStart = time.Date(2024, 5, 1, 9, 30, 0, 0, time.UTC)

func testConfig() Config {
	return Config{
		MinTick:            10 * time.Millisecond,
		AnalyticsInterval:  100 * time.Millisecond,
		MarketDataInterval: 100 * time.Millisecond,
		WakeUpInterval:     100 * time.Millisecond,
		MaxJitter:          0,
		Seed:               1,
	}
}

// stubOracle replays a fixed schedule of orders
type stubOracle struct {
	start, end time.Time
	stamps     []time.Time
	orders     map[int64][]*core.Order
}

func newStubOracle(start, end time.Time) *stubOracle {
	return &stubOracle{start: start, end: end, orders: make(map[int64][]*core.Order)}
}

func (o *stubOracle) add(ts time.Time, order *core.Order) {
	key := ts.UnixNano()
	if _, seen := o.orders[key]; !seen {
		o.stamps = append(o.stamps, ts)
	}
	o.orders[key] = append(o.orders[key], order)
}

func (o *stubOracle) StartTime() time.Time { return o.start }
func (o *stubOracle) EndTime() time.Time   { return o.end }

func (o *stubOracle) Timestamps() []time.Time { return o.stamps }

func (o *stubOracle) Orders(ts time.Time) []*core.Order { return o.orders[ts.UnixNano()] }

// stubAgent records everything it receives
type stubAgent struct {
	id        string
	kernel    *Kernel
	received  []Message
	stopped   bool
	onReceive func(now time.Time, msg Message) error
}

func (a *stubAgent) ID() string { return a.id }

func (a *stubAgent) KernelStarted(k *Kernel, start time.Time) { a.kernel = k }

func (a *stubAgent) KernelStopped() { a.stopped = true }

func (a *stubAgent) ReceiveMessage(now time.Time, msg Message) error {
	a.received = append(a.received, msg)
	if a.onReceive != nil {
		return a.onReceive(now, msg)
	}
	return nil
}

func (a *stubAgent) count(mt MessageType) int {
	n := 0
	for _, m := range a.received {
		if m.Type == mt {
			n++
		}
	}
	return n
}

// stubExchange adds the analytics hook on top of stubAgent
type stubExchange struct {
	stubAgent
	refreshes int
}

func (e *stubExchange) RefreshAnalytics(now time.Time) { e.refreshes++ }

func TestRunDeliversReplayedOrders(t *testing.T) {
	oracle := newStubOracle(testStart, testStart.Add(time.Second))
	seq := core.NewSequencer()
	for i := 0; i < 3; i++ {
		order, err := core.NewLimitOrder(seq, "", "ABM", 5, core.Buy, 100, testStart)
		require.NoError(t, err)
		oracle.add(testStart.Add(time.Duration(i+1)*100*time.Millisecond), order)
	}

	exchange := &stubExchange{stubAgent: stubAgent{id: "EXCHANGE"}}
	k := New(testConfig())
	require.NoError(t, k.Run(context.Background(), oracle, exchange))

	assert.Equal(t, 3, exchange.count(MsgLimitOrder))
	assert.Equal(t, StateFinished, k.State())
	assert.True(t, exchange.stopped)
}

func TestSameTimeMessagesDeliveredInSendOrder(t *testing.T) {
	oracle := newStubOracle(testStart, testStart.Add(time.Second))
	seq := core.NewSequencer()
	at := testStart.Add(200 * time.Millisecond)
	var ids []uint64
	for i := 0; i < 4; i++ {
		order, err := core.NewLimitOrder(seq, "", "ABM", 1, core.Sell, 101, testStart)
		require.NoError(t, err)
		ids = append(ids, order.ID())
		oracle.add(at, order)
	}

	exchange := &stubExchange{stubAgent: stubAgent{id: "EXCHANGE"}}
	k := New(testConfig())
	require.NoError(t, k.Run(context.Background(), oracle, exchange))

	var got []uint64
	for _, m := range exchange.received {
		if m.Type == MsgLimitOrder {
			got = append(got, m.Content.(*core.Order).ID())
		}
	}
	assert.Equal(t, ids, got, "equal-time deliveries must preserve enqueue order")
}

func TestTriggersFireOnSchedule(t *testing.T) {
	oracle := newStubOracle(testStart, testStart.Add(time.Second))
	exchange := &stubExchange{stubAgent: stubAgent{id: "EXCHANGE"}}
	trader := &stubAgent{id: "T1"}

	k := New(testConfig())
	require.NoError(t, k.Run(context.Background(), oracle, exchange, trader))

	// Intervals of 100ms over a one second horizon fire ten times. The
	// analytics refresh is a direct call, so all ten land. Trigger
	// messages ride the queue, and the pair sent at the end time is
	// never drained.
	assert.Equal(t, 10, exchange.refreshes)
	assert.Equal(t, 9, trader.count(MsgWakeUp))
	assert.Equal(t, 9, exchange.count(MsgRequestMarketData))
}

func TestZeroDelayDeliveredAfterHandlerReturns(t *testing.T) {
	oracle := newStubOracle(testStart, testStart.Add(time.Second))
	exchange := &stubExchange{stubAgent: stubAgent{id: "EXCHANGE"}}
	trader := &stubAgent{id: "T1"}

	inFlight := false
	sent := false
	trader.onReceive = func(now time.Time, msg Message) error {
		inFlight = true
		defer func() { inFlight = false }()
		if msg.Type == MsgWakeUp && !sent {
			sent = true
			trader.kernel.SendMessage(trader.id, "EXCHANGE", NewMessage(MsgMarketOrder, nil), 0)
		}
		return nil
	}
	exchange.onReceive = func(now time.Time, msg Message) error {
		assert.False(t, inFlight, "delivery must not re-enter a running handler")
		return nil
	}

	k := New(testConfig())
	require.NoError(t, k.Run(context.Background(), oracle, exchange, trader))
	assert.Equal(t, 1, exchange.count(MsgMarketOrder))
}

func TestUnknownRecipientIsFatal(t *testing.T) {
	oracle := newStubOracle(testStart, testStart.Add(time.Second))
	exchange := &stubExchange{stubAgent: stubAgent{id: "EXCHANGE"}}
	trader := &stubAgent{id: "T1"}
	trader.onReceive = func(now time.Time, msg Message) error {
		if msg.Type == MsgWakeUp {
			trader.kernel.SendMessage(trader.id, "GHOST", NewMessage(MsgMarketData, nil), 0)
		}
		return nil
	}

	k := New(testConfig())
	err := k.Run(context.Background(), oracle, exchange, trader)
	require.ErrorIs(t, err, ErrUnknownRecipient)
	assert.Equal(t, StateFinished, k.State())
}

func TestEmptyRecipientDropped(t *testing.T) {
	k := New(testConfig())
	k.SendMessage("sender", "", NewMessage(MsgWakeUp, nil), 0)
	assert.Equal(t, 0, k.queue.Len())
}

func TestNegativeDelayClamped(t *testing.T) {
	k := New(testConfig())
	k.currentTime = testStart
	k.SendMessage("sender", "anyone", NewMessage(MsgWakeUp, nil), -time.Second)

	head := k.queue.peek()
	require.NotNil(t, head)
	assert.Equal(t, testStart, head.deliverAt)
}

func TestMessagesPastEndAreDropped(t *testing.T) {
	oracle := newStubOracle(testStart, testStart.Add(time.Second))
	exchange := &stubExchange{stubAgent: stubAgent{id: "EXCHANGE"}}
	trader := &stubAgent{id: "T1"}
	sent := false
	trader.onReceive = func(now time.Time, msg Message) error {
		if msg.Type == MsgWakeUp && !sent {
			sent = true
			trader.kernel.SendMessage(trader.id, "EXCHANGE", NewMessage(MsgMarketOrder, nil), time.Hour)
		}
		return nil
	}

	k := New(testConfig())
	require.NoError(t, k.Run(context.Background(), oracle, exchange, trader))

	assert.GreaterOrEqual(t, k.Dropped(), uint64(1))
	assert.Equal(t, 0, exchange.count(MsgMarketOrder))
}

func TestRunTwiceFails(t *testing.T) {
	oracle := newStubOracle(testStart, testStart.Add(100*time.Millisecond))
	exchange := &stubExchange{stubAgent: stubAgent{id: "EXCHANGE"}}

	k := New(testConfig())
	require.NoError(t, k.Run(context.Background(), oracle, exchange))
	assert.ErrorIs(t, k.Run(context.Background(), oracle, exchange), ErrAlreadyRan)
}

func TestRunWithoutOracleFails(t *testing.T) {
	exchange := &stubExchange{stubAgent: stubAgent{id: "EXCHANGE"}}
	k := New(testConfig())
	assert.ErrorIs(t, k.Run(context.Background(), nil, exchange), ErrNoOracle)
}

func TestCanceledContextStopsRun(t *testing.T) {
	oracle := newStubOracle(testStart, testStart.Add(time.Hour))
	exchange := &stubExchange{stubAgent: stubAgent{id: "EXCHANGE"}}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	k := New(testConfig())
	err := k.Run(ctx, oracle, exchange)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StateFinished, k.State())
	assert.True(t, exchange.stopped)
}

func TestHandlerErrorIsFatal(t *testing.T) {
	oracle := newStubOracle(testStart, testStart.Add(time.Second))
	seq := core.NewSequencer()
	order, err := core.NewLimitOrder(seq, "", "ABM", 1, core.Buy, 100, testStart)
	require.NoError(t, err)
	oracle.add(testStart.Add(100*time.Millisecond), order)

	exchange := &stubExchange{stubAgent: stubAgent{id: "EXCHANGE"}}
	exchange.onReceive = func(now time.Time, msg Message) error {
		return assert.AnError
	}

	k := New(testConfig())
	require.ErrorIs(t, k.Run(context.Background(), oracle, exchange), assert.AnError)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "uninitialized", StateUninitialized.String())
	assert.Equal(t, "pre_run", StatePreRun.String())
	assert.Equal(t, "running", StateRunning.String())
	assert.Equal(t, "finished", StateFinished.String())
	assert.Equal(t, "unknown", State(42).String())
}
