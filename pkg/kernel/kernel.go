package kernel

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/bashog/marketsim/pkg/core"
)

// Errors
var (
	ErrUnknownRecipient = errors.New("unknown message recipient")
	ErrAlreadyRan       = errors.New("kernel already ran")
	ErrNoOracle         = errors.New("no oracle configured")
)

// State tracks the kernel lifecycle
type State int

// Kernel states
const (
	StateUninitialized State = iota
	StatePreRun
	StateRunning
	StateFinished
)

// String returns state as string
func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StatePreRun:
		return "pre_run"
	case StateRunning:
		return "running"
	case StateFinished:
		return "finished"
	default:
		return "unknown"
	}
}

// Agent is anything the kernel can deliver messages to. ReceiveMessage
// returns an error only for fatal conditions; unrecognized message
// types must be ignored, not errored.
type Agent interface {
	ID() string
	KernelStarted(k *Kernel, start time.Time)
	KernelStopped()
	ReceiveMessage(now time.Time, msg Message) error
}

// MarketAgent is the exchange-side agent the kernel asks to refresh
// its analytics on the analytics trigger
type MarketAgent interface {
	Agent
	RefreshAnalytics(now time.Time)
}

// Oracle feeds historical orders into the run. The kernel only treats
// it as an ordered source of limit orders keyed by timestamp.
type Oracle interface {
	StartTime() time.Time
	EndTime() time.Time
	Timestamps() []time.Time
	Orders(ts time.Time) []*core.Order
}

// Config holds the kernel scheduling parameters
type Config struct {
	// MinTick is how far time advances when the queue is empty
	MinTick time.Duration
	// AnalyticsInterval is the period of the analytics refresh trigger
	AnalyticsInterval time.Duration
	// MarketDataInterval is the period of the market data broadcast trigger
	MarketDataInterval time.Duration
	// WakeUpInterval is the period of the trading agent wake-up trigger
	WakeUpInterval time.Duration
	// MaxJitter bounds the randomized delay added to replayed orders
	MaxJitter time.Duration
	// Seed drives the jitter source; equal seeds replay identically
	Seed int64
}

// DefaultConfig returns the default kernel configuration
func DefaultConfig() Config {
	return Config{
		MinTick:            10 * time.Millisecond,
		AnalyticsInterval:  100 * time.Millisecond,
		MarketDataInterval: 100 * time.Millisecond,
		WakeUpInterval:     500 * time.Millisecond,
		MaxJitter:          5 * time.Millisecond,
		Seed:               7,
	}
}

// trigger is one fixed-interval periodic action
type trigger struct {
	name     string
	interval time.Duration
	next     time.Time
	fire     func(now time.Time)
}

// Kernel owns simulated time, the global message queue and the agent
// registry, and drives the whole simulation from a single loop. Agent
// callbacks run synchronously to completion; nothing else mutates the
// queue or the books.
type Kernel struct {
	cfg    Config
	logger zerolog.Logger

	state       State
	currentTime time.Time
	endTime     time.Time

	queue    *messageQueue
	seq      uint64
	agents   map[string]Agent
	exchange MarketAgent
	traders  []Agent
	triggers []*trigger
	rng      *rand.Rand

	delivered uint64
	dropped   uint64
}

// New creates a kernel with the given configuration
func New(cfg Config) *Kernel {
	return &Kernel{
		cfg:    cfg,
		logger: log.With().Str("component", "kernel").Logger(),
		state:  StateUninitialized,
		queue:  newMessageQueue(),
		agents: make(map[string]Agent),
		rng:    rand.New(rand.NewSource(cfg.Seed)),
	}
}

// State returns the current lifecycle state
func (k *Kernel) State() State {
	return k.state
}

// CurrentTime returns the simulated clock
func (k *Kernel) CurrentTime() time.Time {
	return k.currentTime
}

// ExchangeID returns the id of the registered exchange agent
func (k *Kernel) ExchangeID() string {
	if k.exchange == nil {
		return ""
	}
	return k.exchange.ID()
}

// Delivered returns how many messages have been dispatched
func (k *Kernel) Delivered() uint64 {
	return k.delivered
}

// Dropped returns how many messages were still queued past the end
// time when the run finished
func (k *Kernel) Dropped() uint64 {
	return k.dropped
}

// SendMessage schedules a message for delivery at currentTime+delay.
// A zero delay still goes through the queue, so delivery happens only
// after the sending handler has returned. Messages to an empty
// recipient are dropped.
func (k *Kernel) SendMessage(sender, recipient string, msg Message, delay time.Duration) {
	if recipient == "" {
		return
	}
	if delay < 0 {
		delay = 0
	}
	k.seq++
	msg.seq = k.seq
	k.queue.push(&envelope{
		deliverAt: k.currentTime.Add(delay),
		seq:       k.seq,
		sender:    sender,
		recipient: recipient,
		msg:       msg,
	})
}

// Run executes the simulation from the oracle's start time to its end
// time. It returns an error on fatal configuration problems, such as a
// message addressed to an unregistered agent.
func (k *Kernel) Run(ctx context.Context, oracle Oracle, exchange MarketAgent, traders ...Agent) error {
	if k.state != StateUninitialized {
		return ErrAlreadyRan
	}
	if oracle == nil {
		return ErrNoOracle
	}

	k.preRun(oracle, exchange, traders)

	k.state = StateRunning
	k.logger.Info().
		Time("start", k.currentTime).
		Time("end", k.endTime).
		Int("agents", len(k.agents)).
		Int("queued", k.queue.Len()).
		Msg("kernel running")

	for !k.currentTime.After(k.endTime) {
		if err := ctx.Err(); err != nil {
			k.finish()
			return err
		}
		if err := k.drainDue(); err != nil {
			k.finish()
			return err
		}
		k.fireTriggers()
		k.advanceTime()
	}

	k.finish()
	return nil
}

// preRun wires agents and primes the queue with the oracle's replay
func (k *Kernel) preRun(oracle Oracle, exchange MarketAgent, traders []Agent) {
	k.state = StatePreRun
	k.currentTime = oracle.StartTime()
	k.endTime = oracle.EndTime()

	k.exchange = exchange
	k.agents[exchange.ID()] = exchange
	for _, trader := range traders {
		k.agents[trader.ID()] = trader
		k.traders = append(k.traders, trader)
	}

	// Replayed orders land in the exchange mailbox with a small random
	// jitter so historical bursts do not arrive artificially aligned.
	for _, ts := range oracle.Timestamps() {
		for _, order := range oracle.Orders(ts) {
			k.seq++
			msg := NewMessage(MsgLimitOrder, order)
			msg.seq = k.seq
			k.queue.push(&envelope{
				deliverAt: ts.Add(k.jitter()),
				seq:       k.seq,
				sender:    order.AgentID(),
				recipient: exchange.ID(),
				msg:       msg,
			})
		}
	}

	k.initTriggers()

	for _, agent := range k.agents {
		agent.KernelStarted(k, k.currentTime)
	}
}

// initTriggers builds the periodic trigger table. Keeping it as data
// keeps the main loop free of per-feature branching.
func (k *Kernel) initTriggers() {
	start := k.currentTime
	k.triggers = []*trigger{
		{
			name:     "analytics",
			interval: k.cfg.AnalyticsInterval,
			next:     start.Add(k.cfg.AnalyticsInterval),
			fire: func(now time.Time) {
				k.exchange.RefreshAnalytics(now)
			},
		},
		{
			name:     "market_data",
			interval: k.cfg.MarketDataInterval,
			next:     start.Add(k.cfg.MarketDataInterval),
			fire: func(now time.Time) {
				for _, trader := range k.traders {
					k.SendMessage(trader.ID(), k.exchange.ID(), NewMessage(MsgRequestMarketData, trader.ID()), 0)
				}
			},
		},
		{
			name:     "wake_up",
			interval: k.cfg.WakeUpInterval,
			next:     start.Add(k.cfg.WakeUpInterval),
			fire: func(now time.Time) {
				for _, trader := range k.traders {
					k.SendMessage("kernel", trader.ID(), NewMessage(MsgWakeUp, nil), 0)
				}
			},
		},
	}
}

// drainDue pops and dispatches every message due at the current time.
// The heap guarantees the peeked entry is the global minimum, so the
// first not-yet-due entry ends the pass.
func (k *Kernel) drainDue() error {
	for {
		head := k.queue.peek()
		if head == nil || head.deliverAt.After(k.currentTime) {
			return nil
		}
		env := k.queue.pop()

		agent, registered := k.agents[env.recipient]
		if !registered {
			return fmt.Errorf("%w: %q (message %d from %q)", ErrUnknownRecipient, env.recipient, env.seq, env.sender)
		}

		k.delivered++
		if err := agent.ReceiveMessage(k.currentTime, env.msg); err != nil {
			return fmt.Errorf("agent %q failed on %s: %w", env.recipient, env.msg.Type, err)
		}
	}
}

// fireTriggers runs every periodic action whose next-fire time has
// been reached and advances it past the current time
func (k *Kernel) fireTriggers() {
	for _, tr := range k.triggers {
		if tr.next.After(k.currentTime) {
			continue
		}
		tr.fire(k.currentTime)
		for !tr.next.After(k.currentTime) {
			tr.next = tr.next.Add(tr.interval)
		}
	}
}

// advanceTime jumps to the next pending message (capped at the end
// time), or by one minimum tick when the queue is empty so periodic
// triggers keep firing. A message a trigger just enqueued at the
// current instant is already due, so the jump degenerates to one
// minimum tick and the message is delivered on the next pass, one
// tick after the trigger fired. Ordering and determinism are
// unaffected.
func (k *Kernel) advanceTime() {
	head := k.queue.peek()
	if head == nil {
		k.currentTime = k.currentTime.Add(k.cfg.MinTick)
		return
	}

	next := head.deliverAt
	if next.After(k.endTime) {
		next = k.endTime
	}
	if next.After(k.currentTime) {
		k.currentTime = next
	} else {
		k.currentTime = k.currentTime.Add(k.cfg.MinTick)
	}
}

func (k *Kernel) finish() {
	k.state = StateFinished
	k.dropped = uint64(k.queue.Len())
	for _, agent := range k.agents {
		agent.KernelStopped()
	}
	k.logger.Info().
		Uint64("delivered", k.delivered).
		Uint64("dropped", k.dropped).
		Time("time", k.currentTime).
		Msg("kernel finished")
}

// jitter returns a random delay in [0, MaxJitter)
func (k *Kernel) jitter() time.Duration {
	if k.cfg.MaxJitter <= 0 {
		return 0
	}
	return time.Duration(k.rng.Int63n(int64(k.cfg.MaxJitter)))
}
