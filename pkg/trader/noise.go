// Package trader contains trading strategies built on the agent base.
package trader

import (
	"math/rand"
	"time"

	"github.com/nikolaydubina/fpdecimal"

	"github.com/bashog/marketsim/pkg/agent"
	"github.com/bashog/marketsim/pkg/core"
	"github.com/bashog/marketsim/pkg/kernel"
)

// NoiseTrader places small random orders around the touch on every
// wake-up. It keeps books from going one-sided during replays with
// thin flow.
type NoiseTrader struct {
	*agent.TradingAgent

	symbol          string
	minSize         int64
	maxSize         int64
	marketOrderProb float64
	maxOpenOrders   int
	rng             *rand.Rand
}

// NewNoiseTrader builds a noise trader for one symbol. Each instance
// gets its own seeded source so runs stay reproducible.
func NewNoiseTrader(id string, seq *core.Sequencer, cfg Config, seed int64) *NoiseTrader {
	minSize := cfg.MinOrderSize
	maxSize := cfg.MaxOrderSize
	if minSize < 1 {
		minSize = 1
	}
	if maxSize < minSize {
		maxSize = minSize
	}
	return &NoiseTrader{
		TradingAgent:    agent.NewTradingAgent(id, seq, fpdecimal.FromInt(cfg.StartingCash)),
		symbol:          cfg.Symbol,
		minSize:         minSize,
		maxSize:         maxSize,
		marketOrderProb: cfg.MarketOrderProb,
		maxOpenOrders:   cfg.MaxOpenOrders,
		rng:             rand.New(rand.NewSource(seed)),
	}
}

// ReceiveMessage lets the base settle account updates, then trades on
// wake-ups
func (n *NoiseTrader) ReceiveMessage(now time.Time, msg kernel.Message) error {
	if err := n.TradingAgent.ReceiveMessage(now, msg); err != nil {
		return err
	}
	if msg.Type == kernel.MsgWakeUp {
		n.trade()
	}
	return nil
}

// trade joins the touch with a random side and size, occasionally
// crossing with a market order
func (n *NoiseTrader) trade() {
	data := n.MarketData()
	if data == nil {
		return
	}
	bestBid, _, haveBid := data.State.BestBid()
	bestAsk, _, haveAsk := data.State.BestAsk()
	if !haveBid || !haveAsk {
		return
	}
	if n.maxOpenOrders > 0 && n.OpenOrders() >= n.maxOpenOrders {
		return
	}

	side := core.Buy
	if n.rng.Intn(2) == 0 {
		side = core.Sell
	}
	quantity := n.minSize + n.rng.Int63n(n.maxSize-n.minSize+1)

	if n.rng.Float64() < n.marketOrderProb {
		if _, err := n.PlaceMarketOrder(n.symbol, quantity, side); err != nil {
			logger := n.Logger()
			logger.Warn().Err(err).Msg("market order rejected")
		}
		return
	}

	price := bestBid
	if side == core.Sell {
		price = bestAsk
	}
	if _, err := n.PlaceLimitOrder(n.symbol, quantity, side, price); err != nil {
		logger := n.Logger()
		logger.Warn().Err(err).Msg("limit order rejected")
	}
}

var _ kernel.Agent = (*NoiseTrader)(nil)
