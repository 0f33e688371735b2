// Loadtest drives an in-process order book with randomized flow and
// reports matching latency percentiles. Useful for sizing replays
// before running the full simulator.
package main

import (
	"context"
	"flag"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
	"github.com/nikolaydubina/fpdecimal"
	"golang.org/x/time/rate"

	"github.com/bashog/marketsim/pkg/core"
)

type fillCounter struct {
	legs   int64
	volume int64
}

func (f *fillCounter) ReportFill(fill core.FilledOrder) {
	f.legs++
	f.volume += fill.Quantity
}

func main() {
	numOrders := flag.Int("orders", 1_000_000, "Number of orders to submit")
	ordersPerSec := flag.Int("rate", 0, "Order rate limit, 0 for unlimited")
	seed := flag.Int64("seed", 42, "Random seed")
	midPrice := flag.Int64("mid", 10_000, "Center price in ticks")
	spread := flag.Int64("spread", 50, "Half-width of the quoted band in ticks")
	marketProb := flag.Float64("market-prob", 0.1, "Fraction of orders sent as market orders")
	flag.Parse()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt)
	go func() {
		<-sigChan
		log.Println("Received interrupt signal, stopping...")
		cancel()
	}()

	makerFee, err := fpdecimal.FromString("0.002")
	if err != nil {
		log.Fatalf("Bad maker fee: %v", err)
	}
	takerFee, err := fpdecimal.FromString("0.005")
	if err != nil {
		log.Fatalf("Bad taker fee: %v", err)
	}

	book := core.NewOrderBook("LOAD", makerFee, takerFee)
	fills := &fillCounter{}
	book.SetReporter(fills)

	seq := core.NewSequencer()
	rng := rand.New(rand.NewSource(*seed))
	// Latencies recorded in nanoseconds, up to 1s per order.
	hist := hdrhistogram.New(1, int64(time.Second), 3)

	var limiter *rate.Limiter
	if *ordersPerSec > 0 {
		limiter = rate.NewLimiter(rate.Limit(*ordersPerSec), *ordersPerSec)
	}

	log.Printf("Submitting %d orders around mid %d...", *numOrders, *midPrice)
	start := time.Now()
	submitted := 0

	for i := 0; i < *numOrders; i++ {
		if ctx.Err() != nil {
			break
		}
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				break
			}
		}

		order, err := randomOrder(seq, rng, *midPrice, *spread, *marketProb)
		if err != nil {
			log.Fatalf("Failed to build order: %v", err)
		}

		t0 := time.Now()
		if err := book.SendOrder(order); err != nil {
			log.Fatalf("Book rejected order %d: %v", order.ID(), err)
		}
		if err := hist.RecordValue(time.Since(t0).Nanoseconds()); err != nil {
			log.Printf("Latency out of histogram range: %v", err)
		}
		submitted++
	}

	elapsed := time.Since(start)
	log.Printf("Submitted %d orders in %v (%.0f orders/sec)",
		submitted, elapsed, float64(submitted)/elapsed.Seconds())
	log.Printf("Fill legs: %d, volume traded: %d", fills.legs, fills.volume)
	log.Printf("Match latency p50=%v p99=%v p99.9=%v max=%v",
		time.Duration(hist.ValueAtQuantile(50)),
		time.Duration(hist.ValueAtQuantile(99)),
		time.Duration(hist.ValueAtQuantile(99.9)),
		time.Duration(hist.Max()))

	if bid, ok := book.BestBid(); ok {
		log.Printf("Final best bid: %d", bid)
	}
	if ask, ok := book.BestAsk(); ok {
		log.Printf("Final best ask: %d", ask)
	}
}

func randomOrder(seq *core.Sequencer, rng *rand.Rand, mid, spread int64, marketProb float64) (*core.Order, error) {
	side := core.Buy
	if rng.Intn(2) == 0 {
		side = core.Sell
	}
	quantity := 1 + rng.Int63n(20)
	now := time.Now()

	if rng.Float64() < marketProb {
		return core.NewMarketOrder(seq, "loadtest", "LOAD", quantity, side, now)
	}

	offset := rng.Int63n(spread + 1)
	price := mid - offset
	if side == core.Sell {
		price = mid + offset
	}
	return core.NewLimitOrder(seq, "loadtest", "LOAD", quantity, side, price, now)
}
