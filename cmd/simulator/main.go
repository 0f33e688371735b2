// Simulator replays recorded order flow through the event kernel and
// prints an account summary for every trading agent when the run ends.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/nikolaydubina/fpdecimal"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"go.uber.org/zap"

	"github.com/bashog/marketsim/config"
	"github.com/bashog/marketsim/pkg/agent"
	"github.com/bashog/marketsim/pkg/core"
	"github.com/bashog/marketsim/pkg/kernel"
	"github.com/bashog/marketsim/pkg/logging"
	kafkamsg "github.com/bashog/marketsim/pkg/messaging/kafka"
	"github.com/bashog/marketsim/pkg/oracle"
	"github.com/bashog/marketsim/pkg/otel"
	redisstore "github.com/bashog/marketsim/pkg/store/redis"
	"github.com/bashog/marketsim/pkg/trader"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logging.Setup(logging.Config{
		Level:  cfg.Log.Level,
		Pretty: cfg.Log.Format == "pretty",
	})

	runID := uuid.New().String()
	logger := log.With().Str("run_id", runID).Logger()

	shutdown, err := otel.Init(otel.Config{
		ServiceName:      "market-simulator",
		Endpoint:         cfg.Otel.Endpoint,
		CollectorEnabled: cfg.Otel.Enabled,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize telemetry")
	}
	defer shutdown()

	if cfg.Simulation.DataFile == "" {
		logger.Fatal().Msg("no order flow file given, use -data or simulation.data_file")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	seq := core.NewSequencer()
	replay, err := oracle.LoadCSV(cfg.Simulation.DataFile, cfg.Simulation.Symbol, seq)
	if err != nil {
		logger.Fatal().Err(err).Str("file", cfg.Simulation.DataFile).Msg("failed to load order flow")
	}
	logger.Info().
		Int("timestamps", len(replay.Timestamps())).
		Time("start", replay.StartTime()).
		Time("end", replay.EndTime()).
		Msg("order flow loaded")

	makerFee, err := fpdecimal.FromString(cfg.Simulation.MakerFeeRate)
	if err != nil {
		logger.Fatal().Err(err).Msg("bad maker fee rate")
	}
	takerFee, err := fpdecimal.FromString(cfg.Simulation.TakerFeeRate)
	if err != nil {
		logger.Fatal().Err(err).Msg("bad taker fee rate")
	}

	exchange := agent.NewExchangeAgent("EXCHANGE", runID,
		[]string{cfg.Simulation.Symbol}, cfg.Simulation.BookDepth, makerFee, takerFee)

	if cfg.Kafka.Enabled {
		sender, err := kafkamsg.NewKafkaFillSender(cfg.Kafka.BrokerAddr, cfg.Kafka.Topic)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to create fill sender")
		}
		defer sender.Close()
		exchange.SetFillSender(sender)

		consumer := kafkamsg.NewFillConsumer(cfg.Kafka.BrokerAddr, cfg.Kafka.Topic, "marketsim-"+runID)
		defer consumer.Close()
		kafkamsg.LogFills(ctx, consumer, logger)
	}

	var store *redisstore.SnapshotStore
	if cfg.Redis.Enabled {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer client.Close()
		zapLogger, _ := zap.NewProduction()
		store = redisstore.NewSnapshotStore(client, cfg.Redis.Prefix, cfg.Redis.TTL, zapLogger)
		exchange.SetSnapshotStore(store)
	}

	traderCfg, err := trader.LoadConfig()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load trader configuration")
	}
	traderCfg.Symbol = cfg.Simulation.Symbol

	var traders []kernel.Agent
	for i := 0; i < traderCfg.Count; i++ {
		id := fmt.Sprintf("NOISE-%d", i+1)
		traders = append(traders, trader.NewNoiseTrader(id, seq, *traderCfg, cfg.Simulation.Seed+int64(i)))
	}

	kernelCfg := kernel.DefaultConfig()
	kernelCfg.MinTick = cfg.Simulation.MinTick
	kernelCfg.AnalyticsInterval = cfg.Simulation.AnalyticsInterval
	kernelCfg.MarketDataInterval = cfg.Simulation.MarketDataInterval
	kernelCfg.WakeUpInterval = cfg.Simulation.WakeUpInterval
	kernelCfg.MaxJitter = cfg.Simulation.MaxJitter
	kernelCfg.Seed = cfg.Simulation.Seed

	k := kernel.New(kernelCfg)
	if err := k.Run(ctx, replay, exchange, traders...); err != nil {
		logger.Fatal().Err(err).Msg("simulation failed")
	}

	if store != nil {
		state, err := store.LatestSnapshot(context.Background(), cfg.Simulation.Symbol)
		if err != nil {
			logger.Warn().Err(err).Msg("no snapshot persisted for this run")
		} else {
			logger.Info().
				Time("timestamp", state.Timestamp).
				Float64("mid_price", state.MidPrice).
				Int64("bid_volume", state.VolumeBuy()).
				Int64("ask_volume", state.VolumeSell()).
				Msg("latest persisted snapshot")
		}
	}

	printSummary(runID, cfg.Simulation.Symbol, k, exchange, traders)
}

func printSummary(runID, symbol string, k *kernel.Kernel, exchange *agent.ExchangeAgent, traders []kernel.Agent) {
	header := color.New(color.FgCyan, color.Bold)
	label := color.New(color.FgYellow)
	value := color.New(color.FgGreen)

	header.Printf("\n=== Simulation %s ===\n", runID)
	label.Print("Messages delivered: ")
	value.Printf("%d\n", k.Delivered())
	label.Print("Messages dropped:   ")
	value.Printf("%d\n", k.Dropped())

	book := exchange.Book(symbol)
	if bid, ok := book.BestBid(); ok {
		label.Print("Final best bid:     ")
		value.Printf("%d\n", bid)
	}
	if ask, ok := book.BestAsk(); ok {
		label.Print("Final best ask:     ")
		value.Printf("%d\n", ask)
	}
	if last, ok := book.LastTradedPrice(); ok {
		label.Print("Last traded price:  ")
		value.Printf("%d\n", last)
	}

	header.Println("\n--- Trader accounts ---")
	for _, t := range traders {
		nt, ok := t.(*trader.NoiseTrader)
		if !ok {
			continue
		}
		pnl := nt.Cash().Sub(nt.StartingCash())
		fmt.Printf("%-12s cash=%s pnl=%s position=%d open_orders=%d\n",
			nt.ID(), nt.Cash().String(), pnl.String(), nt.Position(symbol), nt.OpenOrders())
	}
}
