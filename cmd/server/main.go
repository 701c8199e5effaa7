package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"tradeengine/internal/cache"
	"tradeengine/internal/config"
	"tradeengine/internal/exchange"
	"tradeengine/internal/execution"
	"tradeengine/internal/marketdata"
	"tradeengine/internal/models"
	"tradeengine/internal/momentum"
	"tradeengine/internal/orchestrator"
	"tradeengine/internal/position"
	"tradeengine/internal/pubsub"
	"tradeengine/internal/regime"
	"tradeengine/internal/risk"
	"tradeengine/internal/store"
	"tradeengine/internal/streaming"
	"tradeengine/pkg/utils"

	_ "github.com/lib/pq"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	log, err := utils.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		panic(fmt.Sprintf("failed to init logger: %v", err))
	}
	defer log.Sync()

	db, err := initDatabase(cfg)
	if err != nil {
		log.Fatalw("failed to connect to database", "error", err)
	}
	defer db.Close()
	log.Info("connected to database")

	redisClient := cache.NewClient(cfg.Cache.Addr, cfg.Cache.Password, cfg.Cache.DB)
	defer redisClient.Close()
	if err := redisClient.Ping(context.Background()); err != nil {
		log.Fatalw("failed to connect to redis", "error", err)
	}
	log.Info("connected to redis")

	bus := pubsub.New(cfg.Database.DSN(), db, log)
	defer bus.Close()

	marketAdapter, ok := exchange.Get(cfg.Exchange.Name)
	if !ok {
		log.Fatalw("no exchange adapter registered; link in an adapter package that calls exchange.Register from its init",
			"exchange", cfg.Exchange.Name)
	}
	defer marketAdapter.Close()

	adapters := map[string]exchange.ExchangeAdapter{}
	for _, name := range cfg.Exchange.Enabled {
		adapter, ok := exchange.Get(name)
		if !ok {
			log.Fatalw("no exchange adapter registered for a configured bot exchange", "exchange", name)
			continue
		}
		defer adapter.Close()
		adapters[name] = adapter
	}

	signalSource, ok := exchange.GetSignalSource()
	if !ok {
		log.Fatalw("no signal source registered; link in a signal-source package that calls exchange.RegisterSignalSource from its init")
	}

	botStore := store.NewBotStore(db)
	tradeStore := store.NewTradeStore(db)
	regimeStore := store.NewRegimeStore(db)

	mdCache := cache.NewMarketDataCache(redisClient)
	ohlcCache := cache.NewOHLCCache(1 * time.Minute)

	aggregator := marketdata.NewAggregator(marketAdapter, mdCache, log)
	regimeDetector := regime.NewDetector(ohlcCache, regimeStore, log)
	riskManager := risk.NewManager(cfg.Trading, log)
	momentumDetector := momentum.NewDetector(cfg.Trading.MomentumSteepFallADXSlopeMax)
	tracker := position.NewTracker(cfg.Trading, nil, log)

	capPreserv := orchestrator.NewCapitalPreservation()
	fanOut := execution.NewFanOut(botStore, tradeStore, adapters, capPreserv.Multiplier, cfg.Trading, log)

	leaderElection := cache.NewLeaderElection(redisClient, cfg.Orchestra.InstanceID, hostname(), log)

	feed, ok := streaming.GetFeed(cfg.Exchange.Name)
	if !ok {
		log.Fatalw("no price feed registered; link in a feed package that calls streaming.RegisterFeed from its init",
			"exchange", cfg.Exchange.Name)
	}
	priceStream := streaming.NewPriceStream(feed.URL, feed.Dialer, feed.Parse, feed.BuildSubs, mdCache, bus, log)
	defer priceStream.Close()

	orch := orchestrator.NewOrchestrator(orchestrator.Deps{
		Bots:          botStore,
		Trades:        tradeStore,
		Market:        aggregator,
		Regime:        regimeDetector,
		Risk:          riskManager,
		Momentum:      momentumDetector,
		FanOut:        fanOut,
		OHLC:          ohlcCache,
		Tracker:       tracker,
		Signals:       signalSource,
		Bus:           bus,
		MarketAdapter: marketAdapter,
		CapPreserv:    capPreserv,
	}, cfg.Orchestra, cfg.Trading, log)

	worker := orchestrator.NewTradeWorker(orch, priceStream, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go leaderElection.RunHeartbeat(ctx)
	go runLeaderLoop(ctx, leaderElection, priceStream, botStore, log)

	go orch.Run(ctx)
	go worker.Run(ctx)
	go runAggregatorRefresh(ctx, aggregator, botStore, cfg.Orchestra.AggregatorRefresh, log)

	admin := newAdminServer(cfg.Admin.Port)
	go func() {
		log.Infow("starting admin server", "addr", admin.Addr)
		if err := admin.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalw("admin server failed", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("shutting down")

	cancel()
	orch.Stop()
	worker.Stop()
	leaderElection.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := admin.Shutdown(shutdownCtx); err != nil {
		log.Errorw("admin server forced to shutdown", "error", err)
	}

	log.Info("shutdown complete")
}

// runLeaderLoop attempts to become the exclusive exchange websocket
// owner every electionRetryInterval. Once this instance wins, it
// connects the stream to every pair any running bot has enabled and
// keeps dialing as long as it holds the lease (PriceStream owns its own
// reconnect/backoff); a follower never calls Connect at all.
func runLeaderLoop(ctx context.Context, le *cache.LeaderElection, stream *streaming.PriceStream, bots *store.BotStore, log *zap.SugaredLogger) {
	const electionRetryInterval = 5 * time.Second
	ticker := time.NewTicker(electionRetryInterval)
	defer ticker.Stop()

	connected := false
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			won, err := le.Become(ctx)
			if err != nil {
				log.Warnw("leader election attempt failed", "error", err)
				continue
			}
			if !won || connected {
				continue
			}

			pairs, err := enabledPairs(bots)
			if err != nil {
				log.Warnw("failed to resolve enabled pairs for stream subscription", "error", err)
				continue
			}
			if err := stream.Connect(ctx, pairs); err != nil {
				log.Warnw("price stream connect failed", "error", err)
				continue
			}
			connected = true
			log.Infow("acquired leader lease and connected price stream", "pairs", len(pairs))
		}
	}
}

// runAggregatorRefresh keeps the aggregator's in-process cache warm
// independent of whatever pace the tick loops happen to read it at, so
// a burst of reads right after a tick fires never has to wait out a
// cold fetch.
func runAggregatorRefresh(ctx context.Context, agg *marketdata.Aggregator, bots *store.BotStore, interval time.Duration, log *zap.SugaredLogger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pairs, err := enabledPairs(bots)
			if err != nil {
				log.Warnw("aggregator refresh: failed to resolve enabled pairs", "error", err)
				continue
			}
			if len(pairs) == 0 {
				continue
			}
			agg.FetchFresh(ctx, pairs)
		}
	}
}

func enabledPairs(bots *store.BotStore) ([]models.Pair, error) {
	running, err := bots.ListAllRunning()
	if err != nil {
		return nil, err
	}
	seen := map[models.Pair]bool{}
	var pairs []models.Pair
	for _, b := range running {
		for _, p := range b.EnabledPairs {
			if !seen[p] {
				seen[p] = true
				pairs = append(pairs, p)
			}
		}
	}
	return pairs, nil
}

// newAdminServer exposes only the two operational endpoints every
// long-lived process needs: a liveness probe and the Prometheus scrape
// target. The application has no other HTTP surface; see DESIGN.md for
// why that rules out a routing library here.
func newAdminServer(port int) *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.Handler())

	return &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

func initDatabase(cfg *config.Config) (*sql.DB, error) {
	db, err := sql.Open(cfg.Database.Driver, cfg.Database.DSN())
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

func hostname() string {
	h, err := os.Hostname()
	if err != nil || h == "" {
		return "unknown"
	}
	return h
}
