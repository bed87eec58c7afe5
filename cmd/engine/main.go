package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	_ "github.com/ClickHouse/clickhouse-go/v2"
	_ "github.com/lib/pq"

	"github.com/actuallyrizzn/puppet-engine/internal/adapters/clickhouse"
	"github.com/actuallyrizzn/puppet-engine/internal/adapters/config"
	"github.com/actuallyrizzn/puppet-engine/internal/adapters/database"
	"github.com/actuallyrizzn/puppet-engine/internal/adapters/llm"
	"github.com/actuallyrizzn/puppet-engine/internal/adapters/market"
	metricsAdapter "github.com/actuallyrizzn/puppet-engine/internal/adapters/metrics"
	redisAdapter "github.com/actuallyrizzn/puppet-engine/internal/adapters/redis"
	"github.com/actuallyrizzn/puppet-engine/internal/adapters/solana"
	"github.com/actuallyrizzn/puppet-engine/internal/adapters/telegram"
	"github.com/actuallyrizzn/puppet-engine/internal/adapters/twitter"
	"github.com/actuallyrizzn/puppet-engine/internal/agents"
	"github.com/actuallyrizzn/puppet-engine/internal/content"
	"github.com/actuallyrizzn/puppet-engine/internal/events"
	"github.com/actuallyrizzn/puppet-engine/internal/gates"
	"github.com/actuallyrizzn/puppet-engine/internal/health"
	"github.com/actuallyrizzn/puppet-engine/internal/mentions"
	"github.com/actuallyrizzn/puppet-engine/internal/server"
	"github.com/actuallyrizzn/puppet-engine/internal/trading"
	"github.com/actuallyrizzn/puppet-engine/pkg/logger"
	"github.com/actuallyrizzn/puppet-engine/pkg/metrics"
	"github.com/actuallyrizzn/puppet-engine/pkg/models"
	"github.com/actuallyrizzn/puppet-engine/pkg/worker"
)

const marketTrackerInterval = time.Minute

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		fmt.Println("\nReceived interrupt signal, shutting down...")
		cancel()
	}()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	// .env is optional; real deployments inject the environment directly
	_ = godotenv.Load()

	cfg, err := initConfig()
	if err != nil {
		return err
	}
	defer logger.Sync()

	logger.Info("🤖 Persona engine starting",
		zap.String("environment", cfg.Runtime.Environment),
	)

	db, err := initDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	redisClient, err := initRedis(ctx, cfg)
	if err != nil {
		return err
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	metricsBuf, chDB := initMetrics(cfg)
	if chDB != nil {
		defer chDB.Close()
	}

	providers, err := initProviders(cfg)
	if err != nil {
		return err
	}

	engine := events.New(ctx, metricsBuf)
	repo := agents.NewRepository(db)

	rateGate := gates.NewRateGate()
	cadence := gates.NewCadenceGate()
	tradingGate := gates.NewTradingGate(repo)

	fleet, err := config.LoadAgents(cfg.Agents.Dir)
	if err != nil {
		return fmt.Errorf("failed to load agents: %w", err)
	}

	tracker := market.NewTracker(watchlistFor(fleet))
	jupiter := solana.NewJupiterClient()
	trader := trading.NewEngine(jupiter, tracker, tradingGate, repo, engine)
	launcher := trading.NewLauncher(cfg.Agents.DataDir)
	pipeline := content.NewPipeline(providers)

	notifier := telegram.NewNotifier(&cfg.Telegram)
	manager := agents.NewManager(lockFactoryFor(redisClient), notifier)

	workers := worker.NewWorkerGroup(ctx)
	checker := health.NewChecker()

	pubsub := initSolanaAgents(ctx, cfg, fleet, trader, checker)

	for _, agent := range sortedAgents(fleet) {
		creds, err := config.ResolveTwitterCredentials(agent, &cfg.Twitter)
		if err != nil {
			return err
		}
		client := twitter.NewHTTPClient(creds)
		credKey := creds.APIKey

		runtime := agents.NewRuntime(agent, agents.RuntimeDeps{
			Pipeline: pipeline,
			Engine:   engine,
			Client:   client,
			Trader:   trader,
			Launcher: launcher,
			RateGate: rateGate,
			Cadence:  cadence,
			CredKey:  credKey,
			Repo:     repo,
			Embedder: embedderFor(agent, providers, redisClient),
		})
		manager.Add(runtime)

		startMentionIngestion(ctx, cfg, agent, creds, client, engine, repo, rateGate, credKey, workers)
	}

	registerHealthChecks(checker, db, redisClient, providers)
	wireTradeAlerts(cfg, engine, notifier)

	if pubsub != nil {
		go func() {
			if err := pubsub.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("solana pubsub error", zap.Error(err))
			}
		}()
		go drainWalletUpdates(ctx, pubsub)
	}

	workers.Add(tracker, marketTrackerInterval)
	workers.Start()

	if err := manager.StartAll(ctx); err != nil {
		return fmt.Errorf("failed to start fleet: %w", err)
	}

	addr := fmt.Sprintf("%s:%d", cfg.Runtime.Host, cfg.Runtime.Port)
	api := server.New(addr, manager, engine, cadence, checker)
	go func() {
		if err := api.Start(); err != nil {
			logger.Error("control API error", zap.Error(err))
		}
	}()

	registered, owned := manager.Count()
	notifier.NotifyStartup(owned)
	logger.Info("✅ Persona engine ready",
		zap.Int("agents_registered", registered),
		zap.Int("agents_owned", owned),
		zap.String("addr", addr),
	)

	<-ctx.Done()
	return shutdown(cfg, api, manager, workers, engine, metricsBuf, notifier)
}

// initConfig loads configuration and initializes the logger
func initConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if err := logger.Init(cfg.Logging.Level, cfg.Logging.File); err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	return cfg, nil
}

// initDatabase connects to Postgres and applies pending migrations
func initDatabase(cfg *config.Config) (*database.DB, error) {
	db, err := database.New(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := database.RunMigrations(db.Conn(), cfg.Database.MigrationsPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	logger.Info("💾 Database connection established",
		zap.String("host", cfg.Database.Host),
		zap.String("database", cfg.Database.Name),
	)
	return db, nil
}

// initRedis connects the optional fleet-lock and cache backend
func initRedis(ctx context.Context, cfg *config.Config) (*redisAdapter.Client, error) {
	if !cfg.Redis.Enabled {
		logger.Info("redis disabled, running single-replica")
		return nil, nil
	}

	redisClient, err := redisAdapter.New(&cfg.Redis)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	if err := redisClient.Health(ctx); err != nil {
		redisClient.Close()
		return nil, fmt.Errorf("redis health check failed: %w", err)
	}

	logger.Info("💾 Redis connection established (redlock)",
		zap.String("host", cfg.Redis.Host),
		zap.Int("port", cfg.Redis.Port),
	)
	return redisClient, nil
}

// initMetrics wires the ClickHouse sink when enabled, a no-op otherwise
func initMetrics(cfg *config.Config) (metrics.Buffer, *database.DB) {
	if !cfg.ClickHouse.Enabled {
		return metrics.NewBufferedMetrics(metrics.BufferConfig{Writer: metricsAdapter.NopWriter{}}), nil
	}

	chDB, err := database.NewClickHouse(cfg.ClickHouse.GetDSN())
	if err != nil {
		logger.Warn("⚠️ ClickHouse not available, metrics disabled", zap.Error(err))
		return metrics.NewBufferedMetrics(metrics.BufferConfig{Writer: metricsAdapter.NopWriter{}}), nil
	}

	writer := metricsAdapter.NewWriter(clickhouse.NewRepository(chDB))
	logger.Info("✅ Metrics sink using ClickHouse", zap.String("addr", cfg.ClickHouse.Addr))
	return metrics.NewBufferedMetrics(metrics.BufferConfig{Writer: writer}), chDB
}

// initProviders registers the configured language-model providers. The
// first registered provider becomes the default for agents that do not
// name one.
func initProviders(cfg *config.Config) (*llm.Registry, error) {
	registry := llm.NewRegistry()

	if cfg.OpenAI.APIKey != "" {
		registry.Add(llm.NewOpenAIProvider(&cfg.OpenAI))
	}
	if cfg.Grok.APIKey != "" {
		registry.Add(llm.NewGrokProvider(&cfg.Grok))
	}

	names := registry.Names()
	if len(names) == 0 {
		return nil, fmt.Errorf("no language-model providers configured")
	}

	logger.Info("🧠 Language-model providers initialized", zap.Strings("providers", names))
	return registry, nil
}

// initSolanaAgents creates the per-agent chain clients and the shared
// wallet watcher. Agents without chain settings are skipped.
func initSolanaAgents(ctx context.Context, cfg *config.Config, fleet map[string]*models.Agent, trader *trading.Engine, checker *health.Checker) *solana.PubsubClient {
	var pubsub *solana.PubsubClient

	for _, agent := range fleet {
		integration := agent.SolanaIntegration
		if integration == nil {
			continue
		}
		if !agent.Behavior.Trading.Enabled && !integration.LaunchToken {
			continue
		}

		key, err := config.ResolveSolanaKey(agent, os.Getenv)
		if err != nil {
			logger.Warn("⚠️ Agent has chain settings but no signing key, trading disabled",
				zap.String("agent", agent.ID),
				zap.Error(err),
			)
			continue
		}

		rpcURL := integration.RPCURL
		if rpcURL == "" {
			rpcURL = cfg.Solana.RPCURL
		}

		client, err := solana.NewClient(rpcURL, key, integration.Simulation)
		if err != nil {
			logger.Error("failed to create solana client",
				zap.String("agent", agent.ID),
				zap.Error(err),
			)
			continue
		}

		trader.Register(agent.ID, client)
		checker.Register("solana-"+agent.ID, client.Healthcheck)

		if pubsub == nil {
			wsURL := cfg.Solana.PubSubURL
			if wsURL == "" {
				wsURL = rpcURL
			}
			pubsub = solana.NewPubsubClient(wsURL)
		}
		pubsub.Watch(client.Wallet())

		logger.Info("🚀 Chain client ready",
			zap.String("agent", agent.ID),
			zap.String("wallet", client.Wallet()),
			zap.Bool("simulation", integration.Simulation),
		)
	}

	return pubsub
}

// startMentionIngestion wires mention delivery for one agent. Stream
// mode needs the account handle; auto mode falls back to polling when
// the credential tier has no streaming access.
func startMentionIngestion(
	ctx context.Context,
	cfg *config.Config,
	agent *models.Agent,
	creds *models.TwitterCredentials,
	client twitter.Client,
	engine *events.Engine,
	cursors mentions.CursorStore,
	rateGate *gates.RateGate,
	credKey string,
	workers *worker.WorkerGroup,
) {
	poller := mentions.NewPoller(agent, client, engine, cursors, rateGate, credKey)
	interval := poller.Interval(cfg.Twitter.PollInterval)

	mode := agent.Behavior.MentionMode
	if mode != models.MentionPoll && creds.BearerToken == "" {
		logger.Warn("⚠️ No bearer token, mention streaming unavailable",
			zap.String("agent", agent.ID),
		)
		mode = models.MentionPoll
	}

	if mode == models.MentionPoll {
		workers.Add(poller, interval)
		return
	}

	go func() {
		_, handle, err := client.Me(ctx)
		if err != nil {
			logger.Warn("⚠️ Could not resolve account handle, falling back to polling",
				zap.String("agent", agent.ID),
				zap.Error(err),
			)
			worker.NewPeriodicWorker(poller, interval).Start(ctx)
			return
		}

		stream := mentions.NewStream(creds.BearerToken, handle, poller)
		err = stream.Run(ctx)
		switch {
		case errors.Is(err, mentions.ErrStreamForbidden) && mode == models.MentionAuto:
			logger.Info("mention stream unavailable, polling instead",
				zap.String("agent", agent.ID),
				zap.Duration("interval", interval),
			)
			worker.NewPeriodicWorker(poller, interval).Start(ctx)
		case err != nil && !errors.Is(err, context.Canceled):
			logger.Error("mention stream stopped",
				zap.String("agent", agent.ID),
				zap.Error(err),
			)
		}
	}()
}

// registerHealthChecks wires the status endpoint's dependency checks
func registerHealthChecks(checker *health.Checker, db *database.DB, redisClient *redisAdapter.Client, providers *llm.Registry) {
	checker.Register("postgres", func(ctx context.Context) error {
		return db.Health()
	})
	if redisClient != nil {
		checker.Register("redis", redisClient.Health)
	}
	for _, name := range providers.Names() {
		provider := providers.Get(name)
		checker.Register("llm-"+name, provider.Healthcheck)
	}
}

// wireTradeAlerts forwards executed and denied trades to the operator
func wireTradeAlerts(cfg *config.Config, engine *events.Engine, notifier *telegram.Notifier) {
	if notifier == nil || !cfg.Telegram.AlertOnTrades {
		return
	}

	engine.SubscribeAll("operator-alerts", func(ctx context.Context, event *models.Event) {
		if event.Type != models.EventTradeExecuted || event.Trade == nil {
			return
		}
		agentID := ""
		if len(event.TargetAgents) > 0 {
			agentID = event.TargetAgents[0]
		}
		notifier.NotifyTrade(agentID, event.Trade)
	})
}

// drainWalletUpdates logs pushed balance changes so slow consumers do
// not back up the websocket read loop.
func drainWalletUpdates(ctx context.Context, pubsub *solana.PubsubClient) {
	for {
		select {
		case <-ctx.Done():
			return
		case update := <-pubsub.Updates():
			logger.Info("💾 Wallet balance changed",
				zap.String("wallet", update.Wallet),
				zap.Uint64("lamports", update.Lamports),
			)
		}
	}
}

func shutdown(
	cfg *config.Config,
	api *server.Server,
	manager *agents.Manager,
	workers *worker.WorkerGroup,
	engine *events.Engine,
	metricsBuf metrics.Buffer,
	notifier *telegram.Notifier,
) error {
	logger.Info("🛑 Shutdown signal received, starting graceful shutdown...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Runtime.GracePeriod)
	defer cancel()

	if err := api.Shutdown(shutdownCtx); err != nil {
		logger.Error("control API shutdown error", zap.Error(err))
	}

	manager.StopAll(shutdownCtx)
	workers.Stop(cfg.Runtime.GracePeriod)
	engine.Stop()

	if err := metricsBuf.Close(shutdownCtx); err != nil {
		logger.Error("metrics flush error", zap.Error(err))
	}

	notifier.NotifyShutdown()
	logger.Info("✅ Shutdown completed")
	return nil
}

// lockFactoryFor adapts the redis client to the manager's lock factory.
// A nil client means single-replica mode with no distributed locks.
func lockFactoryFor(client *redisAdapter.Client) agents.LockFactory {
	if client == nil {
		return nil
	}
	return redisLockFactory{client: client}
}

type redisLockFactory struct {
	client *redisAdapter.Client
}

func (f redisLockFactory) AgentLock(agentID string) agents.Lock {
	return f.client.AgentLock(agentID)
}

// embedderFor picks the agent's provider for embeddings, memoized in
// Redis when available.
func embedderFor(agent *models.Agent, providers *llm.Registry, redisClient *redisAdapter.Client) agents.Embedder {
	var embedder agents.Embedder = providers.Get(agent.LLMProvider)
	if redisClient != nil {
		embedder = redisAdapter.NewEmbeddingCache(embedder, redisClient)
	}
	return embedder
}

// watchlistFor seeds the market tracker with every allowed token across
// the fleet. Symbols are not known at load time, the tracker fills them
// from price responses where it can.
func watchlistFor(fleet map[string]*models.Agent) map[string]string {
	watchlist := make(map[string]string)
	for _, agent := range fleet {
		if !agent.Behavior.Trading.Enabled {
			continue
		}
		for _, mint := range agent.Behavior.Trading.AllowedTokens {
			if _, ok := watchlist[mint]; !ok {
				watchlist[mint] = shortMint(mint)
			}
		}
	}
	return watchlist
}

func shortMint(mint string) string {
	if len(mint) <= 8 {
		return mint
	}
	return mint[:4] + ".." + mint[len(mint)-4:]
}

// sortedAgents gives deterministic startup order
func sortedAgents(fleet map[string]*models.Agent) []*models.Agent {
	ids := make([]string, 0, len(fleet))
	for id := range fleet {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]*models.Agent, 0, len(ids))
	for _, id := range ids {
		out = append(out, fleet[id])
	}
	return out
}
