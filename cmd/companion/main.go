package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/nidhogg/kid-companion/internal/agent"
	"github.com/nidhogg/kid-companion/internal/alerts"
	"github.com/nidhogg/kid-companion/internal/api"
	"github.com/nidhogg/kid-companion/internal/command"
	"github.com/nidhogg/kid-companion/internal/config"
	"github.com/nidhogg/kid-companion/internal/gateway"
	"github.com/nidhogg/kid-companion/internal/knowledge"
	"github.com/nidhogg/kid-companion/internal/memory"
	"github.com/nidhogg/kid-companion/internal/provider"
	msgrouter "github.com/nidhogg/kid-companion/internal/router"
	"github.com/nidhogg/kid-companion/internal/session"
	"github.com/nidhogg/kid-companion/internal/speech"
	pgstore "github.com/nidhogg/kid-companion/internal/store"
	"github.com/nidhogg/kid-companion/internal/summary"
)

func main() {
	_ = godotenv.Load()

	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "configs/companion.json"
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config %s: %v\n", cfgPath, err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Server.LogLevel)
	defer logger.Sync()
	logger.Info("Starting kid companion...", zap.String("config", cfgPath))

	ctx := context.Background()

	// Language model collaborators
	router := buildProviders(cfg, logger)
	go checkProviders(ctx, router, logger)
	reply := provider.NewRoleCompleter(router, provider.RoleReply, cfg.Companion.Reply.Model, cfg.CallTimeout()).
		WithTemperature(0.7)
	extract := provider.NewRoleCompleter(router, provider.RoleExtract, cfg.Companion.Extract.Model, cfg.CallTimeout())
	summarize := provider.NewRoleCompleter(router, provider.RoleSummary, cfg.Companion.Summary.Model, cfg.CallTimeout())

	// Static knowledge and persona
	kb := knowledge.Load(cfg.Knowledge.TriggersPath, cfg.Knowledge.DiagnosticsPath, logger)
	persona := agent.LoadPersona(cfg.Companion.PersonaFile, cfg.Companion.ChildName, logger)

	// Optional Redis
	var rdb *redis.Client
	if cfg.Database.Redis.URL != "" {
		rdb, err = openRedis(ctx, cfg.Database.Redis.URL)
		if err != nil {
			logger.Warn("Redis unavailable", zap.Error(err))
			rdb = nil
		}
	}

	// Optional PostgreSQL
	var pgStore *pgstore.Store
	if cfg.Database.Postgres.DSN != "" {
		ps, pgErr := pgstore.New(ctx, cfg.Database.Postgres.DSN, logger)
		if pgErr != nil {
			logger.Warn("PostgreSQL unavailable", zap.Error(pgErr))
		} else {
			if mErr := ps.Migrate(ctx, cfg.Database.Postgres.Migrations); mErr != nil {
				logger.Fatal("migration failed", zap.Error(mErr))
			}
			pgStore = ps
		}
	}

	backends, err := memoryBackends(cfg, rdb, pgStore)
	if err != nil {
		logger.Fatal("memory backend unavailable", zap.String("backend", cfg.Memory.Backend), zap.Error(err))
	}
	logger.Info("memory backend ready", zap.String("backend", cfg.Memory.Backend))

	// Engine and sessions
	engine := agent.NewEngine(agent.Config{
		Reply:         reply,
		Extract:       extract,
		Knowledge:     kb,
		Persona:       persona,
		HistoryWindow: cfg.Companion.HistoryWindow,
		FallbackSeed:  cfg.Companion.FallbackSeed,
		ChildAge:      cfg.Companion.ChildAge,
	}, logger)
	sessions := session.NewManager(engine, summary.NewGenerator(summarize, logger), backends, logger)

	// Gateway
	gw := gateway.NewGateway(logger)
	broadcaster := gateway.NewBroadcaster(gw, logger)
	commands := command.NewRegistry()
	command.RegisterBuiltins(commands, gw)
	command.RegisterCompanionCommands(commands, sessions, broadcaster)

	// Wire message router BEFORE registering adapters (Register captures handler)
	msgRouter := msgrouter.New(sessions, gw, commands, cfg.TurnTimeout(), logger)
	gw.SetHandler(msgRouter.Handle)

	restAdapter := gateway.NewRESTAdapter(time.Duration(cfg.Gateway.RESTTimeout)*time.Second, logger)
	gw.Register(restAdapter)

	chatPersona := &gateway.Persona{Name: persona.Name, Emoji: cfg.Gateway.Slack.IconEmoji}
	if sc := cfg.Gateway.Slack; sc.Enabled && sc.BotToken != "" {
		slackAdapter := gateway.NewSlackAdapter(sc.BotToken, sc.AppToken, sc.CaregiverChannel, logger)
		slackAdapter.SetPersona(chatPersona)
		gw.Register(slackAdapter)
	}
	if dc := cfg.Gateway.Discord; dc.Enabled && dc.BotToken != "" {
		discordAdapter := gateway.NewDiscordAdapter(dc.BotToken, dc.CaregiverChannel, logger)
		discordAdapter.SetPersona(chatPersona)
		gw.Register(discordAdapter)
	}

	gwCtx, gwCancel := context.WithCancel(ctx)
	defer gwCancel()
	if err := gw.ConnectAll(gwCtx); err != nil {
		logger.Warn("some gateway adapters failed to connect", zap.Error(err))
	}

	// Safety alert fan-out
	notifier := alerts.NewNotifier(cfg.Alerts.BroadcastMinCategory, logger)
	notifier.SetBroadcaster(broadcaster)
	var alertStream *alerts.Stream
	if rdb != nil {
		alertStream = alerts.NewStream(rdb, cfg.Alerts.RedisStream)
		notifier.SetStream(alertStream)
	}
	if pgStore != nil {
		notifier.SetRecorder(pgStore)
	}
	sessions.SetAlertTimeout(cfg.AlertTimeout())
	sessions.OnAlerts(notifier.HandleTurn)
	idle := cfg.SessionIdle()
	go sessions.RunEviction(gwCtx, idle/2, idle)

	// HTTP API
	handler := api.NewHandler(sessions, gw, restAdapter, broadcaster, logger)
	handler.SetAllowedOrigins(cfg.Server.AllowedOrigins)
	handler.SetSpeech(
		speech.NewDeepgram(speech.DeepgramConfig{
			APIKey:      cfg.Speech.Deepgram.APIKey,
			Endpoint:    cfg.Speech.Deepgram.Endpoint,
			ContentType: cfg.Speech.Deepgram.ContentType,
		}, logger),
		speech.NewElevenLabs(speech.ElevenLabsConfig{
			APIKey:          cfg.Speech.ElevenLabs.APIKey,
			Endpoint:        cfg.Speech.ElevenLabs.Endpoint,
			Voice:           cfg.Speech.ElevenLabs.Voice,
			Stability:       cfg.Speech.ElevenLabs.Stability,
			SimilarityBoost: cfg.Speech.ElevenLabs.SimilarityBoost,
		}, logger),
	)
	if pgStore != nil {
		handler.SetAlertLog(pgStore)
	}
	if alertStream != nil {
		handler.SetAlertStream(alertStream)
	}

	port := fmt.Sprintf("%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           handler.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("kid companion listening", zap.String("port", port))
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down kid companion...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	sessions.Wait()
	gwCancel()
	gw.Close()
	if rdb != nil {
		rdb.Close()
	}
	if pgStore != nil {
		pgStore.Close()
	}
}

func newLogger(level string) *zap.Logger {
	var (
		logger *zap.Logger
		err    error
	)
	if level == "debug" {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

// buildProviders registers every configured provider and applies the role
// bindings of the companion section.
func buildProviders(cfg *config.Config, logger *zap.Logger) *provider.Router {
	router := provider.NewRouter(logger)
	for _, pc := range cfg.Providers {
		provCfg := provider.ProviderConfig{
			ID: pc.ID, Type: pc.Type, Name: pc.Name,
			Endpoint: pc.Endpoint, APIKey: pc.APIKey,
			Models: pc.Models, Extra: pc.Extra,
			Timeout: pc.ProviderTimeout(),
		}
		switch pc.Type {
		case "openai":
			router.Register(provider.NewOpenAIProvider(provCfg, logger))
		case "anthropic":
			router.Register(provider.NewAnthropicProvider(provCfg, logger))
		default:
			logger.Warn("unknown provider type", zap.String("id", pc.ID), zap.String("type", pc.Type))
		}
	}

	bindings := map[string]config.Binding{
		provider.RoleReply:   cfg.Companion.Reply,
		provider.RoleExtract: cfg.Companion.Extract,
		provider.RoleSummary: cfg.Companion.Summary,
	}
	for role, b := range bindings {
		if b.Provider != "" {
			router.Bind(role, b.Provider)
		}
		if len(b.Fallbacks) > 0 {
			router.SetFallbacks(role, b.Fallbacks)
		}
	}
	if len(router.ListProviders()) == 0 {
		logger.Warn("no language model providers configured, every reply will use the fallback pool")
	} else {
		logger.Info("language model providers ready",
			zap.Int("count", len(router.ListProviders())),
			zap.String("default", router.DefaultID()))
	}
	return router
}

// checkProviders probes each provider once and logs the ones that fail.
func checkProviders(ctx context.Context, router *provider.Router, logger *zap.Logger) {
	for _, p := range router.ListProviders() {
		hctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		if err := p.HealthCheck(hctx); err != nil {
			logger.Warn("provider health check failed", zap.String("provider", p.ID()), zap.Error(err))
		}
		cancel()
	}
}

func openRedis(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return rdb, nil
}

func memoryBackends(cfg *config.Config, rdb *redis.Client, pg *pgstore.Store) (memory.BackendFactory, error) {
	switch cfg.Memory.Backend {
	case config.BackendRedis:
		if rdb == nil {
			return nil, errors.New("redis not connected")
		}
		return memory.RedisBackends(rdb, cfg.Memory.KeyPrefix), nil
	case config.BackendPostgres:
		if pg == nil {
			return nil, errors.New("postgres not connected")
		}
		return pg.Backends(), nil
	default:
		if err := os.MkdirAll(cfg.Memory.Dir, 0o755); err != nil {
			return nil, fmt.Errorf("create memory dir: %w", err)
		}
		return memory.FileBackends(cfg.Memory.Dir), nil
	}
}
