package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"bondengine/pkg/bot"
	"bondengine/pkg/cache"
	"bondengine/pkg/chance"
	"bondengine/pkg/config"
	"bondengine/pkg/engine"
	"bondengine/pkg/logging"
	"bondengine/pkg/memory"
	"bondengine/pkg/persona"
	"bondengine/pkg/retry"
	"bondengine/pkg/surreal"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

func main() {
	// Load config.yml
	cfg, err := config.LoadConfig("config.yml")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer logger.Sync()

	// Load .env for secrets
	secrets, err := config.LoadSecrets(".env")
	if err != nil {
		logger.Fatal("Failed to load secrets", zap.Error(err))
	}
	if secrets.DiscordToken == "" {
		logger.Fatal("Missing required environment variable: DISCORD_TOKEN")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openStore(ctx, cfg, secrets, logger)
	if err != nil {
		logger.Fatal("Failed to open store", zap.Error(err))
	}
	defer closeStore.Close()

	personaOpts := persona.Options{IntentCacheSize: cfg.Cache.IntentCacheSize, Logger: logger}
	set, err := persona.LoadSource(cfg.Personas.Dir, personaOpts)
	if err != nil {
		logger.Fatal("Failed to load personas", zap.Error(err))
	}
	registry := persona.NewRegistry(set)
	if _, ok := registry.Get(cfg.Bot.DefaultPersona); !ok {
		logger.Fatal("Default persona not found", zap.String("persona_id", cfg.Bot.DefaultPersona))
	}
	logger.Info("Personas loaded", zap.Strings("ids", registry.IDs()))

	// SIGHUP reloads persona files without dropping conversations.
	reload := make(chan os.Signal, 1)
	signal.Notify(reload, syscall.SIGHUP)
	go func() {
		for range reload {
			err := registry.Reload(func() (*persona.Set, error) {
				return persona.LoadSource(cfg.Personas.Dir, personaOpts)
			})
			if err != nil {
				logger.Error("Persona reload failed, keeping the current set", zap.Error(err))
				continue
			}
			logger.Info("Personas reloaded", zap.Strings("ids", registry.IDs()))
		}
	}()

	mem := memory.NewService(store, logger.Named("memory"),
		memory.WithLimits(memory.Limits{History: cfg.Engine.HistoryLimit, Topics: cfg.Engine.FavoriteTopicsLimit}),
	)

	eng := engine.New(registry, mem, logger.Named("engine"),
		engine.WithWeights(cfg.Scoring),
		engine.WithRecallChance(cfg.Engine.RecallChance),
		engine.WithQueueSize(cfg.Engine.QueueSize),
		engine.WithSaveTimeout(cfg.SaveTimeout()),
		engine.WithDecayWorkers(cfg.Decay.Workers),
		engine.WithRand(chance.New(cfg.Engine.Seed)),
	)
	defer eng.Close()

	if cfg.Decay.Enabled {
		go eng.RunDecayLoop(ctx, cfg.DecayInterval())
	}

	dg, err := discordgo.New("Bot " + secrets.DiscordToken)
	if err != nil {
		logger.Fatal("Error creating Discord session", zap.Error(err))
	}
	dg.Identify.Intents = discordgo.IntentsGuildMessages | discordgo.IntentsDirectMessages | discordgo.IntentsMessageContent

	handler := bot.NewHandler(eng, registry, bot.Options{
		DefaultPersona:   cfg.Bot.DefaultPersona,
		CommandPrefix:    cfg.Bot.CommandPrefix,
		MaxMessageLength: cfg.Bot.MaxMessageLength,
		SessionGap:       cfg.SessionGap(),
		Retry: retry.Config{
			MaxAttempts:  cfg.Bot.RetryAttempts,
			InitialDelay: 200 * time.Millisecond,
			MaxDelay:     2 * time.Second,
		},
	}, logger.Named("bot"))

	dg.AddHandler(handler.MessageCreate)
	dg.AddHandler(handler.InteractionCreate)
	dg.AddHandler(func(s *discordgo.Session, r *discordgo.Ready) {
		handler.SetBotID(r.User.ID)
		logger.Info("Logged in", zap.String("user", r.User.Username))
	})

	if err := dg.Open(); err != nil {
		logger.Fatal("Error opening Discord connection", zap.Error(err))
	}
	defer dg.Close()
	handler.SetBotID(dg.State.User.ID)

	commands, err := bot.RegisterSlashCommands(dg, secrets.DiscordGuildID, logger)
	if err != nil {
		logger.Error("Failed to register slash commands", zap.Error(err))
	}

	wait := handler.Start(ctx, &bot.DiscordSession{Session: dg}, time.Minute)

	logger.Info("Bot is running. Press CTRL-C to exit.")
	<-ctx.Done()

	logger.Info("Shutting down")
	wait()
	if secrets.DiscordGuildID != "" {
		if err := bot.UnregisterSlashCommands(dg, secrets.DiscordGuildID, commands); err != nil {
			logger.Warn("Failed to remove slash commands", zap.Error(err))
		}
	}
}

// openStore builds the configured backend, with the Redis cache in front of it
// when REDIS_URL is set.
func openStore(ctx context.Context, cfg *config.Config, secrets *config.Secrets, logger *zap.Logger) (memory.Store, io.Closer, error) {
	var (
		store  memory.Store
		closer io.Closer = nopCloser{}
	)

	switch cfg.Storage.Backend {
	case config.BackendSurreal:
		if !secrets.HasSurreal() {
			return nil, nil, fmt.Errorf("surreal backend needs SURREAL_DB_HOST, SURREAL_DB_USER and SURREAL_DB_PASS")
		}
		client, err := surreal.NewClient(ctx, secrets.SurrealHost, secrets.SurrealUser, secrets.SurrealPass, secrets.SurrealNS, secrets.SurrealDB)
		if err != nil {
			return nil, nil, err
		}
		store = memory.NewSurrealStore(ctx, client, logger.Named("surreal"))
		closer = closerFunc(func() error { client.Close(); return nil })
		logger.Info("Connected to SurrealDB", zap.String("host", secrets.SurrealHost))
	case config.BackendSQLite:
		s, err := memory.NewSQLiteStore(cfg.Storage.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		store, closer = s, s
		logger.Info("Using SQLite store", zap.String("path", cfg.Storage.SQLitePath))
	default:
		store = memory.NewInMemoryStore()
		logger.Warn("Using in-memory store, profiles are lost on exit")
	}

	if secrets.RedisURL == "" {
		return store, closer, nil
	}
	c, err := cache.NewRedisCache(secrets.RedisURL, "bondengine")
	if err != nil {
		logger.Warn("Redis unavailable, running without profile cache", zap.Error(err))
		return store, closer, nil
	}
	logger.Info("Profile cache enabled")
	inner := closer
	closer = closerFunc(func() error {
		c.Close()
		return inner.Close()
	})
	return memory.NewCachedStore(store, c).WithTTL(cfg.ProfileTTL()).WithLogger(logger.Named("cache")), closer, nil
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
