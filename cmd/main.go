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

	"github.com/CDeX-Labs/CDeX-CTF-Core/config"
	"github.com/CDeX-Labs/CDeX-CTF-Core/internal/auth"
	"github.com/CDeX-Labs/CDeX-CTF-Core/internal/broadcast"
	"github.com/CDeX-Labs/CDeX-CTF-Core/internal/clock"
	"github.com/CDeX-Labs/CDeX-CTF-Core/internal/handlers"
	"github.com/CDeX-Labs/CDeX-CTF-Core/internal/hub"
	"github.com/CDeX-Labs/CDeX-CTF-Core/internal/kafka"
	"github.com/CDeX-Labs/CDeX-CTF-Core/internal/leaderboard"
	"github.com/CDeX-Labs/CDeX-CTF-Core/internal/metrics"
	"github.com/CDeX-Labs/CDeX-CTF-Core/internal/middleware"
	"github.com/CDeX-Labs/CDeX-CTF-Core/internal/presence"
	redisclient "github.com/CDeX-Labs/CDeX-CTF-Core/internal/redis"
	"github.com/CDeX-Labs/CDeX-CTF-Core/internal/store"
	"github.com/CDeX-Labs/CDeX-CTF-Core/internal/store/memory"
	"github.com/CDeX-Labs/CDeX-CTF-Core/internal/store/postgres"
	"github.com/CDeX-Labs/CDeX-CTF-Core/internal/submission"
	"github.com/CDeX-Labs/CDeX-CTF-Core/pkg/events"
	"github.com/CDeX-Labs/CDeX-CTF-Core/pkg/protocol"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var devMode bool

func main() {
	rootCmd := &cobra.Command{
		Use:   "ctf-core",
		Short: "CTF core - flag submission, scoring and live events",
	}

	rootCmd.PersistentFlags().BoolVar(&devMode, "dev", false, "load .env and log to the console")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and websocket server",
		RunE:  runServe,
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE:  runMigrate,
	}
	cmd.Flags().Int("steps", 0, "number of migrations to apply, negative to roll back (0 applies all)")
	return cmd
}

func loadConfig() (*config.AppConfig, zerolog.Logger, error) {
	cfg, err := config.InitConfig(devMode)
	if err != nil {
		return nil, zerolog.Logger{}, err
	}

	zerolog.SetGlobalLevel(cfg.App.LogLevel)
	logger := zerolog.New(os.Stdout).With().Timestamp().Str("app", cfg.App.Name).Logger()
	if cfg.App.DevMode {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}
	log.Logger = logger

	return cfg, logger, nil
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Store.DatabaseURL == "" {
		return errors.New("DATABASE_URL is required")
	}

	steps, _ := cmd.Flags().GetInt("steps")
	return postgres.Migrate(cfg.Store.DatabaseURL, steps, logger)
}

func openStore(ctx context.Context, cfg *config.AppConfig, logger zerolog.Logger) (store.Store, error) {
	switch cfg.Store.Kind {
	case config.StorePostgres:
		return postgres.New(ctx, cfg.Store.DatabaseURL, logger)
	default:
		logger.Warn().Msg("Using in-memory store, state is lost on restart")
		return memory.New(), nil
	}
}

type pinger interface {
	Ping(ctx context.Context) error
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m := metrics.New()
	checks := map[string]handlers.Check{}

	st, err := openStore(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()
	if p, ok := st.(pinger); ok {
		checks["store"] = p.Ping
	}

	if cfg.Competition.File != "" {
		comp, err := config.LoadCompetition(cfg.Competition.File)
		if err != nil {
			return err
		}
		comp.Apply(cfg)
		if err := comp.Seed(ctx, st); err != nil {
			return fmt.Errorf("failed to seed competition: %w", err)
		}
		logger.Info().
			Str("file", cfg.Competition.File).
			Int("challenges", len(comp.Challenges)).
			Msg("Competition file loaded")
	}

	h := hub.NewHub(m, logger)
	b := broadcast.New(cfg.Broadcast.QueueSize, m, logger)
	b.AddSink(h)

	schedule := clock.NewStaticSchedule(clock.Window{
		Start: cfg.Competition.Start,
		End:   cfg.Competition.End,
	})
	gate := clock.NewGate(schedule)

	var (
		rdb      *redisclient.Client
		pubsub   *redisclient.PubSub
		presMgr  *presence.Manager
		producer *kafka.Producer
		consumer *kafka.Consumer
	)

	if cfg.Redis.Enabled {
		rdb, err = redisclient.NewClient(redisclient.Options{
			Host:     cfg.Redis.Host,
			Port:     cfg.Redis.Port,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		}, m, logger)
		if err != nil {
			return err
		}
		defer rdb.Close()
		checks["redis"] = rdb.Ping

		pubsub = redisclient.NewPubSub(rdb, redisclient.DefaultChannel, func(topic broadcast.Topic, msg *protocol.Message) {
			if msg.Type == protocol.MsgCompetitionUpdate {
				applyRemoteStatus(gate, msg, logger)
			}
			_ = h.Deliver(ctx, topic, msg)
		}, logger)
		b.AddSink(pubsub)

		presMgr = presence.NewManager(rdb, pubsub.InstanceID(), logger)
		h.OnDisconnect(handlers.PresenceOnDisconnect(presMgr, logger))
	}

	if cfg.KafkaEnabled() {
		if cfg.Kafka.EventsTopic != "" {
			producer = kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.EventsTopic, m, logger)
			defer producer.Close()
			b.AddSink(producer)
		}

		consumer = kafka.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.GroupID, kafka.Topics, m, logger)
		kafka.NewHandlers(b, logger).WithGate(gate).RegisterAll(consumer)
	}

	boards := leaderboard.NewService(st, rdb, cfg.Leaderboard.CacheTTL, logger)
	notifier := leaderboard.NewNotifier(boards, b, cfg.Leaderboard.Debounce, logger)
	defer notifier.Stop()

	coord := submission.NewCoordinator(submission.Dependencies{
		Challenges:  st,
		Solves:      st,
		Scores:      st,
		Publisher:   b,
		Leaderboard: notifier,
		Clock:       clock.System(),
		Schedule:    schedule,
		Metrics:     m,
		Logger:      logger,
	}, submission.Config{
		RequireTeam: cfg.Competition.RequireTeam,
		Timeout:     cfg.Submission.Timeout,
	})

	var teamPresence http.Handler
	if presMgr != nil {
		teamPresence = handlers.NewTeamPresenceHandler(presMgr, logger)
	}

	limiter := middleware.NewRateLimiter(cfg.Submission.RateLimit, cfg.Submission.RateLimitWindow, nil, logger)
	go limiter.Run(ctx)

	router := handlers.NewRouter(handlers.RouterConfig{
		Validator:   auth.NewJWTValidator(cfg.Auth.JWTSecret),
		Metrics:     m,
		Gatherer:    prometheus.DefaultGatherer,
		RateLimiter: limiter,
		Submit:      handlers.NewSubmitHandler(coord, logger),
		History:     handlers.NewHistoryHandler(st, logger),
		Presence:    teamPresence,
		Scores:      handlers.NewScoresHandler(boards, logger),
		WebSocket:   handlers.NewWebSocketHandler(h, presMgr, logger),
		Ready:       handlers.ReadyHandler(h, checks),
		Logger:      logger,
	})

	go h.Run(ctx)
	go b.Run(ctx)
	if pubsub != nil {
		if err := pubsub.Start(); err != nil {
			return err
		}
		defer pubsub.Stop()
	}
	if consumer != nil {
		consumer.Start(ctx)
		defer consumer.Stop()
	}

	srv := &http.Server{
		Addr:              ":" + cfg.App.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("port", cfg.App.Port).Str("store", string(cfg.Store.Kind)).Msg("Server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	logger.Info().Msg("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// applyRemoteStatus keeps this instance's submission gate in step with a
// competition status consumed by another instance.
func applyRemoteStatus(gate *clock.Gate, msg *protocol.Message, logger zerolog.Logger) {
	var ev events.CompetitionStatusChangedEvent
	if err := msg.DecodePayload(&ev); err != nil {
		logger.Warn().Err(err).Msg("Failed to decode remote competition status")
		return
	}
	kafka.ApplyStatus(gate, ev.Status)
	logger.Info().Str("status", string(ev.Status)).Msg("Applied remote competition status")
}
