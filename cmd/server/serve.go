package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"hotel-concierge/internal/adapters/gateway"
	"hotel-concierge/internal/adapters/handler"
	"hotel-concierge/internal/adapters/repository"
	"hotel-concierge/internal/adapters/websocket"
	"hotel-concierge/internal/config"
	"hotel-concierge/internal/core/domain"
	"hotel-concierge/internal/core/parser"
	"hotel-concierge/internal/core/ports"
	"hotel-concierge/internal/core/services"
)

func newServeCmd() *cobra.Command {
	var autoMigrate bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server and background workers",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig()
			if err != nil {
				return err
			}
			setupLogger(cfg)
			if Version != "dev" {
				cfg.App.Version = Version
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cfg, autoMigrate)
		},
	}

	cmd.Flags().BoolVar(&autoMigrate, "migrate", false, "apply the database schema before serving")
	return cmd
}

// stores are the persistence ports selected by STORE_DRIVER and REDIS_ADDR
type stores struct {
	conversations ports.ConversationRepository
	messages      ports.MessageRepository
	webhooks      ports.WebhookRepository
	dedup         ports.DedupRepository
	settings      ports.SettingsRepository
	locker        ports.ConversationLocker // nil = in-process keyed locker
	redis         handler.Pinger           // nil without Redis
	closers       []func()
}

func (s *stores) close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

func openStores(ctx context.Context, cfg *config.Config, autoMigrate bool) (*stores, error) {
	st := &stores{}

	switch cfg.DB.Driver {
	case config.StoreMariaDB:
		db, err := connectMariaDB(ctx, cfg.DB)
		if err != nil {
			return nil, err
		}
		st.closers = append(st.closers, func() { db.Close() })
		if autoMigrate {
			if err := repository.Migrate(ctx, db); err != nil {
				st.close()
				return nil, fmt.Errorf("migrate: %w", err)
			}
		}
		repo := repository.NewMariaDBRepository(db)
		st.conversations, st.messages, st.webhooks, st.settings = repo, repo, repo, repo

	default:
		slog.Warn("Using the in-memory store, data is lost on restart")
		repo := repository.NewMemoryRepository()
		st.conversations, st.messages, st.webhooks, st.settings, st.dedup = repo, repo, repo, repo, repo
	}

	if cfg.Redis.Addr != "" {
		rdb, err := connectRedis(ctx, cfg.Redis)
		if err != nil {
			st.close()
			return nil, err
		}
		st.closers = append(st.closers, func() { rdb.Close() })
		redisRepo := repository.NewRedisRepository(rdb, cfg.App.LockTTL)
		st.dedup = redisRepo
		st.locker = redisRepo
		st.redis = redisRepo
	}
	return st, nil
}

func newParser(cfg *config.Config) (*parser.Parser, error) {
	loc, err := time.LoadLocation(cfg.App.Timezone)
	if err != nil {
		return nil, fmt.Errorf("hotel timezone: %w", err)
	}
	opts := []parser.Option{parser.WithLocation(loc), parser.WithMaxGuests(cfg.App.MaxGuests)}
	if cfg.App.LanguagePacks != "" {
		data, err := os.ReadFile(cfg.App.LanguagePacks)
		if err != nil {
			return nil, fmt.Errorf("read language packs: %w", err)
		}
		opts = append(opts, parser.WithPacks(data))
	}
	return parser.New(opts...)
}

// newOracle prefers the Google calendar and falls back to the static list
func newOracle(cfg *config.Config) (ports.AvailabilityOracle, func(), error) {
	if cfg.Calendar.ID == "" {
		slog.Info("Availability from static blocked dates", "dates", len(cfg.Calendar.BlockedDates))
		static, err := gateway.NewStaticCalendar(cfg.Calendar.BlockedDates)
		return static, func() {}, err
	}
	cal, err := gateway.NewGoogleCalendar(context.Background(), gateway.CalendarConfig{
		BaseURL:      cfg.Calendar.BaseURL,
		CalendarID:   cfg.Calendar.ID,
		ClientID:     cfg.Calendar.ClientID,
		ClientSecret: cfg.Calendar.ClientSecret,
		RefreshToken: cfg.Calendar.RefreshToken,
		TokenURL:     cfg.Calendar.TokenURL,
		Timezone:     cfg.App.Timezone,
		CacheTTL:     cfg.Calendar.CacheTTL,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("google calendar: %w", err)
	}
	slog.Info("Availability from Google Calendar", "calendar_id", cfg.Calendar.ID)
	return cal, cal.Close, nil
}

func newResponder(cfg *config.Config) (*gateway.OpenAIClient, error) {
	prompt, err := gateway.LoadSystemPrompt(cfg.OpenAI.SystemPromptPath)
	if err != nil {
		return nil, err
	}
	if cfg.OpenAI.APIKey == "" {
		slog.Warn("OPENAI_API_KEY not set, every free-form question will be escalated")
	}
	return gateway.NewOpenAIClient(gateway.OpenAIConfig{
		BaseURL:      cfg.OpenAI.BaseURL,
		APIKey:       cfg.OpenAI.APIKey,
		Model:        cfg.OpenAI.Model,
		SystemPrompt: prompt,
		Temperature:  cfg.OpenAI.Temperature,
		MaxTokens:    cfg.OpenAI.MaxTokens,
	}), nil
}

// channelAdapters registers every configured platform. The dashboard widget
// is always available.
func channelAdapters(cfg *config.Config) []ports.ChannelAdapter {
	adapters := []ports.ChannelAdapter{gateway.DashboardChannel{}}
	if cfg.Telegram.BotToken != "" {
		adapters = append(adapters, gateway.NewTelegramClient(cfg.Telegram.APIBase, cfg.Telegram.BotToken))
	}
	if cfg.Twilio.AccountSID != "" {
		adapters = append(adapters, gateway.NewTwilioClient(cfg.Twilio.APIBase, cfg.Twilio.AccountSID, cfg.Twilio.AuthToken, cfg.Twilio.From))
	}
	if cfg.Instagram.AccessToken != "" {
		adapters = append(adapters, gateway.NewInstagramClient(cfg.Instagram.GraphBase, cfg.Instagram.AccessToken))
	}
	for _, a := range adapters {
		slog.Info("Channel enabled", "channel", a.Channel())
	}
	return adapters
}

func runServe(ctx context.Context, cfg *config.Config, autoMigrate bool) error {
	st, err := openStores(ctx, cfg, autoMigrate)
	if err != nil {
		return err
	}
	defer st.close()

	// The hub outlives the HTTP server so in-flight turns can still publish
	hubCtx, stopHub := context.WithCancel(context.Background())
	defer stopHub()
	hub := websocket.NewEventHub(cfg.App.EventsSecret)
	go hub.Run(hubCtx)

	p, err := newParser(cfg)
	if err != nil {
		return err
	}
	oracle, closeOracle, err := newOracle(cfg)
	if err != nil {
		return err
	}
	defer closeOracle()
	responder, err := newResponder(cfg)
	if err != nil {
		return err
	}

	aiSwitch, err := services.NewAISwitch(ctx, st.settings, hub)
	if err != nil {
		return err
	}

	deps := services.OrchestratorDeps{
		Conversations: st.conversations,
		Messages:      st.messages,
		Locker:        st.locker,
		Parser:        p,
		Booking: services.NewBookingDialogue(p, oracle, services.Rates{
			domain.RoomStandard: cfg.Rates.Standard,
			domain.RoomDeluxe:   cfg.Rates.Deluxe,
			domain.RoomSuite:    cfg.Rates.Suite,
		}),
		Responder:   responder,
		Adapters:    channelAdapters(cfg),
		Events:      hub,
		AISwitch:    aiSwitch,
		HistorySize: cfg.App.HistorySize,
	}
	if cfg.Slack.WebhookURL != "" {
		deps.Notifier = gateway.NewSlackNotifier(cfg.Slack.WebhookURL, cfg.Slack.DashboardURL)
	}
	engine := services.NewOrchestrator(deps)

	dispatcher := services.NewDispatcher(st.webhooks, st.dedup, engine, cfg.App.Workers, cfg.App.ProcessTimeout)

	watchdog := services.NewWatchdog(st.webhooks, watchdogConfig(cfg))
	if err := watchdog.Start(); err != nil {
		return err
	}
	defer watchdog.Stop()

	router := handler.NewRouter(handler.RouterDeps{
		Webhooks: handler.NewWebhookHandler(dispatcher, handler.WebhookSecrets{
			TelegramSecretToken: cfg.Telegram.SecretToken,
			TwilioAuthToken:     cfg.Twilio.AuthToken,
			PublicBaseURL:       cfg.Twilio.PublicBaseURL,
			InstagramAppSecret:  cfg.Instagram.AppSecret,
			InstagramVerify:     cfg.Instagram.VerifyToken,
		}),
		Dashboard: handler.NewDashboardHandler(handler.DashboardDeps{
			Engine:        engine,
			AISwitch:      aiSwitch,
			Events:        hub,
			Redis:         st.redis,
			Responder:     responder,
			DiskPath:      cfg.Watchdog.DiskPath,
			DiskThreshold: cfg.Watchdog.DiskThreshold,
			Version:       cfg.App.Version,
		}),
		Events: hub.ServeWS,
		APIKey: cfg.App.APIKey,
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.App.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      90 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "addr", srv.Addr, "version", cfg.App.Version)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
		slog.Info("Shutting down")
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP shutdown incomplete", "error", err)
	}

	// Acknowledged webhooks are finished before the stores close
	dispatcher.Wait()
	slog.Info("Shutdown complete")
	return nil
}
