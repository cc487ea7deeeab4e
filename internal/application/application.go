// Package application собирает бота целиком: БД с миграциями, транспорт чата,
// пул воркеров, фоновые проходы доставки и HTTP-сервер панели.
package application

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/maryam-mebel/support-bot/internal/bot"
	"github.com/maryam-mebel/support-bot/internal/config"
	"github.com/maryam-mebel/support-bot/internal/database"
	"github.com/maryam-mebel/support-bot/internal/dispatch"
	"github.com/maryam-mebel/support-bot/internal/handler"
	"github.com/maryam-mebel/support-bot/internal/kafka"
	"github.com/maryam-mebel/support-bot/internal/router"
	"github.com/maryam-mebel/support-bot/internal/service"
	"github.com/maryam-mebel/support-bot/internal/telegram"
	"github.com/maryam-mebel/support-bot/internal/wizard"
)

type App struct {
	cfg      *config.Config
	tg       *telegram.Bot
	bot      *bot.Bot
	pool     *dispatch.Pool
	tickets  *service.TicketService
	wizards  *wizard.Engine
	producer *kafka.Producer
	httpSrv  *http.Server
}

func New(cfg *config.Config) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := database.MigrateUp(cfg.DatabaseURL()); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	db, err := database.Open(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("database: %w", err)
	}

	tg, err := telegram.NewBot(cfg.BotToken)
	if err != nil {
		return nil, fmt.Errorf("telegram: %w", err)
	}
	producer := kafka.NewProducer(cfg.KafkaBrokers, cfg.KafkaTopic)

	users := service.NewUserService(db)
	tickets := service.NewTicketService(db, tg, producer, users, cfg)
	referrals := service.NewReferralService(db, tg, producer, cfg)
	resumes := service.NewResumeSink(tg, cfg.EmployerID)

	var store wizard.SessionStore = wizard.NewMemoryStore()
	if cfg.RedisAddr != "" {
		store = wizard.NewRedisStore(cfg.RedisAddr, cfg.RedisPassword, cfg.WizardTimeout)
	}
	wizards := wizard.NewEngine(store, cfg.WizardTimeout, wizard.RecruitmentFlow(), wizard.BroadcastFlow())

	b := bot.New(tg, users, tickets, referrals, wizards, resumes, cfg, tg.Username())
	pool := dispatch.NewPool(cfg.Workers, 64, b.HandleEvent)

	mode := "polling"
	if cfg.WebhookMode {
		mode = "webhook"
	}
	h := router.New(
		handler.NewTicketHandler(tickets),
		handler.NewUserHandler(users),
		handler.NewReferralHandler(referrals),
		handler.NewWebhookHandler(pool),
		handler.NewHealthHandler(db, mode),
	)
	httpSrv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return &App{
		cfg:      cfg,
		tg:       tg,
		bot:      b,
		pool:     pool,
		tickets:  tickets,
		wizards:  wizards,
		producer: producer,
		httpSrv:  httpSrv,
	}, nil
}

// Run запускает пул, поллер (если не webhook-режим), фоновые проходы и HTTP,
// блокируется до отмены ctx, затем гасит всё в обратном порядке.
func (a *App) Run(ctx context.Context) error {
	a.pool.Start(ctx)

	log.Printf("HTTP server listening on %s", a.httpSrv.Addr)
	log.Printf("  Swagger UI: http://localhost:%s/swagger", a.cfg.HTTPPort)
	log.Printf("  Health:     http://localhost:%s/health", a.cfg.HTTPPort)
	if a.cfg.WebhookMode {
		log.Printf("bot: webhook mode, updates via POST /inbound")
	} else {
		log.Printf("bot: long-polling as @%s", a.tg.Username())
		go a.tg.Poll(ctx, func(ev telegram.Event) {
			if !a.pool.Submit(ev) {
				log.Printf("bot: pool closed, update dropped")
			}
		})
	}

	go a.relayLoop(ctx)
	go a.wizardSweepLoop(ctx)

	go func() {
		if err := a.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("http: %v", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Printf("http shutdown: %v", err)
	}
	a.pool.Close()
	if err := a.producer.Close(); err != nil {
		log.Printf("kafka close: %v", err)
	}
	return nil
}

// relayLoop — периодическая доставка накопившихся ответов (REST-панель сайта
// пишет в журнал напрямую, без транспорта).
func (a *App) relayLoop(ctx context.Context) {
	ticker := time.NewTicker(a.cfg.RelayInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sent, _, err := a.tickets.RelayPending(ctx, a.cfg.RelayBatch)
			if err != nil {
				log.Printf("relay: %v", err)
				continue
			}
			if sent > 0 {
				log.Printf("relay: delivered %d message(s)", sent)
			}
		}
	}
}

func (a *App) wizardSweepLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			expired, err := a.wizards.SweepIdle(ctx)
			if err != nil {
				log.Printf("wizard sweep: %v", err)
				continue
			}
			if len(expired) > 0 {
				a.bot.NotifyExpired(ctx, expired)
			}
		}
	}
}
