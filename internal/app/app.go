// Package app собирает компоненты реферального леджера из конфигурации.
package app

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/mmeshcher/referral-ledger/internal/config"
	"github.com/mmeshcher/referral-ledger/internal/handler"
	"github.com/mmeshcher/referral-ledger/internal/membership"
	"github.com/mmeshcher/referral-ledger/internal/middleware"
	"github.com/mmeshcher/referral-ledger/internal/notify"
	"github.com/mmeshcher/referral-ledger/internal/payout"
	"github.com/mmeshcher/referral-ledger/internal/processor"
	"github.com/mmeshcher/referral-ledger/internal/repository"
	"github.com/mmeshcher/referral-ledger/internal/reward"
	"github.com/mmeshcher/referral-ledger/internal/secret"
	"github.com/mmeshcher/referral-ledger/internal/webhook"
)

// Store объединяет операции хранилища, нужные сервисам леджера.
type Store interface {
	reward.Store
	payout.Store
	webhook.Store
	io.Closer
}

var (
	_ Store = (*repository.PostgresRepository)(nil)
	_ Store = (*repository.MemoryRepository)(nil)
)

// App содержит собранные сервисы леджера.
type App struct {
	Config   *config.Config
	Store    Store
	Rewards  *reward.Engine
	Payouts  *payout.Orchestrator
	Webhooks *webhook.Reconciler
	Auth     *middleware.AuthMiddleware

	logger *zap.Logger
}

// OpenStore подключается к PostgreSQL. Без DSN используется хранилище в памяти.
func OpenStore(dsn string, logger *zap.Logger) (Store, error) {
	if dsn == "" {
		logger.Warn("DATABASE_URI is empty, using in-memory ledger; data will be lost on restart")
		return repository.NewMemoryRepository(), nil
	}

	repo, err := repository.NewPostgresRepository(dsn)
	if err != nil {
		return nil, fmt.Errorf("open ledger store: %w", err)
	}
	return repo, nil
}

// New собирает сервисы леджера.
func New(cfg *config.Config, logger *zap.Logger) (*App, error) {
	store, err := OpenStore(cfg.DatabaseURI, logger)
	if err != nil {
		return nil, err
	}

	proc := processor.NewClient(cfg.ProcessorURL, envChain(cfg.ProcessorSecretVars))
	if !proc.Configured(context.Background()) {
		logger.Warn("payment processor is not configured, payouts and onboarding will fail until a secret key is set",
			zap.Strings("secretVars", cfg.ProcessorSecretVars))
	}

	engine := reward.NewEngine(store, authority(cfg, logger), reward.Policy{
		Discount:   cfg.Discount,
		Reward:     cfg.Reward,
		CodePrefix: cfg.CodePrefix,
	}, logger)

	orchestrator := payout.NewOrchestrator(store, proc, notifier(cfg, logger), payout.Options{
		Currency:       cfg.Currency,
		AccountCountry: cfg.AccountCountry,
	}, logger)

	reconciler := webhook.NewReconciler(store, envChain(cfg.WebhookSecretVars), logger)

	if cfg.AuthSecret == "" {
		logger.Warn("AUTH_SECRET is empty, session tokens will not survive a restart")
	}

	return &App{
		Config:   cfg,
		Store:    store,
		Rewards:  engine,
		Payouts:  orchestrator,
		Webhooks: reconciler,
		Auth:     middleware.NewAuthMiddleware(cfg.AuthSecret),
		logger:   logger,
	}, nil
}

// Handler возвращает HTTP-маршрутизатор леджера.
func (a *App) Handler() http.Handler {
	h := handler.NewHandler(a.Rewards, a.Payouts, a.Webhooks, a.logger, a.Auth, handler.Options{
		ServiceToken:   a.Config.ServiceToken,
		ShareBaseURL:   a.Config.ShareBaseURL,
		AllowedOrigins: a.Config.AllowedOrigins,
	})
	return h.SetupRouter()
}

// Close освобождает хранилище.
func (a *App) Close() error {
	return a.Store.Close()
}

func envChain(vars []string) secret.Chain {
	chain := make(secret.Chain, 0, len(vars))
	for _, v := range vars {
		chain = append(chain, secret.Env(v))
	}
	return chain
}

func authority(cfg *config.Config, logger *zap.Logger) membership.Authority {
	if cfg.MembershipURL == "" {
		logger.Warn("MEMBERSHIP_API_URL is empty, every member is treated as eligible")
		return membership.Static{Eligible: true, Subscribed: true}
	}
	return membership.NewHTTPAuthority(cfg.MembershipURL, cfg.MembershipToken, cfg.Levels())
}

func notifier(cfg *config.Config, logger *zap.Logger) notify.Notifier {
	n := notify.Multi{notify.NewLog(logger)}
	if cfg.TelegramToken == "" {
		return n
	}

	tg, err := notify.NewTelegram(cfg.TelegramToken, cfg.TelegramChatID)
	if err != nil {
		logger.Error("telegram notifications disabled", zap.Error(err))
		return n
	}
	return append(n, tg)
}
