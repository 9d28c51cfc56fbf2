// Package app инициализирует все компоненты приложения.
// app.go собирает приложение: хранилище, сервисы, приёмники уведомлений,
// транспорты (бот и HTTP-админка) и планировщик. Каждый сервис создаётся
// один раз и явно передаётся всем транспортам.
package app

import (
	"context"
	"errors"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/cashier/internal/api"
	"serotonyl.ru/cashier/internal/bot"
	"serotonyl.ru/cashier/internal/bot/filters"
	"serotonyl.ru/cashier/internal/common"
	"serotonyl.ru/cashier/internal/config"
	"serotonyl.ru/cashier/internal/db/postgres"
	"serotonyl.ru/cashier/internal/features/actors"
	"serotonyl.ru/cashier/internal/features/approval"
	"serotonyl.ru/cashier/internal/features/ledger"
	"serotonyl.ru/cashier/internal/features/notify"
	"serotonyl.ru/cashier/internal/features/rules"
	"serotonyl.ru/cashier/internal/jobs"
	"serotonyl.ru/cashier/internal/metrics"
	"serotonyl.ru/cashier/internal/store"
)

// App содержит все компоненты приложения.
type App struct {
	Store     store.Store
	DB        *pgxpool.Pool // nil при STORAGE_DRIVER=memory
	Router    *notify.Router
	Approvals *approval.Service
	Bot       *bot.Bot // nil, если Telegram выключен
	API       *api.Server
	Scheduler *jobs.Scheduler // nil, если сверка выключена

	closers []func()
}

// New создаёт и инициализирует приложение.
// Порядок инициализации важен: компоненты зависят друг от друга.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	a := &App{}

	// === 1. Хранилище ===
	if err := a.initStore(ctx, cfg); err != nil {
		a.Close()
		return nil, err
	}

	// === 2. Метрики ===
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	// === 3. Telegram Bot API ===
	var botAPI *tgbotapi.BotAPI
	if cfg.FeatureTelegramEnabled {
		var err error
		botAPI, err = tgbotapi.NewBotAPI(cfg.TelegramBotToken)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("ошибка создания Telegram API: %w", err)
		}
		botAPI.Debug = cfg.AppEnv == "development"
		log.Infof("Авторизован как @%s", botAPI.Self.UserName)
	}

	// === 4. Уведомления ===
	sinks, err := a.initSinks(ctx, cfg, botAPI)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Router = notify.NewRouter(notify.Options{
		Workers:     cfg.NotifyWorkers,
		QueueSize:   cfg.NotifyQueueSize,
		MaxAttempts: cfg.NotifyMaxAttempts,
		Backoff:     cfg.NotifyBackoff,
	}, m, sinks...)

	// === 5. Сервисы ===
	basis, err := ledger.ParseBasis(cfg.CashoutBasis)
	if err != nil {
		a.Close()
		return nil, err
	}
	rulesService := rules.NewService(a.Store)
	ledgerService := ledger.NewService(a.Store, a.Store, basis)
	actorService := actors.NewService(a.Store)
	a.Approvals = approval.NewService(a.Store, a.Router, m, approval.Options{
		Basis:         basis,
		RetryAttempts: cfg.ApprovalRetryAttempts,
		RetryBackoff:  cfg.ApprovalRetryBackoff,
	})

	if err := seedBotActor(ctx, actorService, cfg.BotActorID); err != nil {
		a.Close()
		return nil, err
	}

	// === 6. Транспорты ===
	if botAPI != nil {
		chatFilter := filters.NewChatFilter(cfg.AdminChatID, cfg.AdminIDs)
		a.Bot = bot.New(botAPI, cfg, a.Approvals, ledgerService, chatFilter)
	}
	a.API = api.NewServer(cfg.HTTPAddr, api.Deps{
		Approvals: a.Approvals,
		Balances:  ledgerService,
		Rules:     rulesService,
		Actors:    actorService,
		Keys:      actors.NewKeyVerifier(cfg.AdminAPIKeyHash),
		Health:    a.Store,
		Gatherer:  reg,
	})

	// === 7. Планировщик задач ===
	if cfg.FeatureReconcileEnabled {
		a.Scheduler = jobs.NewScheduler(ledgerService, m, cfg.ReconcileCron, cfg.AppTimezone)
	}

	return a, nil
}

func (a *App) initStore(ctx context.Context, cfg *config.Config) error {
	if cfg.StorageDriver == config.StorageMemory {
		log.Warn("Хранилище в памяти: данные не переживут перезапуск")
		mem := store.NewMemory(cfg.ApprovalLockTimeout)
		if err := seedMemory(ctx, mem); err != nil {
			return err
		}
		a.Store = mem
		return nil
	}

	pool, err := postgres.NewPool(ctx, cfg)
	if err != nil {
		return fmt.Errorf("ошибка подключения к БД: %w", err)
	}
	a.DB = pool
	a.closers = append(a.closers, pool.Close)

	if err := postgres.RunMigrations(ctx, pool, migrations); err != nil {
		return fmt.Errorf("ошибка миграций: %w", err)
	}
	a.Store = postgres.NewStore(pool, cfg.ApprovalLockTimeout)
	return nil
}

// initSinks собирает приёмники уведомлений по FEATURE_* флагам.
func (a *App) initSinks(ctx context.Context, cfg *config.Config, botAPI *tgbotapi.BotAPI) ([]notify.Sink, error) {
	sinks := []notify.Sink{notify.LogSink{}}

	if botAPI != nil && cfg.AdminChatID != 0 {
		sinks = append(sinks, notify.NewTelegramSink(botAPI, cfg.AdminChatID))
	}

	if cfg.FeatureRedisEnabled {
		rdb, err := notify.ConnectRedis(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return nil, fmt.Errorf("ошибка подключения к Redis: %w", err)
		}
		a.closers = append(a.closers, func() { _ = rdb.Close() })
		sinks = append(sinks, notify.NewRedisSink(rdb, cfg.RedisChannel))
		log.WithField("channel", cfg.RedisChannel).Info("События публикуются в Redis")
	}

	if cfg.FeatureKafkaEnabled {
		w := notify.NewKafkaWriter(cfg.KafkaBrokers, cfg.KafkaTopic)
		a.closers = append(a.closers, func() {
			if err := w.Close(); err != nil {
				log.WithError(err).Warn("Ошибка закрытия Kafka writer")
			}
		})
		sinks = append(sinks, notify.NewKafkaSink(w))
		log.WithField("topic", cfg.KafkaTopic).Info("События пишутся в Kafka")
	}
	return sinks, nil
}

// Close освобождает соединения в обратном порядке.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// seedBotActor создаёт актора бота, если его ещё нет.
// Лимит суммы и права потом правятся через PUT /actors/:id.
func seedBotActor(ctx context.Context, svc *actors.Service, actorID string) error {
	_, err := svc.Get(ctx, actorID)
	if err == nil {
		return nil
	}
	if !errors.Is(err, common.ErrNotFound) {
		return fmt.Errorf("актор бота: %w", err)
	}
	log.WithField("actor_id", actorID).Info("Создаём актора Telegram-бота")
	return svc.Put(ctx, &actors.Actor{
		ID:                    actorID,
		Name:                  "Telegram bot",
		Kind:                  actors.KindTelegramBot,
		IsActive:              true,
		CanApproveOrders:      true,
		CanApproveWalletLoads: true,
	})
}
