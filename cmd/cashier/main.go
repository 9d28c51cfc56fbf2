// Package main запускает кассу.
// Загружает конфигурацию, инициализирует приложение и запускает бота,
// HTTP-админку и планировщик. Поддерживает graceful shutdown по SIGINT/SIGTERM.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"serotonyl.ru/cashier/internal/app"
	"serotonyl.ru/cashier/internal/config"
)

// shutdownTimeout: сколько ждём завершения текущих HTTP-запросов.
const shutdownTimeout = 15 * time.Second

func main() {
	// Настраиваем логирование
	setupLogging()

	log.Info("=== Касса запускается ===")

	// Загружаем конфигурацию из переменных окружения
	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("Не удалось загрузить конфигурацию")
	}

	// Устанавливаем уровень логирования из конфига
	level, err := log.ParseLevel(cfg.AppLogLevel)
	if err == nil {
		log.SetLevel(level)
	}

	// Контекст с отменой для graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Инициализируем приложение (хранилище, сервисы, транспорты)
	application, err := app.New(ctx, cfg)
	if err != nil {
		log.WithError(err).Fatal("Не удалось инициализировать приложение")
	}
	defer application.Close()

	// Воркеры уведомлений: Close дожидается очереди
	application.Router.Start()
	defer application.Router.Close()

	// Запускаем планировщик задач (cron)
	if application.Scheduler != nil {
		if err := application.Scheduler.Start(ctx); err != nil {
			log.WithError(err).Fatal("Некорректное расписание RECONCILE_CRON")
		}
		defer application.Scheduler.Stop()
	}

	// Обрабатываем сигналы остановки (Ctrl+C, docker stop)
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	// HTTP-админка
	httpErr := make(chan error, 1)
	go func() {
		httpErr <- application.API.Start()
	}()

	// Бот в отдельной горутине
	if application.Bot != nil {
		go application.Bot.Start(ctx)
	}

	log.Info("=== Касса готова к работе ===")

	// Ждём сигнала остановки или падения HTTP-сервера
	select {
	case sig := <-quit:
		log.Infof("Получен сигнал %s, останавливаемся...", sig)
	case err := <-httpErr:
		if err != nil {
			log.WithError(err).Error("HTTP-админка остановилась с ошибкой")
		}
	}

	// Отменяем контекст: все горутины начнут завершаться
	cancel()

	shutdownCtx, stop := context.WithTimeout(context.Background(), shutdownTimeout)
	defer stop()
	if err := application.API.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("HTTP-админка не остановилась вовремя")
	}

	log.Info("=== Касса остановлена ===")
}

// setupLogging настраивает формат логов.
func setupLogging() {
	log.SetFormatter(&log.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})
	log.SetOutput(os.Stdout)
	log.SetLevel(log.DebugLevel)
}
