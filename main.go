package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/example/studybot/internal/bot"
	"github.com/example/studybot/internal/config"
	"github.com/example/studybot/internal/database"
	"github.com/example/studybot/internal/excel"
	"github.com/example/studybot/internal/logger"
	"github.com/example/studybot/internal/progress"
	"github.com/example/studybot/internal/quiz"
	"github.com/example/studybot/internal/scheduler"
	"github.com/example/studybot/internal/spaced_repetition"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logg, err := logger.New(cfg.LogMode)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logg.Sync()

	// Создаем канал для сигналов
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	// Создаем контекст с отменой
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Подключаемся к базе данных
	db, err := database.Connect(cfg.Database)
	if err != nil {
		logg.Fatal("failed to connect to database", "type", cfg.Database.Type, "error", err)
	}
	defer db.Close()

	srs, err := spaced_repetition.New(spaced_repetition.Config{
		MaxIntervalDays: cfg.SRS.MaxIntervalDays,
		AccuracyWindow:  cfg.SRS.AccuracyWindow,
	})
	if err != nil {
		logg.Fatal("invalid review settings", "error", err)
	}

	service := progress.NewService(
		database.NewProgressRepository(db),
		database.NewAccountRepository(db),
		srs,
		logg.With("component", "progress"),
		progress.Options{ReviewXP: cfg.Engagement.ReviewXP, Location: cfg.Engagement.Location},
	)

	// Загружаем каталог слов, если он задан
	var catalog quiz.Catalog
	catalogSize := 0
	if cfg.CatalogFile != "" {
		items, err := excel.LoadCatalog(cfg.CatalogFile)
		if err != nil {
			logg.Fatal("failed to load catalog", "file", cfg.CatalogFile, "error", err)
		}
		static := quiz.NewStaticCatalog(items)
		catalog, catalogSize = static, static.Size()
		logg.Info("catalog loaded", "file", cfg.CatalogFile, "items", catalogSize)
	}

	// Строим индексы повторений для всех учеников
	accounts, err := service.Accounts(ctx)
	if err != nil {
		logg.Fatal("failed to list accounts", "error", err)
	}
	for _, acc := range accounts {
		if err := service.RebuildIndex(ctx, acc.ID); err != nil {
			logg.Warn("failed to build due index", "learner", acc.ID, "error", err)
		}
	}
	logg.Info("due indexes built", "learners", len(accounts))

	b, err := bot.New(bot.Config{
		Token:       cfg.Telegram.Token,
		AdminIDs:    cfg.Telegram.AdminIDs,
		SessionSize: cfg.Jobs.SessionSize,
		CatalogSize: catalogSize,
		Location:    cfg.Engagement.Location,
	}, service, quiz.NewBuilder(service, catalog), logg.With("component", "bot"))
	if err != nil {
		logg.Fatal("failed to create bot", "error", err)
	}

	jobs := scheduler.New(service, b, scheduler.Config{
		ReconcileInterval:     cfg.Jobs.ReconcileInterval,
		NotificationStartHour: cfg.Jobs.NotificationStartHour,
		NotificationEndHour:   cfg.Jobs.NotificationEndHour,
		SessionSize:           cfg.Jobs.SessionSize,
		Location:              cfg.Engagement.Location,
	}, logg.With("component", "scheduler"))
	if err := jobs.Start(); err != nil {
		logg.Fatal("failed to start scheduler", "error", err)
	}
	defer jobs.Stop()

	// Канал для ожидания завершения бота
	done := make(chan struct{})

	// Горутина для обработки сигналов
	go func() {
		sig := <-sigChan
		logg.Info("received signal", "signal", sig.String())
		cancel()
		close(done)
	}()

	// Запускаем бота
	logg.Info("bot started, press Ctrl+C to stop")
	go func() {
		if err := b.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logg.Error("bot error", "error", err)
		}
	}()

	// Ждем сигнала завершения
	<-done
	b.Stop()

	// Дописываем ответы, которые не успели сохраниться
	if left, err := service.FlushPending(context.Background()); err != nil {
		logg.Warn("reviews left unsaved at shutdown", "count", left, "error", err)
	}
	logg.Info("bot stopped successfully")
}
