package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron"

	"github.com/example/studybot/internal/logger"
	"github.com/example/studybot/pkg/models"
)

// Константы для настроек по умолчанию
const (
	DefaultNotificationStartHour = 4  // Время начала уведомлений
	DefaultNotificationEndHour   = 18 // Время окончания уведомлений
	DefaultReconcileInterval     = 10 * time.Minute
	DefaultSessionSize           = 20

	jobTimeout = 2 * time.Minute
)

// Notifier sends review reminders to learners
type Notifier interface {
	SendReminders(ctx context.Context, learnerID string, count int) error
}

// Service is the part of the progress service the jobs drive
type Service interface {
	Reconcile(ctx context.Context) ([]string, error)
	FlushPending(ctx context.Context) (int, error)
	Accounts(ctx context.Context) ([]models.Account, error)
	CountDue(ctx context.Context, learnerID string, now time.Time) (int, error)
}

// Config configures the background jobs. Zero values mean defaults.
type Config struct {
	ReconcileInterval     time.Duration
	NotificationStartHour int
	NotificationEndHour   int
	SessionSize           int
	Location              *time.Location
	Now                   func() time.Time
}

// Scheduler manages scheduled tasks for the application
type Scheduler struct {
	scheduler *gocron.Scheduler
	service   Service
	notifier  Notifier
	cfg       Config
	log       *logger.Logger
}

// New creates a new scheduler instance. A nil notifier disables reminders.
func New(service Service, notifier Notifier, cfg Config, log *logger.Logger) *Scheduler {
	if cfg.ReconcileInterval <= 0 {
		cfg.ReconcileInterval = DefaultReconcileInterval
	}
	if cfg.NotificationStartHour == 0 && cfg.NotificationEndHour == 0 {
		cfg.NotificationStartHour = DefaultNotificationStartHour
		cfg.NotificationEndHour = DefaultNotificationEndHour
	}
	if cfg.SessionSize <= 0 {
		cfg.SessionSize = DefaultSessionSize
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if log == nil {
		log = logger.NewNop()
	}

	return &Scheduler{
		scheduler: gocron.NewScheduler(cfg.Location),
		service:   service,
		notifier:  notifier,
		cfg:       cfg,
		log:       log,
	}
}

// Start begins running all scheduled tasks
func (s *Scheduler) Start() error {
	if _, err := s.scheduler.Every(s.cfg.ReconcileInterval).SingletonMode().Do(s.maintain); err != nil {
		return fmt.Errorf("failed to schedule maintenance: %w", err)
	}

	if s.notifier != nil {
		// Schedule hourly check for learners who need reminders
		if _, err := s.scheduler.Every(1).Hour().SingletonMode().Do(s.checkAndSendReminders); err != nil {
			return fmt.Errorf("failed to schedule reminders: %w", err)
		}
	}

	// Start the scheduler in a non-blocking manner
	s.scheduler.StartAsync()
	return nil
}

// Stop terminates all scheduled tasks
func (s *Scheduler) Stop() {
	s.scheduler.Stop()
}

// maintain retries queued writes, then checks the due indexes against the store
func (s *Scheduler) maintain() {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	left, err := s.service.FlushPending(ctx)
	if err != nil {
		s.log.Warn("queued reviews not flushed", "left", left, "error", err)
	}

	rebuilt, err := s.service.Reconcile(ctx)
	if err != nil {
		s.log.Error("reconciliation failed", "error", err)
	}
	if len(rebuilt) > 0 {
		s.log.Warn("due indexes rebuilt", "learners", rebuilt)
	}
}

// inWindow reports whether hour is inside the notification window
func (s *Scheduler) inWindow(hour int) bool {
	start, end := s.cfg.NotificationStartHour, s.cfg.NotificationEndHour
	if start <= end {
		return hour >= start && hour <= end
	}
	// Окно через полночь, например 22-6
	return hour >= start || hour <= end
}

// checkAndSendReminders notifies every learner with due items
func (s *Scheduler) checkAndSendReminders() {
	now := s.cfg.Now()
	currentHour := now.In(s.cfg.Location).Hour()

	// Проверяем, находится ли текущий час в диапазоне времени для отправки уведомлений
	if !s.inWindow(currentHour) {
		s.log.Debug("outside notification hours, skipping reminders",
			"hour", currentHour, "start", s.cfg.NotificationStartHour, "end", s.cfg.NotificationEndHour)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	accounts, err := s.service.Accounts(ctx)
	if err != nil {
		s.log.Error("failed to list accounts for reminders", "error", err)
		return
	}

	for _, acc := range accounts {
		if err := s.remind(ctx, acc.ID, now); err != nil {
			s.log.Warn("reminder failed", "learner", acc.ID, "error", err)
		}
	}
}

// RunManualCheck sends a reminder to one learner if anything is due
func (s *Scheduler) RunManualCheck(ctx context.Context, learnerID string) error {
	return s.remind(ctx, learnerID, s.cfg.Now())
}

func (s *Scheduler) remind(ctx context.Context, learnerID string, now time.Time) error {
	count, err := s.service.CountDue(ctx, learnerID, now)
	if err != nil {
		return err
	}
	if count == 0 || s.notifier == nil {
		return nil
	}

	// Не больше одной сессии за раз
	if count > s.cfg.SessionSize {
		count = s.cfg.SessionSize
	}
	return s.notifier.SendReminders(ctx, learnerID, count)
}
