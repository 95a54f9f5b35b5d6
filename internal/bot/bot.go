package bot

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"cloud.google.com/go/civil"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/example/studybot/internal/logger"
	"github.com/example/studybot/internal/quiz"
	"github.com/example/studybot/pkg/models"
)

// Service is the part of the progress service the bot talks to
type Service interface {
	SubmitReview(ctx context.Context, learnerID, itemID string, outcome models.Outcome) (models.ProgressRecord, error)
	GetDueItems(ctx context.Context, learnerID string, now time.Time, limit int) ([]string, error)
	GetProgressSnapshot(ctx context.Context, learnerID string) ([]models.ProgressRecord, error)
	RecordLogin(ctx context.Context, accountID string, today civil.Date) (int, civil.Date, error)
	RegisterAccount(ctx context.Context, accountID string, today civil.Date) (models.Account, error)
	Account(ctx context.Context, accountID string) (models.Account, error)
	Accounts(ctx context.Context) ([]models.Account, error)
	Pending() int
	Today() civil.Date
}

// sender is the subset of the Telegram API the handlers use
type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

// MenuButton represents a button in the menu
type MenuButton struct {
	Text         string
	CallbackData string
}

// createKeyboard creates a keyboard from menu buttons
func createKeyboard(buttons [][]MenuButton) tgbotapi.InlineKeyboardMarkup {
	var keyboard [][]tgbotapi.InlineKeyboardButton
	for _, row := range buttons {
		var keyboardRow []tgbotapi.InlineKeyboardButton
		for _, button := range row {
			keyboardRow = append(keyboardRow, tgbotapi.NewInlineKeyboardButtonData(button.Text, button.CallbackData))
		}
		keyboard = append(keyboard, keyboardRow)
	}
	return tgbotapi.NewInlineKeyboardMarkup(keyboard...)
}

// Config configures the bot
type Config struct {
	Token       string
	AdminIDs    map[int64]bool
	SessionSize int
	CatalogSize int
	Location    *time.Location
	Now         func() time.Time
}

// reviewSession is a learner's ongoing review session
type reviewSession struct {
	questions []quiz.Question
	current   int
	correct   int
	unsaved   int
}

// Bot represents the Telegram bot application
type Bot struct {
	client  *tgbotapi.BotAPI
	api     sender
	service Service
	builder *quiz.Builder
	cfg     Config
	log     *logger.Logger

	mu       sync.Mutex
	sessions map[int64]*reviewSession
	stopOnce sync.Once
}

// New creates a bot authorized with the configured token
func New(cfg Config, service Service, builder *quiz.Builder, log *logger.Logger) (*Bot, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("TELEGRAM_BOT_TOKEN environment variable is not set")
	}

	client, err := tgbotapi.NewBotAPI(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("unable to create bot: %w", err)
	}

	b := newBot(client, cfg, service, builder, log)
	b.client = client
	b.log.Info("authorized on account", "username", client.Self.UserName)
	return b, nil
}

func newBot(api sender, cfg Config, service Service, builder *quiz.Builder, log *logger.Logger) *Bot {
	if cfg.SessionSize <= 0 {
		cfg.SessionSize = 20
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.AdminIDs == nil {
		cfg.AdminIDs = make(map[int64]bool)
	}
	if log == nil {
		log = logger.NewNop()
	}

	return &Bot{
		api:      api,
		service:  service,
		builder:  builder,
		cfg:      cfg,
		log:      log,
		sessions: make(map[int64]*reviewSession),
	}
}

// Start receives updates until ctx is cancelled
func (b *Bot) Start(ctx context.Context) error {
	if b.client == nil {
		return fmt.Errorf("bot is not connected to Telegram")
	}

	// Set up the update configuration
	updateConfig := tgbotapi.NewUpdate(0)
	updateConfig.Timeout = 60

	updates := b.client.GetUpdatesChan(updateConfig)
	for {
		select {
		case <-ctx.Done():
			b.stopReceiving()
			return ctx.Err()
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			go b.handleUpdate(ctx, update)
		}
	}
}

// Stop stops receiving updates
func (b *Bot) Stop() {
	b.stopReceiving()
	b.log.Info("bot stopped")
}

// stopReceiving closes the update channel once; a second close would panic
func (b *Bot) stopReceiving() {
	b.stopOnce.Do(func() {
		if b.client != nil {
			b.client.StopReceivingUpdates()
		}
	})
}

// SendReminders implements the scheduler.Notifier interface
func (b *Bot) SendReminders(ctx context.Context, learnerID string, count int) error {
	// В личных чатах chat ID совпадает с user ID
	chatID, err := strconv.ParseInt(learnerID, 10, 64)
	if err != nil {
		return fmt.Errorf("learner %q has no chat: %w", learnerID, err)
	}

	msg := tgbotapi.NewMessage(chatID, fmt.Sprintf("У вас %d %s для повторения! Нажмите «Повторить», чтобы начать.", count, wordForm(count)))
	msg.ReplyMarkup = createKeyboard([][]MenuButton{
		{{Text: "🎯 Повторить", CallbackData: callbackStartReview}},
	})
	if err := b.sendMessage(msg); err != nil {
		return err
	}

	b.log.Info("reminder sent", "learner", learnerID, "count", count)
	return nil
}

// wordForm returns the Russian plural of "слово" for n
func wordForm(n int) string {
	n100 := n % 100
	n10 := n % 10
	switch {
	case n100 >= 11 && n100 <= 14:
		return "слов"
	case n10 == 1:
		return "слово"
	case n10 >= 2 && n10 <= 4:
		return "слова"
	default:
		return "слов"
	}
}

// isAdmin checks if a user is an admin
func (b *Bot) isAdmin(userID int64) bool {
	return b.cfg.AdminIDs[userID]
}

func (b *Bot) sendMessage(c tgbotapi.Chattable) error {
	if _, err := b.api.Send(c); err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	return nil
}

// handleUpdate handles incoming updates from Telegram
func (b *Bot) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	var err error
	switch {
	case update.Message != nil && update.Message.IsCommand():
		err = b.HandleCommand(ctx, update.Message)
	case update.Message != nil:
		if update.Message.Chat != nil {
			msg := tgbotapi.NewMessage(update.Message.Chat.ID, "Я понимаю только команды. Используйте /menu, чтобы открыть меню.")
			msg.ReplyMarkup = createKeyboard(MainMenuButtons())
			err = b.sendMessage(msg)
		}
	case update.CallbackQuery != nil:
		err = b.HandleCallback(ctx, update.CallbackQuery)
	}

	if err != nil {
		b.log.Error("failed to handle update", "update", update.UpdateID, "error", err)
	}
}

// MainMenuButtons returns the buttons for the main menu
func MainMenuButtons() [][]MenuButton {
	return [][]MenuButton{
		{
			{Text: "🎯 Повторить", CallbackData: callbackStartReview},
			{Text: "📅 К повторению", CallbackData: callbackDue},
		},
		{
			{Text: "📊 Статистика", CallbackData: callbackStats},
			{Text: "📥 Экспорт", CallbackData: callbackExport},
		},
	}
}

func learnerID(userID int64) string {
	return strconv.FormatInt(userID, 10)
}
