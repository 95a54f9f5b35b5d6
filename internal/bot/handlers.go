package bot

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/example/studybot/internal/excel"
	"github.com/example/studybot/internal/progress"
	"github.com/example/studybot/pkg/models"
)

// Constants for callback data
const (
	callbackMainMenu    = "main_menu"
	callbackStartReview = "start_review"
	callbackDue         = "due"
	callbackStats       = "stats"
	callbackExport      = "export"
	callbackAnswer      = "answer:" // answer:<correct|incorrect>:<question index>
)

const (
	dueListLimit = 10
	timeLayout   = "02.01.2006 15:04"
)

// HandleCommand handles bot commands
func (b *Bot) HandleCommand(ctx context.Context, message *tgbotapi.Message) error {
	if message == nil || message.From == nil || message.Chat == nil {
		return fmt.Errorf("invalid message: required fields are missing")
	}

	userID, chatID := message.From.ID, message.Chat.ID
	switch message.Command() {
	case "start":
		return b.handleStart(ctx, userID, chatID)
	case "menu":
		return b.showMainMenu(chatID)
	case "review":
		return b.handleStartReview(ctx, userID, chatID)
	case "due":
		return b.handleDue(ctx, userID, chatID)
	case "stats":
		return b.handleStats(ctx, userID, chatID)
	case "export":
		return b.handleExport(ctx, userID, chatID)
	case "admin_stats":
		if !b.isAdmin(userID) {
			return b.sendMessage(tgbotapi.NewMessage(chatID, "Эта команда доступна только администраторам."))
		}
		return b.handleAdminStats(ctx, chatID)
	default:
		msg := tgbotapi.NewMessage(chatID, "Неизвестная команда. Используйте /menu, чтобы открыть меню.")
		msg.ReplyMarkup = createKeyboard(MainMenuButtons())
		return b.sendMessage(msg)
	}
}

// HandleCallback обрабатывает нажатия на inline-кнопки
func (b *Bot) HandleCallback(ctx context.Context, callback *tgbotapi.CallbackQuery) error {
	if callback == nil || callback.Message == nil || callback.Message.Chat == nil || callback.From == nil {
		return fmt.Errorf("invalid callback data: required fields are missing")
	}

	// Always send an answer to the callback query to remove the loading state
	if _, err := b.api.Request(tgbotapi.NewCallback(callback.ID, "")); err != nil {
		b.log.Warn("failed to answer callback", "error", err)
	}

	userID, chatID := callback.From.ID, callback.Message.Chat.ID
	var err error
	switch callback.Data {
	case callbackMainMenu:
		err = b.showMainMenu(chatID)
	case callbackStartReview:
		err = b.handleStartReview(ctx, userID, chatID)
	case callbackDue:
		err = b.handleDue(ctx, userID, chatID)
	case callbackStats:
		err = b.handleStats(ctx, userID, chatID)
	case callbackExport:
		err = b.handleExport(ctx, userID, chatID)
	default:
		if strings.HasPrefix(callback.Data, callbackAnswer) {
			err = b.handleAnswer(ctx, userID, chatID, strings.TrimPrefix(callback.Data, callbackAnswer))
		} else {
			return b.sendMessage(tgbotapi.NewMessage(chatID, "⚠️ Неизвестное действие"))
		}
	}

	if err != nil {
		b.log.Error("callback failed", "user", userID, "data", callback.Data, "error", err)
		return b.sendMessage(tgbotapi.NewMessage(chatID, "❌ Произошла ошибка. Пожалуйста, попробуйте позже."))
	}
	return nil
}

func (b *Bot) showMainMenu(chatID int64) error {
	msg := tgbotapi.NewMessage(chatID, "Главное меню:")
	msg.ReplyMarkup = createKeyboard(MainMenuButtons())
	return b.sendMessage(msg)
}

// handleStart registers the learner on first contact and records a login
func (b *Bot) handleStart(ctx context.Context, userID, chatID int64) error {
	id := learnerID(userID)
	today := b.service.Today()

	if _, err := b.service.RegisterAccount(ctx, id, today); err != nil {
		return fmt.Errorf("failed to register learner: %w", err)
	}
	streak, _, err := b.service.RecordLogin(ctx, id, today)
	if err != nil {
		return fmt.Errorf("failed to record login: %w", err)
	}

	text := "👋 Добро пожаловать!\n\n" +
		"Я помогу вам запоминать слова с помощью интервального повторения.\n\n" +
		fmt.Sprintf("🔥 Дней подряд: %d\n\n", streak) +
		"/review - начать повторение\n" +
		"/due - слова к повторению\n" +
		"/stats - статистика\n" +
		"/export - выгрузить прогресс в Excel"

	msg := tgbotapi.NewMessage(chatID, text)
	msg.ReplyMarkup = createKeyboard(MainMenuButtons())
	return b.sendMessage(msg)
}

// handleStartReview builds a new session and asks the first question
func (b *Bot) handleStartReview(ctx context.Context, userID, chatID int64) error {
	now := b.cfg.Now()
	session, err := b.builder.Build(ctx, learnerID(userID), now, b.cfg.SessionSize)
	if err != nil {
		return err
	}
	if len(session.Questions) == 0 {
		return b.sendMessage(tgbotapi.NewMessage(chatID, "🎉 Сейчас нечего повторять. Загляните позже!"))
	}

	b.mu.Lock()
	b.sessions[userID] = &reviewSession{questions: session.Questions}
	b.mu.Unlock()

	return b.askQuestion(chatID, session.Questions[0].ItemID, 0, len(session.Questions))
}

func (b *Bot) askQuestion(chatID int64, itemID string, idx, total int) error {
	text := fmt.Sprintf("Слово %d из %d:\n\n%s\n\nВы помните его?", idx+1, total, itemID)
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ReplyMarkup = createKeyboard([][]MenuButton{{
		{Text: "✅ Помню", CallbackData: answerData(models.OutcomeCorrect, idx)},
		{Text: "❌ Не помню", CallbackData: answerData(models.OutcomeIncorrect, idx)},
	}})
	return b.sendMessage(msg)
}

func answerData(outcome models.Outcome, idx int) string {
	return callbackAnswer + outcome.String() + ":" + strconv.Itoa(idx)
}

// handleAnswer records the answer to the current question and moves on
func (b *Bot) handleAnswer(ctx context.Context, userID, chatID int64, data string) error {
	outcomeStr, idxStr, ok := strings.Cut(data, ":")
	if !ok {
		return fmt.Errorf("malformed answer %q", data)
	}
	outcome, err := models.ParseOutcome(outcomeStr)
	if err != nil {
		return err
	}
	idx, err := strconv.Atoi(idxStr)
	if err != nil {
		return fmt.Errorf("malformed answer index %q: %w", idxStr, err)
	}

	b.mu.Lock()
	session, ok := b.sessions[userID]
	if !ok || idx != session.current || idx >= len(session.questions) {
		b.mu.Unlock()
		// Повторное нажатие или устаревшая кнопка
		return nil
	}
	itemID := session.questions[idx].ItemID
	session.current++
	b.mu.Unlock()

	rec, err := b.service.SubmitReview(ctx, learnerID(userID), itemID, outcome)
	unsaved := errors.Is(err, models.ErrProgressNotSaved)
	if err != nil && !unsaved {
		return err
	}

	b.mu.Lock()
	if outcome == models.OutcomeCorrect {
		session.correct++
	}
	if unsaved {
		session.unsaved++
	}
	next := session.current
	total := len(session.questions)
	correct, pendingCount := session.correct, session.unsaved
	if next >= total {
		delete(b.sessions, userID)
	}
	b.mu.Unlock()

	var reply string
	if outcome == models.OutcomeCorrect {
		reply = "👍 Отлично!"
		if !rec.NextReviewAt.IsZero() {
			reply += " Следующее повторение: " + rec.NextReviewAt.In(b.cfg.Location).Format(timeLayout)
		}
	} else {
		reply = "🔁 Ничего страшного, повторим это слово ещё раз."
	}
	if unsaved {
		reply += "\n⚠️ Ответ будет сохранён, как только база данных станет доступна."
	}
	if err := b.sendMessage(tgbotapi.NewMessage(chatID, reply)); err != nil {
		return err
	}

	if next < total {
		return b.askQuestion(chatID, session.questions[next].ItemID, next, total)
	}

	summary := fmt.Sprintf("✅ Сессия завершена: %d из %d верно.", correct, total)
	if pendingCount > 0 {
		summary += fmt.Sprintf("\nОтветов ожидает сохранения: %d", pendingCount)
	}
	msg := tgbotapi.NewMessage(chatID, summary)
	msg.ReplyMarkup = createKeyboard(MainMenuButtons())
	return b.sendMessage(msg)
}

func (b *Bot) handleDue(ctx context.Context, userID, chatID int64) error {
	due, err := b.service.GetDueItems(ctx, learnerID(userID), b.cfg.Now(), dueListLimit)
	if err != nil {
		return err
	}
	if len(due) == 0 {
		return b.sendMessage(tgbotapi.NewMessage(chatID, "🎉 Сейчас нечего повторять."))
	}

	var text strings.Builder
	text.WriteString("📅 К повторению:\n\n")
	for i, item := range due {
		fmt.Fprintf(&text, "%d. %s\n", i+1, item)
	}

	msg := tgbotapi.NewMessage(chatID, text.String())
	msg.ReplyMarkup = createKeyboard([][]MenuButton{
		{{Text: "🎯 Повторить", CallbackData: callbackStartReview}},
	})
	return b.sendMessage(msg)
}

func (b *Bot) handleStats(ctx context.Context, userID, chatID int64) error {
	id := learnerID(userID)
	now := b.cfg.Now()

	records, err := b.service.GetProgressSnapshot(ctx, id)
	if err != nil {
		return err
	}
	sum := progress.Summarize(records, b.cfg.CatalogSize, now)

	var text strings.Builder
	text.WriteString("📊 Ваша статистика\n\n")
	fmt.Fprintf(&text, "Новых слов: %d\n", sum.New)
	fmt.Fprintf(&text, "Изучаются: %d\n", sum.Learning)
	fmt.Fprintf(&text, "На повторении: %d\n", sum.Review)
	fmt.Fprintf(&text, "Выучено: %d\n", sum.Mastered)
	fmt.Fprintf(&text, "К повторению сейчас: %d\n", sum.DueNow)
	fmt.Fprintf(&text, "Прогресс: %d%%\n", sum.Completion)

	acc, err := b.service.Account(ctx, id)
	switch {
	case err == nil:
		fmt.Fprintf(&text, "\n🔥 Дней подряд: %d\n⭐ Опыт: %d\n", acc.DailyStreak, acc.TotalXP)
	case errors.Is(err, models.ErrNotFound):
	default:
		b.log.Warn("account unavailable for stats", "learner", id, "error", err)
	}

	if len(sum.Upcoming) > 0 {
		text.WriteString("\nБлижайшие повторения:\n")
		for _, rec := range sum.Upcoming {
			fmt.Fprintf(&text, "• %s: %s\n", rec.ItemID, rec.NextReviewAt.In(b.cfg.Location).Format(timeLayout))
		}
	}

	msg := tgbotapi.NewMessage(chatID, text.String())
	msg.ReplyMarkup = createKeyboard([][]MenuButton{
		{{Text: "🎯 Начать повторение", CallbackData: callbackStartReview}},
		{{Text: "« Назад в меню", CallbackData: callbackMainMenu}},
	})
	return b.sendMessage(msg)
}

// handleExport sends the learner's progress as an Excel workbook
func (b *Bot) handleExport(ctx context.Context, userID, chatID int64) error {
	records, err := b.service.GetProgressSnapshot(ctx, learnerID(userID))
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return b.sendMessage(tgbotapi.NewMessage(chatID, "Прогресса пока нет. Начните с /review!"))
	}

	var buf bytes.Buffer
	if err := excel.WriteProgress(&buf, records, b.cfg.Location); err != nil {
		return err
	}

	doc := tgbotapi.NewDocument(chatID, tgbotapi.FileBytes{Name: "progress.xlsx", Bytes: buf.Bytes()})
	doc.Caption = fmt.Sprintf("Ваш прогресс: %d %s", len(records), wordForm(len(records)))
	return b.sendMessage(doc)
}

func (b *Bot) handleAdminStats(ctx context.Context, chatID int64) error {
	accounts, err := b.service.Accounts(ctx)
	if err != nil {
		return err
	}

	text := "🛠 Администрирование\n\n" +
		fmt.Sprintf("Учеников: %d\n", len(accounts)) +
		fmt.Sprintf("Ответов ожидает сохранения: %d\n", b.service.Pending())
	return b.sendMessage(tgbotapi.NewMessage(chatID, text))
}
