// Package telegram is the chat front-end: users create and drive their bots
// entirely through commands and inline keyboards. Every operation goes
// through the lifecycle manager with the caller's Telegram user id as owner,
// so users only ever see their own bots.
package telegram

import (
	"context"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/time/rate"

	"github.com/craftbot/gocraft/internal/manager"
	"github.com/craftbot/gocraft/internal/store"
	"github.com/craftbot/gocraft/pkg/logger"
)

type Config struct {
	Token    string
	AdminIDs []int64
}

type Bot struct {
	api *tgbotapi.BotAPI
	mgr *manager.Manager
	db  *store.Store
	cfg Config

	mu       sync.Mutex
	wizards  map[int64]*wizardState
	limiters map[int64]*rate.Limiter

	startedAt time.Time
}

func New(cfg Config, mgr *manager.Manager, db *store.Store) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(cfg.Token)
	if err != nil {
		return nil, err
	}
	logger.Infof("telegram bot authorized as @%s", api.Self.UserName)
	return &Bot{
		api:       api,
		mgr:       mgr,
		db:        db,
		cfg:       cfg,
		wizards:   make(map[int64]*wizardState),
		limiters:  make(map[int64]*rate.Limiter),
		startedAt: time.Now(),
	}, nil
}

// Run polls for updates until ctx is cancelled.
func (b *Bot) Run(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := b.api.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return
		case upd, ok := <-updates:
			if !ok {
				return
			}
			b.handleUpdate(ctx, upd)
		}
	}
}

func (b *Bot) handleUpdate(ctx context.Context, upd tgbotapi.Update) {
	switch {
	case upd.CallbackQuery != nil:
		if !b.allow(upd.CallbackQuery.From.ID) {
			b.answerCallback(upd.CallbackQuery.ID, "slow down")
			return
		}
		b.handleCallback(ctx, upd.CallbackQuery)
	case upd.Message != nil:
		userID := upd.Message.From.ID
		if !b.allow(userID) {
			return
		}
		if upd.Message.IsCommand() {
			b.handleCommand(ctx, upd.Message)
			return
		}
		// non-command text only matters inside the /create wizard
		b.handleWizardInput(ctx, upd.Message)
	}
}

// allow applies the per-user flood limit: short bursts are fine, sustained
// spam is dropped silently.
func (b *Bot) allow(userID int64) bool {
	b.mu.Lock()
	lim, ok := b.limiters[userID]
	if !ok {
		lim = rate.NewLimiter(rate.Every(500*time.Millisecond), 5)
		b.limiters[userID] = lim
	}
	b.mu.Unlock()
	return lim.Allow()
}

func (b *Bot) isAdmin(userID int64) bool {
	for _, id := range b.cfg.AdminIDs {
		if id == userID {
			return true
		}
	}
	return false
}

func (b *Bot) reply(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdown
	if _, err := b.api.Send(msg); err != nil {
		logger.Warnf("telegram send to %d: %v", chatID, err)
	}
}

func (b *Bot) replyWithKeyboard(chatID int64, text string, kb tgbotapi.InlineKeyboardMarkup) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdown
	msg.ReplyMarkup = kb
	if _, err := b.api.Send(msg); err != nil {
		logger.Warnf("telegram send to %d: %v", chatID, err)
	}
}

func (b *Bot) answerCallback(id, text string) {
	if _, err := b.api.Request(tgbotapi.NewCallback(id, text)); err != nil {
		logger.Debugf("telegram answer callback: %v", err)
	}
}
