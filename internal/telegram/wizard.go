package telegram

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/craftbot/gocraft/internal/domain"
	"github.com/craftbot/gocraft/internal/manager"
)

// The /create flow collects one field per message. State lives in memory
// only; a restart simply drops half-finished wizards.
type wizardStep int

const (
	stepName wizardStep = iota
	stepHost
	stepPort
	stepVersion
)

type wizardState struct {
	edition domain.Edition
	step    wizardStep

	name string
	host string
	port int
}

func (b *Bot) cmdCreate(userID, chatID int64) {
	kb := tgbotapi.NewInlineKeyboardMarkup(tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonData("☕ Java Edition", "create:java"),
		tgbotapi.NewInlineKeyboardButtonData("🛏 Bedrock Edition", "create:bedrock"),
	))
	b.replyWithKeyboard(chatID, "🎮 Which edition is the server?", kb)
}

func (b *Bot) cmdCancel(userID, chatID int64) {
	b.mu.Lock()
	_, active := b.wizards[userID]
	delete(b.wizards, userID)
	b.mu.Unlock()
	if active {
		b.reply(chatID, "Setup cancelled.")
	} else {
		b.reply(chatID, "Nothing to cancel.")
	}
}

func (b *Bot) wizardPickEdition(userID, chatID int64, edition domain.Edition) {
	if !edition.IsValid() {
		return
	}
	b.mu.Lock()
	b.wizards[userID] = &wizardState{edition: edition, step: stepName}
	b.mu.Unlock()
	b.reply(chatID, fmt.Sprintf("🤖 New *%s* bot.\n\n📝 Bot name (3-16 letters, digits, underscore) — this is also the in-game player name:", edition))
}

func (b *Bot) handleWizardInput(ctx context.Context, msg *tgbotapi.Message) {
	userID := msg.From.ID
	chatID := msg.Chat.ID

	b.mu.Lock()
	w := b.wizards[userID]
	b.mu.Unlock()
	if w == nil {
		return
	}
	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return
	}

	switch w.step {
	case stepName:
		if !domain.ValidBotName(text) {
			b.reply(chatID, "❌ Invalid name, 3-16 letters/digits/underscore. Try again:")
			return
		}
		w.name = text
		w.step = stepHost
		b.reply(chatID, "🌐 Server address (IP or hostname):")
	case stepHost:
		if !domain.ValidHost(text) {
			b.reply(chatID, "❌ Invalid address. Enter an IPv4 or hostname:")
			return
		}
		w.host = text
		w.step = stepPort
		b.reply(chatID, "🔌 Server port (1-65535):")
	case stepPort:
		port, err := strconv.Atoi(text)
		if err != nil || !domain.ValidPort(port) {
			b.reply(chatID, "❌ Invalid port. Enter a number between 1 and 65535:")
			return
		}
		w.port = port
		w.step = stepVersion
		b.reply(chatID, fmt.Sprintf("🧩 Protocol version (%s), or `-` for the default %s:",
			strings.Join(domain.SupportedVersions(w.edition), ", "), domain.DefaultVersion(w.edition)))
	case stepVersion:
		version := text
		if version == "-" {
			version = ""
		}
		if version != "" && !domain.ValidVersion(w.edition, version) {
			b.reply(chatID, "❌ Unsupported version. Pick one from the list or send `-`:")
			return
		}
		b.finishWizard(ctx, userID, chatID, w, version)
	}
}

func (b *Bot) finishWizard(ctx context.Context, userID, chatID int64, w *wizardState, version string) {
	b.mu.Lock()
	delete(b.wizards, userID)
	b.mu.Unlock()

	rec, err := b.mgr.CreateBot(ctx, userID, manager.CreateConfig{
		Name:            w.name,
		ServerHost:      w.host,
		ServerPort:      w.port,
		Edition:         w.edition,
		ProtocolVersion: version,
	})
	if err != nil {
		b.reply(chatID, userError(err))
		return
	}
	b.reply(chatID, fmt.Sprintf("✅ Bot created!\n\n🤖 *%s*\n🌐 `%s`\n🧩 %s %s\n\nStart it with /start\\_bot `%s`",
		rec.Name, rec.Addr(), rec.Edition, rec.ProtocolVersion, rec.Name))
}
