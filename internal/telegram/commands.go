package telegram

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/craftbot/gocraft/internal/domain"
	"github.com/craftbot/gocraft/internal/manager"
	"github.com/craftbot/gocraft/internal/mcproto"
	"github.com/craftbot/gocraft/pkg/logger"
)

const opTimeout = 10 * time.Second

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	userID := msg.From.ID
	chatID := msg.Chat.ID
	args := strings.TrimSpace(msg.CommandArguments())

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	switch msg.Command() {
	case "start":
		b.cmdStart(chatID, msg.From)
	case "help":
		b.cmdHelp(chatID)
	case "create":
		b.cmdCreate(userID, chatID)
	case "cancel":
		b.cmdCancel(userID, chatID)
	case "list":
		b.cmdList(ctx, userID, chatID)
	case "status":
		b.cmdStatus(ctx, userID, chatID, args)
	case "start_bot":
		b.cmdStartBot(ctx, userID, chatID, args)
	case "stop":
		b.cmdStop(ctx, userID, chatID, args)
	case "delete":
		b.cmdDelete(ctx, userID, chatID, args)
	case "send":
		b.cmdSend(ctx, userID, chatID, args)
	case "command":
		b.cmdCommand(ctx, userID, chatID, args)
	case "ping":
		b.cmdPing(ctx, chatID, args)
	case "versions":
		b.cmdVersions(chatID, args)
	case "stats":
		b.cmdStats(ctx, userID, chatID)
	case "users":
		b.cmdUsers(ctx, userID, chatID)
	case "broadcast":
		b.cmdBroadcast(ctx, userID, chatID, args)
	default:
		b.reply(chatID, "Unknown command. Try /help.")
	}
}

func (b *Bot) cmdStart(chatID int64, from *tgbotapi.User) {
	name := from.UserName
	if name == "" {
		name = from.FirstName
	}
	logger.Infof("telegram user %s (%d) started", name, from.ID)
	b.reply(chatID, "🎮 *Minecraft bot manager*\n\n"+
		"Create and control automated players on Java and Bedrock servers.\n\n"+
		"/create — create a new bot\n"+
		"/list — your bots\n"+
		"/help — all commands")
}

func (b *Bot) cmdHelp(chatID int64) {
	b.reply(chatID, "*Commands*\n\n"+
		"/create — create a bot (guided)\n"+
		"/cancel — abort the guided setup\n"+
		"/list — your bots with quick actions\n"+
		"/status `<name>` — detailed bot status\n"+
		"/start\\_bot `<name>` — connect a bot\n"+
		"/stop `<name>` — disconnect a bot\n"+
		"/delete `<name>` — remove a bot\n"+
		"/send `<name> <text>` — chat through the bot\n"+
		"/command `<name> <cmd>` — run a slash command\n"+
		"/ping `<host> <port> [edition]` — probe a server\n"+
		"/versions `[edition]` — supported versions")
}

func (b *Bot) cmdList(ctx context.Context, userID, chatID int64) {
	bots, err := b.mgr.ListBotsForOwner(ctx, userID)
	if err != nil {
		b.reply(chatID, userError(err))
		return
	}
	if len(bots) == 0 {
		b.reply(chatID, "📭 No bots yet. Use /create to make one.")
		return
	}
	var sb strings.Builder
	sb.WriteString("🤖 *Your bots*\n\n")
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(bots))
	for i, bot := range bots {
		fmt.Fprintf(&sb, "%d. %s *%s*  `%s`  (%s %s)\n",
			i+1, statusIcon(bot.Status), bot.Name, bot.Addr(), bot.Edition, bot.ProtocolVersion)
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("▶️ "+bot.Name, "bot:start:"+bot.ID),
			tgbotapi.NewInlineKeyboardButtonData("⏹ "+bot.Name, "bot:stop:"+bot.ID),
			tgbotapi.NewInlineKeyboardButtonData("🗑 "+bot.Name, "bot:delete:"+bot.ID),
		))
	}
	b.replyWithKeyboard(chatID, sb.String(), tgbotapi.NewInlineKeyboardMarkup(rows...))
}

func (b *Bot) cmdStatus(ctx context.Context, userID, chatID int64, name string) {
	if name == "" {
		b.cmdList(ctx, userID, chatID)
		return
	}
	rec, err := b.mgr.ResolveName(ctx, userID, name)
	if err != nil {
		b.reply(chatID, userError(err))
		return
	}
	st, err := b.mgr.GetStatus(ctx, userID, rec.ID)
	if err != nil {
		b.reply(chatID, userError(err))
		return
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "🤖 *%s*\n", rec.Name)
	fmt.Fprintf(&sb, "%s %s\n", statusIcon(st.Record.Status), st.Record.Status)
	fmt.Fprintf(&sb, "🌐 `%s` (%s %s)\n", rec.Addr(), rec.Edition, rec.ProtocolVersion)
	if st.Connected {
		fmt.Fprintf(&sb, "⏱ up %s\n", (time.Duration(st.UptimeSeconds) * time.Second).String())
	}
	if st.ReconnectAttempts > 0 {
		fmt.Fprintf(&sb, "🔁 reconnect attempt %d\n", st.ReconnectAttempts)
	}
	if st.Record.LastError != nil {
		fmt.Fprintf(&sb, "⚠️ %s\n", *st.Record.LastError)
	}
	b.reply(chatID, sb.String())
}

func (b *Bot) cmdStartBot(ctx context.Context, userID, chatID int64, name string) {
	if name == "" {
		b.reply(chatID, "Usage: /start\\_bot `<name>`")
		return
	}
	rec, err := b.mgr.ResolveName(ctx, userID, name)
	if err != nil {
		b.reply(chatID, userError(err))
		return
	}
	if err := b.mgr.StartBot(ctx, userID, rec.ID); err != nil {
		b.reply(chatID, userError(err))
		return
	}
	b.reply(chatID, fmt.Sprintf("▶️ *%s* is connecting to `%s`...", rec.Name, rec.Addr()))
}

func (b *Bot) cmdStop(ctx context.Context, userID, chatID int64, name string) {
	if name == "" {
		b.reply(chatID, "Usage: /stop `<name>`")
		return
	}
	rec, err := b.mgr.ResolveName(ctx, userID, name)
	if err != nil {
		b.reply(chatID, userError(err))
		return
	}
	already, err := b.mgr.StopBot(ctx, userID, rec.ID)
	if err != nil {
		b.reply(chatID, userError(err))
		return
	}
	if already {
		b.reply(chatID, fmt.Sprintf("*%s* was not running.", rec.Name))
		return
	}
	b.reply(chatID, fmt.Sprintf("⏹ *%s* stopped.", rec.Name))
}

func (b *Bot) cmdDelete(ctx context.Context, userID, chatID int64, name string) {
	if name == "" {
		b.reply(chatID, "Usage: /delete `<name>`")
		return
	}
	rec, err := b.mgr.ResolveName(ctx, userID, name)
	if err != nil {
		b.reply(chatID, userError(err))
		return
	}
	kb := tgbotapi.NewInlineKeyboardMarkup(tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonData("Yes, delete", "bot:delete:"+rec.ID),
		tgbotapi.NewInlineKeyboardButtonData("Cancel", "bot:noop:"+rec.ID),
	))
	b.replyWithKeyboard(chatID, fmt.Sprintf("Delete *%s* and its history?", rec.Name), kb)
}

func (b *Bot) cmdSend(ctx context.Context, userID, chatID int64, args string) {
	name, rest, ok := splitArg(args)
	if !ok {
		b.reply(chatID, "Usage: /send `<name> <message>`")
		return
	}
	rec, err := b.mgr.ResolveName(ctx, userID, name)
	if err != nil {
		b.reply(chatID, userError(err))
		return
	}
	if err := b.mgr.SendMessage(ctx, userID, rec.ID, rest); err != nil {
		b.reply(chatID, userError(err))
		return
	}
	b.reply(chatID, "📤 Sent.")
}

func (b *Bot) cmdCommand(ctx context.Context, userID, chatID int64, args string) {
	name, rest, ok := splitArg(args)
	if !ok {
		b.reply(chatID, "Usage: /command `<name> <command>`")
		return
	}
	rec, err := b.mgr.ResolveName(ctx, userID, name)
	if err != nil {
		b.reply(chatID, userError(err))
		return
	}
	if err := b.mgr.SendCommand(ctx, userID, rec.ID, rest); err != nil {
		b.reply(chatID, userError(err))
		return
	}
	b.reply(chatID, "⚡ Executed.")
}

func (b *Bot) cmdPing(ctx context.Context, chatID int64, args string) {
	parts := strings.Fields(args)
	if len(parts) < 2 {
		b.reply(chatID, "Usage: /ping `<host> <port> [java|bedrock]`")
		return
	}
	port, err := strconv.Atoi(parts[1])
	if err != nil || !domain.ValidPort(port) || !domain.ValidHost(parts[0]) {
		b.reply(chatID, "❌ Invalid host or port.")
		return
	}
	edition := domain.EditionJava
	if len(parts) >= 3 {
		edition = domain.Edition(strings.ToLower(parts[2]))
		if !edition.IsValid() {
			b.reply(chatID, "❌ Edition must be `java` or `bedrock`.")
			return
		}
	}
	res := mcproto.Probe(ctx, parts[0], port, edition, mcproto.DefaultProbeTimeout)
	if res.Online {
		b.reply(chatID, fmt.Sprintf("🟢 `%s:%d` (%s) is reachable, %d ms", parts[0], port, edition, res.RTTMs))
		return
	}
	b.reply(chatID, fmt.Sprintf("🔴 `%s:%d` (%s) unreachable: %s", parts[0], port, edition, res.Error))
}

func (b *Bot) cmdVersions(chatID int64, args string) {
	show := func(e domain.Edition) string {
		vs := domain.SupportedVersions(e)
		return fmt.Sprintf("*%s*: %s (default %s)", e, strings.Join(vs, ", "), domain.DefaultVersion(e))
	}
	if args != "" {
		e := domain.Edition(strings.ToLower(args))
		if !e.IsValid() {
			b.reply(chatID, "❌ Edition must be `java` or `bedrock`.")
			return
		}
		b.reply(chatID, show(e))
		return
	}
	b.reply(chatID, show(domain.EditionJava)+"\n"+show(domain.EditionBedrock))
}

func (b *Bot) cmdStats(ctx context.Context, userID, chatID int64) {
	if !b.isAdmin(userID) {
		b.reply(chatID, "❌ Admins only.")
		return
	}
	dbOK := "ok"
	if err := b.db.Ping(ctx); err != nil {
		dbOK = "down: " + err.Error()
	}
	b.reply(chatID, fmt.Sprintf("📊 *System stats*\n\n"+
		"live sessions: %d\ndatabase: %s\nuptime: %s",
		b.mgr.LiveSessions(), dbOK, time.Since(b.startedAt).Round(time.Second)))
}

func (b *Bot) cmdUsers(ctx context.Context, userID, chatID int64) {
	if !b.isAdmin(userID) {
		b.reply(chatID, "❌ Admins only.")
		return
	}
	owners, err := b.db.ListOwners(ctx)
	if err != nil {
		logger.Errorf("list owners: %v", err)
		b.reply(chatID, "❌ Something went wrong. Try again.")
		return
	}
	if len(owners) == 0 {
		b.reply(chatID, "👥 No users yet.")
		return
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "👥 *Users* (%d)\n\n", len(owners))
	for _, o := range owners {
		fmt.Fprintf(&sb, "`%d` — %d bot(s)\n", o.OwnerID, o.Bots)
	}
	b.reply(chatID, sb.String())
}

func (b *Bot) cmdBroadcast(ctx context.Context, userID, chatID int64, args string) {
	if !b.isAdmin(userID) {
		b.reply(chatID, "❌ Admins only.")
		return
	}
	if args == "" {
		b.reply(chatID, "Usage: /broadcast <message>")
		return
	}
	owners, err := b.db.ListOwners(ctx)
	if err != nil {
		logger.Errorf("list owners: %v", err)
		b.reply(chatID, "❌ Something went wrong. Try again.")
		return
	}
	sent := 0
	for _, o := range owners {
		// owner ids are private chat ids; skip the sender's own chat
		if o.OwnerID == chatID {
			continue
		}
		b.reply(o.OwnerID, "📢 "+args)
		sent++
	}
	b.reply(chatID, fmt.Sprintf("📢 Broadcast sent to %d user(s).", sent))
}

func (b *Bot) handleCallback(ctx context.Context, q *tgbotapi.CallbackQuery) {
	userID := q.From.ID
	chatID := q.Message.Chat.ID
	data := q.Data

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if edition, ok := strings.CutPrefix(data, "create:"); ok {
		b.answerCallback(q.ID, "")
		b.wizardPickEdition(userID, chatID, domain.Edition(edition))
		return
	}

	parts := strings.SplitN(data, ":", 3)
	if len(parts) != 3 || parts[0] != "bot" {
		b.answerCallback(q.ID, "")
		return
	}
	action, botID := parts[1], parts[2]
	switch action {
	case "start":
		if err := b.mgr.StartBot(ctx, userID, botID); err != nil {
			b.answerCallback(q.ID, "")
			b.reply(chatID, userError(err))
			return
		}
		b.answerCallback(q.ID, "connecting")
	case "stop":
		if _, err := b.mgr.StopBot(ctx, userID, botID); err != nil {
			b.answerCallback(q.ID, "")
			b.reply(chatID, userError(err))
			return
		}
		b.answerCallback(q.ID, "stopped")
	case "delete":
		if err := b.mgr.DeleteBot(ctx, userID, botID); err != nil {
			b.answerCallback(q.ID, "")
			b.reply(chatID, userError(err))
			return
		}
		b.answerCallback(q.ID, "deleted")
		b.reply(chatID, "🗑 Bot deleted.")
	case "noop":
		b.answerCallback(q.ID, "cancelled")
	default:
		b.answerCallback(q.ID, "")
	}
}

// splitArg splits "<name> <rest...>" and requires both parts.
func splitArg(args string) (name, rest string, ok bool) {
	args = strings.TrimSpace(args)
	i := strings.IndexAny(args, " \t")
	if i < 0 {
		return "", "", false
	}
	name = args[:i]
	rest = strings.TrimSpace(args[i:])
	return name, rest, name != "" && rest != ""
}

func statusIcon(st domain.BotStatus) string {
	switch st {
	case domain.StatusRunning:
		return "🟢"
	case domain.StatusConnecting:
		return "🟡"
	case domain.StatusError:
		return "❌"
	default:
		return "🔴"
	}
}

// userError turns lifecycle errors into chat-friendly text.
func userError(err error) string {
	switch {
	case errors.Is(err, manager.ErrBotNotFound):
		return "❌ No such bot. Check /list."
	case errors.Is(err, manager.ErrNotOwner):
		return "❌ That bot belongs to someone else."
	case errors.Is(err, manager.ErrAlreadyRunning):
		return "⚠️ That bot is already running."
	case errors.Is(err, manager.ErrNotConnected):
		return "⚠️ That bot is not connected. Start it first."
	case errors.Is(err, manager.ErrQuotaExceeded):
		return "❌ You reached your bot limit. Delete one first."
	case errors.Is(err, manager.ErrDuplicateName):
		return "❌ You already have a bot with that name."
	case errors.Is(err, manager.ErrSessionLimit):
		return "❌ The system is at capacity right now. Try later."
	case errors.Is(err, domain.ErrInvalidConfig):
		return "❌ " + err.Error()
	default:
		logger.Errorf("telegram op failed: %v", err)
		return "❌ Something went wrong. Try again."
	}
}
