package telegram

import (
	"context"
	"fmt"
	"time"

	"github.com/craftbot/gocraft/internal/common"
	"github.com/craftbot/gocraft/internal/events"
)

// errorNotifyInterval caps how often a flapping bot's error notifications
// reach its owner. The event log in the store keeps every occurrence.
const errorNotifyInterval = 30 * time.Second

// NotifyLoop pushes lifecycle events to the owning user's chat. Runs as a
// goroutine next to Run; the Telegram chat id of a private chat equals the
// user id, so events are delivered without any chat registration step.
func (b *Bot) NotifyLoop(ctx context.Context, ch <-chan events.Event) {
	gates := make(map[string]*common.Debouncer)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if ev.Kind == events.KindError {
				gate := gates[ev.BotID]
				if gate == nil {
					gate = common.NewDebouncer(errorNotifyInterval)
					gates[ev.BotID] = gate
				}
				now := time.Now()
				if !gate.Ready(now) {
					continue
				}
				gate.Mark(now)
			}
			if text := formatEvent(ev); text != "" {
				b.reply(ev.OwnerID, text)
			}
		}
	}
}

func formatEvent(ev events.Event) string {
	switch ev.Kind {
	case events.KindConnected:
		return fmt.Sprintf("🟢 *%s* %s", ev.BotName, ev.Message)
	case events.KindDisconnected:
		return fmt.Sprintf("🔴 *%s* disconnected: %s", ev.BotName, ev.Message)
	case events.KindError:
		return fmt.Sprintf("❌ *%s*: %s", ev.BotName, ev.Message)
	case events.KindChat:
		if ev.Sender != "" {
			return fmt.Sprintf("💬 *%s* <%s> %s", ev.BotName, ev.Sender, ev.Message)
		}
		return fmt.Sprintf("💬 *%s* %s", ev.BotName, ev.Message)
	case events.KindStopped:
		// stop is always user-initiated, the command reply already covers it
		return ""
	default:
		return ""
	}
}
