package events

import (
	"time"

	"github.com/craftbot/gocraft/internal/domain"
)

// Kind 事件类型
type Kind string

const (
	KindConnected    Kind = "connected"
	KindDisconnected Kind = "disconnected"
	KindError        Kind = "error"
	KindChat         Kind = "chat"
	KindStopped      Kind = "stopped"
)

// Event 生命周期管理器推送给前端的事件
type Event struct {
	Kind      Kind           `json:"kind"`
	BotID     string         `json:"bot_id"`
	OwnerID   int64          `json:"owner_id"`
	BotName   string         `json:"bot_name"`
	Edition   domain.Edition `json:"edition"`
	Message   string         `json:"message,omitempty"`
	Sender    string         `json:"sender,omitempty"` // 仅 chat 事件
	Timestamp time.Time      `json:"timestamp"`
}
