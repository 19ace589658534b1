package domain

import (
	"time"
)

// Edition Minecraft 协议族（Java 为 TCP 流协议，Bedrock 为 UDP/RakNet 协议）
type Edition string

const (
	EditionJava    Edition = "java"
	EditionBedrock Edition = "bedrock"
)

// IsValid 验证协议族是否受支持
func (e Edition) IsValid() bool {
	return e == EditionJava || e == EditionBedrock
}

// BotStatus 机器人持久化状态
// 注意：数据库中的 status 只是活动会话状态的最终一致镜像，不用于并发控制
type BotStatus string

const (
	StatusStopped    BotStatus = "stopped"
	StatusConnecting BotStatus = "connecting"
	StatusRunning    BotStatus = "running"
	StatusError      BotStatus = "error"
)

// BotRecord 机器人配置与状态的持久化记录
type BotRecord struct {
	ID              string     `json:"id"`
	OwnerID         int64      `json:"owner_id"` // Telegram 用户 ID
	Name            string     `json:"name"`     // 3-16 字符，字母数字下划线
	ServerHost      string     `json:"server_host"`
	ServerPort      int        `json:"server_port"`
	Edition         Edition    `json:"edition"`
	ProtocolVersion string     `json:"protocol_version"`
	Status          BotStatus  `json:"status"`
	LastError       *string    `json:"last_error,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	LastStartedAt   *time.Time `json:"last_started_at,omitempty"`
}

// Addr 返回 host:port 形式的服务器地址
func (b *BotRecord) Addr() string {
	return JoinHostPort(b.ServerHost, b.ServerPort)
}

// EventType 事件日志类型
type EventType string

const (
	EventStart         EventType = "start"
	EventStop          EventType = "stop"
	EventConnect       EventType = "connect"
	EventSpawn         EventType = "spawn"
	EventDisconnect    EventType = "disconnect"
	EventError         EventType = "error"
	EventServerMessage EventType = "server_message"
)

// EventLogEntry 追加式事件日志记录（只增不改）
type EventLogEntry struct {
	BotID     string    `json:"bot_id"`
	OwnerID   int64     `json:"owner_id"`
	EventType EventType `json:"event_type"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}
