package mcproto

import (
	"context"
	"fmt"

	"github.com/craftbot/gocraft/internal/domain"
)

// Config carries everything a concrete adapter needs to establish a session.
type Config struct {
	Host            string
	Port            int
	PlayerName      string
	ProtocolVersion string
	Edition         domain.Edition

	// Presence enables the cosmetic post-spawn behavior: a single arm swing
	// shortly after spawn plus a templated greeting reply when greeted.
	Presence bool
}

func (c Config) Addr() string {
	return domain.JoinHostPort(c.Host, c.Port)
}

// Events is the uniform notification surface. All callbacks are optional and
// fire at most once each per session, except ChatReceived and ServerMessage.
// Self-originated chat is filtered by the adapter and never surfaced.
type Events struct {
	// Disconnected fires when the remote ends the session (kick, close, ban).
	Disconnected func(reason string)
	// Errored fires on a transport-level failure after a successful connect.
	Errored func(err error)
	// ChatReceived fires for chat from other players. Sender may be empty when
	// the underlying protocol does not carry it separately.
	ChatReceived func(sender, text string)
	// ServerMessage fires for whitelist/ban/kick-class system messages.
	ServerMessage func(text string)
}

// Session is a live protocol connection. Implementations are safe for
// concurrent use; Disconnect is idempotent and always safe to call.
type Session interface {
	SendChat(text string) error
	SendCommand(cmd string) error
	Disconnect(reason string)
}

// DialFunc connects, authenticates (offline mode) and waits for spawn. It
// returns exactly one of a live Session or an error, within ctx's deadline.
// Injectable so the lifecycle manager can be tested without a real server.
type DialFunc func(ctx context.Context, cfg Config, ev Events) (Session, error)

// Dial selects the concrete adapter from the edition. The edition branch
// happens here, once per session, never inside shared logic.
func Dial(ctx context.Context, cfg Config, ev Events) (Session, error) {
	switch cfg.Edition {
	case domain.EditionJava:
		return dialJava(ctx, cfg, ev)
	case domain.EditionBedrock:
		return dialBedrock(ctx, cfg, ev)
	default:
		return nil, fmt.Errorf("unsupported edition %q", cfg.Edition)
	}
}
