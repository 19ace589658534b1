package mcproto

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Tnze/go-mc/bot"
	"github.com/Tnze/go-mc/bot/basic"
	"github.com/Tnze/go-mc/bot/msg"
	"github.com/Tnze/go-mc/bot/playerlist"
	"github.com/Tnze/go-mc/chat"
	"github.com/Tnze/go-mc/data/packetid"
	pk "github.com/Tnze/go-mc/net/packet"

	"github.com/craftbot/gocraft/pkg/logger"
	"github.com/craftbot/gocraft/pkg/sigchan"
)

// javaSession drives one offline-mode Java Edition connection through go-mc.
// The packet pump runs in its own goroutine; events are delivered from there.
type javaSession struct {
	c     *bot.Client
	chat  *msg.Manager
	name  string
	ev    Events
	cfg   Config
	wmu   sync.Mutex // serializes raw packet writes
	once  sync.Once  // disconnect
	ended atomic.Bool

	kickMu     sync.Mutex
	kickReason string
}

func dialJava(ctx context.Context, cfg Config, ev Events) (Session, error) {
	s := &javaSession{name: cfg.PlayerName, ev: ev, cfg: cfg}

	c := bot.NewClient()
	c.Auth = bot.Auth{Name: cfg.PlayerName}
	s.c = c

	spawned := sigchan.New(1)
	player := basic.NewPlayer(c, basic.DefaultSettings, basic.EventsListener{
		GameStart: func() error {
			spawned.Emit()
			return nil
		},
		Disconnect: func(reason chat.Message) error {
			s.setKickReason(reason.ClearString())
			return nil
		},
	})
	s.chat = msg.New(c, player, playerlist.New(c), msg.EventsHandler{
		PlayerChatMessage: func(m chat.Message, _ bool) error {
			s.onChatLine(m.ClearString())
			return nil
		},
		SystemChat: func(m chat.Message, overlay bool) error {
			if !overlay {
				s.onSystemLine(m.ClearString())
			}
			return nil
		},
	})

	// handshake + login; abort via Close when the caller's deadline passes
	joinErr := make(chan error, 1)
	go func() { joinErr <- c.JoinServer(cfg.Addr()) }()
	select {
	case err := <-joinErr:
		if err != nil {
			return nil, err
		}
	case <-ctx.Done():
		_ = c.Close()
		return nil, fmt.Errorf("connect timeout: %w", ctx.Err())
	}

	// pump the game until spawn confirms the session
	gameErr := make(chan error, 1)
	go func() { gameErr <- c.HandleGame() }()
	select {
	case <-spawned.C():
	case err := <-gameErr:
		_ = c.Close()
		if err == nil {
			err = fmt.Errorf("connection closed before spawn")
		}
		if r := s.takeKickReason(); r != "" {
			err = fmt.Errorf("%s", r)
		}
		return nil, err
	case <-ctx.Done():
		_ = c.Close()
		return nil, fmt.Errorf("connect timeout: %w", ctx.Err())
	}

	// session established; route the eventual HandleGame exit to the caller
	go s.watch(gameErr)
	if cfg.Presence {
		go s.postSpawnPresence()
	}
	return s, nil
}

func (s *javaSession) watch(gameErr <-chan error) {
	err := <-gameErr
	if s.ended.Load() {
		return // caller-initiated disconnect, already surfaced
	}
	s.ended.Store(true)
	if reason := s.takeKickReason(); reason != "" {
		if s.ev.Disconnected != nil {
			s.ev.Disconnected(reason)
		}
		return
	}
	if err != nil {
		if s.ev.Errored != nil {
			s.ev.Errored(err)
		}
		return
	}
	if s.ev.Disconnected != nil {
		s.ev.Disconnected("connection closed")
	}
}

func (s *javaSession) SendChat(text string) error {
	if s.ended.Load() {
		return fmt.Errorf("not connected")
	}
	return s.chat.SendMessage(text)
}

func (s *javaSession) SendCommand(cmd string) error {
	if s.ended.Load() {
		return fmt.Errorf("not connected")
	}
	cmd = strings.TrimPrefix(cmd, "/")
	s.wmu.Lock()
	defer s.wmu.Unlock()
	return s.c.Conn.WritePacket(pk.Marshal(
		packetid.ServerboundChatCommand,
		pk.String(cmd),
	))
}

func (s *javaSession) Disconnect(reason string) {
	s.once.Do(func() {
		s.ended.Store(true)
		_ = s.c.Close()
		logger.Debugf("java session %s closed: %s", s.name, reason)
	})
}

// onChatLine handles a player chat line. go-mc hands us the rendered text, so
// the sender is recovered from the common "<name> text" shape when present.
func (s *javaSession) onChatLine(line string) {
	sender, text := splitChatLine(line)
	if strings.EqualFold(sender, s.name) {
		return // never surface our own chat
	}
	if s.ev.ChatReceived != nil {
		s.ev.ChatReceived(sender, text)
	}
	s.maybeGreet(sender, text)
}

func (s *javaSession) onSystemLine(line string) {
	lower := strings.ToLower(line)
	if strings.Contains(lower, "whitelist") || strings.Contains(lower, "banned") || strings.Contains(lower, "kick") {
		if s.ev.ServerMessage != nil {
			s.ev.ServerMessage(line)
		}
	}
}

// postSpawnPresence performs a single arm swing a few seconds after spawn so
// the bot reads as a player rather than an idle ghost.
func (s *javaSession) postSpawnPresence() {
	time.Sleep(3 * time.Second)
	if s.ended.Load() {
		return
	}
	s.wmu.Lock()
	defer s.wmu.Unlock()
	_ = s.c.Conn.WritePacket(pk.Marshal(
		packetid.ServerboundSwing,
		pk.VarInt(0), // main hand
	))
}

func (s *javaSession) maybeGreet(sender, text string) {
	if !s.cfg.Presence || sender == "" {
		return
	}
	lower := strings.ToLower(text)
	if !strings.Contains(lower, "hello") && !strings.Contains(lower, "hi ") && lower != "hi" {
		return
	}
	// 1-4s 随机延迟，模拟真人反应
	delay := time.Duration(1000+rand.Intn(3000)) * time.Millisecond
	go func() {
		time.Sleep(delay)
		if !s.ended.Load() {
			_ = s.SendChat(fmt.Sprintf("hi %s", sender))
		}
	}()
}

func (s *javaSession) setKickReason(reason string) {
	s.kickMu.Lock()
	defer s.kickMu.Unlock()
	if s.kickReason == "" {
		s.kickReason = reason
	}
}

func (s *javaSession) takeKickReason() string {
	s.kickMu.Lock()
	defer s.kickMu.Unlock()
	return s.kickReason
}

// splitChatLine parses "<name> text" / "name: text" chat renderings. Falls
// back to an empty sender when the shape is unknown.
func splitChatLine(line string) (sender, text string) {
	if strings.HasPrefix(line, "<") {
		if i := strings.Index(line, "> "); i > 1 {
			return line[1:i], line[i+2:]
		}
	}
	if i := strings.Index(line, ": "); i > 0 && !strings.ContainsAny(line[:i], " ") {
		return line[:i], line[i+2:]
	}
	return "", line
}
