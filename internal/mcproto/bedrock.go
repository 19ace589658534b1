package mcproto

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sandertv/gophertunnel/minecraft"
	"github.com/sandertv/gophertunnel/minecraft/protocol"
	"github.com/sandertv/gophertunnel/minecraft/protocol/login"
	"github.com/sandertv/gophertunnel/minecraft/protocol/packet"

	"github.com/craftbot/gocraft/pkg/logger"
)

// bedrockSession drives one offline-mode Bedrock Edition connection through
// gophertunnel. The read loop owns the connection until Disconnect.
type bedrockSession struct {
	conn  *minecraft.Conn
	name  string
	xuid  string
	ev    Events
	cfg   Config
	once  sync.Once
	ended atomic.Bool
}

func dialBedrock(ctx context.Context, cfg Config, ev Events) (Session, error) {
	d := minecraft.Dialer{
		ClientData:   login.ClientData{DeviceOS: protocol.DeviceAndroid, GameVersion: cfg.ProtocolVersion},
		IdentityData: login.IdentityData{DisplayName: cfg.PlayerName},
		ErrorLog:     nil,
	}
	conn, err := d.DialContext(ctx, "raknet", cfg.Addr())
	if err != nil {
		return nil, err
	}
	if err := conn.DoSpawnContext(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("spawn: %w", err)
	}

	s := &bedrockSession{
		conn: conn,
		name: cfg.PlayerName,
		xuid: conn.IdentityData().XUID,
		ev:   ev,
		cfg:  cfg,
	}
	go s.readLoop()
	if cfg.Presence {
		go s.postSpawnPresence()
	}
	return s, nil
}

func (s *bedrockSession) readLoop() {
	for {
		pkt, err := s.conn.ReadPacket()
		if err != nil {
			if s.ended.Load() {
				return
			}
			s.ended.Store(true)
			s.deliverEnd(err)
			return
		}
		switch p := pkt.(type) {
		case *packet.Text:
			s.onText(p)
		case *packet.Disconnect:
			if !s.ended.Load() {
				s.ended.Store(true)
				if s.ev.Disconnected != nil {
					s.ev.Disconnected(p.Message)
				}
			}
			return
		}
	}
}

// deliverEnd classifies a read-loop failure into disconnect vs error. A server
// kick travels as a DisconnectError with the human-readable reason.
func (s *bedrockSession) deliverEnd(err error) {
	var disc minecraft.DisconnectError
	if errors.As(err, &disc) {
		if s.ev.Disconnected != nil {
			s.ev.Disconnected(disc.Error())
		}
		return
	}
	var netErr net.Error
	if errors.As(err, &netErr) || strings.Contains(err.Error(), "closed") {
		if s.ev.Disconnected != nil {
			s.ev.Disconnected(err.Error())
		}
		return
	}
	if s.ev.Errored != nil {
		s.ev.Errored(err)
	}
}

func (s *bedrockSession) onText(p *packet.Text) {
	if p.TextType != packet.TextTypeChat {
		// whitelist/ban notices arrive as system or translation text
		if p.TextType == packet.TextTypeSystem || p.TextType == packet.TextTypeTranslation {
			lower := strings.ToLower(p.Message)
			if strings.Contains(lower, "whitelist") || strings.Contains(lower, "banned") || strings.Contains(lower, "kick") {
				if s.ev.ServerMessage != nil {
					s.ev.ServerMessage(p.Message)
				}
			}
		}
		return
	}
	if p.SourceName == s.name {
		return // never surface our own chat
	}
	if s.ev.ChatReceived != nil {
		s.ev.ChatReceived(p.SourceName, p.Message)
	}
	s.maybeGreet(p.SourceName, p.Message)
}

func (s *bedrockSession) SendChat(text string) error {
	if s.ended.Load() {
		return fmt.Errorf("not connected")
	}
	return s.conn.WritePacket(&packet.Text{
		TextType:   packet.TextTypeChat,
		SourceName: s.name,
		Message:    text,
		XUID:       s.xuid,
	})
}

func (s *bedrockSession) SendCommand(cmd string) error {
	if s.ended.Load() {
		return fmt.Errorf("not connected")
	}
	if !strings.HasPrefix(cmd, "/") {
		cmd = "/" + cmd
	}
	return s.conn.WritePacket(&packet.CommandRequest{
		CommandLine: cmd,
		CommandOrigin: protocol.CommandOrigin{
			Origin:    protocol.CommandOriginPlayer,
			UUID:      uuid.New(),
			RequestID: uuid.New().String(),
		},
	})
}

func (s *bedrockSession) Disconnect(reason string) {
	s.once.Do(func() {
		s.ended.Store(true)
		_ = s.conn.Close()
		logger.Debugf("bedrock session %s closed: %s", s.name, reason)
	})
}

func (s *bedrockSession) postSpawnPresence() {
	time.Sleep(3 * time.Second)
	if s.ended.Load() {
		return
	}
	_ = s.conn.WritePacket(&packet.Animate{
		ActionType:      packet.AnimateActionSwingArm,
		EntityRuntimeID: s.conn.GameData().EntityRuntimeID,
	})
}

func (s *bedrockSession) maybeGreet(sender, text string) {
	if !s.cfg.Presence || sender == "" {
		return
	}
	lower := strings.ToLower(text)
	if !strings.Contains(lower, "hello") && !strings.Contains(lower, "hi ") && lower != "hi" {
		return
	}
	delay := time.Duration(2000+rand.Intn(4000)) * time.Millisecond
	go func() {
		time.Sleep(delay)
		if !s.ended.Load() {
			_ = s.SendChat(fmt.Sprintf("hi %s", sender))
		}
	}()
}
