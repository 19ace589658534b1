package manager

import (
	"context"
	"fmt"
	"time"

	"github.com/craftbot/gocraft/internal/domain"
	"github.com/craftbot/gocraft/internal/events"
	"github.com/craftbot/gocraft/internal/mcproto"
	"github.com/craftbot/gocraft/internal/metrics"
	"github.com/craftbot/gocraft/pkg/logger"
)

type sessionState int

const (
	// stateIdle: session object exists but no connection activity. Start is
	// allowed, the session is not counted against the global cap.
	stateIdle sessionState = iota
	stateConnecting
	stateConnected
	stateRetryWait
)

func (s sessionState) live() bool { return s != stateIdle }

// session is the in-memory side of one bot. All fields are guarded by the
// bot's per-id lock; the generation counter invalidates callbacks and timers
// that outlive the connection attempt they belong to.
type session struct {
	rec    domain.BotRecord
	policy BackoffPolicy

	state             sessionState
	adapter           mcproto.Session
	connectedAt       time.Time
	reconnectAttempts int
	gen               uint64
	retryTimer        *time.Timer
	cancelConnect     context.CancelFunc
}

// terminate tears down whatever connection activity the session has going.
// Caller holds the bot lock. The generation bump makes every in-flight dial,
// retry timer and adapter callback a no-op when it eventually fires.
func (s *session) terminate(reason string) {
	s.gen++
	if s.retryTimer != nil {
		s.retryTimer.Stop()
		s.retryTimer = nil
	}
	if s.cancelConnect != nil {
		s.cancelConnect()
		s.cancelConnect = nil
	}
	if s.adapter != nil {
		s.adapter.Disconnect(reason)
		s.adapter = nil
	}
	s.state = stateIdle
	s.reconnectAttempts = 0
}

// runConnect performs one connection attempt. It runs on its own goroutine
// and does NOT hold the bot lock while dialing; the generation check after
// the dial decides whether the result still matters.
func (m *Manager) runConnect(botID string, initial bool) {
	lock := m.botLock(botID)

	lock.Lock()
	s := m.lookupSession(botID)
	if s == nil || s.state != stateConnecting {
		lock.Unlock()
		return
	}
	s.gen++
	myGen := s.gen
	rec := s.rec
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.ConnectTimeout)
	s.cancelConnect = cancel
	ev := m.adapterEvents(botID, myGen)
	lock.Unlock()

	ad, err := m.dial(ctx, mcproto.Config{
		Host:            rec.ServerHost,
		Port:            rec.ServerPort,
		PlayerName:      rec.Name,
		ProtocolVersion: rec.ProtocolVersion,
		Edition:         rec.Edition,
		Presence:        m.cfg.Presence,
	}, ev)
	cancel()

	lock.Lock()
	defer lock.Unlock()

	s2 := m.lookupSession(botID)
	if s2 != s || s.gen != myGen {
		// 会话已被 stop/delete 取代，丢弃连接结果
		if ad != nil {
			ad.Disconnect("session superseded")
		}
		return
	}
	s.cancelConnect = nil

	if err != nil {
		metrics.ConnectFailures.Add(1)
		cls := Classify(err)
		logger.Warnf("bot %s (%s) connect failed: class=%s err=%v", rec.Name, botID, cls, err)
		if initial {
			// 用户显式触发的首次连接失败不重试，直接报错
			s.terminate("connect failed")
			m.markError(botID, &rec, cls, err)
			return
		}
		m.handleSessionLoss(s, cls, err.Error(), false)
		return
	}

	metrics.SessionsConnected.Add(1)
	s.adapter = ad
	s.state = stateConnected
	s.connectedAt = time.Now()
	s.reconnectAttempts = 0
	logger.Infof("bot %s (%s) connected to %s", rec.Name, botID, rec.Addr())

	m.persistStatus(botID, domain.StatusRunning, nil)
	m.appendEvent(&rec, domain.EventConnect, "connected to "+rec.Addr())
	m.appendEvent(&rec, domain.EventSpawn, "spawned in world")
	m.emit(events.KindConnected, &rec, "connected to "+rec.Addr(), "")
}

// handleSessionLoss runs after a mid-session disconnect/error or after a
// failed reconnect attempt. Caller holds the bot lock. It either schedules
// the next attempt or finalizes the session as errored.
func (m *Manager) handleSessionLoss(s *session, cls FailureClass, detail string, fromLive bool) {
	rec := s.rec
	if fromLive {
		// 断开已发生，先使旧适配器的一切回调失效
		s.gen++
		if s.adapter != nil {
			s.adapter.Disconnect("reconnecting")
			s.adapter = nil
		}
	}

	exhausted := s.reconnectAttempts >= s.policy.MaxAttempts
	if !cls.Retryable() || exhausted {
		s.terminate("giving up")
		why := cls.UserMessage()
		if exhausted && cls.Retryable() {
			why = fmt.Sprintf("gave up after %d reconnect attempts: %s", s.policy.MaxAttempts, cls.UserMessage())
		}
		logger.Errorf("bot %s (%s) session lost permanently: %s (%s)", rec.Name, rec.ID, why, detail)
		m.markErrorText(rec.ID, &rec, why, detail)
		return
	}

	s.reconnectAttempts++
	metrics.ReconnectAttempts.Add(1)
	delay := s.policy.Delay(s.reconnectAttempts)
	s.state = stateRetryWait
	logger.Infof("bot %s (%s) reconnect attempt %d/%d in %s (class=%s)",
		rec.Name, rec.ID, s.reconnectAttempts, s.policy.MaxAttempts, delay, cls)

	m.persistStatus(rec.ID, domain.StatusConnecting, nil)

	myGen := s.gen
	botID := rec.ID
	s.retryTimer = time.AfterFunc(delay, func() {
		lock := m.botLock(botID)
		lock.Lock()
		cur := m.lookupSession(botID)
		if cur != s || s.gen != myGen || s.state != stateRetryWait {
			lock.Unlock()
			return
		}
		s.retryTimer = nil
		s.state = stateConnecting
		lock.Unlock()
		m.runConnect(botID, false)
	})
}

// adapterEvents binds the mcproto callback surface to one (bot, generation)
// pair. Late callbacks from a superseded connection are dropped.
func (m *Manager) adapterEvents(botID string, gen uint64) mcproto.Events {
	return mcproto.Events{
		Disconnected: func(reason string) {
			m.onSessionEnd(botID, gen, reason, nil)
		},
		Errored: func(err error) {
			m.onSessionEnd(botID, gen, "", err)
		},
		ChatReceived: func(sender, text string) {
			m.onChat(botID, gen, sender, text)
		},
		ServerMessage: func(text string) {
			m.onServerMessage(botID, gen, text)
		},
	}
}

func (m *Manager) onSessionEnd(botID string, gen uint64, reason string, errCause error) {
	lock := m.botLock(botID)
	lock.Lock()
	defer lock.Unlock()

	s := m.lookupSession(botID)
	if s == nil || s.gen != gen || s.state != stateConnected {
		return
	}
	rec := s.rec

	var cls FailureClass
	var detail string
	if errCause != nil {
		cls = Classify(errCause)
		detail = errCause.Error()
		m.appendEvent(&rec, domain.EventError, detail)
		m.emit(events.KindError, &rec, detail, "")
	} else {
		cls = Classify(errTextual(reason))
		detail = reason
		if detail == "" {
			detail = "connection closed by server"
		}
		m.appendEvent(&rec, domain.EventDisconnect, detail)
		m.emit(events.KindDisconnected, &rec, detail, "")
	}
	logger.Warnf("bot %s (%s) lost session: %s", rec.Name, botID, detail)

	m.handleSessionLoss(s, cls, detail, true)
}

func (m *Manager) onChat(botID string, gen uint64, sender, text string) {
	lock := m.botLock(botID)
	lock.Lock()
	s := m.lookupSession(botID)
	if s == nil || s.gen != gen || s.state != stateConnected {
		lock.Unlock()
		return
	}
	rec := s.rec
	lock.Unlock()

	logger.Debugf("bot %s chat <%s> %s", rec.Name, sender, text)
	m.emit(events.KindChat, &rec, text, sender)
}

func (m *Manager) onServerMessage(botID string, gen uint64, text string) {
	lock := m.botLock(botID)
	lock.Lock()
	s := m.lookupSession(botID)
	if s == nil || s.gen != gen || s.state != stateConnected {
		lock.Unlock()
		return
	}
	rec := s.rec
	lock.Unlock()

	logger.Infof("bot %s server message: %s", rec.Name, text)
	m.appendEvent(&rec, domain.EventServerMessage, text)
}

// markError finalizes a failed session in the record and the event stream.
func (m *Manager) markError(botID string, rec *domain.BotRecord, cls FailureClass, cause error) {
	m.markErrorText(botID, rec, cls.UserMessage(), cause.Error())
}

func (m *Manager) markErrorText(botID string, rec *domain.BotRecord, userMsg, detail string) {
	metrics.SessionsErrored.Add(1)
	msg := userMsg
	m.persistStatus(botID, domain.StatusError, &msg)
	m.appendEvent(rec, domain.EventError, userMsg+": "+detail)
	m.emit(events.KindError, rec, userMsg, "")
}

type textualErr string

func (e textualErr) Error() string { return string(e) }

func errTextual(s string) error { return textualErr(s) }
