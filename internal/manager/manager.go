// Package manager owns the live bot sessions: it is the only component that
// touches the protocol adapters, and the single writer of bot status in the
// store. Front-ends (telegram, control plane) call into it; they never hold
// sessions themselves.
package manager

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/craftbot/gocraft/internal/domain"
	"github.com/craftbot/gocraft/internal/events"
	"github.com/craftbot/gocraft/internal/mcproto"
	"github.com/craftbot/gocraft/internal/metrics"
	"github.com/craftbot/gocraft/pkg/logger"
)

// Persistence is what the manager needs from the store. GetBot/GetBotByName
// return (nil, nil) when the record does not exist. Write failures on status
// and event-log paths are logged by the manager and never surfaced to users.
type Persistence interface {
	CreateBot(ctx context.Context, b domain.BotRecord) error
	GetBot(ctx context.Context, botID string) (*domain.BotRecord, error)
	GetBotByName(ctx context.Context, ownerID int64, name string) (*domain.BotRecord, error)
	ListBots(ctx context.Context, ownerID int64) ([]domain.BotRecord, error)
	CountBots(ctx context.Context, ownerID int64) (int, error)
	UpdateBotStatus(ctx context.Context, botID string, status domain.BotStatus, lastErr *string) error
	SetLastStartedAt(ctx context.Context, botID string, t time.Time) error
	DeleteBot(ctx context.Context, botID string) error
	AppendEvent(ctx context.Context, e domain.EventLogEntry) error
}

// Config 生命周期管理器配置
type Config struct {
	MaxBotsPerOwner int
	MaxTotalBots    int
	ConnectTimeout  time.Duration
	JavaPolicy      BackoffPolicy
	BedrockPolicy   BackoffPolicy
	Presence        bool
}

func DefaultConfig() Config {
	return Config{
		MaxBotsPerOwner: 10,
		MaxTotalBots:    1000,
		ConnectTimeout:  30 * time.Second,
		JavaPolicy:      DefaultJavaPolicy(),
		BedrockPolicy:   DefaultBedrockPolicy(),
		Presence:        true,
	}
}

// Manager is the lifecycle manager. One per process.
type Manager struct {
	cfg  Config
	db   Persistence
	dial mcproto.DialFunc

	mu       sync.Mutex // guards the maps below, never held across I/O
	sessions map[string]*session
	locks    map[string]*sync.Mutex
	subs     map[int]chan events.Event
	nextSub  int
	closed   bool
}

// New wires a manager. dial may be nil, in which case the real protocol
// adapters are used.
func New(cfg Config, db Persistence, dial mcproto.DialFunc) *Manager {
	if dial == nil {
		dial = mcproto.Dial
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 30 * time.Second
	}
	return &Manager{
		cfg:      cfg,
		db:       db,
		dial:     dial,
		sessions: make(map[string]*session),
		locks:    make(map[string]*sync.Mutex),
		subs:     make(map[int]chan events.Event),
	}
}

// botLock returns the per-bot mutex, creating it on first use. Operations on
// different bots never serialize against each other.
func (m *Manager) botLock(botID string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[botID]
	if !ok {
		l = &sync.Mutex{}
		m.locks[botID] = l
	}
	return l
}

// lookupSession requires the caller to hold the bot lock for botID.
func (m *Manager) lookupSession(botID string) *session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions[botID]
}

func (m *Manager) liveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, s := range m.sessions {
		if s.state.live() {
			n++
		}
	}
	return n
}

// CreateConfig 创建机器人的用户输入
type CreateConfig struct {
	Name            string
	ServerHost      string
	ServerPort      int
	Edition         domain.Edition
	ProtocolVersion string // empty = edition default
}

// CreateBot validates, applies quotas and persists a new stopped bot. Unlike
// the lifecycle paths, a store failure here is the operation failing and is
// returned to the caller.
func (m *Manager) CreateBot(ctx context.Context, ownerID int64, cc CreateConfig) (*domain.BotRecord, error) {
	if m.isClosed() {
		return nil, ErrClosed
	}
	version := strings.TrimSpace(cc.ProtocolVersion)
	if version == "" {
		version = domain.DefaultVersion(cc.Edition)
	}
	if err := domain.ValidateBotConfig(cc.Name, cc.ServerHost, cc.ServerPort, cc.Edition, version); err != nil {
		return nil, err
	}

	n, err := m.db.CountBots(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("count bots: %w", err)
	}
	if n >= m.cfg.MaxBotsPerOwner {
		return nil, ErrQuotaExceeded
	}
	if dup, err := m.db.GetBotByName(ctx, ownerID, cc.Name); err != nil {
		return nil, fmt.Errorf("check name: %w", err)
	} else if dup != nil {
		return nil, ErrDuplicateName
	}

	rec := domain.BotRecord{
		ID:              uuid.NewString(),
		OwnerID:         ownerID,
		Name:            cc.Name,
		ServerHost:      strings.TrimSpace(cc.ServerHost),
		ServerPort:      cc.ServerPort,
		Edition:         cc.Edition,
		ProtocolVersion: version,
		Status:          domain.StatusStopped,
		CreatedAt:       time.Now().UTC(),
	}
	if err := m.db.CreateBot(ctx, rec); err != nil {
		// 并发创建同名 bot 时唯一索引兜底
		if again, lookErr := m.db.GetBotByName(ctx, ownerID, cc.Name); lookErr == nil && again != nil {
			return nil, ErrDuplicateName
		}
		return nil, fmt.Errorf("create bot: %w", err)
	}
	logger.Infof("bot %s (%s) created: %s %s %s", rec.Name, rec.ID, rec.Edition, rec.Addr(), rec.ProtocolVersion)
	return &rec, nil
}

// StartBot begins a connection attempt. It returns as soon as the session is
// registered; connect progress arrives through the event stream. ownerID 0
// bypasses the ownership check (control plane).
func (m *Manager) StartBot(ctx context.Context, ownerID int64, botID string) error {
	if m.isClosed() {
		return ErrClosed
	}
	lock := m.botLock(botID)
	lock.Lock()
	defer lock.Unlock()

	rec, err := m.loadOwned(ctx, ownerID, botID)
	if err != nil {
		return err
	}

	s := m.lookupSession(botID)
	if s != nil && s.state.live() {
		return ErrAlreadyRunning
	}
	if m.liveCount() >= m.cfg.MaxTotalBots {
		return ErrSessionLimit
	}

	if s == nil {
		s = &session{}
		m.mu.Lock()
		if m.closed {
			m.mu.Unlock()
			return ErrClosed
		}
		m.sessions[botID] = s
		m.mu.Unlock()
	}
	s.rec = *rec
	s.policy = m.policyFor(rec.Edition)
	s.state = stateConnecting
	s.reconnectAttempts = 0
	s.gen++

	now := time.Now().UTC()
	m.persistStatus(botID, domain.StatusConnecting, nil)
	if err := m.db.SetLastStartedAt(ctx, botID, now); err != nil {
		logger.Warnf("persist last_started_at for bot %s: %v", botID, err)
	}
	m.appendEvent(rec, domain.EventStart, "start requested")
	metrics.SessionsStarted.Add(1)
	logger.Infof("bot %s (%s) starting: %s %s", rec.Name, botID, rec.Edition, rec.Addr())

	go m.runConnect(botID, true)
	return nil
}

// StopBot disconnects the bot and cancels any pending reconnect. Stopping a
// bot that is not running is not an error.
func (m *Manager) StopBot(ctx context.Context, ownerID int64, botID string) (alreadyStopped bool, err error) {
	lock := m.botLock(botID)
	lock.Lock()
	defer lock.Unlock()

	rec, err := m.loadOwned(ctx, ownerID, botID)
	if err != nil {
		return false, err
	}

	s := m.lookupSession(botID)
	if s == nil || !s.state.live() {
		// 幂等：未运行时也把状态归位
		if rec.Status != domain.StatusStopped {
			m.persistStatus(botID, domain.StatusStopped, nil)
		}
		return true, nil
	}

	s.terminate("stopped by user")
	m.persistStatus(botID, domain.StatusStopped, nil)
	m.appendEvent(rec, domain.EventStop, "stopped by user")
	m.emit(events.KindStopped, rec, "stopped by user", "")
	logger.Infof("bot %s (%s) stopped", rec.Name, botID)
	return false, nil
}

// DeleteBot stops the bot if needed and removes the record along with its
// event log.
func (m *Manager) DeleteBot(ctx context.Context, ownerID int64, botID string) error {
	lock := m.botLock(botID)
	lock.Lock()
	defer lock.Unlock()

	rec, err := m.loadOwned(ctx, ownerID, botID)
	if err != nil {
		return err
	}

	if s := m.lookupSession(botID); s != nil {
		s.terminate("bot deleted")
		m.emit(events.KindStopped, rec, "bot deleted", "")
	}
	m.mu.Lock()
	delete(m.sessions, botID)
	delete(m.locks, botID)
	m.mu.Unlock()

	if err := m.db.DeleteBot(ctx, botID); err != nil {
		return fmt.Errorf("delete bot: %w", err)
	}
	logger.Infof("bot %s (%s) deleted", rec.Name, botID)
	return nil
}

// SendMessage relays chat through a connected session.
func (m *Manager) SendMessage(ctx context.Context, ownerID int64, botID, text string) error {
	return m.withConnected(ctx, ownerID, botID, func(ad mcproto.Session) error {
		return ad.SendChat(text)
	})
}

// SendCommand relays a slash command. The leading slash is optional for the
// caller; adapters receive it normalized.
func (m *Manager) SendCommand(ctx context.Context, ownerID int64, botID, cmd string) error {
	cmd = strings.TrimSpace(cmd)
	if cmd == "" {
		return fmt.Errorf("empty command")
	}
	if !strings.HasPrefix(cmd, "/") {
		cmd = "/" + cmd
	}
	return m.withConnected(ctx, ownerID, botID, func(ad mcproto.Session) error {
		return ad.SendCommand(cmd)
	})
}

func (m *Manager) withConnected(ctx context.Context, ownerID int64, botID string, fn func(mcproto.Session) error) error {
	lock := m.botLock(botID)
	lock.Lock()
	defer lock.Unlock()

	if _, err := m.loadOwned(ctx, ownerID, botID); err != nil {
		return err
	}
	s := m.lookupSession(botID)
	if s == nil || s.state != stateConnected || s.adapter == nil {
		return ErrNotConnected
	}
	return fn(s.adapter)
}

// Status combines the persisted record with the live session view.
type Status struct {
	Record            domain.BotRecord `json:"record"`
	Connected         bool             `json:"connected"`
	ConnectedAt       *time.Time       `json:"connected_at,omitempty"`
	UptimeSeconds     int64            `json:"uptime_seconds"`
	ReconnectAttempts int              `json:"reconnect_attempts"`
}

func (m *Manager) GetStatus(ctx context.Context, ownerID int64, botID string) (*Status, error) {
	lock := m.botLock(botID)
	lock.Lock()
	defer lock.Unlock()

	rec, err := m.loadOwned(ctx, ownerID, botID)
	if err != nil {
		return nil, err
	}
	st := &Status{Record: *rec}
	if s := m.lookupSession(botID); s != nil {
		st.ReconnectAttempts = s.reconnectAttempts
		if s.state == stateConnected {
			st.Connected = true
			t := s.connectedAt
			st.ConnectedAt = &t
			st.UptimeSeconds = int64(time.Since(t).Seconds())
		}
	}
	return st, nil
}

// ListBotsForOwner is a read-through to the store.
func (m *Manager) ListBotsForOwner(ctx context.Context, ownerID int64) ([]domain.BotRecord, error) {
	return m.db.ListBots(ctx, ownerID)
}

// ResolveName maps an owner's bot name to its record. Chat front-ends address
// bots by name; everything else in the manager is keyed by id.
func (m *Manager) ResolveName(ctx context.Context, ownerID int64, name string) (*domain.BotRecord, error) {
	rec, err := m.db.GetBotByName(ctx, ownerID, name)
	if err != nil {
		return nil, fmt.Errorf("db get by name: %w", err)
	}
	if rec == nil {
		return nil, ErrBotNotFound
	}
	return rec, nil
}

// LiveSessions reports how many sessions are currently connecting, connected
// or waiting to reconnect.
func (m *Manager) LiveSessions() int { return m.liveCount() }

// Subscribe registers an event consumer. Slow consumers lose events rather
// than stalling the lifecycle paths. The returned func unsubscribes.
func (m *Manager) Subscribe() (<-chan events.Event, func()) {
	ch := make(chan events.Event, 64)
	m.mu.Lock()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = ch
	m.mu.Unlock()
	return ch, func() {
		m.mu.Lock()
		if _, ok := m.subs[id]; ok {
			delete(m.subs, id)
			close(ch)
		}
		m.mu.Unlock()
	}
}

// Shutdown stops every live session and marks the records stopped, so the
// persisted view is consistent when the process comes back.
func (m *Manager) Shutdown(ctx context.Context) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		lock := m.botLock(id)
		lock.Lock()
		if s := m.lookupSession(id); s != nil && s.state.live() {
			rec := s.rec
			s.terminate("manager shutdown")
			m.persistStatus(id, domain.StatusStopped, nil)
			m.appendEvent(&rec, domain.EventStop, "stopped on shutdown")
			logger.Infof("bot %s (%s) stopped on shutdown", rec.Name, id)
		}
		lock.Unlock()
	}

	m.mu.Lock()
	for id, ch := range m.subs {
		delete(m.subs, id)
		close(ch)
	}
	m.mu.Unlock()
}

func (m *Manager) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func (m *Manager) policyFor(e domain.Edition) BackoffPolicy {
	if e == domain.EditionBedrock {
		return m.cfg.BedrockPolicy
	}
	return m.cfg.JavaPolicy
}

// loadOwned fetches the record and enforces ownership. ownerID 0 is the
// control-plane bypass.
func (m *Manager) loadOwned(ctx context.Context, ownerID int64, botID string) (*domain.BotRecord, error) {
	rec, err := m.db.GetBot(ctx, botID)
	if err != nil {
		return nil, fmt.Errorf("db get: %w", err)
	}
	if rec == nil {
		return nil, ErrBotNotFound
	}
	if ownerID != 0 && rec.OwnerID != ownerID {
		return nil, ErrNotOwner
	}
	return rec, nil
}

// persistStatus mirrors session state into the record. Best-effort: a failed
// write is logged and the in-memory lifecycle carries on as the source of
// truth.
func (m *Manager) persistStatus(botID string, status domain.BotStatus, lastErr *string) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := m.db.UpdateBotStatus(ctx, botID, status, lastErr); err != nil {
		logger.Warnf("persist status %s for bot %s: %v", status, botID, err)
	}
}

func (m *Manager) appendEvent(rec *domain.BotRecord, et domain.EventType, msg string) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	err := m.db.AppendEvent(ctx, domain.EventLogEntry{
		BotID:     rec.ID,
		OwnerID:   rec.OwnerID,
		EventType: et,
		Message:   msg,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		logger.Warnf("append %s event for bot %s: %v", et, rec.ID, err)
	}
}

func (m *Manager) emit(kind events.Kind, rec *domain.BotRecord, msg, sender string) {
	ev := events.Event{
		Kind:      kind,
		BotID:     rec.ID,
		OwnerID:   rec.OwnerID,
		BotName:   rec.Name,
		Edition:   rec.Edition,
		Message:   msg,
		Sender:    sender,
		Timestamp: time.Now().UTC(),
	}
	metrics.EventsEmitted.Add(1)
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, ch := range m.subs {
		select {
		case ch <- ev:
		default:
			metrics.EventsDropped.Add(1)
			logger.Debugf("event subscriber %d full, dropping %s event", id, kind)
		}
	}
}
