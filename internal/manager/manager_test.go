package manager

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/craftbot/gocraft/internal/domain"
	"github.com/craftbot/gocraft/internal/events"
	"github.com/craftbot/gocraft/internal/mcproto"
)

// fakeStore is an in-memory Persistence for lifecycle tests.
type fakeStore struct {
	mu     sync.Mutex
	bots   map[string]domain.BotRecord
	events []domain.EventLogEntry

	failStatusWrites bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{bots: make(map[string]domain.BotRecord)}
}

func (f *fakeStore) CreateBot(_ context.Context, b domain.BotRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, x := range f.bots {
		if x.OwnerID == b.OwnerID && x.Name == b.Name {
			return errors.New("UNIQUE constraint failed: bots.owner_id, bots.name")
		}
	}
	f.bots[b.ID] = b
	return nil
}

func (f *fakeStore) GetBot(_ context.Context, id string) (*domain.BotRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.bots[id]
	if !ok {
		return nil, nil
	}
	cp := b
	return &cp, nil
}

func (f *fakeStore) GetBotByName(_ context.Context, ownerID int64, name string) (*domain.BotRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, b := range f.bots {
		if b.OwnerID == ownerID && b.Name == name {
			cp := b
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) ListBots(_ context.Context, ownerID int64) ([]domain.BotRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.BotRecord
	for _, b := range f.bots {
		if b.OwnerID == ownerID {
			out = append(out, b)
		}
	}
	return out, nil
}

func (f *fakeStore) CountBots(_ context.Context, ownerID int64) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, b := range f.bots {
		if b.OwnerID == ownerID {
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) UpdateBotStatus(_ context.Context, id string, status domain.BotStatus, lastErr *string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failStatusWrites {
		return errors.New("disk full")
	}
	b, ok := f.bots[id]
	if !ok {
		return errors.New("no such bot")
	}
	b.Status = status
	b.LastError = lastErr
	f.bots[id] = b
	return nil
}

func (f *fakeStore) SetLastStartedAt(_ context.Context, id string, t time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.bots[id]
	if !ok {
		return errors.New("no such bot")
	}
	b.LastStartedAt = &t
	f.bots[id] = b
	return nil
}

func (f *fakeStore) DeleteBot(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.bots[id]; !ok {
		return errors.New("no such bot")
	}
	delete(f.bots, id)
	return nil
}

func (f *fakeStore) AppendEvent(_ context.Context, e domain.EventLogEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, e)
	return nil
}

func (f *fakeStore) status(id string) domain.BotStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.bots[id].Status
}

func (f *fakeStore) lastError(id string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if e := f.bots[id].LastError; e != nil {
		return *e
	}
	return ""
}

func (f *fakeStore) eventTypes(botID string) []domain.EventType {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.EventType
	for _, e := range f.events {
		if e.BotID == botID {
			out = append(out, e.EventType)
		}
	}
	return out
}

// fakeSession records what the manager sends through it.
type fakeSession struct {
	mu           sync.Mutex
	chats        []string
	cmds         []string
	disconnected bool
	reason       string
}

func (s *fakeSession) SendChat(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chats = append(s.chats, text)
	return nil
}

func (s *fakeSession) SendCommand(cmd string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cmds = append(s.cmds, cmd)
	return nil
}

func (s *fakeSession) Disconnect(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.disconnected = true
	s.reason = reason
}

func (s *fakeSession) isDisconnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.disconnected
}

// fakeDialer scripts the outcome of successive dial calls. An entry of nil
// means success; past the end of the script every call succeeds. When gate is
// set, every dial blocks on it until the test closes the channel.
type fakeDialer struct {
	mu       sync.Mutex
	script   []error
	calls    int
	sessions []*fakeSession
	events   []mcproto.Events
	gate     chan struct{}
}

func (d *fakeDialer) dial(_ context.Context, _ mcproto.Config, ev mcproto.Events) (mcproto.Session, error) {
	d.mu.Lock()
	idx := d.calls
	d.calls++
	gate := d.gate
	d.mu.Unlock()

	if gate != nil {
		<-gate
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if idx < len(d.script) && d.script[idx] != nil {
		return nil, d.script[idx]
	}
	s := &fakeSession{}
	d.sessions = append(d.sessions, s)
	d.events = append(d.events, ev)
	return s, nil
}

func (d *fakeDialer) callCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

func (d *fakeDialer) lastSession() *fakeSession {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.sessions) == 0 {
		return nil
	}
	return d.sessions[len(d.sessions)-1]
}

func (d *fakeDialer) lastEvents() mcproto.Events {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.events[len(d.events)-1]
}

func testConfig() Config {
	return Config{
		MaxBotsPerOwner: 3,
		MaxTotalBots:    10,
		ConnectTimeout:  time.Second,
		JavaPolicy:      BackoffPolicy{BaseDelay: 10 * time.Millisecond, Growth: 1.5, MaxDelay: 50 * time.Millisecond, MaxAttempts: 2},
		BedrockPolicy:   BackoffPolicy{BaseDelay: 10 * time.Millisecond, Growth: 1.5, MaxDelay: 50 * time.Millisecond, MaxAttempts: 3},
	}
}

func newTestManager(t *testing.T, cfg Config, dialer *fakeDialer) (*Manager, *fakeStore) {
	t.Helper()
	db := newFakeStore()
	m := New(cfg, db, dialer.dial)
	t.Cleanup(func() { m.Shutdown(context.Background()) })
	return m, db
}

func mustCreate(t *testing.T, m *Manager, ownerID int64, name string) *domain.BotRecord {
	t.Helper()
	rec, err := m.CreateBot(context.Background(), ownerID, CreateConfig{
		Name:       name,
		ServerHost: "play.example.com",
		ServerPort: 25565,
		Edition:    domain.EditionJava,
	})
	if err != nil {
		t.Fatalf("create bot: %v", err)
	}
	return rec
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestCreateBotDefaultsAndValidation(t *testing.T) {
	m, _ := newTestManager(t, testConfig(), &fakeDialer{})
	ctx := context.Background()

	rec := mustCreate(t, m, 7, "Steve_1")
	if rec.ProtocolVersion != domain.DefaultVersion(domain.EditionJava) {
		t.Errorf("expected default version %s, got %s", domain.DefaultVersion(domain.EditionJava), rec.ProtocolVersion)
	}
	if rec.Status != domain.StatusStopped {
		t.Errorf("new bot should be stopped, got %s", rec.Status)
	}

	cases := []CreateConfig{
		{Name: "ab", ServerHost: "h.example", ServerPort: 25565, Edition: domain.EditionJava},           // name too short
		{Name: "ValidName", ServerHost: "bad host", ServerPort: 25565, Edition: domain.EditionJava},     // bad host
		{Name: "ValidName", ServerHost: "h.example", ServerPort: 0, Edition: domain.EditionJava},        // bad port
		{Name: "ValidName", ServerHost: "h.example", ServerPort: 25565, Edition: "pocket"},              // bad edition
		{Name: "ValidName", ServerHost: "h.example", ServerPort: 25565, Edition: domain.EditionJava, ProtocolVersion: "0.1"}, // bad version
	}
	for i, cc := range cases {
		if _, err := m.CreateBot(ctx, 7, cc); !errors.Is(err, domain.ErrInvalidConfig) {
			t.Errorf("case %d: expected ErrInvalidConfig, got %v", i, err)
		}
	}
}

func TestCreateBotQuotaAndDuplicateName(t *testing.T) {
	cfg := testConfig()
	cfg.MaxBotsPerOwner = 2
	m, _ := newTestManager(t, cfg, &fakeDialer{})
	ctx := context.Background()

	mustCreate(t, m, 1, "BotA")
	if _, err := m.CreateBot(ctx, 1, CreateConfig{Name: "BotA", ServerHost: "h.example", ServerPort: 1, Edition: domain.EditionJava}); !errors.Is(err, ErrDuplicateName) {
		t.Fatalf("expected ErrDuplicateName, got %v", err)
	}
	// 同名不同用户可以共存
	mustCreate(t, m, 2, "BotA")

	mustCreate(t, m, 1, "BotB")
	if _, err := m.CreateBot(ctx, 1, CreateConfig{Name: "BotC", ServerHost: "h.example", ServerPort: 1, Edition: domain.EditionJava}); !errors.Is(err, ErrQuotaExceeded) {
		t.Fatalf("expected ErrQuotaExceeded, got %v", err)
	}
}

func TestStartBotHappyPath(t *testing.T) {
	d := &fakeDialer{}
	m, db := newTestManager(t, testConfig(), d)
	ctx := context.Background()

	evCh, unsub := m.Subscribe()
	defer unsub()

	rec := mustCreate(t, m, 7, "Steve")
	if err := m.StartBot(ctx, 7, rec.ID); err != nil {
		t.Fatalf("start: %v", err)
	}

	waitFor(t, "running status", func() bool { return db.status(rec.ID) == domain.StatusRunning })

	st, err := m.GetStatus(ctx, 7, rec.ID)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !st.Connected {
		t.Error("expected connected status")
	}
	if db.lastError(rec.ID) != "" {
		t.Errorf("last_error should be cleared, got %q", db.lastError(rec.ID))
	}

	types := db.eventTypes(rec.ID)
	want := []domain.EventType{domain.EventStart, domain.EventConnect, domain.EventSpawn}
	if len(types) != len(want) {
		t.Fatalf("expected events %v, got %v", want, types)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Fatalf("expected events %v, got %v", want, types)
		}
	}

	select {
	case ev := <-evCh:
		if ev.Kind != events.KindConnected || ev.BotID != rec.ID {
			t.Errorf("unexpected event %+v", ev)
		}
	case <-time.After(time.Second):
		t.Error("no connected event published")
	}
}

func TestStartBotErrors(t *testing.T) {
	d := &fakeDialer{}
	m, _ := newTestManager(t, testConfig(), d)
	ctx := context.Background()

	if err := m.StartBot(ctx, 7, "nope"); !errors.Is(err, ErrBotNotFound) {
		t.Errorf("expected ErrBotNotFound, got %v", err)
	}

	rec := mustCreate(t, m, 7, "Steve")
	if err := m.StartBot(ctx, 8, rec.ID); !errors.Is(err, ErrNotOwner) {
		t.Errorf("expected ErrNotOwner, got %v", err)
	}

	if err := m.StartBot(ctx, 7, rec.ID); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitFor(t, "connect", func() bool { return d.callCount() == 1 })
	if err := m.StartBot(ctx, 7, rec.ID); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("expected ErrAlreadyRunning, got %v", err)
	}
}

func TestInitialConnectFailureIsTerminal(t *testing.T) {
	d := &fakeDialer{script: []error{&net.DNSError{Err: "no such host", Name: "play.example.com", IsNotFound: true}}}
	m, db := newTestManager(t, testConfig(), d)
	ctx := context.Background()

	rec := mustCreate(t, m, 7, "Steve")
	if err := m.StartBot(ctx, 7, rec.ID); err != nil {
		t.Fatalf("start: %v", err)
	}

	waitFor(t, "error status", func() bool { return db.status(rec.ID) == domain.StatusError })
	if got := db.lastError(rec.ID); !strings.Contains(got, "not found") {
		t.Errorf("last_error should describe the DNS failure, got %q", got)
	}

	// a user-triggered first connect never retries
	time.Sleep(100 * time.Millisecond)
	if d.callCount() != 1 {
		t.Errorf("expected exactly 1 dial, got %d", d.callCount())
	}

	// terminal session no longer blocks a fresh start
	if err := m.StartBot(ctx, 7, rec.ID); err != nil {
		t.Errorf("restart after terminal failure: %v", err)
	}
}

func TestReconnectAfterMidSessionDrop(t *testing.T) {
	d := &fakeDialer{}
	m, db := newTestManager(t, testConfig(), d)
	ctx := context.Background()

	rec := mustCreate(t, m, 7, "Steve")
	if err := m.StartBot(ctx, 7, rec.ID); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitFor(t, "running", func() bool { return db.status(rec.ID) == domain.StatusRunning })

	d.lastEvents().Errored(fmt.Errorf("read tcp: connection timed out"))

	waitFor(t, "redial", func() bool { return d.callCount() == 2 })
	waitFor(t, "running again", func() bool {
		st, err := m.GetStatus(ctx, 7, rec.ID)
		return err == nil && st.Connected
	})

	st, _ := m.GetStatus(ctx, 7, rec.ID)
	if st.ReconnectAttempts != 0 {
		t.Errorf("reconnect counter should reset on success, got %d", st.ReconnectAttempts)
	}

	types := db.eventTypes(rec.ID)
	sawError := false
	for _, et := range types {
		if et == domain.EventError {
			sawError = true
		}
	}
	if !sawError {
		t.Errorf("mid-session error should be logged, events: %v", types)
	}
}

func TestReconnectExhaustionGoesTerminal(t *testing.T) {
	boom := fmt.Errorf("dial tcp: connection timed out")
	// initial success, then every reconnect fails
	d := &fakeDialer{script: []error{nil, boom, boom, boom, boom}}
	m, db := newTestManager(t, testConfig(), d)
	ctx := context.Background()

	rec := mustCreate(t, m, 7, "Steve")
	if err := m.StartBot(ctx, 7, rec.ID); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitFor(t, "running", func() bool { return db.status(rec.ID) == domain.StatusRunning })

	d.lastEvents().Errored(boom)

	waitFor(t, "terminal error", func() bool { return db.status(rec.ID) == domain.StatusError })
	if got := db.lastError(rec.ID); !strings.Contains(got, "gave up after 2 reconnect attempts") {
		t.Errorf("last_error should mention exhaustion, got %q", got)
	}
	// MaxAttempts=2: initial dial + 2 reconnects
	if d.callCount() != 3 {
		t.Errorf("expected 3 dials, got %d", d.callCount())
	}
}

func TestNonRetryableDisconnectNeverRedials(t *testing.T) {
	d := &fakeDialer{}
	m, db := newTestManager(t, testConfig(), d)
	ctx := context.Background()

	rec := mustCreate(t, m, 7, "Steve")
	if err := m.StartBot(ctx, 7, rec.ID); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitFor(t, "running", func() bool { return db.status(rec.ID) == domain.StatusRunning })

	d.lastEvents().Disconnected("You are banned from this server")

	waitFor(t, "terminal error", func() bool { return db.status(rec.ID) == domain.StatusError })
	time.Sleep(100 * time.Millisecond)
	if d.callCount() != 1 {
		t.Errorf("banned bot must not reconnect, dials=%d", d.callCount())
	}
}

func TestStopBotAndIdempotency(t *testing.T) {
	d := &fakeDialer{}
	m, db := newTestManager(t, testConfig(), d)
	ctx := context.Background()

	rec := mustCreate(t, m, 7, "Steve")
	if err := m.StartBot(ctx, 7, rec.ID); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitFor(t, "running", func() bool { return db.status(rec.ID) == domain.StatusRunning })

	already, err := m.StopBot(ctx, 7, rec.ID)
	if err != nil || already {
		t.Fatalf("stop: already=%v err=%v", already, err)
	}
	if !d.lastSession().isDisconnected() {
		t.Error("stop should disconnect the adapter")
	}
	if db.status(rec.ID) != domain.StatusStopped {
		t.Errorf("expected stopped status, got %s", db.status(rec.ID))
	}

	already, err = m.StopBot(ctx, 7, rec.ID)
	if err != nil {
		t.Fatalf("second stop: %v", err)
	}
	if !already {
		t.Error("second stop should report already stopped")
	}
}

func TestStopCancelsPendingReconnect(t *testing.T) {
	boom := fmt.Errorf("read tcp: connection timed out")
	cfg := testConfig()
	cfg.JavaPolicy.BaseDelay = 200 * time.Millisecond
	d := &fakeDialer{}
	m, db := newTestManager(t, cfg, d)
	ctx := context.Background()

	rec := mustCreate(t, m, 7, "Steve")
	if err := m.StartBot(ctx, 7, rec.ID); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitFor(t, "running", func() bool { return db.status(rec.ID) == domain.StatusRunning })

	d.lastEvents().Errored(boom)
	waitFor(t, "retry wait", func() bool {
		st, err := m.GetStatus(ctx, 7, rec.ID)
		return err == nil && st.ReconnectAttempts == 1
	})

	if _, err := m.StopBot(ctx, 7, rec.ID); err != nil {
		t.Fatalf("stop: %v", err)
	}
	time.Sleep(300 * time.Millisecond)
	if d.callCount() != 1 {
		t.Errorf("stop should cancel the scheduled reconnect, dials=%d", d.callCount())
	}
	if db.status(rec.ID) != domain.StatusStopped {
		t.Errorf("expected stopped, got %s", db.status(rec.ID))
	}
}

func TestDeleteBot(t *testing.T) {
	d := &fakeDialer{}
	m, db := newTestManager(t, testConfig(), d)
	ctx := context.Background()

	rec := mustCreate(t, m, 7, "Steve")
	if err := m.StartBot(ctx, 7, rec.ID); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitFor(t, "running", func() bool { return db.status(rec.ID) == domain.StatusRunning })

	if err := m.DeleteBot(ctx, 8, rec.ID); !errors.Is(err, ErrNotOwner) {
		t.Fatalf("expected ErrNotOwner, got %v", err)
	}
	if err := m.DeleteBot(ctx, 7, rec.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if !d.lastSession().isDisconnected() {
		t.Error("delete should disconnect the live session")
	}
	if got, _ := db.GetBot(ctx, rec.ID); got != nil {
		t.Error("record should be gone")
	}
	if err := m.DeleteBot(ctx, 7, rec.ID); !errors.Is(err, ErrBotNotFound) {
		t.Errorf("expected ErrBotNotFound after delete, got %v", err)
	}
}

func TestSendMessageAndCommand(t *testing.T) {
	d := &fakeDialer{}
	m, db := newTestManager(t, testConfig(), d)
	ctx := context.Background()

	rec := mustCreate(t, m, 7, "Steve")
	if err := m.SendMessage(ctx, 7, rec.ID, "hello"); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}

	if err := m.StartBot(ctx, 7, rec.ID); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitFor(t, "running", func() bool { return db.status(rec.ID) == domain.StatusRunning })

	if err := m.SendMessage(ctx, 7, rec.ID, "hello"); err != nil {
		t.Fatalf("send message: %v", err)
	}
	if err := m.SendCommand(ctx, 7, rec.ID, "tp 0 64 0"); err != nil {
		t.Fatalf("send command: %v", err)
	}
	if err := m.SendCommand(ctx, 7, rec.ID, "/time set day"); err != nil {
		t.Fatalf("send command: %v", err)
	}

	s := d.lastSession()
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.chats) != 1 || s.chats[0] != "hello" {
		t.Errorf("chats = %v", s.chats)
	}
	if len(s.cmds) != 2 || s.cmds[0] != "/tp 0 64 0" || s.cmds[1] != "/time set day" {
		t.Errorf("commands should be slash-normalized, got %v", s.cmds)
	}
}

func TestGlobalSessionLimit(t *testing.T) {
	cfg := testConfig()
	cfg.MaxTotalBots = 1
	d := &fakeDialer{}
	m, db := newTestManager(t, cfg, d)
	ctx := context.Background()

	a := mustCreate(t, m, 7, "BotA")
	b := mustCreate(t, m, 7, "BotB")

	if err := m.StartBot(ctx, 7, a.ID); err != nil {
		t.Fatalf("start a: %v", err)
	}
	waitFor(t, "running", func() bool { return db.status(a.ID) == domain.StatusRunning })

	if err := m.StartBot(ctx, 7, b.ID); !errors.Is(err, ErrSessionLimit) {
		t.Fatalf("expected ErrSessionLimit, got %v", err)
	}

	if _, err := m.StopBot(ctx, 7, a.ID); err != nil {
		t.Fatalf("stop a: %v", err)
	}
	if err := m.StartBot(ctx, 7, b.ID); err != nil {
		t.Errorf("start b after stop a: %v", err)
	}
}

func TestPersistenceFailuresDoNotBreakLifecycle(t *testing.T) {
	d := &fakeDialer{}
	m, db := newTestManager(t, testConfig(), d)
	ctx := context.Background()

	rec := mustCreate(t, m, 7, "Steve")
	db.mu.Lock()
	db.failStatusWrites = true
	db.mu.Unlock()

	if err := m.StartBot(ctx, 7, rec.ID); err != nil {
		t.Fatalf("start with failing status writes: %v", err)
	}
	waitFor(t, "connected anyway", func() bool {
		st, err := m.GetStatus(ctx, 7, rec.ID)
		return err == nil && st.Connected
	})
}

func TestShutdownStopsEverything(t *testing.T) {
	d := &fakeDialer{}
	db := newFakeStore()
	m := New(testConfig(), db, d.dial)
	ctx := context.Background()

	rec, err := m.CreateBot(ctx, 7, CreateConfig{Name: "Steve", ServerHost: "h.example", ServerPort: 25565, Edition: domain.EditionJava})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := m.StartBot(ctx, 7, rec.ID); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitFor(t, "running", func() bool { return db.status(rec.ID) == domain.StatusRunning })

	m.Shutdown(ctx)

	if !d.lastSession().isDisconnected() {
		t.Error("shutdown should disconnect sessions")
	}
	if db.status(rec.ID) != domain.StatusStopped {
		t.Errorf("shutdown should persist stopped, got %s", db.status(rec.ID))
	}
	if err := m.StartBot(ctx, 7, rec.ID); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed after shutdown, got %v", err)
	}
}

func TestConcurrentStartSingleFlight(t *testing.T) {
	d := &fakeDialer{gate: make(chan struct{})}
	m, db := newTestManager(t, testConfig(), d)
	ctx := context.Background()
	rec := mustCreate(t, m, 7, "Steve")

	const n = 8
	start := make(chan struct{})
	var wg sync.WaitGroup
	var ok, already int32
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			switch err := m.StartBot(ctx, 7, rec.ID); {
			case err == nil:
				atomic.AddInt32(&ok, 1)
			case errors.Is(err, ErrAlreadyRunning):
				atomic.AddInt32(&already, 1)
			default:
				t.Errorf("unexpected start error: %v", err)
			}
		}()
	}
	close(start)
	wg.Wait()

	if ok != 1 || already != n-1 {
		t.Fatalf("got %d successes and %d ErrAlreadyRunning, want 1 and %d", ok, already, n-1)
	}

	close(d.gate)
	waitFor(t, "running", func() bool { return db.status(rec.ID) == domain.StatusRunning })
	if d.callCount() != 1 {
		t.Errorf("expected a single dial, got %d", d.callCount())
	}
}

func TestDeleteBotDuringConnectLeavesNoAdapter(t *testing.T) {
	d := &fakeDialer{gate: make(chan struct{})}
	m, db := newTestManager(t, testConfig(), d)
	ctx := context.Background()
	rec := mustCreate(t, m, 7, "Steve")

	if err := m.StartBot(ctx, 7, rec.ID); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitFor(t, "dial in flight", func() bool { return d.callCount() == 1 })

	if err := m.DeleteBot(ctx, 7, rec.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if b, _ := db.GetBot(ctx, rec.ID); b != nil {
		t.Fatal("record should be gone")
	}

	// 拨号在删除之后才完成，连接结果必须被丢弃
	close(d.gate)
	waitFor(t, "orphan adapter disconnected", func() bool {
		s := d.lastSession()
		return s != nil && s.isDisconnected()
	})

	if _, err := m.GetStatus(ctx, 7, rec.ID); !errors.Is(err, ErrBotNotFound) {
		t.Errorf("expected ErrBotNotFound after delete, got %v", err)
	}
}
