package session

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/DmitriyKotov1986/TradingCat/candles/common"
	"github.com/DmitriyKotov1986/TradingCat/internal/detector"
	"github.com/DmitriyKotov1986/TradingCat/internal/users"
)

type onlineCall struct {
	sessionID int64
	cfg       detector.Config
	gen       uint64
}

type announcerStub struct {
	mu      sync.Mutex
	online  []onlineCall
	offline []int64
}

func (a *announcerStub) UserOnline(sessionID int64, cfg detector.Config, gen uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.online = append(a.online, onlineCall{sessionID: sessionID, cfg: cfg, gen: gen})
}

func (a *announcerStub) UserOffline(sessionID int64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.offline = append(a.offline, sessionID)
}

func (a *announcerStub) lastOnline(t *testing.T) onlineCall {
	t.Helper()
	a.mu.Lock()
	defer a.mu.Unlock()
	require.NotEmpty(t, a.online)
	return a.online[len(a.online)-1]
}

func (a *announcerStub) offlineIDs() []int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]int64(nil), a.offline...)
}

func newTestRegistry(t *testing.T, store users.Store, maxUsers int) (*Registry, *users.Users, *announcerStub) {
	t.Helper()
	u, err := users.Load(context.Background(), store)
	require.NoError(t, err)
	announce := &announcerStub{}
	return NewRegistry(u, announce, maxUsers), u, announce
}

func testEvent(symbol string) detector.Event {
	return detector.Event{
		StockExchange: common.MEXC,
		KLine: common.KLine{
			ID:          common.KLineID{Symbol: symbol, Interval: common.Min1},
			OpenTime:    60_000,
			CloseTime:   119_999,
			Open:        100,
			High:        150,
			Low:         100,
			Close:       150,
			Volume:      1,
			QuoteVolume: 500,
		},
		Filter: detector.Filter{Type: detector.Delta, Min: 0.02, Max: 1.0, Interval: common.Min1},
	}
}

func TestLoginCreatesUnknownUser(t *testing.T) {
	store := users.NewMemoryStore()
	r, u, announce := newTestRegistry(t, store, 10)

	sess, err := r.Login(context.Background(), "alice", "secret")
	require.NoError(t, err)
	require.Equal(t, "alice", sess.User)
	require.GreaterOrEqual(t, sess.ID, int64(1))
	require.Less(t, sess.ID, int64(math.MaxInt32))
	require.Equal(t, detector.DefaultConfig(), sess.Config)

	// First login is registration: the account exists with the default
	// config and is already persisted.
	account, ok := u.Get("alice")
	require.True(t, ok)
	require.Equal(t, "secret", account.Password)
	require.JSONEq(t, `{"filters":[]}`, account.Config)

	recs, err := store.LoadAll(context.Background())
	require.NoError(t, err)
	require.Len(t, recs, 1)

	got := announce.lastOnline(t)
	require.Equal(t, sess.ID, got.sessionID)
	require.Equal(t, uint64(1), got.gen)
	require.Equal(t, sess.Config, got.cfg)
}

func TestLoginExistingUser(t *testing.T) {
	store := users.NewMemoryStore()
	r, _, _ := newTestRegistry(t, store, 10)

	first, err := r.Login(context.Background(), "alice", "secret")
	require.NoError(t, err)
	require.NoError(t, r.Logout(first.ID))

	second, err := r.Login(context.Background(), "alice", "secret")
	require.NoError(t, err)
	require.Equal(t, "alice", second.User)
}

func TestLoginWrongPassword(t *testing.T) {
	r, _, _ := newTestRegistry(t, users.NewMemoryStore(), 10)

	_, err := r.Login(context.Background(), "alice", "secret")
	require.NoError(t, err)

	_, err = r.Login(context.Background(), "alice", "wrong")
	require.ErrorIs(t, err, ErrUnauthorized)

	_, err = r.Login(context.Background(), "", "secret")
	require.ErrorIs(t, err, ErrUnauthorized)
}

func TestLoginBrokenStoredConfig(t *testing.T) {
	store := users.NewMemoryStore()
	require.NoError(t, store.Create(context.Background(), users.Record{
		User:     "alice",
		Password: "secret",
		Config:   "{not json",
	}))
	r, _, _ := newTestRegistry(t, store, 10)

	// An unreadable stored config falls back to the default instead of
	// locking the account out.
	sess, err := r.Login(context.Background(), "alice", "secret")
	require.NoError(t, err)
	require.Equal(t, detector.DefaultConfig(), sess.Config)
}

func TestLoginMaxUsers(t *testing.T) {
	r, _, _ := newTestRegistry(t, users.NewMemoryStore(), 1)

	sess, err := r.Login(context.Background(), "alice", "secret")
	require.NoError(t, err)

	_, err = r.Login(context.Background(), "bob", "hunter2")
	require.ErrorIs(t, err, ErrTooManyUsers)

	// Logging out frees the slot.
	require.NoError(t, r.Logout(sess.ID))
	_, err = r.Login(context.Background(), "bob", "hunter2")
	require.NoError(t, err)
}

func TestLogout(t *testing.T) {
	r, _, announce := newTestRegistry(t, users.NewMemoryStore(), 10)

	sess, err := r.Login(context.Background(), "alice", "secret")
	require.NoError(t, err)
	require.Equal(t, 1, r.Len())

	require.NoError(t, r.Logout(sess.ID))
	require.Equal(t, 0, r.Len())
	require.Equal(t, []int64{sess.ID}, announce.offlineIDs())

	require.ErrorIs(t, r.Logout(sess.ID), ErrNotFound)
}

func TestTouch(t *testing.T) {
	r, _, _ := newTestRegistry(t, users.NewMemoryStore(), 10)

	sess, err := r.Login(context.Background(), "alice", "secret")
	require.NoError(t, err)

	require.NoError(t, r.Touch(sess.ID))
	require.ErrorIs(t, r.Touch(sess.ID+1), ErrNotFound)
}

func TestUpdateConfig(t *testing.T) {
	r, u, announce := newTestRegistry(t, users.NewMemoryStore(), 10)

	sess, err := r.Login(context.Background(), "alice", "secret")
	require.NoError(t, err)

	cfg := detector.Config{Filters: []detector.Filter{
		{Type: detector.Delta, Min: 0.05, Max: 1.0, Interval: common.Min1},
	}}
	require.NoError(t, r.UpdateConfig(sess.ID, cfg))

	got := announce.lastOnline(t)
	require.Equal(t, sess.ID, got.sessionID)
	require.Equal(t, uint64(2), got.gen)
	require.Equal(t, cfg, got.cfg)

	account, ok := u.Get("alice")
	require.True(t, ok)
	raw, err := json.Marshal(cfg)
	require.NoError(t, err)
	require.JSONEq(t, string(raw), account.Config)
}

func TestUpdateConfigInvalid(t *testing.T) {
	r, _, announce := newTestRegistry(t, users.NewMemoryStore(), 10)

	sess, err := r.Login(context.Background(), "alice", "secret")
	require.NoError(t, err)

	bad := detector.Config{Filters: []detector.Filter{
		{Type: detector.Delta, Min: 1.0, Max: 0.5, Interval: common.Min1},
	}}
	require.ErrorIs(t, r.UpdateConfig(sess.ID, bad), detector.ErrInvalidConfig)

	// The rejected config left the session untouched.
	require.Equal(t, uint64(1), announce.lastOnline(t).gen)

	require.ErrorIs(t, r.UpdateConfig(sess.ID+1, detector.DefaultConfig()), ErrNotFound)
}

func TestUpdateConfigClearsMailbox(t *testing.T) {
	r, _, _ := newTestRegistry(t, users.NewMemoryStore(), 10)

	sess, err := r.Login(context.Background(), "alice", "secret")
	require.NoError(t, err)

	r.Deliver(sess.ID, 1, testEvent("BTCUSDT"))
	require.NoError(t, r.UpdateConfig(sess.ID, detector.DefaultConfig()))

	// Events matched under the old config never reach the client.
	events, isFull, err := r.PollDetect(sess.ID)
	require.NoError(t, err)
	require.Empty(t, events)
	require.False(t, isFull)
}

func TestDeliverAndPoll(t *testing.T) {
	r, _, _ := newTestRegistry(t, users.NewMemoryStore(), 10)

	sess, err := r.Login(context.Background(), "alice", "secret")
	require.NoError(t, err)

	r.Deliver(sess.ID, 1, testEvent("BTCUSDT"))
	r.Deliver(sess.ID, 1, testEvent("ETHUSDT"))

	events, isFull, err := r.PollDetect(sess.ID)
	require.NoError(t, err)
	require.Len(t, events, 2)
	require.Equal(t, "BTCUSDT", events[0].KLine.ID.Symbol)
	require.Equal(t, "ETHUSDT", events[1].KLine.ID.Symbol)
	require.False(t, isFull)

	// The drain empties the mailbox.
	events, isFull, err = r.PollDetect(sess.ID)
	require.NoError(t, err)
	require.Empty(t, events)
	require.False(t, isFull)

	_, _, err = r.PollDetect(sess.ID + 1)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestMailboxOverflow(t *testing.T) {
	r, _, _ := newTestRegistry(t, users.NewMemoryStore(), 10)

	sess, err := r.Login(context.Background(), "alice", "secret")
	require.NoError(t, err)

	for i := 0; i < 7; i++ {
		r.Deliver(sess.ID, 1, testEvent(fmt.Sprintf("SYM%vUSDT", i)))
	}

	// The mailbox keeps the oldest five events and reports the loss.
	events, isFull, err := r.PollDetect(sess.ID)
	require.NoError(t, err)
	require.Len(t, events, 5)
	require.Equal(t, "SYM0USDT", events[0].KLine.ID.Symbol)
	require.Equal(t, "SYM4USDT", events[4].KLine.ID.Symbol)
	require.True(t, isFull)

	// The overflow flag resets on read.
	r.Deliver(sess.ID, 1, testEvent("BTCUSDT"))
	events, isFull, err = r.PollDetect(sess.ID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.False(t, isFull)
}

func TestDeliverStaleGen(t *testing.T) {
	r, _, _ := newTestRegistry(t, users.NewMemoryStore(), 10)

	sess, err := r.Login(context.Background(), "alice", "secret")
	require.NoError(t, err)
	require.NoError(t, r.UpdateConfig(sess.ID, detector.DefaultConfig()))

	r.Deliver(sess.ID, 1, testEvent("BTCUSDT"))
	r.Deliver(sess.ID, 2, testEvent("ETHUSDT"))

	events, _, err := r.PollDetect(sess.ID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, "ETHUSDT", events[0].KLine.ID.Symbol)
}

func TestDeliverUnknownSession(t *testing.T) {
	r, _, _ := newTestRegistry(t, users.NewMemoryStore(), 10)

	r.Deliver(42, 1, testEvent("BTCUSDT"))
	require.Equal(t, 0, r.Len())
}

func TestSweepIdle(t *testing.T) {
	r, _, announce := newTestRegistry(t, users.NewMemoryStore(), 10)

	sess, err := r.Login(context.Background(), "alice", "secret")
	require.NoError(t, err)

	r.sweepIdle(time.Now().Add(30 * time.Second))
	require.Equal(t, 1, r.Len())

	r.sweepIdle(time.Now().Add(idleTimeout + time.Second))
	require.Equal(t, 0, r.Len())
	require.Equal(t, []int64{sess.ID}, announce.offlineIDs())

	_, _, err = r.PollDetect(sess.ID)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestPollKeepsSessionAlive(t *testing.T) {
	r, _, _ := newTestRegistry(t, users.NewMemoryStore(), 10)

	sess, err := r.Login(context.Background(), "alice", "secret")
	require.NoError(t, err)

	_, _, err = r.PollDetect(sess.ID)
	require.NoError(t, err)

	// Polling counts as activity, so the sweep spares the session.
	r.sweepIdle(time.Now().Add(30 * time.Second))
	require.Equal(t, 1, r.Len())
}

func TestUsersOnline(t *testing.T) {
	r, _, _ := newTestRegistry(t, users.NewMemoryStore(), 10)

	require.Empty(t, r.UsersOnline())

	alice, err := r.Login(context.Background(), "alice", "secret")
	require.NoError(t, err)
	bob, err := r.Login(context.Background(), "bob", "hunter2")
	require.NoError(t, err)

	want := []string{
		fmt.Sprintf("alice(%v)", alice.ID),
		fmt.Sprintf("bob(%v)", bob.ID),
	}
	require.Equal(t, want, r.UsersOnline())
}
