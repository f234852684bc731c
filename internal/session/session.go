// Package session tracks logged-in sessions, their detect configurations and
// their event mailboxes.
//
// A session is created by Login and lives until Logout or until the idle
// sweeper reaps it. Detection events land in a small per-session mailbox
// that the client drains by polling; when the mailbox is full further events
// are dropped and the drain reports the loss. Delivery is fenced by a config
// generation: after a config update, events evaluated under the previous
// config are discarded instead of reaching the new mailbox.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/DmitriyKotov1986/TradingCat/internal/detector"
	"github.com/DmitriyKotov1986/TradingCat/internal/users"
)

const (
	// mailboxCap is how many undelivered detection events a session holds.
	mailboxCap = 5

	// idleTimeout reaps sessions with no client activity.
	idleTimeout = 60 * time.Second

	sweepInterval = 60 * time.Second
)

var (
	// ErrNotFound means the session id is not logged in.
	ErrNotFound = errors.New("unknown session")

	// ErrUnauthorized means the password does not match the account.
	ErrUnauthorized = errors.New("incorrect password or user name")

	// ErrTooManyUsers means the server is at its concurrent session cap.
	ErrTooManyUsers = errors.New("too many users online")
)

// Announcer learns about sessions coming online and going offline. The
// detector implements it.
type Announcer interface {
	UserOnline(sessionID int64, cfg detector.Config, gen uint64)
	UserOffline(sessionID int64)
}

// Session is the client-visible part of a logged-in session.
type Session struct {
	ID     int64
	User   string
	Config detector.Config
}

type state struct {
	id           int64
	user         string
	config       detector.Config
	gen          uint64
	lastActivity time.Time
	mailbox      []detector.Event
	overflow     bool
}

// Registry is the set of live sessions.
type Registry struct {
	users    *users.Users
	announce Announcer
	maxUsers int

	mu       sync.Mutex
	sessions map[int64]*state
}

// NewRegistry builds a Registry over the loaded accounts. maxUsers caps the
// number of concurrent sessions.
func NewRegistry(u *users.Users, announce Announcer, maxUsers int) *Registry {
	return &Registry{
		users:    u,
		announce: announce,
		maxUsers: maxUsers,
		sessions: make(map[int64]*state),
	}
}

// Login authenticates the user and opens a new session. An unknown user is
// created on the spot with the supplied password and a default
// configuration, so first login doubles as registration. A known user with
// the wrong password gets ErrUnauthorized.
func (r *Registry) Login(ctx context.Context, name, password string) (Session, error) {
	if name == "" {
		return Session{}, fmt.Errorf("%w: empty user", ErrUnauthorized)
	}

	account, ok := r.users.Get(name)
	if !ok {
		raw, err := json.Marshal(detector.DefaultConfig())
		if err != nil {
			return Session{}, err
		}
		if account, err = r.users.Create(ctx, name, password, string(raw)); err != nil {
			return Session{}, fmt.Errorf("create user %v: %w", name, err)
		}
	}
	if account.Password != password {
		log.Warn().Str("user", name).Msg("session: incorrect password")
		return Session{}, ErrUnauthorized
	}

	cfg, err := parseConfig(account.Config)
	if err != nil {
		// A broken stored config must not lock the account out.
		log.Warn().Err(err).Str("user", name).Msg("session: stored config unreadable, falling back to default")
		cfg = detector.DefaultConfig()
	}

	now := time.Now()
	if err := r.users.Touch(name, now); err != nil {
		return Session{}, err
	}

	r.mu.Lock()
	if len(r.sessions) >= r.maxUsers {
		r.mu.Unlock()
		log.Warn().Str("user", name).Int("maxUsers", r.maxUsers).Msg("session: login rejected, server full")
		return Session{}, ErrTooManyUsers
	}
	id := r.newSessionID()
	st := &state{id: id, user: name, config: cfg, gen: 1, lastActivity: now}
	r.sessions[id] = st
	// Announced under the lock so a concurrent config update cannot slip
	// between the map write and the announcement.
	r.announce.UserOnline(id, cfg, st.gen)
	r.mu.Unlock()

	log.Info().Str("user", name).Int64("sessionID", id).Msg("session: user logged in")

	return Session{ID: id, User: name, Config: cfg}, nil
}

// Logout closes the session.
func (r *Registry) Logout(sessionID int64) error {
	r.mu.Lock()
	st, ok := r.sessions[sessionID]
	if !ok {
		r.mu.Unlock()
		return ErrNotFound
	}
	delete(r.sessions, sessionID)
	r.announce.UserOffline(sessionID)
	r.mu.Unlock()

	log.Info().Str("user", st.user).Int64("sessionID", sessionID).Msg("session: user logged out")

	return nil
}

// UpdateConfig validates and installs a new detect configuration for the
// session. The mailbox is cleared and the config generation bumped, so
// events matched under the previous configuration never reach the client.
func (r *Registry) UpdateConfig(sessionID int64, cfg detector.Config) error {
	if err := cfg.Check(); err != nil {
		return err
	}
	raw, err := json.Marshal(cfg)
	if err != nil {
		return err
	}

	r.mu.Lock()
	st, ok := r.sessions[sessionID]
	if !ok {
		r.mu.Unlock()
		return ErrNotFound
	}
	st.lastActivity = time.Now()
	st.config = cfg
	st.gen++
	st.mailbox = nil
	st.overflow = false
	r.announce.UserOnline(sessionID, cfg, st.gen)
	user := st.user
	gen := st.gen
	r.mu.Unlock()

	if err := r.users.SetConfig(user, string(raw)); err != nil {
		return err
	}

	log.Info().Str("user", user).Int64("sessionID", sessionID).Uint64("gen", gen).Msg("session: config updated")

	return nil
}

// PollDetect drains the session's mailbox. isFull reports whether events
// were dropped since the previous drain; the flag resets on read.
func (r *Registry) PollDetect(sessionID int64) (events []detector.Event, isFull bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	st, ok := r.sessions[sessionID]
	if !ok {
		return nil, false, ErrNotFound
	}
	st.lastActivity = time.Now()

	events = st.mailbox
	isFull = st.overflow
	st.mailbox = nil
	st.overflow = false

	return events, isFull, nil
}

// Touch refreshes the session's idle timer, failing for unknown sessions.
// Read-only operations on other components call it to both authorize the
// request and keep the session alive.
func (r *Registry) Touch(sessionID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	st, ok := r.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	st.lastActivity = time.Now()

	return nil
}

// Deliver implements detector.Delivery: it appends the event to the
// session's mailbox. Events for unknown sessions or carrying a stale config
// generation are dropped. A full mailbox drops the event and raises the
// overflow flag instead.
func (r *Registry) Deliver(sessionID int64, gen uint64, event detector.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	st, ok := r.sessions[sessionID]
	if !ok || st.gen != gen {
		return
	}
	if len(st.mailbox) >= mailboxCap {
		st.overflow = true
		return
	}
	st.mailbox = append(st.mailbox, event)
}

// UsersOnline lists the live sessions as "user(sessionID)" strings, sorted.
func (r *Registry) UsersOnline() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	online := make([]string, 0, len(r.sessions))
	for id, st := range r.sessions {
		online = append(online, fmt.Sprintf("%v(%v)", st.user, id))
	}
	sort.Strings(online)

	return online
}

// Len is the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// RunSweeper reaps idle sessions on a fixed cadence until ctx is canceled.
func (r *Registry) RunSweeper(ctx context.Context) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sweepIdle(time.Now())
		}
	}
}

func (r *Registry) sweepIdle(now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, st := range r.sessions {
		if now.Sub(st.lastActivity) <= idleTimeout {
			continue
		}
		delete(r.sessions, id)
		r.announce.UserOffline(id)
		log.Warn().Str("user", st.user).Int64("sessionID", id).Msg("session: connection timeout")
	}
}

// newSessionID returns a random id in [1, 2^31) not used by a live session.
// Callers hold r.mu.
func (r *Registry) newSessionID() int64 {
	for {
		id := rand.Int63n(math.MaxInt32-1) + 1
		if _, taken := r.sessions[id]; !taken {
			return id
		}
	}
}

func parseConfig(raw string) (detector.Config, error) {
	if raw == "" {
		return detector.DefaultConfig(), nil
	}
	var cfg detector.Config
	if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
		return detector.Config{}, err
	}
	return cfg, nil
}
