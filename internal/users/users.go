package users

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	// saveInterval is how often dirty accounts are written back.
	saveInterval = 60 * time.Second

	// flushTimeout bounds the final flush on shutdown.
	flushTimeout = 10 * time.Second
)

// User is one account as held in memory.
type User struct {
	Name      string
	Password  string
	Config    string
	LastLogin time.Time
}

// Users is the in-memory account container in front of a Store.
type Users struct {
	store Store

	mu    sync.Mutex
	users map[string]User
	dirty map[string]bool
}

// Load reads every account from the store into memory.
func Load(ctx context.Context, store Store) (*Users, error) {
	recs, err := store.LoadAll(ctx)
	if err != nil {
		return nil, err
	}

	u := &Users{
		store: store,
		users: make(map[string]User, len(recs)),
		dirty: make(map[string]bool),
	}
	for _, rec := range recs {
		u.users[rec.User] = User{
			Name:      rec.User,
			Password:  rec.Password,
			Config:    rec.Config,
			LastLogin: rec.LastLogin,
		}
	}

	log.Info().Int("users", len(u.users)).Msg("users: accounts loaded")

	return u, nil
}

// Get returns a copy of the named account.
func (u *Users) Get(name string) (User, bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	user, ok := u.users[name]
	return user, ok
}

// Len is the number of accounts.
func (u *Users) Len() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.users)
}

// Create stores a new account immediately, bypassing the flush cycle. An
// existing account of the same name is overwritten.
func (u *Users) Create(ctx context.Context, name, password, config string) (User, error) {
	now := time.Now()
	user := User{Name: name, Password: password, Config: config, LastLogin: now}
	rec := Record{User: name, Password: password, Config: config, CreateUser: now, LastLogin: now}

	u.mu.Lock()
	_, exists := u.users[name]
	u.mu.Unlock()

	if exists {
		log.Warn().Str("user", name).Msg("users: existing account replaced")
		if err := u.store.Update(ctx, rec); err != nil {
			return User{}, err
		}
	} else {
		if err := u.store.Create(ctx, rec); err != nil {
			return User{}, err
		}
		log.Info().Str("user", name).Msg("users: account created")
	}

	u.mu.Lock()
	u.users[name] = user
	delete(u.dirty, name)
	u.mu.Unlock()

	return user, nil
}

// SetConfig replaces the account's detect configuration and marks it for the
// next flush.
func (u *Users) SetConfig(name, config string) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	user, ok := u.users[name]
	if !ok {
		return fmt.Errorf("user %v does not exist", name)
	}
	user.Config = config
	u.users[name] = user
	u.dirty[name] = true
	return nil
}

// Touch updates the account's last login time and marks it for the next
// flush.
func (u *Users) Touch(name string, lastLogin time.Time) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	user, ok := u.users[name]
	if !ok {
		return fmt.Errorf("user %v does not exist", name)
	}
	user.LastLogin = lastLogin
	u.users[name] = user
	u.dirty[name] = true
	return nil
}

// Flush writes every dirty account back to the store. Accounts that fail to
// write stay dirty and are retried on the next cycle.
func (u *Users) Flush(ctx context.Context) error {
	u.mu.Lock()
	dirty := make([]User, 0, len(u.dirty))
	for name := range u.dirty {
		if user, ok := u.users[name]; ok {
			dirty = append(dirty, user)
		}
	}
	u.mu.Unlock()

	var firstErr error
	for _, user := range dirty {
		rec := Record{User: user.Name, Password: user.Password, Config: user.Config, LastLogin: user.LastLogin}
		if err := u.store.Update(ctx, rec); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}

		u.mu.Lock()
		// The account may have been touched again while flushing; the flag
		// only clears when the write still matches the in-memory state.
		if current, ok := u.users[user.Name]; ok && current == user {
			delete(u.dirty, user.Name)
		}
		u.mu.Unlock()
	}
	return firstErr
}

// RunFlusher flushes dirty accounts on a fixed cadence until ctx is
// canceled, then takes one final flush so nothing is lost on shutdown.
func (u *Users) RunFlusher(ctx context.Context) {
	ticker := time.NewTicker(saveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), flushTimeout)
			if err := u.Flush(flushCtx); err != nil {
				log.Error().Err(err).Msg("users: final flush failed")
			}
			cancel()
			return
		case <-ticker.C:
			if err := u.Flush(ctx); err != nil {
				log.Error().Err(err).Msg("users: flush failed")
			}
		}
	}
}
