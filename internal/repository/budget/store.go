// Package budget keeps embedding token counters in the key-value store.
//
// Counter keys end in a period segment written by the embedding budget
// tracker: "...:daily:2006-01-02" or "...:monthly:2006-01". A counter
// expires Grace after its UTC window closes, so a restart inside the window
// reloads it and nothing lingers once the window is over.
package budget

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/kailas-cloud/bitlens/internal/db"
)

// DefaultGrace is how long a counter outlives its window.
const DefaultGrace = 24 * time.Hour

// fallbackTTL covers keys whose window cannot be parsed.
const fallbackTTL = 32 * 24 * time.Hour

type kv interface {
	Get(ctx context.Context, key string) ([]byte, error)
	IncrBy(ctx context.Context, key string, val int64) error
	Expire(ctx context.Context, key string, ttl time.Duration, nx bool) error
}

// Store implements the embedding budget tracker's counter store.
type Store struct {
	kv    kv
	grace time.Duration
	now   func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithGrace sets how long a counter survives past the end of its window.
func WithGrace(d time.Duration) Option {
	return func(s *Store) {
		if d >= 0 {
			s.grace = d
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New wraps a key-value store.
func New(kv kv, opts ...Option) *Store {
	s := &Store{kv: kv, grace: DefaultGrace, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s
}

// IncrBy adds val to the counter. The first write in a window pins its
// expiry; later writes leave it alone (EXPIRE NX).
func (s *Store) IncrBy(ctx context.Context, key string, val int64) error {
	if err := s.kv.IncrBy(ctx, key, val); err != nil {
		return fmt.Errorf("budget: incr %s: %w", key, err)
	}
	if err := s.kv.Expire(ctx, key, s.expiry(key), true); err != nil {
		return fmt.Errorf("budget: expire %s: %w", key, err)
	}
	return nil
}

// Get reads the counter. A missing key reads as 0.
func (s *Store) Get(ctx context.Context, key string) (int64, error) {
	raw, err := s.kv.Get(ctx, key)
	switch {
	case errors.Is(err, db.ErrKeyNotFound):
		return 0, nil
	case err != nil:
		return 0, fmt.Errorf("budget: get %s: %w", key, err)
	}
	n, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("budget: counter %s is not an integer: %w", key, err)
	}
	return n, nil
}

// expiry is the time left until the key's window closes, plus grace.
// It never drops below grace, so a late write for a past window still expires.
func (s *Store) expiry(key string) time.Duration {
	end, ok := windowEnd(key)
	if !ok {
		return fallbackTTL
	}
	ttl := end.Sub(s.now().UTC()) + s.grace
	if ttl < s.grace {
		ttl = s.grace
	}
	if ttl < time.Second {
		ttl = time.Second
	}
	return ttl
}

// windowEnd parses the trailing period and stamp of a counter key.
func windowEnd(key string) (time.Time, bool) {
	i := strings.LastIndexByte(key, ':')
	if i <= 0 {
		return time.Time{}, false
	}
	stamp, rest := key[i+1:], key[:i]
	period := rest[strings.LastIndexByte(rest, ':')+1:]

	switch period {
	case "daily":
		t, err := time.Parse(time.DateOnly, stamp)
		if err != nil {
			return time.Time{}, false
		}
		return t.AddDate(0, 0, 1), true
	case "monthly":
		t, err := time.Parse("2006-01", stamp)
		if err != nil {
			return time.Time{}, false
		}
		return t.AddDate(0, 1, 0), true
	}
	return time.Time{}, false
}
