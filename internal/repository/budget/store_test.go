package budget

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kailas-cloud/bitlens/internal/db"
)

type expireCall struct {
	key string
	ttl time.Duration
	nx  bool
}

type mockStore struct {
	values  map[string][]byte
	getErr  error
	incrErr error
	incrs   map[string]int64
	expires []expireCall
}

func newMockStore() *mockStore {
	return &mockStore{values: map[string][]byte{}, incrs: map[string]int64{}}
}

func (m *mockStore) Get(_ context.Context, key string) ([]byte, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	v, ok := m.values[key]
	if !ok {
		return nil, db.ErrKeyNotFound
	}
	return v, nil
}

func (m *mockStore) IncrBy(_ context.Context, key string, val int64) error {
	if m.incrErr != nil {
		return m.incrErr
	}
	m.incrs[key] += val
	return nil
}

func (m *mockStore) Expire(_ context.Context, key string, ttl time.Duration, nx bool) error {
	m.expires = append(m.expires, expireCall{key: key, ttl: ttl, nx: nx})
	return nil
}

var testNow = time.Date(2026, 10, 17, 18, 0, 0, 0, time.UTC)

func TestStore_IncrByExpiresAfterWindow(t *testing.T) {
	tests := map[string]struct {
		key  string
		want time.Duration
	}{
		"daily":           {key: "bitlens:budget:openai:daily:2026-10-17", want: 6*time.Hour + DefaultGrace},
		"monthly":         {key: "bitlens:budget:openai:monthly:2026-10", want: 14*24*time.Hour + 6*time.Hour + DefaultGrace},
		"past day":        {key: "bitlens:budget:openai:daily:2026-10-10", want: DefaultGrace},
		"unknown period":  {key: "bitlens:budget:openai:weekly:2026-42", want: fallbackTTL},
		"unparsable date": {key: "bitlens:budget:openai:daily:yesterday", want: fallbackTTL},
		"no separator":    {key: "counter", want: fallbackTTL},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			ms := newMockStore()
			s := New(ms, WithClock(func() time.Time { return testNow }))

			if err := s.IncrBy(context.Background(), tt.key, 7); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if ms.incrs[tt.key] != 7 {
				t.Errorf("incr = %d, want 7", ms.incrs[tt.key])
			}
			if len(ms.expires) != 1 {
				t.Fatalf("expected 1 EXPIRE call, got %d", len(ms.expires))
			}
			if got := ms.expires[0]; got.ttl != tt.want || !got.nx {
				t.Errorf("expire = %+v, want ttl %v with NX", got, tt.want)
			}
		})
	}
}

func TestStore_ZeroGraceKeepsPositiveTTL(t *testing.T) {
	ms := newMockStore()
	s := New(ms, WithGrace(0), WithClock(func() time.Time { return testNow }))

	if err := s.IncrBy(context.Background(), "bitlens:budget:openai:daily:2026-10-01", 1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ms.expires[0].ttl != time.Second {
		t.Errorf("ttl = %v, want 1s", ms.expires[0].ttl)
	}
}

func TestWithGrace_IgnoresNegative(t *testing.T) {
	s := New(newMockStore(), WithGrace(-time.Hour))
	if s.grace != DefaultGrace {
		t.Errorf("grace = %v, want %v", s.grace, DefaultGrace)
	}
}

func TestStore_IncrByError(t *testing.T) {
	ms := newMockStore()
	ms.incrErr = errors.New("down")
	s := New(ms)

	if err := s.IncrBy(context.Background(), "k:daily:x", 1); err == nil {
		t.Fatal("expected error")
	}
	if len(ms.expires) != 0 {
		t.Error("EXPIRE must not run after a failed INCRBY")
	}
}

func TestStore_GetMissingIsZero(t *testing.T) {
	s := New(newMockStore())

	v, err := s.Get(context.Background(), "absent")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != 0 {
		t.Errorf("expected 0, got %d", v)
	}
}

func TestStore_GetParses(t *testing.T) {
	ms := newMockStore()
	ms.values["k"] = []byte("1234")
	s := New(ms)

	v, err := s.Get(context.Background(), "k")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != 1234 {
		t.Errorf("expected 1234, got %d", v)
	}
}

func TestStore_GetGarbage(t *testing.T) {
	ms := newMockStore()
	ms.values["k"] = []byte("abc")
	s := New(ms)

	if _, err := s.Get(context.Background(), "k"); err == nil {
		t.Fatal("expected parse error")
	}
}
