package embedding

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/bitlens/internal/domain"
)

// BudgetAction defines behavior when token budget is exceeded.
type BudgetAction string

const (
	// BudgetActionWarn logs a warning but allows the request.
	BudgetActionWarn BudgetAction = "warn"
	// BudgetActionReject blocks the request.
	BudgetActionReject BudgetAction = "reject"
)

// BudgetStore is the persistence interface for budget counters.
type BudgetStore interface {
	IncrBy(ctx context.Context, key string, val int64) error
	Get(ctx context.Context, key string) (int64, error)
}

// BudgetLimits caps token spend per UTC day and month. Zero means unlimited.
type BudgetLimits struct {
	Daily   int64
	Monthly int64
	Action  BudgetAction
}

// BudgetSnapshot is a point-in-time view of the tracker, for health and usage reports.
type BudgetSnapshot struct {
	Provider         string `json:"provider"`
	DailyUsed        int64  `json:"daily_used"`
	DailyLimit       int64  `json:"daily_limit"`
	MonthlyUsed      int64  `json:"monthly_used"`
	MonthlyLimit     int64  `json:"monthly_limit"`
	Exhausted        bool   `json:"exhausted"`
	DailyResetsAtUTC string `json:"daily_resets_at"`
}

// BudgetTracker counts tokens in memory and writes increments behind to an optional store.
// Check never leaves the process, so a long bake does not pay a round-trip per batch.
type BudgetTracker struct {
	mu          sync.Mutex
	limits      BudgetLimits
	provider    string
	dailyUsed   int64
	monthlyUsed int64
	day         time.Time
	month       time.Time
	now         func() time.Time
	store       BudgetStore
	logger      *zap.Logger
}

// BudgetOption configures a BudgetTracker.
type BudgetOption func(*BudgetTracker)

// WithClock replaces time.Now; tests use it to cross day and month boundaries.
func WithClock(now func() time.Time) BudgetOption {
	return func(b *BudgetTracker) { b.now = now }
}

// NewBudgetTracker creates a budget tracker with the given limits.
func NewBudgetTracker(provider string, limits BudgetLimits, logger *zap.Logger, opts ...BudgetOption) *BudgetTracker {
	if limits.Action == "" {
		limits.Action = BudgetActionWarn
	}
	b := &BudgetTracker{
		limits:   limits,
		provider: provider,
		now:      time.Now,
		logger:   logger,
	}
	for _, o := range opts {
		o(b)
	}
	now := b.now().UTC()
	b.day, b.month = truncateToDay(now), truncateToMonth(now)
	return b
}

// WithStore attaches a persistence store and loads the current period's counters.
func (b *BudgetTracker) WithStore(ctx context.Context, store BudgetStore) *BudgetTracker {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.store = store
	b.rollover()

	if val, err := store.Get(ctx, b.dailyKey(b.day)); err == nil {
		b.dailyUsed = val
	} else {
		b.logger.Warn("Failed to load daily budget from store", zap.Error(err))
	}
	if val, err := store.Get(ctx, b.monthlyKey(b.month)); err == nil {
		b.monthlyUsed = val
	} else {
		b.logger.Warn("Failed to load monthly budget from store", zap.Error(err))
	}

	b.logger.Info("Budget loaded from store",
		zap.String("provider", b.provider),
		zap.Int64("daily_used", b.dailyUsed),
		zap.Int64("monthly_used", b.monthlyUsed),
	)
	return b
}

func (b *BudgetTracker) dailyKey(t time.Time) string {
	return fmt.Sprintf("%sbudget:%s:daily:%s", domain.KeyPrefix, b.provider, t.Format(time.DateOnly))
}

func (b *BudgetTracker) monthlyKey(t time.Time) string {
	return fmt.Sprintf("%sbudget:%s:monthly:%s", domain.KeyPrefix, b.provider, t.Format("2006-01"))
}

// Check returns domain.ErrEmbeddingQuotaExceeded when a limit is spent and the action is reject.
func (b *BudgetTracker) Check(_ context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.rollover()
	if !b.exhausted() {
		return nil
	}
	if b.limits.Action == BudgetActionReject {
		return domain.ErrEmbeddingQuotaExceeded
	}

	b.logger.Warn("Token budget exceeded",
		zap.String("provider", b.provider),
		zap.Int64("daily_used", b.dailyUsed),
		zap.Int64("daily_limit", b.limits.Daily),
		zap.Int64("monthly_used", b.monthlyUsed),
		zap.Int64("monthly_limit", b.limits.Monthly),
	)
	return nil
}

// Record adds consumed tokens, then persists the increment when a store is attached.
func (b *BudgetTracker) Record(tokens int64) {
	if tokens <= 0 {
		return
	}
	b.mu.Lock()
	b.rollover()
	b.dailyUsed += tokens
	b.monthlyUsed += tokens
	store := b.store
	dailyKey, monthlyKey := b.dailyKey(b.day), b.monthlyKey(b.month)
	b.mu.Unlock()

	if store == nil {
		return
	}

	// Detached from the caller so a cancelled request still gets billed.
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := store.IncrBy(ctx, dailyKey, tokens); err != nil {
		b.logger.Warn("Failed to persist daily budget", zap.String("key", dailyKey), zap.Error(err))
	}
	if err := store.IncrBy(ctx, monthlyKey, tokens); err != nil {
		b.logger.Warn("Failed to persist monthly budget", zap.String("key", monthlyKey), zap.Error(err))
	}
}

// RemainingDaily returns tokens left in the daily budget (-1 if unlimited).
func (b *BudgetTracker) RemainingDaily() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rollover()
	return remaining(b.limits.Daily, b.dailyUsed)
}

// RemainingMonthly returns tokens left in the monthly budget (-1 if unlimited).
func (b *BudgetTracker) RemainingMonthly() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rollover()
	return remaining(b.limits.Monthly, b.monthlyUsed)
}

// Snapshot reports usage against limits.
func (b *BudgetTracker) Snapshot() BudgetSnapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rollover()
	return BudgetSnapshot{
		Provider:         b.provider,
		DailyUsed:        b.dailyUsed,
		DailyLimit:       b.limits.Daily,
		MonthlyUsed:      b.monthlyUsed,
		MonthlyLimit:     b.limits.Monthly,
		Exhausted:        b.exhausted(),
		DailyResetsAtUTC: b.day.AddDate(0, 0, 1).Format(time.RFC3339),
	}
}

func (b *BudgetTracker) exhausted() bool {
	return (b.limits.Daily > 0 && b.dailyUsed >= b.limits.Daily) ||
		(b.limits.Monthly > 0 && b.monthlyUsed >= b.limits.Monthly)
}

// rollover zeroes counters when the day or month changes. Caller holds mu.
func (b *BudgetTracker) rollover() {
	now := b.now().UTC()
	if today := truncateToDay(now); today.After(b.day) {
		b.dailyUsed = 0
		b.day = today
	}
	if month := truncateToMonth(now); month.After(b.month) {
		b.monthlyUsed = 0
		b.month = month
	}
}

func remaining(limit, used int64) int64 {
	if limit == 0 {
		return -1
	}
	return max(limit-used, 0)
}

func truncateToDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func truncateToMonth(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}
