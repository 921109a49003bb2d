// Package ledger keeps per-API-key usage counters and enforces the daily
// quota at admission time.
package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/wanz-bot/Api/internal/models"
	"github.com/wanz-bot/Api/internal/storage"
	"github.com/wanz-bot/Api/internal/utils"
)

// UsagePrefix is the store prefix of usage records, keyed by API key.
const UsagePrefix = "usage:"

// ErrContention is returned when a conditional update keeps losing races.
var ErrContention = errors.New("usage record update contention")

// errNoChange lets a mutation skip the write.
var errNoChange = errors.New("no change")

// Config holds ledger settings.
type Config struct {
	RecentLogSize int
	CASRetries    int
}

// Admission is the result of a successful CheckAndAdmit. When Reserved is
// true the call has already been counted in UsedToday and must be either
// recorded or released.
type Admission struct {
	APIKey    string
	Limit     int
	UsedToday int
	Reserved  bool
}

// Ledger reads and mutates usage records in a Store.
type Ledger struct {
	store  storage.Store
	cond   storage.ConditionalStore
	cfg    Config
	logger *utils.Logger
	now    func() time.Time
}

// New creates a ledger. Conditional updates are used when store supports them.
func New(store storage.Store, cfg Config) *Ledger {
	if cfg.CASRetries <= 0 {
		cfg.CASRetries = 8
	}
	l := &Ledger{
		store:  store,
		cfg:    cfg,
		logger: utils.NewLogger("ledger"),
		now:    func() time.Time { return time.Now().UTC() },
	}
	if cs, ok := storage.AsConditional(store); ok {
		l.cond = cs
	} else {
		l.logger.Warn("store has no conditional writes; quota admission is check-then-write")
	}
	return l
}

func usageKey(apiKey string) string {
	return UsagePrefix + apiKey
}

// Init writes an empty record for apiKey, replacing any existing one.
func (l *Ledger) Init(ctx context.Context, apiKey string) error {
	data, err := json.Marshal(models.NewUsageRecord(apiKey))
	if err != nil {
		return err
	}
	if err := l.store.Put(ctx, usageKey(apiKey), data); err != nil {
		return fmt.Errorf("init usage %s: %w", apiKey, err)
	}
	return nil
}

// Get returns the record for apiKey, creating an empty one if it is missing.
func (l *Ledger) Get(ctx context.Context, apiKey string) (*models.UsageRecord, error) {
	rec, _, err := l.load(ctx, apiKey)
	if err != nil {
		return nil, err
	}
	if rec != nil {
		return rec, nil
	}

	// Registration writes the account before the usage record, so a crash in
	// between leaves an account without one.
	rec = models.NewUsageRecord(apiKey)
	rec.UpdatedAt = l.now()
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, err
	}
	if l.cond != nil {
		if _, err := l.cond.PutIfAbsent(ctx, usageKey(apiKey), data); err != nil {
			return nil, fmt.Errorf("create usage %s: %w", apiKey, err)
		}
		return l.mustLoad(ctx, apiKey)
	}
	if err := l.store.Put(ctx, usageKey(apiKey), data); err != nil {
		return nil, fmt.Errorf("create usage %s: %w", apiKey, err)
	}
	return rec, nil
}

// CheckAndAdmit rejects the call with ErrTooManyRequests when the key has
// used its daily limit. With a conditional store the admission also
// reserves one unit so concurrent callers cannot overrun the limit.
func (l *Ledger) CheckAndAdmit(ctx context.Context, apiKey string, dailyLimit int) (*Admission, error) {
	adm := &Admission{APIKey: apiKey, Limit: dailyLimit}

	if l.cond == nil {
		rec, err := l.Get(ctx, apiKey)
		if err != nil {
			return nil, err
		}
		if rec.UsedToday >= dailyLimit {
			return nil, quotaExceeded(rec.UsedToday, dailyLimit)
		}
		adm.UsedToday = rec.UsedToday
		return adm, nil
	}

	rec, err := l.update(ctx, apiKey, func(rec *models.UsageRecord) error {
		if rec.UsedToday >= dailyLimit {
			return quotaExceeded(rec.UsedToday, dailyLimit)
		}
		rec.UsedToday++
		return nil
	})
	if err != nil {
		return nil, err
	}
	adm.UsedToday = rec.UsedToday
	adm.Reserved = true
	return adm, nil
}

// RecordUsage commits a successful call. Usage is counted per call;
// tokenCount is kept only in the recent log.
func (l *Ledger) RecordUsage(ctx context.Context, adm *Admission, model string, tokenCount int) (*models.UsageRecord, error) {
	return l.update(ctx, adm.APIKey, func(rec *models.UsageRecord) error {
		if !adm.Reserved {
			rec.UsedToday++
		}
		rec.TotalUsed++
		rec.AppendEntry(models.UsageEntry{
			Timestamp:  l.now(),
			Model:      model,
			TokenCount: tokenCount,
		}, l.cfg.RecentLogSize)
		return nil
	})
}

// Release returns a reserved unit after a failed upstream call, leaving the
// record as it was before admission.
func (l *Ledger) Release(ctx context.Context, adm *Admission) error {
	if adm == nil || !adm.Reserved {
		return nil
	}
	_, err := l.update(ctx, adm.APIKey, func(rec *models.UsageRecord) error {
		if rec.UsedToday == 0 {
			// counters were reset while the call was in flight
			return errNoChange
		}
		rec.UsedToday--
		return nil
	})
	return err
}

// ResetDailyCounters zeroes used_today on every usage record and returns the
// number of records changed.
func (l *Ledger) ResetDailyCounters(ctx context.Context) (int, error) {
	keys, err := l.store.List(ctx, UsagePrefix)
	if err != nil {
		return 0, fmt.Errorf("list usage records: %w", err)
	}

	touched := 0
	for _, key := range keys {
		apiKey := key[len(UsagePrefix):]
		changed := false
		_, err := l.update(ctx, apiKey, func(rec *models.UsageRecord) error {
			if rec.UsedToday == 0 {
				return errNoChange
			}
			rec.UsedToday = 0
			changed = true
			return nil
		})
		if err != nil {
			return touched, fmt.Errorf("reset %s: %w", apiKey, err)
		}
		if changed {
			touched++
		}
	}
	return touched, nil
}

// DropAll deletes every usage record.
func (l *Ledger) DropAll(ctx context.Context) (int, error) {
	n, err := storage.DeletePrefix(ctx, l.store, UsagePrefix)
	if err != nil {
		return n, fmt.Errorf("drop usage records: %w", err)
	}
	return n, nil
}

// load returns the record and its raw bytes, or nil when absent.
func (l *Ledger) load(ctx context.Context, apiKey string) (*models.UsageRecord, []byte, error) {
	raw, err := l.store.Get(ctx, usageKey(apiKey))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("load usage %s: %w", apiKey, err)
	}
	var rec models.UsageRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, nil, fmt.Errorf("decode usage %s: %w", apiKey, err)
	}
	if rec.RecentLog == nil {
		rec.RecentLog = []models.UsageEntry{}
	}
	return &rec, raw, nil
}

func (l *Ledger) mustLoad(ctx context.Context, apiKey string) (*models.UsageRecord, error) {
	rec, _, err := l.load(ctx, apiKey)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, fmt.Errorf("usage %s vanished", apiKey)
	}
	return rec, nil
}

// update applies mutate to the current record and writes it back. With a
// conditional store the write only lands if the record is unchanged since it
// was read, and the whole read-modify-write is retried otherwise.
func (l *Ledger) update(ctx context.Context, apiKey string, mutate func(*models.UsageRecord) error) (*models.UsageRecord, error) {
	for attempt := 0; attempt < l.cfg.CASRetries; attempt++ {
		rec, raw, err := l.load(ctx, apiKey)
		if err != nil {
			return nil, err
		}
		if rec == nil {
			rec = models.NewUsageRecord(apiKey)
		}

		if err := mutate(rec); err != nil {
			if errors.Is(err, errNoChange) {
				return rec, nil
			}
			return nil, err
		}
		rec.UpdatedAt = l.now()

		data, err := json.Marshal(rec)
		if err != nil {
			return nil, err
		}

		if l.cond == nil {
			if err := l.store.Put(ctx, usageKey(apiKey), data); err != nil {
				return nil, fmt.Errorf("save usage %s: %w", apiKey, err)
			}
			return rec, nil
		}

		var ok bool
		if raw == nil {
			ok, err = l.cond.PutIfAbsent(ctx, usageKey(apiKey), data)
		} else {
			ok, err = l.cond.CompareAndSwap(ctx, usageKey(apiKey), raw, data)
		}
		if err != nil {
			return nil, fmt.Errorf("save usage %s: %w", apiKey, err)
		}
		if ok {
			return rec, nil
		}
		l.logger.Debug("usage record changed concurrently, retrying", "api_key", apiKey, "attempt", attempt+1)
	}
	return nil, fmt.Errorf("%w: %s", ErrContention, apiKey)
}

func quotaExceeded(used, limit int) error {
	return models.Errorf(models.ErrTooManyRequests, "daily limit reached (%d/%d)", used, limit)
}
