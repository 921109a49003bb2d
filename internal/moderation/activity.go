package moderation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/wanz-bot/Api/internal/models"
	"github.com/wanz-bot/Api/internal/storage"
)

// LogPrefix is the store prefix of activity log entries.
const LogPrefix = "log:"

// ActivityLog is an append-only record of successful inference calls. Keys
// sort chronologically, so listing the prefix yields entries oldest first.
type ActivityLog struct {
	store storage.Store
	now   func() time.Time
}

func NewActivityLog(store storage.Store) *ActivityLog {
	return &ActivityLog{store: store, now: func() time.Time { return time.Now().UTC() }}
}

// Append records a call. The prompt is cut to models.PromptExcerptLen runes.
func (a *ActivityLog) Append(ctx context.Context, ip, model, prompt string) (*models.ActivityLogEntry, error) {
	ts := a.now()
	id := fmt.Sprintf("%020d-%s", ts.UnixNano(), uuid.New().String()[:8])
	entry := &models.ActivityLogEntry{
		ID:        id,
		IP:        ip,
		Model:     model,
		Prompt:    models.Excerpt(prompt, models.PromptExcerptLen),
		Timestamp: ts,
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return nil, err
	}
	if err := a.store.Put(ctx, LogPrefix+id, data); err != nil {
		return nil, fmt.Errorf("append activity: %w", err)
	}
	return entry, nil
}

// Recent returns up to n entries, newest first. n <= 0 returns everything.
func (a *ActivityLog) Recent(ctx context.Context, n int) ([]models.ActivityLogEntry, error) {
	keys, err := a.store.List(ctx, LogPrefix)
	if err != nil {
		return nil, fmt.Errorf("list activity: %w", err)
	}
	if n <= 0 || n > len(keys) {
		n = len(keys)
	}

	entries := make([]models.ActivityLogEntry, 0, n)
	for i := len(keys) - 1; i >= 0 && len(entries) < n; i-- {
		entry, err := a.get(ctx, keys[i])
		if err != nil {
			return nil, err
		}
		if entry != nil {
			entries = append(entries, *entry)
		}
	}
	return entries, nil
}

// All returns every entry, oldest first.
func (a *ActivityLog) All(ctx context.Context) ([]models.ActivityLogEntry, error) {
	entries, err := a.Recent(ctx, 0)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	return entries, nil
}

// DeleteAll removes every entry and returns how many were deleted.
func (a *ActivityLog) DeleteAll(ctx context.Context) (int, error) {
	n, err := storage.DeletePrefix(ctx, a.store, LogPrefix)
	if err != nil {
		return n, fmt.Errorf("delete activity: %w", err)
	}
	return n, nil
}

// get returns nil when the entry was deleted between List and Get.
func (a *ActivityLog) get(ctx context.Context, key string) (*models.ActivityLogEntry, error) {
	raw, err := a.store.Get(ctx, key)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load activity %s: %w", key, err)
	}
	var entry models.ActivityLogEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return nil, fmt.Errorf("decode activity %s: %w", key, err)
	}
	if entry.ID == "" {
		entry.ID = strings.TrimPrefix(key, LogPrefix)
	}
	return &entry, nil
}
