package filter

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/duskfall/duskfall/internal/settings"
	"github.com/duskfall/duskfall/pkg/redis"
)

// HistoryEntry records one reconciliation cycle that changed the visible
// state. No-change cycles append nothing, which keeps the tick idempotent.
type HistoryEntry struct {
	CycleID      string        `json:"cycle_id"`
	Timestamp    string        `json:"timestamp"`
	Trigger      string        `json:"trigger"`
	Mode         settings.Mode `json:"mode"`
	Intensity    int           `json:"intensity"`
	Active       bool          `json:"active"`
	WindowSource WindowSource  `json:"window_source"`
}

// History keeps recent reconciliation cycles in a capped Redis list,
// newest first.
type History struct {
	redis      redis.Client
	maxEntries int
	logger     *slog.Logger
}

// NewHistory creates a history writer capped at maxEntries
func NewHistory(redisClient redis.Client, maxEntries int, logger *slog.Logger) *History {
	return &History{
		redis:      redisClient,
		maxEntries: maxEntries,
		logger:     logger,
	}
}

// Append records an entry and trims the list to the configured cap
func (h *History) Append(ctx context.Context, entry HistoryEntry) error {
	if h.maxEntries == 0 {
		return nil
	}
	if entry.Timestamp == "" {
		entry.Timestamp = time.Now().Format(time.RFC3339)
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal history entry: %w", err)
	}

	if err := h.redis.LPush(ctx, redis.HistoryKey, data); err != nil {
		return err
	}
	if err := h.redis.LTrim(ctx, redis.HistoryKey, 0, int64(h.maxEntries)-1); err != nil {
		return err
	}

	h.logger.Debug("History entry recorded",
		"cycle_id", entry.CycleID,
		"trigger", entry.Trigger,
		"intensity", entry.Intensity)

	return nil
}

// Recent returns up to limit entries, newest first
func (h *History) Recent(ctx context.Context, limit int64) ([]HistoryEntry, error) {
	raw, err := h.redis.LRange(ctx, redis.HistoryKey, 0, limit-1)
	if err != nil {
		return nil, err
	}

	entries := make([]HistoryEntry, 0, len(raw))
	for _, item := range raw {
		var entry HistoryEntry
		if err := json.Unmarshal([]byte(item), &entry); err != nil {
			// A malformed entry is skipped, not fatal
			h.logger.Warn("Skipping malformed history entry", "error", err)
			continue
		}
		entries = append(entries, entry)
	}

	return entries, nil
}

// Len returns the number of stored entries
func (h *History) Len(ctx context.Context) (int64, error) {
	return h.redis.LLen(ctx, redis.HistoryKey)
}
