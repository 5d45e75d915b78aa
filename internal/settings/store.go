package settings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/duskfall/duskfall/pkg/redis"
)

// Store persists the settings record in Redis under a fixed key. There is no
// partial-field update: callers read, modify and write the whole record.
// Concurrent writers race last-writer-wins, bounded by the tick interval.
type Store struct {
	redis  redis.Client
	logger *slog.Logger
}

// NewStore creates a settings store backed by the given Redis client
func NewStore(redisClient redis.Client, logger *slog.Logger) *Store {
	return &Store{
		redis:  redisClient,
		logger: logger,
	}
}

// Read loads the stored record merged over defaults. A missing key means a
// fresh install and yields the defaults; a corrupt record is replaced by the
// defaults with a warning. Storage failures propagate to the caller.
func (st *Store) Read(ctx context.Context) (Settings, error) {
	raw, err := st.redis.Get(ctx, redis.SettingsKey)
	if errors.Is(err, redis.ErrNotFound) {
		return Defaults(), nil
	}
	if err != nil {
		return Settings{}, fmt.Errorf("failed to read settings: %w", err)
	}

	s, err := Merge([]byte(raw))
	if err != nil {
		st.logger.Warn("Stored settings are corrupt, falling back to defaults", "error", err)
		return Defaults(), nil
	}
	return s, nil
}

// Write overwrites the whole record
func (st *Store) Write(ctx context.Context, s Settings) error {
	s.Normalize()

	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}

	if err := st.redis.Set(ctx, redis.SettingsKey, data, 0); err != nil {
		return fmt.Errorf("failed to write settings: %w", err)
	}

	st.logger.Debug("Settings persisted",
		"enabled", s.Enabled,
		"mode", s.Mode,
		"schedule_type", s.ScheduleType,
		"current_intensity", s.CurrentIntensity)

	return nil
}
