package redis

import "fmt"

// Key layout for filter state.

// SettingsKey is the fixed key holding the single persisted settings record.
const SettingsKey = "filter:settings"

// HistoryKey is the list of recent reconciliation cycles (newest first).
const HistoryKey = "filter:history"

// TargetMetaKey returns the key for per-target delivery metadata (hash).
// Pattern: meta:target:{id}
func TargetMetaKey(id string) string {
	return fmt.Sprintf("meta:target:%s", id)
}
