package filter

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"testing"

	"github.com/duskfall/duskfall/internal/settings"
)

func newTestHistory(max int) (*History, *fakeRedis) {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	store := newFakeRedis()
	return NewHistory(store, max, logger), store
}

func TestHistoryAppendAndRecent(t *testing.T) {
	h, _ := newTestHistory(10)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		entry := HistoryEntry{
			CycleID:      fmt.Sprintf("cycle-%d", i),
			Trigger:      "tick",
			Mode:         settings.ModeBluelight,
			Intensity:    i * 10,
			Active:       i > 0,
			WindowSource: WindowManual,
		}
		if err := h.Append(ctx, entry); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	entries, err := h.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("got %d entries, want 3", len(entries))
	}

	// Newest first
	if entries[0].CycleID != "cycle-2" {
		t.Errorf("first entry = %s, want cycle-2", entries[0].CycleID)
	}
	if entries[0].Timestamp == "" {
		t.Error("expected timestamp to be filled in")
	}
}

func TestHistoryTrimsToCap(t *testing.T) {
	h, _ := newTestHistory(2)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		entry := HistoryEntry{CycleID: fmt.Sprintf("cycle-%d", i), Trigger: "tick"}
		if err := h.Append(ctx, entry); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	count, err := h.Len(ctx)
	if err != nil {
		t.Fatalf("len: %v", err)
	}
	if count != 2 {
		t.Errorf("history length = %d, want 2", count)
	}

	entries, err := h.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if entries[0].CycleID != "cycle-4" || entries[1].CycleID != "cycle-3" {
		t.Errorf("kept entries = %s, %s, want cycle-4, cycle-3",
			entries[0].CycleID, entries[1].CycleID)
	}
}

func TestHistoryDisabledWhenCapZero(t *testing.T) {
	h, store := newTestHistory(0)
	ctx := context.Background()

	if err := h.Append(ctx, HistoryEntry{CycleID: "cycle-0"}); err != nil {
		t.Fatalf("append: %v", err)
	}

	if len(store.lists) != 0 {
		t.Errorf("expected nothing stored, got %v", store.lists)
	}
}
