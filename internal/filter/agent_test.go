package filter

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/duskfall/duskfall/internal/settings"
	"github.com/duskfall/duskfall/pkg/config"
	"github.com/duskfall/duskfall/pkg/mqtt"
	"github.com/duskfall/duskfall/pkg/redis"
)

// fakeRedis is an in-memory stand-in for the Redis client
type fakeRedis struct {
	mu      sync.Mutex
	strings map[string]string
	hashes  map[string]map[string]string
	lists   map[string][]string
	failSet bool
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{
		strings: make(map[string]string),
		hashes:  make(map[string]map[string]string),
		lists:   make(map[string][]string),
	}
}

func (f *fakeRedis) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failSet {
		return fmt.Errorf("set unavailable")
	}
	switch v := value.(type) {
	case []byte:
		f.strings[key] = string(v)
	case string:
		f.strings[key] = v
	default:
		f.strings[key] = fmt.Sprintf("%v", v)
	}
	return nil
}

func (f *fakeRedis) Get(ctx context.Context, key string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	val, ok := f.strings[key]
	if !ok {
		return "", fmt.Errorf("key %s: %w", key, redis.ErrNotFound)
	}
	return val, nil
}

func (f *fakeRedis) Del(ctx context.Context, keys ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, key := range keys {
		delete(f.strings, key)
		delete(f.hashes, key)
		delete(f.lists, key)
	}
	return nil
}

func (f *fakeRedis) HSet(ctx context.Context, key string, field string, value interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.hashes[key] == nil {
		f.hashes[key] = make(map[string]string)
	}
	f.hashes[key][field] = fmt.Sprintf("%v", value)
	return nil
}

func (f *fakeRedis) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]string, len(f.hashes[key]))
	for field, value := range f.hashes[key] {
		out[field] = value
	}
	return out, nil
}

func (f *fakeRedis) LPush(ctx context.Context, key string, values ...interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, value := range values {
		var item string
		switch v := value.(type) {
		case []byte:
			item = string(v)
		case string:
			item = v
		default:
			item = fmt.Sprintf("%v", v)
		}
		f.lists[key] = append([]string{item}, f.lists[key]...)
	}
	return nil
}

func (f *fakeRedis) LTrim(ctx context.Context, key string, start, stop int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	list := f.lists[key]
	if start < 0 {
		start = 0
	}
	if stop >= int64(len(list)) {
		stop = int64(len(list)) - 1
	}
	if start > stop || len(list) == 0 {
		f.lists[key] = nil
		return nil
	}
	f.lists[key] = list[start : stop+1]
	return nil
}

func (f *fakeRedis) LLen(ctx context.Context, key string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return int64(len(f.lists[key])), nil
}

func (f *fakeRedis) LRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	list := f.lists[key]
	if start < 0 {
		start = 0
	}
	if stop >= int64(len(list)) {
		stop = int64(len(list)) - 1
	}
	if start > stop {
		return nil, nil
	}
	return append([]string(nil), list[start:stop+1]...), nil
}

func (f *fakeRedis) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return nil
}

func (f *fakeRedis) Ping(ctx context.Context) error {
	return nil
}

func (f *fakeRedis) Close() error {
	return nil
}

// mockMQTT captures published messages
type mockMQTT struct {
	mu         sync.Mutex
	published  []publishedMsg
	failTopics map[string]bool
}

type publishedMsg struct {
	topic    string
	retained bool
	payload  []byte
}

func newMockMQTT() *mockMQTT {
	return &mockMQTT{failTopics: make(map[string]bool)}
}

func (m *mockMQTT) Connect(ctx context.Context) error { return nil }
func (m *mockMQTT) Disconnect()                       {}
func (m *mockMQTT) IsConnected() bool                 { return true }

func (m *mockMQTT) Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error {
	return nil
}

func (m *mockMQTT) Publish(topic string, qos byte, retained bool, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failTopics[topic] {
		return fmt.Errorf("target unreachable")
	}
	m.published = append(m.published, publishedMsg{
		topic:    topic,
		retained: retained,
		payload:  append([]byte(nil), payload...),
	})
	return nil
}

func (m *mockMQTT) messagesFor(topic string) []publishedMsg {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []publishedMsg
	for _, msg := range m.published {
		if msg.topic == topic {
			out = append(out, msg)
		}
	}
	return out
}

func newTestAgent(t *testing.T) (*Agent, *mockMQTT, *fakeRedis) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	cfg := config.NewConfig()
	broker := newMockMQTT()
	store := newFakeRedis()
	return NewAgent(broker, store, nil, cfg, logger), broker, store
}

func writeSettings(t *testing.T, a *Agent, s settings.Settings) {
	t.Helper()
	if err := a.store.Write(context.Background(), s); err != nil {
		t.Fatalf("failed to seed settings: %v", err)
	}
}

func readSettings(t *testing.T, a *Agent) settings.Settings {
	t.Helper()
	s, err := a.store.Read(context.Background())
	if err != nil {
		t.Fatalf("failed to read settings: %v", err)
	}
	return s
}

func TestReconcileIsIdempotent(t *testing.T) {
	a, _, store := newTestAgent(t)
	ctx := context.Background()

	s := settings.Defaults()
	s.Enabled = true
	s.ManualActive = true
	s.Intensity = 80
	writeSettings(t, a, s)

	a.reconcile(ctx, "tick")
	first := readSettings(t, a)

	a.reconcile(ctx, "tick")
	second := readSettings(t, a)

	if first.CurrentIntensity != 80 || second.CurrentIntensity != 80 {
		t.Errorf("persisted intensities = %d then %d, want 80 both times",
			first.CurrentIntensity, second.CurrentIntensity)
	}
	if !second.IsActive {
		t.Error("expected is_active after reconciliation")
	}

	// Only the first cycle changed the state, so only one history entry
	if count := int64(len(store.lists[redis.HistoryKey])); count != 1 {
		t.Errorf("history entries = %d, want 1", count)
	}
}

func TestReconcilePersistsDisabledState(t *testing.T) {
	a, _, _ := newTestAgent(t)
	ctx := context.Background()

	s := settings.Defaults()
	s.Enabled = false
	s.ManualActive = true
	s.Intensity = 90
	s.CurrentIntensity = 90
	writeSettings(t, a, s)

	a.reconcile(ctx, "tick")

	got := readSettings(t, a)
	if got.CurrentIntensity != 0 || got.IsActive {
		t.Errorf("disabled state persisted as intensity %d active %v, want 0/false",
			got.CurrentIntensity, got.IsActive)
	}
}

func TestReconcileSkippedWhenStorageFails(t *testing.T) {
	a, broker, store := newTestAgent(t)
	ctx := context.Background()

	s := settings.Defaults()
	s.ManualActive = true
	writeSettings(t, a, s)

	store.failSet = true
	a.reconcile(ctx, "tick")

	// The cycle aborted before broadcasting
	if msgs := broker.messagesFor(mqtt.TopicStateContext); len(msgs) != 0 {
		t.Errorf("expected no state context after storage failure, got %d", len(msgs))
	}
}

func TestSettingsUpdateAcksAndReconcilesImmediately(t *testing.T) {
	a, broker, _ := newTestAgent(t)

	update := settings.Defaults()
	update.Enabled = true
	update.ManualActive = true
	update.Intensity = 75
	payload, err := json.Marshal(update)
	if err != nil {
		t.Fatalf("marshal update: %v", err)
	}

	a.handleEvent(event{kind: evSettingsUpdate, id: "popup", payload: payload})

	acks := broker.messagesFor(mqtt.SettingsAckTopic("popup"))
	if len(acks) != 1 {
		t.Fatalf("expected 1 ack, got %d", len(acks))
	}
	var ack struct {
		Success bool `json:"success"`
	}
	if err := json.Unmarshal(acks[0].payload, &ack); err != nil {
		t.Fatalf("parse ack: %v", err)
	}
	if !ack.Success {
		t.Error("expected ack success")
	}

	// The reconciliation ran synchronously: derived state is persisted and
	// the retained context is out
	got := readSettings(t, a)
	if got.CurrentIntensity != 75 || !got.IsActive {
		t.Errorf("persisted state = intensity %d active %v, want 75/true",
			got.CurrentIntensity, got.IsActive)
	}

	contexts := broker.messagesFor(mqtt.TopicStateContext)
	if len(contexts) != 1 {
		t.Fatalf("expected 1 state context, got %d", len(contexts))
	}
	if !contexts[0].retained {
		t.Error("state context should be retained")
	}
}

func TestMalformedSettingsUpdateAcksFailure(t *testing.T) {
	a, broker, _ := newTestAgent(t)

	a.handleEvent(event{kind: evSettingsUpdate, id: "popup", payload: []byte("{broken")})

	acks := broker.messagesFor(mqtt.SettingsAckTopic("popup"))
	if len(acks) != 1 {
		t.Fatalf("expected 1 ack, got %d", len(acks))
	}
	var ack struct {
		Success bool `json:"success"`
	}
	if err := json.Unmarshal(acks[0].payload, &ack); err != nil {
		t.Fatalf("parse ack: %v", err)
	}
	if ack.Success {
		t.Error("expected ack failure for malformed record")
	}
}

func TestTargetHelloGetsColdStartPush(t *testing.T) {
	a, broker, _ := newTestAgent(t)

	s := settings.Defaults()
	s.ManualActive = true
	s.Intensity = 66
	writeSettings(t, a, s)

	a.handleEvent(event{kind: evTargetHello, id: "tab-1"})

	if a.TargetCount() != 1 {
		t.Errorf("target count = %d, want 1", a.TargetCount())
	}

	cmds := broker.messagesFor(mqtt.FilterCommandTopic("tab-1"))
	if len(cmds) != 1 {
		t.Fatalf("expected 1 cold-start command, got %d", len(cmds))
	}
	var cmd filterCommand
	if err := json.Unmarshal(cmds[0].payload, &cmd); err != nil {
		t.Fatalf("parse command: %v", err)
	}
	if cmd.Intensity != 66 {
		t.Errorf("cold-start intensity = %d, want 66", cmd.Intensity)
	}
}

func TestBroadcastSkipsUnreachableTarget(t *testing.T) {
	a, broker, _ := newTestAgent(t)
	ctx := context.Background()

	s := settings.Defaults()
	s.ManualActive = true
	writeSettings(t, a, s)

	a.targets.Register("dead")
	a.targets.Register("alive")
	broker.failTopics[mqtt.FilterCommandTopic("dead")] = true

	a.reconcile(ctx, "tick")

	if cmds := broker.messagesFor(mqtt.FilterCommandTopic("alive")); len(cmds) != 1 {
		t.Errorf("live target received %d commands, want 1", len(cmds))
	}
}

func TestStatusRecomputesDerivedFields(t *testing.T) {
	a, broker, _ := newTestAgent(t)

	// Persist a record whose cached derived fields are stale: disabled but
	// still claiming 55% intensity
	s := settings.Defaults()
	s.Enabled = false
	s.CurrentIntensity = 55
	writeSettings(t, a, s)

	a.handleEvent(event{kind: evStatusRequest, id: "popup"})

	replies := broker.messagesFor(mqtt.StatusReplyTopic("popup"))
	if len(replies) != 1 {
		t.Fatalf("expected 1 status reply, got %d", len(replies))
	}

	var reply statusReply
	if err := json.Unmarshal(replies[0].payload, &reply); err != nil {
		t.Fatalf("parse reply: %v", err)
	}
	if reply.Settings.CurrentIntensity != 0 || reply.Settings.IsActive {
		t.Errorf("status derived fields = intensity %d active %v, want recomputed 0/false",
			reply.Settings.CurrentIntensity, reply.Settings.IsActive)
	}
}

func TestLocationDenialKeepsPriorBehavior(t *testing.T) {
	a, _, _ := newTestAgent(t)

	s := settings.Defaults()
	s.ScheduleType = settings.ScheduleAuto
	writeSettings(t, a, s)

	a.handleEvent(event{kind: evLocation, payload: []byte(`{"error":"permission denied"}`)})

	got := readSettings(t, a)
	if got.HasLocation() {
		t.Error("denied geolocation must not set coordinates")
	}
}

func TestLocationUpdateAppliesCoordinates(t *testing.T) {
	a, _, _ := newTestAgent(t)

	writeSettings(t, a, settings.Defaults())

	a.handleEvent(event{kind: evLocation, payload: []byte(`{"latitude":51.5,"longitude":-0.12}`)})

	got := readSettings(t, a)
	if !got.HasLocation() {
		t.Fatal("expected coordinates to be applied")
	}
	if *got.Latitude != 51.5 || *got.Longitude != -0.12 {
		t.Errorf("coordinates = %v/%v, want 51.5/-0.12", *got.Latitude, *got.Longitude)
	}
}

func TestStalePruneRemovesTargetMetadata(t *testing.T) {
	a, _, _ := newTestAgent(t)
	ctx := context.Background()

	a.targets.Register("tab-9")
	if err := a.redis.HSet(ctx, redis.TargetMetaKey("tab-9"), "last_intensity", 40); err != nil {
		t.Fatalf("seed meta: %v", err)
	}

	// Force the entry stale
	a.targets.mu.Lock()
	a.targets.lastSeen["tab-9"] = time.Now().Add(-time.Hour)
	a.targets.mu.Unlock()

	a.pruneTargets(ctx)

	if a.TargetCount() != 0 {
		t.Errorf("target count after prune = %d, want 0", a.TargetCount())
	}
	meta, err := a.redis.HGetAll(ctx, redis.TargetMetaKey("tab-9"))
	if err != nil {
		t.Fatalf("read meta: %v", err)
	}
	if len(meta) != 0 {
		t.Errorf("expected metadata removed, got %v", meta)
	}
}
