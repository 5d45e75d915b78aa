package filter

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/duskfall/duskfall/internal/audit"
	"github.com/duskfall/duskfall/internal/settings"
	"github.com/duskfall/duskfall/pkg/config"
	"github.com/duskfall/duskfall/pkg/mqtt"
	"github.com/duskfall/duskfall/pkg/redis"
)

type eventKind int

const (
	evTick eventKind = iota
	evSettingsUpdate
	evStatusRequest
	evTargetHello
	evTargetBye
	evLocation
)

// event is one trigger for the reconciliation loop. All triggers funnel
// through a single consumer, so they interleave cooperatively and never run
// in parallel.
type event struct {
	kind    eventKind
	id      string // requester or target id, depending on kind
	payload []byte
}

// filterCommand is the per-target push applied by a rendering target
type filterCommand struct {
	Mode      settings.Mode `json:"mode"`
	Intensity int           `json:"intensity"`
	Enabled   bool          `json:"enabled"`
	Timestamp string        `json:"timestamp"`
}

// statusReply answers a status request with freshly recomputed settings
type statusReply struct {
	Settings  settings.Settings `json:"settings"`
	State     State             `json:"state"`
	Daylight  *Daylight         `json:"daylight,omitempty"`
	Timestamp string            `json:"timestamp"`
}

// Agent runs the reconciliation loop: on every tick or settings change it
// reads the settings, resolves the effective window, persists the derived
// state and fans it out to all known rendering targets.
type Agent struct {
	mqtt    mqtt.Client
	redis   redis.Client
	store   *settings.Store
	history *History
	targets *Registry
	audit   *audit.Recorder // nil when auditing is disabled
	cfg     *config.Config
	logger  *slog.Logger

	ticker   *time.Ticker
	events   chan event
	stopChan chan struct{}
}

// NewAgent creates a new filter agent
func NewAgent(mqttClient mqtt.Client, redisClient redis.Client, auditRecorder *audit.Recorder, cfg *config.Config, logger *slog.Logger) *Agent {
	return &Agent{
		mqtt:     mqttClient,
		redis:    redisClient,
		store:    settings.NewStore(redisClient, logger),
		history:  NewHistory(redisClient, cfg.HistoryMaxEntries, logger),
		targets:  NewRegistry(),
		audit:    auditRecorder,
		cfg:      cfg,
		logger:   logger,
		events:   make(chan event, 64),
		stopChan: make(chan struct{}),
	}
}

// Start starts the filter agent and begins processing
func (a *Agent) Start(ctx context.Context) error {
	a.logger.Info("Starting filter agent",
		"service_name", a.cfg.ServiceName,
		"tick_interval_sec", a.cfg.TickIntervalSec,
		"target_ttl_minutes", a.cfg.TargetTTLMinutes,
		"audit_enabled", a.audit != nil)

	// Connect to MQTT broker
	if err := a.mqtt.Connect(ctx); err != nil {
		return fmt.Errorf("failed to connect to MQTT: %w", err)
	}

	// Verify Redis connection
	if err := a.redis.Ping(ctx); err != nil {
		return fmt.Errorf("failed to ping Redis: %w", err)
	}

	if a.cfg.HasSeedLocation {
		a.seedLocation(ctx)
	}

	subscriptions := map[string]mqtt.MessageHandler{
		mqtt.TopicTargetHello:      a.handleTargetHello,
		mqtt.TopicTargetBye:        a.handleTargetBye,
		mqtt.TopicStatusRequests:   a.handleStatusRequest,
		mqtt.TopicSettingsRequests: a.handleSettingsRequest,
		mqtt.TopicLocationContext:  a.handleLocationContext,
	}
	for topic, handler := range subscriptions {
		if err := a.mqtt.Subscribe(topic, 0, handler); err != nil {
			return fmt.Errorf("failed to subscribe to %s: %w", topic, err)
		}
	}

	a.startEventLoop()
	a.startTicker()

	// Initial reconciliation so the retained state is fresh before the
	// first tick fires
	a.enqueue(event{kind: evTick})

	a.logger.Info("Filter agent started and ready")

	// Block until context is cancelled
	<-ctx.Done()
	a.logger.Info("Filter agent stopping")

	return nil
}

// Stop gracefully stops the filter agent
func (a *Agent) Stop() error {
	a.logger.Info("Stopping filter agent")

	if a.ticker != nil {
		a.ticker.Stop()
	}
	close(a.stopChan)

	a.mqtt.Disconnect()

	if err := a.redis.Close(); err != nil {
		a.logger.Error("Error closing Redis connection", "error", err)
		return err
	}

	a.logger.Info("Filter agent stopped")
	return nil
}

// TargetCount returns the number of attached rendering targets
func (a *Agent) TargetCount() int {
	return a.targets.Count()
}

// startEventLoop starts the single consumer that processes triggers one at
// a time
func (a *Agent) startEventLoop() {
	go func() {
		for {
			select {
			case ev := <-a.events:
				a.handleEvent(ev)
			case <-a.stopChan:
				return
			}
		}
	}()
}

// startTicker starts the periodic reconciliation tick
func (a *Agent) startTicker() {
	interval := time.Duration(a.cfg.TickIntervalSec) * time.Second
	a.ticker = time.NewTicker(interval)

	go func() {
		a.logger.Info("Starting reconciliation tick", "interval_sec", a.cfg.TickIntervalSec)
		for {
			select {
			case <-a.ticker.C:
				a.enqueue(event{kind: evTick})
			case <-a.stopChan:
				return
			}
		}
	}()
}

// enqueue hands an event to the run loop without blocking the caller. A full
// queue drops the event; the next tick corrects any state that got lost.
func (a *Agent) enqueue(ev event) {
	select {
	case a.events <- ev:
	case <-a.stopChan:
	default:
		a.logger.Warn("Event queue full, dropping event", "kind", int(ev.kind))
	}
}

func (a *Agent) handleEvent(ev event) {
	ctx := context.Background()

	switch ev.kind {
	case evTick:
		a.reconcile(ctx, "tick")
		a.pruneTargets(ctx)
	case evSettingsUpdate:
		a.applySettingsUpdate(ctx, ev.id, ev.payload)
	case evStatusRequest:
		a.answerStatus(ctx, ev.id)
	case evTargetHello:
		a.attachTarget(ctx, ev.id)
	case evTargetBye:
		a.detachTarget(ctx, ev.id)
	case evLocation:
		a.applyLocation(ctx, ev.payload)
	}
}

// reconcile runs one cycle: read settings, resolve the target state, persist
// the derived fields and fan out. A storage failure aborts the cycle; the
// next tick retries.
func (a *Agent) reconcile(ctx context.Context, trigger string) {
	s, err := a.store.Read(ctx)
	if err != nil {
		a.logger.Error("Reconciliation skipped, settings unavailable",
			"trigger", trigger,
			"error", err)
		return
	}

	now := time.Now()
	state := Resolve(s, now)

	previousIntensity := s.CurrentIntensity
	changed := s.CurrentIntensity != state.Intensity || s.IsActive != state.Active

	s.CurrentIntensity = state.Intensity
	s.IsActive = state.Active

	if err := a.store.Write(ctx, s); err != nil {
		a.logger.Error("Failed to persist reconciled state",
			"trigger", trigger,
			"error", err)
		return
	}

	a.broadcast(ctx, state)
	a.publishStateContext(s, state)

	if changed {
		cycleID := uuid.NewString()

		entry := HistoryEntry{
			CycleID:      cycleID,
			Timestamp:    now.Format(time.RFC3339),
			Trigger:      trigger,
			Mode:         state.Mode,
			Intensity:    state.Intensity,
			Active:       state.Active,
			WindowSource: state.WindowSource,
		}
		if err := a.history.Append(ctx, entry); err != nil {
			a.logger.Warn("Failed to record history entry", "error", err)
		}

		if a.audit != nil {
			if err := a.audit.RecordTransition(ctx, cycleID, trigger,
				previousIntensity, state.Intensity, string(state.WindowSource), state.Active); err != nil {
				a.logger.Warn("Failed to record state transition", "error", err)
			}
		}

		a.logger.Info("Filter state changed",
			"trigger", trigger,
			"intensity_from", previousIntensity,
			"intensity_to", state.Intensity,
			"active", state.Active,
			"window_source", state.WindowSource)
	}
}

// broadcast fans the target state out to every known rendering target. Each
// send is independent and best-effort: an unreachable target is skipped and
// converges on the next tick or its own cold-start pull.
func (a *Agent) broadcast(ctx context.Context, state State) {
	targets := a.targets.List()
	for _, id := range targets {
		a.sendFilterCommand(ctx, id, state)
	}

	a.logger.Debug("Broadcast complete",
		"target_count", len(targets),
		"intensity", state.Intensity,
		"active", state.Active)
}

func (a *Agent) sendFilterCommand(ctx context.Context, targetID string, state State) {
	cmd := filterCommand{
		Mode:      state.Mode,
		Intensity: state.Intensity,
		Enabled:   state.Enabled,
		Timestamp: time.Now().Format(time.RFC3339),
	}

	payload, err := json.Marshal(cmd)
	if err != nil {
		a.logger.Warn("Failed to marshal filter command", "target", targetID, "error", err)
		return
	}

	if err := a.mqtt.Publish(mqtt.FilterCommandTopic(targetID), 0, false, payload); err != nil {
		a.logger.Debug("Target unreachable, skipping",
			"target", targetID,
			"error", err)
		return
	}

	a.recordDelivery(ctx, targetID, state)
}

// recordDelivery mirrors per-target delivery metadata into Redis for
// observability. Failures here are harmless and logged at debug.
func (a *Agent) recordDelivery(ctx context.Context, targetID string, state State) {
	key := redis.TargetMetaKey(targetID)

	if err := a.redis.HSet(ctx, key, "last_intensity", state.Intensity); err != nil {
		a.logger.Debug("Failed to record delivery metadata", "target", targetID, "error", err)
		return
	}
	if err := a.redis.HSet(ctx, key, "last_mode", string(state.Mode)); err != nil {
		a.logger.Debug("Failed to record delivery metadata", "target", targetID, "error", err)
		return
	}
	if err := a.redis.HSet(ctx, key, "last_sent", time.Now().Format(time.RFC3339)); err != nil {
		a.logger.Debug("Failed to record delivery metadata", "target", targetID, "error", err)
		return
	}

	ttl := time.Duration(a.cfg.TargetTTLMinutes) * time.Minute
	if err := a.redis.Expire(ctx, key, ttl); err != nil {
		a.logger.Debug("Failed to expire delivery metadata", "target", targetID, "error", err)
	}
}

// publishStateContext publishes the retained current-state broadcast so any
// observer can read the latest decision without asking
func (a *Agent) publishStateContext(s settings.Settings, state State) {
	msg := map[string]interface{}{
		"source":        a.cfg.ServiceName,
		"mode":          state.Mode,
		"intensity":     state.Intensity,
		"enabled":       state.Enabled,
		"active":        state.Active,
		"window_start":  state.WindowStart,
		"window_end":    state.WindowEnd,
		"window_source": state.WindowSource,
		"timestamp":     time.Now().Format(time.RFC3339),
	}

	if s.HasLocation() {
		msg["daylight"] = DaylightContext(*s.Latitude, *s.Longitude, time.Now())
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		a.logger.Warn("Failed to marshal state context", "error", err)
		return
	}

	if err := a.mqtt.Publish(mqtt.TopicStateContext, 0, true, payload); err != nil {
		a.logger.Debug("Failed to publish state context", "error", err)
	}
}

// applySettingsUpdate persists an incoming settings record and runs the same
// reconciliation synchronously so the visible effect is immediate
func (a *Agent) applySettingsUpdate(ctx context.Context, requester string, payload []byte) {
	previous, err := a.store.Read(ctx)
	if err != nil {
		a.logger.Error("Settings update rejected, store unavailable", "requester", requester, "error", err)
		a.ackSettings(requester, false)
		return
	}

	updated, err := settings.Merge(payload)
	if err != nil {
		a.logger.Warn("Settings update rejected, malformed record", "requester", requester, "error", err)
		a.ackSettings(requester, false)
		return
	}

	if err := a.store.Write(ctx, updated); err != nil {
		a.logger.Error("Settings update failed to persist", "requester", requester, "error", err)
		a.ackSettings(requester, false)
		return
	}

	if a.audit != nil {
		if err := a.audit.RecordSettingsChange(ctx, requester, previous, updated); err != nil {
			a.logger.Warn("Failed to record settings change", "error", err)
		}
	}

	a.logger.Info("Settings updated",
		"requester", requester,
		"enabled", updated.Enabled,
		"mode", updated.Mode,
		"schedule_type", updated.ScheduleType,
		"manual_active", updated.ManualActive)

	a.ackSettings(requester, true)
	a.reconcile(ctx, "settings_change")
}

func (a *Agent) ackSettings(requester string, success bool) {
	payload, err := json.Marshal(map[string]interface{}{
		"success":   success,
		"timestamp": time.Now().Format(time.RFC3339),
	})
	if err != nil {
		a.logger.Warn("Failed to marshal settings ack", "error", err)
		return
	}

	if err := a.mqtt.Publish(mqtt.SettingsAckTopic(requester), 0, false, payload); err != nil {
		a.logger.Debug("Failed to deliver settings ack", "requester", requester, "error", err)
	}
}

// answerStatus replies with freshly recomputed settings. The stored derived
// fields are never trusted: staleness here is directly visible in a UI.
func (a *Agent) answerStatus(ctx context.Context, requester string) {
	s, err := a.store.Read(ctx)
	if err != nil {
		// The requester retries or falls back to the retained context
		a.logger.Error("Status request failed, settings unavailable", "requester", requester, "error", err)
		return
	}

	now := time.Now()
	state := Resolve(s, now)
	s.CurrentIntensity = state.Intensity
	s.IsActive = state.Active

	reply := statusReply{
		Settings:  s,
		State:     state,
		Timestamp: now.Format(time.RFC3339),
	}
	if s.HasLocation() {
		daylight := DaylightContext(*s.Latitude, *s.Longitude, now)
		reply.Daylight = &daylight
	}

	payload, err := json.Marshal(reply)
	if err != nil {
		a.logger.Warn("Failed to marshal status reply", "error", err)
		return
	}

	if err := a.mqtt.Publish(mqtt.StatusReplyTopic(requester), 0, false, payload); err != nil {
		a.logger.Debug("Failed to deliver status reply", "requester", requester, "error", err)
	}
}

// attachTarget registers a rendering target and pushes the current state
// immediately so a cold-starting page never waits for the next tick
func (a *Agent) attachTarget(ctx context.Context, targetID string) {
	if a.targets.Register(targetID) {
		a.logger.Info("Rendering target attached", "target", targetID)
	}

	s, err := a.store.Read(ctx)
	if err != nil {
		a.logger.Error("Cold-start push skipped, settings unavailable", "target", targetID, "error", err)
		return
	}

	a.sendFilterCommand(ctx, targetID, Resolve(s, time.Now()))
}

func (a *Agent) detachTarget(ctx context.Context, targetID string) {
	if a.targets.Remove(targetID) {
		a.logger.Info("Rendering target detached", "target", targetID)
	}

	if err := a.redis.Del(ctx, redis.TargetMetaKey(targetID)); err != nil {
		a.logger.Debug("Failed to delete target metadata", "target", targetID, "error", err)
	}
}

// applyLocation merges coordinates supplied by the geolocation collaborator.
// A denial or error keeps the prior schedule behavior untouched.
func (a *Agent) applyLocation(ctx context.Context, payload []byte) {
	var loc struct {
		Latitude  *float64 `json:"latitude"`
		Longitude *float64 `json:"longitude"`
		Error     string   `json:"error"`
	}

	if err := json.Unmarshal(payload, &loc); err != nil {
		a.logger.Warn("Failed to parse location context", "error", err)
		return
	}

	if loc.Error != "" || loc.Latitude == nil || loc.Longitude == nil {
		a.logger.Info("Geolocation unavailable, keeping prior schedule", "error", loc.Error)
		return
	}

	s, err := a.store.Read(ctx)
	if err != nil {
		a.logger.Error("Location update skipped, settings unavailable", "error", err)
		return
	}

	s.Latitude = loc.Latitude
	s.Longitude = loc.Longitude

	if err := a.store.Write(ctx, s); err != nil {
		a.logger.Error("Failed to persist location update", "error", err)
		return
	}

	a.logger.Info("Location updated",
		"latitude", *loc.Latitude,
		"longitude", *loc.Longitude)

	a.reconcile(ctx, "location_update")
}

func (a *Agent) pruneTargets(ctx context.Context) {
	ttl := time.Duration(a.cfg.TargetTTLMinutes) * time.Minute
	pruned := a.targets.PruneStale(ttl)

	for _, id := range pruned {
		if err := a.redis.Del(ctx, redis.TargetMetaKey(id)); err != nil {
			a.logger.Debug("Failed to delete target metadata", "target", id, "error", err)
		}
	}

	if len(pruned) > 0 {
		a.logger.Debug("Pruned stale targets", "count", len(pruned))
	}
}

// seedLocation applies configured coordinates when the record has none yet
func (a *Agent) seedLocation(ctx context.Context) {
	s, err := a.store.Read(ctx)
	if err != nil {
		a.logger.Warn("Failed to read settings for location seed", "error", err)
		return
	}
	if s.HasLocation() {
		return
	}

	lat := a.cfg.SeedLatitude
	lon := a.cfg.SeedLongitude
	s.Latitude = &lat
	s.Longitude = &lon

	if err := a.store.Write(ctx, s); err != nil {
		a.logger.Warn("Failed to seed location", "error", err)
		return
	}

	a.logger.Info("Seeded location from configuration", "latitude", lat, "longitude", lon)
}

// MQTT handlers stay thin: parse the topic, copy the payload and enqueue.
// All state handling happens in the single-consumer event loop.

func (a *Agent) handleTargetHello(msg mqtt.Message) {
	id, err := mqtt.LastSegment(msg.Topic())
	if err != nil {
		a.logger.Warn("Invalid hello topic", "topic", msg.Topic())
		return
	}
	a.enqueue(event{kind: evTargetHello, id: id})
}

func (a *Agent) handleTargetBye(msg mqtt.Message) {
	id, err := mqtt.LastSegment(msg.Topic())
	if err != nil {
		a.logger.Warn("Invalid bye topic", "topic", msg.Topic())
		return
	}
	a.enqueue(event{kind: evTargetBye, id: id})
}

func (a *Agent) handleStatusRequest(msg mqtt.Message) {
	requester, err := mqtt.LastSegment(msg.Topic())
	if err != nil {
		a.logger.Warn("Invalid status request topic", "topic", msg.Topic())
		return
	}
	a.enqueue(event{kind: evStatusRequest, id: requester})
}

func (a *Agent) handleSettingsRequest(msg mqtt.Message) {
	requester, err := mqtt.LastSegment(msg.Topic())
	if err != nil {
		a.logger.Warn("Invalid settings request topic", "topic", msg.Topic())
		return
	}
	payload := append([]byte(nil), msg.Payload()...)
	a.enqueue(event{kind: evSettingsUpdate, id: requester, payload: payload})
}

func (a *Agent) handleLocationContext(msg mqtt.Message) {
	payload := append([]byte(nil), msg.Payload()...)
	a.enqueue(event{kind: evLocation, payload: payload})
}
