package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"actuator_dashboard/internal/config"
	"actuator_dashboard/internal/logger"
	"actuator_dashboard/internal/metrics"
	"actuator_dashboard/internal/models"
	"actuator_dashboard/internal/repository"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

// Actuator log event types.
const (
	EventToggle        = "TOGGLE"
	EventWriteOK       = "WRITE_OK"
	EventWriteFailed   = "WRITE_FAILED"
	EventLockConfirmed = "LOCK_CONFIRMED"
	EventLockExpired   = "LOCK_EXPIRED"
)

const (
	// flushTimeout bounds a batch write, including any wait for a write slot.
	flushTimeout = 30 * time.Second
	eventTimeout = 5 * time.Second
)

var (
	ErrInvalidField     = fmt.Errorf("field index must be between 1 and %d", models.FieldCount)
	ErrEngineNotRunning = errors.New("channel engine is not running")
	ErrEngineStarted    = errors.New("channel engine already started")
)

// ChannelClient is the remote channel as seen by the engine. Failures are
// reported as a nil sample or a false acknowledgement, never as errors.
type ChannelClient interface {
	ReadLatest(ctx context.Context, channelID, readKey string) *models.Sample
	WriteFields(ctx context.Context, writeKey string, fields map[int]bool) bool
}

// ReconcilerDeps are the collaborators shared by every channel engine.
type ReconcilerDeps struct {
	Client  ChannelClient
	Events  repository.EventRepo // optional
	Clock   clockwork.Clock      // defaults to the real clock
	Log     *logger.Logger
	Metrics *metrics.Channel // optional
}

// ReconcilerService owns the local view of one channel. It polls the remote
// for the latest sample, applies toggles optimistically, protects toggled
// fields from being overwritten by stale reads until a read confirms them,
// and coalesces bursts of toggles into one full-channel write.
type ReconcilerService struct {
	panel   models.Panel
	cfg     config.EngineConfig
	client  ChannelClient
	events  repository.EventRepo
	clock   clockwork.Clock
	log     *logger.Logger
	metrics *metrics.Channel

	mu          sync.Mutex
	fields      models.Fields
	locks       map[int]time.Time // field -> when the optimistic write was issued
	desired     map[int]bool      // values requested since the last flush
	loading     bool
	lastUpdated *time.Time
	batch       clockwork.Timer
	batchGen    uint64
	started     bool
	active      bool
	ctx         context.Context
	cancel      context.CancelFunc
	done        chan struct{}
	subs        map[chan struct{}]struct{}
}

func NewReconcilerService(panel models.Panel, cfg config.EngineConfig, deps ReconcilerDeps) *ReconcilerService {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = config.DefaultPollInterval
	}
	if cfg.QuietPeriod <= 0 {
		cfg.QuietPeriod = config.DefaultQuietPeriod
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = config.DefaultLockTTL
	}
	clock := deps.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &ReconcilerService{
		panel:   panel,
		cfg:     cfg,
		client:  deps.Client,
		events:  deps.Events,
		clock:   clock,
		log:     deps.Log.With("panel", panel.Title, "channel", panel.ChannelID),
		metrics: deps.Metrics,
		locks:   make(map[int]time.Time),
		desired: make(map[int]bool),
		loading: true,
		subs:    make(map[chan struct{}]struct{}),
	}
}

// Start reads the channel immediately and then every poll interval until
// Stop is called or ctx is cancelled. An engine can be started once.
func (r *ReconcilerService) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return ErrEngineStarted
	}
	r.started = true
	r.active = true
	r.ctx, r.cancel = context.WithCancel(ctx)
	r.done = make(chan struct{})

	go r.pollLoop(r.ctx, r.done)
	r.log.Infow("channel_engine_started", "poll_interval", r.cfg.PollInterval, "quiet_period", r.cfg.QuietPeriod)
	return nil
}

// Stop cancels the poll loop and any pending batch. Reads or writes still in
// flight finish on their own; their results are discarded.
func (r *ReconcilerService) Stop() {
	r.mu.Lock()
	if !r.active {
		r.mu.Unlock()
		return
	}
	r.active = false
	if r.batch != nil {
		r.batch.Stop()
		r.batch = nil
	}
	r.batchGen++
	for ch := range r.subs {
		close(ch)
	}
	r.subs = nil
	cancel, done := r.cancel, r.done
	r.mu.Unlock()

	cancel()
	<-done
	r.log.Infow("channel_engine_stopped")
}

// Toggle flips the field's latest known value, shows it immediately and
// schedules a batched write after the quiet period. Each toggle restarts
// the quiet period.
func (r *ReconcilerService) Toggle(field int) (models.Snapshot, error) {
	if !models.ValidField(field) {
		return models.Snapshot{}, ErrInvalidField
	}

	r.mu.Lock()
	if !r.active {
		r.mu.Unlock()
		return models.Snapshot{}, ErrEngineNotRunning
	}
	now := r.clock.Now()
	value := !r.fields.Get(field)
	r.fields.Set(field, value)
	r.locks[field] = now
	r.desired[field] = value
	r.scheduleFlushLocked()
	snap := r.snapshotLocked()
	pending := len(r.locks)
	r.notifyLocked()
	r.mu.Unlock()

	r.metrics.ObserveToggle(r.panel.ChannelID)
	r.metrics.SetPending(r.panel.ChannelID, pending)
	r.log.Debugw("field_toggled", "field", field, "value", value)
	r.record(models.ActuatorEvent{
		OccurredAt:  now,
		Type:        EventToggle,
		Field:       field,
		Description: fmt.Sprintf("%s -> %s", models.FieldKey(field), onOff(value)),
		Metadata:    map[string]any{"value": value},
	})
	return snap, nil
}

// Snapshot returns a copy of the reconciled state.
func (r *ReconcilerService) Snapshot() models.Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

// Subscribe returns a channel that receives a signal after every state
// change. The channel is closed when the engine stops or cancel is called.
func (r *ReconcilerService) Subscribe() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.active {
		close(ch)
		return ch, func() {}
	}
	r.subs[ch] = struct{}{}
	return ch, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if _, ok := r.subs[ch]; ok {
			delete(r.subs, ch)
			close(ch)
		}
	}
}

func (r *ReconcilerService) pollLoop(ctx context.Context, done chan<- struct{}) {
	defer close(done)

	// the ticker runs from start so a slow first read does not shift later ones
	t := r.clock.NewTicker(r.cfg.PollInterval)
	defer t.Stop()
	r.poll(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.Chan():
			r.poll(ctx)
		}
	}
}

func (r *ReconcilerService) poll(ctx context.Context) {
	sample := r.client.ReadLatest(ctx, r.panel.ChannelID, r.panel.ReadKey)
	if ctx.Err() != nil {
		return
	}
	r.metrics.ObserveRead(r.panel.ChannelID, sample != nil)
	r.apply(sample)
}

// apply merges a read into the local view. A nil sample only clears loading.
func (r *ReconcilerService) apply(sample *models.Sample) {
	r.mu.Lock()
	if !r.active {
		r.mu.Unlock()
		return
	}
	r.loading = false

	var (
		events    []models.ActuatorEvent
		confirmed int
		expired   int
	)
	if sample != nil {
		now := r.clock.Now()
		next := sample.Fields
		for f, since := range r.locks {
			local := r.fields.Get(f)
			switch {
			case now.Sub(since) > r.cfg.LockTTL:
				// stuck lock: accept the server value as is
				delete(r.locks, f)
				expired++
				events = append(events, models.ActuatorEvent{
					OccurredAt:  now,
					Type:        EventLockExpired,
					Field:       f,
					Description: fmt.Sprintf("%s lock expired; server value %s accepted", models.FieldKey(f), onOff(next.Get(f))),
				})
			case next.Get(f) == local:
				delete(r.locks, f)
				confirmed++
				events = append(events, models.ActuatorEvent{
					OccurredAt:  now,
					Type:        EventLockConfirmed,
					Field:       f,
					Description: fmt.Sprintf("%s confirmed %s", models.FieldKey(f), onOff(local)),
				})
			default:
				next.Set(f, local)
			}
		}
		r.fields = next
		if !sample.CreatedAt.IsZero() {
			ts := sample.CreatedAt
			r.lastUpdated = &ts
		}
	}
	pending := len(r.locks)
	r.notifyLocked()
	r.mu.Unlock()

	for i := 0; i < confirmed; i++ {
		r.metrics.ObserveLock(r.panel.ChannelID, metrics.LockConfirmed)
	}
	for i := 0; i < expired; i++ {
		r.metrics.ObserveLock(r.panel.ChannelID, metrics.LockExpired)
	}
	if expired > 0 {
		r.log.Warnw("pending_locks_expired", "count", expired, "ttl", r.cfg.LockTTL)
	}
	r.metrics.SetPending(r.panel.ChannelID, pending)
	r.record(events...)
}

// scheduleFlushLocked replaces the quiet-period timer. Only the newest
// generation may flush, so a timer that already fired but lost the race for
// the mutex does nothing.
func (r *ReconcilerService) scheduleFlushLocked() {
	if r.batch != nil {
		r.batch.Stop()
	}
	r.batchGen++
	gen := r.batchGen
	r.batch = r.clock.AfterFunc(r.cfg.QuietPeriod, func() { r.flush(gen) })
}

// flush sends every field: requested values where present, the local view
// otherwise. The remote has no partial updates, so an omitted field would
// be stored as empty.
func (r *ReconcilerService) flush(gen uint64) {
	r.mu.Lock()
	if !r.active || gen != r.batchGen {
		r.mu.Unlock()
		return
	}
	r.batch = nil
	payload := make(map[int]bool, models.FieldCount)
	for i := 1; i <= models.FieldCount; i++ {
		if v, ok := r.desired[i]; ok {
			payload[i] = v
			continue
		}
		payload[i] = r.fields.Get(i)
	}
	r.desired = make(map[int]bool)
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.ctx), flushTimeout)
	r.mu.Unlock()
	defer cancel()

	ok := r.client.WriteFields(ctx, r.panel.WriteKey, payload)
	r.metrics.ObserveWrite(r.panel.ChannelID, ok)

	ev := models.ActuatorEvent{
		OccurredAt: r.clock.Now(),
		Type:       EventWriteOK,
		Metadata:   map[string]any{"fields": encodePayload(payload)},
	}
	if ok {
		ev.Description = "batch write accepted"
		r.log.Debugw("batch_write_ok", "fields", encodePayload(payload))
	} else {
		// the locks stay; a later read confirms them or they expire
		ev.Type = EventWriteFailed
		ev.Description = "batch write rejected"
		r.log.Warnw("batch_write_failed", "fields", encodePayload(payload))
	}
	r.record(ev)
}

func (r *ReconcilerService) snapshotLocked() models.Snapshot {
	snap := models.Snapshot{Fields: r.fields, Loading: r.loading}
	if r.lastUpdated != nil {
		ts := *r.lastUpdated
		snap.LastUpdated = &ts
	}
	if len(r.locks) > 0 {
		snap.Pending = make([]int, 0, len(r.locks))
		for f := range r.locks {
			snap.Pending = append(snap.Pending, f)
		}
		sort.Ints(snap.Pending)
	}
	return snap
}

func (r *ReconcilerService) notifyLocked() {
	for ch := range r.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

func (r *ReconcilerService) record(events ...models.ActuatorEvent) {
	if r.events == nil || len(events) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), eventTimeout)
	defer cancel()
	for _, ev := range events {
		ev.EventID = uuid.NewString()
		ev.ChannelID = r.panel.ChannelID
		if err := r.events.Append(ctx, ev); err != nil {
			r.log.Errorw("actuator_event_append_failed", "type", ev.Type, "err", err)
		}
	}
}

// encodePayload renders a full payload as "10100000" (field1 first).
func encodePayload(p map[int]bool) string {
	var b strings.Builder
	for i := 1; i <= models.FieldCount; i++ {
		if p[i] {
			b.WriteByte('1')
		} else {
			b.WriteByte('0')
		}
	}
	return b.String()
}

func onOff(v bool) string {
	if v {
		return "on"
	}
	return "off"
}
