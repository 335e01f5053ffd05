package service

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"actuator_dashboard/internal/config"
	"actuator_dashboard/internal/models"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testPoll  = 3 * time.Second
	testQuiet = 1500 * time.Millisecond
	testTTL   = 60 * time.Second

	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

var sampleSeq atomic.Int64

// bump gives the fake's next sample a fresh created_at so waitApplied can
// tell when the engine has merged it.
func bump(fc *fakeChannel, on ...int) time.Time {
	fc.setServer(on...)
	ts := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(sampleSeq.Add(1)) * time.Second)
	fc.mu.Lock()
	fc.sample.CreatedAt = ts
	fc.mu.Unlock()
	return ts
}

func waitApplied(t *testing.T, r *ReconcilerService, ts time.Time) {
	t.Helper()
	require.Eventually(t, func() bool {
		s := r.Snapshot()
		return s.LastUpdated != nil && s.LastUpdated.Equal(ts)
	}, waitFor, tick, "sample %v was never applied", ts)
}

func newTestEngine(t *testing.T, fc *fakeChannel) (*ReconcilerService, *clockwork.FakeClock, *memEventRepo) {
	t.Helper()
	clock := clockwork.NewFakeClock()
	events := &memEventRepo{}
	r := NewReconcilerService(
		models.Panel{Title: "Shed", ChannelID: "42", ReadKey: "R", WriteKey: "W"},
		config.EngineConfig{PollInterval: testPoll, QuietPeriod: testQuiet, LockTTL: testTTL},
		ReconcilerDeps{Client: fc, Events: events, Clock: clock},
	)
	t.Cleanup(r.Stop)
	return r, clock, events
}

// startAndSync starts the engine and waits for the first read and for the
// poll ticker to be armed.
func startAndSync(t *testing.T, r *ReconcilerService, clock *clockwork.FakeClock) {
	t.Helper()
	require.NoError(t, r.Start(context.Background()))
	require.Eventually(t, func() bool { return !r.Snapshot().Loading }, waitFor, tick)

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	require.NoError(t, clock.BlockUntilContext(ctx, 1))
}

func fieldsOn(on ...int) models.Fields {
	var f models.Fields
	for _, i := range on {
		f.Set(i, true)
	}
	return f
}

func TestReconciler_InitialReadAdoptsSample(t *testing.T) {
	fc := newFakeChannel()
	ts := bump(fc, 1)
	r, clock, _ := newTestEngine(t, fc)

	before := r.Snapshot()
	assert.True(t, before.Loading)
	assert.Equal(t, models.Fields{}, before.Fields)
	assert.Nil(t, before.LastUpdated)

	startAndSync(t, r, clock)
	waitApplied(t, r, ts)

	snap := r.Snapshot()
	assert.False(t, snap.Loading)
	assert.Equal(t, fieldsOn(1), snap.Fields)
	assert.Empty(t, snap.Pending)
}

func TestReconciler_UnlockedFieldsFollowEveryRead(t *testing.T) {
	fc := newFakeChannel(2, 4)
	r, clock, _ := newTestEngine(t, fc)
	startAndSync(t, r, clock)
	assert.Equal(t, fieldsOn(2, 4), r.Snapshot().Fields)

	ts := bump(fc, 7)
	clock.Advance(testPoll)
	waitApplied(t, r, ts)
	assert.Equal(t, fieldsOn(7), r.Snapshot().Fields)
}

func TestReconciler_ReadFailureOnlyClearsLoading(t *testing.T) {
	fc := newFakeChannel()
	fc.failReads()
	r, clock, _ := newTestEngine(t, fc)
	startAndSync(t, r, clock)

	snap := r.Snapshot()
	assert.False(t, snap.Loading)
	assert.Nil(t, snap.LastUpdated)
	assert.Equal(t, models.Fields{}, snap.Fields)

	// the next cycle retries naturally
	ts := bump(fc, 1)
	clock.Advance(testPoll)
	waitApplied(t, r, ts)
	assert.Equal(t, fieldsOn(1), r.Snapshot().Fields)
}

func TestReconciler_ToggleIsOptimisticAndLocks(t *testing.T) {
	fc := newFakeChannel()
	r, clock, events := newTestEngine(t, fc)
	startAndSync(t, r, clock)

	snap, err := r.Toggle(3)
	require.NoError(t, err)
	assert.True(t, snap.Fields.Get(3))
	assert.Equal(t, []int{3}, snap.Pending)
	assert.True(t, r.Snapshot().Fields.Get(3))
	assert.Empty(t, fc.writeLog(), "nothing is written before the quiet period ends")

	toggles := events.ofType(EventToggle)
	require.Len(t, toggles, 1)
	assert.Equal(t, 3, toggles[0].Field)
	assert.Equal(t, "42", toggles[0].ChannelID)
}

func TestReconciler_LockProtectsOptimisticValueUntilConfirmed(t *testing.T) {
	fc := newFakeChannel()
	r, clock, events := newTestEngine(t, fc)
	startAndSync(t, r, clock)

	_, err := r.Toggle(3)
	require.NoError(t, err)

	// server still reports the old value
	ts := bump(fc)
	clock.Advance(testPoll)
	waitApplied(t, r, ts)
	snap := r.Snapshot()
	assert.True(t, snap.Fields.Get(3), "stale read must not overwrite a locked field")
	assert.Equal(t, []int{3}, snap.Pending)

	// server catches up
	ts = bump(fc, 3)
	clock.Advance(testPoll)
	waitApplied(t, r, ts)
	snap = r.Snapshot()
	assert.True(t, snap.Fields.Get(3))
	assert.Empty(t, snap.Pending)
	assert.Len(t, events.ofType(EventLockConfirmed), 1)
}

func TestReconciler_StuckLockExpiresAfterTTL(t *testing.T) {
	fc := newFakeChannel()
	r, clock, events := newTestEngine(t, fc)
	startAndSync(t, r, clock)

	_, err := r.Toggle(3)
	require.NoError(t, err)

	// exactly at the TTL the lock still holds
	ts := bump(fc)
	clock.Advance(testTTL)
	waitApplied(t, r, ts)
	assert.True(t, r.Snapshot().Fields.Get(3))
	assert.Equal(t, []int{3}, r.Snapshot().Pending)

	ts = bump(fc)
	clock.Advance(testPoll)
	waitApplied(t, r, ts)
	snap := r.Snapshot()
	assert.False(t, snap.Fields.Get(3), "server value is accepted once the lock is stale")
	assert.Empty(t, snap.Pending)
	assert.Len(t, events.ofType(EventLockExpired), 1)
}

func TestReconciler_BurstOfTogglesSendsOneFullBatch(t *testing.T) {
	fc := newFakeChannel(1)
	r, clock, events := newTestEngine(t, fc)
	startAndSync(t, r, clock)

	_, err := r.Toggle(3) // off -> on
	require.NoError(t, err)
	clock.Advance(time.Second)
	snap, err := r.Toggle(3) // on -> off
	require.NoError(t, err)
	assert.False(t, snap.Fields.Get(3))

	clock.Advance(time.Second)
	assert.Never(t, func() bool { return len(fc.writeLog()) > 0 }, 50*time.Millisecond, tick,
		"the second toggle restarts the quiet period")

	clock.Advance(testQuiet - time.Second)
	require.Eventually(t, func() bool { return len(fc.writeLog()) == 1 }, waitFor, tick)
	assert.Never(t, func() bool { return len(fc.writeLog()) > 1 }, 50*time.Millisecond, tick)

	payload := fc.writeLog()[0]
	require.Len(t, payload, models.FieldCount)
	for i := 1; i <= models.FieldCount; i++ {
		assert.Equal(t, i == 1, payload[i], "field%d", i)
	}
	require.Eventually(t, func() bool { return len(events.ofType(EventWriteOK)) == 1 }, waitFor, tick)

	// lock is held until a read confirms the final value
	assert.Equal(t, []int{3}, r.Snapshot().Pending)
	ts := bump(fc, 1)
	clock.Advance(time.Second)
	waitApplied(t, r, ts)
	assert.Empty(t, r.Snapshot().Pending)
	assert.Equal(t, fieldsOn(1), r.Snapshot().Fields)
}

func TestReconciler_DesiredValuesAccumulateAcrossFields(t *testing.T) {
	fc := newFakeChannel()
	r, clock, _ := newTestEngine(t, fc)
	startAndSync(t, r, clock)

	for _, f := range []int{2, 6, 8} {
		_, err := r.Toggle(f)
		require.NoError(t, err)
	}
	clock.Advance(testQuiet)
	require.Eventually(t, func() bool { return len(fc.writeLog()) == 1 }, waitFor, tick)

	payload := fc.writeLog()[0]
	for i := 1; i <= models.FieldCount; i++ {
		assert.Equal(t, i == 2 || i == 6 || i == 8, payload[i], "field%d", i)
	}
}

func TestReconciler_FailedWriteKeepsOptimisticValueAndLock(t *testing.T) {
	fc := newFakeChannel()
	fc.writeOK = false
	r, clock, events := newTestEngine(t, fc)
	startAndSync(t, r, clock)

	_, err := r.Toggle(5)
	require.NoError(t, err)
	clock.Advance(testQuiet)

	require.Eventually(t, func() bool { return len(events.ofType(EventWriteFailed)) == 1 }, waitFor, tick)
	snap := r.Snapshot()
	assert.True(t, snap.Fields.Get(5), "no rollback of the optimistic value")
	assert.Equal(t, []int{5}, snap.Pending)

	clock.Advance(time.Second)
	assert.Never(t, func() bool { return len(fc.writeLog()) > 1 }, 50*time.Millisecond, tick, "writes are not retried")
}

func TestReconciler_StopCancelsPendingBatchAndRejectsToggles(t *testing.T) {
	fc := newFakeChannel()
	r, clock, _ := newTestEngine(t, fc)
	startAndSync(t, r, clock)

	updates, _ := r.Subscribe()
	_, err := r.Toggle(2)
	require.NoError(t, err)

	r.Stop()
	clock.Advance(5 * time.Second)
	assert.Never(t, func() bool { return len(fc.writeLog()) > 0 }, 50*time.Millisecond, tick)

	_, err = r.Toggle(2)
	assert.ErrorIs(t, err, ErrEngineNotRunning)

	require.Eventually(t, func() bool {
		select {
		case _, ok := <-updates:
			return !ok
		default:
			return false
		}
	}, waitFor, tick, "subscribers are released on stop")
}

func TestReconciler_ReadCompletingAfterStopIsIgnored(t *testing.T) {
	fc := newFakeChannel(1, 2, 3)
	gate := make(chan struct{})
	fc.readGate = gate
	r, _, _ := newTestEngine(t, fc)
	require.NoError(t, r.Start(context.Background()))
	updates, _ := r.Subscribe()

	stopped := make(chan struct{})
	go func() {
		r.Stop()
		close(stopped)
	}()
	select {
	case _, ok := <-updates:
		require.False(t, ok, "engine changed state while the read was blocked")
	case <-time.After(waitFor):
		t.Fatal("Stop did not release subscribers")
	}

	close(gate)
	select {
	case <-stopped:
	case <-time.After(waitFor):
		t.Fatal("Stop did not return after the in-flight read finished")
	}

	snap := r.Snapshot()
	assert.True(t, snap.Loading)
	assert.Equal(t, models.Fields{}, snap.Fields)
}

func TestReconciler_SubscribeSignalsChanges(t *testing.T) {
	fc := newFakeChannel()
	r, clock, _ := newTestEngine(t, fc)
	startAndSync(t, r, clock)

	updates, cancel := r.Subscribe()
	_, err := r.Toggle(1)
	require.NoError(t, err)

	select {
	case <-updates:
	case <-time.After(waitFor):
		t.Fatal("no change signal after toggle")
	}
	cancel()
	cancel()
}

func TestReconciler_Guards(t *testing.T) {
	fc := newFakeChannel()
	r, clock, _ := newTestEngine(t, fc)

	_, err := r.Toggle(1)
	assert.ErrorIs(t, err, ErrEngineNotRunning)

	startAndSync(t, r, clock)
	assert.ErrorIs(t, r.Start(context.Background()), ErrEngineStarted)

	for _, f := range []int{0, 9, -1} {
		_, err := r.Toggle(f)
		assert.ErrorIs(t, err, ErrInvalidField, "field %d", f)
	}
}

func TestEncodePayload(t *testing.T) {
	assert.Equal(t, "10100001", encodePayload(map[int]bool{1: true, 3: true, 8: true}))
	assert.Equal(t, "00000000", encodePayload(nil))
}

// toggleNow fails the test if Toggle blocks behind a network call.
func toggleNow(t *testing.T, r *ReconcilerService, field int) models.Snapshot {
	t.Helper()
	type result struct {
		snap models.Snapshot
		err  error
	}
	done := make(chan result, 1)
	go func() {
		snap, err := r.Toggle(field)
		done <- result{snap, err}
	}()
	select {
	case res := <-done:
		require.NoError(t, res.err)
		return res.snap
	case <-time.After(waitFor):
		t.Fatalf("Toggle(%d) blocked", field)
		return models.Snapshot{}
	}
}

func TestReconciler_ToggleDuringWriteSchedulesNextBatch(t *testing.T) {
	fc := newFakeChannel()
	r, clock, events := newTestEngine(t, fc)
	startAndSync(t, r, clock)

	_, err := r.Toggle(1)
	require.NoError(t, err)
	release := fc.gateWrites()
	t.Cleanup(release)
	clock.Advance(testQuiet)
	require.Eventually(t, func() bool { return fc.blockedCalls() == 1 }, waitFor, tick, "first batch never reached the remote")

	snap := toggleNow(t, r, 2)
	assert.True(t, snap.Fields.Get(2))
	assert.True(t, snap.Fields.Get(1))
	assert.Equal(t, []int{1, 2}, snap.Pending)

	release()
	require.Eventually(t, func() bool { return len(events.ofType(EventWriteOK)) == 1 }, waitFor, tick,
		"the in-flight write must complete")
	assert.Len(t, fc.writeLog(), 1)

	clock.Advance(testQuiet)
	require.Eventually(t, func() bool { return len(fc.writeLog()) == 2 }, waitFor, tick)
	assert.Never(t, func() bool { return len(fc.writeLog()) > 2 }, 50*time.Millisecond, tick)

	writes := fc.writeLog()
	assert.True(t, writes[0][1])
	assert.False(t, writes[0][2])
	assert.True(t, writes[1][1])
	assert.True(t, writes[1][2])
	require.Eventually(t, func() bool { return len(events.ofType(EventWriteOK)) == 2 }, waitFor, tick)
}

func TestReconciler_ToggleDuringReadKeepsLocalValue(t *testing.T) {
	fc := newFakeChannel()
	r, clock, _ := newTestEngine(t, fc)
	startAndSync(t, r, clock)

	release := fc.gateReads()
	t.Cleanup(release)
	ts := bump(fc) // server still reports field4 off
	clock.Advance(testPoll)
	require.Eventually(t, func() bool { return fc.blockedCalls() == 1 }, waitFor, tick, "read never started")

	snap := toggleNow(t, r, 4)
	assert.True(t, snap.Fields.Get(4))

	release()
	waitApplied(t, r, ts)
	snap = r.Snapshot()
	assert.True(t, snap.Fields.Get(4), "a read that started before the toggle must not undo it")
	assert.Equal(t, []int{4}, snap.Pending)
}

func TestReconciler_SlowFirstReadDoesNotDelayPolling(t *testing.T) {
	fc := newFakeChannel()
	release := fc.gateReads()
	r, clock, _ := newTestEngine(t, fc)
	t.Cleanup(release)
	require.NoError(t, r.Start(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	require.NoError(t, clock.BlockUntilContext(ctx, 1), "poll ticker must run while the first read is pending")
	require.Eventually(t, func() bool { return fc.blockedCalls() == 1 }, waitFor, tick)

	clock.Advance(testPoll)
	release()

	// the tick that fell due during the slow read triggers the next read
	require.Eventually(t, func() bool { return fc.readCount() == 2 }, waitFor, tick)
}
