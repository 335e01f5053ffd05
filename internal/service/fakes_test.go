package service

import (
	"context"
	"sync"
	"time"

	"actuator_dashboard/internal/models"
)

// fakeChannel is an in-memory ChannelClient.
type fakeChannel struct {
	mu      sync.Mutex
	sample  *models.Sample
	reads   int
	writes  []map[int]bool
	writeOK bool
	// readGate and writeGate, when set, block reads or writes until closed.
	// A blocked write is already visible in writeLog.
	readGate  chan struct{}
	writeGate chan struct{}
	blocked   int // calls that waited on a gate
}

func newFakeChannel(on ...int) *fakeChannel {
	fc := &fakeChannel{writeOK: true}
	fc.setServer(on...)
	return fc
}

// setServer makes the next reads return exactly the given fields as on.
func (f *fakeChannel) setServer(on ...int) {
	s := &models.Sample{CreatedAt: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	for _, i := range on {
		s.Fields.Set(i, true)
	}
	f.mu.Lock()
	f.sample = s
	f.mu.Unlock()
}

func (f *fakeChannel) failReads() {
	f.mu.Lock()
	f.sample = nil
	f.mu.Unlock()
}

func (f *fakeChannel) ReadLatest(ctx context.Context, _, _ string) *models.Sample {
	f.mu.Lock()
	gate := f.readGate
	if gate != nil {
		f.blocked++
	}
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads++
	if f.sample == nil {
		return nil
	}
	s := *f.sample
	return &s
}

func (f *fakeChannel) WriteFields(_ context.Context, _ string, fields map[int]bool) bool {
	f.mu.Lock()
	cp := make(map[int]bool, len(fields))
	for k, v := range fields {
		cp[k] = v
	}
	f.writes = append(f.writes, cp)
	gate := f.writeGate
	if gate != nil {
		f.blocked++
	}
	f.mu.Unlock()

	if gate != nil {
		<-gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.writeOK
}

// gateReads blocks every following read until the returned func is called.
// Calling the func again is a no-op.
func (f *fakeChannel) gateReads() func() {
	gate := make(chan struct{})
	f.mu.Lock()
	f.readGate = gate
	f.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			f.mu.Lock()
			f.readGate = nil
			f.mu.Unlock()
			close(gate)
		})
	}
}

// gateWrites blocks every following write until the returned func is called.
func (f *fakeChannel) gateWrites() func() {
	gate := make(chan struct{})
	f.mu.Lock()
	f.writeGate = gate
	f.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			f.mu.Lock()
			f.writeGate = nil
			f.mu.Unlock()
			close(gate)
		})
	}
}

func (f *fakeChannel) readCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reads
}

func (f *fakeChannel) blockedCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.blocked
}

func (f *fakeChannel) writeLog() []map[int]bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]map[int]bool, len(f.writes))
	copy(out, f.writes)
	return out
}

// memEventRepo is an in-memory repository.EventRepo.
type memEventRepo struct {
	mu        sync.Mutex
	events    []models.ActuatorEvent
	appendErr error
	listErr   error
}

func (m *memEventRepo) Append(_ context.Context, e models.ActuatorEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, e)
	return m.appendErr
}

func (m *memEventRepo) List(_ context.Context, from, to time.Time, typ, channelID string) ([]models.ActuatorEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	var out []models.ActuatorEvent
	for _, e := range m.events {
		if !from.IsZero() && e.OccurredAt.Before(from) {
			continue
		}
		if !to.IsZero() && e.OccurredAt.After(to) {
			continue
		}
		if typ != "" && e.Type != typ {
			continue
		}
		if channelID != "" && e.ChannelID != channelID {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (m *memEventRepo) ofType(typ string) []models.ActuatorEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.ActuatorEvent
	for _, e := range m.events {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}
