package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"actuator_dashboard/internal/config"
	"actuator_dashboard/internal/logger"
	"actuator_dashboard/internal/models"
	"actuator_dashboard/internal/repository"

	"github.com/jonboulle/clockwork"
)

var (
	ErrUnknownChannel = errors.New("channel not found")
	ErrInvalidAPIKey  = errors.New("invalid api key")
	ErrRateLimited    = errors.New("update rate limit exceeded")
	ErrEmptyUpdate    = errors.New("update carries no fields")
)

// SimulatorService emulates the remote channel service for the configured
// panels: the newest entry of a channel can be read with its read key, and
// updates are accepted with its write key no more often than the configured
// rate limit. Like the real service, an update stores only the fields it
// carries.
type SimulatorService struct {
	feeds       repository.FeedRepo
	byChannel   map[string]models.Panel
	byWriteKey  map[string]models.Panel
	minInterval time.Duration
	retention   time.Duration
	clock       clockwork.Clock
	log         *logger.Logger

	mu        sync.Mutex
	lastWrite map[string]time.Time // channel -> last accepted update
}

func NewSimulatorService(feeds repository.FeedRepo, panels []models.Panel, cfg config.SimulatorConfig, clock clockwork.Clock, log *logger.Logger) *SimulatorService {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	s := &SimulatorService{
		feeds:       feeds,
		byChannel:   make(map[string]models.Panel, len(panels)),
		byWriteKey:  make(map[string]models.Panel, len(panels)),
		minInterval: cfg.RateLimit,
		retention:   cfg.Retention,
		clock:       clock,
		log:         log.With("component", "simulator"),
		lastWrite:   make(map[string]time.Time),
	}
	for _, p := range panels {
		s.byChannel[p.ChannelID] = p
		s.byWriteKey[p.WriteKey] = p
	}
	return s
}

// LastEntry returns the newest entry of the channel. Either key of the
// channel grants read access. EntryID is 0 when nothing was written yet.
func (s *SimulatorService) LastEntry(ctx context.Context, channelID, apiKey string) (models.FeedEntry, error) {
	p, ok := s.byChannel[channelID]
	if !ok {
		return models.FeedEntry{}, ErrUnknownChannel
	}
	if apiKey != p.ReadKey && apiKey != p.WriteKey {
		return models.FeedEntry{}, ErrInvalidAPIKey
	}
	e, err := s.feeds.Last(ctx, channelID)
	if err != nil {
		return models.FeedEntry{}, fmt.Errorf("last entry of channel %s: %w", channelID, err)
	}
	return e, nil
}

// Update stores a new entry for the channel owning writeKey and returns its
// entry id. values maps field index to the raw value sent by the caller.
func (s *SimulatorService) Update(ctx context.Context, writeKey string, values map[int]string) (int, error) {
	p, ok := s.byWriteKey[writeKey]
	if !ok || writeKey == "" {
		return 0, ErrInvalidAPIKey
	}

	e := models.FeedEntry{ChannelID: p.ChannelID}
	n := 0
	for f, v := range values {
		if !models.ValidField(f) {
			continue
		}
		v := v
		e.Fields[f-1] = &v
		n++
	}
	if n == 0 {
		return 0, ErrEmptyUpdate
	}

	now := s.clock.Now()
	s.mu.Lock()
	if last, ok := s.lastWrite[p.ChannelID]; ok && now.Sub(last) < s.minInterval {
		s.mu.Unlock()
		s.log.Debugw("sim_update_rate_limited", "channel", p.ChannelID, "since_last", now.Sub(last))
		return 0, ErrRateLimited
	}
	s.lastWrite[p.ChannelID] = now
	s.mu.Unlock()

	e.CreatedAt = now
	stored, err := s.feeds.Append(ctx, e)
	if err != nil {
		s.mu.Lock()
		delete(s.lastWrite, p.ChannelID)
		s.mu.Unlock()
		return 0, fmt.Errorf("store update for channel %s: %w", p.ChannelID, err)
	}
	s.log.Debugw("sim_update_stored", "channel", p.ChannelID, "entry_id", stored.EntryID, "fields", n)
	return stored.EntryID, nil
}

// Run prunes entries older than the retention every tick until ctx is
// canceled. The newest entry of each channel is always kept.
func (s *SimulatorService) Run(ctx context.Context, tick time.Duration) {
	t := s.clock.NewTicker(tick)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.Chan():
			s.prune(ctx, now)
		}
	}
}

func (s *SimulatorService) prune(ctx context.Context, now time.Time) {
	if s.retention <= 0 {
		return
	}
	n, err := s.feeds.Prune(ctx, now.Add(-s.retention))
	if err != nil {
		s.log.Errorw("sim_prune_failed", "err", err)
		return
	}
	if n > 0 {
		s.log.Debugw("sim_entries_pruned", "count", n)
	}
}
