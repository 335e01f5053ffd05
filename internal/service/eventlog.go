package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"actuator_dashboard/internal/models"
	"actuator_dashboard/internal/repository"
)

type EventLogService struct {
	eventRepo repository.EventRepo
}

func NewEventLogService(eventRepo repository.EventRepo) *EventLogService {
	return &EventLogService{eventRepo: eventRepo}
}

var (
	ErrInvalidTimeRange = errors.New("invalid time range: from must be <= to")
	ErrUnknownEventType = errors.New("unknown event type")
)

var eventTypes = map[string]bool{
	EventToggle:        true,
	EventWriteOK:       true,
	EventWriteFailed:   true,
	EventLockConfirmed: true,
	EventLockExpired:   true,
}

// normalizeToUTC returns t in UTC, preserving zero time values.
func normalizeToUTC(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	return t.UTC()
}

// normalizeEventType trims spaces and uppercases the event type filter.
func normalizeEventType(s string) string {
	return strings.TrimSpace(strings.ToUpper(s))
}

// normalizeAndValidateFilter prepares query parameters and validates them.
func normalizeAndValidateFilter(f LogFilter) (LogFilter, error) {
	out := LogFilter{
		From:      normalizeToUTC(f.From),
		To:        normalizeToUTC(f.To),
		Type:      normalizeEventType(f.Type),
		ChannelID: strings.TrimSpace(f.ChannelID),
	}
	if !out.From.IsZero() && !out.To.IsZero() && out.From.After(out.To) {
		return LogFilter{}, ErrInvalidTimeRange
	}
	if out.Type != "" && !eventTypes[out.Type] {
		return LogFilter{}, fmt.Errorf("%w: %q", ErrUnknownEventType, out.Type)
	}
	return out, nil
}

func (s *EventLogService) List(ctx context.Context, f LogFilter) ([]models.ActuatorEvent, error) {
	f, err := normalizeAndValidateFilter(f)
	if err != nil {
		return nil, err
	}
	events, err := s.eventRepo.List(ctx, f.From, f.To, f.Type, f.ChannelID)
	if err != nil {
		return nil, fmt.Errorf("list actuator events: %w", err)
	}
	return events, nil
}
