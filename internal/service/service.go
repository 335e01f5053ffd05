package service

import (
	"context"
	"time"

	"actuator_dashboard/internal/config"
	"actuator_dashboard/internal/models"
	"actuator_dashboard/internal/repository"
)

type Authorization interface {
	SignUp(ctx context.Context, username, password string) (int, error)
	GenerateToken(ctx context.Context, username, password string) (string, error)
	ParseToken(accessToken string) (int, error)
}

// Dashboard exposes the panels and their reconciled actuator state.
type Dashboard interface {
	Run(ctx context.Context) error
	Panels() []models.PanelInfo
	ChannelID(panel int) (string, error)
	Snapshot(panel int) (models.Snapshot, error)
	Toggle(panel, field int) (models.Snapshot, error)
	Subscribe(panel int) (<-chan struct{}, func(), error)
}

// EventLog exposes the actuator history with filtering access.
type EventLog interface {
	List(ctx context.Context, f LogFilter) ([]models.ActuatorEvent, error)
}

// Simulator emulates the remote channel service for development.
// Stop via context cancellation in main() for graceful shutdown.
type Simulator interface {
	LastEntry(ctx context.Context, channelID, apiKey string) (models.FeedEntry, error)
	Update(ctx context.Context, writeKey string, values map[int]string) (int, error)
	Run(ctx context.Context, tick time.Duration)
}

// Service aggregates all sub-services. Simulator is nil when disabled.
type Service struct {
	Dashboard
	EventLog
	Simulator
	Authorization
}

// NewService wires the repository layer and the already built dashboard and
// simulator into one facade for the handlers.
func NewService(repos *repository.Repository, dashboard Dashboard, sim Simulator, auth config.AuthConfig) *Service {
	return &Service{
		Dashboard:     dashboard,
		EventLog:      NewEventLogService(repos.EventRepo),
		Simulator:     sim,
		Authorization: NewAuthService(repos.Auth, auth),
	}
}
