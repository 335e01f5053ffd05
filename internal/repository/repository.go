package repository

import (
	"context"
	"database/sql"
	"time"

	"actuator_dashboard/internal/models"
)

type Authorization interface {
	Create(ctx context.Context, username, hash string) (int, error)
	GetByUsername(ctx context.Context, username string) (*models.User, error)
}

// EventRepo is the append-only actuator log.
type EventRepo interface {
	Append(ctx context.Context, e models.ActuatorEvent) error
	List(ctx context.Context, from, to time.Time, typ, channelID string) ([]models.ActuatorEvent, error)
}

// FeedRepo stores entries of emulated channels.
type FeedRepo interface {
	Append(ctx context.Context, e models.FeedEntry) (models.FeedEntry, error)
	Last(ctx context.Context, channelID string) (models.FeedEntry, error)
	Prune(ctx context.Context, before time.Time) (int64, error)
}

type Repository struct {
	EventRepo EventRepo
	FeedRepo  FeedRepo
	Auth      Authorization
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{
		EventRepo: NewEventSQLite(db),
		FeedRepo:  NewFeedSQLite(db),
		Auth:      NewUserRepository(db),
	}
}
