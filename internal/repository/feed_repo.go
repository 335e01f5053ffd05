package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"actuator_dashboard/internal/models"
)

type FeedSQLite struct {
	db *sql.DB
}

func NewFeedSQLite(db *sql.DB) *FeedSQLite {
	return &FeedSQLite{db: db}
}

const (
	selectMaxEntrySQL = `SELECT COALESCE(MAX(entry_id), 0) FROM feed_entries WHERE channel_id = ?`

	insertFeedEntrySQL = `
		INSERT INTO feed_entries (channel_id, entry_id, created_at, field1, field2, field3, field4, field5, field6, field7, field8)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	selectLastFeedEntrySQL = `
		SELECT channel_id, entry_id, created_at, field1, field2, field3, field4, field5, field6, field7, field8
		FROM feed_entries WHERE channel_id = ? ORDER BY entry_id DESC LIMIT 1
	`

	// Keeps the newest entry of every channel regardless of age.
	pruneFeedEntriesSQL = `
		DELETE FROM feed_entries
		WHERE created_at < ?
		  AND entry_id < (SELECT MAX(f.entry_id) FROM feed_entries f WHERE f.channel_id = feed_entries.channel_id)
	`
)

// Append stores e as the next entry of its channel and returns it with
// EntryID and CreatedAt assigned.
func (r *FeedSQLite) Append(ctx context.Context, e models.FeedEntry) (models.FeedEntry, error) {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	} else {
		e.CreatedAt = e.CreatedAt.UTC()
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return models.FeedEntry{}, fmt.Errorf("begin feed append: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var last int
	if err := tx.QueryRowContext(ctx, selectMaxEntrySQL, e.ChannelID).Scan(&last); err != nil {
		return models.FeedEntry{}, fmt.Errorf("next entry id for channel %s: %w", e.ChannelID, err)
	}
	e.EntryID = last + 1

	args := []any{e.ChannelID, e.EntryID, e.CreatedAt}
	for _, v := range e.Fields {
		args = append(args, nullable(v))
	}
	if _, err := tx.ExecContext(ctx, insertFeedEntrySQL, args...); err != nil {
		return models.FeedEntry{}, fmt.Errorf("insert entry for channel %s: %w", e.ChannelID, err)
	}
	if err := tx.Commit(); err != nil {
		return models.FeedEntry{}, fmt.Errorf("commit feed append: %w", err)
	}
	return e, nil
}

// Last returns the newest entry of the channel; EntryID is 0 when the channel is empty.
func (r *FeedSQLite) Last(ctx context.Context, channelID string) (models.FeedEntry, error) {
	var (
		e    models.FeedEntry
		cols [models.FieldCount]sql.NullString
	)
	dest := []any{&e.ChannelID, &e.EntryID, &e.CreatedAt}
	for i := range cols {
		dest = append(dest, &cols[i])
	}

	if err := r.db.QueryRowContext(ctx, selectLastFeedEntrySQL, channelID).Scan(dest...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.FeedEntry{}, nil
		}
		return models.FeedEntry{}, fmt.Errorf("select last entry for channel %s: %w", channelID, err)
	}
	for i, c := range cols {
		if c.Valid {
			v := c.String
			e.Fields[i] = &v
		}
	}
	e.CreatedAt = e.CreatedAt.UTC()
	return e, nil
}

// Prune deletes entries created before the cutoff, keeping each channel's newest.
func (r *FeedSQLite) Prune(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, pruneFeedEntriesSQL, before.UTC())
	if err != nil {
		return 0, fmt.Errorf("prune feed entries: %w", err)
	}
	return res.RowsAffected()
}

func nullable(v *string) sql.NullString {
	if v == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *v, Valid: true}
}
