package repository

import (
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"actuator_dashboard/internal/models"

	"github.com/DATA-DOG/go-sqlmock"
)

func strPtr(s string) *string { return &s }

func TestFeedAppend_AssignsNextEntryID(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock new: %v", err)
	}
	defer db.Close()

	repo := NewFeedSQLite(db)
	created := time.Date(2025, 2, 1, 8, 0, 0, 0, time.FixedZone("CET", 3600))

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(selectMaxEntrySQL)).
		WithArgs("42").
		WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(6))
	mock.ExpectExec(regexp.QuoteMeta(insertFeedEntrySQL)).
		WithArgs("42", 7, created.UTC(),
			sql.NullString{String: "1", Valid: true}, sql.NullString{},
			sql.NullString{}, sql.NullString{}, sql.NullString{}, sql.NullString{}, sql.NullString{},
			sql.NullString{String: "0", Valid: true}).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	var fields [models.FieldCount]*string
	fields[0] = strPtr("1")
	fields[7] = strPtr("0")

	got, err := repo.Append(ctx(t), models.FeedEntry{ChannelID: "42", CreatedAt: created, Fields: fields})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if got.EntryID != 7 {
		t.Fatalf("want entry 7, got %d", got.EntryID)
	}
	if got.CreatedAt.Location() != time.UTC {
		t.Fatalf("created_at not UTC: %v", got.CreatedAt)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("mock expectations: %v", err)
	}
}

func TestFeedAppend_InsertErrorRollsBack(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock new: %v", err)
	}
	defer db.Close()

	repo := NewFeedSQLite(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(selectMaxEntrySQL)).
		WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(0))
	mock.ExpectExec("INSERT INTO feed_entries").WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	if _, err := repo.Append(ctx(t), models.FeedEntry{ChannelID: "42"}); err == nil {
		t.Fatalf("expected error")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("mock expectations: %v", err)
	}
}

func TestFeedLast(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock new: %v", err)
	}
	defer db.Close()

	repo := NewFeedSQLite(db)
	at := time.Date(2025, 2, 1, 8, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta(selectLastFeedEntrySQL)).
		WithArgs("42").
		WillReturnRows(sqlmock.NewRows([]string{"channel_id", "entry_id", "created_at",
			"field1", "field2", "field3", "field4", "field5", "field6", "field7", "field8"}).
			AddRow("42", 9, at, "1", nil, "0", nil, nil, nil, nil, "1"))

	e, err := repo.Last(ctx(t), "42")
	if err != nil {
		t.Fatalf("Last: %v", err)
	}
	if e.EntryID != 9 || !e.CreatedAt.Equal(at) {
		t.Fatalf("unexpected entry: %+v", e)
	}
	if e.Fields[0] == nil || *e.Fields[0] != "1" || e.Fields[1] != nil || *e.Fields[7] != "1" {
		t.Fatalf("unexpected fields: %+v", e.Fields)
	}

	mock.ExpectQuery(regexp.QuoteMeta(selectLastFeedEntrySQL)).
		WithArgs("empty").
		WillReturnError(sql.ErrNoRows)

	e, err = repo.Last(ctx(t), "empty")
	if err != nil || e.EntryID != 0 {
		t.Fatalf("expected zero entry for empty channel, got %+v, %v", e, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("mock expectations: %v", err)
	}
}

func TestFeedPrune(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock new: %v", err)
	}
	defer db.Close()

	repo := NewFeedSQLite(db)
	cutoff := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectExec(regexp.QuoteMeta(pruneFeedEntriesSQL)).
		WithArgs(cutoff).
		WillReturnResult(sqlmock.NewResult(0, 12))

	n, err := repo.Prune(ctx(t), cutoff)
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if n != 12 {
		t.Fatalf("want 12 pruned, got %d", n)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("mock expectations: %v", err)
	}
}
