// Package sqlite stores the event log in a SQLite database through the
// pure-Go modernc.org/sqlite driver.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/terraskye/eventfold"
	msqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

var _ eventfold.EventStore = (*Store)(nil)

// Store is a SQLite-backed event store.
type Store struct {
	db       *sql.DB
	registry *eventfold.Registry
	now      func() time.Time

	closeOnce sync.Once
	closeErr  error
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Open opens the database at path, applies embedded migrations and decodes
// payloads through registry.
func Open(ctx context.Context, path string, registry *eventfold.Registry) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	if registry == nil {
		return nil, fmt.Errorf("event registry is required")
	}

	dsn := filepath.Clean(path) +
		"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_txlock=immediate"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := applyMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &Store{db: db, registry: registry, now: time.Now}, nil
}

func (s *Store) Append(ctx context.Context, aggregateID string, expected eventfold.Revision, events []eventfold.Event) (eventfold.AppendResult, error) {
	if err := eventfold.ValidateAppend(aggregateID, events); err != nil {
		return eventfold.AppendResult{AggregateID: aggregateID}, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eventfold.AppendResult{AggregateID: aggregateID}, eventfold.WrapEventStoreError(fmt.Errorf("begin append: %w", err))
	}
	defer func() { _ = tx.Rollback() }()

	current, err := currentVersion(ctx, tx, aggregateID)
	if err != nil {
		return eventfold.AppendResult{AggregateID: aggregateID}, eventfold.WrapEventStoreError(err)
	}
	if current != expected {
		return eventfold.AppendResult{AggregateID: aggregateID, NextExpectedVersion: uint64(current)},
			&eventfold.StreamRevisionConflictError{
				AggregateID:      aggregateID,
				ExpectedRevision: expected,
				ActualRevision:   current,
			}
	}

	envelopes := eventfold.StampEnvelopes(ctx, aggregateID, expected, events, s.now())
	for _, env := range envelopes {
		// Timestamps are stored with millisecond precision; keep the
		// returned envelopes identical to what Load yields.
		env.OccurredAt = fromMillis(toMillis(env.OccurredAt))

		payload, err := json.Marshal(env.Event)
		if err != nil {
			return eventfold.AppendResult{AggregateID: aggregateID}, fmt.Errorf("encode event %q: %w", env.TypeName, err)
		}
		metadata, err := json.Marshal(env.Metadata)
		if err != nil {
			return eventfold.AppendResult{AggregateID: aggregateID}, fmt.Errorf("encode metadata for %q: %w", env.TypeName, err)
		}

		res, err := tx.ExecContext(ctx, `
INSERT INTO events (event_id, aggregate_id, version, type_name, payload, metadata, occurred_at)
VALUES (?, ?, ?, ?, ?, ?, ?)`,
			env.EventID.String(), aggregateID, env.Version, env.TypeName, payload, metadata, toMillis(env.OccurredAt),
		)
		if err != nil {
			if isConstraintError(err) {
				return eventfold.AppendResult{AggregateID: aggregateID}, &eventfold.StreamRevisionConflictError{
					AggregateID:      aggregateID,
					ExpectedRevision: expected,
					ActualRevision:   eventfold.Revision(env.Version),
				}
			}
			return eventfold.AppendResult{AggregateID: aggregateID}, eventfold.WrapEventStoreError(fmt.Errorf("insert event %d: %w", env.Version, err))
		}

		position, err := res.LastInsertId()
		if err != nil {
			return eventfold.AppendResult{AggregateID: aggregateID}, eventfold.WrapEventStoreError(fmt.Errorf("read position: %w", err))
		}
		env.Position = uint64(position)
	}

	if err := tx.Commit(); err != nil {
		return eventfold.AppendResult{AggregateID: aggregateID}, eventfold.WrapEventStoreError(fmt.Errorf("commit append: %w", err))
	}

	return eventfold.AppendResult{
		Successful:          true,
		AggregateID:         aggregateID,
		NextExpectedVersion: envelopes[len(envelopes)-1].Version,
		Envelopes:           envelopes,
	}, nil
}

func currentVersion(ctx context.Context, tx *sql.Tx, aggregateID string) (eventfold.Revision, error) {
	var version int64
	err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version), 0) FROM events WHERE aggregate_id = ?`, aggregateID,
	).Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("read version of stream %q: %w", aggregateID, err)
	}
	return eventfold.Revision(version), nil
}

func (s *Store) Load(ctx context.Context, aggregateID string) (*eventfold.Iterator[*eventfold.Envelope], error) {
	envelopes, err := s.query(ctx, `
SELECT position, event_id, aggregate_id, version, type_name, payload, metadata, occurred_at
FROM events WHERE aggregate_id = ? ORDER BY version ASC`, aggregateID)
	if err != nil {
		return nil, fmt.Errorf("load stream %q: %w", aggregateID, err)
	}
	return eventfold.NewSliceIterator(envelopes), nil
}

func (s *Store) LoadFromAll(ctx context.Context, from uint64) (*eventfold.Iterator[*eventfold.Envelope], error) {
	envelopes, err := s.query(ctx, `
SELECT position, event_id, aggregate_id, version, type_name, payload, metadata, occurred_at
FROM events WHERE position >= ? ORDER BY position ASC`, from)
	if err != nil {
		return nil, fmt.Errorf("load all from %d: %w", from, err)
	}
	return eventfold.NewSliceIterator(envelopes), nil
}

// query reads every row before returning so that no connection stays
// checked out while the caller iterates.
func (s *Store) query(ctx context.Context, query string, args ...any) ([]*eventfold.Envelope, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eventfold.WrapEventStoreError(err)
	}
	defer rows.Close()

	var envelopes []*eventfold.Envelope
	for rows.Next() {
		var (
			position    int64
			eventID     string
			aggregateID string
			version     int64
			typeName    string
			payload     []byte
			metadata    []byte
			occurredAt  int64
		)
		if err := rows.Scan(&position, &eventID, &aggregateID, &version, &typeName, &payload, &metadata, &occurredAt); err != nil {
			return nil, eventfold.WrapEventStoreError(fmt.Errorf("scan event: %w", err))
		}

		id, err := uuid.Parse(eventID)
		if err != nil {
			return nil, &eventfold.CorruptLogError{AggregateID: aggregateID, Version: uint64(version), Reason: "invalid event id", Err: err}
		}

		event, err := s.registry.DecodeEnvelopeEvent(aggregateID, uint64(version), typeName, payload)
		if err != nil {
			return nil, err
		}

		var md map[string]any
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &md); err != nil {
				return nil, &eventfold.CorruptLogError{AggregateID: aggregateID, Version: uint64(version), Reason: "invalid metadata", Err: err}
			}
		}
		if md == nil {
			md = make(map[string]any)
		}

		envelopes = append(envelopes, &eventfold.Envelope{
			EventID:     id,
			Position:    uint64(position),
			Version:     uint64(version),
			AggregateID: aggregateID,
			TypeName:    typeName,
			Event:       event,
			Metadata:    md,
			OccurredAt:  fromMillis(occurredAt),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, eventfold.WrapEventStoreError(err)
	}
	return envelopes, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	s.closeOnce.Do(func() { s.closeErr = s.db.Close() })
	return s.closeErr
}

func isConstraintError(err error) bool {
	var sqliteErr *msqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	code := sqliteErr.Code()
	return code == sqlite3.SQLITE_CONSTRAINT || code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
}
