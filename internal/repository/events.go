package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmehdipour/messageboard/internal/metrics"
	"github.com/jmehdipour/messageboard/internal/model"
	"github.com/jmoiron/sqlx"
)

const (
	defaultNotificationLimit = 100
	maxNotificationLimit     = 10000
)

// EventLog is the durable, append-only store of event records.
type EventLog interface {
	// Append commits events for one originator as a single batch, giving them
	// versions expectedVersion+1, expectedVersion+2, ... It fails with
	// model.ErrConcurrency if the stored version is not expectedVersion.
	Append(ctx context.Context, originatorID string, expectedVersion int64, events []model.NewEvent) ([]model.Event, error)

	// Read returns all events of one originator, ascending by version.
	Read(ctx context.Context, originatorID string) ([]model.Event, error)

	// ReadNotifications returns up to limit events with notification id
	// greater than after, ascending, across all originators.
	ReadNotifications(ctx context.Context, after int64, limit int) ([]model.Event, error)
}

// EventLogImpl is a sqlx-backed EventLog for MySQL and SQLite.
type EventLogImpl struct {
	db  *sqlx.DB
	now func() time.Time
}

var _ EventLog = (*EventLogImpl)(nil)

// NewEventLog constructs an EventLogImpl. Run Migrate first.
func NewEventLog(db *sqlx.DB) *EventLogImpl {
	return &EventLogImpl{db: db, now: time.Now}
}

type eventRow struct {
	NotificationID    int64  `db:"notification_id"`
	OriginatorID      string `db:"originator_id"`
	OriginatorVersion int64  `db:"originator_version"`
	EventType         string `db:"event_type"`
	Payload           []byte `db:"payload"`
	CreatedAt         int64  `db:"created_at"`
}

func (r eventRow) event() model.Event {
	return model.Event{
		NotificationID:    r.NotificationID,
		OriginatorID:      r.OriginatorID,
		OriginatorVersion: r.OriginatorVersion,
		Type:              model.EventType(r.EventType),
		Payload:           r.Payload,
		Timestamp:         time.Unix(0, r.CreatedAt).UTC(),
	}
}

// Append reserves notification ids by bumping the sequence row first. The row
// lock it takes is held until commit, so appends commit in id order and a
// rolled back append leaves no gap. The version check runs after the lock,
// so it sees every append committed before it.
func (l *EventLogImpl) Append(ctx context.Context, originatorID string, expectedVersion int64, events []model.NewEvent) ([]model.Event, error) {
	if originatorID == "" {
		return nil, fmt.Errorf("%w: originator id is required", model.ErrValidation)
	}
	if len(events) == 0 {
		return nil, fmt.Errorf("%w: empty event batch", model.ErrValidation)
	}
	if expectedVersion < 0 {
		return nil, fmt.Errorf("%w: negative expected version %d", model.ErrValidation, expectedVersion)
	}

	n := int64(len(events))
	var out []model.Event

	err := withTx(ctx, l.db, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE event_sequence SET last_id = last_id + ? WHERE name = ?`, n, notificationSeq)
		if err != nil {
			return fmt.Errorf("reserve notification ids: %w", err)
		}
		if affected, err := res.RowsAffected(); err == nil && affected != 1 {
			return fmt.Errorf("notification sequence %q missing, run migrate", notificationSeq)
		}

		var lastID int64
		if err := tx.GetContext(ctx, &lastID,
			`SELECT last_id FROM event_sequence WHERE name = ?`, notificationSeq); err != nil {
			return fmt.Errorf("read notification sequence: %w", err)
		}

		var current int64
		if err := tx.GetContext(ctx, &current,
			`SELECT COALESCE(MAX(originator_version), 0) FROM events WHERE originator_id = ?`, originatorID); err != nil {
			return fmt.Errorf("read current version: %w", err)
		}
		if current != expectedVersion {
			return fmt.Errorf("%w: %s is at version %d, expected %d", model.ErrConcurrency, originatorID, current, expectedVersion)
		}

		firstID := lastID - n + 1
		rows := make([]eventRow, 0, n)
		for i, ev := range events {
			ts := ev.Timestamp
			if ts.IsZero() {
				ts = l.now()
			}
			rows = append(rows, eventRow{
				NotificationID:    firstID + int64(i),
				OriginatorID:      originatorID,
				OriginatorVersion: expectedVersion + 1 + int64(i),
				EventType:         ev.Type.String(),
				Payload:           ev.Payload,
				CreatedAt:         ts.UnixNano(),
			})
		}

		if err := insertEvents(ctx, tx, rows); err != nil {
			if isDuplicateKey(err) {
				return fmt.Errorf("%w: %s version %d already taken", model.ErrConcurrency, originatorID, expectedVersion+1)
			}
			return fmt.Errorf("insert events: %w", err)
		}

		out = make([]model.Event, 0, len(rows))
		for _, r := range rows {
			out = append(out, r.event())
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.EventsAppended.Add(float64(n))
	return out, nil
}

func insertEvents(ctx context.Context, tx *sqlx.Tx, rows []eventRow) error {
	var sb strings.Builder
	args := make([]any, 0, len(rows)*6)

	sb.WriteString(`INSERT INTO events (notification_id, originator_id, originator_version, event_type, payload, created_at) VALUES `)
	for i, r := range rows {
		if i > 0 {
			sb.WriteString(",")
		}
		sb.WriteString("(?, ?, ?, ?, ?, ?)")
		args = append(args, r.NotificationID, r.OriginatorID, r.OriginatorVersion, r.EventType, r.Payload, r.CreatedAt)
	}

	_, err := tx.ExecContext(ctx, sb.String(), args...)
	return err
}

// Read returns the full history of one originator.
func (l *EventLogImpl) Read(ctx context.Context, originatorID string) ([]model.Event, error) {
	var rows []eventRow
	err := l.db.SelectContext(ctx, &rows, `
		SELECT notification_id, originator_id, originator_version, event_type, payload, created_at
		  FROM events
		 WHERE originator_id = ?
		 ORDER BY originator_version
	`, originatorID)
	if err != nil {
		return nil, fmt.Errorf("read events for %s: %w", originatorID, err)
	}
	return toEvents(rows), nil
}

// ReadNotifications pages through the global feed.
func (l *EventLogImpl) ReadNotifications(ctx context.Context, after int64, limit int) ([]model.Event, error) {
	if limit <= 0 {
		limit = defaultNotificationLimit
	}
	if limit > maxNotificationLimit {
		limit = maxNotificationLimit
	}

	var rows []eventRow
	err := l.db.SelectContext(ctx, &rows, `
		SELECT notification_id, originator_id, originator_version, event_type, payload, created_at
		  FROM events
		 WHERE notification_id > ?
		 ORDER BY notification_id
		 LIMIT ?
	`, after, limit)
	if err != nil {
		return nil, fmt.Errorf("read notifications after %d: %w", after, err)
	}
	return toEvents(rows), nil
}

// LastNotificationID returns the id of the newest committed event, 0 if none.
func (l *EventLogImpl) LastNotificationID(ctx context.Context) (int64, error) {
	var id int64
	if err := l.db.GetContext(ctx, &id, `SELECT COALESCE(MAX(notification_id), 0) FROM events`); err != nil {
		return 0, err
	}
	return id, nil
}

func toEvents(rows []eventRow) []model.Event {
	out := make([]model.Event, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.event())
	}
	return out
}
