package repository

import (
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"github.com/jmehdipour/messageboard/internal/db"
	"github.com/jmehdipour/messageboard/internal/model"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSQLite(t *testing.T) *sqlx.DB {
	t.Helper()
	conn, err := db.NewSQLiteConnection(":memory:", db.SQLiteOpts{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	require.NoError(t, Migrate(testContext(t), conn))
	return conn
}

func batch(n int) []model.NewEvent {
	out := make([]model.NewEvent, n)
	for i := range out {
		out[i] = model.NewEvent{Type: "Test.Happened", Payload: json.RawMessage(fmt.Sprintf(`{"n":%d}`, i))}
	}
	return out
}

func TestMigrate_Idempotent(t *testing.T) {
	conn := newSQLite(t)
	require.NoError(t, Migrate(testContext(t), conn))

	var last int64
	require.NoError(t, conn.Get(&last, `SELECT last_id FROM event_sequence WHERE name = ?`, notificationSeq))
	assert.Zero(t, last)
}

func TestEventLog_AppendAssignsVersionsAndNotificationIDs(t *testing.T) {
	log := NewEventLog(newSQLite(t))

	a, err := log.Append(testContext(t), "a", 0, batch(2))
	require.NoError(t, err)
	b, err := log.Append(testContext(t), "b", 0, batch(1))
	require.NoError(t, err)
	a2, err := log.Append(testContext(t), "a", 2, batch(1))
	require.NoError(t, err)

	assert.Equal(t, int64(1), a[0].OriginatorVersion)
	assert.Equal(t, int64(2), a[1].OriginatorVersion)
	assert.Equal(t, int64(1), b[0].OriginatorVersion)
	assert.Equal(t, int64(3), a2[0].OriginatorVersion)

	feed, err := log.ReadNotifications(testContext(t), 0, 0)
	require.NoError(t, err)
	require.Len(t, feed, 4)
	for i, ev := range feed {
		assert.Equal(t, int64(i+1), ev.NotificationID)
	}
	assert.Equal(t, "b", feed[2].OriginatorID)
	assert.JSONEq(t, `{"n":0}`, string(feed[0].Payload))
	assert.False(t, feed[0].Timestamp.IsZero())

	history, err := log.Read(testContext(t), "a")
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, int64(4), history[2].NotificationID)

	last, err := log.LastNotificationID(testContext(t))
	require.NoError(t, err)
	assert.Equal(t, int64(4), last)
}

func TestEventLog_ReadNotificationsPages(t *testing.T) {
	log := NewEventLog(newSQLite(t))
	_, err := log.Append(testContext(t), "a", 0, batch(5))
	require.NoError(t, err)

	page, err := log.ReadNotifications(testContext(t), 2, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, int64(3), page[0].NotificationID)
	assert.Equal(t, int64(4), page[1].NotificationID)

	page, err = log.ReadNotifications(testContext(t), 5, 10)
	require.NoError(t, err)
	assert.Empty(t, page)
}

func TestEventLog_VersionMismatchIsConcurrencyError(t *testing.T) {
	log := NewEventLog(newSQLite(t))
	_, err := log.Append(testContext(t), "a", 0, batch(2))
	require.NoError(t, err)

	_, err = log.Append(testContext(t), "a", 0, batch(1))
	require.ErrorIs(t, err, model.ErrConcurrency)
	_, err = log.Append(testContext(t), "a", 5, batch(1))
	require.ErrorIs(t, err, model.ErrConcurrency)

	// the failed appends left no gap in the feed
	ev, err := log.Append(testContext(t), "b", 0, batch(1))
	require.NoError(t, err)
	assert.Equal(t, int64(3), ev[0].NotificationID)
}

func TestEventLog_RejectsBadInput(t *testing.T) {
	log := NewEventLog(newSQLite(t))

	_, err := log.Append(testContext(t), "a", 0, nil)
	assert.ErrorIs(t, err, model.ErrValidation)
	_, err = log.Append(testContext(t), "", 0, batch(1))
	assert.ErrorIs(t, err, model.ErrValidation)
	_, err = log.Append(testContext(t), "a", -1, batch(1))
	assert.ErrorIs(t, err, model.ErrValidation)
}

func TestEventLog_ConcurrentWritersKeepVersionsContiguous(t *testing.T) {
	log := NewEventLog(newSQLite(t))
	_, err := log.Append(testContext(t), "a", 0, batch(1))
	require.NoError(t, err)

	const writers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		ok        int
		conflicts int
	)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := log.Append(testContext(t), "a", 1, batch(2))
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				ok++
			} else if assert.ErrorIs(t, err, model.ErrConcurrency) {
				conflicts++
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, ok)
	assert.Equal(t, writers-1, conflicts)

	history, err := log.Read(testContext(t), "a")
	require.NoError(t, err)
	require.Len(t, history, 3)
	for i, ev := range history {
		assert.Equal(t, int64(i+1), ev.OriginatorVersion)
	}

	feed, err := log.ReadNotifications(testContext(t), 0, 100)
	require.NoError(t, err)
	for i, ev := range feed {
		assert.Equal(t, int64(i+1), ev.NotificationID)
	}
}

func TestIsDuplicateKey(t *testing.T) {
	conn := newSQLite(t)
	_, err := conn.Exec(`INSERT INTO event_sequence (name, last_id) VALUES (?, 0)`, notificationSeq)
	require.Error(t, err)
	assert.True(t, isDuplicateKey(err))
	assert.False(t, isDuplicateKey(fmt.Errorf("other")))
}
