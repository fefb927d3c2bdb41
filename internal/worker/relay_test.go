package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jmehdipour/messageboard/internal/board"
	"github.com/jmehdipour/messageboard/internal/db"
	"github.com/jmehdipour/messageboard/internal/kafka"
	"github.com/jmehdipour/messageboard/internal/model"
	"github.com/jmehdipour/messageboard/internal/repository"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePublisher struct {
	mu   sync.Mutex
	msgs []kafka.Message
	fail error
}

func (p *fakePublisher) Write(_ context.Context, msgs ...kafka.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail != nil {
		return p.fail
	}
	p.msgs = append(p.msgs, msgs...)
	return nil
}

func (p *fakePublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.msgs)
}

func (p *fakePublisher) ids(t *testing.T) []int64 {
	t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]int64, 0, len(p.msgs))
	for _, m := range p.msgs {
		assert.Equal(t, relayKey, string(m.Key))
		var env model.Envelope
		require.NoError(t, json.Unmarshal(m.Value, &env))
		out = append(out, env.NotificationID)
	}
	return out
}

func newStore(t *testing.T) *sqlx.DB {
	t.Helper()
	conn, err := db.NewSQLiteConnection(":memory:", db.SQLiteOpts{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	require.NoError(t, repository.Migrate(testContext(t), conn))
	return conn
}

func seedBoard(t *testing.T, conn *sqlx.DB, id string) {
	t.Helper()
	repo := repository.NewBoardRepository(repository.NewEventLog(conn))
	b, err := board.Create(id, "relay", "admin")
	require.NoError(t, err)
	_, err = b.PostMessage("hello", nil, "admin")
	require.NoError(t, err)
	_, err = repo.Save(testContext(t), b)
	require.NoError(t, err)
}

func TestRelay_PublishesInOrderAndCheckpoints(t *testing.T) {
	conn := newStore(t)
	seedBoard(t, conn, "b1")
	seedBoard(t, conn, "b2")

	cps := repository.NewSQLCheckpointRepository(conn)
	pub := &fakePublisher{}
	r := NewRelay(repository.NewEventLog(conn), cps, pub, nil)
	r.BatchSize = 4

	n, err := r.Step(testContext(t))
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	n, err = r.Step(testContext(t))
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	n, err = r.Step(testContext(t))
	require.NoError(t, err)
	assert.Zero(t, n)

	assert.Equal(t, []int64{1, 2, 3, 4, 5, 6}, pub.ids(t))

	cp, ok, err := cps.LoadCheckpoint(testContext(t), RelayCheckpointName)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(6), cp.Position)
}

func TestRelay_PublishFailureKeepsPosition(t *testing.T) {
	conn := newStore(t)
	seedBoard(t, conn, "b1")

	pub := &fakePublisher{fail: errors.New("broker down")}
	r := NewRelay(repository.NewEventLog(conn), repository.NewSQLCheckpointRepository(conn), pub, nil)

	_, err := r.Step(testContext(t))
	require.Error(t, err)
	assert.Zero(t, r.position)

	pub.fail = nil
	n, err := r.Step(testContext(t))
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, []int64{1, 2, 3}, pub.ids(t))
}

func TestRelay_ResumesFromCheckpoint(t *testing.T) {
	conn := newStore(t)
	seedBoard(t, conn, "b1")
	cps := repository.NewSQLCheckpointRepository(conn)

	first := NewRelay(repository.NewEventLog(conn), cps, &fakePublisher{}, nil)
	_, err := first.Step(testContext(t))
	require.NoError(t, err)

	seedBoard(t, conn, "b2")
	pub := &fakePublisher{}
	second := NewRelay(repository.NewEventLog(conn), cps, pub, nil)
	_, err = second.Step(testContext(t))
	require.NoError(t, err)
	assert.Equal(t, []int64{4, 5, 6}, pub.ids(t))
}

func TestRelay_RunStopsOnCancel(t *testing.T) {
	conn := newStore(t)
	seedBoard(t, conn, "b1")

	pub := &fakePublisher{}
	r := NewRelay(repository.NewEventLog(conn), repository.NewSQLCheckpointRepository(conn), pub, nil)
	r.PollInterval = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(testContext(t))
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx, nil) }()

	require.Eventually(t, func() bool { return pub.count() == 3 }, 2*time.Second, 10*time.Millisecond)
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("relay did not stop")
	}
}

func TestRelay_BreakerPausesPublishing(t *testing.T) {
	conn := newStore(t)
	seedBoard(t, conn, "b1")

	pub := &fakePublisher{fail: errors.New("broker down")}
	r := NewRelay(repository.NewEventLog(conn), repository.NewSQLCheckpointRepository(conn), pub, nil)
	r.Breaker = NewBreaker(1, time.Hour)

	_, err := r.Step(testContext(t))
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrPublishPaused)

	pub.fail = nil
	_, err = r.Step(testContext(t))
	require.ErrorIs(t, err, ErrPublishPaused)
	assert.Zero(t, pub.count())
	assert.Zero(t, r.position)
}
