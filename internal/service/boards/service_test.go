package boards

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/jmehdipour/messageboard/internal/board"
	"github.com/jmehdipour/messageboard/internal/db"
	"github.com/jmehdipour/messageboard/internal/model"
	"github.com/jmehdipour/messageboard/internal/projection"
	"github.com/jmehdipour/messageboard/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	adminA = "2b7e1516-28ae-4d2a-abf7-158809cf4f3c"
	user   = "9c3f2a10-4b1d-4e8f-8a7b-6d5c4e3f2a10"
)

type env struct {
	log     *repository.EventLogImpl
	repo    *repository.BoardRepositoryImpl
	svc     *Service
	index   *projection.PostsByUserIndex
	posts   *projection.PostRepository
	wakeups *recorder
}

type recorder struct {
	mu        sync.Mutex
	positions []int64
}

func (r *recorder) Notify(_ context.Context, position int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.positions = append(r.positions, position)
	return nil
}

func setup(t *testing.T) *env {
	t.Helper()
	conn, err := db.NewSQLiteConnection(":memory:", db.SQLiteOpts{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	require.NoError(t, repository.Migrate(testContext(t), conn))

	log := repository.NewEventLog(conn)
	repo := repository.NewBoardRepository(log)
	cps := repository.NewSQLCheckpointRepository(conn)

	index, err := projection.NewPostsByUserIndex(log, cps, projection.Options{})
	require.NoError(t, err)
	require.NoError(t, index.Start(testContext(t)))
	posts, err := projection.NewPostRepository(log, cps, projection.Options{})
	require.NoError(t, err)
	require.NoError(t, posts.Start(testContext(t)))

	rec := &recorder{}
	return &env{log: log, repo: repo, svc: New(repo, rec, nil), index: index, posts: posts, wakeups: rec}
}

func (e *env) catchUp(t *testing.T) {
	t.Helper()
	require.NoError(t, e.index.CatchUp(testContext(t)))
	require.NoError(t, e.posts.CatchUp(testContext(t)))
}

func ptr(v int64) *int64 { return &v }

func TestService_CreateBoard(t *testing.T) {
	e := setup(t)

	id, err := e.svc.CreateBoard(testContext(t), "Test board", adminA)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	b, err := e.repo.Load(testContext(t), id)
	require.NoError(t, err)
	assert.Equal(t, "Test board", b.Name())
	assert.True(t, b.IsAdmin(adminA))
	assert.Equal(t, int64(2), b.Version())
	assert.Equal(t, []int64{2}, e.wakeups.positions)

	_, err = e.svc.CreateBoard(testContext(t), "", adminA)
	assert.ErrorIs(t, err, model.ErrValidation)
}

func TestService_PostAndReply(t *testing.T) {
	e := setup(t)
	id, err := e.svc.CreateBoard(testContext(t), "Test board", adminA)
	require.NoError(t, err)

	first, err := e.svc.PostMessage(testContext(t), id, "hello", nil, user)
	require.NoError(t, err)
	assert.Equal(t, int64(0), first)

	second, err := e.svc.PostMessage(testContext(t), id, "hi", ptr(0), user)
	require.NoError(t, err)
	assert.Equal(t, int64(1), second)

	e.catchUp(t)
	p, ok := e.posts.Post(id, second)
	require.True(t, ok)
	require.NotNil(t, p.ReplyTo)
	assert.Equal(t, int64(0), *p.ReplyTo)

	_, err = e.svc.PostMessage(testContext(t), id, "", nil, user)
	assert.ErrorIs(t, err, model.ErrValidation)
	_, err = e.svc.PostMessage(testContext(t), id, "orphan", ptr(42), user)
	assert.ErrorIs(t, err, model.ErrNotFound)
	_, err = e.svc.PostMessage(testContext(t), "missing", "hello", nil, user)
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestService_ModerationFlow(t *testing.T) {
	e := setup(t)
	id, err := e.svc.CreateBoard(testContext(t), "Test board", adminA)
	require.NoError(t, err)

	require.NoError(t, e.svc.ModerateUser(testContext(t), id, user, adminA))
	msg, err := e.svc.PostMessage(testContext(t), id, "please approve", nil, user)
	require.NoError(t, err)

	events, err := e.log.Read(testContext(t), id)
	require.NoError(t, err)
	last := events[len(events)-1]
	p, err := board.Decode(last.Type, last.Payload)
	require.NoError(t, err)
	assert.True(t, p.(board.MessagePosted).RequiresModeration)

	e.catchUp(t)
	assert.Empty(t, e.index.PostsForUser(user))

	err = e.svc.ApproveMessage(testContext(t), id, msg, user)
	assert.ErrorIs(t, err, model.ErrPermissionDenied)

	require.NoError(t, e.svc.ApproveMessage(testContext(t), id, msg, adminA))
	e.catchUp(t)
	assert.Equal(t, []projection.PostKey{{BoardID: id, MessageID: msg}}, e.index.PostsForUser(user))

	err = e.svc.ApproveMessage(testContext(t), id, msg, adminA)
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestService_RejectMessage(t *testing.T) {
	e := setup(t)
	id, err := e.svc.CreateBoard(testContext(t), "Test board", adminA)
	require.NoError(t, err)
	require.NoError(t, e.svc.ModerateUser(testContext(t), id, user, adminA))
	msg, err := e.svc.PostMessage(testContext(t), id, "spam", nil, user)
	require.NoError(t, err)

	require.ErrorIs(t, e.svc.RejectMessage(testContext(t), id, msg, user), model.ErrPermissionDenied)
	require.NoError(t, e.svc.RejectMessage(testContext(t), id, msg, adminA))
	require.ErrorIs(t, e.svc.RejectMessage(testContext(t), id, msg, adminA), model.ErrNotFound)

	_, err = e.svc.PostMessage(testContext(t), id, "reply to rejected", ptr(msg), adminA)
	assert.ErrorIs(t, err, model.ErrNotFound)

	e.catchUp(t)
	assert.Empty(t, e.index.PostsForUser(user))
	p, ok := e.posts.Post(id, msg)
	require.True(t, ok)
	assert.False(t, p.Published)
}

func TestService_ModerateUserRequiresAdmin(t *testing.T) {
	e := setup(t)
	id, err := e.svc.CreateBoard(testContext(t), "Test board", adminA)
	require.NoError(t, err)

	err = e.svc.ModerateUser(testContext(t), id, adminA, user)
	assert.ErrorIs(t, err, model.ErrPermissionDenied)
}

// loadBarrier holds every Load until n loads have happened, so concurrent
// commands all see the same version.
type loadBarrier struct {
	repository.BoardRepository
	wg *sync.WaitGroup
}

func (r loadBarrier) Load(ctx context.Context, id string) (*board.Board, error) {
	b, err := r.BoardRepository.Load(ctx, id)
	r.wg.Done()
	r.wg.Wait()
	return b, err
}

func TestService_ConcurrentCommandsExactlyOneWins(t *testing.T) {
	e := setup(t)
	id, err := e.svc.CreateBoard(testContext(t), "Test board", adminA)
	require.NoError(t, err)

	var wg sync.WaitGroup
	wg.Add(2)
	svc := New(loadBarrier{BoardRepository: e.repo, wg: &wg}, nil, nil)

	errs := make(chan error, 2)
	var done sync.WaitGroup
	for _, text := range []string{"left", "right"} {
		text := text
		done.Add(1)
		go func() {
			defer done.Done()
			_, err := svc.PostMessage(context.Background(), id, text, nil, user)
			errs <- err
		}()
	}
	done.Wait()
	close(errs)

	var ok, conflicts int
	for err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, model.ErrConcurrency):
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, conflicts)

	events, err := e.log.Read(testContext(t), id)
	require.NoError(t, err)
	for i, ev := range events {
		assert.Equal(t, int64(i+1), ev.OriginatorVersion)
	}
	assert.Len(t, events, 3)
}

func TestResult(t *testing.T) {
	assert.Equal(t, "ok", Result(nil))
	assert.Equal(t, "validation", Result(board.ErrMissingFieldValue))
	assert.Equal(t, "not_found", Result(board.ErrMessageNotFound))
	assert.Equal(t, "permission_denied", Result(board.ErrPermissionDenied))
	assert.Equal(t, "conflict", Result(model.ErrConcurrency))
	assert.Equal(t, "error", Result(errors.New("boom")))
}
