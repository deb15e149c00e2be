package game

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

// newDeadCacheManager wires a manager to a mocked database and a cache
// address nobody listens on, so every cache command fails fast.
func newDeadCacheManager(t *testing.T) (*GameManager, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { mockDB.Close() })

	rdb := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	t.Cleanup(func() { rdb.Close() })

	db := sqlx.NewDb(mockDB, "sqlmock")
	return &GameManager{
		db:    db,
		rdb:   rdb,
		store: NewStateStore(rdb, time.Minute),
		sink:  noopSink{},
	}, mock
}

type failingStartCache struct {
	calls    int
	failures int
}

func (c *failingStartCache) SetStartedAt(ctx context.Context, matchID string, startedAt int64) error {
	c.calls++
	if c.calls <= c.failures {
		return errors.New("cache write refused")
	}
	return nil
}

func TestStampMatchStartRollsBackWhenCacheWriteFails(t *testing.T) {
	db, mock := newReplayMock(t)
	cache := &failingStartCache{failures: 2}

	mock.ExpectExec(regexp.QuoteMeta(`UPDATE matches SET status = 'active'`)).
		WithArgs(int64(1_700_000_000_000), "m1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	// The failed cache write undoes the durable flip.
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE matches SET status = 'lobby', started_at = NULL`)).
		WithArgs("m1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := stampMatchStart(context.Background(), db, cache, "m1", 1_700_000_000_000)
	require.Error(t, err)
	require.Equal(t, 2, cache.calls) // one retry before giving up
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStampMatchStartRecoversOnCacheRetry(t *testing.T) {
	db, mock := newReplayMock(t)
	cache := &failingStartCache{failures: 1}

	mock.ExpectExec(regexp.QuoteMeta(`UPDATE matches SET status = 'active'`)).
		WithArgs(int64(1_700_000_000_000), "m1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := stampMatchStart(context.Background(), db, cache, "m1", 1_700_000_000_000)
	require.NoError(t, err)
	require.Equal(t, 2, cache.calls)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStampMatchStartRejectsNonLobbyMatch(t *testing.T) {
	db, mock := newReplayMock(t)
	cache := &failingStartCache{}

	mock.ExpectExec(regexp.QuoteMeta(`UPDATE matches SET status = 'active'`)).
		WithArgs(int64(1_700_000_000_000), "m1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := stampMatchStart(context.Background(), db, cache, "m1", 1_700_000_000_000)
	require.Error(t, err)
	require.Zero(t, cache.calls)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStartMatchTouchesNothingDurableWhenCacheIsDown(t *testing.T) {
	gm, mock := newDeadCacheManager(t)

	err := gm.startMatch(context.Background(), "m1")
	require.Error(t, err)
	// The state read aborts first, so no statement reached the database.
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCompleteFromRowWritesFallbackCompletion(t *testing.T) {
	gm, mock := newDeadCacheManager(t)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT player1_id, player2_id FROM matches WHERE id = $1`)).
		WithArgs("m1").
		WillReturnRows(sqlmock.NewRows([]string{"player1_id", "player2_id"}).AddRow("a", "b"))
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE matches`)).
		WithArgs(sqlmock.AnyArg(), nil, 0.0, 0.0, "", "", int64(0), true, "m1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	gm.completeFromRow(context.Background(), "m1")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCompleteFromRowSkipsCompletionWhenDurableReadFails(t *testing.T) {
	gm, mock := newDeadCacheManager(t)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT player1_id, player2_id`)).
		WithArgs("m1").
		WillReturnError(errors.New("connection reset"))

	gm.completeFromRow(context.Background(), "m1")
	// No completion row was written; the claim goes back for a retry.
	require.NoError(t, mock.ExpectationsWereMet())
}
