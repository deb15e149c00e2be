package game

import (
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/jmoiron/sqlx/types"
	"github.com/stretchr/testify/require"
)

func newReplayMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { mockDB.Close() })
	return sqlx.NewDb(mockDB, "sqlmock"), mock
}

func TestReplayBufferFlushWritesBatchInOrder(t *testing.T) {
	db, mock := newReplayMock(t)
	rb := NewReplayBuffer(db, 10, time.Hour)

	rb.Append(ReplayEvent{MatchID: "m1", PlayerID: "a", EventType: EventCodeUpdate, TsMs: 100, Data: types.JSONText(`{"k":1}`)})
	rb.Append(ReplayEvent{MatchID: "m1", PlayerID: "b", EventType: EventSubmission, TsMs: 200})
	require.Equal(t, 2, rb.Pending())

	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO match_events (match_id, player_id, event_type, ts_ms, data) VALUES ($1,$2,$3,$4,$5),($6,$7,$8,$9,$10)`)).
		WithArgs(
			"m1", "a", EventCodeUpdate, int64(100), []byte(`{"k":1}`),
			"m1", "b", EventSubmission, int64(200), []byte(`{}`), // empty data defaults to {}
		).
		WillReturnResult(sqlmock.NewResult(0, 2))

	rb.Flush()
	require.Zero(t, rb.Pending())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReplayBufferRequeuesFailedBatch(t *testing.T) {
	db, mock := newReplayMock(t)
	rb := NewReplayBuffer(db, 10, time.Hour)

	rb.Append(ReplayEvent{MatchID: "m1", PlayerID: "a", EventType: EventCodeUpdate, TsMs: 100})
	rb.Append(ReplayEvent{MatchID: "m1", PlayerID: "a", EventType: EventSubmission, TsMs: 200})

	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO match_events`)).
		WillReturnError(errors.New("connection reset"))
	rb.Flush()

	// The batch went back at the head, so a retry writes the original order.
	require.Equal(t, 2, rb.Pending())
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO match_events`)).
		WithArgs(
			"m1", "a", EventCodeUpdate, int64(100), []byte(`{}`),
			"m1", "a", EventSubmission, int64(200), []byte(`{}`),
		).
		WillReturnResult(sqlmock.NewResult(0, 2))
	rb.Flush()
	require.Zero(t, rb.Pending())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReplayBufferFullBatchSignalsFlusher(t *testing.T) {
	rb := NewReplayBuffer(nil, 2, time.Hour)
	rb.Append(ReplayEvent{MatchID: "m1", EventType: EventCodeUpdate, TsMs: 1})
	rb.Append(ReplayEvent{MatchID: "m1", EventType: EventCodeUpdate, TsMs: 2})

	select {
	case <-rb.kick:
	default:
		t.Error("a full batch should wake the flusher")
	}
}

func TestReplayBufferFlushWithoutDB(t *testing.T) {
	rb := NewReplayBuffer(nil, 10, time.Hour)
	rb.Append(ReplayEvent{MatchID: "m1", EventType: EventCursorMove, TsMs: 1})
	rb.Flush()
	require.Zero(t, rb.Pending())
}

func TestEventsForMatch(t *testing.T) {
	db, mock := newReplayMock(t)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT match_id, player_id, event_type, ts_ms, data FROM match_events WHERE match_id=$1 ORDER BY ts_ms ASC, id ASC`)).
		WithArgs("m1").
		WillReturnRows(sqlmock.NewRows([]string{"match_id", "player_id", "event_type", "ts_ms", "data"}).
			AddRow("m1", "a", "code_update", int64(100), []byte(`{"code":"x"}`)).
			AddRow("m1", "b", "submission", int64(200), []byte(`{}`)))

	events, err := EventsForMatch(db, "m1")
	require.NoError(t, err)
	require.Len(t, events, 2)
	require.Equal(t, "code_update", events[0].EventType)
	require.Equal(t, int64(100), events[0].TsMs)
	require.JSONEq(t, `{"code":"x"}`, string(events[0].Data))
	require.NoError(t, mock.ExpectationsWereMet())
}
