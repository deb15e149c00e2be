package judge

import (
	"context"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"
)

const (
	selectForUpdateSQL = `SELECT id, rating FROM users WHERE id IN ($1,$2) ORDER BY id FOR UPDATE`
	updateUserSQL      = `UPDATE users SET rating = GREATEST(0, rating + $1), wins = wins + $2, losses = losses + $3, total_matches = total_matches + 1 WHERE id = $4`
)

func newRatingStoreMock(t *testing.T) (*SQLRatingStore, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { mockDB.Close() })
	return NewSQLRatingStore(sqlx.NewDb(mockDB, "sqlmock")), mock
}

func TestApplyMatchOutcomeWinLoss(t *testing.T) {
	store, mock := newRatingStoreMock(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(selectForUpdateSQL)).
		WithArgs("p1", "p2").
		WillReturnRows(sqlmock.NewRows([]string{"id", "rating"}).
			AddRow("p1", 1000).
			AddRow("p2", 1000))
	mock.ExpectExec(regexp.QuoteMeta(updateUserSQL)).
		WithArgs(16, 1, 0, "p1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(updateUserSQL)).
		WithArgs(-16, 0, 1, "p2").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := store.ApplyMatchOutcome(context.Background(), RatingOutcome{
		Player1ID:    "p1",
		Player2ID:    "p2",
		Player1Delta: 16,
		Player2Delta: -16,
		WinnerID:     "p1",
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyMatchOutcomeTie(t *testing.T) {
	store, mock := newRatingStoreMock(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(selectForUpdateSQL)).
		WithArgs("p1", "p2").
		WillReturnRows(sqlmock.NewRows([]string{"id", "rating"}).
			AddRow("p1", 1100).
			AddRow("p2", 900))
	// A tie moves total_matches only: no win, no loss for either side.
	mock.ExpectExec(regexp.QuoteMeta(updateUserSQL)).
		WithArgs(-6, 0, 0, "p1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(updateUserSQL)).
		WithArgs(6, 0, 0, "p2").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := store.ApplyMatchOutcome(context.Background(), RatingOutcome{
		Player1ID:    "p1",
		Player2ID:    "p2",
		Player1Delta: -6,
		Player2Delta: 6,
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyMatchOutcomeMissingUserRollsBack(t *testing.T) {
	store, mock := newRatingStoreMock(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(selectForUpdateSQL)).
		WithArgs("p1", "ghost").
		WillReturnRows(sqlmock.NewRows([]string{"id", "rating"}).
			AddRow("p1", 1000))
	mock.ExpectRollback()

	err := store.ApplyMatchOutcome(context.Background(), RatingOutcome{
		Player1ID: "p1",
		Player2ID: "ghost",
	})
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyMatchOutcomeNilDB(t *testing.T) {
	store := NewSQLRatingStore(nil)
	err := store.ApplyMatchOutcome(context.Background(), RatingOutcome{Player1ID: "a", Player2ID: "b"})
	require.Error(t, err)
}
