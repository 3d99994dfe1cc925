package repository

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/radieske/period-bet-engine/pkg/contracts/events"
)

var at = time.Date(2025, 7, 6, 14, 38, 33, 0, time.UTC)

func TestInsertWagerAppliesEarlySettlement(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	e := events.WagerPlaced{
		WagerID: "w1", UserID: "u1", GameType: "wingo", Duration: 30, RoundID: "20250706000001756",
		Selector: "7", GrossCents: 102, FeeCents: 2, NetCents: 100, Odds: 9, PlacedAt: at,
	}
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO wagers")).
		WithArgs("w1", "u1", "20250706000001756", "wingo", 30, "7", int64(102), int64(2), int64(100), 9.0, at).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("FROM wager_settlements s")).
		WithArgs("w1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	if err := NewPostgresRepo(db).InsertWager(context.Background(), e); err != nil {
		t.Fatalf("InsertWager: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestSaveRoundWritesEveryWager(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	e := events.RoundSettled{
		GameType: "wingo", Duration: 30, RoundID: "20250706000001756", Outcome: "7", Mode: "random",
		WagerCount: 2, TotalStake: 200, TotalPayout: 900, ResolvedAt: at,
		Wagers: []events.WagerOutcome{
			{WagerID: "w1", UserID: "u1", Status: "won", PayoutCents: 900},
			{WagerID: "w2", UserID: "u2", Status: "lost"},
		},
	}
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO round_results")).
		WithArgs("wingo", 30, "20250706000001756", "7", "random", int64(2), int64(200), int64(900), at).
		WillReturnResult(sqlmock.NewResult(0, 1))
	for _, w := range e.Wagers {
		mock.ExpectExec(regexp.QuoteMeta("INSERT INTO wager_settlements")).
			WithArgs(w.WagerID, w.Status, w.PayoutCents, at).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(regexp.QuoteMeta("UPDATE wagers SET status")).
			WithArgs(w.WagerID, w.Status, w.PayoutCents, at).
			WillReturnResult(sqlmock.NewResult(0, 1))
	}
	mock.ExpectCommit()

	if err := NewPostgresRepo(db).SaveRound(context.Background(), e); err != nil {
		t.Fatalf("SaveRound: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestSaveRoundRollsBackOnFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	boom := errors.New("connection reset")
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO round_results")).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO wager_settlements")).WillReturnError(boom)
	mock.ExpectRollback()

	err = NewPostgresRepo(db).SaveRound(context.Background(), events.RoundSettled{
		GameType: "wingo", Duration: 30, RoundID: "r", Outcome: "7", Mode: "random", ResolvedAt: at,
		Wagers: []events.WagerOutcome{{WagerID: "w1", Status: "won", PayoutCents: 900}},
	})
	if !errors.Is(err, boom) {
		t.Errorf("err = %v, want wrapped %v", err, boom)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}
