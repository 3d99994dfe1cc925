package bets

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/radieske/period-bet-engine/internal/round-engine/exposure"
	"github.com/radieske/period-bet-engine/internal/round-engine/games"
	"github.com/radieske/period-bet-engine/internal/round-engine/rounds"
	"github.com/radieske/period-bet-engine/internal/wallet-service/client"
	"github.com/radieske/period-bet-engine/pkg/contracts/events"
	"github.com/radieske/period-bet-engine/pkg/contracts/records"
)

type fakeWallet struct {
	mu       sync.Mutex
	balances map[string]int64
	refs     map[string]bool
	onDebit  func()
}

func newFakeWallet() *fakeWallet {
	return &fakeWallet{balances: map[string]int64{}, refs: map[string]bool{}}
}

func (f *fakeWallet) Debit(_ context.Context, userID string, amount int64, kind, _, ref string) (int64, error) {
	if f.onDebit != nil {
		f.onDebit()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.balances[userID] < amount {
		return 0, fmt.Errorf("%w: balance", client.ErrInsufficientFunds)
	}
	f.refs[kind+"/"+ref] = true
	f.balances[userID] -= amount
	return f.balances[userID], nil
}

func (f *fakeWallet) Credit(_ context.Context, userID string, amount int64, kind, _, ref string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.refs[kind+"/"+ref] {
		return f.balances[userID], nil
	}
	f.refs[kind+"/"+ref] = true
	f.balances[userID] += amount
	return f.balances[userID], nil
}

func (f *fakeWallet) Balance(_ context.Context, userID string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.balances[userID], nil
}

type capturePublisher struct{ placed []events.WagerPlaced }

func (c *capturePublisher) PublishWagerPlaced(_ context.Context, e events.WagerPlaced) error {
	c.placed = append(c.placed, e)
	return nil
}

type fixture struct {
	svc    *Service
	store  *exposure.Store
	wallet *fakeWallet
	pub    *capturePublisher
	clock  *clockwork.FakeClock
	rc     *rounds.Clock
}

// 14:38:10 UTC: rodada wingo/30s 1756, termina 14:38:30, corte em 14:38:25
var t0 = time.Date(2025, 7, 6, 14, 38, 10, 0, time.UTC)

func newFixture(t *testing.T, limits exposure.Limits) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	r := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = r.Close() })

	f := &fixture{
		store:  exposure.NewStore(r, time.Hour),
		wallet: newFakeWallet(),
		pub:    &capturePublisher{},
		clock:  clockwork.NewFakeClockAt(t0),
		rc:     rounds.NewClock(time.UTC, 24*time.Hour),
	}
	f.svc = NewService(zap.NewNop(), games.DefaultCatalog("seed"), f.rc, f.clock, f.wallet, f.store, f.pub, Config{
		CloseMargin: 5 * time.Second,
		FeeRate:     decimal.RequireFromString("0.02"),
		MinStake:    100,
		MaxStake:    100_000,
		Limits:      limits,
		Timeline:    "default",
	})
	return f
}

func (f *fixture) request(selector string, stake int64) PlaceRequest {
	return PlaceRequest{GameType: "wingo", Duration: 30, RoundID: "20250706000001756", Selector: selector, Stake: stake}
}

func (f *fixture) key() rounds.Key {
	return f.rc.Current("wingo", 30*time.Second, t0).Key("default")
}

func wantReason(t *testing.T, err error, reason string) *RejectError {
	t.Helper()
	re, ok := AsReject(err)
	if !ok {
		t.Fatalf("err = %v, want RejectError %s", err, reason)
	}
	if re.Reason != reason {
		t.Fatalf("Reason = %s, want %s", re.Reason, reason)
	}
	return re
}

func TestPlaceDebitsAndRecordsExposure(t *testing.T) {
	f := newFixture(t, exposure.Limits{})
	f.wallet.balances["u1"] = 1000

	rec, err := f.svc.Place(context.Background(), "u1", f.request("7", 102))
	if err != nil {
		t.Fatalf("Place: %v", err)
	}
	if rec.Wager.PlatformFee != 2 || rec.Wager.NetStake != 100 {
		t.Errorf("fee/net = %d/%d, want 2/100", rec.Wager.PlatformFee, rec.Wager.NetStake)
	}
	if rec.Balance != 898 {
		t.Errorf("Balance = %d, want 898", rec.Balance)
	}
	if rec.RemainingSeconds != 15 {
		t.Errorf("RemainingSeconds = %d, want 15", rec.RemainingSeconds)
	}

	exp, err := f.store.Exposure(context.Background(), f.key())
	if err != nil {
		t.Fatal(err)
	}
	if exp["7"] != 900 {
		t.Errorf("exposure[7] = %d, want 900", exp["7"])
	}
	if len(f.pub.placed) != 1 || f.pub.placed[0].WagerID != rec.Wager.WagerID {
		t.Errorf("published = %+v", f.pub.placed)
	}
}

func TestPlaceFeeRoundsHalfUp(t *testing.T) {
	f := newFixture(t, exposure.Limits{})
	cases := map[int64][2]int64{
		100: {2, 98},
		125: {3, 122}, // 2.5 -> 3
		124: {2, 122}, // 2.48 -> 2
	}
	for gross, want := range cases {
		fee, net := f.svc.Fee(gross)
		if fee != want[0] || net != want[1] {
			t.Errorf("Fee(%d) = %d/%d, want %d/%d", gross, fee, net, want[0], want[1])
		}
	}
}

func TestPlaceInsufficientBalance(t *testing.T) {
	f := newFixture(t, exposure.Limits{})
	f.wallet.balances["u1"] = 50

	_, err := f.svc.Place(context.Background(), "u1", f.request("red", 100))
	re := wantReason(t, err, ReasonInsufficientBalance)
	if re.Balance != 50 {
		t.Errorf("Balance = %d, want 50", re.Balance)
	}
}

func TestPlaceAfterCutoffRejected(t *testing.T) {
	f := newFixture(t, exposure.Limits{})
	f.wallet.balances["u1"] = 1000
	f.clock.Advance(16 * time.Second) // 14:38:26

	_, err := f.svc.Place(context.Background(), "u1", f.request("7", 100))
	wantReason(t, err, ReasonBettingClosed)
	if f.wallet.balances["u1"] != 1000 {
		t.Errorf("balance = %d, want untouched 1000", f.wallet.balances["u1"])
	}
}

func TestPlaceCutoffCrossedDuringDebitIsRefunded(t *testing.T) {
	f := newFixture(t, exposure.Limits{})
	f.wallet.balances["u1"] = 1000
	f.wallet.onDebit = func() { f.clock.Advance(16 * time.Second) }

	_, err := f.svc.Place(context.Background(), "u1", f.request("7", 100))
	re := wantReason(t, err, ReasonBettingClosed)
	if re.Balance != 1000 || f.wallet.balances["u1"] != 1000 {
		t.Errorf("balance = %d (reported %d), want refunded 1000", f.wallet.balances["u1"], re.Balance)
	}
	pop, _ := f.store.Population(context.Background(), f.key())
	if pop.WagerCount != 0 {
		t.Errorf("WagerCount = %d, want 0", pop.WagerCount)
	}
}

func TestPlaceUserLimitRefunds(t *testing.T) {
	f := newFixture(t, exposure.Limits{MaxWagers: 1})
	f.wallet.balances["u1"] = 1000

	if _, err := f.svc.Place(context.Background(), "u1", f.request("7", 100)); err != nil {
		t.Fatalf("first Place: %v", err)
	}
	_, err := f.svc.Place(context.Background(), "u1", f.request("8", 100))
	wantReason(t, err, ReasonUserWagerLimit)
	if f.wallet.balances["u1"] != 900 {
		t.Errorf("balance = %d, want 900", f.wallet.balances["u1"])
	}
}

func TestPlaceValidation(t *testing.T) {
	f := newFixture(t, exposure.Limits{})
	f.wallet.balances["u1"] = 1000

	cases := []struct {
		name   string
		req    PlaceRequest
		reason string
	}{
		{"unknown game", PlaceRequest{GameType: "dice", Duration: 30, RoundID: "20250706000001756", Selector: "7", Stake: 100}, ReasonUnknownGame},
		{"unsupported duration", PlaceRequest{GameType: "wingo", Duration: 45, RoundID: "20250706000001756", Selector: "7", Stake: 100}, ReasonUnknownGame},
		{"bad selector", f.request("purple", 100), ReasonInvalidSelector},
		{"stake too low", f.request("7", 99), ReasonStakeOutOfRange},
		{"stake too high", f.request("7", 100_001), ReasonStakeOutOfRange},
		{"previous round", PlaceRequest{GameType: "wingo", Duration: 30, RoundID: "20250706000001755", Selector: "7", Stake: 100}, ReasonBettingClosed},
		{"future round", PlaceRequest{GameType: "wingo", Duration: 30, RoundID: "20250706000001757", Selector: "7", Stake: 100}, ReasonInvalidRound},
		{"garbage id", PlaceRequest{GameType: "wingo", Duration: 30, RoundID: "abc", Selector: "7", Stake: 100}, ReasonInvalidRound},
	}
	for _, c := range cases {
		_, err := f.svc.Place(context.Background(), "u1", c.req)
		re, ok := AsReject(err)
		if !ok || re.Reason != c.reason {
			t.Errorf("%s: err = %v, want %s", c.name, err, c.reason)
		}
	}
	if f.wallet.balances["u1"] != 1000 {
		t.Errorf("balance = %d, want untouched 1000", f.wallet.balances["u1"])
	}
}

func TestParseDuration(t *testing.T) {
	cases := map[string]int{"30": 30, "60s": 60, "5m": 300}
	for raw, want := range cases {
		got, err := ParseDuration(raw)
		if err != nil || got != want {
			t.Errorf("ParseDuration(%q) = %d, %v, want %d", raw, got, err, want)
		}
	}
	if _, err := ParseDuration("soon"); err == nil {
		t.Error("ParseDuration(soon) accepted")
	}
}

// flakyLedger simula uma resposta perdida do Redis: o script pode ter rodado
// (commit) ou não, e o chamador só vê o erro
type flakyLedger struct {
	*exposure.Store
	commit   bool
	checkErr error
}

func (l *flakyLedger) RecordWager(ctx context.Context, g games.Game, key rounds.Key, w records.Wager, closeAt, now time.Time, limits exposure.Limits) error {
	if l.commit {
		if err := l.Store.RecordWager(ctx, g, key, w, closeAt, now, limits); err != nil {
			return err
		}
	}
	return errors.New("i/o timeout")
}

func (l *flakyLedger) HasWager(ctx context.Context, key rounds.Key, wagerID string) (bool, error) {
	if l.checkErr != nil {
		return false, l.checkErr
	}
	return l.Store.HasWager(ctx, key, wagerID)
}

func TestPlaceAmbiguousStoreError(t *testing.T) {
	cases := []struct {
		name        string
		ledger      func(*exposure.Store) *flakyLedger
		wantErr     bool
		wantBalance int64
		wantWagers  int64
	}{
		{"committed before the reply was lost", func(s *exposure.Store) *flakyLedger { return &flakyLedger{Store: s, commit: true} }, false, 900, 1},
		{"never committed", func(s *exposure.Store) *flakyLedger { return &flakyLedger{Store: s} }, true, 1000, 0},
		{"state unknown", func(s *exposure.Store) *flakyLedger {
			return &flakyLedger{Store: s, commit: true, checkErr: errors.New("connection refused")}
		}, true, 900, 1},
	}
	for _, c := range cases {
		f := newFixture(t, exposure.Limits{})
		f.wallet.balances["u1"] = 1000
		svc := NewService(zap.NewNop(), games.DefaultCatalog("seed"), f.rc, f.clock, f.wallet, c.ledger(f.store), f.pub, f.svc.cfg)

		_, err := svc.Place(context.Background(), "u1", f.request("7", 100))
		if c.wantErr {
			re, ok := AsReject(err)
			if !ok || re.Reason != ReasonStoreUnavailable {
				t.Errorf("%s: err = %v, want %s", c.name, err, ReasonStoreUnavailable)
			}
		} else if err != nil {
			t.Errorf("%s: Place failed: %v", c.name, err)
		}
		if got := f.wallet.balances["u1"]; got != c.wantBalance {
			t.Errorf("%s: balance = %d, want %d", c.name, got, c.wantBalance)
		}
		pop, _ := f.store.Population(context.Background(), f.key())
		if pop.WagerCount != c.wantWagers {
			t.Errorf("%s: WagerCount = %d, want %d", c.name, pop.WagerCount, c.wantWagers)
		}
	}
}
