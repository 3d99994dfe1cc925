package records

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestDecodeRejectsOtherVersion(t *testing.T) {
	raw := `{"v":2,"k":"result","d":{"outcome":"7","mode":"random"}}`
	if _, err := Decode[Result](KindResult, raw); !errors.Is(err, ErrSchema) {
		t.Fatalf("err = %v, want ErrSchema", err)
	}
}

func TestDecodeRejectsWrongKind(t *testing.T) {
	raw, err := Encode(KindResult, &Result{Outcome: "3", Mode: "random"})
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if _, err := Decode[Wager](KindWager, raw); !errors.Is(err, ErrSchema) {
		t.Fatalf("err = %v, want ErrSchema", err)
	}
}

func TestEncodeValidatesWager(t *testing.T) {
	w := &Wager{
		WagerID: "w1", UserID: "u1", RoundID: "20250706000001756", GameType: "wingo",
		Duration: 30, Selector: "7", GrossStake: 1000, PlatformFee: 20, NetStake: 990, Odds: 9,
		PlacedAt: time.Now(),
	}
	if _, err := Encode(KindWager, w); err == nil || !strings.Contains(err.Error(), "stake") {
		t.Fatalf("err = %v, want stake inconsistency", err)
	}

	w.NetStake = 980
	raw, err := Encode(KindWager, w)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	got, err := Decode[Wager](KindWager, raw)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if got.NetStake != 980 || got.Selector != "7" {
		t.Errorf("decoded = %+v", got)
	}
}
