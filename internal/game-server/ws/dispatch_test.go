package ws

import (
	"testing"
	"time"

	"github.com/radieske/period-bet-engine/internal/round-engine/games"
	"github.com/radieske/period-bet-engine/pkg/contracts/events"
	"github.com/radieske/period-bet-engine/pkg/contracts/records"
)

type staticRegistry struct {
	members map[Room][]string
	wagers  map[string]map[string][]records.Wager // roundId -> clientId -> apostas
}

func (r staticRegistry) Members(room Room) []string { return r.members[room] }

func (r staticRegistry) WagersFor(_ Room, roundID string) map[string][]records.Wager {
	return r.wagers[roundID]
}

const roundID = "20250706000001756"

var wingo30 = Room{GameType: "wingo", Duration: 30}

func wager(id, selector string, net int64) records.Wager {
	return records.Wager{WagerID: id, RoundID: roundID, GameType: "wingo", Duration: 30, Selector: selector, NetStake: net}
}

func envelope(t *testing.T, kind events.Kind, payload any) events.Envelope {
	t.Helper()
	env, err := events.Wrap(kind, "wingo", 30, roundID, "test", time.Date(2025, 7, 6, 14, 38, 33, 0, time.UTC), payload)
	if err != nil {
		t.Fatal(err)
	}
	return env
}

func TestDispatchResultGoesToBettorsOnly(t *testing.T) {
	reg := staticRegistry{
		members: map[Room][]string{wingo30: {"c3", "c1", "c2"}},
		wagers: map[string]map[string][]records.Wager{
			roundID: {
				"c1": {wager("w1", "7", 100)},
				"c2": {wager("w2", "red", 100)},
				"c4": {wager("w4", "green", 100)}, // saiu da sala, mas apostou
			},
		},
	}
	env := envelope(t, events.KindRoundResolved, events.RoundResolved{Outcome: "7", Mode: "protected"})

	out, err := Dispatch(env, reg, games.DefaultCatalog("seed"))
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}

	var results []Delivery
	periodResults := map[string]bool{}
	for _, d := range out {
		switch d.Msg.Type {
		case MsgPeriodResult:
			periodResults[d.ClientID] = true
		case MsgBetResult:
			results = append(results, d)
		default:
			t.Errorf("unexpected %s to %s", d.Msg.Type, d.ClientID)
		}
	}
	if len(periodResults) != 3 || periodResults["c4"] {
		t.Errorf("periodResult recipients = %v, want c1 c2 c3", periodResults)
	}
	if len(results) != 3 {
		t.Fatalf("betResult count = %d, want 3", len(results))
	}

	want := map[string]BetResult{
		"c1": {WagerID: "w1", Selector: "7", Outcome: "7", Status: "won", Net: 100, Payout: 900},
		"c2": {WagerID: "w2", Selector: "red", Outcome: "7", Status: "lost", Net: 100, Payout: 0},
		"c4": {WagerID: "w4", Selector: "green", Outcome: "7", Status: "won", Net: 100, Payout: 200},
	}
	for _, d := range results {
		got := d.Msg.Data.(BetResult)
		if got != want[d.ClientID] {
			t.Errorf("%s: betResult = %+v, want %+v", d.ClientID, got, want[d.ClientID])
		}
	}
}

func TestDispatchRoomEvents(t *testing.T) {
	reg := staticRegistry{members: map[Room][]string{wingo30: {"c1", "c2"}}}
	cat := games.DefaultCatalog("seed")

	cases := []struct {
		kind    events.Kind
		payload any
		want    string
	}{
		{events.KindRoundOpened, events.RoundOpened{}, MsgPeriodStart},
		{events.KindBettingClosed, events.BettingClosed{}, MsgBettingClosed},
		{events.KindRoundError, events.RoundError{Stage: "settlement", Message: "redis down"}, MsgError},
	}
	for _, c := range cases {
		out, err := Dispatch(envelope(t, c.kind, c.payload), reg, cat)
		if err != nil {
			t.Fatalf("%s: %v", c.kind, err)
		}
		if len(out) != 2 {
			t.Errorf("%s: deliveries = %d, want 2", c.kind, len(out))
		}
		for _, d := range out {
			if d.Msg.Type != c.want || d.Msg.RoundID != roundID {
				t.Errorf("%s: got %s/%s", c.kind, d.Msg.Type, d.Msg.RoundID)
			}
		}
	}
}

func TestDispatchOtherRoomUntouched(t *testing.T) {
	reg := staticRegistry{members: map[Room][]string{{GameType: "wingo", Duration: 60}: {"c1"}}}
	out, err := Dispatch(envelope(t, events.KindRoundOpened, events.RoundOpened{}), reg, games.DefaultCatalog("seed"))
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 0 {
		t.Errorf("deliveries = %d, want 0", len(out))
	}
}
