package selector

import (
	"math/rand/v2"
	"testing"

	"github.com/radieske/period-bet-engine/internal/round-engine/exposure"
	"github.com/radieske/period-bet-engine/internal/round-engine/games"
	"github.com/radieske/period-bet-engine/internal/round-engine/rounds"
)

var (
	roomKey  = rounds.Key{GameType: "wingo", Duration: 30, Timeline: "default", RoundID: "r"}
	roundKey = rounds.Key{GameType: "trx", Duration: 60, Timeline: "default", RoundID: "20250706000001756"}
)

func exposureFor(g games.Game, bets map[string]int64) map[string]int64 {
	exp := make(map[string]int64)
	for sel, net := range bets {
		for _, o := range g.Outcomes() {
			if p := g.Payout(sel, o, net); p > 0 {
				exp[o] += p
			}
		}
	}
	return exp
}

func TestProtectedNeverPaysSingleBettor(t *testing.T) {
	g := games.Wingo{}
	exp := map[string]int64{"7": 90}
	pop := exposure.Population{UniqueUsers: 1, WagerCount: 1, TotalStake: 10}
	rng := rand.New(rand.NewPCG(7, 7))

	for i := 0; i < 500; i++ {
		d := Select(g, roundKey, exp, pop, Policy{UniqueUsersThreshold: 2}, rng)
		if d.Mode != ModeProtected {
			t.Fatalf("Mode = %s, want protected", d.Mode)
		}
		if d.Outcome.Key == "7" {
			t.Fatalf("selected the only backed outcome")
		}
		if g.Payout("7", d.Outcome.Key, 10) != 0 {
			t.Fatalf("selected %s pays the bettor", d.Outcome.Key)
		}
		if d.Candidates != 9 {
			t.Errorf("Candidates = %d, want 9", d.Candidates)
		}
	}
}

func TestProtectedAgainstMixedSelectors(t *testing.T) {
	g := games.Wingo{}
	// um único usuário cobrindo red + big: sobra 1 e 3 sem responsabilidade
	exp := exposureFor(g, map[string]int64{"red": 100, "big": 100})
	pop := exposure.Population{UniqueUsers: 1, WagerCount: 2, TotalStake: 200}
	rng := rand.New(rand.NewPCG(1, 9))

	seen := map[string]bool{}
	for i := 0; i < 300; i++ {
		d := Select(g, roomKey, exp, pop, Policy{UniqueUsersThreshold: 2}, rng)
		if d.Liability != 0 {
			t.Fatalf("Liability = %d, want 0", d.Liability)
		}
		seen[d.Outcome.Key] = true
	}
	if len(seen) != 2 || !seen["1"] || !seen["3"] {
		t.Errorf("selected %v, want exactly {1, 3}", seen)
	}
}

func TestProtectedPicksMinimumWhenNoZero(t *testing.T) {
	g := games.Wingo{}
	exp := make(map[string]int64)
	for i, o := range g.Outcomes() {
		exp[o] = int64(100 + i)
	}
	exp["4"] = 5
	d := Select(g, roomKey, exp, exposure.Population{UniqueUsers: 1}, Policy{UniqueUsersThreshold: 2}, rand.New(rand.NewPCG(3, 3)))
	if d.Outcome.Key != "4" {
		t.Errorf("Outcome = %s, want 4", d.Outcome.Key)
	}
}

func TestDiversifiedUsesRandomOrHash(t *testing.T) {
	pop := exposure.Population{UniqueUsers: 5}
	rng := rand.New(rand.NewPCG(5, 5))

	d := Select(games.Wingo{}, roomKey, map[string]int64{"7": 90}, pop, Policy{UniqueUsersThreshold: 2}, rng)
	if d.Mode != ModeRandom {
		t.Errorf("wingo Mode = %s, want random", d.Mode)
	}

	trx := games.Trx{Seed: "seed"}
	d = Select(trx, roundKey, nil, pop, Policy{UniqueUsersThreshold: 2}, rng)
	want := trx.HashDraw(60, "20250706000001756")
	if d.Mode != ModeHash || d.Outcome.Key != want.Key || d.Outcome.Proof != want.Proof {
		t.Errorf("trx Decision = %+v, want hash %s", d, want.Key)
	}
}

func TestEmptyRoundIsProtectedAndUniform(t *testing.T) {
	g := games.K3{}
	rng := rand.New(rand.NewPCG(11, 13))
	seen := map[string]bool{}
	for i := 0; i < 2000; i++ {
		d := Select(g, roomKey, nil, exposure.Population{}, Policy{UniqueUsersThreshold: 2}, rng)
		seen[d.Outcome.Key] = true
	}
	if len(seen) < 50 {
		t.Errorf("only %d distinct outcomes over 2000 empty rounds", len(seen))
	}
}
