// Package selector escolhe o resultado de uma rodada a partir da exposição.
// É puro: recebe a exposição e a população já lidas do store.
package selector

import (
	"math/rand/v2"

	"github.com/radieske/period-bet-engine/internal/round-engine/exposure"
	"github.com/radieske/period-bet-engine/internal/round-engine/games"
	"github.com/radieske/period-bet-engine/internal/round-engine/rounds"
)

// Modos de escolha gravados junto com o resultado
const (
	ModeProtected = "protected"
	ModeRandom    = "random"
	ModeHash      = "hash"
	ModeOverride  = "override"
)

// Policy controla quando a proteção entra em ação
type Policy struct {
	// abaixo desse número de apostadores únicos escolhe-se a menor exposição
	UniqueUsersThreshold int64
}

// Decision é o candidato a resultado, ainda não comprometido
type Decision struct {
	Outcome    games.Outcome
	Mode       string
	Candidates int   // quantos resultados empataram na menor exposição
	Liability  int64 // exposição do resultado escolhido
}

// Select decide o resultado da rodada key
func Select(g games.Game, key rounds.Key, exp map[string]int64, pop exposure.Population, p Policy, rng *rand.Rand) Decision {
	if pop.UniqueUsers < p.UniqueUsersThreshold {
		return protect(g, exp, rng)
	}
	if hd, ok := g.(games.HashDrawer); ok {
		o := hd.HashDraw(key.Duration, key.RoundID)
		return Decision{Outcome: o, Mode: ModeHash, Liability: exp[o.Key]}
	}
	o := g.Random(rng)
	return Decision{Outcome: o, Mode: ModeRandom, Liability: exp[o.Key]}
}

// protect percorre o espaço de resultados inteiro: uma chave ausente na
// exposição tem responsabilidade zero e é candidata.
func protect(g games.Game, exp map[string]int64, rng *rand.Rand) Decision {
	var (
		best       []string
		bestAmount int64
	)
	for _, key := range g.Outcomes() {
		v := exp[key]
		switch {
		case best == nil || v < bestAmount:
			best = []string{key}
			bestAmount = v
		case v == bestAmount:
			best = append(best, key)
		}
	}
	pick := best[rng.IntN(len(best))]
	o, err := g.Describe(pick)
	if err != nil {
		o = games.Outcome{Key: pick}
	}
	return Decision{Outcome: o, Mode: ModeProtected, Candidates: len(best), Liability: bestAmount}
}
