// Package games contém as tabelas de pagamento de cada tipo de jogo.
// O resto do motor só conhece a interface Game; nenhum outro pacote sabe o que é
// "violet" ou "sum:11".
package games

import (
	"errors"
	"math/rand/v2"

	"github.com/shopspring/decimal"
)

var (
	ErrUnknownSelector = errors.New("unknown selector")
	ErrUnknownOutcome  = errors.New("unknown outcome")
)

// Outcome é um valor do espaço de resultados de um jogo
// Key é canônica (ex.: "7" ou "1,3,3"); Details traz os campos derivados
type Outcome struct {
	Key     string            `json:"key"`
	Details map[string]string `json:"details,omitempty"`
	Proof   string            `json:"proof,omitempty"` // hash verificável, só em jogos com sorteio por hash
}

// Game é a função de pontuação plugável de um tipo de jogo
type Game interface {
	Type() string
	// Outcomes devolve o espaço de resultados completo, em ordem estável
	Outcomes() []string
	// ParseSelector normaliza o seletor enviado pelo cliente
	ParseSelector(raw string) (string, error)
	// Odds nominal do seletor, gravada junto com a aposta
	Odds(selector string) float64
	// Payout em centavos se outcome for sorteado; 0 quando a aposta perde
	Payout(selector, outcome string, netCents int64) int64
	Random(rng *rand.Rand) Outcome
	Describe(key string) (Outcome, error)
}

// HashDrawer é implementado por jogos cujo sorteio justo deriva de hash da sala e do roundId
type HashDrawer interface {
	HashDraw(durationSec int, roundID string) Outcome
}

// Contains informa se key pertence ao espaço de resultados de g
func Contains(g Game, key string) bool {
	for _, o := range g.Outcomes() {
		if o == key {
			return true
		}
	}
	return false
}

// applyMultiplier calcula net × m com arredondamento meio-para-cima em centavos
func applyMultiplier(netCents int64, m decimal.Decimal) int64 {
	if m.IsZero() || netCents <= 0 {
		return 0
	}
	return decimal.NewFromInt(netCents).Mul(m).Round(0).IntPart()
}
