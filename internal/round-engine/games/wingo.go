package games

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math/rand/v2"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	digitOdds  = decimal.NewFromInt(9)
	evenOdds   = decimal.NewFromInt(2)
	splitOdds  = decimal.RequireFromString("1.5") // red em 0, green em 5
	violetOdds = decimal.RequireFromString("4.5")
)

var digitKeys = []string{"0", "1", "2", "3", "4", "5", "6", "7", "8", "9"}

// Wingo sorteia um dígito 0-9 com cor e tamanho derivados
type Wingo struct{}

func (Wingo) Type() string { return "wingo" }

func (Wingo) Outcomes() []string { return digitKeys }

func (Wingo) ParseSelector(raw string) (string, error) {
	return parseDigitSelector(raw)
}

func (Wingo) Odds(selector string) float64 { return digitSelectorOdds(selector) }

func (Wingo) Payout(selector, outcome string, netCents int64) int64 {
	return applyMultiplier(netCents, digitMultiplier(selector, outcome))
}

func (w Wingo) Random(rng *rand.Rand) Outcome {
	o, _ := w.Describe(strconv.Itoa(rng.IntN(10)))
	return o
}

func (Wingo) Describe(key string) (Outcome, error) {
	return describeDigit(key)
}

// Trx usa a tabela do Wingo, mas o sorteio justo vem de
// sha256(seed:duração:roundId). A duração entra porque o roundId se repete
// entre salas de durações diferentes.
type Trx struct {
	Wingo
	Seed string
}

func (Trx) Type() string { return "trx" }

// HashDraw é determinístico: qualquer um com a seed recalcula o resultado
func (t Trx) HashDraw(durationSec int, roundID string) Outcome {
	sum := sha256.Sum256([]byte(t.Seed + ":" + strconv.Itoa(durationSec) + ":" + roundID))
	digit := binary.BigEndian.Uint64(sum[:8]) % 10
	o, _ := describeDigit(strconv.FormatUint(digit, 10))
	o.Proof = hex.EncodeToString(sum[:])
	return o
}

func parseDigitSelector(raw string) (string, error) {
	s := strings.ToLower(strings.TrimSpace(raw))
	switch s {
	case "red", "green", "violet", "big", "small":
		return s, nil
	}
	if len(s) == 1 && s[0] >= '0' && s[0] <= '9' {
		return s, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownSelector, raw)
}

func digitSelectorOdds(selector string) float64 {
	switch selector {
	case "red", "green", "big", "small":
		return 2
	case "violet":
		return 4.5
	}
	return 9
}

func digitMultiplier(selector, outcome string) decimal.Decimal {
	d, err := strconv.Atoi(outcome)
	if err != nil || d < 0 || d > 9 {
		return decimal.Zero
	}
	switch selector {
	case "red":
		if d == 0 {
			return splitOdds
		}
		if d%2 == 0 {
			return evenOdds
		}
	case "green":
		if d == 5 {
			return splitOdds
		}
		if d%2 == 1 {
			return evenOdds
		}
	case "violet":
		if d == 0 || d == 5 {
			return violetOdds
		}
	case "big":
		if d >= 5 {
			return evenOdds
		}
	case "small":
		if d <= 4 {
			return evenOdds
		}
	default:
		if selector == outcome {
			return digitOdds
		}
	}
	return decimal.Zero
}

func describeDigit(key string) (Outcome, error) {
	d, err := strconv.Atoi(key)
	if err != nil || d < 0 || d > 9 || len(key) != 1 {
		return Outcome{}, fmt.Errorf("%w: %q", ErrUnknownOutcome, key)
	}
	color := "red"
	if d%2 == 1 {
		color = "green"
	}
	if d == 0 || d == 5 {
		color += ",violet"
	}
	size := "small"
	if d >= 5 {
		size = "big"
	}
	return Outcome{
		Key:     key,
		Details: map[string]string{"number": key, "color": color, "size": size},
	}, nil
}
