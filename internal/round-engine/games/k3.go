package games

import (
	"fmt"
	"math/rand/v2"
	"slices"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// odds de soma exata, simétrica em torno de 10.5
var k3SumOdds = map[int]string{
	3: "207.36", 4: "69.12", 5: "34.56", 6: "20.74", 7: "13.83", 8: "9.88", 9: "8.3", 10: "7.68",
	11: "7.68", 12: "8.3", 13: "9.88", 14: "13.83", 15: "20.74", 16: "34.56", 17: "69.12", 18: "207.36",
}

var (
	k3AnyTripleOdds  = decimal.NewFromInt(30)
	k3ExactTripleOdd = decimal.NewFromInt(180)
)

var k3Keys = buildK3Keys()

func buildK3Keys() []string {
	var keys []string
	for a := 1; a <= 6; a++ {
		for b := a; b <= 6; b++ {
			for c := b; c <= 6; c++ {
				keys = append(keys, fmt.Sprintf("%d,%d,%d", a, b, c))
			}
		}
	}
	return keys
}

// K3 lança três dados; a chave canônica é a trinca ordenada
type K3 struct{}

func (K3) Type() string { return "k3" }

func (K3) Outcomes() []string { return k3Keys }

func (K3) ParseSelector(raw string) (string, error) {
	s := strings.ToLower(strings.TrimSpace(raw))
	switch s {
	case "big", "small", "odd", "even", "triple":
		return s, nil
	}
	if n, ok := strings.CutPrefix(s, "sum:"); ok {
		if v, err := strconv.Atoi(n); err == nil && v >= 3 && v <= 18 {
			return "sum:" + strconv.Itoa(v), nil
		}
	}
	if n, ok := strings.CutPrefix(s, "triple:"); ok {
		if v, err := strconv.Atoi(n); err == nil && v >= 1 && v <= 6 {
			return "triple:" + strconv.Itoa(v), nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownSelector, raw)
}

func (K3) Odds(selector string) float64 {
	switch {
	case selector == "triple":
		return k3AnyTripleOdds.InexactFloat64()
	case strings.HasPrefix(selector, "triple:"):
		return k3ExactTripleOdd.InexactFloat64()
	case strings.HasPrefix(selector, "sum:"):
		v, _ := strconv.Atoi(strings.TrimPrefix(selector, "sum:"))
		if o, ok := k3SumOdds[v]; ok {
			return decimal.RequireFromString(o).InexactFloat64()
		}
		return 0
	}
	return 2
}

func (K3) Payout(selector, outcome string, netCents int64) int64 {
	dice, err := parseDice(outcome)
	if err != nil {
		return 0
	}
	return applyMultiplier(netCents, k3Multiplier(selector, dice))
}

func (k K3) Random(rng *rand.Rand) Outcome {
	dice := []int{rng.IntN(6) + 1, rng.IntN(6) + 1, rng.IntN(6) + 1}
	slices.Sort(dice)
	o, _ := k.Describe(fmt.Sprintf("%d,%d,%d", dice[0], dice[1], dice[2]))
	return o
}

func (K3) Describe(key string) (Outcome, error) {
	dice, err := parseDice(key)
	if err != nil {
		return Outcome{}, err
	}
	sum := dice[0] + dice[1] + dice[2]
	size := "small"
	switch {
	case isTriple(dice):
		size = "triple"
	case sum >= 11:
		size = "big"
	}
	parity := "even"
	if sum%2 == 1 {
		parity = "odd"
	}
	return Outcome{
		Key: key,
		Details: map[string]string{
			"dice":   key,
			"sum":    strconv.Itoa(sum),
			"size":   size,
			"parity": parity,
		},
	}, nil
}

func k3Multiplier(selector string, dice [3]int) decimal.Decimal {
	sum := dice[0] + dice[1] + dice[2]
	triple := isTriple(dice)
	win := false
	switch {
	case selector == "big":
		win = !triple && sum >= 11 && sum <= 17
	case selector == "small":
		win = !triple && sum >= 4 && sum <= 10
	case selector == "odd":
		win = sum%2 == 1
	case selector == "even":
		win = sum%2 == 0
	case selector == "triple":
		if triple {
			return k3AnyTripleOdds
		}
	case strings.HasPrefix(selector, "triple:"):
		v, _ := strconv.Atoi(strings.TrimPrefix(selector, "triple:"))
		if triple && dice[0] == v {
			return k3ExactTripleOdd
		}
	case strings.HasPrefix(selector, "sum:"):
		v, _ := strconv.Atoi(strings.TrimPrefix(selector, "sum:"))
		if v == sum {
			return decimal.RequireFromString(k3SumOdds[v])
		}
	}
	if win {
		return evenOdds
	}
	return decimal.Zero
}

func parseDice(key string) ([3]int, error) {
	var dice [3]int
	parts := strings.Split(key, ",")
	if len(parts) != 3 {
		return dice, fmt.Errorf("%w: %q", ErrUnknownOutcome, key)
	}
	for i, p := range parts {
		v, err := strconv.Atoi(p)
		if err != nil || v < 1 || v > 6 {
			return dice, fmt.Errorf("%w: %q", ErrUnknownOutcome, key)
		}
		dice[i] = v
	}
	if dice[0] > dice[1] || dice[1] > dice[2] {
		return dice, fmt.Errorf("%w: %q is not canonical", ErrUnknownOutcome, key)
	}
	return dice, nil
}

func isTriple(d [3]int) bool { return d[0] == d[1] && d[1] == d[2] }
