package rounds

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Key endereça todos os dados de uma rodada no store compartilhado
type Key struct {
	GameType string
	Duration int // segundos
	Timeline string
	RoundID  string
}

// Key monta a chave da rodada na timeline informada
func (r Round) Key(timeline string) Key {
	return Key{GameType: r.GameType, Duration: r.DurationSeconds(), Timeline: timeline, RoundID: r.ID}
}

func (k Key) String() string {
	return k.GameType + ":" + strconv.Itoa(k.Duration) + ":" + k.Timeline + ":" + k.RoundID
}

// With prefixa a chave, ex.: k.With("wagers") -> "wagers:wingo:30:default:2025..."
func (k Key) With(prefix string) string { return prefix + ":" + k.String() }

// DurationValue devolve a duração como time.Duration
func (k Key) DurationValue() time.Duration { return time.Duration(k.Duration) * time.Second }

// ParseKey reverte String(); usado ao drenar filas que guardam só a chave
func ParseKey(s string) (Key, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 4 {
		return Key{}, fmt.Errorf("bad round key %q", s)
	}
	d, err := strconv.Atoi(parts[1])
	if err != nil || d <= 0 {
		return Key{}, fmt.Errorf("bad round key %q", s)
	}
	return Key{GameType: parts[0], Duration: d, Timeline: parts[2], RoundID: parts[3]}, nil
}
