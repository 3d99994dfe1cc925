package games

import (
	"fmt"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"
)

// Pair identifica uma "sala": um jogo numa duração de rodada
type Pair struct {
	Game     Game
	Duration time.Duration
}

// Catalog lista os jogos habilitados e suas durações
type Catalog struct {
	games     map[string]Game
	durations map[string][]time.Duration
	order     []string
}

type catalogFile struct {
	Games []struct {
		Type      string `yaml:"type"`
		Durations []int  `yaml:"durations"` // segundos
	} `yaml:"games"`
}

// DefaultCatalog habilita os três jogos embutidos com as durações padrão
func DefaultCatalog(hashSeed string) *Catalog {
	c := newCatalog()
	_ = c.add(Wingo{}, []int{30, 60, 180, 300})
	_ = c.add(Trx{Seed: hashSeed}, []int{60, 180, 300, 600})
	_ = c.add(K3{}, []int{60, 180, 300, 600})
	return c
}

// LoadCatalog lê o YAML em path; path vazio devolve o catálogo padrão
func LoadCatalog(path, hashSeed string) (*Catalog, error) {
	if path == "" {
		return DefaultCatalog(hashSeed), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read game catalog: %w", err)
	}
	return ParseCatalog(raw, hashSeed)
}

// ParseCatalog monta o catálogo a partir do conteúdo YAML
func ParseCatalog(raw []byte, hashSeed string) (*Catalog, error) {
	var f catalogFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse game catalog: %w", err)
	}
	if len(f.Games) == 0 {
		return nil, fmt.Errorf("game catalog has no games")
	}
	builtin := map[string]Game{
		"wingo": Wingo{},
		"trx":   Trx{Seed: hashSeed},
		"k3":    K3{},
	}
	c := newCatalog()
	for _, g := range f.Games {
		impl, ok := builtin[g.Type]
		if !ok {
			return nil, fmt.Errorf("game catalog: unknown game type %q", g.Type)
		}
		if err := c.add(impl, g.Durations); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func newCatalog() *Catalog {
	return &Catalog{
		games:     make(map[string]Game),
		durations: make(map[string][]time.Duration),
	}
}

func (c *Catalog) add(g Game, seconds []int) error {
	if _, dup := c.games[g.Type()]; dup {
		return fmt.Errorf("game catalog: %s listed twice", g.Type())
	}
	if len(seconds) == 0 {
		return fmt.Errorf("game catalog: %s has no durations", g.Type())
	}
	ds := make([]time.Duration, 0, len(seconds))
	for _, s := range seconds {
		// a âncora diária só funciona se a rodada dividir o dia
		if s <= 0 || 86400%s != 0 {
			return fmt.Errorf("game catalog: %s duration %ds does not divide a day", g.Type(), s)
		}
		ds = append(ds, time.Duration(s)*time.Second)
	}
	slices.Sort(ds)
	c.games[g.Type()] = g
	c.durations[g.Type()] = slices.Compact(ds)
	c.order = append(c.order, g.Type())
	return nil
}

// Game devolve o jogo pelo tipo
func (c *Catalog) Game(gameType string) (Game, bool) {
	g, ok := c.games[gameType]
	return g, ok
}

// Supports informa se (gameType, duration) está habilitado
func (c *Catalog) Supports(gameType string, d time.Duration) bool {
	return slices.Contains(c.durations[gameType], d)
}

// Durations habilitadas para o jogo
func (c *Catalog) Durations(gameType string) []time.Duration {
	return c.durations[gameType]
}

// Pairs lista todas as salas em ordem estável
func (c *Catalog) Pairs() []Pair {
	var out []Pair
	for _, t := range c.order {
		for _, d := range c.durations[t] {
			out = append(out, Pair{Game: c.games[t], Duration: d})
		}
	}
	return out
}
