package httpapi

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jonboulle/clockwork"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/radieske/period-bet-engine/internal/game-server/bets"
	"github.com/radieske/period-bet-engine/internal/game-server/repo"
	"github.com/radieske/period-bet-engine/internal/round-engine/games"
	"github.com/radieske/period-bet-engine/internal/round-engine/resolver"
	"github.com/radieske/period-bet-engine/internal/round-engine/rounds"
	"github.com/radieske/period-bet-engine/internal/round-engine/settlement"
	"github.com/radieske/period-bet-engine/pkg/contracts/records"
)

// Overrider aplica o resultado escolhido pelo operador
type Overrider interface {
	Override(ctx context.Context, gameType string, duration time.Duration, roundID, outcome, operator string) (resolver.Resolution, error)
}

type Pointers interface {
	Current(ctx context.Context, rc *rounds.Clock, gameType string, d time.Duration, now time.Time) (rounds.Round, bool, error)
}

type Results interface {
	Result(ctx context.Context, key rounds.Key) (records.Result, bool, error)
}

type History interface {
	RecentResults(ctx context.Context, gameType string, durationSec, limit int) ([]repo.RoundResult, error)
	UserWagers(ctx context.Context, userID string, limit int) ([]repo.UserWager, error)
}

type Balances interface {
	Balance(ctx context.Context, userID string) (int64, error)
}

// API expõe os endpoints REST e o upgrade WebSocket do game-server
type API struct {
	Log         *zap.Logger
	Catalog     *games.Catalog
	Rounds      *rounds.Clock
	Clock       clockwork.Clock
	CloseMargin time.Duration
	Timeline    string
	AdminToken  string

	WS        http.HandlerFunc
	Pointers  Pointers
	Results   Results
	History   History // opcional (sem Postgres)
	Wallet    Balances
	Overrider Overrider
}

// OverrideRequest é o corpo de POST /admin/rounds/override
type OverrideRequest struct {
	GameType string `json:"gameType"`
	Duration int    `json:"duration"`
	RoundID  string `json:"roundId"`
	Outcome  string `json:"outcome"`
	Operator string `json:"operator"`
}

// RoundView é a rodada como vista por clientes REST
type RoundView struct {
	GameType         string         `json:"gameType"`
	Duration         int            `json:"duration"`
	RoundID          string         `json:"roundId"`
	StartTime        time.Time      `json:"startTime"`
	EndTime          time.Time      `json:"endTime"`
	CloseAt          time.Time      `json:"closeAt"`
	Status           string         `json:"status"`
	RemainingSeconds int            `json:"remainingSeconds"`
	Result           *games.Outcome `json:"result,omitempty"`
	Mode             string         `json:"mode,omitempty"`
}

// Router retorna o roteador HTTP com CORS aberto para o front
func (a *API) Router() http.Handler {
	r := chi.NewRouter()
	r.Get("/ws", a.WS)
	r.Get("/v1/games", a.listGames)
	r.Get("/v1/rounds/{game}/{duration}/current", a.currentRound)
	r.Get("/v1/rounds/{game}/{duration}/results", a.recentResults)
	r.Get("/v1/rounds/{game}/{duration}/{roundId}", a.getRound)
	r.Get("/v1/wallet/{userId}", a.getBalance)
	r.Get("/v1/users/{userId}/wagers", a.userWagers)
	r.Post("/admin/rounds/override", a.override)

	c := cors.New(cors.Options{
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedOrigins: []string{"*"},
		AllowedHeaders: []string{"*"},
	})
	return c.Handler(r)
}

// writeJSON serializa a resposta em JSON e define o status HTTP
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

type gameView struct {
	GameType  string `json:"gameType"`
	Durations []int  `json:"durations"`
}

// listGames lista os jogos e durações configurados
func (a *API) listGames(w http.ResponseWriter, r *http.Request) {
	byGame := map[string]*gameView{}
	var out []*gameView
	for _, p := range a.Catalog.Pairs() {
		t := p.Game.Type()
		gv, ok := byGame[t]
		if !ok {
			gv = &gameView{GameType: t}
			byGame[t] = gv
			out = append(out, gv)
		}
		gv.Durations = append(gv.Durations, int(p.Duration/time.Second))
	}
	writeJSON(w, http.StatusOK, out)
}

// room lê {game}/{duration} da rota e confere no catálogo
func (a *API) room(w http.ResponseWriter, r *http.Request) (string, time.Duration, bool) {
	game := chi.URLParam(r, "game")
	secs, err := bets.ParseDuration(chi.URLParam(r, "duration"))
	d := time.Duration(secs) * time.Second
	if err != nil || !a.Catalog.Supports(game, d) {
		writeError(w, http.StatusNotFound, "unknown game/duration")
		return "", 0, false
	}
	return game, d, true
}

// currentRound devolve a rodada aberta, reparando o ponteiro se preciso
func (a *API) currentRound(w http.ResponseWriter, r *http.Request) {
	game, d, ok := a.room(w, r)
	if !ok {
		return
	}
	now := a.Clock.Now()
	cur, _, err := a.Pointers.Current(r.Context(), a.Rounds, game, d, now)
	if err != nil {
		a.Log.Warn("round pointer unavailable", zap.String("game", game), zap.Error(err))
	}
	writeJSON(w, http.StatusOK, a.view(cur, now, nil))
}

// getRound devolve uma rodada específica e, se já resolvida, o resultado
func (a *API) getRound(w http.ResponseWriter, r *http.Request) {
	game, d, ok := a.room(w, r)
	if !ok {
		return
	}
	now := a.Clock.Now()
	rd, err := a.Rounds.Validate(game, d, chi.URLParam(r, "roundId"), now)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	res, found, err := a.Results.Result(r.Context(), rd.Key(a.Timeline))
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	if !found {
		writeJSON(w, http.StatusOK, a.view(rd, now, nil))
		return
	}
	writeJSON(w, http.StatusOK, a.view(rd, now, &res))
}

func (a *API) view(rd rounds.Round, now time.Time, res *records.Result) RoundView {
	v := RoundView{
		GameType:         rd.GameType,
		Duration:         rd.DurationSeconds(),
		RoundID:          rd.ID,
		StartTime:        rd.Start,
		EndTime:          rd.End,
		CloseAt:          rd.CloseAt(a.CloseMargin),
		Status:           string(rd.StatusAt(now, a.CloseMargin, res != nil)),
		RemainingSeconds: int(rd.Remaining(now) / time.Second),
	}
	if res != nil {
		v.Mode = res.Mode
		if g, ok := a.Catalog.Game(rd.GameType); ok {
			if o, err := g.Describe(res.Outcome); err == nil {
				o.Proof = res.Proof
				v.Result = &o
			}
		}
	}
	return v
}

// recentResults lista as últimas rodadas arquivadas (?limit=20)
func (a *API) recentResults(w http.ResponseWriter, r *http.Request) {
	game, d, ok := a.room(w, r)
	if !ok {
		return
	}
	if a.History == nil {
		writeError(w, http.StatusNotFound, "history disabled")
		return
	}
	out, err := a.History.RecentResults(r.Context(), game, int(d/time.Second), limitParam(r, 20))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *API) userWagers(w http.ResponseWriter, r *http.Request) {
	if a.History == nil {
		writeError(w, http.StatusNotFound, "history disabled")
		return
	}
	out, err := a.History.UserWagers(r.Context(), chi.URLParam(r, "userId"), limitParam(r, 50))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// getBalance consulta o wallet-service
func (a *API) getBalance(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userId")
	bal, err := a.Wallet.Balance(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"userId": userID, "balance_cents": bal})
}

// override aplica o resultado do operador (header X-Admin-Token)
func (a *API) override(w http.ResponseWriter, r *http.Request) {
	token := r.Header.Get("X-Admin-Token")
	if a.AdminToken == "" || subtle.ConstantTimeCompare([]byte(token), []byte(a.AdminToken)) != 1 {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req OverrideRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad json")
		return
	}
	if req.GameType == "" || req.Duration <= 0 || req.RoundID == "" || req.Outcome == "" {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	if req.Operator == "" {
		req.Operator = "admin"
	}

	res, err := a.Overrider.Override(r.Context(), req.GameType, time.Duration(req.Duration)*time.Second, req.RoundID, req.Outcome, req.Operator)
	switch {
	case err == nil:
	case errors.Is(err, settlement.ErrInProgress):
		// o resultado já está comprometido; outro processo termina de pagar
		a.Log.Info("round overridden, settlement running elsewhere",
			zap.String("round_id", req.RoundID),
			zap.String("outcome", res.Result.Outcome),
			zap.String("operator", req.Operator),
		)
		writeJSON(w, http.StatusAccepted, map[string]any{
			"roundId": req.RoundID,
			"outcome": res.Outcome,
			"mode":    res.Result.Mode,
			"status":  "settling",
		})
		return
	case errors.Is(err, resolver.ErrPeriodNotEnded), errors.Is(err, resolver.ErrResultAlreadySet):
		writeError(w, http.StatusConflict, err.Error())
		return
	case errors.Is(err, resolver.ErrInvalidOutcome), errors.Is(err, resolver.ErrUnknownGame), errors.Is(err, rounds.ErrInvalidRoundID):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	default:
		a.Log.Error("override failed", zap.String("round_id", req.RoundID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	a.Log.Info("round overridden",
		zap.String("game", req.GameType),
		zap.Int("duration", req.Duration),
		zap.String("round_id", req.RoundID),
		zap.String("outcome", res.Result.Outcome),
		zap.String("operator", req.Operator),
	)
	writeJSON(w, http.StatusOK, map[string]any{
		"roundId":     req.RoundID,
		"outcome":     res.Outcome,
		"mode":        res.Result.Mode,
		"winners":     res.Summary.Winners,
		"totalPayout": res.Summary.TotalPayout,
	})
}

func limitParam(r *http.Request, def int) int {
	n, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || n <= 0 || n > 500 {
		return def
	}
	return n
}
