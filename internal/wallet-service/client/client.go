// Package client fala com o wallet-service por HTTP.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/radieske/period-bet-engine/internal/wallet-service/dto"
)

// Erros reconstruídos a partir do código devolvido pelo serviço
var (
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrRequestTimeout    = errors.New("wallet request timed out")
	ErrCreditFailed      = errors.New("credit failed after retries")
	ErrQueueFull         = errors.New("wallet queue full")
)

type Client struct {
	BaseURL string
	HTTP    *http.Client
}

// New cria o client; o timeout HTTP precisa cobrir o orçamento do ledger
func New(base string, timeout time.Duration) *Client {
	return &Client{
		BaseURL: base,
		HTTP:    &http.Client{Timeout: timeout},
	}
}

// Credit aplica um crédito idempotente por (kind, ref) e devolve o saldo
func (c *Client) Credit(ctx context.Context, userID string, amount int64, kind, source, ref string) (int64, error) {
	return c.apply(ctx, dto.CreditRequest{UserID: userID, AmountCents: amount, Kind: kind, Source: source, ReferenceID: ref})
}

// Debit retira amount do saldo
func (c *Client) Debit(ctx context.Context, userID string, amount int64, kind, source, ref string) (int64, error) {
	return c.apply(ctx, dto.CreditRequest{UserID: userID, AmountCents: -amount, Kind: kind, Source: source, ReferenceID: ref})
}

// Deposit credita saldo a partir da API pública
func (c *Client) Deposit(ctx context.Context, userID string, amount int64, ref string) (int64, error) {
	var out dto.TransactionResponse
	if err := c.post(ctx, "/v1/wallet/deposit", dto.DepositRequest{UserID: userID, AmountCents: amount, ExternalRef: ref}, &out); err != nil {
		return 0, err
	}
	return out.BalanceCents, nil
}

// Balance lê o saldo atual
func (c *Client) Balance(ctx context.Context, userID string) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/v1/wallet/"+userID, nil)
	if err != nil {
		return 0, err
	}
	var out dto.WalletResponse
	if err := c.do(req, &out); err != nil {
		return 0, err
	}
	return out.BalanceCents, nil
}

func (c *Client) apply(ctx context.Context, body dto.CreditRequest) (int64, error) {
	var out dto.TransactionResponse
	if err := c.post(ctx, "/v1/wallet/transactions", body, &out); err != nil {
		return 0, err
	}
	return out.BalanceCents, nil
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	b, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	res, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.StatusCode >= 300 {
		var e dto.ErrorResponse
		_ = json.NewDecoder(res.Body).Decode(&e)
		return asError(res.StatusCode, e)
	}
	return json.NewDecoder(res.Body).Decode(out)
}

// asError traduz o código da resposta de volta num erro comparável
func asError(status int, e dto.ErrorResponse) error {
	var base error
	switch e.Code {
	case "INSUFFICIENT_FUNDS":
		base = ErrInsufficientFunds
	case "REQUEST_TIMEOUT":
		base = ErrRequestTimeout
	case "CREDIT_FAILED":
		base = ErrCreditFailed
	case "QUEUE_FULL":
		base = ErrQueueFull
	default:
		return fmt.Errorf("wallet http %d: %s", status, e.Message)
	}
	return fmt.Errorf("%w: %s", base, e.Message)
}
