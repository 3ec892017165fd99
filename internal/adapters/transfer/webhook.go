// Package transfer holds TransferExecutor implementations.
package transfer

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"

	"github.com/alejandrodnm/lmsrmarket/internal/domain"
)

const (
	defaultTimeout = 10 * time.Second
	maxRetries     = 3
	baseRetryWait  = 500 * time.Millisecond
	maxRetryWait   = 5 * time.Second

	// IdempotencyHeader carries the transfer id so the receiver can drop replays.
	IdempotencyHeader = "Idempotency-Key"
)

// WebhookConfig configures the webhook executor.
type WebhookConfig struct {
	URL        string
	Token      string        // sent as a bearer token when set
	Timeout    time.Duration // per attempt
	RatePerSec float64       // 0 = unlimited
}

// payload is the JSON body POSTed for each transfer.
type payload struct {
	ID       string `json:"id"`
	MarketID uint64 `json:"market_id"`
	Account  string `json:"account"`
	Token    string `json:"token"`
	Amount   string `json:"amount"`
	Reason   string `json:"reason"`
}

// Webhook executes transfers by POSTing them to a custody service. Transport errors,
// 429 and 5xx are retried with backoff inside one Execute call; every attempt
// carries the same idempotency key. Any other non-2xx fails the transfer.
type Webhook struct {
	client  *resty.Client
	url     string
	limiter *rate.Limiter
}

// NewWebhook creates a Webhook executor.
func NewWebhook(cfg WebhookConfig) (*Webhook, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, fmt.Errorf("transfer.NewWebhook: url required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	limit := rate.Inf
	if cfg.RatePerSec > 0 {
		limit = rate.Limit(cfg.RatePerSec)
	}

	client := resty.New().
		SetTimeout(cfg.Timeout).
		SetRetryCount(maxRetries).
		SetRetryWaitTime(baseRetryWait).
		SetRetryMaxWaitTime(maxRetryWait).
		SetHeader("Accept", "application/json").
		AddRetryCondition(func(resp *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return resp.StatusCode() == http.StatusTooManyRequests || resp.StatusCode() >= 500
		})
	if cfg.Token != "" {
		client.SetAuthToken(cfg.Token)
	}

	return &Webhook{
		client:  client,
		url:     cfg.URL,
		limiter: rate.NewLimiter(limit, 1),
	}, nil
}

// Execute POSTs the transfer and succeeds on any 2xx response.
func (w *Webhook) Execute(ctx context.Context, t domain.Transfer) error {
	if err := w.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("transfer.Execute: rate limiter: %w", err)
	}

	resp, err := w.client.R().
		SetContext(ctx).
		SetHeader(IdempotencyHeader, t.ID).
		SetBody(payload{
			ID:       t.ID,
			MarketID: uint64(t.MarketID),
			Account:  string(t.Account),
			Token:    t.Token,
			Amount:   t.Amount.String(),
			Reason:   string(t.Reason),
		}).
		Post(w.url)
	if err != nil {
		return fmt.Errorf("transfer.Execute: %s: %w", t.ID, err)
	}
	if !resp.IsSuccess() {
		return fmt.Errorf("transfer.Execute: %s: status %d: %s", t.ID, resp.StatusCode(), strings.TrimSpace(resp.String()))
	}
	return nil
}
