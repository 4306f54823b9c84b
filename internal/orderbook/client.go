// Package orderbook is the HTTP client for the real matching engine. Only
// the realLiquidityPercent share of bot orders ever reaches it; everything
// else settles inside the simulation.
package orderbook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/evetabi/marketmaker/internal/config"
	"github.com/evetabi/marketmaker/internal/engine"
	"github.com/shopspring/decimal"
)

// Client talks to the matching engine's REST API and implements
// engine.OrderBook. The per-request deadline comes from the caller's
// context; the router bounds every submission.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient builds a matching-engine client from config.
func NewClient(cfg *config.OrderBookConfig) *Client {
	return &Client{
		baseURL: cfg.BaseURL,
		http:    &http.Client{}, // deadlines come from the submit context
	}
}

var _ engine.OrderBook = (*Client)(nil)

// submitPayload mirrors the matching engine's order schema.
type submitPayload struct {
	MarketRef string `json:"market_ref"`
	Side      string `json:"side"`
	Price     string `json:"price"`
	Amount    string `json:"amount"`
}

// submitResponse is the engine's answer: either an execution or a typed
// rejection reason.
type submitResponse struct {
	FillPrice  string `json:"fill_price"`
	FillAmount string `json:"fill_amount"`
	OrderRef   string `json:"order_ref"`
	Rejection  string `json:"rejection,omitempty"`
}

// SubmitOrder posts one order. A 2xx with a rejection field, or a 422,
// maps to engine.RejectionError; anything else non-2xx is a transport
// failure.
func (c *Client) SubmitOrder(ctx context.Context, req engine.OrderRequest) (engine.OrderResult, error) {
	payload := submitPayload{
		MarketRef: req.MarketRef,
		Side:      string(req.Side),
		Price:     req.Price.String(),
		Amount:    req.Amount.String(),
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return engine.OrderResult{}, fmt.Errorf("orderbook: marshal: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/orders", bytes.NewReader(body))
	if err != nil {
		return engine.OrderResult{}, fmt.Errorf("orderbook: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return engine.OrderResult{}, fmt.Errorf("orderbook: submit: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return engine.OrderResult{}, fmt.Errorf("orderbook: read body: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusUnprocessableEntity:
		var sr submitResponse
		_ = json.Unmarshal(raw, &sr)
		reason := sr.Rejection
		if reason == "" {
			reason = "order refused"
		}
		return engine.OrderResult{}, &engine.RejectionError{Reason: reason}
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return engine.OrderResult{}, fmt.Errorf("orderbook: unexpected status %d", resp.StatusCode)
	}

	var sr submitResponse
	if err := json.Unmarshal(raw, &sr); err != nil {
		return engine.OrderResult{}, fmt.Errorf("orderbook: parse: %w", err)
	}
	if sr.Rejection != "" {
		return engine.OrderResult{}, &engine.RejectionError{Reason: sr.Rejection}
	}

	res, err := parseResult(sr)
	if err != nil {
		return engine.OrderResult{}, fmt.Errorf("orderbook: %w", err)
	}
	return res, nil
}

func parseResult(sr submitResponse) (engine.OrderResult, error) {
	price, err := decimal.NewFromString(sr.FillPrice)
	if err != nil {
		return engine.OrderResult{}, fmt.Errorf("fill_price %q: %w", sr.FillPrice, err)
	}
	amount, err := decimal.NewFromString(sr.FillAmount)
	if err != nil {
		return engine.OrderResult{}, fmt.Errorf("fill_amount %q: %w", sr.FillAmount, err)
	}
	return engine.OrderResult{FillPrice: price, FillAmount: amount, OrderRef: sr.OrderRef}, nil
}
