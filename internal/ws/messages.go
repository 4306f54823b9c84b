// Package ws holds WebSocket message types and the Hub implementation.
// messages.go defines all message structs broadcast to connected dashboards.
package ws

import (
	"time"

	"github.com/evetabi/marketmaker/internal/domain"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MsgType identifies the kind of WS message so clients can switch on it.
type MsgType string

const (
	MsgTypeTick        MsgType = "tick"
	MsgTypePhaseChange MsgType = "phase_change"
	MsgTypeAutoPause   MsgType = "auto_pause"
	MsgTypeError       MsgType = "error"
)

// ──────────────────────────────────────────────────────────────────────────────
// TickMessage — sent after every committed tick.
// ──────────────────────────────────────────────────────────────────────────────

// TickMessage carries the instance's post-tick price and pool snapshot.
type TickMessage struct {
	Type          MsgType          `json:"type"`
	MarketMakerID uuid.UUID        `json:"market_maker_id"`
	MarketRef     string           `json:"market_ref"`
	Price         decimal.Decimal  `json:"price"`
	Phase         domain.Phase     `json:"phase"`
	Momentum      decimal.Decimal  `json:"momentum"`
	PhaseTarget   *decimal.Decimal `json:"phase_target"`
	DailyVolume   decimal.Decimal  `json:"daily_volume"`
	BaseBalance   decimal.Decimal  `json:"base_balance"`
	QuoteBalance  decimal.Decimal  `json:"quote_balance"`
	PoolValue     decimal.Decimal  `json:"pool_value"`
	RealizedPnL   decimal.Decimal  `json:"realized_pnl"`
	UnrealizedPnL decimal.Decimal  `json:"unrealized_pnl"`
	Timestamp     time.Time        `json:"timestamp"`
}

// ──────────────────────────────────────────────────────────────────────────────
// PhaseChangeMessage — broadcast when an instance rolls to its next phase.
// ──────────────────────────────────────────────────────────────────────────────

// PhaseChangeMessage tells dashboards which phase the instance entered and
// where the synthetic price is headed.
type PhaseChangeMessage struct {
	Type          MsgType          `json:"type"`
	MarketMakerID uuid.UUID        `json:"market_maker_id"`
	MarketRef     string           `json:"market_ref"`
	OldPhase      domain.Phase     `json:"old_phase"`
	NewPhase      domain.Phase     `json:"new_phase"`
	PhaseTarget   *decimal.Decimal `json:"phase_target"`
	Price         decimal.Decimal  `json:"price"`
	Timestamp     time.Time        `json:"timestamp"`
}

// ──────────────────────────────────────────────────────────────────────────────
// AutoPauseMessage — broadcast when the risk governor halts an instance.
// ──────────────────────────────────────────────────────────────────────────────

// AutoPauseMessage alerts operators that trading froze on a volatility breach.
type AutoPauseMessage struct {
	Type          MsgType         `json:"type"`
	MarketMakerID uuid.UUID       `json:"market_maker_id"`
	MarketRef     string          `json:"market_ref"`
	Reason        string          `json:"reason"`
	Volatility    decimal.Decimal `json:"volatility"`
	Threshold     decimal.Decimal `json:"threshold"`
	Price         decimal.Decimal `json:"price"`
	Timestamp     time.Time       `json:"timestamp"`
}

// ──────────────────────────────────────────────────────────────────────────────
// ErrorMessage — sent to a single client on a non-fatal error.
// ──────────────────────────────────────────────────────────────────────────────

// ErrorMessage is sent directly to one client (not broadcast).
type ErrorMessage struct {
	Type    MsgType `json:"type"`
	Code    string  `json:"code"`
	Message string  `json:"message"`
}
