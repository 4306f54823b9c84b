package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ──────────────────────────────────────────────────────────────────────────────
// Actions
// ──────────────────────────────────────────────────────────────────────────────

// Action identifies the kind of state change a HistoryEntry records.
type Action string

const (
	ActionTrade         Action = "TRADE"
	ActionPause         Action = "PAUSE"
	ActionResume        Action = "RESUME"
	ActionRebalance     Action = "REBALANCE"
	ActionTargetChange  Action = "TARGET_CHANGE"
	ActionDeposit       Action = "DEPOSIT"
	ActionWithdraw      Action = "WITHDRAW"
	ActionStart         Action = "START"
	ActionStop          Action = "STOP"
	ActionConfigChange  Action = "CONFIG_CHANGE"
	ActionEmergencyStop Action = "EMERGENCY_STOP"
	ActionAutoPause     Action = "AUTO_PAUSE"
	ActionPhaseChange   Action = "PHASE_CHANGE"
	ActionBiasChange    Action = "BIAS_CHANGE"
	ActionMomentumEvent Action = "MOMENTUM_EVENT"
)

// IsValid returns true for a recognised action.
func (a Action) IsValid() bool {
	_, ok := detailsFactory[a]
	return ok
}

// ──────────────────────────────────────────────────────────────────────────────
// Details — tagged union, one variant per Action
// ──────────────────────────────────────────────────────────────────────────────

// Details is the polymorphic payload of a HistoryEntry. Each Action has
// exactly one concrete variant carrying exactly the fields relevant to it;
// payloads with unknown fields are rejected at construction.
type Details interface {
	Action() Action
}

// TradeDetails records one settled fill (real or simulated).
type TradeDetails struct {
	BotID    uuid.UUID       `json:"bot_id"`
	Side     OrderSide       `json:"side"`
	Price    decimal.Decimal `json:"price"`
	Amount   decimal.Decimal `json:"amount"`
	Real     bool            `json:"real"` // true when filled against a real counterparty
	OrderRef string          `json:"order_ref,omitempty"`
}

func (TradeDetails) Action() Action { return ActionTrade }

// PhaseChangeDetails records a phase-machine transition.
type PhaseChangeDetails struct {
	PreviousPhase    Phase            `json:"previous_phase"`
	NewPhase         Phase            `json:"new_phase"`
	ExpectedDuration time.Duration    `json:"expected_duration_ns"`
	PhaseTargetPrice *decimal.Decimal `json:"phase_target_price"`
}

func (PhaseChangeDetails) Action() Action { return ActionPhaseChange }

// AutoPauseDetails records a volatility-triggered pause.
type AutoPauseDetails struct {
	Reason     string          `json:"reason"`
	Volatility decimal.Decimal `json:"volatility"`
	Threshold  decimal.Decimal `json:"threshold"`
}

func (AutoPauseDetails) Action() Action { return ActionAutoPause }

// MomentumEventKind classifies a large instantaneous shock.
type MomentumEventKind string

const (
	MomentumSurge      MomentumEventKind = "SURGE"
	MomentumDump       MomentumEventKind = "DUMP"
	MomentumSpike      MomentumEventKind = "SPIKE"
	MomentumFlashCrash MomentumEventKind = "FLASH_CRASH"
)

// MomentumEventDetails records a momentum shock above the event cutoff.
// Magnitude is the applied shock as a percentage of price.
type MomentumEventDetails struct {
	Kind          MomentumEventKind `json:"kind"`
	Magnitude     decimal.Decimal   `json:"magnitude"`
	EventDuration time.Duration     `json:"event_duration_ns"`
}

func (MomentumEventDetails) Action() Action { return ActionMomentumEvent }

// ConfigChangeDetails records an admin configuration edit as a field→value map
// of only the fields that changed.
type ConfigChangeDetails struct {
	Changed map[string]string `json:"changed"`
}

func (ConfigChangeDetails) Action() Action { return ActionConfigChange }

// DepositDetails records an operator liquidity deposit.
type DepositDetails struct {
	BaseAmount  decimal.Decimal `json:"base_amount"`
	QuoteAmount decimal.Decimal `json:"quote_amount"`
}

func (DepositDetails) Action() Action { return ActionDeposit }

// WithdrawDetails records an operator liquidity withdrawal.
type WithdrawDetails struct {
	BaseAmount  decimal.Decimal `json:"base_amount"`
	QuoteAmount decimal.Decimal `json:"quote_amount"`
}

func (WithdrawDetails) Action() Action { return ActionWithdraw }

// RebalanceDetails records a pool rebalance toward target ratios.
type RebalanceDetails struct {
	BaseDelta  decimal.Decimal `json:"base_delta"`
	QuoteDelta decimal.Decimal `json:"quote_delta"`
	Trigger    string          `json:"trigger"` // "manual" | "auto"
}

func (RebalanceDetails) Action() Action { return ActionRebalance }

// TargetChangeDetails records a change of the price target, including the
// synthetic case where range clamping meaningfully suppressed the unclamped
// price.
type TargetChangeDetails struct {
	OldTarget *decimal.Decimal `json:"old_target"`
	NewTarget *decimal.Decimal `json:"new_target"`
	Reason    string           `json:"reason"`
}

func (TargetChangeDetails) Action() Action { return ActionTargetChange }

// BiasChangeDetails records an admin bias adjustment.
type BiasChangeDetails struct {
	OldBias     Bias            `json:"old_bias"`
	NewBias     Bias            `json:"new_bias"`
	OldStrength decimal.Decimal `json:"old_strength"`
	NewStrength decimal.Decimal `json:"new_strength"`
}

func (BiasChangeDetails) Action() Action { return ActionBiasChange }

// LifecycleDetails records operator lifecycle actions (START, STOP, PAUSE,
// RESUME, EMERGENCY_STOP) with the operator-supplied reason.
type LifecycleDetails struct {
	kind   Action
	Reason string `json:"reason"`
}

func (d LifecycleDetails) Action() Action { return d.kind }

// NewLifecycleDetails builds a LifecycleDetails for one of the lifecycle
// actions. Panics on a non-lifecycle action: that is a programming error.
func NewLifecycleDetails(a Action, reason string) LifecycleDetails {
	switch a {
	case ActionStart, ActionStop, ActionPause, ActionResume, ActionEmergencyStop:
		return LifecycleDetails{kind: a, Reason: reason}
	}
	panic(fmt.Sprintf("domain: %s is not a lifecycle action", a))
}

// ──────────────────────────────────────────────────────────────────────────────
// Details codec
// ──────────────────────────────────────────────────────────────────────────────

// detailsFactory maps each action to a constructor for its empty variant.
var detailsFactory = map[Action]func() Details{
	ActionTrade:         func() Details { return &TradeDetails{} },
	ActionPhaseChange:   func() Details { return &PhaseChangeDetails{} },
	ActionAutoPause:     func() Details { return &AutoPauseDetails{} },
	ActionMomentumEvent: func() Details { return &MomentumEventDetails{} },
	ActionConfigChange:  func() Details { return &ConfigChangeDetails{} },
	ActionDeposit:       func() Details { return &DepositDetails{} },
	ActionWithdraw:      func() Details { return &WithdrawDetails{} },
	ActionRebalance:     func() Details { return &RebalanceDetails{} },
	ActionTargetChange:  func() Details { return &TargetChangeDetails{} },
	ActionBiasChange:    func() Details { return &BiasChangeDetails{} },
	ActionStart:         func() Details { return &LifecycleDetails{kind: ActionStart} },
	ActionStop:          func() Details { return &LifecycleDetails{kind: ActionStop} },
	ActionPause:         func() Details { return &LifecycleDetails{kind: ActionPause} },
	ActionResume:        func() Details { return &LifecycleDetails{kind: ActionResume} },
	ActionEmergencyStop: func() Details { return &LifecycleDetails{kind: ActionEmergencyStop} },
}

// DecodeDetails parses a raw JSON payload into the variant keyed by action.
// Unknown actions and unknown payload fields are rejected, never stored
// loosely.
func DecodeDetails(action Action, raw []byte) (Details, error) {
	factory, ok := detailsFactory[action]
	if !ok {
		return nil, fmt.Errorf("domain.DecodeDetails: unknown action %q", action)
	}
	d := factory()
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(d); err != nil {
		return nil, fmt.Errorf("domain.DecodeDetails: %s payload: %w", action, err)
	}
	return d, nil
}

// EncodeDetails serialises a Details variant to its JSON payload.
func EncodeDetails(d Details) ([]byte, error) {
	raw, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("domain.EncodeDetails: %s: %w", d.Action(), err)
	}
	return raw, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// HistoryEntry
// ──────────────────────────────────────────────────────────────────────────────

// HistoryEntry is one immutable audit record of a state-changing action.
// Once created it is never updated, and is deleted only as a cascade
// side-effect of deleting its parent MarketMaker.
type HistoryEntry struct {
	ID            uuid.UUID       `json:"id"              db:"id"`
	MarketMakerID uuid.UUID       `json:"market_maker_id" db:"market_maker_id"`
	EntryAction   Action          `json:"action"          db:"action"`
	RawDetails    json.RawMessage `json:"details"         db:"details"`
	PriceAtAction decimal.Decimal `json:"price_at_action" db:"price_at_action"`
	PoolValue     decimal.Decimal `json:"pool_value_at_action" db:"pool_value_at_action"`
	CreatedAt     time.Time       `json:"created_at"      db:"created_at"`
}

// NewHistoryEntry constructs an entry from a typed Details variant plus the
// price and pool-value snapshot taken at the moment of the action.
func NewHistoryEntry(mmID uuid.UUID, d Details, price, poolValue decimal.Decimal) (*HistoryEntry, error) {
	raw, err := EncodeDetails(d)
	if err != nil {
		return nil, err
	}
	return &HistoryEntry{
		ID:            uuid.New(),
		MarketMakerID: mmID,
		EntryAction:   d.Action(),
		RawDetails:    raw,
		PriceAtAction: price,
		PoolValue:     poolValue,
		CreatedAt:     time.Now().UTC(),
	}, nil
}

// Details decodes the raw payload back into its typed variant.
func (e *HistoryEntry) Details() (Details, error) {
	return DecodeDetails(e.EntryAction, e.RawDetails)
}

// HistoryFilter narrows a paginated history query.
type HistoryFilter struct {
	Action *Action
	From   *time.Time
	To     *time.Time
	Limit  int
	Offset int
}
