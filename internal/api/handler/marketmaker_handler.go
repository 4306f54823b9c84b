package handler

import (
	"net/http"

	"github.com/evetabi/marketmaker/internal/domain"
	"github.com/evetabi/marketmaker/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MarketMakerHandler serves instance CRUD, lifecycle and pool endpoints.
type MarketMakerHandler struct {
	admin *service.AdminService
}

// NewMarketMakerHandler creates a MarketMakerHandler.
func NewMarketMakerHandler(admin *service.AdminService) *MarketMakerHandler {
	return &MarketMakerHandler{admin: admin}
}

// ──────────────────────────────────────────────────────────────────────────────
// Request DTOs
// ──────────────────────────────────────────────────────────────────────────────

// createRequest carries the full create payload. Decimal fields travel as
// strings so precision survives JSON.
type createRequest struct {
	MarketRef            string  `json:"market_ref" binding:"required"`
	InitialPrice         string  `json:"initial_price" binding:"required"`
	InitialBaseBalance   string  `json:"initial_base_balance" binding:"required"`
	InitialQuoteBalance  string  `json:"initial_quote_balance" binding:"required"`
	TargetPrice          *string `json:"target_price"`
	PriceRangeLow        *string `json:"price_range_low"`
	PriceRangeHigh       *string `json:"price_range_high"`
	AggressionLevel      string  `json:"aggression_level"`
	MaxDailyVolume       string  `json:"max_daily_volume"`
	VolatilityThreshold  string  `json:"volatility_threshold"`
	PauseOnHighVol       *bool   `json:"pause_on_high_volatility"`
	RealLiquidityPercent string  `json:"real_liquidity_percent"`
	PriceMode            string  `json:"price_mode"`
	ExternalSymbol       *string `json:"external_symbol"`
	CorrelationStrength  string  `json:"correlation_strength"`
	MarketBias           string  `json:"market_bias"`
	BiasStrength         string  `json:"bias_strength"`
	BaseVolatility       string  `json:"base_volatility"`
	VolatilityMultiplier string  `json:"volatility_multiplier"`
	MomentumDecay        string  `json:"momentum_decay"`
}

// parseDec parses a decimal string, returning the fallback when empty.
func parseDec(s string, fallback decimal.Decimal) (decimal.Decimal, bool) {
	if s == "" {
		return fallback, true
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}

// parseDecPtr parses an optional decimal string; nil stays nil.
func parseDecPtr(s *string) (*decimal.Decimal, bool) {
	if s == nil || *s == "" {
		return nil, true
	}
	d, err := decimal.NewFromString(*s)
	if err != nil {
		return nil, false
	}
	return &d, true
}

// ──────────────────────────────────────────────────────────────────────────────
// CRUD
// ──────────────────────────────────────────────────────────────────────────────

// Create godoc
// POST /api/market-makers [admin JWT]
func (h *MarketMakerHandler) Create(c *gin.Context) {
	var body createRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		respondError(c, http.StatusBadRequest, "ERR_VALIDATION", err.Error())
		return
	}

	mm := &domain.MarketMaker{
		MarketRef:  body.MarketRef,
		PriceMode:  domain.PriceModeAutonomous,
		MarketBias: domain.BiasNeutral,
	}
	if body.PriceMode != "" {
		mm.PriceMode = domain.PriceMode(body.PriceMode)
	}
	if body.MarketBias != "" {
		mm.MarketBias = domain.Bias(body.MarketBias)
	}
	mm.ExternalSymbol = body.ExternalSymbol
	if body.PauseOnHighVol != nil {
		mm.PauseOnHighVolatility = *body.PauseOnHighVol
	} else {
		mm.PauseOnHighVolatility = true
	}

	ok := true
	var parsed bool
	mm.LastKnownPrice, parsed = parseDec(body.InitialPrice, decimal.Zero)
	ok = ok && parsed
	mm.AggressionLevel, parsed = parseDec(body.AggressionLevel, decimal.NewFromInt(5))
	ok = ok && parsed
	mm.MaxDailyVolume, parsed = parseDec(body.MaxDailyVolume, decimal.Zero)
	ok = ok && parsed
	mm.VolatilityThreshold, parsed = parseDec(body.VolatilityThreshold, decimal.NewFromInt(10))
	ok = ok && parsed
	mm.RealLiquidityPercent, parsed = parseDec(body.RealLiquidityPercent, decimal.Zero)
	ok = ok && parsed
	mm.CorrelationStrength, parsed = parseDec(body.CorrelationStrength, decimal.Zero)
	ok = ok && parsed
	mm.BiasStrength, parsed = parseDec(body.BiasStrength, decimal.Zero)
	ok = ok && parsed
	mm.BaseVolatility, parsed = parseDec(body.BaseVolatility, decimal.NewFromInt(2))
	ok = ok && parsed
	mm.VolatilityMultiplier, parsed = parseDec(body.VolatilityMultiplier, decimal.NewFromInt(1))
	ok = ok && parsed
	mm.MomentumDecay, parsed = parseDec(body.MomentumDecay, decimal.NewFromFloat(0.95))
	ok = ok && parsed
	mm.TargetPrice, parsed = parseDecPtr(body.TargetPrice)
	ok = ok && parsed
	mm.PriceRangeLow, parsed = parseDecPtr(body.PriceRangeLow)
	ok = ok && parsed
	mm.PriceRangeHigh, parsed = parseDecPtr(body.PriceRangeHigh)
	ok = ok && parsed

	initialBase, pb := parseDec(body.InitialBaseBalance, decimal.Zero)
	initialQuote, pq := parseDec(body.InitialQuoteBalance, decimal.Zero)
	if !ok || !pb || !pq {
		respondError(c, http.StatusBadRequest, "ERR_INVALID_DECIMAL", "decimal fields must be valid decimal strings")
		return
	}

	created, err := h.admin.CreateMarketMaker(c.Request.Context(), mm, initialBase, initialQuote)
	if err != nil {
		respondDomainError(c, err)
		return
	}
	respondSuccess(c, http.StatusCreated, created)
}

// List godoc
// GET /api/market-makers?market_ref=AIX-USDT [admin JWT]
//
// A market_ref filter narrows the listing to the single instance managing
// that market, 404 when none does.
func (h *MarketMakerHandler) List(c *gin.Context) {
	page, limit := parsePagination(c)

	if ref := c.Query("market_ref"); ref != "" {
		mm, err := h.admin.GetByRef(c.Request.Context(), ref)
		if err != nil {
			respondDomainError(c, err)
			return
		}
		respondList(c, []*domain.MarketMaker{mm}, 1, page, limit)
		return
	}

	makers, err := h.admin.List(c.Request.Context())
	if err != nil {
		respondDomainError(c, err)
		return
	}
	respondList(c, makers, len(makers), page, limit)
}

// Get godoc
// GET /api/market-makers/:id [admin JWT]
func (h *MarketMakerHandler) Get(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	mm, err := h.admin.Get(c.Request.Context(), id)
	if err != nil {
		respondDomainError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, mm)
}

// Status godoc
// GET /api/market-makers/:id/status [admin JWT]
func (h *MarketMakerHandler) Status(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	st, err := h.admin.Status(c.Request.Context(), id)
	if err != nil {
		respondDomainError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, st)
}

// Delete godoc
// DELETE /api/market-makers/:id [admin JWT]
func (h *MarketMakerHandler) Delete(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	if err := h.admin.DeleteMarketMaker(c.Request.Context(), id); err != nil {
		respondDomainError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{"deleted": id})
}

// ──────────────────────────────────────────────────────────────────────────────
// Configuration
// ──────────────────────────────────────────────────────────────────────────────

// updateConfigRequest mirrors service.ConfigUpdate with string decimals.
type updateConfigRequest struct {
	TargetPrice          *string `json:"target_price"`
	PriceRangeLow        *string `json:"price_range_low"`
	PriceRangeHigh       *string `json:"price_range_high"`
	AggressionLevel      *string `json:"aggression_level"`
	MaxDailyVolume       *string `json:"max_daily_volume"`
	VolatilityThreshold  *string `json:"volatility_threshold"`
	PauseOnHighVol       *bool   `json:"pause_on_high_volatility"`
	RealLiquidityPercent *string `json:"real_liquidity_percent"`
	PriceMode            *string `json:"price_mode"`
	ExternalSymbol       *string `json:"external_symbol"`
	CorrelationStrength  *string `json:"correlation_strength"`
	BaseVolatility       *string `json:"base_volatility"`
	VolatilityMultiplier *string `json:"volatility_multiplier"`
	MomentumDecay        *string `json:"momentum_decay"`
}

// UpdateConfig godoc
// PATCH /api/market-makers/:id/config [admin JWT]
func (h *MarketMakerHandler) UpdateConfig(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	var body updateConfigRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		respondError(c, http.StatusBadRequest, "ERR_VALIDATION", err.Error())
		return
	}

	upd := service.ConfigUpdate{PauseOnHighVol: body.PauseOnHighVol}
	ok = true
	var parsed bool
	upd.TargetPrice, parsed = parseDecPtr(body.TargetPrice)
	ok = ok && parsed
	upd.PriceRangeLow, parsed = parseDecPtr(body.PriceRangeLow)
	ok = ok && parsed
	upd.PriceRangeHigh, parsed = parseDecPtr(body.PriceRangeHigh)
	ok = ok && parsed
	upd.AggressionLevel, parsed = parseDecPtr(body.AggressionLevel)
	ok = ok && parsed
	upd.MaxDailyVolume, parsed = parseDecPtr(body.MaxDailyVolume)
	ok = ok && parsed
	upd.VolatilityThreshold, parsed = parseDecPtr(body.VolatilityThreshold)
	ok = ok && parsed
	upd.RealLiquidityPercent, parsed = parseDecPtr(body.RealLiquidityPercent)
	ok = ok && parsed
	upd.CorrelationStrength, parsed = parseDecPtr(body.CorrelationStrength)
	ok = ok && parsed
	upd.BaseVolatility, parsed = parseDecPtr(body.BaseVolatility)
	ok = ok && parsed
	upd.VolatilityMultiplier, parsed = parseDecPtr(body.VolatilityMultiplier)
	ok = ok && parsed
	upd.MomentumDecay, parsed = parseDecPtr(body.MomentumDecay)
	ok = ok && parsed
	if !ok {
		respondError(c, http.StatusBadRequest, "ERR_INVALID_DECIMAL", "decimal fields must be valid decimal strings")
		return
	}
	if body.PriceMode != nil {
		pm := domain.PriceMode(*body.PriceMode)
		upd.PriceMode = &pm
	}
	upd.ExternalSymbol = body.ExternalSymbol

	mm, err := h.admin.UpdateConfig(c.Request.Context(), id, upd)
	if err != nil {
		respondDomainError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, mm)
}

// SetBias godoc
// PUT /api/market-makers/:id/bias [admin JWT]
// Body: {"bias":"BULLISH","strength":"60"}
func (h *MarketMakerHandler) SetBias(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	var body struct {
		Bias     string `json:"bias" binding:"required"`
		Strength string `json:"strength" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		respondError(c, http.StatusBadRequest, "ERR_VALIDATION", err.Error())
		return
	}
	strength, err := decimal.NewFromString(body.Strength)
	if err != nil {
		respondError(c, http.StatusBadRequest, "ERR_INVALID_DECIMAL", "strength must be a decimal string")
		return
	}
	mm, err := h.admin.SetBias(c.Request.Context(), id, domain.Bias(body.Bias), strength)
	if err != nil {
		respondDomainError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, mm)
}

// ──────────────────────────────────────────────────────────────────────────────
// Lifecycle
// ──────────────────────────────────────────────────────────────────────────────

// lifecycleBody carries the optional operator-supplied reason.
type lifecycleBody struct {
	Reason string `json:"reason"`
}

func (h *MarketMakerHandler) lifecycle(c *gin.Context, op func(ctx *gin.Context, id uuid.UUID, reason string) error) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	var body lifecycleBody
	_ = c.ShouldBindJSON(&body) // reason is optional; an empty body is fine

	if err := op(c, id, body.Reason); err != nil {
		respondDomainError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{"id": id})
}

// Start godoc — POST /api/market-makers/:id/start [admin JWT]
func (h *MarketMakerHandler) Start(c *gin.Context) {
	h.lifecycle(c, func(c *gin.Context, id uuid.UUID, reason string) error {
		return h.admin.Start(c.Request.Context(), id, reason)
	})
}

// Stop godoc — POST /api/market-makers/:id/stop [admin JWT]
func (h *MarketMakerHandler) Stop(c *gin.Context) {
	h.lifecycle(c, func(c *gin.Context, id uuid.UUID, reason string) error {
		return h.admin.Stop(c.Request.Context(), id, reason)
	})
}

// Pause godoc — POST /api/market-makers/:id/pause [admin JWT]
func (h *MarketMakerHandler) Pause(c *gin.Context) {
	h.lifecycle(c, func(c *gin.Context, id uuid.UUID, reason string) error {
		return h.admin.Pause(c.Request.Context(), id, reason)
	})
}

// Resume godoc — POST /api/market-makers/:id/resume [admin JWT]
func (h *MarketMakerHandler) Resume(c *gin.Context) {
	h.lifecycle(c, func(c *gin.Context, id uuid.UUID, reason string) error {
		return h.admin.Resume(c.Request.Context(), id, reason)
	})
}

// EmergencyStop godoc — POST /api/market-makers/:id/emergency-stop [admin JWT]
func (h *MarketMakerHandler) EmergencyStop(c *gin.Context) {
	h.lifecycle(c, func(c *gin.Context, id uuid.UUID, reason string) error {
		return h.admin.EmergencyStop(c.Request.Context(), id, reason)
	})
}

// ──────────────────────────────────────────────────────────────────────────────
// Pool funding
// ──────────────────────────────────────────────────────────────────────────────

// fundsBody carries base and quote amounts as decimal strings.
type fundsBody struct {
	BaseAmount  string `json:"base_amount"`
	QuoteAmount string `json:"quote_amount"`
}

func (h *MarketMakerHandler) parseFunds(c *gin.Context) (uuid.UUID, decimal.Decimal, decimal.Decimal, bool) {
	id, ok := parseID(c)
	if !ok {
		return uuid.Nil, decimal.Zero, decimal.Zero, false
	}
	var body fundsBody
	if err := c.ShouldBindJSON(&body); err != nil {
		respondError(c, http.StatusBadRequest, "ERR_VALIDATION", err.Error())
		return uuid.Nil, decimal.Zero, decimal.Zero, false
	}
	base, pb := parseDec(body.BaseAmount, decimal.Zero)
	quote, pq := parseDec(body.QuoteAmount, decimal.Zero)
	if !pb || !pq {
		respondError(c, http.StatusBadRequest, "ERR_INVALID_DECIMAL", "amounts must be decimal strings")
		return uuid.Nil, decimal.Zero, decimal.Zero, false
	}
	return id, base, quote, true
}

// Deposit godoc — POST /api/market-makers/:id/pool/deposit [admin JWT]
func (h *MarketMakerHandler) Deposit(c *gin.Context) {
	id, base, quote, ok := h.parseFunds(c)
	if !ok {
		return
	}
	pool, err := h.admin.Deposit(c.Request.Context(), id, base, quote)
	if err != nil {
		respondDomainError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, pool)
}

// Withdraw godoc — POST /api/market-makers/:id/pool/withdraw [admin JWT]
func (h *MarketMakerHandler) Withdraw(c *gin.Context) {
	id, base, quote, ok := h.parseFunds(c)
	if !ok {
		return
	}
	pool, err := h.admin.Withdraw(c.Request.Context(), id, base, quote)
	if err != nil {
		respondDomainError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, pool)
}

// Rebalance godoc — POST /api/market-makers/:id/pool/rebalance [admin JWT]
func (h *MarketMakerHandler) Rebalance(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	pool, err := h.admin.Rebalance(c.Request.Context(), id)
	if err != nil {
		respondDomainError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, pool)
}

// parseID reads the :id path parameter as a UUID, writing the 400 itself.
func parseID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondError(c, http.StatusBadRequest, "ERR_INVALID_ID", "id must be a UUID")
		return uuid.Nil, false
	}
	return id, true
}
