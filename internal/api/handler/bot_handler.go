package handler

import (
	"net/http"

	"github.com/evetabi/marketmaker/internal/domain"
	"github.com/evetabi/marketmaker/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// BotHandler serves bot population management endpoints.
type BotHandler struct {
	admin *service.AdminService
}

// NewBotHandler creates a BotHandler.
func NewBotHandler(admin *service.AdminService) *BotHandler {
	return &BotHandler{admin: admin}
}

// botRequest carries a bot create/update payload with string decimals.
type botRequest struct {
	Name              string `json:"name" binding:"required"`
	Personality       string `json:"personality" binding:"required"`
	RiskTolerance     string `json:"risk_tolerance" binding:"required"`
	TradeFrequency    string `json:"trade_frequency" binding:"required"`
	AvgOrderSize      string `json:"avg_order_size" binding:"required"`
	OrderSizeVariance string `json:"order_size_variance" binding:"required"`
	PreferredSpread   string `json:"preferred_spread" binding:"required"`
	MaxDailyTrades    int    `json:"max_daily_trades"`
	Status            string `json:"status"`
}

// apply copies the parsed payload onto b, reporting decimal parse failures.
func (r botRequest) apply(b *domain.Bot) bool {
	b.Name = r.Name
	b.Personality = domain.Personality(r.Personality)
	b.TradeFrequency = domain.TradeFrequency(r.TradeFrequency)
	b.MaxDailyTrades = r.MaxDailyTrades
	if r.Status != "" {
		b.Status = domain.BotStatus(r.Status)
	}

	ok := true
	var parsed bool
	b.RiskTolerance, parsed = parseDec(r.RiskTolerance, decimal.Zero)
	ok = ok && parsed
	b.AvgOrderSize, parsed = parseDec(r.AvgOrderSize, decimal.Zero)
	ok = ok && parsed
	b.OrderSizeVariance, parsed = parseDec(r.OrderSizeVariance, decimal.Zero)
	ok = ok && parsed
	b.PreferredSpread, parsed = parseDec(r.PreferredSpread, decimal.Zero)
	ok = ok && parsed
	return ok
}

// Create godoc
// POST /api/market-makers/:id/bots [admin JWT]
func (h *BotHandler) Create(c *gin.Context) {
	mmID, ok := parseID(c)
	if !ok {
		return
	}
	var body botRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		respondError(c, http.StatusBadRequest, "ERR_VALIDATION", err.Error())
		return
	}

	bot := &domain.Bot{MarketMakerID: mmID}
	if !body.apply(bot) {
		respondError(c, http.StatusBadRequest, "ERR_INVALID_DECIMAL", "decimal fields must be valid decimal strings")
		return
	}

	created, err := h.admin.AddBot(c.Request.Context(), bot)
	if err != nil {
		respondDomainError(c, err)
		return
	}
	respondSuccess(c, http.StatusCreated, created)
}

// List godoc
// GET /api/market-makers/:id/bots [admin JWT]
func (h *BotHandler) List(c *gin.Context) {
	mmID, ok := parseID(c)
	if !ok {
		return
	}
	bots, err := h.admin.ListBots(c.Request.Context(), mmID)
	if err != nil {
		respondDomainError(c, err)
		return
	}
	page, limit := parsePagination(c)
	respondList(c, bots, len(bots), page, limit)
}

// Update godoc
// PUT /api/market-makers/:id/bots/:botID [admin JWT]
func (h *BotHandler) Update(c *gin.Context) {
	mmID, botID, ok := parseBotIDs(c)
	if !ok {
		return
	}
	var body botRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		respondError(c, http.StatusBadRequest, "ERR_VALIDATION", err.Error())
		return
	}

	bots, err := h.admin.ListBots(c.Request.Context(), mmID)
	if err != nil {
		respondDomainError(c, err)
		return
	}
	var bot *domain.Bot
	for _, b := range bots {
		if b.ID == botID {
			bot = b
			break
		}
	}
	if bot == nil {
		respondDomainError(c, domain.ErrBotNotFound)
		return
	}
	if !body.apply(bot) {
		respondError(c, http.StatusBadRequest, "ERR_INVALID_DECIMAL", "decimal fields must be valid decimal strings")
		return
	}

	if err := h.admin.UpdateBot(c.Request.Context(), bot); err != nil {
		respondDomainError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, bot)
}

// Delete godoc
// DELETE /api/market-makers/:id/bots/:botID [admin JWT]
func (h *BotHandler) Delete(c *gin.Context) {
	mmID, botID, ok := parseBotIDs(c)
	if !ok {
		return
	}
	if err := h.admin.RemoveBot(c.Request.Context(), mmID, botID); err != nil {
		respondDomainError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{"deleted": botID})
}

// ResetPerformance godoc
// POST /api/market-makers/:id/bots/:botID/reset-performance [admin JWT]
func (h *BotHandler) ResetPerformance(c *gin.Context) {
	mmID, botID, ok := parseBotIDs(c)
	if !ok {
		return
	}
	if err := h.admin.ResetBotPerformance(c.Request.Context(), mmID, botID); err != nil {
		respondDomainError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{"reset": botID})
}

// parseBotIDs reads both the :id and :botID path parameters.
func parseBotIDs(c *gin.Context) (mmID, botID uuid.UUID, ok bool) {
	mmID, ok = parseID(c)
	if !ok {
		return uuid.Nil, uuid.Nil, false
	}
	botID, err := uuid.Parse(c.Param("botID"))
	if err != nil {
		respondError(c, http.StatusBadRequest, "ERR_INVALID_ID", "botID must be a UUID")
		return uuid.Nil, uuid.Nil, false
	}
	return mmID, botID, true
}
