package handler

import (
	"net/http"
	"time"

	"github.com/evetabi/marketmaker/internal/domain"
	"github.com/evetabi/marketmaker/internal/service"
	"github.com/gin-gonic/gin"
)

// HistoryHandler serves the read-only audit trail endpoints.
type HistoryHandler struct {
	admin *service.AdminService
}

// NewHistoryHandler creates a HistoryHandler.
func NewHistoryHandler(admin *service.AdminService) *HistoryHandler {
	return &HistoryHandler{admin: admin}
}

// List godoc
// GET /api/market-makers/:id/history?action=TRADE&from=...&to=...&page=1&limit=20 [admin JWT]
//
// The trail is append-only; there is no write surface here by design.
func (h *HistoryHandler) List(c *gin.Context) {
	mmID, ok := parseID(c)
	if !ok {
		return
	}

	page, limit := parsePagination(c)
	filter := domain.HistoryFilter{
		Limit:  limit,
		Offset: (page - 1) * limit,
	}

	if a := c.Query("action"); a != "" {
		action := domain.Action(a)
		if !action.IsValid() {
			respondError(c, http.StatusBadRequest, "ERR_INVALID_ACTION", "unknown action "+a)
			return
		}
		filter.Action = &action
	}
	var badTime bool
	filter.From, badTime = parseTimeQuery(c, "from")
	if badTime {
		return
	}
	filter.To, badTime = parseTimeQuery(c, "to")
	if badTime {
		return
	}

	entries, err := h.admin.ListHistory(c.Request.Context(), mmID, filter)
	if err != nil {
		respondDomainError(c, err)
		return
	}
	respondList(c, entries, len(entries), page, limit)
}

// Stats godoc
// GET /api/market-makers/:id/history/stats [admin JWT]
//
// Returns entry counts grouped by action, the dashboard's at-a-glance view
// of how busy an instance's trail is.
func (h *HistoryHandler) Stats(c *gin.Context) {
	mmID, ok := parseID(c)
	if !ok {
		return
	}
	counts, err := h.admin.HistoryStats(c.Request.Context(), mmID)
	if err != nil {
		respondDomainError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, counts)
}

// parseTimeQuery reads an optional RFC 3339 query parameter. The second
// return is true when the value was present but malformed (response already
// written).
func parseTimeQuery(c *gin.Context, key string) (*time.Time, bool) {
	v := c.Query(key)
	if v == "" {
		return nil, false
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		respondError(c, http.StatusBadRequest, "ERR_INVALID_TIME", key+" must be RFC 3339")
		return nil, true
	}
	return &t, false
}
