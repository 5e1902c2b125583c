package handlers

import (
	"net/http"
	"time"

	"github.com/ayoubkhl/ragrelay/internal/tenant"
	"github.com/ayoubkhl/ragrelay/internal/usage"
)

// UsageHandler exposes the daily counters for tenant-visible quota
// reporting; drops and quota exceedances surface here, never through the
// webhook response.
type UsageHandler struct {
	ledger usage.Ledger
}

func NewUsageHandler(ledger usage.Ledger) *UsageHandler {
	return &UsageHandler{ledger: ledger}
}

func (h *UsageHandler) Today(w http.ResponseWriter, r *http.Request) {
	tenantID := tenant.IDFromContext(r.Context())

	day := time.Now().UTC()
	if s := r.URL.Query().Get("date"); s != "" {
		parsed, err := time.Parse("2006-01-02", s)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid date, expected YYYY-MM-DD"})
			return
		}
		day = parsed
	}

	counters, err := h.ledger.Counters(r.Context(), tenantID, day)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"usage": counters})
}
