package ledger

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/meridian-oa/meridian-oa/internal/platform/httpx"
)

// Handler exposes balance and usage lookups. These are the read-only
// queries an interactive client calls before submitting a claim; the
// coordinator revalidates everything against live data at write time.
type Handler struct {
	logger  *slog.Logger
	service *Service
	repo    Repository
	cache   *Cache
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, repo Repository, cache *Cache) *Handler {
	return &Handler{logger: logger, service: service, repo: repo, cache: cache}
}

// MountRoutes registers ledger routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/balances", h.listBalances)
	r.Get("/advancements/{id}/usage", h.showUsage)
}

type balanceResponse struct {
	AdvancementID     int64           `json:"advancement_id"`
	AdvancementSerial string          `json:"advancement_serial"`
	Currency          string          `json:"currency"`
	IsFx              bool            `json:"is_fx"`
	Rate              decimal.Decimal `json:"rate"`
	Left              decimal.Decimal `json:"left"`
}

func (h *Handler) listBalances(w http.ResponseWriter, r *http.Request) {
	payeeID, err := strconv.ParseInt(r.URL.Query().Get("payee_id"), 10, 64)
	if err != nil || payeeID <= 0 {
		httpx.Error(w, http.StatusBadRequest, "payee_id is required")
		return
	}
	currencyFilter := r.URL.Query().Get("currency")

	rows, err := h.cache.FetchBalances(r.Context(), payeeID, currencyFilter,
		func(ctx context.Context) ([]BalanceRow, error) {
			return h.service.AvailableBalances(ctx, payeeID, currencyFilter)
		})
	if err != nil {
		h.logger.Error("list balances", slog.Any("error", err), slog.Int64("payee_id", payeeID))
		httpx.Error(w, http.StatusInternalServerError, "system error")
		return
	}

	out := make([]balanceResponse, 0, len(rows))
	for _, row := range rows {
		out = append(out, balanceResponse{
			AdvancementID:     row.AdvancementID,
			AdvancementSerial: row.AdvancementSerial,
			Currency:          row.Currency,
			IsFx:              row.IsFx,
			Rate:              row.Rate,
			Left:              row.Left,
		})
	}
	httpx.JSON(w, http.StatusOK, out)
}

type usageRowResponse struct {
	Currency string          `json:"currency"`
	IsFx     bool            `json:"is_fx"`
	Rate     decimal.Decimal `json:"rate"`
	Total    decimal.Decimal `json:"total"`
	Used     decimal.Decimal `json:"used"`
	Left     decimal.Decimal `json:"left"`
}

type allocationResponse struct {
	ClaimID     int64           `json:"claim_id"`
	ClaimSerial string          `json:"claim_serial"`
	ClaimStatus string          `json:"claim_status"`
	Currency    string          `json:"currency"`
	Amount      decimal.Decimal `json:"amount"`
	LocalAmount decimal.Decimal `json:"local_amount"`
}

type usageResponse struct {
	Rows   []usageRowResponse   `json:"rows"`
	Normal []allocationResponse `json:"normal"`
	Petty  []allocationResponse `json:"petty"`
	Fx     []allocationResponse `json:"fx"`
}

func (h *Handler) showUsage(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Error(w, http.StatusBadRequest, "invalid advancement id")
		return
	}
	adv, err := h.repo.GetAdvancement(r.Context(), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			httpx.Error(w, http.StatusNotFound, "advancement not found")
			return
		}
		h.logger.Error("load advancement", slog.Any("error", err), slog.Int64("id", id))
		httpx.Error(w, http.StatusInternalServerError, "system error")
		return
	}
	report, err := h.service.Usage(r.Context(), adv)
	if err != nil {
		h.logger.Error("compute usage", slog.Any("error", err), slog.Int64("id", id))
		httpx.Error(w, http.StatusInternalServerError, "system error")
		return
	}

	resp := usageResponse{
		Rows:   make([]usageRowResponse, 0, len(report.Rows)),
		Normal: toAllocations(report.Normal),
		Petty:  toAllocations(report.Petty),
		Fx:     toAllocations(report.Fx),
	}
	for _, row := range report.Rows {
		resp.Rows = append(resp.Rows, usageRowResponse{
			Currency: row.Currency,
			IsFx:     row.IsFx,
			Rate:     row.Rate,
			Total:    row.Total,
			Used:     row.Used,
			Left:     row.Left,
		})
	}
	httpx.JSON(w, http.StatusOK, resp)
}

func toAllocations(details []AllocationDetail) []allocationResponse {
	out := make([]allocationResponse, 0, len(details))
	for _, d := range details {
		out = append(out, allocationResponse{
			ClaimID:     d.ClaimID,
			ClaimSerial: d.ClaimSerial,
			ClaimStatus: string(d.ClaimStatus),
			Currency:    d.Currency,
			Amount:      d.Amount,
			LocalAmount: d.LocalAmount,
		})
	}
	return out
}

