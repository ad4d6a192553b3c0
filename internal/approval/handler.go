package approval

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/meridian-oa/meridian-oa/internal/platform/httpx"
)

// Handler exposes approver resolution so a client can offer the claimant a
// valid approver list before submission.
type Handler struct {
	logger *slog.Logger
	router *Router
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, router *Router) *Handler {
	return &Handler{logger: logger, router: router}
}

// MountRoutes registers approval routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/first-approvers", h.listFirstApprovers)
	r.Get("/assistants", h.listAssistants)
	r.Get("/second-approvers", h.listSecondApprovers)
}

type approverResponse struct {
	ID          int64  `json:"id"`
	DisplayName string `json:"display_name"`
}

type secondApproverResponse struct {
	approverResponse
	MinAmount *decimal.Decimal `json:"min_amount,omitempty"`
}

func (h *Handler) listFirstApprovers(w http.ResponseWriter, r *http.Request) {
	officeID, claimerID, ok := h.scopeParams(w, r, "claimer_id")
	if !ok {
		return
	}
	approvers, err := h.router.FirstApprovers(r.Context(), officeID, claimerID)
	if err != nil {
		h.fail(w, "resolve first approvers", err)
		return
	}
	h.writeApprovers(w, approvers)
}

func (h *Handler) listAssistants(w http.ResponseWriter, r *http.Request) {
	officeID, approverID, ok := h.scopeParams(w, r, "approver_id")
	if !ok {
		return
	}
	assistants, err := h.router.Assistants(r.Context(), officeID, approverID)
	if err != nil {
		h.fail(w, "resolve assistants", err)
		return
	}
	h.writeApprovers(w, assistants)
}

func (h *Handler) listSecondApprovers(w http.ResponseWriter, r *http.Request) {
	officeID, approverID, ok := h.scopeParams(w, r, "approver_id")
	if !ok {
		return
	}
	seconds, err := h.router.SecondApprovers(r.Context(), officeID, approverID)
	if err != nil {
		h.fail(w, "resolve second approvers", err)
		return
	}
	out := make([]secondApproverResponse, 0, len(seconds))
	for _, sa := range seconds {
		out = append(out, secondApproverResponse{
			approverResponse: approverResponse{ID: sa.ID, DisplayName: sa.DisplayName},
			MinAmount:        sa.MinAmount,
		})
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) scopeParams(w http.ResponseWriter, r *http.Request, subjectParam string) (int64, int64, bool) {
	officeID, err := strconv.ParseInt(r.URL.Query().Get("office_id"), 10, 64)
	if err != nil || officeID <= 0 {
		httpx.Error(w, http.StatusBadRequest, "office_id is required")
		return 0, 0, false
	}
	subjectID, err := strconv.ParseInt(r.URL.Query().Get(subjectParam), 10, 64)
	if err != nil || subjectID <= 0 {
		httpx.Error(w, http.StatusBadRequest, subjectParam+" is required")
		return 0, 0, false
	}
	return officeID, subjectID, true
}

func (h *Handler) writeApprovers(w http.ResponseWriter, approvers []Approver) {
	out := make([]approverResponse, 0, len(approvers))
	for _, a := range approvers {
		out = append(out, approverResponse{ID: a.ID, DisplayName: a.DisplayName})
	}
	httpx.JSON(w, http.StatusOK, out)
}


func (h *Handler) fail(w http.ResponseWriter, msg string, err error) {
	h.logger.Error(msg, slog.Any("error", err))
	httpx.Error(w, http.StatusInternalServerError, "system error")
}
