package settlement

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/meridian-oa/meridian-oa/internal/activity"
	"github.com/meridian-oa/meridian-oa/internal/ledger"
	"github.com/meridian-oa/meridian-oa/internal/platform/httpx"
)

// Handler exposes the coordinator as a JSON API. The calling gateway
// authenticates the user and forwards the identity in X-User-ID; the
// coordinator still validates that identity against every operation.
type Handler struct {
	logger   *slog.Logger
	coord    *Coordinator
	activity *activity.Repository
	validate *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, coord *Coordinator, activityRepo *activity.Repository) *Handler {
	return &Handler{
		logger:   logger,
		coord:    coord,
		activity: activityRepo,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// MountRoutes registers document routes.
func (h *Handler) MountRoutes(r chi.Router) {
	for _, family := range []struct {
		prefix  string
		docType activity.DocType
	}{
		{"/claims", activity.DocExpenseClaim},
		{"/advancements", activity.DocCashAdvancement},
	} {
		docType := family.docType
		r.Route(family.prefix, func(r chi.Router) {
			r.Post("/", h.submit(docType))
			r.Post("/{id}/resubmit", h.submit(docType))
			r.Post("/{id}/cancel", h.action(docType, h.cancel))
			r.Post("/{id}/reject", h.action(docType, h.reject))
			r.Post("/{id}/approve", h.action(docType, h.approve))
			r.Post("/{id}/settle", h.settle(docType))
			r.Post("/{id}/revert", h.action(docType, h.revert))
			r.Get("/{id}/activities", h.listActivities(docType))
		})
	}
}

type lineItemRequest struct {
	ID           int64            `json:"id"`
	IncurredOn   string           `json:"incurred_on" validate:"required,datetime=2006-01-02"`
	Category     string           `json:"category" validate:"required"`
	Currency     string           `json:"currency" validate:"required,len=3"`
	Amount       decimal.Decimal  `json:"amount" validate:"required"`
	ExchangeRate *decimal.Decimal `json:"exchange_rate,omitempty"`
	FileID       *uuid.UUID       `json:"file_id,omitempty"`
}

type deductionRequest struct {
	AdvancementID int64           `json:"advancement_id" validate:"required"`
	Currency      string          `json:"currency" validate:"required,len=3"`
	Amount        decimal.Decimal `json:"amount" validate:"required"`
	BalanceLeft   decimal.Decimal `json:"balance_left"`
}

type submitRequest struct {
	OfficeID   int64           `json:"office_id" validate:"required"`
	ApproverID int64           `json:"approver_id" validate:"required"`
	PayeeID    int64           `json:"payee_id" validate:"required"`
	Currency   string          `json:"currency" validate:"required,len=3"`
	ClaimAmt   decimal.Decimal `json:"claim_amt" validate:"required"`

	UsesPriorBalance bool               `json:"uses_prior_balance"`
	IsPettyCash      bool               `json:"is_petty_cash"`
	IsFxDraw         bool               `json:"is_fx_draw"`
	FxCurrency       string             `json:"fx_currency" validate:"omitempty,len=3"`
	FxAmt            decimal.Decimal    `json:"fx_amt"`
	PurchaseOrderID  *int64             `json:"purchase_order_id,omitempty"`
	LineItems        []lineItemRequest  `json:"line_items" validate:"dive"`
	Deductions       []deductionRequest `json:"deductions" validate:"dive"`

	FromDraft bool   `json:"from_draft"`
	Remark    string `json:"remark"`
}

type actionRequest struct {
	Remark string `json:"remark"`
}

type settleRequest struct {
	RecordFileName string `json:"record_file_name"`
	Remark         string `json:"remark"`
}

type documentResponse struct {
	ID               int64            `json:"id"`
	Type             activity.DocType `json:"type"`
	Serial           string           `json:"serial"`
	Status           string           `json:"status"`
	OfficeID         int64            `json:"office_id"`
	ClaimantID       int64            `json:"claimant_id"`
	ApproverID       int64            `json:"approver_id"`
	PayeeID          int64            `json:"payee_id"`
	Currency         string           `json:"currency"`
	ClaimAmt         decimal.Decimal  `json:"claim_amt"`
	PayAmt           decimal.Decimal  `json:"pay_amt"`
	UsesPriorBalance bool             `json:"uses_prior_balance,omitempty"`
	IsPettyCash      bool             `json:"is_petty_cash,omitempty"`
	FxCurrency       *string          `json:"fx_currency,omitempty"`
	FxAmt            *decimal.Decimal `json:"fx_amt,omitempty"`
	PaymentFileID    *uuid.UUID       `json:"payment_file_id,omitempty"`
}

func toDocumentResponse(doc Document) documentResponse {
	return documentResponse{
		ID:               doc.ID,
		Type:             doc.Type,
		Serial:           doc.Serial,
		Status:           string(doc.Status),
		OfficeID:         doc.OfficeID,
		ClaimantID:       doc.ClaimantID,
		ApproverID:       doc.ApproverID,
		PayeeID:          doc.PayeeID,
		Currency:         doc.Currency,
		ClaimAmt:         doc.ClaimAmt,
		PayAmt:           doc.PayAmt,
		UsesPriorBalance: doc.UsesPriorBalance,
		IsPettyCash:      doc.IsPettyCash,
		FxCurrency:       doc.FxCurrency,
		FxAmt:            doc.FxAmt,
		PaymentFileID:    doc.PaymentFileID,
	}
}

func (h *Handler) submit(docType activity.DocType) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actorID, ok := h.actor(w, r)
		if !ok {
			return
		}
		var docID int64
		if idStr := chi.URLParam(r, "id"); idStr != "" {
			var err error
			docID, err = strconv.ParseInt(idStr, 10, 64)
			if err != nil {
				httpx.Error(w, http.StatusBadRequest, "invalid document id")
				return
			}
		}

		var req submitRequest
		if !h.decode(w, r, &req) {
			return
		}

		in := SubmitInput{
			DocType:          docType,
			DocID:            docID,
			OfficeID:         req.OfficeID,
			ClaimantID:       actorID,
			ApproverID:       req.ApproverID,
			PayeeID:          req.PayeeID,
			Currency:         req.Currency,
			ClaimAmt:         req.ClaimAmt,
			UsesPriorBalance: req.UsesPriorBalance,
			IsPettyCash:      req.IsPettyCash,
			IsFxDraw:         req.IsFxDraw,
			FxCurrency:       req.FxCurrency,
			FxAmt:            req.FxAmt,
			PurchaseOrderID:  req.PurchaseOrderID,
			FromDraft:        req.FromDraft,
			Remark:           req.Remark,
		}
		for _, item := range req.LineItems {
			incurred, err := time.Parse("2006-01-02", item.IncurredOn)
			if err != nil {
				httpx.Error(w, http.StatusBadRequest, "invalid incurred_on date")
				return
			}
			in.LineItems = append(in.LineItems, ExpenseLineItem{
				ID:           item.ID,
				IncurredOn:   incurred,
				Category:     item.Category,
				Currency:     item.Currency,
				Amount:       item.Amount,
				ExchangeRate: item.ExchangeRate,
				FileID:       item.FileID,
			})
		}
		for _, d := range req.Deductions {
			in.Deductions = append(in.Deductions, ledger.Deduction{
				AdvancementID: d.AdvancementID,
				Currency:      d.Currency,
				Amount:        d.Amount,
				BalanceLeft:   d.BalanceLeft,
			})
		}

		doc, err := h.coord.Submit(r.Context(), in)
		if err != nil {
			h.writeError(w, err)
			return
		}
		status := http.StatusOK
		if docID == 0 {
			status = http.StatusCreated
		}
		httpx.JSON(w, status, toDocumentResponse(doc))
	}
}

type docAction func(r *http.Request, docType activity.DocType, docID, actorID int64, remark string) (Document, error)

func (h *Handler) action(docType activity.DocType, fn docAction) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actorID, ok := h.actor(w, r)
		if !ok {
			return
		}
		docID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
		if err != nil {
			httpx.Error(w, http.StatusBadRequest, "invalid document id")
			return
		}
		var req actionRequest
		if r.ContentLength > 0 && !h.decode(w, r, &req) {
			return
		}
		doc, err := fn(r, docType, docID, actorID, req.Remark)
		if err != nil {
			h.writeError(w, err)
			return
		}
		httpx.JSON(w, http.StatusOK, toDocumentResponse(doc))
	}
}

func (h *Handler) cancel(r *http.Request, docType activity.DocType, docID, actorID int64, remark string) (Document, error) {
	return h.coord.Cancel(r.Context(), docType, docID, actorID, remark)
}

func (h *Handler) reject(r *http.Request, docType activity.DocType, docID, actorID int64, remark string) (Document, error) {
	return h.coord.Reject(r.Context(), docType, docID, actorID, remark)
}

func (h *Handler) approve(r *http.Request, docType activity.DocType, docID, actorID int64, remark string) (Document, error) {
	return h.coord.Approve(r.Context(), docType, docID, actorID, remark)
}

func (h *Handler) revert(r *http.Request, docType activity.DocType, docID, actorID int64, remark string) (Document, error) {
	return h.coord.RevertSettledPayment(r.Context(), docType, docID, actorID, remark)
}

func (h *Handler) settle(docType activity.DocType) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actorID, ok := h.actor(w, r)
		if !ok {
			return
		}
		docID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
		if err != nil {
			httpx.Error(w, http.StatusBadRequest, "invalid document id")
			return
		}
		var req settleRequest
		if r.ContentLength > 0 && !h.decode(w, r, &req) {
			return
		}
		doc, err := h.coord.Settle(r.Context(), SettleInput{
			DocType:        docType,
			DocID:          docID,
			ActorID:        actorID,
			RecordFileName: req.RecordFileName,
			Remark:         req.Remark,
		})
		if err != nil {
			h.writeError(w, err)
			return
		}
		httpx.JSON(w, http.StatusOK, toDocumentResponse(doc))
	}
}

type activityResponse struct {
	ID         int64  `json:"id"`
	OperatorID int64  `json:"operator_id"`
	OccurredAt string `json:"occurred_at"`
	Status     string `json:"status"`
	Remark     string `json:"remark,omitempty"`
}

func (h *Handler) listActivities(docType activity.DocType) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		docID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
		if err != nil {
			httpx.Error(w, http.StatusBadRequest, "invalid document id")
			return
		}
		acts, err := h.activity.ListForDocument(r.Context(), docType, docID)
		if err != nil {
			h.writeError(w, err)
			return
		}
		out := make([]activityResponse, 0, len(acts))
		for _, a := range acts {
			out = append(out, activityResponse{
				ID:         a.ID,
				OperatorID: a.OperatorID,
				OccurredAt: a.OccurredAt.Format(time.RFC3339),
				Status:     string(a.Status),
				Remark:     a.Remark,
			})
		}
		httpx.JSON(w, http.StatusOK, out)
	}
}

func (h *Handler) actor(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.Header.Get("X-User-ID"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Error(w, http.StatusUnauthorized, "missing user identity")
		return 0, false
	}
	return id, true
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := httpx.DecodeJSON(r, dst); err != nil {
		httpx.Error(w, http.StatusBadRequest, "malformed request body")
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		httpx.Error(w, http.StatusBadRequest, err.Error())
		return false
	}
	return true
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	switch {
	case IsConflict(err):
		httpx.Retryable(w, http.StatusConflict, err.Error())
	case IsValidation(err):
		httpx.Error(w, http.StatusBadRequest, err.Error())
	default:
		h.logger.Error("settlement handler", slog.Any("error", err))
		httpx.Error(w, http.StatusInternalServerError, "system error")
	}
}
