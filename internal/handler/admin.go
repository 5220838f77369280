package handler

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/referral-ledger/internal/apperr"
	"github.com/mmeshcher/referral-ledger/internal/middleware"
	"github.com/mmeshcher/referral-ledger/internal/money"
	"github.com/mmeshcher/referral-ledger/internal/payout"
	"github.com/mmeshcher/referral-ledger/internal/report"
)

// exportLimit ограничивает выгрузку леджера выплат.
const exportLimit = 10000

var errInvalidAmount = apperr.New(apperr.KindValidation, "invalid_amount", "amount must be a decimal number")

type transferRequest struct {
	OwnerID  string `json:"owner_id" validate:"required"`
	Amount   string `json:"amount" validate:"required,numeric"`
	Currency string `json:"currency" validate:"omitempty,len=3,alpha"`
	Note     string `json:"note" validate:"max=500"`
}

type batchRequest struct {
	OwnerIDs []string `json:"owner_ids" validate:"omitempty,dive,required"`
}

type batchItem struct {
	OwnerID string          `json:"owner_id"`
	Amount  string          `json:"amount"`
	Payout  *payoutResponse `json:"payout,omitempty"`
	Error   *errorResponse  `json:"error,omitempty"`
}

type manualPayoutRequest struct {
	OwnerID  string `json:"owner_id" validate:"required"`
	Amount   string `json:"amount" validate:"required,numeric"`
	Currency string `json:"currency" validate:"omitempty,len=3,alpha"`
	Note     string `json:"note" validate:"max=500"`
}

type webhookLogResponse struct {
	ID             int64     `json:"id"`
	EventID        string    `json:"event_id,omitempty"`
	EventType      string    `json:"event_type"`
	SignatureValid bool      `json:"signature_valid"`
	Outcome        string    `json:"outcome"`
	Error          string    `json:"error,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

type balanceResponse struct {
	OK        bool   `json:"ok"`
	Available string `json:"available"`
	Required  string `json:"required"`
	Currency  string `json:"currency"`
}

// RegenerateCode выдаёт владельцу новый код.
func (h *Handler) RegenerateCode(w http.ResponseWriter, r *http.Request) {
	ownerID := chi.URLParam(r, "ownerID")

	code, err := h.rewards.RegenerateCode(r.Context(), ownerID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.logger.Info("referral code regenerated", zap.String("ownerID", ownerID))
	h.writeJSON(w, http.StatusOK, map[string]string{"owner_id": ownerID, "code": code})
}

// RegenerateAllCodes выдаёт новые коды всем владельцам.
func (h *Handler) RegenerateAllCodes(w http.ResponseWriter, r *http.Request) {
	n, err := h.rewards.RegenerateAllCodes(r.Context())
	if err != nil {
		h.logger.Error("regenerate codes", zap.Int("regenerated", n), zap.Error(err))
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]int{"regenerated": n})
}

// ResetNotices снова показывает уведомление о программе всем участникам.
func (h *Handler) ResetNotices(w http.ResponseWriter, r *http.Request) {
	n, err := h.rewards.ResetNoticeFlags(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]int64{"reset": n})
}

// CreateTransfer переводит указанную сумму владельцу через процессор.
func (h *Handler) CreateTransfer(w http.ResponseWriter, r *http.Request) {
	var req transferRequest
	if !h.decode(w, r, &req) {
		return
	}
	amount, err := money.Parse(req.Amount)
	if err != nil {
		h.writeError(w, r, errInvalidAmount.Wrap(err))
		return
	}

	md := map[string]string{"source": payout.SourceAdminManual}
	if p, ok := h.principalFrom(r); ok {
		md["requested_by"] = p
	}
	if req.Note != "" {
		md["note"] = req.Note
	}

	ev, err := h.payouts.RequestPayout(r.Context(), req.OwnerID, amount, req.Currency, md)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, toPayoutResponse(ev))
}

// CreateBatchTransfer выплачивает невыплаченные остатки нескольким владельцам.
func (h *Handler) CreateBatchTransfer(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if !h.decode(w, r, &req) {
		return
	}

	results, err := h.payouts.PayOutstanding(r.Context(), req.OwnerIDs)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	items := make([]batchItem, 0, len(results))
	paid := 0
	for _, res := range results {
		item := batchItem{OwnerID: res.OwnerID, Amount: moneyString(res.Amount)}
		if res.Event != nil {
			resp := toPayoutResponse(res.Event)
			item.Payout = &resp
		}
		if res.Err != nil {
			item.Error = toErrorResponse(res.Err)
		} else {
			paid++
		}
		items = append(items, item)
	}

	h.logger.Info("batch payout finished", zap.Int("total", len(items)), zap.Int("paid", paid))
	h.writeJSON(w, http.StatusOK, map[string]any{"paid": paid, "results": items})
}

// RecordManualPayout фиксирует выплату, сделанную вне процессора.
func (h *Handler) RecordManualPayout(w http.ResponseWriter, r *http.Request) {
	var req manualPayoutRequest
	if !h.decode(w, r, &req) {
		return
	}
	amount, err := money.Parse(req.Amount)
	if err != nil {
		h.writeError(w, r, errInvalidAmount.Wrap(err))
		return
	}

	id, err := h.payouts.RecordManualPayout(r.Context(), req.OwnerID, amount, req.Currency, req.Note)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, map[string]any{"id": id, "amount": moneyString(amount)})
}

// CancelTransfer отменяет перевод у процессора.
func (h *Handler) CancelTransfer(w http.ResponseWriter, r *http.Request) {
	ref := chi.URLParam(r, "transferRef")
	if err := h.payouts.CancelPayout(r.Context(), ref); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"transfer_ref": ref, "status": "canceled"})
}

// ListPayouts возвращает леджер выплат, при необходимости по одному владельцу.
func (h *Handler) ListPayouts(w http.ResponseWriter, r *http.Request) {
	events, err := h.payouts.ListPayouts(r.Context(), r.URL.Query().Get("owner_id"), listLimit(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, toPayoutResponses(events))
}

// ExportPayouts выгружает леджер выплат в XLSX.
func (h *Handler) ExportPayouts(w http.ResponseWriter, r *http.Request) {
	events, err := h.payouts.ListPayouts(r.Context(), r.URL.Query().Get("owner_id"), exportLimit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	var buf bytes.Buffer
	if err := report.WritePayouts(&buf, events); err != nil {
		h.logger.Error("export payouts", zap.Error(err))
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	name := fmt.Sprintf("payouts-%s.xlsx", time.Now().UTC().Format("20060102"))
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(buf.Bytes()); err != nil {
		h.logger.Error("write export", zap.Error(err))
	}
}

// ListWebhooks возвращает последние записи журнала входящих событий.
func (h *Handler) ListWebhooks(w http.ResponseWriter, r *http.Request) {
	entries, err := h.webhooks.Recent(r.Context(), listLimit(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	res := make([]webhookLogResponse, 0, len(entries))
	for _, e := range entries {
		res = append(res, webhookLogResponse{
			ID:             e.ID,
			EventID:        e.EventID,
			EventType:      e.EventType,
			SignatureValid: e.SignatureValid,
			Outcome:        string(e.Outcome),
			Error:          e.Error,
			CreatedAt:      e.CreatedAt,
		})
	}
	h.writeJSON(w, http.StatusOK, res)
}

// GetBalance сравнивает доступный баланс платформы с суммой из параметра required.
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	required := decimal.Zero
	if s := q.Get("required"); s != "" {
		v, err := money.Parse(s)
		if err != nil {
			h.writeError(w, r, errInvalidAmount.Wrap(err))
			return
		}
		required = v
	}
	currency := money.Currency(q.Get("currency"))
	if currency == "" {
		currency = h.payouts.Currency()
	}

	status := h.payouts.CheckBalanceSufficiency(r.Context(), required, currency)
	if status.Err != nil {
		h.writeError(w, r, payout.ErrProcessor.Wrap(status.Err))
		return
	}

	h.writeJSON(w, http.StatusOK, balanceResponse{
		OK:        status.OK,
		Available: moneyString(status.Available),
		Required:  moneyString(status.Required),
		Currency:  currency,
	})
}

// principalFrom возвращает идентификатор участника, если он есть в контексте.
func (h *Handler) principalFrom(r *http.Request) (string, bool) {
	p, ok := middleware.PrincipalFromContext(r.Context())
	if !ok {
		return "", false
	}
	return p.ID, true
}

func toErrorResponse(err error) *errorResponse {
	var ae *apperr.Error
	if errors.As(err, &ae) && ae.Kind != apperr.KindStore {
		return &errorResponse{Error: ae.Code, Message: ae.Message}
	}
	return &errorResponse{Error: "internal_error", Message: "internal error"}
}
