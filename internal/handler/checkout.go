package handler

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/referral-ledger/internal/model"
)

// checkoutCustomer описывает покупателя. Гостевой заказ приходит без id, иногда и без email.
type checkoutCustomer struct {
	ID    string `json:"id" validate:"omitempty,max=128"`
	Email string `json:"email" validate:"omitempty,email,max=254"`
}

func (c checkoutCustomer) identity() model.Identity {
	return model.Identity{ID: c.ID, Email: c.Email}
}

type checkoutRequest struct {
	Code     string           `json:"code" validate:"required,max=64"`
	Customer checkoutCustomer `json:"customer"`
}

type redemptionRequest struct {
	Code     string           `json:"code" validate:"required,max=64"`
	Customer checkoutCustomer `json:"customer"`
	OrderRef string           `json:"order_ref" validate:"required,max=128"`
}

type validateResponse struct {
	Valid      bool   `json:"valid"`
	Code       string `json:"code"`
	ReferralID int64  `json:"referral_id"`
	Discount   string `json:"discount"`
	Reward     string `json:"reward"`
}

type redemptionResponse struct {
	ID         int64     `json:"id"`
	ReferralID int64     `json:"referral_id"`
	OrderRef   string    `json:"order_ref,omitempty"`
	Discount   string    `json:"discount"`
	Reward     string    `json:"reward"`
	CreatedAt  time.Time `json:"created_at"`
}

// ValidateCode проверяет код на этапе оформления заказа и возвращает скидку покупателю.
func (h *Handler) ValidateCode(w http.ResponseWriter, r *http.Request) {
	var req checkoutRequest
	if !h.decode(w, r, &req) {
		return
	}

	acc, err := h.rewards.ValidateCode(r.Context(), req.Code, req.Customer.identity())
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, validateResponse{
		Valid:      true,
		Code:       acc.Code,
		ReferralID: acc.ID,
		Discount:   moneyString(h.rewards.ComputeDiscount()),
		Reward:     moneyString(h.rewards.ComputeReward()),
	})
}

// CreateRedemption фиксирует использование кода в оплаченном заказе и начисляет вознаграждение.
func (h *Handler) CreateRedemption(w http.ResponseWriter, r *http.Request) {
	var req redemptionRequest
	if !h.decode(w, r, &req) {
		return
	}

	ev, err := h.rewards.Redeem(r.Context(), req.Code, req.Customer.identity(), req.OrderRef)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.logger.Info("redemption recorded",
		zap.Int64("referralID", ev.ReferralID),
		zap.String("orderRef", req.OrderRef),
	)
	h.writeJSON(w, http.StatusCreated, toRedemptionResponse(ev))
}

func toRedemptionResponse(ev *model.RedemptionEvent) redemptionResponse {
	resp := redemptionResponse{
		ID:         ev.ID,
		ReferralID: ev.ReferralID,
		Discount:   moneyString(ev.DiscountAmount),
		Reward:     moneyString(ev.RewardAmount),
		CreatedAt:  ev.CreatedAt,
	}
	if ev.OrderRef != nil {
		resp.OrderRef = *ev.OrderRef
	}
	return resp
}
