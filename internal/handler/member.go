package handler

import (
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/referral-ledger/internal/model"
	"github.com/mmeshcher/referral-ledger/internal/money"
	"github.com/mmeshcher/referral-ledger/internal/share"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

type referralResponse struct {
	Code            string            `json:"code"`
	ShareURL        string            `json:"share_url,omitempty"`
	Active          bool              `json:"active"`
	Earned          string            `json:"earned"`
	Paid            string            `json:"paid"`
	Outstanding     string            `json:"outstanding"`
	Currency        string            `json:"currency"`
	NoticeDismissed bool              `json:"notice_dismissed"`
	Connected       bool              `json:"connected"`
	Capabilities    map[string]string `json:"capabilities,omitempty"`
}

type payoutResponse struct {
	ID             int64             `json:"id"`
	OwnerID        string            `json:"owner_id,omitempty"`
	Amount         string            `json:"amount"`
	Currency       string            `json:"currency"`
	Status         string            `json:"status"`
	TransferRef    string            `json:"transfer_ref,omitempty"`
	PayoutRef      string            `json:"payout_ref,omitempty"`
	FailureCode    string            `json:"failure_code,omitempty"`
	FailureMessage string            `json:"failure_message,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

type withdrawRequest struct {
	Amount string `json:"amount" validate:"required,numeric"`
}

type onboardingRequest struct {
	ReturnURL  string `json:"return_url" validate:"required,url"`
	RefreshURL string `json:"refresh_url" validate:"required,url"`
}

type linkResponse struct {
	URL       string `json:"url"`
	ExpiresAt int64  `json:"expires_at,omitempty"`
}

// GetReferral возвращает код участника и его баланс, создавая код при первом обращении.
func (h *Handler) GetReferral(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}

	acc, err := h.rewards.Summary(r.Context(), p.Identity())
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	resp := referralResponse{
		Code:            acc.Code,
		Active:          acc.IsActive,
		Earned:          moneyString(acc.EarnedCredits),
		Paid:            moneyString(acc.TotalPaid),
		Outstanding:     moneyString(acc.Outstanding()),
		Currency:        h.payouts.Currency(),
		NoticeDismissed: acc.NoticeDismissed,
		Connected:       acc.ProcessorAccountID != nil,
		Capabilities:    acc.ProcessorCapabilities,
	}
	if link, err := share.Link(h.opts.ShareBaseURL, acc.Code); err == nil {
		resp.ShareURL = link
	}

	h.writeJSON(w, http.StatusOK, resp)
}

// GetReferralQR отдаёт PNG с QR-кодом ссылки участника.
func (h *Handler) GetReferralQR(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}

	acc, err := h.rewards.Summary(r.Context(), p.Identity())
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	link, err := share.Link(h.opts.ShareBaseURL, acc.Code)
	if err != nil {
		h.logger.Error("build share link", zap.Error(err))
		http.Error(w, "share link is not available", http.StatusServiceUnavailable)
		return
	}

	png, err := share.QRCode(link)
	if err != nil {
		h.logger.Error("render qr code", zap.Error(err))
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "private, max-age=300")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(png); err != nil {
		h.logger.Error("write qr code", zap.Error(err))
	}
}

// DismissNotice скрывает уведомление о программе для участника.
func (h *Handler) DismissNotice(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}

	if err := h.rewards.DismissNotice(r.Context(), p.ID); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Withdraw выводит часть невыплаченного вознаграждения на подключённый аккаунт участника.
func (h *Handler) Withdraw(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}

	var req withdrawRequest
	if !h.decode(w, r, &req) {
		return
	}
	amount, err := money.Parse(req.Amount)
	if err != nil {
		h.writeError(w, r, errInvalidAmount.Wrap(err))
		return
	}

	ev, err := h.payouts.Withdraw(r.Context(), p.ID, amount)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, toPayoutResponse(ev))
}

// ListMemberPayouts возвращает историю выплат участника.
func (h *Handler) ListMemberPayouts(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}

	events, err := h.payouts.ListPayouts(r.Context(), p.ID, listLimit(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, toPayoutResponses(events))
}

// StartOnboarding создаёт подключённый аккаунт при необходимости и возвращает ссылку на анкету.
func (h *Handler) StartOnboarding(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}

	var req onboardingRequest
	if !h.decode(w, r, &req) {
		return
	}

	link, err := h.payouts.StartOnboarding(r.Context(), p.Identity(), req.ReturnURL, req.RefreshURL)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, linkResponse{URL: link.URL, ExpiresAt: link.ExpiresAt})
}

// DashboardLink возвращает одноразовую ссылку на кабинет подключённого аккаунта.
func (h *Handler) DashboardLink(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}

	link, err := h.payouts.DashboardLink(r.Context(), p.ID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, linkResponse{URL: link.URL, ExpiresAt: link.ExpiresAt})
}

func listLimit(r *http.Request) int {
	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || limit <= 0 {
		return defaultListLimit
	}
	return min(limit, maxListLimit)
}

func toPayoutResponse(ev *model.PayoutEvent) payoutResponse {
	resp := payoutResponse{
		ID:        ev.ID,
		OwnerID:   ev.OwnerID,
		Amount:    moneyString(ev.Amount),
		Currency:  ev.Currency,
		Status:    string(ev.Status),
		Metadata:  ev.Metadata,
		CreatedAt: ev.CreatedAt,
		UpdatedAt: ev.UpdatedAt,
	}
	if ev.TransferRef != nil {
		resp.TransferRef = *ev.TransferRef
	}
	if ev.PayoutRef != nil {
		resp.PayoutRef = *ev.PayoutRef
	}
	if ev.FailureCode != nil {
		resp.FailureCode = *ev.FailureCode
	}
	if ev.FailureMessage != nil {
		resp.FailureMessage = *ev.FailureMessage
	}
	return resp
}

func toPayoutResponses(events []model.PayoutEvent) []payoutResponse {
	res := make([]payoutResponse, 0, len(events))
	for i := range events {
		res = append(res, toPayoutResponse(&events[i]))
	}
	return res
}
