// Package handler содержит HTTP-обработчики API реферального леджера.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/referral-ledger/internal/apperr"
	"github.com/mmeshcher/referral-ledger/internal/middleware"
	"github.com/mmeshcher/referral-ledger/internal/model"
	"github.com/mmeshcher/referral-ledger/internal/payout"
	"github.com/mmeshcher/referral-ledger/internal/processor"
	"github.com/mmeshcher/referral-ledger/internal/webhook"
)

// maxBodySize ограничивает размер тела запроса.
const maxBodySize = 1 << 20

// Rewards описывает правила реферальной программы.
type Rewards interface {
	ValidateCode(ctx context.Context, code string, requester model.Identity) (*model.ReferralAccount, error)
	ComputeDiscount() decimal.Decimal
	ComputeReward() decimal.Decimal
	Redeem(ctx context.Context, code string, requester model.Identity, orderRef string) (*model.RedemptionEvent, error)
	Summary(ctx context.Context, owner model.Identity) (*model.ReferralAccount, error)
	DismissNotice(ctx context.Context, ownerID string) error
	RegenerateCode(ctx context.Context, ownerID string) (string, error)
	RegenerateAllCodes(ctx context.Context) (int, error)
	ResetNoticeFlags(ctx context.Context) (int64, error)
}

// Payouts описывает операции с выплатами.
type Payouts interface {
	RequestPayout(ctx context.Context, ownerID string, amount decimal.Decimal, currency string, metadata map[string]string) (*model.PayoutEvent, error)
	Withdraw(ctx context.Context, ownerID string, amount decimal.Decimal) (*model.PayoutEvent, error)
	PayOutstanding(ctx context.Context, ownerIDs []string) ([]payout.BatchResult, error)
	RecordManualPayout(ctx context.Context, ownerID string, amount decimal.Decimal, currency, note string) (int64, error)
	CancelPayout(ctx context.Context, transferRef string) error
	CheckBalanceSufficiency(ctx context.Context, required decimal.Decimal, currency string) model.BalanceStatus
	StartOnboarding(ctx context.Context, owner model.Identity, returnURL, refreshURL string) (*processor.Link, error)
	DashboardLink(ctx context.Context, ownerID string) (*processor.Link, error)
	ListPayouts(ctx context.Context, ownerID string, limit int) ([]model.PayoutEvent, error)
	Currency() string
}

// Webhooks принимает события процессора.
type Webhooks interface {
	Handle(ctx context.Context, payload []byte, signatureHeader string) (*webhook.Result, error)
	Recent(ctx context.Context, limit int) ([]model.WebhookLogEntry, error)
}

// Options содержит настройки HTTP-слоя.
type Options struct {
	ServiceToken   string
	ShareBaseURL   string
	AllowedOrigins []string
}

// Handler реализует HTTP-обработчики API реферального леджера.
type Handler struct {
	rewards        Rewards
	payouts        Payouts
	webhooks       Webhooks
	logger         *zap.Logger
	authMiddleware *middleware.AuthMiddleware
	validate       *validator.Validate
	opts           Options
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(rewards Rewards, payouts Payouts, webhooks Webhooks, logger *zap.Logger, auth *middleware.AuthMiddleware, opts Options) *Handler {
	return &Handler{
		rewards:        rewards,
		payouts:        payouts,
		webhooks:       webhooks,
		logger:         logger,
		authMiddleware: auth,
		validate:       validator.New(validator.WithRequiredStructEnabled()),
		opts:           opts,
	}
}

type errorResponse struct {
	Error   string            `json:"error"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("encode response", zap.Error(err))
	}
}

// statusFor сопоставляет класс ошибки HTTP-статусу.
func statusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindAuthorization:
		return http.StatusForbidden
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindProcessor:
		return http.StatusBadGateway
	case apperr.KindInsufficientBalance:
		return http.StatusConflict
	case apperr.KindUnavailable:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// writeError отдаёт типизированную ошибку клиенту. Ошибки хранилища и прочие
// непредвиденные ошибки скрываются за общим сообщением.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var ae *apperr.Error
	if !errors.As(err, &ae) {
		ae = apperr.Store(err)
	}

	status := statusFor(ae.Kind)
	message := ae.Message
	if status >= http.StatusInternalServerError && status != http.StatusServiceUnavailable {
		h.logger.Error("request failed", zap.String("uri", r.RequestURI), zap.Error(err))
		if ae.Kind == apperr.KindStore {
			message = "internal error"
		}
	}
	if status == http.StatusBadGateway {
		h.logger.Warn("processor error", zap.String("uri", r.RequestURI), zap.Error(err))
	}

	h.writeJSON(w, status, errorResponse{Error: ae.Code, Message: message})
}

// decode читает JSON-тело и проверяет его тегами validate.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err := dec.Decode(dst); err != nil {
		h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "bad_request", Message: "request body is not valid JSON"})
		return false
	}

	if err := h.validate.Struct(dst); err != nil {
		resp := errorResponse{Error: "validation_failed", Message: "request validation failed"}
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			resp.Fields = make(map[string]string, len(verrs))
			for _, fe := range verrs {
				resp.Fields[strings.ToLower(fe.Field())] = fe.Tag()
			}
		}
		h.writeJSON(w, http.StatusBadRequest, resp)
		return false
	}
	return true
}

// principal возвращает участника из контекста. Маршруты с ним всегда закрыты AuthMiddleware.
func (h *Handler) principal(w http.ResponseWriter, r *http.Request) (middleware.Principal, bool) {
	p, ok := middleware.PrincipalFromContext(r.Context())
	if !ok {
		h.writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "unauthorized", Message: "authentication required"})
		return middleware.Principal{}, false
	}
	return p, true
}

// moneyString форматирует сумму с двумя знаками после точки.
func moneyString(d decimal.Decimal) string {
	return d.StringFixed(2)
}
