// Package reward реализует правила реферальной программы: проверку кодов, расчёт скидки
// и вознаграждения, запись использований кода.
package reward

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/referral-ledger/internal/apperr"
	"github.com/mmeshcher/referral-ledger/internal/membership"
	"github.com/mmeshcher/referral-ledger/internal/model"
	"github.com/mmeshcher/referral-ledger/internal/money"
	"github.com/mmeshcher/referral-ledger/internal/repository"
	"github.com/mmeshcher/referral-ledger/internal/validation"
)

// Ошибки проверки кода и начисления.
var (
	ErrCodeNotFound          = apperr.New(apperr.KindValidation, "code_not_found", "referral code not found")
	ErrCodeInactive          = apperr.New(apperr.KindValidation, "code_inactive", "referral code is no longer active")
	ErrSelfReferral          = apperr.New(apperr.KindValidation, "self_referral", "you cannot use your own referral code")
	ErrOwnerNotEligible      = apperr.New(apperr.KindValidation, "owner_not_eligible", "referral code owner is not eligible")
	ErrInvalidAmount         = apperr.New(apperr.KindValidation, "invalid_amount", "amounts must not be negative")
	ErrAccountNotFound       = apperr.New(apperr.KindNotFound, "account_not_found", "referral account not found")
	ErrMembershipUnavailable = apperr.New(apperr.KindUnavailable, "membership_unavailable", "membership service unavailable")
)

// maxCreateAttempts ограничивает подбор свободного кода при создании аккаунта.
const maxCreateAttempts = 8

// Store описывает операции леджера, используемые движком.
type Store interface {
	GetAccountByCode(ctx context.Context, code string) (*model.ReferralAccount, error)
	GetAccountByOwner(ctx context.Context, ownerID string) (*model.ReferralAccount, error)
	ListAccounts(ctx context.Context) ([]model.ReferralAccount, error)
	CreateAccount(ctx context.Context, owner model.Identity, code string) (*model.ReferralAccount, error)
	RegenerateCode(ctx context.Context, ownerID string, generate func() string) (string, error)
	RedeemAndCredit(ctx context.Context, ev *model.RedemptionEvent) (int64, error)
	SetNoticeDismissed(ctx context.Context, ownerID string, dismissed bool) error
	ResetNoticeFlags(ctx context.Context) (int64, error)
}

// Policy задаёт параметры вознаграждения. Хуки позволяют переопределить базовые суммы.
type Policy struct {
	Discount     decimal.Decimal
	Reward       decimal.Decimal
	CodePrefix   string
	DiscountHook func(base decimal.Decimal) decimal.Decimal
	RewardHook   func(base decimal.Decimal) decimal.Decimal
}

// Engine содержит бизнес-правила реферальной программы.
type Engine struct {
	store     Store
	authority membership.Authority
	policy    Policy
	logger    *zap.Logger
	newCode   func() string
}

// NewEngine создаёт движок вознаграждений.
func NewEngine(store Store, authority membership.Authority, policy Policy, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	prefix := policy.CodePrefix
	return &Engine{
		store:     store,
		authority: authority,
		policy:    policy,
		logger:    logger,
		newCode:   func() string { return validation.GenerateCode(prefix) },
	}
}

// ValidateCode проверяет код, введённый при оформлении заказа участником requester.
// Побочных эффектов нет.
func (e *Engine) ValidateCode(ctx context.Context, code string, requester model.Identity) (*model.ReferralAccount, error) {
	code = validation.NormalizeCode(code)
	if !validation.IsValidCode(code) {
		return nil, ErrCodeNotFound
	}

	acc, err := e.store.GetAccountByCode(ctx, code)
	if err != nil {
		if errors.Is(err, repository.ErrAccountNotFound) {
			return nil, ErrCodeNotFound
		}
		return nil, apperr.Store(err)
	}

	if !acc.IsActive {
		return nil, ErrCodeInactive
	}

	if acc.Owner().SameAs(requester) {
		return nil, ErrSelfReferral
	}

	subscribed, err := e.authority.HasActiveSubscription(ctx, acc.Owner())
	if err != nil {
		return nil, ErrMembershipUnavailable.Wrap(err)
	}
	if !subscribed {
		return nil, ErrOwnerNotEligible
	}

	return acc, nil
}

// ComputeDiscount возвращает скидку для покупателя по коду.
func (e *Engine) ComputeDiscount() decimal.Decimal {
	return applyHook(e.policy.Discount, e.policy.DiscountHook)
}

// ComputeReward возвращает вознаграждение владельцу кода.
func (e *Engine) ComputeReward() decimal.Decimal {
	return applyHook(e.policy.Reward, e.policy.RewardHook)
}

func applyHook(base decimal.Decimal, hook func(decimal.Decimal) decimal.Decimal) decimal.Decimal {
	v := base
	if hook != nil {
		v = hook(base)
	}
	v = money.Round(v)
	if v.IsNegative() {
		return decimal.Zero
	}
	return v
}

// RecordRedemption записывает использование кода и начисляет вознаграждение владельцу.
// Повторный вызов для того же заказа начислит повторно: вызывающая сторона
// обязана вызывать метод не более одного раза на заказ.
func (e *Engine) RecordRedemption(ctx context.Context, referralID int64, orderRef, redeemerID *string, discount, reward decimal.Decimal) (*model.RedemptionEvent, error) {
	if discount.IsNegative() || reward.IsNegative() {
		return nil, ErrInvalidAmount
	}

	ev := &model.RedemptionEvent{
		ReferralID:     referralID,
		OrderRef:       orderRef,
		RedeemerID:     redeemerID,
		DiscountAmount: money.Round(discount),
		RewardAmount:   money.Round(reward),
	}

	if _, err := e.store.RedeemAndCredit(ctx, ev); err != nil {
		if errors.Is(err, repository.ErrAccountNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, apperr.Store(err)
	}

	e.logger.Info("redemption recorded",
		zap.Int64("referralID", referralID),
		zap.Int64("redemptionID", ev.ID),
		zap.String("reward", ev.RewardAmount.StringFixed(2)),
	)
	return ev, nil
}

// Redeem проверяет код, рассчитывает суммы и записывает использование.
func (e *Engine) Redeem(ctx context.Context, code string, requester model.Identity, orderRef string) (*model.RedemptionEvent, error) {
	acc, err := e.ValidateCode(ctx, code, requester)
	if err != nil {
		return nil, err
	}

	var order, redeemer *string
	if orderRef != "" {
		order = &orderRef
	}
	if requester.ID != "" {
		id := requester.ID
		redeemer = &id
	}

	return e.RecordRedemption(ctx, acc.ID, order, redeemer, e.ComputeDiscount(), e.ComputeReward())
}

// Summary возвращает аккаунт владельца, создавая его с новым кодом, если владелец
// имеет право участвовать в программе.
func (e *Engine) Summary(ctx context.Context, owner model.Identity) (*model.ReferralAccount, error) {
	acc, err := e.store.GetAccountByOwner(ctx, owner.ID)
	if err == nil {
		return acc, nil
	}
	if !errors.Is(err, repository.ErrAccountNotFound) {
		return nil, apperr.Store(err)
	}

	eligible, err := e.authority.IsEligible(ctx, owner)
	if err != nil {
		return nil, ErrMembershipUnavailable.Wrap(err)
	}
	if !eligible {
		return nil, ErrOwnerNotEligible
	}

	for i := 0; i < maxCreateAttempts; i++ {
		acc, err = e.store.CreateAccount(ctx, owner, e.newCode())
		if err == nil {
			e.logger.Info("referral account provisioned", zap.String("ownerID", owner.ID), zap.String("code", acc.Code))
			return acc, nil
		}
		if !errors.Is(err, repository.ErrCodeTaken) {
			return nil, apperr.Store(err)
		}
	}
	return nil, apperr.Store(fmt.Errorf("%w after %d attempts", repository.ErrCodeExhausted, maxCreateAttempts))
}

// EnsureCode возвращает код владельца, создавая аккаунт при необходимости.
func (e *Engine) EnsureCode(ctx context.Context, owner model.Identity) (string, error) {
	acc, err := e.Summary(ctx, owner)
	if err != nil {
		return "", err
	}
	return acc.Code, nil
}

// RegenerateCode выдаёт владельцу новый код.
func (e *Engine) RegenerateCode(ctx context.Context, ownerID string) (string, error) {
	code, err := e.store.RegenerateCode(ctx, ownerID, e.newCode)
	if err != nil {
		if errors.Is(err, repository.ErrAccountNotFound) {
			return "", ErrAccountNotFound
		}
		return "", apperr.Store(err)
	}
	e.logger.Info("referral code regenerated", zap.String("ownerID", ownerID), zap.String("code", code))
	return code, nil
}

// RegenerateAllCodes выдаёт новые коды всем аккаунтам. Ошибка по одному аккаунту
// не останавливает обработку остальных.
func (e *Engine) RegenerateAllCodes(ctx context.Context) (int, error) {
	accounts, err := e.store.ListAccounts(ctx)
	if err != nil {
		return 0, apperr.Store(err)
	}

	var (
		done int
		errs []error
	)
	for _, acc := range accounts {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		if _, err := e.RegenerateCode(ctx, acc.OwnerID); err != nil {
			errs = append(errs, fmt.Errorf("owner %s: %w", acc.OwnerID, err))
			continue
		}
		done++
	}
	return done, errors.Join(errs...)
}

// DismissNotice скрывает уведомление о программе для владельца.
func (e *Engine) DismissNotice(ctx context.Context, ownerID string) error {
	if err := e.store.SetNoticeDismissed(ctx, ownerID, true); err != nil {
		if errors.Is(err, repository.ErrAccountNotFound) {
			return ErrAccountNotFound
		}
		return apperr.Store(err)
	}
	return nil
}

// ResetNoticeFlags снова показывает уведомление всем участникам.
func (e *Engine) ResetNoticeFlags(ctx context.Context) (int64, error) {
	n, err := e.store.ResetNoticeFlags(ctx)
	if err != nil {
		return 0, apperr.Store(err)
	}
	return n, nil
}
