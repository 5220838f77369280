// Package payout отвечает за движение денег к владельцам кодов: переводы через процессор,
// ручные выплаты, отмену переводов и контроль баланса платформы.
package payout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/referral-ledger/internal/apperr"
	"github.com/mmeshcher/referral-ledger/internal/model"
	"github.com/mmeshcher/referral-ledger/internal/money"
	"github.com/mmeshcher/referral-ledger/internal/notify"
	"github.com/mmeshcher/referral-ledger/internal/processor"
	"github.com/mmeshcher/referral-ledger/internal/repository"
)

// Ошибки оркестратора выплат.
var (
	ErrInvalidAmount               = apperr.New(apperr.KindValidation, "invalid_amount", "amount must be greater than zero")
	ErrExceedsCredit               = apperr.New(apperr.KindValidation, "exceeds_credit", "amount exceeds your available referral credit")
	ErrAccountNotFound             = apperr.New(apperr.KindNotFound, "account_not_found", "referral account not found")
	ErrMissingAccount              = apperr.New(apperr.KindValidation, "missing_account", "payout account is not connected")
	ErrTransferNotFound            = apperr.New(apperr.KindNotFound, "transfer_not_found", "transfer not found in the ledger")
	ErrTransferNotCancelable       = apperr.New(apperr.KindValidation, "transfer_not_cancelable", "transfer is already settled and cannot be canceled")
	ErrProcessorUnavailable        = apperr.New(apperr.KindProcessor, "processor_unavailable", "payment processor is not configured")
	ErrProcessor                   = apperr.New(apperr.KindProcessor, "processor_error", "payment processor request failed")
	ErrInsufficientPlatformBalance = apperr.New(apperr.KindInsufficientBalance, "insufficient_platform_balance", "platform balance is insufficient for this payout")
)

// Источники выплат в метаданных.
const (
	SourceMember      = "member"
	SourceAdminManual = "admin_manual"
	SourceAdminBatch  = "admin_batch"
)

// EventBalanceInsufficient задаёт тип записи журнала о нехватке баланса платформы.
const EventBalanceInsufficient = "balance.insufficient"

// Store описывает операции леджера, используемые оркестратором.
type Store interface {
	GetAccountByOwner(ctx context.Context, ownerID string) (*model.ReferralAccount, error)
	ListAccounts(ctx context.Context) ([]model.ReferralAccount, error)
	SetProcessorAccount(ctx context.Context, ownerID, processorAccountID string) error
	AppendPayoutEvent(ctx context.Context, ev *model.PayoutEvent) (int64, error)
	RecordManualPayout(ctx context.Context, ev *model.PayoutEvent) (int64, error)
	ApplyPayoutTransition(ctx context.Context, m model.PayoutMatcher, status model.PayoutStatus, fields model.TransitionFields) (model.Transition, bool, error)
	ListPayouts(ctx context.Context, f repository.PayoutFilter) ([]model.PayoutEvent, error)
	PendingTotal(ctx context.Context, referralID int64) (decimal.Decimal, error)
	OutstandingTotal(ctx context.Context) (decimal.Decimal, error)
	AppendWebhookLog(ctx context.Context, e *model.WebhookLogEntry) (int64, error)
}

// Processor описывает вызовы платёжного процессора.
type Processor interface {
	CreateSubaccount(ctx context.Context, p processor.SubaccountParams) (*processor.Account, error)
	CreateOnboardingLink(ctx context.Context, accountRef, returnURL, refreshURL, linkType string) (*processor.Link, error)
	CreateDashboardLink(ctx context.Context, accountRef string) (*processor.Link, error)
	CreateTransfer(ctx context.Context, destination string, amountMinor int64, currency string, metadata map[string]string) (*processor.Transfer, error)
	CancelTransfer(ctx context.Context, transferRef string) (*processor.Transfer, error)
	GetBalance(ctx context.Context) (*processor.BalanceSnapshot, error)
}

// Options задаёт параметры оркестратора.
type Options struct {
	Currency       string
	AccountCountry string
}

// Orchestrator является единственной точкой инициирования движения денег.
type Orchestrator struct {
	store     Store
	processor Processor
	notifier  notify.Notifier
	logger    *zap.Logger
	opts      Options
}

// NewOrchestrator создаёт оркестратор выплат.
func NewOrchestrator(store Store, proc Processor, notifier notify.Notifier, opts Options, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if notifier == nil {
		notifier = notify.NewLog(logger)
	}
	if opts.Currency == "" {
		opts.Currency = "eur"
	}
	opts.Currency = money.Currency(opts.Currency)

	return &Orchestrator{
		store:     store,
		processor: proc,
		notifier:  notifier,
		logger:    logger,
		opts:      opts,
	}
}

// Currency возвращает валюту выплат по умолчанию.
func (o *Orchestrator) Currency() string {
	return o.opts.Currency
}

// RequestPayout переводит amount владельцу через процессор.
// Перевод не выполняется, если доступный баланс платформы меньше суммы.
func (o *Orchestrator) RequestPayout(ctx context.Context, ownerID string, amount decimal.Decimal, currency string, metadata map[string]string) (*model.PayoutEvent, error) {
	amount = money.Round(amount)
	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	currency = o.currencyOrDefault(currency)

	acc, err := o.store.GetAccountByOwner(ctx, ownerID)
	if err != nil {
		if errors.Is(err, repository.ErrAccountNotFound) {
			return nil, ErrMissingAccount
		}
		return nil, apperr.Store(err)
	}
	if acc.ProcessorAccountID == nil || *acc.ProcessorAccountID == "" {
		return nil, ErrMissingAccount
	}

	status := o.CheckBalanceSufficiency(ctx, amount, currency)
	if status.Err != nil {
		if processor.IsNotConfigured(status.Err) {
			return nil, ErrProcessorUnavailable
		}
		return nil, processorError(status.Err)
	}
	if !status.OK {
		o.alert(ctx, status, currency, ownerID)
		return nil, ErrInsufficientPlatformBalance.With(
			fmt.Sprintf("platform balance %s %s is below the requested %s", status.Available.StringFixed(2), currency, amount.StringFixed(2)),
			nil,
		)
	}

	md := make(map[string]string, len(metadata)+2)
	for k, v := range metadata {
		md[k] = v
	}
	md["owner_id"] = ownerID
	md["referral_id"] = strconv.FormatInt(acc.ID, 10)

	ev := &model.PayoutEvent{
		ReferralID: &acc.ID,
		OwnerID:    ownerID,
		Amount:     amount,
		Currency:   currency,
		Metadata:   md,
	}

	tr, err := o.processor.CreateTransfer(ctx, *acc.ProcessorAccountID, money.ToMinor(amount), currency, md)
	if err != nil {
		ev.Status = model.PayoutStatusFailed
		code, msg := processorDetail(err)
		ev.FailureCode = &code
		ev.FailureMessage = &msg
		if _, appendErr := o.store.AppendPayoutEvent(ctx, ev); appendErr != nil {
			o.logger.Error("failed to record failed transfer", zap.String("ownerID", ownerID), zap.Error(appendErr))
		}
		o.logger.Warn("transfer failed", zap.String("ownerID", ownerID), zap.String("code", code), zap.Error(err))
		return nil, processorError(err)
	}

	ev.Status = model.PayoutStatusPending
	ev.TransferRef = &tr.ID
	if tr.DestinationPayment != "" {
		ev.Metadata["destination_payment"] = tr.DestinationPayment
	}
	if _, err := o.store.AppendPayoutEvent(ctx, ev); err != nil {
		// Деньги уже ушли: без записи в леджере перевод придёт из вебхука как несопоставленный.
		o.logger.Error("transfer created but not recorded",
			zap.String("ownerID", ownerID), zap.String("transferRef", tr.ID), zap.Error(err))
		return nil, apperr.Store(err)
	}

	o.logger.Info("transfer created",
		zap.String("ownerID", ownerID),
		zap.String("transferRef", tr.ID),
		zap.String("amount", amount.StringFixed(2)),
		zap.String("currency", currency),
	)
	return ev, nil
}

// Withdraw выводит начисления по запросу самого участника. Сумма не может превышать
// невыплаченный остаток за вычетом переводов, ещё не подтверждённых процессором.
func (o *Orchestrator) Withdraw(ctx context.Context, ownerID string, amount decimal.Decimal) (*model.PayoutEvent, error) {
	amount = money.Round(amount)
	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}

	acc, err := o.store.GetAccountByOwner(ctx, ownerID)
	if err != nil {
		if errors.Is(err, repository.ErrAccountNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, apperr.Store(err)
	}
	available, err := o.available(ctx, acc)
	if err != nil {
		return nil, err
	}
	if amount.GreaterThan(available) {
		return nil, ErrExceedsCredit
	}

	return o.RequestPayout(ctx, ownerID, amount, o.opts.Currency, map[string]string{"source": SourceMember})
}

// BatchResult описывает итог выплаты одному владельцу в пакетной выплате.
type BatchResult struct {
	OwnerID string             `json:"owner_id"`
	Amount  decimal.Decimal    `json:"amount"`
	Event   *model.PayoutEvent `json:"-"`
	Err     error              `json:"-"`
}

// PayOutstanding выплачивает невыплаченный остаток каждому владельцу из ownerIDs,
// а при пустом списке всем подключённым аккаунтам. Переводы в пути уменьшают остаток,
// поэтому повторный запуск до подтверждения ничего не выплачивает. Ошибка по одному
// владельцу не прерывает обработку остальных.
func (o *Orchestrator) PayOutstanding(ctx context.Context, ownerIDs []string) ([]BatchResult, error) {
	var accounts []model.ReferralAccount
	if len(ownerIDs) == 0 {
		all, err := o.store.ListAccounts(ctx)
		if err != nil {
			return nil, apperr.Store(err)
		}
		for _, a := range all {
			if a.IsActive && a.ProcessorAccountID != nil && a.Outstanding().IsPositive() {
				accounts = append(accounts, a)
			}
		}
	} else {
		for _, id := range ownerIDs {
			a, err := o.store.GetAccountByOwner(ctx, id)
			if err != nil {
				if errors.Is(err, repository.ErrAccountNotFound) {
					accounts = append(accounts, model.ReferralAccount{OwnerID: id})
					continue
				}
				return nil, apperr.Store(err)
			}
			accounts = append(accounts, *a)
		}
	}

	results := make([]BatchResult, 0, len(accounts))
	for _, a := range accounts {
		if err := ctx.Err(); err != nil {
			return results, err
		}

		res := BatchResult{OwnerID: a.OwnerID, Amount: decimal.Zero}
		if a.ID != 0 {
			available, err := o.available(ctx, &a)
			if err != nil {
				return results, err
			}
			res.Amount = available
		}
		switch {
		case a.ID == 0:
			res.Err = ErrAccountNotFound
		case !res.Amount.IsPositive():
			res.Err = ErrExceedsCredit.With("nothing to pay out", nil)
		default:
			res.Event, res.Err = o.RequestPayout(ctx, a.OwnerID, res.Amount, o.opts.Currency,
				map[string]string{"source": SourceAdminBatch})
		}
		if res.Err != nil {
			o.logger.Warn("batch payout skipped", zap.String("ownerID", a.OwnerID), zap.Error(res.Err))
		}
		results = append(results, res)
	}
	return results, nil
}

// RecordManualPayout записывает выплату, сделанную вне процессора, и сразу увеличивает total_paid.
func (o *Orchestrator) RecordManualPayout(ctx context.Context, ownerID string, amount decimal.Decimal, currency, note string) (int64, error) {
	amount = money.Round(amount)
	if !amount.IsPositive() {
		return 0, ErrInvalidAmount
	}

	acc, err := o.store.GetAccountByOwner(ctx, ownerID)
	if err != nil {
		if errors.Is(err, repository.ErrAccountNotFound) {
			return 0, ErrAccountNotFound
		}
		return 0, apperr.Store(err)
	}

	md := map[string]string{"source": SourceAdminManual}
	if note != "" {
		md["note"] = note
	}

	id, err := o.store.RecordManualPayout(ctx, &model.PayoutEvent{
		ReferralID: &acc.ID,
		OwnerID:    ownerID,
		Amount:     amount,
		Currency:   o.currencyOrDefault(currency),
		Metadata:   md,
	})
	if err != nil {
		return 0, apperr.Store(err)
	}

	o.logger.Info("manual payout recorded", zap.String("ownerID", ownerID), zap.String("amount", amount.StringFixed(2)))
	return id, nil
}

// CancelPayout отменяет перевод у процессора и затем отмечает событие в леджере.
// Если в леджере перевода нет, отмена у процессора всё равно остаётся в силе.
// Событие в конечном статусе не переписывается: вызов вернёт ErrTransferNotCancelable.
func (o *Orchestrator) CancelPayout(ctx context.Context, transferRef string) error {
	if transferRef == "" {
		return ErrTransferNotFound
	}

	if _, err := o.processor.CancelTransfer(ctx, transferRef); err != nil {
		if processor.IsNotConfigured(err) {
			return ErrProcessorUnavailable
		}
		return processorError(err)
	}

	plan, matched, err := o.store.ApplyPayoutTransition(ctx, model.PayoutMatcher{TransferRef: transferRef}, model.PayoutStatusCanceled, model.TransitionFields{})
	if err != nil {
		return apperr.Store(err)
	}
	if !matched {
		o.logger.Warn("canceled transfer is unknown to the ledger", zap.String("transferRef", transferRef))
		return ErrTransferNotFound
	}
	if !plan.Apply {
		o.logger.Warn("ledger refused to cancel a settled transfer", zap.String("transferRef", transferRef))
		return ErrTransferNotCancelable
	}

	o.logger.Info("transfer canceled", zap.String("transferRef", transferRef))
	return nil
}

// available возвращает остаток аккаунта, который ещё можно перевести.
func (o *Orchestrator) available(ctx context.Context, acc *model.ReferralAccount) (decimal.Decimal, error) {
	pending, err := o.store.PendingTotal(ctx, acc.ID)
	if err != nil {
		return decimal.Zero, apperr.Store(err)
	}
	return acc.Available(pending), nil
}

// CheckBalanceSufficiency сравнивает доступный баланс платформы с required.
// Ошибки процессора возвращаются в поле Err.
func (o *Orchestrator) CheckBalanceSufficiency(ctx context.Context, required decimal.Decimal, currency string) model.BalanceStatus {
	status := model.BalanceStatus{Available: decimal.Zero, Required: required}
	if !required.IsPositive() {
		status.OK = true
		return status
	}

	snap, err := o.processor.GetBalance(ctx)
	if err != nil {
		status.Err = err
		return status
	}

	status.Available = money.FromMinor(snap.AvailableMinor(o.currencyOrDefault(currency)))
	status.OK = status.Available.GreaterThanOrEqual(required)
	return status
}

// SweepBalance сверяет сумму невыплаченных начислений с балансом платформы и
// предупреждает оператора о нехватке.
func (o *Orchestrator) SweepBalance(ctx context.Context) (model.BalanceStatus, error) {
	outstanding, err := o.store.OutstandingTotal(ctx)
	if err != nil {
		return model.BalanceStatus{}, apperr.Store(err)
	}

	status := o.CheckBalanceSufficiency(ctx, outstanding, o.opts.Currency)
	if status.Err != nil {
		o.logger.Warn("balance sweep skipped", zap.Error(status.Err))
		return status, nil
	}
	if !status.OK {
		o.alert(ctx, status, o.opts.Currency, "")
	}

	o.logger.Info("balance sweep finished",
		zap.Bool("ok", status.OK),
		zap.String("available", status.Available.StringFixed(2)),
		zap.String("required", status.Required.StringFixed(2)),
	)
	return status, nil
}

// StartOnboarding создаёт аккаунт процессора при первом обращении и возвращает ссылку на онбординг.
func (o *Orchestrator) StartOnboarding(ctx context.Context, owner model.Identity, returnURL, refreshURL string) (*processor.Link, error) {
	acc, err := o.store.GetAccountByOwner(ctx, owner.ID)
	if err != nil {
		if errors.Is(err, repository.ErrAccountNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, apperr.Store(err)
	}

	accountRef := ""
	if acc.ProcessorAccountID != nil {
		accountRef = *acc.ProcessorAccountID
	}
	if accountRef == "" {
		created, err := o.processor.CreateSubaccount(ctx, processor.SubaccountParams{
			OwnerID: owner.ID,
			Email:   owner.Email,
			Country: o.opts.AccountCountry,
			Type:    "express",
		})
		if err != nil {
			return nil, o.processorFailure(err)
		}
		if err := o.store.SetProcessorAccount(ctx, owner.ID, created.ID); err != nil {
			return nil, apperr.Store(err)
		}
		accountRef = created.ID
		o.logger.Info("processor account created", zap.String("ownerID", owner.ID), zap.String("account", created.ID))
	}

	link, err := o.processor.CreateOnboardingLink(ctx, accountRef, returnURL, refreshURL, "account_onboarding")
	if err != nil {
		return nil, o.processorFailure(err)
	}
	return link, nil
}

// DashboardLink возвращает ссылку на личный кабинет аккаунта процессора.
func (o *Orchestrator) DashboardLink(ctx context.Context, ownerID string) (*processor.Link, error) {
	acc, err := o.store.GetAccountByOwner(ctx, ownerID)
	if err != nil {
		if errors.Is(err, repository.ErrAccountNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, apperr.Store(err)
	}
	if acc.ProcessorAccountID == nil || *acc.ProcessorAccountID == "" {
		return nil, ErrMissingAccount
	}

	link, err := o.processor.CreateDashboardLink(ctx, *acc.ProcessorAccountID)
	if err != nil {
		return nil, o.processorFailure(err)
	}
	return link, nil
}

// ListPayouts возвращает события выплат владельца либо все при пустом ownerID.
func (o *Orchestrator) ListPayouts(ctx context.Context, ownerID string, limit int) ([]model.PayoutEvent, error) {
	res, err := o.store.ListPayouts(ctx, repository.PayoutFilter{OwnerID: ownerID, Limit: limit})
	if err != nil {
		return nil, apperr.Store(err)
	}
	return res, nil
}

func (o *Orchestrator) currencyOrDefault(currency string) string {
	if c := money.Currency(currency); c != "" {
		return c
	}
	return o.opts.Currency
}

func (o *Orchestrator) processorFailure(err error) error {
	if processor.IsNotConfigured(err) {
		return ErrProcessorUnavailable
	}
	return processorError(err)
}

// alert пишет предупреждение о нехватке баланса в журнал событий и уведомляет оператора.
func (o *Orchestrator) alert(ctx context.Context, status model.BalanceStatus, currency, ownerID string) {
	payload, _ := json.Marshal(map[string]string{
		"available": status.Available.StringFixed(2),
		"required":  status.Required.StringFixed(2),
		"currency":  currency,
		"owner_id":  ownerID,
	})

	entry := &model.WebhookLogEntry{
		EventType:      EventBalanceInsufficient,
		Payload:        payload,
		SignatureValid: true,
		Outcome:        model.WebhookOutcomeAlert,
	}
	if _, err := o.store.AppendWebhookLog(ctx, entry); err != nil {
		o.logger.Error("failed to log balance alert", zap.Error(err))
	}

	text := fmt.Sprintf("Available %s %s, required %s %s.",
		status.Available.StringFixed(2), currency, status.Required.StringFixed(2), currency)
	if ownerID != "" {
		text += " Payout requested for " + ownerID + "."
	}
	if err := o.notifier.Notify(ctx, "Platform balance is insufficient", text); err != nil {
		o.logger.Error("failed to notify operator", zap.Error(err))
	}

	o.logger.Warn("insufficient platform balance",
		zap.String("available", status.Available.StringFixed(2)),
		zap.String("required", status.Required.StringFixed(2)),
		zap.String("currency", currency),
	)
}

func processorDetail(err error) (code, message string) {
	var pe *processor.Error
	if errors.As(err, &pe) {
		return pe.Code, pe.Message
	}
	return processor.CodeTransport, err.Error()
}

// processorError переносит сообщение процессора в ошибку для пользователя.
func processorError(err error) error {
	_, msg := processorDetail(err)
	if msg == "" {
		return ErrProcessor.Wrap(err)
	}
	return ErrProcessor.With(msg, err)
}
