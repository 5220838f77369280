// Package webhook принимает асинхронные события платёжного процессора и идемпотентно
// применяет их к леджеру.
package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/referral-ledger/internal/apperr"
	"github.com/mmeshcher/referral-ledger/internal/model"
	"github.com/mmeshcher/referral-ledger/internal/money"
	"github.com/mmeshcher/referral-ledger/internal/repository"
	"github.com/mmeshcher/referral-ledger/internal/secret"
)

// Ошибки обработки входящего события.
var (
	ErrSignature = apperr.New(apperr.KindValidation, "invalid_signature", "webhook signature verification failed")
	ErrMalformed = apperr.New(apperr.KindValidation, "malformed_event", "webhook payload is malformed")
)

// Store описывает операции леджера, используемые при сверке.
type Store interface {
	GetAccountByProcessorID(ctx context.Context, processorAccountID string) (*model.ReferralAccount, error)
	UpdateCapabilities(ctx context.Context, processorAccountID string, capabilities map[string]string) (bool, error)
	AppendPayoutEvent(ctx context.Context, ev *model.PayoutEvent) (int64, error)
	ApplyPayoutTransition(ctx context.Context, m model.PayoutMatcher, status model.PayoutStatus, fields model.TransitionFields) (model.Transition, bool, error)
	AppendWebhookLog(ctx context.Context, e *model.WebhookLogEntry) (int64, error)
	ListWebhookLog(ctx context.Context, limit int) ([]model.WebhookLogEntry, error)
}

// Event описывает конверт события процессора.
type Event struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Account string `json:"account"`
	Created int64  `json:"created"`
	Data    struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

// object содержит поля перевода, выплаты или аккаунта, нужные для сверки.
type object struct {
	ID             string            `json:"id"`
	Object         string            `json:"object"`
	Amount         int64             `json:"amount"`
	Currency       string            `json:"currency"`
	Status         string            `json:"status"`
	Destination    string            `json:"destination"`
	Reversed       bool              `json:"reversed"`
	FailureCode    *string           `json:"failure_code"`
	FailureMessage *string           `json:"failure_message"`
	Metadata       map[string]string `json:"metadata"`
	Capabilities   map[string]string `json:"capabilities"`
}

// Result описывает итог обработки события.
type Result struct {
	EventID string
	Type    string
	Outcome model.WebhookOutcome
}

// Reconciler проверяет подпись событий и применяет их к леджеру.
type Reconciler struct {
	store     Store
	secrets   secret.Provider
	logger    *zap.Logger
	tolerance time.Duration
	now       func() time.Time
}

// NewReconciler создаёт обработчик событий процессора.
func NewReconciler(store Store, secrets secret.Provider, logger *zap.Logger) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{
		store:     store,
		secrets:   secrets,
		logger:    logger,
		tolerance: DefaultTolerance,
		now:       time.Now,
	}
}

// Handle проверяет подпись, разбирает конверт и применяет событие.
// Каждое событие попадает в журнал независимо от результата.
func (r *Reconciler) Handle(ctx context.Context, payload []byte, signatureHeader string) (*Result, error) {
	key, err := r.secrets.Secret(ctx)
	if err == nil {
		err = Verify(payload, signatureHeader, key, r.now(), r.tolerance)
	}
	if err != nil {
		r.record(ctx, &model.WebhookLogEntry{
			EventType: "unverified",
			Payload:   payload,
			Outcome:   model.WebhookOutcomeRejected,
			Error:     err.Error(),
		})
		r.logger.Warn("webhook rejected", zap.Error(err))
		return nil, ErrSignature.Wrap(err)
	}

	var ev Event
	if err := json.Unmarshal(payload, &ev); err != nil || ev.Type == "" || len(ev.Data.Object) == 0 {
		if err == nil {
			err = errors.New("type or data.object is missing")
		}
		r.record(ctx, &model.WebhookLogEntry{
			EventID:        ev.ID,
			EventType:      "malformed",
			Payload:        payload,
			SignatureValid: true,
			Outcome:        model.WebhookOutcomeRejected,
			Error:          err.Error(),
		})
		return nil, ErrMalformed.Wrap(err)
	}

	var obj object
	if err := json.Unmarshal(ev.Data.Object, &obj); err != nil {
		r.record(ctx, &model.WebhookLogEntry{
			EventID:        ev.ID,
			EventType:      ev.Type,
			Payload:        payload,
			SignatureValid: true,
			Outcome:        model.WebhookOutcomeRejected,
			Error:          err.Error(),
		})
		return nil, ErrMalformed.Wrap(err)
	}

	outcome, err := r.dispatch(ctx, &ev, &obj)
	entry := &model.WebhookLogEntry{
		EventID:        ev.ID,
		EventType:      ev.Type,
		Payload:        payload,
		SignatureValid: true,
		Outcome:        outcome,
	}
	if err != nil {
		entry.Error = err.Error()
	}
	r.record(ctx, entry)

	if err != nil {
		r.logger.Error("webhook processing failed", zap.String("eventID", ev.ID), zap.String("type", ev.Type), zap.Error(err))
		return nil, apperr.Store(err)
	}

	r.logger.Info("webhook processed",
		zap.String("eventID", ev.ID),
		zap.String("type", ev.Type),
		zap.String("outcome", string(outcome)),
	)
	return &Result{EventID: ev.ID, Type: ev.Type, Outcome: outcome}, nil
}

// Recent возвращает последние записи журнала событий.
func (r *Reconciler) Recent(ctx context.Context, limit int) ([]model.WebhookLogEntry, error) {
	res, err := r.store.ListWebhookLog(ctx, limit)
	if err != nil {
		return nil, apperr.Store(err)
	}
	return res, nil
}

func (r *Reconciler) dispatch(ctx context.Context, ev *Event, obj *object) (model.WebhookOutcome, error) {
	switch ev.Type {
	case "account.updated":
		return r.updateCapabilities(ctx, ev, obj)
	}

	status, ok := targetStatus(ev.Type, obj)
	if !ok {
		return model.WebhookOutcomeIgnored, nil
	}

	var (
		matcher model.PayoutMatcher
		fields  model.TransitionFields
	)
	switch obj.Object {
	case "payout":
		matcher = model.PayoutMatcher{PayoutRef: obj.ID, TransferRef: obj.Metadata["transfer_id"]}
		fields = model.TransitionFields{
			PayoutRef:      &obj.ID,
			FailureCode:    obj.FailureCode,
			FailureMessage: obj.FailureMessage,
		}
	default:
		matcher = model.PayoutMatcher{TransferRef: obj.ID}
	}
	if matcher.Empty() {
		return model.WebhookOutcomeIgnored, nil
	}

	_, matched, err := r.store.ApplyPayoutTransition(ctx, matcher, status, fields)
	if err != nil {
		return model.WebhookOutcomeRejected, fmt.Errorf("apply transition: %w", err)
	}
	if matched {
		return model.WebhookOutcomeApplied, nil
	}

	if err := r.insertUnmatched(ctx, ev, obj, status, matcher, fields); err != nil {
		return model.WebhookOutcomeRejected, err
	}
	return model.WebhookOutcomeInserted, nil
}

// targetStatus сопоставляет тип события со статусом выплаты.
func targetStatus(eventType string, obj *object) (model.PayoutStatus, bool) {
	switch eventType {
	case "transfer.created":
		return model.PayoutStatusPending, true
	case "transfer.updated":
		if obj.Reversed {
			return model.PayoutStatusReversed, true
		}
		return model.PayoutStatusPending, true
	case "transfer.reversed":
		return model.PayoutStatusReversed, true
	case "transfer.paid":
		return model.PayoutStatusPaid, true
	case "transfer.failed":
		return model.PayoutStatusFailed, true
	case "payout.created", "payout.updated":
		if s, ok := model.ParsePayoutStatus(obj.Status); ok && s != model.PayoutStatusManual {
			return s, true
		}
		return model.PayoutStatusPending, true
	case "payout.paid":
		return model.PayoutStatusPaid, true
	case "payout.failed":
		return model.PayoutStatusFailed, true
	case "payout.canceled":
		return model.PayoutStatusCanceled, true
	}
	return "", false
}

// insertUnmatched записывает событие, инициированное процессором, которого нет в леджере.
// total_paid при этом не меняется.
func (r *Reconciler) insertUnmatched(ctx context.Context, ev *Event, obj *object, status model.PayoutStatus, m model.PayoutMatcher, fields model.TransitionFields) error {
	accountRef := ev.Account
	if obj.Object != "payout" && obj.Destination != "" {
		accountRef = obj.Destination
	}

	out := &model.PayoutEvent{
		Amount:         money.FromMinor(obj.Amount),
		Currency:       obj.Currency,
		Status:         status,
		PayoutRef:      fields.PayoutRef,
		FailureCode:    obj.FailureCode,
		FailureMessage: obj.FailureMessage,
		Metadata:       map[string]string{"source": "webhook", "event_id": ev.ID},
	}
	for k, v := range obj.Metadata {
		if _, exists := out.Metadata[k]; !exists {
			out.Metadata[k] = v
		}
	}
	if m.TransferRef != "" {
		ref := m.TransferRef
		out.TransferRef = &ref
	}

	if accountRef != "" {
		acc, err := r.store.GetAccountByProcessorID(ctx, accountRef)
		switch {
		case err == nil:
			out.ReferralID = &acc.ID
			out.OwnerID = acc.OwnerID
		case errors.Is(err, repository.ErrAccountNotFound):
			out.Metadata["processor_account"] = accountRef
		default:
			return fmt.Errorf("resolve account: %w", err)
		}
	}

	if _, err := r.store.AppendPayoutEvent(ctx, out); err != nil {
		return fmt.Errorf("insert unmatched payout event: %w", err)
	}
	return nil
}

func (r *Reconciler) updateCapabilities(ctx context.Context, ev *Event, obj *object) (model.WebhookOutcome, error) {
	accountRef := obj.ID
	if accountRef == "" {
		accountRef = ev.Account
	}
	// Пустой снимок не затирает последний известный.
	if accountRef == "" || len(obj.Capabilities) == 0 {
		return model.WebhookOutcomeIgnored, nil
	}

	ok, err := r.store.UpdateCapabilities(ctx, accountRef, obj.Capabilities)
	if err != nil {
		return model.WebhookOutcomeRejected, fmt.Errorf("update capabilities: %w", err)
	}
	if !ok {
		return model.WebhookOutcomeIgnored, nil
	}
	return model.WebhookOutcomeApplied, nil
}

func (r *Reconciler) record(ctx context.Context, e *model.WebhookLogEntry) {
	if _, err := r.store.AppendWebhookLog(ctx, e); err != nil {
		r.logger.Error("failed to write webhook log", zap.String("eventID", e.EventID), zap.Error(err))
	}
}
