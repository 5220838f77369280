// Package model содержит доменные сущности реферального леджера.
package model

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Identity описывает внешнюю учётную запись участника.
type Identity struct {
	ID    string `json:"id" validate:"required"`
	Email string `json:"email" validate:"omitempty,email"`
}

// SameAs сообщает, относятся ли две учётные записи к одному человеку: совпадает идентификатор
// либо email без учёта регистра.
func (i Identity) SameAs(other Identity) bool {
	if i.ID != "" && i.ID == other.ID {
		return true
	}
	a := strings.TrimSpace(i.Email)
	b := strings.TrimSpace(other.Email)
	return a != "" && strings.EqualFold(a, b)
}

// ReferralAccount связывает участника с его реферальным кодом и накопленным балансом.
type ReferralAccount struct {
	ID                    int64
	OwnerID               string
	OwnerEmail            string
	Code                  string
	EarnedCredits         decimal.Decimal
	TotalPaid             decimal.Decimal
	IsActive              bool
	NoticeDismissed       bool
	ProcessorAccountID    *string
	ProcessorCapabilities map[string]string
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// Outstanding возвращает заработанную, но ещё не выплаченную сумму (не меньше нуля).
func (a *ReferralAccount) Outstanding() decimal.Decimal {
	v := a.EarnedCredits.Sub(a.TotalPaid)
	if v.IsNegative() {
		return decimal.Zero
	}
	return v
}

// Available возвращает остаток, который ещё можно выплатить, за вычетом переводов в пути.
func (a *ReferralAccount) Available(pending decimal.Decimal) decimal.Decimal {
	v := a.Outstanding().Sub(pending)
	if v.IsNegative() {
		return decimal.Zero
	}
	return v
}

// Owner возвращает учётную запись владельца кода.
func (a *ReferralAccount) Owner() Identity {
	return Identity{ID: a.OwnerID, Email: a.OwnerEmail}
}

// RedemptionEvent фиксирует одно использование реферального кода.
type RedemptionEvent struct {
	ID             int64
	ReferralID     int64
	OrderRef       *string
	RedeemerID     *string
	DiscountAmount decimal.Decimal
	RewardAmount   decimal.Decimal
	CreatedAt      time.Time
}

// PayoutEvent описывает движение денег к владельцу кода.
type PayoutEvent struct {
	ID             int64
	ReferralID     *int64
	OwnerID        string
	Amount         decimal.Decimal
	Currency       string
	Status         PayoutStatus
	TransferRef    *string
	PayoutRef      *string
	FailureCode    *string
	FailureMessage *string
	Metadata       map[string]string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// PayoutMatcher выбирает событие выплаты по идентификаторам процессора.
// Пустые значения не участвуют в поиске.
type PayoutMatcher struct {
	TransferRef string
	PayoutRef   string
}

// Empty сообщает, что матчеру не с чем сравнивать.
func (m PayoutMatcher) Empty() bool {
	return m.TransferRef == "" && m.PayoutRef == ""
}

// TransitionFields содержит поля, обновляемые вместе со статусом выплаты.
type TransitionFields struct {
	PayoutRef      *string
	FailureCode    *string
	FailureMessage *string
}

// WebhookOutcome описывает результат обработки входящего события.
type WebhookOutcome string

const (
	WebhookOutcomeApplied  WebhookOutcome = "applied"
	WebhookOutcomeInserted WebhookOutcome = "inserted"
	WebhookOutcomeIgnored  WebhookOutcome = "ignored"
	WebhookOutcomeRejected WebhookOutcome = "rejected"
	WebhookOutcomeAlert    WebhookOutcome = "alert"
)

// WebhookLogEntry описывает диагностическую запись о входящем событии или предупреждении о балансе.
type WebhookLogEntry struct {
	ID             int64
	EventID        string
	EventType      string
	Payload        []byte
	SignatureValid bool
	Outcome        WebhookOutcome
	Error          string
	CreatedAt      time.Time
}

// BalanceStatus содержит результат проверки достаточности баланса платформы у процессора.
type BalanceStatus struct {
	OK        bool            `json:"ok"`
	Available decimal.Decimal `json:"available"`
	Required  decimal.Decimal `json:"required"`
	Err       error           `json:"-"`
}
