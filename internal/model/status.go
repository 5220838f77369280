package model

import "strings"

// PayoutStatus описывает состояние события выплаты.
type PayoutStatus string

const (
	PayoutStatusPending   PayoutStatus = "pending"
	PayoutStatusCreated   PayoutStatus = "created"
	PayoutStatusPaid      PayoutStatus = "paid"
	PayoutStatusSucceeded PayoutStatus = "succeeded"
	PayoutStatusCompleted PayoutStatus = "completed"
	PayoutStatusFailed    PayoutStatus = "failed"
	PayoutStatusReversed  PayoutStatus = "reversed"
	PayoutStatusCanceled  PayoutStatus = "canceled"
	PayoutStatusManual    PayoutStatus = "manual"
)

// ParsePayoutStatus приводит статус процессора к известному значению.
// in_transit считается ожидающей выплатой, cancelled считается синонимом canceled.
func ParsePayoutStatus(s string) (PayoutStatus, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "pending", "in_transit":
		return PayoutStatusPending, true
	case "created":
		return PayoutStatusCreated, true
	case "paid":
		return PayoutStatusPaid, true
	case "succeeded":
		return PayoutStatusSucceeded, true
	case "completed":
		return PayoutStatusCompleted, true
	case "failed":
		return PayoutStatusFailed, true
	case "reversed":
		return PayoutStatusReversed, true
	case "canceled", "cancelled":
		return PayoutStatusCanceled, true
	case "manual":
		return PayoutStatusManual, true
	}
	return "", false
}

// IsPending сообщает, что деньги ещё в пути.
func (s PayoutStatus) IsPending() bool {
	return s == PayoutStatusPending || s == PayoutStatusCreated
}

// IsSuccess сообщает, что перевод подтверждён.
func (s PayoutStatus) IsSuccess() bool {
	switch s {
	case PayoutStatusPaid, PayoutStatusSucceeded, PayoutStatusCompleted, PayoutStatusManual:
		return true
	}
	return false
}

// IsTerminal сообщает, что из статуса больше нет обычных переходов.
func (s PayoutStatus) IsTerminal() bool {
	return s != "" && !s.IsPending()
}

// Transition описывает решение о применении нового статуса к событию выплаты.
type Transition struct {
	// Apply: статус и поля нужно записать.
	Apply bool
	// Credit: total_paid увеличивается на сумму события.
	Credit bool
}

// PlanTransition решает, как применить статус next к событию в статусе prior.
// Увеличение total_paid происходит только при настоящем переходе в успешный статус,
// поэтому повторная доставка того же события ничего не меняет.
func PlanTransition(prior, next PayoutStatus) Transition {
	if next == "" || next == PayoutStatusManual || prior == PayoutStatusManual {
		return Transition{}
	}
	if prior == next || (prior.IsPending() && next.IsPending()) {
		return Transition{}
	}

	switch {
	case prior.IsPending() || prior == "":
		return Transition{Apply: true, Credit: next.IsSuccess()}
	case prior.IsSuccess():
		// Перевод можно отозвать после подтверждения; total_paid не уменьшается.
		return Transition{Apply: next == PayoutStatusReversed}
	default:
		// Поздние события для failed/reversed/canceled игнорируются.
		return Transition{}
	}
}
