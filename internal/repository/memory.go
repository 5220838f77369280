package repository

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mmeshcher/referral-ledger/internal/model"
	"github.com/mmeshcher/referral-ledger/internal/money"
)

// MemoryRepository хранит леджер в памяти процесса. Используется для локального запуска
// без PostgreSQL и в тестах. Переходы статусов выплат следуют тем же правилам, что и в PostgreSQL.
type MemoryRepository struct {
	mu          sync.Mutex
	now         func() time.Time
	accounts    []*model.ReferralAccount
	redemptions []model.RedemptionEvent
	payouts     []*model.PayoutEvent
	webhooks    []model.WebhookLogEntry
}

// NewMemoryRepository создаёт пустой репозиторий в памяти.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{now: time.Now}
}

// Close реализует io.Closer.
func (m *MemoryRepository) Close() error { return nil }

func cloneAccount(a *model.ReferralAccount) *model.ReferralAccount {
	c := *a
	if a.ProcessorAccountID != nil {
		id := *a.ProcessorAccountID
		c.ProcessorAccountID = &id
	}
	if a.ProcessorCapabilities != nil {
		c.ProcessorCapabilities = make(map[string]string, len(a.ProcessorCapabilities))
		for k, v := range a.ProcessorCapabilities {
			c.ProcessorCapabilities[k] = v
		}
	}
	return &c
}

func (m *MemoryRepository) find(match func(a *model.ReferralAccount) bool) *model.ReferralAccount {
	for _, a := range m.accounts {
		if match(a) {
			return a
		}
	}
	return nil
}

func (m *MemoryRepository) get(match func(a *model.ReferralAccount) bool) (*model.ReferralAccount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a := m.find(match)
	if a == nil {
		return nil, ErrAccountNotFound
	}
	return cloneAccount(a), nil
}

// GetAccountByID возвращает аккаунт по идентификатору.
func (m *MemoryRepository) GetAccountByID(_ context.Context, id int64) (*model.ReferralAccount, error) {
	return m.get(func(a *model.ReferralAccount) bool { return a.ID == id })
}

// GetAccountByCode возвращает аккаунт по реферальному коду.
func (m *MemoryRepository) GetAccountByCode(_ context.Context, code string) (*model.ReferralAccount, error) {
	return m.get(func(a *model.ReferralAccount) bool { return a.Code == code })
}

// GetAccountByOwner возвращает аккаунт владельца.
func (m *MemoryRepository) GetAccountByOwner(_ context.Context, ownerID string) (*model.ReferralAccount, error) {
	return m.get(func(a *model.ReferralAccount) bool { return a.OwnerID == ownerID })
}

// GetAccountByProcessorID возвращает аккаунт по идентификатору аккаунта процессора.
func (m *MemoryRepository) GetAccountByProcessorID(_ context.Context, processorAccountID string) (*model.ReferralAccount, error) {
	return m.get(func(a *model.ReferralAccount) bool {
		return a.ProcessorAccountID != nil && *a.ProcessorAccountID == processorAccountID
	})
}

// ListAccounts возвращает все аккаунты в порядке создания.
func (m *MemoryRepository) ListAccounts(_ context.Context) ([]model.ReferralAccount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	res := make([]model.ReferralAccount, 0, len(m.accounts))
	for _, a := range m.accounts {
		res = append(res, *cloneAccount(a))
	}
	return res, nil
}

// CreateAccount создаёт аккаунт владельца или возвращает существующий.
func (m *MemoryRepository) CreateAccount(_ context.Context, owner model.Identity, code string) (*model.ReferralAccount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if a := m.find(func(a *model.ReferralAccount) bool { return a.OwnerID == owner.ID }); a != nil {
		return cloneAccount(a), nil
	}
	if m.find(func(a *model.ReferralAccount) bool { return a.Code == code }) != nil {
		return nil, ErrCodeTaken
	}

	now := m.now()
	a := &model.ReferralAccount{
		ID:                    int64(len(m.accounts) + 1),
		OwnerID:               owner.ID,
		OwnerEmail:            owner.Email,
		Code:                  code,
		IsActive:              true,
		ProcessorCapabilities: map[string]string{},
		CreatedAt:             now,
		UpdatedAt:             now,
	}
	m.accounts = append(m.accounts, a)
	return cloneAccount(a), nil
}

// RegenerateCode заменяет код владельца на первый свободный из генератора.
func (m *MemoryRepository) RegenerateCode(_ context.Context, ownerID string, generate func() string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a := m.find(func(a *model.ReferralAccount) bool { return a.OwnerID == ownerID })
	if a == nil {
		return "", ErrAccountNotFound
	}
	for i := 0; i < maxCodeAttempts; i++ {
		candidate := generate()
		if m.find(func(o *model.ReferralAccount) bool { return o.Code == candidate && o != a }) != nil {
			continue
		}
		a.Code = candidate
		a.UpdatedAt = m.now()
		return candidate, nil
	}
	return "", ErrCodeExhausted
}

// SetProcessorAccount привязывает аккаунт процессора к владельцу.
func (m *MemoryRepository) SetProcessorAccount(_ context.Context, ownerID, processorAccountID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	taken := m.find(func(a *model.ReferralAccount) bool {
		return a.OwnerID != ownerID && a.ProcessorAccountID != nil && *a.ProcessorAccountID == processorAccountID
	})
	if taken != nil {
		return ErrProcessorAccountTaken
	}
	a := m.find(func(a *model.ReferralAccount) bool { return a.OwnerID == ownerID })
	if a == nil {
		return ErrAccountNotFound
	}
	a.ProcessorAccountID = &processorAccountID
	a.UpdatedAt = m.now()
	return nil
}

// UpdateCapabilities сохраняет снимок возможностей аккаунта процессора.
func (m *MemoryRepository) UpdateCapabilities(_ context.Context, processorAccountID string, capabilities map[string]string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a := m.find(func(a *model.ReferralAccount) bool {
		return a.ProcessorAccountID != nil && *a.ProcessorAccountID == processorAccountID
	})
	if a == nil {
		return false, nil
	}
	a.ProcessorCapabilities = make(map[string]string, len(capabilities))
	for k, v := range capabilities {
		a.ProcessorCapabilities[k] = v
	}
	a.UpdatedAt = m.now()
	return true, nil
}

// SetNoticeDismissed сохраняет признак скрытого уведомления.
func (m *MemoryRepository) SetNoticeDismissed(_ context.Context, ownerID string, dismissed bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	a := m.find(func(a *model.ReferralAccount) bool { return a.OwnerID == ownerID })
	if a == nil {
		return ErrAccountNotFound
	}
	a.NoticeDismissed = dismissed
	return nil
}

// ResetNoticeFlags снимает признак скрытого уведомления у всех аккаунтов.
func (m *MemoryRepository) ResetNoticeFlags(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for _, a := range m.accounts {
		if a.NoticeDismissed {
			a.NoticeDismissed = false
			n++
		}
	}
	return n, nil
}

// OutstandingTotal возвращает сумму невыплаченных начислений по подключённым аккаунтам.
func (m *MemoryRepository) OutstandingTotal(_ context.Context) (decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	total := decimal.Zero
	for _, a := range m.accounts {
		if a.IsActive && a.ProcessorAccountID != nil {
			total = total.Add(a.Available(m.pendingTotal(a.ID)))
		}
	}
	return total, nil
}

// PendingTotal возвращает сумму переводов аккаунта, ещё не подтверждённых процессором.
func (m *MemoryRepository) PendingTotal(_ context.Context, referralID int64) (decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.pendingTotal(referralID), nil
}

func (m *MemoryRepository) pendingTotal(referralID int64) decimal.Decimal {
	total := decimal.Zero
	for _, p := range m.payouts {
		if p.ReferralID != nil && *p.ReferralID == referralID && p.Status.IsPending() {
			total = total.Add(p.Amount)
		}
	}
	return total
}

// RedeemAndCredit записывает использование кода и начисляет вознаграждение.
func (m *MemoryRepository) RedeemAndCredit(_ context.Context, ev *model.RedemptionEvent) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a := m.find(func(a *model.ReferralAccount) bool { return a.ID == ev.ReferralID })
	if a == nil {
		return 0, ErrAccountNotFound
	}

	ev.ID = int64(len(m.redemptions) + 1)
	ev.CreatedAt = m.now()
	m.redemptions = append(m.redemptions, *ev)
	a.EarnedCredits = a.EarnedCredits.Add(money.Round(ev.RewardAmount))
	a.UpdatedAt = ev.CreatedAt
	return ev.ID, nil
}

// ListRedemptions возвращает историю использований кода аккаунта, новые первыми.
func (m *MemoryRepository) ListRedemptions(_ context.Context, referralID int64) ([]model.RedemptionEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var res []model.RedemptionEvent
	for i := len(m.redemptions) - 1; i >= 0; i-- {
		if m.redemptions[i].ReferralID == referralID {
			res = append(res, m.redemptions[i])
		}
	}
	return res, nil
}

func (m *MemoryRepository) appendPayout(ev *model.PayoutEvent) int64 {
	c := *ev
	c.ID = int64(len(m.payouts) + 1)
	c.Currency = money.Currency(c.Currency)
	c.CreatedAt = m.now()
	c.UpdatedAt = c.CreatedAt
	if c.Metadata == nil {
		c.Metadata = map[string]string{}
	}
	m.payouts = append(m.payouts, &c)

	ev.ID = c.ID
	ev.CreatedAt = c.CreatedAt
	ev.UpdatedAt = c.UpdatedAt
	return c.ID
}

// AppendPayoutEvent добавляет событие выплаты без изменения балансов.
func (m *MemoryRepository) AppendPayoutEvent(_ context.Context, ev *model.PayoutEvent) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.appendPayout(ev), nil
}

func (m *MemoryRepository) incrementTotalPaid(referralID int64, amount decimal.Decimal) error {
	if money.ToMinor(amount) <= 0 {
		return ErrInvalidAmount
	}
	a := m.find(func(a *model.ReferralAccount) bool { return a.ID == referralID })
	if a == nil {
		return ErrAccountNotFound
	}
	a.TotalPaid = a.TotalPaid.Add(money.Round(amount))
	a.UpdatedAt = m.now()
	return nil
}

// IncrementTotalPaid увеличивает total_paid аккаунта.
func (m *MemoryRepository) IncrementTotalPaid(_ context.Context, referralID int64, amount decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.incrementTotalPaid(referralID, amount)
}

// RecordManualPayout записывает ручную выплату и увеличивает total_paid.
func (m *MemoryRepository) RecordManualPayout(_ context.Context, ev *model.PayoutEvent) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if ev.ReferralID == nil {
		return 0, ErrAccountNotFound
	}
	if money.ToMinor(ev.Amount) <= 0 {
		return 0, ErrInvalidAmount
	}
	if m.find(func(a *model.ReferralAccount) bool { return a.ID == *ev.ReferralID }) == nil {
		return 0, ErrAccountNotFound
	}

	ev.Status = model.PayoutStatusManual
	id := m.appendPayout(ev)
	return id, m.incrementTotalPaid(*ev.ReferralID, ev.Amount)
}

// ApplyPayoutTransition применяет статус к последнему подходящему событию выплаты.
func (m *MemoryRepository) ApplyPayoutTransition(_ context.Context, matcher model.PayoutMatcher, status model.PayoutStatus, fields model.TransitionFields) (model.Transition, bool, error) {
	if matcher.Empty() {
		return model.Transition{}, false, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var ev *model.PayoutEvent
	for i := len(m.payouts) - 1; i >= 0; i-- {
		p := m.payouts[i]
		if (matcher.TransferRef != "" && p.TransferRef != nil && *p.TransferRef == matcher.TransferRef) ||
			(matcher.PayoutRef != "" && p.PayoutRef != nil && *p.PayoutRef == matcher.PayoutRef) {
			ev = p
			break
		}
	}
	if ev == nil {
		return model.Transition{}, false, nil
	}

	plan := model.PlanTransition(ev.Status, status)
	if plan.Apply {
		ev.Status = status
		if fields.PayoutRef != nil {
			ev.PayoutRef = fields.PayoutRef
		}
		if fields.FailureCode != nil {
			ev.FailureCode = fields.FailureCode
		}
		if fields.FailureMessage != nil {
			ev.FailureMessage = fields.FailureMessage
		}
		ev.UpdatedAt = m.now()
	} else if ev.PayoutRef == nil && fields.PayoutRef != nil {
		ev.PayoutRef = fields.PayoutRef
	}

	if plan.Credit && ev.ReferralID != nil && ev.Amount.IsPositive() {
		if err := m.incrementTotalPaid(*ev.ReferralID, ev.Amount); err != nil {
			return plan, true, err
		}
	}
	return plan, true, nil
}

// ListPayouts возвращает события выплат, новые первыми.
func (m *MemoryRepository) ListPayouts(_ context.Context, f PayoutFilter) ([]model.PayoutEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var res []model.PayoutEvent
	for i := len(m.payouts) - 1; i >= 0; i-- {
		p := m.payouts[i]
		if f.OwnerID != "" && p.OwnerID != f.OwnerID {
			continue
		}
		res = append(res, *p)
		if f.Limit > 0 && len(res) == f.Limit {
			break
		}
	}
	return res, nil
}

// AppendWebhookLog сохраняет запись журнала событий.
func (m *MemoryRepository) AppendWebhookLog(_ context.Context, e *model.WebhookLogEntry) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e.ID = int64(len(m.webhooks) + 1)
	e.CreatedAt = m.now()
	c := *e
	c.Payload = []byte(strings.ToValidUTF8(string(e.Payload), ""))
	m.webhooks = append(m.webhooks, c)
	return e.ID, nil
}

// ListWebhookLog возвращает последние записи журнала событий.
func (m *MemoryRepository) ListWebhookLog(_ context.Context, limit int) ([]model.WebhookLogEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	res := make([]model.WebhookLogEntry, len(m.webhooks))
	copy(res, m.webhooks)
	sort.SliceStable(res, func(i, j int) bool { return res[i].ID > res[j].ID })
	if limit > 0 && len(res) > limit {
		res = res[:limit]
	}
	return res, nil
}
