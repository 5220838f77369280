package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/mmeshcher/referral-ledger/internal/model"
	"github.com/mmeshcher/referral-ledger/internal/money"
)

// RedeemAndCredit записывает использование кода и увеличивает earned_credits владельца
// в одной транзакции. Строка аккаунта блокируется, чтобы параллельные начисления шли по очереди.
func (r *PostgresRepository) RedeemAndCredit(ctx context.Context, ev *model.RedemptionEvent) (int64, error) {
	var id int64
	err := r.inTx(ctx, func(tx pgx.Tx) error {
		var active bool
		err := tx.QueryRow(ctx,
			`SELECT is_active FROM referral_accounts WHERE id = $1 FOR UPDATE`,
			ev.ReferralID,
		).Scan(&active)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrAccountNotFound
			}
			return fmt.Errorf("lock account for update: %w", err)
		}

		err = tx.QueryRow(ctx,
			`INSERT INTO redemption_events (referral_id, order_ref, redeemer_id, discount_cents, reward_cents)
			 VALUES ($1, $2, $3, $4, $5)
			 RETURNING id, created_at`,
			ev.ReferralID, ev.OrderRef, ev.RedeemerID,
			money.ToMinor(ev.DiscountAmount), money.ToMinor(ev.RewardAmount),
		).Scan(&id, &ev.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert redemption: %w", err)
		}

		_, err = tx.Exec(ctx,
			`UPDATE referral_accounts SET earned_cents = earned_cents + $2, updated_at = NOW() WHERE id = $1`,
			ev.ReferralID, money.ToMinor(ev.RewardAmount),
		)
		if err != nil {
			return fmt.Errorf("credit account: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	ev.ID = id
	return id, nil
}

// ListRedemptions возвращает историю использований кода аккаунта.
func (r *PostgresRepository) ListRedemptions(ctx context.Context, referralID int64) ([]model.RedemptionEvent, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, referral_id, order_ref, redeemer_id, discount_cents, reward_cents, created_at
		 FROM redemption_events
		 WHERE referral_id = $1
		 ORDER BY created_at DESC, id DESC`,
		referralID,
	)
	if err != nil {
		return nil, fmt.Errorf("select redemptions: %w", err)
	}
	defer rows.Close()

	var res []model.RedemptionEvent
	for rows.Next() {
		var (
			ev            model.RedemptionEvent
			discountCents int64
			rewardCents   int64
		)
		if err := rows.Scan(&ev.ID, &ev.ReferralID, &ev.OrderRef, &ev.RedeemerID, &discountCents, &rewardCents, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan redemption: %w", err)
		}
		ev.DiscountAmount = money.FromMinor(discountCents)
		ev.RewardAmount = money.FromMinor(rewardCents)
		res = append(res, ev)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

func appendPayoutEventTx(ctx context.Context, q pgx.Tx, ev *model.PayoutEvent) (int64, error) {
	metadata := ev.Metadata
	if metadata == nil {
		metadata = map[string]string{}
	}

	var (
		id        int64
		createdAt time.Time
	)
	err := q.QueryRow(ctx,
		`INSERT INTO payout_events (referral_id, owner_id, amount_cents, currency, status, transfer_ref, payout_ref,
		                            failure_code, failure_message, metadata)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 RETURNING id, created_at`,
		ev.ReferralID, ev.OwnerID, money.ToMinor(ev.Amount), money.Currency(ev.Currency), string(ev.Status),
		ev.TransferRef, ev.PayoutRef, ev.FailureCode, ev.FailureMessage, metadata,
	).Scan(&id, &createdAt)
	if err != nil {
		return 0, fmt.Errorf("insert payout event: %w", err)
	}

	ev.ID = id
	ev.CreatedAt = createdAt
	ev.UpdatedAt = createdAt
	return id, nil
}

// AppendPayoutEvent добавляет событие выплаты. Балансы не меняются.
func (r *PostgresRepository) AppendPayoutEvent(ctx context.Context, ev *model.PayoutEvent) (int64, error) {
	var id int64
	err := r.inTx(ctx, func(tx pgx.Tx) error {
		var err error
		id, err = appendPayoutEventTx(ctx, tx, ev)
		return err
	})
	return id, err
}

func incrementTotalPaidTx(ctx context.Context, tx pgx.Tx, referralID int64, amount decimal.Decimal) error {
	cents := money.ToMinor(amount)
	if cents <= 0 {
		return ErrInvalidAmount
	}

	tag, err := tx.Exec(ctx,
		`UPDATE referral_accounts SET total_paid_cents = total_paid_cents + $2, updated_at = NOW() WHERE id = $1`,
		referralID, cents,
	)
	if err != nil {
		return fmt.Errorf("increment total paid: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAccountNotFound
	}
	return nil
}

// IncrementTotalPaid увеличивает total_paid аккаунта. Неположительная сумма отклоняется.
func (r *PostgresRepository) IncrementTotalPaid(ctx context.Context, referralID int64, amount decimal.Decimal) error {
	return r.inTx(ctx, func(tx pgx.Tx) error {
		return incrementTotalPaidTx(ctx, tx, referralID, amount)
	})
}

// RecordManualPayout записывает ручную выплату и сразу увеличивает total_paid в одной транзакции.
func (r *PostgresRepository) RecordManualPayout(ctx context.Context, ev *model.PayoutEvent) (int64, error) {
	if ev.ReferralID == nil {
		return 0, ErrAccountNotFound
	}
	if money.ToMinor(ev.Amount) <= 0 {
		return 0, ErrInvalidAmount
	}
	ev.Status = model.PayoutStatusManual

	var id int64
	err := r.inTx(ctx, func(tx pgx.Tx) error {
		var err error
		id, err = appendPayoutEventTx(ctx, tx, ev)
		if err != nil {
			return err
		}
		return incrementTotalPaidTx(ctx, tx, *ev.ReferralID, ev.Amount)
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// PendingTotal возвращает сумму переводов аккаунта, ещё не подтверждённых процессором.
func (r *PostgresRepository) PendingTotal(ctx context.Context, referralID int64) (decimal.Decimal, error) {
	var cents int64
	err := r.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(amount_cents), 0)::BIGINT
		 FROM payout_events
		 WHERE referral_id = $1 AND status IN ('pending', 'created')`,
		referralID,
	).Scan(&cents)
	if err != nil {
		return decimal.Zero, fmt.Errorf("sum pending payouts: %w", err)
	}
	return money.FromMinor(cents), nil
}

// ApplyPayoutTransition находит последнее событие выплаты по идентификаторам процессора и
// применяет к нему статус по правилам model.PlanTransition. total_paid увеличивается только при
// переходе из неуспешного статуса в успешный. Возвращает применённый план перехода и
// matched=false, если событие не найдено.
func (r *PostgresRepository) ApplyPayoutTransition(ctx context.Context, m model.PayoutMatcher, status model.PayoutStatus, fields model.TransitionFields) (model.Transition, bool, error) {
	if m.Empty() {
		return model.Transition{}, false, nil
	}

	var (
		plan    model.Transition
		matched bool
	)
	err := r.inTx(ctx, func(tx pgx.Tx) error {
		plan, matched = model.Transition{}, false

		var (
			id          int64
			referralID  *int64
			amountCents int64
			prior       string
			payoutRef   *string
		)
		err := tx.QueryRow(ctx,
			`SELECT id, referral_id, amount_cents, status, payout_ref
			 FROM payout_events
			 WHERE ($1 <> '' AND transfer_ref = $1) OR ($2 <> '' AND payout_ref = $2)
			 ORDER BY created_at DESC, id DESC
			 LIMIT 1
			 FOR UPDATE`,
			m.TransferRef, m.PayoutRef,
		).Scan(&id, &referralID, &amountCents, &prior, &payoutRef)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil
			}
			return fmt.Errorf("select payout event: %w", err)
		}
		matched = true

		plan = model.PlanTransition(model.PayoutStatus(prior), status)
		if plan.Apply {
			_, err = tx.Exec(ctx,
				`UPDATE payout_events
				 SET status = $2,
				     payout_ref = COALESCE($3, payout_ref),
				     failure_code = COALESCE($4, failure_code),
				     failure_message = COALESCE($5, failure_message),
				     updated_at = NOW()
				 WHERE id = $1`,
				id, string(status), fields.PayoutRef, fields.FailureCode, fields.FailureMessage,
			)
			if err != nil {
				return fmt.Errorf("update payout event: %w", err)
			}
		} else if payoutRef == nil && fields.PayoutRef != nil {
			_, err = tx.Exec(ctx,
				`UPDATE payout_events SET payout_ref = $2, updated_at = NOW() WHERE id = $1`,
				id, *fields.PayoutRef,
			)
			if err != nil {
				return fmt.Errorf("update payout ref: %w", err)
			}
		}

		if plan.Credit && referralID != nil && amountCents > 0 {
			return incrementTotalPaidTx(ctx, tx, *referralID, money.FromMinor(amountCents))
		}
		return nil
	})
	if err != nil {
		return model.Transition{}, false, err
	}
	return plan, matched, nil
}

// PayoutFilter ограничивает выборку событий выплат.
type PayoutFilter struct {
	OwnerID string
	Limit   int
}

// ListPayouts возвращает события выплат, новые первыми.
func (r *PostgresRepository) ListPayouts(ctx context.Context, f PayoutFilter) ([]model.PayoutEvent, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 500
	}

	rows, err := r.pool.Query(ctx,
		`SELECT id, referral_id, owner_id, amount_cents, currency, status, transfer_ref, payout_ref,
		        failure_code, failure_message, metadata, created_at, updated_at
		 FROM payout_events
		 WHERE $1 = '' OR owner_id = $1
		 ORDER BY created_at DESC, id DESC
		 LIMIT $2`,
		f.OwnerID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("select payout events: %w", err)
	}
	defer rows.Close()

	var res []model.PayoutEvent
	for rows.Next() {
		var (
			ev          model.PayoutEvent
			amountCents int64
			status      string
		)
		if err := rows.Scan(&ev.ID, &ev.ReferralID, &ev.OwnerID, &amountCents, &ev.Currency, &status,
			&ev.TransferRef, &ev.PayoutRef, &ev.FailureCode, &ev.FailureMessage, &ev.Metadata,
			&ev.CreatedAt, &ev.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan payout event: %w", err)
		}
		ev.Amount = money.FromMinor(amountCents)
		ev.Status = model.PayoutStatus(status)
		res = append(res, ev)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}
