package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/mmeshcher/referral-ledger/internal/model"
	"github.com/mmeshcher/referral-ledger/internal/money"
)

const (
	constraintCode             = "referral_accounts_code_key"
	constraintProcessorAccount = "referral_accounts_processor_account_id_key"
)

const accountColumns = `id, owner_id, owner_email, code, earned_cents, total_paid_cents, is_active,
	notice_dismissed, processor_account_id, processor_capabilities, created_at, updated_at`

func scanAccount(row pgx.Row) (*model.ReferralAccount, error) {
	var (
		a           model.ReferralAccount
		earnedCents int64
		paidCents   int64
	)
	err := row.Scan(
		&a.ID, &a.OwnerID, &a.OwnerEmail, &a.Code, &earnedCents, &paidCents, &a.IsActive,
		&a.NoticeDismissed, &a.ProcessorAccountID, &a.ProcessorCapabilities, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	a.EarnedCredits = money.FromMinor(earnedCents)
	a.TotalPaid = money.FromMinor(paidCents)
	return &a, nil
}

func (r *PostgresRepository) getAccount(ctx context.Context, where string, arg any) (*model.ReferralAccount, error) {
	a, err := scanAccount(r.pool.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM referral_accounts WHERE `+where, arg))
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("get account: %w", err)
	}
	return a, nil
}

// GetAccountByID возвращает аккаунт по идентификатору.
func (r *PostgresRepository) GetAccountByID(ctx context.Context, id int64) (*model.ReferralAccount, error) {
	return r.getAccount(ctx, `id = $1`, id)
}

// GetAccountByCode возвращает аккаунт по реферальному коду.
func (r *PostgresRepository) GetAccountByCode(ctx context.Context, code string) (*model.ReferralAccount, error) {
	return r.getAccount(ctx, `code = $1`, code)
}

// GetAccountByOwner возвращает аккаунт владельца.
func (r *PostgresRepository) GetAccountByOwner(ctx context.Context, ownerID string) (*model.ReferralAccount, error) {
	return r.getAccount(ctx, `owner_id = $1`, ownerID)
}

// GetAccountByProcessorID возвращает аккаунт по идентификатору подчинённого аккаунта процессора.
func (r *PostgresRepository) GetAccountByProcessorID(ctx context.Context, processorAccountID string) (*model.ReferralAccount, error) {
	return r.getAccount(ctx, `processor_account_id = $1`, processorAccountID)
}

// ListAccounts возвращает все аккаунты в порядке создания.
func (r *PostgresRepository) ListAccounts(ctx context.Context) ([]model.ReferralAccount, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+accountColumns+` FROM referral_accounts ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("select accounts: %w", err)
	}
	defer rows.Close()

	var res []model.ReferralAccount
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		res = append(res, *a)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// CreateAccount создаёт аккаунт с кодом code. Если у владельца аккаунт уже есть, возвращает его.
// Если код занят, возвращает ErrCodeTaken.
func (r *PostgresRepository) CreateAccount(ctx context.Context, owner model.Identity, code string) (*model.ReferralAccount, error) {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO referral_accounts (owner_id, owner_email, code) VALUES ($1, $2, $3)
		 ON CONFLICT (owner_id) DO NOTHING`,
		owner.ID, owner.Email, code,
	)
	if err != nil {
		if isUniqueViolation(err, constraintCode) {
			return nil, fmt.Errorf("%w: %s", ErrCodeTaken, code)
		}
		return nil, fmt.Errorf("insert account: %w", err)
	}

	return r.GetAccountByOwner(ctx, owner.ID)
}

// RegenerateCode заменяет код владельца, блокируя строку аккаунта на время транзакции.
// Генератор вызывается повторно, пока код не окажется свободным.
func (r *PostgresRepository) RegenerateCode(ctx context.Context, ownerID string, generate func() string) (string, error) {
	var code string
	err := r.inTx(ctx, func(tx pgx.Tx) error {
		var id int64
		err := tx.QueryRow(ctx, `SELECT id FROM referral_accounts WHERE owner_id = $1 FOR UPDATE`, ownerID).Scan(&id)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrAccountNotFound
			}
			return fmt.Errorf("lock account for update: %w", err)
		}

		for i := 0; i < maxCodeAttempts; i++ {
			candidate := generate()
			ok, err := updateCodeSavepoint(ctx, tx, id, candidate)
			if err != nil {
				return err
			}
			if ok {
				code = candidate
				return nil
			}
		}
		return ErrCodeExhausted
	})
	if err != nil {
		return "", err
	}
	return code, nil
}

// updateCodeSavepoint пытается записать код внутри точки сохранения, чтобы конфликт
// уникальности не прерывал внешнюю транзакцию.
func updateCodeSavepoint(ctx context.Context, tx pgx.Tx, id int64, code string) (bool, error) {
	sp, err := tx.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("begin savepoint: %w", err)
	}
	defer sp.Rollback(ctx)

	_, err = sp.Exec(ctx, `UPDATE referral_accounts SET code = $2, updated_at = NOW() WHERE id = $1`, id, code)
	if err != nil {
		if isUniqueViolation(err, constraintCode) {
			return false, nil
		}
		return false, fmt.Errorf("update code: %w", err)
	}

	if err := sp.Commit(ctx); err != nil {
		return false, fmt.Errorf("release savepoint: %w", err)
	}
	return true, nil
}

// SetProcessorAccount привязывает подчинённый аккаунт процессора к владельцу.
func (r *PostgresRepository) SetProcessorAccount(ctx context.Context, ownerID, processorAccountID string) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE referral_accounts SET processor_account_id = $2, updated_at = NOW() WHERE owner_id = $1`,
		ownerID, processorAccountID,
	)
	if err != nil {
		if isUniqueViolation(err, constraintProcessorAccount) {
			return fmt.Errorf("%w: %s", ErrProcessorAccountTaken, processorAccountID)
		}
		return fmt.Errorf("update processor account: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAccountNotFound
	}
	return nil
}

// UpdateCapabilities сохраняет снимок возможностей аккаунта процессора.
// Возвращает false, если аккаунт не найден.
func (r *PostgresRepository) UpdateCapabilities(ctx context.Context, processorAccountID string, capabilities map[string]string) (bool, error) {
	if capabilities == nil {
		capabilities = map[string]string{}
	}
	tag, err := r.pool.Exec(ctx,
		`UPDATE referral_accounts SET processor_capabilities = $2, updated_at = NOW() WHERE processor_account_id = $1`,
		processorAccountID, capabilities,
	)
	if err != nil {
		return false, fmt.Errorf("update capabilities: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// SetNoticeDismissed сохраняет признак скрытого уведомления для владельца.
func (r *PostgresRepository) SetNoticeDismissed(ctx context.Context, ownerID string, dismissed bool) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE referral_accounts SET notice_dismissed = $2, updated_at = NOW() WHERE owner_id = $1`,
		ownerID, dismissed,
	)
	if err != nil {
		return fmt.Errorf("update notice flag: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAccountNotFound
	}
	return nil
}

// ResetNoticeFlags снимает признак скрытого уведомления у всех аккаунтов.
func (r *PostgresRepository) ResetNoticeFlags(ctx context.Context) (int64, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE referral_accounts SET notice_dismissed = FALSE, updated_at = NOW() WHERE notice_dismissed`)
	if err != nil {
		return 0, fmt.Errorf("reset notice flags: %w", err)
	}
	return tag.RowsAffected(), nil
}

// OutstandingTotal возвращает сумму невыплаченных начислений по активным аккаунтам,
// подключённым к процессору. Переводы в пути из суммы вычитаются.
func (r *PostgresRepository) OutstandingTotal(ctx context.Context) (decimal.Decimal, error) {
	var cents int64
	err := r.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(GREATEST(a.earned_cents - a.total_paid_cents - COALESCE(p.cents, 0), 0)), 0)::BIGINT
		 FROM referral_accounts a
		 LEFT JOIN (
		     SELECT referral_id, SUM(amount_cents) AS cents
		     FROM payout_events
		     WHERE status IN ('pending', 'created')
		     GROUP BY referral_id
		 ) p ON p.referral_id = a.id
		 WHERE a.is_active AND a.processor_account_id IS NOT NULL`,
	).Scan(&cents)
	if err != nil {
		return decimal.Zero, fmt.Errorf("sum outstanding: %w", err)
	}
	return money.FromMinor(cents), nil
}
