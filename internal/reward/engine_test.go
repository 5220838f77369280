package reward

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmeshcher/referral-ledger/internal/apperr"
	"github.com/mmeshcher/referral-ledger/internal/membership"
	"github.com/mmeshcher/referral-ledger/internal/model"
	"github.com/mmeshcher/referral-ledger/internal/repository"
)

type failingAuthority struct{}

func (failingAuthority) IsEligible(context.Context, model.Identity) (bool, error) {
	return false, errors.New("connection refused")
}

func (failingAuthority) HasActiveSubscription(context.Context, model.Identity) (bool, error) {
	return false, errors.New("connection refused")
}

// brokenCreditStore отказывает на записи начисления.
type brokenCreditStore struct {
	*repository.MemoryRepository
}

func (s brokenCreditStore) RedeemAndCredit(context.Context, *model.RedemptionEvent) (int64, error) {
	return 0, errors.New("tx aborted")
}

var owner = model.Identity{ID: "user-x", Email: "X@Example.com"}

func testPolicy() Policy {
	return Policy{
		Discount:   decimal.RequireFromString("10"),
		Reward:     decimal.RequireFromString("12.505"),
		CodePrefix: "ECOS",
	}
}

func newTestEngine(t *testing.T, auth membership.Authority) (*Engine, *repository.MemoryRepository) {
	t.Helper()
	repo := repository.NewMemoryRepository()
	return NewEngine(repo, auth, testPolicy(), nil), repo
}

func seedAccount(t *testing.T, repo *repository.MemoryRepository, who model.Identity, code string) *model.ReferralAccount {
	t.Helper()
	acc, err := repo.CreateAccount(context.Background(), who, code)
	require.NoError(t, err)
	return acc
}

func TestValidateCode(t *testing.T) {
	active := membership.Static{Eligible: true, Subscribed: true}

	tests := []struct {
		name      string
		auth      membership.Authority
		code      string
		requester model.Identity
		wantErr   error
	}{
		{name: "valid", auth: active, code: "ECOS-AB12CD34", requester: model.Identity{ID: "user-y"}},
		{name: "normalized", auth: active, code: "  ecos-ab12cd34 ", requester: model.Identity{ID: "user-y"}},
		{name: "unknown code", auth: active, code: "ECOS-FFFFFFFF", requester: model.Identity{ID: "user-y"}, wantErr: ErrCodeNotFound},
		{name: "malformed code", auth: active, code: "x", requester: model.Identity{ID: "user-y"}, wantErr: ErrCodeNotFound},
		{name: "self referral by id", auth: active, code: "ECOS-AB12CD34", requester: model.Identity{ID: "user-x"}, wantErr: ErrSelfReferral},
		{name: "self referral by email", auth: active, code: "ECOS-AB12CD34", requester: model.Identity{ID: "guest", Email: " x@example.COM"}, wantErr: ErrSelfReferral},
		{name: "owner lapsed", auth: membership.Static{Eligible: true}, code: "ECOS-AB12CD34", requester: model.Identity{ID: "user-y"}, wantErr: ErrOwnerNotEligible},
		{name: "membership outage", auth: failingAuthority{}, code: "ECOS-AB12CD34", requester: model.Identity{ID: "user-y"}, wantErr: ErrMembershipUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, repo := newTestEngine(t, tt.auth)
			seeded := seedAccount(t, repo, owner, "ECOS-AB12CD34")

			acc, err := e.ValidateCode(context.Background(), tt.code, tt.requester)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, acc)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, seeded.ID, acc.ID)
		})
	}
}

func TestValidateCode_SelfReferralForEveryOwnCode(t *testing.T) {
	e, repo := newTestEngine(t, membership.Static{Eligible: true, Subscribed: true})
	ctx := context.Background()

	for _, code := range []string{"ECOS-AB12CD34", "ECOS-00000001", "PROMO-1234ABCD"} {
		who := model.Identity{ID: "owner-" + code, Email: code + "@example.com"}
		seedAccount(t, repo, who, code)

		_, err := e.ValidateCode(ctx, code, who)
		assert.ErrorIs(t, err, ErrSelfReferral, code)
	}
}

func TestValidateCode_Inactive(t *testing.T) {
	inactive := &model.ReferralAccount{ID: 7, OwnerID: "user-x", Code: "ECOS-AB12CD34"}
	e := NewEngine(stubCodeStore{acc: inactive}, membership.Static{Eligible: true, Subscribed: true}, testPolicy(), nil)

	_, err := e.ValidateCode(context.Background(), "ECOS-AB12CD34", model.Identity{ID: "user-y"})
	assert.ErrorIs(t, err, ErrCodeInactive)
}

type stubCodeStore struct {
	Store
	acc *model.ReferralAccount
}

func (s stubCodeStore) GetAccountByCode(context.Context, string) (*model.ReferralAccount, error) {
	return s.acc, nil
}

func TestComputeAmounts(t *testing.T) {
	e, _ := newTestEngine(t, membership.Static{})
	assert.Equal(t, "10.00", e.ComputeDiscount().StringFixed(2))
	assert.Equal(t, "12.51", e.ComputeReward().StringFixed(2))

	p := testPolicy()
	p.RewardHook = func(base decimal.Decimal) decimal.Decimal { return base.Neg() }
	p.DiscountHook = func(base decimal.Decimal) decimal.Decimal { return base.Mul(decimal.NewFromInt(2)) }
	e = NewEngine(repository.NewMemoryRepository(), membership.Static{}, p, nil)
	assert.True(t, e.ComputeReward().IsZero())
	assert.Equal(t, "20.00", e.ComputeDiscount().StringFixed(2))
}

func TestRecordRedemption_CreditsExactlyOnce(t *testing.T) {
	e, repo := newTestEngine(t, membership.Static{Eligible: true, Subscribed: true})
	ctx := context.Background()
	acc := seedAccount(t, repo, owner, "ECOS-AB12CD34")

	order := "order-1"
	ev, err := e.RecordRedemption(ctx, acc.ID, &order, nil, decimal.NewFromInt(5), decimal.RequireFromString("7.5"))
	require.NoError(t, err)
	assert.NotZero(t, ev.ID)

	got, err := repo.GetAccountByID(ctx, acc.ID)
	require.NoError(t, err)
	assert.Equal(t, "7.50", got.EarnedCredits.StringFixed(2))

	events, err := repo.ListRedemptions(ctx, acc.ID)
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestRecordRedemption_StoreFailureLeavesNoTrace(t *testing.T) {
	repo := repository.NewMemoryRepository()
	ctx := context.Background()
	acc := seedAccount(t, repo, owner, "ECOS-AB12CD34")
	e := NewEngine(brokenCreditStore{repo}, membership.Static{Eligible: true, Subscribed: true}, testPolicy(), nil)

	_, err := e.RecordRedemption(ctx, acc.ID, nil, nil, decimal.NewFromInt(5), decimal.NewFromInt(5))
	assert.ErrorIs(t, err, &apperr.Error{Kind: apperr.KindStore})

	got, err := repo.GetAccountByID(ctx, acc.ID)
	require.NoError(t, err)
	assert.True(t, got.EarnedCredits.IsZero())

	events, err := repo.ListRedemptions(ctx, acc.ID)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestRecordRedemption_Validation(t *testing.T) {
	e, _ := newTestEngine(t, membership.Static{})

	_, err := e.RecordRedemption(context.Background(), 1, nil, nil, decimal.NewFromInt(-1), decimal.Zero)
	assert.ErrorIs(t, err, ErrInvalidAmount)

	_, err = e.RecordRedemption(context.Background(), 42, nil, nil, decimal.Zero, decimal.NewFromInt(1))
	assert.ErrorIs(t, err, ErrAccountNotFound)
}

func TestRedeem(t *testing.T) {
	e, repo := newTestEngine(t, membership.Static{Eligible: true, Subscribed: true})
	ctx := context.Background()
	acc := seedAccount(t, repo, owner, "ECOS-AB12CD34")

	ev, err := e.Redeem(ctx, "ecos-ab12cd34", model.Identity{ID: "buyer"}, "order-9")
	require.NoError(t, err)
	require.NotNil(t, ev.OrderRef)
	assert.Equal(t, "order-9", *ev.OrderRef)
	require.NotNil(t, ev.RedeemerID)
	assert.Equal(t, "buyer", *ev.RedeemerID)
	assert.Equal(t, "10.00", ev.DiscountAmount.StringFixed(2))

	got, err := repo.GetAccountByID(ctx, acc.ID)
	require.NoError(t, err)
	assert.Equal(t, "12.51", got.EarnedCredits.StringFixed(2))

	_, err = e.Redeem(ctx, "ECOS-AB12CD34", owner, "order-10")
	assert.ErrorIs(t, err, ErrSelfReferral)
}

func TestEnsureCode(t *testing.T) {
	ctx := context.Background()

	t.Run("not eligible", func(t *testing.T) {
		e, _ := newTestEngine(t, membership.Static{})
		_, err := e.EnsureCode(ctx, owner)
		assert.ErrorIs(t, err, ErrOwnerNotEligible)
	})

	t.Run("retries on collision and is stable", func(t *testing.T) {
		e, repo := newTestEngine(t, membership.Static{Eligible: true, Subscribed: true})
		seedAccount(t, repo, model.Identity{ID: "other"}, "ECOS-00000001")

		candidates := []string{"ECOS-00000001", "ECOS-00000002"}
		e.newCode = func() string {
			c := candidates[0]
			candidates = candidates[1:]
			return c
		}

		code, err := e.EnsureCode(ctx, owner)
		require.NoError(t, err)
		assert.Equal(t, "ECOS-00000002", code)

		again, err := e.EnsureCode(ctx, owner)
		require.NoError(t, err)
		assert.Equal(t, code, again)
	})

	t.Run("generated code format", func(t *testing.T) {
		e, _ := newTestEngine(t, membership.Static{Eligible: true})
		code, err := e.EnsureCode(ctx, owner)
		require.NoError(t, err)
		assert.Regexp(t, `^ECOS-[0-9A-F]{8}$`, code)
	})
}

func TestRegenerateAllCodes(t *testing.T) {
	e, repo := newTestEngine(t, membership.Static{Eligible: true, Subscribed: true})
	ctx := context.Background()
	a := seedAccount(t, repo, model.Identity{ID: "a"}, "ECOS-AAAAAAAA")
	b := seedAccount(t, repo, model.Identity{ID: "b"}, "ECOS-BBBBBBBB")

	n, err := e.RegenerateAllCodes(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	for _, acc := range []*model.ReferralAccount{a, b} {
		got, err := repo.GetAccountByID(ctx, acc.ID)
		require.NoError(t, err)
		assert.NotEqual(t, acc.Code, got.Code)
	}

	_, err = e.RegenerateCode(ctx, "missing")
	assert.ErrorIs(t, err, ErrAccountNotFound)
}

func TestNoticeFlags(t *testing.T) {
	e, repo := newTestEngine(t, membership.Static{})
	ctx := context.Background()
	acc := seedAccount(t, repo, owner, "ECOS-AB12CD34")

	require.NoError(t, e.DismissNotice(ctx, owner.ID))
	got, err := repo.GetAccountByID(ctx, acc.ID)
	require.NoError(t, err)
	assert.True(t, got.NoticeDismissed)

	n, err := e.ResetNoticeFlags(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	assert.ErrorIs(t, e.DismissNotice(ctx, "missing"), ErrAccountNotFound)
}
