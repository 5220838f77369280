package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/referral-ledger/internal/apperr"
	"github.com/mmeshcher/referral-ledger/internal/middleware"
	"github.com/mmeshcher/referral-ledger/internal/model"
	"github.com/mmeshcher/referral-ledger/internal/payout"
	"github.com/mmeshcher/referral-ledger/internal/processor"
	"github.com/mmeshcher/referral-ledger/internal/reward"
	"github.com/mmeshcher/referral-ledger/internal/webhook"
)

const (
	testServiceToken = "svc-token"
	testShareURL     = "https://shop.example.com/checkout"
)

type stubRewards struct {
	account     *model.ReferralAccount
	validateErr error
	summaryErr  error

	redemption *model.RedemptionEvent
	redeemErr  error
	redeemer   model.Identity

	dismissed   string
	regenerated int
}

func (s *stubRewards) ValidateCode(ctx context.Context, code string, requester model.Identity) (*model.ReferralAccount, error) {
	return s.account, s.validateErr
}

func (s *stubRewards) ComputeDiscount() decimal.Decimal { return decimal.NewFromInt(5) }

func (s *stubRewards) ComputeReward() decimal.Decimal { return decimal.NewFromInt(10) }

func (s *stubRewards) Redeem(ctx context.Context, code string, requester model.Identity, orderRef string) (*model.RedemptionEvent, error) {
	s.redeemer = requester
	return s.redemption, s.redeemErr
}

func (s *stubRewards) Summary(ctx context.Context, owner model.Identity) (*model.ReferralAccount, error) {
	return s.account, s.summaryErr
}

func (s *stubRewards) DismissNotice(ctx context.Context, ownerID string) error {
	s.dismissed = ownerID
	return nil
}

func (s *stubRewards) RegenerateCode(ctx context.Context, ownerID string) (string, error) {
	return "ECOS-00000001", nil
}

func (s *stubRewards) RegenerateAllCodes(ctx context.Context) (int, error) {
	return s.regenerated, nil
}

func (s *stubRewards) ResetNoticeFlags(ctx context.Context) (int64, error) {
	return 3, nil
}

type stubPayouts struct {
	event       *model.PayoutEvent
	withdrawErr error
	requested   map[string]string

	batch []payout.BatchResult

	events  []model.PayoutEvent
	listErr error

	balance model.BalanceStatus
}

func (s *stubPayouts) RequestPayout(ctx context.Context, ownerID string, amount decimal.Decimal, currency string, metadata map[string]string) (*model.PayoutEvent, error) {
	s.requested = metadata
	return s.event, nil
}

func (s *stubPayouts) Withdraw(ctx context.Context, ownerID string, amount decimal.Decimal) (*model.PayoutEvent, error) {
	return s.event, s.withdrawErr
}

func (s *stubPayouts) PayOutstanding(ctx context.Context, ownerIDs []string) ([]payout.BatchResult, error) {
	return s.batch, nil
}

func (s *stubPayouts) RecordManualPayout(ctx context.Context, ownerID string, amount decimal.Decimal, currency, note string) (int64, error) {
	return 7, nil
}

func (s *stubPayouts) CancelPayout(ctx context.Context, transferRef string) error {
	if transferRef != "tr_1" {
		return payout.ErrTransferNotFound
	}
	return nil
}

func (s *stubPayouts) CheckBalanceSufficiency(ctx context.Context, required decimal.Decimal, currency string) model.BalanceStatus {
	st := s.balance
	st.Required = required
	return st
}

func (s *stubPayouts) StartOnboarding(ctx context.Context, owner model.Identity, returnURL, refreshURL string) (*processor.Link, error) {
	return &processor.Link{URL: "https://connect.example.com/setup"}, nil
}

func (s *stubPayouts) DashboardLink(ctx context.Context, ownerID string) (*processor.Link, error) {
	return nil, payout.ErrMissingAccount
}

func (s *stubPayouts) ListPayouts(ctx context.Context, ownerID string, limit int) ([]model.PayoutEvent, error) {
	return s.events, s.listErr
}

func (s *stubPayouts) Currency() string { return "eur" }

type stubWebhooks struct {
	result *webhook.Result
	err    error
}

func (s *stubWebhooks) Handle(ctx context.Context, payload []byte, signatureHeader string) (*webhook.Result, error) {
	return s.result, s.err
}

func (s *stubWebhooks) Recent(ctx context.Context, limit int) ([]model.WebhookLogEntry, error) {
	return []model.WebhookLogEntry{{ID: 1, EventType: "transfer.paid", SignatureValid: true, Outcome: model.WebhookOutcomeApplied}}, nil
}

type testServer struct {
	router   http.Handler
	handler  *Handler
	auth     *middleware.AuthMiddleware
	rewards  *stubRewards
	payouts  *stubPayouts
	webhooks *stubWebhooks
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	logger, err := zap.NewDevelopment()
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}

	rewards := &stubRewards{
		account: &model.ReferralAccount{
			ID:            1,
			OwnerID:       "owner",
			Code:          "ECOS-AB12CD34",
			EarnedCredits: decimal.NewFromInt(100),
			TotalPaid:     decimal.NewFromInt(40),
			IsActive:      true,
		},
	}

	transfer := "tr_1"
	payouts := &stubPayouts{
		event: &model.PayoutEvent{
			ID:          1,
			OwnerID:     "owner",
			Amount:      decimal.NewFromInt(40),
			Currency:    "eur",
			Status:      model.PayoutStatusPending,
			TransferRef: &transfer,
			CreatedAt:   time.Now(),
		},
	}

	s := &testServer{
		auth:     middleware.NewAuthMiddleware("test-secret"),
		rewards:  rewards,
		payouts:  payouts,
		webhooks: &stubWebhooks{},
	}

	h := NewHandler(s.rewards, s.payouts, s.webhooks, logger, s.auth, Options{
		ServiceToken: testServiceToken,
		ShareBaseURL: testShareURL,
	})
	s.handler = h
	s.router = h.SetupRouter()
	return s
}

func (s *testServer) do(t *testing.T, method, path string, body any, token string) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) member() string {
	return s.auth.Token(middleware.Principal{ID: "owner", Email: "owner@example.com"})
}

func (s *testServer) admin() string {
	return s.auth.Token(middleware.Principal{ID: "root", Role: middleware.RoleAdmin})
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, dst any) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(dst); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func TestValidateCode_RequiresServiceToken(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/checkout/validate", map[string]any{"code": "ECOS-AB12CD34"}, "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}

	rec = s.do(t, http.MethodPost, "/api/checkout/validate", map[string]any{"code": "ECOS-AB12CD34"}, "wrong")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}

func TestValidateCode_Success(t *testing.T) {
	s := newTestServer(t)

	body := map[string]any{"code": "ECOS-AB12CD34", "customer": map[string]string{"id": "buyer"}}
	rec := s.do(t, http.MethodPost, "/api/checkout/validate", body, testServiceToken)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	var resp validateResponse
	decodeBody(t, rec, &resp)
	if !resp.Valid || resp.Discount != "5.00" || resp.Reward != "10.00" || resp.ReferralID != 1 {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestValidateCode_Errors(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		body     map[string]any
		wantCode int
		wantErr  string
	}{
		{
			name:     "self referral",
			err:      reward.ErrSelfReferral,
			body:     map[string]any{"code": "ECOS-AB12CD34", "customer": map[string]string{"id": "owner"}},
			wantCode: http.StatusBadRequest,
			wantErr:  "self_referral",
		},
		{
			name:     "membership outage",
			err:      reward.ErrMembershipUnavailable,
			body:     map[string]any{"code": "ECOS-AB12CD34", "customer": map[string]string{"id": "buyer"}},
			wantCode: http.StatusServiceUnavailable,
		},
		{
			name:     "store failure hidden",
			err:      apperr.Store(errors.New("connection reset")),
			body:     map[string]any{"code": "ECOS-AB12CD34", "customer": map[string]string{"id": "buyer"}},
			wantCode: http.StatusInternalServerError,
			wantErr:  "store_error",
		},
		{
			name:     "missing code",
			body:     map[string]any{"customer": map[string]string{"id": "buyer"}},
			wantCode: http.StatusBadRequest,
			wantErr:  "validation_failed",
		},
		{
			name:     "malformed customer email",
			body:     map[string]any{"code": "ECOS-AB12CD34", "customer": map[string]string{"email": "not-an-email"}},
			wantCode: http.StatusBadRequest,
			wantErr:  "validation_failed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t)
			s.rewards.validateErr = tt.err

			rec := s.do(t, http.MethodPost, "/api/checkout/validate", tt.body, testServiceToken)
			if rec.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantCode)
			}

			var resp errorResponse
			decodeBody(t, rec, &resp)
			if tt.wantErr != "" && resp.Error != tt.wantErr {
				t.Fatalf("error = %q, want %q", resp.Error, tt.wantErr)
			}
			if strings.Contains(resp.Message, "connection reset") {
				t.Fatalf("store details leaked: %q", resp.Message)
			}
		})
	}
}

func TestValidateCode_Guest(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/checkout/validate", map[string]any{"code": "ECOS-AB12CD34"}, testServiceToken)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestCreateRedemption_Guest(t *testing.T) {
	s := newTestServer(t)
	order := "order-guest"
	s.rewards.redemption = &model.RedemptionEvent{
		ID:             10,
		ReferralID:     1,
		OrderRef:       &order,
		DiscountAmount: decimal.NewFromInt(5),
		RewardAmount:   decimal.NewFromInt(10),
	}

	body := map[string]any{"code": "ECOS-AB12CD34", "customer": map[string]string{"email": "guest@example.com"}, "order_ref": order}
	rec := s.do(t, http.MethodPost, "/api/checkout/redemptions", body, testServiceToken)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want %d: %s", rec.Code, http.StatusCreated, rec.Body.String())
	}
	if s.rewards.redeemer.ID != "" || s.rewards.redeemer.Email != "guest@example.com" {
		t.Fatalf("redeemer = %+v, want guest with email only", s.rewards.redeemer)
	}
}

func TestCreateRedemption(t *testing.T) {
	s := newTestServer(t)
	order := "order-1"
	s.rewards.redemption = &model.RedemptionEvent{
		ID:             9,
		ReferralID:     1,
		OrderRef:       &order,
		DiscountAmount: decimal.NewFromInt(5),
		RewardAmount:   decimal.NewFromInt(10),
	}

	body := map[string]any{"code": "ECOS-AB12CD34", "customer": map[string]string{"id": "buyer"}, "order_ref": order}
	rec := s.do(t, http.MethodPost, "/api/checkout/redemptions", body, testServiceToken)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusCreated)
	}

	var resp redemptionResponse
	decodeBody(t, rec, &resp)
	if resp.OrderRef != order || resp.Reward != "10.00" {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestGetReferral(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/api/member/referral", nil, "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}

	rec = s.do(t, http.MethodGet, "/api/member/referral", nil, s.member())
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	var resp referralResponse
	decodeBody(t, rec, &resp)
	if resp.Outstanding != "60.00" || resp.Paid != "40.00" || resp.Currency != "eur" {
		t.Fatalf("unexpected balance: %+v", resp)
	}
	if resp.ShareURL != testShareURL+"?ref=ECOS-AB12CD34" {
		t.Fatalf("share url = %q", resp.ShareURL)
	}
}

func TestDismissNotice_PrincipalFromContext(t *testing.T) {
	s := newTestServer(t)

	rec := httptest.NewRecorder()
	s.handler.DismissNotice(rec, httptest.NewRequest(http.MethodPost, "/api/member/referral/dismiss", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/member/referral/dismiss", nil)
	req = req.WithContext(middleware.WithPrincipal(req.Context(), middleware.Principal{ID: "owner"}))
	rec = httptest.NewRecorder()
	s.handler.DismissNotice(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusNoContent)
	}
	if s.rewards.dismissed != "owner" {
		t.Fatalf("dismissed = %q, want owner", s.rewards.dismissed)
	}
}

func TestGetReferral_NotEligible(t *testing.T) {
	s := newTestServer(t)
	s.rewards.summaryErr = reward.ErrOwnerNotEligible

	rec := s.do(t, http.MethodGet, "/api/member/referral", nil, s.member())
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestGetReferralQR(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/api/member/referral/qr", nil, s.member())
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "image/png" {
		t.Fatalf("content type = %q", ct)
	}
	if !bytes.HasPrefix(rec.Body.Bytes(), []byte("\x89PNG")) {
		t.Fatal("body is not a png")
	}
}

func TestDismissNotice(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/member/referral/notice/dismiss", nil, s.member())
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusNoContent)
	}
	if s.rewards.dismissed != "owner" {
		t.Fatalf("dismissed = %q", s.rewards.dismissed)
	}
}

func TestWithdraw(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/member/payouts", map[string]string{"amount": "40.00"}, s.member())
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusCreated)
	}
	var resp payoutResponse
	decodeBody(t, rec, &resp)
	if resp.Amount != "40.00" || resp.Status != "pending" || resp.TransferRef != "tr_1" {
		t.Fatalf("unexpected payout: %+v", resp)
	}

	rec = s.do(t, http.MethodPost, "/api/member/payouts", map[string]string{"amount": "forty"}, s.member())
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}

	s.payouts.withdrawErr = payout.ErrExceedsCredit
	rec = s.do(t, http.MethodPost, "/api/member/payouts", map[string]string{"amount": "500"}, s.member())
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
	var errResp errorResponse
	decodeBody(t, rec, &errResp)
	if errResp.Error != "exceeds_credit" {
		t.Fatalf("error = %q", errResp.Error)
	}

	s.payouts.withdrawErr = payout.ErrInsufficientPlatformBalance
	rec = s.do(t, http.MethodPost, "/api/member/payouts", map[string]string{"amount": "40"}, s.member())
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusConflict)
	}
}

func TestConnectLinks(t *testing.T) {
	s := newTestServer(t)

	body := map[string]string{"return_url": "https://shop.example.com/done", "refresh_url": "https://shop.example.com/retry"}
	rec := s.do(t, http.MethodPost, "/api/member/connect/onboarding", body, s.member())
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	rec = s.do(t, http.MethodPost, "/api/member/connect/onboarding", map[string]string{"return_url": "nope"}, s.member())
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}

	rec = s.do(t, http.MethodGet, "/api/member/connect/dashboard", nil, s.member())
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestAdmin_RequiresAdminRole(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/admin/notices/reset", nil, s.member())
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusForbidden)
	}

	rec = s.do(t, http.MethodPost, "/api/admin/notices/reset", nil, s.admin())
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestAdmin_CreateTransfer(t *testing.T) {
	s := newTestServer(t)

	body := map[string]string{"owner_id": "owner", "amount": "40", "note": "march"}
	rec := s.do(t, http.MethodPost, "/api/admin/transfers", body, s.admin())
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusCreated)
	}
	if s.payouts.requested["source"] != payout.SourceAdminManual || s.payouts.requested["requested_by"] != "root" {
		t.Fatalf("metadata = %v", s.payouts.requested)
	}
}

func TestAdmin_Batch(t *testing.T) {
	s := newTestServer(t)
	s.payouts.batch = []payout.BatchResult{
		{OwnerID: "owner", Amount: decimal.NewFromInt(60), Event: s.payouts.event},
		{OwnerID: "ghost", Err: payout.ErrAccountNotFound},
	}

	rec := s.do(t, http.MethodPost, "/api/admin/transfers/batch", map[string]any{}, s.admin())
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	var resp struct {
		Paid    int         `json:"paid"`
		Results []batchItem `json:"results"`
	}
	decodeBody(t, rec, &resp)
	if resp.Paid != 1 || len(resp.Results) != 2 {
		t.Fatalf("unexpected batch: %+v", resp)
	}
	if resp.Results[1].Error == nil || resp.Results[1].Error.Error != "account_not_found" {
		t.Fatalf("unexpected batch error: %+v", resp.Results[1])
	}
}

func TestAdmin_CancelTransfer(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/admin/transfers/tr_1/cancel", nil, s.admin())
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	rec = s.do(t, http.MethodPost, "/api/admin/transfers/tr_x/cancel", nil, s.admin())
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestAdmin_ManualPayout(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/admin/payouts/manual", map[string]string{"owner_id": "owner", "amount": "12.5"}, s.admin())
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusCreated)
	}

	rec = s.do(t, http.MethodPost, "/api/admin/payouts/manual", map[string]string{"amount": "12.5"}, s.admin())
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestAdmin_ExportPayouts(t *testing.T) {
	s := newTestServer(t)
	s.payouts.events = []model.PayoutEvent{*s.payouts.event}

	rec := s.do(t, http.MethodGet, "/api/admin/payouts/export", nil, s.admin())
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if !strings.Contains(rec.Header().Get("Content-Disposition"), ".xlsx") {
		t.Fatalf("content disposition = %q", rec.Header().Get("Content-Disposition"))
	}
	if !bytes.HasPrefix(rec.Body.Bytes(), []byte("PK")) {
		t.Fatal("body is not a zip container")
	}
}

func TestAdmin_Balance(t *testing.T) {
	s := newTestServer(t)
	s.payouts.balance = model.BalanceStatus{OK: true, Available: decimal.NewFromInt(250)}

	rec := s.do(t, http.MethodGet, "/api/admin/balance?required=100", nil, s.admin())
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	var resp balanceResponse
	decodeBody(t, rec, &resp)
	if !resp.OK || resp.Available != "250.00" || resp.Required != "100.00" || resp.Currency != "eur" {
		t.Fatalf("unexpected balance: %+v", resp)
	}

	s.payouts.balance = model.BalanceStatus{Err: errors.New("timeout")}
	rec = s.do(t, http.MethodGet, "/api/admin/balance", nil, s.admin())
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadGateway)
	}
}

func TestPaymentEvents(t *testing.T) {
	tests := []struct {
		name     string
		result   *webhook.Result
		err      error
		wantCode int
	}{
		{name: "applied", result: &webhook.Result{EventID: "evt_1", Outcome: model.WebhookOutcomeApplied}, wantCode: http.StatusOK},
		{name: "bad signature", err: webhook.ErrSignature, wantCode: http.StatusBadRequest},
		{name: "malformed", err: webhook.ErrMalformed, wantCode: http.StatusBadRequest},
		{name: "store failure", err: apperr.Store(errors.New("db down")), wantCode: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t)
			s.webhooks.result = tt.result
			s.webhooks.err = tt.err

			req := httptest.NewRequest(http.MethodPost, "/payments/events", strings.NewReader(`{"id":"evt_1"}`))
			req.Header.Set(SignatureHeader, "t=1,v1=00")
			rec := httptest.NewRecorder()
			s.router.ServeHTTP(rec, req)

			if rec.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantCode)
			}
			if tt.wantCode == http.StatusOK && !strings.Contains(rec.Body.String(), `"received":true`) {
				t.Fatalf("body = %s", rec.Body.String())
			}
		})
	}
}

func TestListWebhooks(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/api/admin/webhooks?limit=10", nil, s.admin())
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	var resp []webhookLogResponse
	decodeBody(t, rec, &resp)
	if len(resp) != 1 || resp[0].Outcome != "applied" {
		t.Fatalf("unexpected log: %+v", resp)
	}
}
