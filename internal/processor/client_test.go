package processor

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmeshcher/referral-ledger/internal/secret"
)

func TestCreateTransfer_OK(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/transfers", r.URL.Path)
		assert.Equal(t, "Bearer sk_test", r.Header.Get("Authorization"))
		assert.NotEmpty(t, r.Header.Get("Idempotency-Key"))

		require.NoError(t, r.ParseForm())
		assert.Equal(t, "4000", r.PostForm.Get("amount"))
		assert.Equal(t, "eur", r.PostForm.Get("currency"))
		assert.Equal(t, "acct_1", r.PostForm.Get("destination"))
		assert.Equal(t, "member", r.PostForm.Get("metadata[source]"))

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(Transfer{
			ID:                 "tr_1",
			Amount:             4000,
			Currency:           "eur",
			Destination:        "acct_1",
			DestinationPayment: "py_1",
		})
	}))
	defer ts.Close()

	client := NewClient(ts.URL, secret.Static("sk_test"))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	tr, err := client.CreateTransfer(ctx, "acct_1", 4000, "EUR", map[string]string{"source": "member"})
	require.NoError(t, err)
	assert.Equal(t, "tr_1", tr.ID)
	assert.Equal(t, "py_1", tr.DestinationPayment)
}

func TestCreateTransfer_UpstreamError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"code":"balance_insufficient","message":"Insufficient funds"}}`))
	}))
	defer ts.Close()

	client := NewClient(ts.URL, secret.Static("sk_test"))

	_, err := client.CreateTransfer(context.Background(), "acct_1", 100, "eur", nil)
	var pe *Error
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "balance_insufficient", pe.Code)
	assert.Equal(t, "Insufficient funds", pe.Message)
	assert.Equal(t, http.StatusBadRequest, pe.HTTPStatus)
}

func TestGetBalance_NonJSONError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("<html>bad gateway</html>"))
	}))
	defer ts.Close()

	client := NewClient(ts.URL, secret.Static("sk_test"))

	_, err := client.GetBalance(context.Background())
	var pe *Error
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "http_502", pe.Code)
}

func TestGetBalance_UnparseableBody(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("{not json"))
	}))
	defer ts.Close()

	client := NewClient(ts.URL, secret.Static("sk_test"))

	_, err := client.GetBalance(context.Background())
	var pe *Error
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, CodeDecode, pe.Code)
}

func TestGetBalance_AvailableByCurrency(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/balance", r.URL.Path)
		_, _ = w.Write([]byte(`{"available":[{"amount":5000,"currency":"eur"},{"amount":700,"currency":"usd"}],"pending":[]}`))
	}))
	defer ts.Close()

	client := NewClient(ts.URL, secret.Static("sk_test"))

	b, err := client.GetBalance(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(5000), b.AvailableMinor("EUR"))
	assert.Equal(t, int64(0), b.AvailableMinor("gbp"))
}

func TestClient_NotConfigured(t *testing.T) {
	client := NewClient("http://127.0.0.1:1", secret.Static(""))

	assert.False(t, client.Configured(context.Background()))

	_, err := client.GetBalance(context.Background())
	assert.True(t, IsNotConfigured(err))
}

func TestClient_Timeout(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}))
	defer ts.Close()

	client := NewClient(ts.URL, secret.Static("sk_test"))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := client.GetBalance(ctx)
	var pe *Error
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, CodeTimeout, pe.Code)
}

func TestCancelTransfer(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/transfers/tr_9/reversals", r.URL.Path)
		_, _ = w.Write([]byte(`{"id":"trr_1","amount":4000,"currency":"eur","transfer":"tr_9"}`))
	}))
	defer ts.Close()

	client := NewClient(ts.URL, secret.Static("sk_test"))

	tr, err := client.CancelTransfer(context.Background(), "tr_9")
	require.NoError(t, err)
	assert.Equal(t, "tr_9", tr.ID)
	assert.True(t, tr.Reversed)
}

func TestCreateOnboardingLink(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "acct_1", r.PostForm.Get("account"))
		assert.Equal(t, "account_onboarding", r.PostForm.Get("type"))
		_, _ = w.Write([]byte(`{"url":"https://connect.example/onboard","expires_at":1700000000}`))
	}))
	defer ts.Close()

	client := NewClient(ts.URL, secret.Static("sk_test"))

	link, err := client.CreateOnboardingLink(context.Background(), "acct_1", "https://site/return", "https://site/refresh", "")
	require.NoError(t, err)
	assert.Equal(t, "https://connect.example/onboard", link.URL)
}
