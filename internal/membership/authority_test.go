package membership

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmeshcher/referral-ledger/internal/model"
)

func newMembershipServer(t *testing.T, members map[string]Member) *httptest.Server {
	t.Helper()

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer svc-token", r.Header.Get("Authorization"))

		id := r.URL.Path[len("/members/"):]
		m, ok := members[id]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(m)
	}))
}

func TestHTTPAuthority_Eligibility(t *testing.T) {
	ts := newMembershipServer(t, map[string]Member{
		"1": {ID: "1", LevelID: 3, LevelSlug: "silver", Active: true},
		"2": {ID: "2", LevelID: 5, LevelSlug: "gold", Active: true},
		"3": {ID: "3", LevelID: 7, LevelSlug: "bronze", Active: true},
		"4": {ID: "4", LevelID: 3, LevelSlug: "silver", Active: false},
	})
	defer ts.Close()

	a := NewHTTPAuthority(ts.URL, "svc-token", []model.LevelRef{model.LevelID(3), model.LevelSlug("gold")})
	ctx := context.Background()

	tests := []struct {
		id       string
		eligible bool
	}{
		{id: "1", eligible: true},
		{id: "2", eligible: true},
		{id: "3", eligible: false},
		{id: "4", eligible: false},
		{id: "404", eligible: false},
	}

	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			ok, err := a.IsEligible(ctx, model.Identity{ID: tt.id})
			require.NoError(t, err)
			assert.Equal(t, tt.eligible, ok)
		})
	}
}

func TestHTTPAuthority_ActiveSubscription(t *testing.T) {
	ts := newMembershipServer(t, map[string]Member{
		"1": {ID: "1", LevelID: 3, Active: true},
		"2": {ID: "2", LevelID: 3, Active: false},
	})
	defer ts.Close()

	a := NewHTTPAuthority(ts.URL, "svc-token", nil)

	ok, err := a.HasActiveSubscription(context.Background(), model.Identity{ID: "1"})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = a.HasActiveSubscription(context.Background(), model.Identity{ID: "2"})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestHTTPAuthority_UpstreamFailure(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer ts.Close()

	a := NewHTTPAuthority(ts.URL, "", nil)

	_, err := a.HasActiveSubscription(context.Background(), model.Identity{ID: "1"})
	assert.Error(t, err)
}
