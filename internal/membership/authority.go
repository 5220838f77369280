// Package membership описывает внешний источник сведений о членстве участников.
package membership

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-cleanhttp"

	"github.com/mmeshcher/referral-ledger/internal/model"
)

// Authority отвечает, может ли участник пользоваться реферальной программой.
type Authority interface {
	IsEligible(ctx context.Context, who model.Identity) (bool, error)
	HasActiveSubscription(ctx context.Context, who model.Identity) (bool, error)
}

// Member описывает ответ сервиса членства.
type Member struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	LevelID   int    `json:"level_id"`
	LevelSlug string `json:"level_slug"`
	Active    bool   `json:"active"`
}

// HTTPAuthority запрашивает сведения о членстве у внешнего сервиса по HTTP.
type HTTPAuthority struct {
	baseURL    string
	token      string
	eligible   []model.LevelRef
	httpClient *http.Client
}

// NewHTTPAuthority создаёт клиент сервиса членства. Пустой список eligible означает,
// что подходит любой уровень с активной подпиской.
func NewHTTPAuthority(baseURL, token string, eligible []model.LevelRef) *HTTPAuthority {
	httpClient := cleanhttp.DefaultPooledClient()
	httpClient.Timeout = 10 * time.Second

	return &HTTPAuthority{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		eligible:   eligible,
		httpClient: httpClient,
	}
}

// IsEligible реализует Authority.
func (a *HTTPAuthority) IsEligible(ctx context.Context, who model.Identity) (bool, error) {
	m, err := a.member(ctx, who)
	if err != nil || m == nil {
		return false, err
	}
	if !m.Active {
		return false, nil
	}
	if len(a.eligible) == 0 {
		return true, nil
	}
	for _, ref := range a.eligible {
		if ref.Matches(m.LevelID, m.LevelSlug) {
			return true, nil
		}
	}
	return false, nil
}

// HasActiveSubscription реализует Authority.
func (a *HTTPAuthority) HasActiveSubscription(ctx context.Context, who model.Identity) (bool, error) {
	m, err := a.member(ctx, who)
	if err != nil || m == nil {
		return false, err
	}
	return m.Active, nil
}

func (a *HTTPAuthority) member(ctx context.Context, who model.Identity) (*Member, error) {
	if who.ID == "" {
		return nil, nil
	}

	base := a.baseURL
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/members/"+url.PathEscape(who.ID), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if a.token != "" {
		req.Header.Set("Authorization", "Bearer "+a.token)
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	var m Member
	if err := json.NewDecoder(resp.Body).Decode(&m); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &m, nil
}

// Static отдаёт фиксированный ответ. Используется для локального запуска без сервиса членства.
type Static struct {
	Eligible   bool
	Subscribed bool
}

// IsEligible реализует Authority.
func (s Static) IsEligible(context.Context, model.Identity) (bool, error) { return s.Eligible, nil }

// HasActiveSubscription реализует Authority.
func (s Static) HasActiveSubscription(context.Context, model.Identity) (bool, error) {
	return s.Subscribed, nil
}
