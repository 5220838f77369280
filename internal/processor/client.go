// Package processor предоставляет клиент Connect-API платёжного процессора.
package processor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-cleanhttp"

	"github.com/mmeshcher/referral-ledger/internal/secret"
)

// DefaultBaseURL содержит адрес API процессора по умолчанию.
const DefaultBaseURL = "https://api.stripe.com"

// DefaultTimeout ограничивает каждый сетевой вызов.
const DefaultTimeout = 20 * time.Second

const maxErrorBody = 64 << 10

// Client инкапсулирует HTTP-взаимодействие с процессором. Клиент не хранит изменяемого
// состояния и безопасен для параллельного использования; повторов не делает.
type Client struct {
	baseURL    string
	secrets    secret.Provider
	httpClient *http.Client
}

// NewClient создаёт клиент процессора. Секрет запрашивается у провайдера при каждом вызове.
func NewClient(baseURL string, secrets secret.Provider) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	httpClient := cleanhttp.DefaultPooledClient()
	httpClient.Timeout = DefaultTimeout

	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		secrets:    secrets,
		httpClient: httpClient,
	}
}

// Configured сообщает, задан ли секретный ключ.
func (c *Client) Configured(ctx context.Context) bool {
	key, err := c.secretKey(ctx)
	return err == nil && key != ""
}

// SubaccountParams описывает создаваемый подчинённый аккаунт.
type SubaccountParams struct {
	OwnerID string
	Email   string
	Country string
	Type    string
}

// Account описывает подчинённый аккаунт процессора.
type Account struct {
	ID             string            `json:"id"`
	Email          string            `json:"email"`
	ChargesEnabled bool              `json:"charges_enabled"`
	PayoutsEnabled bool              `json:"payouts_enabled"`
	Capabilities   map[string]string `json:"capabilities"`
}

// Link описывает одноразовую ссылку на онбординг или личный кабинет.
type Link struct {
	URL       string `json:"url"`
	ExpiresAt int64  `json:"expires_at"`
}

// Transfer описывает перевод с баланса платформы на подчинённый аккаунт. Суммы в минимальных единицах.
type Transfer struct {
	ID                 string            `json:"id"`
	Amount             int64             `json:"amount"`
	Currency           string            `json:"currency"`
	Destination        string            `json:"destination"`
	DestinationPayment string            `json:"destination_payment"`
	Reversed           bool              `json:"reversed"`
	Metadata           map[string]string `json:"metadata"`
}

// BalanceAmount содержит сумму баланса в одной валюте.
type BalanceAmount struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

// BalanceSnapshot содержит баланс платформы у процессора.
type BalanceSnapshot struct {
	Available []BalanceAmount `json:"available"`
	Pending   []BalanceAmount `json:"pending"`
}

// AvailableMinor возвращает доступную сумму в указанной валюте.
func (b *BalanceSnapshot) AvailableMinor(currency string) int64 {
	var total int64
	for _, a := range b.Available {
		if strings.EqualFold(a.Currency, currency) {
			total += a.Amount
		}
	}
	return total
}

// CreateSubaccount создаёт Express-аккаунт с возможностью принимать переводы.
func (c *Client) CreateSubaccount(ctx context.Context, p SubaccountParams) (*Account, error) {
	form := url.Values{}
	accountType := p.Type
	if accountType == "" {
		accountType = "express"
	}
	form.Set("type", accountType)
	if p.Country != "" {
		form.Set("country", strings.ToUpper(p.Country))
	}
	if p.Email != "" {
		form.Set("email", p.Email)
	}
	form.Set("capabilities[transfers][requested]", "true")
	if p.OwnerID != "" {
		form.Set("metadata[owner_id]", p.OwnerID)
	}

	var acc Account
	if err := c.do(ctx, http.MethodPost, "/v1/accounts", form, nil, &acc); err != nil {
		return nil, err
	}
	return &acc, nil
}

// CreateOnboardingLink создаёт ссылку на онбординг аккаунта.
func (c *Client) CreateOnboardingLink(ctx context.Context, accountRef, returnURL, refreshURL, linkType string) (*Link, error) {
	if linkType == "" {
		linkType = "account_onboarding"
	}
	form := url.Values{}
	form.Set("account", accountRef)
	form.Set("return_url", returnURL)
	form.Set("refresh_url", refreshURL)
	form.Set("type", linkType)

	var link Link
	if err := c.do(ctx, http.MethodPost, "/v1/account_links", form, nil, &link); err != nil {
		return nil, err
	}
	return &link, nil
}

// CreateDashboardLink создаёт ссылку входа в личный кабинет Express-аккаунта.
func (c *Client) CreateDashboardLink(ctx context.Context, accountRef string) (*Link, error) {
	var link Link
	path := "/v1/accounts/" + url.PathEscape(accountRef) + "/login_links"
	if err := c.do(ctx, http.MethodPost, path, url.Values{}, nil, &link); err != nil {
		return nil, err
	}
	return &link, nil
}

// CreateTransfer переводит amountMinor с баланса платформы на аккаунт destination.
func (c *Client) CreateTransfer(ctx context.Context, destination string, amountMinor int64, currency string, metadata map[string]string) (*Transfer, error) {
	if amountMinor <= 0 {
		return nil, &Error{Code: "invalid_amount", Message: "transfer amount must be positive"}
	}

	form := url.Values{}
	form.Set("amount", strconv.FormatInt(amountMinor, 10))
	form.Set("currency", strings.ToLower(currency))
	form.Set("destination", destination)

	keys := make([]string, 0, len(metadata))
	for k := range metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		form.Set("metadata["+k+"]", metadata[k])
	}

	headers := http.Header{}
	headers.Set("Idempotency-Key", uuid.NewString())

	var tr Transfer
	if err := c.do(ctx, http.MethodPost, "/v1/transfers", form, headers, &tr); err != nil {
		return nil, err
	}
	return &tr, nil
}

type reversal struct {
	ID       string `json:"id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Transfer string `json:"transfer"`
}

// CancelTransfer отменяет перевод полным сторнированием.
func (c *Client) CancelTransfer(ctx context.Context, transferRef string) (*Transfer, error) {
	var rev reversal
	path := "/v1/transfers/" + url.PathEscape(transferRef) + "/reversals"
	if err := c.do(ctx, http.MethodPost, path, url.Values{}, nil, &rev); err != nil {
		return nil, err
	}

	id := rev.Transfer
	if id == "" {
		id = transferRef
	}
	return &Transfer{
		ID:       id,
		Amount:   rev.Amount,
		Currency: rev.Currency,
		Reversed: true,
	}, nil
}

// GetBalance запрашивает баланс платформы.
func (c *Client) GetBalance(ctx context.Context) (*BalanceSnapshot, error) {
	var b BalanceSnapshot
	if err := c.do(ctx, http.MethodGet, "/v1/balance", nil, nil, &b); err != nil {
		return nil, err
	}
	return &b, nil
}

func (c *Client) secretKey(ctx context.Context) (string, error) {
	if c == nil || c.secrets == nil {
		return "", nil
	}
	return c.secrets.Secret(ctx)
}

func (c *Client) do(ctx context.Context, method, path string, form url.Values, headers http.Header, out any) error {
	key, err := c.secretKey(ctx)
	if err != nil {
		return &Error{Code: CodeNotConfigured, Message: fmt.Sprintf("read processor secret: %v", err)}
	}
	if key == "" {
		return &Error{Code: CodeNotConfigured, Message: "payment processor is not configured"}
	}

	var body io.Reader
	if form != nil && method != http.MethodGet {
		body = strings.NewReader(form.Encode())
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return &Error{Code: CodeTransport, Message: fmt.Sprintf("create request: %v", err)}
	}
	req.Header.Set("Authorization", "Bearer "+key)
	if body != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	for k, vs := range headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return transportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return responseError(resp)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &Error{Code: CodeDecode, Message: fmt.Sprintf("decode response: %v", err), HTTPStatus: resp.StatusCode}
	}
	return nil
}

func transportError(err error) *Error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return &Error{Code: CodeTimeout, Message: "payment processor request timed out"}
	}
	return &Error{Code: CodeTransport, Message: fmt.Sprintf("payment processor request failed: %v", err)}
}

func responseError(resp *http.Response) *Error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	var envelope struct {
		Error struct {
			Code    string `json:"code"`
			Type    string `json:"type"`
			Message string `json:"message"`
		} `json:"error"`
	}
	e := &Error{HTTPStatus: resp.StatusCode}
	if json.Unmarshal(raw, &envelope) == nil {
		e.Code = envelope.Error.Code
		if e.Code == "" {
			e.Code = envelope.Error.Type
		}
		e.Message = envelope.Error.Message
	}
	if e.Code == "" {
		e.Code = "http_" + strconv.Itoa(resp.StatusCode)
	}
	if e.Message == "" {
		e.Message = fmt.Sprintf("payment processor returned status %d", resp.StatusCode)
	}
	return e
}
