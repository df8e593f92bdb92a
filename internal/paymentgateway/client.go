package paymentgateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	paymentgatewaytypes "github.com/frahmantamala/thematic-predictions/internal/core/datamodel/paymentgateway"
)

const expirationLayout = "2006-01-02T15:04:05.000-07:00"

var (
	// ErrNoMatchingIntent means the payment exists but does not settle any intent.
	ErrNoMatchingIntent = errors.New("payment does not match an approved intent")
	ErrInvalidPaymentID = errors.New("payment id is not numeric")
	ErrEmptyIntentID    = errors.New("gateway returned no intent id")
)

// StatusError carries a non-2xx gateway response.
type StatusError struct {
	Path       string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("gateway %s returned status %d: %s", e.Path, e.StatusCode, e.Body)
}

type Config struct {
	APIURL              string
	AccessToken         string
	PublicKey           string
	NotificationURL     string
	BackURL             string
	Currency            string
	StatementDescriptor string
	RequestTimeout      time.Duration
}

// Client talks to a Mercado Pago compatible checkout API.
type Client struct {
	apiURL              string
	accessToken         string
	publicKey           string
	notificationURL     string
	backURL             string
	currency            string
	statementDescriptor string
	requestTimeout      time.Duration
	httpClient          *http.Client
	logger              *slog.Logger
}

func NewClient(config Config, logger *slog.Logger) *Client {
	timeout := config.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	currency := config.Currency
	if currency == "" {
		currency = "BRL"
	}

	return &Client{
		apiURL:              strings.TrimRight(config.APIURL, "/"),
		accessToken:         config.AccessToken,
		publicKey:           config.PublicKey,
		notificationURL:     config.NotificationURL,
		backURL:             config.BackURL,
		currency:            currency,
		statementDescriptor: config.StatementDescriptor,
		requestTimeout:      timeout,
		httpClient:          &http.Client{Timeout: timeout},
		logger:              logger,
	}
}

func (c *Client) PublicKey() string {
	return c.publicKey
}

// CreateIntent opens a single-item checkout preference that stops accepting
// payments at req.ExpiresAt.
func (c *Client) CreateIntent(ctx context.Context, req *paymentgatewaytypes.IntentRequest) (*paymentgatewaytypes.Intent, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("validation error: %w", err)
	}

	pref := paymentgatewaytypes.PreferenceRequest{
		Items: []paymentgatewaytypes.PreferenceItem{{
			Title:      req.Title,
			Quantity:   1,
			UnitPrice:  json.Number(req.Amount.StringFixed(2)),
			CurrencyID: c.currency,
		}},
		NotificationURL:     c.notificationURL,
		StatementDescriptor: c.statementDescriptor,
		ExternalReference:   req.Reference,
		Expires:             true,
		ExpirationDateFrom:  time.Now().UTC().Format(expirationLayout),
		ExpirationDateTo:    req.ExpiresAt.UTC().Format(expirationLayout),
	}
	if c.backURL != "" {
		pref.BackURLs = &paymentgatewaytypes.BackURLs{Success: c.backURL, Failure: c.backURL, Pending: c.backURL}
		pref.AutoReturn = paymentgatewaytypes.AutoReturnApproved
	}

	var resp paymentgatewaytypes.PreferenceResponse
	if err := c.doJSON(ctx, http.MethodPost, "/checkout/preferences", pref, &resp); err != nil {
		c.logger.Error("create preference failed", "error", err, "reference", req.Reference)
		return nil, err
	}
	if resp.ID == "" {
		return nil, ErrEmptyIntentID
	}

	c.logger.Info("preference created", "intent_id", resp.ID, "reference", req.Reference, "amount", req.Amount.StringFixed(2))

	return &paymentgatewaytypes.Intent{
		ID:                 resp.ID,
		RedirectURL:        resp.InitPoint,
		SandboxRedirectURL: resp.SandboxInitPoint,
	}, nil
}

// ResolveIntentID maps an approved payment to the preference it settles.
func (c *Client) ResolveIntentID(ctx context.Context, paymentID string) (string, error) {
	paymentID = strings.TrimSpace(paymentID)
	if _, err := strconv.ParseInt(paymentID, 10, 64); err != nil {
		return "", ErrInvalidPaymentID
	}

	var payment paymentgatewaytypes.Payment
	if err := c.doJSON(ctx, http.MethodGet, "/v1/payments/"+paymentID, nil, &payment); err != nil {
		return "", err
	}
	if payment.Order.ID == "" {
		return "", ErrNoMatchingIntent
	}

	var order paymentgatewaytypes.MerchantOrder
	if err := c.doJSON(ctx, http.MethodGet, "/merchant_orders/"+payment.Order.ID.String(), nil, &order); err != nil {
		return "", err
	}

	if !strings.EqualFold(payment.Status, paymentgatewaytypes.PaymentStatusApproved) || order.PreferenceID == "" {
		c.logger.Info("payment does not settle an intent",
			"payment_id", paymentID,
			"payment_status", payment.Status,
			"merchant_order_id", payment.Order.ID.String())
		return "", ErrNoMatchingIntent
	}

	return order.PreferenceID, nil
}

// IsIntentApproved searches merchant orders created for the preference.
func (c *Client) IsIntentApproved(ctx context.Context, intentID string) (bool, error) {
	q := url.Values{}
	q.Set("preference_id", intentID)

	var search paymentgatewaytypes.MerchantOrderSearch
	if err := c.doJSON(ctx, http.MethodGet, "/merchant_orders/search?"+q.Encode(), nil, &search); err != nil {
		return false, err
	}
	for _, order := range search.Elements {
		if order.IsPaid() {
			return true, nil
		}
	}
	return false, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(payload)
	}

	ctx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, c.apiURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create HTTP request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.accessToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{Path: path, StatusCode: resp.StatusCode, Body: truncate(string(raw), 256)}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
