package paymentgateway

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

const (
	PaymentStatusApproved   = "approved"
	MerchantOrderStatusPaid = "paid"
	AutoReturnApproved      = "approved"
)

// IntentRequest is what the lifecycle asks the gateway to open.
type IntentRequest struct {
	Title     string
	Amount    decimal.Decimal
	ExpiresAt time.Time
	Reference string
}

func (r *IntentRequest) Validate() error {
	if r.Title == "" {
		return errors.New("title is required")
	}
	if !r.Amount.IsPositive() {
		return errors.New("amount must be greater than 0")
	}
	if r.ExpiresAt.IsZero() {
		return errors.New("expires_at is required")
	}
	return nil
}

// Intent is the gateway-side purchase intent (a checkout preference).
type Intent struct {
	ID                 string
	RedirectURL        string
	SandboxRedirectURL string
}

type PreferenceItem struct {
	Title      string      `json:"title"`
	Quantity   int         `json:"quantity"`
	UnitPrice  json.Number `json:"unit_price"`
	CurrencyID string      `json:"currency_id"`
}

type BackURLs struct {
	Success string `json:"success,omitempty"`
	Failure string `json:"failure,omitempty"`
	Pending string `json:"pending,omitempty"`
}

type PreferenceRequest struct {
	Items               []PreferenceItem `json:"items"`
	BackURLs            *BackURLs        `json:"back_urls,omitempty"`
	AutoReturn          string           `json:"auto_return,omitempty"`
	NotificationURL     string           `json:"notification_url,omitempty"`
	StatementDescriptor string           `json:"statement_descriptor,omitempty"`
	ExternalReference   string           `json:"external_reference,omitempty"`
	Expires             bool             `json:"expires"`
	ExpirationDateFrom  string           `json:"expiration_date_from,omitempty"`
	ExpirationDateTo    string           `json:"expiration_date_to,omitempty"`
}

type PreferenceResponse struct {
	ID               string `json:"id"`
	InitPoint        string `json:"init_point"`
	SandboxInitPoint string `json:"sandbox_init_point"`
}

type PaymentOrder struct {
	ID   json.Number `json:"id"`
	Type string      `json:"type"`
}

type Payment struct {
	ID     json.Number  `json:"id"`
	Status string       `json:"status"`
	Order  PaymentOrder `json:"order"`
}

type MerchantOrderPayment struct {
	ID     json.Number `json:"id"`
	Status string      `json:"status"`
}

type MerchantOrder struct {
	ID           json.Number            `json:"id"`
	PreferenceID string                 `json:"preference_id"`
	OrderStatus  string                 `json:"order_status"`
	Payments     []MerchantOrderPayment `json:"payments"`
}

// IsPaid reports whether the order is settled or holds an approved payment.
func (o MerchantOrder) IsPaid() bool {
	if o.OrderStatus == MerchantOrderStatusPaid {
		return true
	}
	for _, p := range o.Payments {
		if p.Status == PaymentStatusApproved {
			return true
		}
	}
	return false
}

type MerchantOrderSearch struct {
	Elements []MerchantOrder `json:"elements"`
}
