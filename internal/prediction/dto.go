package prediction

import (
	"strings"
	"time"

	errors "github.com/frahmantamala/thematic-predictions/internal"
	"github.com/frahmantamala/thematic-predictions/internal/core/common/validation"
)

const (
	MaxNameLength = 120
)

type CreateRequest struct {
	Theme              string `json:"theme"`
	Sentiment          string `json:"sentiment"`
	RequesterName      string `json:"name"`
	PartnerName        string `json:"partner_name,omitempty"`
	ActivePaymentToken string `json:"active_payment_token,omitempty"`
}

func (r *CreateRequest) Validate() *errors.AppError {
	v := validation.NewValidator()
	v.Field("theme", r.Theme).Required()
	v.Field("sentiment", r.Sentiment).Required()
	v.Field("name", strings.TrimSpace(r.RequesterName)).Required().MaxLength(MaxNameLength)
	v.Field("partner_name", strings.TrimSpace(r.PartnerName)).MaxLength(MaxNameLength)
	return v.Validate()
}

// Partner returns the trimmed partner name, nil when blank.
func (r *CreateRequest) Partner() *string {
	p := strings.TrimSpace(r.PartnerName)
	if p == "" {
		return nil
	}
	return &p
}

type CreateResult struct {
	Prediction *Prediction
	PublicKey  string
	Reused     bool
}

type StatusView struct {
	IntentID  string
	Status    Status
	ExpiresAt time.Time
	Theme     Theme
	Message   string
	Active    bool
}

// Outcome describes what a webhook notification did.
type Outcome string

const (
	OutcomeIgnored       Outcome = "ignored"
	OutcomeUnknownIntent Outcome = "unknown_intent"
	OutcomeDuplicate     Outcome = "duplicate"
	OutcomeAlreadyPaid   Outcome = "already_paid"
	OutcomeExpired       Outcome = "expired"
	OutcomePaid          Outcome = "paid"
)

// IsTerminal reports whether redelivery of the same notification can be skipped.
func (o Outcome) IsTerminal() bool {
	return o == OutcomePaid || o == OutcomeAlreadyPaid || o == OutcomeExpired
}

type CreatePredictionResponse struct {
	IntentID           string    `json:"intent_id"`
	PredictionID       string    `json:"prediction_id"`
	RedirectURL        string    `json:"redirect_url"`
	SandboxRedirectURL string    `json:"sandbox_redirect_url"`
	ExpiresAt          time.Time `json:"expires_at"`
	DiscountApplied    bool      `json:"discount_applied"`
	BaseAmount         string    `json:"base_amount"`
	FinalAmount        string    `json:"final_amount"`
	Status             Status    `json:"status"`
	PublicKey          string    `json:"public_key"`
}

func NewCreatePredictionResponse(res *CreateResult) CreatePredictionResponse {
	p := res.Prediction
	return CreatePredictionResponse{
		IntentID:           p.IntentID,
		PredictionID:       p.ID.String(),
		RedirectURL:        p.RedirectURL,
		SandboxRedirectURL: p.SandboxRedirectURL,
		ExpiresAt:          p.ExpiresAt,
		DiscountApplied:    p.DiscountApplied,
		BaseAmount:         p.BaseAmount.StringFixed(2),
		FinalAmount:        p.FinalAmount.StringFixed(2),
		Status:             p.Status,
		PublicKey:          res.PublicKey,
	}
}

type StatusResponse struct {
	IntentID  string    `json:"intent_id"`
	Status    Status    `json:"status"`
	ExpiresAt time.Time `json:"expires_at"`
	Theme     Theme     `json:"theme"`
	Message   string    `json:"message,omitempty"`
	Active    bool      `json:"active"`
}

func NewStatusResponse(v *StatusView) StatusResponse {
	return StatusResponse{
		IntentID:  v.IntentID,
		Status:    v.Status,
		ExpiresAt: v.ExpiresAt,
		Theme:     v.Theme,
		Message:   v.Message,
		Active:    v.Active,
	}
}

type WebhookAck struct {
	Status string `json:"status"`
}

type ExpireResponse struct {
	Expired int64 `json:"expired"`
}

type StatsResponse struct {
	Counts map[Status]int64 `json:"counts"`
	Total  int64            `json:"total"`
}
