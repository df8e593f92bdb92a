package prediction

import (
	"context"
	"errors"
	"strings"
	"time"

	apperrors "github.com/frahmantamala/thematic-predictions/internal"
	"github.com/frahmantamala/thematic-predictions/internal/analyzer"
	paymentgatewaytypes "github.com/frahmantamala/thematic-predictions/internal/core/datamodel/paymentgateway"
	"github.com/frahmantamala/thematic-predictions/internal/core/events"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	ErrRecordNotFound    = errors.New("prediction record not found")
	ErrRevisionConflict  = errors.New("prediction revision conflict")
	ErrIllegalTransition = errors.New("illegal prediction status transition")
	ErrDuplicateIntent   = errors.New("intent id already assigned")
)

type Theme string

const (
	ThemeLove    Theme = "LOVE"
	ThemeWork    Theme = "WORK"
	ThemeFamily  Theme = "FAMILY"
	ThemeFriends Theme = "FRIENDS"
)

var themeTokens = map[string]Theme{
	"LOVE":     ThemeLove,
	"AMOR":     ThemeLove,
	"WORK":     ThemeWork,
	"TRABALHO": ThemeWork,
	"FAMILY":   ThemeFamily,
	"FAMILIA":  ThemeFamily,
	"FAMÍLIA":  ThemeFamily,
	"FRIENDS":  ThemeFriends,
	"AMIGOS":   ThemeFriends,
}

var themeLabels = map[Theme]string{
	ThemeLove:    "amor",
	ThemeWork:    "trabalho",
	ThemeFamily:  "familia",
	ThemeFriends: "amigos",
}

// ParseTheme accepts a case-insensitive token, surrounding blanks ignored.
func ParseTheme(token string) (Theme, error) {
	if t, ok := themeTokens[strings.ToUpper(strings.TrimSpace(token))]; ok {
		return t, nil
	}
	return "", apperrors.NewValidationFieldError("theme", "theme must be one of LOVE, WORK, FAMILY, FRIENDS", apperrors.ErrCodeInvalidTheme)
}

// Label is the lower-case word used in titles and messages.
func (t Theme) Label() string {
	if l, ok := themeLabels[t]; ok {
		return l
	}
	return strings.ToLower(string(t))
}

type Sentiment string

const (
	SentimentPositive Sentiment = "POSITIVE"
	SentimentNegative Sentiment = "NEGATIVE"
)

var sentimentTokens = map[string]Sentiment{
	"POSITIVE": SentimentPositive,
	"POSITIVO": SentimentPositive,
	"NEGATIVE": SentimentNegative,
	"NEGATIVO": SentimentNegative,
}

func ParseSentiment(token string) (Sentiment, error) {
	if s, ok := sentimentTokens[strings.ToUpper(strings.TrimSpace(token))]; ok {
		return s, nil
	}
	return "", apperrors.NewValidationFieldError("sentiment", "sentiment must be POSITIVE or NEGATIVE", apperrors.ErrCodeInvalidSentiment)
}

type Status string

const (
	StatusPendingPayment Status = "PENDING_PAYMENT"
	StatusPaid           Status = "PAID"
	StatusExpired        Status = "EXPIRED"
)

func (s Status) IsTerminal() bool {
	return s == StatusPaid || s == StatusExpired
}

// CanTransitionTo only allows PENDING_PAYMENT to move, and only to a terminal status.
func (s Status) CanTransitionTo(next Status) bool {
	return s == StatusPendingPayment && next.IsTerminal()
}

type Prediction struct {
	ID                     uuid.UUID
	Theme                  Theme
	Sentiment              Sentiment
	RequesterName          string
	PartnerName            *string
	Status                 Status
	IntentID               string
	RedirectURL            string
	SandboxRedirectURL     string
	ExpiresAt              time.Time
	DiscountApplied        bool
	BaseAmount             decimal.Decimal
	FinalAmount            decimal.Decimal
	FulfillmentMessage     *string
	FulfillmentGeneratedAt *time.Time
	CreatedAt              time.Time
	UpdatedAt              time.Time
	Revision               int64
}

func (p *Prediction) IsExpired(now time.Time) bool {
	return IsExpired(p.ExpiresAt, now)
}

// IsActive is true for a paid record still inside its validity window.
func (p *Prediction) IsActive(now time.Time) bool {
	return p.Status == StatusPaid && !p.IsExpired(now)
}

func (p *Prediction) MarkPaid(message string, at time.Time) error {
	if !p.Status.CanTransitionTo(StatusPaid) {
		return ErrIllegalTransition
	}
	if strings.TrimSpace(message) == "" {
		return errors.New("fulfillment message must not be empty")
	}
	p.Status = StatusPaid
	p.FulfillmentMessage = &message
	p.FulfillmentGeneratedAt = &at
	p.UpdatedAt = at
	return nil
}

func (p *Prediction) Expire(at time.Time) error {
	if !p.Status.CanTransitionTo(StatusExpired) {
		return ErrIllegalTransition
	}
	p.Status = StatusExpired
	p.UpdatedAt = at
	return nil
}

// Message returns the fulfillment text only once the record is paid.
func (p *Prediction) Message() string {
	if p.Status != StatusPaid || p.FulfillmentMessage == nil {
		return ""
	}
	return *p.FulfillmentMessage
}

type RepositoryAPI interface {
	Create(ctx context.Context, p *Prediction) error
	GetByID(ctx context.Context, id uuid.UUID) (*Prediction, error)
	GetByIntentID(ctx context.Context, intentID string) (*Prediction, error)
	// Save persists p only if the stored revision still equals expectedRevision,
	// returning ErrRevisionConflict otherwise. On success p.Revision is bumped.
	Save(ctx context.Context, p *Prediction, expectedRevision int64) error
	ExistsPaidAndActive(ctx context.Context, intentID string, now time.Time) (bool, error)
	ExpireStale(ctx context.Context, now time.Time) (int64, error)
	CountByStatus(ctx context.Context) (map[Status]int64, error)
}

type PaymentGateway interface {
	CreateIntent(ctx context.Context, req *paymentgatewaytypes.IntentRequest) (*paymentgatewaytypes.Intent, error)
	IsIntentApproved(ctx context.Context, intentID string) (bool, error)
	ResolveIntentID(ctx context.Context, paymentID string) (string, error)
	PublicKey() string
}

type TextAnalyzer interface {
	Analyze(ctx context.Context, subject string, texts []string) (*analyzer.Result, error)
}

type EventPublisher interface {
	Publish(ctx context.Context, event events.Event) error
}

// NotificationLedger remembers payment ids whose webhook reached a terminal outcome.
type NotificationLedger interface {
	Seen(ctx context.Context, paymentID string) bool
	Remember(ctx context.Context, paymentID, outcome string)
}

type ServiceAPI interface {
	Create(ctx context.Context, req CreateRequest) (*CreateResult, error)
	QueryStatus(ctx context.Context, intentID string) (*StatusView, error)
	ConfirmFromWebhook(ctx context.Context, paymentID string) (Outcome, error)
	ExpireStale(ctx context.Context) (int64, error)
	Stats(ctx context.Context) (map[Status]int64, error)
}
