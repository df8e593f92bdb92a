package prediction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	apperrors "github.com/frahmantamala/thematic-predictions/internal"
	paymentgatewaytypes "github.com/frahmantamala/thematic-predictions/internal/core/datamodel/paymentgateway"
	"github.com/frahmantamala/thematic-predictions/internal/core/events"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"
)

const titlePrefix = "Previsão "

type Config struct {
	BaseAmount     decimal.Decimal
	DiscountRate   decimal.Decimal
	ValidityWindow time.Duration
	// ConfirmMaxAttempts bounds the read-modify-write loop of a transition.
	ConfirmMaxAttempts int
	// PollGatewayOnStatus lets a status query ask the gateway about a pending
	// intent. Off means webhooks are the only path to PAID.
	PollGatewayOnStatus bool
}

func DefaultConfig() Config {
	return Config{
		BaseAmount:         decimal.RequireFromString("5.90"),
		DiscountRate:       DefaultDiscountRate,
		ValidityWindow:     DefaultValidityWindow,
		ConfirmMaxAttempts: 3,
	}
}

type Service struct {
	cfg       Config
	repo      RepositoryAPI
	gateway   PaymentGateway
	generator *FulfillmentGenerator
	discount  *DiscountPolicy
	expiry    ExpiryPolicy
	publisher EventPublisher
	ledger    NotificationLedger
	logger    *slog.Logger
	now       func() time.Time

	// generations collapses concurrent fulfillment generation per intent;
	// messages keeps the generated text until the record settles.
	generations singleflight.Group
	messages    sync.Map
}

type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithEventPublisher(p EventPublisher) Option {
	return func(s *Service) { s.publisher = p }
}

func WithNotificationLedger(l NotificationLedger) Option {
	return func(s *Service) { s.ledger = l }
}

func NewService(cfg Config, repo RepositoryAPI, gateway PaymentGateway, generator *FulfillmentGenerator, logger *slog.Logger, opts ...Option) *Service {
	if cfg.ConfirmMaxAttempts < 1 {
		cfg.ConfirmMaxAttempts = 1
	}
	s := &Service{
		cfg:       cfg,
		repo:      repo,
		gateway:   gateway,
		generator: generator,
		expiry:    ExpiryPolicy{Window: cfg.ValidityWindow},
		logger:    logger,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.discount = NewDiscountPolicy(repo, cfg.DiscountRate, s.now)
	return s
}

// Create opens a new purchase, or hands back the caller's still-pending one
// when the token names it.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*CreateResult, error) {
	if appErr := req.Validate(); appErr != nil {
		return nil, appErr
	}
	theme, err := ParseTheme(req.Theme)
	if err != nil {
		return nil, err
	}
	sentiment, err := ParseSentiment(req.Sentiment)
	if err != nil {
		return nil, err
	}

	now := s.now()
	token := strings.TrimSpace(req.ActivePaymentToken)

	if token != "" {
		existing, err := s.repo.GetByIntentID(ctx, token)
		switch {
		case err == nil && existing.Status == StatusPendingPayment && !existing.IsExpired(now):
			s.logger.Info("reusing pending prediction", "intent_id", existing.IntentID, "prediction_id", existing.ID)
			return &CreateResult{Prediction: existing, PublicKey: s.gateway.PublicKey(), Reused: true}, nil
		case err != nil && !errors.Is(err, ErrRecordNotFound):
			s.logger.Error("failed to look up payment token", "error", err)
			return nil, apperrors.NewInternalError("failed to look up payment token", err)
		}
	}

	eligible, err := s.discount.IsEligible(ctx, token)
	if err != nil {
		s.logger.Error("failed to evaluate discount", "error", err)
		return nil, apperrors.NewInternalError("failed to evaluate discount", err)
	}
	finalAmount := s.discount.ComputeFinalAmount(s.cfg.BaseAmount, eligible)
	expiresAt := s.expiry.ExpiresAt(now)
	id := uuid.New()

	intent, err := s.gateway.CreateIntent(ctx, &paymentgatewaytypes.IntentRequest{
		Title:     titlePrefix + theme.Label(),
		Amount:    finalAmount,
		ExpiresAt: expiresAt,
		Reference: id.String(),
	})
	if err != nil || intent == nil || strings.TrimSpace(intent.ID) == "" {
		if err == nil {
			err = errors.New("gateway returned no intent id")
		}
		s.logger.Error("payment intent creation failed", "error", err, "prediction_id", id)
		return nil, apperrors.ErrGatewayUnavailable.WithCause(err)
	}

	p := &Prediction{
		ID:                 id,
		Theme:              theme,
		Sentiment:          sentiment,
		RequesterName:      strings.TrimSpace(req.RequesterName),
		PartnerName:        req.Partner(),
		Status:             StatusPendingPayment,
		IntentID:           intent.ID,
		RedirectURL:        intent.RedirectURL,
		SandboxRedirectURL: intent.SandboxRedirectURL,
		ExpiresAt:          expiresAt,
		DiscountApplied:    eligible,
		BaseAmount:         s.cfg.BaseAmount,
		FinalAmount:        finalAmount,
		CreatedAt:          now,
		UpdatedAt:          now,
	}

	if err := s.repo.Create(ctx, p); err != nil {
		s.logger.Error("failed to persist prediction", "error", err, "intent_id", p.IntentID)
		return nil, apperrors.NewInternalError("failed to persist prediction", err)
	}

	s.logger.Info("prediction created",
		"prediction_id", p.ID,
		"intent_id", p.IntentID,
		"final_amount", p.FinalAmount.StringFixed(2),
		"discount_applied", p.DiscountApplied)

	s.publish(ctx, events.NewPredictionCreatedEvent(p.ID.String(), p.IntentID, p.FinalAmount.StringFixed(2), p.DiscountApplied))

	return &CreateResult{Prediction: p, PublicKey: s.gateway.PublicKey()}, nil
}

func (s *Service) QueryStatus(ctx context.Context, intentID string) (*StatusView, error) {
	intentID = strings.TrimSpace(intentID)
	if intentID == "" {
		return nil, apperrors.ErrPredictionNotFound
	}

	p, err := s.repo.GetByIntentID(ctx, intentID)
	if err != nil {
		if errors.Is(err, ErrRecordNotFound) {
			return nil, apperrors.ErrPredictionNotFound
		}
		return nil, apperrors.NewInternalError("failed to load prediction", err)
	}

	if p.Status == StatusPendingPayment {
		if p.IsExpired(s.now()) {
			p, _, err = s.transition(ctx, p, StatusExpired, "", "status_query")
			if err != nil {
				return nil, apperrors.NewInternalError("failed to expire prediction", err)
			}
		} else if s.cfg.PollGatewayOnStatus {
			p = s.pollGateway(ctx, p)
		}
	}

	return &StatusView{
		IntentID:  p.IntentID,
		Status:    p.Status,
		ExpiresAt: p.ExpiresAt,
		Theme:     p.Theme,
		Message:   p.Message(),
		Active:    p.IsActive(s.now()),
	}, nil
}

// ConfirmFromWebhook applies a payment notification. Resolution failures and
// unknown intents are dropped without error; only internal faults return one.
func (s *Service) ConfirmFromWebhook(ctx context.Context, paymentID string) (Outcome, error) {
	paymentID = strings.TrimSpace(paymentID)
	if paymentID == "" {
		return OutcomeIgnored, nil
	}

	if s.ledger != nil && s.ledger.Seen(ctx, paymentID) {
		s.logger.Info("payment notification already settled", "payment_id", paymentID)
		return OutcomeDuplicate, nil
	}

	intentID, err := s.gateway.ResolveIntentID(ctx, paymentID)
	if err != nil {
		s.logger.Warn("payment notification did not resolve to an intent", "payment_id", paymentID, "error", err)
		return OutcomeIgnored, nil
	}

	p, err := s.repo.GetByIntentID(ctx, intentID)
	if err != nil {
		if errors.Is(err, ErrRecordNotFound) {
			s.logger.Info("payment notification for unknown intent", "payment_id", paymentID, "intent_id", intentID)
			return OutcomeUnknownIntent, nil
		}
		return OutcomeIgnored, fmt.Errorf("load prediction %s: %w", intentID, err)
	}

	_, outcome, err := s.transition(ctx, p, StatusPaid, paymentID, "webhook")
	if err != nil {
		return outcome, err
	}

	s.logger.Info("payment notification applied", "payment_id", paymentID, "intent_id", intentID, "outcome", outcome)

	if s.ledger != nil && outcome.IsTerminal() {
		s.ledger.Remember(ctx, paymentID, string(outcome))
	}
	return outcome, nil
}

// ExpireStale flips every overdue PENDING_PAYMENT record to EXPIRED.
func (s *Service) ExpireStale(ctx context.Context) (int64, error) {
	n, err := s.repo.ExpireStale(ctx, s.now())
	if err != nil {
		s.logger.Error("expiry sweep failed", "error", err)
		return 0, apperrors.NewInternalError("expiry sweep failed", err)
	}
	if n > 0 {
		s.logger.Info("expiry sweep completed", "expired", n)
		s.publish(ctx, events.NewPredictionsSweptEvent(n))
	}
	return n, nil
}

func (s *Service) Stats(ctx context.Context) (map[Status]int64, error) {
	counts, err := s.repo.CountByStatus(ctx)
	if err != nil {
		return nil, apperrors.NewInternalError("failed to count predictions", err)
	}
	return counts, nil
}

func (s *Service) pollGateway(ctx context.Context, p *Prediction) *Prediction {
	approved, err := s.gateway.IsIntentApproved(ctx, p.IntentID)
	if err != nil {
		s.logger.Warn("gateway approval lookup failed", "intent_id", p.IntentID, "error", err)
		return p
	}
	if !approved {
		return p
	}
	updated, _, err := s.transition(ctx, p, StatusPaid, "", "status_poll")
	if err != nil {
		s.logger.Error("confirmation from status poll failed", "intent_id", p.IntentID, "error", err)
		return p
	}
	return updated
}

// transition is the single routine that moves a record out of
// PENDING_PAYMENT. A record already past its expiry can only become EXPIRED.
// On a revision conflict the record is re-read and the decision is taken
// again, at most cfg.ConfirmMaxAttempts times.
func (s *Service) transition(ctx context.Context, p *Prediction, target Status, paymentID, trigger string) (*Prediction, Outcome, error) {
	var message string

	for attempt := 1; attempt <= s.cfg.ConfirmMaxAttempts; attempt++ {
		if attempt > 1 {
			fresh, err := s.repo.GetByIntentID(ctx, p.IntentID)
			if err != nil {
				return p, OutcomeIgnored, fmt.Errorf("reload prediction %s: %w", p.IntentID, err)
			}
			p = fresh
		}

		switch p.Status {
		case StatusPaid:
			return p, OutcomeAlreadyPaid, nil
		case StatusExpired:
			return p, OutcomeExpired, nil
		}

		now := s.now()
		if target == StatusPaid && message == "" && !p.IsExpired(now) {
			current, generated, err := s.fulfillmentFor(ctx, p)
			if err != nil {
				return p, OutcomeIgnored, err
			}
			switch current.Status {
			case StatusPaid:
				return current, OutcomeAlreadyPaid, nil
			case StatusExpired:
				return current, OutcomeExpired, nil
			}
			if current.Revision > p.Revision {
				p = current
			}
			message = generated
		}

		next := *p
		var outcome Outcome

		switch {
		case next.IsExpired(now):
			if err := next.Expire(now); err != nil {
				return p, OutcomeIgnored, err
			}
			outcome = OutcomeExpired
		case target == StatusPaid:
			if err := next.MarkPaid(message, now); err != nil {
				return p, OutcomeIgnored, err
			}
			outcome = OutcomePaid
		default:
			return p, OutcomeIgnored, nil
		}

		err := s.repo.Save(ctx, &next, p.Revision)
		if err == nil {
			s.messages.Delete(p.IntentID)
			s.afterTransition(ctx, &next, outcome, paymentID, trigger)
			return &next, outcome, nil
		}
		if !errors.Is(err, ErrRevisionConflict) {
			return p, OutcomeIgnored, fmt.Errorf("save prediction %s: %w", p.IntentID, err)
		}
		s.logger.Debug("revision conflict, retrying", "intent_id", p.IntentID, "attempt", attempt, "revision", p.Revision)
	}

	s.logger.Error("reconciliation retries exhausted",
		"intent_id", p.IntentID,
		"payment_id", paymentID,
		"attempts", s.cfg.ConfirmMaxAttempts)
	s.messages.Delete(p.IntentID)
	s.publish(ctx, events.NewReconciliationFailedEvent(p.IntentID, paymentID, s.cfg.ConfirmMaxAttempts, "revision conflict"))
	return p, OutcomeIgnored, apperrors.ErrConflictRetryExhausted
}

type fulfillment struct {
	current Prediction
	message string
}

// fulfillmentFor returns the stored record and, while it is pending, the
// message to put on it. Confirmations of one intent share one generation:
// joiners wait on the flight and latecomers reuse the kept message.
// The kept message is checked before the re-read and dropped when a
// transition is saved or gives up.
func (s *Service) fulfillmentFor(ctx context.Context, p *Prediction) (*Prediction, string, error) {
	v, err, _ := s.generations.Do(p.IntentID, func() (interface{}, error) {
		if kept, ok := s.messages.Load(p.IntentID); ok {
			return fulfillment{current: *p, message: kept.(string)}, nil
		}

		detached := context.WithoutCancel(ctx)
		current, err := s.repo.GetByIntentID(detached, p.IntentID)
		if err != nil {
			return nil, fmt.Errorf("reload prediction %s: %w", p.IntentID, err)
		}
		if current.Status != StatusPendingPayment {
			s.messages.Delete(p.IntentID)
			return fulfillment{current: *current}, nil
		}

		msg := s.generator.Generate(detached, current.Theme, current.RequesterName, current.PartnerName, current.Sentiment)
		s.messages.Store(p.IntentID, msg)
		return fulfillment{current: *current, message: msg}, nil
	})
	if err != nil {
		return p, "", err
	}
	f := v.(fulfillment)
	current := f.current
	return &current, f.message, nil
}

func (s *Service) afterTransition(ctx context.Context, p *Prediction, outcome Outcome, paymentID, trigger string) {
	switch outcome {
	case OutcomePaid:
		s.logger.Info("prediction paid", "intent_id", p.IntentID, "prediction_id", p.ID, "revision", p.Revision, "trigger", trigger)
		s.publish(ctx, events.NewPredictionPaidEvent(p.ID.String(), p.IntentID, paymentID, p.Revision))
	case OutcomeExpired:
		s.logger.Info("prediction expired", "intent_id", p.IntentID, "prediction_id", p.ID, "trigger", trigger)
		s.publish(ctx, events.NewPredictionExpiredEvent(p.ID.String(), p.IntentID, trigger))
	}
}

func (s *Service) publish(ctx context.Context, event events.Event) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.Warn("failed to publish event", "event_type", event.EventType(), "error", err)
	}
}
