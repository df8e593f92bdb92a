package prediction_test

import (
	"context"
	"errors"
	"sync"
	"time"

	apperrors "github.com/frahmantamala/thematic-predictions/internal"
	"github.com/frahmantamala/thematic-predictions/internal/analyzer"
	"github.com/frahmantamala/thematic-predictions/internal/core/events"
	"github.com/frahmantamala/thematic-predictions/internal/prediction"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/shopspring/decimal"
)

var _ = Describe("Service", func() {
	var (
		ctx       context.Context
		repo      *mockRepository
		gateway   *mockGateway
		ai        *mockAnalyzer
		publisher *recordingPublisher
		ledger    *memoryLedger
		now       time.Time
		cfg       prediction.Config
		service   *prediction.Service
	)

	clock := func() time.Time { return now }

	build := func() {
		generator := prediction.NewFulfillmentGenerator(ai, testLogger())
		service = prediction.NewService(cfg, repo, gateway, generator, testLogger(),
			prediction.WithClock(clock),
			prediction.WithEventPublisher(publisher),
			prediction.WithNotificationLedger(ledger),
		)
	}

	pending := func(intentID string, expiresAt time.Time) prediction.Prediction {
		return prediction.Prediction{
			Theme:         prediction.ThemeLove,
			Sentiment:     prediction.SentimentPositive,
			RequesterName: "Ana",
			Status:        prediction.StatusPendingPayment,
			IntentID:      intentID,
			ExpiresAt:     expiresAt,
			BaseAmount:    decimal.RequireFromString("5.90"),
			FinalAmount:   decimal.RequireFromString("5.90"),
			CreatedAt:     now.Add(-time.Hour),
			UpdatedAt:     now.Add(-time.Hour),
		}
	}

	paid := func(intentID string, expiresAt time.Time) prediction.Prediction {
		p := pending(intentID, expiresAt)
		msg := "mensagem"
		at := now.Add(-time.Minute)
		p.Status = prediction.StatusPaid
		p.FulfillmentMessage = &msg
		p.FulfillmentGeneratedAt = &at
		p.Revision = 1
		return p
	}

	BeforeEach(func() {
		ctx = context.Background()
		repo = newMockRepository()
		gateway = newMockGateway()
		ai = &mockAnalyzer{err: errors.New("analyzer offline")}
		publisher = &recordingPublisher{}
		ledger = newMemoryLedger()
		now = time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
		cfg = prediction.DefaultConfig()
		build()
	})

	Describe("Create", func() {
		It("charges the base amount without a token", func() {
			// Given a WORK/POSITIVE request for Ana and no payment token
			req := prediction.CreateRequest{Theme: "WORK", Sentiment: "POSITIVE", RequesterName: "Ana"}

			// When the purchase is created
			res, err := service.Create(ctx, req)

			// Then the full price is charged and the record waits for payment
			Expect(err).NotTo(HaveOccurred())
			p := res.Prediction
			Expect(p.FinalAmount.Equal(decimal.RequireFromString("5.90"))).To(BeTrue())
			Expect(p.DiscountApplied).To(BeFalse())
			Expect(p.Status).To(Equal(prediction.StatusPendingPayment))
			Expect(p.Revision).To(BeZero())
			Expect(p.ExpiresAt).To(Equal(now.Add(1440 * time.Minute)))
			Expect(res.PublicKey).To(Equal("TEST-public-key"))
			Expect(res.Reused).To(BeFalse())

			// And the intent was opened with the theme title and the record id as reference
			Expect(gateway.requests).To(HaveLen(1))
			Expect(gateway.requests[0].Title).To(Equal("Previsão trabalho"))
			Expect(gateway.requests[0].Reference).To(Equal(p.ID.String()))
			Expect(gateway.requests[0].ExpiresAt).To(Equal(p.ExpiresAt))
			Expect(repo.get(p.IntentID).Status).To(Equal(prediction.StatusPendingPayment))
			Expect(publisher.ofType(events.EventTypePredictionCreated)).To(HaveLen(1))
		})

		It("applies the discount for a paid, unexpired token", func() {
			// Given a paid purchase that is still valid
			repo.put(paid("pref-paid", now.Add(time.Hour)))

			// When a new purchase presents it as the active payment token
			res, err := service.Create(ctx, prediction.CreateRequest{
				Theme: "amor", Sentiment: "negativo", RequesterName: "Ana", ActivePaymentToken: "pref-paid",
			})

			// Then 30% is taken off and rounded half-up to cents
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Prediction.DiscountApplied).To(BeTrue())
			Expect(res.Prediction.FinalAmount.StringFixed(2)).To(Equal("4.13"))
			Expect(gateway.requests[0].Amount.StringFixed(2)).To(Equal("4.13"))
		})

		It("does not discount an expired paid token", func() {
			// Given a paid purchase whose validity window is over
			repo.put(paid("pref-old", now.Add(-time.Second)))

			// When it is presented as the active token
			res, err := service.Create(ctx, prediction.CreateRequest{
				Theme: "LOVE", Sentiment: "POSITIVE", RequesterName: "Ana", ActivePaymentToken: "pref-old",
			})

			// Then the base price applies
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Prediction.DiscountApplied).To(BeFalse())
			Expect(res.Prediction.FinalAmount.StringFixed(2)).To(Equal("5.90"))
		})

		It("returns the pending purchase named by the token unchanged", func() {
			// Given a pending, unexpired purchase
			existing := pending("pref-pending", now.Add(time.Hour))
			repo.put(existing)
			stored := repo.get("pref-pending")

			// When the caller creates again with its intent id as token
			res, err := service.Create(ctx, prediction.CreateRequest{
				Theme: "FRIENDS", Sentiment: "NEGATIVE", RequesterName: "Bia", ActivePaymentToken: "pref-pending",
			})

			// Then the stored snapshot comes back without a gateway call or a new record
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Reused).To(BeTrue())
			Expect(res.Prediction.ID).To(Equal(stored.ID))
			Expect(res.Prediction.Theme).To(Equal(prediction.ThemeLove))
			Expect(gateway.createCalls()).To(BeZero())
			Expect(repo.count()).To(Equal(1))
		})

		It("rejects unknown theme tokens", func() {
			// When the theme is not part of the vocabulary
			_, err := service.Create(ctx, prediction.CreateRequest{Theme: "MONEY", Sentiment: "POSITIVE", RequesterName: "Ana"})

			// Then an invalid argument error is returned and nothing is opened
			appErr, ok := apperrors.IsAppError(err)
			Expect(ok).To(BeTrue())
			Expect(appErr.StatusCode).To(Equal(400))
			Expect(gateway.createCalls()).To(BeZero())
		})

		It("rejects a blank requester name", func() {
			_, err := service.Create(ctx, prediction.CreateRequest{Theme: "LOVE", Sentiment: "POSITIVE", RequesterName: "   "})

			appErr, ok := apperrors.IsAppError(err)
			Expect(ok).To(BeTrue())
			Expect(appErr.Code).To(Equal(apperrors.ErrCodeInvalidArgument))
		})

		It("rejects names longer than 120 characters", func() {
			long := make([]rune, 121)
			for i := range long {
				long[i] = 'á'
			}

			_, err := service.Create(ctx, prediction.CreateRequest{Theme: "LOVE", Sentiment: "POSITIVE", RequesterName: string(long)})

			Expect(err).To(HaveOccurred())
			Expect(gateway.createCalls()).To(BeZero())
		})

		It("reports the gateway as unavailable and persists nothing on failure", func() {
			// Given a gateway that cannot open intents
			gateway.createErr = errors.New("timeout")

			// When a purchase is created
			_, err := service.Create(ctx, prediction.CreateRequest{Theme: "LOVE", Sentiment: "POSITIVE", RequesterName: "Ana"})

			// Then the error is GatewayUnavailable and no record exists
			Expect(errors.Is(err, apperrors.ErrGatewayUnavailable)).To(BeTrue())
			Expect(repo.count()).To(BeZero())
		})

		It("treats an empty intent id as a gateway failure", func() {
			gateway.emptyIntent = true

			_, err := service.Create(ctx, prediction.CreateRequest{Theme: "LOVE", Sentiment: "POSITIVE", RequesterName: "Ana"})

			Expect(errors.Is(err, apperrors.ErrGatewayUnavailable)).To(BeTrue())
			Expect(repo.count()).To(BeZero())
		})

		It("fails when the discount lookup errors", func() {
			repo.existsErr = errors.New("db down")

			_, err := service.Create(ctx, prediction.CreateRequest{
				Theme: "LOVE", Sentiment: "POSITIVE", RequesterName: "Ana", ActivePaymentToken: "pref-x",
			})

			appErr, ok := apperrors.IsAppError(err)
			Expect(ok).To(BeTrue())
			Expect(appErr.StatusCode).To(Equal(500))
			Expect(gateway.createCalls()).To(BeZero())
		})
	})

	Describe("QueryStatus", func() {
		It("returns NotFound for an unknown intent", func() {
			_, err := service.QueryStatus(ctx, "pref-missing")
			Expect(errors.Is(err, apperrors.ErrPredictionNotFound)).To(BeTrue())
		})

		It("expires and persists a pending record queried after its expiry", func() {
			// Given a pending record that expired one second ago
			repo.put(pending("pref-1", now.Add(-time.Second)))

			// When its status is queried
			view, err := service.QueryStatus(ctx, "pref-1")

			// Then it reads EXPIRED and the store holds the same
			Expect(err).NotTo(HaveOccurred())
			Expect(view.Status).To(Equal(prediction.StatusExpired))
			Expect(view.Message).To(BeEmpty())
			Expect(view.Active).To(BeFalse())
			stored := repo.get("pref-1")
			Expect(stored.Status).To(Equal(prediction.StatusExpired))
			Expect(stored.Revision).To(Equal(int64(1)))
			Expect(publisher.ofType(events.EventTypePredictionExpired)).To(HaveLen(1))
		})

		It("keeps a paid record PAID after its validity window", func() {
			// Given a paid record past its expiry
			repo.put(paid("pref-2", now.Add(-time.Hour)))

			// When it is queried
			view, err := service.QueryStatus(ctx, "pref-2")

			// Then it stays PAID, inactive, with its message
			Expect(err).NotTo(HaveOccurred())
			Expect(view.Status).To(Equal(prediction.StatusPaid))
			Expect(view.Active).To(BeFalse())
			Expect(view.Message).To(Equal("mensagem"))
			Expect(repo.get("pref-2").Revision).To(Equal(int64(1)))
		})

		It("does not ask the gateway by default", func() {
			repo.put(pending("pref-3", now.Add(time.Hour)))
			gateway.approved["pref-3"] = true

			view, err := service.QueryStatus(ctx, "pref-3")

			Expect(err).NotTo(HaveOccurred())
			Expect(view.Status).To(Equal(prediction.StatusPendingPayment))
			Expect(gateway.approvals).To(BeZero())
		})

		It("confirms through the gateway when polling is enabled", func() {
			// Given polling on status queries and an approved intent
			cfg.PollGatewayOnStatus = true
			build()
			repo.put(pending("pref-4", now.Add(time.Hour)))
			gateway.approved["pref-4"] = true

			// When its status is queried
			view, err := service.QueryStatus(ctx, "pref-4")

			// Then it is confirmed by the same routine as the webhook
			Expect(err).NotTo(HaveOccurred())
			Expect(view.Status).To(Equal(prediction.StatusPaid))
			Expect(view.Active).To(BeTrue())
			Expect(view.Message).NotTo(BeEmpty())
			Expect(repo.get("pref-4").Revision).To(Equal(int64(1)))
		})
	})

	Describe("ConfirmFromWebhook", func() {
		It("marks the record paid and exposes the message on the next query", func() {
			// Given a pending purchase and a payment resolving to it
			repo.put(pending("pref-1", now.Add(time.Hour)))
			gateway.payments["1001"] = "pref-1"

			// When the notification is confirmed
			outcome, err := service.ConfirmFromWebhook(ctx, "1001")

			// Then the record is PAID with a fallback message and one revision bump
			Expect(err).NotTo(HaveOccurred())
			Expect(outcome).To(Equal(prediction.OutcomePaid))
			stored := repo.get("pref-1")
			Expect(stored.Status).To(Equal(prediction.StatusPaid))
			Expect(stored.Revision).To(Equal(int64(1)))
			Expect(stored.FulfillmentGeneratedAt).NotTo(BeNil())
			Expect(*stored.FulfillmentMessage).To(Equal(prediction.FallbackMessage(prediction.ThemeLove, "Ana", prediction.SentimentPositive)))

			// And a status query shows it
			view, err := service.QueryStatus(ctx, "pref-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(view.Status).To(Equal(prediction.StatusPaid))
			Expect(view.Message).NotTo(BeEmpty())
			Expect(view.Active).To(BeTrue())

			paidEvents := publisher.ofType(events.EventTypePredictionPaid)
			Expect(paidEvents).To(HaveLen(1))
			Expect(paidEvents[0].(*events.PredictionPaidEvent).PaymentID).To(Equal("1001"))
		})

		It("uses the AI summary when the analyzer generated one", func() {
			ai.err = nil
			ai.result = &analyzer.Result{Summary: "  Ana, o amor floresce.  ", Generated: true}
			repo.put(pending("pref-1", now.Add(time.Hour)))
			gateway.payments["1001"] = "pref-1"

			_, err := service.ConfirmFromWebhook(ctx, "1001")

			Expect(err).NotTo(HaveOccurred())
			Expect(*repo.get("pref-1").FulfillmentMessage).To(Equal("Ana, o amor floresce."))
		})

		It("expires instead of paying when the record is past its expiry", func() {
			// Given a pending record that expired
			repo.put(pending("pref-1", now.Add(-time.Minute)))
			gateway.payments["1001"] = "pref-1"

			// When a late payment notification arrives
			outcome, err := service.ConfirmFromWebhook(ctx, "1001")

			// Then the record becomes EXPIRED, never PAID
			Expect(err).NotTo(HaveOccurred())
			Expect(outcome).To(Equal(prediction.OutcomeExpired))
			stored := repo.get("pref-1")
			Expect(stored.Status).To(Equal(prediction.StatusExpired))
			Expect(stored.FulfillmentMessage).To(BeNil())
		})

		It("is a no-op for an already paid record", func() {
			repo.put(paid("pref-1", now.Add(time.Hour)))
			gateway.payments["1001"] = "pref-1"

			outcome, err := service.ConfirmFromWebhook(ctx, "1001")

			Expect(err).NotTo(HaveOccurred())
			Expect(outcome).To(Equal(prediction.OutcomeAlreadyPaid))
			Expect(repo.get("pref-1").Revision).To(Equal(int64(1)))
			Expect(repo.saves).To(BeZero())
		})

		It("ignores payments that do not resolve", func() {
			outcome, err := service.ConfirmFromWebhook(ctx, "9999")

			Expect(err).NotTo(HaveOccurred())
			Expect(outcome).To(Equal(prediction.OutcomeIgnored))
		})

		It("ignores payments for unknown intents", func() {
			gateway.payments["1001"] = "pref-elsewhere"

			outcome, err := service.ConfirmFromWebhook(ctx, "1001")

			Expect(err).NotTo(HaveOccurred())
			Expect(outcome).To(Equal(prediction.OutcomeUnknownIntent))
		})

		It("short-circuits redeliveries recorded in the ledger", func() {
			// Given a notification that already reached a terminal outcome
			repo.put(pending("pref-1", now.Add(time.Hour)))
			gateway.payments["1001"] = "pref-1"
			_, err := service.ConfirmFromWebhook(ctx, "1001")
			Expect(err).NotTo(HaveOccurred())
			Expect(gateway.resolveCalls()).To(Equal(1))

			// When the gateway delivers it again
			outcome, err := service.ConfirmFromWebhook(ctx, "1001")

			// Then it is reported as duplicate without another gateway call
			Expect(err).NotTo(HaveOccurred())
			Expect(outcome).To(Equal(prediction.OutcomeDuplicate))
			Expect(gateway.resolveCalls()).To(Equal(1))
		})

		It("does not remember non-terminal outcomes", func() {
			gateway.payments["1001"] = "pref-later"

			_, _ = service.ConfirmFromWebhook(ctx, "1001")

			Expect(ledger.Seen(ctx, "1001")).To(BeFalse())
		})

		It("retries after a revision conflict", func() {
			// Given one concurrent writer bumping the revision first
			repo.put(pending("pref-1", now.Add(time.Hour)))
			gateway.payments["1001"] = "pref-1"
			repo.conflicts = 1

			// When the notification is confirmed
			outcome, err := service.ConfirmFromWebhook(ctx, "1001")

			// Then the second attempt wins with the message generated on the first
			Expect(err).NotTo(HaveOccurred())
			Expect(outcome).To(Equal(prediction.OutcomePaid))
			Expect(repo.saves).To(Equal(2))
			Expect(ai.callCount()).To(Equal(1))
			Expect(repo.get("pref-1").Status).To(Equal(prediction.StatusPaid))
		})

		It("gives up after the configured attempts and raises an alert event", func() {
			// Given every save conflicting
			repo.put(pending("pref-1", now.Add(time.Hour)))
			gateway.payments["1001"] = "pref-1"
			repo.conflicts = 100

			// When the notification is confirmed
			_, err := service.ConfirmFromWebhook(ctx, "1001")

			// Then the retry budget is exhausted and nothing changed
			Expect(errors.Is(err, apperrors.ErrConflictRetryExhausted)).To(BeTrue())
			Expect(repo.saves).To(Equal(cfg.ConfirmMaxAttempts))
			Expect(repo.get("pref-1").Status).To(Equal(prediction.StatusPendingPayment))
			failures := publisher.ofType(events.EventTypeReconciliationFailed)
			Expect(failures).To(HaveLen(1))
			Expect(failures[0].(*events.ReconciliationFailedEvent).Attempts).To(Equal(cfg.ConfirmMaxAttempts))
			Expect(ledger.Seen(ctx, "1001")).To(BeFalse())
		})

		It("does not generate a message for a record settled after it was read", func() {
			// Given a pending purchase that another writer pays right after it is loaded
			repo.put(pending("pref-1", now.Add(time.Hour)))
			gateway.payments["1001"] = "pref-1"
			repo.afterGet = func() { repo.put(paid("pref-1", now.Add(time.Hour))) }

			// When the notification is confirmed
			outcome, err := service.ConfirmFromWebhook(ctx, "1001")

			// Then it sees the payment already applied and the analyzer is never asked
			Expect(err).NotTo(HaveOccurred())
			Expect(outcome).To(Equal(prediction.OutcomeAlreadyPaid))
			Expect(ai.callCount()).To(BeZero())
			Expect(repo.saves).To(BeZero())
			Expect(*repo.get("pref-1").FulfillmentMessage).To(Equal("mensagem"))
			Expect(publisher.ofType(events.EventTypePredictionPaid)).To(BeEmpty())
		})

		It("applies exactly one PAID transition for many concurrent notifications", func() {
			// Given one pending purchase and several payment ids resolving to it
			repo.put(pending("pref-1", now.Add(time.Hour)))
			ids := []string{"1", "2", "3", "4", "5", "6", "7", "8"}
			for _, id := range ids {
				gateway.payments[id] = "pref-1"
			}
			// widen the window between read and compare-and-swap
			repo.onBeforeCAS = func() { time.Sleep(time.Millisecond) }
			// and hold the first fulfillment generation open
			ai.gate = make(chan struct{})

			// When they are all confirmed at once
			var wg sync.WaitGroup
			outcomes := make(chan prediction.Outcome, len(ids))
			for _, id := range ids {
				wg.Add(1)
				go func(paymentID string) {
					defer GinkgoRecover()
					defer wg.Done()
					outcome, err := service.ConfirmFromWebhook(ctx, paymentID)
					Expect(err).NotTo(HaveOccurred())
					outcomes <- outcome
				}(id)
			}
			Eventually(gateway.resolveCalls).Should(Equal(len(ids)))
			Eventually(ai.callCount).Should(Equal(1))
			Consistently(ai.callCount, 50*time.Millisecond, 5*time.Millisecond).Should(Equal(1))
			close(ai.gate)
			wg.Wait()
			close(outcomes)

			// Then the message is generated once
			Expect(ai.callCount()).To(Equal(1))

			// and one wins, the rest see it already paid, and the revision moved once
			paidCount := 0
			for o := range outcomes {
				if o == prediction.OutcomePaid {
					paidCount++
				} else {
					Expect(o).To(Equal(prediction.OutcomeAlreadyPaid))
				}
			}
			Expect(paidCount).To(Equal(1))
			Expect(repo.get("pref-1").Revision).To(Equal(int64(1)))
			Expect(publisher.ofType(events.EventTypePredictionPaid)).To(HaveLen(1))
		})
	})

	Describe("ExpireStale", func() {
		It("flips only overdue pending records", func() {
			repo.put(pending("pref-old", now.Add(-time.Minute)))
			repo.put(pending("pref-new", now.Add(time.Minute)))
			repo.put(paid("pref-paid", now.Add(-time.Minute)))

			n, err := service.ExpireStale(ctx)

			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(Equal(int64(1)))
			Expect(repo.get("pref-old").Status).To(Equal(prediction.StatusExpired))
			Expect(repo.get("pref-new").Status).To(Equal(prediction.StatusPendingPayment))
			Expect(repo.get("pref-paid").Status).To(Equal(prediction.StatusPaid))
			Expect(publisher.ofType(events.EventTypePredictionsSwept)).To(HaveLen(1))
		})
	})

	Describe("Stats", func() {
		It("counts records per status", func() {
			repo.put(pending("pref-1", now.Add(time.Minute)))
			repo.put(paid("pref-2", now.Add(time.Minute)))

			counts, err := service.Stats(ctx)

			Expect(err).NotTo(HaveOccurred())
			Expect(counts).To(HaveKeyWithValue(prediction.StatusPendingPayment, int64(1)))
			Expect(counts).To(HaveKeyWithValue(prediction.StatusPaid, int64(1)))
			Expect(counts).To(HaveKeyWithValue(prediction.StatusExpired, int64(0)))
		})
	})
})
