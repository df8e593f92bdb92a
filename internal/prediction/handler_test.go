package prediction_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"time"

	predictiondm "github.com/frahmantamala/thematic-predictions/internal/core/datamodel/prediction"
	"github.com/frahmantamala/thematic-predictions/internal/prediction"
	predictionPostgres "github.com/frahmantamala/thematic-predictions/internal/prediction/postgres"
	"github.com/frahmantamala/thematic-predictions/internal/transport"
	"github.com/frahmantamala/thematic-predictions/pkg/logger"

	"github.com/go-chi/chi"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

type errorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

var _ = Describe("Prediction Handler Integration", func() {
	var (
		db      *gorm.DB
		gateway *mockGateway
		service *prediction.Service
		router  *chi.Mux
		now     time.Time
	)

	do := func(method, path, body string) *httptest.ResponseRecorder {
		var req *http.Request
		if body == "" {
			req = httptest.NewRequest(method, path, nil)
		} else {
			req = httptest.NewRequest(method, path, strings.NewReader(body))
			req.Header.Set("Content-Type", "application/json")
		}
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w
	}

	decode := func(w *httptest.ResponseRecorder, out interface{}) {
		Expect(json.NewDecoder(w.Body).Decode(out)).To(Succeed())
	}

	BeforeEach(func() {
		var err error
		logger.Init("text", "error")

		db, err = gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
			Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
			TranslateError: true,
		})
		Expect(err).NotTo(HaveOccurred())
		sqlDB, err := db.DB()
		Expect(err).NotTo(HaveOccurred())
		sqlDB.SetMaxOpenConns(1)
		Expect(db.AutoMigrate(&predictiondm.ThemedPrediction{})).To(Succeed())

		now = time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
		gateway = newMockGateway()
		service = prediction.NewService(prediction.DefaultConfig(),
			predictionPostgres.NewPredictionRepository(db),
			gateway,
			prediction.NewFulfillmentGenerator(&mockAnalyzer{err: errors.New("offline")}, testLogger()),
			testLogger(),
			prediction.WithClock(func() time.Time { return now }),
		)

		handler := prediction.NewHandler(service)
		webhook := prediction.NewWebhookHandler(transport.NewBaseHandler(testLogger()),
			prediction.NewInlineDispatcher(service, testLogger()), testLogger())

		router = chi.NewRouter()
		router.Post("/api/v1/predictions/thematic", handler.CreatePrediction)
		router.Get("/api/v1/predictions/thematic/{intentID}", handler.GetPredictionStatus)
		router.Post("/api/v1/payments/webhook", webhook.HandlePaymentNotification)
		router.Post("/api/v1/admin/predictions/expire", handler.ExpireStale)
		router.Get("/api/v1/admin/predictions/stats", handler.Stats)
	})

	AfterEach(func() {
		sqlDB, err := db.DB()
		Expect(err).NotTo(HaveOccurred())
		Expect(sqlDB.Close()).To(Succeed())
	})

	It("walks a purchase from creation to a discounted follow-up", func() {
		// Given a new purchase without a token
		w := do(http.MethodPost, "/api/v1/predictions/thematic", `{"theme":"work","sentiment":"POSITIVE","name":"Ana"}`)
		Expect(w.Code).To(Equal(http.StatusCreated))
		Expect(w.Header().Get("Content-Type")).To(ContainSubstring("application/json"))
		var created prediction.CreatePredictionResponse
		decode(w, &created)
		Expect(created.FinalAmount).To(Equal("5.90"))
		Expect(created.BaseAmount).To(Equal("5.90"))
		Expect(created.Status).To(Equal(prediction.StatusPendingPayment))
		Expect(created.IntentID).To(Equal("pref-1"))
		Expect(created.PublicKey).To(Equal("TEST-public-key"))

		// And it reads as pending with no message
		w = do(http.MethodGet, "/api/v1/predictions/thematic/pref-1", "")
		Expect(w.Code).To(Equal(http.StatusOK))
		var pending prediction.StatusResponse
		decode(w, &pending)
		Expect(pending.Status).To(Equal(prediction.StatusPendingPayment))
		Expect(pending.Message).To(BeEmpty())

		// When the gateway notifies the approved payment
		gateway.payments["9001"] = "pref-1"
		w = do(http.MethodPost, "/api/v1/payments/webhook?data.id=9001&type=payment", "")
		Expect(w.Code).To(Equal(http.StatusOK))

		// Then the status shows the paid prediction with its message
		w = do(http.MethodGet, "/api/v1/predictions/thematic/pref-1", "")
		var paidView prediction.StatusResponse
		decode(w, &paidView)
		Expect(paidView.Status).To(Equal(prediction.StatusPaid))
		Expect(paidView.Active).To(BeTrue())
		Expect(paidView.Message).To(ContainSubstring("Ana"))

		// And the paid token buys the next prediction at a discount
		w = do(http.MethodPost, "/api/v1/predictions/thematic", `{"theme":"LOVE","sentiment":"NEGATIVE","name":"Ana","active_payment_token":"pref-1"}`)
		Expect(w.Code).To(Equal(http.StatusCreated))
		var discounted prediction.CreatePredictionResponse
		decode(w, &discounted)
		Expect(discounted.DiscountApplied).To(BeTrue())
		Expect(discounted.FinalAmount).To(Equal("4.13"))
	})

	It("returns the pending purchase with 200 when its token is presented", func() {
		w := do(http.MethodPost, "/api/v1/predictions/thematic", `{"theme":"LOVE","sentiment":"POSITIVE","name":"Ana"}`)
		Expect(w.Code).To(Equal(http.StatusCreated))
		var first prediction.CreatePredictionResponse
		decode(w, &first)

		w = do(http.MethodPost, "/api/v1/predictions/thematic", `{"theme":"WORK","sentiment":"NEGATIVE","name":"Ana","active_payment_token":"`+first.IntentID+`"}`)

		Expect(w.Code).To(Equal(http.StatusOK))
		var again prediction.CreatePredictionResponse
		decode(w, &again)
		Expect(again.PredictionID).To(Equal(first.PredictionID))
		Expect(gateway.createCalls()).To(Equal(1))
	})

	It("expires a pending purchase queried after its window", func() {
		w := do(http.MethodPost, "/api/v1/predictions/thematic", `{"theme":"FAMILY","sentiment":"POSITIVE","name":"Ana"}`)
		Expect(w.Code).To(Equal(http.StatusCreated))

		now = now.Add(25 * time.Hour)
		w = do(http.MethodGet, "/api/v1/predictions/thematic/pref-1", "")

		Expect(w.Code).To(Equal(http.StatusOK))
		var view prediction.StatusResponse
		decode(w, &view)
		Expect(view.Status).To(Equal(prediction.StatusExpired))

		// a late webhook cannot revive it
		gateway.payments["9001"] = "pref-1"
		w = do(http.MethodPost, "/api/v1/payments/webhook", `{"data":{"id":"9001"}}`)
		Expect(w.Code).To(Equal(http.StatusOK))
		w = do(http.MethodGet, "/api/v1/predictions/thematic/pref-1", "")
		decode(w, &view)
		Expect(view.Status).To(Equal(prediction.StatusExpired))
	})

	It("answers 404 for an unknown intent", func() {
		w := do(http.MethodGet, "/api/v1/predictions/thematic/pref-unknown", "")

		Expect(w.Code).To(Equal(http.StatusNotFound))
		var body errorBody
		decode(w, &body)
		Expect(body.Error.Code).To(Equal("PREDICTION_NOT_FOUND"))
	})

	It("answers 400 for a malformed body", func() {
		w := do(http.MethodPost, "/api/v1/predictions/thematic", `{"theme":`)

		Expect(w.Code).To(Equal(http.StatusBadRequest))
		var body errorBody
		decode(w, &body)
		Expect(body.Error.Code).To(Equal("INVALID_ARGUMENT"))
	})

	It("answers 400 for an unknown theme", func() {
		w := do(http.MethodPost, "/api/v1/predictions/thematic", `{"theme":"MONEY","sentiment":"POSITIVE","name":"Ana"}`)

		Expect(w.Code).To(Equal(http.StatusBadRequest))
		Expect(gateway.createCalls()).To(BeZero())
	})

	It("answers 502 when the gateway is down", func() {
		gateway.createErr = errors.New("connection refused")

		w := do(http.MethodPost, "/api/v1/predictions/thematic", `{"theme":"LOVE","sentiment":"POSITIVE","name":"Ana"}`)

		Expect(w.Code).To(Equal(http.StatusBadGateway))
		var body errorBody
		decode(w, &body)
		Expect(body.Error.Code).To(Equal("GATEWAY_UNAVAILABLE"))
		var count int64
		Expect(db.Model(&predictiondm.ThemedPrediction{}).Count(&count).Error).To(Succeed())
		Expect(count).To(BeZero())
	})

	It("expires stale purchases and reports counts", func() {
		for _, theme := range []string{"LOVE", "WORK"} {
			w := do(http.MethodPost, "/api/v1/predictions/thematic", `{"theme":"`+theme+`","sentiment":"POSITIVE","name":"Ana"}`)
			Expect(w.Code).To(Equal(http.StatusCreated))
		}
		now = now.Add(48 * time.Hour)

		w := do(http.MethodPost, "/api/v1/admin/predictions/expire", "")
		Expect(w.Code).To(Equal(http.StatusOK))
		var expired prediction.ExpireResponse
		decode(w, &expired)
		Expect(expired.Expired).To(Equal(int64(2)))

		w = do(http.MethodGet, "/api/v1/admin/predictions/stats", "")
		Expect(w.Code).To(Equal(http.StatusOK))
		var stats prediction.StatsResponse
		decode(w, &stats)
		Expect(stats.Total).To(Equal(int64(2)))
		Expect(stats.Counts).To(HaveKeyWithValue(prediction.StatusExpired, int64(2)))
		Expect(stats.Counts).To(HaveKeyWithValue(prediction.StatusPaid, int64(0)))
	})
})

type recordingDispatcher struct {
	ids []string
}

func (d *recordingDispatcher) Dispatch(ctx context.Context, paymentID string) {
	d.ids = append(d.ids, paymentID)
}

var _ = Describe("WebhookHandler", func() {
	var (
		dispatcher *recordingDispatcher
		handler    *prediction.WebhookHandler
	)

	BeforeEach(func() {
		dispatcher = &recordingDispatcher{}
		handler = prediction.NewWebhookHandler(transport.NewBaseHandler(testLogger()), dispatcher, testLogger())
	})

	post := func(target, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(body))
		w := httptest.NewRecorder()
		handler.HandlePaymentNotification(w, req)
		return w
	}

	It("acknowledges and dispatches a notification carrying an id", func() {
		w := post("/api/v1/payments/webhook?id=555&topic=payment", "")

		Expect(w.Code).To(Equal(http.StatusOK))
		Expect(strings.TrimSpace(w.Body.String())).To(Equal(`{"status":"received"}`))
		Expect(dispatcher.ids).To(Equal([]string{"555"}))
	})

	It("acknowledges notifications without an id and dispatches nothing", func() {
		w := post("/api/v1/payments/webhook?topic=merchant_order", `not json at all`)

		Expect(w.Code).To(Equal(http.StatusOK))
		Expect(strings.TrimSpace(w.Body.String())).To(Equal(`{"status":"received"}`))
		Expect(dispatcher.ids).To(BeEmpty())
	})

	It("reads the id from the body when the query has none", func() {
		w := post("/api/v1/payments/webhook", `{"action":"payment.updated","data":{"id":777}}`)

		Expect(w.Code).To(Equal(http.StatusOK))
		Expect(dispatcher.ids).To(Equal([]string{"777"}))
	})
})
