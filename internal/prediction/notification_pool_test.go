package prediction_test

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/frahmantamala/thematic-predictions/internal/core/events"
	"github.com/frahmantamala/thematic-predictions/internal/prediction"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("NotificationPool", func() {
	var service *mockService

	BeforeEach(func() {
		service = &mockService{}
	})

	It("processes every queued notification before Shutdown returns", func() {
		// Given a small pool and slow confirmations
		service.confirmDelay = 5 * time.Millisecond
		pool := prediction.NewNotificationPool(service, prediction.PoolConfig{MaxWorkers: 2, JobQueueSize: 50}, testLogger())

		// When twenty notifications are dispatched and the pool shuts down
		for i := 0; i < 20; i++ {
			pool.Dispatch(context.Background(), fmt.Sprintf("pay-%d", i))
		}
		pool.Shutdown()

		// Then all twenty were confirmed
		Expect(service.confirmedIDs()).To(HaveLen(20))
	})

	It("processes inline once the pool is closed", func() {
		pool := prediction.NewNotificationPool(service, prediction.PoolConfig{MaxWorkers: 1}, testLogger())
		pool.Shutdown()

		pool.Dispatch(context.Background(), "late")

		Expect(service.confirmedIDs()).To(ConsistOf("late"))
	})

	It("processes inline when the queue is full", func() {
		// Given a single worker stuck on a slow job and a one-slot queue
		service.confirmDelay = 50 * time.Millisecond
		pool := prediction.NewNotificationPool(service, prediction.PoolConfig{MaxWorkers: 1, JobQueueSize: 1}, testLogger())
		defer pool.Shutdown()

		// When more notifications arrive than the queue can hold
		for i := 0; i < 5; i++ {
			pool.Dispatch(context.Background(), fmt.Sprintf("pay-%d", i))
		}

		// Then none is lost
		Eventually(func() int { return len(service.confirmedIDs()) }, "2s", "10ms").Should(Equal(5))
	})

	It("tolerates repeated Shutdown calls", func() {
		pool := prediction.NewNotificationPool(service, prediction.PoolConfig{}, testLogger())
		pool.Shutdown()
		Expect(pool.Shutdown).NotTo(Panic())
	})
})

var _ = Describe("InlineDispatcher", func() {
	It("confirms on the calling goroutine", func() {
		service := &mockService{}
		d := prediction.NewInlineDispatcher(service, testLogger())

		d.Dispatch(context.Background(), "pay-1")

		Expect(service.confirmedIDs()).To(Equal([]string{"pay-1"}))
	})
})

type countingService struct {
	mockService
	sweeps atomic.Int32
}

func (s *countingService) ExpireStale(ctx context.Context) (int64, error) {
	s.sweeps.Add(1)
	return 0, nil
}

var _ = Describe("Sweeper", func() {
	It("sweeps immediately and then on every tick until cancelled", func() {
		service := &countingService{}
		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan struct{})

		go func() {
			defer close(done)
			prediction.NewSweeper(service, 10*time.Millisecond, testLogger()).Run(ctx)
		}()

		Eventually(func() int32 { return service.sweeps.Load() }, "1s", "5ms").Should(BeNumerically(">=", 3))
		cancel()
		Eventually(done, "1s").Should(BeClosed())
	})

	It("returns at once for a non-positive interval", func() {
		service := &countingService{}

		prediction.NewSweeper(service, 0, testLogger()).Run(context.Background())

		Expect(service.sweeps.Load()).To(BeZero())
	})
})

var _ = Describe("EventHandler", func() {
	It("subscribes to every lifecycle event", func() {
		bus := events.NewEventBus(testLogger())

		prediction.NewEventHandler(testLogger()).RegisterEventHandlers(bus)

		for _, t := range []string{
			events.EventTypePredictionCreated,
			events.EventTypePredictionPaid,
			events.EventTypePredictionExpired,
			events.EventTypeReconciliationFailed,
			events.EventTypePredictionsSwept,
		} {
			Expect(bus.Subscribers(t)).To(Equal(1), t)
		}
	})

	It("rejects events of the wrong type", func() {
		h := prediction.NewEventHandler(testLogger())
		wrong := events.NewPredictionsSweptEvent(1)

		Expect(h.HandlePredictionPaid(context.Background(), wrong)).To(MatchError(ContainSubstring("expected PredictionPaidEvent")))
		Expect(h.HandleReconciliationFailed(context.Background(), events.NewReconciliationFailedEvent("pref-1", "1", 3, "revision conflict"))).To(Succeed())
	})
})
