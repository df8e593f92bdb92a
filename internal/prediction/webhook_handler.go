package prediction

import (
	"io"
	"log/slog"
	"net/http"

	"github.com/frahmantamala/thematic-predictions/internal/transport"
)

const maxNotificationBody = 1 << 20

// WebhookHandler acknowledges every payment notification with 200; failures
// are only logged so the gateway never retries because of us.
type WebhookHandler struct {
	*transport.BaseHandler
	dispatcher Dispatcher
	extractors []PaymentIDExtractor
	logger     *slog.Logger
}

func NewWebhookHandler(baseHandler *transport.BaseHandler, dispatcher Dispatcher, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{
		BaseHandler: baseHandler,
		dispatcher:  dispatcher,
		extractors:  DefaultExtractors,
		logger:      logger,
	}
}

func (h *WebhookHandler) HandlePaymentNotification(w http.ResponseWriter, r *http.Request) {
	var body []byte
	if r.Body != nil {
		raw, err := io.ReadAll(io.LimitReader(r.Body, maxNotificationBody))
		if err != nil {
			h.logger.Warn("failed to read payment notification body", "error", err)
		}
		body = raw
	}

	paymentID, source := ExtractPaymentID(r.URL.Query(), body, h.extractors)
	if paymentID == "" {
		h.logger.Warn("payment notification without payment id",
			"query", r.URL.RawQuery,
			"topic", r.URL.Query().Get("topic"),
			"type", r.URL.Query().Get("type"))
		h.WriteJSON(w, http.StatusOK, WebhookAck{Status: "received"})
		return
	}

	h.logger.Info("received payment notification", "payment_id", paymentID, "source", source)
	h.dispatcher.Dispatch(r.Context(), paymentID)

	h.WriteJSON(w, http.StatusOK, WebhookAck{Status: "received"})
}
