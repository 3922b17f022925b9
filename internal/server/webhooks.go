package server

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	"github.com/sirupsen/logrus"

	"transcriptdesk/internal/engine"
)

const (
	webhookPath         = "webhooks/payments"
	webhookSecretHeader = "X-Webhook-Secret"
)

// WebhookConfig authenticates the payment provider's callbacks.
type WebhookConfig struct {
	Secret string
	Log    logrus.FieldLogger
}

func (c WebhookConfig) logger() logrus.FieldLogger {
	if c.Log != nil {
		return c.Log
	}
	return logrus.StandardLogger()
}

func (c WebhookConfig) verify(got string) bool {
	if strings.TrimSpace(c.Secret) == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(c.Secret)) == 1
}

// registerPaymentWebhook exposes the provider callback. Every delivery of the
// same confirmation gets 200; only an unknown intent (404, retryable) or an
// unavailable receipt counter (503) asks the provider to retry.
func registerPaymentWebhook(api huma.API, e engine.Engine, cfg WebhookConfig) {
	huma.Register(api, huma.Operation{
		OperationID: "payment-webhook",
		Method:      http.MethodPost,
		Path:        "/" + webhookPath,
		Summary:     "Payment provider confirmation callback",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusNotFound,
			http.StatusServiceUnavailable,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Secret string                `header:"X-Webhook-Secret"`
		Body   PaymentWebhookRequest `json:"body"`
	}) (*struct {
		Body engine.ReconcileResult `json:"body"`
	}, error) {
		log := cfg.logger().WithFields(logrus.Fields{"intent_ref": input.Body.IntentRef, "event_id": input.Body.EventID})
		if !cfg.verify(input.Secret) {
			log.Warn("payment webhook rejected: bad secret")
			return nil, newAPIError(http.StatusUnauthorized, "invalid_credentials", "invalid webhook secret", nil)
		}
		res, err := e.Reconcile(ctx, input.Body.IntentRef, input.Body.Amount)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		log.WithField("outcome", res.Outcome).Debug("payment webhook handled")
		return &struct {
			Body engine.ReconcileResult `json:"body"`
		}{Body: res}, nil
	})
}
