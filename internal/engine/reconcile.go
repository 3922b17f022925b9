package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"transcriptdesk/internal/domain"
	"transcriptdesk/internal/events"
	"transcriptdesk/internal/repo"
)

// Reconcile outcomes. None of them is an error.
const (
	OutcomeSettled        = "settled"
	OutcomeAlreadySettled = "already_settled"
	OutcomeVoided         = "voided"
)

// ProviderActor is recorded as the actor of provider-driven events.
const ProviderActor = "payment-provider"

type ReconcileResult struct {
	Outcome   string                        `json:"outcome"`
	Intent    domain.PaymentIntent          `json:"intent"`
	ItemsPaid int64                         `json:"items_paid"`
	Warning   *domain.ReconciliationWarning `json:"warning,omitempty"`
}

// Reconcile applies a payment confirmation exactly once. Replays and lost
// races are successes; only an unknown intent or an unavailable receipt
// counter is returned as an error, and both leave state untouched.
func (e Engine) Reconcile(ctx context.Context, ref string, confirmed int64) (ReconcileResult, error) {
	log := e.log().WithFields(logrus.Fields{"intent_ref": ref, "confirmed_amount": confirmed})
	pi, err := e.Repo.GetIntent(ctx, ref)
	if errors.Is(err, repo.ErrNotFound) {
		log.WithField("outcome", "unknown_intent").Warn("payment for unknown intent")
		e.record(ctx, "reconcile", "unknown_intent")
		return ReconcileResult{}, fmt.Errorf("%w: %s", ErrUnknownIntent, ref)
	}
	if err != nil {
		return ReconcileResult{}, err
	}
	if pi.Settled {
		return e.alreadySettled(ctx, log, pi), nil
	}
	if pi.Voided {
		return e.voidedPayment(ctx, log, pi, confirmed)
	}

	receiptID, err := e.nextID(ctx, e.Config.Identifiers.Receipt)
	if err != nil {
		log.WithError(err).Error("receipt id unavailable")
		e.record(ctx, "reconcile", "identifier_unavailable")
		return ReconcileResult{}, err
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return ReconcileResult{}, err
	}
	defer tx.Rollback()
	now := e.stamp()
	won, err := e.Repo.SettleIntent(ctx, tx, ref, confirmed, receiptID, now)
	if err != nil {
		return ReconcileResult{}, err
	}
	if !won {
		cur, err := e.Repo.GetIntentTx(ctx, tx, ref)
		if err != nil {
			return ReconcileResult{}, err
		}
		_ = tx.Rollback()
		if cur.Voided {
			return e.voidedPayment(ctx, log, cur, confirmed)
		}
		return e.alreadySettled(ctx, log, cur), nil
	}
	n, err := e.Repo.MoveBatch(ctx, tx, ref, source(EventPaymentConfirmed), domain.StatusPaid, now)
	if err != nil {
		return ReconcileResult{}, err
	}
	if n != int64(len(pi.MemberItemIDs)) {
		log.WithFields(logrus.Fields{"members": len(pi.MemberItemIDs), "moved": n}).Warn("settled batch moved fewer items than it holds")
	}
	var warning *domain.ReconciliationWarning
	if confirmed != pi.AmountExpected {
		warning = &domain.ReconciliationWarning{
			IntentRef:       ref,
			Kind:            domain.WarningAmountMismatch,
			ExpectedAmount:  pi.AmountExpected,
			ConfirmedAmount: confirmed,
			Message:         fmt.Sprintf("confirmed %d %s, expected %d", confirmed, pi.Currency, pi.AmountExpected),
			CreatedAt:       now,
		}
		if err := e.queueWarning(ctx, tx, warning, events.PaymentMismatch); err != nil {
			return ReconcileResult{}, err
		}
	}
	if err := e.events().Append(ctx, tx, events.PaymentSettled, "payment_intent", ref, ProviderActor, events.EventPayload{
		"receipt_id": receiptID, "confirmed_amount": confirmed, "items": n,
	}); err != nil {
		return ReconcileResult{}, err
	}
	out, err := e.Repo.GetIntentTx(ctx, tx, ref)
	if err != nil {
		return ReconcileResult{}, err
	}
	if err := tx.Commit(); err != nil {
		return ReconcileResult{}, err
	}
	if warning != nil {
		log.WithFields(logrus.Fields{"expected_amount": pi.AmountExpected, "kind": warning.Kind}).Warn("payment amount mismatch queued for review")
	}
	log.WithFields(logrus.Fields{"outcome": OutcomeSettled, "receipt_id": receiptID, "items": n}).Info("payment settled")
	e.record(ctx, "reconcile", OutcomeSettled)
	return ReconcileResult{Outcome: OutcomeSettled, Intent: out, ItemsPaid: n, Warning: warning}, nil
}

func (e Engine) alreadySettled(ctx context.Context, log logrus.FieldLogger, pi domain.PaymentIntent) ReconcileResult {
	log.WithField("outcome", OutcomeAlreadySettled).Info("duplicate payment confirmation absorbed")
	e.record(ctx, "reconcile", OutcomeAlreadySettled)
	return ReconcileResult{Outcome: OutcomeAlreadySettled, Intent: pi}
}

// voidedPayment records money received for a batch that was unlocked. The
// items stay where they are; an operator decides on a refund.
func (e Engine) voidedPayment(ctx context.Context, log logrus.FieldLogger, pi domain.PaymentIntent, confirmed int64) (ReconcileResult, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return ReconcileResult{}, err
	}
	defer tx.Rollback()
	w := &domain.ReconciliationWarning{
		IntentRef:       pi.IntentRef,
		Kind:            domain.WarningVoidedIntent,
		ExpectedAmount:  pi.AmountExpected,
		ConfirmedAmount: confirmed,
		Message:         fmt.Sprintf("payment of %d %s received for unlocked batch", confirmed, pi.Currency),
		CreatedAt:       e.stamp(),
	}
	if err := e.queueWarning(ctx, tx, w, events.PaymentVoidedPaid); err != nil {
		return ReconcileResult{}, err
	}
	if err := tx.Commit(); err != nil {
		return ReconcileResult{}, err
	}
	log.WithField("outcome", OutcomeVoided).Warn("payment for voided intent queued for review")
	e.record(ctx, "reconcile", OutcomeVoided)
	return ReconcileResult{Outcome: OutcomeVoided, Intent: pi, Warning: w}, nil
}

// queueWarning inserts w once per intent and kind, with its event.
func (e Engine) queueWarning(ctx context.Context, tx *sql.Tx, w *domain.ReconciliationWarning, evtType string) error {
	inserted, err := e.Repo.InsertWarning(ctx, tx, *w)
	if err != nil {
		return fmt.Errorf("insert warning: %w", err)
	}
	if !inserted {
		return nil
	}
	return e.events().Append(ctx, tx, evtType, "payment_intent", w.IntentRef, ProviderActor, events.EventPayload{
		"expected_amount": w.ExpectedAmount, "confirmed_amount": w.ConfirmedAmount,
	})
}
