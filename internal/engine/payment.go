package engine

import (
	"context"
	"fmt"
	"sort"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/sirupsen/logrus"

	"transcriptdesk/internal/domain"
	"transcriptdesk/internal/engine/auth"
	"transcriptdesk/internal/events"
	"transcriptdesk/internal/pricing"
	"transcriptdesk/internal/repo"
)

const intentRefPrefix = "pi_"

// LockResult describes a newly created payment batch.
type LockResult struct {
	Intent   domain.PaymentIntent `json:"intent"`
	Quote    pricing.Quote        `json:"quote"`
	Excluded []string             `json:"excluded_item_ids,omitempty"`
}

// LockForPayment locks the requester's pending items among ids as one batch.
// Candidates that are not pending or not owned are left out of the batch.
// Filtering, pricing and the lock run in one transaction; the lock itself is
// a single conditional UPDATE over the filtered set, and if any member
// stopped being pending the whole transaction rolls back with a
// LockConflictError.
func (e Engine) LockForPayment(ctx context.Context, ids []string, by Caller) (LockResult, error) {
	if err := e.Policy.Require(by.Role, auth.RequestPayment); err != nil {
		return LockResult{}, err
	}
	ids = dedupe(ids)
	log := e.log().WithField("actor_id", by.ID)

	ref, err := gonanoid.New()
	if err != nil {
		return LockResult{}, fmt.Errorf("generate intent ref: %w", err)
	}
	ref = intentRefPrefix + ref
	now := e.stamp()
	log = log.WithField("intent_ref", ref)

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return LockResult{}, err
	}
	defer tx.Rollback()
	// Candidates are read and priced under the same write lock that binds
	// them, so the quote covers exactly the units that get locked.
	candidates, err := e.Repo.PendingOwnedTx(ctx, tx, by.ID, ids)
	if err != nil {
		return LockResult{}, err
	}
	if len(candidates) == 0 {
		e.record(ctx, "lock", "nothing_to_lock")
		return LockResult{}, fmt.Errorf("%w: none of %d requested items is pending and owned by %s", ErrNothingToLock, len(ids), by.ID)
	}
	quote, err := e.Tariff.Quote(candidates)
	if err != nil {
		return LockResult{}, err
	}
	memberIDs := make([]string, len(candidates))
	for i, it := range candidates {
		memberIDs[i] = it.ID
	}
	intent := domain.PaymentIntent{
		IntentRef:      ref,
		PayerID:        by.ID,
		MemberItemIDs:  memberIDs,
		AmountExpected: quote.Total,
		Currency:       quote.Currency,
		CreatedAt:      now,
	}
	if err := e.Repo.InsertIntent(ctx, tx, intent); err != nil {
		return LockResult{}, fmt.Errorf("insert intent: %w", err)
	}
	n, err := e.Repo.LockItems(ctx, tx, memberIDs, by.ID, ref, now)
	if err != nil {
		return LockResult{}, err
	}
	if n != int64(len(memberIDs)) {
		_ = tx.Rollback()
		lost := e.lostMembers(ctx, by.ID, memberIDs)
		log.WithFields(logrus.Fields{"outcome": "conflict", "lost": lost}).Info("lock batch conflicted")
		e.record(ctx, "lock", "conflict")
		return LockResult{}, &LockConflictError{ItemIDs: lost}
	}
	if err := e.events().Append(ctx, tx, events.PaymentLocked, "payment_intent", ref, by.ID, events.EventPayload{
		"item_ids": memberIDs, "amount_expected": quote.Total, "currency": quote.Currency,
	}); err != nil {
		return LockResult{}, err
	}
	if err := tx.Commit(); err != nil {
		return LockResult{}, err
	}
	log.WithFields(logrus.Fields{"outcome": "locked", "items": len(memberIDs), "amount": quote.Total}).Info("lock batch created")
	e.record(ctx, "lock", "locked")
	return LockResult{Intent: intent, Quote: quote, Excluded: excluded(ids, memberIDs)}, nil
}

// lostMembers lists the filtered members that are no longer pending.
func (e Engine) lostMembers(ctx context.Context, ownerID string, memberIDs []string) []string {
	still, err := e.Repo.PendingOwned(ctx, ownerID, memberIDs)
	if err != nil {
		return memberIDs
	}
	pending := make(map[string]bool, len(still))
	for _, it := range still {
		pending[it.ID] = true
	}
	var lost []string
	for _, id := range memberIDs {
		if !pending[id] {
			lost = append(lost, id)
		}
	}
	return lost
}

// Unlock returns every item of an open batch to pending and voids the
// intent. The void is a compare-and-set on the intent, so it can never
// overlap a settlement.
func (e Engine) Unlock(ctx context.Context, ref string, by Caller) (domain.PaymentIntent, error) {
	pi, err := e.Repo.GetIntent(ctx, ref)
	if err != nil {
		return domain.PaymentIntent{}, fmt.Errorf("payment intent %s: %w", ref, err)
	}
	if pi.PayerID != by.ID && !e.Policy.Can(by.Role, auth.UnlockPayment) {
		return domain.PaymentIntent{}, auth.ForbiddenError{Role: by.Role, Capability: auth.UnlockPayment}
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.PaymentIntent{}, err
	}
	defer tx.Rollback()
	now := e.stamp()
	ok, err := e.Repo.VoidIntent(ctx, tx, ref, now)
	if err != nil {
		return domain.PaymentIntent{}, err
	}
	if !ok {
		cur, err := e.Repo.GetIntentTx(ctx, tx, ref)
		if err != nil {
			return domain.PaymentIntent{}, err
		}
		from := domain.StatusPending
		if cur.Settled {
			from = domain.StatusPaid
		}
		return domain.PaymentIntent{}, &InvalidTransitionError{From: from, Event: EventUnlock}
	}
	n, err := e.Repo.MoveBatch(ctx, tx, ref, source(EventUnlock), domain.StatusPending, now)
	if err != nil {
		return domain.PaymentIntent{}, err
	}
	if err := e.events().Append(ctx, tx, events.PaymentUnlocked, "payment_intent", ref, by.ID, events.EventPayload{"items": n}); err != nil {
		return domain.PaymentIntent{}, err
	}
	out, err := e.Repo.GetIntentTx(ctx, tx, ref)
	if err != nil {
		return domain.PaymentIntent{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.PaymentIntent{}, err
	}
	e.log().WithFields(logrus.Fields{"intent_ref": ref, "actor_id": by.ID, "items": n}).Info("lock batch unlocked")
	e.record(ctx, "unlock", "unlocked")
	return out, nil
}

// GetIntent returns the batch record and its members.
func (e Engine) GetIntent(ctx context.Context, ref string) (domain.PaymentIntent, error) {
	pi, err := e.Repo.GetIntent(ctx, ref)
	if err != nil {
		return pi, fmt.Errorf("payment intent %s: %w", ref, err)
	}
	return pi, nil
}

func (e Engine) ListIntents(ctx context.Context, payerID string, limit int) ([]domain.PaymentIntent, error) {
	return e.Repo.ListIntents(ctx, payerID, limit)
}

// ListWarnings is the operator review queue.
func (e Engine) ListWarnings(ctx context.Context, f repo.WarningFilters) ([]domain.ReconciliationWarning, error) {
	return e.Repo.ListWarnings(ctx, f)
}

// ResolveWarning closes a queued warning. Resolving twice is an invalid transition.
func (e Engine) ResolveWarning(ctx context.Context, id int64, by Caller) error {
	if err := e.Policy.Require(by.Role, auth.UnlockPayment); err != nil {
		return err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	ok, err := e.Repo.ResolveWarning(ctx, tx, id, by.ID, e.stamp())
	if err != nil {
		return err
	}
	if !ok {
		exists, err := e.Repo.WarningExists(ctx, tx, id)
		if err != nil {
			return err
		}
		if !exists {
			return fmt.Errorf("warning %d: %w", id, repo.ErrNotFound)
		}
		return fmt.Errorf("%w: warning %d already resolved", ErrInvalidTransition, id)
	}
	if err := e.events().Append(ctx, tx, events.WarningResolved, "reconciliation_warning", fmt.Sprint(id), by.ID, nil); err != nil {
		return err
	}
	return tx.Commit()
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

func excluded(requested, members []string) []string {
	in := make(map[string]bool, len(members))
	for _, id := range members {
		in[id] = true
	}
	var out []string
	for _, id := range requested {
		if !in[id] {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}
