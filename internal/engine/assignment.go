package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"transcriptdesk/internal/domain"
	"transcriptdesk/internal/engine/auth"
	"transcriptdesk/internal/events"
	"transcriptdesk/internal/repo"
)

// SelfClaim makes the caller the assignee if, and only if, nobody is. The
// claim is one conditional UPDATE; of any number of simultaneous callers
// exactly one matches the row and the rest get ErrAlreadyAssigned.
func (e Engine) SelfClaim(ctx context.Context, itemID string, by Caller) (domain.WorkItem, error) {
	if err := e.Policy.Require(by.Role, auth.SelfAssign); err != nil {
		return domain.WorkItem{}, err
	}
	log := e.log().WithFields(logrus.Fields{"item_id": itemID, "actor_id": by.ID})
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.WorkItem{}, err
	}
	defer tx.Rollback()

	now := e.stamp()
	ok, err := e.Repo.ClaimIfUnassigned(ctx, tx, itemID, by.ID, now, openStates(EventClaim))
	if err != nil {
		return domain.WorkItem{}, err
	}
	if !ok {
		err := e.claimFailure(ctx, tx, itemID)
		if errors.Is(err, ErrAlreadyAssigned) {
			log.WithField("outcome", "already_assigned").Info("self claim lost")
			e.record(ctx, "self_claim", "already_assigned")
		}
		return domain.WorkItem{}, err
	}
	entry := domain.AssignmentEntry{ItemID: itemID, ActorID: by.ID, Action: domain.ActionSelfAssign, TargetID: by.ID, TS: now}
	it, err := e.commitAssignment(ctx, tx, entry, events.ItemClaimed)
	if err != nil {
		return domain.WorkItem{}, err
	}
	log.WithField("outcome", "claimed").Info("self claim")
	e.record(ctx, "self_claim", "claimed")
	return it, nil
}

// AssignTo overwrites the assignee with targetID. The target must be a known,
// active actor; that check rides in the same conditional UPDATE.
func (e Engine) AssignTo(ctx context.Context, itemID, targetID string, by Caller) (domain.WorkItem, error) {
	if err := e.Policy.Require(by.Role, auth.AssignOthers); err != nil {
		return domain.WorkItem{}, err
	}
	if targetID == "" {
		return domain.WorkItem{}, invalidInput("target actor required")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.WorkItem{}, err
	}
	defer tx.Rollback()

	now := e.stamp()
	ok, err := e.Repo.AssignActive(ctx, tx, itemID, targetID, now, openStates(EventClaim))
	if err != nil {
		return domain.WorkItem{}, err
	}
	if !ok {
		if err := e.stateFailure(ctx, tx, itemID, EventClaim); err != nil {
			return domain.WorkItem{}, err
		}
		return domain.WorkItem{}, e.targetFailure(ctx, tx, targetID)
	}
	entry := domain.AssignmentEntry{ItemID: itemID, ActorID: by.ID, Action: domain.ActionAssign, TargetID: targetID, TS: now}
	it, err := e.commitAssignment(ctx, tx, entry, events.ItemAssigned)
	if err != nil {
		return domain.WorkItem{}, err
	}
	e.log().WithFields(logrus.Fields{"item_id": itemID, "actor_id": by.ID, "target_id": targetID}).Info("item assigned")
	e.record(ctx, "assign", "assigned")
	return it, nil
}

// Release clears the assignee. Releasing an unassigned item changes nothing
// and appends no log entry.
func (e Engine) Release(ctx context.Context, itemID string, by Caller) (domain.WorkItem, error) {
	if err := e.Policy.Require(by.Role, auth.AssignOthers); err != nil {
		return domain.WorkItem{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.WorkItem{}, err
	}
	defer tx.Rollback()

	now := e.stamp()
	ok, err := e.Repo.ClearAssignee(ctx, tx, itemID, now, openStates(EventClaim))
	if err != nil {
		return domain.WorkItem{}, err
	}
	if !ok {
		if err := e.stateFailure(ctx, tx, itemID, EventClaim); err != nil {
			return domain.WorkItem{}, err
		}
		return e.Repo.GetItemTx(ctx, tx, itemID)
	}
	entry := domain.AssignmentEntry{ItemID: itemID, ActorID: by.ID, Action: domain.ActionUnassign, TS: now}
	it, err := e.commitAssignment(ctx, tx, entry, events.ItemReleased)
	if err != nil {
		return domain.WorkItem{}, err
	}
	e.log().WithFields(logrus.Fields{"item_id": itemID, "actor_id": by.ID}).Info("item released")
	e.record(ctx, "release", "released")
	return it, nil
}

func (e Engine) commitAssignment(ctx context.Context, tx *sql.Tx, entry domain.AssignmentEntry, evtType string) (domain.WorkItem, error) {
	seq, err := e.Repo.AppendAssignment(ctx, tx, entry)
	if err != nil {
		return domain.WorkItem{}, fmt.Errorf("append assignment: %w", err)
	}
	if err := e.events().Append(ctx, tx, evtType, "work_item", entry.ItemID, entry.ActorID, events.EventPayload{
		"action": entry.Action, "target_id": entry.TargetID, "seq": seq,
	}); err != nil {
		return domain.WorkItem{}, err
	}
	it, err := e.Repo.GetItemTx(ctx, tx, entry.ItemID)
	if err != nil {
		return domain.WorkItem{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.WorkItem{}, err
	}
	return it, nil
}

// claimFailure explains why a conditional claim matched no row.
func (e Engine) claimFailure(ctx context.Context, tx *sql.Tx, itemID string) error {
	if err := e.stateFailure(ctx, tx, itemID, EventClaim); err != nil {
		return err
	}
	return fmt.Errorf("%w: item %s", ErrAlreadyAssigned, itemID)
}

// stateFailure returns the item's absence or state as an error, or nil when
// the item exists in a state that allows ev.
func (e Engine) stateFailure(ctx context.Context, tx *sql.Tx, itemID string, ev Event) error {
	it, err := e.Repo.GetItemTx(ctx, tx, itemID)
	if err != nil {
		return err
	}
	if !Permits(it.Status, ev) {
		return gateError(it, ev)
	}
	return nil
}

func (e Engine) targetFailure(ctx context.Context, tx *sql.Tx, targetID string) error {
	a, err := e.Repo.GetActorTx(ctx, tx, targetID)
	if errors.Is(err, repo.ErrNotFound) {
		return fmt.Errorf("actor %s: %w", targetID, repo.ErrNotFound)
	}
	if err != nil {
		return err
	}
	if !a.Active {
		return fmt.Errorf("%w: %s", ErrInactiveActor, targetID)
	}
	return fmt.Errorf("assign %s: no row matched", targetID)
}
