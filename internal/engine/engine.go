package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"transcriptdesk/internal/config"
	"transcriptdesk/internal/domain"
	"transcriptdesk/internal/engine/auth"
	"transcriptdesk/internal/events"
	"transcriptdesk/internal/pricing"
	"transcriptdesk/internal/repo"
	"transcriptdesk/internal/sequence"
	"transcriptdesk/internal/telemetry"
)

// Caller is the identity supplied by the authorization layer. The engine
// trusts it and only checks capabilities.
type Caller struct {
	ID   string
	Role string
}

type Engine struct {
	DB      *sql.DB
	Repo    repo.Repo
	Events  events.Writer
	Config  *config.Config
	Policy  auth.Policy
	Tariff  pricing.Tariff
	Counter sequence.Counter
	Log     logrus.FieldLogger
	Metrics *telemetry.Metrics
	Now     func() time.Time
}

func New(db *sql.DB, cfg *config.Config, counter sequence.Counter) Engine {
	if cfg == nil {
		cfg = config.Default()
	}
	e := Engine{
		DB:      db,
		Repo:    repo.Repo{DB: db},
		Config:  cfg,
		Policy:  cfg.Policy(),
		Tariff:  pricing.FromConfig(cfg),
		Counter: counter,
		Log:     logrus.StandardLogger(),
		Now:     time.Now,
	}
	if m, err := telemetry.New(); err == nil {
		e.Metrics = m
	}
	return e
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) stamp() string {
	return e.now().UTC().Format(time.RFC3339)
}

func (e Engine) log() logrus.FieldLogger {
	if e.Log != nil {
		return e.Log
	}
	return logrus.StandardLogger()
}

func (e Engine) events() events.Writer {
	w := e.Events
	if w.Now == nil {
		w.Now = e.now
	}
	return w
}

func (e Engine) ids() sequence.Generator {
	return sequence.Generator{Counter: e.Counter, Now: e.now}
}

// nextID draws a display id. Failures always surface as ErrIdentifierUnavailable.
func (e Engine) nextID(ctx context.Context, f config.IdentifierFormat) (string, error) {
	if e.Counter == nil {
		return "", fmt.Errorf("%w: no counter configured", sequence.ErrIdentifierUnavailable)
	}
	id, err := e.ids().Next(ctx, f)
	if err != nil {
		if errors.Is(err, sequence.ErrIdentifierUnavailable) {
			return "", err
		}
		return "", fmt.Errorf("%w: %w", sequence.ErrIdentifierUnavailable, err)
	}
	return id, nil
}

// NextIdentifier issues the next submission or receipt id without binding it
// to a record.
func (e Engine) NextIdentifier(ctx context.Context, kind string) (string, error) {
	switch kind {
	case "submission":
		return e.nextID(ctx, e.Config.Identifiers.Submission)
	case "receipt":
		return e.nextID(ctx, e.Config.Identifiers.Receipt)
	}
	return "", invalidInput("unknown identifier kind %q", kind)
}

func (e Engine) record(ctx context.Context, op, outcome string) {
	e.Metrics.Record(ctx, op, outcome)
}

// CreateItemOptions are parameters for a submission.
type CreateItemOptions struct {
	Kind           domain.Kind
	PriceableUnits int
	Notarize       bool
	ShipPhysical   bool
}

// CreateItem records a new pending, unassigned work item owned by the caller.
func (e Engine) CreateItem(ctx context.Context, opts CreateItemOptions, by Caller) (domain.WorkItem, error) {
	if err := e.Policy.Require(by.Role, auth.Submit); err != nil {
		return domain.WorkItem{}, err
	}
	if !opts.Kind.Valid() {
		return domain.WorkItem{}, invalidInput("unknown kind %q", opts.Kind)
	}
	if opts.PriceableUnits < 0 {
		return domain.WorkItem{}, invalidInput("priceable units must not be negative")
	}
	displayID, err := e.nextID(ctx, e.Config.Identifiers.Submission)
	if err != nil {
		return domain.WorkItem{}, err
	}
	now := e.stamp()
	it := domain.WorkItem{
		ID:             uuid.NewString(),
		DisplayID:      displayID,
		Kind:           opts.Kind,
		OwnerID:        by.ID,
		Status:         domain.StatusPending,
		PriceableUnits: opts.PriceableUnits,
		Notarize:       opts.Notarize,
		ShipPhysical:   opts.ShipPhysical,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.WorkItem{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertItem(ctx, tx, it); err != nil {
		return domain.WorkItem{}, fmt.Errorf("insert item: %w", err)
	}
	if err := e.events().Append(ctx, tx, events.ItemSubmitted, "work_item", it.ID, by.ID, events.EventPayload{
		"display_id": it.DisplayID, "kind": it.Kind, "units": it.PriceableUnits,
	}); err != nil {
		return domain.WorkItem{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.WorkItem{}, err
	}
	return it, nil
}

func (e Engine) GetItem(ctx context.Context, id string) (domain.WorkItem, error) {
	return e.Repo.GetItem(ctx, id)
}

func (e Engine) ListItems(ctx context.Context, f repo.ItemFilters) ([]domain.WorkItem, error) {
	return e.Repo.ListItems(ctx, f)
}

// AddUnits grows priceableUnits for a legitimately added sub-item. Only the
// owner may do this, and only while the item is pending.
func (e Engine) AddUnits(ctx context.Context, itemID string, n int, by Caller) (domain.WorkItem, error) {
	if err := e.Policy.Require(by.Role, auth.Submit); err != nil {
		return domain.WorkItem{}, err
	}
	if n <= 0 {
		return domain.WorkItem{}, invalidInput("units to add must be positive")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.WorkItem{}, err
	}
	defer tx.Rollback()
	ok, err := e.Repo.AddUnits(ctx, tx, itemID, by.ID, n, e.stamp())
	if err != nil {
		return domain.WorkItem{}, err
	}
	if !ok {
		return domain.WorkItem{}, e.ownedGateError(ctx, tx, itemID, by, EventAddUnits)
	}
	if err := e.events().Append(ctx, tx, events.ItemUnitsAdded, "work_item", itemID, by.ID, events.EventPayload{"added": n}); err != nil {
		return domain.WorkItem{}, err
	}
	it, err := e.Repo.GetItemTx(ctx, tx, itemID)
	if err != nil {
		return domain.WorkItem{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.WorkItem{}, err
	}
	return it, nil
}

// Withdraw physically deletes an item its owner still fully controls:
// pending, never assigned, never part of a payment batch.
func (e Engine) Withdraw(ctx context.Context, itemID string, by Caller) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	ok, err := e.Repo.DeleteWithdrawable(ctx, tx, itemID, by.ID)
	if err != nil {
		return err
	}
	if !ok {
		if err := e.ownedGateError(ctx, tx, itemID, by, EventWithdraw); err != nil {
			return err
		}
		batched, err := e.Repo.EverBatched(ctx, tx, itemID)
		if err != nil {
			return err
		}
		if batched {
			return fmt.Errorf("%w: item %s was part of a payment batch", ErrNotWithdrawable, itemID)
		}
		return fmt.Errorf("%w: item %s has been assigned", ErrNotWithdrawable, itemID)
	}
	if err := e.events().Append(ctx, tx, events.ItemWithdrawn, "work_item", itemID, by.ID, nil); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	e.log().WithFields(logrus.Fields{"item_id": itemID, "actor_id": by.ID}).Info("item withdrawn")
	return nil
}

// ownedGateError classifies a failed owner-scoped conditional write. It
// returns nil when the item exists, is owned by the caller and is in a
// permitted state, leaving the caller to name the remaining reason.
func (e Engine) ownedGateError(ctx context.Context, tx *sql.Tx, itemID string, by Caller, ev Event) error {
	it, err := e.Repo.GetItemTx(ctx, tx, itemID)
	if err != nil {
		return err
	}
	if it.OwnerID != by.ID {
		return fmt.Errorf("%w: item %s", ErrNotOwner, itemID)
	}
	if !Permits(it.Status, ev) {
		return gateError(it, ev)
	}
	return nil
}

// Reject moves a pending item to rejected.
func (e Engine) Reject(ctx context.Context, itemID string, by Caller) (domain.WorkItem, error) {
	return e.applyItemEvent(ctx, itemID, EventReject, auth.Reject, events.ItemRejected, by)
}

// MarkDelivered completes a paid item.
func (e Engine) MarkDelivered(ctx context.Context, itemID string, by Caller) (domain.WorkItem, error) {
	return e.applyItemEvent(ctx, itemID, EventMarkDelivered, auth.Deliver, events.ItemDelivered, by)
}

func (e Engine) applyItemEvent(ctx context.Context, itemID string, ev Event, capability, evtType string, by Caller) (domain.WorkItem, error) {
	if err := e.Policy.Require(by.Role, capability); err != nil {
		return domain.WorkItem{}, err
	}
	from := source(ev)
	to, err := Transition(from, ev)
	if err != nil {
		return domain.WorkItem{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.WorkItem{}, err
	}
	defer tx.Rollback()
	ok, err := e.Repo.TransitionItem(ctx, tx, itemID, from, to, e.stamp())
	if err != nil {
		return domain.WorkItem{}, err
	}
	if !ok {
		it, err := e.Repo.GetItemTx(ctx, tx, itemID)
		if err != nil {
			return domain.WorkItem{}, err
		}
		return domain.WorkItem{}, &InvalidTransitionError{ItemID: itemID, From: it.Status, Event: ev}
	}
	if err := e.events().Append(ctx, tx, evtType, "work_item", itemID, by.ID, events.EventPayload{"from": from, "to": to}); err != nil {
		return domain.WorkItem{}, err
	}
	it, err := e.Repo.GetItemTx(ctx, tx, itemID)
	if err != nil {
		return domain.WorkItem{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.WorkItem{}, err
	}
	return it, nil
}

// UpsertActor registers staff or students so they can be assigned.
func (e Engine) UpsertActor(ctx context.Context, a domain.Actor, by Caller) (domain.Actor, error) {
	if err := e.Policy.Require(by.Role, auth.AssignOthers); err != nil {
		return domain.Actor{}, err
	}
	if a.ID == "" {
		return domain.Actor{}, invalidInput("actor id required")
	}
	if !e.Policy.HasRole(a.Role) {
		return domain.Actor{}, invalidInput("unknown role %q", a.Role)
	}
	if a.CreatedAt == "" {
		a.CreatedAt = e.stamp()
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Actor{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpsertActor(ctx, tx, a); err != nil {
		return domain.Actor{}, err
	}
	if err := e.events().Append(ctx, tx, events.ActorUpserted, "actor", a.ID, by.ID, events.EventPayload{"role": a.Role, "active": a.Active}); err != nil {
		return domain.Actor{}, err
	}
	stored, err := e.Repo.GetActorTx(ctx, tx, a.ID)
	if err != nil {
		return domain.Actor{}, err
	}
	return stored, tx.Commit()
}
