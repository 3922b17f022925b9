package repo

import (
	"context"
	"database/sql"
	"strings"

	"transcriptdesk/internal/domain"
)

const itemColumns = `id,display_id,kind,owner_id,assignee_id,status,payment_intent_ref,priceable_units,notarize,ship_physical,created_at,updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(row rowScanner) (domain.WorkItem, error) {
	var it domain.WorkItem
	var assignee, ref sql.NullString
	var notarize, ship int
	err := row.Scan(&it.ID, &it.DisplayID, &it.Kind, &it.OwnerID, &assignee, &it.Status, &ref,
		&it.PriceableUnits, &notarize, &ship, &it.CreatedAt, &it.UpdatedAt)
	if err == sql.ErrNoRows {
		return it, ErrNotFound
	}
	if err != nil {
		return it, err
	}
	if assignee.Valid {
		it.AssigneeID = &assignee.String
	}
	if ref.Valid {
		it.PaymentIntentRef = &ref.String
	}
	it.Notarize = notarize == 1
	it.ShipPhysical = ship == 1
	return it, nil
}

func (r Repo) InsertItem(ctx context.Context, tx *sql.Tx, it domain.WorkItem) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO work_items(`+itemColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		it.ID, it.DisplayID, string(it.Kind), it.OwnerID, nullableStringPtr(it.AssigneeID), string(it.Status),
		nullableStringPtr(it.PaymentIntentRef), it.PriceableUnits, boolInt(it.Notarize), boolInt(it.ShipPhysical),
		it.CreatedAt, it.UpdatedAt)
	return err
}

// GetItem returns an item with its assignment history.
func (r Repo) GetItem(ctx context.Context, id string) (domain.WorkItem, error) {
	return r.GetItemTx(ctx, nil, id)
}

func (r Repo) GetItemTx(ctx context.Context, tx *sql.Tx, id string) (domain.WorkItem, error) {
	it, err := scanItem(r.q(tx).QueryRowContext(ctx, `SELECT `+itemColumns+` FROM work_items WHERE id=?`, id))
	if err != nil {
		return it, err
	}
	hist, err := r.ListAssignmentsTx(ctx, tx, id)
	if err != nil {
		return it, err
	}
	it.History = hist
	return it, nil
}

type ItemFilters struct {
	OwnerID         string
	AssigneeID      string
	Status          string
	Kind            string
	IntentRef       string
	Unassigned      bool
	Limit           int
	CursorCreatedAt string
	CursorID        string
}

// ListItems returns items newest first without history.
func (r Repo) ListItems(ctx context.Context, f ItemFilters) ([]domain.WorkItem, error) {
	var clauses []string
	var args []any
	if f.OwnerID != "" {
		clauses = append(clauses, "owner_id=?")
		args = append(args, f.OwnerID)
	}
	if f.AssigneeID != "" {
		clauses = append(clauses, "assignee_id=?")
		args = append(args, f.AssigneeID)
	}
	if f.Unassigned {
		clauses = append(clauses, "assignee_id IS NULL")
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.Kind != "" {
		clauses = append(clauses, "kind=?")
		args = append(args, f.Kind)
	}
	if f.IntentRef != "" {
		clauses = append(clauses, "payment_intent_ref=?")
		args = append(args, f.IntentRef)
	}
	if f.CursorCreatedAt != "" && f.CursorID != "" {
		clauses = append(clauses, "(created_at < ? OR (created_at = ? AND id < ?))")
		args = append(args, f.CursorCreatedAt, f.CursorCreatedAt, f.CursorID)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + itemColumns + ` FROM work_items ` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.WorkItem
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, it)
	}
	return res, rows.Err()
}

// PendingOwned returns the subset of ids that ownerID owns and that are still pending.
func (r Repo) PendingOwned(ctx context.Context, ownerID string, ids []string) ([]domain.WorkItem, error) {
	return r.PendingOwnedTx(ctx, nil, ownerID, ids)
}

// PendingOwnedTx is PendingOwned inside tx. Read under the write lock, the
// result is the exact set and units a following LockItems in tx will bind.
func (r Repo) PendingOwnedTx(ctx context.Context, tx *sql.Tx, ownerID string, ids []string) ([]domain.WorkItem, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	args := append([]any{ownerID, string(domain.StatusPending)}, stringArgs(ids)...)
	rows, err := r.q(tx).QueryContext(ctx, `SELECT `+itemColumns+` FROM work_items WHERE owner_id=? AND status=? AND id IN (`+placeholders(len(ids))+`) ORDER BY id`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.WorkItem
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, it)
	}
	return res, rows.Err()
}

// ClaimIfUnassigned sets the assignee only while it is still NULL and the
// status is one of open. It reports whether the row was claimed.
func (r Repo) ClaimIfUnassigned(ctx context.Context, tx *sql.Tx, id, actorID, now string, open []domain.Status) (bool, error) {
	args := append([]any{actorID, now, id}, statusArgs(open)...)
	res, err := r.q(tx).ExecContext(ctx, `UPDATE work_items SET assignee_id=?, updated_at=?
WHERE id=? AND assignee_id IS NULL AND status IN (`+placeholders(len(open))+`)`, args...)
	if err != nil {
		return false, err
	}
	n, err := affected(res)
	return n == 1, err
}

// AssignActive overwrites the assignee, provided targetID names an active
// actor and the status is one of open.
func (r Repo) AssignActive(ctx context.Context, tx *sql.Tx, id, targetID, now string, open []domain.Status) (bool, error) {
	args := append([]any{targetID, now, id, targetID}, statusArgs(open)...)
	res, err := r.q(tx).ExecContext(ctx, `UPDATE work_items SET assignee_id=?, updated_at=?
WHERE id=? AND EXISTS (SELECT 1 FROM actors WHERE id=? AND active=1) AND status IN (`+placeholders(len(open))+`)`, args...)
	if err != nil {
		return false, err
	}
	n, err := affected(res)
	return n == 1, err
}

// ClearAssignee sets a non-NULL assignee to NULL while the status is one of open.
func (r Repo) ClearAssignee(ctx context.Context, tx *sql.Tx, id, now string, open []domain.Status) (bool, error) {
	args := append([]any{now, id}, statusArgs(open)...)
	res, err := r.q(tx).ExecContext(ctx, `UPDATE work_items SET assignee_id=NULL, updated_at=?
WHERE id=? AND assignee_id IS NOT NULL AND status IN (`+placeholders(len(open))+`)`, args...)
	if err != nil {
		return false, err
	}
	n, err := affected(res)
	return n == 1, err
}

// TransitionItem moves one item from -> to, re-asserting from in the WHERE clause.
func (r Repo) TransitionItem(ctx context.Context, tx *sql.Tx, id string, from, to domain.Status, now string) (bool, error) {
	res, err := r.q(tx).ExecContext(ctx, `UPDATE work_items SET status=?, updated_at=? WHERE id=? AND status=?`,
		string(to), now, id, string(from))
	if err != nil {
		return false, err
	}
	n, err := affected(res)
	return n == 1, err
}

// LockItems binds every listed item to intentRef in one statement. Only
// items still pending and owned by ownerID match; the caller compares the
// count with what it expected.
func (r Repo) LockItems(ctx context.Context, tx *sql.Tx, ids []string, ownerID, intentRef, now string) (int64, error) {
	args := []any{string(domain.StatusLocked), intentRef, now, ownerID, string(domain.StatusPending)}
	args = append(args, stringArgs(ids)...)
	res, err := tx.ExecContext(ctx, `UPDATE work_items SET status=?, payment_intent_ref=?, updated_at=?
WHERE owner_id=? AND status=? AND id IN (`+placeholders(len(ids))+`)`, args...)
	if err != nil {
		return 0, err
	}
	return affected(res)
}

// MoveBatch transitions every item of a batch that is still in from.
// Leaving the batch (to pending) clears the intent reference.
func (r Repo) MoveBatch(ctx context.Context, tx *sql.Tx, intentRef string, from, to domain.Status, now string) (int64, error) {
	query := `UPDATE work_items SET status=?, updated_at=? WHERE payment_intent_ref=? AND status=?`
	if to == domain.StatusPending {
		query = `UPDATE work_items SET status=?, updated_at=?, payment_intent_ref=NULL WHERE payment_intent_ref=? AND status=?`
	}
	res, err := tx.ExecContext(ctx, query, string(to), now, intentRef, string(from))
	if err != nil {
		return 0, err
	}
	return affected(res)
}

// AddUnits grows priceable_units while the item is pending and owned by ownerID.
func (r Repo) AddUnits(ctx context.Context, tx *sql.Tx, id, ownerID string, n int, now string) (bool, error) {
	res, err := r.q(tx).ExecContext(ctx, `UPDATE work_items SET priceable_units=priceable_units+?, updated_at=?
WHERE id=? AND owner_id=? AND status=?`, n, now, id, ownerID, string(domain.StatusPending))
	if err != nil {
		return false, err
	}
	c, err := affected(res)
	return c == 1, err
}

// DeleteWithdrawable physically removes an item that is pending, unassigned,
// was never assigned and was never part of a payment batch.
func (r Repo) DeleteWithdrawable(ctx context.Context, tx *sql.Tx, id, ownerID string) (bool, error) {
	res, err := r.q(tx).ExecContext(ctx, `DELETE FROM work_items
WHERE id=? AND owner_id=? AND status=? AND assignee_id IS NULL
  AND NOT EXISTS (SELECT 1 FROM assignment_log WHERE item_id=work_items.id)
  AND NOT EXISTS (SELECT 1 FROM payment_intent_members WHERE item_id=work_items.id)`,
		id, ownerID, string(domain.StatusPending))
	if err != nil {
		return false, err
	}
	n, err := affected(res)
	return n == 1, err
}

// EverBatched reports whether the item was ever a member of a payment batch.
func (r Repo) EverBatched(ctx context.Context, tx *sql.Tx, id string) (bool, error) {
	var n int
	err := r.q(tx).QueryRowContext(ctx, `SELECT COUNT(1) FROM payment_intent_members WHERE item_id=?`, id).Scan(&n)
	return n > 0, err
}

// AppendAssignment adds one entry to the append-only assignment log.
func (r Repo) AppendAssignment(ctx context.Context, tx *sql.Tx, e domain.AssignmentEntry) (int64, error) {
	res, err := r.q(tx).ExecContext(ctx, `INSERT INTO assignment_log(item_id,actor_id,action,target_id,ts) VALUES (?,?,?,?,?)`,
		e.ItemID, e.ActorID, e.Action, nullable(e.TargetID), e.TS)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (r Repo) ListAssignmentsTx(ctx context.Context, tx *sql.Tx, itemID string) ([]domain.AssignmentEntry, error) {
	rows, err := r.q(tx).QueryContext(ctx, `SELECT seq,item_id,actor_id,action,COALESCE(target_id,''),ts FROM assignment_log WHERE item_id=? ORDER BY seq`, itemID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.AssignmentEntry
	for rows.Next() {
		var e domain.AssignmentEntry
		if err := rows.Scan(&e.Seq, &e.ItemID, &e.ActorID, &e.Action, &e.TargetID, &e.TS); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}
