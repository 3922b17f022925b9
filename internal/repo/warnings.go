package repo

import (
	"context"
	"database/sql"
	"strings"

	"transcriptdesk/internal/domain"
)

// InsertWarning queues a reconciliation warning for operator review. At most
// one warning of each kind exists per intent; a repeat reports false.
func (r Repo) InsertWarning(ctx context.Context, tx *sql.Tx, w domain.ReconciliationWarning) (bool, error) {
	res, err := r.q(tx).ExecContext(ctx, `INSERT INTO reconciliation_warnings(intent_ref,kind,expected_amount,confirmed_amount,message,created_at)
VALUES (?,?,?,?,?,?) ON CONFLICT(intent_ref, kind) DO NOTHING`,
		w.IntentRef, w.Kind, w.ExpectedAmount, w.ConfirmedAmount, w.Message, w.CreatedAt)
	if err != nil {
		return false, err
	}
	n, err := affected(res)
	return n == 1, err
}

type WarningFilters struct {
	IntentRef  string
	Kind       string
	Unresolved bool
	Limit      int
}

func (r Repo) ListWarnings(ctx context.Context, f WarningFilters) ([]domain.ReconciliationWarning, error) {
	var clauses []string
	var args []any
	if f.IntentRef != "" {
		clauses = append(clauses, "intent_ref=?")
		args = append(args, f.IntentRef)
	}
	if f.Kind != "" {
		clauses = append(clauses, "kind=?")
		args = append(args, f.Kind)
	}
	if f.Unresolved {
		clauses = append(clauses, "resolved_at IS NULL")
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT id,intent_ref,kind,expected_amount,confirmed_amount,message,created_at,resolved_at,resolved_by FROM reconciliation_warnings ` + where + ` ORDER BY id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ReconciliationWarning
	for rows.Next() {
		var w domain.ReconciliationWarning
		var resolvedAt, resolvedBy sql.NullString
		if err := rows.Scan(&w.ID, &w.IntentRef, &w.Kind, &w.ExpectedAmount, &w.ConfirmedAmount, &w.Message, &w.CreatedAt, &resolvedAt, &resolvedBy); err != nil {
			return nil, err
		}
		if resolvedAt.Valid {
			w.ResolvedAt = &resolvedAt.String
		}
		if resolvedBy.Valid {
			w.ResolvedBy = &resolvedBy.String
		}
		res = append(res, w)
	}
	return res, rows.Err()
}

// ResolveWarning marks an open warning resolved. Resolving twice reports false.
func (r Repo) ResolveWarning(ctx context.Context, tx *sql.Tx, id int64, by, now string) (bool, error) {
	res, err := r.q(tx).ExecContext(ctx, `UPDATE reconciliation_warnings SET resolved_at=?, resolved_by=? WHERE id=? AND resolved_at IS NULL`, now, by, id)
	if err != nil {
		return false, err
	}
	n, err := affected(res)
	return n == 1, err
}

func (r Repo) WarningExists(ctx context.Context, tx *sql.Tx, id int64) (bool, error) {
	var n int
	err := r.q(tx).QueryRowContext(ctx, `SELECT COUNT(1) FROM reconciliation_warnings WHERE id=?`, id).Scan(&n)
	return n > 0, err
}
