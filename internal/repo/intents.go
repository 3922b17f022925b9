package repo

import (
	"context"
	"database/sql"

	"transcriptdesk/internal/domain"
)

// InsertIntent stores a batch record and its fixed member set.
func (r Repo) InsertIntent(ctx context.Context, tx *sql.Tx, pi domain.PaymentIntent) error {
	if _, err := tx.ExecContext(ctx, `INSERT INTO payment_intents(intent_ref,payer_id,amount_expected,currency,settled,voided,created_at) VALUES (?,?,?,?,0,0,?)`,
		pi.IntentRef, pi.PayerID, pi.AmountExpected, pi.Currency, pi.CreatedAt); err != nil {
		return err
	}
	for _, id := range pi.MemberItemIDs {
		if _, err := tx.ExecContext(ctx, `INSERT INTO payment_intent_members(intent_ref,item_id) VALUES (?,?)`, pi.IntentRef, id); err != nil {
			return err
		}
	}
	return nil
}

func (r Repo) GetIntent(ctx context.Context, ref string) (domain.PaymentIntent, error) {
	return r.GetIntentTx(ctx, nil, ref)
}

func (r Repo) GetIntentTx(ctx context.Context, tx *sql.Tx, ref string) (domain.PaymentIntent, error) {
	q := r.q(tx)
	var pi domain.PaymentIntent
	var settled, voided int
	var confirmed sql.NullInt64
	var receipt, settledAt, voidedAt sql.NullString
	err := q.QueryRowContext(ctx, `SELECT intent_ref,payer_id,amount_expected,currency,settled,voided,confirmed_amount,receipt_id,created_at,settled_at,voided_at
FROM payment_intents WHERE intent_ref=?`, ref).
		Scan(&pi.IntentRef, &pi.PayerID, &pi.AmountExpected, &pi.Currency, &settled, &voided, &confirmed, &receipt, &pi.CreatedAt, &settledAt, &voidedAt)
	if err == sql.ErrNoRows {
		return pi, ErrNotFound
	}
	if err != nil {
		return pi, err
	}
	pi.Settled = settled == 1
	pi.Voided = voided == 1
	if confirmed.Valid {
		pi.ConfirmedAmount = &confirmed.Int64
	}
	if receipt.Valid {
		pi.ReceiptID = &receipt.String
	}
	if settledAt.Valid {
		pi.SettledAt = &settledAt.String
	}
	if voidedAt.Valid {
		pi.VoidedAt = &voidedAt.String
	}
	rows, err := q.QueryContext(ctx, `SELECT item_id FROM payment_intent_members WHERE intent_ref=? ORDER BY item_id`, ref)
	if err != nil {
		return pi, err
	}
	defer rows.Close()
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return pi, err
		}
		pi.MemberItemIDs = append(pi.MemberItemIDs, id)
	}
	return pi, rows.Err()
}

// SettleIntent is the compare-and-set settled 0 -> 1. It reports whether
// this call won; a lost race or a voided intent matches no row.
func (r Repo) SettleIntent(ctx context.Context, tx *sql.Tx, ref string, confirmed int64, receiptID, now string) (bool, error) {
	res, err := tx.ExecContext(ctx, `UPDATE payment_intents SET settled=1, confirmed_amount=?, receipt_id=?, settled_at=?
WHERE intent_ref=? AND settled=0 AND voided=0`, confirmed, receiptID, now, ref)
	if err != nil {
		return false, err
	}
	n, err := affected(res)
	return n == 1, err
}

// VoidIntent retires an open batch so that it can never settle.
func (r Repo) VoidIntent(ctx context.Context, tx *sql.Tx, ref, now string) (bool, error) {
	res, err := tx.ExecContext(ctx, `UPDATE payment_intents SET voided=1, voided_at=?
WHERE intent_ref=? AND settled=0 AND voided=0`, now, ref)
	if err != nil {
		return false, err
	}
	n, err := affected(res)
	return n == 1, err
}

// ListIntents returns batches created by payerID, newest first.
func (r Repo) ListIntents(ctx context.Context, payerID string, limit int) ([]domain.PaymentIntent, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT intent_ref FROM payment_intents`
	var args []any
	if payerID != "" {
		query += ` WHERE payer_id=?`
		args = append(args, payerID)
	}
	query += ` ORDER BY created_at DESC, intent_ref DESC LIMIT ?`
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	var refs []string
	for rows.Next() {
		var ref string
		if err := rows.Scan(&ref); err != nil {
			rows.Close()
			return nil, err
		}
		refs = append(refs, ref)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	res := make([]domain.PaymentIntent, 0, len(refs))
	for _, ref := range refs {
		pi, err := r.GetIntent(ctx, ref)
		if err != nil {
			return nil, err
		}
		res = append(res, pi)
	}
	return res, nil
}
