package sequence

import (
	"context"
	"database/sql"
)

// SQLCounter keeps counters in the sequence_counters table. The upsert
// creates the scope at 1 or increments it, and returns the new value in the
// same statement.
type SQLCounter struct {
	DB *sql.DB
}

const upsertIncrement = `INSERT INTO sequence_counters(scope, value) VALUES (?, 1)
ON CONFLICT(scope) DO UPDATE SET value = value + 1
RETURNING value`

func (c SQLCounter) Next(ctx context.Context, scope string) (int64, error) {
	var v int64
	if err := c.DB.QueryRowContext(ctx, upsertIncrement, scope).Scan(&v); err != nil {
		return 0, err
	}
	return v, nil
}
