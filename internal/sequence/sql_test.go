package sequence_test

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"sort"
	"sync"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"

	"transcriptdesk/internal/db"
	"transcriptdesk/internal/migrate"
	"transcriptdesk/internal/sequence"
)

func newTestDB(t *testing.T) *sql.DB {
	t.Helper()
	conn, err := db.OpenPath(filepath.Join(t.TempDir(), "seq.db"), 10000)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(context.Background(), conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return conn
}

func quietLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return l
}

func TestSQLCounterConcurrentCallersGetOneToFifty(t *testing.T) {
	counter := sequence.SQLCounter{DB: newTestDB(t)}
	ctx := context.Background()

	var (
		mu   sync.Mutex
		got  []int64
		wg   sync.WaitGroup
		errs = make(chan error, 50)
	)
	for w := 0; w < 10; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 5; i++ {
				v, err := counter.Next(ctx, "SUB-20250101")
				if err != nil {
					errs <- err
					return
				}
				mu.Lock()
				got = append(got, v)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("next: %v", err)
	}
	sort.Slice(got, func(i, j int) bool { return got[i] < got[j] })
	if len(got) != 50 {
		t.Fatalf("expected 50 values, got %d", len(got))
	}
	for i, v := range got {
		if v != int64(i+1) {
			t.Fatalf("expected %d at position %d, got %d", i+1, i, v)
		}
	}
}

func TestSQLCounterScopesAreIndependent(t *testing.T) {
	counter := sequence.SQLCounter{DB: newTestDB(t)}
	ctx := context.Background()
	for i := 1; i <= 3; i++ {
		v, err := counter.Next(ctx, "A")
		if err != nil || v != int64(i) {
			t.Fatalf("scope A step %d: got %d err %v", i, v, err)
		}
	}
	v, err := counter.Next(ctx, "B")
	if err != nil || v != 1 {
		t.Fatalf("scope B should start at 1, got %d err %v", v, err)
	}
}

var upsertQuery = regexp.QuoteMeta("INSERT INTO sequence_counters(scope, value) VALUES (?, 1)")

func TestGuardedRetriesPrimitiveOnce(t *testing.T) {
	conn, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer conn.Close()

	mock.ExpectQuery(upsertQuery).WithArgs("SUB-20250101").WillReturnError(errors.New("database is locked"))
	mock.ExpectQuery(upsertQuery).WithArgs("SUB-20250101").WillReturnRows(sqlmock.NewRows([]string{"value"}).AddRow(int64(7)))

	g := sequence.NewGuarded(sequence.SQLCounter{DB: conn}, sequence.GuardOptions{Log: quietLogger()})
	v, err := g.Next(context.Background(), "SUB-20250101")
	assert.NoError(t, err)
	assert.Equal(t, int64(7), v)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGuardedReportsIdentifierUnavailable(t *testing.T) {
	conn, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer conn.Close()

	mock.ExpectQuery(upsertQuery).WithArgs("RCP").WillReturnError(errors.New("disk I/O error"))
	mock.ExpectQuery(upsertQuery).WithArgs("RCP").WillReturnError(errors.New("disk I/O error"))

	g := sequence.NewGuarded(sequence.SQLCounter{DB: conn}, sequence.GuardOptions{MaxFailures: 1, Log: quietLogger()})
	_, err = g.Next(context.Background(), "RCP")
	assert.ErrorIs(t, err, sequence.ErrIdentifierUnavailable)
	assert.NoError(t, mock.ExpectationsWereMet())

	// The breaker is now open: no query reaches the store.
	_, err = g.Next(context.Background(), "RCP")
	assert.ErrorIs(t, err, sequence.ErrIdentifierUnavailable)
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, "open", g.State())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCounterValuesAreDistinctUnderConcurrency(t *testing.T) {
	counter := sequence.SQLCounter{DB: newTestDB(t)}
	ctx := context.Background()
	run := 0

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 25
	properties := gopter.NewProperties(parameters)

	properties.Property("N concurrent Next calls return N distinct values 1..N", prop.ForAll(
		func(workers, per int) bool {
			run++
			scope := fmt.Sprintf("P-%d", run)
			var (
				mu   sync.Mutex
				seen = map[int64]bool{}
				wg   sync.WaitGroup
				bad  bool
			)
			for w := 0; w < workers; w++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					for i := 0; i < per; i++ {
						v, err := counter.Next(ctx, scope)
						mu.Lock()
						if err != nil || seen[v] {
							bad = true
						}
						seen[v] = true
						mu.Unlock()
					}
				}()
			}
			wg.Wait()
			if bad || len(seen) != workers*per {
				return false
			}
			for v := int64(1); v <= int64(workers*per); v++ {
				if !seen[v] {
					return false
				}
			}
			return true
		},
		gen.IntRange(1, 8),
		gen.IntRange(1, 6),
	))

	properties.TestingRun(t)
}
