package engine_test

import (
	"errors"
	"sync"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"transcriptdesk/internal/domain"
	"transcriptdesk/internal/engine"
	"transcriptdesk/internal/events"
	"transcriptdesk/internal/repo"
)

func TestAssignmentHistoryOnlyGrows(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 20
	properties := gopter.NewProperties(parameters)

	staff := []engine.Caller{alice, bob, admin}
	properties.Property("every operation keeps the previous history as a prefix", prop.ForAll(
		func(ops []int) bool {
			env := newTestEnv(t)
			it := env.submit(t, student, 1)
			var prev []domain.AssignmentEntry
			for _, op := range ops {
				actor := staff[op%len(staff)]
				var err error
				switch op / len(staff) {
				case 0:
					_, err = env.Engine.SelfClaim(env.Ctx, it.ID, actor)
				case 1:
					_, err = env.Engine.AssignTo(env.Ctx, it.ID, actor.ID, admin)
				default:
					_, err = env.Engine.Release(env.Ctx, it.ID, admin)
				}
				if err != nil && !errors.Is(err, engine.ErrAlreadyAssigned) {
					t.Logf("op %d: %v", op, err)
					return false
				}
				cur := env.item(t, it.ID).History
				if len(cur) < len(prev) {
					return false
				}
				for i := range prev {
					if cur[i] != prev[i] {
						return false
					}
				}
				prev = cur
			}
			return true
		},
		gen.SliceOf(gen.IntRange(0, 8)),
	))

	properties.TestingRun(t)
}

func TestConfirmationsSettleExactlyOnce(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 15
	properties := gopter.NewProperties(parameters)

	properties.Property("k deliveries of one confirmation settle once", prop.ForAll(
		func(deliveries int, members int, drift int64) bool {
			env := newTestEnv(t)
			units := make([]int, members)
			for i := range units {
				units[i] = i + 1
			}
			res, items := lockBatch(t, env, units...)
			ref := res.Intent.IntentRef
			amount := res.Intent.AmountExpected + drift

			var wg sync.WaitGroup
			var mu sync.Mutex
			settled := 0
			for i := 0; i < deliveries; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					out, err := env.Engine.Reconcile(env.Ctx, ref, amount)
					mu.Lock()
					defer mu.Unlock()
					if err == nil && out.Outcome == engine.OutcomeSettled {
						settled++
					}
				}()
			}
			wg.Wait()
			if settled != 1 {
				t.Logf("settled %d times", settled)
				return false
			}
			for _, it := range items {
				if env.item(t, it.ID).Status != domain.StatusPaid {
					return false
				}
			}
			evts, err := env.Engine.Repo.ListEvents(env.Ctx, repo.EventFilters{Type: events.PaymentSettled, EntityID: ref})
			if err != nil || len(evts) != 1 {
				return false
			}
			warnings, err := env.Engine.ListWarnings(env.Ctx, repo.WarningFilters{IntentRef: ref})
			if err != nil {
				return false
			}
			wantWarnings := 0
			if drift != 0 {
				wantWarnings = 1
			}
			return len(warnings) == wantWarnings
		},
		gen.IntRange(1, 6),
		gen.IntRange(1, 3),
		gen.Int64Range(-1, 1),
	))

	properties.TestingRun(t)
}
