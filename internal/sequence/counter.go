package sequence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
)

// ErrIdentifierUnavailable means the counter store could not hand out a
// value. Callers must fail rather than invent one locally.
var ErrIdentifierUnavailable = errors.New("identifier unavailable")

// Counter hands out strictly increasing values per scope. Each call is one
// atomic increment-and-read on the backing store.
type Counter interface {
	Next(ctx context.Context, scope string) (int64, error)
}

type GuardOptions struct {
	Name        string
	MaxFailures uint32
	OpenTimeout time.Duration
	Log         logrus.FieldLogger
}

// Guarded wraps a Counter with one immediate retry of the primitive and a
// circuit breaker. Every failure it returns wraps ErrIdentifierUnavailable.
type Guarded struct {
	inner Counter
	cb    *gobreaker.CircuitBreaker
	log   logrus.FieldLogger
}

func NewGuarded(inner Counter, opts GuardOptions) *Guarded {
	if opts.Name == "" {
		opts.Name = "sequence"
	}
	if opts.MaxFailures == 0 {
		opts.MaxFailures = 5
	}
	if opts.OpenTimeout <= 0 {
		opts.OpenTimeout = 30 * time.Second
	}
	log := opts.Log
	if log == nil {
		log = logrus.StandardLogger()
	}
	maxFailures := opts.MaxFailures
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        opts.Name,
		MaxRequests: 1,
		Timeout:     opts.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.WithFields(logrus.Fields{"breaker": name, "from": from.String(), "to": to.String()}).Warn("counter breaker state change")
		},
	})
	return &Guarded{inner: inner, cb: cb, log: log}
}

func (g *Guarded) Next(ctx context.Context, scope string) (int64, error) {
	out, err := g.cb.Execute(func() (interface{}, error) {
		v, err := g.inner.Next(ctx, scope)
		if err != nil && ctx.Err() == nil {
			g.log.WithField("scope", scope).WithError(err).Info("counter increment failed, retrying once")
			v, err = g.inner.Next(ctx, scope)
		}
		return v, err
	})
	if err != nil {
		g.log.WithField("scope", scope).WithError(err).Error("counter unavailable")
		return 0, fmt.Errorf("%w: scope %s: %w", ErrIdentifierUnavailable, scope, err)
	}
	return out.(int64), nil
}

// State exposes the breaker state for health reporting.
func (g *Guarded) State() string {
	return g.cb.State().String()
}
