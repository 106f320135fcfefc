package service

import (
	"context"
	"errors"
	"time"

	"github.com/studydeck/studydeck-progression/internal/domain/progression"
	"github.com/studydeck/studydeck-progression/internal/domain/shared"
	"github.com/studydeck/studydeck-progression/pkg/circuitbreaker"
	"github.com/studydeck/studydeck-progression/pkg/logger"
	"github.com/studydeck/studydeck-progression/pkg/retry"
)

// ResilientLedger wraps a progression.Ledger with retries and a circuit
// breaker. Reads are retried with backoff; Commit is never retried
// because the compare-and-swap guard makes a blind replay fail anyway,
// and the caller's rollback path must run exactly once.
//
// When the breaker is open every call fails fast with an error that
// matches shared.ErrServiceUnavailable, so the award pipeline rejects
// work before mutating the client snapshot.
type ResilientLedger struct {
	inner   progression.Ledger
	retrier *retry.Retrier
	breaker *circuitbreaker.CircuitBreaker
	log     *logger.Logger
}

// NewResilientLedger wraps the given ledger.
func NewResilientLedger(inner progression.Ledger, log *logger.Logger) *ResilientLedger {
	l := &ResilientLedger{
		inner: inner,
		// Transient backend failures are retried; a CAS conflict or a
		// rejected input is a final answer and goes straight back.
		retrier: retry.LedgerRetrier(retry.WithRetryIf(isBackendFailure)),
		log:     log.With(logger.Component("resilient_ledger")),
	}
	l.breaker = circuitbreaker.LedgerBreaker(func(name string, from, to circuitbreaker.State) {
		l.log.Warn("ledger breaker state changed",
			logger.String("breaker", name),
			logger.String("from", from.String()),
			logger.String("to", to.String()))
	}, circuitbreaker.WithIsFailure(isBackendFailure))
	return l
}

// isBackendFailure keeps domain outcomes out of the breaker counters.
// A CAS conflict or a rejected input means the store is healthy.
func isBackendFailure(err error) bool {
	return !errors.Is(err, shared.ErrLedgerConflict) &&
		!errors.Is(err, shared.ErrConcurrentModification) &&
		!errors.Is(err, shared.ErrNotFound) &&
		!shared.IsValidation(err)
}

func (l *ResilientLedger) mapBreakerErr(err error) error {
	if errors.Is(err, circuitbreaker.ErrCircuitOpen) || errors.Is(err, circuitbreaker.ErrTooManyRequests) {
		return shared.WrapError("ledger", "Execute", shared.ErrServiceUnavailable, "ledger breaker open", err)
	}
	return err
}

func (l *ResilientLedger) read(ctx context.Context, op func(ctx context.Context) error) error {
	err := l.breaker.Execute(ctx, func(ctx context.Context) error {
		return l.retrier.Do(ctx, op)
	})
	return l.mapBreakerErr(err)
}

// Fetch implements progression.Ledger.
func (l *ResilientLedger) Fetch(ctx context.Context, subjectID shared.SubjectID) (*progression.SubjectRecord, error) {
	var record *progression.SubjectRecord
	err := l.read(ctx, func(ctx context.Context) error {
		var opErr error
		record, opErr = l.inner.Fetch(ctx, subjectID)
		return opErr
	})
	return record, err
}

// HasPositiveCompletion implements progression.Ledger.
func (l *ResilientLedger) HasPositiveCompletion(ctx context.Context, subjectID shared.SubjectID, taskID shared.TaskID) (bool, error) {
	var found bool
	err := l.read(ctx, func(ctx context.Context) error {
		var opErr error
		found, opErr = l.inner.HasPositiveCompletion(ctx, subjectID, taskID)
		return opErr
	})
	return found, err
}

// EventsForTask implements progression.Ledger.
func (l *ResilientLedger) EventsForTask(ctx context.Context, subjectID shared.SubjectID, taskID shared.TaskID) ([]progression.ExperienceEvent, error) {
	var events []progression.ExperienceEvent
	err := l.read(ctx, func(ctx context.Context) error {
		var opErr error
		events, opErr = l.inner.EventsForTask(ctx, subjectID, taskID)
		return opErr
	})
	return events, err
}

// CountCompletionsBetween implements progression.Ledger.
func (l *ResilientLedger) CountCompletionsBetween(ctx context.Context, subjectID shared.SubjectID, from, to time.Time) (int, error) {
	var count int
	err := l.read(ctx, func(ctx context.Context) error {
		var opErr error
		count, opErr = l.inner.CountCompletionsBetween(ctx, subjectID, from, to)
		return opErr
	})
	return count, err
}

// Commit implements progression.Ledger. A conflict is a normal outcome,
// not a backend failure, so it must not trip the breaker.
func (l *ResilientLedger) Commit(ctx context.Context, subjectID shared.SubjectID, batch []progression.ExperienceEvent, newState *progression.State, expectedTotalXP int) error {
	err := l.breaker.Execute(ctx, func(ctx context.Context) error {
		return l.inner.Commit(ctx, subjectID, batch, newState, expectedTotalXP)
	})
	return l.mapBreakerErr(err)
}

// AllEvents implements progression.Ledger.
func (l *ResilientLedger) AllEvents(ctx context.Context, subjectID shared.SubjectID) ([]progression.ExperienceEvent, error) {
	var events []progression.ExperienceEvent
	err := l.read(ctx, func(ctx context.Context) error {
		var opErr error
		events, opErr = l.inner.AllEvents(ctx, subjectID)
		return opErr
	})
	return events, err
}

// Subjects implements progression.Ledger.
func (l *ResilientLedger) Subjects(ctx context.Context) ([]shared.SubjectID, error) {
	var ids []shared.SubjectID
	err := l.read(ctx, func(ctx context.Context) error {
		var opErr error
		ids, opErr = l.inner.Subjects(ctx)
		return opErr
	})
	return ids, err
}
