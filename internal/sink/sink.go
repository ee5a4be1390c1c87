// Package sink persists accepted mail records with indefinite retry.
package sink

import (
	"context"
	"log"
	"time"

	"go.uber.org/atomic"

	"github.com/inn0kenty/mail2mongo/internal/mail"
	"github.com/inn0kenty/mail2mongo/internal/metrics"
	"github.com/inn0kenty/mail2mongo/internal/storage"
)

// Sink writes records to the durable store. A record that fails to insert is
// retried forever on its own goroutine, sleeping the current backoff interval
// and doubling it after every consecutive failure. Backoff state is
// per-record: independently failing records back off on their own schedule.
// There is no permanent failure state; a record accepted into the sink is
// committed to the retry loop until it succeeds or the process exits.
type Sink struct {
	Store   storage.Storage
	Log     *log.Logger
	Base    time.Duration
	Metrics *metrics.Metrics

	// OnStored, if set, receives the record once it carries its
	// store-assigned id. Used for tests and observability, not delivery.
	OnStored func(record *mail.Record)

	inflight atomic.Int64

	// after is swapped out in tests to observe the requested delays.
	after func(d time.Duration) <-chan time.Time
}

// New creates a Sink writing to store with the given base backoff interval.
func New(store storage.Storage, logger *log.Logger, base time.Duration, m *metrics.Metrics) *Sink {
	return &Sink{
		Store:   store,
		Log:     logger,
		Base:    base,
		Metrics: m,
		after:   time.After,
	}
}

// Persist schedules the record for durable storage and returns immediately.
// The retry loop runs until ctx is cancelled, which only happens at process
// shutdown; there is no per-record cancellation.
func (s *Sink) Persist(ctx context.Context, record *mail.Record) {
	s.inflight.Inc()
	s.Metrics.PersistStarted()
	go s.run(ctx, record)
}

// InFlight returns the number of records not yet durably stored.
func (s *Sink) InFlight() int64 {
	return s.inflight.Load()
}

func (s *Sink) run(ctx context.Context, record *mail.Record) {
	defer s.inflight.Dec()
	defer s.Metrics.PersistFinished()

	backoff := s.Base
	for {
		s.Metrics.PersistAttempt()
		id, err := s.Store.MailCreate(ctx, record)
		if err == nil {
			stored := record.WithID(id)
			if s.OnStored != nil {
				s.OnStored(stored)
			}
			return
		}

		s.Log.Printf("Failed to store mail for %s: %v", record.To, err)
		s.Log.Printf("Retrying in %s", backoff)
		s.Metrics.PersistRetry()

		select {
		case <-ctx.Done():
			s.Log.Printf("Shutting down with mail for %s not yet stored", record.To)
			return
		case <-s.after(backoff):
		}
		backoff *= 2
	}
}
