// Package intake accepts mail transactions over SMTP and drives them through
// admission, parsing, persistence and fan-out.
package intake

import (
	"context"
	"fmt"
	"log"

	"github.com/emersion/go-smtp"

	"github.com/inn0kenty/mail2mongo/internal/admission"
	"github.com/inn0kenty/mail2mongo/internal/metrics"
	"github.com/inn0kenty/mail2mongo/internal/registry"
	"github.com/inn0kenty/mail2mongo/internal/sink"
)

// Backend hands a Session to every inbound SMTP connection. Sender
// authentication is not supported; admission is decided per recipient domain.
type Backend struct {
	Log      *log.Logger
	Gate     *admission.AllowList
	Sink     *sink.Sink
	Registry *registry.Registry
	Metrics  *metrics.Metrics

	// ctx bounds the lifetime of persistence retries spawned by sessions.
	ctx context.Context
}

// NewBackend creates a Backend. Persistence retries started by its sessions
// run until ctx is cancelled at process shutdown.
func NewBackend(ctx context.Context, logger *log.Logger, gate *admission.AllowList, snk *sink.Sink, reg *registry.Registry, m *metrics.Metrics) *Backend {
	return &Backend{
		Log:      logger,
		Gate:     gate,
		Sink:     snk,
		Registry: reg,
		Metrics:  m,
		ctx:      ctx,
	}
}

func (b *Backend) Login(state *smtp.ConnectionState, username, password string) (smtp.Session, error) {
	return nil, fmt.Errorf("authentication is not supported")
}

func (b *Backend) AnonymousLogin(state *smtp.ConnectionState) (smtp.Session, error) {
	return &Session{backend: b}, nil
}
