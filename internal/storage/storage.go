// Package storage defines the durable store boundary for accepted mail.
package storage

import (
	"context"

	"github.com/inn0kenty/mail2mongo/internal/mail"
)

// Storage is the durable sink for accepted mail records. MailCreate appends
// one record and returns the store-assigned identifier. Implementations are
// safe for concurrent use; the sink issues independent requests per record.
type Storage interface {
	MailCreate(ctx context.Context, record *mail.Record) (string, error)
	Close(ctx context.Context) error
}
