package intake

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/emersion/go-smtp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inn0kenty/mail2mongo/internal/admission"
	"github.com/inn0kenty/mail2mongo/internal/mail"
	"github.com/inn0kenty/mail2mongo/internal/registry"
	"github.com/inn0kenty/mail2mongo/internal/sink"
)

type fakeStore struct {
	mu      sync.Mutex
	fail    bool
	records []*mail.Record
}

func (f *fakeStore) MailCreate(ctx context.Context, record *mail.Record) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return "", errors.New("store unreachable")
	}
	f.records = append(f.records, record)
	return fmt.Sprintf("id-%d", len(f.records)), nil
}

func (f *fakeStore) Close(ctx context.Context) error { return nil }

func (f *fakeStore) Records() []*mail.Record {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*mail.Record(nil), f.records...)
}

type fixture struct {
	backend *Backend
	store   *fakeStore
	reg     *registry.Registry
	stored  chan *mail.Record
}

func newFixture(t *testing.T, domains ...string) *fixture {
	t.Helper()

	logger := log.New(io.Discard, "", 0)
	store := &fakeStore{}
	reg := registry.New(logger, nil)

	snk := sink.New(store, logger, time.Millisecond, nil)
	stored := make(chan *mail.Record, 8)
	snk.OnStored = func(record *mail.Record) { stored <- record }

	backend := NewBackend(context.Background(), logger,
		admission.NewAllowList(domains), snk, reg, nil)

	return &fixture{backend: backend, store: store, reg: reg, stored: stored}
}

func (f *fixture) session(t *testing.T) smtp.Session {
	t.Helper()
	session, err := f.backend.AnonymousLogin(nil)
	require.NoError(t, err)
	return session
}

func (f *fixture) waitStored(t *testing.T) *mail.Record {
	t.Helper()
	select {
	case record := <-f.stored:
		return record
	case <-time.After(5 * time.Second):
		t.Fatal("record was never persisted")
		return nil
	}
}

func body(lines ...string) io.Reader {
	return strings.NewReader(strings.Join(lines, "\r\n"))
}

func TestLoginIsRejected(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "example.com")
	_, err := f.backend.Login(nil, "user", "pass")
	assert.Error(t, err)
}

func TestRcptRejectsUnlistedDomain(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "example.com")
	session := f.session(t)

	require.NoError(t, session.Mail("sender@remote.com", smtp.MailOptions{}))

	err := session.Rcpt("foo@other.com")
	require.Error(t, err)

	var smtpErr *smtp.SMTPError
	require.ErrorAs(t, err, &smtpErr)
	assert.Equal(t, 550, smtpErr.Code)

	// The rejected transaction never reaches the parser or the fork:
	// DATA without an admitted recipient is a protocol error.
	err = session.Data(body("Subject: Hi", "", "Bye"))
	require.Error(t, err)
	require.ErrorAs(t, err, &smtpErr)
	assert.Equal(t, 503, smtpErr.Code)

	assert.Empty(t, f.store.Records())
}

func TestRcptRejectsMalformedAddress(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "example.com")
	session := f.session(t)

	require.NoError(t, session.Mail("sender@remote.com", smtp.MailOptions{}))

	var smtpErr *smtp.SMTPError
	err := session.Rcpt("not-an-address")
	require.ErrorAs(t, err, &smtpErr)
	assert.Equal(t, 501, smtpErr.Code)
}

func TestRcptAcceptsSingleRecipientOnly(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "example.com")
	session := f.session(t)

	require.NoError(t, session.Mail("sender@remote.com", smtp.MailOptions{}))
	require.NoError(t, session.Rcpt("foo@example.com"))

	var smtpErr *smtp.SMTPError
	err := session.Rcpt("bar@example.com")
	require.ErrorAs(t, err, &smtpErr)
	assert.Equal(t, 452, smtpErr.Code)
}

func TestDataRejectsMalformedPayload(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "example.com")
	session := f.session(t)

	sub, err := f.reg.Subscribe("foo@example.com")
	require.NoError(t, err)
	defer f.reg.Unsubscribe(sub)

	require.NoError(t, session.Mail("sender@remote.com", smtp.MailOptions{}))
	require.NoError(t, session.Rcpt("foo@example.com"))

	var smtpErr *smtp.SMTPError
	dataErr := session.Data(body("this line is not a header", "", "body"))
	require.ErrorAs(t, dataErr, &smtpErr)
	assert.Equal(t, 554, smtpErr.Code)

	assert.Empty(t, f.store.Records())
	select {
	case event := <-sub.C():
		t.Fatalf("unexpected event: %+v", event)
	default:
	}
}

func TestAcceptedMailIsPersistedAndPublished(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "example.com")
	session := f.session(t)

	sub, err := f.reg.Subscribe("foo@example.com")
	require.NoError(t, err)
	defer f.reg.Unsubscribe(sub)

	require.NoError(t, session.Mail("sender@remote.com", smtp.MailOptions{}))
	require.NoError(t, session.Rcpt("foo@example.com"))
	require.NoError(t, session.Data(body(
		"From: spoofed@remote.com",
		"Subject: Hi",
		"",
		"Bye",
	)))

	// Exactly one event, payload matching the envelope, not the headers.
	select {
	case event := <-sub.C():
		require.Equal(t, registry.TypeNewMail, event.Type)
		record, ok := event.Payload.(*mail.Record)
		require.True(t, ok)
		assert.Equal(t, "sender@remote.com", record.From)
		assert.Equal(t, "foo@example.com", record.To)
		assert.Equal(t, "Hi", record.Subject)
		assert.Equal(t, "Bye", record.Text)
	case <-time.After(time.Second):
		t.Fatal("no event delivered")
	}

	stored := f.waitStored(t)
	assert.Equal(t, "id-1", stored.ID)

	records := f.store.Records()
	require.Len(t, records, 1)
	assert.Equal(t, "sender@remote.com", records[0].From)
	assert.Equal(t, "foo@example.com", records[0].To)
	assert.Equal(t, "Hi", records[0].Subject)
	assert.Equal(t, "Bye", records[0].Text)
}

func TestPublicationDoesNotWaitForPersistence(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "example.com")
	f.store.fail = true

	session := f.session(t)

	sub, err := f.reg.Subscribe("foo@example.com")
	require.NoError(t, err)
	defer f.reg.Unsubscribe(sub)

	require.NoError(t, session.Mail("sender@remote.com", smtp.MailOptions{}))
	require.NoError(t, session.Rcpt("foo@example.com"))
	require.NoError(t, session.Data(body("Subject: Hi", "", "Bye")),
		"the transaction acks even though the store is down")

	select {
	case event := <-sub.C():
		assert.Equal(t, registry.TypeNewMail, event.Type)
	case <-time.After(time.Second):
		t.Fatal("subscriber did not receive the event while the store was down")
	}
}

func TestRejectedDomainScenario(t *testing.T) {
	t.Parallel()

	// Allow-set {"example.com"}, transaction to foo@other.com: rejected
	// before parsing, zero documents persisted, zero events published.
	f := newFixture(t, "example.com")
	session := f.session(t)

	sub, err := f.reg.Subscribe("foo@other.com")
	require.NoError(t, err)
	defer f.reg.Unsubscribe(sub)

	require.NoError(t, session.Mail("sender@remote.com", smtp.MailOptions{}))
	require.Error(t, session.Rcpt("foo@other.com"))

	assert.Empty(t, f.store.Records())
	select {
	case event := <-sub.C():
		t.Fatalf("unexpected event: %+v", event)
	default:
	}
}

func TestResetClearsTransaction(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "example.com")
	session := f.session(t)

	require.NoError(t, session.Mail("sender@remote.com", smtp.MailOptions{}))
	require.NoError(t, session.Rcpt("foo@example.com"))

	session.Reset()

	var smtpErr *smtp.SMTPError
	err := session.Data(body("Subject: Hi", "", "Bye"))
	require.ErrorAs(t, err, &smtpErr)
	assert.Equal(t, 503, smtpErr.Code)
	assert.NoError(t, session.Logout())
}
