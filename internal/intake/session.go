package intake

import (
	"errors"
	"io"

	"github.com/emersion/go-smtp"

	"github.com/inn0kenty/mail2mongo/internal/admission"
	"github.com/inn0kenty/mail2mongo/internal/mail"
	"github.com/inn0kenty/mail2mongo/internal/metrics"
)

// Session is one SMTP mail transaction. The recipient domain is gated in
// Rcpt, so rejected transactions never reach the parser. Data acknowledges
// the sender once parsing succeeds; the store is never waited on.
type Session struct {
	backend *Backend
	from    string
	to      string
}

func (s *Session) Mail(from string, opts smtp.MailOptions) error {
	s.from = from
	s.to = ""
	return nil
}

func (s *Session) Rcpt(to string) error {
	if s.to != "" {
		return &smtp.SMTPError{
			Code:         452,
			EnhancedCode: smtp.EnhancedCode{4, 5, 3},
			Message:      "Only one recipient accepted per transaction",
		}
	}

	_, domain, err := admission.SplitAddress(to)
	if err != nil {
		s.backend.Metrics.MailRejected(metrics.ReasonDomain)
		return &smtp.SMTPError{
			Code:         501,
			EnhancedCode: smtp.EnhancedCode{5, 1, 3},
			Message:      "Invalid recipient address",
		}
	}
	if !s.backend.Gate.Admit(domain) {
		s.backend.Metrics.MailRejected(metrics.ReasonDomain)
		return &smtp.SMTPError{
			Code:         550,
			EnhancedCode: smtp.EnhancedCode{5, 7, 1},
			Message:      "Relay not permitted for this domain",
		}
	}

	s.to = to
	return nil
}

func (s *Session) Data(r io.Reader) error {
	if s.to == "" {
		return &smtp.SMTPError{
			Code:         503,
			EnhancedCode: smtp.EnhancedCode{5, 5, 1},
			Message:      "RCPT first",
		}
	}

	record, err := mail.Parse(s.from, s.to, r)
	if err != nil {
		if errors.Is(err, mail.ErrParse) {
			s.backend.Metrics.MailRejected(metrics.ReasonParse)
			return &smtp.SMTPError{
				Code:         554,
				EnhancedCode: smtp.EnhancedCode{5, 6, 0},
				Message:      "Message could not be parsed",
			}
		}
		return err
	}

	s.backend.Metrics.MailAccepted()
	s.backend.Log.Printf("Accepted mail from %s for %s", record.From, record.To)

	// Persistence retries on its own goroutine and must not hold the
	// transaction open; fan-out is in-memory and runs before the ack.
	s.backend.Sink.Persist(s.backend.ctx, record)
	s.backend.Registry.Publish(record)
	return nil
}

func (s *Session) Reset() {
	s.from = ""
	s.to = ""
}

func (s *Session) Logout() error {
	return nil
}
