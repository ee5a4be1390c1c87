package intake

import (
	"github.com/emersion/go-smtp"

	"github.com/inn0kenty/mail2mongo/internal/config"
)

// NewServer builds the SMTP server for the backend with the daemon's knobs.
func NewServer(cfg *config.Config, backend *Backend) *smtp.Server {
	server := smtp.NewServer(backend)
	server.Addr = cfg.SMTPListen
	server.Domain = cfg.Hostname
	server.MaxMessageBytes = 10 * 1024 * 1024
	server.MaxRecipients = 1
	server.AuthDisabled = true
	return server
}
