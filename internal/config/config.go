package config

import (
	"fmt"
	"time"
)

// Config carries the process-wide settings. It is populated once at startup
// and never mutated afterwards.
type Config struct {
	// Domains is the set of recipient domains this server accepts mail for.
	Domains []string

	// SMTPListen is the SMTP listen address, e.g. ":8025".
	SMTPListen string

	// APIListen is the HTTP API listen address, e.g. ":8080".
	APIListen string

	// Hostname is advertised in the SMTP banner and in the nginx
	// authentication handshake.
	Hostname string

	// MongoURI, Database and Collection describe the durable store.
	MongoURI   string
	Database   string
	Collection string

	// RetryBase is the initial delay before retrying a failed store insert.
	// The delay doubles on every consecutive failure.
	RetryBase time.Duration
}

// Default returns a Config with the stock settings. Domains has no default
// and must be supplied by the operator.
func Default() *Config {
	return &Config{
		SMTPListen: ":8025",
		APIListen:  ":8080",
		Hostname:   "localhost",
		MongoURI:   "mongodb://localhost",
		Database:   "mail2mongo",
		Collection: "emails",
		RetryBase:  60 * time.Second,
	}
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if len(c.Domains) == 0 {
		return fmt.Errorf("at least one allowed domain is required")
	}
	if c.RetryBase <= 0 {
		return fmt.Errorf("retry base interval must be positive")
	}
	return nil
}
