// Package mail defines the canonical record for one accepted message and the
// parser that produces it from a raw SMTP transaction.
package mail

import "time"

// Record is the structured form of one accepted mail. From and To come from
// the SMTP envelope, not the message headers. Timestamp is assigned at
// receipt time. ID is empty until the record has been persisted; the durable
// store assigns it exactly once.
type Record struct {
	From      string    `json:"from" bson:"from"`
	To        string    `json:"to" bson:"to"`
	Subject   string    `json:"subject" bson:"subject"`
	Text      string    `json:"text" bson:"text"`
	Timestamp time.Time `json:"timestamp" bson:"timestamp"`
	ID        string    `json:"id,omitempty" bson:"-"`
}

// WithID returns a copy of the record carrying the store-assigned identifier.
// The original record is left untouched.
func (r *Record) WithID(id string) *Record {
	stored := *r
	stored.ID = id
	return &stored
}
