// Package registry fans newly accepted mail out to live subscribers, keyed by
// recipient address.
package registry

import (
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/inn0kenty/mail2mongo/internal/mail"
	"github.com/inn0kenty/mail2mongo/internal/metrics"
)

// Event types delivered to subscribers.
const (
	TypeNewMail = "new_mail"
	TypeError   = "error"
)

// eventBuffer is the per-subscription channel capacity. A subscriber that
// falls this far behind is treated as gone.
const eventBuffer = 16

// Event is one message on a subscription channel.
type Event struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// ErrorPayload is the payload of a TypeError event.
type ErrorPayload struct {
	Msg string `json:"msg"`
}

// Subscription is one live delivery channel for one recipient address. It is
// created by Subscribe and owned by the Registry; the transport that opened
// it must call Unsubscribe when its connection closes.
type Subscription struct {
	id      uuid.UUID
	address string
	events  chan Event
	closed  bool
}

// C returns the channel events are delivered on. It is closed when the
// subscription is removed from the registry.
func (s *Subscription) C() <-chan Event {
	return s.events
}

// Address returns the case-normalized address this subscription matches.
func (s *Subscription) Address() string {
	return s.address
}

// Registry is the in-memory address-to-subscribers table. The zero value is
// not usable; construct with New. Multiple subscriptions may share one
// address; all of them receive every matching event. The mutex is held only
// for map operations and buffered channel sends, never across network I/O.
type Registry struct {
	Log     *log.Logger
	Metrics *metrics.Metrics

	mu   sync.Mutex
	subs map[string]map[uuid.UUID]*Subscription
}

// New creates an empty Registry.
func New(logger *log.Logger, m *metrics.Metrics) *Registry {
	return &Registry{
		Log:     logger,
		Metrics: m,
		subs:    make(map[string]map[uuid.UUID]*Subscription),
	}
}

// Subscribe registers a new delivery channel for the given recipient address.
func (r *Registry) Subscribe(address string) (*Subscription, error) {
	address = strings.ToLower(strings.TrimSpace(address))
	if address == "" {
		return nil, fmt.Errorf("subscription address is required")
	}

	sub := &Subscription{
		id:      uuid.New(),
		address: address,
		events:  make(chan Event, eventBuffer),
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	byID, ok := r.subs[address]
	if !ok {
		byID = make(map[uuid.UUID]*Subscription)
		r.subs[address] = byID
	}
	byID[sub.id] = sub
	r.Metrics.SetSubscribers(r.sizeLocked())
	return sub, nil
}

// Unsubscribe removes the subscription and closes its channel. It is
// idempotent and safe to call after the subscription has already been
// dropped by a failed delivery.
func (r *Registry) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeLocked(sub)
}

// Publish delivers the record to every subscription whose address equals
// record.To, case-insensitively. Delivery is best-effort per channel: a full
// or closed channel unsubscribes that one subscription and delivery continues
// to the rest.
func (r *Registry) Publish(record *mail.Record) {
	r.publish(strings.ToLower(record.To), Event{Type: TypeNewMail, Payload: record})
}

// PublishError delivers an error event to every subscription matching the
// address.
func (r *Registry) PublishError(address, msg string) {
	r.publish(strings.ToLower(strings.TrimSpace(address)), Event{
		Type:    TypeError,
		Payload: ErrorPayload{Msg: msg},
	})
}

// Len returns the number of live subscriptions across all addresses.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sizeLocked()
}

func (r *Registry) publish(address string, event Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, sub := range r.subs[address] {
		if sub.closed {
			continue
		}
		select {
		case sub.events <- event:
			r.Metrics.EventDelivered()
		default:
			// The subscriber is not draining its channel; drop it.
			r.Log.Printf("Dropping stalled subscriber for %s", address)
			r.Metrics.EventDropped()
			r.removeLocked(sub)
		}
	}
}

func (r *Registry) removeLocked(sub *Subscription) {
	byID, ok := r.subs[sub.address]
	if !ok {
		return
	}
	if _, ok := byID[sub.id]; !ok {
		return
	}
	delete(byID, sub.id)
	if len(byID) == 0 {
		delete(r.subs, sub.address)
	}
	if !sub.closed {
		sub.closed = true
		close(sub.events)
	}
	r.Metrics.SetSubscribers(r.sizeLocked())
}

func (r *Registry) sizeLocked() int {
	n := 0
	for _, byID := range r.subs {
		n += len(byID)
	}
	return n
}
