// Package envelope defines the transport-ready unit described in spec §3/§6:
// immutable once constructed, codec-agnostic (payload is opaque bytes), and
// carrying the fields needed for exactly-one-turn dispatch and at-least-once
// redelivery (message_id, correlation_id).
package envelope

import (
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Flag mirrors the wire envelope's flags byte (spec §6).
type Flag uint8

const (
	FlagRequest Flag = iota
	FlagReply
	FlagError
	FlagStream
)

// counter is a process-wide monotonic counter backing Envelope.MessageID, matching
// spec §3's "monotonic per-process" requirement.
var counter uint64

// NextMessageID returns a monotonically increasing id unique to this process.
func NextMessageID() uint64 {
	return atomic.AddUint64(&counter, 1)
}

// Envelope is the unit of transport. Once constructed with New, its fields
// are never mutated — callers that need a derivative (e.g. a reply) build a
// fresh Envelope via Reply/ErrorReply rather than editing one in place.
type Envelope struct {
	MessageID     uint64
	CorrelationID string
	Timestamp     time.Time
	ActorType     string
	ActorID       string
	MethodName    string
	Payload       []byte
	Flag          Flag
}

// New constructs a request envelope addressed to (actorType, actorID).
func New(actorType, actorID, methodName string, payload []byte) *Envelope {
	return &Envelope{
		MessageID:  NextMessageID(),
		Timestamp:  time.Now(),
		ActorType:  actorType,
		ActorID:    actorID,
		MethodName: methodName,
		Payload:    payload,
		Flag:       FlagRequest,
	}
}

// Key returns the ring/directory lookup key "{actor_type}:{actor_id}".
func (e *Envelope) Key() string {
	return e.ActorType + ":" + e.ActorID
}

// Reply builds a reply envelope for e, carrying e's CorrelationID (or a fresh
// one when e has none). The transport matches a reply to its pending call by
// the request's MessageID, so the core never needs to know the caller's
// address.
func (e *Envelope) Reply(payload []byte) *Envelope {
	return &Envelope{
		MessageID:     NextMessageID(),
		CorrelationID: correlationID(e),
		Timestamp:     time.Now(),
		ActorType:     e.ActorType,
		ActorID:       e.ActorID,
		MethodName:    e.MethodName,
		Payload:       payload,
		Flag:          FlagReply,
	}
}

// ErrorReply builds an error-flagged reply; payload is the encoded
// {kind, message} pair the codec collaborator produces.
func (e *Envelope) ErrorReply(payload []byte) *Envelope {
	r := e.Reply(payload)
	r.Flag = FlagError
	return r
}

func correlationID(e *Envelope) string {
	if e.CorrelationID != "" {
		return e.CorrelationID
	}
	return uuid.NewString()
}

// ReminderEnvelope builds the at-least-once reminder delivery envelope
// described in spec §4.9. The name becomes the method name so user dispatch
// tables can distinguish reminder fires from regular calls.
func ReminderEnvelope(actorType, actorID, reminderName string) *Envelope {
	return New(actorType, actorID, "OnReminder:"+reminderName, nil)
}
