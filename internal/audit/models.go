// Package audit records who did what to which registration. Events are
// written to a transactional outbox in the same unit of work as the business
// mutation, and a background worker publishes them to Kafka. Kafka is the
// source of truth for the downstream activity log.
package audit

import (
	"time"

	"github.com/google/uuid"
)

// Action labels an auditable operation.
type Action string

const (
	ActionNumberAllocated  Action = "registration.number_allocated"
	ActionRegistrationVoid Action = "registration.voided"
	ActionDocumentBound    Action = "document.bound"
	ActionDocumentRebound  Action = "document.rebound"
	ActionDocumentUnbound  Action = "document.unbound"
	ActionRestoreRequested Action = "evidence.restore_requested"
)

// Event is one audit record. Subject is the registration display number or
// document ID the action touched.
type Event struct {
	ActorID   string
	Action    Action
	Subject   string
	RequestID string
	Timestamp time.Time
	Detail    map[string]string
}

// OutboxRow is an event as persisted in the outbox table, awaiting publish.
type OutboxRow struct {
	ID            uuid.UUID
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
	CreatedAt     time.Time
}
