package pao

import "time"

// EventKind names a journaled transition.
type EventKind string

const (
	EventProposed          EventKind = "proposed"
	EventAccepted          EventKind = "accepted"
	EventRejected          EventKind = "rejected"
	EventExpired           EventKind = "expired"
	EventFulfilled         EventKind = "fulfilled"
	EventDisputeOpened     EventKind = "dispute_opened"
	EventEvidenceSubmitted EventKind = "evidence_submitted"
	EventRulingIssued      EventKind = "ruling_issued"
)

// Event is one entry in the append-only journal. It is written in the same
// transaction as the state change it describes.
type Event struct {
	// Seq is assigned by the store and increases with every append. It
	// orders events whose timestamps coincide.
	Seq int64 `json:"seq"`

	// Subject is the id of the proposal, agreement, or case the event is about.
	Subject string            `json:"subject"`
	Kind    EventKind         `json:"kind"`
	Actor   string            `json:"actor"`
	At      time.Time         `json:"at"`
	Detail  map[string]string `json:"detail,omitempty"`
}
