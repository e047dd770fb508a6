package eventstream

import (
	"time"

	"github.com/google/uuid"

	"github.com/papercomputeco/accord/pkg/pao"
)

const (
	// SchemaVersionV1 is the first version of the event payload schema.
	SchemaVersionV1 = 1

	// EventTypeAgreementEvent is emitted after a journaled PAO transition commits.
	EventTypeAgreementEvent = "accord.agreement.event"
)

// AgreementEvent is a transport-neutral envelope around one journal entry.
type AgreementEvent struct {
	SchemaVersion int         `json:"schema_version"`
	EventType     string      `json:"event_type"`
	EventID       string      `json:"event_id"`
	EmittedAt     time.Time   `json:"emitted_at"`
	Source        EventSource `json:"source"`
	Event         pao.Event   `json:"event"`
}

// EventSource identifies the node that committed the transition.
type EventSource struct {
	Node    string `json:"node,omitempty"`
	Service string `json:"service"`
}

// NewAgreementEvent wraps a committed journal entry.
func NewAgreementEvent(ev pao.Event, source EventSource, now time.Time) *AgreementEvent {
	return &AgreementEvent{
		SchemaVersion: SchemaVersionV1,
		EventType:     EventTypeAgreementEvent,
		EventID:       "evt_" + uuid.NewString(),
		EmittedAt:     now.UTC(),
		Source:        source,
		Event:         ev,
	}
}
