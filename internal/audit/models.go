package audit

import "time"

// Event is an immutable, append-only record of a domain selection outcome or operator action.
//
// Invariants:
// - Events are never updated or deleted.
// - Selection events carry the slot; operator events carry the actor.
// - Audit is best-effort; selection never waits on or fails because of it.
//
// Storage (Postgres): table selection_audit_events, INSERT only.
type Event struct {
	ID   string    `json:"id" db:"id"`
	Type EventType `json:"type" db:"type"`

	SlotID    int    `json:"slot_id" db:"slot_id"`
	SubID     int    `json:"sub_id" db:"sub_id"`
	CallID    string `json:"call_id,omitempty" db:"call_id"`
	Emergency bool   `json:"emergency" db:"emergency"`

	// Domain is "cs", "ps" or "wlan" for selection events.
	Domain          string `json:"domain,omitempty" db:"domain"`
	UseEmergencyPdn bool   `json:"use_emergency_pdn,omitempty" db:"use_emergency_pdn"`
	Cause           string `json:"cause,omitempty" db:"cause"`
	Reason          string `json:"reason,omitempty" db:"reason"`

	ActorUserID string `json:"actor_user_id,omitempty" db:"actor_user_id"`
	ActorRole   string `json:"actor_role,omitempty" db:"actor_role"`
	IPAddress   string `json:"ip_address,omitempty" db:"ip_address"`

	// Message is a short human-readable description for internal ops.
	Message string `json:"message,omitempty" db:"message"`
	// Metadata is optional JSON for full details.
	Metadata string `json:"metadata,omitempty" db:"metadata"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type EventType string

const (
	EventTypeDomainSelected    EventType = "domain_selected"
	EventTypeWlanSelected      EventType = "wlan_selected"
	EventTypeTerminated        EventType = "selection_terminated"
	EventTypeCrossStackExpired EventType = "cross_stack_expired"
	EventTypeAdminAction       EventType = "admin_action"
)

func (t EventType) valid() bool {
	switch t {
	case EventTypeDomainSelected, EventTypeWlanSelected, EventTypeTerminated, EventTypeCrossStackExpired, EventTypeAdminAction:
		return true
	default:
		return false
	}
}
