package router

import (
	"encoding/json"
	"fmt"

	"github.com/skua-dev/skua/internal/entities"
)

// Frame is the streaming envelope: an event tag plus a payload that is
// itself JSON-encoded and must be parsed a second time.
type Frame struct {
	Event   string `json:"event"`
	Payload string `json:"payload"`
}

// ParseFrame decodes the outer envelope from raw socket bytes.
func ParseFrame(raw []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return Frame{}, fmt.Errorf("decode frame: %w", err)
	}
	return f, nil
}

// Event is the decoded form of one recognized frame. Exactly the types below
// implement it.
type Event interface {
	isEvent()
}

// UpdateEvent announces a new timeline item.
type UpdateEvent struct {
	Status *entities.Status
}

// EditEvent carries an in-place revision of an existing status. It has no
// ordering impact.
type EditEvent struct {
	Status *entities.Status
}

// DeleteEvent announces a status deletion.
type DeleteEvent struct {
	StatusID string
}

// NotificationEvent carries one notification.
type NotificationEvent struct {
	Notification *entities.Notification
}

// ConversationEvent carries a direct-message thread update.
type ConversationEvent struct {
	Conversation *entities.Conversation
}

// FiltersChangedEvent signals that the server-side filter rules changed and
// the local filter cache must refresh. It carries no payload.
type FiltersChangedEvent struct{}

// RelationshipEvent is the Pleroma follow_relationships_update payload.
type RelationshipEvent struct {
	State    string              `json:"state"`
	Follower RelationshipAccount `json:"follower"`
	Followed RelationshipAccount `json:"following"`
}

// RelationshipAccount is the trimmed account view inside a relationship
// update.
type RelationshipAccount struct {
	ID             string `json:"id"`
	FollowerCount  int    `json:"follower_count"`
	FollowingCount int    `json:"following_count"`
}

// MarkerEvent carries updated read markers keyed by timeline name.
type MarkerEvent struct {
	Markers map[string]entities.Marker
}

func (UpdateEvent) isEvent()         {}
func (EditEvent) isEvent()           {}
func (DeleteEvent) isEvent()         {}
func (NotificationEvent) isEvent()   {}
func (ConversationEvent) isEvent()   {}
func (FiltersChangedEvent) isEvent() {}
func (RelationshipEvent) isEvent()   {}
func (MarkerEvent) isEvent()         {}

// ErrUnknownEvent marks frames whose tag is not recognized. Callers drop
// these without surfacing an error.
var ErrUnknownEvent = fmt.Errorf("unknown event tag")

// Decode turns a frame into its typed event. The inner payload is decoded
// per tag; a payload that fails to decode is an error even for tags that are
// otherwise handled.
func Decode(f Frame) (Event, error) {
	switch f.Event {
	case "update":
		var s entities.Status
		if err := json.Unmarshal([]byte(f.Payload), &s); err != nil {
			return nil, fmt.Errorf("decode update payload: %w", err)
		}
		return UpdateEvent{Status: &s}, nil

	case "status.update":
		var s entities.Status
		if err := json.Unmarshal([]byte(f.Payload), &s); err != nil {
			return nil, fmt.Errorf("decode status.update payload: %w", err)
		}
		return EditEvent{Status: &s}, nil

	case "delete":
		// Payload is the bare status id, not a JSON object.
		return DeleteEvent{StatusID: f.Payload}, nil

	case "notification":
		var n entities.Notification
		if err := json.Unmarshal([]byte(f.Payload), &n); err != nil {
			return nil, fmt.Errorf("decode notification payload: %w", err)
		}
		return NotificationEvent{Notification: &n}, nil

	case "conversation":
		var cv entities.Conversation
		if err := json.Unmarshal([]byte(f.Payload), &cv); err != nil {
			return nil, fmt.Errorf("decode conversation payload: %w", err)
		}
		return ConversationEvent{Conversation: &cv}, nil

	case "filters_changed":
		return FiltersChangedEvent{}, nil

	case "pleroma:follow_relationships_update":
		var r RelationshipEvent
		if err := json.Unmarshal([]byte(f.Payload), &r); err != nil {
			return nil, fmt.Errorf("decode relationship payload: %w", err)
		}
		return r, nil

	case "marker":
		var m map[string]entities.Marker
		if err := json.Unmarshal([]byte(f.Payload), &m); err != nil {
			return nil, fmt.Errorf("decode marker payload: %w", err)
		}
		return MarkerEvent{Markers: m}, nil

	default:
		return nil, ErrUnknownEvent
	}
}
