package domain

import (
	"encoding/json"
	"fmt"
)

// EventType identifies the payload of an Event.
type EventType string

// Inbound event types.
const (
	EventNewInfraction EventType = "new_infraction"
	EventUserUpdate    EventType = "user_update"
	EventStatsUpdate   EventType = "stats_update"
	EventRiskAdjust    EventType = "risk_adjust"

	EventPositiveMessage EventType = "positive_message"
)

// Outbound dashboard notification types.
const (
	EventUserUpdated  EventType = "user_updated"
	EventStatsUpdated EventType = "stats_updated"
	EventActionTaken  EventType = "action_taken"

	EventMilestoneReached EventType = "milestone_reached"
)

// Event is the envelope exchanged on TopicEvents and TopicDashboard.
type Event struct {
	Type    EventType       `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// NewEvent marshals payload into an envelope.
func NewEvent(t EventType, payload any) (*Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload: %w", t, err)
	}
	return &Event{Type: t, Payload: data}, nil
}

// Encode returns the JSON form of the envelope.
func (e *Event) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// DecodeEvent parses an envelope.
func DecodeEvent(data []byte) (*Event, error) {
	var e Event
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("%w: malformed event: %v", ErrInvalidInput, err)
	}
	if e.Type == "" {
		return nil, fmt.Errorf("%w: event type is required", ErrInvalidInput)
	}
	return &e, nil
}

// NewInfractionPayload is the payload of new_infraction events.
type NewInfractionPayload struct {
	UserID     int64      `json:"userId"`
	Infraction Infraction `json:"infraction"`
}

// UserUpdatePayload is the payload of user_update events.
type UserUpdatePayload struct {
	UserID  int64       `json:"userId"`
	Updates UserUpdates `json:"updates"`
}

// UserUpdates holds the user fields an update may change. Risk score and
// level are absent on purpose: they are derived, never written directly.
type UserUpdates struct {
	Username         *string    `json:"username,omitempty"`
	Discriminator    *string    `json:"discriminator,omitempty"`
	TotalMessages    *int       `json:"totalMessages,omitempty"`
	ToxicMessages    *int       `json:"toxicMessages,omitempty"`
	PositiveMessages *int       `json:"positiveMessages,omitempty"`
	LastSeen         *Timestamp `json:"lastSeen,omitempty"`
	ProgressData     *[7]int    `json:"progressData,omitempty"`
}

// TouchesCounters reports whether the update changes any message counter.
func (u UserUpdates) TouchesCounters() bool {
	return u.TotalMessages != nil || u.ToxicMessages != nil || u.PositiveMessages != nil
}

// Apply writes the present fields onto user. Negative counters are rejected.
func (u UserUpdates) Apply(user *User) error {
	for _, c := range []*int{u.TotalMessages, u.ToxicMessages, u.PositiveMessages} {
		if c != nil && *c < 0 {
			return fmt.Errorf("%w: message counters must be non-negative", ErrInvalidInput)
		}
	}
	if u.Username != nil {
		if *u.Username == "" {
			return fmt.Errorf("%w: username cannot be empty", ErrInvalidInput)
		}
		user.Username = *u.Username
	}
	if u.Discriminator != nil {
		user.Discriminator = *u.Discriminator
	}
	if u.TotalMessages != nil {
		user.TotalMessages = *u.TotalMessages
	}
	if u.ToxicMessages != nil {
		user.ToxicMessages = *u.ToxicMessages
	}
	if u.PositiveMessages != nil {
		user.PositiveMessages = *u.PositiveMessages
	}
	if u.LastSeen != nil {
		user.LastSeen = *u.LastSeen
	}
	if u.ProgressData != nil {
		user.ProgressData = *u.ProgressData
	}
	return nil
}

// RiskAdjustPayload is the payload of risk_adjust events. RiskScore is kept
// raw so that the engine, not the decoder, decides what is acceptable.
type RiskAdjustPayload struct {
	UserID    int64           `json:"userId"`
	RiskScore json.RawMessage `json:"riskScore"`
}

// PositiveMessagePayload is the payload of positive_message events.
type PositiveMessagePayload struct {
	UserID  int64  `json:"userId"`
	Content string `json:"content"`
}
