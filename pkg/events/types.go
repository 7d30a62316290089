package events

import (
	"time"

	"github.com/google/uuid"

	"github.com/parleyhq/parley/pkg/models"
)

// EventType identifies a meeting lifecycle event.
type EventType string

const (
	EventMeetingStarted           EventType = "meeting_started"
	EventMeetingEnded             EventType = "meeting_ended"
	EventTurnChanged              EventType = "turn_changed"
	EventParticipantJoined        EventType = "participant_joined"
	EventParticipantLeft          EventType = "participant_left"
	EventTimeoutOccurred          EventType = "timeout_occurred"
	EventMessagePosted            EventType = "message_posted"
	EventParticipantStatusChanged EventType = "participant_status_changed"
	EventErrorOccurred            EventType = "error_occurred"
)

// MeetingEvent is delivered to subscribers. Data is a tagged union
// (one payload struct per event type), so subscribers can switch on
// the concrete type without reflection.
type MeetingEvent struct {
	MeetingID uuid.UUID `json:"meeting_id"`
	Type      EventType `json:"event_type"`
	Data      Payload   `json:"data"`
	Timestamp time.Time `json:"timestamp"`
}

// Payload is the tagged-union interface implemented by every event
// payload struct.
type Payload interface {
	eventPayload()
}

// MeetingStartedPayload accompanies EventMeetingStarted.
type MeetingStartedPayload struct {
	HostID         uuid.UUID `json:"host_id"`
	FirstSpeakerID uuid.UUID `json:"first_speaker_id"`
	Participants   int       `json:"participants"`
}

// MeetingEndedPayload accompanies EventMeetingEnded.
type MeetingEndedPayload struct {
	HostID  uuid.UUID `json:"host_id"`
	EndedAt time.Time `json:"ended_at"`
}

// TurnChangedPayload accompanies EventTurnChanged. NextSpeakerID is nil
// when no attending participant remains.
type TurnChangedPayload struct {
	PreviousSpeakerID *uuid.UUID `json:"previous_speaker_id,omitempty"`
	NextSpeakerID     *uuid.UUID `json:"next_speaker_id,omitempty"`
	Reason            string     `json:"reason"` // "speak", "timeout", "leave"
}

// ParticipantJoinedPayload accompanies EventParticipantJoined.
type ParticipantJoinedPayload struct {
	AgentID   uuid.UUID `json:"agent_id"`
	JoinOrder int       `json:"join_order"`
}

// ParticipantLeftPayload accompanies EventParticipantLeft.
type ParticipantLeftPayload struct {
	AgentID    uuid.UUID `json:"agent_id"`
	WasSpeaker bool      `json:"was_speaker"`
}

// TimeoutOccurredPayload accompanies EventTimeoutOccurred.
type TimeoutOccurredPayload struct {
	TimedOutAgentID uuid.UUID  `json:"timed_out_agent_id"`
	NextSpeakerID   *uuid.UUID `json:"next_speaker_id,omitempty"`
}

// MessagePostedPayload accompanies EventMessagePosted.
type MessagePostedPayload struct {
	MessageID uuid.UUID       `json:"message_id"`
	SenderID  uuid.UUID       `json:"sender_id"`
	Content   models.Document `json:"content"`
}

// ParticipantStatusChangedPayload accompanies EventParticipantStatusChanged.
type ParticipantStatusChangedPayload struct {
	AgentID uuid.UUID                `json:"agent_id"`
	Status  models.ParticipantStatus `json:"status"`
}

// ErrorOccurredPayload accompanies EventErrorOccurred.
type ErrorOccurredPayload struct {
	Operation string `json:"operation"`
	Error     string `json:"error"`
}

func (MeetingStartedPayload) eventPayload()           {}
func (MeetingEndedPayload) eventPayload()             {}
func (TurnChangedPayload) eventPayload()              {}
func (ParticipantJoinedPayload) eventPayload()        {}
func (ParticipantLeftPayload) eventPayload()          {}
func (TimeoutOccurredPayload) eventPayload()          {}
func (MessagePostedPayload) eventPayload()            {}
func (ParticipantStatusChangedPayload) eventPayload() {}
func (ErrorOccurredPayload) eventPayload()            {}
