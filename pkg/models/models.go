// Package models defines the persistent entities of the messaging
// coordinator: organizations, agents, pairwise sessions, meetings,
// meeting participants, messages, and the append-only meeting event log.
package models

import (
	"bytes"
	"time"

	"github.com/google/uuid"
)

// SessionStatus is the lifecycle state of a pairwise session.
type SessionStatus string

const (
	SessionActive  SessionStatus = "active"
	SessionWaiting SessionStatus = "waiting"
	SessionEnded   SessionStatus = "ended"
)

// MeetingStatus is the lifecycle state of a meeting.
// StatusReady is reserved for a future "all attended, not yet started"
// phase and is never produced by any current transition.
type MeetingStatus string

const (
	MeetingCreated MeetingStatus = "created"
	MeetingReady   MeetingStatus = "ready"
	MeetingActive  MeetingStatus = "active"
	MeetingEnded   MeetingStatus = "ended"
)

// ParticipantStatus is the attendance state of a meeting participant.
// Left is terminal.
type ParticipantStatus string

const (
	ParticipantInvited   ParticipantStatus = "invited"
	ParticipantAttending ParticipantStatus = "attending"
	ParticipantWaiting   ParticipantStatus = "waiting"
	ParticipantSpeaking  ParticipantStatus = "speaking"
	ParticipantLeft      ParticipantStatus = "left"
)

// MessageType classifies a message row.
type MessageType string

const (
	MessageUserDefined MessageType = "user_defined"
	MessageSystem      MessageType = "system"
	MessageTimeout     MessageType = "timeout"
	MessageEnding      MessageType = "ending"
)

// Document is an opaque key/value body stored as JSONB.
type Document map[string]any

// Organization groups agents. Deleting an organization cascades to its
// agents and everything they own.
type Organization struct {
	ID         uuid.UUID `json:"id"`
	ExternalID string    `json:"external_id"`
	Name       string    `json:"name"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Agent is a named messaging endpoint within an organization.
type Agent struct {
	ID             uuid.UUID `json:"id"`
	ExternalID     string    `json:"external_id"`
	OrganizationID uuid.UUID `json:"organization_id"`
	Name           string    `json:"name"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Session is the pairwise conversation container between two agents.
// The agent pair is stored in canonical (sorted) order, so
// (AgentAID, AgentBID) identifies the active session between any two
// agents regardless of who spoke first. LockedAgentID is non-null only
// while a blocking send is in progress on this session.
type Session struct {
	ID            uuid.UUID     `json:"id"`
	AgentAID      uuid.UUID     `json:"agent_a_id"`
	AgentBID      uuid.UUID     `json:"agent_b_id"`
	Status        SessionStatus `json:"status"`
	LockedAgentID *uuid.UUID    `json:"locked_agent_id,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
	EndedAt       *time.Time    `json:"ended_at,omitempty"`
}

// Meeting is an N-party turn-based conversation with a host.
// CurrentSpeakerID and TurnStartedAt are non-null iff Status is active.
type Meeting struct {
	ID               uuid.UUID     `json:"id"`
	HostID           uuid.UUID     `json:"host_id"`
	Status           MeetingStatus `json:"status"`
	CurrentSpeakerID *uuid.UUID    `json:"current_speaker_id,omitempty"`
	TurnDuration     time.Duration `json:"turn_duration,omitempty"` // zero means no turn timeout
	TurnStartedAt    *time.Time    `json:"turn_started_at,omitempty"`
	CreatedAt        time.Time     `json:"created_at"`
	StartedAt        *time.Time    `json:"started_at,omitempty"`
	EndedAt          *time.Time    `json:"ended_at,omitempty"`
}

// MeetingParticipant is an agent's membership record in a meeting.
// JoinOrder is dense per meeting, starting at 0, and drives round-robin
// speaker selection.
type MeetingParticipant struct {
	ID        uuid.UUID         `json:"id"`
	MeetingID uuid.UUID         `json:"meeting_id"`
	AgentID   uuid.UUID         `json:"agent_id"`
	Status    ParticipantStatus `json:"status"`
	JoinOrder int               `json:"join_order"`
	IsLocked  bool              `json:"is_locked"`
	JoinedAt  *time.Time        `json:"joined_at,omitempty"`
	LeftAt    *time.Time        `json:"left_at,omitempty"`
}

// Message is a persisted message. Exactly one of the following shapes
// holds: recipient set and session null (one-way), session set
// (conversation), or meeting set and recipient null (meeting).
// SenderID is null only for system-generated timeout messages.
type Message struct {
	ID          uuid.UUID   `json:"id"`
	SenderID    *uuid.UUID  `json:"sender_id,omitempty"`
	RecipientID *uuid.UUID  `json:"recipient_id,omitempty"`
	SessionID   *uuid.UUID  `json:"session_id,omitempty"`
	MeetingID   *uuid.UUID  `json:"meeting_id,omitempty"`
	Type        MessageType `json:"message_type"`
	Content     Document    `json:"content"`
	Metadata    Document    `json:"metadata,omitempty"`
	ReadAt      *time.Time  `json:"read_at,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
}

// MeetingEvent is one row of the append-only meeting audit log, written
// alongside the corresponding state change.
type MeetingEvent struct {
	ID        uuid.UUID  `json:"id"`
	MeetingID uuid.UUID  `json:"meeting_id"`
	EventType string     `json:"event_type"`
	AgentID   *uuid.UUID `json:"agent_id,omitempty"`
	Data      Document   `json:"data,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// CanonicalPair returns the two agent ids in canonical (byte-sorted)
// order so a session lookup key is independent of who initiates.
func CanonicalPair(a, b uuid.UUID) (uuid.UUID, uuid.UUID) {
	if bytes.Compare(a[:], b[:]) <= 0 {
		return a, b
	}
	return b, a
}
