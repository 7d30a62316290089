// Package coordinator implements the core of the multi-agent messaging
// service: directory registration, one-way delivery, pairwise
// conversations (blocking and non-blocking), and turn-based meetings.
// All cross-process coordination goes through the relational store;
// concurrent callers are serialized by connection-scoped advisory locks
// and the in-process waiter table.
package coordinator

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/parleyhq/parley/pkg/config"
	"github.com/parleyhq/parley/pkg/events"
	"github.com/parleyhq/parley/pkg/handlers"
	"github.com/parleyhq/parley/pkg/lock"
	"github.com/parleyhq/parley/pkg/models"
	"github.com/parleyhq/parley/pkg/waiter"
)

// Store is the persistence surface the coordinator consumes. All SQL
// lives behind it; implemented by *store.Store and by in-memory fakes
// in tests.
type Store interface {
	// Directory
	CreateOrganization(ctx context.Context, externalID, name string) (*models.Organization, error)
	GetOrganization(ctx context.Context, id uuid.UUID) (*models.Organization, error)
	GetOrganizationByExternalID(ctx context.Context, externalID string) (*models.Organization, error)
	DeleteOrganization(ctx context.Context, id uuid.UUID) error
	CreateAgent(ctx context.Context, orgID uuid.UUID, externalID, name string) (*models.Agent, error)
	GetAgent(ctx context.Context, id uuid.UUID) (*models.Agent, error)
	GetAgentByExternalID(ctx context.Context, externalID string) (*models.Agent, error)
	ListAgents(ctx context.Context, orgID uuid.UUID) ([]*models.Agent, error)
	DeleteAgent(ctx context.Context, id uuid.UUID) error
	IsAgentLocked(ctx context.Context, agentID uuid.UUID) (bool, error)

	// Sessions
	CreateSession(ctx context.Context, agentA, agentB uuid.UUID) (*models.Session, error)
	GetSession(ctx context.Context, id uuid.UUID) (*models.Session, error)
	GetActiveSessionByPair(ctx context.Context, agentA, agentB uuid.UUID) (*models.Session, error)
	SetSessionLockedAgent(ctx context.Context, sessionID uuid.UUID, agentID *uuid.UUID) error
	EndSession(ctx context.Context, sessionID uuid.UUID, endedAt time.Time) error

	// Messages
	InsertMessage(ctx context.Context, msg *models.Message, markRead bool) (*models.Message, error)
	FirstUnreadBetween(ctx context.Context, from, to uuid.UUID, sessionID *uuid.UUID) (*models.Message, error)
	ListUnreadForRecipient(ctx context.Context, recipient uuid.UUID) ([]*models.Message, error)
	MarkMessageRead(ctx context.Context, id uuid.UUID) error
	ListSessionMessages(ctx context.Context, sessionID uuid.UUID) ([]*models.Message, error)
	ListMeetingMessages(ctx context.Context, meetingID uuid.UUID) ([]*models.Message, error)
	ListMeetingMessagesSince(ctx context.Context, meetingID uuid.UUID, since time.Time) ([]*models.Message, error)
	SearchMessages(ctx context.Context, query string, limit int) ([]*models.Message, error)

	// Meetings
	CreateMeeting(ctx context.Context, hostID uuid.UUID, participantIDs []uuid.UUID, turnDuration time.Duration) (*models.Meeting, error)
	GetMeeting(ctx context.Context, id uuid.UUID) (*models.Meeting, error)
	StartMeeting(ctx context.Context, meetingID, firstSpeaker uuid.UUID, at time.Time) error
	SetMeetingSpeaker(ctx context.Context, meetingID uuid.UUID, speaker *uuid.UUID, turnStartedAt time.Time) error
	EndMeeting(ctx context.Context, meetingID uuid.UUID, at time.Time) error
	GetParticipant(ctx context.Context, meetingID, agentID uuid.UUID) (*models.MeetingParticipant, error)
	ListParticipants(ctx context.Context, meetingID uuid.UUID) ([]*models.MeetingParticipant, error)
	SetParticipantStatus(ctx context.Context, participantID uuid.UUID, status models.ParticipantStatus, at time.Time) error

	// Meeting audit log
	InsertMeetingEvent(ctx context.Context, meetingID uuid.UUID, eventType string, agentID *uuid.UUID, data models.Document) error
	ListMeetingEvents(ctx context.Context, meetingID uuid.UUID) ([]*models.MeetingEvent, error)
}

// Unlocker releases an acquired lock. Release is idempotent and must
// run on every exit path of the critical section.
type Unlocker interface {
	Release()
}

// Locker serializes critical sections on a session or meeting id.
// Acquisition is non-blocking; contention surfaces as
// lock.ErrNotAcquired.
type Locker interface {
	Acquire(ctx context.Context, id uuid.UUID) (Unlocker, error)
}

// pgLocker adapts *lock.Manager to the Locker interface.
type pgLocker struct {
	m *lock.Manager
}

// NewPGLocker wraps the advisory-lock manager for coordinator use.
func NewPGLocker(m *lock.Manager) Locker {
	return pgLocker{m: m}
}

func (l pgLocker) Acquire(ctx context.Context, id uuid.UUID) (Unlocker, error) {
	g, err := l.m.Acquire(ctx, id)
	if err != nil {
		return nil, err
	}
	return g, nil
}

// Coordinator wires the core subsystems and owns their lifetimes.
type Coordinator struct {
	Directory     *Directory
	Messenger     *Messenger
	Conversations *Conversations
	Meetings      *Meetings
	History       *History
	Handlers      *handlers.Registry
	Bus           *events.Bus

	waiters    *waiter.Table
	supervisor *Supervisor
}

// New assembles a coordinator over the given store and locker.
func New(cfg *config.Config, st Store, locks Locker) *Coordinator {
	registry := handlers.NewRegistry(cfg.HandlerDeadline)
	bus := events.NewBus()
	waiters := waiter.NewTable()

	directory := NewDirectory(st)
	messenger := NewMessenger(st, registry)
	conversations := NewConversations(st, locks, waiters, registry, cfg)
	meetings := NewMeetings(st, locks, registry, bus, cfg)

	return &Coordinator{
		Directory:     directory,
		Messenger:     messenger,
		Conversations: conversations,
		Meetings:      meetings,
		History:       NewHistory(st),
		Handlers:      registry,
		Bus:           bus,
		waiters:       waiters,
		supervisor:    meetings.supervisor,
	}
}

// ActiveWaiters returns the number of callers parked on sessions
// (health reporting).
func (c *Coordinator) ActiveWaiters() int {
	return c.waiters.Len()
}

// ActiveTimers returns the number of armed turn timers (health
// reporting).
func (c *Coordinator) ActiveTimers() int {
	return c.supervisor.ActiveTimers()
}

// Shutdown drains the coordinator: cancel all turn timers, release
// parked meeting callers, close the event bus, then await detached
// handler tasks. Timer callbacks emit events and dispatch handlers, so
// they stop first.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	c.supervisor.Shutdown()
	c.Meetings.releaseParked()

	if err := c.Bus.Close(ctx); err != nil {
		slog.Warn("Event bus close timed out", "error", err)
	}
	if err := c.Handlers.Shutdown(ctx); err != nil {
		slog.Warn("Handler shutdown timed out", "error", err)
		return err
	}
	return nil
}
