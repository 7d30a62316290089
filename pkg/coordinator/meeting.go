package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/parleyhq/parley/pkg/config"
	"github.com/parleyhq/parley/pkg/events"
	"github.com/parleyhq/parley/pkg/handlers"
	"github.com/parleyhq/parley/pkg/lock"
	"github.com/parleyhq/parley/pkg/models"
	"github.com/parleyhq/parley/pkg/store"
)

// MaxMeetingParticipants bounds the invite list of one meeting.
const MaxMeetingParticipants = 50

// SpeakResult is the outcome of a successful Speak. Buffered holds the
// messages posted while the caller was parked waiting for its turn, in
// replay order; it is empty when the caller spoke immediately.
type SpeakResult struct {
	Message  *models.Message
	Buffered []*models.Message
}

// Meetings manages the N-party turn-based conversation lifecycle:
// CREATED, ACTIVE, ENDED. All transitions that touch the speaker run
// under the per-meeting advisory lock, including the timeout-driven
// advance.
type Meetings struct {
	store    Store
	locks    Locker
	handlers *handlers.Registry
	bus      *events.Bus
	cfg      *config.Config

	supervisor *Supervisor

	// parked holds wait-for-turn callers, one wake channel each,
	// broadcast-closed on every speaker or lifecycle change.
	parkMu sync.Mutex
	parked map[uuid.UUID]map[chan struct{}]struct{}
}

// NewMeetings creates the meeting manager and its turn-timeout
// supervisor.
func NewMeetings(st Store, locks Locker, registry *handlers.Registry, bus *events.Bus, cfg *config.Config) *Meetings {
	m := &Meetings{
		store:    st,
		locks:    locks,
		handlers: registry,
		bus:      bus,
		cfg:      cfg,
		parked:   make(map[uuid.UUID]map[chan struct{}]struct{}),
	}
	m.supervisor = NewSupervisor(m.handleTurnTimeout)
	return m
}

// CreateMeeting persists a meeting in CREATED state with its invited
// participants. The host is not a participant; join order follows the
// invite list.
func (m *Meetings) CreateMeeting(ctx context.Context, hostExt string, participantExts []string, turnDuration time.Duration) (*models.Meeting, error) {
	host, err := resolveAgent(ctx, m.store, hostExt)
	if err != nil {
		return nil, err
	}

	if len(participantExts) == 0 {
		return nil, NewValidationError("participants", "must not be empty")
	}
	if len(participantExts) > MaxMeetingParticipants {
		return nil, NewValidationError("participants",
			fmt.Sprintf("must be at most %d, got %d", MaxMeetingParticipants, len(participantExts)))
	}
	seen := make(map[string]struct{}, len(participantExts))
	for _, ext := range participantExts {
		if ext == hostExt {
			return nil, NewValidationError("participants", "host cannot be a participant")
		}
		if _, dup := seen[ext]; dup {
			return nil, NewValidationError("participants", fmt.Sprintf("duplicate participant '%s'", ext))
		}
		seen[ext] = struct{}{}
	}

	if turnDuration == 0 {
		turnDuration = m.cfg.DefaultTurnDuration
	}
	if turnDuration < 0 || turnDuration > config.MaxTurnDuration {
		return nil, NewValidationError("turn_duration",
			fmt.Sprintf("must be in (0, %s], got %s", config.MaxTurnDuration, turnDuration))
	}

	participantIDs := make([]uuid.UUID, 0, len(participantExts))
	for _, ext := range participantExts {
		agent, err := resolveAgent(ctx, m.store, ext)
		if err != nil {
			return nil, err
		}
		participantIDs = append(participantIDs, agent.ID)
	}

	meeting, err := m.store.CreateMeeting(ctx, host.ID, participantIDs, turnDuration)
	if err != nil {
		return nil, persistenceErr(err)
	}

	slog.Info("Meeting created",
		"meeting_id", meeting.ID, "host_id", hostExt,
		"participants", len(participantIDs), "turn_duration", turnDuration)
	return meeting, nil
}

// GetMeeting returns a meeting by id.
func (m *Meetings) GetMeeting(ctx context.Context, meetingID uuid.UUID) (*models.Meeting, error) {
	meeting, err := m.store.GetMeeting(ctx, meetingID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrMeetingNotFound, meetingID)
		}
		return nil, persistenceErr(err)
	}
	return meeting, nil
}

// ListParticipants returns a meeting's participants in join order.
func (m *Meetings) ListParticipants(ctx context.Context, meetingID uuid.UUID) ([]*models.MeetingParticipant, error) {
	if _, err := m.GetMeeting(ctx, meetingID); err != nil {
		return nil, err
	}
	participants, err := m.store.ListParticipants(ctx, meetingID)
	if err != nil {
		return nil, persistenceErr(err)
	}
	return participants, nil
}

// AttendMeeting marks an invited participant as attending. Attending
// again is a no-op; a participant that has left cannot return.
func (m *Meetings) AttendMeeting(ctx context.Context, agentExt string, meetingID uuid.UUID) error {
	agent, err := resolveAgent(ctx, m.store, agentExt)
	if err != nil {
		return err
	}
	meeting, err := m.GetMeeting(ctx, meetingID)
	if err != nil {
		return err
	}
	if meeting.Status == models.MeetingEnded {
		return fmt.Errorf("%w: meeting %s has ended", ErrMeetingState, meetingID)
	}

	participant, err := m.store.GetParticipant(ctx, meetingID, agent.ID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return NewValidationError("agent_id",
				fmt.Sprintf("'%s' is not a participant of this meeting", agentExt))
		}
		return persistenceErr(err)
	}

	switch participant.Status {
	case models.ParticipantAttending:
		return nil
	case models.ParticipantInvited:
	default:
		return fmt.Errorf("%w: participant is %s", ErrMeetingState, participant.Status)
	}

	if err := m.store.SetParticipantStatus(ctx, participant.ID, models.ParticipantAttending, time.Now()); err != nil {
		return persistenceErr(err)
	}

	m.recordEvent(ctx, meetingID, string(events.EventParticipantJoined), &agent.ID,
		models.Document{"join_order": participant.JoinOrder})
	m.bus.Emit(ctx, meetingID, events.EventParticipantJoined, events.ParticipantJoinedPayload{
		AgentID:   agent.ID,
		JoinOrder: participant.JoinOrder,
	})
	slog.Info("Participant attending", "meeting_id", meetingID, "agent_id", agentExt)
	return nil
}

// StartMeeting transitions a CREATED meeting to ACTIVE. Host-only. All
// participants must be attending; the first speaker is the attendee
// with the lowest join order.
func (m *Meetings) StartMeeting(ctx context.Context, hostExt string, meetingID uuid.UUID) error {
	host, err := resolveAgent(ctx, m.store, hostExt)
	if err != nil {
		return err
	}
	meeting, err := m.GetMeeting(ctx, meetingID)
	if err != nil {
		return err
	}
	if meeting.HostID != host.ID {
		return fmt.Errorf("%w: only the host can start the meeting", ErrMeetingPermission)
	}

	unlock, err := m.acquireMeetingLock(ctx, meetingID)
	if err != nil {
		return err
	}
	defer unlock.Release()

	// Re-read under the lock; a concurrent start or end may have won.
	meeting, err = m.GetMeeting(ctx, meetingID)
	if err != nil {
		return err
	}
	if meeting.Status != models.MeetingCreated {
		return fmt.Errorf("%w: meeting is %s, expected %s", ErrMeetingState, meeting.Status, models.MeetingCreated)
	}

	participants, err := m.store.ListParticipants(ctx, meetingID)
	if err != nil {
		return persistenceErr(err)
	}
	if len(participants) == 0 {
		return fmt.Errorf("%w: meeting has no participants", ErrMeetingState)
	}
	for _, p := range participants {
		if p.Status != models.ParticipantAttending {
			return fmt.Errorf("%w: participant %s is %s, all must be attending",
				ErrMeetingState, p.AgentID, p.Status)
		}
	}

	first := participants[0]
	now := time.Now()
	if err := m.store.StartMeeting(ctx, meetingID, first.AgentID, now); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("%w: meeting is no longer %s", ErrMeetingState, models.MeetingCreated)
		}
		return persistenceErr(err)
	}
	m.setSpeakerStatuses(ctx, participants, first.AgentID)

	m.supervisor.Arm(meetingID, first.AgentID, meeting.TurnDuration)

	m.recordEvent(ctx, meetingID, string(events.EventMeetingStarted), &host.ID,
		models.Document{"first_speaker": first.AgentID.String(), "participants": len(participants)})
	m.bus.Emit(ctx, meetingID, events.EventMeetingStarted, events.MeetingStartedPayload{
		HostID:         host.ID,
		FirstSpeakerID: first.AgentID,
		Participants:   len(participants),
	})
	m.broadcastTurn(meetingID)

	slog.Info("Meeting started",
		"meeting_id", meetingID, "host_id", hostExt, "first_speaker", first.AgentID)
	return nil
}

// Speak posts a message into an active meeting and advances the turn.
// With waitForTurn the caller parks until it becomes the speaker (or
// the meeting leaves ACTIVE) instead of failing with a turn error, and
// the result carries the messages posted while it was parked.
func (m *Meetings) Speak(ctx context.Context, agentExt string, meetingID uuid.UUID, body any, metadata models.Document, waitForTurn bool) (*SpeakResult, error) {
	agent, err := resolveAgent(ctx, m.store, agentExt)
	if err != nil {
		return nil, err
	}
	content := canonicalDocument(body)

	msg, err := m.speakOnce(ctx, agent, meetingID, content, metadata)
	if err == nil {
		return &SpeakResult{Message: msg}, nil
	}
	if !waitForTurn || !errors.Is(err, ErrNotYourTurn) {
		return nil, err
	}

	parkedAt := time.Now()
	for {
		wake := m.park(meetingID)
		// The turn may have changed between the failed attempt and
		// parking; retry before sleeping.
		msg, err := m.speakOnce(ctx, agent, meetingID, content, metadata)
		if err == nil {
			m.unpark(meetingID, wake)
			return m.bufferedResult(ctx, meetingID, parkedAt, msg)
		}
		if !errors.Is(err, ErrNotYourTurn) {
			m.unpark(meetingID, wake)
			return nil, err
		}

		select {
		case <-wake:
		case <-ctx.Done():
			m.unpark(meetingID, wake)
			return nil, ctx.Err()
		}
	}
}

// bufferedResult collects the messages posted while the caller was
// parked, excluding its own.
func (m *Meetings) bufferedResult(ctx context.Context, meetingID uuid.UUID, parkedAt time.Time, own *models.Message) (*SpeakResult, error) {
	posted, err := m.store.ListMeetingMessagesSince(ctx, meetingID, parkedAt)
	if err != nil {
		return nil, persistenceErr(err)
	}
	buffered := make([]*models.Message, 0, len(posted))
	for _, msg := range posted {
		if msg.ID != own.ID {
			buffered = append(buffered, msg)
		}
	}
	return &SpeakResult{Message: own, Buffered: buffered}, nil
}

// speakOnce is one guarded speak attempt: re-read under the per-meeting
// lock, verify it is the caller's turn, persist, advance.
func (m *Meetings) speakOnce(ctx context.Context, agent *models.Agent, meetingID uuid.UUID, content, metadata models.Document) (*models.Message, error) {
	unlock, err := m.acquireMeetingLock(ctx, meetingID)
	if err != nil {
		return nil, err
	}
	defer unlock.Release()

	// Mandatory re-read: a speak attempt can race with a turn advance.
	meeting, err := m.GetMeeting(ctx, meetingID)
	if err != nil {
		return nil, err
	}
	if meeting.Status != models.MeetingActive {
		return nil, fmt.Errorf("%w: meeting is %s", ErrMeetingNotActive, meeting.Status)
	}

	participants, err := m.store.ListParticipants(ctx, meetingID)
	if err != nil {
		return nil, persistenceErr(err)
	}
	speaker := findParticipant(participants, agent.ID)
	if speaker == nil || !isPresent(speaker.Status) {
		return nil, fmt.Errorf("%w: '%s' is not an attending participant", ErrMeetingState, agent.ExternalID)
	}
	if meeting.CurrentSpeakerID == nil || *meeting.CurrentSpeakerID != agent.ID {
		return nil, fmt.Errorf("%w: agent %s", ErrNotYourTurn, agent.ExternalID)
	}

	mid := meetingID
	persisted, err := m.store.InsertMessage(ctx, &models.Message{
		SenderID:  &agent.ID,
		MeetingID: &mid,
		Type:      models.MessageUserDefined,
		Content:   content,
		Metadata:  metadata,
	}, false)
	if err != nil {
		return nil, persistenceErr(err)
	}

	next := nextSpeaker(participants, agent.ID)
	if err := m.advanceTurn(ctx, meeting, participants, next, "speak"); err != nil {
		return nil, err
	}

	m.recordEvent(ctx, meetingID, string(events.EventMessagePosted), &agent.ID,
		models.Document{"message_id": persisted.ID.String()})
	m.bus.Emit(ctx, meetingID, events.EventMessagePosted, events.MessagePostedPayload{
		MessageID: persisted.ID,
		SenderID:  agent.ID,
		Content:   content,
	})
	m.dispatchMeetingHandler(ctx, agent, meetingID, persisted, content, metadata, next)
	return persisted, nil
}

// advanceTurn moves the speaker pointer to next (nil for "no speaker"),
// swaps the turn timer, records the audit row, and wakes parked
// callers. Caller holds the meeting lock.
func (m *Meetings) advanceTurn(ctx context.Context, meeting *models.Meeting, participants []*models.MeetingParticipant, next *uuid.UUID, reason string) error {
	m.supervisor.Cancel(meeting.ID)

	now := time.Now()
	if err := m.store.SetMeetingSpeaker(ctx, meeting.ID, next, now); err != nil {
		return persistenceErr(err)
	}
	if next != nil {
		m.setSpeakerStatuses(ctx, participants, *next)
		m.supervisor.Arm(meeting.ID, *next, meeting.TurnDuration)
	}

	data := models.Document{"reason": reason}
	if meeting.CurrentSpeakerID != nil {
		data["previous_speaker"] = meeting.CurrentSpeakerID.String()
	}
	if next != nil {
		data["next_speaker"] = next.String()
	}
	m.recordEvent(ctx, meeting.ID, string(events.EventTurnChanged), next, data)
	m.bus.Emit(ctx, meeting.ID, events.EventTurnChanged, events.TurnChangedPayload{
		PreviousSpeakerID: meeting.CurrentSpeakerID,
		NextSpeakerID:     next,
		Reason:            reason,
	})
	m.broadcastTurn(meeting.ID)
	return nil
}

// LeaveMeeting removes a participant. The host cannot leave; it ends
// the meeting instead. A leaver holding the turn advances it to the
// next attendee, or to "no speaker" when nobody remains.
func (m *Meetings) LeaveMeeting(ctx context.Context, agentExt string, meetingID uuid.UUID) error {
	agent, err := resolveAgent(ctx, m.store, agentExt)
	if err != nil {
		return err
	}
	meeting, err := m.GetMeeting(ctx, meetingID)
	if err != nil {
		return err
	}
	if meeting.HostID == agent.ID {
		return fmt.Errorf("%w: the host cannot leave, end the meeting instead", ErrMeetingPermission)
	}

	unlock, err := m.acquireMeetingLock(ctx, meetingID)
	if err != nil {
		return err
	}
	defer unlock.Release()

	meeting, err = m.GetMeeting(ctx, meetingID)
	if err != nil {
		return err
	}
	participants, err := m.store.ListParticipants(ctx, meetingID)
	if err != nil {
		return persistenceErr(err)
	}
	participant := findParticipant(participants, agent.ID)
	if participant == nil {
		return NewValidationError("agent_id",
			fmt.Sprintf("'%s' is not a participant of this meeting", agentExt))
	}
	if participant.Status == models.ParticipantLeft {
		return fmt.Errorf("%w: participant already left", ErrMeetingState)
	}

	if err := m.store.SetParticipantStatus(ctx, participant.ID, models.ParticipantLeft, time.Now()); err != nil {
		return persistenceErr(err)
	}
	participant.Status = models.ParticipantLeft

	wasSpeaker := meeting.Status == models.MeetingActive &&
		meeting.CurrentSpeakerID != nil && *meeting.CurrentSpeakerID == agent.ID
	if wasSpeaker {
		next := nextSpeaker(participants, agent.ID)
		if err := m.advanceTurn(ctx, meeting, participants, next, "leave"); err != nil {
			return err
		}
	}

	m.recordEvent(ctx, meetingID, string(events.EventParticipantLeft), &agent.ID,
		models.Document{"was_speaker": wasSpeaker})
	m.bus.Emit(ctx, meetingID, events.EventParticipantLeft, events.ParticipantLeftPayload{
		AgentID:    agent.ID,
		WasSpeaker: wasSpeaker,
	})
	slog.Info("Participant left", "meeting_id", meetingID, "agent_id", agentExt, "was_speaker", wasSpeaker)
	return nil
}

// EndMeeting transitions a meeting to ENDED. Host-only; a second end
// fails with a meeting state error.
func (m *Meetings) EndMeeting(ctx context.Context, hostExt string, meetingID uuid.UUID) error {
	host, err := resolveAgent(ctx, m.store, hostExt)
	if err != nil {
		return err
	}
	meeting, err := m.GetMeeting(ctx, meetingID)
	if err != nil {
		return err
	}
	if meeting.HostID != host.ID {
		return fmt.Errorf("%w: only the host can end the meeting", ErrMeetingPermission)
	}

	unlock, err := m.acquireMeetingLock(ctx, meetingID)
	if err != nil {
		return err
	}
	defer unlock.Release()

	m.supervisor.Cancel(meetingID)

	now := time.Now()
	if err := m.store.EndMeeting(ctx, meetingID, now); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("%w: meeting already ended", ErrMeetingState)
		}
		return persistenceErr(err)
	}

	mid := meetingID
	if _, err := m.store.InsertMessage(ctx, &models.Message{
		SenderID:  &host.ID,
		MeetingID: &mid,
		Type:      models.MessageEnding,
		Content:   models.Document{"type": "meeting_ended"},
	}, false); err != nil {
		return persistenceErr(err)
	}

	m.recordEvent(ctx, meetingID, string(events.EventMeetingEnded), &host.ID, nil)
	m.bus.Emit(ctx, meetingID, events.EventMeetingEnded, events.MeetingEndedPayload{
		HostID:  host.ID,
		EndedAt: now,
	})
	// Parked wait-for-turn callers observe the ended state and return.
	m.broadcastTurn(meetingID)

	slog.Info("Meeting ended", "meeting_id", meetingID, "host_id", hostExt)
	return nil
}

// handleTurnTimeout is the supervisor's fire callback. It advances the
// turn past a speaker that missed its deadline, persisting a synthetic
// timeout message. A firing that raced with a speak or end is dropped.
func (m *Meetings) handleTurnTimeout(meetingID, expectedSpeaker uuid.UUID) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	meeting, err := m.store.GetMeeting(ctx, meetingID)
	if err != nil {
		slog.Error("Turn timeout: failed to read meeting", "meeting_id", meetingID, "error", err)
		return
	}
	if meeting.Status != models.MeetingActive {
		return
	}
	if meeting.CurrentSpeakerID == nil || *meeting.CurrentSpeakerID != expectedSpeaker {
		// A speak landed between sleep and fire; the cancellation raced.
		return
	}

	unlock, err := m.acquireMeetingLock(ctx, meetingID)
	if err != nil {
		slog.Warn("Turn timeout: meeting lock unavailable, skipping advance",
			"meeting_id", meetingID, "error", err)
		return
	}
	defer unlock.Release()

	// Re-read under the lock; same stale checks.
	meeting, err = m.store.GetMeeting(ctx, meetingID)
	if err != nil {
		slog.Error("Turn timeout: failed to re-read meeting", "meeting_id", meetingID, "error", err)
		return
	}
	if meeting.Status != models.MeetingActive ||
		meeting.CurrentSpeakerID == nil || *meeting.CurrentSpeakerID != expectedSpeaker {
		return
	}

	participants, err := m.store.ListParticipants(ctx, meetingID)
	if err != nil {
		slog.Error("Turn timeout: failed to list participants", "meeting_id", meetingID, "error", err)
		return
	}
	next := nextSpeaker(participants, expectedSpeaker)

	content := models.Document{
		"type":      "timeout",
		"timed_out": expectedSpeaker.String(),
	}
	if next != nil {
		content["next"] = next.String()
	}
	mid := meetingID
	if _, err := m.store.InsertMessage(ctx, &models.Message{
		MeetingID: &mid,
		Type:      models.MessageTimeout,
		Content:   content,
	}, false); err != nil {
		slog.Error("Turn timeout: failed to persist timeout message", "meeting_id", meetingID, "error", err)
		return
	}

	m.recordEvent(ctx, meetingID, string(events.EventTimeoutOccurred), &expectedSpeaker, content)
	m.bus.Emit(ctx, meetingID, events.EventTimeoutOccurred, events.TimeoutOccurredPayload{
		TimedOutAgentID: expectedSpeaker,
		NextSpeakerID:   next,
	})

	if err := m.advanceTurn(ctx, meeting, participants, next, "timeout"); err != nil {
		slog.Error("Turn timeout: failed to advance turn", "meeting_id", meetingID, "error", err)
		return
	}

	slog.Info("Turn timed out", "meeting_id", meetingID,
		"timed_out", expectedSpeaker, "next", next)
}

// dispatchMeetingHandler fires the meeting handler detached, addressed
// to the next speaker so user code can prompt it.
func (m *Meetings) dispatchMeetingHandler(ctx context.Context, sender *models.Agent, meetingID uuid.UUID, msg *models.Message, content, metadata models.Document, next *uuid.UUID) {
	if !m.handlers.Registered(handlers.KindMeeting) || next == nil {
		return
	}
	receiver, err := m.store.GetAgent(ctx, *next)
	if err != nil {
		slog.Warn("Failed to resolve next speaker for meeting handler",
			"meeting_id", meetingID, "agent_id", *next, "error", err)
		return
	}
	mid := meetingID
	m.handlers.InvokeDetached(handlers.KindMeeting, content, handlers.MessageContext{
		SenderExternalID:       sender.ExternalID,
		ReceiverExternalID:     receiver.ExternalID,
		OrganizationExternalID: organizationExternalID(ctx, m.store, sender),
		Kind:                   handlers.KindMeeting,
		MessageID:              msg.ID,
		MeetingID:              &mid,
		Metadata:               metadata,
	})
}

// setSpeakerStatuses marks the speaker SPEAKING and every other present
// participant WAITING, emitting status-change events for transitions.
func (m *Meetings) setSpeakerStatuses(ctx context.Context, participants []*models.MeetingParticipant, speakerID uuid.UUID) {
	for _, p := range participants {
		if !isPresent(p.Status) {
			continue
		}
		target := models.ParticipantWaiting
		if p.AgentID == speakerID {
			target = models.ParticipantSpeaking
		}
		if p.Status == target {
			continue
		}
		if err := m.store.SetParticipantStatus(ctx, p.ID, target, time.Now()); err != nil {
			slog.Warn("Failed to update participant status",
				"meeting_id", p.MeetingID, "agent_id", p.AgentID, "error", err)
			continue
		}
		p.Status = target
		m.bus.Emit(ctx, p.MeetingID, events.EventParticipantStatusChanged,
			events.ParticipantStatusChangedPayload{AgentID: p.AgentID, Status: target})
	}
}

// recordEvent appends one audit row; failures are logged, the state
// change already committed.
func (m *Meetings) recordEvent(ctx context.Context, meetingID uuid.UUID, eventType string, agentID *uuid.UUID, data models.Document) {
	if err := m.store.InsertMeetingEvent(ctx, meetingID, eventType, agentID, data); err != nil {
		slog.Error("Failed to record meeting event",
			"meeting_id", meetingID, "event_type", eventType, "error", err)
	}
}

func (m *Meetings) acquireMeetingLock(ctx context.Context, meetingID uuid.UUID) (Unlocker, error) {
	unlock, err := m.locks.Acquire(ctx, meetingID)
	if err != nil {
		if errors.Is(err, lock.ErrNotAcquired) {
			return nil, fmt.Errorf("%w: meeting %s", ErrLockUnavailable, meetingID)
		}
		return nil, persistenceErr(err)
	}
	return unlock, nil
}

// park registers a wait-for-turn wake channel for a meeting.
func (m *Meetings) park(meetingID uuid.UUID) chan struct{} {
	m.parkMu.Lock()
	defer m.parkMu.Unlock()
	ch := make(chan struct{})
	set, ok := m.parked[meetingID]
	if !ok {
		set = make(map[chan struct{}]struct{})
		m.parked[meetingID] = set
	}
	set[ch] = struct{}{}
	return ch
}

// unpark removes a wake channel; idempotent against a broadcast that
// already cleared it.
func (m *Meetings) unpark(meetingID uuid.UUID, ch chan struct{}) {
	m.parkMu.Lock()
	defer m.parkMu.Unlock()
	if set, ok := m.parked[meetingID]; ok {
		delete(set, ch)
		if len(set) == 0 {
			delete(m.parked, meetingID)
		}
	}
}

// broadcastTurn wakes every caller parked on the meeting.
func (m *Meetings) broadcastTurn(meetingID uuid.UUID) {
	m.parkMu.Lock()
	defer m.parkMu.Unlock()
	for ch := range m.parked[meetingID] {
		close(ch)
	}
	delete(m.parked, meetingID)
}

// releaseParked wakes every parked caller across all meetings
// (shutdown).
func (m *Meetings) releaseParked() {
	m.parkMu.Lock()
	defer m.parkMu.Unlock()
	for id, set := range m.parked {
		for ch := range set {
			close(ch)
		}
		delete(m.parked, id)
	}
}

// isPresent reports whether a participant is in the meeting and able to
// speak when its turn comes.
func isPresent(status models.ParticipantStatus) bool {
	switch status {
	case models.ParticipantAttending, models.ParticipantWaiting, models.ParticipantSpeaking:
		return true
	default:
		return false
	}
}

func findParticipant(participants []*models.MeetingParticipant, agentID uuid.UUID) *models.MeetingParticipant {
	for _, p := range participants {
		if p.AgentID == agentID {
			return p
		}
	}
	return nil
}

// nextSpeaker selects the present participant with the smallest join
// order strictly greater than the current speaker's, wrapping to the
// minimum. Returns nil when nobody present remains.
func nextSpeaker(participants []*models.MeetingParticipant, current uuid.UUID) *uuid.UUID {
	cur := findParticipant(participants, current)
	curOrder := -1
	if cur != nil {
		curOrder = cur.JoinOrder
	}

	var after, first *models.MeetingParticipant
	for _, p := range participants {
		if !isPresent(p.Status) {
			continue
		}
		if first == nil || p.JoinOrder < first.JoinOrder {
			first = p
		}
		if p.JoinOrder > curOrder && (after == nil || p.JoinOrder < after.JoinOrder) {
			after = p
		}
	}
	if after != nil {
		id := after.AgentID
		return &id
	}
	if first != nil {
		id := first.AgentID
		return &id
	}
	return nil
}
