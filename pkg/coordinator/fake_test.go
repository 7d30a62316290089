package coordinator

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/parleyhq/parley/pkg/lock"
	"github.com/parleyhq/parley/pkg/models"
	"github.com/parleyhq/parley/pkg/store"
)

// fakeStore is an in-memory Store with the same contract as the SQL
// store: sentinel errors, canonical pair ordering, one active session
// per pair, monotonic message timestamps.
type fakeStore struct {
	mu sync.Mutex

	orgs         map[uuid.UUID]*models.Organization
	agents       map[uuid.UUID]*models.Agent
	sessions     map[uuid.UUID]*models.Session
	meetings     map[uuid.UUID]*models.Meeting
	participants map[uuid.UUID]*models.MeetingParticipant
	messages     []*models.Message
	events       []*models.MeetingEvent

	clock time.Time
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		orgs:         make(map[uuid.UUID]*models.Organization),
		agents:       make(map[uuid.UUID]*models.Agent),
		sessions:     make(map[uuid.UUID]*models.Session),
		meetings:     make(map[uuid.UUID]*models.Meeting),
		participants: make(map[uuid.UUID]*models.MeetingParticipant),
		clock:        time.Now(),
	}
}

// tick returns a strictly monotonic timestamp that tracks the wall
// clock, so comparisons against time.Now() in the code under test hold.
func (f *fakeStore) tick() time.Time {
	now := time.Now()
	if now.After(f.clock) {
		f.clock = now
	} else {
		f.clock = f.clock.Add(time.Microsecond)
	}
	return f.clock
}

func (f *fakeStore) CreateOrganization(ctx context.Context, externalID, name string) (*models.Organization, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, org := range f.orgs {
		if org.ExternalID == externalID {
			return nil, store.ErrAlreadyExists
		}
	}
	org := &models.Organization{
		ID: uuid.New(), ExternalID: externalID, Name: name,
		CreatedAt: f.tick(), UpdatedAt: f.clock,
	}
	f.orgs[org.ID] = org
	cp := *org
	return &cp, nil
}

func (f *fakeStore) GetOrganization(ctx context.Context, id uuid.UUID) (*models.Organization, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	org, ok := f.orgs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *org
	return &cp, nil
}

func (f *fakeStore) GetOrganizationByExternalID(ctx context.Context, externalID string) (*models.Organization, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, org := range f.orgs {
		if org.ExternalID == externalID {
			cp := *org
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (f *fakeStore) DeleteOrganization(ctx context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.orgs[id]; !ok {
		return store.ErrNotFound
	}
	delete(f.orgs, id)
	for agentID, agent := range f.agents {
		if agent.OrganizationID == id {
			delete(f.agents, agentID)
		}
	}
	return nil
}

func (f *fakeStore) CreateAgent(ctx context.Context, orgID uuid.UUID, externalID, name string) (*models.Agent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, agent := range f.agents {
		if agent.ExternalID == externalID {
			return nil, store.ErrAlreadyExists
		}
	}
	agent := &models.Agent{
		ID: uuid.New(), ExternalID: externalID, OrganizationID: orgID, Name: name,
		CreatedAt: f.tick(), UpdatedAt: f.clock,
	}
	f.agents[agent.ID] = agent
	cp := *agent
	return &cp, nil
}

func (f *fakeStore) GetAgent(ctx context.Context, id uuid.UUID) (*models.Agent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	agent, ok := f.agents[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *agent
	return &cp, nil
}

func (f *fakeStore) GetAgentByExternalID(ctx context.Context, externalID string) (*models.Agent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, agent := range f.agents {
		if agent.ExternalID == externalID {
			cp := *agent
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (f *fakeStore) ListAgents(ctx context.Context, orgID uuid.UUID) ([]*models.Agent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.Agent
	for _, agent := range f.agents {
		if agent.OrganizationID == orgID {
			cp := *agent
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExternalID < out[j].ExternalID })
	return out, nil
}

func (f *fakeStore) DeleteAgent(ctx context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.agents[id]; !ok {
		return store.ErrNotFound
	}
	delete(f.agents, id)
	return nil
}

func (f *fakeStore) IsAgentLocked(ctx context.Context, agentID uuid.UUID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, sess := range f.sessions {
		if sess.Status == models.SessionActive && sess.LockedAgentID != nil && *sess.LockedAgentID == agentID {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeStore) CreateSession(ctx context.Context, agentA, agentB uuid.UUID) (*models.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, b := models.CanonicalPair(agentA, agentB)
	for _, sess := range f.sessions {
		if sess.Status == models.SessionActive && sess.AgentAID == a && sess.AgentBID == b {
			return nil, store.ErrAlreadyExists
		}
	}
	sess := &models.Session{
		ID: uuid.New(), AgentAID: a, AgentBID: b, Status: models.SessionActive,
		CreatedAt: f.tick(), UpdatedAt: f.clock,
	}
	f.sessions[sess.ID] = sess
	cp := *sess
	return &cp, nil
}

func (f *fakeStore) GetSession(ctx context.Context, id uuid.UUID) (*models.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sess, ok := f.sessions[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *sess
	return &cp, nil
}

func (f *fakeStore) GetActiveSessionByPair(ctx context.Context, agentA, agentB uuid.UUID) (*models.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, b := models.CanonicalPair(agentA, agentB)
	for _, sess := range f.sessions {
		if sess.Status == models.SessionActive && sess.AgentAID == a && sess.AgentBID == b {
			cp := *sess
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (f *fakeStore) SetSessionLockedAgent(ctx context.Context, sessionID uuid.UUID, agentID *uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	sess, ok := f.sessions[sessionID]
	if !ok {
		return store.ErrNotFound
	}
	sess.LockedAgentID = agentID
	sess.UpdatedAt = f.tick()
	return nil
}

func (f *fakeStore) EndSession(ctx context.Context, sessionID uuid.UUID, endedAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	sess, ok := f.sessions[sessionID]
	if !ok || sess.Status != models.SessionActive {
		return store.ErrNotFound
	}
	sess.Status = models.SessionEnded
	sess.EndedAt = &endedAt
	sess.LockedAgentID = nil
	sess.UpdatedAt = f.tick()
	return nil
}

func (f *fakeStore) InsertMessage(ctx context.Context, msg *models.Message, markRead bool) (*models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *msg
	if cp.ID == uuid.Nil {
		cp.ID = uuid.New()
	}
	cp.CreatedAt = f.tick()
	if markRead {
		readAt := f.clock
		cp.ReadAt = &readAt
	}
	f.messages = append(f.messages, &cp)
	out := cp
	return &out, nil
}

func (f *fakeStore) FirstUnreadBetween(ctx context.Context, from, to uuid.UUID, sessionID *uuid.UUID) (*models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, msg := range f.messages {
		if msg.SenderID == nil || *msg.SenderID != from {
			continue
		}
		if msg.RecipientID == nil || *msg.RecipientID != to {
			continue
		}
		if msg.SessionID == nil || msg.ReadAt != nil {
			continue
		}
		if sessionID != nil && *msg.SessionID != *sessionID {
			continue
		}
		cp := *msg
		return &cp, nil
	}
	return nil, store.ErrNotFound
}

func (f *fakeStore) ListUnreadForRecipient(ctx context.Context, recipient uuid.UUID) ([]*models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.Message
	for _, msg := range f.messages {
		if msg.RecipientID != nil && *msg.RecipientID == recipient && msg.ReadAt == nil {
			cp := *msg
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeStore) MarkMessageRead(ctx context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, msg := range f.messages {
		if msg.ID == id && msg.ReadAt == nil {
			readAt := f.tick()
			msg.ReadAt = &readAt
		}
	}
	return nil
}

func (f *fakeStore) ListSessionMessages(ctx context.Context, sessionID uuid.UUID) ([]*models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.Message
	for _, msg := range f.messages {
		if msg.SessionID != nil && *msg.SessionID == sessionID {
			cp := *msg
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeStore) ListMeetingMessages(ctx context.Context, meetingID uuid.UUID) ([]*models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.Message
	for _, msg := range f.messages {
		if msg.MeetingID != nil && *msg.MeetingID == meetingID {
			cp := *msg
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeStore) ListMeetingMessagesSince(ctx context.Context, meetingID uuid.UUID, since time.Time) ([]*models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.Message
	for _, msg := range f.messages {
		if msg.MeetingID != nil && *msg.MeetingID == meetingID && !msg.CreatedAt.Before(since) {
			cp := *msg
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeStore) SearchMessages(ctx context.Context, query string, limit int) ([]*models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if limit <= 0 {
		limit = 20
	}
	var out []*models.Message
	for i := len(f.messages) - 1; i >= 0 && len(out) < limit; i-- {
		msg := f.messages[i]
		if strings.Contains(strings.ToLower(fmt.Sprint(msg.Content)), strings.ToLower(query)) {
			cp := *msg
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeStore) CreateMeeting(ctx context.Context, hostID uuid.UUID, participantIDs []uuid.UUID, turnDuration time.Duration) (*models.Meeting, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	meeting := &models.Meeting{
		ID: uuid.New(), HostID: hostID, Status: models.MeetingCreated,
		TurnDuration: turnDuration, CreatedAt: f.tick(),
	}
	f.meetings[meeting.ID] = meeting
	for order, agentID := range participantIDs {
		p := &models.MeetingParticipant{
			ID: uuid.New(), MeetingID: meeting.ID, AgentID: agentID,
			Status: models.ParticipantInvited, JoinOrder: order,
		}
		f.participants[p.ID] = p
	}
	cp := *meeting
	return &cp, nil
}

func (f *fakeStore) GetMeeting(ctx context.Context, id uuid.UUID) (*models.Meeting, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	meeting, ok := f.meetings[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *meeting
	return &cp, nil
}

func (f *fakeStore) StartMeeting(ctx context.Context, meetingID, firstSpeaker uuid.UUID, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	meeting, ok := f.meetings[meetingID]
	if !ok || meeting.Status != models.MeetingCreated {
		return store.ErrNotFound
	}
	meeting.Status = models.MeetingActive
	speaker := firstSpeaker
	meeting.CurrentSpeakerID = &speaker
	started := at
	meeting.TurnStartedAt = &started
	meeting.StartedAt = &started
	return nil
}

func (f *fakeStore) SetMeetingSpeaker(ctx context.Context, meetingID uuid.UUID, speaker *uuid.UUID, turnStartedAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	meeting, ok := f.meetings[meetingID]
	if !ok {
		return store.ErrNotFound
	}
	meeting.CurrentSpeakerID = speaker
	if speaker != nil {
		started := turnStartedAt
		meeting.TurnStartedAt = &started
	} else {
		meeting.TurnStartedAt = nil
	}
	return nil
}

func (f *fakeStore) EndMeeting(ctx context.Context, meetingID uuid.UUID, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	meeting, ok := f.meetings[meetingID]
	if !ok || meeting.Status == models.MeetingEnded {
		return store.ErrNotFound
	}
	meeting.Status = models.MeetingEnded
	ended := at
	meeting.EndedAt = &ended
	meeting.CurrentSpeakerID = nil
	meeting.TurnStartedAt = nil
	return nil
}

func (f *fakeStore) GetParticipant(ctx context.Context, meetingID, agentID uuid.UUID) (*models.MeetingParticipant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.participants {
		if p.MeetingID == meetingID && p.AgentID == agentID {
			cp := *p
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (f *fakeStore) ListParticipants(ctx context.Context, meetingID uuid.UUID) ([]*models.MeetingParticipant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.MeetingParticipant
	for _, p := range f.participants {
		if p.MeetingID == meetingID {
			cp := *p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].JoinOrder < out[j].JoinOrder })
	return out, nil
}

func (f *fakeStore) SetParticipantStatus(ctx context.Context, participantID uuid.UUID, status models.ParticipantStatus, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.participants[participantID]
	if !ok {
		return store.ErrNotFound
	}
	p.Status = status
	switch status {
	case models.ParticipantAttending:
		if p.JoinedAt == nil {
			joined := at
			p.JoinedAt = &joined
		}
	case models.ParticipantLeft:
		left := at
		p.LeftAt = &left
	}
	return nil
}

func (f *fakeStore) InsertMeetingEvent(ctx context.Context, meetingID uuid.UUID, eventType string, agentID *uuid.UUID, data models.Document) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, &models.MeetingEvent{
		ID: uuid.New(), MeetingID: meetingID, EventType: eventType,
		AgentID: agentID, Data: data, CreatedAt: f.tick(),
	})
	return nil
}

func (f *fakeStore) ListMeetingEvents(ctx context.Context, meetingID uuid.UUID) ([]*models.MeetingEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.MeetingEvent
	for _, e := range f.events {
		if e.MeetingID == meetingID {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}

// fakeLocker is an in-process Locker with advisory-lock semantics:
// non-blocking, at most one holder per id.
type fakeLocker struct {
	mu   sync.Mutex
	held map[uuid.UUID]bool
}

func newFakeLocker() *fakeLocker {
	return &fakeLocker{held: make(map[uuid.UUID]bool)}
}

func (l *fakeLocker) Acquire(ctx context.Context, id uuid.UUID) (Unlocker, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[id] {
		return nil, lock.ErrNotAcquired
	}
	l.held[id] = true
	return &fakeGuard{locker: l, id: id}, nil
}

// heldCount reports how many locks are currently held. Zero after an
// operation returns means no lock leaked.
func (l *fakeLocker) heldCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.held)
}

type fakeGuard struct {
	locker *fakeLocker
	id     uuid.UUID
	once   sync.Once
}

func (g *fakeGuard) Release() {
	g.once.Do(func() {
		g.locker.mu.Lock()
		defer g.locker.mu.Unlock()
		delete(g.locker.held, g.id)
	})
}
