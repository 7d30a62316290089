package coordinator

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parleyhq/parley/pkg/models"
)

// startedMeeting creates a meeting, marks every participant attending,
// and starts it.
func startedMeeting(t *testing.T, env *testEnv, host string, participants []string, turnDuration time.Duration) *models.Meeting {
	t.Helper()
	ctx := context.Background()
	meeting, err := env.coord.Meetings.CreateMeeting(ctx, host, participants, turnDuration)
	require.NoError(t, err)
	for _, ext := range participants {
		require.NoError(t, env.coord.Meetings.AttendMeeting(ctx, ext, meeting.ID))
	}
	require.NoError(t, env.coord.Meetings.StartMeeting(ctx, host, meeting.ID))
	return meeting
}

func currentSpeaker(t *testing.T, env *testEnv, meetingID uuid.UUID) *uuid.UUID {
	t.Helper()
	meeting, err := env.store.GetMeeting(context.Background(), meetingID)
	require.NoError(t, err)
	return meeting.CurrentSpeakerID
}

func TestCreateMeeting_Validation(t *testing.T) {
	env := newTestEnv(t)
	env.seedAgents(t, "host", "a", "b")
	ctx := context.Background()

	many := make([]string, MaxMeetingParticipants+1)
	for i := range many {
		many[i] = fmt.Sprintf("agent-%d", i)
	}

	tests := []struct {
		name         string
		participants []string
		turnDuration time.Duration
	}{
		{"empty participant list", nil, 0},
		{"too many participants", many, 0},
		{"host in the participant list", []string{"a", "host"}, 0},
		{"duplicate participant", []string{"a", "a"}, 0},
		{"negative turn duration", []string{"a", "b"}, -time.Second},
		{"turn duration above bound", []string{"a", "b"}, 3601 * time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.coord.Meetings.CreateMeeting(ctx, "host", tt.participants, tt.turnDuration)
			assert.True(t, IsValidationError(err), "got %v", err)
		})
	}

	t.Run("unknown participant", func(t *testing.T) {
		_, err := env.coord.Meetings.CreateMeeting(ctx, "host", []string{"a", "ghost"}, 0)
		assert.ErrorIs(t, err, ErrAgentNotFound)
	})

	t.Run("creates in the created state with invited participants", func(t *testing.T) {
		meeting, err := env.coord.Meetings.CreateMeeting(ctx, "host", []string{"a", "b"}, time.Minute)
		require.NoError(t, err)
		assert.Equal(t, models.MeetingCreated, meeting.Status)
		assert.Equal(t, time.Minute, meeting.TurnDuration)

		participants, err := env.coord.Meetings.ListParticipants(ctx, meeting.ID)
		require.NoError(t, err)
		require.Len(t, participants, 2)
		for i, p := range participants {
			assert.Equal(t, models.ParticipantInvited, p.Status)
			assert.Equal(t, i, p.JoinOrder)
		}
	})
}

func TestAttendMeeting(t *testing.T) {
	env := newTestEnv(t)
	env.seedAgents(t, "host", "a", "b", "outsider")
	ctx := context.Background()

	meeting, err := env.coord.Meetings.CreateMeeting(ctx, "host", []string{"a", "b"}, 0)
	require.NoError(t, err)

	t.Run("marks an invited participant attending", func(t *testing.T) {
		require.NoError(t, env.coord.Meetings.AttendMeeting(ctx, "a", meeting.ID))

		p, err := env.store.GetParticipant(ctx, meeting.ID, env.agent(t, "a").ID)
		require.NoError(t, err)
		assert.Equal(t, models.ParticipantAttending, p.Status)
		assert.NotNil(t, p.JoinedAt)
	})

	t.Run("attending twice is a no-op", func(t *testing.T) {
		require.NoError(t, env.coord.Meetings.AttendMeeting(ctx, "a", meeting.ID))
	})

	t.Run("rejects a non-participant", func(t *testing.T) {
		err := env.coord.Meetings.AttendMeeting(ctx, "outsider", meeting.ID)
		assert.True(t, IsValidationError(err))
	})

	t.Run("rejects an unknown meeting", func(t *testing.T) {
		err := env.coord.Meetings.AttendMeeting(ctx, "a", uuid.New())
		assert.ErrorIs(t, err, ErrMeetingNotFound)
	})

	t.Run("rejects an ended meeting", func(t *testing.T) {
		require.NoError(t, env.coord.Meetings.AttendMeeting(ctx, "b", meeting.ID))
		require.NoError(t, env.coord.Meetings.StartMeeting(ctx, "host", meeting.ID))
		require.NoError(t, env.coord.Meetings.EndMeeting(ctx, "host", meeting.ID))

		err := env.coord.Meetings.AttendMeeting(ctx, "a", meeting.ID)
		assert.ErrorIs(t, err, ErrMeetingState)
	})
}

func TestStartMeeting(t *testing.T) {
	env := newTestEnv(t)
	env.seedAgents(t, "host", "a", "b")
	ctx := context.Background()

	meeting, err := env.coord.Meetings.CreateMeeting(ctx, "host", []string{"a", "b"}, 0)
	require.NoError(t, err)

	t.Run("only the host can start", func(t *testing.T) {
		err := env.coord.Meetings.StartMeeting(ctx, "a", meeting.ID)
		assert.ErrorIs(t, err, ErrMeetingPermission)
	})

	t.Run("requires all participants attending", func(t *testing.T) {
		require.NoError(t, env.coord.Meetings.AttendMeeting(ctx, "a", meeting.ID))
		err := env.coord.Meetings.StartMeeting(ctx, "host", meeting.ID)
		assert.ErrorIs(t, err, ErrMeetingState)
	})

	t.Run("activates with the first attendee speaking", func(t *testing.T) {
		require.NoError(t, env.coord.Meetings.AttendMeeting(ctx, "b", meeting.ID))
		require.NoError(t, env.coord.Meetings.StartMeeting(ctx, "host", meeting.ID))

		got, err := env.store.GetMeeting(ctx, meeting.ID)
		require.NoError(t, err)
		assert.Equal(t, models.MeetingActive, got.Status)
		require.NotNil(t, got.CurrentSpeakerID)
		assert.Equal(t, env.agent(t, "a").ID, *got.CurrentSpeakerID)
		assert.NotNil(t, got.TurnStartedAt)
		assert.NotNil(t, got.StartedAt)

		pa, err := env.store.GetParticipant(ctx, meeting.ID, env.agent(t, "a").ID)
		require.NoError(t, err)
		assert.Equal(t, models.ParticipantSpeaking, pa.Status)
		pb, err := env.store.GetParticipant(ctx, meeting.ID, env.agent(t, "b").ID)
		require.NoError(t, err)
		assert.Equal(t, models.ParticipantWaiting, pb.Status)
	})

	t.Run("a second start fails", func(t *testing.T) {
		err := env.coord.Meetings.StartMeeting(ctx, "host", meeting.ID)
		assert.ErrorIs(t, err, ErrMeetingState)
	})

	t.Run("no turn timer without a turn duration", func(t *testing.T) {
		assert.Zero(t, env.coord.ActiveTimers())
	})
}

func TestSpeak_RoundRobin(t *testing.T) {
	env := newTestEnv(t)
	env.seedAgents(t, "host", "a", "b", "c")
	ctx := context.Background()
	meeting := startedMeeting(t, env, "host", []string{"a", "b", "c"}, 0)

	t.Run("rejects out-of-turn speakers", func(t *testing.T) {
		_, err := env.coord.Meetings.Speak(ctx, "b", meeting.ID, models.Document{"text": "me first"}, nil, false)
		assert.ErrorIs(t, err, ErrNotYourTurn)
	})

	t.Run("rejects non-participants", func(t *testing.T) {
		_, err := env.coord.Meetings.Speak(ctx, "host", meeting.ID, models.Document{"text": "hi"}, nil, false)
		assert.ErrorIs(t, err, ErrMeetingState)
	})

	t.Run("advances the turn in join order with wrap-around", func(t *testing.T) {
		for _, round := range []struct{ speaker, next string }{
			{"a", "b"}, {"b", "c"}, {"c", "a"},
		} {
			res, err := env.coord.Meetings.Speak(ctx, round.speaker, meeting.ID,
				models.Document{"text": "turn of " + round.speaker}, nil, false)
			require.NoError(t, err)
			require.NotNil(t, res.Message)
			assert.Empty(t, res.Buffered)

			speaker := currentSpeaker(t, env, meeting.ID)
			require.NotNil(t, speaker)
			assert.Equal(t, env.agent(t, round.next).ID, *speaker,
				"after %s speaks the turn belongs to %s", round.speaker, round.next)
		}
	})

	t.Run("persists meeting messages in replay order", func(t *testing.T) {
		messages, err := env.store.ListMeetingMessages(ctx, meeting.ID)
		require.NoError(t, err)
		require.Len(t, messages, 3)
		assert.Equal(t, "turn of a", messages[0].Content["text"])
		assert.Equal(t, "turn of c", messages[2].Content["text"])
		for _, msg := range messages {
			assert.Nil(t, msg.RecipientID)
			assert.NotNil(t, msg.MeetingID)
		}
	})

	t.Run("rejects speaking before the meeting starts", func(t *testing.T) {
		created, err := env.coord.Meetings.CreateMeeting(ctx, "host", []string{"a", "b"}, 0)
		require.NoError(t, err)
		_, err = env.coord.Meetings.Speak(ctx, "a", created.ID, models.Document{"text": "early"}, nil, false)
		assert.ErrorIs(t, err, ErrMeetingNotActive)
	})
}

func TestSpeak_WaitForTurn(t *testing.T) {
	env := newTestEnv(t)
	env.seedAgents(t, "host", "a", "b")
	ctx := context.Background()
	meeting := startedMeeting(t, env, "host", []string{"a", "b"}, 0)

	type result struct {
		res *SpeakResult
		err error
	}
	done := make(chan result, 1)
	go func() {
		res, err := env.coord.Meetings.Speak(ctx, "b", meeting.ID,
			models.Document{"text": "patience"}, nil, true)
		done <- result{res, err}
	}()

	m := env.coord.Meetings
	require.Eventually(t, func() bool {
		m.parkMu.Lock()
		defer m.parkMu.Unlock()
		return len(m.parked[meeting.ID]) == 1
	}, time.Second, 5*time.Millisecond, "caller never parked")

	_, err := env.coord.Meetings.Speak(ctx, "a", meeting.ID,
		models.Document{"text": "my turn"}, nil, false)
	require.NoError(t, err)

	select {
	case got := <-done:
		require.NoError(t, got.err)
		assert.Equal(t, "patience", got.res.Message.Content["text"])
		require.Len(t, got.res.Buffered, 1, "buffered replay carries the messages missed while parked")
		assert.Equal(t, "my turn", got.res.Buffered[0].Content["text"])
	case <-time.After(3 * time.Second):
		t.Fatal("parked speaker was never woken")
	}
}

func TestSpeak_WaitForTurnMeetingEnds(t *testing.T) {
	env := newTestEnv(t)
	env.seedAgents(t, "host", "a", "b")
	ctx := context.Background()
	meeting := startedMeeting(t, env, "host", []string{"a", "b"}, 0)

	done := make(chan error, 1)
	go func() {
		_, err := env.coord.Meetings.Speak(ctx, "b", meeting.ID,
			models.Document{"text": "too late"}, nil, true)
		done <- err
	}()

	m := env.coord.Meetings
	require.Eventually(t, func() bool {
		m.parkMu.Lock()
		defer m.parkMu.Unlock()
		return len(m.parked[meeting.ID]) == 1
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, env.coord.Meetings.EndMeeting(ctx, "host", meeting.ID))

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrMeetingNotActive)
	case <-time.After(3 * time.Second):
		t.Fatal("parked speaker not released by the meeting end")
	}
}

func TestTurnTimeout(t *testing.T) {
	env := newTestEnv(t)
	env.seedAgents(t, "host", "a", "b", "c")
	ctx := context.Background()
	meeting := startedMeeting(t, env, "host", []string{"a", "b", "c"}, 100*time.Millisecond)

	aID := env.agent(t, "a").ID
	bID := env.agent(t, "b").ID

	require.Eventually(t, func() bool {
		speaker := currentSpeaker(t, env, meeting.ID)
		return speaker != nil && *speaker == bID
	}, 3*time.Second, 10*time.Millisecond, "turn never advanced past the silent speaker")

	messages, err := env.store.ListMeetingMessages(ctx, meeting.ID)
	require.NoError(t, err)
	require.NotEmpty(t, messages)
	timeoutMsg := messages[0]
	assert.Equal(t, models.MessageTimeout, timeoutMsg.Type)
	assert.Nil(t, timeoutMsg.SenderID, "timeout messages have no sender")
	assert.Equal(t, "timeout", timeoutMsg.Content["type"])
	assert.Equal(t, aID.String(), timeoutMsg.Content["timed_out"])
	assert.Equal(t, bID.String(), timeoutMsg.Content["next"])

	t.Run("the next turn is timed as well", func(t *testing.T) {
		assert.Equal(t, 1, env.coord.ActiveTimers())
	})

	t.Run("a speak re-arms instead of stacking timers", func(t *testing.T) {
		require.Eventually(t, func() bool {
			_, err := env.coord.Meetings.Speak(ctx, "b", meeting.ID, models.Document{"text": "awake"}, nil, false)
			return err == nil
		}, 3*time.Second, 10*time.Millisecond)
		assert.Equal(t, 1, env.coord.ActiveTimers())
	})
}

func TestTurnTimeout_StaleFiring(t *testing.T) {
	env := newTestEnv(t)
	env.seedAgents(t, "host", "a", "b")
	ctx := context.Background()
	meeting := startedMeeting(t, env, "host", []string{"a", "b"}, 0)

	// A firing armed for a speaker that no longer holds the turn must
	// change nothing.
	env.coord.Meetings.handleTurnTimeout(meeting.ID, env.agent(t, "b").ID)

	speaker := currentSpeaker(t, env, meeting.ID)
	require.NotNil(t, speaker)
	assert.Equal(t, env.agent(t, "a").ID, *speaker)

	messages, err := env.store.ListMeetingMessages(ctx, meeting.ID)
	require.NoError(t, err)
	assert.Empty(t, messages)
}

func TestLeaveMeeting(t *testing.T) {
	env := newTestEnv(t)
	env.seedAgents(t, "host", "a", "b", "c")
	ctx := context.Background()
	meeting := startedMeeting(t, env, "host", []string{"a", "b", "c"}, 0)

	t.Run("the host cannot leave", func(t *testing.T) {
		err := env.coord.Meetings.LeaveMeeting(ctx, "host", meeting.ID)
		assert.ErrorIs(t, err, ErrMeetingPermission)
	})

	t.Run("a non-speaker leaves without advancing the turn", func(t *testing.T) {
		require.NoError(t, env.coord.Meetings.LeaveMeeting(ctx, "c", meeting.ID))

		speaker := currentSpeaker(t, env, meeting.ID)
		require.NotNil(t, speaker)
		assert.Equal(t, env.agent(t, "a").ID, *speaker)

		p, err := env.store.GetParticipant(ctx, meeting.ID, env.agent(t, "c").ID)
		require.NoError(t, err)
		assert.Equal(t, models.ParticipantLeft, p.Status)
		assert.NotNil(t, p.LeftAt)
	})

	t.Run("leaving twice fails", func(t *testing.T) {
		err := env.coord.Meetings.LeaveMeeting(ctx, "c", meeting.ID)
		assert.ErrorIs(t, err, ErrMeetingState)
	})

	t.Run("a leaving speaker passes the turn", func(t *testing.T) {
		require.NoError(t, env.coord.Meetings.LeaveMeeting(ctx, "a", meeting.ID))

		speaker := currentSpeaker(t, env, meeting.ID)
		require.NotNil(t, speaker)
		assert.Equal(t, env.agent(t, "b").ID, *speaker)
	})

	t.Run("the last leaver clears the speaker", func(t *testing.T) {
		require.NoError(t, env.coord.Meetings.LeaveMeeting(ctx, "b", meeting.ID))

		got, err := env.store.GetMeeting(ctx, meeting.ID)
		require.NoError(t, err)
		assert.Nil(t, got.CurrentSpeakerID)
		assert.Nil(t, got.TurnStartedAt)
		assert.Equal(t, models.MeetingActive, got.Status, "an empty meeting stays active until the host ends it")
	})
}

func TestEndMeeting(t *testing.T) {
	env := newTestEnv(t)
	env.seedAgents(t, "host", "a", "b")
	ctx := context.Background()
	meeting := startedMeeting(t, env, "host", []string{"a", "b"}, time.Minute)

	t.Run("only the host can end", func(t *testing.T) {
		err := env.coord.Meetings.EndMeeting(ctx, "a", meeting.ID)
		assert.ErrorIs(t, err, ErrMeetingPermission)
	})

	t.Run("ends the meeting and cancels the turn timer", func(t *testing.T) {
		require.Equal(t, 1, env.coord.ActiveTimers())
		require.NoError(t, env.coord.Meetings.EndMeeting(ctx, "host", meeting.ID))

		got, err := env.store.GetMeeting(ctx, meeting.ID)
		require.NoError(t, err)
		assert.Equal(t, models.MeetingEnded, got.Status)
		assert.Nil(t, got.CurrentSpeakerID)
		assert.NotNil(t, got.EndedAt)
		assert.Zero(t, env.coord.ActiveTimers())

		messages, err := env.store.ListMeetingMessages(ctx, meeting.ID)
		require.NoError(t, err)
		require.Len(t, messages, 1)
		assert.Equal(t, models.MessageEnding, messages[0].Type)
		assert.Equal(t, env.agent(t, "host").ID, *messages[0].SenderID)
		assert.Equal(t, "meeting_ended", messages[0].Content["type"])
	})

	t.Run("a second end fails", func(t *testing.T) {
		err := env.coord.Meetings.EndMeeting(ctx, "host", meeting.ID)
		assert.ErrorIs(t, err, ErrMeetingState)
	})
}

func TestMeetingAuditLog(t *testing.T) {
	env := newTestEnv(t)
	env.seedAgents(t, "host", "a", "b")
	ctx := context.Background()
	meeting := startedMeeting(t, env, "host", []string{"a", "b"}, 0)

	_, err := env.coord.Meetings.Speak(ctx, "a", meeting.ID, models.Document{"text": "hello"}, nil, false)
	require.NoError(t, err)
	require.NoError(t, env.coord.Meetings.EndMeeting(ctx, "host", meeting.ID))

	evts, err := env.store.ListMeetingEvents(ctx, meeting.ID)
	require.NoError(t, err)

	var types []string
	for _, e := range evts {
		types = append(types, e.EventType)
	}
	assert.Equal(t, []string{
		"participant_joined",
		"participant_joined",
		"meeting_started",
		"turn_changed",
		"message_posted",
		"meeting_ended",
	}, types)
}
