package coordinator

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// fireFunc is invoked when a turn timer expires without being canceled.
// It receives the meeting and the speaker the timer was armed for, so a
// stale firing (speaker already advanced) can be detected and dropped.
type fireFunc func(meetingID, speakerID uuid.UUID)

// Supervisor runs one background turn timer per active meeting. Arming
// replaces any prior timer for the meeting; a state change (speak,
// leave, end) cancels it. The supervisor is the only producer of
// unsolicited state transitions.
type Supervisor struct {
	mu       sync.Mutex
	timers   map[uuid.UUID]chan struct{}
	stopping bool

	wg   sync.WaitGroup
	fire fireFunc
}

// NewSupervisor creates a supervisor delivering expirations to fire.
func NewSupervisor(fire fireFunc) *Supervisor {
	return &Supervisor{
		timers: make(map[uuid.UUID]chan struct{}),
		fire:   fire,
	}
}

// Arm starts the turn timer for a meeting, replacing any existing one.
// A non-positive duration disarms (meetings without turn timeouts).
func (s *Supervisor) Arm(meetingID, speakerID uuid.UUID, duration time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cancelLocked(meetingID)
	if duration <= 0 || s.stopping {
		return
	}

	cancel := make(chan struct{})
	s.timers[meetingID] = cancel
	s.wg.Add(1)

	go func() {
		defer s.wg.Done()
		timer := time.NewTimer(duration)
		defer timer.Stop()

		select {
		case <-timer.C:
		case <-cancel:
			return
		}

		s.mu.Lock()
		if cur, ok := s.timers[meetingID]; ok && cur == cancel {
			delete(s.timers, meetingID)
		}
		s.mu.Unlock()

		s.fire(meetingID, speakerID)
	}()
}

// Cancel stops the timer for a meeting if one is armed.
func (s *Supervisor) Cancel(meetingID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelLocked(meetingID)
}

func (s *Supervisor) cancelLocked(meetingID uuid.UUID) {
	if cancel, ok := s.timers[meetingID]; ok {
		close(cancel)
		delete(s.timers, meetingID)
	}
}

// ActiveTimers returns the number of armed timers (health reporting).
func (s *Supervisor) ActiveTimers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// Shutdown cancels all timers and waits for their goroutines. A timer
// that already fired runs its callback to completion first.
func (s *Supervisor) Shutdown() {
	s.mu.Lock()
	s.stopping = true
	for id, cancel := range s.timers {
		close(cancel)
		delete(s.timers, id)
	}
	s.mu.Unlock()

	s.wg.Wait()
}
