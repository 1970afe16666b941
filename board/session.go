package board

import "time"

// Session is the trial state machine of a room. trialEndsAt is non-zero
// only while State is trial_running.
type Session struct {
	State       SessionState
	StartedAt   time.Time
	TrialEndsAt time.Time

	// generation tags every scheduled expiry; a fire carrying an older
	// generation is ignored.
	generation uint64
}

type expiryOutcome int

const (
	expiryStale expiryOutcome = iota
	expiryEarly
	expiryEnded
)

func newSession() *Session {
	return &Session{State: SessionWaiting}
}

// recompute applies the ready-count rules and reports whether the state changed.
func (s *Session) recompute(ready, quorum int, now time.Time, d time.Duration) bool {
	if s.State == SessionLearning {
		return false
	}
	if ready == 0 {
		if s.State == SessionWaiting {
			return false
		}
		s.reset()
		return true
	}
	if s.State == SessionTrialRunning || s.State == SessionTrialEnded {
		return false
	}
	if ready >= quorum {
		s.startTrial(now, d)
		return true
	}
	if s.State == SessionReadyPartial {
		return false
	}
	s.State = SessionReadyPartial
	return true
}

func (s *Session) startTrial(now time.Time, d time.Duration) {
	s.State = SessionTrialRunning
	s.StartedAt = now
	s.TrialEndsAt = now.Add(d)
	s.generation++
}

// startByOwner starts the trial before the quorum is reached.
func (s *Session) startByOwner(now time.Time, d time.Duration) error {
	if s.State != SessionWaiting && s.State != SessionReadyPartial {
		return ErrSessionBusy
	}
	s.startTrial(now, d)
	return nil
}

func (s *Session) expire(gen uint64, now time.Time) expiryOutcome {
	if gen != s.generation || s.State != SessionTrialRunning {
		return expiryStale
	}
	if now.Before(s.TrialEndsAt) {
		return expiryEarly
	}
	s.State = SessionTrialEnded
	s.StartedAt = time.Time{}
	s.TrialEndsAt = time.Time{}
	s.generation++
	return expiryEnded
}

// decide applies a post-trial decision. reset reports that ready flags
// must be cleared by the caller.
func (s *Session) decide(decision string, resets bool) (changed, reset bool, err error) {
	switch decision {
	case DecisionContinue, DecisionRetry, DecisionEnd:
	default:
		return false, false, ErrUnknownDecision
	}
	if s.State != SessionTrialEnded {
		return false, false, ErrNoDecisionPending
	}
	if decision == DecisionContinue {
		s.State = SessionLearning
		return true, false, nil
	}
	if !resets {
		return false, false, nil
	}
	s.reset()
	return true, true, nil
}

func (s *Session) reset() {
	if s.State == SessionTrialRunning {
		s.generation++
	}
	s.State = SessionWaiting
	s.StartedAt = time.Time{}
	s.TrialEndsAt = time.Time{}
}

func (s *Session) trialEndsAtMillis() *int64 {
	if s.State != SessionTrialRunning || s.TrialEndsAt.IsZero() {
		return nil
	}
	ms := s.TrialEndsAt.UnixMilli()
	return &ms
}
