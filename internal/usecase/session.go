package usecase

import (
	"context"
	"fmt"

	"studiomic/internal/domain"
)

// transitions lists every legal state change of a recording session.
var transitions = map[domain.SessionState][]domain.SessionState{
	domain.SessionStateIdle:          {domain.SessionStateRecording},
	domain.SessionStateRecording:     {domain.SessionStateFinalizing, domain.SessionStateIdle},
	domain.SessionStateFinalizing:    {domain.SessionStateAwaitingReply, domain.SessionStateFailed},
	domain.SessionStateAwaitingReply: {domain.SessionStateComplete, domain.SessionStateFailed},
	domain.SessionStateComplete:      {domain.SessionStateIdle},
	domain.SessionStateFailed:        {domain.SessionStateIdle},
}

func canTransition(from, to domain.SessionState) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

type activeSession struct {
	session domain.RecordingSession
	cancel  context.CancelFunc
}

// machine is the single authoritative session state. Callers hold the
// controller mutex.
type machine struct {
	state   domain.SessionState
	current *activeSession
}

func (m *machine) transition(to domain.SessionState) error {
	if !canTransition(m.state, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, m.state, to)
	}
	m.state = to
	if m.current != nil {
		m.current.session.State = to
	}
	return nil
}
