package session

import "errors"

var (
	// ErrInvalidTransition is returned when a lifecycle operation is not
	// allowed from the session's current state.
	ErrInvalidTransition = errors.New("session: invalid state transition")

	// ErrNotParticipant is returned by [Registry.Owner] for speakers that no
	// session is recording.
	ErrNotParticipant = errors.New("session: speaker is not a participant")

	// ErrParticipantBusy is returned by [Registry.Register] when a speaker is
	// already being recorded by another session.
	ErrParticipantBusy = errors.New("session: participant is recorded by another session")

	// ErrSessionExists is returned when an owner starts a second session.
	ErrSessionExists = errors.New("session: owner already has a session")

	// ErrNoSession is returned when a command targets an owner without a
	// session.
	ErrNoSession = errors.New("session: no session for owner")

	// ErrDrainTimeout is returned by [TranscriptionQueue.Drain] when its
	// context ends before the queue is empty.
	ErrDrainTimeout = errors.New("session: drain timed out")
)
