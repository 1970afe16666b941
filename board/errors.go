package board

import "errors"

var (
	ErrRoomFull     = errors.New("room-full")
	ErrRoomNotFound = errors.New("room-not-found")
	ErrRoomClosed   = errors.New("room-closed")
	ErrNotJoined    = errors.New("not-joined")
	ErrNotMember    = errors.New("not-member")
	ErrReplaced     = errors.New("replaced")
	ErrShuttingDown = errors.New("shutting-down")
)

var (
	ErrNotParticipant    = errors.New("not-participant")
	ErrNotOwner          = errors.New("not-owner")
	ErrUnknownTarget     = errors.New("unknown-target")
	ErrInvalidRole       = errors.New("invalid-role")
	ErrParticipantsFull  = errors.New("participants-full")
	ErrLastParticipant   = errors.New("last-participant")
	ErrNoPeer            = errors.New("no-peer")
	ErrSessionBusy       = errors.New("session-not-idle")
	ErrNoDecisionPending = errors.New("no-decision-pending")
	ErrUnknownDecision   = errors.New("unknown-decision")
	ErrDecisionForbidden = errors.New("decision-forbidden")
)

var (
	ErrMalformedMessage   = errors.New("malformed-message")
	ErrUnknownMessageType = errors.New("unknown-message-type")
	ErrCorruptSnapshot    = errors.New("corrupt-snapshot")
)

var (
	ErrSendBufferFull    = errors.New("send-buffer-full")
	ErrClientClosed      = errors.New("client-closed")
	ErrClientRateLimited = errors.New("rate-limited")
)
