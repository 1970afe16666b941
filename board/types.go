package board

import (
	"context"
	"strings"
	"time"
)

type Role string

const (
	RoleParticipant Role = "participant"
	RoleViewer      Role = "viewer"
)

func parseRole(raw string) (Role, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "participant":
		return RoleParticipant, true
	case "viewer", "spectator":
		return RoleViewer, true
	}
	return "", false
}

type SessionState string

const (
	SessionWaiting      SessionState = "waiting"
	SessionReadyPartial SessionState = "ready_partial"
	SessionTrialRunning SessionState = "trial_running"
	SessionTrialEnded   SessionState = "trial_ended"
	SessionLearning     SessionState = "learning"
)

const (
	KindTeacher = "teacher"
	KindStudent = "student"
)

func parseKind(label string) string {
	switch strings.ToLower(strings.TrimSpace(label)) {
	case KindTeacher:
		return KindTeacher
	case KindStudent:
		return KindStudent
	}
	return ""
}

type WebsocketConnection interface {
	Close(errCode string)
	Write(data []byte) error
	Read() ([]byte, error)
	Ping() error
}

// Peer is the room's view of a live connection.
type Peer interface {
	Handle() uint64
	Send(data []byte) error
	Close(reason string)
}

// SnapshotStore is the durable key/value store the canvas ledger is
// persisted to.
type SnapshotStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Expire(ctx context.Context, key string, ttl time.Duration) error
}

type Gatekeeper interface {
	Connect(ip string) error
	Disconnect(ip string)
	Allow(ip string, size int) error
}

type Timer interface {
	Stop() bool
}

type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
	Ticker(d time.Duration) (<-chan time.Time, func())
}

type roomParent interface {
	Delete(r *Room) bool
}

type RoomConfig struct {
	MaxParticipants int
	MaxClients      int
	Quorum          int
	TrialDuration   time.Duration

	LedgerCap    int
	LedgerTrimTo int

	SnapshotTTL   time.Duration
	FlushInterval time.Duration
	StoreTimeout  time.Duration

	// DecisionKind restricts session decisions to members of that kind when set.
	DecisionKind   string
	DecisionResets bool
}

func DefaultRoomConfig() RoomConfig {
	return RoomConfig{
		MaxParticipants: 2,
		MaxClients:      16,
		Quorum:          2,
		TrialDuration:   10 * time.Minute,
		LedgerCap:       20000,
		LedgerTrimTo:    18000,
		SnapshotTTL:     24 * time.Hour,
		FlushInterval:   2 * time.Second,
		StoreTimeout:    3 * time.Second,
	}
}

// RoomStatus is a point in time summary of a room, served over HTTP.
type RoomStatus struct {
	Code         string       `json:"room"`
	Visitors     int          `json:"visitors"`
	Participants int          `json:"participants"`
	SessionState SessionState `json:"sessionState"`
	TrialEndsAt  *int64       `json:"trialEndsAt"`
	OwnerID      string       `json:"ownerId,omitempty"`
}
