package board

import (
	"bytes"
	"encoding/json"
	"time"
)

// Stroke is one drawing operation. Endpoints are kept as raw JSON, the
// server never interprets them.
type Stroke struct {
	A     json.RawMessage `json:"a"`
	B     json.RawMessage `json:"b"`
	Mode  string          `json:"mode"`
	Color string          `json:"color"`
	W     float64         `json:"w"`
	T     int64           `json:"t,omitempty"`
}

func isAbsent(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

// inboundMessage is the closed set of messages a client may send.
type inboundMessage interface {
	messageType() string
}

type joinMessage struct {
	RoomCode string `json:"roomCode"`
	ClientID string `json:"clientId"`
	Label    string `json:"label"`
}

type helloMessage struct{}

type strokeMessage struct {
	Stroke
}

type clearMessage struct{}

type setRoleMessage struct {
	TargetClientID string `json:"targetClientId"`
	Role           string `json:"role"`
}

type readySetMessage struct {
	Ready bool `json:"ready"`
}

type startTrialMessage struct{}

type decisionMessage struct {
	Decision string `json:"decision"`
}

type voiceMessage struct {
	kind    string
	payload map[string]json.RawMessage
}

type pingMessage struct{}

func (joinMessage) messageType() string       { return "join" }
func (helloMessage) messageType() string      { return "hello" }
func (strokeMessage) messageType() string     { return "draw" }
func (clearMessage) messageType() string      { return "clear" }
func (setRoleMessage) messageType() string    { return "set_role" }
func (readySetMessage) messageType() string   { return "ready_set" }
func (startTrialMessage) messageType() string { return "start_trial" }
func (decisionMessage) messageType() string   { return "decision" }
func (m voiceMessage) messageType() string    { return m.kind }
func (pingMessage) messageType() string       { return "ping" }

const (
	DecisionContinue = "continue"
	DecisionRetry    = "retry"
	DecisionEnd      = "end"
)

var voiceTypes = map[string]struct{}{
	"voice_request":   {},
	"voice_accept":    {},
	"voice_reject":    {},
	"voice_offer":     {},
	"voice_answer":    {},
	"voice_ice":       {},
	"voice_candidate": {},
	"voice_stop":      {},
}

// parseInbound decodes one client frame. Any error means the frame is dropped.
func parseInbound(data []byte) (inboundMessage, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil || head.Type == "" {
		return nil, ErrMalformedMessage
	}

	decode := func(dst any) error {
		if err := json.Unmarshal(data, dst); err != nil {
			return ErrMalformedMessage
		}
		return nil
	}

	switch head.Type {
	case "join":
		var m joinMessage
		if err := decode(&m); err != nil {
			return nil, err
		}
		return m, nil
	case "hello":
		return helloMessage{}, nil
	case "draw", "stroke":
		var m strokeMessage
		if err := decode(&m); err != nil {
			return nil, err
		}
		if isAbsent(m.A) || isAbsent(m.B) {
			return nil, ErrMalformedMessage
		}
		return m, nil
	case "clear":
		return clearMessage{}, nil
	case "set_role":
		var m setRoleMessage
		if err := decode(&m); err != nil {
			return nil, err
		}
		return m, nil
	case "ready_set":
		var m readySetMessage
		if err := decode(&m); err != nil {
			return nil, err
		}
		return m, nil
	case "start_trial":
		return startTrialMessage{}, nil
	case "decision":
		var m decisionMessage
		if err := decode(&m); err != nil {
			return nil, err
		}
		return m, nil
	case DecisionContinue, DecisionRetry, DecisionEnd:
		return decisionMessage{Decision: head.Type}, nil
	case "ping":
		return pingMessage{}, nil
	}

	if _, ok := voiceTypes[head.Type]; ok {
		payload := map[string]json.RawMessage{}
		if err := decode(&payload); err != nil {
			return nil, err
		}
		return voiceMessage{kind: head.Type, payload: payload}, nil
	}

	return nil, ErrUnknownMessageType
}

// Outbound packets.

type userState struct {
	ClientID string `json:"clientId"`
	Color    string `json:"color"`
	Role     Role   `json:"role"`
	Kind     string `json:"kind,omitempty"`
	Ready    bool   `json:"ready"`
}

type roomStatePacket struct {
	Type         string       `json:"type"`
	Visitors     int          `json:"visitors"`
	Users        []userState  `json:"users"`
	SessionState SessionState `json:"sessionState"`
	TrialEndsAt  *int64       `json:"trialEndsAt"`
	OwnerID      *string      `json:"ownerId"`
	ReadyCount   int          `json:"readyCount"`

	// Only set on the copy sent to the member it describes.
	ClientID string `json:"clientId,omitempty"`
	Role     Role   `json:"role,omitempty"`
	Color    string `json:"color,omitempty"`
}

type sessionPacket struct {
	Type         string       `json:"type"`
	SessionState SessionState `json:"sessionState"`
	TrialEndsAt  *int64       `json:"trialEndsAt"`
}

type canvasSnapshotPacket struct {
	Type      string   `json:"type"`
	Strokes   []Stroke `json:"strokes"`
	UpdatedAt int64    `json:"updatedAt"`
}

type drawPacket struct {
	Type string `json:"type"`
	Stroke
}

type typeOnlyPacket struct {
	Type string `json:"type"`
}

type warnPacket struct {
	Type   string `json:"type"`
	Reason string `json:"reason"`
	For    string `json:"for,omitempty"`
}

func encodePacket(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return data
}

func makePacketSession(s *Session) []byte {
	return encodePacket(sessionPacket{Type: "session", SessionState: s.State, TrialEndsAt: s.trialEndsAtMillis()})
}

func makePacketCanvasSnapshot(strokes []Stroke, updatedAt time.Time) []byte {
	if strokes == nil {
		strokes = []Stroke{}
	}
	return encodePacket(canvasSnapshotPacket{Type: "canvas_snapshot", Strokes: strokes, UpdatedAt: updatedAt.UnixMilli()})
}

func makePacketDraw(s Stroke) []byte {
	return encodePacket(drawPacket{Type: "draw", Stroke: s})
}

func makePacketClear() []byte {
	return encodePacket(typeOnlyPacket{Type: "clear"})
}

func makePacketPong() []byte {
	return encodePacket(typeOnlyPacket{Type: "pong"})
}

func makePacketWarn(reason error, forType string) []byte {
	return encodePacket(warnPacket{Type: "warn", Reason: reason.Error(), For: forType})
}

// makePacketVoice stamps the sender onto an otherwise untouched signaling payload.
func makePacketVoice(m voiceMessage, from string) []byte {
	out := make(map[string]json.RawMessage, len(m.payload)+1)
	for k, v := range m.payload {
		out[k] = v
	}
	out["from"], _ = json.Marshal(from)
	return encodePacket(out)
}
