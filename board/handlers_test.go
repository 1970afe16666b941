package board

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/soycyj/unline/admission"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const testOrigin = "http://localhost:3000"

type handlerFixture struct {
	router   *gin.Engine
	registry *Registry
	clock    *fakeClock
}

func newHandlerFixture(gate Gatekeeper, cfg RoomConfig) handlerFixture {
	gin.SetMode(gin.TestMode)
	clock := newFakeClock()
	hubCfg := DefaultHubConfig()
	hubCfg.Room = cfg
	registry := newTestRegistry(cfg, nil, clock)
	hub := NewHub(hubCfg, registry, gate, clock, zerolog.Nop())
	h := NewHandler(hub, registry, gate, []string{testOrigin}, zerolog.Nop())

	r := gin.New()
	r.GET("/ws", h.RoomSocketHandler)
	r.POST("/api/session/decision", h.SessionDecisionHandler)
	r.GET("/api/rooms/:code", h.RoomStatusHandler)
	return handlerFixture{router: r, registry: registry, clock: clock}
}

func errorBody(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error string `json:"error"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body.Error
}

func TestRoomSocketHandler(t *testing.T) {
	t.Parallel()

	t.Run("Invalid room code", func(t *testing.T) {
		t.Parallel()
		gate := &MockGatekeeper{}
		f := newHandlerFixture(gate, DefaultRoomConfig())

		req := httptest.NewRequest(http.MethodGet, "/ws?room=bad!", nil)
		w := httptest.NewRecorder()
		f.router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "invalid-room-code", errorBody(t, w))
		gate.AssertNotCalled(t, "Connect", mock.Anything)
	})

	t.Run("Too many connections is refused before upgrade", func(t *testing.T) {
		t.Parallel()
		gate := &MockGatekeeper{}
		gate.On("Connect", mock.Anything).Return(admission.ErrTooManyConnections)
		f := newHandlerFixture(gate, DefaultRoomConfig())

		req := httptest.NewRequest(http.MethodGet, "/ws?room=ABCD1", nil)
		w := httptest.NewRecorder()
		f.router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusTooManyRequests, w.Code)
		assert.Equal(t, "too-many-connections", errorBody(t, w))
		assert.Zero(t, f.registry.Len())
	})

	t.Run("Failed upgrade releases the slot", func(t *testing.T) {
		t.Parallel()
		gate := &MockGatekeeper{}
		gate.On("Connect", mock.Anything).Return(nil)
		gate.On("Disconnect", mock.Anything).Return()
		f := newHandlerFixture(gate, DefaultRoomConfig())

		req := httptest.NewRequest(http.MethodGet, "/ws?room=ABCD1", nil)
		w := httptest.NewRecorder()
		f.router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		gate.AssertExpectations(t)
	})
}

func TestWebsocketSession(t *testing.T) {
	t.Parallel()

	gate := admission.NewGate(admission.Config{MaxConnPerIP: 8, MaxMsgBytes: 16 << 10, Window: time.Second, MaxEventsPerWindow: 1000})
	f := newHandlerFixture(gate, DefaultRoomConfig())
	srv := httptest.NewServer(f.router)
	defer srv.Close()

	dial := func(query string) *websocket.Conn {
		url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?" + query
		conn, _, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": {testOrigin}})
		require.NoError(t, err)
		return conn
	}
	readType := func(conn *websocket.Conn, typ string) []byte {
		conn.SetReadDeadline(time.Now().Add(waitFor))
		for {
			_, data, err := conn.ReadMessage()
			require.NoError(t, err)
			if decodeAs[typeOnlyPacket](t, data).Type == typ {
				return data
			}
		}
	}

	alice := dial("room=abcd1&clientId=alice&label=student")
	defer alice.Close()
	welcome := decodeAs[roomStatePacket](t, readType(alice, "room_state"))
	assert.Equal(t, "alice", welcome.ClientID)
	assert.Equal(t, RoleParticipant, welcome.Role)
	readType(alice, "canvas_snapshot")

	bob := dial("room=ABCD1&clientId=bob")
	defer bob.Close()
	readType(bob, "canvas_snapshot")

	require.NoError(t, alice.WriteMessage(websocket.TextMessage, []byte(`{"type":"draw","a":{"x":1},"b":{"x":2}}`)))
	draw := decodeAs[drawPacket](t, readType(bob, "draw"))
	assert.JSONEq(t, `{"x":1}`, string(draw.A))

	require.NoError(t, alice.WriteMessage(websocket.TextMessage, []byte(`{"type":"voice_offer","sdp":"v=0"}`)))
	offer := readType(bob, "voice_offer")
	assert.JSONEq(t, `{"type":"voice_offer","sdp":"v=0","from":"alice"}`, string(offer))

	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/rooms/abcd1", nil))
	require.Equal(t, http.StatusOK, w.Code)
	status := decodeAs[RoomStatus](t, w.Body.Bytes())
	assert.Equal(t, 2, status.Visitors)
	assert.Equal(t, "alice", status.OwnerID)

	bob.Close()
	state := decodeAs[roomStatePacket](t, readType(alice, "room_state"))
	for state.Visitors != 1 {
		state = decodeAs[roomStatePacket](t, readType(alice, "room_state"))
	}
	assert.Len(t, state.Users, 1)

	alice.Close()
	assert.Eventually(t, func() bool { return f.registry.Len() == 0 }, waitFor, tick)
	assert.Eventually(t, func() bool { return gate.ActiveConnections("127.0.0.1") == 0 }, waitFor, tick)
}

func postDecision(f handlerFixture, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/session/decision", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func TestSessionDecisionHandler(t *testing.T) {
	t.Parallel()

	cfg := DefaultRoomConfig()
	cfg.DecisionKind = KindStudent
	f := newHandlerFixture(&MockGatekeeper{}, cfg)

	teacher, student := newRecordingPeer(1), newRecordingPeer(2)
	room, err := f.registry.Forward("ABCD1", joinRequest{peer: teacher, clientID: "T", kind: KindTeacher})
	require.NoError(t, err)
	_, err = f.registry.Forward("ABCD1", joinRequest{peer: student, clientID: "S", kind: KindStudent})
	require.NoError(t, err)
	defer func() {
		room.RemoveMe(1)
		room.RemoveMe(2)
	}()

	testCases := []struct {
		name     string
		body     string
		wantCode int
		wantErr  string
	}{
		{"invalid body", `{"room":`, http.StatusBadRequest, "invalid-body"},
		{"missing fields", `{"room":"ABCD1"}`, http.StatusBadRequest, "invalid-body"},
		{"bad room code", `{"room":"??","decision":"continue","clientId":"S"}`, http.StatusBadRequest, "invalid-room-code"},
		{"unknown room", `{"room":"ZZZZ","decision":"continue","clientId":"S"}`, http.StatusNotFound, "room-not-found"},
		{"unknown member", `{"room":"ABCD1","decision":"continue","clientId":"ghost"}`, http.StatusNotFound, "not-member"},
		{"nothing pending", `{"room":"abcd1","decision":"continue","clientId":"S"}`, http.StatusConflict, "no-decision-pending"},
	}

	for _, tc := range testCases {
		w := postDecision(f, tc.body)
		assert.Equal(t, tc.wantCode, w.Code, tc.name)
		assert.Equal(t, tc.wantErr, errorBody(t, w), tc.name)
	}

	require.NoError(t, room.Send(context.Background(), envelope{msg: readySetMessage{Ready: true}, handle: 1}))
	require.NoError(t, room.Send(context.Background(), envelope{msg: readySetMessage{Ready: true}, handle: 2}))
	assert.Eventually(t, func() bool { return student.count("session") == 2 }, waitFor, tick)
	f.clock.Advance(cfg.TrialDuration)
	assert.Eventually(t, func() bool { return student.count("session") == 3 }, waitFor, tick)

	w := postDecision(f, `{"room":"ABCD1","decision":"maybe","clientId":"S"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "unknown-decision", errorBody(t, w))

	w = postDecision(f, `{"room":"ABCD1","decision":"continue","clientId":"T"}`)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "decision-forbidden", errorBody(t, w))

	w = postDecision(f, `{"room":"ABCD1","decision":"continue","clientId":"S"}`)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"ok":true}`, w.Body.String())

	status, err := room.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, SessionLearning, status.SessionState)
	assert.Equal(t, SessionLearning, lastOf[sessionPacket](t, teacher, "session").SessionState)
}

func TestRoomStatusHandler(t *testing.T) {
	t.Parallel()
	f := newHandlerFixture(&MockGatekeeper{}, DefaultRoomConfig())

	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/rooms/ABCD1", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "room-not-found", errorBody(t, w))

	w = httptest.NewRecorder()
	f.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/rooms/x", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	room, err := f.registry.Forward("ABCD1", joinRequest{peer: newRecordingPeer(1), clientID: "A"})
	require.NoError(t, err)
	defer room.RemoveMe(1)

	w = httptest.NewRecorder()
	f.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/rooms/ABCD1", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"room":"ABCD1","visitors":1,"participants":1,"sessionState":"waiting","trialEndsAt":null,"ownerId":"A"}`, w.Body.String())
}
