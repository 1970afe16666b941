package board

import (
	"errors"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/soycyj/unline/admission"
	"golang.org/x/time/rate"
)

var clientIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

type HubConfig struct {
	Room RoomConfig

	ClientRate  float64
	ClientBurst int

	// StrictAdmission closes offending sockets instead of warning.
	StrictAdmission bool

	PingPeriod time.Duration
	ReadLimit  int64
}

func DefaultHubConfig() HubConfig {
	return HubConfig{
		Room:        DefaultRoomConfig(),
		ClientRate:  120,
		ClientBurst: 240,
		PingPeriod:  30 * time.Second,
		ReadLimit:   1 << 20,
	}
}

// Hub owns every live connection. It applies admission to inbound frames,
// handles joins and routes everything else to the connection's room.
type Hub struct {
	cfg      HubConfig
	registry *Registry
	gate     Gatekeeper
	clock    Clock
	log      zerolog.Logger

	locker     sync.RWMutex
	handles    map[uint64]*Room
	nextHandle atomic.Uint64
}

func NewHub(cfg HubConfig, registry *Registry, gate Gatekeeper, clock Clock, log zerolog.Logger) *Hub {
	return &Hub{
		cfg:      cfg,
		registry: registry,
		gate:     gate,
		clock:    clock,
		log:      log,
		handles:  make(map[uint64]*Room),
	}
}

func sanitizeClientID(raw string) string {
	raw = strings.TrimSpace(raw)
	if clientIDPattern.MatchString(raw) {
		return raw
	}
	return uuid.NewString()
}

func (h *Hub) NewClient(socket WebsocketConnection, ip, clientID, label string) *Client {
	handle := h.nextHandle.Add(1)
	limiter := rate.NewLimiter(rate.Limit(h.cfg.ClientRate), h.cfg.ClientBurst)
	return newClient(handle, socket, ip, sanitizeClientID(clientID), parseKind(label), limiter, h.log)
}

// Serve runs c until its socket goes away. With a non-empty roomCode the
// client joins that room before its first frame is read.
func (h *Hub) Serve(c *Client, roomCode string) {
	pings, stopPings := h.clock.Ticker(h.cfg.PingPeriod)
	go func() {
		defer stopPings()
		c.WritePump(pings)
	}()

	if roomCode != "" {
		h.join(c, joinMessage{RoomCode: roomCode})
	}
	c.ReadPump(h)
}

func (h *Hub) roomOf(c *Client) *Room {
	h.locker.RLock()
	defer h.locker.RUnlock()
	return h.handles[c.handle]
}

func (h *Hub) dispatch(c *Client, data []byte) {
	if err := h.gate.Allow(c.ip, len(data)); err != nil {
		h.reject(c, err, "")
		return
	}
	if !c.limiter.Allow() {
		h.reject(c, ErrClientRateLimited, "")
		return
	}

	msg, err := parseInbound(data)
	if err != nil {
		c.log.Debug().Err(err).Msg("dropping frame")
		return
	}

	switch msg := msg.(type) {
	case joinMessage:
		h.join(c, msg)
		return
	case pingMessage:
		c.Send(makePacketPong())
		return
	}

	room := h.roomOf(c)
	if room == nil {
		c.Send(makePacketWarn(ErrNotJoined, msg.messageType()))
		return
	}
	if err := room.Send(c.ctx, envelope{msg: msg, handle: c.handle}); err != nil {
		c.log.Debug().Err(err).Msg("room did not take message")
	}
}

// reject applies the admission policy to an offending frame.
func (h *Hub) reject(c *Client, reason error, forType string) {
	if h.cfg.StrictAdmission {
		c.log.Info().Err(reason).Msg("closing connection")
		c.Close(reason.Error())
		return
	}
	now := h.clock.Now()
	if now.Sub(c.lastWarn) < time.Second {
		return
	}
	c.lastWarn = now
	c.Send(makePacketWarn(reason, forType))
}

func (h *Hub) join(c *Client, msg joinMessage) {
	if h.roomOf(c) != nil {
		return
	}

	code, err := admission.NormalizeRoomCode(msg.RoomCode)
	if err != nil {
		c.Send(makePacketWarn(err, "join"))
		return
	}
	if msg.ClientID != "" {
		c.clientID = sanitizeClientID(msg.ClientID)
	}
	if msg.Label != "" {
		c.kind = parseKind(msg.Label)
	}

	room, err := h.registry.Forward(code, joinRequest{peer: c, clientID: c.clientID, kind: c.kind})
	if errors.Is(err, ErrRoomFull) {
		h.reject(c, err, "join")
		return
	}
	if err != nil {
		c.log.Warn().Err(err).Str("room", code).Msg("join failed")
		c.Send(makePacketWarn(err, "join"))
		return
	}

	h.locker.Lock()
	h.handles[c.handle] = room
	h.locker.Unlock()
}

func (h *Hub) disconnect(c *Client) {
	h.gate.Disconnect(c.ip)

	h.locker.Lock()
	room := h.handles[c.handle]
	delete(h.handles, c.handle)
	h.locker.Unlock()

	if room != nil {
		room.RemoveMe(c.handle)
	}
	c.Close("")
}

// Connections reports how many sockets are currently joined to a room.
func (h *Hub) Connections() int {
	h.locker.RLock()
	defer h.locker.RUnlock()
	return len(h.handles)
}
