package admission

import (
	"regexp"
	"strings"
	"sync"
	"time"
)

var roomCodePattern = regexp.MustCompile(`^[A-Z0-9]{4,8}$`)

// NormalizeRoomCode trims and upper-cases a client supplied code and reports
// whether the result is a valid room code.
func NormalizeRoomCode(raw string) (string, error) {
	code := strings.ToUpper(strings.TrimSpace(raw))
	if !roomCodePattern.MatchString(code) {
		return "", ErrInvalidRoomCode
	}
	return code, nil
}

type Config struct {
	MaxConnPerIP       int
	MaxMsgBytes        int
	Window             time.Duration
	MaxEventsPerWindow int
}

type ipState struct {
	active      int
	windowStart time.Time
	events      int
	lastSeen    time.Time
}

// Gate keeps per source address counters. Entries are created lazily and can
// be evicted by SweepIdle at any time without affecting correctness.
type Gate struct {
	locker sync.Mutex
	ips    map[string]*ipState
	cfg    Config
	now    func() time.Time
}

func NewGate(cfg Config) *Gate {
	return &Gate{
		ips: make(map[string]*ipState),
		cfg: cfg,
		now: time.Now,
	}
}

func (g *Gate) stateLocked(ip string) *ipState {
	st, ok := g.ips[ip]
	if !ok {
		st = &ipState{windowStart: g.now()}
		g.ips[ip] = st
	}
	st.lastSeen = g.now()
	return st
}

// Connect registers a new connection from ip, refusing it once the address
// already holds MaxConnPerIP live connections.
func (g *Gate) Connect(ip string) error {
	g.locker.Lock()
	defer g.locker.Unlock()

	st := g.stateLocked(ip)
	if g.cfg.MaxConnPerIP > 0 && st.active >= g.cfg.MaxConnPerIP {
		return ErrTooManyConnections
	}
	st.active++
	return nil
}

func (g *Gate) Disconnect(ip string) {
	g.locker.Lock()
	defer g.locker.Unlock()

	st, ok := g.ips[ip]
	if !ok {
		return
	}
	if st.active > 0 {
		st.active--
	}
	st.lastSeen = g.now()
}

// Allow accounts one inbound message of size bytes from ip.
func (g *Gate) Allow(ip string, size int) error {
	if g.cfg.MaxMsgBytes > 0 && size > g.cfg.MaxMsgBytes {
		return ErrMessageTooLarge
	}

	g.locker.Lock()
	defer g.locker.Unlock()

	st := g.stateLocked(ip)
	now := st.lastSeen
	if now.Sub(st.windowStart) >= g.cfg.Window {
		st.windowStart = now
		st.events = 0
	}
	st.events++
	if g.cfg.MaxEventsPerWindow > 0 && st.events > g.cfg.MaxEventsPerWindow {
		return ErrRateLimited
	}
	return nil
}

// SweepIdle drops entries with no live connection whose rate window has
// expired and returns how many were removed.
func (g *Gate) SweepIdle() int {
	g.locker.Lock()
	defer g.locker.Unlock()

	now := g.now()
	removed := 0
	for ip, st := range g.ips {
		if st.active == 0 && now.Sub(st.windowStart) >= g.cfg.Window && now.Sub(st.lastSeen) >= g.cfg.Window {
			delete(g.ips, ip)
			removed++
		}
	}
	return removed
}

// ActiveConnections is the live connection count recorded for ip.
func (g *Gate) ActiveConnections(ip string) int {
	g.locker.Lock()
	defer g.locker.Unlock()

	if st, ok := g.ips[ip]; ok {
		return st.active
	}
	return 0
}
