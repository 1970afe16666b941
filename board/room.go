package board

import (
	"context"
	"errors"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/soycyj/unline/domain"
)

type member struct {
	clientID string
	peer     Peer
	role     Role
	color    string
	kind     string
	ready    bool
	joinedAt time.Time
	seq      uint64
}

type joinRequest struct {
	peer     Peer
	clientID string
	kind     string
	reply    chan error
}

// envelope carries one inbound message into the room. Socket traffic is
// identified by handle, HTTP traffic by clientID and waits on reply.
type envelope struct {
	msg      inboundMessage
	handle   uint64
	clientID string
	reply    chan error
}

type removal struct {
	handle uint64
	done   chan struct{}
}

type Room struct {
	code   string
	cfg    RoomConfig
	log    zerolog.Logger
	clock  Clock
	store  SnapshotStore
	parent roomParent

	members  map[string]*member
	order    []string
	byHandle map[uint64]string
	ownerID  string
	seq      uint64

	ledger      *Ledger
	session     *Session
	expiryTimer Timer

	// joins forwarded by the registry and not yet handled
	pending atomic.Int32

	joinRequests   chan joinRequest
	inbox          chan envelope
	removals       chan removal
	expiries       chan uint64
	statusRequests chan chan RoomStatus
	stopping       chan struct{}
	stopOnce       sync.Once

	ctx    context.Context
	cancel context.CancelFunc
}

// NewRoom builds an idle room. store may be nil, the ledger is then memory only.
func NewRoom(code string, cfg RoomConfig, store SnapshotStore, clock Clock, log zerolog.Logger) *Room {
	ctx, cancel := context.WithCancel(context.Background())
	return &Room{
		code:           code,
		cfg:            cfg,
		log:            log.With().Str("room", code).Logger(),
		clock:          clock,
		store:          store,
		members:        make(map[string]*member),
		order:          make([]string, 0, cfg.MaxClients),
		byHandle:       make(map[uint64]string),
		ledger:         NewLedger(cfg.LedgerCap, cfg.LedgerTrimTo),
		session:        newSession(),
		joinRequests:   make(chan joinRequest, 16),
		inbox:          make(chan envelope, 1024),
		removals:       make(chan removal, 64),
		expiries:       make(chan uint64, 8),
		statusRequests: make(chan chan RoomStatus, 16),
		stopping:       make(chan struct{}),
		ctx:            ctx,
		cancel:         cancel,
	}
}

func (r *Room) Code() string {
	return r.code
}

// Run is the room actor. It returns once the room is empty and the
// registry agreed to release it.
func (r *Room) Run() {
	defer r.cancel()

	r.activate()

	flushes, stopFlushes := r.clock.Ticker(r.cfg.FlushInterval)
	defer stopFlushes()

	for {
		if len(r.members) == 0 && r.tryRelease() {
			return
		}

		select {
		case req := <-r.joinRequests:
			r.handleJoinRequest(req)
		case env := <-r.inbox:
			r.handleEnvelope(env)
		case rm := <-r.removals:
			r.handleRemoval(rm.handle)
			close(rm.done)
		case gen := <-r.expiries:
			r.handleTrialExpiry(gen)
		case <-flushes:
			r.flush()
		case resp := <-r.statusRequests:
			resp <- r.status()
		case <-r.stopping:
			r.stop()
			return
		}
	}
}

func (r *Room) activate() {
	if r.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.StoreTimeout)
	defer cancel()

	key := snapshotKey(r.code)
	data, err := r.store.Get(ctx, key)
	if errors.Is(err, domain.ErrSnapshotNotFound) {
		return
	}
	if err != nil {
		r.log.Warn().Err(err).Msg("snapshot load failed, starting empty")
		return
	}

	strokes, updatedAt, err := DecodeSnapshot(data)
	if err != nil {
		r.log.Warn().Err(err).Msg("discarding unreadable snapshot")
		return
	}
	if r.ledger.Seed(strokes, updatedAt) {
		r.log.Debug().Int("strokes", r.ledger.Len()).Msg("ledger seeded")
	}

	if err := r.store.Expire(ctx, key, r.cfg.SnapshotTTL); err != nil && !errors.Is(err, domain.ErrSnapshotNotFound) {
		r.log.Warn().Err(err).Msg("snapshot ttl refresh failed")
	}
}

func (r *Room) tryRelease() bool {
	r.flush()
	if r.parent != nil && !r.parent.Delete(r) {
		return false
	}
	if r.expiryTimer != nil {
		r.expiryTimer.Stop()
		r.expiryTimer = nil
	}
	r.log.Debug().Msg("room released")
	return true
}

// stop ends the room on server shutdown. The ledger is flushed and every
// member is closed.
func (r *Room) stop() {
	r.flush()
	if r.expiryTimer != nil {
		r.expiryTimer.Stop()
		r.expiryTimer = nil
	}
	for _, id := range r.order {
		r.members[id].peer.Close(ErrShuttingDown.Error())
	}
	r.log.Info().Int("visitors", len(r.members)).Msg("room stopped")
}

func (r *Room) handleJoinRequest(req joinRequest) {
	r.pending.Add(-1)
	now := r.clock.Now()

	if m, ok := r.members[req.clientID]; ok {
		old := m.peer
		delete(r.byHandle, old.Handle())
		m.peer = req.peer
		r.byHandle[req.peer.Handle()] = m.clientID
		req.reply <- nil

		old.Close(ErrReplaced.Error())
		r.log.Info().Str("client", m.clientID).Msg("connection replaced")
		r.welcome(m)
		r.broadcastRoomState(m.clientID)
		return
	}

	if len(r.members) >= r.cfg.MaxClients {
		req.reply <- ErrRoomFull
		return
	}

	r.seq++
	m := &member{
		clientID: req.clientID,
		peer:     req.peer,
		role:     r.assignRole(),
		color:    pickColor(req.clientID),
		kind:     req.kind,
		joinedAt: now,
		seq:      r.seq,
	}
	r.members[m.clientID] = m
	r.order = append(r.order, m.clientID)
	r.byHandle[req.peer.Handle()] = m.clientID
	r.electOwner()
	req.reply <- nil

	r.log.Info().Str("client", m.clientID).Str("role", string(m.role)).Int("visitors", len(r.members)).Msg("joined")
	r.welcome(m)
	r.broadcastRoomState(m.clientID)
}

func (r *Room) handleRemoval(handle uint64) {
	id, ok := r.byHandle[handle]
	if !ok {
		return
	}
	delete(r.byHandle, handle)

	m := r.members[id]
	delete(r.members, id)
	r.order = slices.DeleteFunc(r.order, func(s string) bool { return s == id })

	if m.role == RoleParticipant {
		r.promote()
	}
	r.electOwner()
	changed := r.recomputeSession()

	r.log.Info().Str("client", id).Int("visitors", len(r.members)).Msg("left")
	if !changed {
		r.broadcastRoomState("")
	}
}

func (r *Room) resolve(env envelope) (*member, error) {
	if env.clientID != "" {
		if m, ok := r.members[env.clientID]; ok {
			return m, nil
		}
		return nil, ErrNotMember
	}
	if id, ok := r.byHandle[env.handle]; ok {
		return r.members[id], nil
	}
	return nil, ErrNotMember
}

func (r *Room) handleEnvelope(env envelope) {
	m, err := r.resolve(env)
	if err == nil {
		err = r.dispatch(m, env.msg)
	}

	if env.reply != nil {
		env.reply <- err
		return
	}
	if err != nil && m != nil {
		r.sendTo(m, makePacketWarn(err, env.msg.messageType()))
	}
}

func (r *Room) dispatch(m *member, msg inboundMessage) error {
	switch msg := msg.(type) {
	case helloMessage:
		r.welcome(m)
		return nil
	case strokeMessage:
		return r.handleStroke(m, msg)
	case clearMessage:
		return r.handleClear(m)
	case setRoleMessage:
		return r.handleSetRole(m, msg)
	case readySetMessage:
		return r.handleReadySet(m, msg)
	case startTrialMessage:
		return r.handleStartTrial(m)
	case decisionMessage:
		return r.handleDecision(m, msg)
	case voiceMessage:
		return r.handleVoice(m, msg)
	}
	return ErrUnknownMessageType
}

func (r *Room) handleStroke(m *member, msg strokeMessage) error {
	if m.role != RoleParticipant {
		return ErrNotParticipant
	}
	s := msg.Stroke
	if s.Mode == "" {
		s.Mode = "pen"
	}
	if s.Color == "" {
		s.Color = m.color
	}
	if s.W <= 0 {
		s.W = 3
	}

	if trimmed := r.ledger.Append(s, r.clock.Now()); trimmed > 0 {
		r.log.Debug().Int("dropped", trimmed).Msg("ledger trimmed")
	}
	r.broadcast(makePacketDraw(s), "")
	return nil
}

func (r *Room) handleClear(m *member) error {
	if m.role != RoleParticipant {
		return ErrNotParticipant
	}
	r.ledger.Clear(r.clock.Now())
	r.broadcast(makePacketClear(), "")
	r.flush()
	return nil
}

func (r *Room) handleReadySet(m *member, msg readySetMessage) error {
	if m.role != RoleParticipant {
		return ErrNotParticipant
	}
	if m.ready == msg.Ready {
		return nil
	}
	m.ready = msg.Ready
	if !r.recomputeSession() {
		r.broadcastRoomState("")
	}
	return nil
}

func (r *Room) handleStartTrial(m *member) error {
	if m.clientID != r.ownerID {
		return ErrNotOwner
	}
	if err := r.session.startByOwner(r.clock.Now(), r.cfg.TrialDuration); err != nil {
		return err
	}
	r.sessionChanged()
	return nil
}

func (r *Room) handleDecision(m *member, msg decisionMessage) error {
	if m.role != RoleParticipant {
		return ErrNotParticipant
	}
	if r.cfg.DecisionKind != "" && m.kind != r.cfg.DecisionKind {
		return ErrDecisionForbidden
	}

	changed, reset, err := r.session.decide(msg.Decision, r.cfg.DecisionResets)
	if err != nil {
		return err
	}
	if reset {
		for _, p := range r.members {
			p.ready = false
		}
	}
	if changed {
		r.log.Info().Str("client", m.clientID).Str("decision", msg.Decision).Msg("session decided")
		r.sessionChanged()
	}
	return nil
}

// recomputeSession reports whether the session moved, in which case
// room_state has already been broadcast.
func (r *Room) recomputeSession() bool {
	if !r.session.recompute(r.readyCount(), r.cfg.Quorum, r.clock.Now(), r.cfg.TrialDuration) {
		return false
	}
	r.sessionChanged()
	return true
}

func (r *Room) sessionChanged() {
	r.syncExpiryTimer()
	r.log.Debug().Str("state", string(r.session.State)).Msg("session changed")
	r.broadcast(makePacketSession(r.session), "")
	r.broadcastRoomState("")
}

func (r *Room) syncExpiryTimer() {
	if r.expiryTimer != nil {
		r.expiryTimer.Stop()
		r.expiryTimer = nil
	}
	if r.session.State != SessionTrialRunning {
		return
	}
	r.scheduleExpiry(r.session.generation, r.session.TrialEndsAt.Sub(r.clock.Now()))
}

func (r *Room) scheduleExpiry(gen uint64, d time.Duration) {
	if d < 0 {
		d = 0
	}
	r.expiryTimer = r.clock.AfterFunc(d, func() {
		select {
		case r.expiries <- gen:
		case <-r.ctx.Done():
		}
	})
}

func (r *Room) handleTrialExpiry(gen uint64) {
	now := r.clock.Now()
	switch r.session.expire(gen, now) {
	case expiryEarly:
		r.scheduleExpiry(gen, r.session.TrialEndsAt.Sub(now))
	case expiryEnded:
		r.expiryTimer = nil
		r.log.Info().Msg("trial ended")
		r.broadcast(makePacketSession(r.session), "")
		r.broadcastRoomState("")
	}
}

func (r *Room) flush() {
	if r.store == nil || !r.ledger.Dirty() {
		return
	}
	data, err := EncodeSnapshot(r.ledger.strokes, r.ledger.UpdatedAt())
	if err != nil {
		r.log.Error().Err(err).Msg("snapshot encode failed")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.StoreTimeout)
	defer cancel()
	if err := r.store.Set(ctx, snapshotKey(r.code), data, r.cfg.SnapshotTTL); err != nil {
		r.log.Warn().Err(err).Msg("snapshot save failed, will retry")
		return
	}
	r.ledger.MarkClean()
}

func (r *Room) status() RoomStatus {
	return RoomStatus{
		Code:         r.code,
		Visitors:     len(r.members),
		Participants: r.participantCount(),
		SessionState: r.session.State,
		TrialEndsAt:  r.session.trialEndsAtMillis(),
		OwnerID:      r.ownerID,
	}
}

// Send hands env to the room actor.
func (r *Room) Send(ctx context.Context, env envelope) error {
	if r.ctx.Err() != nil {
		return ErrRoomClosed
	}
	select {
	case r.inbox <- env:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-r.ctx.Done():
		return ErrRoomClosed
	}
}

// RemoveMe detaches the connection with the given handle and waits until
// the room has rebalanced roles and announced the departure.
func (r *Room) RemoveMe(handle uint64) {
	done := make(chan struct{})
	select {
	case r.removals <- removal{handle: handle, done: done}:
	case <-r.ctx.Done():
		return
	}
	select {
	case <-done:
	case <-r.ctx.Done():
	}
}

// Decide applies a session decision on behalf of a member, outside of its socket.
func (r *Room) Decide(ctx context.Context, clientID, decision string) error {
	if clientID == "" {
		return ErrNotMember
	}
	reply := make(chan error, 1)
	env := envelope{msg: decisionMessage{Decision: decision}, clientID: clientID, reply: reply}
	if err := r.Send(ctx, env); err != nil {
		return err
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-r.ctx.Done():
		return ErrRoomClosed
	}
}

func (r *Room) Status(ctx context.Context) (RoomStatus, error) {
	if r.ctx.Err() != nil {
		return RoomStatus{}, ErrRoomClosed
	}
	resp := make(chan RoomStatus, 1)
	select {
	case r.statusRequests <- resp:
	case <-ctx.Done():
		return RoomStatus{}, ctx.Err()
	case <-r.ctx.Done():
		return RoomStatus{}, ErrRoomClosed
	}
	select {
	case st := <-resp:
		return st, nil
	case <-ctx.Done():
		return RoomStatus{}, ctx.Err()
	case <-r.ctx.Done():
		return RoomStatus{}, ErrRoomClosed
	}
}

// Stop asks the actor to flush and exit. It does not wait, see Done.
func (r *Room) Stop() {
	r.stopOnce.Do(func() { close(r.stopping) })
}

// Done is closed once the room actor has exited.
func (r *Room) Done() <-chan struct{} {
	return r.ctx.Done()
}
