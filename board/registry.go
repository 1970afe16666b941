package board

import (
	"context"
	"sync"
)

type RoomFactory func(code string) *Room

// Registry maps room codes to live rooms. Rooms are created on first
// join and remove themselves once empty.
type Registry struct {
	locker  sync.Mutex
	rooms   map[string]*Room
	newRoom RoomFactory
	closed  bool
}

func NewRegistry(factory RoomFactory) *Registry {
	return &Registry{
		rooms:   make(map[string]*Room),
		newRoom: factory,
	}
}

func (reg *Registry) GetOrCreate(code string) *Room {
	reg.locker.Lock()
	defer reg.locker.Unlock()
	return reg.getOrCreate(code)
}

func (reg *Registry) getOrCreate(code string) *Room {
	if r, ok := reg.rooms[code]; ok {
		return r
	}
	r := reg.newRoom(code)
	r.parent = reg
	reg.rooms[code] = r
	go r.Run()
	return r
}

func (reg *Registry) Lookup(code string) (*Room, bool) {
	reg.locker.Lock()
	defer reg.locker.Unlock()
	r, ok := reg.rooms[code]
	return r, ok
}

func (reg *Registry) Len() int {
	reg.locker.Lock()
	defer reg.locker.Unlock()
	return len(reg.rooms)
}

// Forward resolves the room for code and hands it the join. The pending
// counter is raised under the registry lock so the room cannot be
// released while the join is in flight.
func (reg *Registry) Forward(code string, req joinRequest) (*Room, error) {
	reg.locker.Lock()
	if reg.closed {
		reg.locker.Unlock()
		return nil, ErrShuttingDown
	}
	r := reg.getOrCreate(code)
	r.pending.Add(1)
	reg.locker.Unlock()

	req.reply = make(chan error, 1)
	select {
	case r.joinRequests <- req:
	case <-r.ctx.Done():
		return nil, ErrRoomClosed
	}

	// not cancellable by the caller: an abandoned accepted join would leave
	// a ghost member. Only a stopped room gives up on it.
	select {
	case err := <-req.reply:
		if err != nil {
			return nil, err
		}
		return r, nil
	case <-r.ctx.Done():
		return nil, ErrRoomClosed
	}
}

// Delete is called by an empty room asking to be released. It refuses
// while joins are pending.
func (reg *Registry) Delete(r *Room) bool {
	reg.locker.Lock()
	defer reg.locker.Unlock()
	if r.pending.Load() > 0 {
		return false
	}
	if cur, ok := reg.rooms[r.code]; ok && cur == r {
		delete(reg.rooms, r.code)
	}
	return true
}

// Close stops every live room, flushing its ledger, and refuses new joins.
// It waits for the room actors until ctx is done.
func (reg *Registry) Close(ctx context.Context) error {
	reg.locker.Lock()
	reg.closed = true
	rooms := make([]*Room, 0, len(reg.rooms))
	for _, r := range reg.rooms {
		rooms = append(rooms, r)
	}
	clear(reg.rooms)
	reg.locker.Unlock()

	for _, r := range rooms {
		r.Stop()
	}
	for _, r := range rooms {
		select {
		case <-r.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}
