package board

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// --- WebsocketConnection ---

type MockWebsocketConnection struct {
	mock.Mock
}

func (m *MockWebsocketConnection) Close(errCode string) {
	m.Called(errCode)
}

func (m *MockWebsocketConnection) Write(data []byte) error {
	args := m.Called(data)
	return args.Error(0)
}

func (m *MockWebsocketConnection) Read() ([]byte, error) {
	args := m.Called()
	return args.Get(0).([]byte), args.Error(1)
}

func (m *MockWebsocketConnection) Ping() error {
	args := m.Called()
	return args.Error(0)
}

// chanSocket is a WebsocketConnection fed and observed through channels.
type chanSocket struct {
	frames    chan []byte
	written   chan []byte
	closed    chan struct{}
	closeOnce sync.Once
}

func newChanSocket() *chanSocket {
	return &chanSocket{
		frames:  make(chan []byte),
		written: make(chan []byte, 64),
		closed:  make(chan struct{}),
	}
}

func (cs *chanSocket) Read() ([]byte, error) {
	select {
	case data, ok := <-cs.frames:
		if !ok {
			return nil, io.EOF
		}
		return data, nil
	case <-cs.closed:
		return nil, io.EOF
	}
}

func (cs *chanSocket) Write(data []byte) error {
	select {
	case cs.written <- data:
		return nil
	case <-cs.closed:
		return io.ErrClosedPipe
	}
}

func (cs *chanSocket) Ping() error {
	return nil
}

func (cs *chanSocket) Close(errCode string) {
	cs.closeOnce.Do(func() { close(cs.closed) })
}

func (cs *chanSocket) isClosed() bool {
	select {
	case <-cs.closed:
		return true
	default:
		return false
	}
}

// --- SnapshotStore ---

type MockSnapshotStore struct {
	mock.Mock
}

func (m *MockSnapshotStore) Get(ctx context.Context, key string) ([]byte, error) {
	args := m.Called(ctx, key)
	data, _ := args.Get(0).([]byte)
	return data, args.Error(1)
}

func (m *MockSnapshotStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	args := m.Called(ctx, key, value, ttl)
	return args.Error(0)
}

func (m *MockSnapshotStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	args := m.Called(ctx, key, ttl)
	return args.Error(0)
}

// --- Gatekeeper ---

type MockGatekeeper struct {
	mock.Mock
}

func (m *MockGatekeeper) Connect(ip string) error {
	args := m.Called(ip)
	return args.Error(0)
}

func (m *MockGatekeeper) Disconnect(ip string) {
	m.Called(ip)
}

func (m *MockGatekeeper) Allow(ip string, size int) error {
	args := m.Called(ip, size)
	return args.Error(0)
}

// --- dispatcher ---

type recordingDispatcher struct {
	locker       sync.Mutex
	frames       [][]byte
	disconnected int
}

func (d *recordingDispatcher) dispatch(c *Client, data []byte) {
	d.locker.Lock()
	defer d.locker.Unlock()
	d.frames = append(d.frames, data)
}

func (d *recordingDispatcher) disconnect(c *Client) {
	d.locker.Lock()
	defer d.locker.Unlock()
	d.disconnected++
}

// --- Peer ---

type recordingPeer struct {
	handle uint64

	locker      sync.Mutex
	packets     [][]byte
	sendErr     error
	closed      bool
	closeReason string
}

func newRecordingPeer(handle uint64) *recordingPeer {
	return &recordingPeer{handle: handle}
}

func (p *recordingPeer) Handle() uint64 {
	return p.handle
}

func (p *recordingPeer) Send(data []byte) error {
	p.locker.Lock()
	defer p.locker.Unlock()
	if p.sendErr != nil {
		return p.sendErr
	}
	p.packets = append(p.packets, data)
	return nil
}

func (p *recordingPeer) Close(reason string) {
	p.locker.Lock()
	defer p.locker.Unlock()
	p.closed = true
	p.closeReason = reason
}

func (p *recordingPeer) isClosed() (bool, string) {
	p.locker.Lock()
	defer p.locker.Unlock()
	return p.closed, p.closeReason
}

func (p *recordingPeer) reset() {
	p.locker.Lock()
	defer p.locker.Unlock()
	p.packets = nil
}

// ofType returns the raw packets whose "type" field equals typ.
func (p *recordingPeer) ofType(typ string) [][]byte {
	p.locker.Lock()
	defer p.locker.Unlock()
	var out [][]byte
	for _, data := range p.packets {
		var head struct {
			Type string `json:"type"`
		}
		if json.Unmarshal(data, &head) == nil && head.Type == typ {
			out = append(out, data)
		}
	}
	return out
}

func (p *recordingPeer) count(typ string) int {
	return len(p.ofType(typ))
}

func decodeAs[T any](t *testing.T, data []byte) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(data, &v))
	return v
}

func lastOf[T any](t *testing.T, p *recordingPeer, typ string) T {
	t.Helper()
	packets := p.ofType(typ)
	require.NotEmpty(t, packets, "no %s packet received", typ)
	return decodeAs[T](t, packets[len(packets)-1])
}

// --- Clock ---

type fakeTimer struct {
	clock   *fakeClock
	at      time.Time
	f       func()
	stopped bool
	fired   bool
}

func (ft *fakeTimer) Stop() bool {
	ft.clock.locker.Lock()
	defer ft.clock.locker.Unlock()
	active := !ft.stopped && !ft.fired
	ft.stopped = true
	return active
}

// fakeClock only moves on Advance. Timer callbacks run on the caller's
// goroutine. Ticker returns ticks, nil unless a test sets it.
type fakeClock struct {
	locker sync.Mutex
	now    time.Time
	timers []*fakeTimer
	ticks  chan time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.UnixMilli(1_700_000_000_000)}
}

func (fc *fakeClock) Now() time.Time {
	fc.locker.Lock()
	defer fc.locker.Unlock()
	return fc.now
}

func (fc *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	fc.locker.Lock()
	defer fc.locker.Unlock()
	ft := &fakeTimer{clock: fc, at: fc.now.Add(d), f: f}
	fc.timers = append(fc.timers, ft)
	return ft
}

func (fc *fakeClock) Ticker(d time.Duration) (<-chan time.Time, func()) {
	return fc.ticks, func() {}
}

func (fc *fakeClock) Advance(d time.Duration) {
	fc.locker.Lock()
	fc.now = fc.now.Add(d)
	var due []*fakeTimer
	for _, ft := range fc.timers {
		if !ft.stopped && !ft.fired && !fc.now.Before(ft.at) {
			ft.fired = true
			due = append(due, ft)
		}
	}
	fc.locker.Unlock()

	for _, ft := range due {
		ft.f()
	}
}

func (fc *fakeClock) pendingTimers() int {
	fc.locker.Lock()
	defer fc.locker.Unlock()
	n := 0
	for _, ft := range fc.timers {
		if !ft.stopped && !ft.fired {
			n++
		}
	}
	return n
}
