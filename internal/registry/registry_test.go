package registry

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTransport struct {
	mu       sync.Mutex
	writes   [][]byte
	writeErr error
	closed   int
}

func (f *fakeTransport) WriteMessage(messageType int, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return f.writeErr
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	f.writes = append(f.writes, cp)
	return nil
}

func (f *fakeTransport) SetWriteDeadline(t time.Time) error { return nil }

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	return nil
}

func (f *fakeTransport) writeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.writes)
}

func (f *fakeTransport) closeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func newTestRegistry() *Registry {
	return New(DefaultConfig(), clockwork.NewFakeClock())
}

func TestConnectReplacesWithoutClosing(t *testing.T) {
	req := require.New(t)
	reg := newTestRegistry()
	userID := uuid.New()

	first := &fakeTransport{}
	old := reg.Connect(first, userID)

	second := &fakeTransport{}
	replacement := reg.Connect(second, userID)

	req.Equal(1, reg.Len(), "one user keeps one entry across reconnects")
	current, ok := reg.Get(userID)
	req.True(ok)
	req.Same(replacement, current)
	req.Equal(0, first.closeCount(), "superseded transport must not be closed by the registry")

	// sends after the replacement land on the new transport only
	reg.Send(userID, []byte("hi"))
	req.Equal(0, first.writeCount())
	req.Equal(1, second.writeCount())

	// the old read loop releasing its stale entry must not evict the
	// replacement
	req.False(reg.Release(old))
	req.True(reg.IsOnline(userID))
}

func TestDisconnectIsIdempotent(t *testing.T) {
	req := require.New(t)
	reg := newTestRegistry()
	userID := uuid.New()
	transport := &fakeTransport{}

	reg.Connect(transport, userID)
	reg.Disconnect(userID)
	req.False(reg.IsOnline(userID))
	req.Equal(1, transport.closeCount())

	reg.Disconnect(userID)
	reg.Disconnect(uuid.New())
	req.Equal(1, transport.closeCount())
	req.Equal(0, reg.Len())
}

func TestSendToAbsentUserIsNoOp(t *testing.T) {
	reg := newTestRegistry()
	reg.Send(uuid.New(), []byte("hello"))
	assert.Equal(t, 0, reg.Len())
}

func TestSendFailureDropsConnection(t *testing.T) {
	req := require.New(t)
	reg := newTestRegistry()
	userID := uuid.New()
	transport := &fakeTransport{writeErr: errors.New("broken pipe")}

	reg.Connect(transport, userID)
	reg.Send(userID, []byte("hello"))

	req.False(reg.IsOnline(userID), "a failed write must evict the entry")
	req.Equal(1, transport.closeCount())

	// further sends to the evicted user are silent no-ops
	reg.Send(userID, []byte("again"))
	req.Equal(1, transport.closeCount())
}

func TestBroadcastExcludes(t *testing.T) {
	req := require.New(t)
	reg := newTestRegistry()

	alice, bob, carol := uuid.New(), uuid.New(), uuid.New()
	at, bt, ct := &fakeTransport{}, &fakeTransport{}, &fakeTransport{}
	reg.Connect(at, alice)
	reg.Connect(bt, bob)
	reg.Connect(ct, carol)

	reg.Broadcast([]byte("announce"), map[uuid.UUID]struct{}{bob: {}})

	req.Equal(1, at.writeCount())
	req.Equal(0, bt.writeCount())
	req.Equal(1, ct.writeCount())
}

func TestBroadcastSurvivesDeadPeer(t *testing.T) {
	req := require.New(t)
	reg := newTestRegistry()

	dead := uuid.New()
	reg.Connect(&fakeTransport{writeErr: errors.New("gone")}, dead)

	live := make([]*fakeTransport, 5)
	for i := range live {
		live[i] = &fakeTransport{}
		reg.Connect(live[i], uuid.New())
	}

	reg.Broadcast([]byte("announce"), nil)

	req.False(reg.IsOnline(dead))
	for _, tr := range live {
		req.Equal(1, tr.writeCount())
	}
}

func TestOnlineUsersSnapshot(t *testing.T) {
	req := require.New(t)
	reg := newTestRegistry()

	alice, bob := uuid.New(), uuid.New()
	reg.Connect(&fakeTransport{}, alice)
	reg.Connect(&fakeTransport{}, bob)

	users := reg.OnlineUsers()
	req.Len(users, 2)
	req.Contains(users, alice)
	req.Contains(users, bob)

	// mutating the snapshot must not touch the registry
	delete(users, alice)
	req.True(reg.IsOnline(alice))
}

func TestSendToTargetsExactConnection(t *testing.T) {
	req := require.New(t)
	reg := newTestRegistry()
	userID := uuid.New()

	stale := &fakeTransport{}
	staleConn := reg.Connect(stale, userID)
	fresh := &fakeTransport{}
	reg.Connect(fresh, userID)

	reg.SendTo(staleConn, []byte("error reply"))
	req.Equal(1, stale.writeCount())
	req.Equal(0, fresh.writeCount())
}

func TestConcurrentConnectSendDisconnect(t *testing.T) {
	reg := newTestRegistry()
	users := make([]uuid.UUID, 20)
	for i := range users {
		users[i] = uuid.New()
	}

	var wg sync.WaitGroup
	for _, userID := range users {
		wg.Add(1)
		go func(id uuid.UUID) {
			defer wg.Done()
			reg.Connect(&fakeTransport{}, id)
			reg.Send(id, []byte("x"))
			reg.Broadcast([]byte("y"), nil)
			reg.Disconnect(id)
		}(userID)
	}
	wg.Wait()

	assert.Equal(t, 0, reg.Len())
}
