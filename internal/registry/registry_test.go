package registry

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"collabstore/internal/store"
)

type fakePeer struct {
	mu   sync.Mutex
	msgs [][]byte
	full bool
}

func (p *fakePeer) Send(msg []byte) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.full {
		return false
	}
	p.msgs = append(p.msgs, msg)
	return true
}

func (p *fakePeer) received() [][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([][]byte(nil), p.msgs...)
}

func memOpener() store.Opener {
	return func(string) (store.TransactionLog, error) { return store.NewMemoryLog(), nil }
}

func newTestRegistry(relay Relay) *Registry {
	return New(memOpener(), relay, zerolog.Nop())
}

func TestGetOrCreateReturnsSameEntry(t *testing.T) {
	r := newTestRegistry(nil)
	a, err := r.GetOrCreate("doc1")
	require.NoError(t, err)
	b, err := r.GetOrCreate("doc1")
	require.NoError(t, err)
	assert.Same(t, a, b)

	c, err := r.GetOrCreate("doc2")
	require.NoError(t, err)
	assert.NotSame(t, a, c)
}

func TestGetOrCreateOpensLogOnce(t *testing.T) {
	var mu sync.Mutex
	opens := 0
	r := New(func(string) (store.TransactionLog, error) {
		mu.Lock()
		opens++
		mu.Unlock()
		return store.NewMemoryLog(), nil
	}, nil, zerolog.Nop())

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := r.GetOrCreate("doc1")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, opens)
}

func TestGetOrCreateDoesNotBlockOtherKeys(t *testing.T) {
	block := make(chan struct{})
	started := make(chan struct{})
	r := New(func(key string) (store.TransactionLog, error) {
		if key == "slow" {
			close(started)
			<-block
		}
		return store.NewMemoryLog(), nil
	}, nil, zerolog.Nop())
	defer close(block)

	go r.GetOrCreate("slow")
	<-started

	// a stalled open for one key must not serialize other keys behind it
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, err := r.GetOrCreate("fast")
		assert.NoError(t, err)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("GetOrCreate for an unrelated key stalled behind a slow open")
	}
}

func TestGetOrCreateRetriesAfterFailedOpen(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	r := New(func(string) (store.TransactionLog, error) {
		mu.Lock()
		defer mu.Unlock()
		calls++
		if calls == 1 {
			return nil, errors.New("backend unavailable")
		}
		return store.NewMemoryLog(), nil
	}, nil, zerolog.Nop())

	_, err := r.GetOrCreate("doc1")
	require.Error(t, err)

	// a failed open is not sticky; the next connection opens the log
	e, err := r.GetOrCreate("doc1")
	require.NoError(t, err)
	require.NotNil(t, e.Log)
	assert.Equal(t, 2, calls)
}

func TestAllocateIDStrictlyIncreasing(t *testing.T) {
	r := newTestRegistry(nil)
	e, err := r.GetOrCreate("doc1")
	require.NoError(t, err)

	assert.Equal(t, int64(1), e.AllocateID())
	assert.Equal(t, int64(2), e.AllocateID())
	assert.Equal(t, int64(3), e.AllocateID())
}

func TestAllocateIDUniqueUnderConcurrency(t *testing.T) {
	r := newTestRegistry(nil)
	e, err := r.GetOrCreate("doc1")
	require.NoError(t, err)

	const n = 200
	ids := make(chan int64, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ids <- e.AllocateID()
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[int64]bool, n)
	var max int64
	for id := range ids {
		assert.False(t, seen[id], "id %d allocated twice", id)
		seen[id] = true
		if id > max {
			max = id
		}
	}
	assert.Len(t, seen, n)
	assert.Equal(t, int64(n), max)
}

func TestAllocateIDIsPerKey(t *testing.T) {
	r := newTestRegistry(nil)
	a, err := r.GetOrCreate("docA")
	require.NoError(t, err)
	b, err := r.GetOrCreate("docB")
	require.NoError(t, err)

	assert.Equal(t, int64(1), a.AllocateID())
	assert.Equal(t, int64(1), b.AllocateID())
}

func TestDeregisterIdempotent(t *testing.T) {
	r := newTestRegistry(nil)
	e, err := r.GetOrCreate("doc1")
	require.NoError(t, err)

	p, stranger := &fakePeer{}, &fakePeer{}
	e.Register(p)
	e.Deregister(stranger) // never registered
	e.Deregister(p)
	e.Deregister(p) // already gone

	assert.Empty(t, e.PeersExcept(nil))
}

func TestBroadcastExcludesOrigin(t *testing.T) {
	r := newTestRegistry(nil)
	e, err := r.GetOrCreate("doc1")
	require.NoError(t, err)

	origin, p1, p2 := &fakePeer{}, &fakePeer{}, &fakePeer{}
	e.Register(origin)
	e.Register(p1)
	e.Register(p2)

	msg := []byte(`{"msgId":"m2"}`)
	e.Broadcast(origin, msg)

	assert.Empty(t, origin.received())
	require.Len(t, p1.received(), 1)
	require.Len(t, p2.received(), 1)
	assert.Equal(t, msg, p1.received()[0])
}

func TestBroadcastSurvivesStalledPeer(t *testing.T) {
	r := newTestRegistry(nil)
	e, err := r.GetOrCreate("doc1")
	require.NoError(t, err)

	stalled := &fakePeer{full: true}
	healthy := &fakePeer{}
	e.Register(stalled)
	e.Register(healthy)

	e.Broadcast(nil, []byte("x"))
	assert.Len(t, healthy.received(), 1)
	assert.Empty(t, stalled.received())
}

type fakeRelay struct {
	mu        sync.Mutex
	published map[string][][]byte
	deliver   map[string]func([]byte)
}

func newFakeRelay() *fakeRelay {
	return &fakeRelay{
		published: make(map[string][][]byte),
		deliver:   make(map[string]func([]byte)),
	}
}

func (f *fakeRelay) Publish(key string, msg []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published[key] = append(f.published[key], msg)
	return nil
}

func (f *fakeRelay) Subscribe(key string, deliver func([]byte)) (func(), error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deliver[key] = deliver
	return func() {}, nil
}

func TestBroadcastPublishesToRelay(t *testing.T) {
	relay := newFakeRelay()
	r := newTestRegistry(relay)
	e, err := r.GetOrCreate("doc1")
	require.NoError(t, err)

	e.Broadcast(nil, []byte("frame"))
	assert.Equal(t, [][]byte{[]byte("frame")}, relay.published["doc1"])
}

func TestRelayedFrameReachesAllLocalPeers(t *testing.T) {
	relay := newFakeRelay()
	r := newTestRegistry(relay)
	e, err := r.GetOrCreate("doc1")
	require.NoError(t, err)

	p1, p2 := &fakePeer{}, &fakePeer{}
	e.Register(p1)
	e.Register(p2)

	relay.deliver["doc1"]([]byte("remote"))
	assert.Len(t, p1.received(), 1)
	assert.Len(t, p2.received(), 1)
}
