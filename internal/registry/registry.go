package registry

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"collabstore/internal/store"
)

// Peer is one delivery target for broadcast frames. Send must not block; it
// reports whether the frame was accepted.
type Peer interface {
	Send(msg []byte) bool
}

// Relay fans accepted transaction frames out to sibling processes serving
// the same store keys. A nil relay means single-process operation.
type Relay interface {
	Publish(storeKey string, msg []byte) error
	Subscribe(storeKey string, deliver func(msg []byte)) (stop func(), err error)
}

// Registry owns all per-store shared state: one Entry per store key, created
// lazily on first connection and kept for the life of the process.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*Entry
	open    store.Opener
	relay   Relay
	log     zerolog.Logger
}

func New(open store.Opener, relay Relay, log zerolog.Logger) *Registry {
	return &Registry{
		entries: make(map[string]*Entry),
		open:    open,
		relay:   relay,
		log:     log,
	}
}

// GetOrCreate returns the entry for a store key, creating it on first
// access. The registry lock only guards the map; opening the entry's log and
// relay subscription happens per entry, so a slow backend open for one key
// never stalls connections for other keys. Concurrent first access for a
// brand-new key still opens exactly one log.
func (r *Registry) GetOrCreate(key string) (*Entry, error) {
	r.mu.Lock()
	e, ok := r.entries[key]
	if !ok {
		e = &Entry{key: key, reg: r, peers: make(map[Peer]struct{})}
		r.entries[key] = e
	}
	r.mu.Unlock()

	if err := e.init(); err != nil {
		// a failed open is not cached; the next connection retries
		r.mu.Lock()
		if r.entries[key] == e {
			delete(r.entries, key)
		}
		r.mu.Unlock()
		return nil, err
	}
	return e, nil
}

// Close stops relay subscriptions and closes every per-key log.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var errs []error
	for _, e := range r.entries {
		if e.stopRelay != nil {
			e.stopRelay()
		}
		if e.Log == nil {
			continue
		}
		if err := e.Log.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Entry is the shared state for one store key: its transaction log, its
// sequence counter and the set of currently connected peers.
type Entry struct {
	Log store.TransactionLog

	key       string
	reg       *Registry
	seq       atomic.Int64
	initOnce  sync.Once
	initErr   error
	stopRelay func()

	mu    sync.Mutex
	peers map[Peer]struct{}
}

// init opens the entry's log and relay subscription exactly once; concurrent
// first connections wait here instead of on the registry lock.
func (e *Entry) init() error {
	e.initOnce.Do(func() {
		tlog, err := e.reg.open(e.key)
		if err != nil {
			e.initErr = err
			return
		}
		e.Log = tlog
		if e.reg.relay != nil {
			stop, err := e.reg.relay.Subscribe(e.key, e.deliverAll)
			if err != nil {
				e.reg.log.Error().Err(err).Str("storeKey", e.key).Msg("relay subscribe failed, store is local-only")
			} else {
				e.stopRelay = stop
			}
		}
	})
	return e.initErr
}

// AllocateID issues the next sequence id for this store. Ids start at 1,
// strictly increase and are never reused, even across reconnects.
func (e *Entry) AllocateID() int64 {
	return e.seq.Add(1)
}

func (e *Entry) Register(p Peer) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.peers[p] = struct{}{}
}

// Deregister removes a peer. Removing a peer that was never registered, or
// was already removed, is a no-op.
func (e *Entry) Deregister(p Peer) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.peers, p)
}

// PeersExcept snapshots the current peer set minus origin. Origin may be nil
// to snapshot everyone.
func (e *Entry) PeersExcept(origin Peer) []Peer {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Peer, 0, len(e.peers))
	for p := range e.peers {
		if p == origin {
			continue
		}
		out = append(out, p)
	}
	return out
}

// Broadcast delivers a raw frame to every peer except origin, and hands it
// to the relay when one is configured. A peer that cannot accept the frame
// loses its copy; delivery to the rest is unaffected.
func (e *Entry) Broadcast(origin Peer, raw []byte) {
	for _, p := range e.PeersExcept(origin) {
		if !p.Send(raw) {
			e.reg.log.Warn().Str("storeKey", e.key).Msg("peer send buffer full, dropping broadcast")
		}
	}
	if e.reg.relay != nil {
		if err := e.reg.relay.Publish(e.key, raw); err != nil {
			e.reg.log.Error().Err(err).Str("storeKey", e.key).Msg("relay publish failed")
		}
	}
}

// deliverAll pushes a frame relayed from a sibling process to every local
// peer; the originating session lives in that other process.
func (e *Entry) deliverAll(raw []byte) {
	for _, p := range e.PeersExcept(nil) {
		if !p.Send(raw) {
			e.reg.log.Warn().Str("storeKey", e.key).Msg("peer send buffer full, dropping relayed frame")
		}
	}
}
