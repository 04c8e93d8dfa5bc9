package store

import (
	"sync"

	"collabstore/internal/protocol"
)

// MemoryLog keeps a store's transactions in process memory. It is the
// default backend, matching a deployment with no durability requirements.
type MemoryLog struct {
	mu    sync.RWMutex
	txns  []protocol.Transaction
	index map[string]int
}

func NewMemoryLog() *MemoryLog {
	return &MemoryLog{index: make(map[string]int)}
}

func (l *MemoryLog) Append(txns []protocol.Transaction) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, t := range txns {
		l.index[t.ID] = len(l.txns)
		l.txns = append(l.txns, t)
	}
	return nil
}

func (l *MemoryLog) History() ([]protocol.Transaction, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]protocol.Transaction, len(l.txns))
	copy(out, l.txns)
	return out, nil
}

func (l *MemoryLog) GetByIDs(ids []string) ([]protocol.Transaction, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]protocol.Transaction, 0, len(ids))
	for _, id := range ids {
		if i, ok := l.index[id]; ok {
			out = append(out, l.txns[i])
		}
	}
	return out, nil
}

func (l *MemoryLog) Close() error { return nil }
