package store

import "collabstore/internal/protocol"

// TransactionLog is the append-only per-store log the protocol layer writes
// to and queries. Implementations must tolerate concurrent use: a batch
// append is atomic with respect to History, and GetByIDs omits missing ids
// rather than erroring.
type TransactionLog interface {
	Append(txns []protocol.Transaction) error
	History() ([]protocol.Transaction, error)
	GetByIDs(ids []string) ([]protocol.Transaction, error)
	Close() error
}

// Opener attaches the log for a store key. The registry calls it at most
// once per key for the life of the process.
type Opener func(storeKey string) (TransactionLog, error)
