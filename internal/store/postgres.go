package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"collabstore/internal/protocol"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS collab_transactions (
	seq       bigserial PRIMARY KEY,
	store_key text  NOT NULL,
	txn_id    text  NOT NULL,
	payload   jsonb NOT NULL
);
CREATE INDEX IF NOT EXISTS collab_transactions_store_txn_idx
	ON collab_transactions (store_key, txn_id);
`

// EnsureSchema creates the transaction table if it does not exist yet.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("ensuring postgres schema: %w", err)
	}
	return nil
}

// PostgresLog persists one store key's transactions in a shared pgx pool.
// Ordering comes from the bigserial sequence, which is global across keys
// but monotonic within each.
type PostgresLog struct {
	pool     *pgxpool.Pool
	storeKey string
}

func NewPostgresLog(pool *pgxpool.Pool, storeKey string) *PostgresLog {
	return &PostgresLog{pool: pool, storeKey: storeKey}
}

func (l *PostgresLog) Append(txns []protocol.Transaction) error {
	ctx := context.Background()
	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning append: %w", err)
	}
	defer tx.Rollback(ctx)
	for _, t := range txns {
		body, err := json.Marshal(t)
		if err != nil {
			return err
		}
		_, err = tx.Exec(ctx,
			`INSERT INTO collab_transactions (store_key, txn_id, payload) VALUES ($1, $2, $3)`,
			l.storeKey, t.ID, body)
		if err != nil {
			return fmt.Errorf("appending transaction %s: %w", t.ID, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing append: %w", err)
	}
	return nil
}

func (l *PostgresLog) History() ([]protocol.Transaction, error) {
	rows, err := l.pool.Query(context.Background(),
		`SELECT payload FROM collab_transactions WHERE store_key = $1 ORDER BY seq`,
		l.storeKey)
	if err != nil {
		return nil, fmt.Errorf("querying history: %w", err)
	}
	defer rows.Close()
	var out []protocol.Transaction
	for rows.Next() {
		var body []byte
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		var t protocol.Transaction
		if err := json.Unmarshal(body, &t); err != nil {
			return nil, fmt.Errorf("decoding stored transaction: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (l *PostgresLog) GetByIDs(ids []string) ([]protocol.Transaction, error) {
	rows, err := l.pool.Query(context.Background(),
		`SELECT payload FROM collab_transactions WHERE store_key = $1 AND txn_id = ANY($2) ORDER BY seq`,
		l.storeKey, ids)
	if err != nil {
		return nil, fmt.Errorf("querying transactions: %w", err)
	}
	defer rows.Close()
	found := make(map[string]protocol.Transaction, len(ids))
	for rows.Next() {
		var body []byte
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		var t protocol.Transaction
		if err := json.Unmarshal(body, &t); err != nil {
			return nil, fmt.Errorf("decoding stored transaction: %w", err)
		}
		found[t.ID] = t
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// reply order follows the requested id order; missing ids are omitted
	out := make([]protocol.Transaction, 0, len(ids))
	for _, id := range ids {
		if t, ok := found[id]; ok {
			out = append(out, t)
		}
	}
	return out, nil
}

func (l *PostgresLog) Close() error { return nil }
