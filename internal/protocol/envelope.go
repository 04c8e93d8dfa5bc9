package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
)

// Message types exchanged over a store websocket. Request types arrive from
// clients; reply types are only ever produced by the server.
const (
	MsgTransactionBroadcast = "transaction-broadcast"
	MsgStoreIDRequest       = "storeid-request"
	MsgHistoryRequest       = "history-request"
	MsgFetchRequest         = "fetch-transaction-request"

	MsgTransactionAck = "transaction-ack"
	MsgStoreIDReply   = "storeid-reply"
	MsgHistoryReply   = "history-reply"
	MsgFetchReply     = "fetch-transaction-reply"
)

// ErrNoContent marks an envelope whose type requires a content object but
// carries none. Such envelopes are dropped without a reply.
var ErrNoContent = errors.New("protocol: missing content")

// Envelope is the wire frame for every message in both directions. Content
// is kept as raw JSON so fields this layer does not recognize survive
// untouched when the frame is forwarded to peers.
type Envelope struct {
	MsgID    string          `json:"msgId"`
	MsgType  string          `json:"msgType"`
	ParentID string          `json:"parentId,omitempty"`
	Content  json.RawMessage `json:"content,omitempty"`
}

// DecodeEnvelope parses a wire frame. It validates only the envelope shape;
// per-type content validation happens in Transactions and TransactionIDs.
func DecodeEnvelope(raw []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, err
	}
	return &env, nil
}

func (e *Envelope) hasContent() bool {
	return len(e.Content) > 0 && !bytes.Equal(e.Content, []byte("null"))
}

// Transactions extracts the batch from a transaction-broadcast envelope.
// An envelope without a content object is malformed; a content object
// without a transactions key yields an empty batch.
func (e *Envelope) Transactions() ([]Transaction, error) {
	if !e.hasContent() {
		return nil, ErrNoContent
	}
	var c struct {
		Transactions []Transaction `json:"transactions"`
	}
	if err := json.Unmarshal(e.Content, &c); err != nil {
		return nil, err
	}
	return c.Transactions, nil
}

// TransactionIDs extracts the lookup ids from a fetch-transaction-request
// envelope, with the same content rules as Transactions.
func (e *Envelope) TransactionIDs() ([]string, error) {
	if !e.hasContent() {
		return nil, ErrNoContent
	}
	var c struct {
		TransactionIDs []string `json:"transactionIds"`
	}
	if err := json.Unmarshal(e.Content, &c); err != nil {
		return nil, err
	}
	return c.TransactionIDs, nil
}

// Transaction is an opaque record identified by its id. The original bytes
// are retained so payload fields this layer does not interpret round-trip
// unmodified through storage and broadcast.
type Transaction struct {
	ID  string
	raw json.RawMessage
}

func (t *Transaction) UnmarshalJSON(data []byte) error {
	var head struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return err
	}
	if head.ID == "" {
		return errors.New("protocol: transaction missing id")
	}
	t.ID = head.ID
	t.raw = append(t.raw[:0], data...)
	return nil
}

func (t Transaction) MarshalJSON() ([]byte, error) {
	if len(t.raw) == 0 {
		return json.Marshal(struct {
			ID string `json:"id"`
		}{ID: t.ID})
	}
	return t.raw, nil
}

// Raw returns the transaction's original wire bytes.
func (t Transaction) Raw() []byte { return t.raw }
