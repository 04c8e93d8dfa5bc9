package protocol

import (
	"encoding/json"

	"github.com/google/uuid"
)

func newReply(msgType, parentID string, content any) ([]byte, error) {
	body, err := json.Marshal(content)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{
		MsgID:    uuid.NewString(),
		MsgType:  msgType,
		ParentID: parentID,
		Content:  body,
	})
}

// NewStoreIDReply builds the reply to a storeid-request.
func NewStoreIDReply(parentID string, storeID int64) ([]byte, error) {
	return newReply(MsgStoreIDReply, parentID, struct {
		StoreID int64 `json:"storeId"`
	}{StoreID: storeID})
}

// NewTransactionAck acknowledges an appended batch, echoing the transaction
// ids in append order.
func NewTransactionAck(parentID string, ids []string) ([]byte, error) {
	if ids == nil {
		ids = []string{}
	}
	return newReply(MsgTransactionAck, parentID, struct {
		TransactionIDs []string `json:"transactionIds"`
	}{TransactionIDs: ids})
}

type historyBody struct {
	Transactions []Transaction `json:"transactions"`
}

// NewHistoryReply builds the reply to a history-request.
func NewHistoryReply(parentID string, txns []Transaction) ([]byte, error) {
	if txns == nil {
		txns = []Transaction{}
	}
	return newReply(MsgHistoryReply, parentID, struct {
		History historyBody `json:"history"`
	}{History: historyBody{Transactions: txns}})
}

// NewFetchReply builds the reply to a fetch-transaction-request. Missing ids
// are simply absent from the list.
func NewFetchReply(parentID string, txns []Transaction) ([]byte, error) {
	if txns == nil {
		txns = []Transaction{}
	}
	return newReply(MsgFetchReply, parentID, struct {
		Transactions []Transaction `json:"transactions"`
	}{Transactions: txns})
}
