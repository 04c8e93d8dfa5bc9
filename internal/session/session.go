package session

import (
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"collabstore/internal/protocol"
	"collabstore/internal/registry"
)

const sendBuffer = 256

// Session is one client's live connection to a store, bound to a single
// store key for its whole life. It owns no transaction state; everything
// shared lives in the registry entry.
type Session struct {
	conn  *websocket.Conn
	entry *registry.Entry
	key   string
	send  chan []byte
	done  chan struct{}
	log   zerolog.Logger
}

func New(conn *websocket.Conn, entry *registry.Entry, storeKey string, log zerolog.Logger) *Session {
	return &Session{
		conn:  conn,
		entry: entry,
		key:   storeKey,
		send:  make(chan []byte, sendBuffer),
		done:  make(chan struct{}),
		log:   log.With().Str("storeKey", storeKey).Logger(),
	}
}

// StoreKey is the store this session was bound to at connect time.
func (s *Session) StoreKey() string { return s.key }

// Run registers the session and pumps until the connection closes, then
// deregisters. It blocks for the life of the connection.
func (s *Session) Run() {
	s.entry.Register(s)
	go s.writePump()
	s.readPump()
}

// Send queues an outbound frame without blocking. It reports false when the
// session is closed or its buffer is full, in which case the frame is lost
// for this session only.
func (s *Session) Send(msg []byte) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.send <- msg:
		return true
	default:
		return false
	}
}

func (s *Session) readPump() {
	defer func() {
		s.entry.Deregister(s)
		close(s.done)
		s.conn.Close()
		s.log.Info().Msg("session closed")
	}()
	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			return
		}
		s.handle(raw)
	}
}

func (s *Session) writePump() {
	defer s.conn.Close()
	for {
		select {
		case msg := <-s.send:
			if err := s.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-s.done:
			s.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}

// handle processes one inbound envelope to completion. Malformed envelopes
// and unknown message types are dropped without a reply; a storage failure
// is logged and the session keeps waiting for the next envelope.
func (s *Session) handle(raw []byte) {
	env, err := protocol.DecodeEnvelope(raw)
	if err != nil {
		s.log.Debug().Err(err).Msg("dropping undecodable envelope")
		return
	}
	switch env.MsgType {
	case protocol.MsgTransactionBroadcast:
		s.handleTransactions(env, raw)
	case protocol.MsgStoreIDRequest:
		s.reply(protocol.NewStoreIDReply(env.MsgID, s.entry.AllocateID()))
	case protocol.MsgHistoryRequest:
		txns, err := s.entry.Log.History()
		if err != nil {
			s.log.Error().Err(err).Msg("reading history failed")
			return
		}
		s.reply(protocol.NewHistoryReply(env.MsgID, txns))
	case protocol.MsgFetchRequest:
		ids, err := env.TransactionIDs()
		if err != nil {
			s.log.Debug().Err(err).Msg("dropping malformed fetch request")
			return
		}
		txns, err := s.entry.Log.GetByIDs(ids)
		if err != nil {
			s.log.Error().Err(err).Msg("fetching transactions failed")
			return
		}
		s.reply(protocol.NewFetchReply(env.MsgID, txns))
	default:
		s.log.Debug().Str("msgType", env.MsgType).Msg("ignoring unknown message type")
	}
}

func (s *Session) handleTransactions(env *protocol.Envelope, raw []byte) {
	txns, err := env.Transactions()
	if err != nil {
		s.log.Debug().Err(err).Msg("dropping malformed transaction broadcast")
		return
	}
	if err := s.entry.Log.Append(txns); err != nil {
		s.log.Error().Err(err).Msg("appending transactions failed")
		return
	}
	ids := make([]string, len(txns))
	for i, t := range txns {
		ids[i] = t.ID
	}
	s.reply(protocol.NewTransactionAck(env.MsgID, ids))
	// peers get the sender's original frame verbatim, not the ack
	s.entry.Broadcast(s, raw)
}

func (s *Session) reply(msg []byte, err error) {
	if err != nil {
		s.log.Error().Err(err).Msg("building reply failed")
		return
	}
	if !s.Send(msg) {
		s.log.Warn().Msg("send buffer full, dropping reply")
	}
}
