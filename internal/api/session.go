package api

import (
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/marcus/gridsync/internal/dataset"
	"github.com/marcus/gridsync/internal/encoder"
	"github.com/marcus/gridsync/internal/protocol"
	"github.com/marcus/gridsync/internal/rowsync"
	"github.com/marcus/gridsync/internal/window"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 << 10
)

var errSlowClient = errors.New("session outbox full")

// session hosts one websocket client. Service calls run under mu, and
// calls made from the run loop also hold the dataset's mutation lock, so
// the service never reads rows its client has not been told about. Frames
// are queued on the outbox and written by the run loop with no lock held.
type session struct {
	id      string
	dataset string
	ds      dataset.MutationLocker
	conn    *websocket.Conn
	svc     *rowsync.Service
	metrics *Metrics
	log     *slog.Logger

	mu      sync.Mutex
	outbox  chan protocol.Message
	kick    chan struct{}
	inbound chan protocol.Message
	done    chan struct{}
	once    sync.Once
}

// Submit runs a dataset callback on the mutating goroutine, which holds the
// mutation lock, then wakes the run loop to flush dirty rows.
func (s *session) Submit(fn func()) {
	s.mu.Lock()
	fn()
	s.mu.Unlock()
	select {
	case s.kick <- struct{}{}:
	default:
	}
}

// serialize runs fn with mutations held off.
func (s *session) serialize(fn func()) {
	s.ds.LockMutations()
	defer s.ds.UnlockMutations()
	s.mu.Lock()
	defer s.mu.Unlock()
	fn()
}

func (s *session) stop() {
	s.once.Do(func() { close(s.done) })
}

// handleStream upgrades the request and runs a sync session until the
// client goes away or the server shuts down.
func (srv *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	st, err := srv.pool.Get(name)
	if err != nil {
		srv.writePoolError(w, r, err)
		return
	}

	sess := &session{
		id:      uuid.NewString(),
		dataset: name,
		ds:      st,
		metrics: srv.metrics,
		outbox:  make(chan protocol.Message, srv.config.SessionQueue),
		kick:    make(chan struct{}, 1),
		inbound: make(chan protocol.Message),
		done:    make(chan struct{}),
	}
	sess.log = logFor(r.Context()).With("sid", sess.id, "dataset", name)

	if !srv.register(sess) {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "server shutting down")
		return
	}
	defer srv.unregister(sess)

	conn, err := srv.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied.
		sess.log.Warn("websocket upgrade", "err", err)
		return
	}
	sess.conn = conn

	sess.serialize(func() {
		sess.svc, err = rowsync.New(st, &sessionRPC{sess: sess},
			rowsync.WithExecutor(sess),
			rowsync.WithColumns(st.Columns()...),
			rowsync.WithRowCache(srv.config.RowCacheSize),
			rowsync.WithInitialRows(srv.config.InitialRows),
			rowsync.WithLogger(sess.log),
			rowsync.WithFatalHandler(sess.fatal),
		)
		if err == nil {
			err = sess.svc.Start()
		}
	})
	if err != nil {
		sess.log.Error("bind session", "err", err)
		if sess.svc != nil {
			sess.serialize(sess.svc.Close)
		}
		conn.Close()
		return
	}

	sess.log.Info("session opened")
	sess.run()
	sess.log.Info("session closed", "state", sess.svc.State())
}

func (s *session) run() {
	defer s.conn.Close()
	defer s.serialize(s.svc.Close)
	defer s.stop()

	go s.read()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		var err error
		select {
		case <-s.done:
			s.drain()
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			s.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case m := <-s.outbox:
			err = s.write(m)
		case msg, ok := <-s.inbound:
			if !ok {
				return
			}
			s.serialize(func() {
				if err = s.handle(msg); err == nil {
					err = s.flush()
				}
			})
		case <-s.kick:
			s.serialize(func() { err = s.flush() })
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			err = s.conn.WriteMessage(websocket.PingMessage, nil)
		}
		if err != nil {
			s.log.Warn("session", "err", err)
			return
		}
	}
}

// drain writes the frames still queued, such as a final error frame.
func (s *session) drain() {
	for {
		select {
		case m := <-s.outbox:
			if s.write(m) != nil {
				return
			}
		default:
			return
		}
	}
}

// read pumps decoded frames to the run loop.
func (s *session) read() {
	defer close(s.inbound)

	s.conn.SetReadLimit(maxMessageSize)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Warn("read", "err", err)
			}
			return
		}
		msg, err := protocol.Decode(data)
		if err != nil {
			msg = protocol.Error{Code: protocol.CodeBadRequest, Message: err.Error()}
		}
		select {
		case s.inbound <- msg:
		case <-s.done:
			return
		}
	}
}

// handle applies one client frame. Only transport failures are returned;
// request errors are reported back to the client.
func (s *session) handle(msg protocol.Message) error {
	var err error
	switch m := msg.(type) {
	case protocol.RequestRows:
		err = s.svc.RequestRows(m.First, m.Count, m.CachedFirst, m.CachedCount)
	case protocol.DropRows:
		s.svc.DropRows(m.Keys)
	case protocol.Refresh:
		s.svc.Refresh()
	case protocol.Error:
		// Undecodable frame, echoed back.
		return s.send(m)
	default:
		return s.send(protocol.Error{Code: protocol.CodeBadRequest, Message: "unexpected frame " + msg.Type()})
	}
	return s.report(err)
}

func (s *session) flush() error {
	return s.report(s.svc.Flush())
}

// report sends request-level errors to the client and returns the rest.
func (s *session) report(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, window.ErrInvalidRange):
		return s.send(protocol.Error{Code: protocol.CodeBadRequest, Message: err.Error()})
	case errors.Is(err, encoder.ErrEncoding):
		s.log.Error("encode rows", "err", err)
		return s.send(protocol.Error{Code: protocol.CodeEncoding, Message: err.Error()})
	}
	return err
}

// fatal runs under mu when the service fails.
func (s *session) fatal(err error) {
	s.metrics.SessionFailed()
	code := protocol.CodeInternal
	if errors.Is(err, rowsync.ErrUnsupportedEvent) {
		code = protocol.CodeUnsupportedEvent
	}
	s.send(protocol.Error{Code: code, Message: err.Error()})
	s.stop()
}

// send queues m for the run loop. A client too slow to drain its outbox is
// disconnected.
func (s *session) send(m protocol.Message) error {
	select {
	case s.outbox <- m:
		return nil
	default:
		s.log.Warn("session outbox full, dropping client")
		s.stop()
		return errSlowClient
	}
}

func (s *session) write(m protocol.Message) error {
	data, err := protocol.Encode(m)
	if err != nil {
		return err
	}
	s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return err
	}
	rows := 0
	if sr, ok := m.(protocol.SetRows); ok {
		rows = len(sr.Rows)
	}
	s.metrics.RecordFrame(m.Type(), rows)
	return nil
}

// sessionRPC delivers service notifications as protocol frames.
type sessionRPC struct {
	sess *session
}

var _ rowsync.ClientRPC = (*sessionRPC)(nil)

func (r *sessionRPC) Reset(size int, fields []dataset.FieldID) error {
	return r.sess.send(protocol.Reset{Size: size, Fields: fieldNames(fields)})
}

func (r *sessionRPC) SetRowData(first int, rows []protocol.Row) error {
	return r.sess.send(protocol.SetRows{First: first, Rows: rows})
}

func (r *sessionRPC) InsertRows(index, count int) error {
	return r.sess.send(protocol.InsertRows{Index: index, Count: count})
}

func (r *sessionRPC) RemoveRows(index, count int) error {
	return r.sess.send(protocol.RemoveRows{Index: index, Count: count})
}

func (r *sessionRPC) SetFields(fields []dataset.FieldID) error {
	return r.sess.send(protocol.Fields{Fields: fieldNames(fields)})
}

func fieldNames(fields []dataset.FieldID) []string {
	out := make([]string, len(fields))
	for i, f := range fields {
		out[i] = string(f)
	}
	return out
}
