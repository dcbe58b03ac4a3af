// Package server bridges the browser extension over a WebSocket. The
// extension streams tab events and answers tab API calls; the Server turns
// the calls into a browser.Service.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"nhooyr.io/websocket"

	"github.com/lotas/tabtree/internal/applog"
	"github.com/lotas/tabtree/internal/browser"
)

// IncomingMsg is a message from the extension: a tab event or the response
// to a call.
type IncomingMsg struct {
	Type string `json:"type"`

	// Event fields
	Tab          json.RawMessage `json:"tab,omitempty"`
	Tabs         json.RawMessage `json:"tabs,omitempty"`
	TabID        int             `json:"tabId,omitempty"`
	RemovedTabID int             `json:"removedTabId,omitempty"`
	WindowID     int             `json:"windowId,omitempty"`
	FromIndex    int             `json:"fromIndex,omitempty"`
	ToIndex      int             `json:"toIndex,omitempty"`
	Changes      json.RawMessage `json:"changes,omitempty"`
	Closing      bool            `json:"isWindowClosing,omitempty"`

	// Response fields
	ID    string          `json:"id,omitempty"`
	OK    *bool           `json:"ok,omitempty"`
	Error string          `json:"error,omitempty"`
	Value json.RawMessage `json:"value,omitempty"`
}

// OutgoingMsg is a call to the extension's tab API.
type OutgoingMsg struct {
	ID       string          `json:"id"`
	Action   string          `json:"action"`
	TabID    int             `json:"tabId,omitempty"`
	TabIDs   []int           `json:"tabIds,omitempty"`
	WindowID int             `json:"windowId,omitempty"`
	Index    *int            `json:"index,omitempty"`
	Props    any             `json:"props,omitempty"`
	Changes  any             `json:"changes,omitempty"`
	Query    any             `json:"query,omitempty"`
	Key      string          `json:"key,omitempty"`
	Value    json.RawMessage `json:"value,omitempty"`
}

// Server manages the WebSocket connection to the extension.
type Server struct {
	port    int
	msgs    chan IncomingMsg
	mu      sync.Mutex
	conn    *websocket.Conn
	connCtx context.Context
	pending map[string]chan IncomingMsg
	queued  int // events handed to msgs and not yet applied
}

// New creates a new Server. Port 0 means the caller manages the listener.
func New(port int) *Server {
	return &Server{
		port:    port,
		msgs:    make(chan IncomingMsg, 256),
		pending: make(map[string]chan IncomingMsg),
	}
}

// Port returns the configured port.
func (s *Server) Port() int {
	return s.port
}

// Messages returns the channel of tab events from the extension. A response
// that arrives while earlier events are still unapplied is queued here too,
// behind them; Run hands it to its caller once they are applied. Any other
// response goes straight to its caller.
func (s *Server) Messages() <-chan IncomingMsg {
	return s.msgs
}

// applied marks one event taken from Messages as applied.
func (s *Server) applied() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.queued > 0 {
		s.queued--
	}
}

// Connected reports whether an extension is connected.
func (s *Server) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn != nil
}

// Send writes a message to the connected extension without waiting for a
// response.
func (s *Server) Send(msg OutgoingMsg) error {
	s.mu.Lock()
	conn := s.conn
	ctx := s.connCtx
	s.mu.Unlock()

	if conn == nil {
		return browser.ErrNotConnected
	}

	applog.Debug("ws.send", "action", msg.Action, "id", msg.ID)
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, data)
}

// Call sends msg under a fresh request id and waits for the extension's
// response. A failed response becomes an error; browser messages about
// missing tabs wrap browser.ErrTabVanished.
func (s *Server) Call(ctx context.Context, msg OutgoingMsg) (IncomingMsg, error) {
	msg.ID = uuid.NewString()
	ch := make(chan IncomingMsg, 1)
	s.mu.Lock()
	s.pending[msg.ID] = ch
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.pending, msg.ID)
		s.mu.Unlock()
	}()

	if err := s.Send(msg); err != nil {
		return IncomingMsg{}, fmt.Errorf("%s: %w", msg.Action, err)
	}

	select {
	case resp, ok := <-ch:
		if !ok {
			return IncomingMsg{}, fmt.Errorf("%s: %w", msg.Action, browser.ErrNotConnected)
		}
		if resp.OK != nil && !*resp.OK {
			return resp, remoteError(msg.Action, resp.Error)
		}
		return resp, nil
	case <-ctx.Done():
		return IncomingMsg{}, fmt.Errorf("%s: %w", msg.Action, ctx.Err())
	}
}

func remoteError(action, text string) error {
	if text == "" {
		text = "unknown error"
	}
	err := errors.New(text)
	if browser.IsVanished(err) {
		return fmt.Errorf("%s: %s: %w", action, text, browser.ErrTabVanished)
	}
	return fmt.Errorf("%s: %w", action, err)
}

// deliver hands a response to its waiting caller.
func (s *Server) deliver(msg IncomingMsg) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch := s.pending[msg.ID]
	if ch == nil {
		applog.Info("ws.response.orphan", "id", msg.ID)
		return
	}
	delete(s.pending, msg.ID)
	ch <- msg
}

// failPending releases every caller waiting on a dropped connection.
func (s *Server) failPending() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, ch := range s.pending {
		close(ch)
		delete(s.pending, id)
	}
}

// Handler returns an http.Handler that accepts WebSocket upgrades.
func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			InsecureSkipVerify: true,
		})
		if err != nil {
			applog.Error("ws.accept", err)
			return
		}

		conn.SetReadLimit(16 << 20) // 16 MB, snapshots of large sessions

		ctx := r.Context()
		s.mu.Lock()
		if s.conn != nil {
			applog.Info("ws.replaced")
			s.conn.CloseNow()
		}
		s.conn = conn
		s.connCtx = ctx
		s.mu.Unlock()

		applog.Info("ws.connected", "remote", r.RemoteAddr)

		defer func() {
			s.mu.Lock()
			current := s.conn == conn
			if current {
				s.conn = nil
				s.connCtx = nil
			}
			s.mu.Unlock()
			if current {
				s.failPending()
			}
			conn.CloseNow()
			applog.Info("ws.disconnected")
		}()

		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				return
			}
			var msg IncomingMsg
			if err := json.Unmarshal(data, &msg); err != nil {
				applog.Error("ws.parse", err)
				continue
			}
			s.mu.Lock()
			if msg.Type == "response" && s.queued == 0 {
				s.mu.Unlock()
				s.deliver(msg)
				continue
			}
			if msg.Type != "response" {
				s.queued++
			}
			s.mu.Unlock()
			applog.Debug("ws.recv", "type", msg.Type, "tab", msg.TabID)
			select {
			case s.msgs <- msg:
			case <-ctx.Done():
				if msg.Type != "response" {
					s.applied()
				}
				return
			}
		}
	})
}

// ListenAndServe starts the WebSocket server on the configured port.
func (s *Server) ListenAndServe(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle("/", s.Handler())

	addr := fmt.Sprintf("127.0.0.1:%d", s.port)
	applog.Info("server.start", "addr", addr)
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		srv.Close()
	}()

	return srv.ListenAndServe()
}
