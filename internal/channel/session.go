package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// State is the explicit connection state of a session.
type State string

const (
	StateIdle         State = "idle"
	StateConnecting   State = "connecting"
	StateOpen         State = "open"
	StateReconnecting State = "reconnecting"
	StateClosed       State = "closed"
)

const (
	defaultHeartbeatInterval = 30 * time.Second
	defaultReconnectBase     = 2 * time.Second
	defaultMaxReconnects     = 3
	defaultHandshakeTimeout  = 10 * time.Second
)

// Config tunes a session. The zero value uses production defaults; tests
// shrink the intervals.
type Config struct {
	// BaseURL is the ws(s)://host root; the task path is appended.
	BaseURL string

	HeartbeatInterval time.Duration
	ReconnectBase     time.Duration
	MaxReconnects     int

	// OnReconnect is called with the attempt number each time a reconnect
	// is scheduled.
	OnReconnect func(attempt int)

	Logger *slog.Logger
}

// Session is a per-task socket session. It owns only its own lifecycle state
// (connection, reconnect counter, heartbeat timer) and never touches business
// data; all output goes through the supplied Handlers.
type Session struct {
	id          string
	taskID      string
	handlers    Handlers
	logger      *slog.Logger
	dialer      *websocket.Dialer
	onReconnect func(attempt int)

	baseURL           string
	heartbeatInterval time.Duration
	reconnectBase     time.Duration
	maxReconnects     int

	mu            sync.Mutex
	writeMu       sync.Mutex
	conn          *websocket.Conn
	state         State
	attempts      int
	intentional   bool
	heartbeatStop chan struct{}
}

// NewSession creates a session for one task. Nothing is dialed until Connect.
func NewSession(cfg Config, taskID string, handlers Handlers) *Session {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Session{
		id:                uuid.New().String()[:8],
		taskID:            taskID,
		handlers:          handlers,
		baseURL:           strings.TrimRight(cfg.BaseURL, "/"),
		heartbeatInterval: cfg.HeartbeatInterval,
		reconnectBase:     cfg.ReconnectBase,
		maxReconnects:     cfg.MaxReconnects,
		onReconnect:       cfg.OnReconnect,
		state:             StateIdle,
		dialer: &websocket.Dialer{
			HandshakeTimeout: defaultHandshakeTimeout,
		},
	}
	if s.heartbeatInterval <= 0 {
		s.heartbeatInterval = defaultHeartbeatInterval
	}
	if s.reconnectBase <= 0 {
		s.reconnectBase = defaultReconnectBase
	}
	if s.maxReconnects <= 0 {
		s.maxReconnects = defaultMaxReconnects
	}
	s.logger = logger.With("session_id", s.id, "task_id", taskID)
	return s
}

// TaskID returns the task this session is scoped to.
func (s *Session) TaskID() string { return s.taskID }

// State returns the current connection state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Connect opens the socket. Calling Connect on an already open or connecting
// session is a logged no-op, never an error.
func (s *Session) Connect(ctx context.Context, includeHistory bool) error {
	s.mu.Lock()
	switch s.state {
	case StateOpen, StateConnecting:
		s.mu.Unlock()
		s.logger.Debug("connect ignored: session already open")
		return nil
	}
	s.state = StateConnecting
	s.intentional = false
	s.mu.Unlock()

	if err := s.dial(ctx, includeHistory); err != nil {
		s.mu.Lock()
		s.state = StateIdle
		s.mu.Unlock()
		return err
	}
	return nil
}

// Disconnect marks the close as intentional, stops the heartbeat and closes
// the socket with a normal-closure code. Idempotent.
func (s *Session) Disconnect() {
	s.mu.Lock()
	s.intentional = true
	s.state = StateClosed
	if s.heartbeatStop != nil {
		close(s.heartbeatStop)
		s.heartbeatStop = nil
	}
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()

	if conn == nil {
		return
	}
	deadline := time.Now().Add(time.Second)
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "client disconnect"), deadline)
	_ = conn.Close()
	s.logger.Debug("session disconnected")
}

// Send writes a JSON frame, fire and forget. Frames are silently dropped when
// the socket is not open.
func (s *Session) Send(v any) {
	s.mu.Lock()
	conn := s.conn
	open := s.state == StateOpen
	s.mu.Unlock()

	if !open || conn == nil {
		s.logger.Debug("send dropped: session not open")
		return
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := conn.WriteJSON(v); err != nil {
		s.logger.Debug("send failed", "error", err)
	}
}

// RequestStatus asks the backend for a full current_status snapshot.
func (s *Session) RequestStatus() {
	s.Send(outbound{Type: "get_status"})
}

func (s *Session) endpoint(includeHistory bool) string {
	return fmt.Sprintf("%s/api/v1/ws/%s?include_history=%t", s.baseURL, s.taskID, includeHistory)
}

func (s *Session) dial(ctx context.Context, includeHistory bool) error {
	conn, resp, err := s.dialer.DialContext(ctx, s.endpoint(includeHistory), nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return fmt.Errorf("dial task channel: %w", err)
	}

	stop := make(chan struct{})
	s.mu.Lock()
	if s.intentional {
		// Disconnect raced the dial; drop the fresh connection.
		s.mu.Unlock()
		conn.Close()
		return nil
	}
	s.conn = conn
	s.state = StateOpen
	s.attempts = 0
	s.heartbeatStop = stop
	s.mu.Unlock()

	s.logger.Info("task channel open", "include_history", includeHistory)

	go s.heartbeat(stop)
	go s.readLoop(conn)
	return nil
}

// heartbeat sends a ping frame on a fixed interval for the life of one
// connection.
func (s *Session) heartbeat(stop chan struct{}) {
	ticker := time.NewTicker(s.heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.Send(outbound{Type: "ping"})
		}
	}
}

func (s *Session) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			s.handleClose(err)
			return
		}
		s.handleMessage(data)
	}
}

// handleMessage parses and dispatches one frame. Malformed payloads are
// logged and dropped; nothing may escape and kill the read loop.
func (s *Session) handleMessage(data []byte) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("event handler panicked", "panic", r)
		}
	}()

	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		s.logger.Warn("dropping malformed frame", "error", err)
		return
	}
	if ev.Type == "" {
		s.logger.Warn("dropping frame without type")
		return
	}
	s.dispatch(ev)
}

func (s *Session) dispatch(ev Event) {
	h := s.handlers
	switch ev.Type {
	case EventPong:
		// Pure heartbeat ack, triggers no handler.
		return
	case EventConnected:
		invoke(h.OnConnected, ev)
	case EventCurrentStatus:
		invoke(h.OnCurrentStatus, ev)
	case EventProgress:
		invoke(h.OnProgress, ev)
	case EventCompleted:
		invoke(h.OnCompleted, ev)
	case EventFailed:
		invoke(h.OnFailed, ev)
	case EventHumanReviewRequired:
		invoke(h.OnHumanReviewRequired, ev)
	case EventConceptStart:
		invoke(h.OnConceptStart, ev)
	case EventConceptComplete:
		invoke(h.OnConceptComplete, ev)
	case EventConceptFailed:
		invoke(h.OnConceptFailed, ev)
	case EventBatchStart:
		invoke(h.OnBatchStart, ev)
	case EventBatchComplete:
		invoke(h.OnBatchComplete, ev)
	case EventClosing:
		invoke(h.OnClosing, ev)
	case EventError:
		invoke(h.OnError, ev)
	case EventTimeout:
		// Server-pushed timeout is the only timeout signal; surface it as a
		// generic error.
		invoke(h.OnError, ev)
	default:
		s.logger.Debug("unrecognized event type", "type", ev.Type)
	}
	invoke(h.OnEvent, ev)
}

func invoke(fn func(Event), ev Event) {
	if fn != nil {
		fn(ev)
	}
}

// handleClose runs when the read loop exits. Unintentional closes schedule a
// bounded linear-backoff reconnect; exceeding the bound gives up silently and
// leaves the caller's polling fallback in charge.
func (s *Session) handleClose(err error) {
	s.mu.Lock()
	if s.heartbeatStop != nil {
		close(s.heartbeatStop)
		s.heartbeatStop = nil
	}
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
	if s.intentional || s.state == StateClosed {
		s.state = StateClosed
		s.mu.Unlock()
		return
	}
	if s.attempts >= s.maxReconnects {
		s.state = StateClosed
		s.mu.Unlock()
		s.logger.Warn("reconnect attempts exhausted, giving up", "attempts", s.maxReconnects)
		return
	}
	s.attempts++
	attempt := s.attempts
	s.state = StateReconnecting
	s.mu.Unlock()

	delay := s.reconnectDelay(attempt)
	s.logger.Info("scheduling reconnect", "attempt", attempt, "delay", delay, "cause", err)
	if s.onReconnect != nil {
		s.onReconnect(attempt)
	}

	time.AfterFunc(delay, func() {
		s.mu.Lock()
		if s.intentional || s.state != StateReconnecting {
			s.mu.Unlock()
			return
		}
		s.mu.Unlock()
		// Reconnects never replay history; missed events are reconciled by
		// the polling fallback and full refetches.
		if err := s.dial(context.Background(), false); err != nil {
			s.handleClose(err)
		}
	})
}

// reconnectDelay is linear: 2s, 4s, 6s for attempts 1..3 at the default base.
func (s *Session) reconnectDelay(attempt int) time.Duration {
	return s.reconnectBase * time.Duration(attempt)
}
