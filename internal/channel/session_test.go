package channel

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// wsServer is a minimal task-channel endpoint for session tests.
type wsServer struct {
	srv      *httptest.Server
	dials    atomic.Int32
	reject   atomic.Bool // refuse upgrades after the first accepted one
	closeNow atomic.Bool // close each connection right after upgrade

	mu    sync.Mutex
	conns []*websocket.Conn

	inbound chan []byte
}

func newWSServer(t *testing.T) *wsServer {
	t.Helper()
	s := &wsServer{inbound: make(chan []byte, 16)}
	upgrader := websocket.Upgrader{}

	s.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.dials.Add(1)
		if s.reject.Load() {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		if s.closeNow.Load() {
			s.reject.Store(true)
			conn.Close()
			return
		}
		s.mu.Lock()
		s.conns = append(s.conns, conn)
		s.mu.Unlock()
		go func() {
			for {
				_, data, err := conn.ReadMessage()
				if err != nil {
					return
				}
				select {
				case s.inbound <- data:
				default:
				}
			}
		}()
	}))
	t.Cleanup(s.srv.Close)
	return s
}

func (s *wsServer) url() string {
	return "ws" + strings.TrimPrefix(s.srv.URL, "http")
}

func (s *wsServer) send(t *testing.T, frame string) {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	require.NotEmpty(t, s.conns, "no connection accepted yet")
	conn := s.conns[len(s.conns)-1]
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(frame)))
}

// recorder counts handler invocations for dispatch assertions.
type recorder struct {
	mu       sync.Mutex
	specific map[EventType]int
	errors   int
	catchAll int
}

func newRecorder() *recorder {
	return &recorder{specific: make(map[EventType]int)}
}

func (r *recorder) on(t EventType) func(Event) {
	return func(Event) {
		r.mu.Lock()
		r.specific[t]++
		r.mu.Unlock()
	}
}

func (r *recorder) handlers() Handlers {
	return Handlers{
		OnConnected:           r.on(EventConnected),
		OnCurrentStatus:       r.on(EventCurrentStatus),
		OnProgress:            r.on(EventProgress),
		OnCompleted:           r.on(EventCompleted),
		OnFailed:              r.on(EventFailed),
		OnHumanReviewRequired: r.on(EventHumanReviewRequired),
		OnConceptStart:        r.on(EventConceptStart),
		OnConceptComplete:     r.on(EventConceptComplete),
		OnConceptFailed:       r.on(EventConceptFailed),
		OnBatchStart:          r.on(EventBatchStart),
		OnBatchComplete:       r.on(EventBatchComplete),
		OnClosing:             r.on(EventClosing),
		OnError: func(Event) {
			r.mu.Lock()
			r.errors++
			r.mu.Unlock()
		},
		OnEvent: func(Event) {
			r.mu.Lock()
			r.catchAll++
			r.mu.Unlock()
		},
	}
}

func (r *recorder) count(t EventType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.specific[t]
}

func (r *recorder) catchAllCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.catchAll
}

func (r *recorder) errorCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.errors
}

func TestSession_ConnectIsIdempotent(t *testing.T) {
	srv := newWSServer(t)
	s := NewSession(Config{BaseURL: srv.url()}, "task-1", Handlers{})
	defer s.Disconnect()

	require.NoError(t, s.Connect(context.Background(), true))
	require.NoError(t, s.Connect(context.Background(), true))

	assert.Equal(t, int32(1), srv.dials.Load(), "second connect must not dial again")
	assert.Equal(t, StateOpen, s.State())
}

func TestSession_DispatchCompleteness(t *testing.T) {
	srv := newWSServer(t)
	rec := newRecorder()
	s := NewSession(Config{BaseURL: srv.url()}, "task-1", rec.handlers())
	defer s.Disconnect()
	require.NoError(t, s.Connect(context.Background(), false))

	frames := map[EventType]string{
		EventConnected:           `{"type":"connected","task_id":"task-1","message":"ready"}`,
		EventCurrentStatus:       `{"type":"current_status","task_id":"task-1","status":"processing","current_step":"content_generation"}`,
		EventProgress:            `{"type":"progress","task_id":"task-1","step":"curriculum_design"}`,
		EventCompleted:           `{"type":"completed","task_id":"task-1","roadmap_id":"rm-1","generated_count":5}`,
		EventFailed:              `{"type":"failed","task_id":"task-1","error":"boom","failed_step":"content_generation"}`,
		EventHumanReviewRequired: `{"type":"human_review_required","task_id":"task-1","review":{"title":"Go","stage_count":3}}`,
		EventConceptStart:        `{"type":"concept_start","task_id":"task-1","concept_id":"c1","content_type":"tutorial","progress":{"current":1,"total":4,"percentage":25}}`,
		EventConceptComplete:     `{"type":"concept_complete","task_id":"task-1","concept_id":"c1","content_type":"tutorial"}`,
		EventConceptFailed:       `{"type":"concept_failed","task_id":"task-1","concept_id":"c2","content_type":"quiz","error":"llm error"}`,
		EventBatchStart:          `{"type":"batch_start","task_id":"task-1"}`,
		EventBatchComplete:       `{"type":"batch_complete","task_id":"task-1","batch":{"completed":3,"failed":1,"total":4,"percentage":100}}`,
		EventClosing:             `{"type":"closing","task_id":"task-1","reason":"done"}`,
		EventError:               `{"type":"error","task_id":"task-1","error":"transient"}`,
	}

	for _, frame := range frames {
		srv.send(t, frame)
	}
	require.Eventually(t, func() bool {
		return rec.catchAllCount() == len(frames)
	}, time.Second, 5*time.Millisecond)

	for et := range frames {
		if et == EventError {
			continue
		}
		assert.Equal(t, 1, rec.count(et), "handler for %s", et)
	}
	assert.Equal(t, 1, rec.errorCount())
}

func TestSession_UnknownTypeOnlyCatchAll(t *testing.T) {
	srv := newWSServer(t)
	rec := newRecorder()
	s := NewSession(Config{BaseURL: srv.url()}, "task-1", rec.handlers())
	defer s.Disconnect()
	require.NoError(t, s.Connect(context.Background(), false))

	srv.send(t, `{"type":"telemetry_blip","task_id":"task-1"}`)
	require.Eventually(t, func() bool { return rec.catchAllCount() == 1 }, time.Second, 5*time.Millisecond)

	for _, et := range []EventType{EventConnected, EventProgress, EventCompleted, EventFailed} {
		assert.Zero(t, rec.count(et))
	}
	assert.Zero(t, rec.errorCount())
}

func TestSession_TimeoutRemapsToError(t *testing.T) {
	srv := newWSServer(t)
	rec := newRecorder()
	s := NewSession(Config{BaseURL: srv.url()}, "task-1", rec.handlers())
	defer s.Disconnect()
	require.NoError(t, s.Connect(context.Background(), false))

	srv.send(t, `{"type":"timeout","task_id":"task-1","message":"no progress"}`)
	require.Eventually(t, func() bool { return rec.errorCount() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, rec.catchAllCount())
}

func TestSession_PongTriggersNoHandler(t *testing.T) {
	srv := newWSServer(t)
	rec := newRecorder()
	s := NewSession(Config{BaseURL: srv.url()}, "task-1", rec.handlers())
	defer s.Disconnect()
	require.NoError(t, s.Connect(context.Background(), false))

	srv.send(t, `{"type":"pong","task_id":"task-1"}`)
	srv.send(t, `{"type":"connected","task_id":"task-1"}`)

	require.Eventually(t, func() bool { return rec.count(EventConnected) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, rec.catchAllCount(), "pong must not reach the catch-all")
}

func TestSession_MalformedFramesAreDropped(t *testing.T) {
	srv := newWSServer(t)
	rec := newRecorder()
	s := NewSession(Config{BaseURL: srv.url()}, "task-1", rec.handlers())
	defer s.Disconnect()
	require.NoError(t, s.Connect(context.Background(), false))

	srv.send(t, `this is not json`)
	srv.send(t, `{"task_id":"task-1"}`) // missing type
	srv.send(t, `{"type":"connected","task_id":"task-1"}`)

	// The connection survives the garbage and the valid frame still arrives.
	require.Eventually(t, func() bool { return rec.count(EventConnected) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, rec.catchAllCount())
	assert.Equal(t, StateOpen, s.State())
}

func TestSession_Heartbeat(t *testing.T) {
	srv := newWSServer(t)
	s := NewSession(Config{BaseURL: srv.url(), HeartbeatInterval: 10 * time.Millisecond}, "task-1", Handlers{})
	defer s.Disconnect()
	require.NoError(t, s.Connect(context.Background(), false))

	select {
	case data := <-srv.inbound:
		assert.JSONEq(t, `{"type":"ping"}`, string(data))
	case <-time.After(time.Second):
		t.Fatal("no heartbeat ping received")
	}
}

func TestSession_ReconnectBound(t *testing.T) {
	srv := newWSServer(t)
	srv.closeNow.Store(true)

	s := NewSession(Config{BaseURL: srv.url(), ReconnectBase: 5 * time.Millisecond}, "task-1", Handlers{})
	require.NoError(t, s.Connect(context.Background(), false))

	// First dial succeeds and is closed server-side; the three reconnect
	// attempts are then refused. 1 + 3 dials total, then the session gives up.
	require.Eventually(t, func() bool { return s.State() == StateClosed }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(4), srv.dials.Load())

	// No stray attempt after giving up.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(4), srv.dials.Load())
}

func TestSession_NoReconnectAfterDisconnect(t *testing.T) {
	srv := newWSServer(t)
	s := NewSession(Config{BaseURL: srv.url(), ReconnectBase: 5 * time.Millisecond}, "task-1", Handlers{})
	require.NoError(t, s.Connect(context.Background(), false))

	s.Disconnect()
	s.Disconnect() // idempotent

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), srv.dials.Load())
	assert.Equal(t, StateClosed, s.State())
}

func TestSession_ReconnectDelayIsLinear(t *testing.T) {
	s := NewSession(Config{BaseURL: "ws://localhost:0"}, "task-1", Handlers{})

	assert.Equal(t, 2*time.Second, s.reconnectDelay(1))
	assert.Equal(t, 4*time.Second, s.reconnectDelay(2))
	assert.Equal(t, 6*time.Second, s.reconnectDelay(3))
}

func TestSession_SendDroppedWhenNotOpen(t *testing.T) {
	s := NewSession(Config{BaseURL: "ws://localhost:0"}, "task-1", Handlers{})
	s.Send(outbound{Type: "ping"}) // must not panic
	assert.Equal(t, StateIdle, s.State())
}

func TestSession_EndpointIncludesHistoryFlag(t *testing.T) {
	s := NewSession(Config{BaseURL: "ws://api.example.com/"}, "task-9", Handlers{})
	assert.Equal(t, "ws://api.example.com/api/v1/ws/task-9?include_history=true", s.endpoint(true))
	assert.Equal(t, "ws://api.example.com/api/v1/ws/task-9?include_history=false", s.endpoint(false))
}
