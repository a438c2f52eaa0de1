// Package transporttest provides an in-process worker endpoint for tests.
package transporttest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Worker is a fake worker endpoint. Every accepted connection's inbound frames
// are forwarded to Received; Send writes to the most recent connection.
type Worker struct {
	t   testing.TB
	srv *httptest.Server

	mu       sync.Mutex
	conn     *websocket.Conn
	accepted int

	Received chan map[string]interface{}
	Accepted chan struct{}
}

// NewWorker starts a fake worker. It is shut down by t.Cleanup.
func NewWorker(t testing.TB) *Worker {
	w := &Worker{
		t:        t,
		Received: make(chan map[string]interface{}, 64),
		Accepted: make(chan struct{}, 16),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", w.handleWebSocket)
	w.srv = httptest.NewServer(mux)
	t.Cleanup(w.Close)
	return w
}

// URL returns the ws:// address of the endpoint.
func (w *Worker) URL() string {
	return "ws" + strings.TrimPrefix(w.srv.URL, "http") + "/ws"
}

// Connections returns how many connections have been accepted.
func (w *Worker) Connections() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.accepted
}

func (w *Worker) handleWebSocket(rw http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(rw, r, nil)
	if err != nil {
		w.t.Logf("websocket upgrade error: %v", err)
		return
	}

	w.mu.Lock()
	w.conn = conn
	w.accepted++
	w.mu.Unlock()

	select {
	case w.Accepted <- struct{}{}:
	default:
	}

	go w.readPump(conn)
}

func (w *Worker) readPump(conn *websocket.Conn) {
	defer conn.Close()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var frame map[string]interface{}
		if err := json.Unmarshal(data, &frame); err != nil {
			w.t.Logf("fake worker got invalid frame: %s", data)
			continue
		}
		select {
		case w.Received <- frame:
		default:
		}
	}
}

// Send writes a frame (marshalled from v) to the current connection.
func (w *Worker) Send(v interface{}) {
	w.t.Helper()

	data, err := json.Marshal(v)
	if err != nil {
		w.t.Fatalf("marshal frame: %v", err)
	}
	w.SendRaw(data)
}

// SendRaw writes raw bytes as a text frame to the current connection.
func (w *Worker) SendRaw(data []byte) {
	w.t.Helper()

	// The client's dial can return before the handler stored the connection.
	deadline := time.Now().Add(2 * time.Second)
	w.mu.Lock()
	for w.conn == nil && time.Now().Before(deadline) {
		w.mu.Unlock()
		time.Sleep(5 * time.Millisecond)
		w.mu.Lock()
	}
	defer w.mu.Unlock()
	if w.conn == nil {
		w.t.Fatalf("fake worker has no connection")
	}
	w.conn.SetWriteDeadline(time.Now().Add(2 * time.Second))
	if err := w.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		w.t.Fatalf("fake worker write: %v", err)
	}
}

// Drop closes the current connection without a close handshake.
func (w *Worker) Drop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.conn != nil {
		w.conn.Close()
		w.conn = nil
	}
}

// Next waits for the next frame the client sent.
func (w *Worker) Next(timeout time.Duration) (map[string]interface{}, bool) {
	select {
	case f := <-w.Received:
		return f, true
	case <-time.After(timeout):
		return nil, false
	}
}

// Close stops the endpoint.
func (w *Worker) Close() {
	w.Drop()
	w.srv.CloseClientConnections()
	w.srv.Close()
}
