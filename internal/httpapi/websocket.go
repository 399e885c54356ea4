package httpapi

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"audio-transcriber/internal/jobs"
)

// closeCodeJobNotFound is sent when the requested job id is unknown.
const closeCodeJobNotFound = 4004

const writeTimeout = 10 * time.Second

// upgrader accepts cross-origin websocket requests; origin policy is
// enforced by the CORS middleware on the rest of the API.
var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsConn serializes writes to one websocket connection; the event
// forwarder and the ping responder write concurrently.
type wsConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

// writeJSON sends one JSON frame under the write lock.
func (w *wsConn) writeJSON(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return w.conn.WriteJSON(v)
}

// writeText sends one text frame under the write lock.
func (w *wsConn) writeText(message string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return w.conn.WriteMessage(websocket.TextMessage, []byte(message))
}

// writeClose sends a close frame under the write lock.
func (w *wsConn) writeClose(code int, reason string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	w.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason))
}

// handleWebSocket streams a job's events to one observer. The first frame
// replays the job's current state; the connection closes after the
// terminal event. A client text frame "ping" is answered with "pong".
func (s *Server) handleWebSocket(c echo.Context) error {
	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}
	defer conn.Close()
	ws := &wsConn{conn: conn}

	sub, err := s.manager.Subscribe(c.Param("id"))
	if err != nil {
		if errors.Is(err, jobs.ErrJobNotFound) {
			ws.writeClose(closeCodeJobNotFound, "Job not found")
			return nil
		}
		ws.writeClose(websocket.CloseInternalServerErr, "subscribe failed")
		return nil
	}
	defer sub.Close()

	// Reader loop: detects client disconnect and answers keepalive pings.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			kind, message, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if kind == websocket.TextMessage && string(message) == "ping" {
				if err := ws.writeText("pong"); err != nil {
					return
				}
			}
		}
	}()

	for {
		select {
		case event, ok := <-sub.Events():
			if !ok {
				ws.writeClose(websocket.CloseNormalClosure, "")
				return nil
			}
			if err := ws.writeJSON(event); err != nil {
				return nil
			}
		case <-done:
			return nil
		case <-c.Request().Context().Done():
			return nil
		}
	}
}
