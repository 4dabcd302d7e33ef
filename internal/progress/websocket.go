package progress

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const writeWait = 5 * time.Second

// WebSocketSink pushes events as JSON messages to a remote observer. The
// connection is dialed lazily and redialed once after a failed write.
type WebSocketSink struct {
	url    string
	dialer *websocket.Dialer
	conn   *websocket.Conn
	logger *slog.Logger
	mu     sync.Mutex
	closed bool
}

// NewWebSocketSink creates a sink for url (ws:// or wss://)
func NewWebSocketSink(url string, logger *slog.Logger) (*WebSocketSink, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	if url == "" {
		return nil, fmt.Errorf("progress url is required")
	}
	return &WebSocketSink{
		url:    url,
		dialer: &websocket.Dialer{HandshakeTimeout: writeWait},
		logger: logger,
	}, nil
}

// Publish writes ev, reconnecting once if the connection has dropped
func (s *WebSocketSink) Publish(ctx context.Context, ev Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("sink is closed")
	}

	var err error
	for attempt := 0; attempt < 2; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			if err == nil {
				err = ctxErr
			}
			break
		}
		if s.conn == nil {
			if err = s.dial(ctx); err != nil {
				continue
			}
		}
		s.conn.SetWriteDeadline(writeDeadline(ctx))
		if err = s.conn.WriteJSON(ev); err == nil {
			return nil
		}
		s.logger.Warn("progress write failed, reconnecting", "url", s.url, "error", err)
		s.conn.Close()
		s.conn = nil
	}
	return fmt.Errorf("failed to publish progress event: %w", err)
}

// writeDeadline is writeWait from now or the context deadline, whichever is sooner
func writeDeadline(ctx context.Context) time.Time {
	d := time.Now().Add(writeWait)
	if cd, ok := ctx.Deadline(); ok && cd.Before(d) {
		return cd
	}
	return d
}

func (s *WebSocketSink) dial(ctx context.Context) error {
	conn, _, err := s.dialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return fmt.Errorf("failed to connect to WebSocket: %w", err)
	}
	s.conn = conn
	s.logger.Info("connected progress WebSocket", "url", s.url)
	return nil
}

// Close sends a close frame and disconnects
func (s *WebSocketSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	if s.conn != nil {
		s.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		s.conn.Close()
		s.conn = nil
	}

	s.logger.Info("closed progress WebSocket", "url", s.url)
	return nil
}
