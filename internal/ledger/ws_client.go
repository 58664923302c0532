package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// TransferEvent is a settlement notification from a ledger mirror node.
type TransferEvent struct {
	TransferID string `json:"transferId"`
	TxID       string `json:"txId"`
	State      string `json:"state"`
	Reason     string `json:"reason"`
	SettledAt  int64  `json:"settledAt"`
}

// MirrorConfig configures mirror stream behavior.
type MirrorConfig struct {
	// ReconnectDelay is initial delay before a reconnect attempt.
	ReconnectDelay time.Duration
	// MaxReconnectDelay caps the delay between reconnect attempts.
	MaxReconnectDelay time.Duration
	// PingInterval is interval for sending ping frames.
	PingInterval time.Duration
	// ReadTimeout is timeout for reading messages.
	ReadTimeout time.Duration
	// WriteTimeout is timeout for writing messages.
	WriteTimeout time.Duration
}

// DefaultMirrorConfig returns default mirror stream configuration.
func DefaultMirrorConfig() MirrorConfig {
	return MirrorConfig{
		ReconnectDelay:    1 * time.Second,
		MaxReconnectDelay: 30 * time.Second,
		PingInterval:      30 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      10 * time.Second,
	}
}

// MirrorStream subscribes to settlement events over WebSocket. The stream
// reconnects and resubscribes on its own; consumers only read Events().
// Mirror delivery is at-least-once, so consumers must tolerate replays.
type MirrorStream struct {
	endpoint string
	config   MirrorConfig
	logger   *log.Logger

	conn   *websocket.Conn
	connMu sync.Mutex
	closed atomic.Bool

	events chan TransferEvent

	done chan struct{}
	wg   sync.WaitGroup
}

// NewMirrorStream connects to a mirror node and starts the event stream.
func NewMirrorStream(ctx context.Context, endpoint string, config *MirrorConfig, logger *log.Logger) (*MirrorStream, error) {
	cfg := DefaultMirrorConfig()
	if config != nil {
		cfg = *config
	}
	if logger == nil {
		logger = log.Default()
	}

	s := &MirrorStream{
		endpoint: endpoint,
		config:   cfg,
		logger:   logger,
		// Blocking send ensures no event loss; buffer absorbs burst
		events: make(chan TransferEvent, 1024),
		done:   make(chan struct{}),
	}

	if err := s.connect(ctx); err != nil {
		return nil, err
	}

	s.wg.Add(1)
	go s.readLoop()

	s.wg.Add(1)
	go s.pingLoop()

	return s, nil
}

// Events returns the settlement event channel. It is closed on Close.
func (s *MirrorStream) Events() <-chan TransferEvent {
	return s.events
}

// connect establishes the WebSocket connection and sends the subscribe frame.
func (s *MirrorStream) connect(ctx context.Context) error {
	s.connMu.Lock()
	defer s.connMu.Unlock()

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	conn, _, err := dialer.DialContext(ctx, s.endpoint, nil)
	if err != nil {
		return fmt.Errorf("websocket dial: %w", err)
	}

	sub := map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "transferSubscribe",
	}
	conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
	if err := conn.WriteJSON(sub); err != nil {
		conn.Close()
		return fmt.Errorf("write subscribe: %w", err)
	}

	s.conn = conn
	return nil
}

// Close closes the stream and the Events channel.
func (s *MirrorStream) Close() error {
	if s.closed.Swap(true) {
		return nil // Already closed
	}

	close(s.done)

	s.connMu.Lock()
	if s.conn != nil {
		s.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		s.conn.Close()
	}
	s.connMu.Unlock()

	s.wg.Wait()
	close(s.events)
	return nil
}

// readLoop reads messages and dispatches settlement events, reconnecting
// with exponential backoff on connection failure.
func (s *MirrorStream) readLoop() {
	defer s.wg.Done()

	reconnectDelay := s.config.ReconnectDelay

	for !s.closed.Load() {
		s.connMu.Lock()
		conn := s.conn
		s.connMu.Unlock()

		if conn == nil {
			if !s.reconnect(reconnectDelay) {
				return
			}
			reconnectDelay = reconnectDelay * 2
			if reconnectDelay > s.config.MaxReconnectDelay {
				reconnectDelay = s.config.MaxReconnectDelay
			}
			continue
		}

		conn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))

		_, message, err := conn.ReadMessage()
		if err != nil {
			if s.closed.Load() {
				return
			}

			s.logger.Printf("[mirror] read error, reconnecting: %v", err)
			s.connMu.Lock()
			if s.conn != nil {
				s.conn.Close()
				s.conn = nil
			}
			s.connMu.Unlock()
			continue
		}

		// Reset delay on successful read
		reconnectDelay = s.config.ReconnectDelay

		s.handleMessage(message)
	}
}

// reconnect waits delay then dials again. Returns false on shutdown.
func (s *MirrorStream) reconnect(delay time.Duration) bool {
	select {
	case <-s.done:
		return false
	case <-time.After(delay):
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.connect(ctx); err != nil {
		s.logger.Printf("[mirror] reconnect failed: %v", err)
	}
	return true
}

// handleMessage parses an incoming frame and forwards settlement events.
func (s *MirrorStream) handleMessage(message []byte) {
	var notif struct {
		JSONRPC string `json:"jsonrpc"`
		Method  string `json:"method"`
		Params  *struct {
			Result TransferEvent `json:"result"`
		} `json:"params"`
	}
	if err := json.Unmarshal(message, &notif); err != nil {
		return
	}
	if notif.Method != "transferNotification" || notif.Params == nil {
		// Subscription confirmations and errors land here; nothing to forward.
		return
	}

	event := notif.Params.Result
	if event.TransferID == "" {
		return
	}

	// Block until the consumer drains - never drop settlement events
	select {
	case s.events <- event:
	case <-s.done:
	}
}

// pingLoop sends periodic ping frames to keep the connection alive.
func (s *MirrorStream) pingLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.connMu.Lock()
			if s.conn != nil {
				s.conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
				if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					// Connection might be dead, reader will handle reconnect
				}
			}
			s.connMu.Unlock()
		}
	}
}
