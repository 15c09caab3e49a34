package notify

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

var (
	// ErrClientClosed is returned by Send once the connection is gone
	ErrClientClosed = errors.New("client closed")
	// ErrSlowClient is returned by Send when the client's queue is full
	ErrSlowClient = errors.New("client send queue full")
)

// WSConfig tunes a websocket client
type WSConfig struct {
	SendBuffer     int
	WriteWait      time.Duration
	PongWait       time.Duration
	PingPeriod     time.Duration
	MaxMessageSize int64
}

// DefaultWSConfig returns the settings used when none are configured
func DefaultWSConfig() WSConfig {
	return WSConfig{
		SendBuffer:     64,
		WriteWait:      10 * time.Second,
		PongWait:       60 * time.Second,
		PingPeriod:     54 * time.Second,
		MaxMessageSize: 4096,
	}
}

func (c WSConfig) withDefaults() WSConfig {
	d := DefaultWSConfig()
	if c.SendBuffer <= 0 {
		c.SendBuffer = d.SendBuffer
	}
	if c.WriteWait <= 0 {
		c.WriteWait = d.WriteWait
	}
	if c.PongWait <= 0 {
		c.PongWait = d.PongWait
	}
	if c.PingPeriod <= 0 || c.PingPeriod >= c.PongWait {
		c.PingPeriod = c.PongWait * 9 / 10
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = d.MaxMessageSize
	}
	return c
}

// WSClient is a Client backed by a gorilla websocket connection.
// Writes go through a buffered queue drained by a single writer goroutine.
type WSClient struct {
	id   string
	conn *websocket.Conn
	cfg  WSConfig

	send chan []byte
	// done is closed once; send is never closed so a late Send cannot panic
	done      chan struct{}
	closeOnce sync.Once
	closed    atomic.Bool
}

// NewWSClient wraps an upgraded connection
func NewWSClient(conn *websocket.Conn, cfg WSConfig) *WSClient {
	cfg = cfg.withDefaults()
	return &WSClient{
		id:   uuid.NewString(),
		conn: conn,
		cfg:  cfg,
		send: make(chan []byte, cfg.SendBuffer),
		done: make(chan struct{}),
	}
}

func (c *WSClient) ID() string { return c.id }

func (c *WSClient) IsOpen() bool { return !c.closed.Load() }

// Send queues data without blocking
func (c *WSClient) Send(data []byte) error {
	if c.closed.Load() {
		return ErrClientClosed
	}
	select {
	case <-c.done:
		return ErrClientClosed
	default:
	}
	select {
	case c.send <- data:
		return nil
	case <-c.done:
		return ErrClientClosed
	default:
		return ErrSlowClient
	}
}

// Close stops the pumps; the writer sends a close frame and closes the connection
func (c *WSClient) Close() {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		close(c.done)
	})
}

// Done is closed when the client has been closed
func (c *WSClient) Done() <-chan struct{} {
	return c.done
}

// Run serves the connection until the peer disconnects, Close is called or
// ctx is cancelled. It blocks.
func (c *WSClient) Run(ctx context.Context) {
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		c.writePump()
	}()
	go func() {
		select {
		case <-ctx.Done():
			c.Close()
		case <-c.done:
		}
	}()

	c.readPump()
	c.Close()
	<-writerDone
}

// readPump discards inbound frames; it only exists to process control frames
// and notice the disconnect.
func (c *WSClient) readPump() {
	c.conn.SetReadLimit(c.cfg.MaxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *WSClient) writePump() {
	ticker := time.NewTicker(c.cfg.PingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.Close()
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}
		case <-c.done:
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(c.cfg.WriteWait))
			return
		}
	}
}

// Reject sends a policy-violation close frame and closes the connection
func Reject(conn *websocket.Conn, reason string, writeWait time.Duration) error {
	if writeWait <= 0 {
		writeWait = DefaultWSConfig().WriteWait
	}
	err := conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason),
		time.Now().Add(writeWait))
	if cerr := conn.Close(); err == nil {
		err = cerr
	}
	return err
}
