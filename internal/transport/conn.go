package transport

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/edgehub-core/internal/hub"
	"github.com/nerrad567/edgehub-core/internal/infrastructure/config"
	"github.com/nerrad567/edgehub-core/internal/infrastructure/logging"
)

// ErrConnClosed is returned by sends on a connection that has been closed.
var ErrConnClosed = errors.New("transport: connection closed")

// sendBufferSize is the per-device outbound message buffer. Sends beyond it
// block until the write pump drains or the caller's context expires.
const sendBufferSize = 64

// Conn is one live device connection. It implements hub.DeviceConn: all
// outbound traffic is serialised through a single write pump, since a
// gorilla/websocket connection supports only one concurrent writer.
type Conn struct {
	ws  *websocket.Conn
	cfg config.WebSocketConfig
	log *logging.Logger

	send      chan []byte
	closed    chan struct{}
	closeOnce sync.Once
	startOnce sync.Once
}

func newConn(ws *websocket.Conn, cfg config.WebSocketConfig, log *logging.Logger) *Conn {
	return &Conn{
		ws:     ws,
		cfg:    cfg,
		log:    log,
		send:   make(chan []byte, sendBufferSize),
		closed: make(chan struct{}),
	}
}

// start launches the write pump. Until then sends queue in the buffer; the
// handler starts the pump once the registration response has been written,
// so the response is always the first frame the device receives.
func (c *Conn) start() {
	c.startOnce.Do(func() {
		go c.writePump()
	})
}

// SendCommand delivers a command to the device.
func (c *Conn) SendCommand(ctx context.Context, cmd hub.Command) error {
	data, err := Encode(TypeCommand, cmd)
	if err != nil {
		return err
	}
	return c.enqueue(ctx, data)
}

// SendConfiguration delivers a configuration push to the device.
func (c *Conn) SendConfiguration(ctx context.Context, push hub.ConfigurationPush) error {
	data, err := Encode(TypeConfigurationPush, push)
	if err != nil {
		return err
	}
	return c.enqueue(ctx, data)
}

// Close shuts the connection down. Safe to call more than once and safe to
// race with in-flight sends; queued messages not yet written are dropped.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		err = c.ws.Close()
	})
	return err
}

func (c *Conn) enqueue(ctx context.Context, data []byte) error {
	select {
	case <-c.closed:
		return ErrConnClosed
	default:
	}

	select {
	case c.send <- data:
		return nil
	case <-c.closed:
		return ErrConnClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// writePump owns all writes to the underlying socket: queued messages plus
// the protocol-level pings that keep the read deadline alive on the device.
func (c *Conn) writePump() {
	pingInterval := time.Duration(c.cfg.PingInterval) * time.Second
	writeWait := time.Duration(c.cfg.PongTimeout) * time.Second
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		_ = c.Close() //nolint:errcheck // pump exit always tears the socket down
	}()

	for {
		select {
		case data := <-c.send:
			//nolint:errcheck // Best-effort deadline; write error caught below
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				c.log.Debug("websocket write failed", "error", err)
				return
			}
		case <-ticker.C:
			//nolint:errcheck // Best-effort deadline; ping error caught below
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.closed:
			//nolint:errcheck // Best-effort close frame
			c.ws.WriteMessage(websocket.CloseMessage, nil)
			return
		}
	}
}
