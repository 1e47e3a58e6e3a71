package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/edgehub-core/internal/device"
	"github.com/nerrad567/edgehub-core/internal/hub"
	"github.com/nerrad567/edgehub-core/internal/infrastructure/config"
	"github.com/nerrad567/edgehub-core/internal/infrastructure/logging"
)

// Registrar is the registration lifecycle the handler drives. Implemented by
// hub.Coordinator.
type Registrar interface {
	Register(ctx context.Context, conn hub.DeviceConn, req hub.RegisterRequest) (*device.Device, error)
	Heartbeat(ctx context.Context, logicalID string, telemetry device.Telemetry) error
	Disconnect(ctx context.Context, logicalID string, conn hub.DeviceConn)
}

// AckSink receives command acknowledgements read off device connections.
// Implemented by hub.Dispatcher.
type AckSink interface {
	HandleAck(ack hub.Ack)
}

// Handler accepts device WebSocket connections and runs their message loop.
type Handler struct {
	coord Registrar
	acks  AckSink
	cfg   config.WebSocketConfig
	log   *logging.Logger
}

// NewHandler creates a device channel handler.
func NewHandler(coord Registrar, acks AckSink, cfg config.WebSocketConfig, log *logging.Logger) *Handler {
	return &Handler{
		coord: coord,
		acks:  acks,
		cfg:   cfg,
		log:   log.With("component", "transport"),
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		// Devices are not browsers; they authenticate with registration
		// tokens, not ambient cookies.
		return true
	},
}

// ServeHTTP upgrades the request and services the connection until it drops.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", "error", err, "remote", r.RemoteAddr)
		return
	}
	h.serve(r.Context(), ws, r.RemoteAddr)
}

// serve runs one device connection: registration first, then the message
// loop. The write pump starts only after the registration response has been
// written, so the response is always the first outbound frame.
func (h *Handler) serve(ctx context.Context, ws *websocket.Conn, remoteAddr string) {
	conn := newConn(ws, h.cfg, h.log)
	defer conn.Close() //nolint:errcheck // teardown path

	ws.SetReadLimit(int64(h.cfg.MaxMessageSize))

	dev, err := h.register(ctx, ws, conn, remoteAddr)
	if err != nil {
		h.writeResponse(ws, RegistrationResponse{Success: false, Error: publicError(err)})
		h.log.Info("registration rejected", "error", err, "remote", remoteAddr)
		return
	}

	h.writeResponse(ws, RegistrationResponse{
		Success:           true,
		AssignedLogicalID: dev.LogicalID,
		AssignedGroup:     dev.Group,
		AssignedLocation:  dev.Location,
	})
	conn.start()

	defer h.coord.Disconnect(context.WithoutCancel(ctx), dev.LogicalID, conn)

	h.readLoop(ctx, ws, dev.LogicalID)
}

// register reads the opening frame, which must be a register message, and
// runs it through the coordinator.
func (h *Handler) register(ctx context.Context, ws *websocket.Conn, conn *Conn, remoteAddr string) (*device.Device, error) {
	registerWait := time.Duration(h.cfg.RegisterTimeout) * time.Second
	//nolint:errcheck // Best-effort deadline; read error caught below
	ws.SetReadDeadline(time.Now().Add(registerWait))

	_, data, err := ws.ReadMessage()
	if err != nil {
		return nil, errors.New("transport: no register message received")
	}

	env, err := DecodeEnvelope(data)
	if err != nil {
		return nil, err
	}
	if env.Type != TypeRegister {
		return nil, errors.New("transport: first message must be register")
	}

	var payload RegisterPayload
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		return nil, errors.New("transport: malformed register payload")
	}
	if payload.NetworkAddress == "" {
		payload.NetworkAddress = remoteAddr
	}

	return h.coord.Register(ctx, conn, hub.RegisterRequest{
		Token:          payload.Token,
		HardwareKey:    payload.HardwareKey,
		LogicalID:      payload.LogicalID,
		NetworkAddress: payload.NetworkAddress,
		Telemetry:      payload.Telemetry,
	})
}

// readLoop consumes heartbeats and command acknowledgements until the
// connection drops. Any inbound frame refreshes the read deadline.
func (h *Handler) readLoop(ctx context.Context, ws *websocket.Conn, logicalID string) {
	readWait := time.Duration(h.cfg.PingInterval+h.cfg.PongTimeout) * time.Second
	//nolint:errcheck // Best-effort deadline on loop entry
	ws.SetReadDeadline(time.Now().Add(readWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(readWait))
	})

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.Warn("websocket read error", "error", err, "logical_id", logicalID)
			} else {
				h.log.Debug("websocket closed", "logical_id", logicalID)
			}
			return
		}
		//nolint:errcheck // Best-effort deadline reset
		ws.SetReadDeadline(time.Now().Add(readWait))

		env, err := DecodeEnvelope(data)
		if err != nil {
			h.log.Warn("unreadable device message", "error", err, "logical_id", logicalID)
			continue
		}

		switch env.Type {
		case TypeHeartbeat:
			var payload HeartbeatPayload
			if err := json.Unmarshal(env.Payload, &payload); err != nil {
				h.log.Warn("malformed heartbeat", "error", err, "logical_id", logicalID)
				continue
			}
			if err := h.coord.Heartbeat(ctx, logicalID, payload.Telemetry); err != nil {
				h.log.Warn("heartbeat rejected", "error", err, "logical_id", logicalID)
			}
		case TypeCommandAck:
			var payload AckPayload
			if err := json.Unmarshal(env.Payload, &payload); err != nil {
				h.log.Warn("malformed command ack", "error", err, "logical_id", logicalID)
				continue
			}
			h.acks.HandleAck(hub.Ack{
				CommandID: payload.CommandID,
				Success:   payload.Success,
				Error:     payload.Error,
			})
		case TypeRegister:
			// Re-registration requires a fresh connection.
			h.log.Warn("duplicate register message ignored", "logical_id", logicalID)
		default:
			h.log.Debug("unknown message type", "type", env.Type, "logical_id", logicalID)
		}
	}
}

// writeResponse writes a registration response directly; the write pump is
// not running during the registration phase.
func (h *Handler) writeResponse(ws *websocket.Conn, resp RegistrationResponse) {
	data, err := Encode(TypeRegistrationResponse, resp)
	if err != nil {
		h.log.Error("encoding registration response", "error", err)
		return
	}
	writeWait := time.Duration(h.cfg.PongTimeout) * time.Second
	//nolint:errcheck // Best-effort deadline; write error caught below
	ws.SetWriteDeadline(time.Now().Add(writeWait))
	if err := ws.WriteMessage(websocket.TextMessage, data); err != nil {
		h.log.Debug("writing registration response", "error", err)
	}
}

// publicError maps an internal registration failure to the message sent back
// to the device. Storage details never cross the wire.
func publicError(err error) string {
	switch {
	case errors.Is(err, hub.ErrAuthenticationFailed):
		return "authentication failed"
	case errors.Is(err, hub.ErrInvalidInput):
		return "invalid registration request"
	default:
		return "registration failed"
	}
}
