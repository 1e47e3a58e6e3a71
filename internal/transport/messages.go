package transport

import (
	"encoding/json"
	"fmt"

	"github.com/nerrad567/edgehub-core/internal/device"
)

// Message type constants for the device channel.
const (
	// Inbound, device to hub.
	TypeRegister   = "register"
	TypeHeartbeat  = "heartbeat"
	TypeCommandAck = "command_ack"

	// Outbound, hub to device.
	TypeRegistrationResponse = "registration_response"
	TypeCommand              = "command"
	TypeConfigurationPush    = "configuration_push"
)

// Envelope frames every message on the device channel.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// RegisterPayload is the opening message of every device connection.
type RegisterPayload struct {
	Token          string           `json:"token,omitempty"`
	HardwareKey    string           `json:"hardware_key"`
	LogicalID      string           `json:"logical_id,omitempty"`
	NetworkAddress string           `json:"network_address,omitempty"`
	Telemetry      device.Telemetry `json:"telemetry"`
}

// HeartbeatPayload is a periodic telemetry report from a registered device.
// Absent fields follow the merge rules: identity strings and capacities are
// never blanked, point-in-time metrics always overwrite.
type HeartbeatPayload struct {
	Telemetry device.Telemetry `json:"telemetry"`
}

// AckPayload acknowledges a previously delivered command or configuration
// push, correlated by command ID.
type AckPayload struct {
	CommandID string `json:"command_id"`
	Success   bool   `json:"success"`
	Error     string `json:"error,omitempty"`
}

// RegistrationResponse tells the device whether registration succeeded and,
// on success, which logical ID the hub settled on. The assigned ID may differ
// from the requested one after collision handling.
type RegistrationResponse struct {
	Success           bool   `json:"success"`
	AssignedLogicalID string `json:"assigned_logical_id,omitempty"`
	AssignedGroup     string `json:"assigned_group,omitempty"`
	AssignedLocation  string `json:"assigned_location,omitempty"`
	Error             string `json:"error,omitempty"`
}

// Encode wraps a payload in an envelope of the given type and serialises it.
func Encode(msgType string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("transport: encoding %s payload: %w", msgType, err)
	}
	data, err := json.Marshal(Envelope{Type: msgType, Payload: raw})
	if err != nil {
		return nil, fmt.Errorf("transport: encoding %s envelope: %w", msgType, err)
	}
	return data, nil
}

// DecodeEnvelope parses the outer envelope without touching the payload.
func DecodeEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("transport: decoding envelope: %w", err)
	}
	if env.Type == "" {
		return Envelope{}, fmt.Errorf("transport: envelope missing type")
	}
	return env, nil
}
