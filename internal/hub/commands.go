package hub

// Command is a typed instruction sent to a device over its live connection.
type Command struct {
	ID     string         `json:"id"`
	Name   string         `json:"name"`
	Params map[string]any `json:"params,omitempty"`
}

// Well-known command names. Devices may support more; these are the ones
// the hub itself gives meaning to.
const (
	CommandRestart  = "restart"
	CommandUpdate   = "update"
	CommandIdentify = "identify"
)

// Ack is a device's acknowledgement of a command or configuration push.
type Ack struct {
	CommandID string `json:"command_id"`
	Success   bool   `json:"success"`
	Error     string `json:"error,omitempty"`
}

// ConfigurationPush instructs a device to fetch and apply a configuration.
type ConfigurationPush struct {
	CommandID string `json:"command_id"`
	ConfigID  string `json:"config_id"`
}
