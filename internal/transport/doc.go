// Package transport carries the persistent device channel over WebSocket.
//
// Each connection speaks newline-free JSON envelopes: the device opens with a
// register message, then sends heartbeats and command acknowledgements; the
// hub replies with a registration response and pushes commands and
// configuration updates. The package owns framing and pump lifecycle only;
// registration, identity and dispatch semantics live in internal/hub.
package transport
