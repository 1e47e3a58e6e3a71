package hub

import "errors"

// Domain errors for the hub package.
var (
	// ErrInvalidInput is returned when a registration or dispatch request
	// is missing required fields. Caller error, not retried.
	ErrInvalidInput = errors.New("hub: invalid input")

	// ErrAuthenticationFailed is returned when a registration token is
	// bad, expired or consumed, or when an unknown device registers
	// without a token under a token-required policy.
	ErrAuthenticationFailed = errors.New("hub: authentication failed")

	// ErrStorage is returned when the backing store fails. The whole
	// registration aborted with no partial state; safe to retry.
	ErrStorage = errors.New("hub: storage failure")

	// ErrDeviceOffline is returned by dispatch when no live connection
	// exists for the logical ID.
	ErrDeviceOffline = errors.New("hub: device offline")

	// ErrDeviceUnresponsive is returned by dispatch when the device did
	// not acknowledge within the timeout.
	ErrDeviceUnresponsive = errors.New("hub: device unresponsive")

	// ErrTransportError is returned by dispatch when sending over the
	// live connection failed.
	ErrTransportError = errors.New("hub: transport failure")
)
