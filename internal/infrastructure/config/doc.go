// Package config loads and validates Edge Hub configuration.
//
// Configuration is read from a YAML file, merged over hardcoded defaults,
// and finally overridden by EDGEHUB_* environment variables. Secrets
// (JWT secret, admin key, broker credentials) should come from the
// environment rather than the file on shared systems.
package config
