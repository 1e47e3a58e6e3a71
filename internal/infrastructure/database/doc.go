// Package database manages the SQLite connection and schema migrations
// for the Edge Hub registry store.
//
// SQLite is configured for a single writer with WAL mode, which matches
// the hub's write pattern: one registration commits at a time per device,
// with concurrent reads from the API and dispatcher.
package database
