// Package logging provides the structured logger used across Edge Hub.
//
// It wraps log/slog with configuration-driven level, format, and output
// selection, and attaches service/version fields to every record.
package logging
