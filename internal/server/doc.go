// Package server implements the core of the anonymous chat service: identity
// reconciliation, the presence registry, message routing, typing signals, and
// bounded history with scheduled retention.
//
// The implementation is organized into specialized files for configuration,
// hub management, clients, routing, and HTTP handlers to keep the codebase
// maintainable and testable as the project grows.
package server
