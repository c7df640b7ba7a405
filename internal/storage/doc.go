// Package storage defines the durable message log and session table consumed
// by the chat core, together with a BadgerDB implementation and an in-memory
// implementation used in tests.
package storage
