// Package sinks contains event sink implementations: structured logs and a
// topic publisher.
package sinks
