// Package protocol defines the JSON text frames exchanged between session
// hubs and their clients: the eight tagged domain events, the ping/pong
// heartbeat pair, and the per-connection attachment metadata.
package protocol
