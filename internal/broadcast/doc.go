// Package broadcast keeps sibling execution contexts of the same client in
// sync. Classified domain events are mirrored onto a best-effort local bus
// scoped to the client identity; every context re-dispatches inbound bus
// envelopes through the same local path used for frames received directly
// from the socket, so consumers cannot tell relayed delivery apart.
//
// The bus is an injected capability: Redis pub/sub for multi-process
// hosts, an in-process fan-out for single-context hosts and tests.
package broadcast
