// Package realtime wires the subscription client together: one connection
// manager, one subscription coordinator, one history gate, and one
// cross-context broadcaster per identity. The Service is the only surface
// the UI layer talks to.
package realtime
