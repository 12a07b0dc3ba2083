// Package connection implements the Connection Manager component.
//
// The Connection Manager:
//   - Owns exactly one WebSocket connection per client instance
//   - Drives the Disconnected/Connecting/Open state machine
//   - Answers transport keepalives inline, off the JSON path
//   - Reconnects with capped exponential backoff after ordinary closes
//   - Treats a policy-violation close as terminal: identity is purged,
//     the forced-logout hook fires, and no retry is scheduled
package connection
