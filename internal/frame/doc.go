// Package frame implements the wire codec for the realtime stream.
//
// The codec:
//   - Classifies every inbound frame exactly once (keepalive, control, domain)
//   - Answers nothing itself; callers act on the classification
//   - Encodes outbound subscribe/unsubscribe control frames
//   - Converts domain frames into dispatchable events
package frame
