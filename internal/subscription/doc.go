// Package subscription turns the desired topic set into confirmed
// server-side subscriptions.
//
// The handshake is strictly sequential: one subscribe in flight at a time,
// acknowledged by topic name (the protocol has no request correlation) or
// abandoned after a timeout so an unresponsive topic never blocks the rest
// of the set.
//
// Known limitation: because acks correlate only by topic, a rapid
// subscribe/unsubscribe/resubscribe cycle can race a stale ack. The most
// recent desired-state transition is authoritative; an ack for a topic
// that is no longer desired is discarded.
package subscription
