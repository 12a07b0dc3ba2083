// Package api provides the REST collaborators the realtime client calls
// into: the connection-URL provider keyed by session token, the one-shot
// chat backlog fetch, and the logout endpoint invoked on forced
// termination.
package api
