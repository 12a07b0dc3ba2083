package connection

import (
	"errors"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
)

// Errors
var (
	ErrNotConnected    = errors.New("not connected")
	ErrStaleConnection = errors.New("connection stale (no keepalive)")
	ErrAlreadyClosed   = errors.New("already closed")
	ErrTornDown        = errors.New("manager torn down")
)

// PolicyViolationCode is the close code the server uses to signal that the
// session or credentials are invalid. Closes carrying it are terminal.
const PolicyViolationCode = websocket.ClosePolicyViolation

// CloseError carries the close code of a server-initiated close so the
// manager can distinguish forced termination from network flakiness.
type CloseError struct {
	Code int
	Text string
}

func (e *CloseError) Error() string {
	return fmt.Sprintf("connection closed: code=%d text=%q", e.Code, e.Text)
}

// IsPolicyViolation reports whether err is a close with the policy
// violation code.
func IsPolicyViolation(err error) bool {
	var ce *CloseError
	return errors.As(err, &ce) && ce.Code == PolicyViolationCode
}

// State is the lifecycle of the duplex link.
type State int

const (
	Disconnected State = iota
	Connecting
	Open
	Closing
	Terminated
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Open:
		return "open"
	case Closing:
		return "closing"
	case Terminated:
		return "terminated"
	}
	return "unknown"
}

// TimestampedMessage wraps raw frame data with its receive timestamp.
type TimestampedMessage struct {
	Data       []byte
	ReceivedAt time.Time
}

// ClientConfig configures a WebSocket client.
type ClientConfig struct {
	URL          string        // full stream URL including the session token
	PingTimeout  time.Duration // max time without a keepalive before the link is stale
	WriteTimeout time.Duration // write deadline for sends
	BufferSize   int           // message channel buffer size
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		PingTimeout:  60 * time.Second,
		WriteTimeout: 5 * time.Second,
		BufferSize:   256,
	}
}

// ManagerConfig configures the Connection Manager.
type ManagerConfig struct {
	ReconnectBaseDelay time.Duration // base wait before the first retry
	ReconnectMaxDelay  time.Duration // cap on the retry delay
	PingTimeout        time.Duration
	WriteTimeout       time.Duration
	BufferSize         int
}

// DefaultManagerConfig returns sensible defaults.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		ReconnectBaseDelay: 1 * time.Second,
		ReconnectMaxDelay:  30 * time.Second,
		PingTimeout:        60 * time.Second,
		WriteTimeout:       5 * time.Second,
		BufferSize:         256,
	}
}
