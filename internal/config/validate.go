package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate checks that all required fields are set and values are valid.
func (c *Config) Validate() error {
	if c.API.BaseURL == "" {
		return errors.New("api.base_url is required")
	}
	if c.API.WSBaseURL == "" {
		return errors.New("api.ws_base_url is required")
	}
	if !strings.HasPrefix(c.API.WSBaseURL, "ws://") && !strings.HasPrefix(c.API.WSBaseURL, "wss://") {
		return fmt.Errorf("api.ws_base_url must be a ws:// or wss:// URL, got %q", c.API.WSBaseURL)
	}

	if c.Connection.ReconnectBaseDelay <= 0 {
		return errors.New("connection.reconnect_base_delay must be > 0")
	}
	if c.Connection.ReconnectMaxDelay < c.Connection.ReconnectBaseDelay {
		return fmt.Errorf("connection.reconnect_max_delay (%v) cannot be below reconnect_base_delay (%v)",
			c.Connection.ReconnectMaxDelay, c.Connection.ReconnectBaseDelay)
	}
	if c.Connection.BufferSize < 1 {
		return errors.New("connection.buffer_size must be >= 1")
	}

	if c.Subscription.AckTimeout <= 0 {
		return errors.New("subscription.ack_timeout must be > 0")
	}

	return nil
}
