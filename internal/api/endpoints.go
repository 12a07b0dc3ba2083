package api

import (
	"context"
	"net/http"
)

// FetchHistory retrieves the ordered chat backlog. Retried on transient
// failures; callers treat any final error as fail-open.
func (c *Client) FetchHistory(ctx context.Context) ([]HistoryMessage, error) {
	var resp HistoryResponse
	if err := c.get(ctx, "/api/chat/history", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Messages, nil
}

// Logout invalidates the session server-side. Called on forced
// termination; failures are logged by the caller, never retried.
func (c *Client) Logout(ctx context.Context) error {
	_, err := c.doRequest(ctx, http.MethodPost, "/api/logout", nil)
	return err
}
