package api

// HistoryResponse from GET /api/chat/history.
type HistoryResponse struct {
	Messages []HistoryMessage `json:"messages"`
}

// HistoryMessage is one backlog entry, in the same compact field layout the
// stream uses.
type HistoryMessage struct {
	ID      string `json:"id"`
	Kind    string `json:"t"` // "message", "system", "join", "leave"
	Author  string `json:"u"`
	Content string `json:"c"`
	Sent    int64  `json:"d"` // unix seconds
}
