package api

import "encoding/json"

// PromptRequest is the body of POST /prompt.
type PromptRequest struct {
	Prompt   json.RawMessage `json:"prompt"`
	ClientID string          `json:"client_id"`
}

// PromptResponse is returned by POST /prompt.
type PromptResponse struct {
	PromptID   string          `json:"prompt_id"`
	Number     int             `json:"number"`
	NodeErrors json.RawMessage `json:"node_errors,omitempty"`
}

// QueueDeleteRequest is the body of POST /queue.
type QueueDeleteRequest struct {
	Delete []string `json:"delete"`
}

// HistoryEntry is one prompt's record in GET /history/{id}.
type HistoryEntry struct {
	Outputs map[string]json.RawMessage `json:"outputs"`
	Status  HistoryStatus              `json:"status"`
	Raw     json.RawMessage            `json:"-"`
}

// HistoryStatus summarises how a prompt finished.
type HistoryStatus struct {
	StatusStr string `json:"status_str"`
	Completed bool   `json:"completed"`
}
