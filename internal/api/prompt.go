package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
)

// ErrNoPromptID is returned when the remote accepted a submission without
// returning a prompt id.
var ErrNoPromptID = errors.New("response has no prompt_id")

// ErrHistoryNotFound is returned when the remote has no history for a prompt.
var ErrHistoryNotFound = errors.New("prompt not in history")

// SubmitPrompt queues a workflow. clientID routes progress frames to the
// WebSocket connection opened with the same id.
func (c *Client) SubmitPrompt(ctx context.Context, workflow json.RawMessage, clientID string) (*PromptResponse, error) {
	if len(workflow) == 0 {
		return nil, errors.New("workflow is empty")
	}

	var resp PromptResponse
	req := PromptRequest{Prompt: workflow, ClientID: clientID}
	if err := c.post(ctx, "/prompt", req, &resp); err != nil {
		return nil, fmt.Errorf("submit prompt: %w", err)
	}
	if resp.PromptID == "" {
		return nil, fmt.Errorf("submit prompt: %w", ErrNoPromptID)
	}

	c.logger.Debug("prompt submitted", "prompt_id", resp.PromptID, "number", resp.Number)
	return &resp, nil
}

// DeleteFromQueue removes prompts from the remote queue.
func (c *Client) DeleteFromQueue(ctx context.Context, promptIDs ...string) error {
	if len(promptIDs) == 0 {
		return nil
	}
	if err := c.post(ctx, "/queue", QueueDeleteRequest{Delete: promptIDs}, nil); err != nil {
		return fmt.Errorf("delete from queue: %w", err)
	}
	return nil
}

// Interrupt stops the prompt the instance is currently executing.
func (c *Client) Interrupt(ctx context.Context) error {
	if err := c.post(ctx, "/interrupt", struct{}{}, nil); err != nil {
		return fmt.Errorf("interrupt: %w", err)
	}
	return nil
}

// History fetches the history record of a prompt.
func (c *Client) History(ctx context.Context, promptID string) (*HistoryEntry, error) {
	var all map[string]json.RawMessage
	if err := c.get(ctx, "/history/"+url.PathEscape(promptID), &all); err != nil {
		return nil, fmt.Errorf("get history: %w", err)
	}

	raw, ok := all[promptID]
	if !ok {
		return nil, ErrHistoryNotFound
	}

	var entry HistoryEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return nil, fmt.Errorf("decode history entry: %w", err)
	}
	entry.Raw = raw
	return &entry, nil
}
