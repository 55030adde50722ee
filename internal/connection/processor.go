package connection

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/gorilla/websocket"

	"github.com/nmoagit/x121-sub001/internal/events"
	"github.com/nmoagit/x121-sub001/internal/messages"
	"github.com/nmoagit/x121-sub001/internal/store"
)

// processor turns one instance's frames into store updates and events. It
// is owned by a single supervisor goroutine and is not safe for concurrent
// use.
type processor struct {
	instanceID int64
	store      store.Store
	bus        *events.Bus
	logger     *slog.Logger

	// Prompt named by the last executing frame; used for progress frames
	// from servers that omit prompt_id.
	active string

	// Per-prompt node outputs collected from executed frames.
	outputs map[string]map[string]json.RawMessage
}

func newProcessor(instanceID int64, st store.Store, bus *events.Bus, logger *slog.Logger) *processor {
	return &processor{
		instanceID: instanceID,
		store:      st,
		bus:        bus,
		logger:     logger,
		outputs:    make(map[string]map[string]json.RawMessage),
	}
}

// run consumes frames until the connection ends or ctx is cancelled. It
// returns the error that ended the connection, nil for a clean end.
func (p *processor) run(ctx context.Context, c Client) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case f, ok := <-c.Frames():
			if !ok {
				select {
				case err := <-c.Errors():
					return err
				default:
					return nil
				}
			}
			p.handleFrame(ctx, f)
		}
	}
}

func (p *processor) handleFrame(ctx context.Context, f Frame) {
	if f.Type != websocket.TextMessage {
		p.logger.Debug("ignoring non-text frame", "type", f.Type, "bytes", len(f.Data))
		return
	}

	msg, err := messages.Parse(f.Data)
	if err != nil {
		p.logger.Warn("dropping malformed frame", "error", err)
		return
	}

	switch m := msg.(type) {
	case messages.ExecutionStart:
		p.handleExecutionStart(ctx, m)
	case messages.Executing:
		p.handleExecuting(ctx, m)
	case messages.Progress:
		p.handleProgress(ctx, m)
	case messages.Executed:
		p.handleExecuted(ctx, m)
	case messages.ExecutionError:
		p.handleExecutionError(ctx, m)
	case messages.ExecutionCached:
		p.logger.Debug("execution cached", "prompt_id", m.PromptID, "nodes", len(m.Nodes))
	case messages.Status:
		p.logger.Debug("queue status", "queue_remaining", m.QueueRemaining)
	case messages.Unknown:
		p.logger.Debug("ignoring unknown message", "type", m.Kind)
	}
}

// lookup finds our running execution for promptID. ok is false for prompts
// that were not submitted through this manager, for executions that already
// finished or were cancelled, and on store failure.
func (p *processor) lookup(ctx context.Context, promptID string) (*store.Execution, bool) {
	exec, err := p.store.FindExecutionByPromptID(ctx, p.instanceID, promptID)
	if errors.Is(err, store.ErrNotFound) {
		p.logger.Debug("skipping message for unknown prompt", "prompt_id", promptID)
		return nil, false
	}
	if err != nil {
		p.logger.Warn("failed to look up execution", "prompt_id", promptID, "error", err)
		return nil, false
	}
	if exec.Status.Terminal() {
		delete(p.outputs, promptID)
		if p.active == promptID {
			p.active = ""
		}
		p.logger.Debug("skipping message for finished execution",
			"prompt_id", promptID,
			"status", exec.Status,
		)
		return nil, false
	}
	return exec, true
}

func (p *processor) job(exec *store.Execution) events.Job {
	return events.Job{PlatformJobID: exec.PlatformJobID, PromptID: exec.PromptID}
}

func (p *processor) handleExecutionStart(ctx context.Context, m messages.ExecutionStart) {
	p.active = m.PromptID
	exec, ok := p.lookup(ctx, m.PromptID)
	if !ok {
		return
	}

	if err := p.store.MarkExecutionStarted(ctx, exec.ID); err != nil {
		p.logger.Warn("failed to mark execution started", "execution_id", exec.ID, "error", err)
	}
	p.bus.Publish(events.NewGenerationStartedEvent(p.instanceID, p.job(exec)))
}

func (p *processor) handleExecuting(ctx context.Context, m messages.Executing) {
	if m.Done() {
		if p.active == m.PromptID {
			p.active = ""
		}
		outputs := p.outputs[m.PromptID]
		delete(p.outputs, m.PromptID)

		exec, ok := p.lookup(ctx, m.PromptID)
		if !ok {
			return
		}
		if err := p.store.MarkExecutionCompleted(ctx, exec.ID); err != nil {
			p.logger.Warn("failed to mark execution completed", "execution_id", exec.ID, "error", err)
		}
		p.logger.Info("generation completed",
			"platform_job_id", exec.PlatformJobID,
			"prompt_id", exec.PromptID,
			"outputs", len(outputs),
		)
		p.bus.Publish(events.NewGenerationCompletedEvent(p.instanceID, p.job(exec), outputs))
		return
	}

	p.active = m.PromptID
	exec, ok := p.lookup(ctx, m.PromptID)
	if !ok {
		return
	}
	if err := p.store.UpdateExecutionNode(ctx, exec.ID, *m.Node); err != nil {
		p.logger.Warn("failed to update current node", "execution_id", exec.ID, "error", err)
	}
}

func (p *processor) handleProgress(ctx context.Context, m messages.Progress) {
	promptID := m.PromptID
	if promptID == "" {
		promptID = p.active
	}
	if promptID == "" {
		p.logger.Debug("progress without an active prompt", "value", m.Value, "max", m.Max)
		return
	}

	exec, ok := p.lookup(ctx, promptID)
	if !ok {
		return
	}

	percent := m.Percent()
	if err := p.store.UpdateExecutionProgress(ctx, exec.ID, percent, m.Node); err != nil {
		p.logger.Warn("failed to update progress", "execution_id", exec.ID, "error", err)
	}

	node := m.Node
	if node == "" && exec.CurrentNode != nil {
		node = *exec.CurrentNode
	}
	p.bus.Publish(events.NewGenerationProgressEvent(p.instanceID, p.job(exec), percent, node))
}

func (p *processor) handleExecuted(ctx context.Context, m messages.Executed) {
	if _, ok := p.lookup(ctx, m.PromptID); !ok {
		return
	}
	outs, ok := p.outputs[m.PromptID]
	if !ok {
		outs = make(map[string]json.RawMessage)
		p.outputs[m.PromptID] = outs
	}
	outs[m.Node] = m.Output
}

func (p *processor) handleExecutionError(ctx context.Context, m messages.ExecutionError) {
	if p.active == m.PromptID {
		p.active = ""
	}
	delete(p.outputs, m.PromptID)

	exec, ok := p.lookup(ctx, m.PromptID)
	if !ok {
		return
	}

	message := m.ExceptionMessage
	if message == "" {
		message = m.ExceptionType
	}
	if err := p.store.MarkExecutionFailed(ctx, exec.ID, message); err != nil {
		p.logger.Warn("failed to mark execution failed", "execution_id", exec.ID, "error", err)
	}
	p.logger.Warn("generation failed",
		"platform_job_id", exec.PlatformJobID,
		"prompt_id", exec.PromptID,
		"node_id", m.NodeID,
		"error", message,
	)
	p.bus.Publish(events.NewGenerationErrorEvent(p.instanceID, p.job(exec), message))
}
