// Package events carries connection and generation events from the
// connection manager to any number of independent subscribers.
package events

import (
	"encoding/json"
	"time"
)

// Event type constants.
const (
	TypeInstanceConnected    = "instance_connected"
	TypeInstanceDisconnected = "instance_disconnected"
	TypeGenerationStarted    = "generation_started"
	TypeGenerationProgress   = "generation_progress"
	TypeGenerationCompleted  = "generation_completed"
	TypeGenerationError      = "generation_error"
	TypeGenerationCancelled  = "generation_cancelled"
)

// Event is the base interface for all events.
type Event interface {
	EventType() string
	Timestamp() time.Time
	InstanceID() int64
}

// BaseEvent provides common fields for all events.
type BaseEvent struct {
	Type     string    `json:"type"`
	Time     time.Time `json:"timestamp"`
	Instance int64     `json:"instance_id"`
}

func (e BaseEvent) EventType() string    { return e.Type }
func (e BaseEvent) Timestamp() time.Time { return e.Time }
func (e BaseEvent) InstanceID() int64    { return e.Instance }

// NewBaseEvent creates a new base event stamped with the current time.
func NewBaseEvent(eventType string, instanceID int64) BaseEvent {
	return BaseEvent{
		Type:     eventType,
		Time:     time.Now(),
		Instance: instanceID,
	}
}

// Job identifies the tracked execution an event refers to.
type Job struct {
	PlatformJobID int64  `json:"platform_job_id"`
	PromptID      string `json:"prompt_id"`
}

// InstanceConnectedEvent is emitted after a WebSocket connection is established.
type InstanceConnectedEvent struct {
	BaseEvent
}

// NewInstanceConnectedEvent creates a new instance connected event.
func NewInstanceConnectedEvent(instanceID int64) InstanceConnectedEvent {
	return InstanceConnectedEvent{BaseEvent: NewBaseEvent(TypeInstanceConnected, instanceID)}
}

// InstanceDisconnectedEvent is emitted when an established connection drops.
type InstanceDisconnectedEvent struct {
	BaseEvent
}

// NewInstanceDisconnectedEvent creates a new instance disconnected event.
func NewInstanceDisconnectedEvent(instanceID int64) InstanceDisconnectedEvent {
	return InstanceDisconnectedEvent{BaseEvent: NewBaseEvent(TypeInstanceDisconnected, instanceID)}
}

// GenerationStartedEvent is emitted when the remote begins executing a prompt.
type GenerationStartedEvent struct {
	BaseEvent
	Job
}

// NewGenerationStartedEvent creates a new generation started event.
func NewGenerationStartedEvent(instanceID int64, job Job) GenerationStartedEvent {
	return GenerationStartedEvent{
		BaseEvent: NewBaseEvent(TypeGenerationStarted, instanceID),
		Job:       job,
	}
}

// GenerationProgressEvent reports step progress and the node currently running.
type GenerationProgressEvent struct {
	BaseEvent
	Job
	Percent     int16  `json:"percent"`
	CurrentNode string `json:"current_node,omitempty"`
}

// NewGenerationProgressEvent creates a new generation progress event.
func NewGenerationProgressEvent(instanceID int64, job Job, percent int16, node string) GenerationProgressEvent {
	return GenerationProgressEvent{
		BaseEvent:   NewBaseEvent(TypeGenerationProgress, instanceID),
		Job:         job,
		Percent:     percent,
		CurrentNode: node,
	}
}

// GenerationCompletedEvent is emitted once per prompt when every node has run.
// Outputs maps node id to the output the remote reported for it.
type GenerationCompletedEvent struct {
	BaseEvent
	Job
	Outputs map[string]json.RawMessage `json:"outputs"`
}

// NewGenerationCompletedEvent creates a new generation completed event.
func NewGenerationCompletedEvent(instanceID int64, job Job, outputs map[string]json.RawMessage) GenerationCompletedEvent {
	if outputs == nil {
		outputs = map[string]json.RawMessage{}
	}
	return GenerationCompletedEvent{
		BaseEvent: NewBaseEvent(TypeGenerationCompleted, instanceID),
		Job:       job,
		Outputs:   outputs,
	}
}

// GenerationErrorEvent is emitted when the remote reports an execution error.
type GenerationErrorEvent struct {
	BaseEvent
	Job
	Message string `json:"error"`
}

// NewGenerationErrorEvent creates a new generation error event.
func NewGenerationErrorEvent(instanceID int64, job Job, message string) GenerationErrorEvent {
	return GenerationErrorEvent{
		BaseEvent: NewBaseEvent(TypeGenerationError, instanceID),
		Job:       job,
		Message:   message,
	}
}

// GenerationCancelledEvent is emitted after a job was removed from the remote queue.
type GenerationCancelledEvent struct {
	BaseEvent
	Job
}

// NewGenerationCancelledEvent creates a new generation cancelled event.
func NewGenerationCancelledEvent(instanceID int64, job Job) GenerationCancelledEvent {
	return GenerationCancelledEvent{
		BaseEvent: NewBaseEvent(TypeGenerationCancelled, instanceID),
		Job:       job,
	}
}
