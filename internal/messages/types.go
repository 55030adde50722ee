package messages

import "encoding/json"

// Message type discriminators.
const (
	TypeStatus          = "status"
	TypeExecutionStart  = "execution_start"
	TypeExecutionCached = "execution_cached"
	TypeExecuting       = "executing"
	TypeProgress        = "progress"
	TypeExecuted        = "executed"
	TypeExecutionError  = "execution_error"
)

// Message is one parsed frame. The set of implementations is closed:
// Status, ExecutionStart, ExecutionCached, Executing, Progress, Executed,
// ExecutionError and Unknown.
type Message interface {
	Type() string
	isMessage()
}

// Status reports the remote queue depth.
type Status struct {
	QueueRemaining int
}

// ExecutionStart is sent when a prompt starts executing.
type ExecutionStart struct {
	PromptID string
}

// ExecutionCached lists nodes whose outputs were served from cache.
type ExecutionCached struct {
	PromptID string
	Nodes    []string
}

// Executing reports the node currently running. A nil Node means every node
// of the prompt has finished.
type Executing struct {
	PromptID string
	Node     *string
}

// Done reports whether this frame marks the prompt as finished.
func (e Executing) Done() bool { return e.Node == nil }

// Progress is step-level progress within a node. PromptID and Node are only
// sent by newer servers and may be empty.
type Progress struct {
	Value    int
	Max      int
	PromptID string
	Node     string
}

// Percent returns progress as 0-100. A zero Max yields 0.
func (p Progress) Percent() int16 {
	if p.Max <= 0 {
		return 0
	}
	pct := p.Value * 100 / p.Max
	if pct < 0 {
		return 0
	}
	if pct > 100 {
		return 100
	}
	return int16(pct)
}

// Executed is sent when a node produced output.
type Executed struct {
	PromptID string
	Node     string
	Output   json.RawMessage
}

// ExecutionError is sent when a prompt fails.
type ExecutionError struct {
	PromptID         string
	NodeID           string
	ExceptionType    string
	ExceptionMessage string
}

// Unknown is a well-formed frame with a type this package does not handle.
type Unknown struct {
	Kind string
	Data json.RawMessage
}

func (Status) Type() string          { return TypeStatus }
func (ExecutionStart) Type() string  { return TypeExecutionStart }
func (ExecutionCached) Type() string { return TypeExecutionCached }
func (Executing) Type() string       { return TypeExecuting }
func (Progress) Type() string        { return TypeProgress }
func (Executed) Type() string        { return TypeExecuted }
func (ExecutionError) Type() string  { return TypeExecutionError }
func (u Unknown) Type() string       { return u.Kind }

func (Status) isMessage()          {}
func (ExecutionStart) isMessage()  {}
func (ExecutionCached) isMessage() {}
func (Executing) isMessage()       {}
func (Progress) isMessage()        {}
func (Executed) isMessage()        {}
func (ExecutionError) isMessage()  {}
func (Unknown) isMessage()         {}

// Wire types for JSON parsing

// envelope is used for fast type extraction.
type envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type statusWire struct {
	Status struct {
		ExecInfo struct {
			QueueRemaining int `json:"queue_remaining"`
		} `json:"exec_info"`
	} `json:"status"`
}

type promptWire struct {
	PromptID string `json:"prompt_id"`
}

type executionCachedWire struct {
	PromptID string   `json:"prompt_id"`
	Nodes    []string `json:"nodes"`
}

type executingWire struct {
	Node     *string `json:"node"`
	PromptID string  `json:"prompt_id"`
}

type progressWire struct {
	Value    int    `json:"value"`
	Max      int    `json:"max"`
	PromptID string `json:"prompt_id"`
	Node     string `json:"node"`
}

type executedWire struct {
	Node     string          `json:"node"`
	Output   json.RawMessage `json:"output"`
	PromptID string          `json:"prompt_id"`
}

type executionErrorWire struct {
	PromptID         string `json:"prompt_id"`
	NodeID           string `json:"node_id"`
	ExceptionMessage string `json:"exception_message"`
	ExceptionType    string `json:"exception_type"`
}
