package messages

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrMissingType is returned for a JSON object without a "type" field.
var ErrMissingType = errors.New("message has no type")

// Parse decodes a text frame. Malformed JSON, a missing type or a payload that
// does not match its type is an error; an unrecognised type is not, and comes
// back as Unknown.
func Parse(data []byte) (Message, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Type == "" {
		return nil, ErrMissingType
	}

	switch env.Type {
	case TypeStatus:
		var w statusWire
		if err := decodeData(env, &w); err != nil {
			return nil, err
		}
		return Status{QueueRemaining: w.Status.ExecInfo.QueueRemaining}, nil

	case TypeExecutionStart:
		var w promptWire
		if err := decodeData(env, &w); err != nil {
			return nil, err
		}
		if w.PromptID == "" {
			return nil, missingField(env.Type, "prompt_id")
		}
		return ExecutionStart{PromptID: w.PromptID}, nil

	case TypeExecutionCached:
		var w executionCachedWire
		if err := decodeData(env, &w); err != nil {
			return nil, err
		}
		return ExecutionCached{PromptID: w.PromptID, Nodes: w.Nodes}, nil

	case TypeExecuting:
		var w executingWire
		if err := decodeData(env, &w); err != nil {
			return nil, err
		}
		if w.PromptID == "" {
			return nil, missingField(env.Type, "prompt_id")
		}
		return Executing{PromptID: w.PromptID, Node: w.Node}, nil

	case TypeProgress:
		var w progressWire
		if err := decodeData(env, &w); err != nil {
			return nil, err
		}
		return Progress{Value: w.Value, Max: w.Max, PromptID: w.PromptID, Node: w.Node}, nil

	case TypeExecuted:
		var w executedWire
		if err := decodeData(env, &w); err != nil {
			return nil, err
		}
		if w.PromptID == "" {
			return nil, missingField(env.Type, "prompt_id")
		}
		return Executed{PromptID: w.PromptID, Node: w.Node, Output: w.Output}, nil

	case TypeExecutionError:
		var w executionErrorWire
		if err := decodeData(env, &w); err != nil {
			return nil, err
		}
		if w.PromptID == "" {
			return nil, missingField(env.Type, "prompt_id")
		}
		return ExecutionError{
			PromptID:         w.PromptID,
			NodeID:           w.NodeID,
			ExceptionType:    w.ExceptionType,
			ExceptionMessage: w.ExceptionMessage,
		}, nil
	}

	return Unknown{Kind: env.Type, Data: env.Data}, nil
}

func decodeData(env envelope, v any) error {
	if len(env.Data) == 0 {
		return fmt.Errorf("%s: missing data", env.Type)
	}
	if err := json.Unmarshal(env.Data, v); err != nil {
		return fmt.Errorf("%s: decode data: %w", env.Type, err)
	}
	return nil
}

func missingField(kind, field string) error {
	return fmt.Errorf("%s: missing %s", kind, field)
}
