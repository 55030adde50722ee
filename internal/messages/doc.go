// Package messages defines the WebSocket frames sent by a remote execution service.
//
// Frames are JSON objects of the form {"type": "<kind>", "data": {...}}.
// Parse turns one text frame into exactly one of the Message variants below;
// kinds this package does not know about come back as Unknown so callers can
// log and skip them.
//
// Known kinds:
//   - status            queue depth broadcast
//   - execution_start   a prompt began executing
//   - execution_cached  nodes skipped because their outputs were cached
//   - executing         a node is running (node == null means the prompt finished)
//   - progress          step progress inside a long-running node
//   - executed          a node produced output
//   - execution_error   the prompt failed
package messages
