// Package api is the HTTP client for a ComfyUI-compatible execution service.
//
// Endpoints used:
//   - POST /prompt          submit a workflow, returns the prompt id
//   - POST /queue           {"delete": [...]} removes queued or running prompts
//   - POST /interrupt       stops whatever the instance is executing now
//   - GET  /history/{id}    outputs and status of a finished prompt
//
// Reads are retried with jittered exponential backoff on 5xx and 429.
// Writes are not retried: a repeated /prompt would queue the work twice.
package api
