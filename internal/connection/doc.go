// Package connection implements the Connection Manager component.
//
// The Connection Manager:
//   - Keeps one supervised WebSocket connection per enabled remote instance
//   - Reconnects with exponential backoff until shut down
//   - Turns progress frames into execution updates and events
//   - Routes workflow submission and cancellation to the owning instance
package connection
