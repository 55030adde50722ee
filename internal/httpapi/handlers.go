package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/nmoagit/x121-sub001/internal/connection"
	"github.com/nmoagit/x121-sub001/internal/events"
	"github.com/nmoagit/x121-sub001/internal/version"
)

// Health statuses.
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status     string         `json:"status"`
	Version    version.Info   `json:"version"`
	Components map[string]any `json:"components"`
}

// InstancesResponse is the body of GET /instances.
type InstancesResponse struct {
	Managed   int                        `json:"managed"`
	Connected int                        `json:"connected"`
	Instances []connection.InstanceStats `json:"instances"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// handleHealth reports store reachability and connection counts. Any
// managed instance being disconnected makes the service degraded; an
// unreachable store makes it unhealthy.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.healthTimeout)
	defer cancel()

	health := HealthResponse{
		Status:     StatusHealthy,
		Version:    version.Get(),
		Components: make(map[string]any),
	}

	stats := s.manager.Stats()
	health.Components["instances"] = map[string]int{
		"managed":   stats.Managed,
		"connected": stats.Connected,
	}
	if stats.Connected < stats.Managed {
		health.Status = StatusDegraded
	}

	if err := s.store.Ping(ctx); err != nil {
		health.Status = StatusUnhealthy
		health.Components["store"] = map[string]string{
			"status": "disconnected",
			"error":  err.Error(),
		}
	} else {
		health.Components["store"] = "connected"
	}

	code := http.StatusOK
	if health.Status == StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, health)
}

func (s *Server) handleInstances(w http.ResponseWriter, r *http.Request) {
	stats := s.manager.Stats()
	writeJSON(w, http.StatusOK, InstancesResponse{
		Managed:   stats.Managed,
		Connected: stats.Connected,
		Instances: stats.Instances,
	})
}

// handleEvents streams every event published after the request arrived.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	sub := s.manager.Subscribe()
	sendComment(w, flusher, "connected")

	if err := s.stream(r.Context(), w, flusher, sub); err != nil {
		s.logger.Debug("event stream ended", "error", err)
	}
}

// stream writes events from sub until ctx is done or the bus closes.
func (s *Server) stream(ctx context.Context, w http.ResponseWriter, flusher http.Flusher, sub *events.Subscription) error {
	for {
		recvCtx, cancel := context.WithTimeout(ctx, s.heartbeat)
		ev, err := sub.Recv(recvCtx)
		cancel()

		var lagged *events.LaggedError
		switch {
		case err == nil:
			if err := sendEvent(w, flusher, ev.EventType(), ev); err != nil {
				return err
			}
		case errors.As(err, &lagged):
			s.logger.Warn("event stream subscriber lagged", "missed", lagged.Missed)
			if err := sendEvent(w, flusher, "lagged", map[string]uint64{"missed": lagged.Missed}); err != nil {
				return err
			}
		case errors.Is(err, events.ErrClosed):
			return nil
		case errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
			sendComment(w, flusher, "heartbeat")
		default:
			return err
		}
	}
}

func sendEvent(w http.ResponseWriter, flusher http.Flusher, eventType string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", eventType, err)
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", eventType, payload); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}

func sendComment(w http.ResponseWriter, flusher http.Flusher, comment string) {
	fmt.Fprintf(w, ": %s\n\n", comment)
	flusher.Flush()
}
