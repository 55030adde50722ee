package httpapi

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nmoagit/x121-sub001/internal/connection"
	"github.com/nmoagit/x121-sub001/internal/events"
)

type fakeManager struct {
	stats connection.ManagerStats
	bus   *events.Bus
}

func (m *fakeManager) Stats() connection.ManagerStats  { return m.stats }
func (m *fakeManager) Subscribe() *events.Subscription { return m.bus.Subscribe() }

type fakePinger struct{ err error }

func (p fakePinger) Ping(ctx context.Context) error { return p.err }

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestServer(t *testing.T, mgr *fakeManager, pinger Pinger, opts ...Option) *Server {
	t.Helper()
	if mgr.bus == nil {
		mgr.bus = events.New(16)
	}
	return New("127.0.0.1:0", mgr, pinger, quietLogger(), opts...)
}

func TestHealth(t *testing.T) {
	tests := []struct {
		name       string
		stats      connection.ManagerStats
		pingErr    error
		wantStatus string
		wantCode   int
	}{
		{"all connected", connection.ManagerStats{Managed: 2, Connected: 2}, nil, StatusHealthy, http.StatusOK},
		{"no instances", connection.ManagerStats{}, nil, StatusHealthy, http.StatusOK},
		{"instance down", connection.ManagerStats{Managed: 2, Connected: 1}, nil, StatusDegraded, http.StatusOK},
		{"store down", connection.ManagerStats{Managed: 1, Connected: 1}, errors.New("connection refused"), StatusUnhealthy, http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(t, &fakeManager{stats: tt.stats}, fakePinger{err: tt.pingErr})

			rec := httptest.NewRecorder()
			srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

			assert.Equal(t, tt.wantCode, rec.Code)
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

			var body struct {
				Status     string         `json:"status"`
				Version    map[string]any `json:"version"`
				Components map[string]any `json:"components"`
			}
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.wantStatus, body.Status)
			assert.Contains(t, body.Version, "version")
			assert.Contains(t, body.Components, "instances")
			if tt.pingErr != nil {
				assert.Contains(t, rec.Body.String(), "connection refused")
			} else {
				assert.Equal(t, "connected", body.Components["store"])
			}
		})
	}
}

func TestInstances(t *testing.T) {
	stats := connection.ManagerStats{
		Managed:   2,
		Connected: 1,
		Instances: []connection.InstanceStats{
			{InstanceID: 1, Name: "gpu-1", State: "connected"},
			{InstanceID: 2, Name: "gpu-2", State: "disconnected", Attempts: 4},
		},
	}
	srv := newTestServer(t, &fakeManager{stats: stats}, fakePinger{})

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/instances", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body InstancesResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 2, body.Managed)
	assert.Equal(t, 1, body.Connected)
	require.Len(t, body.Instances, 2)
	assert.Equal(t, "gpu-2", body.Instances[1].Name)
	assert.Equal(t, 4, body.Instances[1].Attempts)
	assert.Contains(t, rec.Body.String(), `"reconnect_attempts":4`)
}

func TestUnknownRoute(t *testing.T) {
	srv := newTestServer(t, &fakeManager{}, fakePinger{})

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// sseReader reads "event:"/"data:" pairs and comments from a stream.
type sseReader struct {
	sc *bufio.Scanner
}

type sseFrame struct {
	comment string
	event   string
	data    string
}

func (r *sseReader) next(t *testing.T) sseFrame {
	t.Helper()
	var f sseFrame
	for r.sc.Scan() {
		line := r.sc.Text()
		switch {
		case line == "":
			return f
		case strings.HasPrefix(line, ": "):
			f.comment = strings.TrimPrefix(line, ": ")
		case strings.HasPrefix(line, "event: "):
			f.event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			f.data = strings.TrimPrefix(line, "data: ")
		}
	}
	t.Fatalf("stream ended: %v", r.sc.Err())
	return f
}

func TestEvents_Stream(t *testing.T) {
	bus := events.New(16)
	srv := newTestServer(t, &fakeManager{bus: bus}, fakePinger{})

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	t.Cleanup(bus.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	assert.Equal(t, "no-cache", resp.Header.Get("Cache-Control"))

	r := &sseReader{sc: bufio.NewScanner(resp.Body)}
	require.Equal(t, "connected", r.next(t).comment)

	// The subscription exists once the greeting has been flushed.
	bus.Publish(events.NewInstanceConnectedEvent(7))
	bus.Publish(events.NewGenerationProgressEvent(7, events.Job{PlatformJobID: 42, PromptID: "abc"}, 50, "3"))

	f := r.next(t)
	assert.Equal(t, events.TypeInstanceConnected, f.event)
	assert.Contains(t, f.data, `"instance_id":7`)

	f = r.next(t)
	assert.Equal(t, events.TypeGenerationProgress, f.event)
	assert.Contains(t, f.data, `"prompt_id":"abc"`)

	bus.Close()
	_, err = io.ReadAll(resp.Body)
	assert.NoError(t, err, "stream should end cleanly when the bus closes")
}

func TestEvents_Heartbeat(t *testing.T) {
	bus := events.New(16)
	srv := newTestServer(t, &fakeManager{bus: bus}, fakePinger{}, WithHeartbeat(20*time.Millisecond))

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	t.Cleanup(bus.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	r := &sseReader{sc: bufio.NewScanner(resp.Body)}
	require.Equal(t, "connected", r.next(t).comment)
	assert.Equal(t, "heartbeat", r.next(t).comment)
}

func TestStream_Lagged(t *testing.T) {
	bus := events.New(2)
	srv := newTestServer(t, &fakeManager{bus: bus}, fakePinger{})

	sub := bus.Subscribe()
	for i := int64(1); i <= 5; i++ {
		bus.Publish(events.NewInstanceConnectedEvent(i))
	}
	bus.Close()

	rec := httptest.NewRecorder()
	require.NoError(t, srv.stream(context.Background(), rec, rec, sub))

	r := &sseReader{sc: bufio.NewScanner(strings.NewReader(rec.Body.String()))}

	f := r.next(t)
	assert.Equal(t, "lagged", f.event)
	assert.JSONEq(t, `{"missed":3}`, f.data)

	f = r.next(t)
	assert.Equal(t, events.TypeInstanceConnected, f.event)
	assert.Contains(t, f.data, `"instance_id":4`)

	f = r.next(t)
	assert.Contains(t, f.data, `"instance_id":5`)
}

func TestStream_ContextCancelled(t *testing.T) {
	bus := events.New(4)
	srv := newTestServer(t, &fakeManager{bus: bus}, fakePinger{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rec := httptest.NewRecorder()
	err := srv.stream(ctx, rec, rec, bus.Subscribe())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestListenAndServe_Shutdown(t *testing.T) {
	srv := newTestServer(t, &fakeManager{}, fakePinger{})

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	time.Sleep(20 * time.Millisecond)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, srv.Shutdown(ctx))

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("ListenAndServe did not return after Shutdown")
	}
}
