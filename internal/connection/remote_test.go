package connection

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nmoagit/x121-sub001/internal/api"
	"github.com/nmoagit/x121-sub001/internal/store"
)

func TestWebSocketURL(t *testing.T) {
	tests := []struct {
		name    string
		base    string
		want    string
		wantErr bool
	}{
		{"ws base", "ws://gpu-1:8188", "ws://gpu-1:8188/ws?clientId=c1", false},
		{"trailing slash", "ws://gpu-1:8188/", "ws://gpu-1:8188/ws?clientId=c1", false},
		{"already has /ws", "wss://gpu-1/ws", "wss://gpu-1/ws?clientId=c1", false},
		{"http mapped", "http://gpu-1:8188", "ws://gpu-1:8188/ws?clientId=c1", false},
		{"https mapped", "https://gpu-1.example.com/comfy", "wss://gpu-1.example.com/comfy/ws?clientId=c1", false},
		{"keeps other query", "ws://gpu-1:8188?token=x", "ws://gpu-1:8188/ws?clientId=c1&token=x", false},
		{"bad scheme", "ftp://gpu-1", "", true},
		{"no host", "ws:///ws", "", true},
		{"unparseable", "ws://[::1", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := WebSocketURL(tt.base, "c1")
			if tt.wantErr {
				if err == nil {
					t.Errorf("expected error, got %q", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("WebSocketURL(%q) = %q, want %q", tt.base, got, tt.want)
			}
		})
	}
}

func TestRemote_ClientIDIsStableAndShared(t *testing.T) {
	var mu sync.Mutex
	var wsClientID, promptClientID string

	upgrader := websocket.Upgrader{}
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		wsClientID = r.URL.Query().Get("clientId")
		mu.Unlock()
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		readUntilError(conn)
	})
	mux.HandleFunc("/prompt", func(w http.ResponseWriter, r *http.Request) {
		var req api.PromptRequest
		json.NewDecoder(r.Body).Decode(&req)
		mu.Lock()
		promptClientID = req.ClientID
		mu.Unlock()
		w.Write([]byte(`{"prompt_id":"abc","number":1}`))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	inst := store.Instance{
		ID:     1,
		Name:   "gpu-1",
		WSURL:  "ws" + strings.TrimPrefix(server.URL, "http"),
		APIURL: server.URL,
	}
	remote := NewRemote(inst, api.NewClient(inst.APIURL, ""), testClientConfig(""), nil)

	if remote.ClientID() == "" {
		t.Fatal("client id is empty")
	}

	c, err := remote.Dial(context.Background())
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer c.Close()

	promptID, err := remote.Submit(context.Background(), json.RawMessage(`{"1":{}}`))
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if promptID != "abc" {
		t.Errorf("promptID = %q, want abc", promptID)
	}

	mu.Lock()
	defer mu.Unlock()
	if wsClientID != remote.ClientID() {
		t.Errorf("ws clientId = %q, want %q", wsClientID, remote.ClientID())
	}
	if promptClientID != remote.ClientID() {
		t.Errorf("prompt client_id = %q, want %q", promptClientID, remote.ClientID())
	}
}

func TestRemote_DialFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	inst := store.Instance{ID: 1, Name: "gpu-1", WSURL: server.URL, APIURL: server.URL}
	remote := NewRemote(inst, api.NewClient(inst.APIURL, ""), testClientConfig(""), nil)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := remote.Dial(ctx); err == nil {
		t.Fatal("expected Dial to fail")
	}
}

func TestRemote_DialInvalidURL(t *testing.T) {
	inst := store.Instance{ID: 1, Name: "gpu-1", WSURL: "ftp://gpu-1", APIURL: "http://gpu-1"}
	remote := NewRemote(inst, api.NewClient(inst.APIURL, ""), testClientConfig(""), nil)

	if _, err := remote.Dial(context.Background()); err == nil {
		t.Fatal("expected Dial to fail for unsupported scheme")
	}
}
