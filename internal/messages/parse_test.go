package messages

import (
	"errors"
	"testing"
)

func TestParse_Executing(t *testing.T) {
	msg, err := Parse([]byte(`{"type":"executing","data":{"node":"3","prompt_id":"abc"}}`))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	ex, ok := msg.(Executing)
	if !ok {
		t.Fatalf("got %T, want Executing", msg)
	}
	if ex.PromptID != "abc" {
		t.Errorf("PromptID = %q, want abc", ex.PromptID)
	}
	if ex.Done() {
		t.Error("Done() = true for a running node")
	}
	if ex.Node == nil || *ex.Node != "3" {
		t.Errorf("Node = %v, want 3", ex.Node)
	}
}

func TestParse_ExecutingNullNode(t *testing.T) {
	msg, err := Parse([]byte(`{"type":"executing","data":{"node":null,"prompt_id":"abc"}}`))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	ex := msg.(Executing)
	if !ex.Done() {
		t.Error("Done() = false for a null node")
	}
}

func TestParse_Variants(t *testing.T) {
	tests := []struct {
		name  string
		input string
		check func(t *testing.T, m Message)
	}{
		{
			name:  "status",
			input: `{"type":"status","data":{"status":{"exec_info":{"queue_remaining":4}},"sid":"x"}}`,
			check: func(t *testing.T, m Message) {
				if s := m.(Status); s.QueueRemaining != 4 {
					t.Errorf("QueueRemaining = %d, want 4", s.QueueRemaining)
				}
			},
		},
		{
			name:  "execution_start",
			input: `{"type":"execution_start","data":{"prompt_id":"p1","timestamp":1}}`,
			check: func(t *testing.T, m Message) {
				if s := m.(ExecutionStart); s.PromptID != "p1" {
					t.Errorf("PromptID = %q, want p1", s.PromptID)
				}
			},
		},
		{
			name:  "execution_cached",
			input: `{"type":"execution_cached","data":{"nodes":["1","2"],"prompt_id":"p1"}}`,
			check: func(t *testing.T, m Message) {
				if c := m.(ExecutionCached); len(c.Nodes) != 2 {
					t.Errorf("Nodes = %v, want 2 entries", c.Nodes)
				}
			},
		},
		{
			name:  "progress",
			input: `{"type":"progress","data":{"value":5,"max":20,"prompt_id":"p1","node":"7"}}`,
			check: func(t *testing.T, m Message) {
				p := m.(Progress)
				if p.Percent() != 25 {
					t.Errorf("Percent() = %d, want 25", p.Percent())
				}
				if p.Node != "7" || p.PromptID != "p1" {
					t.Errorf("Node/PromptID = %q/%q", p.Node, p.PromptID)
				}
			},
		},
		{
			name:  "executed",
			input: `{"type":"executed","data":{"node":"9","output":{"images":[{"filename":"a.png"}]},"prompt_id":"p1"}}`,
			check: func(t *testing.T, m Message) {
				e := m.(Executed)
				if e.Node != "9" {
					t.Errorf("Node = %q, want 9", e.Node)
				}
				if string(e.Output) != `{"images":[{"filename":"a.png"}]}` {
					t.Errorf("Output = %s", e.Output)
				}
			},
		},
		{
			name:  "execution_error",
			input: `{"type":"execution_error","data":{"prompt_id":"p1","node_id":"4","exception_message":"OOM","exception_type":"RuntimeError"}}`,
			check: func(t *testing.T, m Message) {
				e := m.(ExecutionError)
				if e.ExceptionMessage != "OOM" || e.ExceptionType != "RuntimeError" || e.NodeID != "4" {
					t.Errorf("unexpected error fields: %+v", e)
				}
			},
		},
		{
			name:  "unknown type",
			input: `{"type":"crystools.monitor","data":{"cpu":12}}`,
			check: func(t *testing.T, m Message) {
				u, ok := m.(Unknown)
				if !ok {
					t.Fatalf("got %T, want Unknown", m)
				}
				if u.Type() != "crystools.monitor" {
					t.Errorf("Type() = %q", u.Type())
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := Parse([]byte(tt.input))
			if err != nil {
				t.Fatalf("Parse failed: %v", err)
			}
			tt.check(t, m)
		})
	}
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"not json", `not json`},
		{"missing type", `{"data":{}}`},
		{"missing data", `{"type":"executing"}`},
		{"wrong data shape", `{"type":"progress","data":{"value":"five","max":20}}`},
		{"execution_start without prompt", `{"type":"execution_start","data":{}}`},
		{"executing without prompt", `{"type":"executing","data":{"node":"1"}}`},
		{"error without prompt", `{"type":"execution_error","data":{"exception_message":"x"}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse([]byte(tt.input)); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestParse_MissingTypeSentinel(t *testing.T) {
	_, err := Parse([]byte(`{"data":{}}`))
	if !errors.Is(err, ErrMissingType) {
		t.Errorf("err = %v, want ErrMissingType", err)
	}
}

func TestProgress_Percent(t *testing.T) {
	tests := []struct {
		value, max int
		want       int16
	}{
		{0, 10, 0},
		{5, 10, 50},
		{10, 10, 100},
		{3, 0, 0},
		{15, 10, 100},
		{1, 3, 33},
	}

	for _, tt := range tests {
		p := Progress{Value: tt.value, Max: tt.max}
		if got := p.Percent(); got != tt.want {
			t.Errorf("Percent(%d/%d) = %d, want %d", tt.value, tt.max, got, tt.want)
		}
	}
}
