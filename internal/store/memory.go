package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore keeps everything in process memory. Returned values are copies.
type MemoryStore struct {
	mu         sync.RWMutex
	instances  map[int64]*Instance
	executions map[int64]*Execution
	nextInst   int64
	nextExec   int64
	now        func() time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		instances:  make(map[int64]*Instance),
		executions: make(map[int64]*Execution),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// ListInstances returns every instance ordered by id.
func (s *MemoryStore) ListInstances(ctx context.Context) ([]Instance, error) {
	return s.listInstances(false), nil
}

// ListEnabledInstances returns enabled instances ordered by id.
func (s *MemoryStore) ListEnabledInstances(ctx context.Context) ([]Instance, error) {
	return s.listInstances(true), nil
}

func (s *MemoryStore) listInstances(enabledOnly bool) []Instance {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Instance, 0, len(s.instances))
	for _, inst := range s.instances {
		if enabledOnly && !inst.Enabled {
			continue
		}
		out = append(out, copyInstance(inst))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// CreateInstance registers an instance. Names are unique.
func (s *MemoryStore) CreateInstance(ctx context.Context, in NewInstance) (*Instance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, inst := range s.instances {
		if inst.Name == in.Name {
			return nil, ErrDuplicate
		}
	}

	s.nextInst++
	inst := &Instance{
		ID:      s.nextInst,
		Name:    in.Name,
		WSURL:   in.WSURL,
		APIURL:  in.APIURL,
		Enabled: in.Enabled,
	}
	s.instances[inst.ID] = inst
	out := copyInstance(inst)
	return &out, nil
}

// RecordConnection stamps last_connected_at and resets the reconnect counter.
func (s *MemoryStore) RecordConnection(ctx context.Context, instanceID int64) error {
	return s.updateInstance(instanceID, func(inst *Instance) {
		now := s.now()
		inst.LastConnectedAt = &now
		inst.ReconnectAttempts = 0
	})
}

// RecordDisconnection stamps last_disconnected_at.
func (s *MemoryStore) RecordDisconnection(ctx context.Context, instanceID int64) error {
	return s.updateInstance(instanceID, func(inst *Instance) {
		now := s.now()
		inst.LastDisconnectedAt = &now
	})
}

// IncrementReconnectAttempts bumps the reconnect counter.
func (s *MemoryStore) IncrementReconnectAttempts(ctx context.Context, instanceID int64) error {
	return s.updateInstance(instanceID, func(inst *Instance) {
		inst.ReconnectAttempts++
	})
}

func (s *MemoryStore) updateInstance(id int64, fn func(*Instance)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	inst, ok := s.instances[id]
	if !ok {
		return ErrNotFound
	}
	fn(inst)
	return nil
}

// CreateExecution records a running execution.
func (s *MemoryStore) CreateExecution(ctx context.Context, in NewExecution) (*Execution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.instances[in.InstanceID]; !ok {
		return nil, ErrNotFound
	}
	for _, e := range s.executions {
		if e.InstanceID == in.InstanceID && e.PromptID == in.PromptID {
			return nil, ErrDuplicate
		}
	}

	s.nextExec++
	e := &Execution{
		ID:            s.nextExec,
		InstanceID:    in.InstanceID,
		PlatformJobID: in.PlatformJobID,
		PromptID:      in.PromptID,
		Status:        StatusRunning,
		SubmittedAt:   s.now(),
	}
	s.executions[e.ID] = e
	out := copyExecution(e)
	return &out, nil
}

// FindExecutionByPlatformJobID returns the execution with the highest id for the job.
func (s *MemoryStore) FindExecutionByPlatformJobID(ctx context.Context, platformJobID int64) (*Execution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest *Execution
	for _, e := range s.executions {
		if e.PlatformJobID != platformJobID {
			continue
		}
		if latest == nil || e.ID > latest.ID {
			latest = e
		}
	}
	if latest == nil {
		return nil, ErrNotFound
	}
	out := copyExecution(latest)
	return &out, nil
}

// FindExecutionByPromptID looks up an execution by the remote's prompt id.
func (s *MemoryStore) FindExecutionByPromptID(ctx context.Context, instanceID int64, promptID string) (*Execution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, e := range s.executions {
		if e.InstanceID == instanceID && e.PromptID == promptID {
			out := copyExecution(e)
			return &out, nil
		}
	}
	return nil, ErrNotFound
}

// MarkExecutionStarted records the start time of a running execution.
func (s *MemoryStore) MarkExecutionStarted(ctx context.Context, id int64) error {
	return s.updateRunning(id, func(e *Execution) {
		if e.StartedAt == nil {
			now := s.now()
			e.StartedAt = &now
		}
	})
}

// UpdateExecutionNode records the node currently executing.
func (s *MemoryStore) UpdateExecutionNode(ctx context.Context, id int64, node string) error {
	return s.updateRunning(id, func(e *Execution) {
		n := node
		e.CurrentNode = &n
	})
}

// UpdateExecutionProgress records progress and, if given, the current node.
func (s *MemoryStore) UpdateExecutionProgress(ctx context.Context, id int64, percent int16, node string) error {
	return s.updateRunning(id, func(e *Execution) {
		e.ProgressPercent = percent
		if node != "" {
			n := node
			e.CurrentNode = &n
		}
	})
}

// MarkExecutionCompleted finishes a running execution at 100%.
func (s *MemoryStore) MarkExecutionCompleted(ctx context.Context, id int64) error {
	return s.updateRunning(id, func(e *Execution) {
		now := s.now()
		e.Status = StatusCompleted
		e.ProgressPercent = 100
		e.CompletedAt = &now
	})
}

// MarkExecutionFailed fails a running execution with message.
func (s *MemoryStore) MarkExecutionFailed(ctx context.Context, id int64, message string) error {
	return s.updateRunning(id, func(e *Execution) {
		now := s.now()
		msg := message
		e.Status = StatusFailed
		e.ErrorMessage = &msg
		e.CompletedAt = &now
	})
}

// MarkExecutionCancelled cancels an execution whatever its status.
func (s *MemoryStore) MarkExecutionCancelled(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.executions[id]
	if !ok {
		return ErrNotFound
	}
	now := s.now()
	e.Status = StatusCancelled
	e.CancelledAt = &now
	if e.CompletedAt == nil {
		e.CompletedAt = &now
	}
	return nil
}

func (s *MemoryStore) updateRunning(id int64, fn func(*Execution)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.executions[id]
	if !ok {
		return ErrNotFound
	}
	if e.Status != StatusRunning {
		return nil
	}
	fn(e)
	return nil
}

// Migrate is a no-op.
func (s *MemoryStore) Migrate(ctx context.Context) error { return nil }

// Ping always succeeds.
func (s *MemoryStore) Ping(ctx context.Context) error { return nil }

// Close is a no-op.
func (s *MemoryStore) Close() error { return nil }

func copyInstance(in *Instance) Instance {
	out := *in
	out.LastConnectedAt = copyTime(in.LastConnectedAt)
	out.LastDisconnectedAt = copyTime(in.LastDisconnectedAt)
	return out
}

func copyExecution(in *Execution) Execution {
	out := *in
	out.CurrentNode = copyString(in.CurrentNode)
	out.ErrorMessage = copyString(in.ErrorMessage)
	out.StartedAt = copyTime(in.StartedAt)
	out.CompletedAt = copyTime(in.CompletedAt)
	out.CancelledAt = copyTime(in.CancelledAt)
	return out
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func copyString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
