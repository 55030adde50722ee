package connection

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/nmoagit/x121-sub001/internal/api"
	"github.com/nmoagit/x121-sub001/internal/events"
	"github.com/nmoagit/x121-sub001/internal/store"
)

// managedConn is the manager's table entry for one instance.
type managedConn struct {
	remote *Remote
	sup    *supervisor
	done   chan struct{}
	cancel context.CancelFunc
}

// Manager supervises one connection per enabled instance, routes workflow
// submission and cancellation to the right instance, and fans events out to
// subscribers.
type Manager struct {
	cfg        ManagerConfig
	store      store.Store
	bus        *events.Bus
	httpClient *http.Client
	logger     *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu    sync.RWMutex
	conns map[int64]*managedConn

	shutdownOnce sync.Once
}

// NewManager creates a Connection Manager. Call Start to connect.
func NewManager(st store.Store, cfg ManagerConfig, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	defaults := DefaultManagerConfig()
	if cfg.EventCapacity <= 0 {
		cfg.EventCapacity = defaults.EventCapacity
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = defaults.ShutdownTimeout
	}
	if cfg.Reconnect.InitialDelay <= 0 || cfg.Reconnect.MaxDelay <= 0 {
		cfg.Reconnect = defaults.Reconnect
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = defaults.HTTPTimeout
	}

	return &Manager{
		cfg:        cfg,
		store:      st,
		bus:        events.New(cfg.EventCapacity),
		httpClient: &http.Client{Timeout: cfg.HTTPTimeout},
		logger:     logger,
		conns:      make(map[int64]*managedConn),
	}
}

// Start loads enabled instances and spawns a supervisor for each. A store
// failure is logged and leaves the manager running with no instances.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.ctx != nil {
		m.mu.Unlock()
		return errors.New("manager already started")
	}
	m.ctx, m.cancel = context.WithCancel(ctx)
	m.mu.Unlock()

	instances, err := m.store.ListEnabledInstances(ctx)
	if err != nil {
		m.logger.Error("failed to load instances", "error", err)
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, inst := range instances {
		if _, exists := m.conns[inst.ID]; exists {
			continue
		}
		m.spawn(inst)
	}

	m.logger.Info("connection manager started", "instances", len(m.conns))
	return nil
}

// spawn starts a supervisor. Caller holds m.mu.
func (m *Manager) spawn(inst store.Instance) {
	logger := m.logger.With("instance_id", inst.ID, "instance", inst.Name)

	apiClient := api.NewClient(inst.APIURL, m.cfg.APIKey,
		api.WithHTTPClient(m.httpClient),
		api.WithRetries(m.cfg.MaxRetries, time.Second),
		api.WithLogger(logger),
	)
	clientCfg := m.cfg.Client
	clientCfg.APIKey = m.cfg.APIKey
	remote := NewRemote(inst, apiClient, clientCfg, logger)
	sup := newSupervisor(remote, m.store, m.bus, m.cfg.Reconnect, logger)

	ctx, cancel := context.WithCancel(m.ctx)
	mc := &managedConn{
		remote: remote,
		sup:    sup,
		done:   make(chan struct{}),
		cancel: cancel,
	}
	m.conns[inst.ID] = mc

	go func() {
		defer close(mc.done)
		sup.run(ctx)
	}()
}

// Subscribe returns an independent cursor over all events published from now on.
func (m *Manager) Subscribe() *events.Subscription {
	return m.bus.Subscribe()
}

// ConnectedInstanceIDs returns the ids of managed instances, sorted. An
// instance is listed while its supervisor runs, connected or not.
func (m *Manager) ConnectedInstanceIDs() []int64 {
	m.mu.RLock()
	ids := make([]int64, 0, len(m.conns))
	for id := range m.conns {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (m *Manager) lookup(instanceID int64) (*managedConn, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	mc, ok := m.conns[instanceID]
	return mc, ok
}

// SubmitWorkflow queues workflow on the instance and records a running
// execution for platformJobID. It returns the remote prompt id.
func (m *Manager) SubmitWorkflow(ctx context.Context, instanceID int64, workflow json.RawMessage, platformJobID int64) (string, error) {
	mc, ok := m.lookup(instanceID)
	if !ok {
		return "", fmt.Errorf("%w: %d", ErrInstanceNotFound, instanceID)
	}

	promptID, err := mc.remote.Submit(ctx, workflow)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrSubmitFailed, err)
	}

	_, err = m.store.CreateExecution(ctx, store.NewExecution{
		InstanceID:    instanceID,
		PlatformJobID: platformJobID,
		PromptID:      promptID,
	})
	if err != nil {
		// The remote is already running the prompt; nothing tracks it.
		m.logger.Error("submitted workflow has no execution record",
			"instance_id", instanceID,
			"platform_job_id", platformJobID,
			"prompt_id", promptID,
			"error", err,
		)
		return "", fmt.Errorf("%w: %w", ErrDatabase, err)
	}

	m.logger.Info("workflow submitted",
		"instance_id", instanceID,
		"platform_job_id", platformJobID,
		"prompt_id", promptID,
	)
	return promptID, nil
}

// executionFor resolves the latest execution of a job and its managed instance.
func (m *Manager) executionFor(ctx context.Context, platformJobID int64) (*store.Execution, *managedConn, error) {
	exec, err := m.store.FindExecutionByPlatformJobID(ctx, platformJobID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil, fmt.Errorf("%w: platform job %d", ErrExecutionNotFound, platformJobID)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrDatabase, err)
	}

	mc, ok := m.lookup(exec.InstanceID)
	if !ok {
		return nil, nil, fmt.Errorf("%w: %d", ErrInstanceNotFound, exec.InstanceID)
	}
	return exec, mc, nil
}

// CancelJob removes the job's prompt from its instance's queue, marks the
// execution cancelled and publishes GenerationCancelled.
func (m *Manager) CancelJob(ctx context.Context, platformJobID int64) error {
	exec, mc, err := m.executionFor(ctx, platformJobID)
	if err != nil {
		return err
	}

	if err := mc.remote.Cancel(ctx, exec.PromptID); err != nil {
		return fmt.Errorf("%w: %w", ErrCancelFailed, err)
	}

	if err := m.store.MarkExecutionCancelled(ctx, exec.ID); err != nil {
		return fmt.Errorf("%w: %w", ErrDatabase, err)
	}

	m.bus.Publish(events.NewGenerationCancelledEvent(exec.InstanceID, events.Job{
		PlatformJobID: exec.PlatformJobID,
		PromptID:      exec.PromptID,
	}))

	m.logger.Info("job cancelled",
		"instance_id", exec.InstanceID,
		"platform_job_id", platformJobID,
		"prompt_id", exec.PromptID,
	)
	return nil
}

// InterruptInstance stops whatever prompt the instance is executing.
func (m *Manager) InterruptInstance(ctx context.Context, instanceID int64) error {
	mc, ok := m.lookup(instanceID)
	if !ok {
		return fmt.Errorf("%w: %d", ErrInstanceNotFound, instanceID)
	}
	if err := mc.remote.Interrupt(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrCancelFailed, err)
	}
	m.logger.Info("instance interrupted", "instance_id", instanceID)
	return nil
}

// ExecutionHistory fetches the remote history record of a job's latest execution.
func (m *Manager) ExecutionHistory(ctx context.Context, platformJobID int64) (*api.HistoryEntry, error) {
	exec, mc, err := m.executionFor(ctx, platformJobID)
	if err != nil {
		return nil, err
	}
	entry, err := mc.remote.History(ctx, exec.PromptID)
	if err != nil {
		return nil, fmt.Errorf("execution history: %w", err)
	}
	return entry, nil
}

// Shutdown cancels every supervisor and waits up to ShutdownTimeout for
// each. Supervisors that do not stop in time are logged and abandoned. The
// event bus is closed afterwards. Later calls do nothing.
func (m *Manager) Shutdown(ctx context.Context) {
	m.shutdownOnce.Do(func() {
		m.logger.Info("stopping connection manager")

		m.mu.Lock()
		if m.cancel != nil {
			m.cancel()
		}
		ids := make([]int64, 0, len(m.conns))
		for id := range m.conns {
			ids = append(ids, id)
		}
		m.mu.Unlock()
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

		for _, id := range ids {
			mc, ok := m.lookup(id)
			if !ok {
				continue
			}
			mc.cancel()

			timer := time.NewTimer(m.cfg.ShutdownTimeout)
			select {
			case <-mc.done:
			case <-timer.C:
				m.logger.Warn("supervisor did not stop in time, abandoning", "instance_id", id)
			case <-ctx.Done():
				m.logger.Warn("shutdown context done, abandoning supervisor", "instance_id", id)
			}
			timer.Stop()

			m.mu.Lock()
			delete(m.conns, id)
			m.mu.Unlock()
		}

		m.bus.Close()
		m.logger.Info("connection manager stopped")
	})
}

// Stats returns a snapshot of supervised instances.
func (m *Manager) Stats() ManagerStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := ManagerStats{
		Managed:   len(m.conns),
		Instances: make([]InstanceStats, 0, len(m.conns)),
	}
	for id, mc := range m.conns {
		state := mc.sup.State()
		if state == StateConnected {
			stats.Connected++
		}
		stats.Instances = append(stats.Instances, InstanceStats{
			InstanceID: id,
			Name:       mc.remote.Instance().Name,
			State:      state.String(),
			Attempts:   mc.sup.Attempts(),
		})
	}
	sort.Slice(stats.Instances, func(i, j int) bool {
		return stats.Instances[i].InstanceID < stats.Instances[j].InstanceID
	})
	return stats
}
