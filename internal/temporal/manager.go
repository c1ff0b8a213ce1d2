package temporal

import (
	"fmt"

	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
)

// Config holds Temporal connection settings.
type Config struct {
	HostPort  string
	Namespace string
	TaskQueue string
}

// Manager owns the Temporal client and worker lifecycle.
type Manager struct {
	client client.Client
	worker worker.Worker
	cfg    Config
}

// New dials the Temporal frontend and registers the pipeline and triad
// workflows plus every activity method on acts.
func New(cfg Config, acts *Activities) (*Manager, error) {
	c, err := client.Dial(client.Options{
		HostPort:  cfg.HostPort,
		Namespace: cfg.Namespace,
	})
	if err != nil {
		return nil, fmt.Errorf("temporal client dial: %w", err)
	}

	w := worker.New(c, cfg.TaskQueue, worker.Options{})

	w.RegisterWorkflow(PipelineWorkflow)
	w.RegisterWorkflow(TriadWorkflow)

	w.RegisterActivity(acts.Retrieve)
	w.RegisterActivity(acts.Observe)
	w.RegisterActivity(acts.Assemble)
	w.RegisterActivity(acts.Draft)
	w.RegisterActivity(acts.ReviewLiterature)
	w.RegisterActivity(acts.Rewrite)
	w.RegisterActivity(acts.Critique)
	w.RegisterActivity(acts.Arbitrate)
	w.RegisterActivity(acts.Usage)
	w.RegisterActivity(acts.Persist)

	return &Manager{client: c, worker: w, cfg: cfg}, nil
}

// Start begins the worker polling for tasks.
func (m *Manager) Start() error {
	return m.worker.Start()
}

// Client returns the Temporal client for starting workflows.
func (m *Manager) Client() client.Client {
	return m.client
}

// TaskQueue returns the configured task queue name.
func (m *Manager) TaskQueue() string {
	return m.cfg.TaskQueue
}

// Stop gracefully stops the worker and closes the client.
func (m *Manager) Stop() {
	if m.worker != nil {
		m.worker.Stop()
	}
	if m.client != nil {
		m.client.Close()
	}
}
