package copilot

import (
	"sort"
	"strings"
	"sync"
)

// ToolRegistry maps the tool ids reported in status frames to the labels
// shown while a request is in flight.
type ToolRegistry struct {
	mu     sync.RWMutex
	labels map[string]string
}

func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{labels: make(map[string]string)}
}

// DefaultTools returns a registry preloaded with the calibration tools the
// analysis backend exposes.
func DefaultTools() *ToolRegistry {
	r := NewToolRegistry()
	r.Register("get_chip_summary", "Chip summary")
	r.Register("get_qubit_params", "Qubit parameters")
	r.Register("get_coupling_params", "Coupling parameters")
	r.Register("get_latest_task_result", "Latest task result")
	r.Register("get_task_history", "Task history")
	r.Register("get_parameter_timeseries", "Parameter time series")
	r.Register("get_execution_history", "Execution history")
	r.Register("compare_qubits", "Qubit comparison")
	r.Register("execute_python_analysis", "Python analysis")
	return r
}

// Register adds or replaces the label for id.
func (r *ToolRegistry) Register(id, label string) {
	r.mu.Lock()
	r.labels[id] = label
	r.mu.Unlock()
}

// Label returns the display label for id. Unknown ids are humanized.
func (r *ToolRegistry) Label(id string) string {
	if r != nil {
		r.mu.RLock()
		label, ok := r.labels[id]
		r.mu.RUnlock()
		if ok {
			return label
		}
	}
	return strings.ReplaceAll(id, "_", " ")
}

// Labels resolves ids in order.
func (r *ToolRegistry) Labels(ids []string) []string {
	if len(ids) == 0 {
		return nil
	}
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = r.Label(id)
	}
	return out
}

// IDs returns the registered tool ids, sorted.
func (r *ToolRegistry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.labels))
	for id := range r.labels {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
