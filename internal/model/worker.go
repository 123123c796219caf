package model

import (
	"time"
)

// Capabilities free-form capability metadata (accelerator model, memory size, ...).
// Opaque to dispatch, carried for observability only.
type Capabilities map[string]interface{}

// Worker worker identity and capability record
type Worker struct {
	ID              string       `json:"worker_id"`
	Capabilities    Capabilities `json:"capabilities"`
	SupportedModels []string     `json:"supported_models"`
	RegisteredAt    time.Time    `json:"registered_at,omitempty"`
	LastSeen        time.Time    `json:"last_seen,omitempty"`
}

// Clone returns a deep copy of the worker so snapshots never share mutable state
func (w *Worker) Clone() *Worker {
	c := *w
	if w.Capabilities != nil {
		c.Capabilities = make(Capabilities, len(w.Capabilities))
		for k, v := range w.Capabilities {
			c.Capabilities[k] = v
		}
	}
	c.SupportedModels = append([]string(nil), w.SupportedModels...)
	return &c
}

// RegisterRequest worker registration request
type RegisterRequest struct {
	WorkerID        string       `json:"worker_id" binding:"required"`
	Capabilities    Capabilities `json:"capabilities"`
	GPUInfo         Capabilities `json:"gpu_info,omitempty"` // accepted as an alias of capabilities
	SupportedModels []string     `json:"supported_models"`
}

// ToWorker converts the request to a worker record
func (r *RegisterRequest) ToWorker() *Worker {
	caps := r.Capabilities
	if caps == nil {
		caps = r.GPUInfo
	}
	if caps == nil {
		caps = Capabilities{}
	}
	models := r.SupportedModels
	if models == nil {
		models = []string{}
	}
	return &Worker{
		ID:              r.WorkerID,
		Capabilities:    caps,
		SupportedModels: models,
	}
}

// RegisterResponse worker registration response
type RegisterResponse struct {
	Message  string `json:"message"`
	WorkerID string `json:"worker_id"`
}
