package model

import (
	"encoding/json"
)

// Params opaque key/value bag forwarded to the executor unmodified
type Params map[string]interface{}

// InferenceRequest client inference request
type InferenceRequest struct {
	Model  string `json:"model" binding:"required"`
	Prompt string `json:"prompt"`
	Params Params `json:"params"`
}

// InferenceResponse response to an accepted inference request
type InferenceResponse struct {
	RequestID string `json:"request_id"`
	Message   string `json:"message"`
}

// Job unit of dispatched work, the payload of a worker queue entry
type Job struct {
	RequestID string `json:"request_id"`
	Model     string `json:"model"`
	Prompt    string `json:"prompt"`
	Params    Params `json:"params"`
}

// ToJSON converts job to JSON bytes
func (j *Job) ToJSON() ([]byte, error) {
	return json.Marshal(j)
}

// FromJSON converts JSON bytes to job
func (j *Job) FromJSON(data []byte) error {
	return json.Unmarshal(data, j)
}

// InferenceOutput executor output
type InferenceOutput struct {
	Text string `json:"text"`
}

// ToMap converts the output to the opaque result payload
func (o *InferenceOutput) ToMap() map[string]interface{} {
	return map[string]interface{}{"text": o.Text}
}

// InferenceResult result keyed by request id
type InferenceResult struct {
	RequestID string                 `json:"request_id"`
	Result    map[string]interface{} `json:"result"`
}
