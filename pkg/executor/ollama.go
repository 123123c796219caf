package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"gpurelay/internal/model"
)

// OllamaExecutor runs jobs against an Ollama-compatible /api/generate endpoint
type OllamaExecutor struct {
	baseURL string
	client  *http.Client
}

type generateRequest struct {
	Model   string                 `json:"model"`
	Prompt  string                 `json:"prompt"`
	Stream  bool                   `json:"stream"`
	Options map[string]interface{} `json:"options,omitempty"`
}

type generateResponse struct {
	Response string `json:"response"`
	Error    string `json:"error,omitempty"`
}

// NewOllamaExecutor creates an executor for the runtime at baseURL
func NewOllamaExecutor(baseURL string, timeout time.Duration) *OllamaExecutor {
	return &OllamaExecutor{
		baseURL: strings.TrimRight(baseURL, "/"),
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

// Execute sends one non-streaming generate request; params are forwarded as runtime options
func (e *OllamaExecutor) Execute(ctx context.Context, modelName, prompt string, params model.Params) (*model.InferenceOutput, error) {
	payload, err := json.Marshal(generateRequest{
		Model:   modelName,
		Prompt:  prompt,
		Stream:  false,
		Options: params,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal generate request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/api/generate", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call runtime: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read runtime response: %w", err)
	}

	var out generateResponse
	if resp.StatusCode != http.StatusOK {
		if json.Unmarshal(body, &out) == nil && out.Error != "" {
			return nil, fmt.Errorf("runtime returned status %d: %s", resp.StatusCode, out.Error)
		}
		return nil, fmt.Errorf("runtime returned status %d", resp.StatusCode)
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("failed to decode runtime response: %w", err)
	}

	return &model.InferenceOutput{Text: out.Response}, nil
}
