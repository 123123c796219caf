package executor

import (
	"fmt"

	"gpurelay/pkg/config"
	"gpurelay/pkg/interfaces"
)

// New creates the executor selected by configuration
func New(cfg config.ExecutorConfig) (interfaces.Executor, error) {
	switch cfg.Type {
	case "static", "":
		return NewStaticExecutor(cfg.Text, cfg.Delay), nil
	case "ollama":
		if cfg.URL == "" {
			return nil, fmt.Errorf("executor url is required for ollama")
		}
		return NewOllamaExecutor(cfg.URL, cfg.Timeout), nil
	default:
		return nil, fmt.Errorf("unsupported executor type: %s", cfg.Type)
	}
}
