package executor

import (
	"context"
	"time"

	"gpurelay/internal/model"
)

// StaticExecutor answers every job with a fixed text after a simulated delay.
// It stands in for a real runtime on hosts without one.
type StaticExecutor struct {
	text  string
	delay time.Duration
}

// NewStaticExecutor creates a static executor
func NewStaticExecutor(text string, delay time.Duration) *StaticExecutor {
	return &StaticExecutor{text: text, delay: delay}
}

// Execute waits for the configured delay and returns the fixed text
func (e *StaticExecutor) Execute(ctx context.Context, modelName, prompt string, params model.Params) (*model.InferenceOutput, error) {
	if e.delay > 0 {
		timer := time.NewTimer(e.delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
	return &model.InferenceOutput{Text: e.text}, nil
}
