package interfaces

import (
	"context"

	"gpurelay/internal/model"
)

// Executor runs one inference job.
// Params are forwarded unmodified; implementations must tolerate unknown or absent keys
// and must return once ctx is done.
type Executor interface {
	Execute(ctx context.Context, modelName, prompt string, params model.Params) (*model.InferenceOutput, error)
}
