package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gpurelay/internal/model"
	"gpurelay/pkg/interfaces"
	redisstore "gpurelay/pkg/store/redis"
)

// DefaultWaitInterval is used by Wait when no positive interval is given
const DefaultWaitInterval = 500 * time.Millisecond

// ResultService coordinator-side result lookup
type ResultService struct {
	store interfaces.ResultStore
}

// NewResultService creates a result service
func NewResultService(store interfaces.ResultStore) *ResultService {
	return &ResultService{store: store}
}

// Get returns the published result, ErrResultNotReady while none exists.
// A job that was dropped is indistinguishable from one still queued.
func (s *ResultService) Get(ctx context.Context, requestID string) (*model.InferenceResult, error) {
	result, err := s.store.Get(ctx, requestID)
	if errors.Is(err, redisstore.ErrResultNotFound) {
		return nil, ErrResultNotReady
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBackendUnavailable, err)
	}
	return result, nil
}

// Wait polls for the result every interval until it exists or ctx is done
func (s *ResultService) Wait(ctx context.Context, requestID string, interval time.Duration) (*model.InferenceResult, error) {
	if interval <= 0 {
		interval = DefaultWaitInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		result, err := s.Get(ctx, requestID)
		if err == nil {
			return result, nil
		}
		if !errors.Is(err, ErrResultNotReady) {
			return nil, err
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
