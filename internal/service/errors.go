package service

import "errors"

var (
	// ErrNoCompatibleWorker no live worker supports the requested model; nothing was enqueued
	ErrNoCompatibleWorker = errors.New("no available worker for the requested model")

	// ErrBackendUnavailable the queue backend could not be reached
	ErrBackendUnavailable = errors.New("queue backend unavailable")

	// ErrResultNotReady no result has been published for the request (yet)
	ErrResultNotReady = errors.New("result not found")
)
