package scheduler

import "errors"

var (
	// ErrQueueNotRunning is returned when submitting to a stopped queue
	ErrQueueNotRunning = errors.New("task queue is not running")

	// ErrQueueFull is returned when the task queue is full
	ErrQueueFull = errors.New("task queue is full")

	// ErrInvalidConfig is returned when configuration is invalid
	ErrInvalidConfig = errors.New("invalid task queue configuration")
)
