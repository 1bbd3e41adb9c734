package pipeline

import (
	"errors"
	"fmt"
)

// ErrInvalidRunTransition indicates an invalid run state transition
type ErrInvalidRunTransition struct {
	RunID       string
	From        RunStatus
	To          RunStatus
	Description string
}

func (e *ErrInvalidRunTransition) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("invalid run transition for %s: %s -> %s: %s",
			e.RunID, e.From, e.To, e.Description)
	}
	return fmt.Sprintf("invalid run transition for %s: %s -> %s",
		e.RunID, e.From, e.To)
}

// ErrInvalidJobTransition indicates an invalid job state transition
type ErrInvalidJobTransition struct {
	JobID       string
	From        JobStatus
	To          JobStatus
	Description string
}

func (e *ErrInvalidJobTransition) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("invalid job transition for %s: %s -> %s: %s",
			e.JobID, e.From, e.To, e.Description)
	}
	return fmt.Sprintf("invalid job transition for %s: %s -> %s",
		e.JobID, e.From, e.To)
}

// ErrRunNotFound indicates a run could not be found
type ErrRunNotFound struct {
	RunID string
}

func (e *ErrRunNotFound) Error() string {
	return fmt.Sprintf("run not found: %s", e.RunID)
}

// ErrJobNotFound indicates a job could not be found
type ErrJobNotFound struct {
	JobID string
}

func (e *ErrJobNotFound) Error() string {
	return fmt.Sprintf("job not found: %s", e.JobID)
}

// ErrRunNotTerminal indicates an operation that only applies to
// finished runs was aimed at one still in flight
type ErrRunNotTerminal struct {
	RunID  string
	Status RunStatus
}

func (e *ErrRunNotTerminal) Error() string {
	return fmt.Sprintf("run %s is %s and has not reached a terminal state", e.RunID, e.Status)
}

// ErrChildRestartNotAllowed indicates a restart was aimed at a batch child
type ErrChildRestartNotAllowed struct {
	RunID       string
	ParentRunID string
}

func (e *ErrChildRestartNotAllowed) Error() string {
	return fmt.Sprintf("run %s is a batch child of %s and cannot be restarted on its own",
		e.RunID, e.ParentRunID)
}

// RetryableError marks a stage failure the queue should redeliver
// instead of failing the run.
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string {
	return e.Err.Error()
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// Retryable wraps err so the stage runner nacks with retry
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return &RetryableError{Err: err}
}

// IsRetryable reports whether any error in the chain is retryable
func IsRetryable(err error) bool {
	var retryable *RetryableError
	return errors.As(err, &retryable)
}
