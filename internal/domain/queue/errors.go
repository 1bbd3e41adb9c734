package queue

import "fmt"

// ErrLeaseLost indicates the lease token no longer matches the message,
// usually because the visibility timeout expired and the message was
// handed to another consumer.
type ErrLeaseLost struct {
	MessageID string
}

func (e *ErrLeaseLost) Error() string {
	return fmt.Sprintf("lease lost for message %s", e.MessageID)
}

// ErrMessageNotFound indicates an operation referenced an unknown message
type ErrMessageNotFound struct {
	MessageID string
}

func (e *ErrMessageNotFound) Error() string {
	return fmt.Sprintf("message not found: %s", e.MessageID)
}
