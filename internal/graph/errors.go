package graph

import (
	"errors"
	"fmt"
)

var (
	ErrDuplicateTask = errors.New("duplicate task")
	ErrTaskNotFound  = errors.New("task not found")
)

// DuplicateTaskError is returned when a task ID is inserted twice. Inside the
// validator's controlled flow this cannot happen, so seeing it means a caller bug.
type DuplicateTaskError struct {
	TaskID string
}

func (e *DuplicateTaskError) Error() string {
	return fmt.Sprintf("task %q already exists in graph", e.TaskID)
}

func (e *DuplicateTaskError) Unwrap() error { return ErrDuplicateTask }

func notFound(id string) error {
	return fmt.Errorf("%w: %q", ErrTaskNotFound, id)
}
