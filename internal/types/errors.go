package types

import "errors"

var (
	// ErrNotFound is returned when a resource doesn't exist.
	ErrNotFound = errors.New("resource not found")

	// ErrNotValid is returned when a resource is not valid.
	ErrNotValid = errors.New("resource not valid")

	// ErrAlreadyExists is returned when a resource already exists.
	ErrAlreadyExists = errors.New("resource already exists")

	// ErrCancelled marks a cooperative stop observed at a checkpoint.
	// It is not a failure: the orchestrator maps it to status=stopped.
	ErrCancelled = errors.New("task cancelled")

	// ErrTimeout marks an operation that exceeded its time budget.
	ErrTimeout = errors.New("operation timed out")

	// ErrMissingCredential is returned when an agent credential is absent.
	ErrMissingCredential = errors.New("missing credential")

	// ErrPushRejected marks a push refused for credential or permission
	// reasons. The commit exists locally in the sandbox.
	ErrPushRejected = errors.New("push rejected")
)
