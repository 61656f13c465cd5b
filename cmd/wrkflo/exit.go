package main

import "fmt"

// Process exit codes.
const (
	exitFailed          = 1
	exitInvalidDocument = 2
)

// exitError carries a process exit code out of a command. An empty Message
// means the command already reported the failure.
type exitError struct {
	Code    int
	Message string
	Cause   error
}

func (e *exitError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *exitError) Unwrap() error {
	return e.Cause
}
