package errors

import (
	"fmt"
	"strings"
)

// ErrAuthentication is returned when the backend doesn't know who the current
// user is.
var ErrAuthentication = New("not authenticated, run `viewsync login`")

// ErrDataDirTooShort is returned when deleting a data directory whose path is
// suspiciously short.
var ErrDataDirTooShort = New("refusing to delete data directory: path is too short")

// MissingFieldError represents a missing required field.
type MissingFieldError struct {
	Field string
}

func (err MissingFieldError) Error() string {
	return fmt.Sprintf("missing required field: %s", err.Field)
}

// FileNotFound represents when we were unable to access a file
// because the path didn't exist.
type FileNotFound struct {
	Path string
}

func (err FileNotFound) Error() string {
	return fmt.Sprintf("%q does not exist", err.Path)
}

// DaemonStartError is returned when the agent daemon exits before it finished
// initializing.
type DaemonStartError struct {
	ExitCode int
}

func (err DaemonStartError) Error() string {
	return fmt.Sprintf("failed to start daemon. Status code: %d", err.ExitCode)
}

// CommandError is returned when an agent command exits with a non-zero status.
type CommandError struct {
	Command  []string
	ExitCode int
	TimedOut bool
}

func (err CommandError) Error() string {
	cmd := strings.Join(err.Command, " ")
	if err.TimedOut {
		return fmt.Sprintf("%q timed out", cmd)
	}
	return fmt.Sprintf("%q exited with status %d", cmd, err.ExitCode)
}

// ViewNotFound is returned when the backend has no record of a view, or the
// view isn't attached to a codebase.
type ViewNotFound struct {
	ViewID string
}

func (err ViewNotFound) Error() string {
	return fmt.Sprintf("view %q does not exist", err.ViewID)
}

// DirectoryNotEmpty is returned when a view would be created on top of
// existing files.
type DirectoryNotEmpty struct {
	Path string
}

func (err DirectoryNotEmpty) Error() string {
	return fmt.Sprintf("%q already exists and is not empty", err.Path)
}
