package scanner

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidPath reports a scan root that does not exist or is not a
	// directory. It aborts the call.
	ErrInvalidPath = errors.New("invalid scan path")
	// ErrFileUnreadable reports a file or directory that could not be opened
	// or read. The scan continues past it unless it is the scan root.
	ErrFileUnreadable = errors.New("file unreadable")
)

var errNotDirectory = errors.New("not a directory")

// PathError records the failing operation, the path and the underlying cause.
// errors.Is matches both Kind and Err.
type PathError struct {
	Op   string
	Path string
	Kind error
	Err  error
}

func (e *PathError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Kind)
	}
	return fmt.Sprintf("%s %s: %v: %v", e.Op, e.Path, e.Kind, e.Err)
}

func (e *PathError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func invalidPath(path string, err error) error {
	return &PathError{Op: "scan", Path: path, Kind: ErrInvalidPath, Err: err}
}

func unreadable(op, path string, err error) error {
	return &PathError{Op: op, Path: path, Kind: ErrFileUnreadable, Err: err}
}
