package migrate

import (
	"errors"
	"fmt"
)

// ErrNoChanges reports that the current snapshot matches the previous one. Nothing was written.
var ErrNoChanges = errors.New("no schema changes detected")

var (
	errMissingOut      = errors.New("output directory is required")
	errMissingSnapshot = errors.New("snapshot is required")
	errTagExhausted    = errors.New("could not allocate an unused migration tag")
	errMalformedJSON   = errors.New("malformed json")
)

const (
	opWriterNew = "migrate.writer.new"
	opGenerate  = "migrate.generate"
	opDrop      = "migrate.drop"
	opCheck     = "migrate.check"
	opLoad      = "migrate.load_snapshot"
)

// Error carries an operation.reason code and the file it concerns, if any.
type Error struct {
	code string
	path string
	err  error
}

func (e *Error) Error() string {
	message := e.code
	if e.path != "" {
		message = fmt.Sprintf("%s (%s)", message, e.path)
	}
	if e.err == nil {
		return message
	}
	return fmt.Sprintf("%s: %v", message, e.err)
}

func (e *Error) Unwrap() error {
	return e.err
}

func (e *Error) Code() string {
	return e.code
}

// Path names the file the failure concerns; empty when none does.
func (e *Error) Path() string {
	return e.path
}

func newError(operation, reason, path string, cause error) error {
	return &Error{code: fmt.Sprintf("%s.%s", operation, reason), path: path, err: cause}
}

// SnapshotError reports a snapshot file that exists but cannot be decoded.
// Version problems are not SnapshotErrors; they wrap dialect.ErrSnapshotOutdated or
// dialect.ErrUnsupportedVersion instead.
type SnapshotError struct {
	Path string
	Err  error
}

func (e *SnapshotError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("invalid snapshot: %v", e.Err)
	}
	return fmt.Sprintf("invalid snapshot %s: %v", e.Path, e.Err)
}

func (e *SnapshotError) Unwrap() error {
	return e.Err
}
