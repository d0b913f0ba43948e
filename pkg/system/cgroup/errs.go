package cgroup

import (
	"errors"
	"fmt"
)

var (
	// ErrUnsupported indicates that no usable cgroup hierarchy was found
	// on this host.
	ErrUnsupported = errors.New("cgroup: unsupported or missing hierarchy")

	// ErrMalformedLine indicates that a line of a cgroup file did not have
	// the expected field layout.
	ErrMalformedLine = errors.New("cgroup: malformed line")
)

// ParseError reports content that was read successfully but did not match
// the expected format. Raw carries the offending value verbatim (untrimmed)
// so the failure is actionable without re-reading the file.
type ParseError struct {
	Path string
	Raw  string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("cgroup: failed to parse value %q from %s: %v", e.Raw, e.Path, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }
