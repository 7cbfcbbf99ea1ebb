package security

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// MaxNameLength bounds job and artifact names. Names appear in URLs,
// filesystem paths, and database keys, so the accepted alphabet is
// deliberately strict.
const MaxNameLength = 64

// ErrInvalidName is returned when a job or artifact name fails validation.
var ErrInvalidName = errors.New("invalid name")

// namePattern requires a leading alphanumeric so names can never start
// with a dot or dash, followed by alphanumerics, dots, dashes, and
// underscores.
var namePattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]*$`)

// ValidateName checks that a job or artifact name is safe to use in
// paths, URLs, and database keys. Path traversal sequences are rejected
// even though the pattern alone would admit them ("a..b" matches the
// pattern, "a/../b" does not).
func ValidateName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: name is empty", ErrInvalidName)
	}
	if len(name) > MaxNameLength {
		return fmt.Errorf("%w: %q exceeds %d characters", ErrInvalidName, name, MaxNameLength)
	}
	if !namePattern.MatchString(name) {
		return fmt.Errorf("%w: %q contains disallowed characters", ErrInvalidName, name)
	}
	if strings.Contains(name, "..") {
		return fmt.Errorf("%w: %q contains a traversal sequence", ErrInvalidName, name)
	}
	return nil
}

// ValidateRelativePath checks that a path stored inside an artifact is a
// clean relative path that cannot escape the directory it is materialized
// into. Absolute paths, traversal components, and empty paths are
// rejected.
func ValidateRelativePath(path string) error {
	if path == "" {
		return fmt.Errorf("%w: path is empty", ErrInvalidName)
	}
	if strings.HasPrefix(path, "/") || strings.HasPrefix(path, `\`) {
		return fmt.Errorf("%w: %q is absolute", ErrInvalidName, path)
	}
	if strings.Contains(path, `\`) {
		return fmt.Errorf("%w: %q contains a backslash", ErrInvalidName, path)
	}
	for _, part := range strings.Split(path, "/") {
		switch part {
		case "":
			return fmt.Errorf("%w: %q contains an empty component", ErrInvalidName, path)
		case ".", "..":
			return fmt.Errorf("%w: %q contains a traversal component", ErrInvalidName, path)
		}
	}
	return nil
}
