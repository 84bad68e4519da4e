package schema

import (
	"errors"
	"fmt"
	"strings"
)

// Domain errors for the schema package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, schema.ErrValidation) {
//	    // payload failed structural validation
//	}
var (
	// ErrUnsupportedVersion is returned when a payload names a schema
	// version that is not registered for its command.
	ErrUnsupportedVersion = errors.New("schema: unsupported version")

	// ErrUnknownCommand is returned when no schemas are registered for the
	// requested command tag.
	ErrUnknownCommand = errors.New("schema: unknown command tag")

	// ErrValidation is returned when a payload fails structural validation
	// against its resolved schema.
	ErrValidation = errors.New("schema: payload validation failed")

	// ErrDecode is returned when a payload is not valid JSON or is not a
	// JSON object.
	ErrDecode = errors.New("schema: payload is not a JSON object")
)

// VersionError reports an interface version that could not be resolved to a
// registered schema.
type VersionError struct {
	Tag       string
	Interface string // the declared interface URI, or "" if defaulted
	Version   string
}

func (e *VersionError) Error() string {
	if e.Interface != "" {
		return fmt.Sprintf("no %s schema registered for interface %q", e.Tag, e.Interface)
	}
	return fmt.Sprintf("no %s schema registered for version %q", e.Tag, e.Version)
}

// Unwrap makes the error match ErrUnsupportedVersion under errors.Is.
func (e *VersionError) Unwrap() error {
	return ErrUnsupportedVersion
}

// Violation is one structural constraint failure, located by its JSON
// pointer path within the payload.
type Violation struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

func (v Violation) String() string {
	path := v.Path
	if path == "" {
		path = "/"
	}
	return path + ": " + v.Message
}

// ValidationError reports every structural violation found in a payload.
// Violations are collected, not short-circuited, so a caller sees all
// problems at once.
type ValidationError struct {
	Tag        string
	Version    string
	Violations []Violation
}

func (e *ValidationError) Error() string {
	msgs := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		msgs[i] = v.String()
	}
	return fmt.Sprintf("%s payload invalid against schema %s: %s",
		e.Tag, e.Version, strings.Join(msgs, "; "))
}

// Unwrap makes the error match ErrValidation under errors.Is.
func (e *ValidationError) Unwrap() error {
	return ErrValidation
}
