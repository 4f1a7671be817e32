package core

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrMissingCredentials is matched by every *MissingCredentialsError.
	ErrMissingCredentials = errors.New("missing credentials")

	// ErrToolCatalog is matched by every *ToolCatalogError.
	ErrToolCatalog = errors.New("tool catalog unavailable")

	// ErrAgentLoad indicates the agent identity could not be fetched.
	ErrAgentLoad = errors.New("agent identity unavailable")

	// ErrMaxCycles indicates the run exceeded its model/tool cycle limit.
	ErrMaxCycles = errors.New("max cycles exceeded")
)

// MissingCredentialsError lists the credential fields absent from a request.
type MissingCredentialsError struct {
	Fields []string
}

func (e *MissingCredentialsError) Error() string {
	return fmt.Sprintf("missing credentials: %s", strings.Join(e.Fields, ", "))
}

// Is matches ErrMissingCredentials.
func (e *MissingCredentialsError) Is(target error) bool { return target == ErrMissingCredentials }

// ToolCatalogError wraps a failure to reach the external tool catalog. Failures
// of individual tool factories are not reported through this type.
type ToolCatalogError struct {
	Cause error
}

func (e *ToolCatalogError) Error() string {
	if e.Cause == nil {
		return ErrToolCatalog.Error()
	}
	return fmt.Sprintf("%s: %v", ErrToolCatalog, e.Cause)
}

// Unwrap returns the underlying cause.
func (e *ToolCatalogError) Unwrap() error { return e.Cause }

// Is matches ErrToolCatalog.
func (e *ToolCatalogError) Is(target error) bool { return target == ErrToolCatalog }
