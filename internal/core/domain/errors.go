// Package domain defines the core domain models for cfenv.
package domain

import (
	"errors"
	"fmt"
)

// DomainError represents a domain error with a structured error code.
// Codes follow the format CFE-<AREA>-<NNNN>.
type DomainError struct {
	Code    string // Error code (e.g., "CFE-SNAP-4040")
	Message string // Human-readable message
	Details string // Optional additional details
	Cause   error  // Underlying error (if any)
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Unwrap() support.
func (e *DomainError) Unwrap() error {
	return e.Cause
}

// Is implements errors.Is() support for error comparison.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// NewDomainError creates a new DomainError with the given code and message.
func NewDomainError(code, message string) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
	}
}

// WithDetails returns a copy of the error with additional details.
func (e *DomainError) WithDetails(details string) *DomainError {
	return &DomainError{
		Code:    e.Code,
		Message: e.Message,
		Details: details,
		Cause:   e.Cause,
	}
}

// WithDetailsf is WithDetails with fmt.Sprintf formatting.
func (e *DomainError) WithDetailsf(format string, args ...any) *DomainError {
	return e.WithDetails(fmt.Sprintf(format, args...))
}

// WithCause returns a copy of the error wrapping the given cause.
func (e *DomainError) WithCause(cause error) *DomainError {
	return &DomainError{
		Code:    e.Code,
		Message: e.Message,
		Details: e.Details,
		Cause:   cause,
	}
}

// GetErrorCode extracts the error code from an error if it's a DomainError.
func GetErrorCode(err error) string {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Code
	}
	return ""
}

// ============================================================================
// Argument Errors (ARG)
// Raised before any network call is made.
// ============================================================================

var (
	// ErrInvalidArgument indicates an invalid argument.
	ErrInvalidArgument = NewDomainError("CFE-ARG-1001", "invalid argument")

	// ErrInvalidEnvName indicates a variable name outside [A-Za-z_][A-Za-z0-9_]*.
	ErrInvalidEnvName = NewDomainError("CFE-ARG-1002", "invalid env variable name")

	// ErrPayloadTooLarge indicates a snapshot payload above the remote value limit.
	ErrPayloadTooLarge = NewDomainError("CFE-ARG-1003", "snapshot exceeds the 25 MiB remote value limit")

	// ErrInvalidStorageMode indicates an unknown storage mode.
	ErrInvalidStorageMode = NewDomainError("CFE-ARG-1004", "invalid storage mode")

	// ErrInvalidLink indicates a link with empty scope fields.
	ErrInvalidLink = NewDomainError("CFE-ARG-1005", "invalid link")
)

// ============================================================================
// Flat Mode State Errors (FLAT)
// ============================================================================

var (
	// ErrNoFlatEntries indicates no variable keys exist for the link.
	ErrNoFlatEntries = NewDomainError("CFE-FLAT-4040", "no env variables found for flat storage mode")

	// ErrNoFlatValues indicates variable keys exist but none has a value.
	ErrNoFlatValues = NewDomainError("CFE-FLAT-4041", "no env variable values found for flat storage mode")

	// ErrNoFlatMetadata indicates the flat metadata record is missing.
	ErrNoFlatMetadata = NewDomainError("CFE-FLAT-4042", "no flat metadata found")
)

// ============================================================================
// Snapshot Mode State Errors (SNAP)
// ============================================================================

var (
	// ErrNoCurrentPointer indicates the link has never been pushed in snapshot mode.
	ErrNoCurrentPointer = NewDomainError("CFE-SNAP-4040", "no current pointer found, push once first")

	// ErrVersionNotFound indicates the requested snapshot version is missing.
	ErrVersionNotFound = NewDomainError("CFE-SNAP-4041", "snapshot version not found")
)

// ============================================================================
// Integrity Errors (INTG)
// ============================================================================

var (
	// ErrChecksumMismatch indicates pulled entries do not match the stored checksum.
	ErrChecksumMismatch = NewDomainError("CFE-INTG-4220", "checksum mismatch, refusing to use potentially corrupted data")

	// ErrInvalidRecord indicates a stored metadata, pointer or snapshot record is malformed.
	ErrInvalidRecord = NewDomainError("CFE-DATA-5001", "invalid stored record")
)

// ============================================================================
// Cryptographic Errors (CRYP)
// Messages stay generic so they reveal nothing about the key or payload.
// ============================================================================

var (
	// ErrSecretRequired indicates an encrypted payload or encrypting push without a secret.
	ErrSecretRequired = NewDomainError("CFE-CRYP-4010", "encryption secret required")

	// ErrDecryptFailed indicates a wrong secret or a corrupt envelope.
	ErrDecryptFailed = NewDomainError("CFE-CRYP-4011", "failed to decrypt: encryption key is missing or incorrect")

	// ErrSecretLength indicates a secret length outside the accepted bounds.
	ErrSecretLength = NewDomainError("CFE-CRYP-4001", "secret length must be an integer between 16 and 1024")
)

// ============================================================================
// Remote Errors (NET)
// ============================================================================

var (
	// ErrTransport indicates a timeout or connection failure after retries.
	ErrTransport = NewDomainError("CFE-NET-5030", "remote store unreachable")

	// ErrRemoteRejected indicates a non-2xx status or unsuccessful API envelope.
	ErrRemoteRejected = NewDomainError("CFE-NET-5020", "remote store rejected the request")

	// ErrCredentialInactive indicates the API token is not active.
	ErrCredentialInactive = NewDomainError("CFE-NET-4010", "api token is not active")
)

// ============================================================================
// Local Configuration Errors (CONF)
// ============================================================================

var (
	// ErrProfileNotFound indicates the requested credential profile does not exist.
	ErrProfileNotFound = NewDomainError("CFE-CONF-4040", "profile not found")

	// ErrLinkNotFound indicates no project link matches the working directory.
	ErrLinkNotFound = NewDomainError("CFE-CONF-4041", "no project link found")

	// ErrLinkAmbiguous indicates several links match and none is the default.
	ErrLinkAmbiguous = NewDomainError("CFE-CONF-4090", "multiple links match")
)
