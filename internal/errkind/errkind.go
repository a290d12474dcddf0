// Package errkind declares Chorus's stable error taxonomy: a small set of
// named Kinds that propagate either as tool_result error payloads (so the
// LLM can adapt) or as terminal branch failures, per spec §7.
package errkind

import (
	"errors"
	"fmt"
)

// Kind is a stable error classification. The string value is the wire
// identifier used in tool_result error payloads and audit rows — it must
// never be renamed once released.
type Kind string

const (
	PermissionDenied        Kind = "PermissionDenied"
	AskTimeout              Kind = "AskTimeout"
	PathTraversal           Kind = "PathTraversal"
	FileNotFoundInWorkspace Kind = "FileNotFoundInWorkspace"
	BinaryFile              Kind = "BinaryFile"
	AmbiguousMatch          Kind = "AmbiguousMatch"
	StringNotFound          Kind = "StringNotFound"
	LockTimeout             Kind = "LockTimeout"
	BlocklistedCommand      Kind = "BlocklistedCommand"
	CommandTimeout          Kind = "CommandTimeout"
	ProviderError           Kind = "ProviderError"
	ProviderRateLimit       Kind = "ProviderRateLimit"
	MaxIterationsReached    Kind = "MaxIterationsReached"
	UnknownTool             Kind = "UnknownTool"
	InvalidPermissionPattern Kind = "InvalidPermissionPattern"
	UnknownPreset           Kind = "UnknownPreset"
	RecursionDepthExceeded  Kind = "RecursionDepthExceeded"
	RateLimited             Kind = "RateLimited"
	OutboundTooLong         Kind = "OutboundTooLong"
	Cancelled               Kind = "Cancelled"
)

// branchTerminal is the set of kinds that terminate a branch with ERRORED
// status rather than surfacing as a tool_result the LLM can adapt to.
var branchTerminal = map[Kind]bool{
	ProviderError:     true,
	ProviderRateLimit: true,
	Cancelled:         true,
}

// Error is Chorus's structured error type: a stable Kind plus a
// human-readable message and optional wrapped cause.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

// New builds an Error with no wrapped cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds an Error that wraps cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// BranchTerminal reports whether an error of this kind should terminate the
// owning branch (status ERRORED) rather than be returned as a tool_result.
func (k Kind) BranchTerminal() bool {
	return branchTerminal[k]
}

// As extracts the Kind from err if it is (or wraps) an *Error. The second
// return is false for errors that never went through this package.
func As(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}
