// Package wasmerr defines the typed error taxonomy surfaced by the execution
// core, per the error handling design: config/invariant violations, guest
// assertion failures, typed guest exceptions, module validation failures and
// unknown context ids are all distinct, so callers can errors.As on the kind
// they care about instead of string-matching messages.
package wasmerr

import "fmt"

// ConfigError reports a violated configuration or data-model invariant, e.g.
// an offset of zero paired with a non-empty payload schema.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string { return "wasmquery: config error: " + e.Reason }

// GuestInsist is raised when the guest calls the insist host callback,
// meaning a compiled-in assertion failed. File/Line/Msg mirror the
// compiled message table entry the guest referenced by id.
type GuestInsist struct {
	File, Msg string
	Line      int
}

func (e *GuestInsist) Error() string {
	if e.Msg == "" {
		return fmt.Sprintf("wasmquery: insist failed at %s:%d", e.File, e.Line)
	}
	return fmt.Sprintf("wasmquery: insist failed at %s:%d: %s", e.File, e.Line, e.Msg)
}

// GuestThrow is raised when the guest calls the throw host callback. Kind
// identifies which exception class was thrown, so drivers can branch on it
// (e.g. out-of-memory vs. division-by-zero) without parsing Msg.
type GuestThrow struct {
	Kind      string
	File, Msg string
	Line      int
}

func (e *GuestThrow) Error() string {
	return fmt.Sprintf("wasmquery: %s at %s:%d: %s", e.Kind, e.File, e.Line, e.Msg)
}

// ValidationError wraps a Wasm module validation failure. These are always
// fatal bugs in the code generator, never user errors, so the caller is
// expected to capture Dump for a bug report rather than retry.
type ValidationError struct {
	Err  error
	Dump []byte
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("wasmquery: module validation failed: %v", e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// UnknownContextError indicates a host callback was invoked with a module id
// that isn't live in the Wasm Context Registry. This should never happen
// outside of a corrupted guest or a registry bug, so it is always fatal.
type UnknownContextError struct {
	ContextID uint64
}

func (e *UnknownContextError) Error() string {
	return fmt.Sprintf("wasmquery: unknown wasm context id %d", e.ContextID)
}

// EngineError reports a failure from the embedded Wasm engine (host module
// instantiate, compile, instantiate, the call into main) or from the
// inspector's listener; Op names the step. It is surfaced to the caller as
// an ordinary query failure.
type EngineError struct {
	Op  string
	Err error
}

func (e *EngineError) Error() string {
	return fmt.Sprintf("wasmquery: engine %s failed: %v", e.Op, e.Err)
}

func (e *EngineError) Unwrap() error { return e.Err }
