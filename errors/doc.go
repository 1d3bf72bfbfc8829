// Package errors provides structured error types for the bridge.
//
// Errors are categorized by Phase (where the error occurred) and Kind (error category).
// Errors produced by a guest call also carry the module key and the function name.
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseCall, errors.KindGuestTrap).
//		Call("echo", "run").
//		Detail("unreachable executed").
//		Build()
//
// Or use constructors for the host outcomes:
//
//	err := errors.MeteringExceeded("echo", "run", limit)
//	err := errors.ProtocolViolation("echo", "run", "bad envelope", cause)
//
// Match on kind alone with IsKind, or on phase and kind with errors.Is:
//
//	if errors.IsKind(err, errors.KindMeteringExceeded) { ... }
//
// All errors implement the standard error interface and support errors.Is/As.
package errors
