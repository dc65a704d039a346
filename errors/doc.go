// Package errors provides standardized error handling patterns for semconnect.
//
// # Overview
//
// Errors fall into three classes: Transient (temporary, a caller may retry),
// Invalid (bad input, illegal usage, do not retry) and Fatal (unrecoverable).
// The connectivity core never retries on its own; the classification only tells
// callers what they may do with a failure.
//
// # Error Taxonomy
//
// The sentinel variables group the failure modes of the runtime:
//
//   - connection errors: ErrConnectFailed, ErrWriteFailed, ErrReadFailed, ErrConnectionLost
//   - model access errors: ErrNotFound, ErrWrongKind, ErrTypeMismatch, ErrUnbalancedScope
//   - state errors: ErrInvalidTransition
//   - reconfiguration errors: ErrTranslationFailed, ErrReconfigureFailed, ErrUnknownParameter
//
// # Usage
//
// Wrap errors with context for debugging:
//
//	if err := driver.ConnectImpl(ctx, params); err != nil {
//	    return errors.WrapTransient(err, "Connector", "Connect", "session setup")
//	}
//
// Test for a condition through the standard chain:
//
//	if _, err := access.Get(qName); errors.Is(err, errors.ErrNotFound) {
//	    ...
//	}
//
// Wrapped errors keep working with the standard library errors.Is and errors.As.
package errors
