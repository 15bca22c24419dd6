// Package audit records the request/response/error trail of model calls.
//
// Manager wraps a store.LogStore. Every model invocation produces a
// request record and either a response or an error record, correlated by
// a generated request ID. Writes are best effort and never fail the call
// being recorded; queries propagate store errors.
package audit
