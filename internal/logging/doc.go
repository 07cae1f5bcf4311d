// Package logging wraps zap with context-aware logging for searchd.
//
// Every log method takes a context.Context first so trace ids, request ids
// and session ids travel with the record without callers threading fields
// by hand. Output is JSON by default with an optional OTEL log bridge.
package logging
