// Package httputil provides HTTP handler utilities for consistent error handling,
// JSON encoding/decoding with validation, and request parsing.
//
// Every handler writes errors through WriteAppError so that the status code always follows
// the apperr taxonomy, and writes payloads through WriteData / WriteList so that clients see
// a single envelope shape:
//
//	{"data": ...}                          single resource
//	{"data": [...], "meta": {...}}         collections
//	{"message": "..."}                     mutations without a body
//	{"error": "..."}                       failures
package httputil
