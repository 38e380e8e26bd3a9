// Package api serves the project lifecycle over HTTP/JSON.
//
// Every operation runs as one bridge invocation with its own accumulator
// sink. Completed operations answer 200 {"output": ...}; operations that
// answered false, and requests with missing or malformed fields, answer 400
// {"error": ...}; a failed or interrupted run also returns its output.
// Anything unexpected is logged with its diagnostics and answered 500 with a
// generic message. The request context is the run's interrupt signal, so a
// client that disconnects rolls its run back.
package api
