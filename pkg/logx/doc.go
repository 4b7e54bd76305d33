// Package logx is a thin structured-logging layer over zerolog.
//
// Services receive a Logger in their constructor and never touch zerolog
// directly. The zero value is a safe no-op logger, so optional components
// can hold one without nil checks.
//
// A Service owns the sinks (console and/or JSON file) and can swap level
// and outputs at runtime via Apply, which is how config hot reload changes
// log verbosity without restarting.
package logx
