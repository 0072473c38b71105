// Package logx is a thin zerolog wrapper with hot-swappable sinks.
//
// The Logger value type is safe to copy and cheap to derive with With().
// A Service owns the configured sinks (console, JSON file) and can swap
// them at runtime via Apply(); loggers created from the Service keep
// writing to the current sinks without re-wiring.
package logx
